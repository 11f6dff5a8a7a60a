package commands

import (
	"database/sql"

	"github.com/teranos/ticketpulse/am"
	"github.com/teranos/ticketpulse/db"
	"github.com/teranos/ticketpulse/logger"
)

const defaultDatabasePath = "ticketpulse.db"

// openDatabase opens and migrates the database at dbPath. An empty dbPath falls back
// to database.path from am, then to ./ticketpulse.db.
func openDatabase(dbPath string) (*sql.DB, error) {
	if dbPath == "" {
		configured, err := am.GetDatabasePath()
		if err != nil {
			return nil, err
		}
		dbPath = valueOr(configured, defaultDatabasePath)
	}
	return db.OpenWithMigrations(dbPath, logger.Logger)
}
