// Package db opens the ticketpulse SQLite database and applies its schema.
package db

import (
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/teranos/ticketpulse/errors"
)

// SQLiteBusyTimeoutMS is how long a connection waits on a locked database before failing.
// Workers and the ingress server write concurrently, so this must exceed a typical write.
const SQLiteBusyTimeoutMS = 5000

// DSN builds the go-sqlite3 connection string for path. The pragmas ride in the DSN
// so every pooled connection gets them, not just the first.
func DSN(path string) string {
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_foreign_keys", "on")
	q.Set("_busy_timeout", fmt.Sprint(SQLiteBusyTimeoutMS))
	return "file:" + path + "?" + q.Encode()
}

// Open connects to the database at path, creating the file if needed. logger may be nil.
func Open(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	logger.Debugw("Opening database", "path", path)

	db, err := sql.Open("sqlite3", DSN(path))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.WithDetail(errors.Wrap(err, "failed to connect to database"), "Database path: "+path)
	}

	logger.Infow("Database opened", "path", path, "busy_timeout_ms", SQLiteBusyTimeoutMS)
	return db, nil
}

// OpenWithMigrations opens the database and brings its schema up to date.
func OpenWithMigrations(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	db, err := Open(path, logger)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db, logger); err != nil {
		db.Close()
		return nil, errors.WithDetail(errors.Wrap(err, "migrate database"), "Database path: "+path)
	}
	return db, nil
}
