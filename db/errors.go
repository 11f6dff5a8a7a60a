package db

import (
	"database/sql"
	"strings"

	"github.com/teranos/ticketpulse/errors"
)

// ErrDatabaseClosed marks work that raced a shutdown closing the database
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed reports whether err means the handle is gone. Workers use it to
// tell a shutdown apart from a real queue failure. The driver's own errors only carry
// the message, hence the string match.
func IsDatabaseClosed(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrDatabaseClosed), errors.Is(err, sql.ErrConnDone):
		return true
	default:
		return strings.Contains(err.Error(), "database is closed")
	}
}
