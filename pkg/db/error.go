package db

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const (
	pgUniqueViolation   = "23505"
	mysqlDuplicateEntry = 1062
	sqliteUniqueFailed  = "UNIQUE constraint failed"
)

// IsDuplicateKeyErr reports a unique constraint violation from any of the
// supported drivers. Ledger writes rely on it to turn a replayed grant into a
// no-op.
func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}

	// the pure-go sqlite driver only exposes its code through the message
	msg := err.Error()
	return strings.Contains(msg, sqliteUniqueFailed) ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}
