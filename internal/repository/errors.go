// Package repository holds the gorm-backed stores of the ticketing service.
// The sentinel values below let higher layers tell apart failures that need
// different handling: a missing row, a unique-index violation and a lost
// optimistic-concurrency race.
package repository

import (
	"errors"
	"fmt"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const (
	mysqlDuplicateEntry   = 1062
	pgUniqueViolationCode = "23505"
	sqliteConstraintCode  = 19
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert hits a unique index. Callers that
// use unique indexes for idempotency treat it as "already done".
var ErrDuplicate = errors.New("duplicate")

// ErrStaleVersion is returned when a compare-and-set update matched no row
// because another writer got there first.
var ErrStaleVersion = errors.New("stale version")

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}

// wrapError maps driver errors onto the package sentinels and adds context.
func wrapError(subject string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s: %w", subject, ErrNotFound)
	case isUniqueViolation(err):
		return fmt.Errorf("%s: %w", subject, ErrDuplicate)
	}
	return fmt.Errorf("%s: %w", subject, err)
}
