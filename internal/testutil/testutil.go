// Package testutil wires throwaway SQLite databases and in-memory Redis
// servers for package tests.
package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/iliyamo/concert-ticketing/internal/database"
)

// NewDB opens a migrated SQLite database in a temporary directory. The pool
// holds one connection, so code running inside a transaction must use the
// transaction handle.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := "sqlite://" + filepath.Join(t.TempDir(), "concert.db") + "?_pragma=busy_timeout(5000)"
	db, _, err := database.Open(context.Background(), dsn)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { _ = database.Close(db) })
	return db
}

// NewRedis starts a miniredis server and a client connected to it. Keys do
// not expire on their own; tests advance time with FastForward.
func NewRedis(t testing.TB) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return server, client
}
