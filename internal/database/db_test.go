package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"

	"github.com/iliyamo/concert-ticketing/internal/model"
)

func TestResolveDriver(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		dsn        string
		wantDriver string
		wantTarget string
	}{
		{"mysql://app:pw@tcp(db:3306)/concert?parseTime=true", DriverMySQL, "app:pw@tcp(db:3306)/concert?parseTime=true"},
		{"app@tcp(127.0.0.1:3306)/concert", DriverMySQL, "app@tcp(127.0.0.1:3306)/concert"},
		{"postgres://u:p@localhost/concert", DriverPostgres, "postgres://u:p@localhost/concert"},
		{"sqlite://" + filepath.Join(dir, "a.db"), DriverSQLite, filepath.Join(dir, "a.db")},
		{filepath.Join(dir, "b.db"), DriverSQLite, filepath.Join(dir, "b.db")},
	}
	for _, tc := range cases {
		t.Run(tc.dsn, func(t *testing.T) {
			driver, target, err := ResolveDriver(tc.dsn)
			require.NoError(t, err)
			assert.Equal(t, tc.wantDriver, driver)
			assert.Equal(t, tc.wantTarget, target)
		})
	}

	_, _, err := ResolveDriver("  ")
	assert.Error(t, err)
}

func TestOpenSQLiteAndMigrate(t *testing.T) {
	db, driver, err := Open(context.Background(), "sqlite://"+filepath.Join(t.TempDir(), "concert.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })
	assert.Equal(t, DriverSQLite, driver)

	require.NoError(t, Migrate(db))
	for _, m := range Models() {
		assert.True(t, db.Migrator().HasTable(m))
	}
	assert.True(t, db.Migrator().HasIndex(&model.ConfirmedReservation{}, "uq_confirmed_seat"))
	assert.True(t, db.Migrator().HasIndex(&model.WalletLedgerEntry{}, "uq_wallet_ledger_idem"))
}

func TestQueryLoggingSkipsRecordNotFound(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	db, _, err := Open(context.Background(), "sqlite://"+filepath.Join(t.TempDir(), "concert.db"), WithLogger(zap.New(core)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })
	require.NoError(t, Migrate(db))
	logs.TakeAll()

	var res model.ConfirmedReservation
	err = db.Where("concert_date = ?", "2025-06-01").First(&res).Error
	require.True(t, errors.Is(err, gorm.ErrRecordNotFound))
	assert.Zero(t, logs.Len(), "a miss is not logged")

	require.Error(t, db.Exec("SELECT * FROM no_such_table").Error)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, zapcore.WarnLevel, logs.All()[0].Level)
	assert.Contains(t, logs.All()[0].Message, "no_such_table")
}
