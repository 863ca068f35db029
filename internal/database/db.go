package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Driver names returned by ResolveDriver.
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

const slowQueryThreshold = 200 * time.Millisecond

type options struct {
	logger *zap.Logger
}

// Option configures Open.
type Option func(*options)

// WithLogger sends slow queries and query errors to l.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// newGormLogger adapts l for gorm. Lookups that find nothing are ordinary
// outcomes here and are not logged.
func newGormLogger(l *zap.Logger) logger.Interface {
	std, err := zap.NewStdLogAt(l, zap.WarnLevel)
	if err != nil {
		std = zap.NewStdLog(l)
	}
	return logger.New(std, logger.Config{
		SlowThreshold:             slowQueryThreshold,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}

// Open connects to the database named by dsn and verifies the connection.
// "mysql://" and bare go-sql-driver DSNs use MySQL, "postgres://" uses pgx and
// "sqlite://" (or a file path) uses the pure Go SQLite driver.
func Open(ctx context.Context, dsn string, opts ...Option) (*gorm.DB, string, error) {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	driver, target, err := ResolveDriver(dsn)
	if err != nil {
		return nil, "", err
	}
	cfg := &gorm.Config{
		TranslateError: true,
		Logger:         newGormLogger(o.logger),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	}

	var db *gorm.DB
	switch driver {
	case DriverMySQL:
		var sqlDB *sql.DB
		if sqlDB, err = openMySQL(ctx, target); err != nil {
			return nil, "", err
		}
		db, err = gorm.Open(gormmysql.New(gormmysql.Config{Conn: sqlDB}), cfg)
	case DriverPostgres:
		db, err = gorm.Open(postgres.Open(target), cfg)
	case DriverSQLite:
		db, err = gorm.Open(sqlite.Open(target), cfg)
	}
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, "", err
	}
	if driver == DriverSQLite {
		// SQLite allows one writer; a single connection turns lock contention into queueing.
		sqlDB.SetMaxOpenConns(1)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, "", fmt.Errorf("ping %s: %w", driver, err)
	}
	return db, driver, nil
}

// openMySQL opens the shared MySQL pool.
func openMySQL(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}

	// Pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(30 * time.Minute)

	// Ping with timeout
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Close releases the connection pool behind db.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ResolveDriver returns the driver and the DSN to hand to it.
func ResolveDriver(dsn string) (string, string, error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "":
		return "", "", fmt.Errorf("database dsn is empty")
	case strings.HasPrefix(dsn, "mysql://"):
		return DriverMySQL, strings.TrimPrefix(dsn, "mysql://"), nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return DriverPostgres, dsn, nil
	case strings.HasPrefix(dsn, "sqlite://"):
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "concert.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		if err != nil {
			return "", "", err
		}
		if u.RawQuery != "" {
			sqlitePath += "?" + u.RawQuery
		}
		return DriverSQLite, sqlitePath, nil
	case strings.Contains(dsn, "@tcp("):
		return DriverMySQL, dsn, nil
	}
	sqlitePath, err := normalizeSQLitePath(dsn)
	return DriverSQLite, sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(".", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	return path, nil
}
