package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"appraisal/server/internal/apperr"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Options struct {
	Driver string
	// Path is the sqlite file (or sqlite URI) to open.
	Path string
	// URL is the PostgreSQL connection string.
	URL    string
	Logger *logrus.Logger
}

type Database struct {
	db     *sql.DB
	gorm   *gorm.DB
	driver string
	logger *logrus.Logger
}

func NewDatabase(opts Options) (*Database, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}

	gormCfg := &gorm.Config{
		Logger: gormlogger.New(logger, gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
		TranslateError: true,
	}

	switch opts.Driver {
	case "", DriverSQLite:
		return openSQLite(opts.Path, gormCfg, logger)
	case DriverPostgres:
		if opts.URL == "" {
			return nil, fmt.Errorf("failed to open database: DATABASE_URL is required for the postgres driver")
		}
		gdb, err := gorm.Open(postgres.Open(opts.URL), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres database: %w", err)
		}
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get postgres connection pool: %w", err)
		}
		return &Database{db: sqlDB, gorm: gdb, driver: DriverPostgres, logger: logger}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}
}

func openSQLite(path string, gormCfg *gorm.Config, logger *logrus.Logger) (*Database, error) {
	inMemory := strings.Contains(path, "mode=memory") || path == ":memory:"
	if !inMemory {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	if !inMemory {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	gdb, err := gorm.Open(&sqlite.Dialector{DriverName: "sqlite3", Conn: db}, gormCfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize gorm: %w", err)
	}

	return &Database{db: db, gorm: gdb, driver: DriverSQLite, logger: logger}, nil
}

// sqliteDSN adds the per-connection pragmas as DSN parameters so every pooled
// connection gets them.
func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_foreign_keys=on&_busy_timeout=5000"
}

// NewTestDB opens a private in-memory sqlite database with all migrations
// applied.
func NewTestDB() (*Database, error) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	path := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := NewDatabase(Options{Driver: DriverSQLite, Path: path, Logger: logger})
	if err != nil {
		return nil, err
	}
	db.db.SetMaxOpenConns(1)

	if err := db.RunMigrations(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (d *Database) Gorm() *gorm.DB {
	return d.gorm
}

func (d *Database) Driver() string {
	return d.driver
}

func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Backup writes a consistent copy of a sqlite database to dest.
func (d *Database) Backup(ctx context.Context, dest string) error {
	if d.driver != DriverSQLite {
		return fmt.Errorf("backup is only supported for sqlite, not %s", d.driver)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}
	if _, err := d.db.ExecContext(ctx, "VACUUM INTO ?", dest); err != nil {
		return fmt.Errorf("failed to back up database to %s: %w", dest, err)
	}
	return nil
}

// notFound maps gorm's missing-record error onto apperr.ErrNotFound.
func notFound(err error, what string, id interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %v: %w", what, id, apperr.ErrNotFound)
	}
	return err
}
