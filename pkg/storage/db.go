// Package storage persists students and attendance events in a SQL database
// and seals on-disk artifacts with NaCl secretbox.
//
// Schema management and student CRUD go through gorm. The attendance write
// path is built with squirrel so the insert-if-absent statement can be
// spelled per dialect.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/MrCodeEU/faceattend/pkg/logging"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// ErrUnsupportedDriver is returned for an unknown database driver.
var ErrUnsupportedDriver = errors.New("unsupported database driver")

// Options configures the database connection.
type Options struct {
	Driver       string
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	LogLevel     string
}

// DB is an open attendance database.
type DB struct {
	gorm   *gorm.DB
	sql    *sql.DB
	driver string
	sb     sq.StatementBuilderType
}

// Open connects to the database described by o. Call Migrate before use.
func Open(o Options) (*DB, error) {
	dialector, err := dialectorFor(o.Driver, o.DSN)
	if err != nil {
		return nil, err
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger:         newGormLogger(o.LogLevel),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s database: %w", o.Driver, err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	switch {
	case o.Driver == DriverSQLite:
		// a single connection keeps sqlite writers from tripping over the file lock
		sqlDB.SetMaxOpenConns(1)
	case o.MaxOpenConns > 0:
		sqlDB.SetMaxOpenConns(o.MaxOpenConns)
	}
	if o.MaxIdleConns > 0 && o.Driver != DriverSQLite {
		sqlDB.SetMaxIdleConns(o.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	logging.WithField("driver", o.Driver).Info("Database connection established")
	return &DB{
		gorm:   gdb,
		sql:    sqlDB,
		driver: o.Driver,
		sb:     sq.StatementBuilder.PlaceholderFormat(placeholderFor(o.Driver)),
	}, nil
}

// placeholderFor returns the bind variable style of driver.
func placeholderFor(driver string) sq.PlaceholderFormat {
	if driver == DriverPostgres {
		return sq.Dollar
	}
	return sq.Question
}

func dialectorFor(driver, dsn string) (gorm.Dialector, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database dsn is required for driver %s", driver)
	}
	switch driver {
	case DriverSQLite:
		if !strings.Contains(dsn, "?") {
			dsn += "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
		}
		return sqlite.Open(dsn), nil
	case DriverPostgres:
		return postgres.Open(dsn), nil
	case DriverMySQL:
		// timestamps must come back as time.Time
		if !strings.Contains(dsn, "parseTime=") {
			if strings.Contains(dsn, "?") {
				dsn += "&parseTime=true"
			} else {
				dsn += "?parseTime=true"
			}
		}
		return mysql.Open(dsn), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
}

// newGormLogger routes gorm's log output into logrus.
func newGormLogger(level string) logger.Interface {
	lvl := logger.Warn
	switch level {
	case "silent":
		lvl = logger.Silent
	case "error":
		lvl = logger.Error
	case "info":
		lvl = logger.Info
	}
	return logger.New(logging.Component("gorm"), logger.Config{
		SlowThreshold:             time.Second,
		LogLevel:                  lvl,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

// Migrate creates or updates the schema.
func (d *DB) Migrate() error {
	if err := d.gorm.AutoMigrate(&Student{}, &AttendanceEvent{}); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logging.Debugf("Database schema migrated")
	return nil
}

// Driver returns the configured driver name.
func (d *DB) Driver() string {
	return d.driver
}

// Close closes the connection pool.
func (d *DB) Close() error {
	return d.sql.Close()
}
