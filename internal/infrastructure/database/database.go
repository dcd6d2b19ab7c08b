package database

import (
	"errors"
	"strings"
	"time"

	"autolist-backend/internal/domain"
	"autolist-backend/internal/infrastructure/repository"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Options tune Open.
type Options struct {
	LogLevel      logger.LogLevel
	SlowThreshold time.Duration
}

type Option func(*Options)

func WithLogLevel(l logger.LogLevel) Option {
	return func(o *Options) { o.LogLevel = l }
}

func WithSlowThreshold(d time.Duration) Option {
	return func(o *Options) { o.SlowThreshold = d }
}

// Open opens a GORM DB and picks the dialect from the DSN:
// postgres:// or key=value DSNs go to Postgres, mysql:// to MySQL, and
// file paths, file: URIs and :memory: to SQLite.
// Postgres uses PreferSimpleProtocol to avoid 42P05 ("prepared statement
// already exists") behind poolers such as PgBouncer or Supabase.
func Open(dsn string, opts ...Option) (*gorm.DB, error) {
	o := Options{LogLevel: logger.Warn, SlowThreshold: 200 * time.Millisecond}
	for _, opt := range opts {
		opt(&o)
	}
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, &repository.InitializationError{Err: errors.New("database url is empty")}
	}
	cfg := &gorm.Config{
		TranslateError: true,
		Logger:         NewLogger(o.LogLevel, o.SlowThreshold),
	}

	var (
		dialector gorm.Dialector
		memory    bool
	)
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"), strings.Contains(dsn, "host="):
		dialector = postgres.New(postgres.Config{
			DSN:                  dsn,
			PreferSimpleProtocol: true,
		})
	case strings.HasPrefix(dsn, "mysql://"):
		dialector = mysql.Open(mysqlDSN(strings.TrimPrefix(dsn, "mysql://")))
	default:
		path := strings.TrimPrefix(dsn, "sqlite://")
		memory = strings.Contains(path, ":memory:") || strings.Contains(path, "mode=memory")
		dialector = sqlite.Open(sqliteDSN(path))
	}

	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, &repository.InitializationError{Err: err}
	}
	if dialector.Name() == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, &repository.InitializationError{Err: err}
		}
		// every connection to :memory: is a separate database
		if memory {
			sqlDB.SetMaxOpenConns(1)
		}
		if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
			return nil, &repository.InitializationError{Err: err}
		}
	}
	return db, nil
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "_pragma=foreign_keys") {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=foreign_keys(1)"
}

// mysqlDSN makes sure DATETIME columns scan into time.Time.
func mysqlDSN(dsn string) string {
	if strings.Contains(dsn, "parseTime=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "parseTime=true"
}

// AutoMigrate creates or updates the catalog tables, parents first.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(domain.All()...); err != nil {
		return &repository.InitializationError{Err: err}
	}
	return nil
}
