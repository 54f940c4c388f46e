package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect names the SQL engine behind a DB.
type Dialect string

const (
	SQLite Dialect = "sqlite3"
	MySQL  Dialect = "mysql"
)

// Options configures Open.
type Options struct {
	Dialect Dialect

	// Path is the database file for SQLite.
	Path string

	// Host, Port, User, Password and Name address a MySQL server.
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// PoolSize bounds open connections shared by readers and the ingestion writer.
	PoolSize int
}

// DB wraps the metadata database (messages, contacts, media).
type DB struct {
	*sql.DB
	dialect Dialect
	now     func() time.Time
}

// Open connects to the metadata database and verifies it is reachable.
// A failed ping is reported as ErrDatabaseUnavailable.
func Open(opts Options) (*DB, error) {
	if opts.Dialect == "" {
		opts.Dialect = SQLite
	}
	dsn, err := opts.dsn()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(string(opts.Dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	pool := opts.PoolSize
	if pool <= 0 {
		pool = 10
	}
	db.SetMaxOpenConns(pool)
	db.SetMaxIdleConns(pool)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w: %w", ErrDatabaseUnavailable, err)
	}
	return &DB{DB: db, dialect: opts.Dialect, now: time.Now}, nil
}

// Dialect reports the engine the DB was opened with.
func (db *DB) Dialect() Dialect {
	return db.dialect
}

func (o Options) dsn() (string, error) {
	switch o.Dialect {
	case SQLite:
		if o.Path == "" {
			return "", fmt.Errorf("sqlite: empty database path")
		}
		return o.Path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", nil
	case MySQL:
		cfg := mysql.NewConfig()
		cfg.User = o.User
		cfg.Passwd = o.Password
		cfg.Net = "tcp"
		port := o.Port
		if port == 0 {
			port = 3306
		}
		cfg.Addr = fmt.Sprintf("%s:%d", o.Host, port)
		cfg.DBName = o.Name
		cfg.MultiStatements = true
		cfg.ParseTime = false
		return cfg.FormatDSN(), nil
	default:
		return "", fmt.Errorf("unsupported dialect %q", o.Dialect)
	}
}
