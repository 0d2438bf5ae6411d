package db

import (
	"context"
	"database/sql"
	"fmt"
	"runtime"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"
)

// Config locates the run history database. URL wins over the individual
// fields when set.
type Config struct {
	URL      string `mapstructure:"url" envconfig:"URL"`
	Host     string `mapstructure:"host" envconfig:"HOST" default:"localhost"`
	Port     int    `mapstructure:"port" envconfig:"PORT" default:"5432"`
	User     string `mapstructure:"user" envconfig:"USER" default:"qmag"`
	Password string `mapstructure:"password" envconfig:"PASSWORD" default:"password"`
	Database string `mapstructure:"database" envconfig:"NAME" default:"qmag"`
	SSLMode  string `mapstructure:"sslmode" envconfig:"SSLMODE" default:"disable"`
}

// DSN returns the postgres connection string.
func (c Config) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

func New(ctx context.Context, cfg Config) (*bun.DB, error) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DSN())))

	db := bun.NewDB(sqldb, pgdialect.New())

	// BUNDEBUG=1 logs failed queries, BUNDEBUG=2 logs every query
	db.AddQueryHook(bundebug.NewQueryHook(
		bundebug.WithEnabled(false),
		bundebug.FromEnv("BUNDEBUG"),
	))

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	maxOpenConns := 4 * runtime.GOMAXPROCS(0)
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns)

	return db, nil
}
