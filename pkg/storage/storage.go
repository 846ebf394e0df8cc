// Package storage is a small keyed store for round records, kept in memory,
// in Badger, in SQLite or in PostgreSQL.
package storage

import (
	"context"
	"fmt"
	"path/filepath"
)

const (
	TypeMemory   = "memory"
	TypeBadger   = "badger"
	TypeSQLite   = "sqlite"
	TypePostgres = "postgres"

	sqliteFile = "records.db"
)

type Storage[T any] interface {
	Create(ctx context.Context, key string, value T) error
	Get(ctx context.Context, key string) (T, error)
	Update(ctx context.Context, key string, value T) error
	// List returns values in ascending key order.
	List(ctx context.Context, offset, limit uint64) ([]T, uint64, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

type Config struct {
	// Type is TypeMemory, TypeBadger, TypeSQLite or TypePostgres. Empty
	// picks Badger when Dir is set and memory otherwise.
	Type string `env:"CFFL_STORAGE_TYPE"`
	Dir  string `env:"CFFL_DB_DIR"`

	PostgresHost    string `env:"CFFL_POSTGRES_HOST"    envDefault:"localhost"`
	PostgresPort    string `env:"CFFL_POSTGRES_PORT"    envDefault:"5432"`
	PostgresUser    string `env:"CFFL_POSTGRES_USER"    envDefault:"cffl"`
	PostgresPass    string `env:"CFFL_POSTGRES_PASS"    envDefault:"cffl"`
	PostgresDB      string `env:"CFFL_POSTGRES_DB"      envDefault:"cffl"`
	PostgresSSLMode string `env:"CFFL_POSTGRES_SSLMODE" envDefault:"disable"`
}

func (c Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.PostgresHost, c.PostgresPort, c.PostgresUser, c.PostgresPass, c.PostgresDB, c.PostgresSSLMode)
}

// Open returns the store of one namespace. File backed stores live in
// their own directory under Dir; SQL stores share one table.
func Open[T any](cfg Config, namespace string) (Storage[T], error) {
	typ := cfg.Type
	if typ == "" {
		typ = TypeMemory
		if cfg.Dir != "" {
			typ = TypeBadger
		}
	}

	switch typ {
	case TypeMemory:
		return NewInMemoryStorage[T](), nil
	case TypeBadger:
		return NewBadgerStorage[T](filepath.Join(cfg.Dir, namespace))
	case TypeSQLite:
		return NewSQLiteStorage[T](filepath.Join(cfg.Dir, sqliteFile), namespace)
	case TypePostgres:
		return NewPostgresStorage[T](cfg.PostgresDSN(), namespace)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", typ)
	}
}
