package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	migrate "github.com/rubenv/sql-migrate"
)

var (
	ErrDBConnection = errors.New("database connection error")
	ErrDBQuery      = errors.New("database query error")
)

type dialect struct {
	driver   string
	migrator string
	value    string
}

var (
	sqliteDialect   = dialect{driver: "sqlite3", migrator: "sqlite3", value: "BLOB"}
	postgresDialect = dialect{driver: "pgx", migrator: "postgres", value: "BYTEA"}
)

// sqlStorage keeps values as JSON rows of a shared records table. Every
// store owns one namespace, so several runs can share a database.
type sqlStorage[T any] struct {
	db        *sqlx.DB
	namespace string
}

// NewSQLiteStorage opens (or creates) the SQLite database at path.
func NewSQLiteStorage[T any](path, namespace string) (Storage[T], error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	return newSQLStorage[T](sqliteDialect, path, namespace)
}

// NewPostgresStorage connects to PostgreSQL with a key=value DSN.
func NewPostgresStorage[T any](dsn, namespace string) (Storage[T], error) {
	return newSQLStorage[T](postgresDialect, dsn, namespace)
}

func newSQLStorage[T any](d dialect, dsn, namespace string) (Storage[T], error) {
	db, err := sqlx.Connect(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDBConnection, err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := migrateRecords(db, d); err != nil {
		_ = db.Close()

		return nil, err
	}

	return &sqlStorage[T]{
		db:        db,
		namespace: namespace,
	}, nil
}

func migrateRecords(db *sqlx.DB, d dialect) error {
	migrations := &migrate.MemoryMigrationSource{
		Migrations: []*migrate.Migration{
			{
				Id: "1_create_records",
				Up: []string{
					fmt.Sprintf(`CREATE TABLE IF NOT EXISTS records (
						namespace VARCHAR(64) NOT NULL,
						record_key VARCHAR(255) NOT NULL,
						value %s NOT NULL,
						created_at TIMESTAMP NOT NULL,
						updated_at TIMESTAMP NOT NULL,
						PRIMARY KEY (namespace, record_key)
					)`, d.value),
				},
				Down: []string{
					`DROP TABLE IF EXISTS records`,
				},
			},
		},
	}

	if _, err := migrate.Exec(db.DB, d.migrator, migrations, migrate.Up); err != nil {
		return fmt.Errorf("database migration error: %w", err)
	}

	return nil
}

func (s *sqlStorage[T]) Create(ctx context.Context, key string, value T) error {
	if key == "" {
		return ErrEmptyKey
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	now := time.Now().UTC()
	query := s.db.Rebind(`INSERT INTO records (namespace, record_key, value, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?) ON CONFLICT (namespace, record_key) DO NOTHING`)
	res, err := s.db.ExecContext(ctx, query, s.namespace, key, data, now, now)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	return expectRow(res, ErrEntityExists)
}

func (s *sqlStorage[T]) Get(ctx context.Context, key string) (T, error) {
	var result T
	if key == "" {
		return result, ErrEmptyKey
	}

	var data []byte
	query := s.db.Rebind(`SELECT value FROM records WHERE namespace = ? AND record_key = ?`)
	if err := s.db.GetContext(ctx, &data, query, s.namespace, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return result, ErrNotFound
		}

		return result, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	if err := json.Unmarshal(data, &result); err != nil {
		return result, fmt.Errorf("failed to unmarshal value: %w", err)
	}

	return result, nil
}

func (s *sqlStorage[T]) Update(ctx context.Context, key string, value T) error {
	if key == "" {
		return ErrEmptyKey
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	query := s.db.Rebind(`UPDATE records SET value = ?, updated_at = ? WHERE namespace = ? AND record_key = ?`)
	res, err := s.db.ExecContext(ctx, query, data, time.Now().UTC(), s.namespace, key)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	return expectRow(res, ErrNotFound)
}

func (s *sqlStorage[T]) List(ctx context.Context, offset, limit uint64) (result []T, total uint64, err error) {
	count := s.db.Rebind(`SELECT COUNT(*) FROM records WHERE namespace = ?`)
	if err := s.db.GetContext(ctx, &total, count, s.namespace); err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}
	if offset >= total {
		return nil, total, nil
	}

	var rows [][]byte
	query := s.db.Rebind(`SELECT value FROM records WHERE namespace = ? ORDER BY record_key LIMIT ? OFFSET ?`)
	if err := s.db.SelectContext(ctx, &rows, query, s.namespace, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	result = make([]T, len(rows))
	for i, data := range rows {
		if err := json.Unmarshal(data, &result[i]); err != nil {
			return nil, 0, fmt.Errorf("failed to unmarshal value: %w", err)
		}
	}

	return result, total, nil
}

func (s *sqlStorage[T]) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}

	query := s.db.Rebind(`DELETE FROM records WHERE namespace = ? AND record_key = ?`)
	if _, err := s.db.ExecContext(ctx, query, s.namespace, key); err != nil {
		return fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	return nil
}

func (s *sqlStorage[T]) Close() error {
	return s.db.Close()
}

func expectRow(res sql.Result, none error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDBQuery, err)
	}
	if n == 0 {
		return none
	}

	return nil
}
