package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	pkgerrors "github.com/pkg/errors"

	"nvoice/backend/internal/kv"
)

const (
	maxAtomicAttempts        = 5
	serializationFailureCode = "40001"
	deadlockDetectedCode     = "40P01"
)

const schema = `
	CREATE TABLE IF NOT EXISTS kv_entries (
		key TEXT PRIMARY KEY,
		value JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)
`

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db     *sql.DB
	prefix string
}

func New(ctx context.Context, databaseURL string, prefix string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, pkgerrors.Wrap(err, "create kv_entries")
	}

	return &Store{db: db, prefix: prefix}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Get(ctx context.Context, key string, dest any) (bool, error) {
	return s.get(ctx, s.db, key, dest, false)
}

func (s *Store) Set(ctx context.Context, key string, value any) error {
	return s.set(ctx, s.db, key, value)
}

func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	return s.delete(ctx, s.db, key)
}

func (s *Store) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT substr(key, length($1) + 1)
		FROM kv_entries
		WHERE left(key, length($1)) = $1
		ORDER BY key
	`, s.prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]string, 0, 16)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// Atomic runs fn inside a serializable transaction. Reads lock their rows, and a
// serialization failure restarts the unit.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx kv.Accessor) error) error {
	for attempt := 0; attempt < maxAtomicAttempts; attempt++ {
		err := s.atomicOnce(ctx, fn)
		if isRetryable(err) {
			continue
		}
		return err
	}
	return pkgerrors.New("postgres atomic: too much contention")
}

func (s *Store) atomicOnce(ctx context.Context, fn func(ctx context.Context, tx kv.Accessor) error) error {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	if err := fn(ctx, &txAccessor{store: s, tx: pgTx}); err != nil {
		return err
	}
	return pgTx.Commit()
}

type txAccessor struct {
	store *Store
	tx    *sql.Tx
}

func (a *txAccessor) Get(ctx context.Context, key string, dest any) (bool, error) {
	return a.store.get(ctx, a.tx, key, dest, true)
}

func (a *txAccessor) Set(ctx context.Context, key string, value any) error {
	return a.store.set(ctx, a.tx, key, value)
}

func (a *txAccessor) Delete(ctx context.Context, key string) (bool, error) {
	return a.store.delete(ctx, a.tx, key)
}

func (s *Store) get(ctx context.Context, q querier, key string, dest any, lock bool) (bool, error) {
	query := `SELECT value FROM kv_entries WHERE key = $1`
	if lock {
		query += ` FOR UPDATE`
	}

	var data []byte
	err := q.QueryRowContext(ctx, query, s.prefix+key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, kv.Decode(key, data, dest)
}

func (s *Store) set(ctx context.Context, q querier, key string, value any) error {
	payload, err := kv.Encode(value)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO kv_entries (key, value, updated_at)
		VALUES ($1, $2::jsonb, now())
		ON CONFLICT (key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, s.prefix+key, string(payload))
	return err
}

func (s *Store) delete(ctx context.Context, q querier, key string) (bool, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = $1`, s.prefix+key)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == serializationFailureCode || pgErr.Code == deadlockDetectedCode
}
