package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrTxRetriesExhausted is returned when a transaction keeps losing
// serialization conflicts past the attempt bound. Callers may retry.
var ErrTxRetriesExhausted = errors.New("transaction retries exhausted")

const defaultMaxAttempts = 5

// TxRunner runs a function inside one atomic transaction. On a
// serialization conflict the function is re-invoked against a fresh
// snapshot, so it must re-evaluate all preconditions on every attempt
// and must not cache reads across attempts.
type TxRunner interface {
	RunTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// txBeginner abstracts transaction creation so the retry driver can be
// tested with a conflict-simulating fake instead of a pgxpool.Pool.
type txBeginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// Store wraps a pgx pool and provides the serializable retry driver
// the marketplace engine runs its operations through.
type Store struct {
	pool        *pgxpool.Pool
	db          txBeginner
	maxAttempts int
}

func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return NewWithPool(pool), nil
}

// NewWithPool wraps an existing pool (the seeder shares its own).
func NewWithPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, db: pool, maxAttempts: defaultMaxAttempts}
}

func (s *Store) Pool() *pgxpool.Pool { return s.pool }

func (s *Store) Close() { s.pool.Close() }

// RunTx executes fn inside a SERIALIZABLE transaction, retrying on
// serialization failures up to the attempt bound.
func (s *Store) RunTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		err := s.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !isSerializationFailure(err) {
			return err
		}
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("%w: %w", ErrTxRetriesExhausted, lastErr)
}

func (s *Store) runOnce(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

// isSerializationFailure reports whether err is a conflict the driver
// should retry: serialization_failure (40001) or deadlock_detected (40P01).
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}
