package db

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/ehr/caredispatch/internal/platform/metrics"
	"github.com/ehr/caredispatch/pkg/apperr"
)

// Queryable is satisfied by *pgxpool.Pool, *pgxpool.Conn and pgx.Tx.
type Queryable interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Transactor runs fn so that every repository call made with the ctx it
// receives commits or rolls back together. Calls nested inside an open
// transaction join it. WithinRead runs reads that must not observe another
// caller's uncommitted writes.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
	WithinRead(ctx context.Context, fn func(ctx context.Context) error) error
}

type txKey struct{}

// Conn returns the queryable repositories should use: the open transaction,
// then the tenant-scoped connection, then the pool.
func Conn(ctx context.Context, pool *pgxpool.Pool) Queryable {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	if c := ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

// InTx reports whether ctx carries an open transaction of either kind.
func InTx(ctx context.Context) bool {
	if ctx.Value(txKey{}) != nil {
		return true
	}
	_, ok := ctx.Value(journalKey{}).(*journal)
	return ok
}

// Serialization failure and deadlock are worth another attempt.
var retryableCodes = map[string]bool{
	"40001": true,
	"40P01": true,
}

// Retryable reports whether err came from a lost write race rather than a
// failed domain precondition.
func Retryable(err error) bool {
	if apperr.IsStale(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return retryableCodes[pgErr.Code]
	}
	return false
}

// retry re-runs attempt while it fails with a retryable error, up to
// maxRetries extra attempts. Anything else is returned immediately.
func retry(ctx context.Context, maxRetries int, logger zerolog.Logger, attempt func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 5 * time.Millisecond
	eb.MaxInterval = 250 * time.Millisecond
	eb.MaxElapsedTime = 0

	var b backoff.BackOff = backoff.WithMaxRetries(eb, uint64(maxRetries))
	b = backoff.WithContext(b, ctx)

	return backoff.RetryNotify(func() error {
		err := attempt()
		if err == nil || Retryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}, b, func(err error, wait time.Duration) {
		metrics.TxRetries.Inc()
		logger.Debug().Err(err).Dur("wait", wait).Msg("retrying transaction")
	})
}

// PgTransactor runs closures inside a pgx transaction at READ COMMITTED.
type PgTransactor struct {
	pool       *pgxpool.Pool
	maxRetries int
	logger     zerolog.Logger
}

func NewPgTransactor(pool *pgxpool.Pool, maxRetries int, logger zerolog.Logger) *PgTransactor {
	return &PgTransactor{pool: pool, maxRetries: maxRetries, logger: logger}
}

func (t *PgTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}
	return retry(ctx, t.maxRetries, t.logger, func() error {
		return t.attempt(ctx, fn)
	})
}

// WithinRead needs nothing extra: Postgres never shows uncommitted rows to
// another connection.
func (t *PgTransactor) WithinRead(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (t *PgTransactor) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	var (
		tx  pgx.Tx
		err error
	)
	// The tenant connection already has its search_path set.
	if c := ConnFromContext(ctx); c != nil {
		tx, err = c.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	} else {
		tx, err = t.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	}
	if err != nil {
		return apperr.Internal("begin transaction", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	h := &hooks{}
	txCtx := context.WithValue(context.WithValue(ctx, txKey{}, tx), hooksKey{}, h)
	if err := fn(txCtx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		if Retryable(err) {
			return err
		}
		return apperr.Internal("commit transaction", err)
	}
	h.run()
	return nil
}

// LocalTransactor serializes closures for the in-memory store. Repositories
// write in place and record undo steps through Journal, so a failed closure
// leaves no trace. Readers go through WithinRead and wait for the writer, so
// nobody sees a write that may still be undone.
type LocalTransactor struct {
	mu         sync.RWMutex
	maxRetries int
	logger     zerolog.Logger
}

func NewLocalTransactor(maxRetries int, logger zerolog.Logger) *LocalTransactor {
	return &LocalTransactor{maxRetries: maxRetries, logger: logger}
}

type journalKey struct{}

type journal struct {
	undo []func()
}

// WithinTx runs fn under the store's write lock. After-commit hooks run
// once the lock is released.
func (t *LocalTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(journalKey{}).(*journal); ok {
		return fn(ctx)
	}
	var committed *hooks
	err := retry(ctx, t.maxRetries, t.logger, func() error {
		h, err := t.attempt(ctx, fn)
		if err == nil {
			committed = h
		}
		return err
	})
	if err != nil {
		return err
	}
	committed.run()
	return nil
}

func (t *LocalTransactor) attempt(ctx context.Context, fn func(ctx context.Context) error) (*hooks, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	j := &journal{}
	h := &hooks{}
	txCtx := context.WithValue(context.WithValue(ctx, journalKey{}, j), hooksKey{}, h)
	if err := fn(txCtx); err != nil {
		for i := len(j.undo) - 1; i >= 0; i-- {
			j.undo[i]()
		}
		return nil, err
	}
	return h, nil
}

// WithinRead runs fn under the read lock, or directly inside an open local
// transaction, which already holds the write lock.
func (t *LocalTransactor) WithinRead(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(journalKey{}).(*journal); ok {
		return fn(ctx)
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return fn(ctx)
}

// Journal registers undo to run if the enclosing local transaction fails.
// Outside a local transaction it does nothing.
func Journal(ctx context.Context, undo func()) {
	if j, ok := ctx.Value(journalKey{}).(*journal); ok {
		j.undo = append(j.undo, undo)
	}
}

type hooksKey struct{}

type hooks struct {
	after []func()
}

func (h *hooks) run() {
	for _, fn := range h.after {
		fn()
	}
}

// AfterCommit runs fn once the outermost transaction on ctx has committed,
// or immediately when ctx carries no transaction. Hooks of a failed attempt
// are dropped with it.
func AfterCommit(ctx context.Context, fn func()) {
	if h, ok := ctx.Value(hooksKey{}).(*hooks); ok {
		h.after = append(h.after, fn)
		return
	}
	fn()
}

// Classify maps a store error into the apperr taxonomy.
func Classify(err error, entity string, id fmt.Stringer) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound(entity, id)
	}
	if Retryable(err) {
		return err
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return apperr.Internal(fmt.Sprintf("%s %s", entity, id), err)
}
