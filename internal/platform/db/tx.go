package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/ehr/patientflow/internal/platform/apperr"
)

// Postgres SQLSTATE codes the ledgers react to.
const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// Querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// TxRunner executes fn as one atomic unit. Calls nested inside fn with the
// context it receives join the outer unit instead of opening a new one.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type txKey struct{}

// TxFromContext returns the transaction bound to ctx by PgTxRunner, or nil.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey{}).(pgx.Tx)
	return tx
}

// Conn returns the transaction bound to ctx, falling back to the pool for
// statements that run outside a transaction.
func Conn(ctx context.Context, pool *pgxpool.Pool) Querier {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

// PgTxRunner runs units of work in a READ COMMITTED transaction. Row locks
// taken with SELECT ... FOR UPDATE inside fn serialize competing writers.
type PgTxRunner struct {
	pool    *pgxpool.Pool
	retries int
	logger  zerolog.Logger
}

func NewPgTxRunner(pool *pgxpool.Pool, retries int, logger zerolog.Logger) *PgTxRunner {
	if retries < 0 {
		retries = 0
	}
	return &PgTxRunner{pool: pool, retries: retries, logger: logger}
}

// InTx retries transaction conflicts (serialization failure, deadlock) up to
// the configured count before surfacing them as an internal error. Any other
// error is returned as-is after rollback.
func (r *PgTxRunner) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	var err error
	for attempt := 0; attempt <= r.retries; attempt++ {
		err = r.run(ctx, fn)
		if !IsConflict(err) {
			return err
		}
		r.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("transaction conflict")
	}
	return apperr.Internal("transaction conflict", err)
}

func (r *PgTxRunner) run(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return apperr.Internal("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func pgCode(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// IsConflict reports whether err is a retryable transaction conflict.
func IsConflict(err error) bool {
	pgErr, ok := pgCode(err)
	return ok && (pgErr.Code == codeSerializationFailure || pgErr.Code == codeDeadlockDetected)
}

// UniqueViolation returns the violated constraint name when err is a unique
// violation.
func UniqueViolation(err error) (string, bool) {
	pgErr, ok := pgCode(err)
	if !ok || pgErr.Code != codeUniqueViolation {
		return "", false
	}
	return pgErr.ConstraintName, true
}

// IsForeignKeyViolation reports whether err is a referential integrity failure.
func IsForeignKeyViolation(err error) bool {
	pgErr, ok := pgCode(err)
	return ok && pgErr.Code == codeForeignKeyViolation
}

// IsNoRows reports whether err means the queried row does not exist.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
