package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

const defaultTxTimeout = 5 * time.Second

// PostgreSQL error codes the enrollment workflow reacts to.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
	codeCheckViolation       = "23514"
	codeQueryCanceled        = "57014"
)

// TxFunc is a unit of work executed inside a transaction. Repositories
// accept tx wherever they take an sqlx.ExtContext.
type TxFunc func(ctx context.Context, tx sqlx.ExtContext) error

// TxConfig tunes the transaction runner.
type TxConfig struct {
	Timeout    time.Duration
	MaxRetries int
	Isolation  sql.IsolationLevel
	// OnRetry, when set, is called before each retried attempt.
	OnRetry func(attempt int, err error)
}

// TxRunner executes units of work atomically, retrying serialization failures.
type TxRunner struct {
	db     *sqlx.DB
	cfg    TxConfig
	logger *zap.Logger
}

// NewTxRunner constructs a runner. The zero Isolation value means serializable.
func NewTxRunner(db *sqlx.DB, cfg TxConfig, logger *zap.Logger) *TxRunner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTxTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Isolation == sql.LevelDefault {
		cfg.Isolation = sql.LevelSerializable
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TxRunner{db: db, cfg: cfg, logger: logger}
}

// RunInTx runs fn in a fresh transaction. Serialization failures and deadlocks
// are retried up to MaxRetries times; every attempt is rolled back completely
// before the next one starts.
func (r *TxRunner) RunInTx(ctx context.Context, fn TxFunc) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = r.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !IsSerializationFailure(err) || attempt >= r.cfg.MaxRetries {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		r.logger.Warn("retrying transaction after serialization failure",
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		if r.cfg.OnRetry != nil {
			r.cfg.OnRetry(attempt+1, err)
		}
	}
}

func (r *TxRunner) runOnce(ctx context.Context, fn TxFunc) (err error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: r.cfg.Isolation})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(ctx, tx); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func pqCode(err error) (string, string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code), pqErr.Constraint, true
	}
	return "", "", false
}

// IsSerializationFailure reports whether the store aborted the transaction
// because of a concurrent conflicting transaction.
func IsSerializationFailure(err error) bool {
	code, _, ok := pqCode(err)
	return ok && (code == codeSerializationFailure || code == codeDeadlockDetected)
}

// IsUniqueViolation reports whether err is a unique constraint violation, and
// returns the violated constraint name.
func IsUniqueViolation(err error) (string, bool) {
	code, constraint, ok := pqCode(err)
	if !ok || code != codeUniqueViolation {
		return "", false
	}
	return constraint, true
}

// IsCheckViolation reports whether err is a CHECK constraint violation, and
// returns the violated constraint name.
func IsCheckViolation(err error) (string, bool) {
	code, constraint, ok := pqCode(err)
	if !ok || code != codeCheckViolation {
		return "", false
	}
	return constraint, true
}

// IsTimeout reports whether the transaction was abandoned because its deadline passed.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	code, _, ok := pqCode(err)
	return ok && code == codeQueryCanceled
}
