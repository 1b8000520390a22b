package circuitbreaker

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// DatabaseWrapper wraps a sqlx.DB with a circuit breaker
type DatabaseWrapper struct {
	db     *sqlx.DB
	cb     *CircuitBreaker
	logger *zap.Logger
}

// NewDatabaseWrapper creates a database wrapper with circuit breaker
func NewDatabaseWrapper(db *sqlx.DB, logger *zap.Logger) *DatabaseWrapper {
	cb := NewCircuitBreaker("postgres", DatabaseProfile().ToConfig(), logger)
	GlobalMetricsCollector.RegisterCircuitBreaker("postgres", "memstore", cb)

	return &DatabaseWrapper{
		db:     db,
		cb:     cb,
		logger: logger,
	}
}

// ExecContext wraps sqlx ExecContext with circuit breaker
func (dw *DatabaseWrapper) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	var result sql.Result
	err := dw.cb.Execute(ctx, func() error {
		var err2 error
		result, err2 = dw.db.ExecContext(ctx, query, args...)
		return err2
	})
	dw.record(err)
	return result, err
}

// GetContext wraps sqlx GetContext with circuit breaker. sql.ErrNoRows does not
// count as a breaker failure.
func (dw *DatabaseWrapper) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	var notFound bool
	err := dw.cb.Execute(ctx, func() error {
		err2 := dw.db.GetContext(ctx, dest, query, args...)
		if err2 == sql.ErrNoRows {
			notFound = true
			return nil
		}
		return err2
	})
	dw.record(err)
	if err == nil && notFound {
		return sql.ErrNoRows
	}
	return err
}

// SelectContext wraps sqlx SelectContext with circuit breaker
func (dw *DatabaseWrapper) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	err := dw.cb.Execute(ctx, func() error {
		return dw.db.SelectContext(ctx, dest, query, args...)
	})
	dw.record(err)
	return err
}

// BeginTxx wraps sqlx BeginTxx with circuit breaker
func (dw *DatabaseWrapper) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	var tx *sqlx.Tx
	err := dw.cb.Execute(ctx, func() error {
		var err2 error
		tx, err2 = dw.db.BeginTxx(ctx, opts)
		return err2
	})
	dw.record(err)
	return tx, err
}

// PingContext wraps PingContext with circuit breaker
func (dw *DatabaseWrapper) PingContext(ctx context.Context) error {
	err := dw.cb.Execute(ctx, func() error {
		return dw.db.PingContext(ctx)
	})
	dw.record(err)
	return err
}

// Close closes the underlying database connection
func (dw *DatabaseWrapper) Close() error {
	return dw.db.Close()
}

// DB returns the underlying sqlx handle for operations not covered by the wrapper
func (dw *DatabaseWrapper) DB() *sqlx.DB {
	return dw.db
}

// IsCircuitBreakerOpen returns true if the circuit breaker is open
func (dw *DatabaseWrapper) IsCircuitBreakerOpen() bool {
	return dw.cb.State() == StateOpen
}

func (dw *DatabaseWrapper) record(err error) {
	GlobalMetricsCollector.RecordRequest("postgres", "memstore", dw.cb.State(), err == nil)
}
