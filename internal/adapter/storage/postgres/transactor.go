package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// Transactor hands out database transactions from the pool. Every balance
// mutation in the service layer runs inside one of these so the two ledger
// legs and the cached balance updates commit or roll back together.
type Transactor struct {
	pool Pool
}

// NewTransactor wraps the connection pool.
func NewTransactor(pool Pool) *Transactor {
	return &Transactor{pool: pool}
}

// Begin opens a transaction at the default isolation level. Read Committed
// is sufficient here: wallet consistency comes from SELECT ... FOR UPDATE row
// locks, not from snapshot isolation.
func (t *Transactor) Begin(ctx context.Context) (pgx.Tx, error) {
	return t.pool.Begin(ctx)
}
