package ports

import (
	"context"
	"time"

	"timebank/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// AccountRepository defines persistence operations for accounts.
type AccountRepository interface {
	Create(ctx context.Context, tx pgx.Tx, account *domain.Account) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)
}

// WalletRepository defines persistence operations for wallets.
// Methods accepting pgx.Tx run inside transaction blocks; the ForUpdate
// variant takes the row lock that serializes all mutation of one wallet.
type WalletRepository interface {
	Create(ctx context.Context, tx pgx.Tx, wallet *domain.Wallet) error
	GetByAccountID(ctx context.Context, accountID uuid.UUID) (*domain.Wallet, error)
	GetByAccountIDForUpdate(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) (*domain.Wallet, error)
	UpdateBalance(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, balance int64) error
	UpdateSupportClaim(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, claimedAt time.Time) error
	ListAccountIDs(ctx context.Context) ([]uuid.UUID, error)
}

// LedgerRepository defines persistence for the append-only ledger.
type LedgerRepository interface {
	// Append inserts both legs of a transfer and fills in their serial IDs.
	Append(ctx context.Context, tx pgx.Tx, entries ...*domain.LedgerEntry) error
	ListByAccount(ctx context.Context, params LedgerListParams) ([]domain.LedgerEntry, int64, error)
	// GetByReference finds the first entry of the given kind carrying the
	// reference, used for settlement idempotency checks.
	GetByReference(ctx context.Context, kind domain.EntryKind, reference string) (*domain.LedgerEntry, error)
	// FoldBalance replays the ledger for one account: SUM(delta). This is the
	// source of truth the cached wallet balance is reconciled against.
	FoldBalance(ctx context.Context, accountID uuid.UUID) (int64, error)
	// SumByTransfer returns SUM(delta) for one transfer pair; zero for every
	// committed transfer (conservation of credits).
	SumByTransfer(ctx context.Context, transferID uuid.UUID) (int64, error)
	// ListUnbalancedTransfers returns the transfer ids whose legs do not sum
	// to zero. Always empty unless a pair lost a leg.
	ListUnbalancedTransfers(ctx context.Context) ([]uuid.UUID, error)
	// SumAll returns SUM(delta) across the whole ledger. The system is
	// closed, so this is zero whenever every pair committed atomically.
	SumAll(ctx context.Context) (int64, error)
}

// LedgerListParams holds filter + pagination for ledger history.
type LedgerListParams struct {
	AccountID uuid.UUID
	Kind      *domain.EntryKind
	From      *int64 // Unix timestamp
	To        *int64 // Unix timestamp
	Page      int
	PageSize  int
}

// ObligationRepository persists deferred settlement debts.
type ObligationRepository interface {
	Create(ctx context.Context, tx pgx.Tx, o *domain.Obligation) error
	ListPending(ctx context.Context, learnerID uuid.UUID) ([]domain.Obligation, error)
	MarkSettled(ctx context.Context, tx pgx.Tx, id uuid.UUID, settledAt time.Time) error
}

// IdempotencyRepository is the durable idempotency store (DB layer).
type IdempotencyRepository interface {
	Create(ctx context.Context, tx pgx.Tx, rec *domain.IdempotencyRecord) error
	Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error)
}

// IdempotencyCache is the Redis fast path in front of IdempotencyRepository.
type IdempotencyCache interface {
	Get(ctx context.Context, key string) ([]byte, error) // nil, nil on miss
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
