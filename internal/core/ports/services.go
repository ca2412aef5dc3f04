package ports

import (
	"context"

	"timebank/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// TransferEngine is the single choke point for balance mutation. Every
// service that moves credits calls through here; nothing else may touch
// wallet balances or append ledger rows.
type TransferEngine interface {
	// Transfer runs the two-leg move in its own database transaction.
	Transfer(ctx context.Context, req TransferRequest) (*domain.TransferResult, error)
	// TransferInTx composes the move into a caller-owned transaction, so a
	// service can linearize its own reads (eligibility, idempotency) with the
	// balance mutation. The caller commits or rolls back.
	TransferInTx(ctx context.Context, tx pgx.Tx, req TransferRequest) (*domain.TransferResult, error)
}

// TransferRequest describes one atomic credit movement.
type TransferRequest struct {
	From      uuid.UUID
	To        uuid.UUID
	Amount    int64
	Kind      domain.EntryKind
	Reference *string
}

// SupportService orchestrates support grant claims.
type SupportService interface {
	// Eligibility is a read-only check against the current wallet state.
	Eligibility(ctx context.Context, accountID uuid.UUID) (*domain.EligibilityDecision, error)
	// Claim re-evaluates eligibility under the wallet row lock and, if
	// eligible, issues the grant and stamps last_support_claim_at atomically.
	Claim(ctx context.Context, accountID uuid.UUID) (*ClaimResult, error)
}

// ClaimResult reports a successful support grant.
type ClaimResult struct {
	Amount     int64              `json:"amount"`
	NewBalance int64              `json:"balance"`
	Entry      domain.LedgerEntry `json:"entry"`
}

// DonationService moves credits from a user wallet into the bank reserve.
type DonationService interface {
	Donate(ctx context.Context, accountID uuid.UUID, amount int64) (*DonationResult, error)
}

// DonationResult reports a committed donation.
type DonationResult struct {
	Amount     int64              `json:"amount"`
	NewBalance int64              `json:"balance"`
	Entry      domain.LedgerEntry `json:"entry"`
}

// SettlementService applies the learner->teacher charge when a session ends
// and manages the obligations left behind by underfunded settlements.
type SettlementService interface {
	// Settle is idempotent per session id: replaying an already-settled
	// session returns the first result without moving credits again.
	Settle(ctx context.Context, req SettlementRequest) (*SettlementResult, error)
	// PendingObligations lists a learner's unsettled debts, oldest first.
	PendingObligations(ctx context.Context, learnerID uuid.UUID) ([]domain.Obligation, error)
	// CollectObligations pays off the learner's pending obligations, oldest
	// first, stopping at the first one the balance cannot fully cover.
	CollectObligations(ctx context.Context, learnerID uuid.UUID) (*CollectionResult, error)
}

// SettlementRequest carries the session-end trigger from the scheduling
// collaborator.
type SettlementRequest struct {
	SessionID       string
	TeacherID       uuid.UUID
	LearnerID       uuid.UUID
	DurationSeconds int64
}

// SettlementStatus describes how a settlement concluded.
type SettlementStatus string

const (
	SettlementSettled  SettlementStatus = "SETTLED"
	SettlementPartial  SettlementStatus = "PARTIAL"
	SettlementDeferred SettlementStatus = "DEFERRED"
	SettlementNoCharge SettlementStatus = "NO_CHARGE"
)

// SettlementResult reports the outcome of a settlement, including the tax leg
// when the bank takes its cut.
type SettlementResult struct {
	SessionID   string                 `json:"session_id"`
	Status      SettlementStatus       `json:"status"`
	GrossAmount int64                  `json:"gross_amount"`
	PaidAmount  int64                  `json:"paid_amount"`
	TaxAmount   int64                  `json:"tax_amount"`
	Deferred    int64                  `json:"deferred_amount"`
	Transfer    *domain.TransferResult `json:"transfer,omitempty"`
	TaxTransfer *domain.TransferResult `json:"tax_transfer,omitempty"`
}

// CollectionResult reports one obligation collection pass.
type CollectionResult struct {
	LearnerID      uuid.UUID           `json:"learner_id"`
	Collected      []domain.Obligation `json:"collected"`
	AmountPaid     int64               `json:"amount_paid"`
	RemainingDebts int                 `json:"remaining_debts"`
	NewBalance     int64               `json:"balance"`
}

// AccountService creates accounts (with their wallets and signup grant) and
// serves the read surface the UI drives.
type AccountService interface {
	Create(ctx context.Context, accountID uuid.UUID, displayName string) (*domain.Account, error)
	Get(ctx context.Context, accountID uuid.UUID) (*domain.Account, error)
	// EnsureBank seeds the bank reserve account and wallet if missing.
	// Called once at startup before any grant can be paid.
	EnsureBank(ctx context.Context) error
}

// WalletService is the read/posting surface over wallets and the ledger.
type WalletService interface {
	GetWallet(ctx context.Context, accountID uuid.UUID) (*domain.Wallet, error)
	GetBankReserve(ctx context.Context) (*domain.Wallet, error)
	History(ctx context.Context, params LedgerListParams) ([]domain.LedgerEntry, int64, error)
	// Post applies a marketplace posting (teach-earn / learn-spend) through
	// the transfer engine. The acceptance flow that triggers it lives
	// upstream.
	Post(ctx context.Context, req TransferRequest) (*domain.TransferResult, error)
}

// Reconciler verifies the ledger invariants in the background: cached balance
// equals the ledger fold for every wallet, and every transfer pair sums to
// zero.
type Reconciler interface {
	Run(ctx context.Context) (*ReconcileReport, error)
}

// ReconcileReport summarizes one reconciliation sweep.
type ReconcileReport struct {
	WalletsChecked      int
	DriftDetected       int
	Repaired            int
	UnbalancedTransfers int
	LedgerSum           int64
}
