package domain

import (
	"time"

	"github.com/google/uuid"
)

// EntryKind classifies a balance-changing event.
type EntryKind string

const (
	KindTeachEarn         EntryKind = "TEACH_EARN"
	KindLearnSpend        EntryKind = "LEARN_SPEND"
	KindSupportGrant      EntryKind = "SUPPORT_GRANT"
	KindDonation          EntryKind = "DONATION"
	KindSessionSettlement EntryKind = "SESSION_SETTLEMENT"
	KindInitialGrant      EntryKind = "INITIAL_GRANT"
	KindTax               EntryKind = "TAX"
)

// Valid reports whether k is a known entry kind.
func (k EntryKind) Valid() bool {
	switch k {
	case KindTeachEarn, KindLearnSpend, KindSupportGrant,
		KindDonation, KindSessionSettlement, KindInitialGrant, KindTax:
		return true
	}
	return false
}

// LedgerEntry is one immutable leg of a transfer. Every transfer appends
// exactly two entries sharing a TransferID: a negative delta on the source
// wallet and a positive delta on the destination wallet. Entries are never
// updated or deleted; the bigserial ID gives a total order for auditing.
type LedgerEntry struct {
	ID             int64      `json:"id"`
	TransferID     uuid.UUID  `json:"transfer_id"`
	AccountID      uuid.UUID  `json:"account_id"`
	CounterpartyID *uuid.UUID `json:"counterparty_id,omitempty"`
	Delta          int64      `json:"delta"` // positive = credit, negative = debit
	Kind           EntryKind  `json:"kind"`
	Reference      *string    `json:"reference,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// TransferResult reports a committed transfer: the two ledger legs plus the
// post-commit balances of both wallets.
type TransferResult struct {
	TransferID  uuid.UUID    `json:"transfer_id"`
	Debit       *LedgerEntry `json:"debit"`
	Credit      *LedgerEntry `json:"credit"`
	FromBalance int64        `json:"from_balance"`
	ToBalance   int64        `json:"to_balance"`
}
