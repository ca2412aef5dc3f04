package domain

import (
	"time"

	"github.com/google/uuid"
)

// Wallet holds the cached credit balance for one account. The balance is a
// projection of the ledger: SUM(delta) over the account's entries must equal
// Balance after every committed transfer. Only the transfer engine mutates
// Balance; only the support service mutates LastSupportClaimAt.
type Wallet struct {
	AccountID          uuid.UUID  `json:"account_id"`
	Balance            int64      `json:"balance"`
	LastSupportClaimAt *time.Time `json:"last_support_claim_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// CanDebit reports whether debiting amount would keep the balance
// non-negative. The bank reserve bypasses this when configured as an
// unlimited issuer; that decision lives in the transfer engine.
func (w *Wallet) CanDebit(amount int64) bool {
	return w.Balance-amount >= 0
}
