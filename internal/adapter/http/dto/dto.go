package dto

// WalletResponse is the response for wallet and bank reserve queries.
type WalletResponse struct {
	AccountID          string  `json:"account_id"`
	Balance            int64   `json:"balance"`
	LastSupportClaimAt *string `json:"last_support_claim_at,omitempty"`
	UpdatedAt          string  `json:"updated_at"`
}

// HistoryQuery holds the ledger history filter, bound from query params.
type HistoryQuery struct {
	Kind     string `form:"kind" binding:"omitempty,entry_kind"`
	From     *int64 `form:"from" binding:"omitempty,gte=0"`
	To       *int64 `form:"to" binding:"omitempty,gte=0"`
	Page     int    `form:"page,default=1" binding:"gte=1"`
	PageSize int    `form:"page_size,default=20" binding:"gte=1,lte=100"`
}

// LedgerEntryResponse is one ledger leg in history output.
type LedgerEntryResponse struct {
	ID             int64   `json:"id"`
	TransferID     string  `json:"transfer_id"`
	CounterpartyID *string `json:"counterparty_id,omitempty"`
	Delta          int64   `json:"delta"`
	Kind           string  `json:"kind"`
	Reference      *string `json:"reference,omitempty"`
	CreatedAt      string  `json:"created_at"`
}

// HistoryResponse wraps a paginated ledger history page.
type HistoryResponse struct {
	Entries  []LedgerEntryResponse `json:"entries"`
	Total    int64                 `json:"total"`
	Page     int                   `json:"page"`
	PageSize int                   `json:"page_size"`
}

// EligibilityResponse is the response for the support eligibility preview.
type EligibilityResponse struct {
	Eligible       bool    `json:"eligible"`
	Amount         int64   `json:"amount"`
	Reason         string  `json:"reason,omitempty"`
	NextEligibleAt *string `json:"next_eligible_at,omitempty"`
}

// ClaimResponse is the response for a successful support claim.
type ClaimResponse struct {
	Amount  int64               `json:"amount"`
	Balance int64               `json:"balance"`
	Entry   LedgerEntryResponse `json:"entry"`
}

// DonateRequest is the request body for donations to the bank reserve.
type DonateRequest struct {
	Amount int64 `json:"amount" binding:"required,gt=0"`
}

// DonateResponse is the response for a committed donation.
type DonateResponse struct {
	Amount  int64               `json:"amount"`
	Balance int64               `json:"balance"`
	Entry   LedgerEntryResponse `json:"entry"`
}

// SettleRequest is the internal request body for session settlement. Sessions
// are capped at 24 hours; anything longer is a caller bug, not a charge.
type SettleRequest struct {
	SessionID       string `json:"session_id" binding:"required,max=100,safe_id"`
	TeacherID       string `json:"teacher_id" binding:"required,uuid"`
	LearnerID       string `json:"learner_id" binding:"required,uuid"`
	DurationSeconds int64  `json:"duration_seconds" binding:"gte=0,lte=86400"`
}

// SettleResponse is the response for a settlement trigger.
type SettleResponse struct {
	SessionID   string `json:"session_id"`
	Status      string `json:"status"`
	GrossAmount int64  `json:"gross_amount"`
	PaidAmount  int64  `json:"paid_amount"`
	TaxAmount   int64  `json:"tax_amount"`
	Deferred    int64  `json:"deferred_amount"`
}

// ObligationResponse is one deferred settlement debt.
type ObligationResponse struct {
	ID        string  `json:"id"`
	SessionID string  `json:"session_id"`
	LearnerID string  `json:"learner_id"`
	TeacherID string  `json:"teacher_id"`
	Amount    int64   `json:"amount"`
	CreatedAt string  `json:"created_at"`
	SettledAt *string `json:"settled_at,omitempty"`
}

// ObligationListResponse wraps a learner's pending obligations.
type ObligationListResponse struct {
	Obligations []ObligationResponse `json:"obligations"`
	TotalOwed   int64                `json:"total_owed"`
}

// CollectObligationsRequest triggers an obligation collection pass.
type CollectObligationsRequest struct {
	LearnerID string `json:"learner_id" binding:"required,uuid"`
}

// CollectObligationsResponse reports what the collection pass paid off.
type CollectObligationsResponse struct {
	LearnerID      string               `json:"learner_id"`
	Collected      []ObligationResponse `json:"collected"`
	AmountPaid     int64                `json:"amount_paid"`
	RemainingDebts int                  `json:"remaining_debts"`
	Balance        int64                `json:"balance"`
}

// PostingRequest is the internal request body for marketplace postings.
type PostingRequest struct {
	From      string  `json:"from" binding:"required,uuid"`
	To        string  `json:"to" binding:"required,uuid"`
	Amount    int64   `json:"amount" binding:"required,gt=0"`
	Kind      string  `json:"kind" binding:"required,entry_kind"`
	Reference *string `json:"reference,omitempty" binding:"omitempty,max=100"`
}

// PostingResponse is the response for a committed posting.
type PostingResponse struct {
	TransferID  string `json:"transfer_id"`
	FromBalance int64  `json:"from_balance"`
	ToBalance   int64  `json:"to_balance"`
}

// CreateAccountRequest is the internal request body for account creation.
type CreateAccountRequest struct {
	AccountID   string `json:"account_id" binding:"required,uuid"`
	DisplayName string `json:"display_name" binding:"required,min=1,max=100"`
}

// AccountResponse is the response for account reads and creation.
type AccountResponse struct {
	AccountID   string `json:"account_id"`
	DisplayName string `json:"display_name"`
	Balance     int64  `json:"balance"`
	CreatedAt   string `json:"created_at"`
}
