package handler

import (
	"time"

	"timebank/internal/adapter/http/dto"
	"timebank/internal/adapter/http/middleware"
	"timebank/internal/core/domain"
	"timebank/internal/core/ports"
	"timebank/pkg/apperror"
	"timebank/pkg/response"

	"github.com/gin-gonic/gin"
)

// WalletHandler handles wallet and ledger history endpoints.
type WalletHandler struct {
	walletSvc ports.WalletService
}

// NewWalletHandler creates a new WalletHandler.
func NewWalletHandler(walletSvc ports.WalletService) *WalletHandler {
	return &WalletHandler{walletSvc: walletSvc}
}

// GetWallet handles GET /api/v1/wallet.
func (h *WalletHandler) GetWallet(c *gin.Context) {
	accountID, ok := middleware.AccountID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	wallet, err := h.walletSvc.GetWallet(c.Request.Context(), accountID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, toWalletResponse(wallet))
}

// History handles GET /api/v1/wallet/history.
func (h *WalletHandler) History(c *gin.Context) {
	accountID, ok := middleware.AccountID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var q dto.HistoryQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	params := ports.LedgerListParams{
		AccountID: accountID,
		From:      q.From,
		To:        q.To,
		Page:      q.Page,
		PageSize:  q.PageSize,
	}
	if q.Kind != "" {
		kind := domain.EntryKind(q.Kind)
		params.Kind = &kind
	}

	entries, total, err := h.walletSvc.History(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}

	out := make([]dto.LedgerEntryResponse, 0, len(entries))
	for i := range entries {
		out = append(out, toLedgerEntryResponse(&entries[i]))
	}
	response.OK(c, dto.HistoryResponse{
		Entries:  out,
		Total:    total,
		Page:     params.Page,
		PageSize: params.PageSize,
	})
}

// GetBank handles GET /api/v1/bank.
func (h *WalletHandler) GetBank(c *gin.Context) {
	wallet, err := h.walletSvc.GetBankReserve(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toWalletResponse(wallet))
}

func toWalletResponse(w *domain.Wallet) dto.WalletResponse {
	resp := dto.WalletResponse{
		AccountID: w.AccountID.String(),
		Balance:   w.Balance,
		UpdatedAt: w.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if w.LastSupportClaimAt != nil {
		s := w.LastSupportClaimAt.UTC().Format(time.RFC3339)
		resp.LastSupportClaimAt = &s
	}
	return resp
}

func toLedgerEntryResponse(e *domain.LedgerEntry) dto.LedgerEntryResponse {
	resp := dto.LedgerEntryResponse{
		ID:         e.ID,
		TransferID: e.TransferID.String(),
		Delta:      e.Delta,
		Kind:       string(e.Kind),
		Reference:  e.Reference,
		CreatedAt:  e.CreatedAt.UTC().Format(time.RFC3339),
	}
	if e.CounterpartyID != nil {
		s := e.CounterpartyID.String()
		resp.CounterpartyID = &s
	}
	return resp
}
