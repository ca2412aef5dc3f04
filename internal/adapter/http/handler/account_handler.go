package handler

import (
	"time"

	"timebank/internal/adapter/http/dto"
	"timebank/internal/core/ports"
	"timebank/pkg/apperror"
	"timebank/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AccountHandler provisions ledger accounts for the identity collaborator.
type AccountHandler struct {
	accountSvc ports.AccountService
	walletSvc  ports.WalletService
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(accountSvc ports.AccountService, walletSvc ports.WalletService) *AccountHandler {
	return &AccountHandler{
		accountSvc: accountSvc,
		walletSvc:  walletSvc,
	}
}

// Create handles POST /internal/v1/accounts. The account id comes from the
// identity system; provisioning also opens the wallet and issues the signup
// grant in one transaction.
func (h *AccountHandler) Create(c *gin.Context) {
	var req dto.CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	accountID, _ := uuid.Parse(req.AccountID)

	account, err := h.accountSvc.Create(c.Request.Context(), accountID, req.DisplayName)
	if err != nil {
		response.Error(c, err)
		return
	}

	wallet, err := h.walletSvc.GetWallet(c.Request.Context(), account.ID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.AccountResponse{
		AccountID:   account.ID.String(),
		DisplayName: account.DisplayName,
		Balance:     wallet.Balance,
		CreatedAt:   account.CreatedAt.UTC().Format(time.RFC3339),
	})
}

// Get handles GET /internal/v1/accounts/:id.
func (h *AccountHandler) Get(c *gin.Context) {
	accountID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid account id"))
		return
	}

	account, err := h.accountSvc.Get(c.Request.Context(), accountID)
	if err != nil {
		response.Error(c, err)
		return
	}

	wallet, err := h.walletSvc.GetWallet(c.Request.Context(), accountID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.AccountResponse{
		AccountID:   account.ID.String(),
		DisplayName: account.DisplayName,
		Balance:     wallet.Balance,
		CreatedAt:   account.CreatedAt.UTC().Format(time.RFC3339),
	})
}
