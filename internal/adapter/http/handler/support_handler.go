package handler

import (
	"time"

	"timebank/internal/adapter/http/dto"
	"timebank/internal/adapter/http/middleware"
	"timebank/internal/core/ports"
	"timebank/pkg/apperror"
	"timebank/pkg/response"

	"github.com/gin-gonic/gin"
)

// SupportHandler handles support grant and donation endpoints.
type SupportHandler struct {
	supportSvc  ports.SupportService
	donationSvc ports.DonationService
}

// NewSupportHandler creates a new SupportHandler.
func NewSupportHandler(supportSvc ports.SupportService, donationSvc ports.DonationService) *SupportHandler {
	return &SupportHandler{
		supportSvc:  supportSvc,
		donationSvc: donationSvc,
	}
}

// Eligibility handles GET /api/v1/support/eligibility.
func (h *SupportHandler) Eligibility(c *gin.Context) {
	accountID, ok := middleware.AccountID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	decision, err := h.supportSvc.Eligibility(c.Request.Context(), accountID)
	if err != nil {
		response.Error(c, err)
		return
	}

	resp := dto.EligibilityResponse{
		Eligible: decision.Eligible,
		Amount:   decision.Amount,
		Reason:   decision.Reason,
	}
	if decision.NextEligibleAt != nil {
		s := decision.NextEligibleAt.UTC().Format(time.RFC3339)
		resp.NextEligibleAt = &s
	}
	response.OK(c, resp)
}

// Claim handles POST /api/v1/support/claim.
func (h *SupportHandler) Claim(c *gin.Context) {
	accountID, ok := middleware.AccountID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	result, err := h.supportSvc.Claim(c.Request.Context(), accountID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.ClaimResponse{
		Amount:  result.Amount,
		Balance: result.NewBalance,
		Entry:   toLedgerEntryResponse(&result.Entry),
	})
}

// Donate handles POST /api/v1/donations.
func (h *SupportHandler) Donate(c *gin.Context) {
	accountID, ok := middleware.AccountID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.DonateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	result, err := h.donationSvc.Donate(c.Request.Context(), accountID, req.Amount)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.DonateResponse{
		Amount:  result.Amount,
		Balance: result.NewBalance,
		Entry:   toLedgerEntryResponse(&result.Entry),
	})
}
