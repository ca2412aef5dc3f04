package handler

import (
	"time"

	"timebank/internal/adapter/http/dto"
	"timebank/internal/core/domain"
	"timebank/internal/core/ports"
	"timebank/pkg/apperror"
	"timebank/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// SettlementHandler handles the internal service-to-service surface: session
// settlement triggers and marketplace postings.
type SettlementHandler struct {
	settlementSvc ports.SettlementService
	walletSvc     ports.WalletService
}

// NewSettlementHandler creates a new SettlementHandler.
func NewSettlementHandler(settlementSvc ports.SettlementService, walletSvc ports.WalletService) *SettlementHandler {
	return &SettlementHandler{
		settlementSvc: settlementSvc,
		walletSvc:     walletSvc,
	}
}

// Settle handles POST /internal/v1/settlements. Replaying a session id
// returns the first outcome, so the scheduling collaborator can retry freely.
func (h *SettlementHandler) Settle(c *gin.Context) {
	var req dto.SettleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	teacherID, _ := uuid.Parse(req.TeacherID)
	learnerID, _ := uuid.Parse(req.LearnerID)

	result, err := h.settlementSvc.Settle(c.Request.Context(), ports.SettlementRequest{
		SessionID:       req.SessionID,
		TeacherID:       teacherID,
		LearnerID:       learnerID,
		DurationSeconds: req.DurationSeconds,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.SettleResponse{
		SessionID:   result.SessionID,
		Status:      string(result.Status),
		GrossAmount: result.GrossAmount,
		PaidAmount:  result.PaidAmount,
		TaxAmount:   result.TaxAmount,
		Deferred:    result.Deferred,
	})
}

// Obligations handles GET /internal/v1/obligations. The learner_id query
// param selects whose pending debts to list.
func (h *SettlementHandler) Obligations(c *gin.Context) {
	learnerID, err := uuid.Parse(c.Query("learner_id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid learner_id"))
		return
	}

	obligations, err := h.settlementSvc.PendingObligations(c.Request.Context(), learnerID)
	if err != nil {
		response.Error(c, err)
		return
	}

	resp := dto.ObligationListResponse{Obligations: []dto.ObligationResponse{}}
	for _, o := range obligations {
		resp.Obligations = append(resp.Obligations, obligationResponse(o))
		resp.TotalOwed += o.Amount
	}
	response.OK(c, resp)
}

// CollectObligations handles POST /internal/v1/obligations/collect.
func (h *SettlementHandler) CollectObligations(c *gin.Context) {
	var req dto.CollectObligationsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	learnerID, _ := uuid.Parse(req.LearnerID)

	result, err := h.settlementSvc.CollectObligations(c.Request.Context(), learnerID)
	if err != nil {
		response.Error(c, err)
		return
	}

	resp := dto.CollectObligationsResponse{
		LearnerID:      result.LearnerID.String(),
		Collected:      []dto.ObligationResponse{},
		AmountPaid:     result.AmountPaid,
		RemainingDebts: result.RemainingDebts,
		Balance:        result.NewBalance,
	}
	for _, o := range result.Collected {
		resp.Collected = append(resp.Collected, obligationResponse(o))
	}
	response.OK(c, resp)
}

func obligationResponse(o domain.Obligation) dto.ObligationResponse {
	resp := dto.ObligationResponse{
		ID:        o.ID.String(),
		SessionID: o.SessionID,
		LearnerID: o.LearnerID.String(),
		TeacherID: o.TeacherID.String(),
		Amount:    o.Amount,
		CreatedAt: o.CreatedAt.UTC().Format(time.RFC3339),
	}
	if o.SettledAt != nil {
		s := o.SettledAt.UTC().Format(time.RFC3339)
		resp.SettledAt = &s
	}
	return resp
}

// Posting handles POST /internal/v1/postings.
func (h *SettlementHandler) Posting(c *gin.Context) {
	var req dto.PostingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	from, _ := uuid.Parse(req.From)
	to, _ := uuid.Parse(req.To)

	result, err := h.walletSvc.Post(c.Request.Context(), ports.TransferRequest{
		From:      from,
		To:        to,
		Amount:    req.Amount,
		Kind:      domain.EntryKind(req.Kind),
		Reference: req.Reference,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.PostingResponse{
		TransferID:  result.TransferID.String(),
		FromBalance: result.FromBalance,
		ToBalance:   result.ToBalance,
	})
}
