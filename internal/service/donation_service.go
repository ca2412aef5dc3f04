package service

import (
	"context"

	"timebank/internal/core/domain"
	"timebank/internal/core/ports"
	"timebank/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DonationServiceImpl implements ports.DonationService.
type DonationServiceImpl struct {
	engine ports.TransferEngine
	log    zerolog.Logger
}

// NewDonationService creates a new DonationServiceImpl.
func NewDonationService(engine ports.TransferEngine, log zerolog.Logger) *DonationServiceImpl {
	return &DonationServiceImpl{engine: engine, log: log}
}

// Donate moves credits from the donor wallet into the bank reserve. No
// cooldown, no cap beyond the donor's available balance; InsufficientFunds
// from the engine is surfaced unchanged.
func (s *DonationServiceImpl) Donate(ctx context.Context, accountID uuid.UUID, amount int64) (*ports.DonationResult, error) {
	if amount <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}

	result, err := s.engine.Transfer(ctx, ports.TransferRequest{
		From:   accountID,
		To:     domain.BankAccountID,
		Amount: amount,
		Kind:   domain.KindDonation,
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("account_id", accountID.String()).
		Int64("amount", amount).
		Int64("balance", result.FromBalance).
		Msg("donation received")

	return &ports.DonationResult{
		Amount:     amount,
		NewBalance: result.FromBalance,
		Entry:      *result.Debit,
	}, nil
}
