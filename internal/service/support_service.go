package service

import (
	"context"
	"fmt"
	"time"

	"timebank/internal/core/domain"
	"timebank/internal/core/ports"
	"timebank/internal/metrics"
	"timebank/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SupportServiceImpl implements ports.SupportService. Claims are linearized
// per account by the wallet row lock: eligibility is re-evaluated after the
// lock is held, so of two concurrent claims exactly one observes a stale
// last_support_claim_at and loses.
type SupportServiceImpl struct {
	walletRepo ports.WalletRepository
	engine     ports.TransferEngine
	transactor ports.DBTransactor
	policy     SupportPolicy
	log        zerolog.Logger
	now        func() time.Time
}

// NewSupportService creates a new SupportServiceImpl.
func NewSupportService(
	walletRepo ports.WalletRepository,
	engine ports.TransferEngine,
	transactor ports.DBTransactor,
	policy SupportPolicy,
	log zerolog.Logger,
) *SupportServiceImpl {
	return &SupportServiceImpl{
		walletRepo: walletRepo,
		engine:     engine,
		transactor: transactor,
		policy:     policy,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Eligibility is the read-only preview the UI polls. The answer can go stale
// the moment it is returned; Claim re-checks under the lock.
func (s *SupportServiceImpl) Eligibility(ctx context.Context, accountID uuid.UUID) (*domain.EligibilityDecision, error) {
	wallet, err := s.walletRepo.GetByAccountID(ctx, accountID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get wallet: %w", err))
	}
	if wallet == nil {
		return nil, apperror.ErrNotFound("wallet")
	}

	decision := EvaluateEligibility(wallet, s.now(), s.policy)
	return &decision, nil
}

// Claim issues a support grant from the bank reserve.
//
// The claimant's lock is taken before the engine's ordered lockPair, so a
// concurrent bank-first transfer can deadlock; postgres aborts one side with
// 40P01 and storeErr maps it to a retryable ConcurrentConflict.
func (s *SupportServiceImpl) Claim(ctx context.Context, accountID uuid.UUID) (*ports.ClaimResult, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.ErrStoreUnavailable(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	wallet, err := s.walletRepo.GetByAccountIDForUpdate(ctx, dbTx, accountID)
	if err != nil {
		return nil, storeErr("lock wallet", err)
	}
	if wallet == nil {
		return nil, apperror.ErrNotFound("wallet")
	}

	now := s.now()
	decision := EvaluateEligibility(wallet, now, s.policy)
	if !decision.Eligible {
		return nil, apperror.ErrNotEligible(decision.Reason, decision.NextEligibleAt)
	}

	if err := s.walletRepo.UpdateSupportClaim(ctx, dbTx, accountID, now); err != nil {
		return nil, storeErr("update support claim", err)
	}

	result, err := s.engine.TransferInTx(ctx, dbTx, ports.TransferRequest{
		From:   domain.BankAccountID,
		To:     accountID,
		Amount: decision.Amount,
		Kind:   domain.KindSupportGrant,
	})
	if err != nil {
		return nil, err
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.ErrStoreUnavailable(fmt.Errorf("commit tx: %w", err))
	}

	metrics.TransfersTotal.WithLabelValues(string(domain.KindSupportGrant)).Inc()
	metrics.GrantsIssued.Inc()

	s.log.Info().
		Str("account_id", accountID.String()).
		Int64("amount", decision.Amount).
		Int64("balance", result.ToBalance).
		Msg("support grant claimed")

	return &ports.ClaimResult{
		Amount:     decision.Amount,
		NewBalance: result.ToBalance,
		Entry:      *result.Credit,
	}, nil
}
