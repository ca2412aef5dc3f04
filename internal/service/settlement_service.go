package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"timebank/config"
	"timebank/internal/core/domain"
	"timebank/internal/core/ports"
	"timebank/internal/metrics"
	"timebank/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

const settlementIdempotencyTTL = 24 * time.Hour

// Rounding modes for duration-to-credit conversion.
const (
	RoundingFloor   = "floor"
	RoundingNearest = "nearest"
)

// SettlementPolicy is the session-charge policy.
type SettlementPolicy struct {
	CreditsPerHour int64
	Rounding       string
	TaxPercent     int64
	AllowPartial   bool
}

// SettlementPolicyFromConfig builds the policy from loaded configuration.
func SettlementPolicyFromConfig(cfg config.SettlementConfig) SettlementPolicy {
	return SettlementPolicy{
		CreditsPerHour: cfg.CreditsPerHour,
		Rounding:       cfg.Rounding,
		TaxPercent:     cfg.TaxPercent,
		AllowPartial:   cfg.AllowPartial,
	}
}

// CalculateCredits converts an elapsed session duration to whole credits.
// Floor mode charges completed hours only, so a session one second under the
// hour charges nothing. Nearest mode rounds half up on the exact credit.
func CalculateCredits(durationSeconds int64, p SettlementPolicy) int64 {
	if durationSeconds <= 0 {
		return 0
	}
	switch p.Rounding {
	case RoundingNearest:
		return (durationSeconds*p.CreditsPerHour + 1800) / 3600
	default:
		return (durationSeconds / 3600) * p.CreditsPerHour
	}
}

// taxCut returns the bank's share of a gross charge, integer truncation.
// Small sessions can come out tax-free, same as any int percentage.
func (p SettlementPolicy) taxCut(gross int64) int64 {
	return gross * p.TaxPercent / 100
}

// SettlementServiceImpl implements ports.SettlementService. One settlement
// per session id: the idempotency record is written in the same transaction
// as the ledger legs, and a replayed trigger gets the first result back.
type SettlementServiceImpl struct {
	walletRepo     ports.WalletRepository
	ledgerRepo     ports.LedgerRepository
	obligationRepo ports.ObligationRepository
	idempRepo      ports.IdempotencyRepository
	idempCache     ports.IdempotencyCache
	engine         ports.TransferEngine
	transactor     ports.DBTransactor
	policy         SettlementPolicy
	log            zerolog.Logger
	now            func() time.Time
}

// NewSettlementService creates a new SettlementServiceImpl.
func NewSettlementService(
	walletRepo ports.WalletRepository,
	ledgerRepo ports.LedgerRepository,
	obligationRepo ports.ObligationRepository,
	idempRepo ports.IdempotencyRepository,
	idempCache ports.IdempotencyCache,
	engine ports.TransferEngine,
	transactor ports.DBTransactor,
	policy SettlementPolicy,
	log zerolog.Logger,
) *SettlementServiceImpl {
	return &SettlementServiceImpl{
		walletRepo:     walletRepo,
		ledgerRepo:     ledgerRepo,
		obligationRepo: obligationRepo,
		idempRepo:      idempRepo,
		idempCache:     idempCache,
		engine:         engine,
		transactor:     transactor,
		policy:         policy,
		log:            log,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Settle applies the learner->teacher charge for an ended session.
func (s *SettlementServiceImpl) Settle(ctx context.Context, req ports.SettlementRequest) (*ports.SettlementResult, error) {
	if req.SessionID == "" {
		return nil, apperror.Validation("session_id is required")
	}
	if req.TeacherID == req.LearnerID {
		return nil, apperror.Validation("teacher and learner must differ")
	}

	idempKey := domain.SettlementIdempotencyKey(req.SessionID)

	// Layer 1: Redis idempotency check
	cached, err := s.idempCache.Get(ctx, idempKey)
	if err != nil {
		s.log.Warn().Err(err).Str("key", idempKey).Msg("redis idempotency check failed, falling through to DB")
	}
	if cached != nil {
		return unmarshalSettlement(cached)
	}

	// Layer 2: DB idempotency check
	rec, err := s.idempRepo.Get(ctx, idempKey)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("db idempotency check: %w", err))
	}
	if rec != nil {
		return unmarshalSettlement(rec.ResponseJSON)
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.ErrStoreUnavailable(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	// Serialize concurrent triggers for the same session on the learner's
	// wallet lock, then re-check idempotency: the loser of the race sees the
	// winner's committed record here. Taking this lock ahead of the engine's
	// ordered lockPair can deadlock against a bank-first transfer; postgres
	// detects it, aborts one side with 40P01, and storeErr turns that into a
	// retryable ConcurrentConflict.
	learner, err := s.walletRepo.GetByAccountIDForUpdate(ctx, dbTx, req.LearnerID)
	if err != nil {
		return nil, storeErr("lock learner wallet", err)
	}
	if learner == nil {
		return nil, apperror.ErrNotFound("learner wallet")
	}
	rec, err = s.idempRepo.Get(ctx, idempKey)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("db idempotency re-check: %w", err))
	}
	if rec != nil {
		return unmarshalSettlement(rec.ResponseJSON)
	}

	result, err := s.settleLocked(ctx, dbTx, req, learner)
	if err != nil {
		return nil, err
	}

	respJSON, err := json.Marshal(result)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("marshal result: %w", err))
	}
	if err := s.idempRepo.Create(ctx, dbTx, &domain.IdempotencyRecord{
		Key:          idempKey,
		ResponseJSON: respJSON,
		CreatedAt:    s.now(),
	}); err != nil {
		return nil, storeErr("save idempotency record", err)
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.ErrStoreUnavailable(fmt.Errorf("commit tx: %w", err))
	}

	if result.Transfer != nil {
		metrics.TransfersTotal.WithLabelValues(string(domain.KindSessionSettlement)).Inc()
	}
	if result.TaxTransfer != nil {
		metrics.TransfersTotal.WithLabelValues(string(domain.KindTax)).Inc()
	}
	if result.Deferred > 0 {
		metrics.SettlementsDeferred.Inc()
	}

	// Post-process: cache in Redis (best-effort)
	if err := s.idempCache.Set(ctx, idempKey, respJSON, settlementIdempotencyTTL); err != nil {
		s.log.Warn().Err(err).Str("key", idempKey).Msg("failed to cache settlement in redis")
	}

	s.log.Info().
		Str("session_id", req.SessionID).
		Str("status", string(result.Status)).
		Int64("gross", result.GrossAmount).
		Int64("paid", result.PaidAmount).
		Int64("tax", result.TaxAmount).
		Int64("deferred", result.Deferred).
		Msg("session settled")

	return result, nil
}

// settleLocked runs the charge with the learner wallet already locked.
func (s *SettlementServiceImpl) settleLocked(ctx context.Context, dbTx pgx.Tx, req ports.SettlementRequest, learner *domain.Wallet) (*ports.SettlementResult, error) {
	gross := CalculateCredits(req.DurationSeconds, s.policy)
	result := &ports.SettlementResult{
		SessionID:   req.SessionID,
		GrossAmount: gross,
	}

	if gross == 0 {
		result.Status = ports.SettlementNoCharge
		return result, nil
	}

	ref := req.SessionID

	// The idempotency record and the ledger legs commit together, so a
	// session with legs but no record means the store was tampered with.
	// Refuse to move credits again.
	prior, err := s.ledgerRepo.GetByReference(ctx, domain.KindSessionSettlement, ref)
	if err != nil {
		return nil, storeErr("check prior settlement", err)
	}
	if prior != nil {
		s.log.Error().Str("session_id", req.SessionID).Msg("settlement legs exist without idempotency record")
		return nil, apperror.ErrConcurrentConflict()
	}
	if learner.Balance >= gross {
		// Fully funded: bank takes its cut, teacher gets the rest.
		tax := s.policy.taxCut(gross)
		net := gross - tax
		if tax > 0 {
			taxRes, err := s.engine.TransferInTx(ctx, dbTx, ports.TransferRequest{
				From:      req.LearnerID,
				To:        domain.BankAccountID,
				Amount:    tax,
				Kind:      domain.KindTax,
				Reference: &ref,
			})
			if err != nil {
				return nil, err
			}
			result.TaxTransfer = taxRes
			result.TaxAmount = tax
		}
		netRes, err := s.engine.TransferInTx(ctx, dbTx, ports.TransferRequest{
			From:      req.LearnerID,
			To:        req.TeacherID,
			Amount:    net,
			Kind:      domain.KindSessionSettlement,
			Reference: &ref,
		})
		if err != nil {
			return nil, err
		}
		result.Transfer = netRes
		result.PaidAmount = gross
		result.Status = ports.SettlementSettled
		return result, nil
	}

	// Shortfall. The obligation row keeps the debt on record; the tax is
	// waived until the session is fully funded.
	available := learner.Balance
	deferred := gross - available

	if s.policy.AllowPartial && available > 0 {
		partialRes, err := s.engine.TransferInTx(ctx, dbTx, ports.TransferRequest{
			From:      req.LearnerID,
			To:        req.TeacherID,
			Amount:    available,
			Kind:      domain.KindSessionSettlement,
			Reference: &ref,
		})
		if err != nil {
			return nil, err
		}
		result.Transfer = partialRes
		result.PaidAmount = available
		result.Status = ports.SettlementPartial
	} else {
		deferred = gross
		result.Status = ports.SettlementDeferred
	}
	result.Deferred = deferred

	if err := s.obligationRepo.Create(ctx, dbTx, &domain.Obligation{
		ID:        uuid.New(),
		SessionID: req.SessionID,
		LearnerID: req.LearnerID,
		TeacherID: req.TeacherID,
		Amount:    deferred,
		CreatedAt: s.now(),
	}); err != nil {
		return nil, storeErr("record obligation", err)
	}

	return result, nil
}

// PendingObligations lists a learner's unsettled debts, oldest first.
func (s *SettlementServiceImpl) PendingObligations(ctx context.Context, learnerID uuid.UUID) ([]domain.Obligation, error) {
	obligations, err := s.obligationRepo.ListPending(ctx, learnerID)
	if err != nil {
		return nil, storeErr("list pending obligations", err)
	}
	return obligations, nil
}

// CollectObligations pays off the learner's pending debts, oldest first, in
// one transaction under the learner's wallet lock. Collection stops at the
// first obligation the balance cannot fully cover, so an old large debt is
// never overtaken by a newer small one. The deferred charge was already
// tax-waived at settlement time and stays tax-free here. As in Settle, the
// learner's lock precedes the engine's ordered lockPair; a deadlock against a
// concurrent transfer aborts with 40P01 and maps to a retryable conflict.
func (s *SettlementServiceImpl) CollectObligations(ctx context.Context, learnerID uuid.UUID) (*ports.CollectionResult, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.ErrStoreUnavailable(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	learner, err := s.walletRepo.GetByAccountIDForUpdate(ctx, dbTx, learnerID)
	if err != nil {
		return nil, storeErr("lock learner wallet", err)
	}
	if learner == nil {
		return nil, apperror.ErrNotFound("learner wallet")
	}

	pending, err := s.obligationRepo.ListPending(ctx, learnerID)
	if err != nil {
		return nil, storeErr("list pending obligations", err)
	}

	result := &ports.CollectionResult{
		LearnerID:  learnerID,
		NewBalance: learner.Balance,
	}
	now := s.now()
	for i, o := range pending {
		if result.NewBalance < o.Amount {
			result.RemainingDebts = len(pending) - i
			break
		}
		ref := o.SessionID
		if _, err := s.engine.TransferInTx(ctx, dbTx, ports.TransferRequest{
			From:      learnerID,
			To:        o.TeacherID,
			Amount:    o.Amount,
			Kind:      domain.KindSessionSettlement,
			Reference: &ref,
		}); err != nil {
			return nil, err
		}
		if err := s.obligationRepo.MarkSettled(ctx, dbTx, o.ID, now); err != nil {
			return nil, storeErr("mark obligation settled", err)
		}
		settled := o
		settled.SettledAt = &now
		result.Collected = append(result.Collected, settled)
		result.AmountPaid += o.Amount
		result.NewBalance -= o.Amount
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.ErrStoreUnavailable(fmt.Errorf("commit tx: %w", err))
	}

	for range result.Collected {
		metrics.TransfersTotal.WithLabelValues(string(domain.KindSessionSettlement)).Inc()
	}

	s.log.Info().
		Str("learner_id", learnerID.String()).
		Int("collected", len(result.Collected)).
		Int64("amount_paid", result.AmountPaid).
		Int("remaining", result.RemainingDebts).
		Msg("obligations collected")

	return result, nil
}

func unmarshalSettlement(data []byte) (*ports.SettlementResult, error) {
	result := &ports.SettlementResult{}
	if err := json.Unmarshal(data, result); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("unmarshal cached settlement: %w", err))
	}
	return result, nil
}
