package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"timebank/internal/core/domain"
	"timebank/internal/core/ports"
	"timebank/internal/metrics"
	"timebank/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

// TransferEngineImpl implements ports.TransferEngine. It is the only code
// path that mutates wallet balances or appends ledger rows. Both legs of a
// transfer commit in one database transaction; the wallet row locks are taken
// in ascending account-id order so opposite-direction transfers cannot
// deadlock.
type TransferEngineImpl struct {
	walletRepo    ports.WalletRepository
	ledgerRepo    ports.LedgerRepository
	transactor    ports.DBTransactor
	bankUnlimited bool
	log           zerolog.Logger
}

// NewTransferEngine creates a new TransferEngineImpl.
func NewTransferEngine(
	walletRepo ports.WalletRepository,
	ledgerRepo ports.LedgerRepository,
	transactor ports.DBTransactor,
	bankUnlimited bool,
	log zerolog.Logger,
) *TransferEngineImpl {
	return &TransferEngineImpl{
		walletRepo:    walletRepo,
		ledgerRepo:    ledgerRepo,
		transactor:    transactor,
		bankUnlimited: bankUnlimited,
		log:           log,
	}
}

// Transfer runs the two-leg move in its own database transaction.
func (e *TransferEngineImpl) Transfer(ctx context.Context, req ports.TransferRequest) (*domain.TransferResult, error) {
	dbTx, err := e.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.ErrStoreUnavailable(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	result, err := e.TransferInTx(ctx, dbTx, req)
	if err != nil {
		e.countFailure(err)
		return nil, err
	}

	if err := dbTx.Commit(ctx); err != nil {
		e.countFailure(err)
		return nil, apperror.ErrStoreUnavailable(fmt.Errorf("commit tx: %w", err))
	}

	metrics.TransfersTotal.WithLabelValues(string(req.Kind)).Inc()

	e.log.Info().
		Str("transfer_id", result.TransferID.String()).
		Str("from", req.From.String()).
		Str("to", req.To.String()).
		Int64("amount", req.Amount).
		Str("kind", string(req.Kind)).
		Msg("transfer committed")

	return result, nil
}

// TransferInTx applies both legs inside a caller-owned transaction. The
// caller commits or rolls back; on error nothing must be kept.
func (e *TransferEngineImpl) TransferInTx(ctx context.Context, tx pgx.Tx, req ports.TransferRequest) (*domain.TransferResult, error) {
	if req.Amount <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}
	if req.From == req.To {
		return nil, apperror.Validation("transfer source and destination must differ")
	}
	if !req.Kind.Valid() {
		return nil, apperror.Validation(fmt.Sprintf("unknown entry kind %q", req.Kind))
	}

	from, to, err := e.lockPair(ctx, tx, req.From, req.To)
	if err != nil {
		return nil, err
	}

	// Non-negativity is enforced under the row lock; the bank skips it only
	// when configured as an unlimited issuer.
	exempt := domain.IsBank(req.From) && e.bankUnlimited
	if !exempt && !from.CanDebit(req.Amount) {
		return nil, apperror.ErrInsufficientFunds()
	}

	now := time.Now().UTC()
	transferID := uuid.New()
	debit := &domain.LedgerEntry{
		TransferID:     transferID,
		AccountID:      req.From,
		CounterpartyID: &req.To,
		Delta:          -req.Amount,
		Kind:           req.Kind,
		Reference:      req.Reference,
		CreatedAt:      now,
	}
	credit := &domain.LedgerEntry{
		TransferID:     transferID,
		AccountID:      req.To,
		CounterpartyID: &req.From,
		Delta:          req.Amount,
		Kind:           req.Kind,
		Reference:      req.Reference,
		CreatedAt:      now,
	}

	if err := e.ledgerRepo.Append(ctx, tx, debit, credit); err != nil {
		return nil, storeErr("append ledger entries", err)
	}

	fromBalance := from.Balance - req.Amount
	toBalance := to.Balance + req.Amount
	if err := e.walletRepo.UpdateBalance(ctx, tx, req.From, fromBalance); err != nil {
		return nil, storeErr("update source balance", err)
	}
	if err := e.walletRepo.UpdateBalance(ctx, tx, req.To, toBalance); err != nil {
		return nil, storeErr("update destination balance", err)
	}

	return &domain.TransferResult{
		TransferID:  transferID,
		Debit:       debit,
		Credit:      credit,
		FromBalance: fromBalance,
		ToBalance:   toBalance,
	}, nil
}

// lockPair takes both wallet row locks in ascending account-id order.
func (e *TransferEngineImpl) lockPair(ctx context.Context, tx pgx.Tx, fromID, toID uuid.UUID) (from, to *domain.Wallet, err error) {
	first, second := fromID, toID
	if strings.Compare(second.String(), first.String()) < 0 {
		first, second = second, first
	}

	wallets := make(map[uuid.UUID]*domain.Wallet, 2)
	for _, id := range []uuid.UUID{first, second} {
		w, err := e.walletRepo.GetByAccountIDForUpdate(ctx, tx, id)
		if err != nil {
			return nil, nil, storeErr("lock wallet", err)
		}
		if w == nil {
			return nil, nil, apperror.ErrNotFound("wallet").WithDetail("account_id", id.String())
		}
		wallets[id] = w
	}
	return wallets[fromID], wallets[toID], nil
}

func (e *TransferEngineImpl) countFailure(err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		metrics.TransferFailures.WithLabelValues(appErr.Code).Inc()
		return
	}
	metrics.TransferFailures.WithLabelValues("SYS_000").Inc()
}

// storeErr maps a storage failure onto the error taxonomy: serialization and
// deadlock aborts are retryable conflicts, everything else means the ledger
// write could not be trusted.
func storeErr(op string, err error) *apperror.AppError {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return apperror.ErrConcurrentConflict()
		}
	}
	return apperror.ErrStoreUnavailable(fmt.Errorf("%s: %w", op, err))
}
