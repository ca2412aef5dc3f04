package service

import (
	"context"
	"fmt"

	"timebank/internal/core/ports"
	"timebank/internal/metrics"
	"timebank/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ReconcilerImpl implements ports.Reconciler. It sweeps every wallet and
// compares the cached balance against the ledger fold, then checks the whole
// ledger sums to zero. Drift means a bug or manual tampering; with repair
// enabled the cached balance is rewritten from the fold under the row lock.
type ReconcilerImpl struct {
	walletRepo ports.WalletRepository
	ledgerRepo ports.LedgerRepository
	transactor ports.DBTransactor
	repair     bool
	log        zerolog.Logger
}

// NewReconciler creates a new ReconcilerImpl.
func NewReconciler(
	walletRepo ports.WalletRepository,
	ledgerRepo ports.LedgerRepository,
	transactor ports.DBTransactor,
	repair bool,
	log zerolog.Logger,
) *ReconcilerImpl {
	return &ReconcilerImpl{
		walletRepo: walletRepo,
		ledgerRepo: ledgerRepo,
		transactor: transactor,
		repair:     repair,
		log:        log,
	}
}

// Run executes one reconciliation sweep.
func (r *ReconcilerImpl) Run(ctx context.Context) (*ports.ReconcileReport, error) {
	metrics.ReconcileRuns.Inc()

	ids, err := r.walletRepo.ListAccountIDs(ctx)
	if err != nil {
		return nil, storeErr("list wallet accounts", err)
	}

	report := &ports.ReconcileReport{}
	for _, id := range ids {
		drifted, err := r.checkWallet(ctx, id)
		if err != nil {
			return report, err
		}
		report.WalletsChecked++
		if !drifted {
			continue
		}
		report.DriftDetected++
		metrics.ReconcileDrift.Inc()
		if r.repair {
			if err := r.repairWallet(ctx, id); err != nil {
				return report, err
			}
			report.Repaired++
		}
	}

	// Conservation checks. A broken pair cannot happen when both legs commit
	// together; log loudly rather than guess at a repair.
	broken, err := r.ledgerRepo.ListUnbalancedTransfers(ctx)
	if err != nil {
		return report, storeErr("list unbalanced transfers", err)
	}
	report.UnbalancedTransfers = len(broken)
	for _, transferID := range broken {
		residual, err := r.ledgerRepo.SumByTransfer(ctx, transferID)
		if err != nil {
			return report, storeErr("sum transfer", err)
		}
		r.log.Error().
			Str("transfer_id", transferID.String()).
			Int64("residual", residual).
			Msg("transfer legs do not sum to zero")
		metrics.ReconcileDrift.Inc()
	}

	total, err := r.ledgerRepo.SumAll(ctx)
	if err != nil {
		return report, storeErr("sum ledger", err)
	}
	report.LedgerSum = total
	if total != 0 {
		r.log.Error().Int64("ledger_sum", total).Msg("ledger does not sum to zero")
		metrics.ReconcileDrift.Inc()
	}

	r.log.Info().
		Int("wallets_checked", report.WalletsChecked).
		Int("drift_detected", report.DriftDetected).
		Int("repaired", report.Repaired).
		Int("unbalanced_transfers", report.UnbalancedTransfers).
		Msg("reconciliation sweep finished")

	return report, nil
}

// checkWallet reports whether one wallet's cached balance drifted from its
// ledger fold.
func (r *ReconcilerImpl) checkWallet(ctx context.Context, accountID uuid.UUID) (bool, error) {
	wallet, err := r.walletRepo.GetByAccountID(ctx, accountID)
	if err != nil {
		return false, storeErr("get wallet", err)
	}
	if wallet == nil {
		return false, apperror.ErrNotFound("wallet").WithDetail("account_id", accountID.String())
	}
	fold, err := r.ledgerRepo.FoldBalance(ctx, accountID)
	if err != nil {
		return false, storeErr("fold ledger balance", err)
	}
	if fold == wallet.Balance {
		return false, nil
	}
	r.log.Warn().
		Str("account_id", accountID.String()).
		Int64("cached", wallet.Balance).
		Int64("ledger", fold).
		Msg("wallet balance drift detected")
	return true, nil
}

// repairWallet rewrites the cached balance from the ledger fold. The fold is
// recomputed under the row lock so a transfer racing the sweep cannot be
// clobbered.
func (r *ReconcilerImpl) repairWallet(ctx context.Context, accountID uuid.UUID) error {
	dbTx, err := r.transactor.Begin(ctx)
	if err != nil {
		return apperror.ErrStoreUnavailable(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if _, err := r.walletRepo.GetByAccountIDForUpdate(ctx, dbTx, accountID); err != nil {
		return storeErr("lock wallet", err)
	}
	fold, err := r.ledgerRepo.FoldBalance(ctx, accountID)
	if err != nil {
		return storeErr("fold ledger balance", err)
	}
	if err := r.walletRepo.UpdateBalance(ctx, dbTx, accountID, fold); err != nil {
		return storeErr("repair wallet balance", err)
	}
	if err := dbTx.Commit(ctx); err != nil {
		return apperror.ErrStoreUnavailable(fmt.Errorf("commit tx: %w", err))
	}

	r.log.Info().Str("account_id", accountID.String()).Int64("balance", fold).Msg("wallet balance repaired")
	return nil
}
