package service

import (
	"context"

	"timebank/internal/core/domain"
	"timebank/internal/core/ports"
	"timebank/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// WalletServiceImpl implements ports.WalletService: the read surface over
// wallets and the ledger, plus marketplace postings routed through the
// transfer engine.
type WalletServiceImpl struct {
	walletRepo ports.WalletRepository
	ledgerRepo ports.LedgerRepository
	engine     ports.TransferEngine
	log        zerolog.Logger
}

// NewWalletService creates a new WalletServiceImpl.
func NewWalletService(
	walletRepo ports.WalletRepository,
	ledgerRepo ports.LedgerRepository,
	engine ports.TransferEngine,
	log zerolog.Logger,
) *WalletServiceImpl {
	return &WalletServiceImpl{
		walletRepo: walletRepo,
		ledgerRepo: ledgerRepo,
		engine:     engine,
		log:        log,
	}
}

// GetWallet loads one wallet by account id.
func (s *WalletServiceImpl) GetWallet(ctx context.Context, accountID uuid.UUID) (*domain.Wallet, error) {
	wallet, err := s.walletRepo.GetByAccountID(ctx, accountID)
	if err != nil {
		return nil, storeErr("get wallet", err)
	}
	if wallet == nil {
		return nil, apperror.ErrNotFound("wallet")
	}
	return wallet, nil
}

// GetBankReserve reads the bank reserve wallet.
func (s *WalletServiceImpl) GetBankReserve(ctx context.Context) (*domain.Wallet, error) {
	return s.GetWallet(ctx, domain.BankAccountID)
}

// History lists ledger entries for one account, newest first.
func (s *WalletServiceImpl) History(ctx context.Context, params ports.LedgerListParams) ([]domain.LedgerEntry, int64, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 || params.PageSize > 100 {
		params.PageSize = 20
	}
	entries, total, err := s.ledgerRepo.ListByAccount(ctx, params)
	if err != nil {
		return nil, 0, storeErr("list ledger entries", err)
	}
	return entries, total, nil
}

// Post applies a marketplace posting through the transfer engine.
func (s *WalletServiceImpl) Post(ctx context.Context, req ports.TransferRequest) (*domain.TransferResult, error) {
	switch req.Kind {
	case domain.KindTeachEarn, domain.KindLearnSpend:
	default:
		return nil, apperror.Validation("posting kind must be TEACH_EARN or LEARN_SPEND")
	}
	return s.engine.Transfer(ctx, req)
}
