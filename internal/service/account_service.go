package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"timebank/internal/core/domain"
	"timebank/internal/core/ports"
	"timebank/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

// AccountServiceImpl implements ports.AccountService. Account creation seeds
// the wallet and pays the signup grant in one transaction, so no account ever
// exists without a wallet and no wallet ever starts unfunded.
type AccountServiceImpl struct {
	accountRepo  ports.AccountRepository
	walletRepo   ports.WalletRepository
	engine       ports.TransferEngine
	transactor   ports.DBTransactor
	initialGrant int64
	log          zerolog.Logger
	now          func() time.Time
}

// NewAccountService creates a new AccountServiceImpl.
func NewAccountService(
	accountRepo ports.AccountRepository,
	walletRepo ports.WalletRepository,
	engine ports.TransferEngine,
	transactor ports.DBTransactor,
	initialGrant int64,
	log zerolog.Logger,
) *AccountServiceImpl {
	return &AccountServiceImpl{
		accountRepo:  accountRepo,
		walletRepo:   walletRepo,
		engine:       engine,
		transactor:   transactor,
		initialGrant: initialGrant,
		log:          log,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Create registers an account, opens its wallet and pays the signup grant.
func (s *AccountServiceImpl) Create(ctx context.Context, accountID uuid.UUID, displayName string) (*domain.Account, error) {
	if accountID == uuid.Nil {
		return nil, apperror.Validation("account_id is required")
	}
	if domain.IsBank(accountID) {
		return nil, apperror.Validation("account_id is reserved")
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.ErrStoreUnavailable(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	now := s.now()
	account := &domain.Account{
		ID:          accountID,
		DisplayName: displayName,
		CreatedAt:   now,
	}
	if err := s.accountRepo.Create(ctx, dbTx, account); err != nil {
		if isUniqueViolation(err) {
			return nil, apperror.ErrDuplicateAccount()
		}
		return nil, storeErr("create account", err)
	}

	wallet := &domain.Wallet{
		AccountID: accountID,
		Balance:   0,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.walletRepo.Create(ctx, dbTx, wallet); err != nil {
		return nil, storeErr("create wallet", err)
	}

	// The signup grant is a ledgered transfer from the bank, not a raw
	// balance write: the new wallet's history starts with its funding entry.
	if s.initialGrant > 0 {
		ref := "signup:" + accountID.String()
		if _, err := s.engine.TransferInTx(ctx, dbTx, ports.TransferRequest{
			From:      domain.BankAccountID,
			To:        accountID,
			Amount:    s.initialGrant,
			Kind:      domain.KindInitialGrant,
			Reference: &ref,
		}); err != nil {
			return nil, err
		}
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.ErrStoreUnavailable(fmt.Errorf("commit tx: %w", err))
	}

	s.log.Info().
		Str("account_id", accountID.String()).
		Int64("initial_grant", s.initialGrant).
		Msg("account created")

	return account, nil
}

// Get loads one account by id.
func (s *AccountServiceImpl) Get(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	account, err := s.accountRepo.GetByID(ctx, accountID)
	if err != nil {
		return nil, storeErr("get account", err)
	}
	if account == nil {
		return nil, apperror.ErrNotFound("account")
	}
	return account, nil
}

// EnsureBank seeds the bank reserve account and wallet if missing. Runs once
// at startup; racing instances lose on the primary key and carry on.
func (s *AccountServiceImpl) EnsureBank(ctx context.Context) error {
	existing, err := s.walletRepo.GetByAccountID(ctx, domain.BankAccountID)
	if err != nil {
		return storeErr("check bank wallet", err)
	}
	if existing != nil {
		return nil
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return apperror.ErrStoreUnavailable(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	now := s.now()
	if err := s.accountRepo.Create(ctx, dbTx, &domain.Account{
		ID:          domain.BankAccountID,
		DisplayName: "Bank Reserve",
		CreatedAt:   now,
	}); err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return storeErr("create bank account", err)
	}
	if err := s.walletRepo.Create(ctx, dbTx, &domain.Wallet{
		AccountID: domain.BankAccountID,
		Balance:   0,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return storeErr("create bank wallet", err)
	}

	if err := dbTx.Commit(ctx); err != nil {
		return apperror.ErrStoreUnavailable(fmt.Errorf("commit tx: %w", err))
	}

	s.log.Info().Str("account_id", domain.BankAccountID.String()).Msg("bank reserve seeded")
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
