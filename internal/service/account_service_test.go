package service

import (
	"context"
	"testing"

	"timebank/internal/core/domain"
	"timebank/internal/core/ports"
	"timebank/internal/core/ports/mocks"
	"timebank/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type accountTestDeps struct {
	svc         *AccountServiceImpl
	accountRepo *mocks.MockAccountRepository
	walletRepo  *mocks.MockWalletRepository
	engine      *mocks.MockTransferEngine
	transactor  *mocks.MockDBTransactor
	ctrl        *gomock.Controller
}

func setupAccountService(t *testing.T, initialGrant int64) *accountTestDeps {
	ctrl := gomock.NewController(t)
	d := &accountTestDeps{
		accountRepo: mocks.NewMockAccountRepository(ctrl),
		walletRepo:  mocks.NewMockWalletRepository(ctrl),
		engine:      mocks.NewMockTransferEngine(ctrl),
		transactor:  mocks.NewMockDBTransactor(ctrl),
		ctrl:        ctrl,
	}
	d.svc = NewAccountService(d.accountRepo, d.walletRepo, d.engine, d.transactor, initialGrant, zerolog.Nop())
	return d
}

func TestAccountService_Create_WithSignupGrant(t *testing.T) {
	d := setupAccountService(t, 15)
	ctx := context.Background()
	tx := &mockTx{}
	accountID := uuid.New()

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.accountRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)
	d.walletRepo.EXPECT().Create(ctx, tx, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, w *domain.Wallet) error {
			assert.Equal(t, accountID, w.AccountID)
			assert.Zero(t, w.Balance)
			return nil
		})
	d.engine.EXPECT().TransferInTx(ctx, tx, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, req ports.TransferRequest) (*domain.TransferResult, error) {
			assert.Equal(t, domain.BankAccountID, req.From)
			assert.Equal(t, accountID, req.To)
			assert.Equal(t, int64(15), req.Amount)
			assert.Equal(t, domain.KindInitialGrant, req.Kind)
			return &domain.TransferResult{ToBalance: 15}, nil
		})

	account, err := d.svc.Create(ctx, accountID, "alice")

	require.NoError(t, err)
	assert.Equal(t, accountID, account.ID)
	assert.Equal(t, "alice", account.DisplayName)
}

func TestAccountService_Create_NoGrantWhenDisabled(t *testing.T) {
	d := setupAccountService(t, 0)
	ctx := context.Background()
	tx := &mockTx{}
	accountID := uuid.New()

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.accountRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)
	d.walletRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)
	// no TransferInTx expectation: zero grant must not touch the engine

	_, err := d.svc.Create(ctx, accountID, "bob")

	require.NoError(t, err)
}

func TestAccountService_Create_Duplicate(t *testing.T) {
	d := setupAccountService(t, 15)
	ctx := context.Background()
	tx := &mockTx{}

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.accountRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(&pgconn.PgError{Code: "23505"})

	_, err := d.svc.Create(ctx, uuid.New(), "carol")

	require.Error(t, err)
	appErr, ok := err.(*apperror.AppError)
	require.True(t, ok)
	assert.Equal(t, "LED_006", appErr.Code)
}

func TestAccountService_Create_BankIDReserved(t *testing.T) {
	d := setupAccountService(t, 15)

	_, err := d.svc.Create(context.Background(), domain.BankAccountID, "sneaky")

	require.Error(t, err)
	appErr, ok := err.(*apperror.AppError)
	require.True(t, ok)
	assert.Equal(t, "LED_001", appErr.Code)
}

func TestAccountService_Get_NotFound(t *testing.T) {
	d := setupAccountService(t, 15)
	ctx := context.Background()
	accountID := uuid.New()

	d.accountRepo.EXPECT().GetByID(ctx, accountID).Return(nil, nil)

	_, err := d.svc.Get(ctx, accountID)

	require.Error(t, err)
	appErr, ok := err.(*apperror.AppError)
	require.True(t, ok)
	assert.Equal(t, "LED_005", appErr.Code)
}

func TestAccountService_EnsureBank_AlreadySeeded(t *testing.T) {
	d := setupAccountService(t, 15)
	ctx := context.Background()

	d.walletRepo.EXPECT().GetByAccountID(ctx, domain.BankAccountID).
		Return(wallet(domain.BankAccountID, -40), nil)

	require.NoError(t, d.svc.EnsureBank(ctx))
}

func TestAccountService_EnsureBank_Seeds(t *testing.T) {
	d := setupAccountService(t, 15)
	ctx := context.Background()
	tx := &mockTx{}

	d.walletRepo.EXPECT().GetByAccountID(ctx, domain.BankAccountID).Return(nil, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.accountRepo.EXPECT().Create(ctx, tx, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, a *domain.Account) error {
			assert.Equal(t, domain.BankAccountID, a.ID)
			return nil
		})
	d.walletRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)

	require.NoError(t, d.svc.EnsureBank(ctx))
}

func TestAccountService_EnsureBank_LostSeedRace(t *testing.T) {
	d := setupAccountService(t, 15)
	ctx := context.Background()
	tx := &mockTx{}

	d.walletRepo.EXPECT().GetByAccountID(ctx, domain.BankAccountID).Return(nil, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.accountRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(&pgconn.PgError{Code: "23505"})

	require.NoError(t, d.svc.EnsureBank(ctx))
}
