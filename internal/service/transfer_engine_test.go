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

type engineTestDeps struct {
	engine     *TransferEngineImpl
	walletRepo *mocks.MockWalletRepository
	ledgerRepo *mocks.MockLedgerRepository
	transactor *mocks.MockDBTransactor
	ctrl       *gomock.Controller
}

func setupTransferEngine(t *testing.T, bankUnlimited bool) *engineTestDeps {
	ctrl := gomock.NewController(t)
	d := &engineTestDeps{
		walletRepo: mocks.NewMockWalletRepository(ctrl),
		ledgerRepo: mocks.NewMockLedgerRepository(ctrl),
		transactor: mocks.NewMockDBTransactor(ctrl),
		ctrl:       ctrl,
	}
	d.engine = NewTransferEngine(d.walletRepo, d.ledgerRepo, d.transactor, bankUnlimited, zerolog.Nop())
	return d
}

// mockTx implements pgx.Tx for testing
type mockTx struct{ pgx.Tx }

func (m *mockTx) Rollback(_ context.Context) error { return nil }
func (m *mockTx) Commit(_ context.Context) error   { return nil }

func wallet(id uuid.UUID, balance int64) *domain.Wallet {
	return &domain.Wallet{AccountID: id, Balance: balance}
}

func TestTransferEngine_Transfer_Success(t *testing.T) {
	d := setupTransferEngine(t, false)
	ctx := context.Background()
	tx := &mockTx{}
	fromID := uuid.New()
	toID := uuid.New()

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.walletRepo.EXPECT().GetByAccountIDForUpdate(ctx, tx, fromID).Return(wallet(fromID, 10), nil)
	d.walletRepo.EXPECT().GetByAccountIDForUpdate(ctx, tx, toID).Return(wallet(toID, 3), nil)
	d.ledgerRepo.EXPECT().Append(ctx, tx, gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, entries ...*domain.LedgerEntry) error {
			require.Len(t, entries, 2)
			debit, credit := entries[0], entries[1]
			assert.Equal(t, debit.TransferID, credit.TransferID)
			assert.Equal(t, int64(-4), debit.Delta)
			assert.Equal(t, int64(4), credit.Delta)
			assert.Equal(t, fromID, debit.AccountID)
			assert.Equal(t, toID, credit.AccountID)
			assert.Equal(t, domain.KindLearnSpend, debit.Kind)
			return nil
		})
	d.walletRepo.EXPECT().UpdateBalance(ctx, tx, fromID, int64(6)).Return(nil)
	d.walletRepo.EXPECT().UpdateBalance(ctx, tx, toID, int64(7)).Return(nil)

	result, err := d.engine.Transfer(ctx, ports.TransferRequest{
		From:   fromID,
		To:     toID,
		Amount: 4,
		Kind:   domain.KindLearnSpend,
	})

	require.NoError(t, err)
	assert.Equal(t, int64(6), result.FromBalance)
	assert.Equal(t, int64(7), result.ToBalance)
	assert.Equal(t, result.Debit.TransferID, result.Credit.TransferID)
	assert.Zero(t, result.Debit.Delta+result.Credit.Delta)
}

func TestTransferEngine_Transfer_InvalidAmount(t *testing.T) {
	d := setupTransferEngine(t, false)
	ctx := context.Background()

	d.transactor.EXPECT().Begin(ctx).Return(&mockTx{}, nil)

	_, err := d.engine.Transfer(ctx, ports.TransferRequest{
		From:   uuid.New(),
		To:     uuid.New(),
		Amount: 0,
		Kind:   domain.KindDonation,
	})

	require.Error(t, err)
	appErr, ok := err.(*apperror.AppError)
	require.True(t, ok)
	assert.Equal(t, "LED_001", appErr.Code)
}

func TestTransferEngine_Transfer_SelfTransferRejected(t *testing.T) {
	d := setupTransferEngine(t, false)
	ctx := context.Background()
	id := uuid.New()

	d.transactor.EXPECT().Begin(ctx).Return(&mockTx{}, nil)

	_, err := d.engine.Transfer(ctx, ports.TransferRequest{
		From:   id,
		To:     id,
		Amount: 1,
		Kind:   domain.KindDonation,
	})

	require.Error(t, err)
	appErr, ok := err.(*apperror.AppError)
	require.True(t, ok)
	assert.Equal(t, "LED_001", appErr.Code)
}

func TestTransferEngine_Transfer_UnknownKind(t *testing.T) {
	d := setupTransferEngine(t, false)
	ctx := context.Background()

	d.transactor.EXPECT().Begin(ctx).Return(&mockTx{}, nil)

	_, err := d.engine.Transfer(ctx, ports.TransferRequest{
		From:   uuid.New(),
		To:     uuid.New(),
		Amount: 1,
		Kind:   domain.EntryKind("BOGUS"),
	})

	require.Error(t, err)
}

func TestTransferEngine_Transfer_InsufficientFunds(t *testing.T) {
	d := setupTransferEngine(t, false)
	ctx := context.Background()
	tx := &mockTx{}
	fromID := uuid.New()
	toID := uuid.New()

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.walletRepo.EXPECT().GetByAccountIDForUpdate(ctx, tx, fromID).Return(wallet(fromID, 3), nil)
	d.walletRepo.EXPECT().GetByAccountIDForUpdate(ctx, tx, toID).Return(wallet(toID, 0), nil)

	_, err := d.engine.Transfer(ctx, ports.TransferRequest{
		From:   fromID,
		To:     toID,
		Amount: 5,
		Kind:   domain.KindLearnSpend,
	})

	require.Error(t, err)
	appErr, ok := err.(*apperror.AppError)
	require.True(t, ok)
	assert.Equal(t, "LED_002", appErr.Code)
}

func TestTransferEngine_Transfer_ExactBalanceToZero(t *testing.T) {
	d := setupTransferEngine(t, false)
	ctx := context.Background()
	tx := &mockTx{}
	fromID := uuid.New()
	toID := uuid.New()

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.walletRepo.EXPECT().GetByAccountIDForUpdate(ctx, tx, fromID).Return(wallet(fromID, 5), nil)
	d.walletRepo.EXPECT().GetByAccountIDForUpdate(ctx, tx, toID).Return(wallet(toID, 0), nil)
	d.ledgerRepo.EXPECT().Append(ctx, tx, gomock.Any(), gomock.Any()).Return(nil)
	d.walletRepo.EXPECT().UpdateBalance(ctx, tx, fromID, int64(0)).Return(nil)
	d.walletRepo.EXPECT().UpdateBalance(ctx, tx, toID, int64(5)).Return(nil)

	result, err := d.engine.Transfer(ctx, ports.TransferRequest{
		From:   fromID,
		To:     toID,
		Amount: 5,
		Kind:   domain.KindLearnSpend,
	})

	require.NoError(t, err)
	assert.Equal(t, int64(0), result.FromBalance)
}

func TestTransferEngine_Transfer_BankMayGoNegative(t *testing.T) {
	d := setupTransferEngine(t, true)
	ctx := context.Background()
	tx := &mockTx{}
	toID := uuid.New()

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.walletRepo.EXPECT().GetByAccountIDForUpdate(ctx, tx, domain.BankAccountID).Return(wallet(domain.BankAccountID, 0), nil)
	d.walletRepo.EXPECT().GetByAccountIDForUpdate(ctx, tx, toID).Return(wallet(toID, 0), nil)
	d.ledgerRepo.EXPECT().Append(ctx, tx, gomock.Any(), gomock.Any()).Return(nil)
	d.walletRepo.EXPECT().UpdateBalance(ctx, tx, domain.BankAccountID, int64(-15)).Return(nil)
	d.walletRepo.EXPECT().UpdateBalance(ctx, tx, toID, int64(15)).Return(nil)

	result, err := d.engine.Transfer(ctx, ports.TransferRequest{
		From:   domain.BankAccountID,
		To:     toID,
		Amount: 15,
		Kind:   domain.KindInitialGrant,
	})

	require.NoError(t, err)
	assert.Equal(t, int64(-15), result.FromBalance)
}

func TestTransferEngine_Transfer_BankLimitedEnforced(t *testing.T) {
	d := setupTransferEngine(t, false)
	ctx := context.Background()
	tx := &mockTx{}
	toID := uuid.New()

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.walletRepo.EXPECT().GetByAccountIDForUpdate(ctx, tx, domain.BankAccountID).Return(wallet(domain.BankAccountID, 2), nil)
	d.walletRepo.EXPECT().GetByAccountIDForUpdate(ctx, tx, toID).Return(wallet(toID, 0), nil)

	_, err := d.engine.Transfer(ctx, ports.TransferRequest{
		From:   domain.BankAccountID,
		To:     toID,
		Amount: 5,
		Kind:   domain.KindSupportGrant,
	})

	require.Error(t, err)
	appErr, ok := err.(*apperror.AppError)
	require.True(t, ok)
	assert.Equal(t, "LED_002", appErr.Code)
}

func TestTransferEngine_LockOrdering(t *testing.T) {
	d := setupTransferEngine(t, false)
	ctx := context.Background()
	tx := &mockTx{}

	// lower sorts before higher regardless of transfer direction
	lower := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	higher := uuid.MustParse("99999999-9999-9999-9999-999999999999")

	first := d.walletRepo.EXPECT().GetByAccountIDForUpdate(ctx, tx, lower).Return(wallet(lower, 10), nil)
	d.walletRepo.EXPECT().GetByAccountIDForUpdate(ctx, tx, higher).Return(wallet(higher, 10), nil).After(first)
	d.ledgerRepo.EXPECT().Append(ctx, tx, gomock.Any(), gomock.Any()).Return(nil)
	d.walletRepo.EXPECT().UpdateBalance(ctx, tx, higher, int64(9)).Return(nil)
	d.walletRepo.EXPECT().UpdateBalance(ctx, tx, lower, int64(11)).Return(nil)

	// transfer FROM the higher id: the lower id must still be locked first
	_, err := d.engine.TransferInTx(ctx, tx, ports.TransferRequest{
		From:   higher,
		To:     lower,
		Amount: 1,
		Kind:   domain.KindTeachEarn,
	})
	require.NoError(t, err)
}

func TestTransferEngine_Transfer_WalletNotFound(t *testing.T) {
	d := setupTransferEngine(t, false)
	ctx := context.Background()
	tx := &mockTx{}
	fromID := uuid.New()
	toID := uuid.New()

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.walletRepo.EXPECT().GetByAccountIDForUpdate(ctx, tx, gomock.Any()).Return(nil, nil)

	_, err := d.engine.Transfer(ctx, ports.TransferRequest{
		From:   fromID,
		To:     toID,
		Amount: 1,
		Kind:   domain.KindDonation,
	})

	require.Error(t, err)
	appErr, ok := err.(*apperror.AppError)
	require.True(t, ok)
	assert.Equal(t, "LED_005", appErr.Code)
}

func TestTransferEngine_Transfer_DeadlockMapsToConflict(t *testing.T) {
	// A service that pre-locks its own wallet before calling the engine can
	// deadlock against a bank-first transfer; the aborted side must surface
	// as a retryable conflict, never as a store failure.
	d := setupTransferEngine(t, false)
	ctx := context.Background()
	tx := &mockTx{}

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.walletRepo.EXPECT().GetByAccountIDForUpdate(ctx, tx, gomock.Any()).
		Return(nil, &pgconn.PgError{Code: "40P01"})

	_, err := d.engine.Transfer(ctx, ports.TransferRequest{
		From:   uuid.New(),
		To:     uuid.New(),
		Amount: 1,
		Kind:   domain.KindDonation,
	})

	require.Error(t, err)
	appErr, ok := err.(*apperror.AppError)
	require.True(t, ok)
	assert.Equal(t, "LED_004", appErr.Code)
}

func TestTransferEngine_Transfer_SerializationFailureMapsToConflict(t *testing.T) {
	d := setupTransferEngine(t, false)
	ctx := context.Background()
	tx := &mockTx{}
	fromID := uuid.New()
	toID := uuid.New()

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.walletRepo.EXPECT().GetByAccountIDForUpdate(ctx, tx, gomock.Any()).
		Return(nil, &pgconn.PgError{Code: "40001"})

	_, err := d.engine.Transfer(ctx, ports.TransferRequest{
		From:   fromID,
		To:     toID,
		Amount: 1,
		Kind:   domain.KindDonation,
	})

	require.Error(t, err)
	appErr, ok := err.(*apperror.AppError)
	require.True(t, ok)
	assert.Equal(t, "LED_004", appErr.Code)
}
