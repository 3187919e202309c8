package service

import (
	"context"
	"errors"
	"testing"

	"wallet-ledger/internal/adapter/metrics"
	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/internal/core/ports/mocks"
	"wallet-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type payoutTestDeps struct {
	svc        *PayoutServiceImpl
	walletRepo *mocks.MockWalletRepository
	txRepo     *mocks.MockTransactionRepository
	transactor *mocks.MockDBTransactor
	locker     *mocks.MockLocker
	gateway    *mocks.MockPaymentGateway
	refCache   *mocks.MockReferenceCache
	ctrl       *gomock.Controller
}

func setupPayoutService(t *testing.T) *payoutTestDeps {
	ctrl := gomock.NewController(t)
	d := &payoutTestDeps{
		walletRepo: mocks.NewMockWalletRepository(ctrl),
		txRepo:     mocks.NewMockTransactionRepository(ctrl),
		transactor: mocks.NewMockDBTransactor(ctrl),
		locker:     mocks.NewMockLocker(ctrl),
		gateway:    mocks.NewMockPaymentGateway(ctrl),
		refCache:   mocks.NewMockReferenceCache(ctrl),
		ctrl:       ctrl,
	}
	d.svc = NewPayoutService(
		d.walletRepo, d.txRepo, d.transactor, d.locker, d.gateway, d.refCache,
		metrics.Noop{}, DefaultLockPolicy().Payout, zerolog.Nop(),
	)
	d.svc.now = fixedNow
	return d
}

func payoutRequest(userID uuid.UUID, amount int64) ports.PayoutRequest {
	return ports.PayoutRequest{
		UserID:        userID,
		BankCode:      "058",
		AccountNumber: "0123456789",
		Amount:        amount,
		Reason:        "rent",
		Reference:     "ext-1",
	}
}

// expectPayoutPrelude wires everything up to and including the PENDING debit.
func expectPayoutPrelude(d *payoutTestDeps, wallet *domain.Wallet, tx *mockTx) {
	d.walletRepo.EXPECT().GetByUser(gomock.Any(), wallet.UserID, domain.CurrencyNGN).Return(wallet, nil)
	d.refCache.EXPECT().Seen(gomock.Any(), "ext-1").Return(false, nil)
	runLocked(d.locker, refKeys("ext-1", wallet), DefaultLockPolicy().Payout)
	d.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil)
	d.txRepo.EXPECT().ExistsByReference(gomock.Any(), tx, "ext-1").Return(false, nil)
	d.walletRepo.EXPECT().GetByIDForUpdate(gomock.Any(), tx, wallet.ID).Return(wallet, nil)
	d.txRepo.EXPECT().Create(gomock.Any(), tx, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ pgx.Tx, txn *domain.Transaction) error {
			if txn.Status != domain.TransactionStatusPending || txn.Type != domain.TransactionTypeDebit {
				return errors.New("payout entry must start as a PENDING DEBIT")
			}
			return nil
		})
}

func TestPayoutService_InitiatePayout_Accepted(t *testing.T) {
	d := setupPayoutService(t)
	userID := uuid.New()
	wallet := testWallet(userID, 10000)
	tx := &mockTx{}

	expectPayoutPrelude(d, wallet, tx)
	d.walletRepo.EXPECT().UpdateBalance(gomock.Any(), tx, wallet.ID, int64(7000)).Return(nil)
	d.gateway.EXPECT().InitiateTransfer(gomock.Any(), ports.TransferInstruction{
		BankCode: "058", AccountNumber: "0123456789", Amount: 3000, Reason: "rent", Reference: "ext-1",
	}).Return(&ports.TransferResult{
		Accepted: true, Status: "pending", TransferCode: "TRF_1", RecipientCode: "RCP_1",
	}, nil)
	d.txRepo.EXPECT().Update(gomock.Any(), tx, gomock.Any()).Return(nil)
	d.refCache.EXPECT().Remember(gomock.Any(), "ext-1").Return(nil)

	txn, err := d.svc.InitiatePayout(context.Background(), payoutRequest(userID, 3000))
	require.NoError(t, err)
	assert.True(t, tx.committed)
	assert.Equal(t, domain.TransactionStatusPending, txn.Status)
	assert.Equal(t, "TRF_1", txn.Metadata.Provider.TransferCode)
	assert.Equal(t, "RCP_1", txn.Metadata.Provider.RecipientCode)
	assert.Equal(t, "058", txn.Metadata.Counterparty.BankCode)
	assert.Equal(t, "rent", txn.Metadata.Reason)
	assert.Equal(t, domain.ActionPayout, txn.Metadata.Action)
}

func TestPayoutService_InitiatePayout_GatewayErrorRollsBack(t *testing.T) {
	d := setupPayoutService(t)
	userID := uuid.New()
	wallet := testWallet(userID, 10000)
	tx := &mockTx{}

	expectPayoutPrelude(d, wallet, tx)
	d.walletRepo.EXPECT().UpdateBalance(gomock.Any(), tx, wallet.ID, int64(7000)).Return(nil)
	d.gateway.EXPECT().InitiateTransfer(gomock.Any(), gomock.Any()).Return(nil, errors.New("dial tcp: timeout"))
	d.txRepo.EXPECT().Create(gomock.Any(), gomock.Nil(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ pgx.Tx, txn *domain.Transaction) error {
			assert.Equal(t, domain.TransactionStatusFailed, txn.Status)
			assert.Equal(t, domain.TransactionTypeDebit, txn.Type)
			return nil
		})

	_, err := d.svc.InitiatePayout(context.Background(), payoutRequest(userID, 3000))
	assertAppError(t, err, apperror.CodeUpstream)
	assert.True(t, apperror.Attempted(err))
	assert.False(t, tx.committed)
	assert.True(t, tx.rolledBack)
}

func TestPayoutService_InitiatePayout_DeclinedIsCompensated(t *testing.T) {
	d := setupPayoutService(t)
	userID := uuid.New()
	wallet := testWallet(userID, 10000)
	tx := &mockTx{}

	expectPayoutPrelude(d, wallet, tx)
	gomock.InOrder(
		d.walletRepo.EXPECT().UpdateBalance(gomock.Any(), tx, wallet.ID, int64(7000)).Return(nil),
		d.walletRepo.EXPECT().UpdateBalance(gomock.Any(), tx, wallet.ID, int64(10000)).Return(nil),
	)
	d.gateway.EXPECT().InitiateTransfer(gomock.Any(), gomock.Any()).
		Return(&ports.TransferResult{Accepted: false, Message: "Insufficient provider balance"}, nil)
	d.txRepo.EXPECT().Update(gomock.Any(), tx, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ pgx.Tx, txn *domain.Transaction) error {
			assert.Equal(t, domain.TransactionStatusFailed, txn.Status)
			assert.Equal(t, "Insufficient provider balance", txn.Metadata.Provider.FailureReason)
			assert.NotNil(t, txn.Metadata.Provider.RefundedAt)
			return nil
		})
	d.refCache.EXPECT().Remember(gomock.Any(), "ext-1").Return(nil)
	// No transaction-less audit entry: the FAILED entry was committed.

	_, err := d.svc.InitiatePayout(context.Background(), payoutRequest(userID, 3000))
	assertAppError(t, err, apperror.CodeUpstream)
	assert.True(t, tx.committed)
}

func TestPayoutService_InitiatePayout_Validation(t *testing.T) {
	d := setupPayoutService(t)

	_, err := d.svc.InitiatePayout(context.Background(), ports.PayoutRequest{UserID: uuid.New(), Amount: 0})
	assertAppError(t, err, apperror.CodeValidation)

	_, err = d.svc.InitiatePayout(context.Background(), ports.PayoutRequest{UserID: uuid.New(), Amount: 100, BankCode: " "})
	assertAppError(t, err, apperror.CodeValidation)
}

func TestPayoutService_InitiatePayout_InsufficientPrecheck(t *testing.T) {
	d := setupPayoutService(t)
	userID := uuid.New()

	d.walletRepo.EXPECT().GetByUser(gomock.Any(), userID, domain.CurrencyNGN).Return(testWallet(userID, 100), nil)

	_, err := d.svc.InitiatePayout(context.Background(), payoutRequest(userID, 3000))
	assertAppError(t, err, apperror.CodeInsufficientFunds)
}

func TestPayoutService_InitiatePayout_GeneratesReference(t *testing.T) {
	d := setupPayoutService(t)
	userID := uuid.New()
	req := payoutRequest(userID, 3000)
	req.Reference = ""

	d.walletRepo.EXPECT().GetByUser(gomock.Any(), userID, domain.CurrencyNGN).Return(testWallet(userID, 10000), nil)
	d.refCache.EXPECT().Seen(gomock.Any(), "ext-1741356300000-"+userID.String()).Return(true, nil)

	_, err := d.svc.InitiatePayout(context.Background(), req)
	assertAppError(t, err, apperror.CodeConflict)
}

func TestPayoutService_ListBanks(t *testing.T) {
	d := setupPayoutService(t)

	d.gateway.EXPECT().ListBanks(gomock.Any()).Return([]ports.Bank{{Name: "GTBank", Code: "058"}}, nil)
	banks, err := d.svc.ListBanks(context.Background())
	require.NoError(t, err)
	assert.Len(t, banks, 1)

	d.gateway.EXPECT().ListBanks(gomock.Any()).Return(nil, errors.New("503"))
	_, err = d.svc.ListBanks(context.Background())
	assertAppError(t, err, apperror.CodeUpstream)
}

func TestPayoutService_GetPayoutStatus(t *testing.T) {
	d := setupPayoutService(t)
	userID := uuid.New()
	wallet := testWallet(userID, 0)
	txn := &domain.Transaction{
		ID: uuid.New(), WalletID: wallet.ID, Reference: "ext-1",
		Type: domain.TransactionTypeDebit, Status: domain.TransactionStatusPending,
		Metadata: domain.Metadata{Action: domain.ActionPayout},
	}

	d.txRepo.EXPECT().GetByReference(gomock.Any(), "ext-1", domain.TransactionTypeDebit).Return(txn, nil).Times(2)
	d.walletRepo.EXPECT().GetByID(gomock.Any(), wallet.ID).Return(wallet, nil).Times(2)

	got, err := d.svc.GetPayoutStatus(context.Background(), userID, "ext-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusPending, got.Status)

	_, err = d.svc.GetPayoutStatus(context.Background(), uuid.New(), "ext-1")
	assertAppError(t, err, apperror.CodeNotFound)
}

func TestPayoutService_GetPayoutStatus_NotAPayout(t *testing.T) {
	d := setupPayoutService(t)
	txn := &domain.Transaction{
		ID: uuid.New(), Reference: "txn-1", Type: domain.TransactionTypeDebit,
		Metadata: domain.Metadata{Action: domain.ActionTransfer},
	}

	d.txRepo.EXPECT().GetByReference(gomock.Any(), "txn-1", domain.TransactionTypeDebit).Return(txn, nil)

	_, err := d.svc.GetPayoutStatus(context.Background(), uuid.New(), "txn-1")
	assertAppError(t, err, apperror.CodeNotFound)
}
