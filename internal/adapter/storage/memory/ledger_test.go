package memory

import (
	"context"
	"testing"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ ports.WalletRepository      = (*WalletRepo)(nil)
	_ ports.TransactionRepository = (*TransactionRepo)(nil)
	_ ports.DBTransactor          = (*Ledger)(nil)
	_ ports.HealthChecker         = (*Ledger)(nil)
)

func entry(walletID uuid.UUID, ref string, typ domain.TransactionType, amount int64) *domain.Transaction {
	return &domain.Transaction{
		ID:        uuid.New(),
		WalletID:  walletID,
		Amount:    amount,
		Type:      typ,
		Reference: ref,
		Status:    domain.TransactionStatusSuccess,
	}
}

func TestLedger_StagedUntilCommit(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	w := l.AddWallet(uuid.New(), "1000000001", 100)
	wallets, txns := l.Wallets(), l.Transactions()

	tx, err := l.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, wallets.UpdateBalance(ctx, tx, w.ID, 250))
	require.NoError(t, txns.Create(ctx, tx, entry(w.ID, "ref-1", domain.TransactionTypeCredit, 150)))

	inTx, err := wallets.GetByIDForUpdate(ctx, tx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(250), inTx.Balance)
	assert.Equal(t, int64(100), l.Balance(w.ID), "outside the tx the old balance is visible")
	exists, _ := txns.ExistsByReference(ctx, tx, "ref-1")
	assert.True(t, exists)
	exists, _ = txns.ExistsByReference(ctx, nil, "ref-1")
	assert.False(t, exists)

	require.NoError(t, tx.Commit(ctx))
	assert.Equal(t, int64(250), l.Balance(w.ID))
	assert.Len(t, l.Entries(), 1)
	assert.ErrorIs(t, tx.Commit(ctx), pgx.ErrTxClosed)
}

func TestLedger_RollbackDiscards(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	w := l.AddWallet(uuid.New(), "1000000002", 100)

	tx, _ := l.Begin(ctx)
	require.NoError(t, l.Wallets().UpdateBalance(ctx, tx, w.ID, 0))
	require.NoError(t, l.Transactions().Create(ctx, tx, entry(w.ID, "ref-2", domain.TransactionTypeDebit, 100)))
	require.NoError(t, tx.Rollback(ctx))

	assert.Equal(t, int64(100), l.Balance(w.ID))
	assert.Empty(t, l.Entries())
}

func TestLedger_DuplicateReference(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	w := l.AddWallet(uuid.New(), "1000000003", 0)
	txns := l.Transactions()

	require.NoError(t, txns.Create(ctx, nil, entry(w.ID, "ref-3", domain.TransactionTypeDebit, 1)))
	// Same reference, other side of a transfer.
	require.NoError(t, txns.Create(ctx, nil, entry(w.ID, "ref-3", domain.TransactionTypeCredit, 1)))
	assert.ErrorIs(t, txns.Create(ctx, nil, entry(w.ID, "ref-3", domain.TransactionTypeDebit, 1)), domain.ErrDuplicateReference)

	// Two transactions staging the same reference: the second commit loses.
	tx1, _ := l.Begin(ctx)
	tx2, _ := l.Begin(ctx)
	require.NoError(t, txns.Create(ctx, tx1, entry(w.ID, "ref-4", domain.TransactionTypeCredit, 1)))
	require.NoError(t, txns.Create(ctx, tx2, entry(w.ID, "ref-4", domain.TransactionTypeCredit, 1)))
	require.NoError(t, tx1.Commit(ctx))
	assert.ErrorIs(t, tx2.Commit(ctx), domain.ErrDuplicateReference)
}

func TestLedger_Wallets(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	wallets := l.Wallets()
	userID := uuid.New()

	w := &domain.Wallet{ID: uuid.New(), UserID: userID, Currency: domain.CurrencyNGN, AccountNumber: "1000000004"}
	require.NoError(t, wallets.Create(ctx, nil, w))

	again := &domain.Wallet{ID: uuid.New(), UserID: userID, Currency: domain.CurrencyNGN, AccountNumber: "1000000005"}
	assert.ErrorIs(t, wallets.Create(ctx, nil, again), domain.ErrWalletExists)

	taken := &domain.Wallet{ID: uuid.New(), UserID: uuid.New(), Currency: domain.CurrencyNGN, AccountNumber: "1000000004"}
	assert.ErrorIs(t, wallets.Create(ctx, nil, taken), domain.ErrWalletExists, "account numbers are unique")

	byAcct, err := wallets.GetByAccountNumber(ctx, "1000000004")
	require.NoError(t, err)
	assert.Equal(t, w.ID, byAcct.ID)

	missing, err := wallets.GetByUser(ctx, userID, domain.CurrencyUSD)
	require.NoError(t, err)
	assert.Nil(t, missing)

	exists, _ := wallets.AccountNumberExists(ctx, nil, "1000000004")
	assert.True(t, exists)

	assert.Error(t, wallets.UpdateBalance(ctx, nil, w.ID, 10), "balance writes need a transaction")
	tx, _ := l.Begin(ctx)
	assert.Error(t, wallets.UpdateBalance(ctx, tx, w.ID, -1))
}

func TestLedger_ListByWalletNewestFirst(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	w := l.AddWallet(uuid.New(), "1000000006", 0)
	other := l.AddWallet(uuid.New(), "1000000007", 0)
	txns := l.Transactions()

	for _, ref := range []string{"a", "b", "c"} {
		require.NoError(t, txns.Create(ctx, nil, entry(w.ID, ref, domain.TransactionTypeCredit, 1)))
	}
	require.NoError(t, txns.Create(ctx, nil, entry(other.ID, "x", domain.TransactionTypeCredit, 1)))

	page, err := txns.ListByWallet(ctx, w.ID, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "c", page[0].Reference)
	assert.Equal(t, "b", page[1].Reference)

	page, _ = txns.ListByWallet(ctx, w.ID, 2, 2)
	require.Len(t, page, 1)
	assert.Equal(t, "a", page[0].Reference)

	page, _ = txns.ListByWallet(ctx, w.ID, 2, 10)
	assert.Empty(t, page)
}
