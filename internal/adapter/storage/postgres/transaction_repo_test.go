package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"wallet-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTransaction(walletID uuid.UUID) *domain.Transaction {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.Transaction{
		ID:        uuid.New(),
		WalletID:  walletID,
		Amount:    50000,
		Type:      domain.TransactionTypeDebit,
		Reference: "ext-1700000000000-user",
		Status:    domain.TransactionStatusPending,
		Metadata: domain.Metadata{
			PerformedBy: "user-1",
			Action:      domain.ActionPayout,
			Timestamp:   now,
			Reason:      "rent",
			Counterparty: &domain.Counterparty{
				AccountNumber: "0123456789",
				BankCode:      "058",
			},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func txnColumnNames() []string {
	return []string{"id", "wallet_id", "amount", "type", "reference", "status", "metadata", "created_at", "updated_at"}
}

func txnRow(t *testing.T, txn *domain.Transaction) *pgxmock.Rows {
	meta, err := json.Marshal(txn.Metadata)
	require.NoError(t, err)
	return pgxmock.NewRows(txnColumnNames()).AddRow(
		txn.ID, txn.WalletID, txn.Amount, txn.Type, txn.Reference,
		txn.Status, meta, txn.CreatedAt, txn.UpdatedAt,
	)
}

func TestTransactionRepo_Create_InTx(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	txn := newTestTransaction(uuid.New())

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO transactions").
		WithArgs(txn.ID, txn.WalletID, txn.Amount, txn.Type, txn.Reference,
			txn.Status, pgxmock.AnyArg(), txn.CreatedAt, txn.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	dbTx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	err = repo.Create(context.Background(), dbTx, txn)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_Create_WithoutTxUsesPool(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	txn := newTestTransaction(uuid.New())
	txn.Status = domain.TransactionStatusFailed
	txn.Metadata.Error = "gateway unreachable"

	mock.ExpectExec("INSERT INTO transactions").
		WithArgs(txn.ID, txn.WalletID, txn.Amount, txn.Type, txn.Reference,
			txn.Status, pgxmock.AnyArg(), txn.CreatedAt, txn.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = repo.Create(context.Background(), nil, txn)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_Create_DuplicateReference(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	txn := newTestTransaction(uuid.New())

	mock.ExpectExec("INSERT INTO transactions").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "transactions_reference_type_key"})

	err = repo.Create(context.Background(), nil, txn)
	assert.ErrorIs(t, err, domain.ErrDuplicateReference)
}

func TestTransactionRepo_GetByID_DecodesMetadata(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	txn := newTestTransaction(uuid.New())

	mock.ExpectQuery("SELECT .+ FROM transactions WHERE id").
		WithArgs(txn.ID).
		WillReturnRows(txnRow(t, txn))

	result, err := repo.GetByID(context.Background(), txn.ID)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, txn.Reference, result.Reference)
	assert.Equal(t, domain.ActionPayout, result.Metadata.Action)
	assert.Equal(t, "rent", result.Metadata.Reason)
	require.NotNil(t, result.Metadata.Counterparty)
	assert.Equal(t, "058", result.Metadata.Counterparty.BankCode)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_GetByID_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)

	mock.ExpectQuery("SELECT .+ FROM transactions WHERE id").
		WithArgs(pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)

	result, err := repo.GetByID(context.Background(), uuid.New())
	assert.NoError(t, err)
	assert.Nil(t, result)
}

func TestTransactionRepo_ExistsByReference(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT EXISTS\\(SELECT 1 FROM transactions WHERE reference = \\$1\\)").
		WithArgs("txn-ref-1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

	dbTx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	exists, err := repo.ExistsByReference(context.Background(), dbTx, "txn-ref-1")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_GetByReference(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	txn := newTestTransaction(uuid.New())

	mock.ExpectQuery("SELECT .+ FROM transactions WHERE reference = \\$1 AND type = \\$2").
		WithArgs(txn.Reference, domain.TransactionTypeDebit).
		WillReturnRows(txnRow(t, txn))

	result, err := repo.GetByReference(context.Background(), txn.Reference, domain.TransactionTypeDebit)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, txn.ID, result.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_GetByIDForUpdate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	txn := newTestTransaction(uuid.New())

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM transactions WHERE id = \\$1 FOR UPDATE").
		WithArgs(txn.ID).
		WillReturnRows(txnRow(t, txn))

	dbTx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	result, err := repo.GetByIDForUpdate(context.Background(), dbTx, txn.ID)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, domain.TransactionStatusPending, result.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_Update(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	txn := newTestTransaction(uuid.New())
	txn.Status = domain.TransactionStatusSuccess
	txn.Metadata.ProviderDetails().TransferCode = "TRF_abc"

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE transactions SET status = \\$1, metadata = \\$2").
		WithArgs(domain.TransactionStatusSuccess, pgxmock.AnyArg(), txn.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	dbTx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	err = repo.Update(context.Background(), dbTx, txn)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_Update_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	txn := newTestTransaction(uuid.New())

	mock.ExpectExec("UPDATE transactions").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), txn.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = repo.Update(context.Background(), nil, txn)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transaction not found")
}

func TestTransactionRepo_ListByWallet(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	walletID := uuid.New()
	first := newTestTransaction(walletID)
	second := newTestTransaction(walletID)
	second.Type = domain.TransactionTypeCredit

	metaA, _ := json.Marshal(first.Metadata)
	metaB, _ := json.Marshal(second.Metadata)
	rows := pgxmock.NewRows(txnColumnNames()).
		AddRow(first.ID, first.WalletID, first.Amount, first.Type, first.Reference,
			first.Status, metaA, first.CreatedAt, first.UpdatedAt).
		AddRow(second.ID, second.WalletID, second.Amount, second.Type, second.Reference,
			second.Status, metaB, second.CreatedAt, second.UpdatedAt)

	mock.ExpectQuery("SELECT .+ FROM transactions\\s+WHERE wallet_id = \\$1 ORDER BY created_at DESC").
		WithArgs(walletID, 11, 0).
		WillReturnRows(rows)

	result, err := repo.ListByWallet(context.Background(), walletID, 11, 0)
	require.NoError(t, err)
	require.Len(t, result, 2)
	assert.Equal(t, first.ID, result[0].ID)
	assert.Equal(t, domain.TransactionTypeCredit, result[1].Type)
	assert.NoError(t, mock.ExpectationsWereMet())
}
