// Package memory is an in-process ledger store for local runs and tests.
// Writes made through a transaction are staged and become visible only on
// Commit. There are no row locks: callers serialize through the wallet leases.
package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"wallet-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Ledger holds wallets and ledger entries in memory.
type Ledger struct {
	mu      sync.Mutex
	wallets map[uuid.UUID]domain.Wallet
	txns    map[uuid.UUID]domain.Transaction
	order   []uuid.UUID
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		wallets: make(map[uuid.UUID]domain.Wallet),
		txns:    make(map[uuid.UUID]domain.Transaction),
	}
}

// Wallets returns a ports.WalletRepository view of the ledger.
func (l *Ledger) Wallets() *WalletRepo { return &WalletRepo{l: l} }

// Transactions returns a ports.TransactionRepository view of the ledger.
func (l *Ledger) Transactions() *TransactionRepo { return &TransactionRepo{l: l} }

// Begin implements ports.DBTransactor.
func (l *Ledger) Begin(_ context.Context) (pgx.Tx, error) {
	return &tx{
		l:        l,
		balances: make(map[uuid.UUID]int64),
		updates:  make(map[uuid.UUID]domain.Transaction),
	}, nil
}

// Ping implements ports.HealthChecker.
func (l *Ledger) Ping(context.Context) error { return nil }

// Name returns the dependency name.
func (l *Ledger) Name() string { return "memory-ledger" }

// AddWallet seeds an NGN wallet with an opening balance.
func (l *Ledger) AddWallet(userID uuid.UUID, accountNumber string, balance int64) domain.Wallet {
	l.mu.Lock()
	defer l.mu.Unlock()
	w := domain.Wallet{
		ID:            uuid.New(),
		UserID:        userID,
		Balance:       balance,
		Currency:      domain.CurrencyNGN,
		AccountNumber: accountNumber,
	}
	l.wallets[w.ID] = w
	return w
}

// Balance returns the committed balance of a wallet.
func (l *Ledger) Balance(id uuid.UUID) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.wallets[id].Balance
}

// Entries returns every committed entry in insertion order.
func (l *Ledger) Entries() []domain.Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.Transaction, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.txns[id])
	}
	return out
}

// referenceTakenLocked reports a (reference, type) clash. Caller holds mu.
func (l *Ledger) referenceTakenLocked(ref string, typ domain.TransactionType) bool {
	for _, t := range l.txns {
		if t.Reference == ref && t.Type == typ {
			return true
		}
	}
	return false
}

func (l *Ledger) insertLocked(t domain.Transaction) {
	l.txns[t.ID] = t
	l.order = append(l.order, t.ID)
}

type tx struct {
	pgx.Tx
	l        *Ledger
	balances map[uuid.UUID]int64
	inserts  []domain.Transaction
	updates  map[uuid.UUID]domain.Transaction
	done     bool
}

func (t *tx) Commit(_ context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true

	t.l.mu.Lock()
	defer t.l.mu.Unlock()
	for _, ins := range t.inserts {
		if t.l.referenceTakenLocked(ins.Reference, ins.Type) {
			return domain.ErrDuplicateReference
		}
	}
	for id, bal := range t.balances {
		w := t.l.wallets[id]
		w.Balance = bal
		t.l.wallets[id] = w
	}
	for _, ins := range t.inserts {
		t.l.insertLocked(ins)
	}
	for id, upd := range t.updates {
		t.l.txns[id] = upd
	}
	return nil
}

func (t *tx) Rollback(_ context.Context) error {
	t.done = true
	return nil
}

func asTx(t pgx.Tx) *tx {
	if t == nil {
		return nil
	}
	mt, _ := t.(*tx)
	return mt
}

// WalletRepo implements ports.WalletRepository.
type WalletRepo struct{ l *Ledger }

func (r *WalletRepo) Create(_ context.Context, _ pgx.Tx, w *domain.Wallet) error {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	for _, existing := range r.l.wallets {
		if existing.AccountNumber == w.AccountNumber ||
			(existing.UserID == w.UserID && existing.Currency == w.Currency) {
			return domain.ErrWalletExists
		}
	}
	r.l.wallets[w.ID] = *w
	return nil
}

func (r *WalletRepo) find(match func(domain.Wallet) bool) *domain.Wallet {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	for _, w := range r.l.wallets {
		if match(w) {
			return &w
		}
	}
	return nil
}

func (r *WalletRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Wallet, error) {
	return r.find(func(w domain.Wallet) bool { return w.ID == id }), nil
}

func (r *WalletRepo) GetByUser(_ context.Context, userID uuid.UUID, currency domain.Currency) (*domain.Wallet, error) {
	return r.find(func(w domain.Wallet) bool { return w.UserID == userID && w.Currency == currency }), nil
}

func (r *WalletRepo) GetByAccountNumber(_ context.Context, accountNumber string) (*domain.Wallet, error) {
	return r.find(func(w domain.Wallet) bool { return w.AccountNumber == accountNumber }), nil
}

// GetByIDForUpdate sees balances staged earlier in the same transaction.
func (r *WalletRepo) GetByIDForUpdate(_ context.Context, t pgx.Tx, id uuid.UUID) (*domain.Wallet, error) {
	w := r.find(func(w domain.Wallet) bool { return w.ID == id })
	if w == nil {
		return nil, nil
	}
	if mt := asTx(t); mt != nil {
		if bal, ok := mt.balances[id]; ok {
			w.Balance = bal
		}
	}
	return w, nil
}

func (r *WalletRepo) UpdateBalance(_ context.Context, t pgx.Tx, walletID uuid.UUID, balance int64) error {
	if balance < 0 {
		return fmt.Errorf("balance would go negative for wallet %s", walletID)
	}
	mt := asTx(t)
	if mt == nil {
		return errors.New("balance updates require a transaction")
	}
	mt.balances[walletID] = balance
	return nil
}

func (r *WalletRepo) AccountNumberExists(_ context.Context, _ pgx.Tx, accountNumber string) (bool, error) {
	return r.find(func(w domain.Wallet) bool { return w.AccountNumber == accountNumber }) != nil, nil
}

// TransactionRepo implements ports.TransactionRepository.
type TransactionRepo struct{ l *Ledger }

// Create stages the entry in t, or writes it at once when t is nil.
func (r *TransactionRepo) Create(_ context.Context, t pgx.Tx, txn *domain.Transaction) error {
	mt := asTx(t)
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	if r.l.referenceTakenLocked(txn.Reference, txn.Type) {
		return domain.ErrDuplicateReference
	}
	if mt == nil {
		r.l.insertLocked(*txn)
		return nil
	}
	for _, staged := range mt.inserts {
		if staged.Reference == txn.Reference && staged.Type == txn.Type {
			return domain.ErrDuplicateReference
		}
	}
	mt.inserts = append(mt.inserts, *txn)
	return nil
}

func (r *TransactionRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Transaction, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	t, ok := r.l.txns[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (r *TransactionRepo) ExistsByReference(_ context.Context, t pgx.Tx, reference string) (bool, error) {
	if mt := asTx(t); mt != nil {
		for _, staged := range mt.inserts {
			if staged.Reference == reference {
				return true, nil
			}
		}
	}
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	for _, txn := range r.l.txns {
		if txn.Reference == reference {
			return true, nil
		}
	}
	return false, nil
}

func (r *TransactionRepo) GetByReference(_ context.Context, reference string, txType domain.TransactionType) (*domain.Transaction, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	for _, txn := range r.l.txns {
		if txn.Reference == reference && txn.Type == txType {
			return &txn, nil
		}
	}
	return nil, nil
}

func (r *TransactionRepo) GetByIDForUpdate(ctx context.Context, t pgx.Tx, id uuid.UUID) (*domain.Transaction, error) {
	if mt := asTx(t); mt != nil {
		if upd, ok := mt.updates[id]; ok {
			return &upd, nil
		}
	}
	return r.GetByID(ctx, id)
}

func (r *TransactionRepo) Update(_ context.Context, t pgx.Tx, txn *domain.Transaction) error {
	mt := asTx(t)
	if mt == nil {
		return errors.New("updates require a transaction")
	}
	mt.updates[txn.ID] = *txn
	return nil
}

// ListByWallet returns entries newest first.
func (r *TransactionRepo) ListByWallet(_ context.Context, walletID uuid.UUID, limit, offset int) ([]domain.Transaction, error) {
	r.l.mu.Lock()
	var out []domain.Transaction
	for _, id := range r.l.order {
		if txn := r.l.txns[id]; txn.WalletID == walletID {
			out = append(out, txn)
		}
	}
	r.l.mu.Unlock()

	slices.Reverse(out)
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
