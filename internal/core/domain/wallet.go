package domain

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// Currency is an ISO-4217 code supported by wallets.
type Currency string

const (
	CurrencyNGN Currency = "NGN"
	CurrencyUSD Currency = "USD"
	CurrencyGBP Currency = "GBP"
	CurrencyEUR Currency = "EUR"
)

// DefaultCurrency is used when a request omits the currency.
const DefaultCurrency = CurrencyNGN

// Valid reports whether c is a supported currency.
func (c Currency) Valid() bool {
	switch c {
	case CurrencyNGN, CurrencyUSD, CurrencyGBP, CurrencyEUR:
		return true
	}
	return false
}

// AccountPrefix returns the 4-digit account number prefix for the currency.
func (c Currency) AccountPrefix() string {
	switch c {
	case CurrencyNGN:
		return "6861"
	case CurrencyUSD:
		return "6862"
	case CurrencyEUR:
		return "6863"
	default:
		return "6864"
	}
}

// AccountNumberLength is the length of every generated account number.
const AccountNumberLength = 10

// Wallet holds a user's balance in one currency.
type Wallet struct {
	ID            uuid.UUID `json:"id"`
	UserID        uuid.UUID `json:"user_id"`
	Balance       int64     `json:"balance"` // minor units (kobo, cents)
	Currency      Currency  `json:"currency"`
	AccountNumber string    `json:"account_number"`
	IsDeleted     bool      `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// CanDebit returns true if the wallet holds at least amount.
func (w *Wallet) CanDebit(amount int64) bool {
	return amount > 0 && w.Balance >= amount
}

// LockKey returns the lock resource name guarding this wallet's balance.
func (w *Wallet) LockKey() string {
	return WalletLockKey(w.ID)
}

// WalletLockKey returns the lock resource name for a wallet id.
func WalletLockKey(id uuid.UUID) string {
	return "wallet:" + id.String()
}

// GenerateAccountNumber returns the currency prefix followed by 6 random digits.
func GenerateAccountNumber(c Currency) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate account number: %w", err)
	}
	return fmt.Sprintf("%s%06d", c.AccountPrefix(), n.Int64()), nil
}
