package domain

import "errors"

// Storage-level conflicts surfaced by repositories.
var (
	ErrWalletExists       = errors.New("wallet already exists for user and currency")
	ErrDuplicateReference = errors.New("transaction reference already recorded")
)
