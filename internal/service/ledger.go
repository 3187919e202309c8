package service

import (
	"context"
	"errors"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LockPolicy holds the lease options used by each money-moving operation.
type LockPolicy struct {
	Fund     ports.LockOptions
	Transfer ports.LockOptions
	Payout   ports.LockOptions
}

// DefaultLockPolicy returns 5s for funding and 10s for transfers and payouts,
// each with 3 retries.
func DefaultLockPolicy() LockPolicy {
	return LockPolicy{
		Fund:     ports.LockOptions{TTL: 5 * time.Second, MaxRetries: 3},
		Transfer: ports.LockOptions{TTL: 10 * time.Second, MaxRetries: 3},
		Payout:   ports.LockOptions{TTL: 10 * time.Second, MaxRetries: 3},
	}
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// resolveCurrency applies the default currency and rejects unknown codes.
func resolveCurrency(c domain.Currency) (domain.Currency, error) {
	if c == "" {
		return domain.DefaultCurrency, nil
	}
	if !c.Valid() {
		return "", apperror.Validation("Unsupported currency: " + string(c))
	}
	return c, nil
}

// outcome labels an operation result for metrics.
func outcome(err error) string {
	if err == nil {
		return "success"
	}
	switch apperror.CodeOf(err) {
	case apperror.CodeValidation:
		return "invalid"
	case apperror.CodeNotFound:
		return "not_found"
	case apperror.CodeConflict:
		return "conflict"
	case apperror.CodeInsufficientFunds:
		return "insufficient_funds"
	case apperror.CodeLockExhausted:
		return "lock_exhausted"
	case apperror.CodeUpstream:
		return "upstream_error"
	}
	return "error"
}

// duplicateOr maps a reference clash on insert to Conflict.
func duplicateOr(err error, reference string) error {
	if errors.Is(err, domain.ErrDuplicateReference) {
		return apperror.ErrDuplicateTransaction(reference)
	}
	return apperror.ErrDatabaseError(err)
}

// newEntry builds a ledger entry with audit metadata stamped at now.
func newEntry(walletID uuid.UUID, amount int64, txType domain.TransactionType, status domain.TransactionStatus,
	reference string, userID uuid.UUID, action domain.Action, now time.Time) *domain.Transaction {
	return &domain.Transaction{
		ID:        uuid.New(),
		WalletID:  walletID,
		Amount:    amount,
		Type:      txType,
		Reference: reference,
		Status:    status,
		Metadata: domain.Metadata{
			PerformedBy: userID.String(),
			Action:      action,
			Timestamp:   now,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// referenceGuard rejects references already seen by the cache. Cache errors
// are logged and ignored; the storage guard under the lock still applies.
func referenceGuard(ctx context.Context, cache ports.ReferenceCache, log zerolog.Logger, reference string) error {
	if cache == nil {
		return nil
	}
	seen, err := cache.Seen(ctx, reference)
	if err != nil {
		log.Warn().Err(err).Str("reference", reference).Msg("reference cache lookup failed, falling through to DB")
		return nil
	}
	if seen {
		return apperror.ErrDuplicateTransaction(reference)
	}
	return nil
}

func rememberReference(ctx context.Context, cache ports.ReferenceCache, log zerolog.Logger, reference string) {
	if cache == nil {
		return
	}
	if err := cache.Remember(ctx, reference); err != nil {
		log.Warn().Err(err).Str("reference", reference).Msg("failed to cache reference")
	}
}

// recordFailure writes a FAILED entry outside any DB transaction so it
// survives the rollback of the operation it describes.
func recordFailure(ctx context.Context, txRepo ports.TransactionRepository, log zerolog.Logger, entry *domain.Transaction, cause error) {
	entry.Status = domain.TransactionStatusFailed
	entry.Metadata.Error = cause.Error()

	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := txRepo.Create(auditCtx, nil, entry); err != nil {
		log.Error().
			Err(err).
			AnErr("cause", cause).
			Str("reference", entry.Reference).
			Str("wallet_id", entry.WalletID.String()).
			Msg("failed to record failed transaction")
		return
	}
	log.Info().
		Str("reference", entry.Reference).
		Str("wallet_id", entry.WalletID.String()).
		Str("type", string(entry.Type)).
		Msg("failed transaction recorded")
}
