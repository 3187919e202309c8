package service

import (
	"context"
	"fmt"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/apperror"

	"github.com/rs/zerolog"
)

// Reconciliation results reported to metrics.
const (
	reconcileApplied   = "applied"
	reconcileAnnotated = "annotated"
	reconcileNoop      = "noop"
	reconcileIgnored   = "ignored"
	reconcileUnmatched = "unmatched"
	reconcileError     = "error"
)

// reconcileAction is what an event does to a payout entry.
type reconcileAction int

const (
	actionNone reconcileAction = iota
	actionSettle
	actionRefund
	actionAnnotate
)

// ReconciliationServiceImpl implements ports.ReconciliationService.
type ReconciliationServiceImpl struct {
	walletRepo ports.WalletRepository
	txRepo     ports.TransactionRepository
	transactor ports.DBTransactor
	locker     ports.Locker
	metrics    ports.MetricsRecorder
	lock       ports.LockOptions
	log        zerolog.Logger
	now        func() time.Time
}

// NewReconciliationService creates a new ReconciliationServiceImpl.
func NewReconciliationService(
	walletRepo ports.WalletRepository,
	txRepo ports.TransactionRepository,
	transactor ports.DBTransactor,
	locker ports.Locker,
	metrics ports.MetricsRecorder,
	lock ports.LockOptions,
	log zerolog.Logger,
) *ReconciliationServiceImpl {
	return &ReconciliationServiceImpl{
		walletRepo: walletRepo,
		txRepo:     txRepo,
		transactor: transactor,
		locker:     locker,
		metrics:    metrics,
		lock:       lock,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// HandleEvent applies a provider notification to the matching payout entry.
// Unknown events and unmatched references are logged and ignored; only
// infrastructure failures are returned.
func (s *ReconciliationServiceImpl) HandleEvent(ctx context.Context, event domain.ProviderEvent) error {
	result, err := s.handle(ctx, event)
	if err != nil {
		result = reconcileError
	}
	s.metrics.ObserveWebhook(string(event.Event), result)
	return err
}

func (s *ReconciliationServiceImpl) handle(ctx context.Context, event domain.ProviderEvent) (string, error) {
	log := s.log.With().
		Str("event", string(event.Event)).
		Str("reference", event.Data.Reference).
		Logger()

	if !event.Event.Known() {
		log.Info().Msg("ignoring unhandled provider event")
		return reconcileIgnored, nil
	}
	if event.Data.Reference == "" {
		log.Warn().Msg("provider event has no reference")
		return reconcileIgnored, nil
	}

	txn, err := s.txRepo.GetByReference(ctx, event.Data.Reference, domain.TransactionTypeDebit)
	if err != nil {
		return "", apperror.ErrDatabaseError(err)
	}
	if txn == nil || txn.Metadata.Action != domain.ActionPayout {
		log.Warn().Msg("no payout matches provider event")
		return reconcileUnmatched, nil
	}
	wallet, err := s.walletRepo.GetByID(ctx, txn.WalletID)
	if err != nil {
		return "", apperror.ErrDatabaseError(err)
	}
	if wallet == nil {
		log.Warn().Str("wallet_id", txn.WalletID.String()).Msg("wallet for payout not found")
		return reconcileUnmatched, nil
	}

	var result string
	err = s.locker.WithLock(ctx, []string{wallet.LockKey()}, s.lock, func(lockCtx context.Context) error {
		var lockedErr error
		result, lockedErr = s.applyLocked(context.WithoutCancel(lockCtx), txn, event)
		return lockedErr
	})
	if err != nil {
		log.Error().Err(err).Msg("reconciliation failed")
		return "", err
	}

	log.Info().
		Str("wallet_id", wallet.ID.String()).
		Str("result", result).
		Msg("provider event reconciled")
	return result, nil
}

func (s *ReconciliationServiceImpl) applyLocked(ctx context.Context, found *domain.Transaction, event domain.ProviderEvent) (string, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return "", apperror.ErrDatabaseError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	txn, err := s.txRepo.GetByIDForUpdate(ctx, dbTx, found.ID)
	if err != nil {
		return "", apperror.ErrDatabaseError(fmt.Errorf("lock transaction: %w", err))
	}
	if txn == nil {
		return reconcileUnmatched, nil
	}

	now := s.now()
	result := reconcileApplied
	switch transition(txn.Status, event.Event) {
	case actionNone:
		return reconcileNoop, nil
	case actionSettle:
		settle(txn, event.Data, now)
	case actionRefund:
		wallet, err := s.walletRepo.GetByIDForUpdate(ctx, dbTx, txn.WalletID)
		if err != nil {
			return "", apperror.ErrDatabaseError(fmt.Errorf("lock wallet: %w", err))
		}
		if wallet == nil {
			return "", apperror.ErrDatabaseError(fmt.Errorf("wallet %s missing for refund", txn.WalletID))
		}
		if err := s.walletRepo.UpdateBalance(ctx, dbTx, wallet.ID, wallet.Balance+txn.Amount); err != nil {
			return "", apperror.ErrDatabaseError(fmt.Errorf("refund wallet: %w", err))
		}
		refund(txn, event, now)
	case actionAnnotate:
		annotate(txn, event.Event, now)
		result = reconcileAnnotated
	}
	txn.UpdatedAt = now

	if err := s.txRepo.Update(ctx, dbTx, txn); err != nil {
		return "", apperror.ErrDatabaseError(fmt.Errorf("update transaction: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return "", apperror.ErrDatabaseError(fmt.Errorf("commit tx: %w", err))
	}
	return result, nil
}

// transition decides what event does to an entry in status.
// Refunds happen at most once: only PENDING and SUCCESS entries hold debited funds.
func transition(status domain.TransactionStatus, event domain.ProviderEventType) reconcileAction {
	switch event {
	case domain.EventTransferSuccess:
		switch status {
		case domain.TransactionStatusPending:
			return actionSettle
		case domain.TransactionStatusSuccess:
			return actionNone
		}
		return actionAnnotate
	case domain.EventTransferFailed:
		switch status {
		case domain.TransactionStatusPending, domain.TransactionStatusSuccess:
			return actionRefund
		}
		return actionAnnotate
	case domain.EventTransferReversed:
		switch status {
		case domain.TransactionStatusPending, domain.TransactionStatusSuccess:
			return actionRefund
		case domain.TransactionStatusReversed:
			return actionNone
		}
		return actionAnnotate
	}
	return actionNone
}

func settle(txn *domain.Transaction, data domain.ProviderEventData, now time.Time) {
	txn.Status = domain.TransactionStatusSuccess
	provider := txn.Metadata.ProviderDetails()
	if data.TransferCode != "" {
		provider.TransferCode = data.TransferCode
	}
	if code := data.RecipientCode(); code != "" {
		provider.RecipientCode = code
	}
	provider.CompletedAt = &now
}

func refund(txn *domain.Transaction, event domain.ProviderEvent, now time.Time) {
	provider := txn.Metadata.ProviderDetails()
	if event.Data.TransferCode != "" {
		provider.TransferCode = event.Data.TransferCode
	}
	provider.RefundedAt = &now

	reason := event.Data.FailureMessage()
	if event.Event == domain.EventTransferReversed {
		txn.Status = domain.TransactionStatusReversed
		provider.ReversalReason = reason
		provider.ReversedAt = &now
		return
	}
	txn.Status = domain.TransactionStatusFailed
	provider.FailureReason = reason
	provider.FailedAt = &now
	txn.Metadata.Error = reason
}

// annotate records a late event without touching the balance.
func annotate(txn *domain.Transaction, event domain.ProviderEventType, now time.Time) {
	txn.Metadata.Set("late_event", string(event))
	txn.Metadata.Set("late_event_at", now.Format(time.RFC3339))
	if txn.IsRefunded() {
		txn.Metadata.Set("note", "funds already refunded")
	}
}
