package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// PayoutServiceImpl implements ports.PayoutService.
type PayoutServiceImpl struct {
	walletRepo ports.WalletRepository
	txRepo     ports.TransactionRepository
	transactor ports.DBTransactor
	locker     ports.Locker
	gateway    ports.PaymentGateway
	refCache   ports.ReferenceCache
	metrics    ports.MetricsRecorder
	lock       ports.LockOptions
	log        zerolog.Logger
	now        func() time.Time
}

// NewPayoutService creates a new PayoutServiceImpl.
func NewPayoutService(
	walletRepo ports.WalletRepository,
	txRepo ports.TransactionRepository,
	transactor ports.DBTransactor,
	locker ports.Locker,
	gateway ports.PaymentGateway,
	refCache ports.ReferenceCache,
	metrics ports.MetricsRecorder,
	lock ports.LockOptions,
	log zerolog.Logger,
) *PayoutServiceImpl {
	return &PayoutServiceImpl{
		walletRepo: walletRepo,
		txRepo:     txRepo,
		transactor: transactor,
		locker:     locker,
		gateway:    gateway,
		refCache:   refCache,
		metrics:    metrics,
		lock:       lock,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// payoutOutcome is what the critical section produced.
type payoutOutcome struct {
	txn *domain.Transaction
	// compensated is set when the provider declined and the refund was
	// committed with the FAILED entry, so no separate audit entry is needed.
	compensated bool
}

// InitiatePayout debits the user's NGN wallet and asks the provider to pay
// the bank account. The entry stays PENDING until reconciliation settles it.
func (s *PayoutServiceImpl) InitiatePayout(ctx context.Context, req ports.PayoutRequest) (txn *domain.Transaction, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation("payout", outcome(err), time.Since(start)) }()

	if req.Amount <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}
	req.BankCode = strings.TrimSpace(req.BankCode)
	req.AccountNumber = strings.TrimSpace(req.AccountNumber)
	if req.BankCode == "" || req.AccountNumber == "" {
		return nil, apperror.Validation("Bank code and account number are required")
	}

	wallet, err := s.walletRepo.GetByUser(ctx, req.UserID, domain.CurrencyNGN)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if wallet == nil {
		return nil, apperror.ErrNotFound("wallet")
	}
	if !wallet.CanDebit(req.Amount) {
		return nil, apperror.ErrInsufficientFunds()
	}

	reference := strings.TrimSpace(req.Reference)
	if reference == "" {
		reference = domain.NewPayoutReference(req.UserID, s.now())
	}
	if err := referenceGuard(ctx, s.refCache, s.log, reference); err != nil {
		return nil, err
	}

	var out payoutOutcome
	keys := []string{wallet.LockKey(), domain.ReferenceLockKey(reference)}
	err = s.locker.WithLock(ctx, keys, s.lock, func(lockCtx context.Context) error {
		var lockedErr error
		out, lockedErr = s.payoutLocked(context.WithoutCancel(lockCtx), wallet.ID, req, reference)
		return lockedErr
	})
	if err != nil {
		if apperror.Attempted(err) && !out.compensated {
			entry := s.payoutEntry(wallet.ID, req, reference, domain.TransactionStatusFailed)
			recordFailure(ctx, s.txRepo, s.log, entry, err)
		}
		if out.compensated {
			// The reference is consumed by the committed FAILED entry.
			rememberReference(ctx, s.refCache, s.log, reference)
		}
		s.log.Warn().
			Err(err).
			Str("wallet_id", wallet.ID.String()).
			Str("reference", reference).
			Int64("amount", req.Amount).
			Bool("compensated", out.compensated).
			Msg("payout failed")
		return nil, err
	}

	rememberReference(ctx, s.refCache, s.log, reference)

	s.log.Info().
		Str("tx_id", out.txn.ID.String()).
		Str("wallet_id", wallet.ID.String()).
		Str("reference", reference).
		Int64("amount", req.Amount).
		Msg("payout initiated")

	return out.txn, nil
}

func (s *PayoutServiceImpl) payoutLocked(ctx context.Context, walletID uuid.UUID, req ports.PayoutRequest, reference string) (payoutOutcome, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return payoutOutcome{}, apperror.ErrDatabaseError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	exists, err := s.txRepo.ExistsByReference(ctx, dbTx, reference)
	if err != nil {
		return payoutOutcome{}, apperror.ErrDatabaseError(err)
	}
	if exists {
		return payoutOutcome{}, apperror.ErrDuplicateTransaction(reference)
	}

	wallet, err := s.walletRepo.GetByIDForUpdate(ctx, dbTx, walletID)
	if err != nil {
		return payoutOutcome{}, apperror.ErrDatabaseError(fmt.Errorf("lock wallet: %w", err))
	}
	if wallet == nil {
		return payoutOutcome{}, apperror.ErrNotFound("wallet")
	}
	if !wallet.CanDebit(req.Amount) {
		return payoutOutcome{}, apperror.ErrInsufficientFunds()
	}

	txn := s.payoutEntry(wallet.ID, req, reference, domain.TransactionStatusPending)
	if err := s.txRepo.Create(ctx, dbTx, txn); err != nil {
		return payoutOutcome{}, duplicateOr(err, reference)
	}
	if err := s.walletRepo.UpdateBalance(ctx, dbTx, wallet.ID, wallet.Balance-req.Amount); err != nil {
		return payoutOutcome{}, apperror.ErrDatabaseError(fmt.Errorf("debit wallet: %w", err))
	}

	result, err := s.gateway.InitiateTransfer(ctx, ports.TransferInstruction{
		BankCode:      req.BankCode,
		AccountNumber: req.AccountNumber,
		Amount:        req.Amount,
		Reason:        req.Reason,
		Reference:     reference,
	})
	if err != nil {
		// Nothing was committed; the deferred rollback restores the balance.
		if apperror.CodeOf(err) == "" {
			err = apperror.ErrUpstream("", err)
		}
		return payoutOutcome{}, err
	}

	now := s.now()
	provider := txn.Metadata.ProviderDetails()
	provider.TransferCode = result.TransferCode
	provider.RecipientCode = result.RecipientCode
	if result.Status != "" {
		txn.Metadata.Set("provider_status", result.Status)
	}
	txn.UpdatedAt = now

	if !result.Accepted {
		if err := s.walletRepo.UpdateBalance(ctx, dbTx, wallet.ID, wallet.Balance); err != nil {
			return payoutOutcome{}, apperror.ErrDatabaseError(fmt.Errorf("refund wallet: %w", err))
		}
		txn.Status = domain.TransactionStatusFailed
		txn.Metadata.Error = result.Message
		provider.FailureReason = result.Message
		provider.FailedAt = &now
		provider.RefundedAt = &now
		if err := s.txRepo.Update(ctx, dbTx, txn); err != nil {
			return payoutOutcome{}, apperror.ErrDatabaseError(fmt.Errorf("mark payout failed: %w", err))
		}
		if err := dbTx.Commit(ctx); err != nil {
			return payoutOutcome{}, apperror.ErrDatabaseError(fmt.Errorf("commit tx: %w", err))
		}
		return payoutOutcome{txn: txn, compensated: true},
			apperror.ErrUpstream("Payout declined by provider: "+declineMessage(result), nil)
	}

	if err := s.txRepo.Update(ctx, dbTx, txn); err != nil {
		return payoutOutcome{}, apperror.ErrDatabaseError(fmt.Errorf("annotate payout: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		s.log.Error().
			Err(err).
			Str("reference", reference).
			Str("transfer_code", result.TransferCode).
			Msg("provider accepted payout but ledger commit failed")
		return payoutOutcome{}, apperror.ErrDatabaseError(fmt.Errorf("commit tx: %w", err))
	}
	return payoutOutcome{txn: txn}, nil
}

func (s *PayoutServiceImpl) payoutEntry(walletID uuid.UUID, req ports.PayoutRequest, reference string, status domain.TransactionStatus) *domain.Transaction {
	txn := newEntry(walletID, req.Amount, domain.TransactionTypeDebit, status,
		reference, req.UserID, domain.ActionPayout, s.now())
	txn.Metadata.Counterparty = &domain.Counterparty{AccountNumber: req.AccountNumber, BankCode: req.BankCode}
	txn.Metadata.Reason = req.Reason
	return txn
}

func declineMessage(result *ports.TransferResult) string {
	if result.Message != "" {
		return result.Message
	}
	return "transfer not accepted"
}

// ListBanks returns the provider's bank list.
func (s *PayoutServiceImpl) ListBanks(ctx context.Context) ([]ports.Bank, error) {
	banks, err := s.gateway.ListBanks(ctx)
	if err != nil {
		if apperror.CodeOf(err) == "" {
			err = apperror.ErrUpstream("Could not fetch banks", err)
		}
		return nil, err
	}
	return banks, nil
}

// GetPayoutStatus returns the payout entry for reference when it belongs to
// one of the user's wallets.
func (s *PayoutServiceImpl) GetPayoutStatus(ctx context.Context, userID uuid.UUID, reference string) (*domain.Transaction, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, apperror.Validation("Reference is required")
	}
	txn, err := s.txRepo.GetByReference(ctx, reference, domain.TransactionTypeDebit)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if txn == nil || txn.Metadata.Action != domain.ActionPayout {
		return nil, apperror.ErrNotFound("payout")
	}
	wallet, err := s.walletRepo.GetByID(ctx, txn.WalletID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if wallet == nil || wallet.UserID != userID {
		return nil, apperror.ErrNotFound("payout")
	}
	return txn, nil
}
