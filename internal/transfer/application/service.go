package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"remit/internal/common/logging"
	"remit/internal/common/metrics"
	"remit/internal/transfer/domain"
)

const (
	// maxAttempts bounds the deadlock retry loop.
	maxAttempts = 3
	// retryBaseDelay is multiplied by the attempt number between retries.
	retryBaseDelay = 100 * time.Millisecond
)

// Waker is notified after a transfer commits so the outbox worker picks the
// new entry up without waiting for the next poll tick. Losing the signal is
// harmless; polling is the crash-safe fallback.
type Waker interface {
	Wake()
}

// TransferService implements the transfer engine: the atomic, idempotent,
// deadlock-resilient procedure that moves money between two users.
//
// Key design decisions:
//   - All writes happen inside a single Atomic callback per attempt
//   - The idempotency lookup takes a row lock, collapsing concurrent replays
//   - Both user rows are locked in ascending-id order to prevent ABBA deadlocks
//   - Deadlock-class failures are retried with linear backoff, bounded
type TransferService struct {
	store domain.DataStore
	waker Waker
}

// NewTransferService creates a TransferService. waker may be nil.
func NewTransferService(store domain.DataStore, waker Waker) *TransferService {
	return &TransferService{store: store, waker: waker}
}

// TransferResult carries the committed ledger entry plus both post-transfer
// balances, which only exist together inside the engine's transaction.
type TransferResult struct {
	Transaction     *domain.Transaction
	SenderBalance   int64
	ReceiverBalance int64
	Replayed        bool
}

// Transfer moves amount minor units from sender to receiver, charging the
// sender a commission of ceil(amount*3/200). On an idempotency-key replay the
// original transaction is returned with no additional balance movement.
func (s *TransferService) Transfer(ctx context.Context, senderID, receiverID, amount int64, idempotencyKey string, metadata map[string]any) (*TransferResult, error) {
	start := time.Now()

	if senderID == receiverID {
		metrics.RecordTransfer("rejected")
		return nil, domain.ErrSelfTransfer
	}
	if amount <= 0 {
		metrics.RecordTransfer("rejected")
		return nil, domain.ErrInvalidAmount
	}
	if idempotencyKey == "" {
		metrics.RecordTransfer("rejected")
		return nil, domain.ErrInvalidIdempotencyKey
	}

	var result *TransferResult
	var err error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err = s.attempt(ctx, senderID, receiverID, amount, idempotencyKey, metadata)
		if err == nil {
			break
		}
		if !isRetryable(err) {
			break
		}
		metrics.RecordDeadlockRetry()
		if attempt == maxAttempts {
			logging.WarnContext(ctx, "transfer retry budget exhausted",
				"sender_id", senderID,
				"receiver_id", receiverID,
				"attempts", attempt,
			)
			metrics.RecordTransfer("contention")
			return nil, fmt.Errorf("%w: %v", domain.ErrLockContention, err)
		}
		if sleepErr := sleepCtx(ctx, retryBaseDelay*time.Duration(attempt)); sleepErr != nil {
			return nil, sleepErr
		}
	}
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInsufficientBalance):
			metrics.RecordTransfer("insufficient_balance")
		default:
			metrics.RecordTransfer("rejected")
		}
		return nil, err
	}

	metrics.TransferDuration.Observe(time.Since(start).Seconds())
	if result.Replayed {
		metrics.RecordTransfer("replayed")
		return result, nil
	}
	metrics.RecordTransfer("completed")

	logging.InfoContext(ctx, "transfer completed",
		"transaction_uuid", result.Transaction.UUID,
		"sender_id", senderID,
		"receiver_id", receiverID,
		"amount", amount,
		"commission", result.Transaction.Commission,
	)

	// Post-commit only: a wake lost here is picked up by the worker's poll.
	if s.waker != nil {
		s.waker.Wake()
	}
	return result, nil
}

// attempt runs one pass of the core algorithm inside a single transaction.
func (s *TransferService) attempt(ctx context.Context, senderID, receiverID, amount int64, idempotencyKey string, metadata map[string]any) (*TransferResult, error) {
	var result *TransferResult

	err := s.store.Atomic(ctx, func(repos domain.Repositories) error {
		// Idempotent replay: the row lock serializes concurrent retries with
		// the same key so at most one reaches the insert below.
		existing, err := repos.Transactions().FindByIdempotencyKeyForUpdate(ctx, idempotencyKey)
		if err != nil {
			return err
		}
		if existing != nil {
			replay, err := s.replayResult(ctx, repos, existing)
			if err != nil {
				return err
			}
			result = replay
			return nil
		}

		// Canonical lock order: ascending ids, regardless of direction.
		lockSet := []int64{senderID, receiverID}
		if lockSet[0] > lockSet[1] {
			lockSet[0], lockSet[1] = lockSet[1], lockSet[0]
		}
		users, err := repos.Users().LockByIDs(ctx, lockSet)
		if err != nil {
			return err
		}
		sender, ok := users[senderID]
		if !ok {
			return domain.ErrUserNotFound
		}
		receiver, ok := users[receiverID]
		if !ok {
			return domain.ErrUserNotFound
		}

		commission := domain.Commission(amount)
		debited := amount + commission
		if sender.Balance < debited {
			return domain.ErrInsufficientBalance
		}

		sender.Balance -= debited
		receiver.Balance += amount
		if err := repos.Users().UpdateBalance(ctx, sender.ID, sender.Balance); err != nil {
			return err
		}
		if err := repos.Users().UpdateBalance(ctx, receiver.ID, receiver.Balance); err != nil {
			return err
		}

		txn := &domain.Transaction{
			SenderID:       senderID,
			ReceiverID:     receiverID,
			Amount:         amount,
			Commission:     commission,
			Status:         domain.TransactionCompleted,
			IdempotencyKey: idempotencyKey,
			Metadata:       metadata,
		}
		if err := repos.Transactions().Insert(ctx, txn); err != nil {
			return err
		}

		for _, snap := range []*domain.BalanceSnapshot{
			{UserID: sender.ID, Balance: sender.Balance, TransactionUUID: txn.UUID},
			{UserID: receiver.ID, Balance: receiver.Balance, TransactionUUID: txn.UUID},
		} {
			if err := repos.Snapshots().Insert(ctx, snap); err != nil {
				return err
			}
		}

		payload, err := json.Marshal(domain.TransferEventPayload{
			TransactionUUID: txn.UUID,
			SenderID:        sender.ID,
			ReceiverID:      receiver.ID,
			Amount:          amount,
			Commission:      commission,
			SenderBalance:   sender.Balance,
			ReceiverBalance: receiver.Balance,
		})
		if err != nil {
			return err
		}
		if err := repos.Outbox().Append(ctx, &domain.OutboxEntry{
			TransactionUUID: txn.UUID,
			EventType:       domain.EventMoneyTransferred,
			Payload:         payload,
			Status:          domain.OutboxPending,
		}); err != nil {
			return err
		}

		result = &TransferResult{
			Transaction:     txn,
			SenderBalance:   sender.Balance,
			ReceiverBalance: receiver.Balance,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// replayResult reconstructs the original result from the committed transaction
// and its balance snapshots.
func (s *TransferService) replayResult(ctx context.Context, repos domain.Repositories, txn *domain.Transaction) (*TransferResult, error) {
	snaps, err := repos.Snapshots().ListByTransaction(ctx, txn.UUID)
	if err != nil {
		return nil, err
	}
	result := &TransferResult{Transaction: txn, Replayed: true}
	for _, snap := range snaps {
		switch snap.UserID {
		case txn.SenderID:
			result.SenderBalance = snap.Balance
		case txn.ReceiverID:
			result.ReceiverBalance = snap.Balance
		}
	}
	return result, nil
}

// isRetryable reports whether the engine should restart the attempt.
// A unique-key race on the ledger insert behaves like a deadlock: the retry
// finds the winner's row at the locked idempotency lookup.
func isRetryable(err error) bool {
	return errors.Is(err, domain.ErrDeadlock) || errors.Is(err, domain.ErrIdempotencyRace)
}

// sleepCtx sleeps for d unless the caller's deadline expires first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
