package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"remit/internal/common/logging"
	"remit/internal/common/metrics"
	"remit/internal/transfer/domain"
)

const (
	// defaultPollInterval is the fallback cadence when no wake signal arrives.
	defaultPollInterval = 5 * time.Second
	// attemptTimeout bounds a single publish call.
	attemptTimeout = 30 * time.Second
)

// Worker is the outbox delivery consumer. It claims pending entries with a
// row lock, publishes them to the push sink, and records the outcome on the
// entry. Multiple workers may run concurrently; SKIP LOCKED semantics in the
// store keep them from colliding on the same entry.
type Worker struct {
	store        domain.DataStore
	publisher    Publisher
	pollInterval time.Duration
	wake         chan struct{}
	done         chan struct{}
}

// NewWorker creates a Worker. pollInterval <= 0 selects the default.
func NewWorker(store domain.DataStore, publisher Publisher, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &Worker{
		store:        store,
		publisher:    publisher,
		pollInterval: pollInterval,
		wake:         make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

// Wake nudges the worker to check for pending work. Non-blocking; a wake that
// coalesces with an earlier one is fine.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Done is closed when Run has exited.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Run drives the delivery loop until ctx is canceled. The entry in flight at
// cancellation time is finished (committed or rolled back) before returning.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	logging.Info("outbox worker started", "poll_interval", w.pollInterval.String())

	for {
		w.drain(ctx)

		if pending, err := w.store.Outbox().CountPending(ctx); err == nil {
			metrics.OutboxPendingEntries.Set(float64(pending))
		}

		select {
		case <-ctx.Done():
			logging.Info("outbox worker stopped")
			return
		case <-w.wake:
		case <-ticker.C:
		}
	}
}

// drain processes entries until none is eligible or ctx is canceled.
func (w *Worker) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		processed, err := w.ProcessOne(ctx)
		if err != nil {
			logging.ErrorContext(ctx, "outbox pass failed", "error", err)
			return
		}
		if !processed {
			return
		}
	}
}

// ProcessOne claims and handles a single eligible entry. Returns false when
// nothing was eligible. The claim, the publish, and the status update share
// one transaction so a crash mid-flight leaves the entry pending.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	processed := false

	err := w.store.Atomic(ctx, func(repos domain.Repositories) error {
		now := time.Now().UTC()
		entry, err := repos.Outbox().ClaimNextPending(ctx, now)
		if err != nil {
			return err
		}
		if entry == nil {
			return nil
		}
		processed = true
		entry.Status = domain.OutboxProcessing

		payload, err := domain.ParseTransferEventPayload(entry.Payload)
		if err != nil {
			// Malformed payloads never become deliverable; fail terminally.
			return w.failTerminally(ctx, repos, entry, now, err)
		}

		sender, err := repos.Users().FindByID(ctx, payload.SenderID)
		if err != nil {
			if errors.Is(err, domain.ErrUserNotFound) {
				return w.failTerminally(ctx, repos, entry, now,
					fmt.Errorf("%w: sender %d missing", domain.ErrInvalidPayload, payload.SenderID))
			}
			return err
		}

		event := domain.NewPushEvent(payload, sender, now)
		pubCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
		defer cancel()
		pubErr := w.publisher.Publish(pubCtx, domain.UserChannel(payload.ReceiverID), domain.PushMoneyReceived, event)

		entry.Attempts++
		entry.LastAttemptedAt = &now

		if pubErr != nil {
			entry.Error = pubErr.Error()
			if entry.Attempts >= domain.MaxDeliveryAttempts {
				entry.Status = domain.OutboxFailed
				metrics.RecordDelivery("failed")
				logging.WarnContext(ctx, "outbox entry failed terminally",
					"outbox_id", entry.ID,
					"transaction_uuid", entry.TransactionUUID,
					"attempts", entry.Attempts,
					"error", pubErr.Error(),
				)
			} else {
				entry.Status = domain.OutboxPending
				metrics.RecordDelivery("retried")
				logging.WarnContext(ctx, "outbox delivery failed, will retry",
					"outbox_id", entry.ID,
					"attempts", entry.Attempts,
					"next_eligible_in", domain.DeliveryBackoff(entry.Attempts).String(),
					"error", pubErr.Error(),
				)
			}
			return repos.Outbox().Update(ctx, entry)
		}

		entry.Status = domain.OutboxDelivered
		entry.DeliveredAt = &now
		entry.Error = ""
		metrics.RecordDelivery("delivered")
		logging.InfoContext(ctx, "outbox entry delivered",
			"outbox_id", entry.ID,
			"transaction_uuid", entry.TransactionUUID,
			"receiver_id", payload.ReceiverID,
		)
		return repos.Outbox().Update(ctx, entry)
	})
	return processed, err
}

// failTerminally records a non-retryable failure on the entry.
func (w *Worker) failTerminally(ctx context.Context, repos domain.Repositories, entry *domain.OutboxEntry, now time.Time, cause error) error {
	entry.Status = domain.OutboxFailed
	entry.Error = cause.Error()
	entry.LastAttemptedAt = &now
	metrics.RecordDelivery("failed")
	logging.ErrorContext(ctx, "outbox entry rejected",
		"outbox_id", entry.ID,
		"transaction_uuid", entry.TransactionUUID,
		"error", cause.Error(),
	)
	return repos.Outbox().Update(ctx, entry)
}
