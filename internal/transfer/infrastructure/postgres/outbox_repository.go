package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"remit/internal/transfer/domain"
)

// OutboxRepository implements domain.OutboxRepository using PostgreSQL.
// Entries are written in the same transaction as the transfer they belong to,
// then consumed by the delivery worker.
type OutboxRepository struct {
	db Executor
}

// NewOutboxRepository creates a new OutboxRepository.
func NewOutboxRepository(db Executor) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Append adds a pending entry.
func (r *OutboxRepository) Append(ctx context.Context, entry *domain.OutboxEntry) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO transaction_outbox (transaction_uuid, event_type, payload, status, attempts)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		entry.TransactionUUID, entry.EventType, []byte(entry.Payload), string(entry.Status), entry.Attempts,
	).Scan(&entry.ID, &entry.CreatedAt)
	return classifyError(err)
}

// ClaimNextPending locks the oldest pending entry whose backoff window has
// passed, skipping rows locked by concurrent workers. The backoff schedule
// 10*2^(attempts-1) seconds mirrors domain.DeliveryBackoff.
// Returns (nil, nil) when nothing is eligible.
func (r *OutboxRepository) ClaimNextPending(ctx context.Context, now time.Time) (*domain.OutboxEntry, error) {
	var e domain.OutboxEntry
	var status string
	var errText *string
	var payload []byte

	err := r.db.QueryRow(ctx,
		`SELECT id, transaction_uuid, event_type, payload, status, attempts, last_attempted_at, delivered_at, error, created_at
		 FROM transaction_outbox
		 WHERE status = 'pending'
		   AND (last_attempted_at IS NULL
		        OR last_attempted_at + make_interval(secs => 10 * power(2, LEAST(attempts, 5) - 1)) <= $1)
		 ORDER BY created_at ASC
		 LIMIT 1
		 FOR UPDATE SKIP LOCKED`,
		now,
	).Scan(&e.ID, &e.TransactionUUID, &e.EventType, &payload, &status, &e.Attempts,
		&e.LastAttemptedAt, &e.DeliveredAt, &errText, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyError(err)
	}

	e.Payload = payload
	e.Status = domain.OutboxStatus(status)
	if errText != nil {
		e.Error = *errText
	}
	return &e, nil
}

// Update persists worker-side state transitions on a claimed entry.
func (r *OutboxRepository) Update(ctx context.Context, entry *domain.OutboxEntry) error {
	var errText *string
	if entry.Error != "" {
		errText = &entry.Error
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE transaction_outbox
		 SET status = $2, attempts = $3, last_attempted_at = $4, delivered_at = $5, error = $6
		 WHERE id = $1`,
		entry.ID, string(entry.Status), entry.Attempts, entry.LastAttemptedAt, entry.DeliveredAt, errText)
	if err != nil {
		return classifyError(err)
	}
	if tag.RowsAffected() == 0 {
		return errors.New("outbox entry vanished during update")
	}
	return nil
}

// CountPending returns the number of pending entries.
func (r *OutboxRepository) CountPending(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM transaction_outbox WHERE status = 'pending'`,
	).Scan(&count)
	if err != nil {
		return 0, classifyError(err)
	}
	return count, nil
}

// Verify interface implementation.
var _ domain.OutboxRepository = (*OutboxRepository)(nil)
