package domain

import (
	"encoding/json"
	"time"
)

// User holds an account identity and its current balance in minor units.
// The balance is mutated only by the transfer engine while the row is locked.
type User struct {
	ID             int64
	Name           string
	Email          string
	PasswordHash   string
	Balance        int64
	InitialBalance int64
	CreatedAt      time.Time
}

// TransactionStatus is the terminal state of a ledger entry.
type TransactionStatus string

const (
	// TransactionCompleted is the only status the engine writes.
	TransactionCompleted TransactionStatus = "completed"
	// TransactionFailed exists for seeded/historical data only.
	TransactionFailed TransactionStatus = "failed"
)

// Transaction is an immutable ledger entry. Rows are never updated after insert.
type Transaction struct {
	UUID           string
	SenderID       int64
	ReceiverID     int64
	Amount         int64
	Commission     int64
	Status         TransactionStatus
	IdempotencyKey string
	Metadata       map[string]any
	CreatedAt      time.Time
}

// TotalDebited returns what left the sender's balance.
func (t *Transaction) TotalDebited() int64 {
	return t.Amount + t.Commission
}

// BalanceSnapshot is a post-transfer audit record. Exactly two are written per
// committed transfer, one per party, inside the same atomic unit.
type BalanceSnapshot struct {
	ID              int64
	UserID          int64
	Balance         int64
	TransactionUUID string
	CreatedAt       time.Time
}

// OutboxStatus is the delivery state of an outbox entry.
type OutboxStatus string

const (
	OutboxPending    OutboxStatus = "pending"
	OutboxProcessing OutboxStatus = "processing"
	OutboxDelivered  OutboxStatus = "delivered"
	OutboxFailed     OutboxStatus = "failed"
)

// MaxDeliveryAttempts is the attempt budget before an entry fails terminally.
const MaxDeliveryAttempts = 5

// deliveryBackoff is the retry schedule keyed off the attempt count.
var deliveryBackoff = []time.Duration{
	10 * time.Second,
	20 * time.Second,
	40 * time.Second,
	80 * time.Second,
	160 * time.Second,
}

// DeliveryBackoff returns the wait after the given number of failed attempts.
func DeliveryBackoff(attempts int) time.Duration {
	if attempts <= 0 {
		return 0
	}
	if attempts > len(deliveryBackoff) {
		attempts = len(deliveryBackoff)
	}
	return deliveryBackoff[attempts-1]
}

// OutboxEntry is a durable event record co-committed with a transfer.
type OutboxEntry struct {
	ID              int64
	TransactionUUID string
	EventType       string
	Payload         json.RawMessage
	Status          OutboxStatus
	Attempts        int
	LastAttemptedAt *time.Time
	DeliveredAt     *time.Time
	Error           string
	CreatedAt       time.Time
}

// EligibleAt returns the earliest time the entry may be attempted again.
func (e *OutboxEntry) EligibleAt() time.Time {
	if e.LastAttemptedAt == nil {
		return e.CreatedAt
	}
	return e.LastAttemptedAt.Add(DeliveryBackoff(e.Attempts))
}

// Token is a bearer token issued to a user. Only the SHA-256 digest of the
// opaque token string is stored.
type Token struct {
	ID        int64
	UserID    int64
	TokenHash string
	CreatedAt time.Time
	RevokedAt *time.Time
}
