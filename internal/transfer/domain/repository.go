package domain

import (
	"context"
	"time"
)

// Direction filters a user's transaction history.
type Direction string

const (
	DirectionAll      Direction = "all"
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// ParseDirection maps a query-string value to a Direction, defaulting to all.
func ParseDirection(s string) Direction {
	switch Direction(s) {
	case DirectionSent:
		return DirectionSent
	case DirectionReceived:
		return DirectionReceived
	default:
		return DirectionAll
	}
}

// TransferStats aggregates a user's transfer history.
type TransferStats struct {
	TotalSent       int64 // sum of amount+commission over sent transfers
	TotalReceived   int64 // sum of amount over received transfers
	TotalCommission int64 // sum of commission paid as sender
	SentCount       int64
	ReceivedCount   int64
}

// UserRepository defines the interface for user persistence.
type UserRepository interface {
	// Create inserts a new user and fills in its surrogate id.
	// Returns ErrEmailInUse on a duplicate email.
	Create(ctx context.Context, user *User) error
	// FindByID retrieves a user by id. Returns ErrUserNotFound when absent.
	FindByID(ctx context.Context, id int64) (*User, error)
	// FindByEmail retrieves a user by exact email match.
	// Returns ErrUserNotFound when absent.
	FindByEmail(ctx context.Context, email string) (*User, error)
	// LockByIDs loads and exclusively locks the given user rows, returning
	// them indexed by id. Callers must pass ids sorted ascending; the
	// canonical order is what prevents pair-wise deadlocks. Missing rows are
	// simply absent from the result map.
	LockByIDs(ctx context.Context, ids []int64) (map[int64]*User, error)
	// UpdateBalance persists a new balance for a row the caller holds locked.
	UpdateBalance(ctx context.Context, userID int64, balance int64) error
}

// TransactionRepository defines the interface for the append-only ledger.
type TransactionRepository interface {
	// Insert writes a new ledger entry. Returns ErrIdempotencyRace when the
	// idempotency key is already taken by a concurrent attempt.
	Insert(ctx context.Context, txn *Transaction) error
	// FindByIdempotencyKeyForUpdate looks up a ledger entry by key, taking a
	// row lock so concurrent replays serialize at the lookup.
	// Returns (nil, nil) when no entry exists.
	FindByIdempotencyKeyForUpdate(ctx context.Context, key string) (*Transaction, error)
	// FindByUUID retrieves a ledger entry.
	// Returns ErrTransactionNotFound when absent.
	FindByUUID(ctx context.Context, uuid string) (*Transaction, error)
	// ListFor returns a page of a user's transactions ordered by created_at
	// descending, plus the total row count for the filter.
	ListFor(ctx context.Context, userID int64, direction Direction, page, perPage int) ([]*Transaction, int64, error)
	// StatsFor aggregates a user's transfer history.
	StatsFor(ctx context.Context, userID int64) (*TransferStats, error)
}

// SnapshotRepository defines the interface for post-transfer audit records.
type SnapshotRepository interface {
	// Insert writes a balance snapshot.
	Insert(ctx context.Context, snap *BalanceSnapshot) error
	// ListByTransaction returns the snapshots for a transaction.
	ListByTransaction(ctx context.Context, transactionUUID string) ([]*BalanceSnapshot, error)
}

// OutboxRepository defines the interface for the transactional outbox.
type OutboxRepository interface {
	// Append adds a pending entry. Written in the same atomic unit as the
	// transfer it belongs to.
	Append(ctx context.Context, entry *OutboxEntry) error
	// ClaimNextPending locks the oldest pending entry eligible at now
	// (respecting the delivery backoff), skipping rows locked by other
	// workers. Returns (nil, nil) when nothing is eligible.
	ClaimNextPending(ctx context.Context, now time.Time) (*OutboxEntry, error)
	// Update persists worker-side state transitions on a claimed entry.
	Update(ctx context.Context, entry *OutboxEntry) error
	// CountPending returns the number of pending entries.
	CountPending(ctx context.Context) (int64, error)
}

// TokenRepository defines the interface for bearer token persistence.
type TokenRepository interface {
	// Insert stores a token digest for a user.
	Insert(ctx context.Context, token *Token) error
	// FindUserByHash resolves a live, non-revoked token digest to its owner.
	// Returns ErrUserNotFound when the token is unknown or revoked.
	FindUserByHash(ctx context.Context, tokenHash string) (*User, error)
	// Revoke revokes the specific token. Other tokens of the user survive.
	Revoke(ctx context.Context, userID int64, tokenHash string) error
}

// Repositories provides access to all repositories within a transaction.
// Used with the Atomic pattern so all operations share the same transaction.
type Repositories interface {
	Users() UserRepository
	Transactions() TransactionRepository
	Snapshots() SnapshotRepository
	Outbox() OutboxRepository
	Tokens() TokenRepository
}

// AtomicCallback is the function signature for atomic operations.
// Any error returned will cause the transaction to be rolled back.
type AtomicCallback func(repos Repositories) error

// AtomicExecutor executes a callback within a database transaction.
// If the callback returns nil, the transaction is committed.
// If the callback returns an error, the transaction is rolled back.
type AtomicExecutor interface {
	Atomic(ctx context.Context, fn AtomicCallback) error
}

// DataStore is what the application services depend on: transactional
// execution plus direct repository access for reads.
type DataStore interface {
	AtomicExecutor
	Repositories
}
