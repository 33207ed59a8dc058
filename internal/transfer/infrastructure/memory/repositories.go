package memory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"remit/internal/transfer/domain"
)

// UserRepository implements domain.UserRepository in memory.
type UserRepository struct {
	ds   *DataStore
	inTx bool
}

// Create inserts a new user, assigning its id.
func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	unlock := r.ds.acquire(r.inTx)
	defer unlock()

	for _, existing := range r.ds.users {
		if existing.Email == user.Email {
			return domain.ErrEmailInUse
		}
	}

	r.ds.nextUserID++
	user.ID = r.ds.nextUserID
	user.CreatedAt = now()
	r.ds.users[user.ID] = cloneUser(user)
	return nil
}

// FindByID retrieves a user by id.
func (r *UserRepository) FindByID(ctx context.Context, id int64) (*domain.User, error) {
	unlock := r.ds.acquire(r.inTx)
	defer unlock()

	user, ok := r.ds.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return cloneUser(user), nil
}

// FindByEmail retrieves a user by exact email match.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	unlock := r.ds.acquire(r.inTx)
	defer unlock()

	for _, user := range r.ds.users {
		if user.Email == email {
			return cloneUser(user), nil
		}
	}
	return nil, domain.ErrUserNotFound
}

// LockByIDs returns the requested users indexed by id. The store lock already
// serializes atomic units, so no per-row locking is needed here.
func (r *UserRepository) LockByIDs(ctx context.Context, ids []int64) (map[int64]*domain.User, error) {
	unlock := r.ds.acquire(r.inTx)
	defer unlock()

	result := make(map[int64]*domain.User, len(ids))
	for _, id := range ids {
		if user, ok := r.ds.users[id]; ok {
			result[id] = cloneUser(user)
		}
	}
	return result, nil
}

// UpdateBalance persists a new balance for a user.
func (r *UserRepository) UpdateBalance(ctx context.Context, userID int64, balance int64) error {
	unlock := r.ds.acquire(r.inTx)
	defer unlock()

	user, ok := r.ds.users[userID]
	if !ok {
		return domain.ErrUserNotFound
	}
	user.Balance = balance
	return nil
}

// TransactionRepository implements the append-only ledger in memory.
type TransactionRepository struct {
	ds   *DataStore
	inTx bool
}

// Insert writes a new ledger entry.
func (r *TransactionRepository) Insert(ctx context.Context, txn *domain.Transaction) error {
	unlock := r.ds.acquire(r.inTx)
	defer unlock()

	if txn.UUID == "" {
		txn.UUID = uuid.NewString()
	}
	for _, existing := range r.ds.txns {
		if existing.IdempotencyKey == txn.IdempotencyKey {
			return domain.ErrIdempotencyRace
		}
	}
	txn.CreatedAt = now()
	r.ds.txns[txn.UUID] = cloneTransaction(txn)
	r.ds.txnOrder = append(r.ds.txnOrder, txn.UUID)
	return nil
}

// FindByIdempotencyKeyForUpdate looks up a ledger entry by key. Atomic units
// are fully serialized, which subsumes the row lock.
func (r *TransactionRepository) FindByIdempotencyKeyForUpdate(ctx context.Context, key string) (*domain.Transaction, error) {
	unlock := r.ds.acquire(r.inTx)
	defer unlock()

	for _, txn := range r.ds.txns {
		if txn.IdempotencyKey == key {
			return cloneTransaction(txn), nil
		}
	}
	return nil, nil
}

// FindByUUID retrieves a ledger entry.
func (r *TransactionRepository) FindByUUID(ctx context.Context, id string) (*domain.Transaction, error) {
	unlock := r.ds.acquire(r.inTx)
	defer unlock()

	txn, ok := r.ds.txns[id]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	return cloneTransaction(txn), nil
}

func matchesDirection(txn *domain.Transaction, userID int64, direction domain.Direction) bool {
	switch direction {
	case domain.DirectionSent:
		return txn.SenderID == userID
	case domain.DirectionReceived:
		return txn.ReceiverID == userID
	default:
		return txn.SenderID == userID || txn.ReceiverID == userID
	}
}

// ListFor returns a page of a user's transactions ordered newest first, plus
// the total row count for the filter.
func (r *TransactionRepository) ListFor(ctx context.Context, userID int64, direction domain.Direction, page, perPage int) ([]*domain.Transaction, int64, error) {
	unlock := r.ds.acquire(r.inTx)
	defer unlock()

	var matched []*domain.Transaction
	for _, id := range r.ds.txnOrder {
		txn := r.ds.txns[id]
		if matchesDirection(txn, userID, direction) {
			matched = append(matched, txn)
		}
	}
	// Insertion order is chronological; newest first means reversing it.
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}

	total := int64(len(matched))
	start := (page - 1) * perPage
	if start >= len(matched) {
		return nil, total, nil
	}
	end := start + perPage
	if end > len(matched) {
		end = len(matched)
	}

	result := make([]*domain.Transaction, 0, end-start)
	for _, txn := range matched[start:end] {
		result = append(result, cloneTransaction(txn))
	}
	return result, total, nil
}

// StatsFor aggregates a user's completed transfers.
func (r *TransactionRepository) StatsFor(ctx context.Context, userID int64) (*domain.TransferStats, error) {
	unlock := r.ds.acquire(r.inTx)
	defer unlock()

	stats := &domain.TransferStats{}
	for _, txn := range r.ds.txns {
		if txn.Status != domain.TransactionCompleted {
			continue
		}
		if txn.SenderID == userID {
			stats.TotalSent += txn.Amount + txn.Commission
			stats.TotalCommission += txn.Commission
			stats.SentCount++
		}
		if txn.ReceiverID == userID {
			stats.TotalReceived += txn.Amount
			stats.ReceivedCount++
		}
	}
	return stats, nil
}

// SnapshotRepository implements domain.SnapshotRepository in memory.
type SnapshotRepository struct {
	ds   *DataStore
	inTx bool
}

// Insert writes a balance snapshot.
func (r *SnapshotRepository) Insert(ctx context.Context, snap *domain.BalanceSnapshot) error {
	unlock := r.ds.acquire(r.inTx)
	defer unlock()

	r.ds.nextSnapID++
	snap.ID = r.ds.nextSnapID
	snap.CreatedAt = now()
	r.ds.snapshots = append(r.ds.snapshots, cloneSnapshot(snap))
	return nil
}

// ListByTransaction returns the snapshots recorded for a transaction.
func (r *SnapshotRepository) ListByTransaction(ctx context.Context, transactionUUID string) ([]*domain.BalanceSnapshot, error) {
	unlock := r.ds.acquire(r.inTx)
	defer unlock()

	var snaps []*domain.BalanceSnapshot
	for _, snap := range r.ds.snapshots {
		if snap.TransactionUUID == transactionUUID {
			snaps = append(snaps, cloneSnapshot(snap))
		}
	}
	return snaps, nil
}

// OutboxRepository implements domain.OutboxRepository in memory.
type OutboxRepository struct {
	ds   *DataStore
	inTx bool
}

// Append adds a pending entry.
func (r *OutboxRepository) Append(ctx context.Context, entry *domain.OutboxEntry) error {
	unlock := r.ds.acquire(r.inTx)
	defer unlock()

	r.ds.nextOutboxID++
	entry.ID = r.ds.nextOutboxID
	entry.CreatedAt = now()
	r.ds.outbox = append(r.ds.outbox, cloneOutboxEntry(entry))
	return nil
}

// ClaimNextPending returns the oldest pending entry whose backoff window has
// passed, or (nil, nil) when nothing is eligible.
func (r *OutboxRepository) ClaimNextPending(ctx context.Context, now time.Time) (*domain.OutboxEntry, error) {
	unlock := r.ds.acquire(r.inTx)
	defer unlock()

	for _, entry := range r.ds.outbox {
		if entry.Status != domain.OutboxPending {
			continue
		}
		if entry.EligibleAt().After(now) {
			continue
		}
		return cloneOutboxEntry(entry), nil
	}
	return nil, nil
}

// Update persists worker-side state transitions on a claimed entry.
func (r *OutboxRepository) Update(ctx context.Context, updated *domain.OutboxEntry) error {
	unlock := r.ds.acquire(r.inTx)
	defer unlock()

	for i, entry := range r.ds.outbox {
		if entry.ID == updated.ID {
			r.ds.outbox[i] = cloneOutboxEntry(updated)
			return nil
		}
	}
	return errors.New("outbox entry vanished during update")
}

// CountPending returns the number of pending entries.
func (r *OutboxRepository) CountPending(ctx context.Context) (int64, error) {
	unlock := r.ds.acquire(r.inTx)
	defer unlock()

	var count int64
	for _, entry := range r.ds.outbox {
		if entry.Status == domain.OutboxPending {
			count++
		}
	}
	return count, nil
}

// TokenRepository implements domain.TokenRepository in memory.
type TokenRepository struct {
	ds   *DataStore
	inTx bool
}

// Insert stores a token digest for a user.
func (r *TokenRepository) Insert(ctx context.Context, token *domain.Token) error {
	unlock := r.ds.acquire(r.inTx)
	defer unlock()

	r.ds.nextTokenID++
	token.ID = r.ds.nextTokenID
	token.CreatedAt = now()
	r.ds.tokens[token.TokenHash] = cloneToken(token)
	return nil
}

// FindUserByHash resolves a live, non-revoked token digest to its owner.
func (r *TokenRepository) FindUserByHash(ctx context.Context, tokenHash string) (*domain.User, error) {
	unlock := r.ds.acquire(r.inTx)
	defer unlock()

	token, ok := r.ds.tokens[tokenHash]
	if !ok || token.RevokedAt != nil {
		return nil, domain.ErrUserNotFound
	}
	user, ok := r.ds.users[token.UserID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return cloneUser(user), nil
}

// Revoke revokes the specific token. Unknown tokens are a no-op.
func (r *TokenRepository) Revoke(ctx context.Context, userID int64, tokenHash string) error {
	unlock := r.ds.acquire(r.inTx)
	defer unlock()

	token, ok := r.ds.tokens[tokenHash]
	if !ok || token.UserID != userID || token.RevokedAt != nil {
		return nil
	}
	revoked := now()
	token.RevokedAt = &revoked
	return nil
}

// Verify interface implementations.
var (
	_ domain.UserRepository        = (*UserRepository)(nil)
	_ domain.TransactionRepository = (*TransactionRepository)(nil)
	_ domain.SnapshotRepository    = (*SnapshotRepository)(nil)
	_ domain.OutboxRepository      = (*OutboxRepository)(nil)
	_ domain.TokenRepository       = (*TokenRepository)(nil)
)
