// Package memory implements domain.DataStore in process memory. It backs unit
// tests and the BDD features; production wiring uses the postgres package.
package memory

import (
	"context"
	"sync"
	"time"

	"remit/internal/transfer/domain"
)

// DataStore implements domain.AtomicExecutor and domain.Repositories.
// Concurrency: a single mutex serializes atomic units, so the locked-lookup
// and canonical-lock-order races the engine defends against cannot occur
// here; tests that need real contention run against Postgres.
type DataStore struct {
	mu sync.Mutex

	users     map[int64]*domain.User
	txns      map[string]*domain.Transaction
	txnOrder  []string
	snapshots []*domain.BalanceSnapshot
	outbox    []*domain.OutboxEntry
	tokens    map[string]*domain.Token

	nextUserID   int64
	nextSnapID   int64
	nextOutboxID int64
	nextTokenID  int64
}

// NewDataStore creates an empty in-memory DataStore.
func NewDataStore() *DataStore {
	return &DataStore{
		users:  make(map[int64]*domain.User),
		txns:   make(map[string]*domain.Transaction),
		tokens: make(map[string]*domain.Token),
	}
}

// Users returns the user repository.
func (ds *DataStore) Users() domain.UserRepository { return &UserRepository{ds: ds} }

// Transactions returns the ledger repository.
func (ds *DataStore) Transactions() domain.TransactionRepository {
	return &TransactionRepository{ds: ds}
}

// Snapshots returns the balance snapshot repository.
func (ds *DataStore) Snapshots() domain.SnapshotRepository { return &SnapshotRepository{ds: ds} }

// Outbox returns the outbox repository.
func (ds *DataStore) Outbox() domain.OutboxRepository { return &OutboxRepository{ds: ds} }

// Tokens returns the token repository.
func (ds *DataStore) Tokens() domain.TokenRepository { return &TokenRepository{ds: ds} }

// Atomic executes the callback while holding the store lock. State is
// snapshotted first and restored if the callback errors or panics, giving the
// same commit/rollback contract as the Postgres implementation.
func (ds *DataStore) Atomic(ctx context.Context, fn domain.AtomicCallback) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	backup := ds.snapshotState()
	defer func() {
		if p := recover(); p != nil {
			ds.restoreState(backup)
			panic(p)
		}
	}()

	if err := fn(&txRepositories{ds: ds}); err != nil {
		ds.restoreState(backup)
		return err
	}
	return nil
}

// txRepositories hands out repositories that assume the store lock is held.
type txRepositories struct {
	ds *DataStore
}

func (t *txRepositories) Users() domain.UserRepository { return &UserRepository{ds: t.ds, inTx: true} }
func (t *txRepositories) Transactions() domain.TransactionRepository {
	return &TransactionRepository{ds: t.ds, inTx: true}
}
func (t *txRepositories) Snapshots() domain.SnapshotRepository {
	return &SnapshotRepository{ds: t.ds, inTx: true}
}
func (t *txRepositories) Outbox() domain.OutboxRepository {
	return &OutboxRepository{ds: t.ds, inTx: true}
}
func (t *txRepositories) Tokens() domain.TokenRepository {
	return &TokenRepository{ds: t.ds, inTx: true}
}

// acquire takes the store lock unless the caller already holds it via Atomic.
func (ds *DataStore) acquire(inTx bool) func() {
	if inTx {
		return func() {}
	}
	ds.mu.Lock()
	return ds.mu.Unlock
}

type state struct {
	users     map[int64]*domain.User
	txns      map[string]*domain.Transaction
	txnOrder  []string
	snapshots []*domain.BalanceSnapshot
	outbox    []*domain.OutboxEntry
	tokens    map[string]*domain.Token

	nextUserID   int64
	nextSnapID   int64
	nextOutboxID int64
	nextTokenID  int64
}

func (ds *DataStore) snapshotState() state {
	s := state{
		users:        make(map[int64]*domain.User, len(ds.users)),
		txns:         make(map[string]*domain.Transaction, len(ds.txns)),
		txnOrder:     append([]string(nil), ds.txnOrder...),
		snapshots:    make([]*domain.BalanceSnapshot, len(ds.snapshots)),
		outbox:       make([]*domain.OutboxEntry, len(ds.outbox)),
		tokens:       make(map[string]*domain.Token, len(ds.tokens)),
		nextUserID:   ds.nextUserID,
		nextSnapID:   ds.nextSnapID,
		nextOutboxID: ds.nextOutboxID,
		nextTokenID:  ds.nextTokenID,
	}
	for id, u := range ds.users {
		s.users[id] = cloneUser(u)
	}
	for id, txn := range ds.txns {
		s.txns[id] = cloneTransaction(txn)
	}
	for i, snap := range ds.snapshots {
		s.snapshots[i] = cloneSnapshot(snap)
	}
	for i, entry := range ds.outbox {
		s.outbox[i] = cloneOutboxEntry(entry)
	}
	for hash, token := range ds.tokens {
		s.tokens[hash] = cloneToken(token)
	}
	return s
}

func (ds *DataStore) restoreState(s state) {
	ds.users = s.users
	ds.txns = s.txns
	ds.txnOrder = s.txnOrder
	ds.snapshots = s.snapshots
	ds.outbox = s.outbox
	ds.tokens = s.tokens
	ds.nextUserID = s.nextUserID
	ds.nextSnapID = s.nextSnapID
	ds.nextOutboxID = s.nextOutboxID
	ds.nextTokenID = s.nextTokenID
}

func now() time.Time {
	return time.Now().UTC()
}

func cloneUser(u *domain.User) *domain.User {
	c := *u
	return &c
}

func cloneTransaction(t *domain.Transaction) *domain.Transaction {
	c := *t
	if t.Metadata != nil {
		c.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

func cloneSnapshot(s *domain.BalanceSnapshot) *domain.BalanceSnapshot {
	c := *s
	return &c
}

func cloneOutboxEntry(e *domain.OutboxEntry) *domain.OutboxEntry {
	c := *e
	c.Payload = append([]byte(nil), e.Payload...)
	if e.LastAttemptedAt != nil {
		t := *e.LastAttemptedAt
		c.LastAttemptedAt = &t
	}
	if e.DeliveredAt != nil {
		t := *e.DeliveredAt
		c.DeliveredAt = &t
	}
	return &c
}

func cloneToken(t *domain.Token) *domain.Token {
	c := *t
	if t.RevokedAt != nil {
		r := *t.RevokedAt
		c.RevokedAt = &r
	}
	return &c
}

// Verify interface implementations.
var (
	_ domain.AtomicExecutor = (*DataStore)(nil)
	_ domain.Repositories   = (*DataStore)(nil)
	_ domain.DataStore      = (*DataStore)(nil)
)
