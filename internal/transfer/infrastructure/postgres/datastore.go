package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"remit/internal/transfer/domain"
)

// Executor abstracts database operations that work with both pool and
// transaction (*pgxpool.Pool and pgx.Tx).
type Executor interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Verify that both pgxpool.Pool and pgx.Tx implement Executor.
var (
	_ Executor = (*pgxpool.Pool)(nil)
	_ Executor = (pgx.Tx)(nil)
)

// DataStore bundles the Postgres repositories and the Atomic executor.
type DataStore struct {
	pool         *pgxpool.Pool
	userRepo     *UserRepository
	txnRepo      *TransactionRepository
	snapshotRepo *SnapshotRepository
	outboxRepo   *OutboxRepository
	tokenRepo    *TokenRepository
}

// NewDataStore creates a new DataStore with the given connection pool.
func NewDataStore(pool *pgxpool.Pool) *DataStore {
	return &DataStore{
		pool:         pool,
		userRepo:     NewUserRepository(pool),
		txnRepo:      NewTransactionRepository(pool),
		snapshotRepo: NewSnapshotRepository(pool),
		outboxRepo:   NewOutboxRepository(pool),
		tokenRepo:    NewTokenRepository(pool),
	}
}

// Users returns the user repository.
func (ds *DataStore) Users() domain.UserRepository { return ds.userRepo }

// Transactions returns the ledger repository.
func (ds *DataStore) Transactions() domain.TransactionRepository { return ds.txnRepo }

// Snapshots returns the balance snapshot repository.
func (ds *DataStore) Snapshots() domain.SnapshotRepository { return ds.snapshotRepo }

// Outbox returns the outbox repository.
func (ds *DataStore) Outbox() domain.OutboxRepository { return ds.outboxRepo }

// Tokens returns the token repository.
func (ds *DataStore) Tokens() domain.TokenRepository { return ds.tokenRepo }

// withTx creates a DataStore whose repositories all share one transaction.
// This is the key to the Atomic pattern.
func (ds *DataStore) withTx(tx pgx.Tx) *DataStore {
	return &DataStore{
		pool:         ds.pool,
		userRepo:     NewUserRepository(tx),
		txnRepo:      NewTransactionRepository(tx),
		snapshotRepo: NewSnapshotRepository(tx),
		outboxRepo:   NewOutboxRepository(tx),
		tokenRepo:    NewTokenRepository(tx),
	}
}

// Atomic executes the callback within a database transaction.
// If the callback returns nil, the transaction is committed.
// If the callback returns an error or panics, the transaction is rolled back.
// Deadlock-class failures, including ones surfacing at commit, come back
// wrapped as domain.ErrDeadlock so callers can retry.
func (ds *DataStore) Atomic(ctx context.Context, fn domain.AtomicCallback) (err error) {
	tx, err := ds.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				err = fmt.Errorf("tx error: %v, rollback error: %v", err, rbErr)
			}
		} else {
			if commitErr := tx.Commit(ctx); commitErr != nil {
				err = classifyError(fmt.Errorf("commit transaction: %w", commitErr))
			}
		}
	}()

	err = fn(ds.withTx(tx))
	return
}

// Verify interface implementations.
var (
	_ domain.AtomicExecutor = (*DataStore)(nil)
	_ domain.Repositories   = (*DataStore)(nil)
	_ domain.DataStore      = (*DataStore)(nil)
)
