package postgres

import (
	"context"

	"remit/internal/transfer/domain"
)

// SnapshotRepository implements domain.SnapshotRepository using PostgreSQL.
type SnapshotRepository struct {
	db Executor
}

// NewSnapshotRepository creates a new PostgreSQL snapshot repository.
func NewSnapshotRepository(db Executor) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// Insert writes a balance snapshot.
func (r *SnapshotRepository) Insert(ctx context.Context, snap *domain.BalanceSnapshot) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO balance_snapshots (user_id, balance, transaction_uuid)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		snap.UserID, snap.Balance, snap.TransactionUUID,
	).Scan(&snap.ID, &snap.CreatedAt)
	return classifyError(err)
}

// ListByTransaction returns the snapshots recorded for a transaction.
func (r *SnapshotRepository) ListByTransaction(ctx context.Context, transactionUUID string) ([]*domain.BalanceSnapshot, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, user_id, balance, transaction_uuid, created_at
		 FROM balance_snapshots
		 WHERE transaction_uuid = $1
		 ORDER BY id`,
		transactionUUID)
	if err != nil {
		return nil, classifyError(err)
	}
	defer rows.Close()

	var snaps []*domain.BalanceSnapshot
	for rows.Next() {
		var s domain.BalanceSnapshot
		if err := rows.Scan(&s.ID, &s.UserID, &s.Balance, &s.TransactionUUID, &s.CreatedAt); err != nil {
			return nil, err
		}
		snaps = append(snaps, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError(err)
	}
	return snaps, nil
}

// Verify interface implementation.
var _ domain.SnapshotRepository = (*SnapshotRepository)(nil)
