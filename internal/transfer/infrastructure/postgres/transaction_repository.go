package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"remit/internal/transfer/domain"
)

const transactionColumns = `uuid, sender_id, receiver_id, amount, commission, status, idempotency_key, metadata, created_at`

// TransactionRepository implements the append-only ledger on PostgreSQL.
// Rows are inserted once and never updated.
type TransactionRepository struct {
	db Executor
}

// NewTransactionRepository creates a new PostgreSQL ledger repository.
func NewTransactionRepository(db Executor) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var t domain.Transaction
	var metadata []byte
	err := row.Scan(&t.UUID, &t.SenderID, &t.ReceiverID, &t.Amount, &t.Commission,
		&t.Status, &t.IdempotencyKey, &metadata, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
			return nil, fmt.Errorf("decoding transaction metadata: %w", err)
		}
	}
	return &t, nil
}

// Insert writes a new ledger entry, generating its uuid at insert time.
func (r *TransactionRepository) Insert(ctx context.Context, txn *domain.Transaction) error {
	if txn.UUID == "" {
		txn.UUID = uuid.NewString()
	}
	metadata, err := json.Marshal(txn.Metadata)
	if err != nil {
		return fmt.Errorf("encoding transaction metadata: %w", err)
	}

	err = r.db.QueryRow(ctx,
		`INSERT INTO transactions (uuid, sender_id, receiver_id, amount, commission, status, idempotency_key, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING created_at`,
		txn.UUID, txn.SenderID, txn.ReceiverID, txn.Amount, txn.Commission,
		string(txn.Status), txn.IdempotencyKey, metadata,
	).Scan(&txn.CreatedAt)
	if isUniqueViolation(err, "transactions_idempotency_key_key") {
		// A concurrent attempt with the same key raced past the locked lookup
		// on another connection. Deadlock-retry class.
		return domain.ErrIdempotencyRace
	}
	return classifyError(err)
}

// FindByIdempotencyKeyForUpdate looks up a ledger entry by key with a row
// lock, so concurrent replays of the same key serialize here.
func (r *TransactionRepository) FindByIdempotencyKeyForUpdate(ctx context.Context, key string) (*domain.Transaction, error) {
	txn, err := scanTransaction(r.db.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE idempotency_key = $1 FOR UPDATE`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyError(err)
	}
	return txn, nil
}

// FindByUUID retrieves a ledger entry.
func (r *TransactionRepository) FindByUUID(ctx context.Context, id string) (*domain.Transaction, error) {
	txn, err := scanTransaction(r.db.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE uuid = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTransactionNotFound
	}
	if err != nil {
		return nil, classifyError(err)
	}
	return txn, nil
}

// directionFilter returns the WHERE fragment for a history filter. The column
// references are fixed strings, never caller input.
func directionFilter(direction domain.Direction) string {
	switch direction {
	case domain.DirectionSent:
		return `sender_id = $1`
	case domain.DirectionReceived:
		return `receiver_id = $1`
	default:
		return `(sender_id = $1 OR receiver_id = $1)`
	}
}

// ListFor returns a page of a user's transactions ordered newest first, plus
// the total row count for the filter.
func (r *TransactionRepository) ListFor(ctx context.Context, userID int64, direction domain.Direction, page, perPage int) ([]*domain.Transaction, int64, error) {
	filter := directionFilter(direction)

	var total int64
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM transactions WHERE `+filter, userID,
	).Scan(&total)
	if err != nil {
		return nil, 0, classifyError(err)
	}

	rows, err := r.db.Query(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE `+filter+`
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`,
		userID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, classifyError(err)
	}
	defer rows.Close()

	var txns []*domain.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, err
		}
		txns = append(txns, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, classifyError(err)
	}
	return txns, total, nil
}

// StatsFor aggregates a user's completed transfers. Both directions are
// answered by index-backed aggregate queries.
func (r *TransactionRepository) StatsFor(ctx context.Context, userID int64) (*domain.TransferStats, error) {
	stats := &domain.TransferStats{}

	err := r.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount + commission), 0), COALESCE(SUM(commission), 0), COUNT(*)
		 FROM transactions
		 WHERE sender_id = $1 AND status = 'completed'`,
		userID,
	).Scan(&stats.TotalSent, &stats.TotalCommission, &stats.SentCount)
	if err != nil {
		return nil, classifyError(err)
	}

	err = r.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0), COUNT(*)
		 FROM transactions
		 WHERE receiver_id = $1 AND status = 'completed'`,
		userID,
	).Scan(&stats.TotalReceived, &stats.ReceivedCount)
	if err != nil {
		return nil, classifyError(err)
	}

	return stats, nil
}

// Verify interface implementation.
var _ domain.TransactionRepository = (*TransactionRepository)(nil)
