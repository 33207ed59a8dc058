package application

import (
	"context"

	"remit/internal/transfer/domain"
)

// MaxPerPage clamps the page size on history listings.
const MaxPerPage = 100

// TransactionPage is one page of a user's history.
type TransactionPage struct {
	Transactions []*domain.Transaction
	Page         int
	PerPage      int
	Total        int64
}

// GetTransaction returns a ledger entry visible to the caller. A transaction
// is visible only to its sender and receiver; anything else reads as not
// found so existence does not leak.
func (s *TransferService) GetTransaction(ctx context.Context, callerID int64, uuid string) (*domain.Transaction, error) {
	txn, err := s.store.Transactions().FindByUUID(ctx, uuid)
	if err != nil {
		return nil, err
	}
	if txn.SenderID != callerID && txn.ReceiverID != callerID {
		return nil, domain.ErrTransactionNotFound
	}
	return txn, nil
}

// ListTransactions returns a page of the caller's history, newest first.
func (s *TransferService) ListTransactions(ctx context.Context, callerID int64, direction domain.Direction, page, perPage int) (*TransactionPage, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}

	txns, total, err := s.store.Transactions().ListFor(ctx, callerID, direction, page, perPage)
	if err != nil {
		return nil, err
	}
	return &TransactionPage{
		Transactions: txns,
		Page:         page,
		PerPage:      perPage,
		Total:        total,
	}, nil
}

// Stats aggregates the caller's transfer history.
func (s *TransferService) Stats(ctx context.Context, callerID int64) (*domain.TransferStats, error) {
	return s.store.Transactions().StatsFor(ctx, callerID)
}

// Balance returns the caller's current balance.
func (s *TransferService) Balance(ctx context.Context, callerID int64) (int64, error) {
	user, err := s.store.Users().FindByID(ctx, callerID)
	if err != nil {
		return 0, err
	}
	return user.Balance, nil
}
