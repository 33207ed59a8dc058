package application_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"remit/internal/transfer/application"
	"remit/internal/transfer/domain"
	"remit/internal/transfer/infrastructure/memory"
)

func TestTransferService_GetTransaction(t *testing.T) {
	ctx := context.Background()
	store := memory.NewDataStore()
	service := application.NewTransferService(store, nil)
	alice := seedUser(t, store, "Alice", "alice@example.com", 100_000)
	bob := seedUser(t, store, "Bob", "bob@example.com", 0)
	eve := seedUser(t, store, "Eve", "eve@example.com", 0)

	result, err := service.Transfer(ctx, alice.ID, bob.ID, 10_000, "key-get", nil)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	uuid := result.Transaction.UUID

	t.Run("visible to sender", func(t *testing.T) {
		txn, err := service.GetTransaction(ctx, alice.ID, uuid)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if txn.UUID != uuid {
			t.Errorf("got wrong transaction %s", txn.UUID)
		}
	})

	t.Run("visible to receiver", func(t *testing.T) {
		if _, err := service.GetTransaction(ctx, bob.ID, uuid); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	})

	t.Run("reads as not found for third parties", func(t *testing.T) {
		_, err := service.GetTransaction(ctx, eve.ID, uuid)
		if !errors.Is(err, domain.ErrTransactionNotFound) {
			t.Errorf("expected ErrTransactionNotFound, got %v", err)
		}
	})

	t.Run("unknown uuid", func(t *testing.T) {
		_, err := service.GetTransaction(ctx, alice.ID, "00000000-0000-0000-0000-000000000000")
		if !errors.Is(err, domain.ErrTransactionNotFound) {
			t.Errorf("expected ErrTransactionNotFound, got %v", err)
		}
	})
}

func TestTransferService_ListTransactions(t *testing.T) {
	ctx := context.Background()
	store := memory.NewDataStore()
	service := application.NewTransferService(store, nil)
	alice := seedUser(t, store, "Alice", "alice@example.com", 1_000_000)
	bob := seedUser(t, store, "Bob", "bob@example.com", 1_000_000)

	// Alice sends 5, receives 2.
	for i := range 5 {
		if _, err := service.Transfer(ctx, alice.ID, bob.ID, 1_000, fmt.Sprintf("out-%d", i), nil); err != nil {
			t.Fatalf("transfer out-%d: %v", i, err)
		}
	}
	for i := range 2 {
		if _, err := service.Transfer(ctx, bob.ID, alice.ID, 2_000, fmt.Sprintf("in-%d", i), nil); err != nil {
			t.Fatalf("transfer in-%d: %v", i, err)
		}
	}

	t.Run("default page covers all directions newest first", func(t *testing.T) {
		page, err := service.ListTransactions(ctx, alice.ID, domain.DirectionAll, 0, 0)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if page.Page != 1 || page.PerPage != 20 {
			t.Errorf("expected defaults 1/20, got %d/%d", page.Page, page.PerPage)
		}
		if page.Total != 7 || len(page.Transactions) != 7 {
			t.Fatalf("expected 7 transactions, got total=%d len=%d", page.Total, len(page.Transactions))
		}
		// The most recent transfer was bob -> alice.
		if page.Transactions[0].SenderID != bob.ID {
			t.Errorf("expected newest first, got sender %d", page.Transactions[0].SenderID)
		}
	})

	t.Run("direction filters", func(t *testing.T) {
		sent, err := service.ListTransactions(ctx, alice.ID, domain.DirectionSent, 1, 20)
		if err != nil {
			t.Fatalf("sent: %v", err)
		}
		if sent.Total != 5 {
			t.Errorf("expected 5 sent, got %d", sent.Total)
		}

		received, err := service.ListTransactions(ctx, alice.ID, domain.DirectionReceived, 1, 20)
		if err != nil {
			t.Fatalf("received: %v", err)
		}
		if received.Total != 2 {
			t.Errorf("expected 2 received, got %d", received.Total)
		}
	})

	t.Run("pagination slices and reports the full total", func(t *testing.T) {
		page, err := service.ListTransactions(ctx, alice.ID, domain.DirectionAll, 2, 3)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(page.Transactions) != 3 || page.Total != 7 {
			t.Errorf("expected 3 of 7, got %d of %d", len(page.Transactions), page.Total)
		}

		last, err := service.ListTransactions(ctx, alice.ID, domain.DirectionAll, 3, 3)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(last.Transactions) != 1 {
			t.Errorf("expected trailing page of 1, got %d", len(last.Transactions))
		}
	})

	t.Run("per page is clamped", func(t *testing.T) {
		page, err := service.ListTransactions(ctx, alice.ID, domain.DirectionAll, 1, 10_000)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if page.PerPage != application.MaxPerPage {
			t.Errorf("expected per_page clamped to %d, got %d", application.MaxPerPage, page.PerPage)
		}
	})

	t.Run("page past the end is empty", func(t *testing.T) {
		page, err := service.ListTransactions(ctx, alice.ID, domain.DirectionAll, 99, 20)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(page.Transactions) != 0 || page.Total != 7 {
			t.Errorf("expected empty page with total 7, got %d/%d", len(page.Transactions), page.Total)
		}
	})
}

func TestTransferService_Stats(t *testing.T) {
	ctx := context.Background()
	store := memory.NewDataStore()
	service := application.NewTransferService(store, nil)
	alice := seedUser(t, store, "Alice", "alice@example.com", 1_000_000)
	bob := seedUser(t, store, "Bob", "bob@example.com", 1_000_000)

	// alice -> bob: 10000 + 150 commission; bob -> alice: 2000 + 30 commission.
	if _, err := service.Transfer(ctx, alice.ID, bob.ID, 10_000, "stat-1", nil); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if _, err := service.Transfer(ctx, bob.ID, alice.ID, 2_000, "stat-2", nil); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	stats, err := service.Stats(ctx, alice.ID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if stats.TotalSent != 10_150 {
		t.Errorf("expected total sent 10150, got %d", stats.TotalSent)
	}
	if stats.TotalReceived != 2_000 {
		t.Errorf("expected total received 2000, got %d", stats.TotalReceived)
	}
	if stats.TotalCommission != 150 {
		t.Errorf("expected total commission 150, got %d", stats.TotalCommission)
	}
	if stats.SentCount != 1 || stats.ReceivedCount != 1 {
		t.Errorf("expected counts 1/1, got %d/%d", stats.SentCount, stats.ReceivedCount)
	}
}

func TestTransferService_Balance(t *testing.T) {
	ctx := context.Background()
	store := memory.NewDataStore()
	service := application.NewTransferService(store, nil)
	alice := seedUser(t, store, "Alice", "alice@example.com", 42_000)

	balance, err := service.Balance(ctx, alice.ID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if balance != 42_000 {
		t.Errorf("expected 42000, got %d", balance)
	}

	if _, err := service.Balance(ctx, alice.ID+1); !errors.Is(err, domain.ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}
