package application_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"remit/internal/transfer/application"
	"remit/internal/transfer/domain"
	"remit/internal/transfer/infrastructure/memory"
)

func seedUser(t *testing.T, store *memory.DataStore, name, email string, balance int64) *domain.User {
	t.Helper()
	user := &domain.User{
		Name:           name,
		Email:          email,
		PasswordHash:   "not-a-real-hash",
		Balance:        balance,
		InitialBalance: balance,
	}
	if err := store.Users().Create(context.Background(), user); err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	return user
}

// countingWaker records post-commit wake signals.
type countingWaker struct {
	wakes atomic.Int64
}

func (w *countingWaker) Wake() { w.wakes.Add(1) }

func TestTransferService_Transfer(t *testing.T) {
	ctx := context.Background()

	t.Run("successful transfer moves amount and commission", func(t *testing.T) {
		store := memory.NewDataStore()
		waker := &countingWaker{}
		service := application.NewTransferService(store, waker)
		alice := seedUser(t, store, "Alice", "alice@example.com", 100_000)
		bob := seedUser(t, store, "Bob", "bob@example.com", 50_000)

		result, err := service.Transfer(ctx, alice.ID, bob.ID, 10_000, "key-1", nil)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if result.Transaction.Commission != 150 {
			t.Errorf("expected commission 150, got %d", result.Transaction.Commission)
		}
		if result.SenderBalance != 89_850 {
			t.Errorf("expected sender balance 89850, got %d", result.SenderBalance)
		}
		if result.ReceiverBalance != 60_000 {
			t.Errorf("expected receiver balance 60000, got %d", result.ReceiverBalance)
		}
		if result.Replayed {
			t.Error("expected a fresh transfer, got a replay")
		}
		if result.Transaction.Status != domain.TransactionCompleted {
			t.Errorf("expected status completed, got %s", result.Transaction.Status)
		}
		if waker.wakes.Load() != 1 {
			t.Errorf("expected 1 wake signal, got %d", waker.wakes.Load())
		}

		// The stored balances match the result.
		sender, _ := store.Users().FindByID(ctx, alice.ID)
		receiver, _ := store.Users().FindByID(ctx, bob.ID)
		if sender.Balance != 89_850 || receiver.Balance != 60_000 {
			t.Errorf("stored balances %d/%d do not match result", sender.Balance, receiver.Balance)
		}

		// Exactly one pending outbox entry was co-committed.
		pending, err := store.Outbox().CountPending(ctx)
		if err != nil {
			t.Fatalf("counting pending: %v", err)
		}
		if pending != 1 {
			t.Errorf("expected 1 pending outbox entry, got %d", pending)
		}

		// Exactly two snapshots, one per party.
		snaps, err := store.Snapshots().ListByTransaction(ctx, result.Transaction.UUID)
		if err != nil {
			t.Fatalf("listing snapshots: %v", err)
		}
		if len(snaps) != 2 {
			t.Fatalf("expected 2 snapshots, got %d", len(snaps))
		}
	})

	t.Run("replay returns original result without moving money", func(t *testing.T) {
		store := memory.NewDataStore()
		waker := &countingWaker{}
		service := application.NewTransferService(store, waker)
		alice := seedUser(t, store, "Alice", "alice@example.com", 100_000)
		bob := seedUser(t, store, "Bob", "bob@example.com", 50_000)

		first, err := service.Transfer(ctx, alice.ID, bob.ID, 10_000, "key-replay", nil)
		if err != nil {
			t.Fatalf("first transfer: %v", err)
		}

		second, err := service.Transfer(ctx, alice.ID, bob.ID, 10_000, "key-replay", nil)
		if err != nil {
			t.Fatalf("replay: %v", err)
		}

		if !second.Replayed {
			t.Error("expected replay flag on second call")
		}
		if second.Transaction.UUID != first.Transaction.UUID {
			t.Errorf("expected same transaction, got %s and %s", first.Transaction.UUID, second.Transaction.UUID)
		}
		if second.SenderBalance != first.SenderBalance || second.ReceiverBalance != first.ReceiverBalance {
			t.Errorf("replay balances %d/%d differ from original %d/%d",
				second.SenderBalance, second.ReceiverBalance, first.SenderBalance, first.ReceiverBalance)
		}

		sender, _ := store.Users().FindByID(ctx, alice.ID)
		if sender.Balance != 89_850 {
			t.Errorf("replay moved money: sender balance %d", sender.Balance)
		}
		if waker.wakes.Load() != 1 {
			t.Errorf("expected no wake on replay, got %d total", waker.wakes.Load())
		}
	})

	t.Run("concurrent replays of one key commit exactly once", func(t *testing.T) {
		store := memory.NewDataStore()
		service := application.NewTransferService(store, nil)
		alice := seedUser(t, store, "Alice", "alice@example.com", 100_000)
		bob := seedUser(t, store, "Bob", "bob@example.com", 50_000)

		const callers = 100
		var replayed atomic.Int64
		var failed atomic.Int64
		var wg sync.WaitGroup
		for range callers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				result, err := service.Transfer(ctx, alice.ID, bob.ID, 10_000, "key-race", nil)
				if err != nil {
					failed.Add(1)
					return
				}
				if result.Replayed {
					replayed.Add(1)
				}
			}()
		}
		wg.Wait()

		if failed.Load() != 0 {
			t.Fatalf("%d callers failed", failed.Load())
		}
		if replayed.Load() != callers-1 {
			t.Errorf("expected %d replays, got %d", callers-1, replayed.Load())
		}

		sender, _ := store.Users().FindByID(ctx, alice.ID)
		receiver, _ := store.Users().FindByID(ctx, bob.ID)
		if sender.Balance != 89_850 || receiver.Balance != 60_000 {
			t.Errorf("money moved more than once: %d/%d", sender.Balance, receiver.Balance)
		}
	})

	t.Run("insufficient balance rejects atomically", func(t *testing.T) {
		store := memory.NewDataStore()
		service := application.NewTransferService(store, nil)
		alice := seedUser(t, store, "Alice", "alice@example.com", 10_000)
		bob := seedUser(t, store, "Bob", "bob@example.com", 0)

		// 10000 + 150 commission exceeds the 10000 balance.
		_, err := service.Transfer(ctx, alice.ID, bob.ID, 10_000, "key-poor", nil)
		if !errors.Is(err, domain.ErrInsufficientBalance) {
			t.Fatalf("expected ErrInsufficientBalance, got %v", err)
		}

		sender, _ := store.Users().FindByID(ctx, alice.ID)
		receiver, _ := store.Users().FindByID(ctx, bob.ID)
		if sender.Balance != 10_000 || receiver.Balance != 0 {
			t.Errorf("balances changed on rejected transfer: %d/%d", sender.Balance, receiver.Balance)
		}
		if pending, _ := store.Outbox().CountPending(ctx); pending != 0 {
			t.Errorf("expected no outbox entries, got %d", pending)
		}
	})

	t.Run("exactly sufficient balance drains to zero", func(t *testing.T) {
		store := memory.NewDataStore()
		service := application.NewTransferService(store, nil)
		alice := seedUser(t, store, "Alice", "alice@example.com", 10_150)
		bob := seedUser(t, store, "Bob", "bob@example.com", 0)

		result, err := service.Transfer(ctx, alice.ID, bob.ID, 10_000, "key-exact", nil)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if result.SenderBalance != 0 {
			t.Errorf("expected sender balance 0, got %d", result.SenderBalance)
		}
	})

	t.Run("one unit short is rejected", func(t *testing.T) {
		store := memory.NewDataStore()
		service := application.NewTransferService(store, nil)
		alice := seedUser(t, store, "Alice", "alice@example.com", 10_149)
		bob := seedUser(t, store, "Bob", "bob@example.com", 0)

		_, err := service.Transfer(ctx, alice.ID, bob.ID, 10_000, "key-short", nil)
		if !errors.Is(err, domain.ErrInsufficientBalance) {
			t.Fatalf("expected ErrInsufficientBalance, got %v", err)
		}
	})

	t.Run("self transfer is rejected before any work", func(t *testing.T) {
		store := memory.NewDataStore()
		service := application.NewTransferService(store, nil)
		alice := seedUser(t, store, "Alice", "alice@example.com", 100_000)

		_, err := service.Transfer(ctx, alice.ID, alice.ID, 10_000, "key-self", nil)
		if !errors.Is(err, domain.ErrSelfTransfer) {
			t.Fatalf("expected ErrSelfTransfer, got %v", err)
		}
	})

	t.Run("non-positive amounts are rejected", func(t *testing.T) {
		store := memory.NewDataStore()
		service := application.NewTransferService(store, nil)
		alice := seedUser(t, store, "Alice", "alice@example.com", 100_000)
		bob := seedUser(t, store, "Bob", "bob@example.com", 0)

		for _, amount := range []int64{0, -1, -10_000} {
			_, err := service.Transfer(ctx, alice.ID, bob.ID, amount, "key-amount", nil)
			if !errors.Is(err, domain.ErrInvalidAmount) {
				t.Errorf("amount %d: expected ErrInvalidAmount, got %v", amount, err)
			}
		}
	})

	t.Run("empty idempotency key is rejected", func(t *testing.T) {
		store := memory.NewDataStore()
		service := application.NewTransferService(store, nil)
		alice := seedUser(t, store, "Alice", "alice@example.com", 100_000)
		bob := seedUser(t, store, "Bob", "bob@example.com", 0)

		_, err := service.Transfer(ctx, alice.ID, bob.ID, 10_000, "", nil)
		if !errors.Is(err, domain.ErrInvalidIdempotencyKey) {
			t.Fatalf("expected ErrInvalidIdempotencyKey, got %v", err)
		}
	})

	t.Run("unknown receiver is rejected", func(t *testing.T) {
		store := memory.NewDataStore()
		service := application.NewTransferService(store, nil)
		alice := seedUser(t, store, "Alice", "alice@example.com", 100_000)

		_, err := service.Transfer(ctx, alice.ID, alice.ID+999, 10_000, "key-ghost", nil)
		if !errors.Is(err, domain.ErrUserNotFound) {
			t.Fatalf("expected ErrUserNotFound, got %v", err)
		}
	})
}

// TestTransferService_NoMicroLoss replays the ceiling-rounding regression:
// a thousand small transfers must not leak fractional commission units.
func TestTransferService_NoMicroLoss(t *testing.T) {
	ctx := context.Background()
	store := memory.NewDataStore()
	service := application.NewTransferService(store, nil)
	alice := seedUser(t, store, "Alice", "alice@example.com", 10_000_000)
	bob := seedUser(t, store, "Bob", "bob@example.com", 0)

	for i := range 1000 {
		if _, err := service.Transfer(ctx, alice.ID, bob.ID, 333, fmt.Sprintf("key-%d", i), nil); err != nil {
			t.Fatalf("transfer %d: %v", i, err)
		}
	}

	sender, _ := store.Users().FindByID(ctx, alice.ID)
	receiver, _ := store.Users().FindByID(ctx, bob.ID)
	stats, _ := store.Transactions().StatsFor(ctx, alice.ID)

	// ceil(333*3/200) = 5 per transfer, so 338 leaves the sender each time.
	if sender.Balance != 9_662_000 {
		t.Errorf("expected sender balance 9662000, got %d", sender.Balance)
	}
	if receiver.Balance != 333_000 {
		t.Errorf("expected receiver balance 333000, got %d", receiver.Balance)
	}
	if stats.TotalCommission != 5_000 {
		t.Errorf("expected total commission 5000, got %d", stats.TotalCommission)
	}

	// Conservation: everything debited is either received or commission.
	if sender.Balance+receiver.Balance+stats.TotalCommission != 10_000_000 {
		t.Errorf("value leaked: %d + %d + %d != 10000000",
			sender.Balance, receiver.Balance, stats.TotalCommission)
	}
}

// TestTransferService_ConservationUnderConcurrency hammers a small user set
// with parallel transfers in both directions and checks that no value is
// created or destroyed.
func TestTransferService_ConservationUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	store := memory.NewDataStore()
	service := application.NewTransferService(store, nil)

	users := []*domain.User{
		seedUser(t, store, "Alice", "alice@example.com", 1_000_000),
		seedUser(t, store, "Bob", "bob@example.com", 1_000_000),
		seedUser(t, store, "Carol", "carol@example.com", 1_000_000),
	}
	const initialTotal = 3_000_000

	var wg sync.WaitGroup
	for i := range 60 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sender := users[i%3]
			receiver := users[(i+1)%3]
			// Insufficient-balance rejections are acceptable outcomes here.
			_, err := service.Transfer(ctx, sender.ID, receiver.ID, 1_000, fmt.Sprintf("storm-%d", i), nil)
			if err != nil && !errors.Is(err, domain.ErrInsufficientBalance) {
				t.Errorf("transfer %d: %v", i, err)
			}
		}()
	}
	wg.Wait()

	var balances, commissions int64
	for _, u := range users {
		current, err := store.Users().FindByID(ctx, u.ID)
		if err != nil {
			t.Fatalf("reading user %d: %v", u.ID, err)
		}
		balances += current.Balance
		stats, err := store.Transactions().StatsFor(ctx, u.ID)
		if err != nil {
			t.Fatalf("stats for user %d: %v", u.ID, err)
		}
		commissions += stats.TotalCommission
	}

	if balances+commissions != initialTotal {
		t.Errorf("conservation violated: balances %d + commissions %d != %d",
			balances, commissions, initialTotal)
	}
}
