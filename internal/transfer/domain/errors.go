package domain

import "errors"

// Domain errors for the transfer context.
var (
	// ErrUserNotFound is returned when a user cannot be found.
	ErrUserNotFound = errors.New("user not found")

	// ErrTransactionNotFound is returned when a transaction cannot be found.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrReceiverNotFound is returned when no user holds the receiver email.
	ErrReceiverNotFound = errors.New("receiver not found")

	// ErrSelfTransfer is returned when sender and receiver are the same user.
	ErrSelfTransfer = errors.New("cannot transfer to yourself")

	// ErrInvalidAmount is returned when the amount is not a positive integer.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInvalidIdempotencyKey is returned when the idempotency key is empty.
	ErrInvalidIdempotencyKey = errors.New("idempotency key must not be empty")

	// ErrInsufficientBalance is returned when the sender cannot cover amount plus commission.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrEmailInUse is returned when registering with an email that already exists.
	ErrEmailInUse = errors.New("email already in use")

	// ErrValidation is returned when registration inputs fail the documented constraints.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidCredentials is returned on login with a missing user or a
	// mismatched password. The two cases are deliberately indistinguishable.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrDeadlock marks a deadlock-class store failure. The engine retries these.
	ErrDeadlock = errors.New("deadlock detected")

	// ErrIdempotencyRace marks a unique-key violation on the ledger insert: a
	// concurrent attempt with the same key committed first. Retryable; the
	// retry finds the committed row at the locked lookup.
	ErrIdempotencyRace = errors.New("concurrent attempt with same idempotency key")

	// ErrLockContention is surfaced after the deadlock retry budget is exhausted.
	ErrLockContention = errors.New("transient lock contention, retry later")

	// ErrInvalidPayload is returned when an outbox payload is missing required fields.
	ErrInvalidPayload = errors.New("invalid outbox payload")
)
