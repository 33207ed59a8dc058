package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event and push names on the wire.
const (
	// EventMoneyTransferred is the outbox event type written by the engine.
	EventMoneyTransferred = "money.transferred"
	// PushMoneyReceived is the event name published to the receiver's channel.
	PushMoneyReceived = "money.received"
)

// UserChannel returns the push channel for a user's live session.
func UserChannel(userID int64) string {
	return fmt.Sprintf("user.%d", userID)
}

// TransferEventPayload is the outbox payload written with every transfer.
type TransferEventPayload struct {
	TransactionUUID string `json:"transaction_uuid"`
	SenderID        int64  `json:"sender_id"`
	ReceiverID      int64  `json:"receiver_id"`
	Amount          int64  `json:"amount"`
	Commission      int64  `json:"commission"`
	SenderBalance   int64  `json:"sender_balance"`
	ReceiverBalance int64  `json:"receiver_balance"`
}

// Validate checks the required fields. A payload that fails validation is not
// retryable; the worker fails the entry terminally.
func (p *TransferEventPayload) Validate() error {
	switch {
	case p.TransactionUUID == "":
		return fmt.Errorf("%w: missing transaction_uuid", ErrInvalidPayload)
	case p.SenderID == 0:
		return fmt.Errorf("%w: missing sender_id", ErrInvalidPayload)
	case p.ReceiverID == 0:
		return fmt.Errorf("%w: missing receiver_id", ErrInvalidPayload)
	case p.Amount <= 0:
		return fmt.Errorf("%w: missing amount", ErrInvalidPayload)
	case p.Commission < 0:
		return fmt.Errorf("%w: negative commission", ErrInvalidPayload)
	}
	return nil
}

// ParseTransferEventPayload decodes and validates an outbox payload.
// Unknown or absent fields surface as ErrInvalidPayload, not a decode error.
func ParseTransferEventPayload(raw json.RawMessage) (*TransferEventPayload, error) {
	var p TransferEventPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// PushSender identifies the sender inside a push event.
type PushSender struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// PushEvent is the payload published to channel user.<receiver_id> under the
// money.received event name. NewBalance carries the receiver's post-transfer
// balance.
type PushEvent struct {
	TransactionUUID string     `json:"transaction_uuid"`
	Amount          int64      `json:"amount"`
	NewBalance      int64      `json:"new_balance"`
	Sender          PushSender `json:"sender"`
	ReceiverID      int64      `json:"receiver_id"`
	Message         string     `json:"message"`
	Timestamp       string     `json:"timestamp"`
}

// NewPushEvent builds the push payload from a validated outbox payload and the
// enriched sender record.
func NewPushEvent(p *TransferEventPayload, sender *User, now time.Time) PushEvent {
	return PushEvent{
		TransactionUUID: p.TransactionUUID,
		Amount:          p.Amount,
		NewBalance:      p.ReceiverBalance,
		Sender: PushSender{
			ID:    sender.ID,
			Name:  sender.Name,
			Email: sender.Email,
		},
		ReceiverID: p.ReceiverID,
		Message:    fmt.Sprintf("You received $%s from %s", FormatDollars(p.Amount), sender.Name),
		Timestamp:  now.UTC().Format(time.RFC3339),
	}
}
