package messaging

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"account-api/internal/models"
)

// PaymentEventType is the upstream payment lifecycle phase.
type PaymentEventType string

const (
	PaymentEventAuthorization PaymentEventType = "AUTHORIZATION"
	PaymentEventClearing      PaymentEventType = "CLEARING"
	PaymentEventCancellation  PaymentEventType = "CANCELLATION"
	PaymentEventDeposit       PaymentEventType = "DEPOSIT"
	PaymentEventWithdrawal    PaymentEventType = "WITHDRAWAL"
	PaymentEventTransfer      PaymentEventType = "TRANSFER"
)

// PaymentAuthorizationEvent is the message consumed from the payment service.
// OperationID is the upstream idempotency key; re-deliveries carry the same id.
type PaymentAuthorizationEvent struct {
	OperationID   string           `json:"operation_id"`
	EventType     PaymentEventType `json:"event_type"`
	AccountNumber string           `json:"account_number"`
	// CounterpartAccount is the credit side of a TRANSFER event. Empty for
	// every other event type.
	CounterpartAccount string          `json:"counterpart_account,omitempty"`
	Amount             decimal.Decimal `json:"amount"`
	Currency           string          `json:"currency"`
	Timestamp          time.Time       `json:"timestamp"`
}

// Validate rejects events that can never be processed, regardless of state.
func (e *PaymentAuthorizationEvent) Validate() error {
	if e.OperationID == "" {
		return fmt.Errorf("%w: event is missing operation_id", models.ErrInvalidArgument)
	}
	if e.AccountNumber == "" {
		return fmt.Errorf("%w: event is missing account_number", models.ErrInvalidArgument)
	}
	if e.Amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: event amount must be positive, got %s", models.ErrInvalidArgument, e.Amount)
	}
	if _, err := e.Operation(); err != nil {
		return err
	}
	if e.EventType == PaymentEventTransfer {
		if e.CounterpartAccount == "" {
			return fmt.Errorf("%w: transfer event is missing counterpart_account", models.ErrInvalidArgument)
		}
		if e.CounterpartAccount == e.AccountNumber {
			return fmt.Errorf("%w: transfer event counterpart equals account_number", models.ErrInvalidArgument)
		}
	}
	return nil
}

// Operation maps the payment phase onto a ledger operation.
func (e *PaymentAuthorizationEvent) Operation() (models.OperationKind, error) {
	switch e.EventType {
	case PaymentEventAuthorization:
		return models.OperationReserve, nil
	case PaymentEventClearing:
		return models.OperationRelease, nil
	case PaymentEventCancellation:
		return models.OperationCancelReservation, nil
	case PaymentEventDeposit:
		return models.OperationIncrease, nil
	case PaymentEventWithdrawal:
		return models.OperationDecrease, nil
	case PaymentEventTransfer:
		return models.OperationTransfer, nil
	}
	return "", fmt.Errorf("%w: unknown payment event type %q", models.ErrInvalidArgument, e.EventType)
}

// BalanceUpdatedEvent is published after every committed balance mutation.
type BalanceUpdatedEvent struct {
	EventID           string          `json:"event_id"`
	AccountNumber     string          `json:"account_number"`
	Kind              string          `json:"kind"`
	Amount            decimal.Decimal `json:"amount"`
	AuthorizedBalance decimal.Decimal `json:"authorized_balance"`
	ActualBalance     decimal.Decimal `json:"actual_balance"`
	BalanceVersion    int64           `json:"balance_version"`
	OperationID       string          `json:"operation_id,omitempty"`
	Timestamp         time.Time       `json:"timestamp"`
}
