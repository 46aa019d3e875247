package messaging

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"account-api/internal/ledger"
	"account-api/internal/models"
)

type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) GetBalance(ctx context.Context, accountNumber string) (*models.BalanceView, error) {
	args := m.Called(ctx, accountNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.BalanceView), args.Error(1)
}

func (m *MockEngine) Apply(ctx context.Context, cmd ledger.Command) (*models.BalanceView, error) {
	args := m.Called(ctx, cmd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.BalanceView), args.Error(1)
}

func (m *MockEngine) Transfer(ctx context.Context, cmd ledger.TransferCommand) (*ledger.TransferResult, error) {
	args := m.Called(ctx, cmd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.TransferResult), args.Error(1)
}

func (m *MockEngine) History(ctx context.Context, accountNumber string, limit, offset int) ([]*models.AuditRecord, error) {
	args := m.Called(ctx, accountNumber, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.AuditRecord), args.Error(1)
}

func newTestConsumer(engine ledger.Engine) *PaymentEventConsumer {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return &PaymentEventConsumer{engine: engine, logger: logger}
}

func validEvent(eventType PaymentEventType) *PaymentAuthorizationEvent {
	return &PaymentAuthorizationEvent{
		OperationID:   "op-abc",
		EventType:     eventType,
		AccountNumber: "42000000000000000001",
		Amount:        decimal.NewFromInt(75),
		Currency:      "USD",
		Timestamp:     time.Now(),
	}
}

func TestConsumer_Process_EventTypeMapping(t *testing.T) {
	tests := []struct {
		eventType PaymentEventType
		wantKind  models.OperationKind
	}{
		{PaymentEventAuthorization, models.OperationReserve},
		{PaymentEventClearing, models.OperationRelease},
		{PaymentEventCancellation, models.OperationCancelReservation},
		{PaymentEventDeposit, models.OperationIncrease},
		{PaymentEventWithdrawal, models.OperationDecrease},
	}

	for _, tt := range tests {
		t.Run(string(tt.eventType), func(t *testing.T) {
			engine := new(MockEngine)
			engine.On("Apply", mock.Anything, ledger.Command{
				AccountNumber: "42000000000000000001",
				Kind:          tt.wantKind,
				Amount:        decimal.NewFromInt(75),
				OperationID:   "op-abc",
			}).Return(&models.BalanceView{}, nil)

			consumer := newTestConsumer(engine)
			err := consumer.Process(context.Background(), validEvent(tt.eventType))

			require.NoError(t, err)
			engine.AssertExpectations(t)
		})
	}
}

func TestConsumer_Process_TransferEvent(t *testing.T) {
	engine := new(MockEngine)
	engine.On("Transfer", mock.Anything, ledger.TransferCommand{
		FromAccount: "42000000000000000001",
		ToAccount:   "42000000000000000002",
		Amount:      decimal.NewFromInt(75),
		OperationID: "op-abc",
	}).Return(&ledger.TransferResult{
		From: &models.BalanceView{AccountNumber: "42000000000000000001"},
		To:   &models.BalanceView{AccountNumber: "42000000000000000002"},
	}, nil)

	consumer := newTestConsumer(engine)
	event := validEvent(PaymentEventTransfer)
	event.CounterpartAccount = "42000000000000000002"

	require.NoError(t, consumer.Process(context.Background(), event))
	engine.AssertExpectations(t)
	engine.AssertNotCalled(t, "Apply", mock.Anything, mock.Anything)
}

func TestConsumer_Process_TransferEventCounterpart(t *testing.T) {
	tests := []struct {
		name        string
		counterpart string
	}{
		{"missing counterpart", ""},
		{"counterpart equals source", "42000000000000000001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := new(MockEngine)
			consumer := newTestConsumer(engine)

			event := validEvent(PaymentEventTransfer)
			event.CounterpartAccount = tt.counterpart

			err := consumer.Process(context.Background(), event)
			require.ErrorIs(t, err, models.ErrInvalidArgument)
			assert.True(t, isPermanent(err))
			engine.AssertNotCalled(t, "Transfer", mock.Anything, mock.Anything)
		})
	}
}

func TestConsumer_Process_InvalidEvents(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*PaymentAuthorizationEvent)
	}{
		{"missing operation id", func(e *PaymentAuthorizationEvent) { e.OperationID = "" }},
		{"missing account number", func(e *PaymentAuthorizationEvent) { e.AccountNumber = "" }},
		{"zero amount", func(e *PaymentAuthorizationEvent) { e.Amount = decimal.Zero }},
		{"negative amount", func(e *PaymentAuthorizationEvent) { e.Amount = decimal.NewFromInt(-5) }},
		{"unknown event type", func(e *PaymentAuthorizationEvent) { e.EventType = "REFUND" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := new(MockEngine)
			consumer := newTestConsumer(engine)

			event := validEvent(PaymentEventAuthorization)
			tt.mutate(event)

			err := consumer.Process(context.Background(), event)
			require.ErrorIs(t, err, models.ErrInvalidArgument)
			assert.True(t, isPermanent(err))
			engine.AssertNotCalled(t, "Apply", mock.Anything, mock.Anything)
		})
	}
}

func TestConsumer_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		permanent bool
	}{
		{"insufficient funds never succeeds on redelivery", models.ErrInsufficientFunds, true},
		{"invalid release never succeeds", models.ErrInvalidReleaseAmount, true},
		{"unknown account never succeeds", models.ErrNotFound, true},
		{"inactive account never succeeds", models.ErrInvalidState, true},
		{"version conflict may succeed later", models.ErrConcurrentModification, false},
		{"infrastructure failure may succeed later", context.DeadlineExceeded, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.permanent, isPermanent(tt.err))
		})
	}
}

func TestConsumer_Process_ReplayIsAccepted(t *testing.T) {
	engine := new(MockEngine)
	// The ledger answers a replay with the recorded result, no error.
	engine.On("Apply", mock.Anything, mock.AnythingOfType("ledger.Command")).
		Return(&models.BalanceView{Version: 9}, nil).Twice()

	consumer := newTestConsumer(engine)
	event := validEvent(PaymentEventDeposit)

	require.NoError(t, consumer.Process(context.Background(), event))
	require.NoError(t, consumer.Process(context.Background(), event))
	engine.AssertNumberOfCalls(t, "Apply", 2)
}
