package ledger

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

	"account-api/internal/models"
)

// Mock repositories for testing
type MockAccountRepository struct {
	mock.Mock
}

func (m *MockAccountRepository) Create(ctx context.Context, account *models.Account) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

func (m *MockAccountRepository) GetByNumber(ctx context.Context, number string) (*models.Account, error) {
	args := m.Called(ctx, number)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Account), args.Error(1)
}

func (m *MockAccountRepository) UpdateStatus(ctx context.Context, account *models.Account) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

func (m *MockAccountRepository) ListByOwner(ctx context.Context, owner models.Owner, limit, offset int) ([]*models.Account, error) {
	args := m.Called(ctx, owner, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Account), args.Error(1)
}

type MockBalanceRepository struct {
	mock.Mock
}

func (m *MockBalanceRepository) Create(ctx context.Context, balance *models.Balance) error {
	args := m.Called(ctx, balance)
	return args.Error(0)
}

func (m *MockBalanceRepository) GetByAccount(ctx context.Context, accountNumber string) (*models.Balance, error) {
	args := m.Called(ctx, accountNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Balance), args.Error(1)
}

func (m *MockBalanceRepository) Save(ctx context.Context, balance *models.Balance) error {
	args := m.Called(ctx, balance)
	return args.Error(0)
}

func (m *MockBalanceRepository) List(ctx context.Context, limit, offset int) ([]*models.Balance, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Balance), args.Error(1)
}

type MockAuditRepository struct {
	mock.Mock
}

func (m *MockAuditRepository) Append(ctx context.Context, record *models.AuditRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockAuditRepository) FindByOperationID(ctx context.Context, operationID string) (*models.AuditRecord, error) {
	args := m.Called(ctx, operationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AuditRecord), args.Error(1)
}

func (m *MockAuditRepository) ListByAccount(ctx context.Context, accountNumber string, limit, offset int) ([]*models.AuditRecord, error) {
	args := m.Called(ctx, accountNumber, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.AuditRecord), args.Error(1)
}

func (m *MockAuditRepository) LatestByAccount(ctx context.Context, accountNumber string) (*models.AuditRecord, error) {
	args := m.Called(ctx, accountNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AuditRecord), args.Error(1)
}

func (m *MockAuditRepository) CountByAccount(ctx context.Context, accountNumber string) (int64, error) {
	args := m.Called(ctx, accountNumber)
	return args.Get(0).(int64), args.Error(1)
}

type MockSequenceRepository struct {
	mock.Mock
}

func (m *MockSequenceRepository) NextAccountNumber(ctx context.Context, accountType models.AccountType) (string, error) {
	args := m.Called(ctx, accountType)
	return args.String(0), args.Error(1)
}

func (m *MockSequenceRepository) NextAuditNumber(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

// passthroughTx runs the function directly, no transaction semantics.
type passthroughTx struct{}

func (passthroughTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type noopMetrics struct{}

func (noopMetrics) ObserveOperation(models.OperationKind, string, time.Duration) {}
func (noopMetrics) ObserveVersionConflict(models.OperationKind)                  {}

const (
	sourceNumber = "42000000000000000001"
	destNumber   = "42000000000000000002"
)

type engineFixture struct {
	accounts  *MockAccountRepository
	balances  *MockBalanceRepository
	audits    *MockAuditRepository
	sequences *MockSequenceRepository
	engine    Engine
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	f := &engineFixture{
		accounts:  new(MockAccountRepository),
		balances:  new(MockBalanceRepository),
		audits:    new(MockAuditRepository),
		sequences: new(MockSequenceRepository),
	}
	f.engine = NewEngine(f.accounts, f.balances, f.audits, f.sequences,
		passthroughTx{}, nil, noopMetrics{}, logger, Config{MaxRetries: 3})
	return f
}

func activeAccount(number string) *models.Account {
	return models.NewAccount(number, models.Owner{Type: models.OwnerTypeUser, ExternalID: 7}, models.AccountTypeChecking, "USD")
}

func balanceWith(number string, authorized, actual int64) *models.Balance {
	b := models.NewBalance(number)
	b.AuthorizedBalance = decimal.NewFromInt(authorized)
	b.ActualBalance = decimal.NewFromInt(actual)
	b.Version = 5
	return b
}

// bumpVersion mimics the repository's post-save version increment.
func bumpVersion(args mock.Arguments) {
	args.Get(1).(*models.Balance).Version++
}

func TestEngine_Apply_Increase(t *testing.T) {
	f := newEngineFixture(t)

	f.accounts.On("GetByNumber", mock.Anything, sourceNumber).Return(activeAccount(sourceNumber), nil)
	f.balances.On("GetByAccount", mock.Anything, sourceNumber).Return(balanceWith(sourceNumber, 0, 100), nil)
	f.sequences.On("NextAuditNumber", mock.Anything).Return("AUD00000000000000001", nil)
	f.balances.On("Save", mock.Anything, mock.AnythingOfType("*models.Balance")).Run(bumpVersion).Return(nil)
	f.audits.On("Append", mock.Anything, mock.AnythingOfType("*models.AuditRecord")).Return(nil)

	view, err := f.engine.Apply(context.Background(), Command{
		AccountNumber: sourceNumber,
		Kind:          models.OperationIncrease,
		Amount:        decimal.NewFromInt(50),
	})

	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(150).Equal(view.ActualBalance))
	assert.True(t, view.AuthorizedBalance.IsZero())
	assert.Equal(t, int64(6), view.Version)
	f.audits.AssertCalled(t, "Append", mock.Anything, mock.MatchedBy(func(r *models.AuditRecord) bool {
		return r.Kind == models.OperationIncrease &&
			r.BalanceVersion == 6 &&
			decimal.NewFromInt(150).Equal(r.ActualBalance)
	}))
}

func TestEngine_Apply_DecreaseBoundary(t *testing.T) {
	f := newEngineFixture(t)

	f.accounts.On("GetByNumber", mock.Anything, sourceNumber).Return(activeAccount(sourceNumber), nil)
	f.balances.On("GetByAccount", mock.Anything, sourceNumber).Return(balanceWith(sourceNumber, 0, 100), nil)

	// One unit over the actual balance.
	_, err := f.engine.Apply(context.Background(), Command{
		AccountNumber: sourceNumber,
		Kind:          models.OperationDecrease,
		Amount:        decimal.NewFromInt(101),
	})

	require.ErrorIs(t, err, models.ErrInsufficientFunds)
	f.balances.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	f.audits.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
}

func TestEngine_Apply_NonPositiveAmount(t *testing.T) {
	f := newEngineFixture(t)

	for _, amount := range []decimal.Decimal{decimal.Zero, decimal.NewFromInt(-10)} {
		_, err := f.engine.Apply(context.Background(), Command{
			AccountNumber: sourceNumber,
			Kind:          models.OperationIncrease,
			Amount:        amount,
		})
		assert.ErrorIs(t, err, models.ErrInvalidArgument)
	}
	f.accounts.AssertNotCalled(t, "GetByNumber", mock.Anything, mock.Anything)
}

func TestEngine_Apply_InactiveAccount(t *testing.T) {
	f := newEngineFixture(t)

	account := activeAccount(sourceNumber)
	require.NoError(t, account.Suspend())
	f.accounts.On("GetByNumber", mock.Anything, sourceNumber).Return(account, nil)

	_, err := f.engine.Apply(context.Background(), Command{
		AccountNumber: sourceNumber,
		Kind:          models.OperationIncrease,
		Amount:        decimal.NewFromInt(50),
	})

	require.ErrorIs(t, err, models.ErrInvalidState)
	f.balances.AssertNotCalled(t, "GetByAccount", mock.Anything, mock.Anything)
}

func TestEngine_Apply_IdempotentReplay(t *testing.T) {
	f := newEngineFixture(t)

	recorded := &models.AuditRecord{
		Number:            "AUD00000000000000009",
		AccountNumber:     sourceNumber,
		Kind:              models.OperationReserve,
		Amount:            decimal.NewFromInt(30),
		AuthorizedBalance: decimal.NewFromInt(30),
		ActualBalance:     decimal.NewFromInt(100),
		BalanceVersion:    7,
		OperationID:       "op-123",
	}
	f.audits.On("FindByOperationID", mock.Anything, "op-123").Return(recorded, nil)

	view, err := f.engine.Apply(context.Background(), Command{
		AccountNumber: sourceNumber,
		Kind:          models.OperationReserve,
		Amount:        decimal.NewFromInt(30),
		OperationID:   "op-123",
	})

	require.NoError(t, err)
	assert.Equal(t, int64(7), view.Version)
	assert.True(t, decimal.NewFromInt(30).Equal(view.AuthorizedBalance))
	// The balance itself is never even read.
	f.balances.AssertNotCalled(t, "GetByAccount", mock.Anything, mock.Anything)
	f.balances.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestEngine_Apply_RetriesOnVersionConflict(t *testing.T) {
	f := newEngineFixture(t)

	f.accounts.On("GetByNumber", mock.Anything, sourceNumber).Return(activeAccount(sourceNumber), nil)
	// Fresh balance on each attempt.
	f.balances.On("GetByAccount", mock.Anything, sourceNumber).Return(balanceWith(sourceNumber, 0, 100), nil).Once()
	f.balances.On("GetByAccount", mock.Anything, sourceNumber).Return(balanceWith(sourceNumber, 0, 120), nil).Once()
	f.sequences.On("NextAuditNumber", mock.Anything).Return("AUD00000000000000002", nil)

	f.balances.On("Save", mock.Anything, mock.AnythingOfType("*models.Balance")).Return(models.ErrConcurrentModification).Once()
	f.balances.On("Save", mock.Anything, mock.AnythingOfType("*models.Balance")).Run(bumpVersion).Return(nil).Once()
	f.audits.On("Append", mock.Anything, mock.AnythingOfType("*models.AuditRecord")).Return(nil)

	view, err := f.engine.Apply(context.Background(), Command{
		AccountNumber: sourceNumber,
		Kind:          models.OperationDecrease,
		Amount:        decimal.NewFromInt(20),
	})

	require.NoError(t, err)
	// Second attempt worked off the re-read balance.
	assert.True(t, decimal.NewFromInt(100).Equal(view.ActualBalance))
	f.balances.AssertNumberOfCalls(t, "GetByAccount", 2)
	f.balances.AssertNumberOfCalls(t, "Save", 2)
}

func TestEngine_Apply_ConflictBudgetExhausted(t *testing.T) {
	f := newEngineFixture(t)

	f.accounts.On("GetByNumber", mock.Anything, sourceNumber).Return(activeAccount(sourceNumber), nil)
	f.balances.On("GetByAccount", mock.Anything, sourceNumber).Return(balanceWith(sourceNumber, 0, 100), nil)
	f.sequences.On("NextAuditNumber", mock.Anything).Return("AUD00000000000000003", nil)
	f.balances.On("Save", mock.Anything, mock.AnythingOfType("*models.Balance")).Return(models.ErrConcurrentModification)

	_, err := f.engine.Apply(context.Background(), Command{
		AccountNumber: sourceNumber,
		Kind:          models.OperationIncrease,
		Amount:        decimal.NewFromInt(10),
	})

	require.ErrorIs(t, err, models.ErrConcurrentModification)
	f.balances.AssertNumberOfCalls(t, "Save", 3)
	f.audits.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
}

func TestEngine_Apply_ConcurrentDuplicateReturnsRecorded(t *testing.T) {
	f := newEngineFixture(t)

	f.audits.On("FindByOperationID", mock.Anything, "op-9").Return(nil, models.ErrNotFound).Once()
	f.accounts.On("GetByNumber", mock.Anything, sourceNumber).Return(activeAccount(sourceNumber), nil)
	f.balances.On("GetByAccount", mock.Anything, sourceNumber).Return(balanceWith(sourceNumber, 0, 100), nil)
	f.sequences.On("NextAuditNumber", mock.Anything).Return("AUD00000000000000004", nil)
	f.balances.On("Save", mock.Anything, mock.AnythingOfType("*models.Balance")).Run(bumpVersion).Return(nil)
	// Another writer committed the same operation between our check and commit.
	f.audits.On("Append", mock.Anything, mock.AnythingOfType("*models.AuditRecord")).Return(models.ErrDuplicateRecord)

	recorded := &models.AuditRecord{
		AccountNumber:  sourceNumber,
		Kind:           models.OperationIncrease,
		ActualBalance:  decimal.NewFromInt(150),
		BalanceVersion: 6,
		OperationID:    "op-9",
	}
	f.audits.On("FindByOperationID", mock.Anything, "op-9").Return(recorded, nil).Once()

	view, err := f.engine.Apply(context.Background(), Command{
		AccountNumber: sourceNumber,
		Kind:          models.OperationIncrease,
		Amount:        decimal.NewFromInt(50),
		OperationID:   "op-9",
	})

	require.NoError(t, err)
	assert.Equal(t, int64(6), view.Version)
}

func TestEngine_Transfer(t *testing.T) {
	f := newEngineFixture(t)

	f.accounts.On("GetByNumber", mock.Anything, sourceNumber).Return(activeAccount(sourceNumber), nil)
	f.accounts.On("GetByNumber", mock.Anything, destNumber).Return(activeAccount(destNumber), nil)
	f.balances.On("GetByAccount", mock.Anything, sourceNumber).Return(balanceWith(sourceNumber, 0, 100000), nil)
	f.balances.On("GetByAccount", mock.Anything, destNumber).Return(balanceWith(destNumber, 0, 50000), nil)
	f.sequences.On("NextAuditNumber", mock.Anything).Return("AUD00000000000000005", nil).Once()
	f.sequences.On("NextAuditNumber", mock.Anything).Return("AUD00000000000000006", nil).Once()
	f.balances.On("Save", mock.Anything, mock.AnythingOfType("*models.Balance")).Run(bumpVersion).Return(nil)
	f.audits.On("Append", mock.Anything, mock.AnythingOfType("*models.AuditRecord")).Return(nil)

	result, err := f.engine.Transfer(context.Background(), TransferCommand{
		FromAccount: sourceNumber,
		ToAccount:   destNumber,
		Amount:      decimal.NewFromInt(10000),
	})

	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(90000).Equal(result.From.ActualBalance))
	assert.True(t, decimal.NewFromInt(60000).Equal(result.To.ActualBalance))
	f.audits.AssertNumberOfCalls(t, "Append", 2)
}

func TestEngine_Transfer_SameAccount(t *testing.T) {
	f := newEngineFixture(t)

	_, err := f.engine.Transfer(context.Background(), TransferCommand{
		FromAccount: sourceNumber,
		ToAccount:   sourceNumber,
		Amount:      decimal.NewFromInt(10),
	})

	require.ErrorIs(t, err, models.ErrInvalidArgument)
	f.accounts.AssertNotCalled(t, "GetByNumber", mock.Anything, mock.Anything)
}

func TestEngine_Transfer_InsufficientSource(t *testing.T) {
	f := newEngineFixture(t)

	f.accounts.On("GetByNumber", mock.Anything, sourceNumber).Return(activeAccount(sourceNumber), nil)
	f.accounts.On("GetByNumber", mock.Anything, destNumber).Return(activeAccount(destNumber), nil)
	f.balances.On("GetByAccount", mock.Anything, sourceNumber).Return(balanceWith(sourceNumber, 0, 100), nil)
	f.balances.On("GetByAccount", mock.Anything, destNumber).Return(balanceWith(destNumber, 0, 50), nil)

	_, err := f.engine.Transfer(context.Background(), TransferCommand{
		FromAccount: sourceNumber,
		ToAccount:   destNumber,
		Amount:      decimal.NewFromInt(101),
	})

	require.ErrorIs(t, err, models.ErrInsufficientFunds)
	f.balances.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestEngine_NilMetricsSink(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	accounts := new(MockAccountRepository)
	balances := new(MockBalanceRepository)
	audits := new(MockAuditRepository)
	sequences := new(MockSequenceRepository)
	engine := NewEngine(accounts, balances, audits, sequences,
		passthroughTx{}, nil, nil, logger, Config{})

	accounts.On("GetByNumber", mock.Anything, sourceNumber).Return(activeAccount(sourceNumber), nil)
	balances.On("GetByAccount", mock.Anything, sourceNumber).Return(balanceWith(sourceNumber, 0, 100), nil)
	sequences.On("NextAuditNumber", mock.Anything).Return("AUD00000000000000001", nil)
	balances.On("Save", mock.Anything, mock.AnythingOfType("*models.Balance")).Run(bumpVersion).Return(nil)
	audits.On("Append", mock.Anything, mock.AnythingOfType("*models.AuditRecord")).Return(nil)

	view, err := engine.Apply(context.Background(), Command{
		AccountNumber: sourceNumber,
		Kind:          models.OperationIncrease,
		Amount:        decimal.NewFromInt(10),
	})

	require.NoError(t, err)
	assert.True(t, view.ActualBalance.Equal(decimal.NewFromInt(110)))
}

func TestEngine_GetBalance_NotFound(t *testing.T) {
	f := newEngineFixture(t)

	f.balances.On("GetByAccount", mock.Anything, "99999999999999999999").Return(nil, models.ErrNotFound)

	_, err := f.engine.GetBalance(context.Background(), "99999999999999999999")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
