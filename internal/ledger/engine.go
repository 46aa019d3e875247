package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"account-api/internal/models"
	"account-api/internal/repository"
)

// TxRunner executes fn atomically. The production implementation wraps a
// MongoDB session transaction; tests inject a passthrough.
type TxRunner interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// EventPublisher emits balance change notifications after a mutation commits.
// Publishing is best effort; failures are logged, never surfaced to callers.
type EventPublisher interface {
	PublishBalanceUpdated(ctx context.Context, record *models.AuditRecord) error
}

// Metrics receives operation outcomes. Implemented by the monitoring package.
type Metrics interface {
	ObserveOperation(kind models.OperationKind, outcome string, duration time.Duration)
	ObserveVersionConflict(kind models.OperationKind)
}

// nopMetrics stands in when no metrics sink is configured.
type nopMetrics struct{}

func (nopMetrics) ObserveOperation(models.OperationKind, string, time.Duration) {}
func (nopMetrics) ObserveVersionConflict(models.OperationKind)                  {}

// Command is one balance mutation request. OperationID is the caller's
// correlation id; commands carrying one are applied at most once.
type Command struct {
	AccountNumber string
	Kind          models.OperationKind
	Amount        decimal.Decimal
	OperationID   string
}

// TransferCommand moves settled funds between two accounts atomically.
type TransferCommand struct {
	FromAccount string
	ToAccount   string
	Amount      decimal.Decimal
	OperationID string
}

// TransferResult carries both post-transfer balances.
type TransferResult struct {
	From *models.BalanceView `json:"from"`
	To   *models.BalanceView `json:"to"`
}

// Engine is the balance ledger. All mutations go through Apply or Transfer;
// both guarantee that every committed change has exactly one audit record and
// that concurrent writers serialize through version checks.
type Engine interface {
	GetBalance(ctx context.Context, accountNumber string) (*models.BalanceView, error)
	Apply(ctx context.Context, cmd Command) (*models.BalanceView, error)
	Transfer(ctx context.Context, cmd TransferCommand) (*TransferResult, error)
	History(ctx context.Context, accountNumber string, limit, offset int) ([]*models.AuditRecord, error)
}

// Config tunes the engine's retry behavior.
type Config struct {
	// MaxRetries bounds how many times a mutation is re-attempted after a
	// version conflict before ErrConcurrentModification is surfaced.
	MaxRetries int
}

type engine struct {
	accounts  repository.AccountRepository
	balances  repository.BalanceRepository
	audits    repository.AuditRepository
	sequences repository.SequenceRepository
	tx        TxRunner
	publisher EventPublisher
	metrics   Metrics
	logger    *logrus.Logger

	maxRetries int
}

func NewEngine(
	accounts repository.AccountRepository,
	balances repository.BalanceRepository,
	audits repository.AuditRepository,
	sequences repository.SequenceRepository,
	tx TxRunner,
	publisher EventPublisher,
	metrics Metrics,
	logger *logrus.Logger,
	cfg Config,
) Engine {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &engine{
		accounts:   accounts,
		balances:   balances,
		audits:     audits,
		sequences:  sequences,
		tx:         tx,
		publisher:  publisher,
		metrics:    metrics,
		logger:     logger,
		maxRetries: cfg.MaxRetries,
	}
}

func (e *engine) GetBalance(ctx context.Context, accountNumber string) (*models.BalanceView, error) {
	balance, err := e.balances.GetByAccount(ctx, accountNumber)
	if err != nil {
		return nil, err
	}
	return balance.View(), nil
}

func (e *engine) History(ctx context.Context, accountNumber string, limit, offset int) ([]*models.AuditRecord, error) {
	if _, err := e.balances.GetByAccount(ctx, accountNumber); err != nil {
		return nil, err
	}
	return e.audits.ListByAccount(ctx, accountNumber, limit, offset)
}

func (e *engine) Apply(ctx context.Context, cmd Command) (*models.BalanceView, error) {
	started := time.Now()

	view, err := e.apply(ctx, cmd)
	e.observe(cmd.Kind, started, err)
	return view, err
}

func (e *engine) apply(ctx context.Context, cmd Command) (*models.BalanceView, error) {
	if cmd.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: amount must be positive, got %s", models.ErrInvalidArgument, cmd.Amount)
	}
	mutate, err := transitionFor(cmd.Kind)
	if err != nil {
		return nil, err
	}

	// Replay check before touching any balance state.
	if cmd.OperationID != "" {
		if record, err := e.audits.FindByOperationID(ctx, cmd.OperationID); err == nil {
			e.logger.WithFields(logrus.Fields{
				"operation_id": cmd.OperationID,
				"account":      cmd.AccountNumber,
			}).Info("Operation already applied, returning recorded result")
			return record.View(), nil
		} else if !errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
	}

	var record *models.AuditRecord
	for attempt := 0; attempt < e.maxRetries; attempt++ {
		account, err := e.accounts.GetByNumber(ctx, cmd.AccountNumber)
		if err != nil {
			return nil, err
		}
		if !account.IsActive() {
			return nil, fmt.Errorf("%w: account %s is %s", models.ErrInvalidState, account.Number, account.Status)
		}

		balance, err := e.balances.GetByAccount(ctx, cmd.AccountNumber)
		if err != nil {
			return nil, err
		}
		if err := mutate(balance, cmd.Amount); err != nil {
			return nil, err
		}

		record, err = e.commit(ctx, balance, cmd.Kind, cmd.Amount, cmd.OperationID)
		if errors.Is(err, models.ErrConcurrentModification) {
			e.metrics.ObserveVersionConflict(cmd.Kind)
			e.logger.WithFields(logrus.Fields{
				"account": cmd.AccountNumber,
				"kind":    cmd.Kind,
				"attempt": attempt + 1,
			}).Warn("Version conflict, retrying")
			continue
		}
		if errors.Is(err, models.ErrDuplicateRecord) && cmd.OperationID != "" {
			// A concurrent writer committed this operation first.
			existing, findErr := e.audits.FindByOperationID(ctx, cmd.OperationID)
			if findErr != nil {
				return nil, findErr
			}
			return existing.View(), nil
		}
		if err != nil {
			return nil, err
		}

		e.publish(ctx, record)
		return record.View(), nil
	}

	return nil, fmt.Errorf("%w: account %s after %d attempts",
		models.ErrConcurrentModification, cmd.AccountNumber, e.maxRetries)
}

// commit persists the mutated balance and its audit record atomically. The
// balance save carries the optimistic version check.
func (e *engine) commit(ctx context.Context, balance *models.Balance, kind models.OperationKind, amount decimal.Decimal, operationID string) (*models.AuditRecord, error) {
	number, err := e.sequences.NextAuditNumber(ctx)
	if err != nil {
		return nil, err
	}

	var record *models.AuditRecord
	err = e.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := e.balances.Save(txCtx, balance); err != nil {
			return err
		}
		record = models.NewAuditRecord(number, balance, kind, amount, operationID)
		return e.audits.Append(txCtx, record)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (e *engine) Transfer(ctx context.Context, cmd TransferCommand) (*TransferResult, error) {
	started := time.Now()

	result, err := e.transfer(ctx, cmd)
	e.observe(models.OperationTransfer, started, err)
	return result, err
}

func (e *engine) transfer(ctx context.Context, cmd TransferCommand) (*TransferResult, error) {
	if cmd.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: amount must be positive, got %s", models.ErrInvalidArgument, cmd.Amount)
	}
	if cmd.FromAccount == cmd.ToAccount {
		return nil, fmt.Errorf("%w: cannot transfer to the same account", models.ErrInvalidArgument)
	}

	if cmd.OperationID != "" {
		if result, err := e.replayTransfer(ctx, cmd.OperationID); err == nil {
			return result, nil
		} else if !errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
	}

	for attempt := 0; attempt < e.maxRetries; attempt++ {
		// Source is validated first so its errors take precedence.
		source, dest, err := e.loadTransferPair(ctx, cmd)
		if err != nil {
			return nil, err
		}

		if err := applyDecrease(source, cmd.Amount); err != nil {
			return nil, err
		}
		if err := applyIncrease(dest, cmd.Amount); err != nil {
			return nil, err
		}

		outNumber, err := e.sequences.NextAuditNumber(ctx)
		if err != nil {
			return nil, err
		}
		inNumber, err := e.sequences.NextAuditNumber(ctx)
		if err != nil {
			return nil, err
		}

		var outRecord, inRecord *models.AuditRecord
		err = e.tx.WithTransaction(ctx, func(txCtx context.Context) error {
			if err := e.balances.Save(txCtx, source); err != nil {
				return err
			}
			if err := e.balances.Save(txCtx, dest); err != nil {
				return err
			}
			outRecord = models.NewAuditRecord(outNumber, source, models.OperationTransfer, cmd.Amount.Neg(), debitOperationID(cmd.OperationID))
			if err := e.audits.Append(txCtx, outRecord); err != nil {
				return err
			}
			inRecord = models.NewAuditRecord(inNumber, dest, models.OperationTransfer, cmd.Amount, creditOperationID(cmd.OperationID))
			return e.audits.Append(txCtx, inRecord)
		})
		if errors.Is(err, models.ErrConcurrentModification) {
			e.metrics.ObserveVersionConflict(models.OperationTransfer)
			e.logger.WithFields(logrus.Fields{
				"from":    cmd.FromAccount,
				"to":      cmd.ToAccount,
				"attempt": attempt + 1,
			}).Warn("Version conflict during transfer, retrying")
			continue
		}
		if errors.Is(err, models.ErrDuplicateRecord) && cmd.OperationID != "" {
			return e.replayTransfer(ctx, cmd.OperationID)
		}
		if err != nil {
			return nil, err
		}

		e.publish(ctx, outRecord)
		e.publish(ctx, inRecord)
		return &TransferResult{From: source.View(), To: dest.View()}, nil
	}

	return nil, fmt.Errorf("%w: transfer %s -> %s after %d attempts",
		models.ErrConcurrentModification, cmd.FromAccount, cmd.ToAccount, e.maxRetries)
}

func (e *engine) loadTransferPair(ctx context.Context, cmd TransferCommand) (*models.Balance, *models.Balance, error) {
	for _, number := range []string{cmd.FromAccount, cmd.ToAccount} {
		account, err := e.accounts.GetByNumber(ctx, number)
		if err != nil {
			return nil, nil, err
		}
		if !account.IsActive() {
			return nil, nil, fmt.Errorf("%w: account %s is %s", models.ErrInvalidState, account.Number, account.Status)
		}
	}

	source, err := e.balances.GetByAccount(ctx, cmd.FromAccount)
	if err != nil {
		return nil, nil, err
	}
	dest, err := e.balances.GetByAccount(ctx, cmd.ToAccount)
	if err != nil {
		return nil, nil, err
	}
	return source, dest, nil
}

// replayTransfer rebuilds a transfer result from the two audit records a
// previous delivery of the same operation left behind.
func (e *engine) replayTransfer(ctx context.Context, operationID string) (*TransferResult, error) {
	outRecord, err := e.audits.FindByOperationID(ctx, debitOperationID(operationID))
	if err != nil {
		return nil, err
	}
	inRecord, err := e.audits.FindByOperationID(ctx, creditOperationID(operationID))
	if err != nil {
		return nil, err
	}
	return &TransferResult{From: outRecord.View(), To: inRecord.View()}, nil
}

// A transfer writes two audit records; the correlation id is suffixed per leg
// so the unique operation_id index still holds.
func debitOperationID(operationID string) string {
	if operationID == "" {
		return ""
	}
	return operationID + ":debit"
}

func creditOperationID(operationID string) string {
	if operationID == "" {
		return ""
	}
	return operationID + ":credit"
}

func (e *engine) publish(ctx context.Context, record *models.AuditRecord) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.PublishBalanceUpdated(ctx, record); err != nil {
		e.logger.WithError(err).WithField("audit_number", record.Number).
			Warn("Failed to publish balance update event")
	}
}

func (e *engine) observe(kind models.OperationKind, started time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = outcomeLabel(err)
	}
	e.metrics.ObserveOperation(kind, outcome, time.Since(started))
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, models.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, models.ErrInvalidReleaseAmount):
		return "invalid_release"
	case errors.Is(err, models.ErrConcurrentModification):
		return "conflict"
	case errors.Is(err, models.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, models.ErrInvalidState):
		return "inactive_account"
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
