package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"account-api/internal/config"
	"account-api/internal/models"
	"account-api/internal/repository"
)

// Reconciler periodically checks every balance against the tail of its audit
// trail. The two are written in one transaction, so any drift means lost
// writes or manual interference and is worth waking someone up for.
type Reconciler struct {
	balances repository.BalanceRepository
	audits   repository.AuditRepository
	logger   *logrus.Logger
	config   config.ReconciliationConfig
	cron     *cron.Cron
}

func NewReconciler(
	balances repository.BalanceRepository,
	audits repository.AuditRepository,
	logger *logrus.Logger,
	cfg config.ReconciliationConfig,
) *Reconciler {
	return &Reconciler{
		balances: balances,
		audits:   audits,
		logger:   logger,
		config:   cfg,
		cron:     cron.New(),
	}
}

// Start schedules the reconciliation run. No-op when disabled.
func (r *Reconciler) Start() error {
	if !r.config.Enabled {
		r.logger.Info("Reconciliation disabled")
		return nil
	}

	_, err := r.cron.AddFunc(r.config.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()

		if err := r.Run(ctx); err != nil {
			r.logger.WithError(err).Error("Reconciliation run failed")
		}
	})
	if err != nil {
		return err
	}

	r.cron.Start()
	r.logger.WithField("schedule", r.config.Schedule).Info("Reconciliation scheduled")
	return nil
}

func (r *Reconciler) Stop() {
	r.cron.Stop()
}

// Run walks all balances in batches and reports every mismatch found.
func (r *Reconciler) Run(ctx context.Context) error {
	started := time.Now()
	checked, mismatches := 0, 0

	batchSize := r.config.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}

	for offset := 0; ; offset += batchSize {
		batch, err := r.balances.List(ctx, batchSize, offset)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			break
		}

		for _, balance := range batch {
			checked++
			if !r.check(ctx, balance) {
				mismatches++
			}
		}

		if len(batch) < batchSize {
			break
		}
	}

	r.logger.WithFields(logrus.Fields{
		"checked":    checked,
		"mismatches": mismatches,
		"duration":   time.Since(started).Round(time.Millisecond).String(),
	}).Info("Reconciliation run finished")
	return nil
}

// check compares one balance with its most recent audit record.
func (r *Reconciler) check(ctx context.Context, balance *models.Balance) bool {
	latest, err := r.audits.LatestByAccount(ctx, balance.AccountNumber)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Never mutated: the balance must still be pristine.
			if balance.Version == 0 && balance.AuthorizedBalance.IsZero() && balance.ActualBalance.IsZero() {
				return true
			}
			r.logger.WithField("account", balance.AccountNumber).
				Error("Balance mutated but audit trail is empty")
			return false
		}
		r.logger.WithError(err).WithField("account", balance.AccountNumber).
			Warn("Could not load audit tail")
		return true
	}

	// The balance may be ahead of the record we read if a write landed in
	// between; only a record claiming a newer version than the balance, or a
	// same-version value mismatch, is real drift.
	if latest.BalanceVersion > balance.Version {
		// The listed balance may be stale: a mutation can commit between the
		// batch read and the audit read. Re-read before declaring drift.
		fresh, err := r.balances.GetByAccount(ctx, balance.AccountNumber)
		if err != nil {
			r.logger.WithError(err).WithField("account", balance.AccountNumber).
				Warn("Could not re-read balance")
			return true
		}
		if fresh.Version >= latest.BalanceVersion {
			return true
		}
		r.logger.WithFields(logrus.Fields{
			"account":         balance.AccountNumber,
			"balance_version": fresh.Version,
			"audit_version":   latest.BalanceVersion,
		}).Error("Audit trail is ahead of balance")
		return false
	}
	if latest.BalanceVersion == balance.Version &&
		(!latest.AuthorizedBalance.Equal(balance.AuthorizedBalance) ||
			!latest.ActualBalance.Equal(balance.ActualBalance)) {
		r.logger.WithFields(logrus.Fields{
			"account":            balance.AccountNumber,
			"version":            balance.Version,
			"balance_authorized": balance.AuthorizedBalance,
			"audit_authorized":   latest.AuthorizedBalance,
			"balance_actual":     balance.ActualBalance,
			"audit_actual":       latest.ActualBalance,
		}).Error("Balance does not match its audit trail")
		return false
	}
	return true
}
