package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"account-api/internal/external"
	"account-api/internal/ledger"
	"account-api/internal/models"
	"account-api/internal/repository"
)

// AccountService manages the account lifecycle. Balance mutations are the
// ledger engine's job; this service only opens accounts and moves them
// between lifecycle states.
type AccountService interface {
	OpenAccount(ctx context.Context, req *OpenAccountRequest) (*models.Account, error)
	GetAccount(ctx context.Context, number string) (*models.Account, error)
	ListAccounts(ctx context.Context, owner models.Owner, limit, offset int) ([]*models.Account, error)
	SuspendAccount(ctx context.Context, number string) (*models.Account, error)
	ActivateAccount(ctx context.Context, number string) (*models.Account, error)
	CloseAccount(ctx context.Context, number string) (*models.Account, error)
}

// OpenAccountRequest carries the data needed to open an account.
type OpenAccountRequest struct {
	OwnerType models.OwnerType   `json:"owner_type" binding:"required"`
	OwnerID   int64              `json:"owner_id" binding:"required,gt=0"`
	Type      models.AccountType `json:"type" binding:"required"`
	Currency  string             `json:"currency" binding:"required,len=3"`
}

type accountService struct {
	accounts  repository.AccountRepository
	balances  repository.BalanceRepository
	sequences repository.SequenceRepository
	owners    external.OwnerClient
	tx        ledger.TxRunner
	logger    *logrus.Logger
}

func NewAccountService(
	accounts repository.AccountRepository,
	balances repository.BalanceRepository,
	sequences repository.SequenceRepository,
	owners external.OwnerClient,
	tx ledger.TxRunner,
	logger *logrus.Logger,
) AccountService {
	return &accountService{
		accounts:  accounts,
		balances:  balances,
		sequences: sequences,
		owners:    owners,
		tx:        tx,
		logger:    logger,
	}
}

// OpenAccount verifies the owner, allocates an account number and creates the
// account together with its zeroed balance document.
func (s *accountService) OpenAccount(ctx context.Context, req *OpenAccountRequest) (*models.Account, error) {
	owner := models.Owner{Type: req.OwnerType, ExternalID: req.OwnerID}

	if err := s.owners.VerifyOwner(ctx, owner); err != nil {
		return nil, fmt.Errorf("owner verification failed: %w", err)
	}

	number, err := s.sequences.NextAccountNumber(ctx, req.Type)
	if err != nil {
		return nil, err
	}

	account := models.NewAccount(number, owner, req.Type, req.Currency)
	err = s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.accounts.Create(txCtx, account); err != nil {
			return err
		}
		return s.balances.Create(txCtx, models.NewBalance(number))
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"account":    account.Number,
		"owner_type": owner.Type,
		"owner_id":   owner.ExternalID,
		"type":       account.Type,
	}).Info("Account opened")
	return account, nil
}

func (s *accountService) GetAccount(ctx context.Context, number string) (*models.Account, error) {
	return s.accounts.GetByNumber(ctx, number)
}

func (s *accountService) ListAccounts(ctx context.Context, owner models.Owner, limit, offset int) ([]*models.Account, error) {
	return s.accounts.ListByOwner(ctx, owner, limit, offset)
}

func (s *accountService) SuspendAccount(ctx context.Context, number string) (*models.Account, error) {
	return s.transition(ctx, number, (*models.Account).Suspend, "Account suspended")
}

func (s *accountService) ActivateAccount(ctx context.Context, number string) (*models.Account, error) {
	return s.transition(ctx, number, (*models.Account).Activate, "Account activated")
}

// CloseAccount terminates an account. Outstanding reservations must be
// released or cancelled first; the balance document stays behind as history.
func (s *accountService) CloseAccount(ctx context.Context, number string) (*models.Account, error) {
	account, err := s.accounts.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if err := account.Close(); err != nil {
		return nil, err
	}

	err = s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		balance, err := s.balances.GetByAccount(txCtx, number)
		if err != nil {
			return err
		}
		if !balance.AuthorizedBalance.IsZero() {
			return fmt.Errorf("%w: account %s has %s in outstanding reservations",
				models.ErrInvalidState, number, balance.AuthorizedBalance)
		}
		// Version-guarded no-op save: a reservation racing this close fails
		// the version check on one side or the other instead of landing on a
		// closed account.
		if err := s.balances.Save(txCtx, balance); err != nil {
			return err
		}
		return s.accounts.UpdateStatus(txCtx, account)
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"account": account.Number,
		"status":  account.Status,
	}).Info("Account closed")
	return account, nil
}

func (s *accountService) transition(ctx context.Context, number string, apply func(*models.Account) error, logMsg string) (*models.Account, error) {
	account, err := s.accounts.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if err := apply(account); err != nil {
		return nil, err
	}
	if err := s.accounts.UpdateStatus(ctx, account); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"account": account.Number,
		"status":  account.Status,
	}).Info(logMsg)
	return account, nil
}
