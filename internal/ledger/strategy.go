package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"account-api/internal/models"
)

// A transition mutates the authorized/actual pair in memory. It must either
// apply completely or leave the balance untouched; persistence and retries are
// the engine's problem.
type transition func(balance *models.Balance, amount decimal.Decimal) error

var transitions = map[models.OperationKind]transition{
	models.OperationIncrease:          applyIncrease,
	models.OperationDecrease:          applyDecrease,
	models.OperationReserve:           applyReserve,
	models.OperationRelease:           applyRelease,
	models.OperationCancelReservation: applyCancelReservation,
}

// transitionFor resolves the mutation for an operation kind. TRANSFER has no
// single-account transition; it is composed from DECREASE and INCREASE.
func transitionFor(kind models.OperationKind) (transition, error) {
	fn, ok := transitions[kind]
	if !ok {
		return nil, fmt.Errorf("%w: no transition for operation %s", models.ErrInvalidArgument, kind)
	}
	return fn, nil
}

func applyIncrease(balance *models.Balance, amount decimal.Decimal) error {
	balance.ActualBalance = balance.ActualBalance.Add(amount)
	return nil
}

func applyDecrease(balance *models.Balance, amount decimal.Decimal) error {
	if balance.ActualBalance.LessThan(amount) {
		return fmt.Errorf("%w: account %s has %s actual, needs %s",
			models.ErrInsufficientFunds, balance.AccountNumber, balance.ActualBalance, amount)
	}
	balance.ActualBalance = balance.ActualBalance.Sub(amount)
	return nil
}

// applyReserve holds funds without moving them: only the uncommitted portion
// of the actual balance can be reserved.
func applyReserve(balance *models.Balance, amount decimal.Decimal) error {
	if balance.Available().LessThan(amount) {
		return fmt.Errorf("%w: account %s has %s available, needs %s",
			models.ErrInsufficientFunds, balance.AccountNumber, balance.Available(), amount)
	}
	balance.AuthorizedBalance = balance.AuthorizedBalance.Add(amount)
	return nil
}

// applyRelease settles a prior reservation: the hold is lifted and the funds
// actually leave the account.
func applyRelease(balance *models.Balance, amount decimal.Decimal) error {
	if balance.AuthorizedBalance.LessThan(amount) {
		return fmt.Errorf("%w: account %s has %s authorized, releasing %s",
			models.ErrInvalidReleaseAmount, balance.AccountNumber, balance.AuthorizedBalance, amount)
	}
	if balance.ActualBalance.LessThan(amount) {
		return fmt.Errorf("%w: account %s has %s actual, releasing %s",
			models.ErrInsufficientFunds, balance.AccountNumber, balance.ActualBalance, amount)
	}
	balance.AuthorizedBalance = balance.AuthorizedBalance.Sub(amount)
	balance.ActualBalance = balance.ActualBalance.Sub(amount)
	return nil
}

// applyCancelReservation lifts a hold without moving funds.
func applyCancelReservation(balance *models.Balance, amount decimal.Decimal) error {
	if balance.AuthorizedBalance.LessThan(amount) {
		return fmt.Errorf("%w: account %s has %s authorized, cancelling %s",
			models.ErrInvalidReleaseAmount, balance.AccountNumber, balance.AuthorizedBalance, amount)
	}
	balance.AuthorizedBalance = balance.AuthorizedBalance.Sub(amount)
	return nil
}
