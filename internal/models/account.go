package models

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AccountStatus is the lifecycle state of a payment account.
type AccountStatus string

const (
	AccountStatusActive    AccountStatus = "ACTIVE"
	AccountStatusFrozen    AccountStatus = "FROZEN"
	AccountStatusSuspended AccountStatus = "SUSPENDED"
	AccountStatusClosed    AccountStatus = "CLOSED"
)

// AccountType classifies the account product.
type AccountType string

const (
	AccountTypeChecking AccountType = "CHECKING"
	AccountTypeSavings  AccountType = "SAVINGS"
	AccountTypeDeposit  AccountType = "DEPOSIT"
)

// OwnerType identifies which external service owns the account.
type OwnerType string

const (
	OwnerTypeUser    OwnerType = "USER"
	OwnerTypeProject OwnerType = "PROJECT"
)

// Owner references an external user or project.
type Owner struct {
	Type       OwnerType `bson:"type" json:"type"`
	ExternalID int64     `bson:"external_id" json:"external_id"`
}

// Account represents a payment account. Balances live in a separate document
// keyed by the account number.
type Account struct {
	ID       primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	Number   string             `bson:"number" json:"number"`
	Owner    Owner              `bson:"owner" json:"owner"`
	Type     AccountType        `bson:"type" json:"type"`
	Currency string             `bson:"currency" json:"currency"`
	Status   AccountStatus      `bson:"status" json:"status"`
	Version  int64              `bson:"version" json:"version"`

	CreatedAt time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time  `bson:"updated_at" json:"updated_at"`
	ClosedAt  *time.Time `bson:"closed_at,omitempty" json:"closed_at,omitempty"`
}

// NewAccount creates an active account with the given generated number.
func NewAccount(number string, owner Owner, accountType AccountType, currency string) *Account {
	now := time.Now()
	return &Account{
		Number:    number,
		Owner:     owner,
		Type:      accountType,
		Currency:  currency,
		Status:    AccountStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsActive reports whether the account accepts balance mutations.
func (a *Account) IsActive() bool {
	return a.Status == AccountStatusActive
}

// Suspend moves an active account to SUSPENDED.
func (a *Account) Suspend() error {
	if a.Status != AccountStatusActive {
		return fmt.Errorf("%w: cannot suspend account in status %s", ErrInvalidState, a.Status)
	}
	a.Status = AccountStatusSuspended
	a.UpdatedAt = time.Now()
	return nil
}

// Activate moves a suspended account back to ACTIVE.
func (a *Account) Activate() error {
	if a.Status != AccountStatusSuspended {
		return fmt.Errorf("%w: cannot activate account in status %s", ErrInvalidState, a.Status)
	}
	a.Status = AccountStatusActive
	a.UpdatedAt = time.Now()
	return nil
}

// Close terminates the account. Closed accounts keep their balance document
// as a historical record.
func (a *Account) Close() error {
	if a.Status == AccountStatusClosed {
		return fmt.Errorf("%w: account is already closed", ErrInvalidState)
	}
	now := time.Now()
	a.Status = AccountStatusClosed
	a.ClosedAt = &now
	a.UpdatedAt = now
	return nil
}

// Validate validates account data before persistence.
func (a *Account) Validate() error {
	if len(a.Number) != AccountNumberLength {
		return fmt.Errorf("account number must be %d digits", AccountNumberLength)
	}
	if a.Owner.ExternalID <= 0 {
		return fmt.Errorf("owner external id must be positive")
	}
	if a.Owner.Type != OwnerTypeUser && a.Owner.Type != OwnerTypeProject {
		return fmt.Errorf("invalid owner type: %s", a.Owner.Type)
	}
	if a.Currency == "" {
		return fmt.Errorf("currency is required")
	}
	switch a.Type {
	case AccountTypeChecking, AccountTypeSavings, AccountTypeDeposit:
	default:
		return fmt.Errorf("invalid account type: %s", a.Type)
	}
	return nil
}

// AccountNumberLength is the fixed length of generated account numbers.
const AccountNumberLength = 20
