package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Balance holds the current monetary state of one account. AuthorizedBalance
// tracks funds held for pending payments, ActualBalance tracks settled funds.
// Version implements optimistic concurrency: every successful save increments
// it, and a save against a stale version fails with ErrConcurrentModification.
type Balance struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	AccountNumber string             `bson:"account_number" json:"account_number"`

	AuthorizedBalance decimal.Decimal `bson:"authorized_balance" json:"authorized_balance"`
	ActualBalance     decimal.Decimal `bson:"actual_balance" json:"actual_balance"`
	Version           int64           `bson:"version" json:"version"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// NewBalance creates a zeroed balance for a freshly opened account.
func NewBalance(accountNumber string) *Balance {
	now := time.Now()
	return &Balance{
		AccountNumber:     accountNumber,
		AuthorizedBalance: decimal.Zero,
		ActualBalance:     decimal.Zero,
		Version:           0,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Available returns the actual balance not covered by reservations.
func (b *Balance) Available() decimal.Decimal {
	return b.ActualBalance.Sub(b.AuthorizedBalance)
}

// Validate checks the non-negativity invariants.
func (b *Balance) Validate() error {
	if b.AccountNumber == "" {
		return fmt.Errorf("account number is required")
	}
	if b.AuthorizedBalance.LessThan(decimal.Zero) {
		return fmt.Errorf("authorized balance cannot be negative")
	}
	if b.ActualBalance.LessThan(decimal.Zero) {
		return fmt.Errorf("actual balance cannot be negative")
	}
	return nil
}

// BalanceView is the read model returned to callers.
type BalanceView struct {
	AccountNumber     string          `json:"account_number"`
	AuthorizedBalance decimal.Decimal `json:"authorized_balance"`
	ActualBalance     decimal.Decimal `json:"actual_balance"`
	Version           int64           `json:"version"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// View projects the balance into its read model.
func (b *Balance) View() *BalanceView {
	return &BalanceView{
		AccountNumber:     b.AccountNumber,
		AuthorizedBalance: b.AuthorizedBalance,
		ActualBalance:     b.ActualBalance,
		Version:           b.Version,
		CreatedAt:         b.CreatedAt,
		UpdatedAt:         b.UpdatedAt,
	}
}
