package models

import (
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AuditRecord is one immutable entry of the balance audit trail. Exactly one
// record is written per successful mutation, in the same transaction as the
// balance save. Records are never updated or deleted.
//
// Number comes from the external sequence generator and is unique across the
// whole trail; OperationID is the caller's correlation id and is used to
// detect re-delivery of the same upstream event.
type AuditRecord struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	Number        string             `bson:"number" json:"number"`
	AccountNumber string             `bson:"account_number" json:"account_number"`

	Kind   OperationKind   `bson:"kind" json:"kind"`
	Amount decimal.Decimal `bson:"amount" json:"amount"`

	// Post-mutation state.
	AuthorizedBalance decimal.Decimal `bson:"authorized_balance" json:"authorized_balance"`
	ActualBalance     decimal.Decimal `bson:"actual_balance" json:"actual_balance"`
	BalanceVersion    int64           `bson:"balance_version" json:"balance_version"`

	OperationID string    `bson:"operation_id,omitempty" json:"operation_id,omitempty"`
	CreatedAt   time.Time `bson:"created_at" json:"created_at"`
}

// NewAuditRecord captures the post-mutation state of a balance.
func NewAuditRecord(number string, balance *Balance, kind OperationKind, amount decimal.Decimal, operationID string) *AuditRecord {
	return &AuditRecord{
		Number:            number,
		AccountNumber:     balance.AccountNumber,
		Kind:              kind,
		Amount:            amount,
		AuthorizedBalance: balance.AuthorizedBalance,
		ActualBalance:     balance.ActualBalance,
		BalanceVersion:    balance.Version,
		OperationID:       operationID,
		CreatedAt:         time.Now(),
	}
}

// View projects the recorded post-mutation state as a BalanceView. Used when
// a replayed operation returns the already-recorded result.
func (r *AuditRecord) View() *BalanceView {
	return &BalanceView{
		AccountNumber:     r.AccountNumber,
		AuthorizedBalance: r.AuthorizedBalance,
		ActualBalance:     r.ActualBalance,
		Version:           r.BalanceVersion,
		UpdatedAt:         r.CreatedAt,
	}
}
