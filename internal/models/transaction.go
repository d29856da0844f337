package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Transaction statuses. Completed, failed and cancelled are terminal and
// absorbing: once a transaction reaches one of them it never moves again.
const (
	StatusInitiated = "initiated"
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Transaction types.
const (
	TypePayment = "payment"
	TypeRefund  = "refund"
)

// SupportedCurrencies the EcoCash API accepts.
var SupportedCurrencies = []string{"USD", "ZWL", "ZiG"}

// Transaction is one row of the ledger: a single payment or refund attempt
// against the EcoCash API, keyed by the merchant-generated reference.
type Transaction struct {
	ID               primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	OrderID          string             `bson:"order_id" json:"order_id"`
	Reference        string             `bson:"transaction_reference" json:"transaction_reference"`
	EcocashReference string             `bson:"ecocash_reference,omitempty" json:"ecocash_reference,omitempty"`
	MobileNumber     string             `bson:"mobile_number" json:"mobile_number"`
	Amount           float64            `bson:"amount" json:"amount"`
	Currency         string             `bson:"currency" json:"currency"`
	Status           string             `bson:"status" json:"status"`
	Type             string             `bson:"transaction_type" json:"transaction_type"`
	SandboxMode      bool               `bson:"sandbox_mode" json:"sandbox_mode"`
	Reason           string             `bson:"reason" json:"reason"`
	CreatedAt        time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt        time.Time          `bson:"updated_at" json:"updated_at"`
}

// IsTerminal reports whether a status is one of the absorbing states.
func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// IsSupportedCurrency reports whether the EcoCash API accepts the currency.
func IsSupportedCurrency(currency string) bool {
	for _, c := range SupportedCurrencies {
		if c == currency {
			return true
		}
	}
	return false
}
