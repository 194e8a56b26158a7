package transaction

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the claim-protocol state of a transaction.
type Status string

const (
	StatusUnassigned Status = "unassigned"
	StatusAssigned   Status = "assigned"
	StatusValidated  Status = "validated"
	StatusRejected   Status = "rejected"
)

// Terminal reports whether no further transition is permitted.
func (s Status) Terminal() bool {
	return s == StatusValidated || s == StatusRejected
}

// Transaction mirrors the transactions table. Commission is computed once at
// submission from the operation type's configuration and never recomputed,
// even if the configuration later changes.
type Transaction struct {
	ID              string
	AgentID         string
	OpTypeID        string
	Principal       decimal.Decimal
	Fees            decimal.Decimal
	Total           decimal.Decimal
	Commission      decimal.Decimal
	ProofURL        *string
	Status          Status
	AssignedTo      *string
	ValidatorID     *string
	RejectionReason *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (t Transaction) ItemID() string      { return t.ID }
func (t Transaction) Owner() *string      { return t.AssignedTo }
func (t Transaction) OpenedAt() time.Time { return t.CreatedAt }

// Filters narrows queue listings. Zero values are ignored.
type Filters struct {
	Status     Status
	AssignedTo string
	AgentID    string
	Page       int
	PageSize   int
}
