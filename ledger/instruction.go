package ledger

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Action is the balance effect requested from the external ledger.
type Action string

const (
	// ActionReserve holds the principal against the agent's balance when a
	// balance-impacting transaction is submitted.
	ActionReserve Action = "reserve"
	// ActionCommit consumes the reservation and credits the commission on
	// validation.
	ActionCommit Action = "commit"
	// ActionRelease restores the reservation on rejection.
	ActionRelease Action = "release"
)

// Instruction is an idempotent settlement order for the external ledger.
// The ledger performs the balance arithmetic; the core only states the
// amounts. Instructions are keyed by item so retried delivery cannot
// double-settle.
type Instruction struct {
	ItemID     string
	Action     Action
	Amount     decimal.Decimal
	Commission decimal.Decimal
	PayeeID    string
}

// Outbox persists instructions transactionally alongside the state change
// that caused them. A unique index on (item_id, action) plus a partial unique
// index over the terminal actions guarantee at most one reservation and one
// settlement per item; replays land on ON CONFLICT DO NOTHING.
type Outbox struct{}

func NewOutbox() *Outbox {
	return &Outbox{}
}

// Enqueue records the instruction inside the caller's transaction.
func (o *Outbox) Enqueue(ctx context.Context, tx pgx.Tx, ins Instruction) error {
	if ins.ItemID == "" {
		return fmt.Errorf("ledger: instruction missing item id")
	}

	const query = `
		INSERT INTO ledger_instructions (item_id, action, amount, commission, payee_id, status)
		VALUES ($1, $2, $3, $4, $5, 'pending')
		ON CONFLICT DO NOTHING
	`
	if _, err := tx.Exec(ctx, query, ins.ItemID, ins.Action, ins.Amount, ins.Commission, ins.PayeeID); err != nil {
		return fmt.Errorf("ledger: enqueue instruction: %w", err)
	}
	return nil
}
