// Package validation moves claimed queue items to their terminal states.
// Only the current owner may conclude an item, and a concluded item never
// moves again. Repeating the same conclusion by the same operator is a
// no-op so retried requests stay safe.
package validation

import (
	"context"
	"errors"

	"agencyflow/notify"

	"github.com/jackc/pgx/v5"
)

var (
	// ErrInvalidTransition signals the item is already terminal with a
	// different outcome or a different operator.
	ErrInvalidTransition = errors.New("validation: invalid transition")
	// ErrNotOwner signals the actor does not hold the claim.
	ErrNotOwner = errors.New("validation: not the owner")
	// ErrMissingReason signals a rejection or closure without a reason.
	ErrMissingReason = errors.New("validation: reason required")
	// ErrForbidden signals the actor's role may not conclude items.
	ErrForbidden = errors.New("validation: forbidden")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

func emit(ctx context.Context, sink notify.Sink, e notify.Event) {
	if sink == nil {
		return
	}
	// Sink failures never undo a committed transition.
	_ = sink.TransitionRecorded(ctx, e)
}
