package validation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"agencyflow/ledger"
	"agencyflow/notify"
	"agencyflow/operation"
	"agencyflow/queue"
	"agencyflow/transaction"

	"github.com/jackc/pgx/v5"
)

// TypeSource resolves the operation type behind a transaction, used to decide
// whether a ledger instruction accompanies the conclusion.
type TypeSource interface {
	GetByID(ctx context.Context, id string) (operation.Type, error)
}

// LedgerOutbox enqueues balance instructions inside the conclusion transaction.
type LedgerOutbox interface {
	Enqueue(ctx context.Context, tx pgx.Tx, ins ledger.Instruction) error
}

// TransactionService concludes claimed transactions. Validation commits the
// commission figure stored at submission; it never recomputes it.
type TransactionService struct {
	pool   TxBeginner
	repo   transaction.Repository
	types  TypeSource
	outbox LedgerOutbox
	sink   notify.Sink
	now    func() time.Time
}

func NewTransactionService(pool TxBeginner, repo transaction.Repository, types TypeSource, outbox LedgerOutbox) *TransactionService {
	return &TransactionService{
		pool:   pool,
		repo:   repo,
		types:  types,
		outbox: outbox,
		now:    time.Now,
	}
}

// WithSink attaches a fire-and-forget transition sink.
func (s *TransactionService) WithSink(sink notify.Sink) *TransactionService {
	s.sink = sink
	return s
}

// Validate concludes the transaction as approved. For balance-impacting
// operation types a commit instruction is enqueued in the same database
// transaction as the status change.
func (s *TransactionService) Validate(ctx context.Context, id string, actor queue.Actor) (transaction.Transaction, error) {
	if !queue.Allowed(actor.Role, queue.ActionValidate, queue.OwnedBySelf) {
		return transaction.Transaction{}, fmt.Errorf("%w: %s may not validate", ErrForbidden, actor.Role)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return transaction.Transaction{}, fmt.Errorf("validation: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	t, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return transaction.Transaction{}, err
	}
	if t.Status.Terminal() {
		// Replaying one's own validation is a success, anything else is a
		// conflict.
		if t.Status == transaction.StatusValidated && t.ValidatorID != nil && *t.ValidatorID == actor.ID {
			return t, nil
		}
		return transaction.Transaction{}, fmt.Errorf("%w: already %s", ErrInvalidTransition, t.Status)
	}
	if t.AssignedTo == nil || *t.AssignedTo != actor.ID {
		return transaction.Transaction{}, ErrNotOwner
	}

	updated, err := s.repo.MarkValidated(ctx, tx, id, actor.ID)
	if err != nil {
		return transaction.Transaction{}, err
	}

	if err := s.settle(ctx, tx, updated, ledger.ActionCommit); err != nil {
		return transaction.Transaction{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return transaction.Transaction{}, fmt.Errorf("validation: commit validate: %w", err)
	}

	emit(ctx, s.sink, notify.Event{
		ItemKind: "transaction",
		ItemID:   updated.ID,
		Action:   string(queue.ActionValidate),
		ActorID:  actor.ID,
		At:       s.now().UTC(),
	})
	return updated, nil
}

// Reject concludes the transaction as refused. A reason is mandatory; for
// balance-impacting types the reservation is released.
func (s *TransactionService) Reject(ctx context.Context, id string, actor queue.Actor, reason string) (transaction.Transaction, error) {
	if !queue.Allowed(actor.Role, queue.ActionReject, queue.OwnedBySelf) {
		return transaction.Transaction{}, fmt.Errorf("%w: %s may not reject", ErrForbidden, actor.Role)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return transaction.Transaction{}, ErrMissingReason
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return transaction.Transaction{}, fmt.Errorf("validation: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	t, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return transaction.Transaction{}, err
	}
	if t.Status.Terminal() {
		if t.Status == transaction.StatusRejected && t.ValidatorID != nil && *t.ValidatorID == actor.ID {
			return t, nil
		}
		return transaction.Transaction{}, fmt.Errorf("%w: already %s", ErrInvalidTransition, t.Status)
	}
	if t.AssignedTo == nil || *t.AssignedTo != actor.ID {
		return transaction.Transaction{}, ErrNotOwner
	}

	updated, err := s.repo.MarkRejected(ctx, tx, id, actor.ID, reason)
	if err != nil {
		return transaction.Transaction{}, err
	}

	if err := s.settle(ctx, tx, updated, ledger.ActionRelease); err != nil {
		return transaction.Transaction{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return transaction.Transaction{}, fmt.Errorf("validation: commit reject: %w", err)
	}

	emit(ctx, s.sink, notify.Event{
		ItemKind: "transaction",
		ItemID:   updated.ID,
		Action:   string(queue.ActionReject),
		ActorID:  actor.ID,
		At:       s.now().UTC(),
	})
	return updated, nil
}

func (s *TransactionService) settle(ctx context.Context, tx pgx.Tx, t transaction.Transaction, action ledger.Action) error {
	if s.outbox == nil || s.types == nil {
		return nil
	}
	opType, err := s.types.GetByID(ctx, t.OpTypeID)
	if err != nil {
		return err
	}
	if !opType.ImpactsBalance {
		return nil
	}
	return s.outbox.Enqueue(ctx, tx, ledger.Instruction{
		ItemID:     t.ID,
		Action:     action,
		Amount:     t.Principal,
		Commission: t.Commission,
		PayeeID:    t.AgentID,
	})
}
