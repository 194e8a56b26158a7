package assignment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agencyflow/notify"
	"agencyflow/queue"
)

// ErrForbidden signals the actor's role may not perform the queue action.
var ErrForbidden = errors.New("assignment: forbidden")

// Store is the conditional-update surface an entity repository exposes to the
// claim protocol. UpdateOwnerIf must apply atomically: either the ownership
// precondition held and the full effect applied, or nothing did and the call
// fails with queue.ErrStaleOwnership.
type Store[T queue.Claimable] interface {
	GetByID(ctx context.Context, id string) (T, error)
	UpdateOwnerIf(ctx context.Context, id string, expected, next *string) (T, error)
	ForceOwner(ctx context.Context, id string, next string) (T, error)
}

// Service performs claim, release, and reassign against one entity kind.
// It never touches amounts, commissions, or terminal outcomes; only the
// ownership pair (assigned_to, status) moves.
type Service[T queue.Claimable] struct {
	store    Store[T]
	itemKind string
	sink     notify.Sink
	now      func() time.Time
}

func NewService[T queue.Claimable](store Store[T], itemKind string) *Service[T] {
	return &Service[T]{
		store:    store,
		itemKind: itemKind,
		now:      time.Now,
	}
}

// WithSink attaches a fire-and-forget transition sink.
func (s *Service[T]) WithSink(sink notify.Sink) *Service[T] {
	s.sink = sink
	return s
}

// Claim takes ownership of an unassigned item for the actor. Exactly one of
// several concurrent claims can win; the losers observe
// queue.ErrStaleOwnership and should refetch before retrying.
func (s *Service[T]) Claim(ctx context.Context, id string, actor queue.Actor) (T, error) {
	var zero T
	if !queue.Allowed(actor.Role, queue.ActionClaim, queue.Unowned) {
		return zero, fmt.Errorf("%w: %s may not claim", ErrForbidden, actor.Role)
	}

	item, err := s.store.UpdateOwnerIf(ctx, id, nil, &actor.ID)
	if err != nil {
		return zero, err
	}

	s.notified(ctx, item, queue.ActionClaim, actor.ID)
	return item, nil
}

// Release gives up the actor's own claim, returning the item to the
// unassigned pool.
func (s *Service[T]) Release(ctx context.Context, id string, actor queue.Actor) (T, error) {
	var zero T
	if !queue.Allowed(actor.Role, queue.ActionRelease, queue.OwnedBySelf) {
		return zero, fmt.Errorf("%w: %s may not release", ErrForbidden, actor.Role)
	}

	item, err := s.store.UpdateOwnerIf(ctx, id, &actor.ID, nil)
	if err != nil {
		return zero, err
	}

	s.notified(ctx, item, queue.ActionRelease, actor.ID)
	return item, nil
}

// Reassign hands the item to target regardless of the current owner. Only an
// admin general may do this; terminal items stay off limits.
func (s *Service[T]) Reassign(ctx context.Context, id string, admin queue.Actor, targetID string) (T, error) {
	var zero T
	if targetID == "" {
		return zero, fmt.Errorf("assignment: missing reassign target")
	}

	item, err := s.store.GetByID(ctx, id)
	if err != nil {
		return zero, err
	}
	if !queue.Allowed(admin.Role, queue.ActionReassign, queue.OwnershipOf(item, admin.ID)) {
		return zero, fmt.Errorf("%w: %s may not reassign", ErrForbidden, admin.Role)
	}

	item, err = s.store.ForceOwner(ctx, id, targetID)
	if err != nil {
		return zero, err
	}

	s.notified(ctx, item, queue.ActionReassign, admin.ID)
	return item, nil
}

func (s *Service[T]) notified(ctx context.Context, item T, action queue.Action, actorID string) {
	if s.sink == nil {
		return
	}
	// Sink failures never block a transition.
	_ = s.sink.TransitionRecorded(ctx, notify.Event{
		ItemKind: s.itemKind,
		ItemID:   item.ItemID(),
		Action:   string(action),
		ActorID:  actorID,
		At:       s.now().UTC(),
	})
}
