package queue

import (
	"errors"
	"time"
)

// ErrStaleOwnership signals that a conditional ownership update lost a
// concurrent race: the item's owner changed between read and commit. Callers
// should refetch and may retry.
var ErrStaleOwnership = errors.New("queue: stale ownership")

// Role enumerates operator roles in the agency network.
type Role string

const (
	RoleAgent        Role = "agent"
	RoleChefAgence   Role = "chef_agence"
	RoleAdminGeneral Role = "admin_general"
	RoleDeveloper    Role = "developer"
)

// Actor identifies the operator performing a queue action.
type Actor struct {
	ID   string
	Role Role
}

// Claimable is the shared shape of items that move through the validation
// queue. Transactions and support requests both satisfy it.
type Claimable interface {
	ItemID() string
	Owner() *string
	OpenedAt() time.Time
}

// View groups a queue snapshot into the operator-facing partitions.
// Unassigned and AssignedToMe are disjoint; All is the unfiltered input.
type View[T Claimable] struct {
	Unassigned   []T
	AssignedToMe []T
	All          []T
}

// Partition classifies items by ownership relative to actorID. It is pure and
// stable: relative order is preserved and the input is never mutated. It must
// be recomputed whenever the underlying collection or an assignment changes.
func Partition[T Claimable](items []T, actorID string) View[T] {
	view := View[T]{
		Unassigned:   make([]T, 0, len(items)),
		AssignedToMe: make([]T, 0, len(items)),
		All:          items,
	}

	for _, item := range items {
		owner := item.Owner()
		switch {
		case owner == nil:
			view.Unassigned = append(view.Unassigned, item)
		case *owner == actorID:
			view.AssignedToMe = append(view.AssignedToMe, item)
		}
	}

	return view
}
