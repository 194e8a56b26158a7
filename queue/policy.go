package queue

// Action enumerates the role-gated queue operations.
type Action string

const (
	ActionClaim    Action = "claim"
	ActionRelease  Action = "release"
	ActionReassign Action = "reassign"
	ActionValidate Action = "validate"
	ActionReject   Action = "reject"
	ActionResolve  Action = "resolve"
	ActionClose    Action = "close"
)

// OwnershipState positions an actor relative to an item's current owner.
type OwnershipState string

const (
	Unowned      OwnershipState = "unowned"
	OwnedBySelf  OwnershipState = "owned_by_self"
	OwnedByOther OwnershipState = "owned_by_other"
)

// OwnershipOf computes the actor's ownership state for an item.
func OwnershipOf(item Claimable, actorID string) OwnershipState {
	owner := item.Owner()
	switch {
	case owner == nil:
		return Unowned
	case *owner == actorID:
		return OwnedBySelf
	default:
		return OwnedByOther
	}
}

type policyKey struct {
	role      Role
	action    Action
	ownership OwnershipState
}

// policy is the single authorization table consumed by the assignment and
// validation services. Roles absent from the table for a given action are
// denied; there is no fallback branching elsewhere.
var policy = map[policyKey]bool{
	// Validators self-claim unowned items and release their own claims.
	{RoleChefAgence, ActionClaim, Unowned}:         true,
	{RoleAdminGeneral, ActionClaim, Unowned}:       true,
	{RoleChefAgence, ActionRelease, OwnedBySelf}:   true,
	{RoleAdminGeneral, ActionRelease, OwnedBySelf}: true,

	// Only an admin general may hand an item to a third party, whatever its
	// current ownership.
	{RoleAdminGeneral, ActionReassign, Unowned}:      true,
	{RoleAdminGeneral, ActionReassign, OwnedBySelf}:  true,
	{RoleAdminGeneral, ActionReassign, OwnedByOther}: true,

	// Terminal outcomes require current ownership.
	{RoleChefAgence, ActionValidate, OwnedBySelf}:   true,
	{RoleAdminGeneral, ActionValidate, OwnedBySelf}: true,
	{RoleChefAgence, ActionReject, OwnedBySelf}:     true,
	{RoleAdminGeneral, ActionReject, OwnedBySelf}:   true,
	{RoleChefAgence, ActionResolve, OwnedBySelf}:    true,
	{RoleAdminGeneral, ActionResolve, OwnedBySelf}:  true,
	{RoleChefAgence, ActionClose, OwnedBySelf}:      true,
	{RoleAdminGeneral, ActionClose, OwnedBySelf}:    true,
}

// Allowed reports whether role may perform action given the ownership state.
func Allowed(role Role, action Action, ownership OwnershipState) bool {
	return policy[policyKey{role: role, action: action, ownership: ownership}]
}
