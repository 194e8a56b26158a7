package request

import "time"

// Status is the claim-protocol state of a support request.
type Status string

const (
	StatusUnassigned Status = "unassigned"
	StatusAssigned   Status = "assigned"
	StatusResolved   Status = "resolved"
	StatusClosed     Status = "closed"
)

// Terminal reports whether no further transition is permitted.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusClosed
}

// CloseReason codes accepted when closing without resolution. ReasonOther
// requires a free-text note.
type CloseReason string

const (
	ReasonDuplicate            CloseReason = "duplicate"
	ReasonOutOfScope           CloseReason = "out_of_scope"
	ReasonRequesterUnreachable CloseReason = "requester_unreachable"
	ReasonOther                CloseReason = "other"
)

// KnownCloseReason reports whether code belongs to the fixed catalog.
func KnownCloseReason(code CloseReason) bool {
	switch code {
	case ReasonDuplicate, ReasonOutOfScope, ReasonRequesterUnreachable, ReasonOther:
		return true
	default:
		return false
	}
}

// Request mirrors the requests table.
type Request struct {
	ID             string
	RequesterID    string
	Type           string
	Subject        string
	Description    string
	Status         Status
	AssignedTo     *string
	ResolvedByID   *string
	Response       *string
	CloseReason    *string
	ResolutionDate *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (r Request) ItemID() string      { return r.ID }
func (r Request) Owner() *string      { return r.AssignedTo }
func (r Request) OpenedAt() time.Time { return r.CreatedAt }

// Filters narrows queue listings. Zero values are ignored.
type Filters struct {
	Status      Status
	AssignedTo  string
	RequesterID string
	Page        int
	PageSize    int
}
