package operation

import (
	"time"

	"agencyflow/commission"
)

// Status is the lifecycle state of an operation type.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	// StatusArchived excludes the type from new submissions while historical
	// transactions keep referencing it.
	StatusArchived Status = "archived"
)

// FormField describes one input of the submission form for this operation
// type. The core never interprets fields; they are carried for the console's
// form rendering.
type FormField struct {
	Name     string `json:"name"`
	Label    string `json:"label"`
	Kind     string `json:"kind"`
	Required bool   `json:"required"`
}

// Type mirrors the operation_types table.
type Type struct {
	ID             string
	Name           string
	ImpactsBalance bool
	ProofRequired  bool
	Status         Status
	Fields         []FormField
	Commission     commission.Config
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
