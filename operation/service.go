package operation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"agencyflow/queue"
)

var (
	// ErrForbidden signals the actor's role may not manage operation types.
	ErrForbidden = errors.New("operation: forbidden")
	// ErrNotActive signals the type cannot back new submissions.
	ErrNotActive = errors.New("operation: type not active")
)

// Service gates registry writes behind the developer role and validates
// commission configurations before they are persisted. Rejecting a malformed
// tier set here keeps resolution-time failures out of the money path.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Create(ctx context.Context, actor queue.Actor, t Type) (Type, error) {
	if actor.Role != queue.RoleDeveloper {
		return Type{}, ErrForbidden
	}
	if strings.TrimSpace(t.Name) == "" {
		return Type{}, fmt.Errorf("operation: name required")
	}
	if t.Status == "" {
		t.Status = StatusActive
	}
	if t.Status != StatusActive && t.Status != StatusInactive {
		return Type{}, fmt.Errorf("operation: invalid initial status %q", t.Status)
	}
	if err := t.Commission.Validate(); err != nil {
		return Type{}, err
	}
	return s.repo.Create(ctx, t)
}

func (s *Service) Update(ctx context.Context, actor queue.Actor, t Type) (Type, error) {
	if actor.Role != queue.RoleDeveloper {
		return Type{}, ErrForbidden
	}
	if t.ID == "" {
		return Type{}, fmt.Errorf("operation: missing type id")
	}
	if err := t.Commission.Validate(); err != nil {
		return Type{}, err
	}
	return s.repo.Update(ctx, t)
}

func (s *Service) Archive(ctx context.Context, actor queue.Actor, id string) (Type, error) {
	if actor.Role != queue.RoleDeveloper {
		return Type{}, ErrForbidden
	}
	return s.repo.Archive(ctx, id)
}

// GetForSubmission fetches a type and refuses inactive or archived ones.
func (s *Service) GetForSubmission(ctx context.Context, id string) (Type, error) {
	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Type{}, err
	}
	if t.Status != StatusActive {
		return Type{}, fmt.Errorf("%w: %s is %s", ErrNotActive, t.Name, t.Status)
	}
	return t, nil
}

func (s *Service) ListActive(ctx context.Context) ([]Type, error) {
	return s.repo.ListActive(ctx)
}
