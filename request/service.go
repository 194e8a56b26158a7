package request

import (
	"context"
	"fmt"
	"strings"
)

// Service handles support request submission and listing. Assignment and
// terminal transitions go through the shared queue services.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

type SubmitParams struct {
	RequesterID string
	Type        string
	Subject     string
	Description string
}

func (s *Service) Submit(ctx context.Context, params SubmitParams) (Request, error) {
	if params.RequesterID == "" {
		return Request{}, fmt.Errorf("request: missing requester id")
	}
	if strings.TrimSpace(params.Subject) == "" {
		return Request{}, fmt.Errorf("request: subject required")
	}
	if strings.TrimSpace(params.Description) == "" {
		return Request{}, fmt.Errorf("request: description required")
	}

	return s.repo.Create(ctx, Request{
		RequesterID: params.RequesterID,
		Type:        params.Type,
		Subject:     strings.TrimSpace(params.Subject),
		Description: strings.TrimSpace(params.Description),
	})
}

func (s *Service) List(ctx context.Context, filters Filters) ([]Request, int, error) {
	return s.repo.List(ctx, filters)
}
