package validation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"agencyflow/notify"
	"agencyflow/queue"
	"agencyflow/request"
)

// RequestService concludes claimed support requests. Requests carry no money,
// so no ledger instruction accompanies the conclusion.
type RequestService struct {
	pool TxBeginner
	repo request.Repository
	sink notify.Sink
	now  func() time.Time
}

func NewRequestService(pool TxBeginner, repo request.Repository) *RequestService {
	return &RequestService{pool: pool, repo: repo, now: time.Now}
}

// WithSink attaches a fire-and-forget transition sink.
func (s *RequestService) WithSink(sink notify.Sink) *RequestService {
	s.sink = sink
	return s
}

// Resolve concludes the request with a response to the requester.
func (s *RequestService) Resolve(ctx context.Context, id string, actor queue.Actor, response string) (request.Request, error) {
	if !queue.Allowed(actor.Role, queue.ActionResolve, queue.OwnedBySelf) {
		return request.Request{}, fmt.Errorf("%w: %s may not resolve", ErrForbidden, actor.Role)
	}
	response = strings.TrimSpace(response)
	if response == "" {
		return request.Request{}, fmt.Errorf("validation: response required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return request.Request{}, fmt.Errorf("validation: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	r, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return request.Request{}, err
	}
	if r.Status.Terminal() {
		if r.Status == request.StatusResolved && r.ResolvedByID != nil && *r.ResolvedByID == actor.ID {
			return r, nil
		}
		return request.Request{}, fmt.Errorf("%w: already %s", ErrInvalidTransition, r.Status)
	}
	if r.AssignedTo == nil || *r.AssignedTo != actor.ID {
		return request.Request{}, ErrNotOwner
	}

	updated, err := s.repo.MarkResolved(ctx, tx, id, actor.ID, response)
	if err != nil {
		return request.Request{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return request.Request{}, fmt.Errorf("validation: commit resolve: %w", err)
	}

	emit(ctx, s.sink, notify.Event{
		ItemKind: "request",
		ItemID:   updated.ID,
		Action:   string(queue.ActionResolve),
		ActorID:  actor.ID,
		At:       s.now().UTC(),
	})
	return updated, nil
}

// Close concludes the request without resolution. The reason must come from
// the close-reason catalog; ReasonOther additionally needs a free-text note.
func (s *RequestService) Close(ctx context.Context, id string, actor queue.Actor, reason request.CloseReason, note string) (request.Request, error) {
	if !queue.Allowed(actor.Role, queue.ActionClose, queue.OwnedBySelf) {
		return request.Request{}, fmt.Errorf("%w: %s may not close", ErrForbidden, actor.Role)
	}
	if !request.KnownCloseReason(reason) {
		return request.Request{}, fmt.Errorf("%w: unknown close reason %q", ErrMissingReason, reason)
	}
	note = strings.TrimSpace(note)
	if reason == request.ReasonOther && note == "" {
		return request.Request{}, fmt.Errorf("%w: close reason %q needs a note", ErrMissingReason, reason)
	}

	stored := string(reason)
	if note != "" {
		stored = fmt.Sprintf("%s: %s", reason, note)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return request.Request{}, fmt.Errorf("validation: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	r, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return request.Request{}, err
	}
	if r.Status.Terminal() {
		if r.Status == request.StatusClosed && r.ResolvedByID != nil && *r.ResolvedByID == actor.ID {
			return r, nil
		}
		return request.Request{}, fmt.Errorf("%w: already %s", ErrInvalidTransition, r.Status)
	}
	if r.AssignedTo == nil || *r.AssignedTo != actor.ID {
		return request.Request{}, ErrNotOwner
	}

	updated, err := s.repo.MarkClosed(ctx, tx, id, actor.ID, stored)
	if err != nil {
		return request.Request{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return request.Request{}, fmt.Errorf("validation: commit close: %w", err)
	}

	emit(ctx, s.sink, notify.Event{
		ItemKind: "request",
		ItemID:   updated.ID,
		Action:   string(queue.ActionClose),
		ActorID:  actor.ID,
		At:       s.now().UTC(),
	})
	return updated, nil
}
