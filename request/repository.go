package request

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"agencyflow/queue"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals the request does not exist.
var ErrNotFound = errors.New("request: not found")

// Repository is the data access surface consumed by the assignment,
// validation, and submission services.
type Repository interface {
	Create(ctx context.Context, r Request) (Request, error)
	GetByID(ctx context.Context, id string) (Request, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Request, error)
	List(ctx context.Context, filters Filters) ([]Request, int, error)
	UpdateOwnerIf(ctx context.Context, id string, expected, next *string) (Request, error)
	ForceOwner(ctx context.Context, id string, next string) (Request, error)
	MarkResolved(ctx context.Context, tx pgx.Tx, id, resolverID, response string) (Request, error)
	MarkClosed(ctx context.Context, tx pgx.Tx, id, resolverID, reason string) (Request, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const reqColumns = `id, requester_id, type, subject, description, status, assigned_to,
	resolved_by_id, response, close_reason, resolution_date, created_at, updated_at`

func (r *PGRepository) Create(ctx context.Context, req Request) (Request, error) {
	query := fmt.Sprintf(`
		INSERT INTO requests (requester_id, type, subject, description, status)
		VALUES ($1, $2, $3, $4, 'unassigned')
		RETURNING %s
	`, reqColumns)

	created, err := scanRequest(r.pool.QueryRow(ctx, query, req.RequesterID, req.Type, req.Subject, req.Description))
	if err != nil {
		return Request{}, fmt.Errorf("request: insert: %w", err)
	}
	return created, nil
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (Request, error) {
	query := fmt.Sprintf(`SELECT %s FROM requests WHERE id = $1`, reqColumns)

	req, err := scanRequest(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrNotFound
		}
		return Request{}, fmt.Errorf("request: get by id: %w", err)
	}
	return req, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Request, error) {
	query := fmt.Sprintf(`SELECT %s FROM requests WHERE id = $1 FOR UPDATE`, reqColumns)

	req, err := scanRequest(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrNotFound
		}
		return Request{}, fmt.Errorf("request: get for update: %w", err)
	}
	return req, nil
}

func (r *PGRepository) List(ctx context.Context, filters Filters) ([]Request, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 50
	}

	where := []string{"1=1"}
	args := []any{}
	if filters.Status != "" {
		where = append(where, fmt.Sprintf("status=$%d", len(args)+1))
		args = append(args, filters.Status)
	}
	if filters.AssignedTo != "" {
		where = append(where, fmt.Sprintf("assigned_to=$%d", len(args)+1))
		args = append(args, filters.AssignedTo)
	}
	if filters.RequesterID != "" {
		where = append(where, fmt.Sprintf("requester_id=$%d", len(args)+1))
		args = append(args, filters.RequesterID)
	}
	whereClause := " WHERE " + strings.Join(where, " AND ")

	query := fmt.Sprintf(`SELECT %s FROM requests%s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		reqColumns, whereClause, filters.PageSize, (filters.Page-1)*filters.PageSize)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("request: list: %w", err)
	}
	defer rows.Close()

	list := []Request{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("request: scan: %w", err)
		}
		list = append(list, req)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("request: iterate: %w", err)
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM requests%s", whereClause)
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("request: count: %w", err)
	}
	return list, total, nil
}

// UpdateOwnerIf mirrors the transaction repository's conditional claim
// update; see there for the concurrency contract.
func (r *PGRepository) UpdateOwnerIf(ctx context.Context, id string, expected, next *string) (Request, error) {
	query := fmt.Sprintf(`
		UPDATE requests
		SET assigned_to = $3,
		    status = CASE WHEN $3::uuid IS NULL THEN 'unassigned' ELSE 'assigned' END,
		    updated_at = now()
		WHERE id = $1
		  AND assigned_to IS NOT DISTINCT FROM $2
		  AND status IN ('unassigned', 'assigned')
		RETURNING %s
	`, reqColumns)

	req, err := scanRequest(r.pool.QueryRow(ctx, query, id, expected, next))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return r.explainOwnerMiss(ctx, id)
		}
		return Request{}, fmt.Errorf("request: update owner: %w", err)
	}
	return req, nil
}

func (r *PGRepository) ForceOwner(ctx context.Context, id string, next string) (Request, error) {
	query := fmt.Sprintf(`
		UPDATE requests
		SET assigned_to = $2,
		    status = 'assigned',
		    updated_at = now()
		WHERE id = $1
		  AND status IN ('unassigned', 'assigned')
		RETURNING %s
	`, reqColumns)

	req, err := scanRequest(r.pool.QueryRow(ctx, query, id, next))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return r.explainOwnerMiss(ctx, id)
		}
		return Request{}, fmt.Errorf("request: force owner: %w", err)
	}
	return req, nil
}

func (r *PGRepository) explainOwnerMiss(ctx context.Context, id string) (Request, error) {
	if _, err := r.GetByID(ctx, id); err != nil {
		return Request{}, err
	}
	return Request{}, queue.ErrStaleOwnership
}

func (r *PGRepository) MarkResolved(ctx context.Context, tx pgx.Tx, id, resolverID, response string) (Request, error) {
	query := fmt.Sprintf(`
		UPDATE requests
		SET status = 'resolved',
		    resolved_by_id = $2,
		    response = $3,
		    resolution_date = now(),
		    updated_at = now()
		WHERE id = $1
		RETURNING %s
	`, reqColumns)

	req, err := scanRequest(tx.QueryRow(ctx, query, id, resolverID, response))
	if err != nil {
		return Request{}, fmt.Errorf("request: mark resolved: %w", err)
	}
	return req, nil
}

func (r *PGRepository) MarkClosed(ctx context.Context, tx pgx.Tx, id, resolverID, reason string) (Request, error) {
	query := fmt.Sprintf(`
		UPDATE requests
		SET status = 'closed',
		    resolved_by_id = $2,
		    close_reason = $3,
		    resolution_date = now(),
		    updated_at = now()
		WHERE id = $1
		RETURNING %s
	`, reqColumns)

	req, err := scanRequest(tx.QueryRow(ctx, query, id, resolverID, reason))
	if err != nil {
		return Request{}, fmt.Errorf("request: mark closed: %w", err)
	}
	return req, nil
}

func scanRequest(row pgx.Row) (Request, error) {
	var req Request
	return req, row.Scan(
		&req.ID,
		&req.RequesterID,
		&req.Type,
		&req.Subject,
		&req.Description,
		&req.Status,
		&req.AssignedTo,
		&req.ResolvedByID,
		&req.Response,
		&req.CloseReason,
		&req.ResolutionDate,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
}
