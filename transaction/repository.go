package transaction

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"agencyflow/queue"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals the transaction does not exist.
var ErrNotFound = errors.New("transaction: not found")

// Repository is the data access surface consumed by the assignment,
// validation, and submission services.
type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, t Transaction) (Transaction, error)
	GetByID(ctx context.Context, id string) (Transaction, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Transaction, error)
	List(ctx context.Context, filters Filters) ([]Transaction, int, error)
	UpdateOwnerIf(ctx context.Context, id string, expected, next *string) (Transaction, error)
	ForceOwner(ctx context.Context, id string, next string) (Transaction, error)
	MarkValidated(ctx context.Context, tx pgx.Tx, id, validatorID string) (Transaction, error)
	MarkRejected(ctx context.Context, tx pgx.Tx, id, validatorID, reason string) (Transaction, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const txnColumns = `id, agent_id, op_type_id, principal, fees, total, commission, proof_url,
	status, assigned_to, validator_id, rejection_reason, created_at, updated_at`

func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, t Transaction) (Transaction, error) {
	query := fmt.Sprintf(`
		INSERT INTO transactions (id, agent_id, op_type_id, principal, fees, total, commission, proof_url, status)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7, $8, 'unassigned')
		RETURNING %s
	`, txnColumns)

	row := tx.QueryRow(ctx, query,
		t.ID,
		t.AgentID,
		t.OpTypeID,
		t.Principal,
		t.Fees,
		t.Total,
		t.Commission,
		t.ProofURL,
	)

	created, err := scanTransaction(row)
	if err != nil {
		return Transaction{}, fmt.Errorf("transaction: insert: %w", err)
	}
	return created, nil
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (Transaction, error) {
	query := fmt.Sprintf(`SELECT %s FROM transactions WHERE id = $1`, txnColumns)

	t, err := scanTransaction(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrNotFound
		}
		return Transaction{}, fmt.Errorf("transaction: get by id: %w", err)
	}
	return t, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Transaction, error) {
	query := fmt.Sprintf(`SELECT %s FROM transactions WHERE id = $1 FOR UPDATE`, txnColumns)

	t, err := scanTransaction(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrNotFound
		}
		return Transaction{}, fmt.Errorf("transaction: get for update: %w", err)
	}
	return t, nil
}

func (r *PGRepository) List(ctx context.Context, filters Filters) ([]Transaction, int, error) {
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
	if filters.AgentID != "" {
		where = append(where, fmt.Sprintf("agent_id=$%d", len(args)+1))
		args = append(args, filters.AgentID)
	}
	whereClause := " WHERE " + strings.Join(where, " AND ")

	query := fmt.Sprintf(`SELECT %s FROM transactions%s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		txnColumns, whereClause, filters.PageSize, (filters.Page-1)*filters.PageSize)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("transaction: list: %w", err)
	}
	defer rows.Close()

	list := []Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("transaction: scan: %w", err)
		}
		list = append(list, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("transaction: iterate: %w", err)
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM transactions%s", whereClause)
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("transaction: count: %w", err)
	}
	return list, total, nil
}

// UpdateOwnerIf performs the conditional ownership update that serializes
// concurrent claims: it succeeds only if assigned_to still matches expected
// and the row has not reached a terminal status. The store, not the service,
// is the serialization point.
func (r *PGRepository) UpdateOwnerIf(ctx context.Context, id string, expected, next *string) (Transaction, error) {
	query := fmt.Sprintf(`
		UPDATE transactions
		SET assigned_to = $3,
		    status = CASE WHEN $3::uuid IS NULL THEN 'unassigned' ELSE 'assigned' END,
		    updated_at = now()
		WHERE id = $1
		  AND assigned_to IS NOT DISTINCT FROM $2
		  AND status IN ('unassigned', 'assigned')
		RETURNING %s
	`, txnColumns)

	t, err := scanTransaction(r.pool.QueryRow(ctx, query, id, expected, next))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return r.explainOwnerMiss(ctx, id)
		}
		return Transaction{}, fmt.Errorf("transaction: update owner: %w", err)
	}
	return t, nil
}

// ForceOwner reassigns regardless of the current owner; terminal rows are
// still off limits.
func (r *PGRepository) ForceOwner(ctx context.Context, id string, next string) (Transaction, error) {
	query := fmt.Sprintf(`
		UPDATE transactions
		SET assigned_to = $2,
		    status = 'assigned',
		    updated_at = now()
		WHERE id = $1
		  AND status IN ('unassigned', 'assigned')
		RETURNING %s
	`, txnColumns)

	t, err := scanTransaction(r.pool.QueryRow(ctx, query, id, next))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return r.explainOwnerMiss(ctx, id)
		}
		return Transaction{}, fmt.Errorf("transaction: force owner: %w", err)
	}
	return t, nil
}

// explainOwnerMiss distinguishes a missing row from a lost race.
func (r *PGRepository) explainOwnerMiss(ctx context.Context, id string) (Transaction, error) {
	if _, err := r.GetByID(ctx, id); err != nil {
		return Transaction{}, err
	}
	return Transaction{}, queue.ErrStaleOwnership
}

func (r *PGRepository) MarkValidated(ctx context.Context, tx pgx.Tx, id, validatorID string) (Transaction, error) {
	query := fmt.Sprintf(`
		UPDATE transactions
		SET status = 'validated',
		    validator_id = $2,
		    updated_at = now()
		WHERE id = $1
		RETURNING %s
	`, txnColumns)

	t, err := scanTransaction(tx.QueryRow(ctx, query, id, validatorID))
	if err != nil {
		return Transaction{}, fmt.Errorf("transaction: mark validated: %w", err)
	}
	return t, nil
}

func (r *PGRepository) MarkRejected(ctx context.Context, tx pgx.Tx, id, validatorID, reason string) (Transaction, error) {
	query := fmt.Sprintf(`
		UPDATE transactions
		SET status = 'rejected',
		    validator_id = $2,
		    rejection_reason = $3,
		    updated_at = now()
		WHERE id = $1
		RETURNING %s
	`, txnColumns)

	t, err := scanTransaction(tx.QueryRow(ctx, query, id, validatorID, reason))
	if err != nil {
		return Transaction{}, fmt.Errorf("transaction: mark rejected: %w", err)
	}
	return t, nil
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var t Transaction
	return t, row.Scan(
		&t.ID,
		&t.AgentID,
		&t.OpTypeID,
		&t.Principal,
		&t.Fees,
		&t.Total,
		&t.Commission,
		&t.ProofURL,
		&t.Status,
		&t.AssignedTo,
		&t.ValidatorID,
		&t.RejectionReason,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
}
