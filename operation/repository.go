package operation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals the requested operation type does not exist.
	ErrNotFound = errors.New("operation: type not found")
)

// Repository provides access to the operation-type registry.
type Repository interface {
	Create(ctx context.Context, t Type) (Type, error)
	Update(ctx context.Context, t Type) (Type, error)
	Archive(ctx context.Context, id string) (Type, error)
	GetByID(ctx context.Context, id string) (Type, error)
	ListActive(ctx context.Context) ([]Type, error)
}

// PGRepository implements Repository backed by PostgreSQL. Commission config
// and form fields are stored as jsonb and decoded through the closed
// commission.Config union, so unknown variants never reach the engine.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const typeColumns = `id, name, impacts_balance, proof_required, status, fields, commission_config, created_at, updated_at`

func (r *PGRepository) Create(ctx context.Context, t Type) (Type, error) {
	fields, config, err := encodeBlobs(t)
	if err != nil {
		return Type{}, err
	}

	query := fmt.Sprintf(`
		INSERT INTO operation_types (name, impacts_balance, proof_required, status, fields, commission_config)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6::jsonb)
		RETURNING %s
	`, typeColumns)

	return scanType(r.pool.QueryRow(ctx, query, t.Name, t.ImpactsBalance, t.ProofRequired, t.Status, fields, config))
}

func (r *PGRepository) Update(ctx context.Context, t Type) (Type, error) {
	fields, config, err := encodeBlobs(t)
	if err != nil {
		return Type{}, err
	}

	query := fmt.Sprintf(`
		UPDATE operation_types
		SET name = $2,
		    impacts_balance = $3,
		    proof_required = $4,
		    status = $5,
		    fields = $6::jsonb,
		    commission_config = $7::jsonb,
		    updated_at = now()
		WHERE id = $1 AND status <> 'archived'
		RETURNING %s
	`, typeColumns)

	updated, err := scanType(r.pool.QueryRow(ctx, query, t.ID, t.Name, t.ImpactsBalance, t.ProofRequired, t.Status, fields, config))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Type{}, ErrNotFound
		}
		return Type{}, fmt.Errorf("operation: update type: %w", err)
	}
	return updated, nil
}

func (r *PGRepository) Archive(ctx context.Context, id string) (Type, error) {
	query := fmt.Sprintf(`
		UPDATE operation_types
		SET status = 'archived',
		    updated_at = now()
		WHERE id = $1
		RETURNING %s
	`, typeColumns)

	archived, err := scanType(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Type{}, ErrNotFound
		}
		return Type{}, fmt.Errorf("operation: archive type: %w", err)
	}
	return archived, nil
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (Type, error) {
	query := fmt.Sprintf(`SELECT %s FROM operation_types WHERE id = $1`, typeColumns)

	t, err := scanType(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Type{}, ErrNotFound
		}
		return Type{}, fmt.Errorf("operation: get type: %w", err)
	}
	return t, nil
}

func (r *PGRepository) ListActive(ctx context.Context) ([]Type, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM operation_types
		WHERE status = 'active'
		ORDER BY name ASC
	`, typeColumns)

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("operation: list active: %w", err)
	}
	defer rows.Close()

	types := make([]Type, 0, 16)
	for rows.Next() {
		t, err := scanType(rows)
		if err != nil {
			return nil, fmt.Errorf("operation: scan type: %w", err)
		}
		types = append(types, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("operation: iterate types: %w", err)
	}
	return types, nil
}

func encodeBlobs(t Type) (fields []byte, config []byte, err error) {
	fieldList := t.Fields
	if fieldList == nil {
		fieldList = []FormField{}
	}
	fields, err = json.Marshal(fieldList)
	if err != nil {
		return nil, nil, fmt.Errorf("operation: marshal fields: %w", err)
	}
	config, err = json.Marshal(t.Commission)
	if err != nil {
		return nil, nil, fmt.Errorf("operation: marshal commission config: %w", err)
	}
	return fields, config, nil
}

func scanType(row pgx.Row) (Type, error) {
	var (
		t      Type
		fields []byte
		config []byte
	)
	err := row.Scan(
		&t.ID,
		&t.Name,
		&t.ImpactsBalance,
		&t.ProofRequired,
		&t.Status,
		&fields,
		&config,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return Type{}, err
	}

	if err := json.Unmarshal(fields, &t.Fields); err != nil {
		return Type{}, fmt.Errorf("operation: decode fields: %w", err)
	}
	if err := json.Unmarshal(config, &t.Commission); err != nil {
		return Type{}, fmt.Errorf("operation: decode commission config: %w", err)
	}
	return t, nil
}
