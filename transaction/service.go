package transaction

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"agencyflow/commission"
	"agencyflow/ledger"
	"agencyflow/operation"
	"agencyflow/queue"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrProofRequired signals the operation type demands a proof document.
	ErrProofRequired = errors.New("transaction: proof required")
	// ErrInvalidAmount signals a non-positive principal.
	ErrInvalidAmount = errors.New("transaction: invalid amount")
)

// TypeSource resolves the operation type backing a submission.
type TypeSource interface {
	GetForSubmission(ctx context.Context, id string) (operation.Type, error)
}

// LedgerOutbox enqueues balance instructions inside the submission transaction.
type LedgerOutbox interface {
	Enqueue(ctx context.Context, tx pgx.Tx, ins ledger.Instruction) error
}

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Service handles transaction submission. The commission is resolved here,
// exactly once; validation later commits the stored figure without
// recomputing it.
type Service struct {
	pool        TxBeginner
	repo        Repository
	types       TypeSource
	outbox      LedgerOutbox
	idGenerator func() string
}

func NewService(pool TxBeginner, repo Repository, types TypeSource, outbox LedgerOutbox) *Service {
	if repo == nil {
		if p, ok := pool.(*pgxpool.Pool); ok {
			repo = NewRepository(p)
		}
	}
	return &Service{
		pool:        pool,
		repo:        repo,
		types:       types,
		outbox:      outbox,
		idGenerator: func() string { return uuid.NewString() },
	}
}

type SubmitParams struct {
	AgentID   string
	OpTypeID  string
	Principal decimal.Decimal
	Fees      decimal.Decimal
	ProofURL  string
}

// Submit records a new transaction in the unassigned queue. For
// balance-impacting types a reservation instruction is enqueued in the same
// database transaction, so the hold and the row appear atomically.
func (s *Service) Submit(ctx context.Context, actor queue.Actor, params SubmitParams) (Transaction, error) {
	if actor.Role != queue.RoleAgent {
		return Transaction{}, fmt.Errorf("transaction: only agents submit operations")
	}
	if params.AgentID == "" {
		return Transaction{}, fmt.Errorf("transaction: missing agent id")
	}
	if !params.Principal.IsPositive() {
		return Transaction{}, fmt.Errorf("%w: %s", ErrInvalidAmount, params.Principal)
	}
	if params.Fees.IsNegative() {
		return Transaction{}, fmt.Errorf("%w: negative fees", ErrInvalidAmount)
	}

	opType, err := s.types.GetForSubmission(ctx, params.OpTypeID)
	if err != nil {
		return Transaction{}, err
	}
	if opType.ProofRequired && strings.TrimSpace(params.ProofURL) == "" {
		return Transaction{}, ErrProofRequired
	}

	// A failed resolution blocks submission; defaulting the commission to
	// zero would misstate money owed.
	commissionDue, err := commission.Resolve(opType.Commission, params.Principal)
	if err != nil {
		return Transaction{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Transaction{}, fmt.Errorf("transaction: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var proofURL *string
	if trimmed := strings.TrimSpace(params.ProofURL); trimmed != "" {
		proofURL = &trimmed
	}

	created, err := s.repo.Create(ctx, tx, Transaction{
		ID:         s.idGenerator(),
		AgentID:    params.AgentID,
		OpTypeID:   params.OpTypeID,
		Principal:  params.Principal,
		Fees:       params.Fees,
		Total:      params.Principal.Add(params.Fees),
		Commission: commissionDue,
		ProofURL:   proofURL,
	})
	if err != nil {
		return Transaction{}, err
	}

	if opType.ImpactsBalance && s.outbox != nil {
		ins := ledger.Instruction{
			ItemID:  created.ID,
			Action:  ledger.ActionReserve,
			Amount:  created.Principal,
			PayeeID: created.AgentID,
		}
		if err := s.outbox.Enqueue(ctx, tx, ins); err != nil {
			return Transaction{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, fmt.Errorf("transaction: commit submit: %w", err)
	}
	return created, nil
}

// List returns transactions for the console queue, newest first.
func (s *Service) List(ctx context.Context, filters Filters) ([]Transaction, int, error) {
	return s.repo.List(ctx, filters)
}
