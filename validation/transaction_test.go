package validation

import (
	"context"
	"errors"
	"testing"

	"agencyflow/ledger"
	"agencyflow/operation"
	"agencyflow/queue"
	"agencyflow/transaction"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func ptr(s string) *string { return &s }

func chef(id string) queue.Actor { return queue.Actor{ID: id, Role: queue.RoleChefAgence} }

func TestValidate_CommitsStoredCommission(t *testing.T) {
	repo := &fakeTxnRepo{t: transaction.Transaction{
		ID:         "txn-1",
		AgentID:    "agent-1",
		OpTypeID:   "optype-1",
		Principal:  dec("50000"),
		Commission: dec("750"),
		Status:     transaction.StatusAssigned,
		AssignedTo: ptr("chef-1"),
	}}
	types := &fakeTypes{t: operation.Type{ID: "optype-1", ImpactsBalance: true}}
	outbox := &fakeOutbox{}
	pool := &fakePool{}
	svc := NewTransactionService(pool, repo, types, outbox)

	got, err := svc.Validate(context.Background(), "txn-1", chef("chef-1"))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got.Status != transaction.StatusValidated {
		t.Fatalf("expected validated, got %s", got.Status)
	}
	if len(outbox.instructions) != 1 {
		t.Fatalf("expected one commit instruction, got %d", len(outbox.instructions))
	}
	ins := outbox.instructions[0]
	if ins.Action != ledger.ActionCommit || !ins.Commission.Equal(dec("750")) || ins.PayeeID != "agent-1" {
		t.Fatalf("unexpected instruction: %+v", ins)
	}
	if !pool.tx.committed {
		t.Fatal("expected the conclusion to commit")
	}
}

func TestValidate_NoInstructionWithoutBalanceImpact(t *testing.T) {
	repo := &fakeTxnRepo{t: transaction.Transaction{
		ID:         "txn-1",
		OpTypeID:   "optype-1",
		Status:     transaction.StatusAssigned,
		AssignedTo: ptr("chef-1"),
	}}
	types := &fakeTypes{t: operation.Type{ID: "optype-1"}}
	outbox := &fakeOutbox{}
	svc := NewTransactionService(&fakePool{}, repo, types, outbox)

	if _, err := svc.Validate(context.Background(), "txn-1", chef("chef-1")); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(outbox.instructions) != 0 {
		t.Fatalf("expected no instruction, got %d", len(outbox.instructions))
	}
}

func TestValidate_RequiresOwnership(t *testing.T) {
	repo := &fakeTxnRepo{t: transaction.Transaction{
		ID:         "txn-1",
		Status:     transaction.StatusAssigned,
		AssignedTo: ptr("chef-1"),
	}}
	svc := NewTransactionService(&fakePool{}, repo, &fakeTypes{}, &fakeOutbox{})

	_, err := svc.Validate(context.Background(), "txn-1", chef("chef-2"))
	if !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
}

func TestValidate_ReplayByValidatorIsNoOp(t *testing.T) {
	repo := &fakeTxnRepo{t: transaction.Transaction{
		ID:          "txn-1",
		Status:      transaction.StatusValidated,
		ValidatorID: ptr("chef-1"),
	}}
	outbox := &fakeOutbox{}
	svc := NewTransactionService(&fakePool{}, repo, &fakeTypes{}, outbox)

	got, err := svc.Validate(context.Background(), "txn-1", chef("chef-1"))
	if err != nil {
		t.Fatalf("replay must succeed, got %v", err)
	}
	if got.Status != transaction.StatusValidated {
		t.Fatalf("expected validated, got %s", got.Status)
	}
	if repo.validated > 0 {
		t.Fatal("replay must not touch the row again")
	}
	if len(outbox.instructions) != 0 {
		t.Fatal("replay must not enqueue another instruction")
	}
}

func TestValidate_ConflictingTerminalStates(t *testing.T) {
	cases := []struct {
		name string
		txn  transaction.Transaction
	}{
		{"already rejected", transaction.Transaction{
			ID: "txn-1", Status: transaction.StatusRejected, ValidatorID: ptr("chef-1"),
		}},
		{"validated by someone else", transaction.Transaction{
			ID: "txn-1", Status: transaction.StatusValidated, ValidatorID: ptr("chef-2"),
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := &fakeTxnRepo{t: tc.txn}
			svc := NewTransactionService(&fakePool{}, repo, &fakeTypes{}, &fakeOutbox{})

			_, err := svc.Validate(context.Background(), "txn-1", chef("chef-1"))
			if !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("expected ErrInvalidTransition, got %v", err)
			}
		})
	}
}

func TestReject_RequiresReason(t *testing.T) {
	repo := &fakeTxnRepo{t: transaction.Transaction{
		ID:         "txn-1",
		Status:     transaction.StatusAssigned,
		AssignedTo: ptr("chef-1"),
	}}
	svc := NewTransactionService(&fakePool{}, repo, &fakeTypes{}, &fakeOutbox{})

	_, err := svc.Reject(context.Background(), "txn-1", chef("chef-1"), "   ")
	if !errors.Is(err, ErrMissingReason) {
		t.Fatalf("expected ErrMissingReason, got %v", err)
	}
}

func TestReject_ReleasesReservation(t *testing.T) {
	repo := &fakeTxnRepo{t: transaction.Transaction{
		ID:         "txn-1",
		AgentID:    "agent-1",
		OpTypeID:   "optype-1",
		Principal:  dec("50000"),
		Status:     transaction.StatusAssigned,
		AssignedTo: ptr("chef-1"),
	}}
	types := &fakeTypes{t: operation.Type{ID: "optype-1", ImpactsBalance: true}}
	outbox := &fakeOutbox{}
	svc := NewTransactionService(&fakePool{}, repo, types, outbox)

	got, err := svc.Reject(context.Background(), "txn-1", chef("chef-1"), "illisible")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if got.Status != transaction.StatusRejected {
		t.Fatalf("expected rejected, got %s", got.Status)
	}
	if got.RejectionReason == nil || *got.RejectionReason != "illisible" {
		t.Fatalf("expected reason recorded, got %v", got.RejectionReason)
	}
	if len(outbox.instructions) != 1 || outbox.instructions[0].Action != ledger.ActionRelease {
		t.Fatalf("expected one release instruction, got %+v", outbox.instructions)
	}
}

func TestReject_ForbiddenRole(t *testing.T) {
	svc := NewTransactionService(&fakePool{}, &fakeTxnRepo{}, &fakeTypes{}, &fakeOutbox{})

	_, err := svc.Reject(context.Background(), "txn-1", queue.Actor{ID: "agent-1", Role: queue.RoleAgent}, "nope")
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

type fakeTxnRepo struct {
	transaction.Repository
	t         transaction.Transaction
	validated int
}

func (f *fakeTxnRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (transaction.Transaction, error) {
	if f.t.ID != id {
		return transaction.Transaction{}, transaction.ErrNotFound
	}
	return f.t, nil
}

func (f *fakeTxnRepo) MarkValidated(ctx context.Context, tx pgx.Tx, id, validatorID string) (transaction.Transaction, error) {
	f.validated++
	f.t.Status = transaction.StatusValidated
	f.t.ValidatorID = &validatorID
	return f.t, nil
}

func (f *fakeTxnRepo) MarkRejected(ctx context.Context, tx pgx.Tx, id, validatorID, reason string) (transaction.Transaction, error) {
	f.t.Status = transaction.StatusRejected
	f.t.ValidatorID = &validatorID
	f.t.RejectionReason = &reason
	return f.t, nil
}

type fakeTypes struct {
	t operation.Type
}

func (f *fakeTypes) GetByID(ctx context.Context, id string) (operation.Type, error) {
	return f.t, nil
}

type fakeOutbox struct {
	instructions []ledger.Instruction
}

func (f *fakeOutbox) Enqueue(ctx context.Context, tx pgx.Tx, ins ledger.Instruction) error {
	f.instructions = append(f.instructions, ins)
	return nil
}

type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
