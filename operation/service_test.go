package operation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"agencyflow/commission"
	"agencyflow/queue"

	"github.com/shopspring/decimal"
)

func TestService_CreateValidatesConfig(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	developer := queue.Actor{ID: "dev-1", Role: queue.RoleDeveloper}

	bad := Type{
		Name: "Dépôt espèces",
		Commission: commission.Config{Kind: commission.KindTiered, Tiers: []commission.Tier{
			{From: decimal.Zero, To: decPtr("60000"), Commission: commission.Flat(decimal.NewFromInt(500))},
			{From: dec("50000"), To: nil, Commission: commission.Rate(decimal.NewFromInt(1))}, // overlaps
		}},
	}

	if _, err := svc.Create(context.Background(), developer, bad); !errors.Is(err, commission.ErrInvalidConfiguration) {
		t.Fatalf("expected ErrInvalidConfiguration at write time, got %v", err)
	}
	if len(repo.types) != 0 {
		t.Fatal("malformed config must not be persisted")
	}

	good := bad
	good.Commission = commission.Config{Kind: commission.KindFixed, Amount: decimal.NewFromInt(200)}
	created, err := svc.Create(context.Background(), developer, good)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Status != StatusActive {
		t.Fatalf("expected default status active, got %s", created.Status)
	}
}

func TestService_CreateRequiresDeveloperRole(t *testing.T) {
	svc := NewService(newFakeRepo())

	for _, role := range []queue.Role{queue.RoleAgent, queue.RoleChefAgence, queue.RoleAdminGeneral} {
		_, err := svc.Create(context.Background(), queue.Actor{ID: "u", Role: role}, Type{Name: "Retrait"})
		if !errors.Is(err, ErrForbidden) {
			t.Fatalf("role %s: expected ErrForbidden, got %v", role, err)
		}
	}
}

func TestService_GetForSubmissionRejectsArchived(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	developer := queue.Actor{ID: "dev-1", Role: queue.RoleDeveloper}

	created, err := svc.Create(context.Background(), developer, Type{Name: "Transfert"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.GetForSubmission(context.Background(), created.ID); err != nil {
		t.Fatalf("active type should be usable: %v", err)
	}

	if _, err := svc.Archive(context.Background(), developer, created.ID); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if _, err := svc.GetForSubmission(context.Background(), created.ID); !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected ErrNotActive for archived type, got %v", err)
	}

	// Archived types remain fetchable for history.
	archived, err := repo.GetByID(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("get archived: %v", err)
	}
	if archived.Status != StatusArchived {
		t.Fatalf("expected archived, got %s", archived.Status)
	}
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

type fakeRepo struct {
	types  map[string]Type
	nextID int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{types: make(map[string]Type), nextID: 1}
}

func (f *fakeRepo) Create(ctx context.Context, t Type) (Type, error) {
	t.ID = fmt.Sprintf("optype-%d", f.nextID)
	f.nextID++
	t.CreatedAt = time.Now().UTC()
	t.UpdatedAt = t.CreatedAt
	f.types[t.ID] = t
	return t, nil
}

func (f *fakeRepo) Update(ctx context.Context, t Type) (Type, error) {
	existing, ok := f.types[t.ID]
	if !ok || existing.Status == StatusArchived {
		return Type{}, ErrNotFound
	}
	t.CreatedAt = existing.CreatedAt
	t.UpdatedAt = time.Now().UTC()
	f.types[t.ID] = t
	return t, nil
}

func (f *fakeRepo) Archive(ctx context.Context, id string) (Type, error) {
	t, ok := f.types[id]
	if !ok {
		return Type{}, ErrNotFound
	}
	t.Status = StatusArchived
	f.types[id] = t
	return t, nil
}

func (f *fakeRepo) GetByID(ctx context.Context, id string) (Type, error) {
	t, ok := f.types[id]
	if !ok {
		return Type{}, ErrNotFound
	}
	return t, nil
}

func (f *fakeRepo) ListActive(ctx context.Context) ([]Type, error) {
	out := []Type{}
	for _, t := range f.types {
		if t.Status == StatusActive {
			out = append(out, t)
		}
	}
	return out, nil
}
