package transaction_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"agencyflow/assignment"
	"agencyflow/db"
	"agencyflow/ledger"
	"agencyflow/operation"
	"agencyflow/queue"
	"agencyflow/transaction"
	"agencyflow/validation"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// TestClaimRace_Integration connects to a real PostgreSQL via DATABASE_URL and
// verifies that exactly one of several concurrent claims wins, and that the
// winner's conclusion settles the ledger exactly once.
func TestClaimRace_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	if !tableExists(ctx, t, pool, "transactions") || !tableExists(ctx, t, pool, "ledger_instructions") {
		t.Skip("database schema missing; apply migrations from the migrations directory")
	}

	agencyID := "agency-itest"
	agentID := seedUser(ctx, t, pool, "agent", &agencyID)
	chefIDs := make([]string, 4)
	for i := range chefIDs {
		chefIDs[i] = seedUser(ctx, t, pool, "chef_agence", nil)
	}

	var opTypeID string
	if err := pool.QueryRow(ctx, `
		INSERT INTO operation_types (name, impacts_balance, commission_config)
		VALUES ($1, true, '{"type":"percentage","rate":"1.5"}'::jsonb)
		RETURNING id
	`, fmt.Sprintf("Dépôt itest %d", time.Now().UnixNano())).Scan(&opTypeID); err != nil {
		t.Fatalf("seed operation type: %v", err)
	}

	outbox := ledger.NewOutbox()
	typeRepo := operation.NewRepository(pool)
	repo := transaction.NewRepository(pool)
	submitSvc := transaction.NewService(pool, repo, operation.NewService(typeRepo), outbox)
	claimSvc := assignment.NewService[transaction.Transaction](repo, "transaction")
	concludeSvc := validation.NewTransactionService(pool, repo, typeRepo, outbox)

	created, err := submitSvc.Submit(ctx, queue.Actor{ID: agentID, Role: queue.RoleAgent}, transaction.SubmitParams{
		AgentID:   agentID,
		OpTypeID:  opTypeID,
		Principal: decimal.RequireFromString("80000"),
		Fees:      decimal.RequireFromString("250"),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !created.Commission.Equal(decimal.RequireFromString("1200")) {
		t.Fatalf("expected commission 1200, got %s", created.Commission)
	}

	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		pool.Exec(ctx2, `DELETE FROM ledger_instructions WHERE item_id = $1`, created.ID)
		pool.Exec(ctx2, `DELETE FROM transactions WHERE id = $1`, created.ID)
		pool.Exec(ctx2, `DELETE FROM operation_types WHERE id = $1`, opTypeID)
		for _, id := range append(chefIDs, agentID) {
			pool.Exec(ctx2, `DELETE FROM users WHERE id = $1`, id)
		}
	})

	// Every chef claims at once; the store must pick exactly one winner.
	var (
		mu      sync.Mutex
		winners []string
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, chefID := range chefIDs {
		chefID := chefID
		g.Go(func() error {
			_, err := claimSvc.Claim(gctx, created.ID, queue.Actor{ID: chefID, Role: queue.RoleChefAgence})
			if err == nil {
				mu.Lock()
				winners = append(winners, chefID)
				mu.Unlock()
				return nil
			}
			if errors.Is(err, queue.ErrStaleOwnership) {
				return nil
			}
			return fmt.Errorf("claim by %s: %w", chefID, err)
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("claim race: %v", err)
	}
	if len(winners) != 1 {
		t.Fatalf("expected exactly one winning claim, got %d", len(winners))
	}
	winner := queue.Actor{ID: winners[0], Role: queue.RoleChefAgence}

	var assignedTo *string
	if err := pool.QueryRow(ctx, `SELECT assigned_to FROM transactions WHERE id = $1`, created.ID).Scan(&assignedTo); err != nil {
		t.Fatalf("verify owner: %v", err)
	}
	if assignedTo == nil || *assignedTo != winner.ID {
		t.Fatalf("expected owner %s, got %v", winner.ID, assignedTo)
	}

	// A non-owner must not conclude the item.
	loser := chefIDs[0]
	if loser == winner.ID {
		loser = chefIDs[1]
	}
	if _, err := concludeSvc.Validate(ctx, created.ID, queue.Actor{ID: loser, Role: queue.RoleChefAgence}); !errors.Is(err, validation.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner for non-owner, got %v", err)
	}

	if _, err := concludeSvc.Validate(ctx, created.ID, winner); err != nil {
		t.Fatalf("validate: %v", err)
	}

	// Replaying the winner's validation is a no-op success.
	if _, err := concludeSvc.Validate(ctx, created.ID, winner); err != nil {
		t.Fatalf("validate replay: %v", err)
	}

	var reserves, commits, releases int
	if err := pool.QueryRow(ctx, `
		SELECT COUNT(*) FILTER (WHERE action = 'reserve'),
		       COUNT(*) FILTER (WHERE action = 'commit'),
		       COUNT(*) FILTER (WHERE action = 'release')
		FROM ledger_instructions WHERE item_id = $1
	`, created.ID).Scan(&reserves, &commits, &releases); err != nil {
		t.Fatalf("verify instructions: %v", err)
	}
	if reserves != 1 || commits != 1 || releases != 0 {
		t.Fatalf("expected 1 reserve, 1 commit, 0 releases; got %d/%d/%d", reserves, commits, releases)
	}
}

func seedUser(ctx context.Context, t *testing.T, pool *pgxpool.Pool, role string, agencyID *string) string {
	t.Helper()
	var id string
	err := pool.QueryRow(ctx, `
		INSERT INTO users (email, full_name, password_hash, agency_id, role)
		VALUES ($1, $2, 'x', $3, $4)
		RETURNING id
	`, fmt.Sprintf("%s+%d@itest.local", role, time.Now().UnixNano()), "Integration User", agencyID, role).Scan(&id)
	if err != nil {
		t.Fatalf("seed %s: %v", role, err)
	}
	return id
}

func tableExists(ctx context.Context, t *testing.T, pool *pgxpool.Pool, name string) bool {
	t.Helper()
	var exists bool
	err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)`, name).Scan(&exists)
	if err != nil {
		t.Fatalf("check table %s: %v", name, err)
	}
	return exists
}
