package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"agencyflow/assignment"
	"agencyflow/commission"
	"agencyflow/queue"
	"agencyflow/request"
	"agencyflow/transaction"
	"agencyflow/validation"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Submitter keeps creating transactions through the submission service, the
// same code path the API uses. Amounts are random so every commission variant
// gets exercised.
func Submitter(ctx context.Context, svc *transaction.Service, agentID string, opTypeIDs []string, stop <-chan struct{}) error {
	actor := queue.Actor{ID: agentID, Role: queue.RoleAgent}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		principal := decimal.NewFromInt(int64(1000 + rand.Intn(150000)))
		_, err := svc.Submit(ctx, actor, transaction.SubmitParams{
			AgentID:   agentID,
			OpTypeID:  opTypeIDs[rand.Intn(len(opTypeIDs))],
			Principal: principal,
			Fees:      decimal.NewFromInt(int64(rand.Intn(500))),
			ProofURL:  "https://proofs.local/receipt.jpg",
		})
		if err != nil && !errors.Is(err, commission.ErrNoMatchingTier) && !expectedQueueMiss(err) {
			return fmt.Errorf("submitter: %w", err)
		}
		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
}

// Claimer races other claimers for unassigned transactions and occasionally
// releases its own claims back to the pool. Losing a race is the expected
// outcome under contention, never an error.
func Claimer(ctx context.Context, pool *pgxpool.Pool, svc *assignment.Service[transaction.Transaction], operator queue.Actor, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		var id string
		err := pool.QueryRow(ctx, `SELECT id FROM transactions WHERE status = 'unassigned' ORDER BY random() LIMIT 1`).Scan(&id)
		if err == nil {
			if _, err := svc.Claim(ctx, id, operator); err != nil && !expectedQueueMiss(err) {
				return fmt.Errorf("claimer claim: %w", err)
			}
		} else if !errors.Is(err, pgx.ErrNoRows) && ctx.Err() == nil && !expectedQueueMiss(err) {
			return fmt.Errorf("claimer pick: %w", err)
		}

		// sometimes give a claim back
		if rand.Intn(4) == 0 {
			var ownID string
			if err := pool.QueryRow(ctx, `SELECT id FROM transactions WHERE status = 'assigned' AND assigned_to = $1 ORDER BY random() LIMIT 1`, operator.ID).Scan(&ownID); err == nil {
				if _, err := svc.Release(ctx, ownID, operator); err != nil && !expectedQueueMiss(err) {
					return fmt.Errorf("claimer release: %w", err)
				}
			}
		}
		time.Sleep(time.Duration(5+rand.Intn(15)) * time.Millisecond)
	}
}

// Validator concludes its own claimed transactions, flipping a coin between
// validate and reject.
func Validator(ctx context.Context, pool *pgxpool.Pool, svc *validation.TransactionService, operator queue.Actor, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		var id string
		err := pool.QueryRow(ctx, `SELECT id FROM transactions WHERE status = 'assigned' AND assigned_to = $1 ORDER BY random() LIMIT 1`, operator.ID).Scan(&id)
		if err == nil {
			if rand.Intn(2) == 0 {
				_, err = svc.Validate(ctx, id, operator)
			} else {
				_, err = svc.Reject(ctx, id, operator, "pièce justificative illisible")
			}
			if err != nil && !expectedQueueMiss(err) {
				return fmt.Errorf("validator conclude: %w", err)
			}
		} else if !errors.Is(err, pgx.ErrNoRows) && ctx.Err() == nil && !expectedQueueMiss(err) {
			return fmt.Errorf("validator pick: %w", err)
		}
		time.Sleep(time.Duration(10+rand.Intn(25)) * time.Millisecond)
	}
}

// Reassigner plays the admin general, overriding claims at random. This is the
// only actor allowed to move items it does not own.
func Reassigner(ctx context.Context, pool *pgxpool.Pool, svc *assignment.Service[transaction.Transaction], admin queue.Actor, targetIDs []string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		var id string
		err := pool.QueryRow(ctx, `SELECT id FROM transactions WHERE status IN ('unassigned', 'assigned') ORDER BY random() LIMIT 1`).Scan(&id)
		if err == nil {
			target := targetIDs[rand.Intn(len(targetIDs))]
			if _, err := svc.Reassign(ctx, id, admin, target); err != nil && !expectedQueueMiss(err) {
				return fmt.Errorf("reassigner: %w", err)
			}
		} else if !errors.Is(err, pgx.ErrNoRows) && ctx.Err() == nil && !expectedQueueMiss(err) {
			return fmt.Errorf("reassigner pick: %w", err)
		}
		time.Sleep(time.Duration(100+rand.Intn(200)) * time.Millisecond)
	}
}

// RequestFlow pushes support requests through their full lifecycle: submit as
// an agent, claim and conclude as an operator.
func RequestFlow(ctx context.Context, pool *pgxpool.Pool, submit *request.Service, claims *assignment.Service[request.Request], conclude *validation.RequestService, agentID string, operator queue.Actor, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		if _, err := submit.Submit(ctx, request.SubmitParams{
			RequesterID: agentID,
			Type:        "account",
			Subject:     "Déblocage de compte",
			Description: "Le compte de l'agence est bloqué.",
		}); err != nil && !expectedQueueMiss(err) {
			return fmt.Errorf("request submit: %w", err)
		}

		var id string
		if err := pool.QueryRow(ctx, `SELECT id FROM requests WHERE status = 'unassigned' ORDER BY random() LIMIT 1`).Scan(&id); err == nil {
			if _, err := claims.Claim(ctx, id, operator); err != nil && !expectedQueueMiss(err) {
				return fmt.Errorf("request claim: %w", err)
			}
		}

		var ownID string
		if err := pool.QueryRow(ctx, `SELECT id FROM requests WHERE status = 'assigned' AND assigned_to = $1 ORDER BY random() LIMIT 1`, operator.ID).Scan(&ownID); err == nil {
			var err error
			if rand.Intn(2) == 0 {
				_, err = conclude.Resolve(ctx, ownID, operator, "Compte réactivé.")
			} else {
				_, err = conclude.Close(ctx, ownID, operator, request.ReasonDuplicate, "")
			}
			if err != nil && !expectedQueueMiss(err) {
				return fmt.Errorf("request conclude: %w", err)
			}
		}
		time.Sleep(time.Duration(50+rand.Intn(100)) * time.Millisecond)
	}
}

// expectedQueueMiss reports whether the error is a normal casualty of
// contention or chaos rather than a protocol violation.
func expectedQueueMiss(err error) bool {
	if errors.Is(err, queue.ErrStaleOwnership) ||
		errors.Is(err, validation.ErrInvalidTransition) ||
		errors.Is(err, validation.ErrNotOwner) ||
		errors.Is(err, transaction.ErrNotFound) ||
		errors.Is(err, request.ErrNotFound) {
		return true
	}
	// the chaos actor terminates backends; severed connections retry on the
	// next loop iteration
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "57P01" || pgErr.Code == "08006") {
		return true
	}
	return strings.Contains(err.Error(), "conn closed") ||
		strings.Contains(err.Error(), "unexpected EOF")
}
