package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Sender delivers instructions to the external ledger service.
type Sender interface {
	Send(ctx context.Context, ins Instruction) error
}

// Dispatcher drains pending instructions from the outbox table and hands them
// to the Sender. Rows are claimed with FOR UPDATE SKIP LOCKED so multiple
// dispatchers can run side by side.
type Dispatcher struct {
	pool     *pgxpool.Pool
	sender   Sender
	log      *zap.Logger
	interval time.Duration
	batch    int
}

func NewDispatcher(pool *pgxpool.Pool, sender Sender, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		pool:     pool,
		sender:   sender,
		log:      log,
		interval: 500 * time.Millisecond,
		batch:    20,
	}
}

func (d *Dispatcher) WithInterval(interval time.Duration) *Dispatcher {
	d.interval = interval
	return d
}

// Run delivers until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.DrainOnce(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				d.log.Warn("ledger drain failed", zap.Error(err))
			}
		}
	}
}

// DrainOnce claims one batch of pending instructions, sends them, and marks
// the outcome. Send failures bump the attempt counter and leave the row
// pending for the next pass.
func (d *Dispatcher) DrainOnce(ctx context.Context) error {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ledger: begin drain tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const claimSQL = `
		SELECT id, item_id, action, amount, commission, payee_id
		FROM ledger_instructions
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`
	rows, err := tx.Query(ctx, claimSQL, d.batch)
	if err != nil {
		return fmt.Errorf("ledger: claim pending: %w", err)
	}

	type row struct {
		id  int64
		ins Instruction
	}
	claimed := make([]row, 0, d.batch)
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.ins.ItemID, &r.ins.Action, &r.ins.Amount, &r.ins.Commission, &r.ins.PayeeID); err != nil {
			rows.Close()
			return fmt.Errorf("ledger: scan pending: %w", err)
		}
		claimed = append(claimed, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("ledger: iterate pending: %w", err)
	}

	for _, r := range claimed {
		if err := d.sender.Send(ctx, r.ins); err != nil {
			d.log.Warn("ledger send failed",
				zap.String("item_id", r.ins.ItemID),
				zap.String("action", string(r.ins.Action)),
				zap.Error(err))
			if _, err := tx.Exec(ctx, `UPDATE ledger_instructions SET attempts = attempts + 1 WHERE id = $1`, r.id); err != nil {
				return fmt.Errorf("ledger: bump attempts: %w", err)
			}
			continue
		}
		if _, err := tx.Exec(ctx, `UPDATE ledger_instructions SET status = 'delivered', delivered_at = now() WHERE id = $1`, r.id); err != nil {
			return fmt.Errorf("ledger: mark delivered: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ledger: commit drain: %w", err)
	}
	return nil
}
