package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns invariant probes over the live schema. Every query must come
// back empty; a returned row is a violated invariant.
func All() []Oracle {
	return []Oracle{
		{
			// status and owner move together or not at all
			Name: "O1_ownership_pair_consistent",
			SQL: `SELECT id, status, assigned_to FROM transactions
                  WHERE (status = 'assigned' AND assigned_to IS NULL)
                     OR (status = 'unassigned' AND assigned_to IS NOT NULL)
                  UNION ALL
                  SELECT id, status, assigned_to FROM requests
                  WHERE (status = 'assigned' AND assigned_to IS NULL)
                     OR (status = 'unassigned' AND assigned_to IS NOT NULL)`,
		},
		{
			Name: "O2_terminal_has_validator",
			SQL: `SELECT id, status FROM transactions
                  WHERE status IN ('validated', 'rejected') AND validator_id IS NULL
                  UNION ALL
                  SELECT id, status FROM requests
                  WHERE status IN ('resolved', 'closed') AND resolved_by_id IS NULL`,
		},
		{
			Name: "O3_rejected_has_reason",
			SQL: `SELECT id FROM transactions
                  WHERE status = 'rejected' AND (rejection_reason IS NULL OR rejection_reason = '')
                  UNION ALL
                  SELECT id FROM requests
                  WHERE status = 'closed' AND (close_reason IS NULL OR close_reason = '')`,
		},
		{
			// a transaction settles once: commit or release, never both
			Name: "O4_single_settlement",
			SQL: `SELECT item_id, COUNT(*) FROM ledger_instructions
                  WHERE action IN ('commit', 'release')
                  GROUP BY item_id HAVING COUNT(*) > 1`,
		},
		{
			// the settlement direction must match the terminal outcome
			Name: "O5_settlement_matches_outcome",
			SQL: `SELECT li.item_id, li.action, t.status
                  FROM ledger_instructions li
                  JOIN transactions t ON t.id = li.item_id
                  WHERE (li.action = 'commit' AND t.status <> 'validated')
                     OR (li.action = 'release' AND t.status <> 'rejected')`,
		},
		{
			// settlements only exist for reserved items
			Name: "O6_settlement_requires_reservation",
			SQL: `SELECT li.item_id, li.action FROM ledger_instructions li
                  WHERE li.action IN ('commit', 'release')
                    AND NOT EXISTS (
                        SELECT 1 FROM ledger_instructions r
                        WHERE r.item_id = li.item_id AND r.action = 'reserve')`,
		},
		{
			Name: "O7_totals_add_up",
			SQL: `SELECT id, principal, fees, total FROM transactions
                  WHERE total <> principal + fees OR commission < 0`,
		},
		{
			Name: "O8_resolved_has_response",
			SQL: `SELECT id FROM requests
                  WHERE status = 'resolved' AND (response IS NULL OR response = '')`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
