package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	jobmetrics "github.com/vantage-erp/vantage-erp/internal/jobs"
)

// LedgerIntegrityHandler scans posted journal entries for double-entry
// violations: per-entry debit/credit mismatch and a drifting global trial
// balance. Findings are logged, not repaired.
type LedgerIntegrityHandler struct {
	pool    *pgxpool.Pool
	metrics *jobmetrics.Metrics
	logger  *slog.Logger
}

func NewLedgerIntegrityHandler(logger *slog.Logger, pool *pgxpool.Pool, metrics *jobmetrics.Metrics) *LedgerIntegrityHandler {
	return &LedgerIntegrityHandler{pool: pool, metrics: metrics, logger: logger}
}

func (h *LedgerIntegrityHandler) Handle(ctx context.Context, t *asynq.Task) error {
	tracker := h.metrics.Track("ledger_integrity")
	return tracker.End(h.scan(ctx))
}

func (h *LedgerIntegrityHandler) scan(ctx context.Context) error {
	unbalanced, err := h.unbalancedEntries(ctx)
	if err != nil {
		return fmt.Errorf("ledger integrity: %w", err)
	}
	for _, entry := range unbalanced {
		h.logger.Error("unbalanced journal entry",
			slog.Int64("entry_id", entry.ID),
			slog.String("number", entry.Number),
			slog.String("debit", entry.Debit.String()),
			slog.String("credit", entry.Credit.String()))
	}

	drift, err := h.trialBalanceDrift(ctx)
	if err != nil {
		return fmt.Errorf("ledger integrity: %w", err)
	}
	if !drift.IsZero() {
		h.logger.Error("trial balance drift", slog.String("drift", drift.String()))
	}

	if len(unbalanced) > 0 || !drift.IsZero() {
		return fmt.Errorf("ledger integrity: %d unbalanced entries, drift %s", len(unbalanced), drift)
	}
	h.logger.Info("ledger integrity scan clean")
	return nil
}

type unbalancedEntry struct {
	ID     int64
	Number string
	Debit  decimal.Decimal
	Credit decimal.Decimal
}

func (h *LedgerIntegrityHandler) unbalancedEntries(ctx context.Context) ([]unbalancedEntry, error) {
	rows, err := h.pool.Query(ctx, `
SELECT je.id, je.number, COALESCE(SUM(jl.debit), 0), COALESCE(SUM(jl.credit), 0)
FROM journal_entries je
JOIN journal_lines jl ON jl.je_id = je.id
WHERE je.status = 'POSTED'
GROUP BY je.id, je.number
HAVING SUM(jl.debit) <> SUM(jl.credit)
ORDER BY je.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []unbalancedEntry
	for rows.Next() {
		var e unbalancedEntry
		if err := rows.Scan(&e.ID, &e.Number, &e.Debit, &e.Credit); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (h *LedgerIntegrityHandler) trialBalanceDrift(ctx context.Context) (decimal.Decimal, error) {
	var drift decimal.Decimal
	err := h.pool.QueryRow(ctx, `
SELECT COALESCE(SUM(jl.debit) - SUM(jl.credit), 0)
FROM journal_lines jl
JOIN journal_entries je ON je.id = jl.je_id
WHERE je.status = 'POSTED'`).Scan(&drift)
	return drift, err
}
