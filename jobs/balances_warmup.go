package jobs

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/vantage-erp/vantage-erp/internal/jobs"
	"github.com/vantage-erp/vantage-erp/internal/ledger/balances"
)

// BalancesWarmupHandler pre-builds the cached trial balance so the first
// morning request does not pay the full scan.
type BalancesWarmupHandler struct {
	service *balances.Service
	metrics *jobmetrics.Metrics
	logger  *slog.Logger
}

func NewBalancesWarmupHandler(logger *slog.Logger, service *balances.Service, metrics *jobmetrics.Metrics) *BalancesWarmupHandler {
	return &BalancesWarmupHandler{service: service, metrics: metrics, logger: logger}
}

func (h *BalancesWarmupHandler) Handle(ctx context.Context, t *asynq.Task) error {
	tracker := h.metrics.Track("balances_warmup")
	tb, err := h.service.TrialBalance(ctx, nil, nil)
	if err != nil {
		h.logger.Error("trial balance warmup failed", slog.Any("error", err))
		return tracker.End(err)
	}
	h.logger.Info("trial balance warmed",
		slog.Int("groups", len(tb.Groups)),
		slog.String("total_debit", tb.TotalDebit.String()))
	return tracker.End(nil)
}
