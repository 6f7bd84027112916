package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/vantage-erp/vantage-erp/internal/jobs"
	"github.com/vantage-erp/vantage-erp/internal/payments"
)

const defaultSyncLimit = 100

// PaymentsSyncHandler retries the financial sync of posted payments whose
// journal outcome was never stored. Failed payments revert to draft and
// wait for the caller, so the sweep never touches them.
type PaymentsSyncHandler struct {
	service *payments.Service
	metrics *jobmetrics.Metrics
	logger  *slog.Logger
}

func NewPaymentsSyncHandler(logger *slog.Logger, service *payments.Service, metrics *jobmetrics.Metrics) *PaymentsSyncHandler {
	return &PaymentsSyncHandler{service: service, metrics: metrics, logger: logger}
}

func (h *PaymentsSyncHandler) Handle(ctx context.Context, t *asynq.Task) error {
	var payload PaymentsSyncPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	if payload.Limit <= 0 {
		payload.Limit = defaultSyncLimit
	}

	tracker := h.metrics.Track("payments_sync")
	synced, failed, err := h.service.SyncOutstanding(ctx, payload.Limit)
	h.metrics.AddPaymentOutcomes(synced, failed)
	if err != nil {
		_ = tracker.End(err)
		h.logger.Error("payments sync aborted",
			slog.Int("synced", synced), slog.Int("failed", failed), slog.Any("error", err))
		return err
	}
	h.logger.Info("payments sync complete", slog.Int("synced", synced), slog.Int("failed", failed))
	return tracker.End(nil)
}
