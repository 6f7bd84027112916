package aging

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vantage-erp/vantage-erp/internal/platform/httpx"
)

var errMappings = []httpx.Mapping{
	{Err: ErrInvalidSide, Status: http.StatusBadRequest, Code: "invalid_side"},
}

// Handler exposes the aging reports.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/aging/receivables", h.report(SideReceivable))
	r.Get("/aging/payables", h.report(SidePayable))
}

func (h *Handler) report(side Side) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var asOf time.Time
		if raw := r.URL.Query().Get("as_of"); raw != "" {
			parsed, err := time.Parse("2006-01-02", raw)
			if err != nil {
				httpx.Problem(w, http.StatusBadRequest, "Bad Request", "as_of must be YYYY-MM-DD")
				return
			}
			asOf = parsed
		}
		report, err := h.service.Report(r.Context(), side, asOf)
		if err != nil {
			h.logger.Error("aging report", slog.Any("error", err))
			httpx.RespondError(w, err, errMappings)
			return
		}
		httpx.JSON(w, http.StatusOK, report)
	}
}
