package balances

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vantage-erp/vantage-erp/internal/ledger/accounts"
	"github.com/vantage-erp/vantage-erp/internal/platform/httpx"
	"github.com/vantage-erp/vantage-erp/internal/shared"
)

var errMappings = []httpx.Mapping{
	{Err: shared.ErrNotFound, Status: http.StatusNotFound, Code: "not_found"},
}

// Handler exposes balance reads as JSON endpoints.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler wires the balances handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers the balance routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/trial-balance", h.TrialBalance)
	r.Get("/accounts/{id}", h.AccountBalance)
	r.Get("/accounts/{id}/ledger", h.AccountLedger)
}

func (h *Handler) AccountBalance(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	from, ok := optionalDate(w, r, "from")
	if !ok {
		return
	}
	to, ok := optionalDate(w, r, "to")
	if !ok {
		return
	}
	balance, err := h.service.AccountBalance(r.Context(), id, from, to)
	if err != nil {
		h.logger.Error("account balance", slog.Int64("account_id", id), slog.Any("error", err))
		httpx.RespondError(w, err, errMappings)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"account_id": id, "balance": balance})
}

func (h *Handler) TrialBalance(w http.ResponseWriter, r *http.Request) {
	asOf, ok := optionalDate(w, r, "as_of")
	if !ok {
		return
	}
	var category *accounts.Category
	if raw := r.URL.Query().Get("category"); raw != "" {
		c := accounts.Category(raw)
		category = &c
	}
	tb, err := h.service.TrialBalance(r.Context(), asOf, category)
	if err != nil {
		h.logger.Error("trial balance", slog.Any("error", err))
		httpx.RespondError(w, err, errMappings)
		return
	}
	httpx.JSON(w, http.StatusOK, tb)
}

func (h *Handler) AccountLedger(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	from, err := time.Parse("2006-01-02", r.URL.Query().Get("from"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "from must be YYYY-MM-DD")
		return
	}
	to, err := time.Parse("2006-01-02", r.URL.Query().Get("to"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "to must be YYYY-MM-DD")
		return
	}
	ledger, err := h.service.AccountLedger(r.Context(), id, from, to)
	if err != nil {
		h.logger.Error("account ledger", slog.Int64("account_id", id), slog.Any("error", err))
		httpx.RespondError(w, err, errMappings)
		return
	}
	httpx.JSON(w, http.StatusOK, ledger)
}

func optionalDate(w http.ResponseWriter, r *http.Request, name string) (*time.Time, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", name+" must be YYYY-MM-DD")
		return nil, false
	}
	return &t, true
}
