package periods

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/vantage-erp/vantage-erp/internal/platform/httpx"
	"github.com/vantage-erp/vantage-erp/internal/shared"
)

var validate = validator.New()

var errMappings = []httpx.Mapping{
	{Err: ErrOverlap, Status: http.StatusConflict, Code: "period_overlap"},
	{Err: ErrAlreadyClosed, Status: http.StatusConflict, Code: "period_not_open"},
	{Err: ErrDraftsPending, Status: http.StatusConflict, Code: "drafts_pending"},
	{Err: ErrNoPeriod, Status: http.StatusNotFound, Code: "no_period"},
	{Err: ErrValidation, Status: http.StatusUnprocessableEntity, Code: "validation_failed"},
	{Err: shared.ErrLockTimeout, Status: http.StatusConflict, Code: "lock_timeout"},
	{Err: shared.ErrNotFound, Status: http.StatusNotFound, Code: "not_found"},
}

// Handler exposes period management as JSON endpoints.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler wires the periods handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers the period routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Open)
	r.Get("/for-date", h.ForDate)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/close", h.Close)
}

type openRequest struct {
	Name      string `json:"name" validate:"required"`
	StartDate string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate   string `json:"end_date" validate:"required,datetime=2006-01-02"`
}

func (h *Handler) Open(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := validate.Struct(req); err != nil {
		httpx.ProblemCode(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())
		return
	}
	start, _ := time.Parse("2006-01-02", req.StartDate)
	end, _ := time.Parse("2006-01-02", req.EndDate)
	period, err := h.service.Open(r.Context(), req.Name, start, end, actorID(r))
	if err != nil {
		h.logger.Error("open period", slog.Any("error", err))
		httpx.RespondError(w, err, errMappings)
		return
	}
	httpx.JSON(w, http.StatusCreated, period)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	periods, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error("list periods", slog.Any("error", err))
		httpx.RespondError(w, err, errMappings)
		return
	}
	httpx.JSON(w, http.StatusOK, periods)
}

func (h *Handler) ForDate(w http.ResponseWriter, r *http.Request) {
	date, err := time.Parse("2006-01-02", r.URL.Query().Get("date"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "date must be YYYY-MM-DD")
		return
	}
	period, err := h.service.PeriodForDate(r.Context(), date)
	if err != nil {
		httpx.RespondError(w, err, errMappings)
		return
	}
	httpx.JSON(w, http.StatusOK, period)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	period, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err, errMappings)
		return
	}
	httpx.JSON(w, http.StatusOK, period)
}

func (h *Handler) Close(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	period, err := h.service.Close(r.Context(), id, actorID(r))
	if err != nil {
		h.logger.Error("close period", slog.Int64("period_id", id), slog.Any("error", err))
		httpx.RespondError(w, err, errMappings)
		return
	}
	httpx.JSON(w, http.StatusOK, period)
}

func actorID(r *http.Request) int64 {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		return 0
	}
	return actor.ID
}
