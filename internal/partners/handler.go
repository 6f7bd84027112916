package partners

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/vantage-erp/vantage-erp/internal/platform/db"
	"github.com/vantage-erp/vantage-erp/internal/platform/httpx"
	"github.com/vantage-erp/vantage-erp/internal/shared"
)

var validate = validator.New()

var errMappings = []httpx.Mapping{
	{Err: ErrPartnerNotFound, Status: http.StatusNotFound, Code: "partner_not_found"},
	{Err: ErrTransactionNotFound, Status: http.StatusNotFound, Code: "transaction_not_found"},
	{Err: ErrDuplicateCode, Status: http.StatusConflict, Code: "duplicate_code"},
	{Err: ErrInactivePartner, Status: http.StatusConflict, Code: "inactive_partner"},
	{Err: ErrInsufficientEquity, Status: http.StatusConflict, Code: "insufficient_equity"},
	{Err: ErrValidation, Status: http.StatusUnprocessableEntity, Code: "validation_failed"},
	{Err: db.ErrSerialization, Status: http.StatusConflict, Code: "serialization_failure"},
}

// Handler exposes partners and their equity transactions as JSON endpoints.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler wires the partners handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers the partner routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Put("/{id}/active", h.SetActive)
	r.Get("/{id}/transactions", h.Transactions)
	r.Post("/transactions", h.Record)
	r.Post("/transactions/{id}/reverse", h.Reverse)
}

type partnerRequest struct {
	Code  string  `json:"code" validate:"required,max=32"`
	Name  string  `json:"name" validate:"required,max=255"`
	Email *string `json:"email" validate:"omitempty,email"`
}

type transactionRequest struct {
	PartnerID   int64  `json:"partner_id" validate:"required"`
	Type        string `json:"type" validate:"required,oneof=CONTRIBUTION WITHDRAWAL LOAN"`
	Date        string `json:"date" validate:"required,datetime=2006-01-02"`
	Amount      string `json:"amount" validate:"required"`
	Description string `json:"description"`
}

type activeRequest struct {
	Active bool `json:"active"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req partnerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	partner, err := h.service.Create(r.Context(), Partner{Code: req.Code, Name: req.Name, Email: req.Email})
	if err != nil {
		httpx.RespondError(w, err, errMappings)
		return
	}
	httpx.JSON(w, http.StatusCreated, partner)
}

func (h *Handler) SetActive(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req activeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := h.service.SetActive(r.Context(), id, req.Active); err != nil {
		httpx.RespondError(w, err, errMappings)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	partner, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err, errMappings)
		return
	}
	httpx.JSON(w, http.StatusOK, partner)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	partners, err := h.service.List(r.Context(), activeOnly)
	if err != nil {
		httpx.RespondError(w, err, errMappings)
		return
	}
	httpx.JSON(w, http.StatusOK, partners)
}

func (h *Handler) Record(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	txn, err := h.service.Record(r.Context(), TransactionInput{
		PartnerID:   req.PartnerID,
		Type:        TransactionType(req.Type),
		Date:        date,
		Amount:      amount,
		Description: req.Description,
		ActorID:     actorID(r),
	})
	if err != nil {
		httpx.RespondError(w, err, errMappings)
		return
	}
	httpx.JSON(w, http.StatusCreated, txn)
}

func (h *Handler) Reverse(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.Reverse(r.Context(), id, actorID(r)); err != nil {
		httpx.RespondError(w, err, errMappings)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Transactions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid limit")
			return
		}
		limit = parsed
	}
	transactions, err := h.service.Transactions(r.Context(), id, limit)
	if err != nil {
		httpx.RespondError(w, err, errMappings)
		return
	}
	httpx.JSON(w, http.StatusOK, transactions)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return 0, false
	}
	return id, true
}

func actorID(r *http.Request) int64 {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		return 0
	}
	return actor.ID
}
