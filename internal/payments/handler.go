package payments

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
	{Err: ErrPaymentNotFound, Status: http.StatusNotFound, Code: "payment_not_found"},
	{Err: ErrInvalidStatus, Status: http.StatusConflict, Code: "invalid_status"},
	{Err: ErrOverpayment, Status: http.StatusConflict, Code: "overpayment"},
	{Err: ErrInvoiceClosed, Status: http.StatusConflict, Code: "invoice_closed"},
	{Err: ErrEditForbidden, Status: http.StatusForbidden, Code: "edit_forbidden"},
	{Err: ErrValidation, Status: http.StatusUnprocessableEntity, Code: "validation_failed"},
	{Err: db.ErrSerialization, Status: http.StatusConflict, Code: "serialization_failure"},
}

// Handler exposes payments as JSON endpoints.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler wires the payments handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers the payment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
	r.Post("/{id}/post", h.Post)
	r.Post("/{id}/unpost", h.Unpost)
	r.Post("/{id}/resync", h.Resync)
}

type paymentRequest struct {
	Kind               string `json:"kind" validate:"required,oneof=SALE PURCHASE"`
	InvoiceID          int64  `json:"invoice_id" validate:"required"`
	Date               string `json:"date" validate:"required,datetime=2006-01-02"`
	Amount             string `json:"amount" validate:"required"`
	Method             string `json:"method" validate:"required,oneof=CASH BANK_TRANSFER CARD CHEQUE OTHER"`
	FinancialAccountID int64  `json:"financial_account_id" validate:"required"`
	Notes              string `json:"notes"`
}

func (req paymentRequest) toInput(r *http.Request) (Input, error) {
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		return Input{}, err
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return Input{}, err
	}
	return Input{
		Kind:               Kind(req.Kind),
		InvoiceID:          req.InvoiceID,
		Date:               date,
		Amount:             amount,
		Method:             Method(req.Method),
		FinancialAccountID: req.FinancialAccountID,
		Notes:              req.Notes,
		ActorID:            actorID(r),
	}, nil
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (Input, bool) {
	var req paymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return Input{}, false
	}
	if err := validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return Input{}, false
	}
	input, err := req.toInput(r)
	if err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return Input{}, false
	}
	return input, true
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	input, ok := h.decode(w, r)
	if !ok {
		return
	}
	payment, err := h.service.Create(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, err, errMappings)
		return
	}
	httpx.JSON(w, http.StatusCreated, payment)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	input, ok := h.decode(w, r)
	if !ok {
		return
	}
	var (
		payment Payment
		err     error
	)
	if r.URL.Query().Get("posted") == "true" {
		payment, err = h.service.EditPosted(r.Context(), id, input, actorID(r))
	} else {
		payment, err = h.service.UpdateDraft(r.Context(), id, input)
	}
	if err != nil {
		httpx.RespondError(w, err, errMappings)
		return
	}
	httpx.JSON(w, http.StatusOK, payment)
}

func (h *Handler) Post(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	payment, err := h.service.Post(r.Context(), id, actorID(r))
	if err != nil {
		httpx.RespondError(w, err, errMappings)
		return
	}
	httpx.JSON(w, http.StatusOK, payment)
}

func (h *Handler) Unpost(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	payment, err := h.service.Unpost(r.Context(), id, actorID(r))
	if err != nil {
		httpx.RespondError(w, err, errMappings)
		return
	}
	httpx.JSON(w, http.StatusOK, payment)
}

func (h *Handler) Resync(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	payment, err := h.service.Resync(r.Context(), id, actorID(r))
	if err != nil {
		httpx.RespondError(w, err, errMappings)
		return
	}
	httpx.JSON(w, http.StatusOK, payment)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), id, actorID(r)); err != nil {
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
	payment, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err, errMappings)
		return
	}
	httpx.JSON(w, http.StatusOK, payment)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	filter := Filter{
		Kind:   Kind(r.URL.Query().Get("kind")),
		Status: Status(r.URL.Query().Get("status")),
	}
	if raw := r.URL.Query().Get("invoice_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid invoice_id")
			return
		}
		filter.InvoiceID = id
	}
	payments, err := h.service.List(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err, errMappings)
		return
	}
	httpx.JSON(w, http.StatusOK, payments)
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
