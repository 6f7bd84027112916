package sales

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
	{Err: ErrInvoiceNotFound, Status: http.StatusNotFound, Code: "invoice_not_found"},
	{Err: ErrCustomerNotFound, Status: http.StatusNotFound, Code: "customer_not_found"},
	{Err: ErrInvalidStatus, Status: http.StatusConflict, Code: "invalid_status"},
	{Err: ErrHasPayments, Status: http.StatusConflict, Code: "has_payments"},
	{Err: ErrNumberConflict, Status: http.StatusConflict, Code: "number_conflict"},
	{Err: ErrValidation, Status: http.StatusUnprocessableEntity, Code: "validation_failed"},
	{Err: db.ErrSerialization, Status: http.StatusConflict, Code: "serialization_failure"},
}

// Handler exposes sale invoices and customers as JSON endpoints.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler wires the sales handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers the sales routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/invoices", h.List)
	r.Post("/invoices", h.Create)
	r.Get("/invoices/{id}", h.Get)
	r.Put("/invoices/{id}", h.Update)
	r.Delete("/invoices/{id}", h.Delete)
	r.Post("/invoices/{id}/confirm", h.Confirm)
	r.Post("/invoices/{id}/cancel", h.Cancel)
	r.Get("/customers", h.Customers)
	r.Post("/customers", h.CreateCustomer)
	r.Get("/customers/{id}", h.Customer)
	r.Put("/customers/{id}", h.UpdateCustomer)
}

type lineRequest struct {
	ProductID int64  `json:"product_id" validate:"required"`
	Quantity  string `json:"quantity" validate:"required"`
	UnitPrice string `json:"unit_price" validate:"required"`
	Discount  string `json:"discount"`
}

type invoiceRequest struct {
	CustomerID  int64         `json:"customer_id" validate:"required"`
	WarehouseID int64         `json:"warehouse_id" validate:"required"`
	Date        string        `json:"date" validate:"required,datetime=2006-01-02"`
	Tax         string        `json:"tax"`
	Notes       string        `json:"notes"`
	Lines       []lineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (req invoiceRequest) toInput(r *http.Request) (InvoiceInput, error) {
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		return InvoiceInput{}, err
	}
	tax := decimal.Zero
	if req.Tax != "" {
		if tax, err = decimal.NewFromString(req.Tax); err != nil {
			return InvoiceInput{}, err
		}
	}
	input := InvoiceInput{
		CustomerID:  req.CustomerID,
		WarehouseID: req.WarehouseID,
		Date:        date,
		Tax:         tax,
		Notes:       req.Notes,
		ActorID:     actorID(r),
	}
	for _, line := range req.Lines {
		qty, err := decimal.NewFromString(line.Quantity)
		if err != nil {
			return InvoiceInput{}, err
		}
		price, err := decimal.NewFromString(line.UnitPrice)
		if err != nil {
			return InvoiceInput{}, err
		}
		discount := decimal.Zero
		if line.Discount != "" {
			if discount, err = decimal.NewFromString(line.Discount); err != nil {
				return InvoiceInput{}, err
			}
		}
		input.Lines = append(input.Lines, LineInput{
			ProductID: line.ProductID,
			Quantity:  qty,
			UnitPrice: price,
			Discount:  discount,
		})
	}
	return input, nil
}

func (h *Handler) decodeInvoice(w http.ResponseWriter, r *http.Request) (InvoiceInput, bool) {
	var req invoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return InvoiceInput{}, false
	}
	if err := validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return InvoiceInput{}, false
	}
	input, err := req.toInput(r)
	if err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return InvoiceInput{}, false
	}
	return input, true
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	input, ok := h.decodeInvoice(w, r)
	if !ok {
		return
	}
	inv, err := h.service.Create(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, err, errMappings)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	input, ok := h.decodeInvoice(w, r)
	if !ok {
		return
	}
	revise := r.URL.Query().Get("revise") == "true"
	var (
		inv Invoice
		err error
	)
	if revise {
		inv, err = h.service.EditConfirmed(r.Context(), id, input, actorID(r))
	} else {
		inv, err = h.service.UpdateDraft(r.Context(), id, input)
	}
	if err != nil {
		httpx.RespondError(w, err, errMappings)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	inv, err := h.service.Confirm(r.Context(), id, actorID(r))
	if err != nil {
		httpx.RespondError(w, err, errMappings)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	inv, err := h.service.Cancel(r.Context(), id, actorID(r))
	if err != nil {
		httpx.RespondError(w, err, errMappings)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteDraft(r.Context(), id, actorID(r)); err != nil {
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
	inv, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err, errMappings)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	filter := InvoiceFilter{Status: InvoiceStatus(r.URL.Query().Get("status"))}
	if raw := r.URL.Query().Get("customer_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid customer_id")
			return
		}
		filter.CustomerID = id
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid limit")
			return
		}
		filter.Limit = limit
	}
	invoices, err := h.service.List(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err, errMappings)
		return
	}
	httpx.JSON(w, http.StatusOK, invoices)
}

type customerRequest struct {
	Code              string  `json:"code" validate:"required"`
	Name              string  `json:"name" validate:"required"`
	Email             *string `json:"email" validate:"omitempty,email"`
	Phone             *string `json:"phone"`
	CreditLimit       *string `json:"credit_limit"`
	ReceivableAccount *string `json:"receivable_account"`
	IsActive          *bool   `json:"is_active"`
}

func (req customerRequest) toCustomer() (Customer, error) {
	c := Customer{
		Code:              req.Code,
		Name:              req.Name,
		Email:             req.Email,
		Phone:             req.Phone,
		ReceivableAccount: req.ReceivableAccount,
		IsActive:          true,
	}
	if req.CreditLimit != nil {
		limit, err := decimal.NewFromString(*req.CreditLimit)
		if err != nil {
			return Customer{}, err
		}
		c.CreditLimit = &limit
	}
	if req.IsActive != nil {
		c.IsActive = *req.IsActive
	}
	return c, nil
}

func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req customerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	customer, err := req.toCustomer()
	if err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	created, err := h.service.CreateCustomer(r.Context(), customer)
	if err != nil {
		httpx.RespondError(w, err, errMappings)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) UpdateCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req customerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	customer, err := req.toCustomer()
	if err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	customer.ID = id
	if err := h.service.UpdateCustomer(r.Context(), customer); err != nil {
		httpx.RespondError(w, err, errMappings)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Customer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	customer, err := h.service.Customer(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err, errMappings)
		return
	}
	httpx.JSON(w, http.StatusOK, customer)
}

func (h *Handler) Customers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.service.Customers(r.Context(), r.URL.Query().Get("active") == "true")
	if err != nil {
		httpx.RespondError(w, err, errMappings)
		return
	}
	httpx.JSON(w, http.StatusOK, customers)
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
