package products

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	mdshared "github.com/vantage-erp/vantage-erp/internal/masterdata/shared"
	"github.com/vantage-erp/vantage-erp/internal/platform/httpx"
)

var validate = validator.New()

var errMappings = []httpx.Mapping{
	{Err: mdshared.ErrNotFound, Status: http.StatusNotFound, Code: "product_not_found"},
	{Err: mdshared.ErrDuplicate, Status: http.StatusConflict, Code: "duplicate_code"},
	{Err: mdshared.ErrValidation, Status: http.StatusUnprocessableEntity, Code: "validation_failed"},
}

type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Update)
	r.Put("/{id}/active", h.SetActive)
}

type productRequest struct {
	Code    string `json:"code" validate:"required,max=64"`
	Name    string `json:"name" validate:"required,max=255"`
	Unit    string `json:"unit" validate:"required,max=16"`
	Price   string `json:"price" validate:"required"`
	Cost    string `json:"cost"`
	TaxRate string `json:"tax_rate"`
}

func (req productRequest) toProduct() (Product, error) {
	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		return Product{}, err
	}
	cost := decimal.Zero
	if req.Cost != "" {
		if cost, err = decimal.NewFromString(req.Cost); err != nil {
			return Product{}, err
		}
	}
	taxRate := decimal.Zero
	if req.TaxRate != "" {
		if taxRate, err = decimal.NewFromString(req.TaxRate); err != nil {
			return Product{}, err
		}
	}
	return Product{Code: req.Code, Name: req.Name, Unit: req.Unit, Price: price, Cost: cost, TaxRate: taxRate}, nil
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (Product, bool) {
	var req productRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return Product{}, false
	}
	if err := validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return Product{}, false
	}
	product, err := req.toProduct()
	if err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return Product{}, false
	}
	return product, true
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	filters := listFilters(r)
	items, total, err := h.service.List(r.Context(), filters)
	if err != nil {
		httpx.RespondError(w, err, errMappings)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items, "total": total, "page": filters.Page})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	product, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err, errMappings)
		return
	}
	httpx.JSON(w, http.StatusOK, product)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	product, ok := h.decode(w, r)
	if !ok {
		return
	}
	created, err := h.service.Create(r.Context(), product)
	if err != nil {
		httpx.RespondError(w, err, errMappings)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	product, ok := h.decode(w, r)
	if !ok {
		return
	}
	if err := h.service.Update(r.Context(), id, product); err != nil {
		httpx.RespondError(w, err, errMappings)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SetActive(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Active bool `json:"active"`
	}
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

func listFilters(r *http.Request) mdshared.ListFilters {
	filters := mdshared.ListFilters{Search: r.URL.Query().Get("search")}
	filters.Page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	filters.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if raw := r.URL.Query().Get("active"); raw != "" {
		active := raw == "true"
		filters.IsActive = &active
	}
	filters.Normalize()
	return filters
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return 0, false
	}
	return id, true
}
