package inventory

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
	{Err: ErrInsufficientStock, Status: http.StatusConflict, Code: "insufficient_stock"},
	{Err: ErrReservationExceeds, Status: http.StatusConflict, Code: "reservation_exceeds"},
	{Err: ErrInvalidQuantity, Status: http.StatusUnprocessableEntity, Code: "invalid_quantity"},
	{Err: ErrInvalidUnitCost, Status: http.StatusUnprocessableEntity, Code: "invalid_unit_cost"},
	{Err: ErrStockNotFound, Status: http.StatusNotFound, Code: "stock_not_found"},
	{Err: ErrMovementNotFound, Status: http.StatusNotFound, Code: "movement_not_found"},
	{Err: ErrDuplicateMovement, Status: http.StatusConflict, Code: "duplicate_movement"},
	{Err: shared.ErrLockTimeout, Status: http.StatusConflict, Code: "lock_timeout"},
	{Err: db.ErrSerialization, Status: http.StatusConflict, Code: "serialization_failure"},
}

// Handler exposes inventory operations as JSON endpoints.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler wires the inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers the inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/receive", h.Receive)
	r.Post("/issue", h.Issue)
	r.Post("/adjust", h.Adjust)
	r.Post("/transfer", h.Transfer)
	r.Post("/reserve", h.Reserve)
	r.Post("/release", h.Release)
	r.Get("/stock", h.Stock)
	r.Get("/card", h.StockCard)
	r.Get("/movements", h.Movements)
}

type movementRequest struct {
	ProductID      int64  `json:"product_id" validate:"required"`
	WarehouseID    int64  `json:"warehouse_id" validate:"required"`
	Quantity       string `json:"quantity" validate:"required"`
	UnitCost       string `json:"unit_cost"`
	DocumentType   string `json:"document_type"`
	DocumentNumber string `json:"document_number"`
}

func (req movementRequest) toInput(r *http.Request) (MovementInput, error) {
	qty, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		return MovementInput{}, err
	}
	cost := decimal.Zero
	if req.UnitCost != "" {
		cost, err = decimal.NewFromString(req.UnitCost)
		if err != nil {
			return MovementInput{}, err
		}
	}
	return MovementInput{
		ProductID:      req.ProductID,
		WarehouseID:    req.WarehouseID,
		Quantity:       qty,
		UnitCost:       cost,
		DocumentType:   req.DocumentType,
		DocumentNumber: req.DocumentNumber,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		ActorID:        actorID(r),
	}, nil
}

func (h *Handler) movement(w http.ResponseWriter, r *http.Request, post func(context MovementInput) (Movement, error)) {
	var req movementRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := validate.Struct(req); err != nil {
		httpx.ProblemCode(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())
		return
	}
	input, err := req.toInput(r)
	if err != nil {
		httpx.ProblemCode(w, http.StatusUnprocessableEntity, "invalid_amount", err.Error())
		return
	}
	movement, err := post(input)
	if err != nil {
		h.logger.Error("post movement", slog.Any("error", err))
		httpx.RespondError(w, err, errMappings)
		return
	}
	httpx.JSON(w, http.StatusCreated, movement)
}

func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	h.movement(w, r, func(input MovementInput) (Movement, error) {
		return h.service.Receive(r.Context(), input)
	})
}

func (h *Handler) Issue(w http.ResponseWriter, r *http.Request) {
	h.movement(w, r, func(input MovementInput) (Movement, error) {
		return h.service.Issue(r.Context(), input)
	})
}

type adjustRequest struct {
	movementRequest
	Delta string `json:"delta" validate:"required"`
}

func (h *Handler) Adjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	delta, err := decimal.NewFromString(req.Delta)
	if err != nil {
		httpx.ProblemCode(w, http.StatusUnprocessableEntity, "invalid_amount", err.Error())
		return
	}
	req.Quantity = delta.Abs().String()
	input, err := req.toInput(r)
	if err != nil {
		httpx.ProblemCode(w, http.StatusUnprocessableEntity, "invalid_amount", err.Error())
		return
	}
	movement, err := h.service.Adjust(r.Context(), input, delta)
	if err != nil {
		h.logger.Error("adjust stock", slog.Any("error", err))
		httpx.RespondError(w, err, errMappings)
		return
	}
	httpx.JSON(w, http.StatusCreated, movement)
}

type transferRequest struct {
	ProductID      int64  `json:"product_id" validate:"required"`
	SourceID       int64  `json:"source_warehouse_id" validate:"required"`
	DestinationID  int64  `json:"destination_warehouse_id" validate:"required"`
	Quantity       string `json:"quantity" validate:"required"`
	DocumentType   string `json:"document_type"`
	DocumentNumber string `json:"document_number"`
}

func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := validate.Struct(req); err != nil {
		httpx.ProblemCode(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())
		return
	}
	qty, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		httpx.ProblemCode(w, http.StatusUnprocessableEntity, "invalid_amount", err.Error())
		return
	}
	out, in, err := h.service.Transfer(r.Context(), TransferInput{
		ProductID:      req.ProductID,
		SourceID:       req.SourceID,
		DestinationID:  req.DestinationID,
		Quantity:       qty,
		DocumentType:   req.DocumentType,
		DocumentNumber: req.DocumentNumber,
		ActorID:        actorID(r),
	})
	if err != nil {
		h.logger.Error("transfer stock", slog.Any("error", err))
		httpx.RespondError(w, err, errMappings)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"out": out, "in": in})
}

type reserveRequest struct {
	ProductID   int64  `json:"product_id" validate:"required"`
	WarehouseID int64  `json:"warehouse_id" validate:"required"`
	Quantity    string `json:"quantity" validate:"required"`
}

func (h *Handler) reservation(w http.ResponseWriter, r *http.Request, apply func(ReserveInput) (Stock, error)) {
	var req reserveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	qty, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		httpx.ProblemCode(w, http.StatusUnprocessableEntity, "invalid_amount", err.Error())
		return
	}
	stock, err := apply(ReserveInput{
		ProductID:   req.ProductID,
		WarehouseID: req.WarehouseID,
		Quantity:    qty,
		ActorID:     actorID(r),
	})
	if err != nil {
		httpx.RespondError(w, err, errMappings)
		return
	}
	httpx.JSON(w, http.StatusOK, stock)
}

func (h *Handler) Reserve(w http.ResponseWriter, r *http.Request) {
	h.reservation(w, r, func(input ReserveInput) (Stock, error) {
		return h.service.Reserve(r.Context(), input)
	})
}

func (h *Handler) Release(w http.ResponseWriter, r *http.Request) {
	h.reservation(w, r, func(input ReserveInput) (Stock, error) {
		return h.service.Release(r.Context(), input)
	})
}

func (h *Handler) Stock(w http.ResponseWriter, r *http.Request) {
	productID, warehouseID, ok := stockQuery(w, r)
	if !ok {
		return
	}
	stock, err := h.service.Stock(r.Context(), productID, warehouseID)
	if err != nil {
		httpx.RespondError(w, err, errMappings)
		return
	}
	httpx.JSON(w, http.StatusOK, stock)
}

func (h *Handler) StockCard(w http.ResponseWriter, r *http.Request) {
	productID, warehouseID, ok := stockQuery(w, r)
	if !ok {
		return
	}
	filter := StockCardFilter{ProductID: productID, WarehouseID: warehouseID}
	if raw := r.URL.Query().Get("from"); raw != "" {
		if t, err := time.Parse("2006-01-02", raw); err == nil {
			filter.From = t
		}
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		if t, err := time.Parse("2006-01-02", raw); err == nil {
			filter.To = t
		}
	}
	cards, err := h.service.StockCard(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err, errMappings)
		return
	}
	httpx.JSON(w, http.StatusOK, cards)
}

func (h *Handler) Movements(w http.ResponseWriter, r *http.Request) {
	productID, warehouseID, ok := stockQuery(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	movements, err := h.service.Movements(r.Context(), productID, warehouseID, limit)
	if err != nil {
		httpx.RespondError(w, err, errMappings)
		return
	}
	httpx.JSON(w, http.StatusOK, movements)
}

func stockQuery(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	productID, err1 := strconv.ParseInt(r.URL.Query().Get("product_id"), 10, 64)
	warehouseID, err2 := strconv.ParseInt(r.URL.Query().Get("warehouse_id"), 10, 64)
	if err1 != nil || err2 != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "product_id and warehouse_id are required")
		return 0, 0, false
	}
	return productID, warehouseID, true
}

func actorID(r *http.Request) int64 {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		return 0
	}
	return actor.ID
}
