package accounts

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/vantage-erp/vantage-erp/internal/platform/httpx"
	"github.com/vantage-erp/vantage-erp/internal/shared"
)

var validate = validator.New()

var errMappings = []httpx.Mapping{
	{Err: ErrAccountNotFound, Status: http.StatusNotFound, Code: "account_not_found"},
	{Err: ErrDuplicateCode, Status: http.StatusConflict, Code: "duplicate_code"},
	{Err: ErrParentHasPosts, Status: http.StatusConflict, Code: "parent_has_history"},
	{Err: ErrNonZeroBalance, Status: http.StatusConflict, Code: "balance_not_zero"},
	{Err: ErrDraftReferences, Status: http.StatusConflict, Code: "draft_references"},
	{Err: ErrInvalidParent, Status: http.StatusUnprocessableEntity, Code: "invalid_parent"},
	{Err: ErrValidation, Status: http.StatusUnprocessableEntity, Code: "validation_failed"},
	{Err: shared.ErrNotFound, Status: http.StatusNotFound, Code: "not_found"},
}

// Handler exposes the chart of accounts as JSON endpoints.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler wires the accounts handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers the account routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/types", h.ListTypes)
	r.Get("/code/{code}", h.LookupByCode)
	r.Get("/{id}", h.Get)
	r.Get("/{id}/descendants", h.Descendants)
	r.Post("/{id}/deactivate", h.Deactivate)
	r.Post("/{id}/reparent", h.Reparent)
}

type createRequest struct {
	Code          string  `json:"code" validate:"required"`
	Name          string  `json:"name" validate:"required"`
	TypeID        int64   `json:"type_id" validate:"required"`
	ParentID      *int64  `json:"parent_id"`
	Nature        *string `json:"nature" validate:"omitempty,oneof=DEBIT CREDIT"`
	IsCashAccount bool    `json:"is_cash_account"`
	IsBankAccount bool    `json:"is_bank_account"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := validate.Struct(req); err != nil {
		httpx.ProblemCode(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())
		return
	}
	input := CreateInput{
		Code:          req.Code,
		Name:          req.Name,
		TypeID:        req.TypeID,
		ParentID:      req.ParentID,
		IsCashAccount: req.IsCashAccount,
		IsBankAccount: req.IsBankAccount,
	}
	if req.Nature != nil {
		nature := Nature(*req.Nature)
		input.Nature = &nature
	}
	account, err := h.service.Create(r.Context(), input, actorID(r))
	if err != nil {
		h.logger.Error("create account", slog.Any("error", err))
		httpx.RespondError(w, err, errMappings)
		return
	}
	httpx.JSON(w, http.StatusCreated, account)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	onlyActive := r.URL.Query().Get("active") == "true"
	accounts, err := h.service.List(r.Context(), onlyActive)
	if err != nil {
		h.logger.Error("list accounts", slog.Any("error", err))
		httpx.RespondError(w, err, errMappings)
		return
	}
	httpx.JSON(w, http.StatusOK, accounts)
}

func (h *Handler) ListTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.service.ListTypes(r.Context())
	if err != nil {
		h.logger.Error("list account types", slog.Any("error", err))
		httpx.RespondError(w, err, errMappings)
		return
	}
	httpx.JSON(w, http.StatusOK, types)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	account, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err, errMappings)
		return
	}
	httpx.JSON(w, http.StatusOK, account)
}

func (h *Handler) LookupByCode(w http.ResponseWriter, r *http.Request) {
	account, err := h.service.LookupByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		httpx.RespondError(w, err, errMappings)
		return
	}
	httpx.JSON(w, http.StatusOK, account)
}

func (h *Handler) Descendants(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var (
		accounts []Account
		err      error
	)
	if r.URL.Query().Get("leaves") == "true" {
		accounts, err = h.service.LeavesUnder(r.Context(), id)
	} else {
		accounts, err = h.service.Descendants(r.Context(), id)
	}
	if err != nil {
		httpx.RespondError(w, err, errMappings)
		return
	}
	httpx.JSON(w, http.StatusOK, accounts)
}

func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.Deactivate(r.Context(), id, actorID(r)); err != nil {
		h.logger.Error("deactivate account", slog.Int64("account_id", id), slog.Any("error", err))
		httpx.RespondError(w, err, errMappings)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type reparentRequest struct {
	ParentID *int64 `json:"parent_id"`
}

func (h *Handler) Reparent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req reparentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.service.Reparent(r.Context(), id, req.ParentID, actorID(r)); err != nil {
		h.logger.Error("reparent account", slog.Int64("account_id", id), slog.Any("error", err))
		httpx.RespondError(w, err, errMappings)
		return
	}
	w.WriteHeader(http.StatusNoContent)
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
