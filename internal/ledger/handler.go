package ledger

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
	{Err: ErrEntryNotFound, Status: http.StatusNotFound, Code: "entry_not_found"},
	{Err: ErrAccountNotFound, Status: http.StatusUnprocessableEntity, Code: "account_not_found"},
	{Err: ErrUnbalanced, Status: http.StatusUnprocessableEntity, Code: "unbalanced"},
	{Err: ErrValidation, Status: http.StatusUnprocessableEntity, Code: "validation_failed"},
	{Err: ErrInactiveAccount, Status: http.StatusUnprocessableEntity, Code: "inactive_account"},
	{Err: ErrNonLeafAccount, Status: http.StatusUnprocessableEntity, Code: "non_leaf_account"},
	{Err: ErrPeriodClosed, Status: http.StatusConflict, Code: "period_closed"},
	{Err: ErrNoOpenPeriod, Status: http.StatusConflict, Code: "no_open_period"},
	{Err: ErrInvalidStatus, Status: http.StatusConflict, Code: "invalid_status"},
	{Err: ErrEntryImmutable, Status: http.StatusConflict, Code: "entry_immutable"},
	{Err: ErrDuplicatePosting, Status: http.StatusConflict, Code: "duplicate_posting"},
	{Err: db.ErrSerialization, Status: http.StatusConflict, Code: "serialization_failure"},
}

// Handler exposes the journal engine as JSON endpoints.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler wires the journal handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers the journal entry routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Delete("/{id}", h.Delete)
	r.Post("/{id}/post", h.Post)
	r.Post("/{id}/reverse", h.Reverse)
	r.Post("/{id}/cancel", h.Cancel)
}

type lineRequest struct {
	AccountID   int64   `json:"account_id" validate:"required"`
	Debit       string  `json:"debit"`
	Credit      string  `json:"credit"`
	Description string  `json:"description"`
	CostCenter  *string `json:"cost_center"`
	Project     *string `json:"project"`
}

type entryRequest struct {
	Date        string        `json:"date" validate:"required,datetime=2006-01-02"`
	Type        string        `json:"type" validate:"omitempty,oneof=MANUAL ADJUSTMENT CLOSING OPENING"`
	Description string        `json:"description" validate:"required"`
	Reference   string        `json:"reference"`
	AutoPost    bool          `json:"auto_post"`
	Lines       []lineRequest `json:"lines" validate:"required,min=2,dive"`
}

func (req entryRequest) toInput(r *http.Request) (EntryInput, error) {
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		return EntryInput{}, err
	}
	entryType := EntryTypeManual
	if req.Type != "" {
		entryType = EntryType(req.Type)
	}
	input := EntryInput{
		Date:        date,
		Type:        entryType,
		Description: req.Description,
		Reference:   req.Reference,
		AutoPost:    req.AutoPost,
		ActorID:     actorID(r),
	}
	for _, line := range req.Lines {
		debit, credit := decimal.Zero, decimal.Zero
		if line.Debit != "" {
			if debit, err = decimal.NewFromString(line.Debit); err != nil {
				return EntryInput{}, err
			}
		}
		if line.Credit != "" {
			if credit, err = decimal.NewFromString(line.Credit); err != nil {
				return EntryInput{}, err
			}
		}
		input.Lines = append(input.Lines, LineInput{
			AccountID:   line.AccountID,
			Debit:       debit,
			Credit:      credit,
			Description: line.Description,
			CostCenter:  line.CostCenter,
			Project:     line.Project,
		})
	}
	return input, nil
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req entryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	input, err := req.toInput(r)
	if err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	entry, err := h.service.CreateEntry(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, err, errMappings)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) Post(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	entry, err := h.service.Post(r.Context(), id, actorID(r))
	if err != nil {
		httpx.RespondError(w, err, errMappings)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

type reverseRequest struct {
	Date        string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Description string `json:"description"`
}

func (h *Handler) Reverse(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req reverseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	input := ReverseInput{EntryID: id, ActorID: actorID(r), Description: req.Description}
	if req.Date != "" {
		date, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
			return
		}
		input.Date = &date
	}
	entry, err := h.service.Reverse(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, err, errMappings)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	entry, err := h.service.Cancel(r.Context(), id, actorID(r))
	if err != nil {
		httpx.RespondError(w, err, errMappings)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteDraft(r.Context(), id); err != nil {
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
	entry, err := h.service.GetEntry(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err, errMappings)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	filter := EntryFilter{
		Status:  EntryStatus(r.URL.Query().Get("status")),
		RefType: r.URL.Query().Get("ref_type"),
	}
	if raw := r.URL.Query().Get("from"); raw != "" {
		from, err := time.Parse("2006-01-02", raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid from date")
			return
		}
		filter.DateFrom = &from
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		to, err := time.Parse("2006-01-02", raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid to date")
			return
		}
		filter.DateTo = &to
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid limit")
			return
		}
		filter.Limit = limit
	}
	entries, err := h.service.ListEntries(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err, errMappings)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
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
