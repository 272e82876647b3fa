package journal

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/caravel-erp/caravel-erp/internal/platform/httpx"
	"github.com/caravel-erp/caravel-erp/internal/shared"
)

// Handler exposes journal entries over HTTP.
type Handler struct {
	logger   *slog.Logger
	svc      *Service
	validate *validator.Validate
}

// NewHandler constructs the journal HTTP handler.
func NewHandler(logger *slog.Logger, svc *Service) *Handler {
	return &Handler{logger: logger, svc: svc, validate: validator.New()}
}

// MountRoutes attaches journal routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.getByID)
	r.Put("/{id}", h.update)
	r.Delete("/{id}", h.delete)
	r.Post("/{id}/post", h.post)
	r.Post("/{id}/reverse", h.reverse)
}

type lineRequest struct {
	AccountID   int64           `json:"account_id" validate:"required"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Description string          `json:"description"`
}

type createEntryRequest struct {
	Date          time.Time     `json:"date" validate:"required"`
	Description   string        `json:"description" validate:"required"`
	ReferenceType string        `json:"reference_type"`
	ReferenceID   *uuid.UUID    `json:"reference_id"`
	Lines         []lineRequest `json:"lines" validate:"required,min=2,dive"`
}

func toLineInputs(lines []lineRequest) []LineInput {
	out := make([]LineInput, 0, len(lines))
	for _, l := range lines {
		out = append(out, LineInput{
			AccountID:   l.AccountID,
			Debit:       l.Debit,
			Credit:      l.Credit,
			Description: l.Description,
		})
	}
	return out
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createEntryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	ctx := r.Context()
	entry, err := h.svc.Create(ctx, shared.TenantFromContext(ctx), CreateInput{
		Date:          req.Date,
		Description:   req.Description,
		ReferenceType: req.ReferenceType,
		ReferenceID:   req.ReferenceID,
		CreatedBy:     shared.ActorFromContext(ctx),
		Lines:         toLineInputs(req.Lines),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

type updateEntryRequest struct {
	Date          *time.Time    `json:"date"`
	Description   *string       `json:"description"`
	ReferenceType *string       `json:"reference_type"`
	ReferenceID   *uuid.UUID    `json:"reference_id"`
	Lines         []lineRequest `json:"lines" validate:"omitempty,min=2,dive"`
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := entryID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req updateEntryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	ctx := r.Context()
	in := UpdateInput{
		Date:          req.Date,
		Description:   req.Description,
		ReferenceType: req.ReferenceType,
		ReferenceID:   req.ReferenceID,
		ActorID:       shared.ActorFromContext(ctx),
	}
	if req.Lines != nil {
		in.Lines = toLineInputs(req.Lines)
	}
	entry, err := h.svc.Update(ctx, shared.TenantFromContext(ctx), id, in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request) {
	id, err := entryID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	ctx := r.Context()
	entry, err := h.svc.Post(ctx, shared.TenantFromContext(ctx), id, shared.ActorFromContext(ctx))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

type reverseEntryRequest struct {
	Memo string `json:"memo"`
}

func (h *Handler) reverse(w http.ResponseWriter, r *http.Request) {
	id, err := entryID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req reverseEntryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	ctx := r.Context()
	entry, err := h.svc.Reverse(ctx, shared.TenantFromContext(ctx), id, shared.ActorFromContext(ctx), req.Memo)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := entryID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	ctx := r.Context()
	if err := h.svc.Delete(ctx, shared.TenantFromContext(ctx), id, shared.ActorFromContext(ctx)); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getByID(w http.ResponseWriter, r *http.Request) {
	id, err := entryID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entry, err := h.svc.GetByID(r.Context(), shared.TenantFromContext(r.Context()), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	filter := ListFilter{
		Status: Status(q.Get("status")),
		Search: q.Get("search"),
		Page:   page,
		Limit:  limit,
	}
	if from := q.Get("date_from"); from != "" {
		if t, err := time.Parse("2006-01-02", from); err == nil {
			filter.DateFrom = &t
		}
	}
	if to := q.Get("date_to"); to != "" {
		if t, err := time.Parse("2006-01-02", to); err == nil {
			filter.DateTo = &t
		}
	}
	entries, total, err := h.svc.List(r.Context(), shared.TenantFromContext(r.Context()), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"entries":    entries,
		"pagination": shared.NewPagination(filter.Page, filter.Limit, total),
	})
}

func entryID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, shared.ValidationError("invalid entry id")
	}
	return id, nil
}
