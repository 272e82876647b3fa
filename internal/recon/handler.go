package recon

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/caravel-erp/caravel-erp/internal/platform/httpx"
	"github.com/caravel-erp/caravel-erp/internal/shared"
)

// Handler exposes bank reconciliation over HTTP.
type Handler struct {
	logger   *slog.Logger
	svc      *Service
	validate *validator.Validate
}

// NewHandler constructs the reconciliation HTTP handler.
func NewHandler(logger *slog.Logger, svc *Service) *Handler {
	return &Handler{logger: logger, svc: svc, validate: validator.New()}
}

// MountRoutes attaches reconciliation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.createSession)
	r.Get("/{id}", h.getByID)
	r.Post("/{id}/complete", h.complete)
	r.Get("/{id}/unmatched", h.unmatched)
	r.Post("/{id}/items", h.addItem)
	r.Post("/{id}/items/{itemID}/match", h.matchItem)
	r.Post("/{id}/items/{itemID}/unmatch", h.unmatchItem)
	r.Delete("/{id}/items/{itemID}", h.deleteItem)
}

type createSessionRequest struct {
	BankAccountID    int64           `json:"bank_account_id" validate:"required"`
	StatementDate    time.Time       `json:"statement_date" validate:"required"`
	StatementBalance decimal.Decimal `json:"statement_balance"`
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	ctx := r.Context()
	session, err := h.svc.CreateSession(ctx, shared.TenantFromContext(ctx), CreateSessionInput{
		BankAccountID:    req.BankAccountID,
		StatementDate:    req.StatementDate,
		StatementBalance: req.StatementBalance,
		ActorID:          shared.ActorFromContext(ctx),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, session)
}

type addItemRequest struct {
	Description     string          `json:"description" validate:"required"`
	StatementAmount decimal.Decimal `json:"statement_amount"`
	StatementDate   time.Time       `json:"statement_date" validate:"required"`
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	sessionID, err := pathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req addItemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	item, err := h.svc.AddItem(r.Context(), shared.TenantFromContext(r.Context()), sessionID, AddItemInput{
		Description:     req.Description,
		StatementAmount: req.StatementAmount,
		StatementDate:   req.StatementDate,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, item)
}

type matchItemRequest struct {
	JournalLineID int64 `json:"journal_line_id" validate:"required"`
}

func (h *Handler) matchItem(w http.ResponseWriter, r *http.Request) {
	sessionID, err := pathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	itemID, err := pathID(r, "itemID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req matchItemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	item, err := h.svc.MatchItem(r.Context(), shared.TenantFromContext(r.Context()), sessionID, itemID, req.JournalLineID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) unmatchItem(w http.ResponseWriter, r *http.Request) {
	sessionID, err := pathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	itemID, err := pathID(r, "itemID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := h.svc.UnmatchItem(r.Context(), shared.TenantFromContext(r.Context()), sessionID, itemID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) deleteItem(w http.ResponseWriter, r *http.Request) {
	sessionID, err := pathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	itemID, err := pathID(r, "itemID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.svc.DeleteItem(r.Context(), shared.TenantFromContext(r.Context()), sessionID, itemID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) unmatched(w http.ResponseWriter, r *http.Request) {
	sessionID, err := pathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	lines, err := h.svc.GetUnmatchedTransactions(r.Context(), shared.TenantFromContext(r.Context()), sessionID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"transactions": lines})
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	sessionID, err := pathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	ctx := r.Context()
	session, err := h.svc.Complete(ctx, shared.TenantFromContext(ctx), sessionID, shared.ActorFromContext(ctx))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, session)
}

func (h *Handler) getByID(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	session, err := h.svc.GetByID(r.Context(), shared.TenantFromContext(r.Context()), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, session)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	bankAccountID, _ := strconv.ParseInt(q.Get("bank_account_id"), 10, 64)
	filter := ListFilter{
		BankAccountID: bankAccountID,
		Status:        SessionStatus(q.Get("status")),
		Page:          page,
		Limit:         limit,
	}
	sessions, total, err := h.svc.List(r.Context(), shared.TenantFromContext(r.Context()), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"sessions":   sessions,
		"pagination": shared.NewPagination(filter.Page, filter.Limit, total),
	})
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		return 0, shared.ValidationError("invalid %s", name)
	}
	return id, nil
}
