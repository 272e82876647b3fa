package payments

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

// Handler exposes payment allocation over HTTP.
type Handler struct {
	logger   *slog.Logger
	svc      *Service
	validate *validator.Validate
}

// NewHandler constructs the payments HTTP handler.
func NewHandler(logger *slog.Logger, svc *Service) *Handler {
	return &Handler{logger: logger, svc: svc, validate: validator.New()}
}

// MountRoutes attaches payment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/allocations", h.allocate)
	r.Get("/allocations/{paymentID}", h.paymentAllocations)
	r.Get("/invoices/{invoiceID}/allocations", h.invoiceAllocations)
	r.Get("/clients/{clientID}/outstanding", h.outstanding)
}

type allocateRequest struct {
	PaymentID uuid.UUID       `json:"payment_id" validate:"required"`
	ClientID  int64           `json:"client_id" validate:"required"`
	Amount    decimal.Decimal `json:"amount"`
	Date      time.Time       `json:"date" validate:"required"`
}

func (h *Handler) allocate(w http.ResponseWriter, r *http.Request) {
	var req allocateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	ctx := r.Context()
	result, err := h.svc.AllocateToInvoices(ctx, shared.TenantFromContext(ctx), AllocationInput{
		PaymentID: req.PaymentID,
		ClientID:  req.ClientID,
		Amount:    req.Amount,
		Date:      req.Date,
		ActorID:   shared.ActorFromContext(ctx),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) paymentAllocations(w http.ResponseWriter, r *http.Request) {
	paymentID, err := uuid.Parse(chi.URLParam(r, "paymentID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid payment id")
		return
	}
	allocations, err := h.svc.GetPaymentAllocations(r.Context(), shared.TenantFromContext(r.Context()), paymentID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"allocations": allocations})
}

func (h *Handler) invoiceAllocations(w http.ResponseWriter, r *http.Request) {
	invoiceID, err := uuid.Parse(chi.URLParam(r, "invoiceID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid invoice id")
		return
	}
	allocations, err := h.svc.GetInvoiceAllocations(r.Context(), shared.TenantFromContext(r.Context()), invoiceID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"allocations": allocations})
}

func (h *Handler) outstanding(w http.ResponseWriter, r *http.Request) {
	clientID, err := strconv.ParseInt(chi.URLParam(r, "clientID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid client id")
		return
	}
	invoices, err := h.svc.GetOutstandingInvoices(r.Context(), shared.TenantFromContext(r.Context()), clientID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"invoices": invoices})
}
