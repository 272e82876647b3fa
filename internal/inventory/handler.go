package inventory

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/caravel-erp/caravel-erp/internal/platform/httpx"
	"github.com/caravel-erp/caravel-erp/internal/shared"
)

// Handler exposes stock operations over HTTP.
type Handler struct {
	logger   *slog.Logger
	engine   *Engine
	validate *validator.Validate
}

// NewHandler constructs the inventory HTTP handler.
func NewHandler(logger *slog.Logger, engine *Engine) *Handler {
	return &Handler{logger: logger, engine: engine, validate: validator.New()}
}

// MountRoutes attaches inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/availability", h.availability)
	r.Post("/receipts", h.receive)
	r.Post("/deductions", h.deduct)
	r.Post("/restorations", h.restore)
}

func batchKeyFromQuery(q map[string][]string) (BatchKey, error) {
	get := func(name string) string {
		if vals := q[name]; len(vals) > 0 {
			return vals[0]
		}
		return ""
	}
	productID, err := strconv.ParseInt(get("product_id"), 10, 64)
	if err != nil || productID <= 0 {
		return BatchKey{}, shared.ValidationError("product_id is required")
	}
	warehouseID, err := strconv.ParseInt(get("warehouse_id"), 10, 64)
	if err != nil || warehouseID <= 0 {
		return BatchKey{}, shared.ValidationError("warehouse_id is required")
	}
	key := BatchKey{ProductID: productID, WarehouseID: warehouseID, Variant: NoVariant()}
	if raw := get("variant_id"); raw != "" {
		variantID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return BatchKey{}, shared.ValidationError("invalid variant_id")
		}
		key.Variant = VariantOf(variantID)
	}
	return key, nil
}

func (h *Handler) availability(w http.ResponseWriter, r *http.Request) {
	key, err := batchKeyFromQuery(r.URL.Query())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	qty, err := h.engine.GetAvailableQuantity(r.Context(), shared.TenantFromContext(r.Context()), key)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"available_quantity": qty})
}

type batchKeyRequest struct {
	ProductID   int64  `json:"product_id" validate:"required"`
	WarehouseID int64  `json:"warehouse_id" validate:"required"`
	VariantID   *int64 `json:"variant_id"`
}

func (k batchKeyRequest) key() BatchKey {
	variant := NoVariant()
	if k.VariantID != nil {
		variant = VariantOf(*k.VariantID)
	}
	return BatchKey{ProductID: k.ProductID, WarehouseID: k.WarehouseID, Variant: variant}
}

type refRequest struct {
	DocType string    `json:"doc_type" validate:"required"`
	DocID   uuid.UUID `json:"doc_id" validate:"required"`
	Notes   string    `json:"notes"`
}

type receiptRequest struct {
	batchKeyRequest
	Quantity    decimal.Decimal `json:"quantity"`
	BatchNo     string          `json:"batch_no" validate:"required"`
	BinLocation string          `json:"bin_location"`
	Ref         refRequest      `json:"ref" validate:"required"`
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	var req receiptRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	ctx := r.Context()
	batch, err := h.engine.ReceiveStock(ctx, shared.TenantFromContext(ctx), ReceiptInput{
		Key:         req.key(),
		Quantity:    req.Quantity,
		BatchNo:     req.BatchNo,
		BinLocation: req.BinLocation,
		Ref: Ref{
			Type:    MovementTypeReceipt,
			DocType: req.Ref.DocType,
			DocID:   req.Ref.DocID,
			ActorID: shared.ActorFromContext(ctx),
			Notes:   req.Ref.Notes,
		},
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, batch)
}

type deductRequest struct {
	batchKeyRequest
	Quantity decimal.Decimal `json:"quantity"`
	Ref      refRequest      `json:"ref" validate:"required"`
}

func (h *Handler) deduct(w http.ResponseWriter, r *http.Request) {
	var req deductRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	ctx := r.Context()
	deductions, err := h.engine.Deduct(ctx, shared.TenantFromContext(ctx), req.key(), req.Quantity, Ref{
		Type:    MovementTypeSale,
		DocType: req.Ref.DocType,
		DocID:   req.Ref.DocID,
		ActorID: shared.ActorFromContext(ctx),
		Notes:   req.Ref.Notes,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"deductions": deductions})
}

type restorationRequest struct {
	batchKeyRequest
	BatchNo  string          `json:"batch_no"`
	Quantity decimal.Decimal `json:"quantity"`
}

type restoreRequest struct {
	Restorations []restorationRequest `json:"restorations" validate:"required,min=1,dive"`
	Ref          refRequest           `json:"ref" validate:"required"`
}

func (h *Handler) restore(w http.ResponseWriter, r *http.Request) {
	var req restoreRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	restorations := make([]Restoration, 0, len(req.Restorations))
	for _, in := range req.Restorations {
		restorations = append(restorations, Restoration{
			Key:      in.key(),
			BatchNo:  in.BatchNo,
			Quantity: in.Quantity,
		})
	}
	ctx := r.Context()
	err := h.engine.Restore(ctx, shared.TenantFromContext(ctx), restorations, Ref{
		Type:    MovementTypeAdjustment,
		DocType: req.Ref.DocType,
		DocID:   req.Ref.DocID,
		ActorID: shared.ActorFromContext(ctx),
		Notes:   req.Ref.Notes,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
