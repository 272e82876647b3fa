package inventory

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/caravel-erp/caravel-erp/internal/shared"
)

// Variant identifies a product variant explicitly. The zero value means
// "no variant" and matches only batches without one; it is never an "any
// variant" wildcard.
type Variant struct {
	id  int64
	set bool
}

// VariantOf selects batches of one specific variant.
func VariantOf(id int64) Variant {
	return Variant{id: id, set: true}
}

// NoVariant selects only batches carrying no variant.
func NoVariant() Variant {
	return Variant{}
}

// ID returns the variant id and whether one is set.
func (v Variant) ID() (int64, bool) {
	return v.id, v.set
}

// Ptr returns the variant as a nullable id for storage.
func (v Variant) Ptr() *int64 {
	if !v.set {
		return nil
	}
	id := v.id
	return &id
}

// MarshalJSON encodes the variant as its id, or null when unset.
func (v Variant) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Ptr())
}

// UnmarshalJSON decodes a nullable variant id.
func (v *Variant) UnmarshalJSON(data []byte) error {
	var id *int64
	if err := json.Unmarshal(data, &id); err != nil {
		return err
	}
	if id == nil {
		*v = NoVariant()
	} else {
		*v = VariantOf(*id)
	}
	return nil
}

// BatchKey addresses the batch set for one product at one warehouse.
type BatchKey struct {
	ProductID   int64
	WarehouseID int64
	Variant     Variant
}

// Batch is a quantity of one product received at one time. CreatedAt defines
// FIFO order; Quantity never drops below zero.
type Batch struct {
	ID          int64           `json:"id"`
	TenantID    shared.TenantID `json:"tenant_id"`
	ProductID   int64           `json:"product_id"`
	Variant     Variant         `json:"variant_id"`
	WarehouseID int64           `json:"warehouse_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	BatchNo     string          `json:"batch_no"`
	BinLocation string          `json:"bin_location,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// MovementType enumerates stock movement categories.
type MovementType string

const (
	MovementTypeReceipt    MovementType = "RECEIPT"
	MovementTypeSale       MovementType = "SALE"
	MovementTypeAdjustment MovementType = "ADJUSTMENT"
)

// Movement is the immutable audit record of one quantity change. It is never
// updated after creation.
type Movement struct {
	ID            int64
	TenantID      shared.TenantID
	ProductID     int64
	Variant       Variant
	WarehouseID   int64
	Type          MovementType
	Quantity      decimal.Decimal
	ReferenceType string
	ReferenceID   uuid.UUID
	UserID        int64
	Notes         string
	CreatedAt     time.Time
}

// BatchDeduction is one planned take from one batch.
type BatchDeduction struct {
	BatchID  int64           `json:"batch_id"`
	BatchNo  string          `json:"batch_no"`
	Quantity decimal.Decimal `json:"quantity"`
}

// Restoration describes stock to put back against its original batch.
type Restoration struct {
	Key      BatchKey
	BatchNo  string
	Quantity decimal.Decimal
}

// Ref ties movements to the business document that caused them.
type Ref struct {
	Type    MovementType
	DocType string
	DocID   uuid.UUID
	ActorID int64
	Notes   string
}

// ReceiptInput describes an inbound batch.
type ReceiptInput struct {
	Key         BatchKey
	Quantity    decimal.Decimal
	BatchNo     string
	BinLocation string
	Ref         Ref
}
