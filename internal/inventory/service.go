package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/caravel-erp/caravel-erp/internal/shared"
)

// AuditPort records audit trail entries after successful mutations.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Engine deducts and restores inventory in strict first-in-first-out batch
// order. Every quantity change pairs with exactly one stock movement record.
type Engine struct {
	repo  Repository
	audit AuditPort
	now   func() time.Time
}

// NewEngine builds the FIFO engine.
func NewEngine(repo Repository, audit AuditPort) *Engine {
	return &Engine{repo: repo, audit: audit, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (e *Engine) WithNow(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// GetAvailableQuantity sums stock across batches for the key. Read-only; a
// zero-set variant matches only batches without one.
func (e *Engine) GetAvailableQuantity(ctx context.Context, tenant shared.TenantID, key BatchKey) (decimal.Decimal, error) {
	if !tenant.Valid() {
		return decimal.Zero, shared.ValidationError("tenant required")
	}
	return e.repo.AvailableQuantity(ctx, tenant, key)
}

// CheckStockAvailability reports whether needed units are on hand.
func (e *Engine) CheckStockAvailability(ctx context.Context, tenant shared.TenantID, key BatchKey, needed decimal.Decimal) (bool, error) {
	available, err := e.GetAvailableQuantity(ctx, tenant, key)
	if err != nil {
		return false, err
	}
	return available.Cmp(needed) >= 0, nil
}

// DeductStockFIFO plans a deduction inside the caller's transaction: batches
// are loaded and locked oldest-first, the total is checked before anything is
// taken, and the plan walks batches taking min(remaining, batch quantity).
// No mutation happens here; ApplyDeductions performs the decrement.
func (e *Engine) DeductStockFIFO(ctx context.Context, tx TxRepository, tenant shared.TenantID, key BatchKey, needed decimal.Decimal) ([]BatchDeduction, error) {
	if !needed.IsPositive() {
		return nil, shared.ValidationError("deduction quantity must be positive")
	}
	batches, err := tx.BatchesForUpdate(ctx, tenant, key)
	if err != nil {
		return nil, err
	}
	if len(batches) == 0 {
		return nil, shared.StateError("no stock available for product %d in warehouse %d", key.ProductID, key.WarehouseID)
	}
	available := decimal.Zero
	for _, batch := range batches {
		available = available.Add(batch.Quantity)
	}
	if available.Cmp(needed) < 0 {
		return nil, shared.StateError("insufficient stock: need %s, available %s",
			needed.String(), available.String())
	}

	remaining := needed
	var deductions []BatchDeduction
	for _, batch := range batches {
		if remaining.IsZero() {
			break
		}
		take := decimal.Min(remaining, batch.Quantity)
		deductions = append(deductions, BatchDeduction{
			BatchID:  batch.ID,
			BatchNo:  batch.BatchNo,
			Quantity: take,
		})
		remaining = remaining.Sub(take)
	}
	if remaining.IsPositive() {
		// Unreachable while the availability check above holds.
		return nil, shared.StateError("failed to plan full quantity, %s remaining", remaining.String())
	}
	return deductions, nil
}

// ApplyDeductions decrements each planned batch and writes one movement per
// deduction. Must run in the same transaction as the planning step.
func (e *Engine) ApplyDeductions(ctx context.Context, tx TxRepository, tenant shared.TenantID, key BatchKey, deductions []BatchDeduction, ref Ref) error {
	for _, d := range deductions {
		if err := tx.DecrementBatch(ctx, tenant, d.BatchID, d.Quantity); err != nil {
			return err
		}
		if err := tx.InsertMovement(ctx, tenant, Movement{
			ProductID:     key.ProductID,
			Variant:       key.Variant,
			WarehouseID:   key.WarehouseID,
			Type:          ref.Type,
			Quantity:      d.Quantity.Neg(),
			ReferenceType: ref.DocType,
			ReferenceID:   ref.DocID,
			UserID:        ref.ActorID,
			Notes:         fmt.Sprintf("%s Deducted from batch %s", ref.Notes, orNA(d.BatchNo)),
		}); err != nil {
			return err
		}
	}
	return nil
}

// Deduct is the one-call form: plan and apply in a single serializable
// transaction.
func (e *Engine) Deduct(ctx context.Context, tenant shared.TenantID, key BatchKey, needed decimal.Decimal, ref Ref) ([]BatchDeduction, error) {
	if !tenant.Valid() {
		return nil, shared.ValidationError("tenant required")
	}
	var deductions []BatchDeduction
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		deductions, err = e.DeductStockFIFO(ctx, tx, tenant, key, needed)
		if err != nil {
			return err
		}
		return e.ApplyDeductions(ctx, tx, tenant, key, deductions, ref)
	})
	if err != nil {
		return nil, err
	}
	e.recordAudit(ctx, tenant, ref.ActorID, "inventory.deduct", key,
		fmt.Sprintf("Deducted %s across %d batch(es)", needed.String(), len(deductions)))
	return deductions, nil
}

// RestoreStock puts previously deducted quantities back. Each restoration
// targets its original batch by exact key and batch number; when that batch
// no longer exists a new one is created under a generated reversal number.
func (e *Engine) RestoreStock(ctx context.Context, tx TxRepository, tenant shared.TenantID, restorations []Restoration, ref Ref) error {
	for _, r := range restorations {
		if !r.Quantity.IsPositive() {
			return shared.ValidationError("restoration quantity must be positive")
		}
		batch, err := tx.FindBatchByNo(ctx, tenant, r.Key, r.BatchNo)
		switch {
		case err == nil:
			if err := tx.IncrementBatch(ctx, tenant, batch.ID, r.Quantity); err != nil {
				return err
			}
		case errors.Is(err, shared.ErrNotFound):
			reversalNo, numErr := e.nextReversalBatchNo(ctx, tx, tenant)
			if numErr != nil {
				return numErr
			}
			batch, err = tx.InsertBatch(ctx, tenant, Batch{
				ProductID:   r.Key.ProductID,
				Variant:     r.Key.Variant,
				WarehouseID: r.Key.WarehouseID,
				Quantity:    r.Quantity,
				BatchNo:     reversalNo,
			})
			if err != nil {
				return err
			}
		default:
			return err
		}
		if err := tx.InsertMovement(ctx, tenant, Movement{
			ProductID:     r.Key.ProductID,
			Variant:       r.Key.Variant,
			WarehouseID:   r.Key.WarehouseID,
			Type:          MovementTypeAdjustment,
			Quantity:      r.Quantity,
			ReferenceType: ref.DocType,
			ReferenceID:   ref.DocID,
			UserID:        ref.ActorID,
			Notes:         fmt.Sprintf("%s Restored to batch %s", ref.Notes, orNA(batch.BatchNo)),
		}); err != nil {
			return err
		}
	}
	return nil
}

// Restore is the one-call form of RestoreStock.
func (e *Engine) Restore(ctx context.Context, tenant shared.TenantID, restorations []Restoration, ref Ref) error {
	if !tenant.Valid() {
		return shared.ValidationError("tenant required")
	}
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return e.RestoreStock(ctx, tx, tenant, restorations, ref)
	})
	if err != nil {
		return err
	}
	if len(restorations) > 0 {
		e.recordAudit(ctx, tenant, ref.ActorID, "inventory.restore", restorations[0].Key,
			fmt.Sprintf("Restored %d line(s)", len(restorations)))
	}
	return nil
}

// ReceiveStock creates a batch on goods receipt with its movement record.
func (e *Engine) ReceiveStock(ctx context.Context, tenant shared.TenantID, in ReceiptInput) (Batch, error) {
	if !tenant.Valid() {
		return Batch{}, shared.ValidationError("tenant required")
	}
	if !in.Quantity.IsPositive() {
		return Batch{}, shared.ValidationError("receipt quantity must be positive")
	}
	var batch Batch
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		batch, err = tx.InsertBatch(ctx, tenant, Batch{
			ProductID:   in.Key.ProductID,
			Variant:     in.Key.Variant,
			WarehouseID: in.Key.WarehouseID,
			Quantity:    in.Quantity,
			BatchNo:     in.BatchNo,
			BinLocation: in.BinLocation,
		})
		if err != nil {
			return err
		}
		return tx.InsertMovement(ctx, tenant, Movement{
			ProductID:     in.Key.ProductID,
			Variant:       in.Key.Variant,
			WarehouseID:   in.Key.WarehouseID,
			Type:          MovementTypeReceipt,
			Quantity:      in.Quantity,
			ReferenceType: in.Ref.DocType,
			ReferenceID:   in.Ref.DocID,
			UserID:        in.Ref.ActorID,
			Notes:         in.Ref.Notes,
		})
	})
	if err != nil {
		return Batch{}, err
	}
	e.recordAudit(ctx, tenant, in.Ref.ActorID, "inventory.receive", in.Key,
		fmt.Sprintf("Received %s into batch %s", in.Quantity.String(), orNA(batch.BatchNo)))
	return batch, nil
}

// nextReversalBatchNo generates REVERSAL-YYYYMMDD-NNN scoped to the day.
func (e *Engine) nextReversalBatchNo(ctx context.Context, tx TxRepository, tenant shared.TenantID) (string, error) {
	prefix := fmt.Sprintf("REVERSAL-%s-", e.now().Format("20060102"))
	count, err := tx.CountBatchesWithPrefix(ctx, tenant, prefix)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%03d", prefix, count+1), nil
}

func orNA(batchNo string) string {
	if batchNo == "" {
		return "N/A"
	}
	return batchNo
}

func (e *Engine) recordAudit(ctx context.Context, tenant shared.TenantID, actorID int64, action string, key BatchKey, notes string) {
	if e.audit == nil {
		return
	}
	_ = e.audit.Record(ctx, shared.AuditLog{
		TenantID: tenant,
		ActorID:  actorID,
		Action:   action,
		Entity:   "inventory_batch",
		EntityID: fmt.Sprintf("%d:%d", key.ProductID, key.WarehouseID),
		Notes:    notes,
		At:       e.now(),
	})
}
