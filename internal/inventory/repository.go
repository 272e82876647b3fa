package inventory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/caravel-erp/caravel-erp/internal/platform/db"
	"github.com/caravel-erp/caravel-erp/internal/shared"
)

// Repository defines data access for inventory batches and movements.
type Repository interface {
	AvailableQuantity(ctx context.Context, tenant shared.TenantID, key BatchKey) (decimal.Decimal, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes batch mutations inside one serializable transaction.
// The availability read and the dependent decrement must share it.
type TxRepository interface {
	BatchesForUpdate(ctx context.Context, tenant shared.TenantID, key BatchKey) ([]Batch, error)
	DecrementBatch(ctx context.Context, tenant shared.TenantID, batchID int64, qty decimal.Decimal) error
	FindBatchByNo(ctx context.Context, tenant shared.TenantID, key BatchKey, batchNo string) (Batch, error)
	IncrementBatch(ctx context.Context, tenant shared.TenantID, batchID int64, qty decimal.Decimal) error
	InsertBatch(ctx context.Context, tenant shared.TenantID, batch Batch) (Batch, error)
	InsertMovement(ctx context.Context, tenant shared.TenantID, m Movement) error
	CountBatchesWithPrefix(ctx context.Context, tenant shared.TenantID, prefix string) (int, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds the pgx-backed inventory repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) AvailableQuantity(ctx context.Context, tenant shared.TenantID, key BatchKey) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(quantity), 0) FROM inventory_batches
WHERE tenant_id=$1 AND product_id=$2 AND warehouse_id=$3 AND variant_id IS NOT DISTINCT FROM $4 AND quantity > 0`,
		int64(tenant), key.ProductID, key.WarehouseID, key.Variant.Ptr()).Scan(&total)
	return total, err
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithSerializableTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

type txRepository struct {
	tx pgx.Tx
}

const batchColumns = `id, tenant_id, product_id, variant_id, warehouse_id, quantity, batch_no, bin_location, created_at`

func scanBatch(row pgx.Row) (Batch, error) {
	var b Batch
	var variantID *int64
	err := row.Scan(&b.ID, &b.TenantID, &b.ProductID, &variantID, &b.WarehouseID,
		&b.Quantity, &b.BatchNo, &b.BinLocation, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Batch{}, shared.ErrNotFound
		}
		return Batch{}, err
	}
	if variantID != nil {
		b.Variant = VariantOf(*variantID)
	}
	return b, nil
}

// BatchesForUpdate loads all batches with stock for the key, oldest first,
// locking the rows for the remainder of the transaction.
func (r *txRepository) BatchesForUpdate(ctx context.Context, tenant shared.TenantID, key BatchKey) ([]Batch, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+batchColumns+` FROM inventory_batches
WHERE tenant_id=$1 AND product_id=$2 AND warehouse_id=$3 AND variant_id IS NOT DISTINCT FROM $4 AND quantity > 0
ORDER BY created_at ASC, id ASC
FOR UPDATE`, int64(tenant), key.ProductID, key.WarehouseID, key.Variant.Ptr())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var batches []Batch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	return batches, rows.Err()
}

// DecrementBatch takes qty from the batch. The predicate refuses to push the
// quantity below zero; a zero row count surfaces as a state error rather than
// negative stock.
func (r *txRepository) DecrementBatch(ctx context.Context, tenant shared.TenantID, batchID int64, qty decimal.Decimal) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE inventory_batches SET quantity = quantity - $3
WHERE tenant_id=$1 AND id=$2 AND quantity >= $3`, int64(tenant), batchID, qty)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.StateError("batch %d no longer holds %s units", batchID, qty.String())
	}
	return nil
}

func (r *txRepository) FindBatchByNo(ctx context.Context, tenant shared.TenantID, key BatchKey, batchNo string) (Batch, error) {
	return scanBatch(r.tx.QueryRow(ctx, `SELECT `+batchColumns+` FROM inventory_batches
WHERE tenant_id=$1 AND product_id=$2 AND warehouse_id=$3 AND variant_id IS NOT DISTINCT FROM $4 AND batch_no=$5
ORDER BY created_at ASC LIMIT 1
FOR UPDATE`, int64(tenant), key.ProductID, key.WarehouseID, key.Variant.Ptr(), batchNo))
}

func (r *txRepository) IncrementBatch(ctx context.Context, tenant shared.TenantID, batchID int64, qty decimal.Decimal) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE inventory_batches SET quantity = quantity + $3
WHERE tenant_id=$1 AND id=$2`, int64(tenant), batchID, qty)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.NotFoundError("batch %d not found", batchID)
	}
	return nil
}

func (r *txRepository) InsertBatch(ctx context.Context, tenant shared.TenantID, batch Batch) (Batch, error) {
	return scanBatch(r.tx.QueryRow(ctx, `INSERT INTO inventory_batches
(tenant_id, product_id, variant_id, warehouse_id, quantity, batch_no, bin_location)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING `+batchColumns,
		int64(tenant), batch.ProductID, batch.Variant.Ptr(), batch.WarehouseID,
		batch.Quantity, batch.BatchNo, batch.BinLocation))
}

func (r *txRepository) InsertMovement(ctx context.Context, tenant shared.TenantID, m Movement) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_movements
(tenant_id, product_id, variant_id, warehouse_id, movement_type, quantity, reference_type, reference_id, user_id, notes)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		int64(tenant), m.ProductID, m.Variant.Ptr(), m.WarehouseID, m.Type,
		m.Quantity, m.ReferenceType, m.ReferenceID, m.UserID, m.Notes)
	return err
}

func (r *txRepository) CountBatchesWithPrefix(ctx context.Context, tenant shared.TenantID, prefix string) (int, error) {
	var count int
	err := r.tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM inventory_batches WHERE tenant_id=$1 AND batch_no LIKE $2`,
		int64(tenant), prefix+"%").Scan(&count)
	return count, err
}
