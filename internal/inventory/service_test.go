package inventory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/caravel-erp/caravel-erp/internal/shared"
)

const testTenant = shared.TenantID(1)

type memoryRepo struct {
	batches   []*Batch
	movements []Movement
	nextID    int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{}
}

func (r *memoryRepo) addBatch(key BatchKey, qty string, batchNo string, createdAt time.Time) *Batch {
	r.nextID++
	b := &Batch{
		ID:          r.nextID,
		TenantID:    testTenant,
		ProductID:   key.ProductID,
		Variant:     key.Variant,
		WarehouseID: key.WarehouseID,
		Quantity:    decimal.RequireFromString(qty),
		BatchNo:     batchNo,
		CreatedAt:   createdAt,
	}
	r.batches = append(r.batches, b)
	return b
}

func (r *memoryRepo) matches(b *Batch, key BatchKey) bool {
	if b.ProductID != key.ProductID || b.WarehouseID != key.WarehouseID {
		return false
	}
	wantID, wantSet := key.Variant.ID()
	haveID, haveSet := b.Variant.ID()
	return wantSet == haveSet && wantID == haveID
}

func (r *memoryRepo) AvailableQuantity(ctx context.Context, tenant shared.TenantID, key BatchKey) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, b := range r.batches {
		if r.matches(b, key) && b.Quantity.IsPositive() {
			total = total.Add(b.Quantity)
		}
	}
	return total, nil
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

type memoryTx struct {
	repo *memoryRepo
}

func (tx *memoryTx) BatchesForUpdate(ctx context.Context, tenant shared.TenantID, key BatchKey) ([]Batch, error) {
	var out []Batch
	for _, b := range tx.repo.batches {
		if tx.repo.matches(b, key) && b.Quantity.IsPositive() {
			out = append(out, *b)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].CreatedAt.Before(out[j-1].CreatedAt); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out, nil
}

func (tx *memoryTx) DecrementBatch(ctx context.Context, tenant shared.TenantID, batchID int64, qty decimal.Decimal) error {
	for _, b := range tx.repo.batches {
		if b.ID == batchID {
			if b.Quantity.Cmp(qty) < 0 {
				return shared.StateError("batch %d no longer holds %s units", batchID, qty.String())
			}
			b.Quantity = b.Quantity.Sub(qty)
			return nil
		}
	}
	return shared.StateError("batch %d no longer holds %s units", batchID, qty.String())
}

func (tx *memoryTx) FindBatchByNo(ctx context.Context, tenant shared.TenantID, key BatchKey, batchNo string) (Batch, error) {
	for _, b := range tx.repo.batches {
		if tx.repo.matches(b, key) && b.BatchNo == batchNo {
			return *b, nil
		}
	}
	return Batch{}, shared.ErrNotFound
}

func (tx *memoryTx) IncrementBatch(ctx context.Context, tenant shared.TenantID, batchID int64, qty decimal.Decimal) error {
	for _, b := range tx.repo.batches {
		if b.ID == batchID {
			b.Quantity = b.Quantity.Add(qty)
			return nil
		}
	}
	return shared.NotFoundError("batch %d not found", batchID)
}

func (tx *memoryTx) InsertBatch(ctx context.Context, tenant shared.TenantID, batch Batch) (Batch, error) {
	tx.repo.nextID++
	batch.ID = tx.repo.nextID
	batch.TenantID = tenant
	batch.CreatedAt = time.Now()
	stored := batch
	tx.repo.batches = append(tx.repo.batches, &stored)
	return batch, nil
}

func (tx *memoryTx) InsertMovement(ctx context.Context, tenant shared.TenantID, m Movement) error {
	m.TenantID = tenant
	tx.repo.movements = append(tx.repo.movements, m)
	return nil
}

func (tx *memoryTx) CountBatchesWithPrefix(ctx context.Context, tenant shared.TenantID, prefix string) (int, error) {
	count := 0
	for _, b := range tx.repo.batches {
		if len(b.BatchNo) >= len(prefix) && b.BatchNo[:len(prefix)] == prefix {
			count++
		}
	}
	return count, nil
}

func testKey() BatchKey {
	return BatchKey{ProductID: 7, WarehouseID: 2, Variant: NoVariant()}
}

func testRef() Ref {
	return Ref{Type: MovementTypeSale, DocType: "INVOICE", DocID: uuid.New(), ActorID: 9}
}

func TestDeductWalksOldestBatchesFirst(t *testing.T) {
	repo := newMemoryRepo()
	engine := NewEngine(repo, nil)
	ctx := context.Background()
	key := testKey()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	repo.addBatch(key, "30", "B-001", base)
	repo.addBatch(key, "20", "B-002", base.Add(24*time.Hour))

	deductions, err := engine.Deduct(ctx, testTenant, key, decimal.NewFromInt(40), testRef())
	require.NoError(t, err)
	require.Len(t, deductions, 2)
	require.Equal(t, "B-001", deductions[0].BatchNo)
	require.True(t, deductions[0].Quantity.Equal(decimal.NewFromInt(30)))
	require.Equal(t, "B-002", deductions[1].BatchNo)
	require.True(t, deductions[1].Quantity.Equal(decimal.NewFromInt(10)))

	available, err := engine.GetAvailableQuantity(ctx, testTenant, key)
	require.NoError(t, err)
	require.True(t, available.Equal(decimal.NewFromInt(10)))

	require.Len(t, repo.movements, 2)
	for _, m := range repo.movements {
		require.True(t, m.Quantity.IsNegative())
		require.Equal(t, MovementTypeSale, m.Type)
	}
}

func TestDeductInsufficientStockLeavesBatchesUntouched(t *testing.T) {
	repo := newMemoryRepo()
	engine := NewEngine(repo, nil)
	ctx := context.Background()
	key := testKey()

	repo.addBatch(key, "30", "B-001", time.Now())

	_, err := engine.Deduct(ctx, testTenant, key, decimal.NewFromInt(50), testRef())
	require.Error(t, err)
	require.Equal(t, shared.KindState, shared.KindOf(err))

	available, err := engine.GetAvailableQuantity(ctx, testTenant, key)
	require.NoError(t, err)
	require.True(t, available.Equal(decimal.NewFromInt(30)))
	require.Empty(t, repo.movements)
}

func TestDeductRejectsNonPositiveQuantity(t *testing.T) {
	repo := newMemoryRepo()
	engine := NewEngine(repo, nil)

	_, err := engine.Deduct(context.Background(), testTenant, testKey(), decimal.Zero, testRef())
	require.Error(t, err)
	require.Equal(t, shared.KindValidation, shared.KindOf(err))
}

func TestDeductNoStock(t *testing.T) {
	repo := newMemoryRepo()
	engine := NewEngine(repo, nil)

	_, err := engine.Deduct(context.Background(), testTenant, testKey(), decimal.NewFromInt(1), testRef())
	require.Error(t, err)
	require.Equal(t, shared.KindState, shared.KindOf(err))
}

func TestVariantScopedAvailability(t *testing.T) {
	repo := newMemoryRepo()
	engine := NewEngine(repo, nil)
	ctx := context.Background()

	plain := testKey()
	variant := BatchKey{ProductID: plain.ProductID, WarehouseID: plain.WarehouseID, Variant: VariantOf(42)}
	repo.addBatch(plain, "5", "B-001", time.Now())
	repo.addBatch(variant, "8", "B-002", time.Now())

	got, err := engine.GetAvailableQuantity(ctx, testTenant, plain)
	require.NoError(t, err)
	require.True(t, got.Equal(decimal.NewFromInt(5)))

	got, err = engine.GetAvailableQuantity(ctx, testTenant, variant)
	require.NoError(t, err)
	require.True(t, got.Equal(decimal.NewFromInt(8)))
}

func TestPlanDoesNotMutate(t *testing.T) {
	repo := newMemoryRepo()
	engine := NewEngine(repo, nil)
	ctx := context.Background()
	key := testKey()
	repo.addBatch(key, "30", "B-001", time.Now())

	err := repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		deductions, err := engine.DeductStockFIFO(ctx, tx, testTenant, key, decimal.NewFromInt(10))
		require.NoError(t, err)
		require.Len(t, deductions, 1)
		return nil
	})
	require.NoError(t, err)

	available, err := engine.GetAvailableQuantity(ctx, testTenant, key)
	require.NoError(t, err)
	require.True(t, available.Equal(decimal.NewFromInt(30)))
	require.Empty(t, repo.movements)
}

func TestRestoreIncrementsOriginalBatch(t *testing.T) {
	repo := newMemoryRepo()
	engine := NewEngine(repo, nil)
	ctx := context.Background()
	key := testKey()
	repo.addBatch(key, "10", "B-001", time.Now())

	err := engine.Restore(ctx, testTenant, []Restoration{
		{Key: key, BatchNo: "B-001", Quantity: decimal.NewFromInt(4)},
	}, Ref{Type: MovementTypeAdjustment, DocType: "SALES_RETURN", DocID: uuid.New()})
	require.NoError(t, err)

	available, err := engine.GetAvailableQuantity(ctx, testTenant, key)
	require.NoError(t, err)
	require.True(t, available.Equal(decimal.NewFromInt(14)))

	require.Len(t, repo.movements, 1)
	require.Equal(t, MovementTypeAdjustment, repo.movements[0].Type)
	require.True(t, repo.movements[0].Quantity.Equal(decimal.NewFromInt(4)))
}

func TestRestoreCreatesReversalBatchWhenOriginalGone(t *testing.T) {
	repo := newMemoryRepo()
	engine := NewEngine(repo, nil)
	engine.WithNow(func() time.Time { return time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC) })
	ctx := context.Background()
	key := testKey()

	err := engine.Restore(ctx, testTenant, []Restoration{
		{Key: key, BatchNo: "GONE-001", Quantity: decimal.NewFromInt(6)},
	}, Ref{Type: MovementTypeAdjustment, DocType: "SALES_RETURN", DocID: uuid.New()})
	require.NoError(t, err)

	require.Len(t, repo.batches, 1)
	require.Equal(t, "REVERSAL-20260315-001", repo.batches[0].BatchNo)
	require.True(t, repo.batches[0].Quantity.Equal(decimal.NewFromInt(6)))

	// A second orphaned restoration the same day gets the next number.
	err = engine.Restore(ctx, testTenant, []Restoration{
		{Key: key, BatchNo: "GONE-002", Quantity: decimal.NewFromInt(2)},
	}, Ref{Type: MovementTypeAdjustment, DocType: "SALES_RETURN", DocID: uuid.New()})
	require.NoError(t, err)
	require.Equal(t, "REVERSAL-20260315-002", repo.batches[1].BatchNo)
}

func TestRestoreRejectsNonPositiveQuantity(t *testing.T) {
	repo := newMemoryRepo()
	engine := NewEngine(repo, nil)

	err := engine.Restore(context.Background(), testTenant, []Restoration{
		{Key: testKey(), BatchNo: "B-001", Quantity: decimal.Zero},
	}, Ref{Type: MovementTypeAdjustment, DocType: "SALES_RETURN", DocID: uuid.New()})
	require.Error(t, err)
	require.Equal(t, shared.KindValidation, shared.KindOf(err))
}

func TestReceiveStock(t *testing.T) {
	repo := newMemoryRepo()
	engine := NewEngine(repo, nil)
	ctx := context.Background()
	key := testKey()

	batch, err := engine.ReceiveStock(ctx, testTenant, ReceiptInput{
		Key:      key,
		Quantity: decimal.NewFromInt(25),
		BatchNo:  "GRN-1001",
		Ref:      Ref{Type: MovementTypeReceipt, DocType: "PURCHASE_ORDER", DocID: uuid.New()},
	})
	require.NoError(t, err)
	require.Equal(t, "GRN-1001", batch.BatchNo)

	available, err := engine.GetAvailableQuantity(ctx, testTenant, key)
	require.NoError(t, err)
	require.True(t, available.Equal(decimal.NewFromInt(25)))
	require.Len(t, repo.movements, 1)
	require.Equal(t, MovementTypeReceipt, repo.movements[0].Type)
}

func TestCheckStockAvailability(t *testing.T) {
	repo := newMemoryRepo()
	engine := NewEngine(repo, nil)
	ctx := context.Background()
	key := testKey()
	repo.addBatch(key, "12", "B-001", time.Now())

	for _, tc := range []struct {
		needed string
		want   bool
	}{
		{"12", true},
		{"11.5", true},
		{"12.0001", false},
	} {
		ok, err := engine.CheckStockAvailability(ctx, testTenant, key, decimal.RequireFromString(tc.needed))
		require.NoError(t, err, fmt.Sprintf("needed %s", tc.needed))
		require.Equal(t, tc.want, ok)
	}
}
