package payments

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/caravel-erp/caravel-erp/internal/shared"
)

const testTenant = shared.TenantID(1)

type memoryRepo struct {
	invoices    map[uuid.UUID]*Invoice
	allocations []Allocation
	balances    map[int64]decimal.Decimal
	promises    []*Promise
	nextAllocID int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		invoices: make(map[uuid.UUID]*Invoice),
		balances: make(map[int64]decimal.Decimal),
	}
}

func (r *memoryRepo) addInvoice(clientID int64, number, total, paid string, status InvoiceStatus, invoiceDate time.Time) uuid.UUID {
	id := uuid.New()
	r.invoices[id] = &Invoice{
		ID:            id,
		TenantID:      testTenant,
		ClientID:      clientID,
		InvoiceNumber: number,
		Total:         decimal.RequireFromString(total),
		PaidAmount:    decimal.RequireFromString(paid),
		Status:        status,
		InvoiceDate:   invoiceDate,
		DueDate:       invoiceDate.AddDate(0, 1, 0),
	}
	return id
}

func (r *memoryRepo) addPromise(clientID int64, amount string, promiseDate time.Time) int64 {
	id := int64(len(r.promises) + 1)
	r.promises = append(r.promises, &Promise{
		ID:            id,
		TenantID:      testTenant,
		ClientID:      clientID,
		PromiseDate:   promiseDate,
		PromiseAmount: decimal.RequireFromString(amount),
		Status:        PromiseStatusPending,
	})
	return id
}

func (r *memoryRepo) outstanding(clientID int64) []Invoice {
	var out []Invoice
	for _, inv := range r.invoices {
		if inv.ClientID != clientID {
			continue
		}
		switch inv.Status {
		case InvoiceStatusPending, InvoiceStatusPartial, InvoiceStatusOverdue:
			out = append(out, *inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InvoiceDate.Before(out[j].InvoiceDate) })
	return out
}

func (r *memoryRepo) OutstandingInvoices(ctx context.Context, tenant shared.TenantID, clientID int64) ([]Invoice, error) {
	return r.outstanding(clientID), nil
}

func (r *memoryRepo) AllocationsForPayment(ctx context.Context, tenant shared.TenantID, paymentID uuid.UUID) ([]Allocation, error) {
	var out []Allocation
	for _, a := range r.allocations {
		if a.PaymentID == paymentID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memoryRepo) AllocationsForInvoice(ctx context.Context, tenant shared.TenantID, invoiceID uuid.UUID) ([]Allocation, error) {
	var out []Allocation
	for _, a := range r.allocations {
		if a.InvoiceID == invoiceID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

type memoryTx struct {
	repo *memoryRepo
}

func (tx *memoryTx) OutstandingInvoicesForUpdate(ctx context.Context, tenant shared.TenantID, clientID int64) ([]Invoice, error) {
	return tx.repo.outstanding(clientID), nil
}

func (tx *memoryTx) InsertAllocation(ctx context.Context, tenant shared.TenantID, a Allocation) (Allocation, error) {
	tx.repo.nextAllocID++
	a.ID = tx.repo.nextAllocID
	a.TenantID = tenant
	a.CreatedAt = time.Now()
	tx.repo.allocations = append(tx.repo.allocations, a)
	return a, nil
}

func (tx *memoryTx) UpdateInvoicePayment(ctx context.Context, tenant shared.TenantID, invoiceID uuid.UUID, paid decimal.Decimal, status InvoiceStatus) error {
	inv, ok := tx.repo.invoices[invoiceID]
	if !ok {
		return shared.NotFoundError("invoice not found")
	}
	inv.PaidAmount = paid
	inv.Status = status
	return nil
}

func (tx *memoryTx) ClientBalanceForUpdate(ctx context.Context, tenant shared.TenantID, clientID int64) (decimal.Decimal, error) {
	return tx.repo.balances[clientID], nil
}

func (tx *memoryTx) SetClientBalance(ctx context.Context, tenant shared.TenantID, clientID int64, balance decimal.Decimal) error {
	tx.repo.balances[clientID] = balance
	return nil
}

func (tx *memoryTx) PendingPromisesForUpdate(ctx context.Context, tenant shared.TenantID, clientID int64) ([]Promise, error) {
	var out []Promise
	for _, p := range tx.repo.promises {
		if p.ClientID == clientID && p.Status == PromiseStatusPending {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PromiseDate.Before(out[j].PromiseDate) })
	return out, nil
}

func (tx *memoryTx) SettlePromise(ctx context.Context, tenant shared.TenantID, promiseID int64, status PromiseStatus, actualDate time.Time, actualAmount decimal.Decimal) error {
	for _, p := range tx.repo.promises {
		if p.ID == promiseID {
			p.Status = status
			p.ActualDate = &actualDate
			p.ActualAmount = &actualAmount
			return nil
		}
	}
	return shared.NotFoundError("promise not found")
}

type recordingEvents struct {
	events []PromiseMatchRequested
	err    error
}

func (e *recordingEvents) PromiseMatchRequested(ctx context.Context, evt PromiseMatchRequested) error {
	if e.err != nil {
		return e.err
	}
	e.events = append(e.events, evt)
	return nil
}

func allocInput(clientID int64, amount string) AllocationInput {
	return AllocationInput{
		PaymentID: uuid.New(),
		ClientID:  clientID,
		Amount:    decimal.RequireFromString(amount),
		Date:      time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC),
		ActorID:   3,
	}
}

func TestAllocateSettlesOldestInvoiceFirst(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	base := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	first := repo.addInvoice(10, "INV-001", "500", "0", InvoiceStatusPending, base)
	second := repo.addInvoice(10, "INV-002", "800", "0", InvoiceStatusPending, base.AddDate(0, 0, 10))
	repo.balances[10] = decimal.RequireFromString("1300")

	result, err := svc.AllocateToInvoices(ctx, testTenant, allocInput(10, "1000"))
	require.NoError(t, err)

	require.True(t, result.TotalAllocated.Equal(decimal.RequireFromString("1000")))
	require.True(t, result.Overpayment.IsZero())
	require.Len(t, result.Allocations, 2)
	require.Equal(t, "INV-001", result.Allocations[0].InvoiceNumber)
	require.True(t, result.Allocations[0].Amount.Equal(decimal.RequireFromString("500")))
	require.True(t, result.Allocations[1].Amount.Equal(decimal.RequireFromString("500")))

	require.Equal(t, InvoiceStatusPaid, repo.invoices[first].Status)
	require.Equal(t, InvoiceStatusPartial, repo.invoices[second].Status)
	require.True(t, repo.invoices[second].PaidAmount.Equal(decimal.RequireFromString("500")))

	require.True(t, repo.balances[10].Equal(decimal.RequireFromString("300")))
}

func TestAllocateOverpaymentWithNoInvoices(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil)

	result, err := svc.AllocateToInvoices(context.Background(), testTenant, allocInput(10, "250"))
	require.NoError(t, err)
	require.True(t, result.TotalAllocated.IsZero())
	require.True(t, result.Overpayment.Equal(decimal.RequireFromString("250")))
	require.Empty(t, result.Allocations)
}

func TestAllocateRejectsNonPositiveAmount(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil)

	_, err := svc.AllocateToInvoices(context.Background(), testTenant, allocInput(10, "0"))
	require.Error(t, err)
	require.Equal(t, shared.KindValidation, shared.KindOf(err))
}

type lockedGuard struct{}

func (lockedGuard) AssertOpen(ctx context.Context, tenant shared.TenantID, date time.Time) error {
	return shared.PeriodLockedError("period containing %s is closed", date.Format("2006-01-02"))
}

func TestAllocateBlockedByPeriodLock(t *testing.T) {
	repo := newMemoryRepo()
	repo.addInvoice(10, "INV-001", "500", "0", InvoiceStatusPending, time.Now())
	svc := NewService(repo, nil, lockedGuard{}, nil, nil)

	_, err := svc.AllocateToInvoices(context.Background(), testTenant, allocInput(10, "100"))
	require.Error(t, err)
	require.Equal(t, shared.KindPeriodLocked, shared.KindOf(err))
	require.Empty(t, repo.allocations)
}

func TestAllocateEmitsPromiseMatchEvent(t *testing.T) {
	repo := newMemoryRepo()
	events := &recordingEvents{}
	svc := NewService(repo, nil, nil, events, nil)

	in := allocInput(10, "150")
	_, err := svc.AllocateToInvoices(context.Background(), testTenant, in)
	require.NoError(t, err)

	require.Len(t, events.events, 1)
	require.Equal(t, in.PaymentID, events.events[0].PaymentID)
	require.Equal(t, int64(10), events.events[0].ClientID)
	require.True(t, events.events[0].Amount.Equal(in.Amount))
}

func TestAllocateSurvivesEventFailure(t *testing.T) {
	repo := newMemoryRepo()
	repo.addInvoice(10, "INV-001", "500", "0", InvoiceStatusPending, time.Now().AddDate(0, 0, -5))
	events := &recordingEvents{err: context.DeadlineExceeded}
	svc := NewService(repo, nil, nil, events, nil)

	result, err := svc.AllocateToInvoices(context.Background(), testTenant, allocInput(10, "500"))
	require.NoError(t, err)
	require.True(t, result.TotalAllocated.Equal(decimal.RequireFromString("500")))
	require.Len(t, repo.allocations, 1)
}

func TestClientBalanceClampsAtZero(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	repo.balances[10] = decimal.RequireFromString("5000")
	balance, err := svc.UpdateClientBalance(ctx, testTenant, 10, decimal.RequireFromString("6000"))
	require.NoError(t, err)
	require.True(t, balance.IsZero())
	require.True(t, repo.balances[10].IsZero())

	repo.balances[11] = decimal.RequireFromString("5000")
	balance, err = svc.UpdateClientBalance(ctx, testTenant, 11, decimal.RequireFromString("2000"))
	require.NoError(t, err)
	require.True(t, balance.Equal(decimal.RequireFromString("3000")))
}

func TestMatchPromisesOldestFirst(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	oldest := repo.addPromise(10, "300", base)
	middle := repo.addPromise(10, "400", base.AddDate(0, 0, 7))
	newest := repo.addPromise(10, "500", base.AddDate(0, 0, 14))

	result, err := svc.MatchPromises(ctx, testTenant, 10, decimal.RequireFromString("600"), base.AddDate(0, 1, 0))
	require.NoError(t, err)

	require.Len(t, result.Matched, 2)
	require.Equal(t, oldest, result.Matched[0].PromiseID)
	require.Equal(t, PromiseStatusFulfilled, result.Matched[0].Status)
	require.Equal(t, middle, result.Matched[1].PromiseID)
	require.Equal(t, PromiseStatusPartial, result.Matched[1].Status)
	require.True(t, result.Matched[1].MatchedAmount.Equal(decimal.RequireFromString("300")))
	require.True(t, result.Remaining.IsZero())

	require.Equal(t, PromiseStatusPending, repo.promises[newest-1].Status)
}

func TestMatchPromisesRemainderSurvives(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil)

	repo.addPromise(10, "100", time.Now())

	result, err := svc.MatchPromises(context.Background(), testTenant, 10, decimal.RequireFromString("250"), time.Now())
	require.NoError(t, err)
	require.Len(t, result.Matched, 1)
	require.True(t, result.Remaining.Equal(decimal.RequireFromString("150")))
}

func TestStatusFor(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	total := decimal.RequireFromString("100")

	require.Equal(t, InvoiceStatusPaid, StatusFor(total, decimal.RequireFromString("100"), now.AddDate(0, 0, 5), now))
	require.Equal(t, InvoiceStatusPaid, StatusFor(total, decimal.RequireFromString("120"), now.AddDate(0, 0, 5), now))
	require.Equal(t, InvoiceStatusPartial, StatusFor(total, decimal.RequireFromString("40"), now.AddDate(0, 0, 5), now))
	require.Equal(t, InvoiceStatusOverdue, StatusFor(total, decimal.Zero, now.AddDate(0, 0, -1), now))
	require.Equal(t, InvoiceStatusPending, StatusFor(total, decimal.Zero, now.AddDate(0, 0, 5), now))
}
