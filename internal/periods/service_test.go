package periods

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/caravel-erp/caravel-erp/internal/journal"
	"github.com/caravel-erp/caravel-erp/internal/ledger"
	"github.com/caravel-erp/caravel-erp/internal/shared"
)

const testTenant = shared.TenantID(1)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type memoryRepo struct {
	closes   []*Close
	nextID   int64
	debits   decimal.Decimal
	credits  decimal.Decimal
	activity []AccountActivity
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{debits: decimal.Zero, credits: decimal.Zero}
}

func (r *memoryRepo) LatestClosedCutoff(ctx context.Context, tenant shared.TenantID) (time.Time, bool, error) {
	var cutoff time.Time
	found := false
	for _, c := range r.closes {
		if c.Status == CloseStatusClosed && c.PeriodDate.After(cutoff) {
			cutoff = c.PeriodDate
			found = true
		}
	}
	return cutoff, found, nil
}

func (r *memoryRepo) FindClose(ctx context.Context, tenant shared.TenantID, periodDate time.Time) (Close, error) {
	for _, c := range r.closes {
		if c.PeriodDate.Equal(periodDate) {
			return *c, nil
		}
	}
	return Close{}, shared.NotFoundError("period close not found")
}

func (r *memoryRepo) InsertClose(ctx context.Context, tenant shared.TenantID, c Close) (Close, error) {
	r.nextID++
	c.ID = r.nextID
	c.TenantID = tenant
	stored := c
	r.closes = append(r.closes, &stored)
	return c, nil
}

func (r *memoryRepo) SetCloseStatus(ctx context.Context, tenant shared.TenantID, id int64, status CloseStatus) error {
	for _, c := range r.closes {
		if c.ID == id {
			c.Status = status
			return nil
		}
	}
	return shared.NotFoundError("period close not found")
}

func (r *memoryRepo) ListCloses(ctx context.Context, tenant shared.TenantID) ([]Close, error) {
	out := make([]Close, 0, len(r.closes))
	for _, c := range r.closes {
		out = append(out, *c)
	}
	return out, nil
}

func (r *memoryRepo) TrialBalanceTotals(ctx context.Context, tenant shared.TenantID, asOf time.Time) (decimal.Decimal, decimal.Decimal, error) {
	return r.debits, r.credits, nil
}

func (r *memoryRepo) PeriodActivity(ctx context.Context, tenant shared.TenantID, from, to time.Time) ([]AccountActivity, error) {
	return r.activity, nil
}

// recordingJournal captures the closing entry instead of persisting it.
type recordingJournal struct {
	created *journal.CreateInput
	posted  bool
	nextID  int64
}

func (j *recordingJournal) Create(ctx context.Context, tenant shared.TenantID, in journal.CreateInput) (journal.Entry, error) {
	var debits, credits decimal.Decimal
	for _, l := range in.Lines {
		debits = debits.Add(l.Debit)
		credits = credits.Add(l.Credit)
	}
	if !shared.WithinTolerance(debits, credits) {
		return journal.Entry{}, shared.ValidationError("entry is not balanced")
	}
	j.created = &in
	j.nextID++
	return journal.Entry{ID: j.nextID, Status: journal.StatusDraft}, nil
}

func (j *recordingJournal) Post(ctx context.Context, tenant shared.TenantID, id int64, actorID int64) (journal.Entry, error) {
	j.posted = true
	return journal.Entry{ID: id, Status: journal.StatusPosted}, nil
}

type stubLedger struct {
	retained ledger.AccountHead
	err      error
}

func (l stubLedger) GetByCode(ctx context.Context, tenant shared.TenantID, code string) (ledger.AccountHead, error) {
	if l.err != nil {
		return ledger.AccountHead{}, l.err
	}
	return l.retained, nil
}

func retainedEarnings() stubLedger {
	return stubLedger{retained: ledger.AccountHead{
		ID: 99, Code: RetainedEarningsCode, Type: ledger.AccountTypeEquity, IsSystem: true,
	}}
}

func lineFor(t *testing.T, in journal.CreateInput, accountID int64) journal.LineInput {
	t.Helper()
	for _, l := range in.Lines {
		if l.AccountID == accountID {
			return l
		}
	}
	t.Fatalf("no line for account %d", accountID)
	return journal.LineInput{}
}

func TestCloseMonthPostsClosingEntry(t *testing.T) {
	repo := newMemoryRepo()
	repo.activity = []AccountActivity{
		{AccountID: 10, Code: "4100", Type: ledger.AccountTypeRevenue, Credit: d("1000")},
		{AccountID: 20, Code: "5100", Type: ledger.AccountTypeExpense, Debit: d("600")},
	}
	jr := &recordingJournal{}
	svc := NewService(repo, jr, retainedEarnings(), nil)

	record, err := svc.CloseMonth(context.Background(), testTenant, 2026, time.June, 7)
	require.NoError(t, err)
	require.Equal(t, CloseStatusClosed, record.Status)
	require.True(t, record.NetProfit.Equal(d("400")))
	require.NotNil(t, record.ClosingEntryID)
	require.True(t, jr.posted)

	require.NotNil(t, jr.created)
	require.Equal(t, "PERIOD_CLOSE", jr.created.ReferenceType)
	require.Equal(t, time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC), jr.created.Date)
	require.Len(t, jr.created.Lines, 3)
	// Revenue debited away, expense credited away, profit lands in equity.
	require.True(t, lineFor(t, *jr.created, 10).Debit.Equal(d("1000")))
	require.True(t, lineFor(t, *jr.created, 20).Credit.Equal(d("600")))
	require.True(t, lineFor(t, *jr.created, 99).Credit.Equal(d("400")))
}

func TestCloseMonthNetLossDebitsRetainedEarnings(t *testing.T) {
	repo := newMemoryRepo()
	repo.activity = []AccountActivity{
		{AccountID: 10, Code: "4100", Type: ledger.AccountTypeRevenue, Credit: d("300")},
		{AccountID: 20, Code: "5100", Type: ledger.AccountTypeExpense, Debit: d("450")},
	}
	jr := &recordingJournal{}
	svc := NewService(repo, jr, retainedEarnings(), nil)

	record, err := svc.CloseMonth(context.Background(), testTenant, 2026, time.June, 7)
	require.NoError(t, err)
	require.True(t, record.NetProfit.Equal(d("-150")))
	require.True(t, lineFor(t, *jr.created, 99).Debit.Equal(d("150")))
}

func TestCloseMonthWithoutActivitySkipsEntry(t *testing.T) {
	repo := newMemoryRepo()
	jr := &recordingJournal{}
	svc := NewService(repo, jr, retainedEarnings(), nil)

	record, err := svc.CloseMonth(context.Background(), testTenant, 2026, time.June, 7)
	require.NoError(t, err)
	require.Nil(t, record.ClosingEntryID)
	require.Nil(t, jr.created)
	require.True(t, record.NetProfit.IsZero())
}

func TestCloseMonthRejectsUnbalancedTrialBalance(t *testing.T) {
	repo := newMemoryRepo()
	repo.debits = d("1000")
	repo.credits = d("999")
	svc := NewService(repo, &recordingJournal{}, retainedEarnings(), nil)

	_, err := svc.CloseMonth(context.Background(), testTenant, 2026, time.June, 7)
	require.Error(t, err)
	require.Equal(t, shared.KindState, shared.KindOf(err))
}

func TestCloseMonthTwiceFails(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, &recordingJournal{}, retainedEarnings(), nil)
	ctx := context.Background()

	_, err := svc.CloseMonth(ctx, testTenant, 2026, time.June, 7)
	require.NoError(t, err)

	_, err = svc.CloseMonth(ctx, testTenant, 2026, time.June, 7)
	require.Error(t, err)
	require.Equal(t, shared.KindState, shared.KindOf(err))
}

func TestCloseMonthRequiresRetainedEarnings(t *testing.T) {
	repo := newMemoryRepo()
	repo.activity = []AccountActivity{
		{AccountID: 10, Code: "4100", Type: ledger.AccountTypeRevenue, Credit: d("100")},
	}
	svc := NewService(repo, &recordingJournal{},
		stubLedger{err: shared.NotFoundError("account not found")}, nil)

	_, err := svc.CloseMonth(context.Background(), testTenant, 2026, time.June, 7)
	require.Error(t, err)
	require.Equal(t, shared.KindState, shared.KindOf(err))
}

func TestReopenLiftsLock(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, &recordingJournal{}, retainedEarnings(), nil)
	guard := NewGuard(repo)
	ctx := context.Background()
	inJune := time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC)

	_, err := svc.CloseMonth(ctx, testTenant, 2026, time.June, 7)
	require.NoError(t, err)

	err = guard.AssertOpen(ctx, testTenant, inJune)
	require.Error(t, err)
	require.Equal(t, shared.KindPeriodLocked, shared.KindOf(err))

	require.NoError(t, svc.Reopen(ctx, testTenant, 2026, time.June, 7))
	require.NoError(t, guard.AssertOpen(ctx, testTenant, inJune))

	// Reopening twice is a state error.
	err = svc.Reopen(ctx, testTenant, 2026, time.June, 7)
	require.Error(t, err)
	require.Equal(t, shared.KindState, shared.KindOf(err))
}

func TestGuardCutoffBoundary(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, &recordingJournal{}, retainedEarnings(), nil)
	guard := NewGuard(repo)
	ctx := context.Background()

	_, err := svc.CloseMonth(ctx, testTenant, 2026, time.June, 7)
	require.NoError(t, err)

	// The cutoff day itself is locked, the next day is open.
	err = guard.AssertOpen(ctx, testTenant, time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC))
	require.Equal(t, shared.KindPeriodLocked, shared.KindOf(err))
	require.NoError(t, guard.AssertOpen(ctx, testTenant, time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)))
}

func TestGuardNoClosesOpen(t *testing.T) {
	guard := NewGuard(newMemoryRepo())
	require.NoError(t, guard.AssertOpen(context.Background(), testTenant,
		time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)))
}
