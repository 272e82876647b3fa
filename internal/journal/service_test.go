package journal

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/caravel-erp/caravel-erp/internal/ledger"
	"github.com/caravel-erp/caravel-erp/internal/shared"
)

const testTenant = shared.TenantID(1)

type memoryRepo struct {
	entries     map[int64]*Entry
	lines       map[int64][]Line
	accounts    map[int64]*ledger.AccountHead
	nextEntryID int64
	nextLineID  int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		entries:  make(map[int64]*Entry),
		lines:    make(map[int64][]Line),
		accounts: make(map[int64]*ledger.AccountHead),
	}
}

func (r *memoryRepo) addAccount(id int64, code string, typ ledger.AccountType, balance string) {
	r.accounts[id] = &ledger.AccountHead{
		ID:             id,
		TenantID:       testTenant,
		Code:           code,
		Type:           typ,
		CurrentBalance: decimal.RequireFromString(balance),
	}
}

func (r *memoryRepo) entryWithLines(id int64) (Entry, error) {
	e, ok := r.entries[id]
	if !ok {
		return Entry{}, shared.NotFoundError("journal entry %d not found", id)
	}
	out := *e
	out.Lines = append([]Line(nil), r.lines[id]...)
	return out, nil
}

func (r *memoryRepo) GetByID(ctx context.Context, tenant shared.TenantID, id int64) (Entry, error) {
	return r.entryWithLines(id)
}

func (r *memoryRepo) List(ctx context.Context, tenant shared.TenantID, filter ListFilter) ([]Entry, int, error) {
	var out []Entry
	for id := range r.entries {
		e, _ := r.entryWithLines(id)
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		out = append(out, e)
	}
	return out, len(out), nil
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

type memoryTx struct {
	repo *memoryRepo
}

func (tx *memoryTx) NextEntryNumber(ctx context.Context, tenant shared.TenantID, date time.Time) (string, error) {
	prefix := "JE-" + date.Format("20060102") + "-"
	count := 0
	for _, e := range tx.repo.entries {
		if len(e.EntryNumber) >= len(prefix) && e.EntryNumber[:len(prefix)] == prefix {
			count++
		}
	}
	return fmt.Sprintf("%s%03d", prefix, count+1), nil
}

func (tx *memoryTx) InsertEntry(ctx context.Context, tenant shared.TenantID, in CreateInput, number string) (Entry, error) {
	tx.repo.nextEntryID++
	e := &Entry{
		ID:            tx.repo.nextEntryID,
		TenantID:      tenant,
		EntryNumber:   number,
		Date:          in.Date,
		Description:   in.Description,
		Status:        StatusDraft,
		ReferenceType: in.ReferenceType,
		ReferenceID:   in.ReferenceID,
		CreatedBy:     in.CreatedBy,
		CreatedAt:     time.Now(),
	}
	tx.repo.entries[e.ID] = e
	return *e, nil
}

func (tx *memoryTx) InsertLines(ctx context.Context, tenant shared.TenantID, entryID int64, lines []LineInput) error {
	for _, in := range lines {
		tx.repo.nextLineID++
		account := tx.repo.accounts[in.AccountID]
		if account == nil {
			return shared.NotFoundError("account %d not found", in.AccountID)
		}
		tx.repo.lines[entryID] = append(tx.repo.lines[entryID], Line{
			ID:          tx.repo.nextLineID,
			EntryID:     entryID,
			AccountID:   in.AccountID,
			AccountCode: account.Code,
			AccountType: account.Type,
			Debit:       shared.RoundMoney(in.Debit),
			Credit:      shared.RoundMoney(in.Credit),
			Description: in.Description,
		})
	}
	return nil
}

func (tx *memoryTx) DeleteLines(ctx context.Context, tenant shared.TenantID, entryID int64) error {
	delete(tx.repo.lines, entryID)
	return nil
}

func (tx *memoryTx) GetEntryForUpdate(ctx context.Context, tenant shared.TenantID, id int64) (Entry, error) {
	e, ok := tx.repo.entries[id]
	if !ok {
		return Entry{}, shared.NotFoundError("journal entry %d not found", id)
	}
	return *e, nil
}

func (tx *memoryTx) GetLines(ctx context.Context, tenant shared.TenantID, entryID int64) ([]Line, error) {
	return append([]Line(nil), tx.repo.lines[entryID]...), nil
}

func (tx *memoryTx) UpdateHeader(ctx context.Context, tenant shared.TenantID, id int64, in UpdateInput) error {
	e := tx.repo.entries[id]
	if in.Date != nil {
		e.Date = *in.Date
	}
	if in.Description != nil {
		e.Description = *in.Description
	}
	if in.ReferenceType != nil {
		e.ReferenceType = *in.ReferenceType
	}
	if in.ReferenceID != nil {
		e.ReferenceID = in.ReferenceID
	}
	return nil
}

func (tx *memoryTx) MarkPosted(ctx context.Context, tenant shared.TenantID, id int64, approvedBy int64) error {
	e := tx.repo.entries[id]
	if e.Status != StatusDraft {
		return shared.StateError("journal entry already posted")
	}
	e.Status = StatusPosted
	e.ApprovedBy = &approvedBy
	return nil
}

func (tx *memoryTx) DeleteEntry(ctx context.Context, tenant shared.TenantID, id int64) error {
	delete(tx.repo.entries, id)
	delete(tx.repo.lines, id)
	return nil
}

func (tx *memoryTx) GetAccountForUpdate(ctx context.Context, tenant shared.TenantID, accountID int64) (ledger.AccountHead, error) {
	a, ok := tx.repo.accounts[accountID]
	if !ok {
		return ledger.AccountHead{}, shared.NotFoundError("account %d not found", accountID)
	}
	return *a, nil
}

func (tx *memoryTx) AddToAccountBalance(ctx context.Context, tenant shared.TenantID, accountID int64, delta decimal.Decimal) error {
	a, ok := tx.repo.accounts[accountID]
	if !ok {
		return shared.NotFoundError("account %d not found", accountID)
	}
	a.CurrentBalance = a.CurrentBalance.Add(delta)
	return nil
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testDate() time.Time { return time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC) }

func balancedInput(debitAccount, creditAccount int64, amount string) CreateInput {
	return CreateInput{
		Date:        testDate(),
		Description: "Cash sale",
		CreatedBy:   5,
		Lines: []LineInput{
			{AccountID: debitAccount, Debit: d(amount)},
			{AccountID: creditAccount, Credit: d(amount)},
		},
	}
}

func setupAccounts(repo *memoryRepo) {
	repo.addAccount(1, "1101", ledger.AccountTypeAsset, "0")
	repo.addAccount(2, "4100", ledger.AccountTypeRevenue, "0")
	repo.addAccount(3, "5100", ledger.AccountTypeExpense, "0")
	repo.addAccount(4, "2100", ledger.AccountTypeLiability, "0")
	repo.addAccount(5, "3100", ledger.AccountTypeEquity, "0")
}

func TestCreateBalancedEntry(t *testing.T) {
	repo := newMemoryRepo()
	setupAccounts(repo)
	svc := NewService(repo, nil, nil)

	entry, err := svc.Create(context.Background(), testTenant, balancedInput(1, 2, "150"))
	require.NoError(t, err)
	require.Equal(t, StatusDraft, entry.Status)
	require.Equal(t, "JE-20260615-001", entry.EntryNumber)
	require.Len(t, entry.Lines, 2)

	// Numbers are scoped to the entry date.
	second, err := svc.Create(context.Background(), testTenant, balancedInput(1, 2, "75"))
	require.NoError(t, err)
	require.Equal(t, "JE-20260615-002", second.EntryNumber)
}

func TestCreateRejectsUnbalancedEntry(t *testing.T) {
	repo := newMemoryRepo()
	setupAccounts(repo)
	svc := NewService(repo, nil, nil)

	in := balancedInput(1, 2, "150")
	in.Lines[1].Credit = d("149")
	_, err := svc.Create(context.Background(), testTenant, in)
	require.Error(t, err)
	require.Equal(t, shared.KindValidation, shared.KindOf(err))
}

func TestCreateRejectsLineWithBothSides(t *testing.T) {
	repo := newMemoryRepo()
	setupAccounts(repo)
	svc := NewService(repo, nil, nil)

	in := balancedInput(1, 2, "150")
	in.Lines[0].Credit = d("10")
	in.Lines[1].Credit = d("140")
	_, err := svc.Create(context.Background(), testTenant, in)
	require.Error(t, err)
	require.Equal(t, shared.KindValidation, shared.KindOf(err))
}

func TestCreateRejectsSingleLine(t *testing.T) {
	repo := newMemoryRepo()
	setupAccounts(repo)
	svc := NewService(repo, nil, nil)

	in := balancedInput(1, 2, "150")
	in.Lines = in.Lines[:1]
	_, err := svc.Create(context.Background(), testTenant, in)
	require.Error(t, err)
	require.Equal(t, shared.KindValidation, shared.KindOf(err))
}

func TestCreateRejectsNegativeAmounts(t *testing.T) {
	repo := newMemoryRepo()
	setupAccounts(repo)
	svc := NewService(repo, nil, nil)

	in := CreateInput{
		Date:        testDate(),
		Description: "bad",
		CreatedBy:   5,
		Lines: []LineInput{
			{AccountID: 1, Debit: d("-50")},
			{AccountID: 2, Credit: d("-50")},
		},
	}
	_, err := svc.Create(context.Background(), testTenant, in)
	require.Error(t, err)
	require.Equal(t, shared.KindValidation, shared.KindOf(err))
}

func TestPostAppliesSignRules(t *testing.T) {
	repo := newMemoryRepo()
	setupAccounts(repo)
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	// Debit asset 100, credit revenue 100: both grow.
	entry, err := svc.Create(ctx, testTenant, balancedInput(1, 2, "100"))
	require.NoError(t, err)
	posted, err := svc.Post(ctx, testTenant, entry.ID, 7)
	require.NoError(t, err)
	require.Equal(t, StatusPosted, posted.Status)
	require.Equal(t, int64(7), *posted.ApprovedBy)
	require.True(t, repo.accounts[1].CurrentBalance.Equal(d("100")))
	require.True(t, repo.accounts[2].CurrentBalance.Equal(d("100")))

	// Debit expense 40, credit asset 40: expense grows, asset shrinks.
	entry, err = svc.Create(ctx, testTenant, balancedInput(3, 1, "40"))
	require.NoError(t, err)
	_, err = svc.Post(ctx, testTenant, entry.ID, 7)
	require.NoError(t, err)
	require.True(t, repo.accounts[3].CurrentBalance.Equal(d("40")))
	require.True(t, repo.accounts[1].CurrentBalance.Equal(d("60")))

	// Debit liability 25, credit equity 25: liability shrinks, equity grows.
	entry, err = svc.Create(ctx, testTenant, balancedInput(4, 5, "25"))
	require.NoError(t, err)
	_, err = svc.Post(ctx, testTenant, entry.ID, 7)
	require.NoError(t, err)
	require.True(t, repo.accounts[4].CurrentBalance.Equal(d("-25")))
	require.True(t, repo.accounts[5].CurrentBalance.Equal(d("25")))
}

func TestPostTwiceFails(t *testing.T) {
	repo := newMemoryRepo()
	setupAccounts(repo)
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	entry, err := svc.Create(ctx, testTenant, balancedInput(1, 2, "100"))
	require.NoError(t, err)
	_, err = svc.Post(ctx, testTenant, entry.ID, 7)
	require.NoError(t, err)

	_, err = svc.Post(ctx, testTenant, entry.ID, 7)
	require.Error(t, err)
	require.Equal(t, shared.KindState, shared.KindOf(err))

	// Balances moved exactly once.
	require.True(t, repo.accounts[1].CurrentBalance.Equal(d("100")))
}

func TestUpdatePostedEntryFails(t *testing.T) {
	repo := newMemoryRepo()
	setupAccounts(repo)
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	entry, err := svc.Create(ctx, testTenant, balancedInput(1, 2, "100"))
	require.NoError(t, err)
	_, err = svc.Post(ctx, testTenant, entry.ID, 7)
	require.NoError(t, err)

	desc := "edited"
	_, err = svc.Update(ctx, testTenant, entry.ID, UpdateInput{Description: &desc})
	require.Error(t, err)
	require.Equal(t, shared.KindState, shared.KindOf(err))
}

func TestUpdateReplacesLines(t *testing.T) {
	repo := newMemoryRepo()
	setupAccounts(repo)
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	entry, err := svc.Create(ctx, testTenant, balancedInput(1, 2, "100"))
	require.NoError(t, err)

	updated, err := svc.Update(ctx, testTenant, entry.ID, UpdateInput{
		Lines: []LineInput{
			{AccountID: 3, Debit: d("60")},
			{AccountID: 1, Credit: d("60")},
		},
	})
	require.NoError(t, err)
	require.Len(t, updated.Lines, 2)
	require.Equal(t, int64(3), updated.Lines[0].AccountID)
	require.True(t, updated.Lines[0].Debit.Equal(d("60")))
}

func TestDeletePostedEntryFails(t *testing.T) {
	repo := newMemoryRepo()
	setupAccounts(repo)
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	entry, err := svc.Create(ctx, testTenant, balancedInput(1, 2, "100"))
	require.NoError(t, err)
	_, err = svc.Post(ctx, testTenant, entry.ID, 7)
	require.NoError(t, err)

	err = svc.Delete(ctx, testTenant, entry.ID, 7)
	require.Error(t, err)
	require.Equal(t, shared.KindState, shared.KindOf(err))

	err = svc.Delete(ctx, testTenant, 9999, 7)
	require.Error(t, err)
	require.Equal(t, shared.KindNotFound, shared.KindOf(err))
}

func TestReverseSwapsSides(t *testing.T) {
	repo := newMemoryRepo()
	setupAccounts(repo)
	svc := NewService(repo, nil, nil)
	svc.WithNow(func() time.Time { return time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC) })
	ctx := context.Background()

	entry, err := svc.Create(ctx, testTenant, balancedInput(1, 2, "100"))
	require.NoError(t, err)
	_, err = svc.Post(ctx, testTenant, entry.ID, 7)
	require.NoError(t, err)

	reversal, err := svc.Reverse(ctx, testTenant, entry.ID, 7, "")
	require.NoError(t, err)
	require.Equal(t, StatusDraft, reversal.Status)
	require.Equal(t, "JOURNAL_REVERSAL", reversal.ReferenceType)
	require.Contains(t, reversal.Description, entry.EntryNumber)
	require.Len(t, reversal.Lines, 2)
	require.True(t, reversal.Lines[0].Credit.Equal(d("100")))
	require.True(t, reversal.Lines[1].Debit.Equal(d("100")))

	// Posting the reversal cancels the original's balance effect.
	_, err = svc.Post(ctx, testTenant, reversal.ID, 7)
	require.NoError(t, err)
	require.True(t, repo.accounts[1].CurrentBalance.IsZero())
	require.True(t, repo.accounts[2].CurrentBalance.IsZero())
}

func TestReverseDraftFails(t *testing.T) {
	repo := newMemoryRepo()
	setupAccounts(repo)
	svc := NewService(repo, nil, nil)

	entry, err := svc.Create(context.Background(), testTenant, balancedInput(1, 2, "100"))
	require.NoError(t, err)

	_, err = svc.Reverse(context.Background(), testTenant, entry.ID, 7, "")
	require.Error(t, err)
	require.Equal(t, shared.KindState, shared.KindOf(err))
}

type lockedGuard struct {
	cutoff time.Time
}

func (g lockedGuard) AssertOpen(ctx context.Context, tenant shared.TenantID, date time.Time) error {
	if !date.After(g.cutoff) {
		return shared.PeriodLockedError("period containing %s is closed", date.Format("2006-01-02"))
	}
	return nil
}

func TestCreateBlockedByPeriodLock(t *testing.T) {
	repo := newMemoryRepo()
	setupAccounts(repo)
	svc := NewService(repo, nil, lockedGuard{cutoff: time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)})

	_, err := svc.Create(context.Background(), testTenant, balancedInput(1, 2, "100"))
	require.Error(t, err)
	require.Equal(t, shared.KindPeriodLocked, shared.KindOf(err))
}

func TestPostBlockedByPeriodLock(t *testing.T) {
	repo := newMemoryRepo()
	setupAccounts(repo)

	// Entry drafted while the period was open, lock lands before posting.
	open := NewService(repo, nil, nil)
	entry, err := open.Create(context.Background(), testTenant, balancedInput(1, 2, "100"))
	require.NoError(t, err)

	locked := NewService(repo, nil, lockedGuard{cutoff: time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)})
	_, err = locked.Post(context.Background(), testTenant, entry.ID, 7)
	require.Error(t, err)
	require.Equal(t, shared.KindPeriodLocked, shared.KindOf(err))
	require.True(t, repo.accounts[1].CurrentBalance.IsZero())
}

func TestBalanceToleranceAcceptsRoundingResidue(t *testing.T) {
	repo := newMemoryRepo()
	setupAccounts(repo)
	svc := NewService(repo, nil, nil)

	in := CreateInput{
		Date:        testDate(),
		Description: "rounding residue",
		CreatedBy:   5,
		Lines: []LineInput{
			{AccountID: 1, Debit: d("33.33335")},
			{AccountID: 2, Credit: d("33.3334")},
		},
	}
	_, err := svc.Create(context.Background(), testTenant, in)
	require.NoError(t, err)
}
