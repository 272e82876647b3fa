package periods

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/caravel-erp/caravel-erp/internal/journal"
	"github.com/caravel-erp/caravel-erp/internal/ledger"
	"github.com/caravel-erp/caravel-erp/internal/shared"
)

// trialBalanceTolerance is the accepted drift when verifying the trial
// balance before a close. Looser than posting tolerance on purpose: it spans
// the whole ledger, not one entry.
var trialBalanceTolerance = decimal.NewFromFloat(0.01)

// JournalPort is the slice of the journal engine month close needs.
type JournalPort interface {
	Create(ctx context.Context, tenant shared.TenantID, in journal.CreateInput) (journal.Entry, error)
	Post(ctx context.Context, tenant shared.TenantID, id int64, actorID int64) (journal.Entry, error)
}

// LedgerPort resolves accounts by code for the closing entry.
type LedgerPort interface {
	GetByCode(ctx context.Context, tenant shared.TenantID, code string) (ledger.AccountHead, error)
}

// AuditPort records audit trail entries after successful mutations.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Guard is the period lock precondition consulted before dated mutations.
type Guard struct {
	repo Repository
}

// NewGuard builds a Guard over the periods repository.
func NewGuard(repo Repository) *Guard {
	return &Guard{repo: repo}
}

// AssertOpen fails with a period-locked error when date falls on or before
// the latest closed-period cutoff.
func (g *Guard) AssertOpen(ctx context.Context, tenant shared.TenantID, date time.Time) error {
	cutoff, found, err := g.repo.LatestClosedCutoff(ctx, tenant)
	if err != nil {
		return err
	}
	if found && !date.After(cutoff) {
		return shared.PeriodLockedError("accounting period through %s is closed", cutoff.Format("2006-01-02"))
	}
	return nil
}

// Service manages the period close lifecycle.
type Service struct {
	repo    Repository
	journal JournalPort
	ledger  LedgerPort
	audit   AuditPort
	now     func() time.Time
}

// NewService builds a Service instance.
func NewService(repo Repository, journalPort JournalPort, ledgerPort LedgerPort, audit AuditPort) *Service {
	return &Service{repo: repo, journal: journalPort, ledger: ledgerPort, audit: audit, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// List returns all period closes, newest first.
func (s *Service) List(ctx context.Context, tenant shared.TenantID) ([]Close, error) {
	return s.repo.ListCloses(ctx, tenant)
}

// CloseMonth verifies the trial balance, zeroes revenue and expense activity
// for the month into retained earnings through a posted closing entry, and
// records the close. The recorded cutoff is what the Guard enforces.
func (s *Service) CloseMonth(ctx context.Context, tenant shared.TenantID, year int, month time.Month, actorID int64) (Close, error) {
	if !tenant.Valid() {
		return Close{}, shared.ValidationError("tenant required")
	}
	periodStart := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	periodEnd := periodStart.AddDate(0, 1, -1)

	if existing, err := s.repo.FindClose(ctx, tenant, periodEnd); err == nil && existing.Status == CloseStatusClosed {
		return Close{}, shared.StateError("period %d-%02d is already closed", year, month)
	}

	debits, credits, err := s.repo.TrialBalanceTotals(ctx, tenant, periodEnd)
	if err != nil {
		return Close{}, err
	}
	if debits.Sub(credits).Abs().Cmp(trialBalanceTolerance) > 0 {
		return Close{}, shared.StateError("trial balance is not balanced: debits %s, credits %s",
			debits.StringFixed(2), credits.StringFixed(2))
	}

	activity, err := s.repo.PeriodActivity(ctx, tenant, periodStart, periodEnd)
	if err != nil {
		return Close{}, err
	}

	retained, err := s.ledger.GetByCode(ctx, tenant, RetainedEarningsCode)
	if err != nil {
		return Close{}, shared.StateError("retained earnings account %s missing", RetainedEarningsCode)
	}

	netProfit := decimal.Zero
	var lines []journal.LineInput
	for _, a := range activity {
		net := a.Net()
		if net.IsZero() {
			continue
		}
		netProfit = netProfit.Add(signedProfit(a))
		lines = append(lines, closingLine(a, net))
	}

	var closingEntryID *int64
	if len(lines) > 0 {
		// Balance the entry against retained earnings.
		if netProfit.IsPositive() {
			lines = append(lines, journal.LineInput{AccountID: retained.ID, Credit: netProfit, Description: "Net profit to retained earnings"})
		} else if netProfit.IsNegative() {
			lines = append(lines, journal.LineInput{AccountID: retained.ID, Debit: netProfit.Neg(), Description: "Net loss to retained earnings"})
		}
		entry, err := s.journal.Create(ctx, tenant, journal.CreateInput{
			Date:          periodEnd,
			Description:   fmt.Sprintf("Closing entry %d-%02d", year, month),
			ReferenceType: "PERIOD_CLOSE",
			CreatedBy:     actorID,
			Lines:         lines,
		})
		if err != nil {
			return Close{}, err
		}
		posted, err := s.journal.Post(ctx, tenant, entry.ID, actorID)
		if err != nil {
			return Close{}, err
		}
		closingEntryID = &posted.ID
	}

	record, err := s.repo.InsertClose(ctx, tenant, Close{
		PeriodDate:     periodEnd,
		Status:         CloseStatusClosed,
		NetProfit:      netProfit,
		ClosedBy:       actorID,
		ClosingEntryID: closingEntryID,
	})
	if err != nil {
		return Close{}, err
	}
	s.recordAudit(ctx, tenant, actorID, "period.close", record.ID,
		fmt.Sprintf("Period %d-%02d closed, net profit %s", year, month, netProfit.StringFixed(2)))
	return record, nil
}

// Reopen lifts a close so the period accepts dated mutations again.
func (s *Service) Reopen(ctx context.Context, tenant shared.TenantID, year int, month time.Month, actorID int64) error {
	periodEnd := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, -1)
	existing, err := s.repo.FindClose(ctx, tenant, periodEnd)
	if err != nil {
		return err
	}
	if existing.Status != CloseStatusClosed {
		return shared.StateError("period %d-%02d is not closed", year, month)
	}
	if err := s.repo.SetCloseStatus(ctx, tenant, existing.ID, CloseStatusReopened); err != nil {
		return err
	}
	s.recordAudit(ctx, tenant, actorID, "period.reopen", existing.ID,
		fmt.Sprintf("Period %d-%02d reopened", year, month))
	return nil
}

// closingLine produces the entry line that zeroes the account's period
// activity: revenue is debited away, expense is credited away.
func closingLine(a AccountActivity, net decimal.Decimal) journal.LineInput {
	desc := fmt.Sprintf("Close %s", a.Code)
	if a.Type == ledger.AccountTypeRevenue {
		if net.IsNegative() {
			return journal.LineInput{AccountID: a.AccountID, Credit: net.Neg(), Description: desc}
		}
		return journal.LineInput{AccountID: a.AccountID, Debit: net, Description: desc}
	}
	if net.IsNegative() {
		return journal.LineInput{AccountID: a.AccountID, Debit: net.Neg(), Description: desc}
	}
	return journal.LineInput{AccountID: a.AccountID, Credit: net, Description: desc}
}

// signedProfit maps account activity onto profit: revenue adds, expense
// subtracts.
func signedProfit(a AccountActivity) decimal.Decimal {
	if a.Type == ledger.AccountTypeRevenue {
		return a.Net()
	}
	return a.Net().Neg()
}

func (s *Service) recordAudit(ctx context.Context, tenant shared.TenantID, actorID int64, action string, id int64, notes string) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		TenantID: tenant,
		ActorID:  actorID,
		Action:   action,
		Entity:   "period_close",
		EntityID: fmt.Sprintf("%d", id),
		Notes:    notes,
		At:       s.now(),
	})
}
