package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/caravel-erp/caravel-erp/internal/shared"
)

// AuditPort records audit trail entries after successful mutations.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// PeriodGuard rejects dated mutations into locked accounting periods.
type PeriodGuard interface {
	AssertOpen(ctx context.Context, tenant shared.TenantID, date time.Time) error
}

// Service validates and posts balanced journal entries and maintains account
// balances through them.
type Service struct {
	repo  Repository
	audit AuditPort
	guard PeriodGuard
	now   func() time.Time
}

// NewService builds a Service instance.
func NewService(repo Repository, audit AuditPort, guard PeriodGuard) *Service {
	return &Service{repo: repo, audit: audit, guard: guard, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Create persists a new DRAFT entry with its lines. No balance moves here.
func (s *Service) Create(ctx context.Context, tenant shared.TenantID, in CreateInput) (Entry, error) {
	if !tenant.Valid() {
		return Entry{}, shared.ValidationError("tenant required")
	}
	if err := in.validate(); err != nil {
		return Entry{}, err
	}
	if s.guard != nil {
		if err := s.guard.AssertOpen(ctx, tenant, in.Date); err != nil {
			return Entry{}, err
		}
	}
	var entry Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.NextEntryNumber(ctx, tenant, in.Date)
		if err != nil {
			return err
		}
		inserted, err := tx.InsertEntry(ctx, tenant, in, number)
		if err != nil {
			return err
		}
		if err := tx.InsertLines(ctx, tenant, inserted.ID, in.Lines); err != nil {
			return err
		}
		inserted.Lines, err = tx.GetLines(ctx, tenant, inserted.ID)
		if err != nil {
			return err
		}
		entry = inserted
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	s.recordAudit(ctx, tenant, in.CreatedBy, "journal.create", entry.ID,
		fmt.Sprintf("Journal entry created: %s - %s", entry.EntryNumber, entry.Description), nil)
	return entry, nil
}

// Update edits a DRAFT entry. A supplied line set replaces the previous one
// in full and is re-validated; POSTED entries are immutable.
func (s *Service) Update(ctx context.Context, tenant shared.TenantID, id int64, in UpdateInput) (Entry, error) {
	if in.Lines != nil {
		if err := validateLines(in.Lines); err != nil {
			return Entry{}, err
		}
	}
	if s.guard != nil && in.Date != nil {
		if err := s.guard.AssertOpen(ctx, tenant, *in.Date); err != nil {
			return Entry{}, err
		}
	}
	var entry Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetEntryForUpdate(ctx, tenant, id)
		if err != nil {
			return err
		}
		if current.Status == StatusPosted {
			return shared.StateError("cannot edit a posted journal entry")
		}
		if err := tx.UpdateHeader(ctx, tenant, id, in); err != nil {
			return err
		}
		if in.Lines != nil {
			if err := tx.DeleteLines(ctx, tenant, id); err != nil {
				return err
			}
			if err := tx.InsertLines(ctx, tenant, id, in.Lines); err != nil {
				return err
			}
		}
		entry = current
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	updated, err := s.repo.GetByID(ctx, tenant, id)
	if err != nil {
		return Entry{}, err
	}
	s.recordAudit(ctx, tenant, in.ActorID, "journal.update", id,
		fmt.Sprintf("Journal entry updated: %s", entry.EntryNumber), nil)
	return updated, nil
}

// Post performs the terminal DRAFT to POSTED transition. The balance is
// re-verified at posting time against concurrent line edits, then each line's
// signed delta is applied to its account inside the same transaction as the
// status flip. Posting an already-POSTED entry fails.
func (s *Service) Post(ctx context.Context, tenant shared.TenantID, id int64, actorID int64) (Entry, error) {
	var entry Entry
	var debits, credits decimal.Decimal
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetEntryForUpdate(ctx, tenant, id)
		if err != nil {
			return err
		}
		if current.Status == StatusPosted {
			return shared.StateError("journal entry already posted")
		}
		if s.guard != nil {
			if err := s.guard.AssertOpen(ctx, tenant, current.Date); err != nil {
				return err
			}
		}
		lines, err := tx.GetLines(ctx, tenant, id)
		if err != nil {
			return err
		}
		debits, credits = decimal.Zero, decimal.Zero
		for _, line := range lines {
			debits = debits.Add(line.Debit)
			credits = credits.Add(line.Credit)
		}
		if !shared.WithinTolerance(debits, credits) {
			return shared.ValidationError("entry is not balanced: debits %s, credits %s",
				debits.StringFixed(shared.MoneyScale), credits.StringFixed(shared.MoneyScale))
		}
		for _, line := range lines {
			account, err := tx.GetAccountForUpdate(ctx, tenant, line.AccountID)
			if err != nil {
				return err
			}
			delta := account.Type.BalanceDelta(line.Debit, line.Credit)
			if err := tx.AddToAccountBalance(ctx, tenant, line.AccountID, delta); err != nil {
				return err
			}
		}
		if err := tx.MarkPosted(ctx, tenant, id, actorID); err != nil {
			return err
		}
		current.Status = StatusPosted
		current.ApprovedBy = &actorID
		current.Lines = lines
		entry = current
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	s.recordAudit(ctx, tenant, actorID, "journal.post", id,
		fmt.Sprintf("Journal entry posted: %s (debits: %s, credits: %s)",
			entry.EntryNumber, debits.StringFixed(shared.MoneyScale), credits.StringFixed(shared.MoneyScale)), nil)
	return entry, nil
}

// Delete removes a DRAFT entry and its lines. POSTED entries cannot be
// deleted; compensation goes through Reverse instead.
func (s *Service) Delete(ctx context.Context, tenant shared.TenantID, id int64, actorID int64) error {
	var number string
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetEntryForUpdate(ctx, tenant, id)
		if err != nil {
			return err
		}
		if current.Status == StatusPosted {
			return shared.StateError("cannot delete a posted journal entry")
		}
		number = current.EntryNumber
		return tx.DeleteEntry(ctx, tenant, id)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, tenant, actorID, "journal.delete", id,
		fmt.Sprintf("Journal entry deleted: %s", number), nil)
	return nil
}

// Reverse creates a compensating DRAFT entry with debit and credit swapped on
// every line of a POSTED original. The original is never touched; the new
// entry goes through the normal Post path.
func (s *Service) Reverse(ctx context.Context, tenant shared.TenantID, id int64, actorID int64, memo string) (Entry, error) {
	original, err := s.repo.GetByID(ctx, tenant, id)
	if err != nil {
		return Entry{}, err
	}
	if original.Status != StatusPosted {
		return Entry{}, shared.StateError("only posted entries can be reversed")
	}
	date := s.now()
	if s.guard != nil {
		if err := s.guard.AssertOpen(ctx, tenant, date); err != nil {
			return Entry{}, err
		}
	}
	if memo == "" {
		memo = fmt.Sprintf("Reversal of %s", original.EntryNumber)
	}
	refID := uuid.New()
	in := CreateInput{
		Date:          date,
		Description:   memo,
		ReferenceType: "JOURNAL_REVERSAL",
		ReferenceID:   &refID,
		CreatedBy:     actorID,
		Lines:         reverseLines(original.Lines),
	}
	reversal, err := s.Create(ctx, tenant, in)
	if err != nil {
		return Entry{}, err
	}
	s.recordAudit(ctx, tenant, actorID, "journal.reverse", id,
		fmt.Sprintf("Reversal drafted: %s compensates %s", reversal.EntryNumber, original.EntryNumber),
		map[string]any{"reversal_id": reversal.ID})
	return reversal, nil
}

// GetByID fetches one entry with its lines.
func (s *Service) GetByID(ctx context.Context, tenant shared.TenantID, id int64) (Entry, error) {
	return s.repo.GetByID(ctx, tenant, id)
}

// List returns filtered entries, newest first, with a total count.
func (s *Service) List(ctx context.Context, tenant shared.TenantID, filter ListFilter) ([]Entry, int, error) {
	return s.repo.List(ctx, tenant, filter)
}

func reverseLines(lines []Line) []LineInput {
	out := make([]LineInput, 0, len(lines))
	for _, line := range lines {
		out = append(out, LineInput{
			AccountID:   line.AccountID,
			Debit:       line.Credit,
			Credit:      line.Debit,
			Description: line.Description,
		})
	}
	return out
}

func (s *Service) recordAudit(ctx context.Context, tenant shared.TenantID, actorID int64, action string, id int64, notes string, changed map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		TenantID: tenant,
		ActorID:  actorID,
		Action:   action,
		Entity:   "journal_entry",
		EntityID: fmt.Sprintf("%d", id),
		Notes:    notes,
		Changed:  changed,
		At:       s.now(),
	})
}
