package recon

import (
	"context"
	"fmt"
	"time"

	"github.com/caravel-erp/caravel-erp/internal/ledger"
	"github.com/caravel-erp/caravel-erp/internal/shared"
)

// LedgerPort resolves the bank account a session reconciles against.
type LedgerPort interface {
	GetByID(ctx context.Context, tenant shared.TenantID, id int64) (ledger.AccountHead, error)
}

// AuditPort records audit trail entries after successful mutations.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service matches bank statement lines against posted journal lines.
type Service struct {
	repo   Repository
	ledger LedgerPort
	audit  AuditPort
	now    func() time.Time
}

// NewService builds a Service instance.
func NewService(repo Repository, ledgerPort LedgerPort, audit AuditPort) *Service {
	return &Service{repo: repo, ledger: ledgerPort, audit: audit, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateSession opens a session against a bank-family account, snapshotting
// the account's running balance as the system side.
func (s *Service) CreateSession(ctx context.Context, tenant shared.TenantID, in CreateSessionInput) (Session, error) {
	if !tenant.Valid() {
		return Session{}, shared.ValidationError("tenant required")
	}
	account, err := s.ledger.GetByID(ctx, tenant, in.BankAccountID)
	if err != nil {
		return Session{}, err
	}
	if !account.IsBankAccount() {
		return Session{}, shared.ValidationError("account %s is not a bank account", account.Code)
	}
	var session Session
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		session, err = tx.InsertSession(ctx, tenant, Session{
			BankAccountID:    in.BankAccountID,
			StatementDate:    in.StatementDate,
			StatementBalance: in.StatementBalance,
			SystemBalance:    account.CurrentBalance,
			Status:           SessionStatusInProgress,
			ReconciledBy:     in.ActorID,
		})
		return err
	})
	if err != nil {
		return Session{}, err
	}
	session.BankAccountCode = account.Code
	session.BankAccountName = account.Name
	s.recordAudit(ctx, tenant, in.ActorID, "recon.create", session.ID,
		fmt.Sprintf("Reconciliation opened for %s, statement %s vs system %s",
			account.Code, session.StatementBalance.StringFixed(2), session.SystemBalance.StringFixed(2)))
	return session, nil
}

// AddItem appends a statement line to an in-progress session.
func (s *Service) AddItem(ctx context.Context, tenant shared.TenantID, sessionID int64, in AddItemInput) (Item, error) {
	var item Item
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		session, err := tx.GetSessionForUpdate(ctx, tenant, sessionID)
		if err != nil {
			return err
		}
		if session.Status != SessionStatusInProgress {
			return shared.StateError("cannot add items to a completed reconciliation")
		}
		item, err = tx.InsertItem(ctx, tenant, Item{
			SessionID:       sessionID,
			Description:     in.Description,
			StatementAmount: in.StatementAmount,
			StatementDate:   in.StatementDate,
		})
		return err
	})
	if err != nil {
		return Item{}, err
	}
	return item, nil
}

// MatchItem binds a statement item to one posted journal line on the
// session's bank account. A line already consumed by another item of the
// session is refused.
func (s *Service) MatchItem(ctx context.Context, tenant shared.TenantID, sessionID, itemID, lineID int64) (Item, error) {
	var item Item
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		session, err := tx.GetSessionForUpdate(ctx, tenant, sessionID)
		if err != nil {
			return err
		}
		if session.Status != SessionStatusInProgress {
			return shared.StateError("cannot modify a completed reconciliation")
		}
		item, err = tx.GetItem(ctx, tenant, sessionID, itemID)
		if err != nil {
			return err
		}
		ok, err := tx.LineBelongsToAccount(ctx, tenant, lineID, session.BankAccountID)
		if err != nil {
			return err
		}
		if !ok {
			return shared.ValidationError("journal line %d is not a posted line of the session's bank account", lineID)
		}
		consumed, err := tx.ConsumedLineIDs(ctx, tenant, sessionID)
		if err != nil {
			return err
		}
		for _, id := range consumed {
			if id == lineID && (item.JournalLineID == nil || *item.JournalLineID != lineID) {
				return shared.StateError("journal line %d is already matched to another item", lineID)
			}
		}
		if err := tx.SetItemMatch(ctx, tenant, itemID, &lineID); err != nil {
			return err
		}
		item.JournalLineID = &lineID
		item.Matched = true
		return nil
	})
	if err != nil {
		return Item{}, err
	}
	return item, nil
}

// UnmatchItem clears an item's binding, returning the journal line to the
// unmatched pool.
func (s *Service) UnmatchItem(ctx context.Context, tenant shared.TenantID, sessionID, itemID int64) (Item, error) {
	var item Item
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		session, err := tx.GetSessionForUpdate(ctx, tenant, sessionID)
		if err != nil {
			return err
		}
		if session.Status != SessionStatusInProgress {
			return shared.StateError("cannot modify a completed reconciliation")
		}
		item, err = tx.GetItem(ctx, tenant, sessionID, itemID)
		if err != nil {
			return err
		}
		if err := tx.SetItemMatch(ctx, tenant, itemID, nil); err != nil {
			return err
		}
		item.JournalLineID = nil
		item.Matched = false
		return nil
	})
	if err != nil {
		return Item{}, err
	}
	return item, nil
}

// DeleteItem removes a statement item from an in-progress session.
func (s *Service) DeleteItem(ctx context.Context, tenant shared.TenantID, sessionID, itemID int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		session, err := tx.GetSessionForUpdate(ctx, tenant, sessionID)
		if err != nil {
			return err
		}
		if session.Status != SessionStatusInProgress {
			return shared.StateError("cannot modify a completed reconciliation")
		}
		if _, err := tx.GetItem(ctx, tenant, sessionID, itemID); err != nil {
			return err
		}
		return tx.DeleteItem(ctx, tenant, itemID)
	})
}

// GetUnmatchedTransactions lists posted bank-account lines not consumed by
// any item of the session.
func (s *Service) GetUnmatchedTransactions(ctx context.Context, tenant shared.TenantID, sessionID int64) ([]UnmatchedLine, error) {
	session, err := s.repo.GetSession(ctx, tenant, sessionID)
	if err != nil {
		return nil, err
	}
	consumed := make([]int64, 0, len(session.Items))
	for _, item := range session.Items {
		if item.JournalLineID != nil {
			consumed = append(consumed, *item.JournalLineID)
		}
	}
	return s.repo.UnmatchedLines(ctx, tenant, session.BankAccountID, consumed)
}

// Complete performs the terminal transition. It does not require statement
// and system balances to agree; the remaining difference is the caller's to
// judge.
func (s *Service) Complete(ctx context.Context, tenant shared.TenantID, sessionID int64, actorID int64) (Session, error) {
	var session Session
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetSessionForUpdate(ctx, tenant, sessionID)
		if err != nil {
			return err
		}
		if current.Status != SessionStatusInProgress {
			return shared.StateError("reconciliation is already completed")
		}
		if err := tx.SetSessionStatus(ctx, tenant, sessionID, SessionStatusCompleted); err != nil {
			return err
		}
		current.Status = SessionStatusCompleted
		session = current
		return nil
	})
	if err != nil {
		return Session{}, err
	}
	s.recordAudit(ctx, tenant, actorID, "recon.complete", sessionID,
		fmt.Sprintf("Reconciliation completed for %s, difference %s",
			session.BankAccountCode, session.Difference().StringFixed(2)))
	return session, nil
}

// GetByID fetches a session with its items.
func (s *Service) GetByID(ctx context.Context, tenant shared.TenantID, id int64) (Session, error) {
	return s.repo.GetSession(ctx, tenant, id)
}

// List returns filtered sessions, newest first, with a total count.
func (s *Service) List(ctx context.Context, tenant shared.TenantID, filter ListFilter) ([]Session, int, error) {
	return s.repo.ListSessions(ctx, tenant, filter)
}

func (s *Service) recordAudit(ctx context.Context, tenant shared.TenantID, actorID int64, action string, id int64, notes string) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		TenantID: tenant,
		ActorID:  actorID,
		Action:   action,
		Entity:   "bank_reconciliation",
		EntityID: fmt.Sprintf("%d", id),
		Notes:    notes,
		At:       s.now(),
	})
}
