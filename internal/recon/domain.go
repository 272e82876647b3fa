package recon

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/caravel-erp/caravel-erp/internal/shared"
)

// SessionStatus enumerates reconciliation session states. COMPLETED is
// terminal; items are mutable only while IN_PROGRESS.
type SessionStatus string

const (
	SessionStatusInProgress SessionStatus = "IN_PROGRESS"
	SessionStatusCompleted  SessionStatus = "COMPLETED"
)

// Session is a bounded working set matching bank statement lines against
// posted journal lines for one bank account. SystemBalance snapshots the
// account's running balance at creation time.
type Session struct {
	ID               int64           `json:"id"`
	TenantID         shared.TenantID `json:"tenant_id"`
	BankAccountID    int64           `json:"bank_account_id"`
	BankAccountCode  string          `json:"bank_account_code"`
	BankAccountName  string          `json:"bank_account_name"`
	StatementDate    time.Time       `json:"statement_date"`
	StatementBalance decimal.Decimal `json:"statement_balance"`
	SystemBalance    decimal.Decimal `json:"system_balance"`
	Status           SessionStatus   `json:"status"`
	ReconciledBy     int64           `json:"reconciled_by"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	Items            []Item          `json:"items,omitempty"`
}

// Difference is the statement-versus-system gap; completion does not require
// it to be zero, callers decide what to do with it.
func (s Session) Difference() decimal.Decimal {
	return s.StatementBalance.Sub(s.SystemBalance)
}

// Item is one externally-reported statement line within a session.
type Item struct {
	ID              int64           `json:"id"`
	TenantID        shared.TenantID `json:"tenant_id"`
	SessionID       int64           `json:"session_id"`
	Description     string          `json:"description"`
	StatementAmount decimal.Decimal `json:"statement_amount"`
	StatementDate   time.Time       `json:"statement_date"`
	JournalLineID   *int64          `json:"journal_line_id,omitempty"`
	Matched         bool            `json:"matched"`
	CreatedAt       time.Time       `json:"created_at"`
}

// UnmatchedLine is a posted journal line on the session's bank account not
// yet consumed by any item.
type UnmatchedLine struct {
	LineID        int64           `json:"line_id"`
	EntryNumber   string          `json:"entry_number"`
	Date          time.Time       `json:"date"`
	Description   string          `json:"description"`
	ReferenceType string          `json:"reference_type,omitempty"`
	Debit         decimal.Decimal `json:"debit"`
	Credit        decimal.Decimal `json:"credit"`
}

// Net returns debit minus credit, the line's effect on the bank balance.
func (l UnmatchedLine) Net() decimal.Decimal {
	return l.Debit.Sub(l.Credit)
}

// CreateSessionInput groups session creation fields.
type CreateSessionInput struct {
	BankAccountID    int64
	StatementDate    time.Time
	StatementBalance decimal.Decimal
	ActorID          int64
}

// AddItemInput groups statement item fields.
type AddItemInput struct {
	Description     string
	StatementAmount decimal.Decimal
	StatementDate   time.Time
}

// ListFilter narrows session listings.
type ListFilter struct {
	BankAccountID int64
	Status        SessionStatus
	Page          int
	Limit         int
}
