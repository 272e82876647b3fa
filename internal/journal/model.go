package journal

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/caravel-erp/caravel-erp/internal/ledger"
	"github.com/caravel-erp/caravel-erp/internal/shared"
)

// Status enumerates journal entry lifecycle values. POSTED is terminal.
type Status string

const (
	StatusDraft  Status = "DRAFT"
	StatusPosted Status = "POSTED"
)

// Entry is a double-entry journal document. Balances move only when it is
// posted; until then lines are freely replaceable.
type Entry struct {
	ID            int64           `json:"id"`
	TenantID      shared.TenantID `json:"tenant_id"`
	EntryNumber   string          `json:"entry_number"`
	Date          time.Time       `json:"date"`
	Description   string          `json:"description"`
	Status        Status          `json:"status"`
	ReferenceType string          `json:"reference_type,omitempty"`
	ReferenceID   *uuid.UUID      `json:"reference_id,omitempty"`
	CreatedBy     int64           `json:"created_by"`
	ApprovedBy    *int64          `json:"approved_by,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Lines         []Line          `json:"lines,omitempty"`
}

// Line stores a debit or credit amount against one account. Exactly one of
// Debit and Credit is non-zero.
type Line struct {
	ID          int64              `json:"id"`
	EntryID     int64              `json:"entry_id"`
	AccountID   int64              `json:"account_id"`
	AccountCode string             `json:"account_code"`
	AccountType ledger.AccountType `json:"account_type"`
	Debit       decimal.Decimal    `json:"debit"`
	Credit      decimal.Decimal    `json:"credit"`
	Description string             `json:"description,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
}

// Net returns debit minus credit, the line's effect on a debit-normal account.
func (l Line) Net() decimal.Decimal {
	return l.Debit.Sub(l.Credit)
}
