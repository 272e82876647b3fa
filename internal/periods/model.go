package periods

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/caravel-erp/caravel-erp/internal/ledger"
	"github.com/caravel-erp/caravel-erp/internal/shared"
)

// CloseStatus enumerates period close lifecycle values.
type CloseStatus string

const (
	CloseStatusClosed   CloseStatus = "CLOSED"
	CloseStatusReopened CloseStatus = "REOPENED"
)

// RetainedEarningsCode is the equity account closing entries settle into.
const RetainedEarningsCode = "3200"

// Close records an administrative freeze of one calendar month. Dated
// mutations on or before the latest CLOSED cutoff are rejected.
type Close struct {
	ID             int64           `json:"id"`
	TenantID       shared.TenantID `json:"tenant_id"`
	PeriodDate     time.Time       `json:"period_date"`
	Status         CloseStatus     `json:"status"`
	NetProfit      decimal.Decimal `json:"net_profit"`
	ClosedBy       int64           `json:"closed_by"`
	ClosingEntryID *int64          `json:"closing_entry_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// AccountActivity aggregates posted debits and credits for one account over
// a date range.
type AccountActivity struct {
	AccountID int64
	Code      string
	Type      ledger.AccountType
	Debit     decimal.Decimal
	Credit    decimal.Decimal
}

// Net returns the account's period contribution with its normal sign:
// credits minus debits for revenue, debits minus credits for expense.
func (a AccountActivity) Net() decimal.Decimal {
	if a.Type.IsDebitNormal() {
		return a.Debit.Sub(a.Credit)
	}
	return a.Credit.Sub(a.Debit)
}
