package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/caravel-erp/caravel-erp/internal/shared"
)

// AccountType enumerates the five account families of the chart of accounts.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// codeTypeMap binds the leading code digit to the expected account family.
var codeTypeMap = map[byte]AccountType{
	'1': AccountTypeAsset,
	'2': AccountTypeLiability,
	'3': AccountTypeEquity,
	'4': AccountTypeRevenue,
	'5': AccountTypeExpense,
}

// TypeForCode returns the account family implied by the code's leading digit,
// or empty when the prefix carries no convention.
func TypeForCode(code string) AccountType {
	if code == "" {
		return ""
	}
	return codeTypeMap[code[0]]
}

// IsDebitNormal reports whether a debit increases the balance of this family.
func (t AccountType) IsDebitNormal() bool {
	return t == AccountTypeAsset || t == AccountTypeExpense
}

// BalanceDelta computes the signed balance change a posted line causes on an
// account of this family. Debit-normal families grow with debits; the rest
// grow with credits.
func (t AccountType) BalanceDelta(debit, credit decimal.Decimal) decimal.Decimal {
	if t.IsDebitNormal() {
		return debit.Sub(credit)
	}
	return credit.Sub(debit)
}

// AccountStatus enumerates account lifecycle values.
type AccountStatus string

const (
	AccountStatusActive   AccountStatus = "ACTIVE"
	AccountStatusInactive AccountStatus = "INACTIVE"
)

// BankCodePrefix marks accounts in the bank family of the asset chart.
const BankCodePrefix = "11"

// AccountHead is a chart-of-accounts node with a running balance.
// CurrentBalance is mutated only by journal posting.
type AccountHead struct {
	ID             int64           `json:"id"`
	TenantID       shared.TenantID `json:"tenant_id"`
	Code           string          `json:"code"`
	Name           string          `json:"name"`
	Type           AccountType     `json:"type"`
	ParentID       *int64          `json:"parent_id,omitempty"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	IsSystem       bool            `json:"is_system"`
	Status         AccountStatus   `json:"status"`
	Description    string          `json:"description,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	Children       []*AccountHead  `json:"children,omitempty"`
}

// IsBankAccount reports whether the account belongs to the bank code family.
func (a AccountHead) IsBankAccount() bool {
	return len(a.Code) >= len(BankCodePrefix) && a.Code[:len(BankCodePrefix)] == BankCodePrefix
}

// CreateInput carries fields for account creation.
type CreateInput struct {
	Code           string
	Name           string
	Type           AccountType
	ParentID       *int64
	OpeningBalance decimal.Decimal
	IsSystem       bool
	Status         AccountStatus
	Description    string
	ActorID        int64
}

// UpdateInput carries optional fields for account update. Nil means unchanged.
type UpdateInput struct {
	Name        *string
	ParentID    **int64
	Status      *AccountStatus
	Description *string
	ActorID     int64
}

// ListFilter narrows account listings.
type ListFilter struct {
	Type   AccountType
	Status AccountStatus
	Search string
	Page   int
	Limit  int
}
