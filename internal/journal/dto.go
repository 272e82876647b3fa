package journal

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/caravel-erp/caravel-erp/internal/shared"
)

// LineInput describes one requested journal line.
type LineInput struct {
	AccountID   int64
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	Description string
}

// CreateInput groups fields required to create a draft entry.
type CreateInput struct {
	Date          time.Time
	Description   string
	ReferenceType string
	ReferenceID   *uuid.UUID
	CreatedBy     int64
	Lines         []LineInput
}

// UpdateInput carries header changes and an optional full line replacement.
type UpdateInput struct {
	Date          *time.Time
	Description   *string
	ReferenceType *string
	ReferenceID   *uuid.UUID
	ActorID       int64
	Lines         []LineInput
}

// ListFilter narrows entry listings.
type ListFilter struct {
	Status   Status
	DateFrom *time.Time
	DateTo   *time.Time
	Search   string
	Page     int
	Limit    int
}

// validateLines enforces the double-entry shape shared by create and update:
// at least two lines, each with exactly one positive side, sums balanced
// within tolerance.
func validateLines(lines []LineInput) error {
	if len(lines) < 2 {
		return shared.ValidationError("journal entry requires at least two lines")
	}
	var debits, credits decimal.Decimal
	for i, line := range lines {
		if line.AccountID == 0 {
			return shared.ValidationError("line %d missing account", i+1)
		}
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return shared.ValidationError("line %d has a negative amount", i+1)
		}
		if line.Debit.IsPositive() && line.Credit.IsPositive() {
			return shared.ValidationError("line %d cannot have both debit and credit amounts", i+1)
		}
		if line.Debit.IsZero() && line.Credit.IsZero() {
			return shared.ValidationError("line %d must have a debit or credit amount", i+1)
		}
		debits = debits.Add(line.Debit)
		credits = credits.Add(line.Credit)
	}
	if !shared.WithinTolerance(debits, credits) {
		return shared.ValidationError("entry is not balanced: debits %s, credits %s",
			debits.StringFixed(shared.MoneyScale), credits.StringFixed(shared.MoneyScale))
	}
	return nil
}

func (in CreateInput) validate() error {
	if in.Date.IsZero() {
		return shared.ValidationError("entry date required")
	}
	if in.Description == "" {
		return shared.ValidationError("description required")
	}
	return validateLines(in.Lines)
}
