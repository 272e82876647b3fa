package payments

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/caravel-erp/caravel-erp/internal/shared"
)

// InvoiceStatus enumerates invoice settlement states.
type InvoiceStatus string

const (
	InvoiceStatusPending   InvoiceStatus = "PENDING"
	InvoiceStatusPartial   InvoiceStatus = "PARTIAL"
	InvoiceStatusPaid      InvoiceStatus = "PAID"
	InvoiceStatusOverdue   InvoiceStatus = "OVERDUE"
	InvoiceStatusVoided    InvoiceStatus = "VOIDED"
	InvoiceStatusCancelled InvoiceStatus = "CANCELLED"
)

// outstandingStatuses are the states a payment can still settle against.
var outstandingStatuses = []InvoiceStatus{InvoiceStatusPending, InvoiceStatusPartial, InvoiceStatusOverdue}

// Invoice is the slice of the external invoice entity this engine consumes.
// The engine mutates PaidAmount and Status only, never Total.
type Invoice struct {
	ID            uuid.UUID       `json:"id"`
	TenantID      shared.TenantID `json:"tenant_id"`
	ClientID      int64           `json:"client_id"`
	InvoiceNumber string          `json:"invoice_number"`
	Total         decimal.Decimal `json:"total"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
	Status        InvoiceStatus   `json:"status"`
	InvoiceDate   time.Time       `json:"invoice_date"`
	DueDate       time.Time       `json:"due_date"`
}

// Outstanding returns the unsettled remainder.
func (i Invoice) Outstanding() decimal.Decimal {
	return i.Total.Sub(i.PaidAmount)
}

// StatusFor recomputes the invoice status after a paid-amount change.
func StatusFor(total, paid decimal.Decimal, dueDate, now time.Time) InvoiceStatus {
	switch {
	case paid.Cmp(total) >= 0:
		return InvoiceStatusPaid
	case paid.IsPositive():
		return InvoiceStatusPartial
	case now.After(dueDate):
		return InvoiceStatusOverdue
	default:
		return InvoiceStatusPending
	}
}

// Allocation joins one payment to one invoice for a portion of the payment.
type Allocation struct {
	ID            int64           `json:"id"`
	TenantID      shared.TenantID `json:"tenant_id"`
	PaymentID     uuid.UUID       `json:"payment_id"`
	InvoiceID     uuid.UUID       `json:"invoice_id"`
	InvoiceNumber string          `json:"invoice_number"`
	Amount        decimal.Decimal `json:"amount"`
	CreatedAt     time.Time       `json:"created_at"`
}

// AllocationInput groups the fields of an incoming client payment.
type AllocationInput struct {
	PaymentID uuid.UUID
	ClientID  int64
	Amount    decimal.Decimal
	Date      time.Time
	ActorID   int64
}

// AllocationResult reports how a payment was distributed.
// TotalAllocated plus Overpayment always equals the payment amount.
type AllocationResult struct {
	PaymentID      uuid.UUID       `json:"payment_id"`
	TotalAllocated decimal.Decimal `json:"total_allocated"`
	Overpayment    decimal.Decimal `json:"overpayment"`
	Allocations    []Allocation    `json:"allocations"`
}

// PromiseStatus enumerates payment promise states.
type PromiseStatus string

const (
	PromiseStatusPending   PromiseStatus = "PENDING"
	PromiseStatusFulfilled PromiseStatus = "FULFILLED"
	PromiseStatusPartial   PromiseStatus = "PARTIAL"
	PromiseStatusBroken    PromiseStatus = "BROKEN"
)

// Promise is a client's commitment to pay by a date, settled oldest first
// when payments actually land.
type Promise struct {
	ID            int64
	TenantID      shared.TenantID
	ClientID      int64
	PromiseDate   time.Time
	PromiseAmount decimal.Decimal
	Status        PromiseStatus
	ActualDate    *time.Time
	ActualAmount  *decimal.Decimal
}

// PromiseMatch reports one promise settled by a payment.
type PromiseMatch struct {
	PromiseID     int64           `json:"promise_id"`
	PromiseAmount decimal.Decimal `json:"promise_amount"`
	MatchedAmount decimal.Decimal `json:"matched_amount"`
	Status        PromiseStatus   `json:"status"`
}

// PromiseMatchResult is what a matching run produced.
type PromiseMatchResult struct {
	Matched   []PromiseMatch  `json:"matched"`
	Remaining decimal.Decimal `json:"remaining"`
}

// PromiseMatchRequested is emitted after an allocation commits; a worker
// consumes it to run promise matching outside the allocation transaction.
type PromiseMatchRequested struct {
	TenantID  shared.TenantID `json:"tenant_id"`
	ClientID  int64           `json:"client_id"`
	PaymentID uuid.UUID       `json:"payment_id"`
	Amount    decimal.Decimal `json:"amount"`
	Date      time.Time       `json:"date"`
	ActorID   int64           `json:"actor_id"`
}
