package payments

import (
	"context"
	"fmt"
	"log/slog"
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

// EventPort emits post-commit events. Promise matching rides on it so its
// failure can never roll back a committed allocation.
type EventPort interface {
	PromiseMatchRequested(ctx context.Context, evt PromiseMatchRequested) error
}

// Service distributes incoming client payments across outstanding invoices,
// oldest debt first.
type Service struct {
	repo   Repository
	audit  AuditPort
	guard  PeriodGuard
	events EventPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds a Service instance.
func NewService(repo Repository, audit AuditPort, guard PeriodGuard, events EventPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, guard: guard, events: events, logger: logger, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// AllocateToInvoices applies a payment to the client's outstanding invoices
// in invoice-date order. Allocation rows, invoice updates and the clamped
// client balance share one transaction; promise matching is requested after
// commit and its failure is logged and swallowed.
func (s *Service) AllocateToInvoices(ctx context.Context, tenant shared.TenantID, in AllocationInput) (AllocationResult, error) {
	if !tenant.Valid() {
		return AllocationResult{}, shared.ValidationError("tenant required")
	}
	if !in.Amount.IsPositive() {
		return AllocationResult{}, shared.ValidationError("payment amount must be positive")
	}
	if in.Date.IsZero() {
		in.Date = s.now()
	}
	if s.guard != nil {
		if err := s.guard.AssertOpen(ctx, tenant, in.Date); err != nil {
			return AllocationResult{}, err
		}
	}

	result := AllocationResult{PaymentID: in.PaymentID, TotalAllocated: decimal.Zero}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		invoices, err := tx.OutstandingInvoicesForUpdate(ctx, tenant, in.ClientID)
		if err != nil {
			return err
		}
		remaining := in.Amount
		for _, invoice := range invoices {
			if !remaining.IsPositive() {
				break
			}
			allocated := decimal.Min(remaining, invoice.Outstanding())
			allocation, err := tx.InsertAllocation(ctx, tenant, Allocation{
				PaymentID: in.PaymentID,
				InvoiceID: invoice.ID,
				Amount:    allocated,
			})
			if err != nil {
				return err
			}
			allocation.InvoiceNumber = invoice.InvoiceNumber
			newPaid := invoice.PaidAmount.Add(allocated)
			status := StatusFor(invoice.Total, newPaid, invoice.DueDate, s.now())
			if err := tx.UpdateInvoicePayment(ctx, tenant, invoice.ID, newPaid, status); err != nil {
				return err
			}
			result.Allocations = append(result.Allocations, allocation)
			result.TotalAllocated = result.TotalAllocated.Add(allocated)
			remaining = remaining.Sub(allocated)
		}
		result.Overpayment = remaining

		return s.applyClientBalance(ctx, tx, tenant, in.ClientID, in.Amount)
	})
	if err != nil {
		return AllocationResult{}, err
	}

	s.recordAudit(ctx, tenant, in.ActorID, "payment.allocate", in.PaymentID.String(),
		fmt.Sprintf("Payment allocated: %s across %d invoice(s), overpayment %s",
			result.TotalAllocated.StringFixed(shared.MoneyScale), len(result.Allocations),
			result.Overpayment.StringFixed(shared.MoneyScale)))

	if s.events != nil {
		evt := PromiseMatchRequested{
			TenantID:  tenant,
			ClientID:  in.ClientID,
			PaymentID: in.PaymentID,
			Amount:    in.Amount,
			Date:      in.Date,
			ActorID:   in.ActorID,
		}
		if err := s.events.PromiseMatchRequested(ctx, evt); err != nil {
			s.logger.Warn("promise match request failed",
				slog.Int64("client_id", in.ClientID),
				slog.String("payment_id", in.PaymentID.String()),
				slog.Any("error", err))
		}
	}
	return result, nil
}

// UpdateClientBalance reduces the client balance by a paid amount, floored at
// zero. The clamp is a deliberate invariant, not display cosmetics.
func (s *Service) UpdateClientBalance(ctx context.Context, tenant shared.TenantID, clientID int64, paid decimal.Decimal) (decimal.Decimal, error) {
	if !tenant.Valid() {
		return decimal.Zero, shared.ValidationError("tenant required")
	}
	var newBalance decimal.Decimal
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		newBalance, err = s.applyClientBalanceReturning(ctx, tx, tenant, clientID, paid)
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}
	return newBalance, nil
}

func (s *Service) applyClientBalance(ctx context.Context, tx TxRepository, tenant shared.TenantID, clientID int64, paid decimal.Decimal) error {
	_, err := s.applyClientBalanceReturning(ctx, tx, tenant, clientID, paid)
	return err
}

func (s *Service) applyClientBalanceReturning(ctx context.Context, tx TxRepository, tenant shared.TenantID, clientID int64, paid decimal.Decimal) (decimal.Decimal, error) {
	current, err := tx.ClientBalanceForUpdate(ctx, tenant, clientID)
	if err != nil {
		return decimal.Zero, err
	}
	newBalance := current.Sub(paid)
	if newBalance.IsNegative() {
		newBalance = decimal.Zero
	}
	if err := tx.SetClientBalance(ctx, tenant, clientID, newBalance); err != nil {
		return decimal.Zero, err
	}
	return newBalance, nil
}

// MatchPromises settles the client's pending payment promises oldest first.
// A promise fully covered becomes FULFILLED, the last partially covered one
// PARTIAL. Invoked by the post-commit worker, never inside an allocation.
func (s *Service) MatchPromises(ctx context.Context, tenant shared.TenantID, clientID int64, amount decimal.Decimal, date time.Time) (PromiseMatchResult, error) {
	if !amount.IsPositive() {
		return PromiseMatchResult{}, shared.ValidationError("amount must be positive")
	}
	result := PromiseMatchResult{Remaining: amount}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		promises, err := tx.PendingPromisesForUpdate(ctx, tenant, clientID)
		if err != nil {
			return err
		}
		for _, promise := range promises {
			if !result.Remaining.IsPositive() {
				break
			}
			if result.Remaining.Cmp(promise.PromiseAmount) >= 0 {
				if err := tx.SettlePromise(ctx, tenant, promise.ID, PromiseStatusFulfilled, date, promise.PromiseAmount); err != nil {
					return err
				}
				result.Matched = append(result.Matched, PromiseMatch{
					PromiseID:     promise.ID,
					PromiseAmount: promise.PromiseAmount,
					MatchedAmount: promise.PromiseAmount,
					Status:        PromiseStatusFulfilled,
				})
				result.Remaining = result.Remaining.Sub(promise.PromiseAmount)
				continue
			}
			if err := tx.SettlePromise(ctx, tenant, promise.ID, PromiseStatusPartial, date, result.Remaining); err != nil {
				return err
			}
			result.Matched = append(result.Matched, PromiseMatch{
				PromiseID:     promise.ID,
				PromiseAmount: promise.PromiseAmount,
				MatchedAmount: result.Remaining,
				Status:        PromiseStatusPartial,
			})
			result.Remaining = decimal.Zero
		}
		return nil
	})
	if err != nil {
		return PromiseMatchResult{}, err
	}
	if len(result.Matched) == 0 {
		s.logger.Info("no pending promises to match", slog.Int64("client_id", clientID))
	}
	return result, nil
}

// GetOutstandingInvoices lists the client's settleable invoices oldest first.
func (s *Service) GetOutstandingInvoices(ctx context.Context, tenant shared.TenantID, clientID int64) ([]Invoice, error) {
	return s.repo.OutstandingInvoices(ctx, tenant, clientID)
}

// GetPaymentAllocations lists a payment's allocation breakdown.
func (s *Service) GetPaymentAllocations(ctx context.Context, tenant shared.TenantID, paymentID uuid.UUID) ([]Allocation, error) {
	return s.repo.AllocationsForPayment(ctx, tenant, paymentID)
}

// GetInvoiceAllocations lists payments applied to one invoice.
func (s *Service) GetInvoiceAllocations(ctx context.Context, tenant shared.TenantID, invoiceID uuid.UUID) ([]Allocation, error) {
	return s.repo.AllocationsForInvoice(ctx, tenant, invoiceID)
}

func (s *Service) recordAudit(ctx context.Context, tenant shared.TenantID, actorID int64, action, entityID, notes string) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		TenantID: tenant,
		ActorID:  actorID,
		Action:   action,
		Entity:   "payment",
		EntityID: entityID,
		Notes:    notes,
		At:       s.now(),
	})
}
