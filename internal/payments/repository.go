package payments

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/caravel-erp/caravel-erp/internal/platform/db"
	"github.com/caravel-erp/caravel-erp/internal/shared"
)

// Repository defines data access for allocations, invoices and promises.
type Repository interface {
	OutstandingInvoices(ctx context.Context, tenant shared.TenantID, clientID int64) ([]Invoice, error)
	AllocationsForPayment(ctx context.Context, tenant shared.TenantID, paymentID uuid.UUID) ([]Allocation, error)
	AllocationsForInvoice(ctx context.Context, tenant shared.TenantID, invoiceID uuid.UUID) ([]Allocation, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the mutations one allocation run performs atomically:
// allocation rows, invoice paid-amount updates and the client balance all
// commit or roll back together.
type TxRepository interface {
	OutstandingInvoicesForUpdate(ctx context.Context, tenant shared.TenantID, clientID int64) ([]Invoice, error)
	InsertAllocation(ctx context.Context, tenant shared.TenantID, a Allocation) (Allocation, error)
	UpdateInvoicePayment(ctx context.Context, tenant shared.TenantID, invoiceID uuid.UUID, paid decimal.Decimal, status InvoiceStatus) error
	ClientBalanceForUpdate(ctx context.Context, tenant shared.TenantID, clientID int64) (decimal.Decimal, error)
	SetClientBalance(ctx context.Context, tenant shared.TenantID, clientID int64, balance decimal.Decimal) error
	PendingPromisesForUpdate(ctx context.Context, tenant shared.TenantID, clientID int64) ([]Promise, error)
	SettlePromise(ctx context.Context, tenant shared.TenantID, promiseID int64, status PromiseStatus, actualDate time.Time, actualAmount decimal.Decimal) error
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds the pgx-backed payments repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const invoiceColumns = `id, tenant_id, client_id, invoice_number, total, paid_amount, status, invoice_date, due_date`

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.TenantID, &inv.ClientID, &inv.InvoiceNumber,
		&inv.Total, &inv.PaidAmount, &inv.Status, &inv.InvoiceDate, &inv.DueDate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, shared.NotFoundError("invoice not found")
		}
		return Invoice{}, err
	}
	return inv, nil
}

// outstandingInvoicesQuery loads settleable invoices oldest invoice date
// first, the FIFO order allocation walks.
const outstandingInvoicesQuery = `SELECT ` + invoiceColumns + ` FROM invoices
WHERE tenant_id=$1 AND client_id=$2 AND status IN ('PENDING','PARTIAL','OVERDUE')
ORDER BY invoice_date ASC, id ASC`

func collectInvoices(rows pgx.Rows, err error) ([]Invoice, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var invoices []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

func (r *repository) OutstandingInvoices(ctx context.Context, tenant shared.TenantID, clientID int64) ([]Invoice, error) {
	return collectInvoices(r.pool.Query(ctx, outstandingInvoicesQuery, int64(tenant), clientID))
}

const allocationColumns = `a.id, a.tenant_id, a.payment_id, a.invoice_id, i.invoice_number, a.amount, a.created_at`

func (r *repository) allocations(ctx context.Context, cond string, args ...any) ([]Allocation, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+allocationColumns+` FROM payment_allocations a
JOIN invoices i ON i.id = a.invoice_id
WHERE `+cond+` ORDER BY a.created_at ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var allocations []Allocation
	for rows.Next() {
		var a Allocation
		if err := rows.Scan(&a.ID, &a.TenantID, &a.PaymentID, &a.InvoiceID,
			&a.InvoiceNumber, &a.Amount, &a.CreatedAt); err != nil {
			return nil, err
		}
		allocations = append(allocations, a)
	}
	return allocations, rows.Err()
}

func (r *repository) AllocationsForPayment(ctx context.Context, tenant shared.TenantID, paymentID uuid.UUID) ([]Allocation, error) {
	return r.allocations(ctx, "a.tenant_id=$1 AND a.payment_id=$2", int64(tenant), paymentID)
}

func (r *repository) AllocationsForInvoice(ctx context.Context, tenant shared.TenantID, invoiceID uuid.UUID) ([]Allocation, error) {
	return r.allocations(ctx, "a.tenant_id=$1 AND a.invoice_id=$2", int64(tenant), invoiceID)
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) OutstandingInvoicesForUpdate(ctx context.Context, tenant shared.TenantID, clientID int64) ([]Invoice, error) {
	return collectInvoices(r.tx.Query(ctx, outstandingInvoicesQuery+` FOR UPDATE`, int64(tenant), clientID))
}

func (r *txRepository) InsertAllocation(ctx context.Context, tenant shared.TenantID, a Allocation) (Allocation, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO payment_allocations (tenant_id, payment_id, invoice_id, amount)
VALUES ($1,$2,$3,$4) RETURNING id, created_at`,
		int64(tenant), a.PaymentID, a.InvoiceID, shared.RoundMoney(a.Amount)).
		Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return Allocation{}, err
	}
	a.TenantID = tenant
	return a, nil
}

func (r *txRepository) UpdateInvoicePayment(ctx context.Context, tenant shared.TenantID, invoiceID uuid.UUID, paid decimal.Decimal, status InvoiceStatus) error {
	cmd, err := r.tx.Exec(ctx,
		`UPDATE invoices SET paid_amount=$3, status=$4, updated_at=NOW() WHERE tenant_id=$1 AND id=$2`,
		int64(tenant), invoiceID, shared.RoundMoney(paid), status)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.NotFoundError("invoice not found")
	}
	return nil
}

func (r *txRepository) ClientBalanceForUpdate(ctx context.Context, tenant shared.TenantID, clientID int64) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.tx.QueryRow(ctx,
		`SELECT balance FROM clients WHERE tenant_id=$1 AND id=$2 FOR UPDATE`,
		int64(tenant), clientID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, shared.NotFoundError("client not found")
		}
		return decimal.Zero, err
	}
	return balance, nil
}

func (r *txRepository) SetClientBalance(ctx context.Context, tenant shared.TenantID, clientID int64, balance decimal.Decimal) error {
	cmd, err := r.tx.Exec(ctx,
		`UPDATE clients SET balance=$3, updated_at=NOW() WHERE tenant_id=$1 AND id=$2`,
		int64(tenant), clientID, shared.RoundMoney(balance))
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.NotFoundError("client not found")
	}
	return nil
}

func (r *txRepository) PendingPromisesForUpdate(ctx context.Context, tenant shared.TenantID, clientID int64) ([]Promise, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, tenant_id, client_id, promise_date, promise_amount, status, actual_date, actual_amount
FROM payment_promises
WHERE tenant_id=$1 AND client_id=$2 AND status='PENDING'
ORDER BY promise_date ASC, id ASC
FOR UPDATE`, int64(tenant), clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var promises []Promise
	for rows.Next() {
		var p Promise
		if err := rows.Scan(&p.ID, &p.TenantID, &p.ClientID, &p.PromiseDate,
			&p.PromiseAmount, &p.Status, &p.ActualDate, &p.ActualAmount); err != nil {
			return nil, err
		}
		promises = append(promises, p)
	}
	return promises, rows.Err()
}

func (r *txRepository) SettlePromise(ctx context.Context, tenant shared.TenantID, promiseID int64, status PromiseStatus, actualDate time.Time, actualAmount decimal.Decimal) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE payment_promises
SET status=$3, actual_date=$4, actual_amount=$5, updated_at=NOW()
WHERE tenant_id=$1 AND id=$2`,
		int64(tenant), promiseID, status, actualDate, shared.RoundMoney(actualAmount))
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.NotFoundError("payment promise not found")
	}
	return nil
}
