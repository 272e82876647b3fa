package periods

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/caravel-erp/caravel-erp/internal/shared"
)

// Repository defines data access for period closes and the posted-line
// aggregates month close needs.
type Repository interface {
	LatestClosedCutoff(ctx context.Context, tenant shared.TenantID) (time.Time, bool, error)
	FindClose(ctx context.Context, tenant shared.TenantID, periodDate time.Time) (Close, error)
	InsertClose(ctx context.Context, tenant shared.TenantID, c Close) (Close, error)
	SetCloseStatus(ctx context.Context, tenant shared.TenantID, id int64, status CloseStatus) error
	ListCloses(ctx context.Context, tenant shared.TenantID) ([]Close, error)
	TrialBalanceTotals(ctx context.Context, tenant shared.TenantID, asOf time.Time) (decimal.Decimal, decimal.Decimal, error)
	PeriodActivity(ctx context.Context, tenant shared.TenantID, from, to time.Time) ([]AccountActivity, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds the pgx-backed periods repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const closeColumns = `id, tenant_id, period_date, status, net_profit, closed_by, closing_entry_id, created_at, updated_at`

func scanClose(row pgx.Row) (Close, error) {
	var c Close
	err := row.Scan(&c.ID, &c.TenantID, &c.PeriodDate, &c.Status, &c.NetProfit,
		&c.ClosedBy, &c.ClosingEntryID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Close{}, shared.NotFoundError("period close not found")
		}
		return Close{}, err
	}
	return c, nil
}

func (r *repository) LatestClosedCutoff(ctx context.Context, tenant shared.TenantID) (time.Time, bool, error) {
	var cutoff time.Time
	err := r.pool.QueryRow(ctx,
		`SELECT period_date FROM period_closes WHERE tenant_id=$1 AND status='CLOSED' ORDER BY period_date DESC LIMIT 1`,
		int64(tenant)).Scan(&cutoff)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	return cutoff, true, nil
}

func (r *repository) FindClose(ctx context.Context, tenant shared.TenantID, periodDate time.Time) (Close, error) {
	return scanClose(r.pool.QueryRow(ctx,
		`SELECT `+closeColumns+` FROM period_closes WHERE tenant_id=$1 AND period_date=$2`,
		int64(tenant), periodDate))
}

func (r *repository) InsertClose(ctx context.Context, tenant shared.TenantID, c Close) (Close, error) {
	return scanClose(r.pool.QueryRow(ctx, `INSERT INTO period_closes
(tenant_id, period_date, status, net_profit, closed_by, closing_entry_id)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING `+closeColumns,
		int64(tenant), c.PeriodDate, c.Status, shared.RoundMoney(c.NetProfit), c.ClosedBy, c.ClosingEntryID))
}

func (r *repository) SetCloseStatus(ctx context.Context, tenant shared.TenantID, id int64, status CloseStatus) error {
	cmd, err := r.pool.Exec(ctx,
		`UPDATE period_closes SET status=$3, updated_at=NOW() WHERE tenant_id=$1 AND id=$2`,
		int64(tenant), id, status)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.NotFoundError("period close not found")
	}
	return nil
}

func (r *repository) ListCloses(ctx context.Context, tenant shared.TenantID) ([]Close, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+closeColumns+` FROM period_closes WHERE tenant_id=$1 ORDER BY period_date DESC`, int64(tenant))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var closes []Close
	for rows.Next() {
		c, err := scanClose(rows)
		if err != nil {
			return nil, err
		}
		closes = append(closes, c)
	}
	return closes, rows.Err()
}

func (r *repository) TrialBalanceTotals(ctx context.Context, tenant shared.TenantID, asOf time.Time) (decimal.Decimal, decimal.Decimal, error) {
	var debits, credits decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(l.debit), 0), COALESCE(SUM(l.credit), 0)
FROM journal_entry_lines l
JOIN journal_entries e ON e.id = l.entry_id
WHERE l.tenant_id=$1 AND e.status='POSTED' AND e.date <= $2`,
		int64(tenant), asOf).Scan(&debits, &credits)
	return debits, credits, err
}

func (r *repository) PeriodActivity(ctx context.Context, tenant shared.TenantID, from, to time.Time) ([]AccountActivity, error) {
	rows, err := r.pool.Query(ctx, `SELECT a.id, a.code, a.account_type, COALESCE(SUM(l.debit), 0), COALESCE(SUM(l.credit), 0)
FROM journal_entry_lines l
JOIN journal_entries e ON e.id = l.entry_id
JOIN account_heads a ON a.id = l.account_id
WHERE l.tenant_id=$1 AND e.status='POSTED' AND e.date >= $2 AND e.date <= $3
AND a.account_type IN ('REVENUE','EXPENSE')
GROUP BY a.id, a.code, a.account_type
ORDER BY a.code ASC`, int64(tenant), from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var activity []AccountActivity
	for rows.Next() {
		var a AccountActivity
		if err := rows.Scan(&a.AccountID, &a.Code, &a.Type, &a.Debit, &a.Credit); err != nil {
			return nil, err
		}
		activity = append(activity, a)
	}
	return activity, rows.Err()
}
