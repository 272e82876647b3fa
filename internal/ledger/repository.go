package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caravel-erp/caravel-erp/internal/platform/db"
	"github.com/caravel-erp/caravel-erp/internal/shared"
)

// Repository defines data access for the chart of accounts.
type Repository interface {
	Insert(ctx context.Context, tenant shared.TenantID, in CreateInput) (AccountHead, error)
	Update(ctx context.Context, tenant shared.TenantID, id int64, in UpdateInput) (AccountHead, error)
	Delete(ctx context.Context, tenant shared.TenantID, id int64) error
	GetByID(ctx context.Context, tenant shared.TenantID, id int64) (AccountHead, error)
	GetByCode(ctx context.Context, tenant shared.TenantID, code string) (AccountHead, error)
	List(ctx context.Context, tenant shared.TenantID, filter ListFilter) ([]AccountHead, int, error)
	HasChildren(ctx context.Context, tenant shared.TenantID, id int64) (bool, error)
	HasJournalLines(ctx context.Context, tenant shared.TenantID, id int64) (bool, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds the pgx-backed account repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const accountColumns = `id, tenant_id, code, name, account_type, parent_id, opening_balance, current_balance, is_system, status, description, created_at, updated_at`

func scanAccount(row pgx.Row) (AccountHead, error) {
	var a AccountHead
	err := row.Scan(&a.ID, &a.TenantID, &a.Code, &a.Name, &a.Type, &a.ParentID,
		&a.OpeningBalance, &a.CurrentBalance, &a.IsSystem, &a.Status, &a.Description,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AccountHead{}, shared.NotFoundError("account not found")
		}
		return AccountHead{}, err
	}
	return a, nil
}

func (r *repository) Insert(ctx context.Context, tenant shared.TenantID, in CreateInput) (AccountHead, error) {
	var account AccountHead
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `INSERT INTO account_heads
(tenant_id, code, name, account_type, parent_id, opening_balance, current_balance, is_system, status, description)
VALUES ($1,$2,$3,$4,$5,$6,$6,$7,$8,$9)
RETURNING `+accountColumns,
			int64(tenant), in.Code, in.Name, in.Type, in.ParentID,
			shared.RoundMoney(in.OpeningBalance), in.IsSystem, in.Status, in.Description)
		var err error
		account, err = scanAccount(row)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return shared.ConflictError("account with code %q already exists", in.Code)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return AccountHead{}, err
	}
	return account, nil
}

func (r *repository) Update(ctx context.Context, tenant shared.TenantID, id int64, in UpdateInput) (AccountHead, error) {
	sets := []string{"updated_at = NOW()"}
	args := []any{int64(tenant), id}
	add := func(expr string, val any) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf(expr, len(args)))
	}
	if in.Name != nil {
		add("name = $%d", *in.Name)
	}
	if in.ParentID != nil {
		add("parent_id = $%d", *in.ParentID)
	}
	if in.Status != nil {
		add("status = $%d", *in.Status)
	}
	if in.Description != nil {
		add("description = $%d", *in.Description)
	}
	query := fmt.Sprintf(`UPDATE account_heads SET %s WHERE tenant_id=$1 AND id=$2 RETURNING %s`,
		strings.Join(sets, ", "), accountColumns)
	return scanAccount(r.pool.QueryRow(ctx, query, args...))
}

func (r *repository) Delete(ctx context.Context, tenant shared.TenantID, id int64) error {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM account_heads WHERE tenant_id=$1 AND id=$2`, int64(tenant), id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.NotFoundError("account not found")
	}
	return nil
}

func (r *repository) GetByID(ctx context.Context, tenant shared.TenantID, id int64) (AccountHead, error) {
	return scanAccount(r.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM account_heads WHERE tenant_id=$1 AND id=$2`, int64(tenant), id))
}

func (r *repository) GetByCode(ctx context.Context, tenant shared.TenantID, code string) (AccountHead, error) {
	return scanAccount(r.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM account_heads WHERE tenant_id=$1 AND code=$2`, int64(tenant), code))
}

func (r *repository) List(ctx context.Context, tenant shared.TenantID, filter ListFilter) ([]AccountHead, int, error) {
	where := []string{"tenant_id = $1"}
	args := []any{int64(tenant)}
	if filter.Type != "" {
		args = append(args, filter.Type)
		where = append(where, fmt.Sprintf("account_type = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		where = append(where, fmt.Sprintf("(code ILIKE $%d OR name ILIKE $%d)", len(args), len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM account_heads WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page := shared.NewPagination(filter.Page, filter.Limit, total)
	args = append(args, page.PerPage, page.Offset())
	rows, err := r.pool.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM account_heads WHERE %s ORDER BY code ASC LIMIT $%d OFFSET $%d`,
		accountColumns, cond, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var accounts []AccountHead
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, 0, err
		}
		accounts = append(accounts, account)
	}
	return accounts, total, rows.Err()
}

func (r *repository) HasChildren(ctx context.Context, tenant shared.TenantID, id int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM account_heads WHERE tenant_id=$1 AND parent_id=$2)`,
		int64(tenant), id).Scan(&exists)
	return exists, err
}

func (r *repository) HasJournalLines(ctx context.Context, tenant shared.TenantID, id int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM journal_entry_lines WHERE tenant_id=$1 AND account_id=$2)`,
		int64(tenant), id).Scan(&exists)
	return exists, err
}
