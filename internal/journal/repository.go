package journal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/caravel-erp/caravel-erp/internal/ledger"
	"github.com/caravel-erp/caravel-erp/internal/platform/db"
	"github.com/caravel-erp/caravel-erp/internal/shared"
)

// Repository encapsulates DB operations for journal entries.
type Repository interface {
	GetByID(ctx context.Context, tenant shared.TenantID, id int64) (Entry, error)
	List(ctx context.Context, tenant shared.TenantID, filter ListFilter) ([]Entry, int, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the unit-of-work operations available inside one
// transaction. Every mutation the service performs goes through this handle
// so atomicity is explicit.
type TxRepository interface {
	NextEntryNumber(ctx context.Context, tenant shared.TenantID, date time.Time) (string, error)
	InsertEntry(ctx context.Context, tenant shared.TenantID, in CreateInput, number string) (Entry, error)
	InsertLines(ctx context.Context, tenant shared.TenantID, entryID int64, lines []LineInput) error
	DeleteLines(ctx context.Context, tenant shared.TenantID, entryID int64) error
	GetEntryForUpdate(ctx context.Context, tenant shared.TenantID, id int64) (Entry, error)
	GetLines(ctx context.Context, tenant shared.TenantID, entryID int64) ([]Line, error)
	UpdateHeader(ctx context.Context, tenant shared.TenantID, id int64, in UpdateInput) error
	MarkPosted(ctx context.Context, tenant shared.TenantID, id int64, approvedBy int64) error
	DeleteEntry(ctx context.Context, tenant shared.TenantID, id int64) error
	GetAccountForUpdate(ctx context.Context, tenant shared.TenantID, accountID int64) (ledger.AccountHead, error)
	AddToAccountBalance(ctx context.Context, tenant shared.TenantID, accountID int64, delta decimal.Decimal) error
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds the pgx-backed journal repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const entryColumns = `id, tenant_id, entry_number, date, description, status, reference_type, reference_id, created_by, approved_by, created_at, updated_at`

func scanEntry(row pgx.Row) (Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.TenantID, &e.EntryNumber, &e.Date, &e.Description, &e.Status,
		&e.ReferenceType, &e.ReferenceID, &e.CreatedBy, &e.ApprovedBy, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, shared.NotFoundError("journal entry not found")
		}
		return Entry{}, err
	}
	return e, nil
}

func (r *repository) GetByID(ctx context.Context, tenant shared.TenantID, id int64) (Entry, error) {
	entry, err := scanEntry(r.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM journal_entries WHERE tenant_id=$1 AND id=$2`, int64(tenant), id))
	if err != nil {
		return Entry{}, err
	}
	lines, err := queryLines(ctx, r.pool, tenant, id)
	if err != nil {
		return Entry{}, err
	}
	entry.Lines = lines
	return entry, nil
}

func (r *repository) List(ctx context.Context, tenant shared.TenantID, filter ListFilter) ([]Entry, int, error) {
	where := []string{"tenant_id = $1"}
	args := []any{int64(tenant)}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.DateFrom != nil {
		args = append(args, *filter.DateFrom)
		where = append(where, fmt.Sprintf("date >= $%d", len(args)))
	}
	if filter.DateTo != nil {
		args = append(args, *filter.DateTo)
		where = append(where, fmt.Sprintf("date <= $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		where = append(where, fmt.Sprintf("(entry_number ILIKE $%d OR description ILIKE $%d)", len(args), len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM journal_entries WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page := shared.NewPagination(filter.Page, filter.Limit, total)
	args = append(args, page.PerPage, page.Offset())
	rows, err := r.pool.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM journal_entries WHERE %s ORDER BY date DESC, id DESC LIMIT $%d OFFSET $%d`,
		entryColumns, cond, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for i := range entries {
		lines, err := queryLines(ctx, r.pool, tenant, entries[i].ID)
		if err != nil {
			return nil, 0, err
		}
		entries[i].Lines = lines
	}
	return entries, total, nil
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

type txRepository struct {
	tx pgx.Tx
}

// NextEntryNumber allocates the next date-scoped sequence number, format
// JE-YYYYMMDD-NNN. The count runs inside the caller's transaction so two
// concurrent creates for the same date serialise on the insert below.
func (r *txRepository) NextEntryNumber(ctx context.Context, tenant shared.TenantID, date time.Time) (string, error) {
	prefix := fmt.Sprintf("JE-%s-", date.Format("20060102"))
	var count int
	err := r.tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM journal_entries WHERE tenant_id=$1 AND entry_number LIKE $2`,
		int64(tenant), prefix+"%").Scan(&count)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%03d", prefix, count+1), nil
}

func (r *txRepository) InsertEntry(ctx context.Context, tenant shared.TenantID, in CreateInput, number string) (Entry, error) {
	return scanEntry(r.tx.QueryRow(ctx, `INSERT INTO journal_entries
(tenant_id, entry_number, date, description, status, reference_type, reference_id, created_by)
VALUES ($1,$2,$3,$4,'DRAFT',$5,$6,$7)
RETURNING `+entryColumns,
		int64(tenant), number, in.Date, strings.TrimSpace(in.Description),
		in.ReferenceType, in.ReferenceID, in.CreatedBy))
}

func (r *txRepository) InsertLines(ctx context.Context, tenant shared.TenantID, entryID int64, lines []LineInput) error {
	for _, line := range lines {
		if _, err := r.tx.Exec(ctx, `INSERT INTO journal_entry_lines
(tenant_id, entry_id, account_id, debit, credit, description)
VALUES ($1,$2,$3,$4,$5,$6)`,
			int64(tenant), entryID, line.AccountID,
			shared.RoundMoney(line.Debit), shared.RoundMoney(line.Credit), line.Description); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) DeleteLines(ctx context.Context, tenant shared.TenantID, entryID int64) error {
	_, err := r.tx.Exec(ctx,
		`DELETE FROM journal_entry_lines WHERE tenant_id=$1 AND entry_id=$2`, int64(tenant), entryID)
	return err
}

func (r *txRepository) GetEntryForUpdate(ctx context.Context, tenant shared.TenantID, id int64) (Entry, error) {
	return scanEntry(r.tx.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM journal_entries WHERE tenant_id=$1 AND id=$2 FOR UPDATE`,
		int64(tenant), id))
}

func (r *txRepository) GetLines(ctx context.Context, tenant shared.TenantID, entryID int64) ([]Line, error) {
	return queryLines(ctx, r.tx, tenant, entryID)
}

func (r *txRepository) UpdateHeader(ctx context.Context, tenant shared.TenantID, id int64, in UpdateInput) error {
	sets := []string{"updated_at = NOW()"}
	args := []any{int64(tenant), id}
	add := func(expr string, val any) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf(expr, len(args)))
	}
	if in.Date != nil {
		add("date = $%d", *in.Date)
	}
	if in.Description != nil {
		add("description = $%d", strings.TrimSpace(*in.Description))
	}
	if in.ReferenceType != nil {
		add("reference_type = $%d", *in.ReferenceType)
	}
	if in.ReferenceID != nil {
		add("reference_id = $%d", *in.ReferenceID)
	}
	cmd, err := r.tx.Exec(ctx, fmt.Sprintf(
		`UPDATE journal_entries SET %s WHERE tenant_id=$1 AND id=$2`, strings.Join(sets, ", ")), args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.NotFoundError("journal entry not found")
	}
	return nil
}

func (r *txRepository) MarkPosted(ctx context.Context, tenant shared.TenantID, id int64, approvedBy int64) error {
	cmd, err := r.tx.Exec(ctx,
		`UPDATE journal_entries SET status='POSTED', approved_by=$3, updated_at=NOW()
WHERE tenant_id=$1 AND id=$2 AND status='DRAFT'`, int64(tenant), id, approvedBy)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.StateError("journal entry already posted")
	}
	return nil
}

func (r *txRepository) DeleteEntry(ctx context.Context, tenant shared.TenantID, id int64) error {
	if err := r.DeleteLines(ctx, tenant, id); err != nil {
		return err
	}
	cmd, err := r.tx.Exec(ctx,
		`DELETE FROM journal_entries WHERE tenant_id=$1 AND id=$2`, int64(tenant), id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.NotFoundError("journal entry not found")
	}
	return nil
}

func (r *txRepository) GetAccountForUpdate(ctx context.Context, tenant shared.TenantID, accountID int64) (ledger.AccountHead, error) {
	var a ledger.AccountHead
	err := r.tx.QueryRow(ctx, `SELECT id, code, account_type, current_balance
FROM account_heads WHERE tenant_id=$1 AND id=$2 FOR UPDATE`, int64(tenant), accountID).
		Scan(&a.ID, &a.Code, &a.Type, &a.CurrentBalance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.AccountHead{}, shared.NotFoundError("account %d not found", accountID)
		}
		return ledger.AccountHead{}, err
	}
	a.TenantID = tenant
	return a, nil
}

func (r *txRepository) AddToAccountBalance(ctx context.Context, tenant shared.TenantID, accountID int64, delta decimal.Decimal) error {
	cmd, err := r.tx.Exec(ctx,
		`UPDATE account_heads SET current_balance = current_balance + $3, updated_at = NOW()
WHERE tenant_id=$1 AND id=$2`, int64(tenant), accountID, shared.RoundMoney(delta))
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.NotFoundError("account %d not found", accountID)
	}
	return nil
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryLines(ctx context.Context, q queryer, tenant shared.TenantID, entryID int64) ([]Line, error) {
	rows, err := q.Query(ctx, `SELECT l.id, l.entry_id, l.account_id, a.code, a.account_type, l.debit, l.credit, l.description, l.created_at
FROM journal_entry_lines l
JOIN account_heads a ON a.id = l.account_id
WHERE l.tenant_id=$1 AND l.entry_id=$2
ORDER BY l.id ASC`, int64(tenant), entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ID, &line.EntryID, &line.AccountID, &line.AccountCode,
			&line.AccountType, &line.Debit, &line.Credit, &line.Description, &line.CreatedAt); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}
