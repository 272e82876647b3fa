package recon

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caravel-erp/caravel-erp/internal/platform/db"
	"github.com/caravel-erp/caravel-erp/internal/shared"
)

// Repository defines data access for reconciliation sessions and items.
type Repository interface {
	GetSession(ctx context.Context, tenant shared.TenantID, id int64) (Session, error)
	ListSessions(ctx context.Context, tenant shared.TenantID, filter ListFilter) ([]Session, int, error)
	GetItems(ctx context.Context, tenant shared.TenantID, sessionID int64) ([]Item, error)
	UnmatchedLines(ctx context.Context, tenant shared.TenantID, accountID int64, consumed []int64) ([]UnmatchedLine, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes session mutations inside one transaction.
type TxRepository interface {
	GetSessionForUpdate(ctx context.Context, tenant shared.TenantID, id int64) (Session, error)
	InsertSession(ctx context.Context, tenant shared.TenantID, s Session) (Session, error)
	InsertItem(ctx context.Context, tenant shared.TenantID, item Item) (Item, error)
	GetItem(ctx context.Context, tenant shared.TenantID, sessionID, itemID int64) (Item, error)
	SetItemMatch(ctx context.Context, tenant shared.TenantID, itemID int64, lineID *int64) error
	DeleteItem(ctx context.Context, tenant shared.TenantID, itemID int64) error
	ConsumedLineIDs(ctx context.Context, tenant shared.TenantID, sessionID int64) ([]int64, error)
	LineBelongsToAccount(ctx context.Context, tenant shared.TenantID, lineID, accountID int64) (bool, error)
	SetSessionStatus(ctx context.Context, tenant shared.TenantID, id int64, status SessionStatus) error
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds the pgx-backed reconciliation repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const sessionColumns = `s.id, s.tenant_id, s.bank_account_id, a.code, a.name, s.statement_date, s.statement_balance, s.system_balance, s.status, s.reconciled_by, s.created_at, s.updated_at`

const sessionQuery = `SELECT ` + sessionColumns + ` FROM bank_reconciliations s
JOIN account_heads a ON a.id = s.bank_account_id`

func scanSession(row pgx.Row) (Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.TenantID, &s.BankAccountID, &s.BankAccountCode, &s.BankAccountName,
		&s.StatementDate, &s.StatementBalance, &s.SystemBalance, &s.Status, &s.ReconciledBy,
		&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, shared.NotFoundError("reconciliation session not found")
		}
		return Session{}, err
	}
	return s, nil
}

func (r *repository) GetSession(ctx context.Context, tenant shared.TenantID, id int64) (Session, error) {
	session, err := scanSession(r.pool.QueryRow(ctx,
		sessionQuery+` WHERE s.tenant_id=$1 AND s.id=$2`, int64(tenant), id))
	if err != nil {
		return Session{}, err
	}
	session.Items, err = r.GetItems(ctx, tenant, id)
	if err != nil {
		return Session{}, err
	}
	return session, nil
}

func (r *repository) ListSessions(ctx context.Context, tenant shared.TenantID, filter ListFilter) ([]Session, int, error) {
	where := []string{"s.tenant_id = $1"}
	args := []any{int64(tenant)}
	if filter.BankAccountID != 0 {
		args = append(args, filter.BankAccountID)
		where = append(where, fmt.Sprintf("s.bank_account_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("s.status = $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM bank_reconciliations s WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page := shared.NewPagination(filter.Page, filter.Limit, total)
	args = append(args, page.PerPage, page.Offset())
	rows, err := r.pool.Query(ctx, fmt.Sprintf(
		`%s WHERE %s ORDER BY s.created_at DESC LIMIT $%d OFFSET $%d`,
		sessionQuery, cond, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, 0, err
		}
		sessions = append(sessions, session)
	}
	return sessions, total, rows.Err()
}

const itemColumns = `id, tenant_id, session_id, description, statement_amount, statement_date, journal_line_id, matched, created_at`

func scanItem(row pgx.Row) (Item, error) {
	var item Item
	err := row.Scan(&item.ID, &item.TenantID, &item.SessionID, &item.Description,
		&item.StatementAmount, &item.StatementDate, &item.JournalLineID, &item.Matched, &item.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, shared.NotFoundError("statement item not found in this reconciliation")
		}
		return Item{}, err
	}
	return item, nil
}

func (r *repository) GetItems(ctx context.Context, tenant shared.TenantID, sessionID int64) ([]Item, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM bank_reconciliation_items
WHERE tenant_id=$1 AND session_id=$2 ORDER BY statement_date ASC, id ASC`, int64(tenant), sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *repository) UnmatchedLines(ctx context.Context, tenant shared.TenantID, accountID int64, consumed []int64) ([]UnmatchedLine, error) {
	rows, err := r.pool.Query(ctx, `SELECT l.id, e.entry_number, e.date, e.description, e.reference_type, l.debit, l.credit
FROM journal_entry_lines l
JOIN journal_entries e ON e.id = l.entry_id
WHERE l.tenant_id=$1 AND l.account_id=$2 AND e.status='POSTED' AND NOT (l.id = ANY($3))
ORDER BY e.date ASC, l.id ASC`, int64(tenant), accountID, consumed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []UnmatchedLine
	for rows.Next() {
		var line UnmatchedLine
		if err := rows.Scan(&line.LineID, &line.EntryNumber, &line.Date, &line.Description,
			&line.ReferenceType, &line.Debit, &line.Credit); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) GetSessionForUpdate(ctx context.Context, tenant shared.TenantID, id int64) (Session, error) {
	return scanSession(r.tx.QueryRow(ctx,
		sessionQuery+` WHERE s.tenant_id=$1 AND s.id=$2 FOR UPDATE OF s`, int64(tenant), id))
}

func (r *txRepository) InsertSession(ctx context.Context, tenant shared.TenantID, s Session) (Session, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO bank_reconciliations
(tenant_id, bank_account_id, statement_date, statement_balance, system_balance, status, reconciled_by)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id, created_at, updated_at`,
		int64(tenant), s.BankAccountID, s.StatementDate,
		shared.RoundMoney(s.StatementBalance), shared.RoundMoney(s.SystemBalance),
		s.Status, s.ReconciledBy).
		Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return Session{}, err
	}
	s.TenantID = tenant
	return s, nil
}

func (r *txRepository) InsertItem(ctx context.Context, tenant shared.TenantID, item Item) (Item, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO bank_reconciliation_items
(tenant_id, session_id, description, statement_amount, statement_date)
VALUES ($1,$2,$3,$4,$5) RETURNING id, created_at`,
		int64(tenant), item.SessionID, item.Description,
		shared.RoundMoney(item.StatementAmount), item.StatementDate).
		Scan(&item.ID, &item.CreatedAt)
	if err != nil {
		return Item{}, err
	}
	item.TenantID = tenant
	return item, nil
}

func (r *txRepository) GetItem(ctx context.Context, tenant shared.TenantID, sessionID, itemID int64) (Item, error) {
	return scanItem(r.tx.QueryRow(ctx,
		`SELECT `+itemColumns+` FROM bank_reconciliation_items WHERE tenant_id=$1 AND session_id=$2 AND id=$3 FOR UPDATE`,
		int64(tenant), sessionID, itemID))
}

func (r *txRepository) SetItemMatch(ctx context.Context, tenant shared.TenantID, itemID int64, lineID *int64) error {
	cmd, err := r.tx.Exec(ctx,
		`UPDATE bank_reconciliation_items SET journal_line_id=$3, matched=$4 WHERE tenant_id=$1 AND id=$2`,
		int64(tenant), itemID, lineID, lineID != nil)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.NotFoundError("statement item not found")
	}
	return nil
}

func (r *txRepository) DeleteItem(ctx context.Context, tenant shared.TenantID, itemID int64) error {
	cmd, err := r.tx.Exec(ctx,
		`DELETE FROM bank_reconciliation_items WHERE tenant_id=$1 AND id=$2`, int64(tenant), itemID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.NotFoundError("statement item not found")
	}
	return nil
}

func (r *txRepository) ConsumedLineIDs(ctx context.Context, tenant shared.TenantID, sessionID int64) ([]int64, error) {
	rows, err := r.tx.Query(ctx, `SELECT journal_line_id FROM bank_reconciliation_items
WHERE tenant_id=$1 AND session_id=$2 AND journal_line_id IS NOT NULL`, int64(tenant), sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *txRepository) LineBelongsToAccount(ctx context.Context, tenant shared.TenantID, lineID, accountID int64) (bool, error) {
	var ok bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (
SELECT 1 FROM journal_entry_lines l
JOIN journal_entries e ON e.id = l.entry_id
WHERE l.tenant_id=$1 AND l.id=$2 AND l.account_id=$3 AND e.status='POSTED')`,
		int64(tenant), lineID, accountID).Scan(&ok)
	return ok, err
}

func (r *txRepository) SetSessionStatus(ctx context.Context, tenant shared.TenantID, id int64, status SessionStatus) error {
	cmd, err := r.tx.Exec(ctx,
		`UPDATE bank_reconciliations SET status=$3, updated_at=NOW() WHERE tenant_id=$1 AND id=$2`,
		int64(tenant), id, status)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.NotFoundError("reconciliation session not found")
	}
	return nil
}
