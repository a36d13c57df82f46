package accounting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/mfgerp/mfgerp/internal/platform/db"
	"github.com/mfgerp/mfgerp/internal/shared"
)

// Repository persists ledger entities.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	InsertAccount(ctx context.Context, a Account) (Account, error)
	GetAccount(ctx context.Context, orgID, id int64) (Account, error)
	ListAccounts(ctx context.Context, filter AccountFilter) ([]Account, error)
	UpdateAccount(ctx context.Context, a Account) error
	SoftDeleteAccount(ctx context.Context, orgID, id int64, at time.Time) error
	CountChildren(ctx context.Context, orgID, id int64) (int, error)
	AccountInUse(ctx context.Context, accountID int64) (bool, error)
	ParentOf(ctx context.Context, orgID, id int64) (*int64, error)
	FindAccounts(ctx context.Context, ids []int64) ([]Account, error)
	LockAccounts(ctx context.Context, ids []int64) ([]Account, error)
	ApplyBalanceDelta(ctx context.Context, accountID int64, delta decimal.Decimal) (decimal.Decimal, error)

	InsertFiscalYear(ctx context.Context, fy FiscalYear) (FiscalYear, error)
	GetFiscalYear(ctx context.Context, orgID, id int64) (FiscalYear, error)
	ListFiscalYears(ctx context.Context, orgID int64) ([]FiscalYear, error)
	UpdateFiscalYearStatus(ctx context.Context, id int64, status FiscalYearStatus, locked bool) error

	InsertVoucher(ctx context.Context, v Voucher) (Voucher, error)
	InsertEntries(ctx context.Context, voucherID int64, entries []EntryInput) ([]Entry, error)
	DeleteEntries(ctx context.Context, voucherID int64) error
	UpdateVoucherHeader(ctx context.Context, v Voucher) error
	DeleteVoucher(ctx context.Context, orgID, id int64) error
	GetVoucher(ctx context.Context, orgID, id int64) (Voucher, error)
	GetVoucherForUpdate(ctx context.Context, orgID, id int64) (Voucher, error)
	ListVouchers(ctx context.Context, filter VoucherFilter) ([]Voucher, error)
	UpdateVoucherStatus(ctx context.Context, id int64, status VoucherStatus, actorID int64, at time.Time) error
	ReversalOf(ctx context.Context, voucherID int64) (Voucher, bool, error)

	InsertLedgerRow(ctx context.Context, row LedgerRow) (LedgerRow, error)
	DeleteLedgerRowsForEntry(ctx context.Context, entryID int64) (int64, error)
	ListLedger(ctx context.Context, filter LedgerFilter) ([]LedgerRow, error)
	AccountLedger(ctx context.Context, accountID int64) ([]LedgerRow, error)
	LedgerTotals(ctx context.Context, orgID int64, asOf *time.Time, fiscalYearID *int64) (map[int64]Totals, error)
	ListOrganizations(ctx context.Context) ([]int64, error)

	InsertAudit(ctx context.Context, log shared.AuditLog) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes fn within a read-committed transaction. Row locks taken by
// the posting path serialise concurrent writers on the same accounts.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("accounting repository not initialised")
	}
	return db.WithTx(ctx, r.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// ReadTx runs a read path. Attempts aborted by a deadlock with a concurrent
// posting are replayed.
func (r *Repository) ReadTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("accounting repository not initialised")
	}
	return db.WithRetryTx(ctx, r.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const accountColumns = `id, organization_id, account_code, account_name, account_type, COALESCE(sub_type, ''),
parent_account_id, opening_balance, current_balance, status, is_cash_account, COALESCE(description, ''),
created_at, updated_at, deleted_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.OrganizationID, &a.Code, &a.Name, &a.Type, &a.SubType,
		&a.ParentID, &a.OpeningBalance, &a.CurrentBalance, &a.Status, &a.IsCashAccount, &a.Description,
		&a.CreatedAt, &a.UpdatedAt, &a.DeletedAt)
	return a, err
}

func collectAccounts(rows pgx.Rows) ([]Account, error) {
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *txRepository) InsertAccount(ctx context.Context, a Account) (Account, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO chart_of_accounts (organization_id, account_code, account_name, account_type, sub_type,
parent_account_id, opening_balance, current_balance, status, is_cash_account, description)
VALUES ($1,$2,$3,$4,NULLIF($5,''),$6,$7,$8,$9,$10,NULLIF($11,''))
RETURNING `+accountColumns,
		a.OrganizationID, a.Code, a.Name, a.Type, a.SubType, a.ParentID, a.OpeningBalance, a.CurrentBalance,
		a.Status, a.IsCashAccount, a.Description)
	created, err := scanAccount(row)
	if err != nil {
		if isUniqueViolation(err) {
			return Account{}, ErrDuplicateAccountCode
		}
		return Account{}, err
	}
	return created, nil
}

func (r *txRepository) GetAccount(ctx context.Context, orgID, id int64) (Account, error) {
	a, err := scanAccount(r.tx.QueryRow(ctx, `SELECT `+accountColumns+`
FROM chart_of_accounts WHERE organization_id=$1 AND id=$2 AND deleted_at IS NULL`, orgID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	return a, nil
}

func (r *txRepository) ListAccounts(ctx context.Context, filter AccountFilter) ([]Account, error) {
	clauses := []string{"organization_id=$1", "deleted_at IS NULL"}
	args := []any{filter.OrganizationID}
	if filter.Type != "" {
		args = append(args, filter.Type)
		clauses = append(clauses, fmt.Sprintf("account_type=$%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		clauses = append(clauses, fmt.Sprintf("status=$%d", len(args)))
	}
	if filter.RootOnly {
		clauses = append(clauses, "parent_account_id IS NULL")
	}
	if filter.CashOnly {
		clauses = append(clauses, "is_cash_account")
	}
	rows, err := r.tx.Query(ctx, `SELECT `+accountColumns+` FROM chart_of_accounts WHERE `+
		strings.Join(clauses, " AND ")+` ORDER BY account_code`, args...)
	if err != nil {
		return nil, err
	}
	return collectAccounts(rows)
}

func (r *txRepository) UpdateAccount(ctx context.Context, a Account) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE chart_of_accounts SET account_name=$3, sub_type=NULLIF($4,''), parent_account_id=$5,
status=$6, is_cash_account=$7, description=NULLIF($8,''), updated_at=NOW()
WHERE organization_id=$1 AND id=$2 AND deleted_at IS NULL`,
		a.OrganizationID, a.ID, a.Name, a.SubType, a.ParentID, a.Status, a.IsCashAccount, a.Description)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *txRepository) SoftDeleteAccount(ctx context.Context, orgID, id int64, at time.Time) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE chart_of_accounts SET deleted_at=$3, updated_at=$3
WHERE organization_id=$1 AND id=$2 AND deleted_at IS NULL`, orgID, id, at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *txRepository) CountChildren(ctx context.Context, orgID, id int64) (int, error) {
	var n int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM chart_of_accounts
WHERE organization_id=$1 AND parent_account_id=$2 AND deleted_at IS NULL`, orgID, id).Scan(&n)
	return n, err
}

// AccountInUse reports whether ledger rows or entries of draft or posted
// vouchers reference the account.
func (r *txRepository) AccountInUse(ctx context.Context, accountID int64) (bool, error) {
	var inUse bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM ledgers WHERE account_id=$1)
  OR EXISTS (SELECT 1 FROM journal_entries e JOIN journal_vouchers v ON v.id = e.journal_voucher_id
             WHERE e.account_id=$1 AND v.status IN ('draft','posted'))`, accountID).Scan(&inUse)
	return inUse, err
}

func (r *txRepository) ParentOf(ctx context.Context, orgID, id int64) (*int64, error) {
	var parent *int64
	err := r.tx.QueryRow(ctx, `SELECT parent_account_id FROM chart_of_accounts
WHERE organization_id=$1 AND id=$2 AND deleted_at IS NULL`, orgID, id).Scan(&parent)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return parent, nil
}

// FindAccounts returns the accounts with the given ids, including soft-deleted ones.
func (r *txRepository) FindAccounts(ctx context.Context, ids []int64) ([]Account, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+accountColumns+` FROM chart_of_accounts WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	return collectAccounts(rows)
}

// LockAccounts row-locks the accounts in ascending id order so concurrent
// postings sharing accounts always queue in the same sequence.
func (r *txRepository) LockAccounts(ctx context.Context, ids []int64) ([]Account, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+accountColumns+` FROM chart_of_accounts WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}
	return collectAccounts(rows)
}

func (r *txRepository) ApplyBalanceDelta(ctx context.Context, accountID int64, delta decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.tx.QueryRow(ctx, `UPDATE chart_of_accounts SET current_balance = current_balance + $2, updated_at=NOW()
WHERE id=$1 RETURNING current_balance`, accountID, delta).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, ErrAccountNotFound
		}
		return decimal.Zero, err
	}
	return balance, nil
}

const fiscalYearColumns = `id, organization_id, name, start_date, end_date, status, is_locked, created_by, created_at, updated_at`

func scanFiscalYear(row pgx.Row) (FiscalYear, error) {
	var fy FiscalYear
	err := row.Scan(&fy.ID, &fy.OrganizationID, &fy.Name, &fy.StartDate, &fy.EndDate, &fy.Status, &fy.IsLocked,
		&fy.CreatedBy, &fy.CreatedAt, &fy.UpdatedAt)
	return fy, err
}

func (r *txRepository) InsertFiscalYear(ctx context.Context, fy FiscalYear) (FiscalYear, error) {
	return scanFiscalYear(r.tx.QueryRow(ctx, `INSERT INTO fiscal_years (organization_id, name, start_date, end_date, status, is_locked, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING `+fiscalYearColumns,
		fy.OrganizationID, fy.Name, fy.StartDate, fy.EndDate, fy.Status, fy.IsLocked, fy.CreatedBy))
}

// GetFiscalYear takes a share lock so a concurrent close waits for in-flight postings.
func (r *txRepository) GetFiscalYear(ctx context.Context, orgID, id int64) (FiscalYear, error) {
	fy, err := scanFiscalYear(r.tx.QueryRow(ctx, `SELECT `+fiscalYearColumns+`
FROM fiscal_years WHERE organization_id=$1 AND id=$2 FOR SHARE`, orgID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return FiscalYear{}, ErrFiscalYearNotFound
		}
		return FiscalYear{}, err
	}
	return fy, nil
}

func (r *txRepository) ListFiscalYears(ctx context.Context, orgID int64) ([]FiscalYear, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+fiscalYearColumns+` FROM fiscal_years WHERE organization_id=$1 ORDER BY start_date DESC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var years []FiscalYear
	for rows.Next() {
		fy, err := scanFiscalYear(rows)
		if err != nil {
			return nil, err
		}
		years = append(years, fy)
	}
	return years, rows.Err()
}

func (r *txRepository) UpdateFiscalYearStatus(ctx context.Context, id int64, status FiscalYearStatus, locked bool) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE fiscal_years SET status=$2, is_locked=$3, updated_at=NOW() WHERE id=$1`, id, status, locked)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrFiscalYearNotFound
	}
	return nil
}

const voucherColumns = `id, organization_id, fiscal_year_id, voucher_number, voucher_date, voucher_type,
COALESCE(reference, ''), COALESCE(narration, ''), total_debit, total_credit, status, reversal_of_id,
created_by, approved_by, posted_at, cancelled_at, created_at, updated_at`

func scanVoucher(row pgx.Row) (Voucher, error) {
	var v Voucher
	err := row.Scan(&v.ID, &v.OrganizationID, &v.FiscalYearID, &v.Number, &v.Date, &v.Type,
		&v.Reference, &v.Narration, &v.TotalDebit, &v.TotalCredit, &v.Status, &v.ReversalOfID,
		&v.CreatedBy, &v.ApprovedBy, &v.PostedAt, &v.CancelledAt, &v.CreatedAt, &v.UpdatedAt)
	return v, err
}

func (r *txRepository) InsertVoucher(ctx context.Context, v Voucher) (Voucher, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO journal_vouchers (organization_id, fiscal_year_id, voucher_number, voucher_date,
voucher_type, reference, narration, total_debit, total_credit, status, reversal_of_id, created_by)
VALUES ($1,$2,$3,$4,$5,NULLIF($6,''),NULLIF($7,''),$8,$9,$10,$11,$12)
RETURNING `+voucherColumns,
		v.OrganizationID, v.FiscalYearID, v.Number, v.Date, v.Type, v.Reference, v.Narration,
		v.TotalDebit, v.TotalCredit, v.Status, v.ReversalOfID, v.CreatedBy)
	created, err := scanVoucher(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if pgErr.ConstraintName == "uq_journal_vouchers_reversal" {
				return Voucher{}, ErrAlreadyReversed
			}
			return Voucher{}, ErrDuplicateVoucherNumber
		}
		return Voucher{}, err
	}
	return created, nil
}

// InsertEntries stores entries with line_no following slice order.
func (r *txRepository) InsertEntries(ctx context.Context, voucherID int64, entries []EntryInput) ([]Entry, error) {
	out := make([]Entry, 0, len(entries))
	for idx, in := range entries {
		e := Entry{
			VoucherID:         voucherID,
			LineNo:            idx + 1,
			AccountID:         in.AccountID,
			Type:              in.Type,
			Amount:            in.Amount,
			Description:       in.Description,
			RelatedCustomerID: in.RelatedCustomerID,
			RelatedSupplierID: in.RelatedSupplierID,
			CostCenterID:      in.CostCenterID,
		}
		err := r.tx.QueryRow(ctx, `INSERT INTO journal_entries (journal_voucher_id, line_no, account_id, entry_type, amount,
description, related_customer_id, related_supplier_id, cost_center_id)
VALUES ($1,$2,$3,$4,$5,NULLIF($6,''),$7,$8,$9) RETURNING id, created_at, updated_at`,
			voucherID, e.LineNo, e.AccountID, e.Type, e.Amount, e.Description,
			e.RelatedCustomerID, e.RelatedSupplierID, e.CostCenterID).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *txRepository) DeleteEntries(ctx context.Context, voucherID int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM journal_entries WHERE journal_voucher_id=$1`, voucherID)
	return err
}

func (r *txRepository) UpdateVoucherHeader(ctx context.Context, v Voucher) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE journal_vouchers SET fiscal_year_id=$2, voucher_date=$3, voucher_type=$4,
reference=NULLIF($5,''), narration=NULLIF($6,''), total_debit=$7, total_credit=$8, updated_at=NOW()
WHERE id=$1`, v.ID, v.FiscalYearID, v.Date, v.Type, v.Reference, v.Narration, v.TotalDebit, v.TotalCredit)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrVoucherNotFound
	}
	return nil
}

func (r *txRepository) DeleteVoucher(ctx context.Context, orgID, id int64) error {
	cmd, err := r.tx.Exec(ctx, `DELETE FROM journal_vouchers WHERE organization_id=$1 AND id=$2`, orgID, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrVoucherNotFound
	}
	return nil
}

func (r *txRepository) GetVoucher(ctx context.Context, orgID, id int64) (Voucher, error) {
	return r.loadVoucher(ctx, `SELECT `+voucherColumns+` FROM journal_vouchers WHERE organization_id=$1 AND id=$2`, orgID, id)
}

func (r *txRepository) GetVoucherForUpdate(ctx context.Context, orgID, id int64) (Voucher, error) {
	return r.loadVoucher(ctx, `SELECT `+voucherColumns+` FROM journal_vouchers WHERE organization_id=$1 AND id=$2 FOR UPDATE`, orgID, id)
}

func (r *txRepository) loadVoucher(ctx context.Context, query string, args ...any) (Voucher, error) {
	v, err := scanVoucher(r.tx.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Voucher{}, ErrVoucherNotFound
		}
		return Voucher{}, err
	}
	entries, err := r.entries(ctx, v.ID)
	if err != nil {
		return Voucher{}, err
	}
	v.Entries = entries
	return v, nil
}

func (r *txRepository) entries(ctx context.Context, voucherID int64) ([]Entry, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, journal_voucher_id, line_no, account_id, entry_type, amount, COALESCE(description, ''),
related_customer_id, related_supplier_id, cost_center_id, created_at, updated_at
FROM journal_entries WHERE journal_voucher_id=$1 ORDER BY line_no ASC, id ASC`, voucherID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.VoucherID, &e.LineNo, &e.AccountID, &e.Type, &e.Amount, &e.Description,
			&e.RelatedCustomerID, &e.RelatedSupplierID, &e.CostCenterID, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *txRepository) ListVouchers(ctx context.Context, filter VoucherFilter) ([]Voucher, error) {
	clauses := []string{"organization_id=$1"}
	args := []any{filter.OrganizationID}
	if filter.Status != "" {
		args = append(args, filter.Status)
		clauses = append(clauses, fmt.Sprintf("status=$%d", len(args)))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		clauses = append(clauses, fmt.Sprintf("voucher_type=$%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		clauses = append(clauses, fmt.Sprintf("voucher_date >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		clauses = append(clauses, fmt.Sprintf("voucher_date <= $%d", len(args)))
	}
	args = append(args, filter.Limit, filter.Offset)
	query := `SELECT ` + voucherColumns + ` FROM journal_vouchers WHERE ` + strings.Join(clauses, " AND ") +
		fmt.Sprintf(` ORDER BY voucher_date DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	rows, err := r.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var vouchers []Voucher
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			return nil, err
		}
		vouchers = append(vouchers, v)
	}
	return vouchers, rows.Err()
}

func (r *txRepository) UpdateVoucherStatus(ctx context.Context, id int64, status VoucherStatus, actorID int64, at time.Time) error {
	var (
		cmd pgconn.CommandTag
		err error
	)
	switch status {
	case VoucherStatusPosted:
		cmd, err = r.tx.Exec(ctx, `UPDATE journal_vouchers SET status=$2, approved_by=$3, posted_at=$4, updated_at=$4 WHERE id=$1`,
			id, status, nullInt(actorID), at)
	case VoucherStatusCancelled:
		cmd, err = r.tx.Exec(ctx, `UPDATE journal_vouchers SET status=$2, cancelled_at=$3, updated_at=$3 WHERE id=$1`, id, status, at)
	default:
		cmd, err = r.tx.Exec(ctx, `UPDATE journal_vouchers SET status=$2, updated_at=$3 WHERE id=$1`, id, status, at)
	}
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrVoucherNotFound
	}
	return nil
}

func (r *txRepository) ReversalOf(ctx context.Context, voucherID int64) (Voucher, bool, error) {
	v, err := scanVoucher(r.tx.QueryRow(ctx, `SELECT `+voucherColumns+` FROM journal_vouchers WHERE reversal_of_id=$1`, voucherID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Voucher{}, false, nil
		}
		return Voucher{}, false, err
	}
	return v, true, nil
}

const ledgerColumns = `id, organization_id, account_id, journal_voucher_id, journal_entry_id, entry_date,
COALESCE(reference, ''), entry_type, debit_amount, credit_amount, balance, COALESCE(narration, ''), created_at`

func scanLedgerRow(row pgx.Row) (LedgerRow, error) {
	var l LedgerRow
	err := row.Scan(&l.ID, &l.OrganizationID, &l.AccountID, &l.VoucherID, &l.EntryID, &l.EntryDate,
		&l.Reference, &l.EntryType, &l.DebitAmount, &l.CreditAmount, &l.Balance, &l.Narration, &l.CreatedAt)
	return l, err
}

func collectLedger(rows pgx.Rows) ([]LedgerRow, error) {
	defer rows.Close()
	var out []LedgerRow
	for rows.Next() {
		l, err := scanLedgerRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *txRepository) InsertLedgerRow(ctx context.Context, row LedgerRow) (LedgerRow, error) {
	return scanLedgerRow(r.tx.QueryRow(ctx, `INSERT INTO ledgers (organization_id, account_id, journal_voucher_id, journal_entry_id,
entry_date, reference, entry_type, debit_amount, credit_amount, balance, narration)
VALUES ($1,$2,$3,$4,$5,NULLIF($6,''),$7,$8,$9,$10,NULLIF($11,'')) RETURNING `+ledgerColumns,
		row.OrganizationID, row.AccountID, row.VoucherID, row.EntryID, row.EntryDate, row.Reference,
		row.EntryType, row.DebitAmount, row.CreditAmount, row.Balance, row.Narration))
}

func (r *txRepository) DeleteLedgerRowsForEntry(ctx context.Context, entryID int64) (int64, error) {
	cmd, err := r.tx.Exec(ctx, `DELETE FROM ledgers WHERE journal_entry_id=$1`, entryID)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func (r *txRepository) ListLedger(ctx context.Context, filter LedgerFilter) ([]LedgerRow, error) {
	clauses := []string{"organization_id=$1"}
	args := []any{filter.OrganizationID}
	if filter.AccountID > 0 {
		args = append(args, filter.AccountID)
		clauses = append(clauses, fmt.Sprintf("account_id=$%d", len(args)))
	}
	if filter.VoucherID > 0 {
		args = append(args, filter.VoucherID)
		clauses = append(clauses, fmt.Sprintf("journal_voucher_id=$%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		clauses = append(clauses, fmt.Sprintf("entry_date >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		clauses = append(clauses, fmt.Sprintf("entry_date <= $%d", len(args)))
	}
	args = append(args, filter.Limit, filter.Offset)
	query := `SELECT ` + ledgerColumns + ` FROM ledgers WHERE ` + strings.Join(clauses, " AND ") +
		fmt.Sprintf(` ORDER BY entry_date ASC, id ASC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	rows, err := r.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectLedger(rows)
}

// AccountLedger returns every ledger row of the account in creation order.
func (r *txRepository) AccountLedger(ctx context.Context, accountID int64) ([]LedgerRow, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+ledgerColumns+` FROM ledgers WHERE account_id=$1 ORDER BY id ASC`, accountID)
	if err != nil {
		return nil, err
	}
	return collectLedger(rows)
}

func (r *txRepository) LedgerTotals(ctx context.Context, orgID int64, asOf *time.Time, fiscalYearID *int64) (map[int64]Totals, error) {
	rows, err := r.tx.Query(ctx, `SELECT l.account_id, COALESCE(SUM(l.debit_amount), 0), COALESCE(SUM(l.credit_amount), 0)
FROM ledgers l JOIN journal_vouchers v ON v.id = l.journal_voucher_id
WHERE l.organization_id=$1
  AND ($2::date IS NULL OR l.entry_date <= $2::date)
  AND ($3::bigint IS NULL OR v.fiscal_year_id = $3::bigint)
GROUP BY l.account_id`, orgID, asOf, fiscalYearID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	totals := make(map[int64]Totals)
	for rows.Next() {
		var id int64
		var t Totals
		if err := rows.Scan(&id, &t.Debit, &t.Credit); err != nil {
			return nil, err
		}
		totals[id] = t
	}
	return totals, rows.Err()
}

func (r *txRepository) ListOrganizations(ctx context.Context) ([]int64, error) {
	rows, err := r.tx.Query(ctx, `SELECT DISTINCT organization_id FROM chart_of_accounts WHERE deleted_at IS NULL ORDER BY organization_id`)
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

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nullInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

// InsertAudit writes the audit row on the transaction so it commits with the change.
func (r *txRepository) InsertAudit(ctx context.Context, log shared.AuditLog) error {
	return shared.NewAuditLogger(r.tx).Record(ctx, log)
}
