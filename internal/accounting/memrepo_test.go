package accounting

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mfgerp/mfgerp/internal/shared"
)

// memRepo is a copy-on-write in-memory TxRepository. A transaction works on a
// clone of the state that is only published when fn returns nil.
type memRepo struct {
	mu     sync.Mutex
	state  *memState
	failOn map[string]error
	calls  []string
}

type memState struct {
	nextID      int64
	accounts    map[int64]Account
	fiscalYears map[int64]FiscalYear
	vouchers    map[int64]Voucher
	entries     map[int64][]Entry
	ledger      []LedgerRow
	audit       []shared.AuditLog
}

func newMemRepo() *memRepo {
	return &memRepo{
		state: &memState{
			accounts:    map[int64]Account{},
			fiscalYears: map[int64]FiscalYear{},
			vouchers:    map[int64]Voucher{},
			entries:     map[int64][]Entry{},
		},
		failOn: map[string]error{},
	}
}

func (s *memState) clone() *memState {
	out := &memState{
		nextID:      s.nextID,
		accounts:    make(map[int64]Account, len(s.accounts)),
		fiscalYears: make(map[int64]FiscalYear, len(s.fiscalYears)),
		vouchers:    make(map[int64]Voucher, len(s.vouchers)),
		entries:     make(map[int64][]Entry, len(s.entries)),
		ledger:      append([]LedgerRow(nil), s.ledger...),
		audit:       append([]shared.AuditLog(nil), s.audit...),
	}
	for k, v := range s.accounts {
		out.accounts[k] = v
	}
	for k, v := range s.fiscalYears {
		out.fiscalYears[k] = v
	}
	for k, v := range s.vouchers {
		out.vouchers[k] = v
	}
	for k, v := range s.entries {
		out.entries[k] = append([]Entry(nil), v...)
	}
	return out
}

func (r *memRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx := &memTx{repo: r, s: r.state.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	r.state = tx.s
	return nil
}

func (r *memRepo) ReadTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.WithTx(ctx, fn)
}

// account reads committed state; test assertions only.
func (r *memRepo) account(id int64) Account {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.accounts[id]
}

func (r *memRepo) voucher(id int64) Voucher {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.state.vouchers[id]
	v.Entries = append([]Entry(nil), r.state.entries[id]...)
	return v
}

// auditActions lists committed audit actions in write order.
func (r *memRepo) auditActions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.state.audit))
	for _, l := range r.state.audit {
		out = append(out, l.Action)
	}
	return out
}

func (r *memRepo) auditLogs() []shared.AuditLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]shared.AuditLog(nil), r.state.audit...)
}

func (r *memRepo) ledgerRows() []LedgerRow {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]LedgerRow(nil), r.state.ledger...)
}

func (r *memRepo) softDelete(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := r.state.accounts[id]
	now := time.Now()
	a.DeletedAt = &now
	r.state.accounts[id] = a
}

// setBalance corrupts current_balance to simulate drift.
func (r *memRepo) setBalance(id int64, balance decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := r.state.accounts[id]
	a.CurrentBalance = balance
	r.state.accounts[id] = a
}

type memTx struct {
	repo *memRepo
	s    *memState
}

func (t *memTx) fail(op string) error {
	t.repo.calls = append(t.repo.calls, op)
	return t.repo.failOn[op]
}

func (t *memTx) id() int64 {
	t.s.nextID++
	return t.s.nextID
}

func (t *memTx) InsertAccount(ctx context.Context, a Account) (Account, error) {
	if err := t.fail("InsertAccount"); err != nil {
		return Account{}, err
	}
	for _, existing := range t.s.accounts {
		if existing.OrganizationID == a.OrganizationID && existing.Code == a.Code && existing.DeletedAt == nil {
			return Account{}, ErrDuplicateAccountCode
		}
	}
	a.ID = t.id()
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	t.s.accounts[a.ID] = a
	return a, nil
}

func (t *memTx) GetAccount(ctx context.Context, orgID, id int64) (Account, error) {
	if err := t.fail("GetAccount"); err != nil {
		return Account{}, err
	}
	a, ok := t.s.accounts[id]
	if !ok || a.OrganizationID != orgID || a.DeletedAt != nil {
		return Account{}, ErrAccountNotFound
	}
	return a, nil
}

func (t *memTx) ListAccounts(ctx context.Context, filter AccountFilter) ([]Account, error) {
	if err := t.fail("ListAccounts"); err != nil {
		return nil, err
	}
	var out []Account
	for _, a := range t.s.accounts {
		switch {
		case a.OrganizationID != filter.OrganizationID, a.DeletedAt != nil:
			continue
		case filter.Type != "" && a.Type != filter.Type:
			continue
		case filter.Status != "" && a.Status != filter.Status:
			continue
		case filter.RootOnly && a.ParentID != nil:
			continue
		case filter.CashOnly && !a.IsCashAccount:
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (t *memTx) UpdateAccount(ctx context.Context, a Account) error {
	if err := t.fail("UpdateAccount"); err != nil {
		return err
	}
	current, ok := t.s.accounts[a.ID]
	if !ok || current.DeletedAt != nil {
		return ErrAccountNotFound
	}
	a.CurrentBalance = current.CurrentBalance
	t.s.accounts[a.ID] = a
	return nil
}

func (t *memTx) SoftDeleteAccount(ctx context.Context, orgID, id int64, at time.Time) error {
	if err := t.fail("SoftDeleteAccount"); err != nil {
		return err
	}
	a, ok := t.s.accounts[id]
	if !ok || a.OrganizationID != orgID {
		return ErrAccountNotFound
	}
	a.DeletedAt = &at
	t.s.accounts[id] = a
	return nil
}

func (t *memTx) CountChildren(ctx context.Context, orgID, id int64) (int, error) {
	n := 0
	for _, a := range t.s.accounts {
		if a.OrganizationID == orgID && a.DeletedAt == nil && a.ParentID != nil && *a.ParentID == id {
			n++
		}
	}
	return n, nil
}

func (t *memTx) AccountInUse(ctx context.Context, accountID int64) (bool, error) {
	if err := t.fail("AccountInUse"); err != nil {
		return false, err
	}
	for _, row := range t.s.ledger {
		if row.AccountID == accountID {
			return true, nil
		}
	}
	for voucherID, entries := range t.s.entries {
		v, ok := t.s.vouchers[voucherID]
		if !ok || v.Status == VoucherStatusCancelled {
			continue
		}
		for _, e := range entries {
			if e.AccountID == accountID {
				return true, nil
			}
		}
	}
	return false, nil
}

func (t *memTx) ParentOf(ctx context.Context, orgID, id int64) (*int64, error) {
	a, ok := t.s.accounts[id]
	if !ok || a.OrganizationID != orgID {
		return nil, ErrAccountNotFound
	}
	return a.ParentID, nil
}

func (t *memTx) FindAccounts(ctx context.Context, ids []int64) ([]Account, error) {
	if err := t.fail("FindAccounts"); err != nil {
		return nil, err
	}
	return t.byIDs(ids), nil
}

func (t *memTx) LockAccounts(ctx context.Context, ids []int64) ([]Account, error) {
	if err := t.fail("LockAccounts"); err != nil {
		return nil, err
	}
	return t.byIDs(ids), nil
}

func (t *memTx) byIDs(ids []int64) []Account {
	var out []Account
	for _, id := range ids {
		if a, ok := t.s.accounts[id]; ok {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (t *memTx) ApplyBalanceDelta(ctx context.Context, accountID int64, delta decimal.Decimal) (decimal.Decimal, error) {
	if err := t.fail("ApplyBalanceDelta"); err != nil {
		return decimal.Zero, err
	}
	a, ok := t.s.accounts[accountID]
	if !ok {
		return decimal.Zero, ErrAccountNotFound
	}
	a.CurrentBalance = a.CurrentBalance.Add(delta)
	t.s.accounts[accountID] = a
	return a.CurrentBalance, nil
}

func (t *memTx) InsertFiscalYear(ctx context.Context, fy FiscalYear) (FiscalYear, error) {
	fy.ID = t.id()
	t.s.fiscalYears[fy.ID] = fy
	return fy, nil
}

func (t *memTx) GetFiscalYear(ctx context.Context, orgID, id int64) (FiscalYear, error) {
	fy, ok := t.s.fiscalYears[id]
	if !ok || fy.OrganizationID != orgID {
		return FiscalYear{}, ErrFiscalYearNotFound
	}
	return fy, nil
}

func (t *memTx) ListFiscalYears(ctx context.Context, orgID int64) ([]FiscalYear, error) {
	var out []FiscalYear
	for _, fy := range t.s.fiscalYears {
		if fy.OrganizationID == orgID {
			out = append(out, fy)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.After(out[j].StartDate) })
	return out, nil
}

func (t *memTx) UpdateFiscalYearStatus(ctx context.Context, id int64, status FiscalYearStatus, locked bool) error {
	fy, ok := t.s.fiscalYears[id]
	if !ok {
		return ErrFiscalYearNotFound
	}
	fy.Status = status
	fy.IsLocked = locked
	t.s.fiscalYears[id] = fy
	return nil
}

func (t *memTx) InsertVoucher(ctx context.Context, v Voucher) (Voucher, error) {
	if err := t.fail("InsertVoucher"); err != nil {
		return Voucher{}, err
	}
	for _, existing := range t.s.vouchers {
		if existing.OrganizationID == v.OrganizationID && existing.Number == v.Number {
			return Voucher{}, ErrDuplicateVoucherNumber
		}
		if v.ReversalOfID != nil && existing.ReversalOfID != nil && *existing.ReversalOfID == *v.ReversalOfID {
			return Voucher{}, ErrAlreadyReversed
		}
	}
	v.ID = t.id()
	v.CreatedAt = time.Now()
	v.UpdatedAt = v.CreatedAt
	v.Entries = nil
	t.s.vouchers[v.ID] = v
	return v, nil
}

func (t *memTx) InsertEntries(ctx context.Context, voucherID int64, entries []EntryInput) ([]Entry, error) {
	if err := t.fail("InsertEntries"); err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(entries))
	for idx, e := range entries {
		out = append(out, Entry{
			ID:                t.id(),
			VoucherID:         voucherID,
			LineNo:            idx + 1,
			AccountID:         e.AccountID,
			Type:              e.Type,
			Amount:            e.Amount,
			Description:       e.Description,
			RelatedCustomerID: e.RelatedCustomerID,
			RelatedSupplierID: e.RelatedSupplierID,
			CostCenterID:      e.CostCenterID,
		})
	}
	t.s.entries[voucherID] = out
	return append([]Entry(nil), out...), nil
}

func (t *memTx) DeleteEntries(ctx context.Context, voucherID int64) error {
	delete(t.s.entries, voucherID)
	return nil
}

func (t *memTx) UpdateVoucherHeader(ctx context.Context, v Voucher) error {
	current, ok := t.s.vouchers[v.ID]
	if !ok {
		return ErrVoucherNotFound
	}
	current.FiscalYearID = v.FiscalYearID
	current.Date = v.Date
	current.Type = v.Type
	current.Reference = v.Reference
	current.Narration = v.Narration
	current.TotalDebit = v.TotalDebit
	current.TotalCredit = v.TotalCredit
	t.s.vouchers[v.ID] = current
	return nil
}

func (t *memTx) DeleteVoucher(ctx context.Context, orgID, id int64) error {
	if _, err := t.GetVoucher(ctx, orgID, id); err != nil {
		return err
	}
	delete(t.s.vouchers, id)
	delete(t.s.entries, id)
	return nil
}

func (t *memTx) GetVoucher(ctx context.Context, orgID, id int64) (Voucher, error) {
	v, ok := t.s.vouchers[id]
	if !ok || v.OrganizationID != orgID {
		return Voucher{}, ErrVoucherNotFound
	}
	v.Entries = append([]Entry(nil), t.s.entries[id]...)
	return v, nil
}

func (t *memTx) GetVoucherForUpdate(ctx context.Context, orgID, id int64) (Voucher, error) {
	if err := t.fail("GetVoucherForUpdate"); err != nil {
		return Voucher{}, err
	}
	return t.GetVoucher(ctx, orgID, id)
}

func (t *memTx) ListVouchers(ctx context.Context, filter VoucherFilter) ([]Voucher, error) {
	var out []Voucher
	for _, v := range t.s.vouchers {
		if v.OrganizationID != filter.OrganizationID {
			continue
		}
		if filter.Status != "" && v.Status != filter.Status {
			continue
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (t *memTx) UpdateVoucherStatus(ctx context.Context, id int64, status VoucherStatus, actorID int64, at time.Time) error {
	if err := t.fail("UpdateVoucherStatus"); err != nil {
		return err
	}
	v, ok := t.s.vouchers[id]
	if !ok {
		return ErrVoucherNotFound
	}
	v.Status = status
	v.UpdatedAt = at
	switch status {
	case VoucherStatusPosted:
		v.PostedAt = &at
		if actorID > 0 {
			v.ApprovedBy = &actorID
		}
	case VoucherStatusCancelled:
		v.CancelledAt = &at
	}
	t.s.vouchers[id] = v
	return nil
}

func (t *memTx) ReversalOf(ctx context.Context, voucherID int64) (Voucher, bool, error) {
	for _, v := range t.s.vouchers {
		if v.ReversalOfID != nil && *v.ReversalOfID == voucherID {
			return v, true, nil
		}
	}
	return Voucher{}, false, nil
}

func (t *memTx) InsertLedgerRow(ctx context.Context, row LedgerRow) (LedgerRow, error) {
	if err := t.fail("InsertLedgerRow"); err != nil {
		return LedgerRow{}, err
	}
	row.ID = t.id()
	row.CreatedAt = time.Now()
	t.s.ledger = append(t.s.ledger, row)
	return row, nil
}

func (t *memTx) DeleteLedgerRowsForEntry(ctx context.Context, entryID int64) (int64, error) {
	if err := t.fail("DeleteLedgerRowsForEntry"); err != nil {
		return 0, err
	}
	kept := t.s.ledger[:0:0]
	var removed int64
	for _, row := range t.s.ledger {
		if row.EntryID == entryID {
			removed++
			continue
		}
		kept = append(kept, row)
	}
	t.s.ledger = kept
	return removed, nil
}

func (t *memTx) ListLedger(ctx context.Context, filter LedgerFilter) ([]LedgerRow, error) {
	var out []LedgerRow
	for _, row := range t.s.ledger {
		if row.OrganizationID != filter.OrganizationID {
			continue
		}
		if filter.AccountID > 0 && row.AccountID != filter.AccountID {
			continue
		}
		if filter.VoucherID > 0 && row.VoucherID != filter.VoucherID {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func (t *memTx) AccountLedger(ctx context.Context, accountID int64) ([]LedgerRow, error) {
	if err := t.fail("AccountLedger"); err != nil {
		return nil, err
	}
	var out []LedgerRow
	for _, row := range t.s.ledger {
		if row.AccountID == accountID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (t *memTx) LedgerTotals(ctx context.Context, orgID int64, asOf *time.Time, fiscalYearID *int64) (map[int64]Totals, error) {
	out := map[int64]Totals{}
	for _, row := range t.s.ledger {
		if row.OrganizationID != orgID {
			continue
		}
		if asOf != nil && row.EntryDate.After(*asOf) {
			continue
		}
		if fiscalYearID != nil {
			v := t.s.vouchers[row.VoucherID]
			if v.FiscalYearID == nil || *v.FiscalYearID != *fiscalYearID {
				continue
			}
		}
		totals, ok := out[row.AccountID]
		if !ok {
			totals = Totals{Debit: decimal.Zero, Credit: decimal.Zero}
		}
		totals.Debit = totals.Debit.Add(row.DebitAmount)
		totals.Credit = totals.Credit.Add(row.CreditAmount)
		out[row.AccountID] = totals
	}
	return out, nil
}

func (t *memTx) ListOrganizations(ctx context.Context) ([]int64, error) {
	seen := map[int64]struct{}{}
	var out []int64
	for _, a := range t.s.accounts {
		if _, ok := seen[a.OrganizationID]; ok || a.DeletedAt != nil {
			continue
		}
		seen[a.OrganizationID] = struct{}{}
		out = append(out, a.OrganizationID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (t *memTx) InsertAudit(ctx context.Context, log shared.AuditLog) error {
	if err := t.fail("InsertAudit"); err != nil {
		return err
	}
	if err := shared.ValidateAuditLog(log); err != nil {
		return err
	}
	t.s.audit = append(t.s.audit, log)
	return nil
}
