package accounting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/mfgerp/mfgerp/internal/shared"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ReadTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// VoucherLocker guards a voucher against concurrent post/cancel requests.
type VoucherLocker interface {
	Acquire(ctx context.Context, key string) (func(context.Context) error, error)
}

// MetricsRecorder counts voucher lifecycle operations.
type MetricsRecorder interface {
	ObserveVoucher(op, result string)
}

// Service coordinates the chart of accounts, vouchers, and the ledger.
type Service struct {
	repo      RepositoryPort
	locker    VoucherLocker
	cache     ReportCache
	metrics   MetricsRecorder
	logger    *slog.Logger
	now       func() time.Time
	newNumber func() string
}

// NewService constructs the ledger service.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		logger:    logger,
		now:       time.Now,
		newNumber: func() string { return "JV-" + ulid.Make().String() },
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithLocker installs the distributed voucher lock.
func (s *Service) WithLocker(locker VoucherLocker) {
	s.locker = locker
}

// WithReportCache installs the report cache.
func (s *Service) WithReportCache(cache ReportCache) {
	s.cache = cache
}

// WithMetrics installs the metrics recorder.
func (s *Service) WithMetrics(m MetricsRecorder) {
	s.metrics = m
}

// WithNumberGenerator overrides voucher number generation.
func (s *Service) WithNumberGenerator(fn func() string) {
	if fn != nil {
		s.newNumber = fn
	}
}

func requireOrg(orgID int64) error {
	if orgID <= 0 {
		return newValidation(RuleRequiredField, -1, "organization id is required")
	}
	return nil
}

// recordTx writes the audit row inside tx, so a failed write rolls the change back.
func (s *Service) recordTx(ctx context.Context, tx TxRepository, log shared.AuditLog) error {
	if log.At.IsZero() {
		log.At = s.now()
	}
	return tx.InsertAudit(ctx, log)
}

// CreateAccount opens an account with current_balance equal to its opening balance.
func (s *Service) CreateAccount(ctx context.Context, in CreateAccountInput) (Account, error) {
	if err := requireOrg(in.OrganizationID); err != nil {
		return Account{}, err
	}
	in.Code = strings.TrimSpace(in.Code)
	in.Name = strings.TrimSpace(in.Name)
	if in.Code == "" {
		return Account{}, newValidation(RuleRequiredField, -1, "account code is required")
	}
	if in.Name == "" {
		return Account{}, newValidation(RuleRequiredField, -1, "account name is required")
	}
	if !in.Type.Valid() {
		return Account{}, newValidation(RuleAccountType, -1, "unknown account type %q", in.Type)
	}
	if !in.OpeningBalance.Equal(in.OpeningBalance.Round(amountPlaces)) {
		return Account{}, newValidation(RuleAmountPrecision, -1, "opening balance has more than %d decimal places", amountPlaces)
	}
	var created Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if in.ParentID != nil {
			if _, err := tx.GetAccount(ctx, in.OrganizationID, *in.ParentID); err != nil {
				if errors.Is(err, ErrAccountNotFound) {
					return newValidation(RuleParentOrganization, -1, "parent account %d not found in organization", *in.ParentID)
				}
				return err
			}
		}
		var err error
		created, err = tx.InsertAccount(ctx, Account{
			OrganizationID: in.OrganizationID,
			Code:           in.Code,
			Name:           in.Name,
			Type:           in.Type,
			SubType:        in.SubType,
			ParentID:       in.ParentID,
			OpeningBalance: in.OpeningBalance,
			CurrentBalance: in.OpeningBalance,
			Status:         AccountStatusActive,
			IsCashAccount:  in.IsCashAccount,
			Description:    in.Description,
		})
		if err != nil {
			return err
		}
		return s.recordTx(ctx, tx, shared.AuditLog{
			OrganizationID: created.OrganizationID,
			ActorID:        in.CreatedBy,
			Action:         "account.create",
			Entity:         "chart_of_account",
			EntityID:       fmt.Sprintf("%d", created.ID),
			Meta:           map[string]any{"code": created.Code, "type": string(created.Type)},
		})
	})
	if err != nil {
		return Account{}, classify("create account", err)
	}
	s.bumpReports(ctx, created.OrganizationID)
	return created, nil
}

// GetAccount returns one live account.
func (s *Service) GetAccount(ctx context.Context, orgID, id int64) (Account, error) {
	var account Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		account, err = tx.GetAccount(ctx, orgID, id)
		return err
	})
	return account, classify("get account", err)
}

// ListAccounts retrieves chart of accounts entries ordered by code.
func (s *Service) ListAccounts(ctx context.Context, filter AccountFilter) ([]Account, error) {
	if err := requireOrg(filter.OrganizationID); err != nil {
		return nil, err
	}
	var accounts []Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		accounts, err = tx.ListAccounts(ctx, filter)
		return err
	})
	return accounts, classify("list accounts", err)
}

// AccountTree returns the organization's accounts as a roll-up tree.
func (s *Service) AccountTree(ctx context.Context, orgID int64) ([]*AccountNode, error) {
	accounts, err := s.ListAccounts(ctx, AccountFilter{OrganizationID: orgID})
	if err != nil {
		return nil, err
	}
	return BuildTree(accounts), nil
}

// UpdateAccount applies descriptive changes. The account type is immutable.
func (s *Service) UpdateAccount(ctx context.Context, in UpdateAccountInput) (Account, error) {
	if err := requireOrg(in.OrganizationID); err != nil {
		return Account{}, err
	}
	var updated Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		account, err := tx.GetAccount(ctx, in.OrganizationID, in.ID)
		if err != nil {
			return err
		}
		if in.Name != nil {
			name := strings.TrimSpace(*in.Name)
			if name == "" {
				return newValidation(RuleRequiredField, -1, "account name is required")
			}
			account.Name = name
		}
		if in.SubType != nil {
			account.SubType = *in.SubType
		}
		if in.Description != nil {
			account.Description = *in.Description
		}
		if in.IsCashAccount != nil {
			account.IsCashAccount = *in.IsCashAccount
		}
		if in.Status != nil {
			if *in.Status != AccountStatusActive && *in.Status != AccountStatusInactive {
				return newValidation(RuleRequiredField, -1, "status must be active or inactive")
			}
			account.Status = *in.Status
		}
		switch {
		case in.ClearParent:
			account.ParentID = nil
		case in.ParentID != nil:
			if _, err := tx.GetAccount(ctx, in.OrganizationID, *in.ParentID); err != nil {
				if errors.Is(err, ErrAccountNotFound) {
					return newValidation(RuleParentOrganization, -1, "parent account %d not found in organization", *in.ParentID)
				}
				return err
			}
			if err := checkParent(ctx, in.OrganizationID, account.ID, *in.ParentID, tx.ParentOf); err != nil {
				return err
			}
			parent := *in.ParentID
			account.ParentID = &parent
		}
		if err := tx.UpdateAccount(ctx, account); err != nil {
			return err
		}
		updated = account
		return s.recordTx(ctx, tx, shared.AuditLog{
			OrganizationID: in.OrganizationID,
			ActorID:        in.ActorID,
			Action:         "account.update",
			Entity:         "chart_of_account",
			EntityID:       fmt.Sprintf("%d", account.ID),
		})
	})
	if err != nil {
		return Account{}, classify("update account", err)
	}
	updated.UpdatedAt = s.now()
	s.bumpReports(ctx, in.OrganizationID)
	return updated, nil
}

// DeleteAccount soft deletes a leaf account that carries no balance and that no
// ledger row or live voucher entry references.
func (s *Service) DeleteAccount(ctx context.Context, orgID, id, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.LockAccounts(ctx, []int64{id})
		if err != nil {
			return err
		}
		if len(locked) == 0 || locked[0].OrganizationID != orgID || locked[0].DeletedAt != nil {
			return ErrAccountNotFound
		}
		account := locked[0]
		children, err := tx.CountChildren(ctx, orgID, id)
		if err != nil {
			return err
		}
		if children > 0 {
			return ErrAccountHasChildren
		}
		if !account.CurrentBalance.IsZero() {
			return fmt.Errorf("%w: balance %s", ErrAccountInUse, account.CurrentBalance.StringFixed(amountPlaces))
		}
		inUse, err := tx.AccountInUse(ctx, id)
		if err != nil {
			return err
		}
		if inUse {
			return fmt.Errorf("%w: referenced by ledger rows or voucher entries", ErrAccountInUse)
		}
		if err := tx.SoftDeleteAccount(ctx, orgID, id, s.now()); err != nil {
			return err
		}
		return s.recordTx(ctx, tx, shared.AuditLog{
			OrganizationID: orgID,
			ActorID:        actorID,
			Action:         "account.delete",
			Entity:         "chart_of_account",
			EntityID:       fmt.Sprintf("%d", id),
			Meta:           map[string]any{"code": account.Code},
		})
	})
	if err != nil {
		return classify("delete account", err)
	}
	s.bumpReports(ctx, orgID)
	return nil
}

// CreateFiscalYear registers a fiscal year. Overlaps with other years are allowed.
func (s *Service) CreateFiscalYear(ctx context.Context, in CreateFiscalYearInput) (FiscalYear, error) {
	if err := requireOrg(in.OrganizationID); err != nil {
		return FiscalYear{}, err
	}
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return FiscalYear{}, newValidation(RuleRequiredField, -1, "fiscal year name is required")
	}
	if in.StartDate.IsZero() || in.EndDate.IsZero() || !truncateDay(in.EndDate).After(truncateDay(in.StartDate)) {
		return FiscalYear{}, newValidation(RuleDateRange, -1, "end date must be after start date")
	}
	status := in.Status
	switch status {
	case "":
		status = FiscalYearUpcoming
	case FiscalYearUpcoming, FiscalYearCurrent:
	default:
		return FiscalYear{}, newValidation(RuleRequiredField, -1, "new fiscal years must be upcoming or current")
	}
	var created FiscalYear
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var createdBy *int64
		if in.CreatedBy > 0 {
			createdBy = &in.CreatedBy
		}
		var err error
		created, err = tx.InsertFiscalYear(ctx, FiscalYear{
			OrganizationID: in.OrganizationID,
			Name:           in.Name,
			StartDate:      truncateDay(in.StartDate),
			EndDate:        truncateDay(in.EndDate),
			Status:         status,
			CreatedBy:      createdBy,
		})
		return err
	})
	if err != nil {
		return FiscalYear{}, classify("create fiscal year", err)
	}
	return created, nil
}

// ListFiscalYears returns the organization's fiscal years, newest first.
func (s *Service) ListFiscalYears(ctx context.Context, orgID int64) ([]FiscalYear, error) {
	if err := requireOrg(orgID); err != nil {
		return nil, err
	}
	var years []FiscalYear
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		years, err = tx.ListFiscalYears(ctx, orgID)
		return err
	})
	return years, classify("list fiscal years", err)
}

// CloseFiscalYear marks the year closed and locks it against further postings.
func (s *Service) CloseFiscalYear(ctx context.Context, orgID, id, actorID int64) (FiscalYear, error) {
	var closed FiscalYear
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		fy, err := tx.GetFiscalYear(ctx, orgID, id)
		if err != nil {
			return err
		}
		if fy.Status == FiscalYearClosed {
			return fmt.Errorf("%w: fiscal year %d is already closed", ErrInvalidTransition, id)
		}
		if err := tx.UpdateFiscalYearStatus(ctx, id, FiscalYearClosed, true); err != nil {
			return err
		}
		fy.Status = FiscalYearClosed
		fy.IsLocked = true
		closed = fy
		return s.recordTx(ctx, tx, shared.AuditLog{
			OrganizationID: orgID,
			ActorID:        actorID,
			Action:         "fiscal_year.close",
			Entity:         "fiscal_year",
			EntityID:       fmt.Sprintf("%d", id),
		})
	})
	if err != nil {
		return FiscalYear{}, classify("close fiscal year", err)
	}
	return closed, nil
}

// CreateVoucher stores a draft voucher. Drafts may be unbalanced; the balance gate runs at posting.
func (s *Service) CreateVoucher(ctx context.Context, in CreateVoucherInput) (Voucher, error) {
	if err := requireOrg(in.OrganizationID); err != nil {
		return Voucher{}, err
	}
	if in.Date.IsZero() {
		return Voucher{}, newValidation(RuleRequiredField, -1, "voucher date is required")
	}
	if err := checkEntryShape(in.Entries); err != nil {
		return Voucher{}, err
	}
	number := strings.TrimSpace(in.Number)
	if number == "" {
		number = s.newNumber()
	}
	voucherType := strings.TrimSpace(in.Type)
	if voucherType == "" {
		voucherType = "journal"
	}
	totals := SumEntries(in.Entries)
	var created Voucher
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := checkDraftReferences(ctx, tx, in.OrganizationID, in.FiscalYearID, in.Entries); err != nil {
			return err
		}
		var createdBy *int64
		if in.CreatedBy > 0 {
			createdBy = &in.CreatedBy
		}
		v, err := tx.InsertVoucher(ctx, Voucher{
			OrganizationID: in.OrganizationID,
			FiscalYearID:   in.FiscalYearID,
			Number:         number,
			Date:           truncateDay(in.Date),
			Type:           voucherType,
			Reference:      in.Reference,
			Narration:      in.Narration,
			TotalDebit:     totals.Debit,
			TotalCredit:    totals.Credit,
			Status:         VoucherStatusDraft,
			CreatedBy:      createdBy,
		})
		if err != nil {
			return err
		}
		v.Entries, err = tx.InsertEntries(ctx, v.ID, in.Entries)
		if err != nil {
			return err
		}
		created = v
		return s.recordTx(ctx, tx, shared.AuditLog{
			OrganizationID: in.OrganizationID,
			ActorID:        in.CreatedBy,
			Action:         "voucher.create",
			Entity:         "journal_voucher",
			EntityID:       fmt.Sprintf("%d", v.ID),
			Meta:           map[string]any{"number": v.Number},
		})
	})
	if err != nil {
		return Voucher{}, classify("create voucher", err)
	}
	return created, nil
}

// checkDraftReferences verifies that every referenced account and fiscal year belongs to the organization.
func checkDraftReferences(ctx context.Context, tx TxRepository, orgID int64, fiscalYearID *int64, entries []EntryInput) error {
	if fiscalYearID != nil {
		if _, err := tx.GetFiscalYear(ctx, orgID, *fiscalYearID); err != nil {
			if errors.Is(err, ErrFiscalYearNotFound) {
				return newValidation(RuleFiscalYearMissing, -1, "fiscal year %d not found", *fiscalYearID)
			}
			return err
		}
	}
	if len(entries) == 0 {
		return nil
	}
	accounts, err := tx.FindAccounts(ctx, uniqueAccountIDs(entries))
	if err != nil {
		return err
	}
	byID := make(map[int64]Account, len(accounts))
	for _, a := range accounts {
		byID[a.ID] = a
	}
	for idx, e := range entries {
		if err := checkEntryAccount(idx, e.AccountID, orgID, byID, accountsLive); err != nil {
			return err
		}
	}
	return nil
}

// accountCheck selects which accounts an entry may reference.
type accountCheck int

const (
	// accountsLive rejects deleted accounts; drafts may use inactive ones.
	accountsLive accountCheck = iota
	// accountsPostable additionally requires the account to be active.
	accountsPostable
	// accountsHistoric accepts deleted and inactive accounts so existing postings
	// can always be cancelled or reversed.
	accountsHistoric
)

// checkEntryAccount reports missing, foreign, deleted or inactive accounts according to check.
func checkEntryAccount(idx int, accountID, orgID int64, byID map[int64]Account, check accountCheck) error {
	account, ok := byID[accountID]
	if !ok || (account.DeletedAt != nil && check != accountsHistoric) {
		err := newValidation(RuleAccountMissing, idx, "account %d does not exist", accountID)
		err.AccountID = accountID
		return err
	}
	if account.OrganizationID != orgID {
		err := newValidation(RuleAccountOrganization, idx, "account %d belongs to another organization", accountID)
		err.AccountID = accountID
		return err
	}
	if check == accountsPostable && account.Status != AccountStatusActive {
		err := newValidation(RuleAccountInactive, idx, "account %s (%d) is inactive", account.Code, accountID)
		err.AccountID = accountID
		return err
	}
	return nil
}

func uniqueAccountIDs(entries []EntryInput) []int64 {
	seen := make(map[int64]struct{}, len(entries))
	ids := make([]int64, 0, len(entries))
	for _, e := range entries {
		if _, ok := seen[e.AccountID]; ok {
			continue
		}
		seen[e.AccountID] = struct{}{}
		ids = append(ids, e.AccountID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ReplaceEntries swaps the entry set of a draft voucher and recomputes its totals.
func (s *Service) ReplaceEntries(ctx context.Context, orgID, voucherID int64, entries []EntryInput) (Voucher, error) {
	if err := checkEntryShape(entries); err != nil {
		return Voucher{}, err
	}
	var updated Voucher
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		v, err := tx.GetVoucherForUpdate(ctx, orgID, voucherID)
		if err != nil {
			return err
		}
		if v.Status != VoucherStatusDraft {
			return fmt.Errorf("%w: entries of a %s voucher are immutable", ErrInvalidTransition, v.Status)
		}
		if err := checkDraftReferences(ctx, tx, orgID, nil, entries); err != nil {
			return err
		}
		if err := tx.DeleteEntries(ctx, v.ID); err != nil {
			return err
		}
		v.Entries, err = tx.InsertEntries(ctx, v.ID, entries)
		if err != nil {
			return err
		}
		totals := SumEntries(entries)
		v.TotalDebit, v.TotalCredit = totals.Debit, totals.Credit
		if err := tx.UpdateVoucherHeader(ctx, v); err != nil {
			return err
		}
		updated = v
		return nil
	})
	if err != nil {
		return Voucher{}, classify("replace entries", err)
	}
	return updated, nil
}

// UpdateVoucher edits the header of a draft voucher.
func (s *Service) UpdateVoucher(ctx context.Context, in UpdateVoucherInput) (Voucher, error) {
	var updated Voucher
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		v, err := tx.GetVoucherForUpdate(ctx, in.OrganizationID, in.ID)
		if err != nil {
			return err
		}
		if v.Status != VoucherStatusDraft {
			return fmt.Errorf("%w: a %s voucher cannot be edited", ErrInvalidTransition, v.Status)
		}
		if in.FiscalYearID != nil {
			if err := checkDraftReferences(ctx, tx, in.OrganizationID, in.FiscalYearID, nil); err != nil {
				return err
			}
			fy := *in.FiscalYearID
			v.FiscalYearID = &fy
		}
		if in.Date != nil {
			if in.Date.IsZero() {
				return newValidation(RuleRequiredField, -1, "voucher date is required")
			}
			v.Date = truncateDay(*in.Date)
		}
		if in.Type != nil && strings.TrimSpace(*in.Type) != "" {
			v.Type = strings.TrimSpace(*in.Type)
		}
		if in.Reference != nil {
			v.Reference = *in.Reference
		}
		if in.Narration != nil {
			v.Narration = *in.Narration
		}
		if err := tx.UpdateVoucherHeader(ctx, v); err != nil {
			return err
		}
		updated = v
		return nil
	})
	if err != nil {
		return Voucher{}, classify("update voucher", err)
	}
	return updated, nil
}

// DeleteVoucher removes a draft voucher together with its entries.
func (s *Service) DeleteVoucher(ctx context.Context, orgID, voucherID, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		v, err := tx.GetVoucherForUpdate(ctx, orgID, voucherID)
		if err != nil {
			return err
		}
		if v.Status != VoucherStatusDraft {
			return fmt.Errorf("%w: only drafts can be deleted, voucher is %s", ErrInvalidTransition, v.Status)
		}
		if err := tx.DeleteVoucher(ctx, orgID, voucherID); err != nil {
			return err
		}
		return s.recordTx(ctx, tx, shared.AuditLog{
			OrganizationID: orgID,
			ActorID:        actorID,
			Action:         "voucher.delete",
			Entity:         "journal_voucher",
			EntityID:       fmt.Sprintf("%d", voucherID),
			Meta:           map[string]any{"number": v.Number},
		})
	})
	if err != nil {
		return classify("delete voucher", err)
	}
	return nil
}

// GetVoucher returns a voucher with its entries in line order.
func (s *Service) GetVoucher(ctx context.Context, orgID, voucherID int64) (Voucher, error) {
	var v Voucher
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		v, err = tx.GetVoucher(ctx, orgID, voucherID)
		return err
	})
	return v, classify("get voucher", err)
}

// ListVouchers returns voucher headers, newest first.
func (s *Service) ListVouchers(ctx context.Context, filter VoucherFilter) ([]Voucher, error) {
	if err := requireOrg(filter.OrganizationID); err != nil {
		return nil, err
	}
	filter.Limit, filter.Offset = clampPage(filter.Limit, filter.Offset)
	var vouchers []Voucher
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		vouchers, err = tx.ListVouchers(ctx, filter)
		return err
	})
	return vouchers, classify("list vouchers", err)
}

// ListLedger returns ledger rows ordered by entry date.
func (s *Service) ListLedger(ctx context.Context, filter LedgerFilter) ([]LedgerRow, error) {
	if err := requireOrg(filter.OrganizationID); err != nil {
		return nil, err
	}
	filter.Limit, filter.Offset = clampPage(filter.Limit, filter.Offset)
	var rows []LedgerRow
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		rows, err = tx.ListLedger(ctx, filter)
		return err
	})
	return rows, classify("list ledger", err)
}

func clampPage(limit, offset int) (int, int) {
	p := shared.NewPagination(1, limit, 0)
	if offset < 0 {
		offset = 0
	}
	return p.Limit(), offset
}

func (s *Service) bumpReports(ctx context.Context, orgID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Bump(ctx, orgID); err != nil {
		s.logger.Warn("report cache bump failed", slog.Int64("organization_id", orgID), slog.Any("error", err))
	}
}
