package accounting

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AccountType enumerates CoA categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "asset"
	AccountTypeLiability AccountType = "liability"
	AccountTypeEquity    AccountType = "equity"
	AccountTypeIncome    AccountType = "income"
	AccountTypeExpense   AccountType = "expense"
)

// ParseAccountType normalises user input. "revenue" is accepted as an alias of income.
func ParseAccountType(raw string) (AccountType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "asset":
		return AccountTypeAsset, nil
	case "liability":
		return AccountTypeLiability, nil
	case "equity":
		return AccountTypeEquity, nil
	case "income", "revenue":
		return AccountTypeIncome, nil
	case "expense":
		return AccountTypeExpense, nil
	}
	return "", fmt.Errorf("accounting: unknown account type %q", raw)
}

// Valid reports whether t is one of the five account types.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeEquity, AccountTypeIncome, AccountTypeExpense:
		return true
	}
	return false
}

// AccountStatus enumerates account availability.
type AccountStatus string

const (
	AccountStatusActive   AccountStatus = "active"
	AccountStatusInactive AccountStatus = "inactive"
)

// VoucherStatus enumerates voucher lifecycle values.
type VoucherStatus string

const (
	VoucherStatusDraft     VoucherStatus = "draft"
	VoucherStatusPosted    VoucherStatus = "posted"
	VoucherStatusCancelled VoucherStatus = "cancelled"
)

// EntryType is the side of a journal entry.
type EntryType string

const (
	EntryTypeDebit  EntryType = "debit"
	EntryTypeCredit EntryType = "credit"
)

// Valid reports whether e is debit or credit.
func (e EntryType) Valid() bool {
	return e == EntryTypeDebit || e == EntryTypeCredit
}

// Opposite returns the other side.
func (e EntryType) Opposite() EntryType {
	if e == EntryTypeDebit {
		return EntryTypeCredit
	}
	return EntryTypeDebit
}

// FiscalYearStatus enumerates fiscal year states.
type FiscalYearStatus string

const (
	FiscalYearUpcoming FiscalYearStatus = "upcoming"
	FiscalYearCurrent  FiscalYearStatus = "current"
	FiscalYearClosed   FiscalYearStatus = "closed"
)

// Account models a chart of accounts node.
type Account struct {
	ID             int64           `json:"id"`
	OrganizationID int64           `json:"organization_id"`
	Code           string          `json:"account_code"`
	Name           string          `json:"account_name"`
	Type           AccountType     `json:"account_type"`
	SubType        string          `json:"sub_type,omitempty"`
	ParentID       *int64          `json:"parent_account_id,omitempty"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	Status         AccountStatus   `json:"status"`
	IsCashAccount  bool            `json:"is_cash_account"`
	Description    string          `json:"description,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	DeletedAt      *time.Time      `json:"deleted_at,omitempty"`
}

// IsActive reports whether the account accepts new postings.
func (a Account) IsActive() bool {
	return a.Status == AccountStatusActive && a.DeletedAt == nil
}

// FiscalYear bounds the dates vouchers may be posted in.
type FiscalYear struct {
	ID             int64            `json:"id"`
	OrganizationID int64            `json:"organization_id"`
	Name           string           `json:"name"`
	StartDate      time.Time        `json:"start_date"`
	EndDate        time.Time        `json:"end_date"`
	Status         FiscalYearStatus `json:"status"`
	IsLocked       bool             `json:"is_locked"`
	CreatedBy      *int64           `json:"created_by,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// Contains reports whether date falls inside the fiscal year, inclusive.
func (fy FiscalYear) Contains(date time.Time) bool {
	d := truncateDay(date)
	return !d.Before(truncateDay(fy.StartDate)) && !d.After(truncateDay(fy.EndDate))
}

// Voucher is a journal voucher header and its ordered entries.
type Voucher struct {
	ID             int64           `json:"id"`
	OrganizationID int64           `json:"organization_id"`
	FiscalYearID   *int64          `json:"fiscal_year_id,omitempty"`
	Number         string          `json:"voucher_number"`
	Date           time.Time       `json:"voucher_date"`
	Type           string          `json:"voucher_type"`
	Reference      string          `json:"reference,omitempty"`
	Narration      string          `json:"narration,omitempty"`
	TotalDebit     decimal.Decimal `json:"total_debit"`
	TotalCredit    decimal.Decimal `json:"total_credit"`
	Status         VoucherStatus   `json:"status"`
	ReversalOfID   *int64          `json:"reversal_of_id,omitempty"`
	CreatedBy      *int64          `json:"created_by,omitempty"`
	ApprovedBy     *int64          `json:"approved_by,omitempty"`
	PostedAt       *time.Time      `json:"posted_at,omitempty"`
	CancelledAt    *time.Time      `json:"cancelled_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	Entries        []Entry         `json:"entries,omitempty"`
}

// Entry is one debit or credit line of a voucher.
type Entry struct {
	ID                int64           `json:"id"`
	VoucherID         int64           `json:"journal_voucher_id"`
	LineNo            int             `json:"line_no"`
	AccountID         int64           `json:"account_id"`
	Type              EntryType       `json:"entry_type"`
	Amount            decimal.Decimal `json:"amount"`
	Description       string          `json:"description,omitempty"`
	RelatedCustomerID *int64          `json:"related_customer_id,omitempty"`
	RelatedSupplierID *int64          `json:"related_supplier_id,omitempty"`
	CostCenterID      *int64          `json:"cost_center_id,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// LedgerRow is the append-only record of one posted entry.
type LedgerRow struct {
	ID             int64           `json:"id"`
	OrganizationID int64           `json:"organization_id"`
	AccountID      int64           `json:"account_id"`
	VoucherID      int64           `json:"journal_voucher_id"`
	EntryID        int64           `json:"journal_entry_id"`
	EntryDate      time.Time       `json:"entry_date"`
	Reference      string          `json:"reference,omitempty"`
	EntryType      EntryType       `json:"entry_type"`
	DebitAmount    decimal.Decimal `json:"debit_amount"`
	CreditAmount   decimal.Decimal `json:"credit_amount"`
	Balance        decimal.Decimal `json:"balance"`
	Narration      string          `json:"narration,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Amount returns whichever side of the row is populated.
func (r LedgerRow) Amount() decimal.Decimal {
	if r.EntryType == EntryTypeDebit {
		return r.DebitAmount
	}
	return r.CreditAmount
}

// EntryInput describes a journal line supplied by a caller.
type EntryInput struct {
	AccountID         int64
	Type              EntryType
	Amount            decimal.Decimal
	Description       string
	RelatedCustomerID *int64
	RelatedSupplierID *int64
	CostCenterID      *int64
}

// CreateAccountInput groups fields required to open an account.
type CreateAccountInput struct {
	OrganizationID int64
	Code           string
	Name           string
	Type           AccountType
	SubType        string
	ParentID       *int64
	OpeningBalance decimal.Decimal
	IsCashAccount  bool
	Description    string
	CreatedBy      int64
}

// UpdateAccountInput carries optional account changes. Nil fields are left untouched.
type UpdateAccountInput struct {
	OrganizationID int64
	ID             int64
	ActorID        int64
	Name           *string
	SubType        *string
	Description    *string
	Status         *AccountStatus
	IsCashAccount  *bool
	// ParentID set with ClearParent false moves the account; ClearParent makes it a root.
	ParentID    *int64
	ClearParent bool
}

// AccountFilter narrows ListAccounts.
type AccountFilter struct {
	OrganizationID int64
	Type           AccountType
	Status         AccountStatus
	RootOnly       bool
	CashOnly       bool
}

// CreateFiscalYearInput groups fields for a new fiscal year.
type CreateFiscalYearInput struct {
	OrganizationID int64
	Name           string
	StartDate      time.Time
	EndDate        time.Time
	Status         FiscalYearStatus
	CreatedBy      int64
}

// CreateVoucherInput groups fields required to draft a voucher.
type CreateVoucherInput struct {
	OrganizationID int64
	FiscalYearID   *int64
	Number         string
	Date           time.Time
	Type           string
	Reference      string
	Narration      string
	CreatedBy      int64
	Entries        []EntryInput
}

// UpdateVoucherInput carries optional header changes for a draft.
type UpdateVoucherInput struct {
	OrganizationID int64
	ID             int64
	FiscalYearID   *int64
	Date           *time.Time
	Type           *string
	Reference      *string
	Narration      *string
}

// VoucherFilter narrows ListVouchers.
type VoucherFilter struct {
	OrganizationID int64
	Status         VoucherStatus
	Type           string
	From           *time.Time
	To             *time.Time
	Limit          int
	Offset         int
}

// LedgerFilter narrows ListLedger.
type LedgerFilter struct {
	OrganizationID int64
	AccountID      int64
	VoucherID      int64
	From           *time.Time
	To             *time.Time
	Limit          int
	Offset         int
}

// ReverseInput wraps parameters for reversal.
type ReverseInput struct {
	OrganizationID int64
	VoucherID      int64
	ActorID        int64
	Date           *time.Time
	FiscalYearID   *int64
	Narration      string
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
