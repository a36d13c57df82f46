package accounting

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrValidation matches every *ValidationError via errors.Is.
	ErrValidation = errors.New("accounting: validation failed")
	// ErrInvalidTransition indicates a voucher status change that the state machine forbids.
	ErrInvalidTransition = errors.New("accounting: invalid status transition")
	// ErrAccountNotFound indicates missing account.
	ErrAccountNotFound = errors.New("accounting: account not found")
	// ErrVoucherNotFound indicates missing voucher.
	ErrVoucherNotFound = errors.New("accounting: journal voucher not found")
	// ErrFiscalYearNotFound indicates missing fiscal year.
	ErrFiscalYearNotFound = errors.New("accounting: fiscal year not found")
	// ErrFiscalYearLocked indicates the fiscal year no longer accepts postings.
	ErrFiscalYearLocked = errors.New("accounting: fiscal year locked")
	// ErrDuplicateAccountCode indicates account_code clash inside an organization.
	ErrDuplicateAccountCode = errors.New("accounting: account code already exists")
	// ErrDuplicateVoucherNumber indicates voucher_number clash inside an organization.
	ErrDuplicateVoucherNumber = errors.New("accounting: voucher number already exists")
	// ErrAccountCycle indicates the requested parent would create a loop.
	ErrAccountCycle = errors.New("accounting: account hierarchy cycle")
	// ErrAccountHasChildren blocks deleting a parent account.
	ErrAccountHasChildren = errors.New("accounting: account has child accounts")
	// ErrAccountInUse blocks deleting an account that carries a balance or is referenced.
	ErrAccountInUse = errors.New("accounting: account is in use")
	// ErrAlreadyReversed indicates a reversing voucher already exists.
	ErrAlreadyReversed = errors.New("accounting: voucher already reversed")
	// ErrVoucherBusy indicates another request is posting or cancelling the same voucher.
	ErrVoucherBusy = errors.New("accounting: voucher is being processed")
)

// Validation rule identifiers reported in ValidationError.Rule.
const (
	RuleAmountPositive      = "amount_positive"
	RuleAmountPrecision     = "amount_precision"
	RuleEntryType           = "entry_type"
	RuleAccountRequired     = "account_required"
	RuleOneOfEachSide       = "one_of_each_side"
	RuleBalanced            = "balanced"
	RuleAccountMissing      = "account_missing"
	RuleAccountInactive     = "account_inactive"
	RuleAccountOrganization = "account_organization"
	RuleFiscalYearRange     = "fiscal_year_range"
	RuleFiscalYearMissing   = "fiscal_year_missing"
	RuleRequiredField       = "required"
	RuleAccountType         = "account_type"
	RuleParentOrganization  = "parent_organization"
	RuleDateRange           = "date_range"
)

// ValidationError reports the violated rule and where it occurred.
type ValidationError struct {
	Rule    string
	Message string
	// EntryIndex is the zero-based entry position, or -1 when the rule is voucher-wide.
	EntryIndex int
	AccountID  int64
	// Side is the heavier side for balance failures.
	Side       EntryType
	Difference decimal.Decimal
}

func (e *ValidationError) Error() string {
	if e.EntryIndex >= 0 {
		return fmt.Sprintf("accounting: %s (entry %d): %s", e.Rule, e.EntryIndex, e.Message)
	}
	return fmt.Sprintf("accounting: %s: %s", e.Rule, e.Message)
}

// Is lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func newValidation(rule string, index int, format string, args ...any) *ValidationError {
	return &ValidationError{Rule: rule, EntryIndex: index, Message: fmt.Sprintf(format, args...)}
}

// PersistenceError wraps a storage failure. The prior committed state is unchanged, so callers may retry.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("accounting: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a storage failure that may succeed on retry.
func IsRetryable(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

var domainErrors = []error{
	ErrValidation,
	ErrInvalidTransition,
	ErrAccountNotFound,
	ErrVoucherNotFound,
	ErrFiscalYearNotFound,
	ErrFiscalYearLocked,
	ErrDuplicateAccountCode,
	ErrDuplicateVoucherNumber,
	ErrAccountCycle,
	ErrAccountHasChildren,
	ErrAccountInUse,
	ErrAlreadyReversed,
	ErrVoucherBusy,
}

// classify passes domain errors through and wraps everything else as a PersistenceError.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return err
		}
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
