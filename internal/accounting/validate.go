package accounting

import (
	"github.com/shopspring/decimal"
)

const amountPlaces = 2

// Totals holds the debit and credit sums of an entry set.
type Totals struct {
	Debit  decimal.Decimal
	Credit decimal.Decimal
}

// Balanced reports whether both sides match at two decimal places.
func (t Totals) Balanced() bool {
	return t.Debit.Round(amountPlaces).Equal(t.Credit.Round(amountPlaces))
}

// SumEntries totals the entries per side. Entries with an unknown side are ignored.
func SumEntries(entries []EntryInput) Totals {
	totals := Totals{Debit: decimal.Zero, Credit: decimal.Zero}
	for _, e := range entries {
		switch e.Type {
		case EntryTypeDebit:
			totals.Debit = totals.Debit.Add(e.Amount)
		case EntryTypeCredit:
			totals.Credit = totals.Credit.Add(e.Amount)
		}
	}
	return totals
}

// checkEntryShape enforces the per-line rules that hold for drafts and postings alike.
func checkEntryShape(entries []EntryInput) error {
	for idx, e := range entries {
		if e.AccountID <= 0 {
			return newValidation(RuleAccountRequired, idx, "account is required")
		}
		if !e.Type.Valid() {
			err := newValidation(RuleEntryType, idx, "entry type must be debit or credit, got %q", e.Type)
			err.AccountID = e.AccountID
			return err
		}
		if !e.Amount.IsPositive() {
			err := newValidation(RuleAmountPositive, idx, "amount must be greater than zero")
			err.AccountID = e.AccountID
			err.Side = e.Type
			return err
		}
		if !e.Amount.Equal(e.Amount.Round(amountPlaces)) {
			err := newValidation(RuleAmountPrecision, idx, "amount %s has more than %d decimal places", e.Amount, amountPlaces)
			err.AccountID = e.AccountID
			err.Side = e.Type
			return err
		}
	}
	return nil
}

// ValidateEntries is the balanced-voucher gate run before posting. It reports the
// first violated rule; balance failures name the heavier side and the difference.
func ValidateEntries(entries []EntryInput) error {
	if err := checkEntryShape(entries); err != nil {
		return err
	}
	totals := SumEntries(entries)
	if totals.Debit.IsZero() || totals.Credit.IsZero() {
		missing := EntryTypeDebit
		if totals.Debit.IsPositive() {
			missing = EntryTypeCredit
		}
		err := newValidation(RuleOneOfEachSide, -1, "voucher needs at least one debit and one credit entry, no %s entry found", missing)
		err.Side = missing.Opposite()
		err.Difference = totals.Debit.Sub(totals.Credit).Abs()
		return err
	}
	if !totals.Balanced() {
		diff := totals.Debit.Sub(totals.Credit)
		side := EntryTypeDebit
		if diff.IsNegative() {
			side = EntryTypeCredit
		}
		err := newValidation(RuleBalanced, -1, "debit %s and credit %s differ by %s on the %s side",
			totals.Debit.StringFixed(amountPlaces), totals.Credit.StringFixed(amountPlaces), diff.Abs().StringFixed(amountPlaces), side)
		err.Side = side
		err.Difference = diff.Abs()
		return err
	}
	return nil
}

// entryInputs converts stored entries back to inputs for validation.
func entryInputs(entries []Entry) []EntryInput {
	out := make([]EntryInput, 0, len(entries))
	for _, e := range entries {
		out = append(out, EntryInput{
			AccountID:         e.AccountID,
			Type:              e.Type,
			Amount:            e.Amount,
			Description:       e.Description,
			RelatedCustomerID: e.RelatedCustomerID,
			RelatedSupplierID: e.RelatedSupplierID,
			CostCenterID:      e.CostCenterID,
		})
	}
	return out
}
