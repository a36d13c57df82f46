package accounting

import "github.com/shopspring/decimal"

// NormalSide returns the side on which the account type's balance increases.
func NormalSide(t AccountType) EntryType {
	switch t {
	case AccountTypeAsset, AccountTypeExpense:
		return EntryTypeDebit
	default:
		return EntryTypeCredit
	}
}

// SignedDelta is the change to current_balance when amount is posted on side.
// Cancellation applies SignedDelta(...).Neg(), so both directions share this rule.
func SignedDelta(t AccountType, side EntryType, amount decimal.Decimal) decimal.Decimal {
	if side == NormalSide(t) {
		return amount
	}
	return amount.Neg()
}

// ApplyEntry returns balance after posting amount on side.
func ApplyEntry(balance decimal.Decimal, t AccountType, side EntryType, amount decimal.Decimal) decimal.Decimal {
	return balance.Add(SignedDelta(t, side, amount))
}

// splitAmount maps an entry onto the ledger debit/credit columns.
func splitAmount(side EntryType, amount decimal.Decimal) (debit, credit decimal.Decimal) {
	if side == EntryTypeDebit {
		return amount, decimal.Zero
	}
	return decimal.Zero, amount
}
