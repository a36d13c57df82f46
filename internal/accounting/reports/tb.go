package reports

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// AccountBalance models a ledger account with aggregated movements.
type AccountBalance struct {
	ID   int64
	Code string
	Name string
	Type string
	// NormalDebit is true for accounts whose balance grows on the debit side.
	NormalDebit bool
	Opening     decimal.Decimal
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	// Current is the account's stored running balance.
	Current decimal.Decimal
}

// Closing computes the closing balance on the account's normal side.
func (a AccountBalance) Closing() decimal.Decimal {
	if a.NormalDebit {
		return a.Opening.Add(a.Debit).Sub(a.Credit)
	}
	return a.Opening.Add(a.Credit).Sub(a.Debit)
}

// GroupKey returns a key used for grouping trial balance rows.
func (a AccountBalance) GroupKey() string {
	if idx := strings.Index(a.Code, "."); idx > 0 {
		return a.Code[:idx]
	}
	if idx := strings.Index(a.Code, "-"); idx > 0 {
		return a.Code[:idx]
	}
	if len(a.Code) >= 2 {
		return a.Code[:2]
	}
	return a.Code
}

// TrialBalanceAccount represents a row inside a trial balance group.
// BalanceDebit and BalanceCredit place the closing balance in its column.
type TrialBalanceAccount struct {
	ID            int64           `json:"account_id"`
	Code          string          `json:"account_code"`
	Name          string          `json:"account_name"`
	Type          string          `json:"account_type"`
	Opening       decimal.Decimal `json:"opening_balance"`
	Debit         decimal.Decimal `json:"period_debit"`
	Credit        decimal.Decimal `json:"period_credit"`
	Closing       decimal.Decimal `json:"net_balance"`
	BalanceDebit  decimal.Decimal `json:"debit"`
	BalanceCredit decimal.Decimal `json:"credit"`
}

// TrialBalanceGroup aggregates accounts for presentation.
type TrialBalanceGroup struct {
	Key           string                `json:"key"`
	Accounts      []TrialBalanceAccount `json:"accounts"`
	BalanceDebit  decimal.Decimal       `json:"debit"`
	BalanceCredit decimal.Decimal       `json:"credit"`
}

// TrialBalance is the structure returned by the trial balance endpoint.
type TrialBalance struct {
	Groups      []TrialBalanceGroup `json:"groups"`
	TotalDebit  decimal.Decimal     `json:"total_debit"`
	TotalCredit decimal.Decimal     `json:"total_credit"`
	IsBalanced  bool                `json:"is_balanced"`
}

// BuildTrialBalance converts account balances into grouped trial balance data.
// Accounts with no opening balance and no movement are skipped.
func BuildTrialBalance(accounts []AccountBalance) TrialBalance {
	groups := make(map[string]*TrialBalanceGroup)
	keys := make([]string, 0)
	for _, acc := range accounts {
		if acc.Opening.IsZero() && acc.Debit.IsZero() && acc.Credit.IsZero() {
			continue
		}
		key := acc.GroupKey()
		grp, ok := groups[key]
		if !ok {
			grp = &TrialBalanceGroup{Key: key}
			groups[key] = grp
			keys = append(keys, key)
		}
		closing := acc.Closing()
		row := TrialBalanceAccount{
			ID:            acc.ID,
			Code:          acc.Code,
			Name:          acc.Name,
			Type:          acc.Type,
			Opening:       acc.Opening,
			Debit:         acc.Debit,
			Credit:        acc.Credit,
			Closing:       closing,
			BalanceDebit:  decimal.Zero,
			BalanceCredit: decimal.Zero,
		}
		// a negative balance belongs in the opposite column
		onDebit := acc.NormalDebit != closing.IsNegative()
		if onDebit {
			row.BalanceDebit = closing.Abs()
		} else {
			row.BalanceCredit = closing.Abs()
		}
		grp.Accounts = append(grp.Accounts, row)
		grp.BalanceDebit = grp.BalanceDebit.Add(row.BalanceDebit)
		grp.BalanceCredit = grp.BalanceCredit.Add(row.BalanceCredit)
	}

	sort.Strings(keys)
	result := TrialBalance{TotalDebit: decimal.Zero, TotalCredit: decimal.Zero}
	for _, key := range keys {
		grp := groups[key]
		sort.Slice(grp.Accounts, func(i, j int) bool {
			return grp.Accounts[i].Code < grp.Accounts[j].Code
		})
		result.Groups = append(result.Groups, *grp)
		result.TotalDebit = result.TotalDebit.Add(grp.BalanceDebit)
		result.TotalCredit = result.TotalCredit.Add(grp.BalanceCredit)
	}
	result.IsBalanced = result.TotalDebit.Equal(result.TotalCredit)
	return result
}
