package accounting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateEntries(t *testing.T) {
	cases := []struct {
		name    string
		entries []EntryInput
		rule    string
		index   int
	}{
		{
			name:    "balanced",
			entries: []EntryInput{debit(1, "100.00"), credit(2, "60.00"), credit(3, "40.00")},
		},
		{
			name:    "balanced within precision",
			entries: []EntryInput{debit(1, "0.10"), debit(1, "0.20"), credit(2, "0.30")},
		},
		{
			name:    "zero amount",
			entries: []EntryInput{debit(1, "0"), credit(2, "0")},
			rule:    RuleAmountPositive,
			index:   0,
		},
		{
			name:    "negative amount",
			entries: []EntryInput{debit(1, "10"), credit(2, "-10")},
			rule:    RuleAmountPositive,
			index:   1,
		},
		{
			name:    "unknown side",
			entries: []EntryInput{debit(1, "10"), {AccountID: 2, Type: "both", Amount: d("10")}},
			rule:    RuleEntryType,
			index:   1,
		},
		{
			name:    "missing account",
			entries: []EntryInput{debit(0, "10"), credit(2, "10")},
			rule:    RuleAccountRequired,
			index:   0,
		},
		{
			name:    "sub-cent amount",
			entries: []EntryInput{debit(1, "10.005"), credit(2, "10.005")},
			rule:    RuleAmountPrecision,
			index:   0,
		},
		{
			name:    "only debits",
			entries: []EntryInput{debit(1, "10"), debit(2, "10")},
			rule:    RuleOneOfEachSide,
			index:   -1,
		},
		{
			name:    "empty",
			entries: nil,
			rule:    RuleOneOfEachSide,
			index:   -1,
		},
		{
			name:    "unbalanced",
			entries: []EntryInput{debit(1, "10"), credit(2, "12.50")},
			rule:    RuleBalanced,
			index:   -1,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateEntries(tc.entries)
			if tc.rule == "" {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.rule, verr.Rule)
			assert.Equal(t, tc.index, verr.EntryIndex)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestValidateEntriesReportsHeavierSide(t *testing.T) {
	err := ValidateEntries([]EntryInput{debit(1, "10"), credit(2, "12.50")})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, EntryTypeCredit, verr.Side)
	assert.Equal(t, "2.50", verr.Difference.StringFixed(2))
	assert.Contains(t, verr.Error(), "credit side")
}

func TestSumEntriesIgnoresUnknownSide(t *testing.T) {
	totals := SumEntries([]EntryInput{debit(1, "5"), credit(2, "3"), {AccountID: 3, Type: "x", Amount: d("9")}})
	assert.Equal(t, "5.00", totals.Debit.StringFixed(2))
	assert.Equal(t, "3.00", totals.Credit.StringFixed(2))
	assert.False(t, totals.Balanced())
}

func TestParseAccountType(t *testing.T) {
	got, err := ParseAccountType(" Revenue ")
	require.NoError(t, err)
	assert.Equal(t, AccountTypeIncome, got)

	_, err = ParseAccountType("contra")
	assert.Error(t, err)
}

func TestClassifyKeepsDomainErrors(t *testing.T) {
	assert.Nil(t, classify("op", nil))
	assert.Equal(t, ErrAccountCycle, classify("op", ErrAccountCycle))

	verr := newValidation(RuleBalanced, -1, "off")
	assert.Same(t, verr, classify("op", verr))

	wrapped := classify("post voucher", assert.AnError)
	assert.True(t, IsRetryable(wrapped))
	assert.ErrorIs(t, wrapped, assert.AnError)
	assert.Same(t, wrapped, classify("outer", wrapped))
}
