package accounting

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func (f *fixture) postOn(t *testing.T, date string, entries ...EntryInput) Voucher {
	t.Helper()
	ctx := context.Background()
	v, err := f.svc.CreateVoucher(ctx, CreateVoucherInput{
		OrganizationID: testOrg,
		Date:           day(date),
		Entries:        entries,
	})
	require.NoError(t, err)
	posted, err := f.svc.PostVoucher(ctx, testOrg, v.ID, 0)
	require.NoError(t, err)
	return posted
}

// statementBook posts vouchers out of date order: 03-01, 03-10, 03-05 and a
// future-dated 03-20 relative to testNow.
func statementBook(t *testing.T) (*fixture, Account, Account) {
	t.Helper()
	f := newFixture(t)
	cash := f.account(t, "1100", AccountTypeAsset, "1000.00")
	sales := f.account(t, "4100", AccountTypeIncome, "0")
	expense := f.account(t, "6100", AccountTypeExpense, "0")
	f.postOn(t, "2025-03-01", debit(cash.ID, "200.00"), credit(sales.ID, "200.00"))
	f.postOn(t, "2025-03-10", debit(expense.ID, "50.00"), credit(cash.ID, "50.00"))
	f.postOn(t, "2025-03-05", debit(cash.ID, "30.00"), credit(sales.ID, "30.00"))
	f.postOn(t, "2025-03-20", debit(cash.ID, "500.00"), credit(sales.ID, "500.00"))
	require.Equal(t, "1680.00", f.balance(cash.ID))
	return f, cash, sales
}

func TestAccountStatementFoldsEarlierRowsIntoOpening(t *testing.T) {
	f, cash, _ := statementBook(t)
	from := day("2025-03-04")

	st, err := f.svc.AccountStatement(context.Background(), testOrg, cash.ID, &from, nil)
	require.NoError(t, err)
	assert.Equal(t, day("2025-03-15"), st.To, "missing end date means today")
	assert.Equal(t, "1200.00", st.OpeningBalance.StringFixed(2))
	assert.Equal(t, "30.00", st.PeriodDebit.StringFixed(2))
	assert.Equal(t, "50.00", st.PeriodCredit.StringFixed(2))
	assert.Equal(t, "-20.00", st.NetMovement.StringFixed(2))
	assert.Equal(t, "1180.00", st.ClosingBalance.StringFixed(2))
	assert.Equal(t, EntryTypeDebit, st.BalanceSide)
	require.Equal(t, 2, st.TransactionCount)

	require.Len(t, st.Lines, 2)
	assert.Equal(t, day("2025-03-05"), st.Lines[0].Date)
	assert.Equal(t, "1230.00", st.Lines[0].Balance.StringFixed(2))
	assert.Equal(t, day("2025-03-10"), st.Lines[1].Date)
	assert.Equal(t, EntryTypeCredit, st.Lines[1].EntryType)
	assert.Equal(t, "1180.00", st.Lines[1].Balance.StringFixed(2))
}

func TestAccountStatementClosesAtCurrentBalance(t *testing.T) {
	f, cash, sales := statementBook(t)
	ctx := context.Background()
	to := day("2025-03-31")

	st, err := f.svc.AccountStatement(ctx, testOrg, cash.ID, nil, &to)
	require.NoError(t, err)
	assert.Nil(t, st.From)
	assert.Equal(t, "1000.00", st.OpeningBalance.StringFixed(2))
	require.Len(t, st.Lines, 4)
	var balances []string
	for _, l := range st.Lines {
		balances = append(balances, l.Balance.StringFixed(2))
	}
	assert.Equal(t, []string{"1200.00", "1230.00", "1180.00", "1680.00"}, balances)
	assert.Equal(t, f.balance(cash.ID), st.ClosingBalance.StringFixed(2))

	st, err = f.svc.AccountStatement(ctx, testOrg, sales.ID, nil, &to)
	require.NoError(t, err)
	assert.Equal(t, "730.00", st.ClosingBalance.StringFixed(2))
	assert.Equal(t, "730.00", st.PeriodCredit.StringFixed(2))
	assert.True(t, st.PeriodDebit.IsZero())
	assert.Equal(t, EntryTypeCredit, st.BalanceSide)
}

func TestAccountStatementDropsCancelledRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cash := f.account(t, "1100", AccountTypeAsset, "0")
	sales := f.account(t, "4100", AccountTypeIncome, "0")
	keep := f.postOn(t, "2025-03-02", debit(cash.ID, "10.00"), credit(sales.ID, "10.00"))
	drop := f.postOn(t, "2025-03-03", debit(cash.ID, "99.00"), credit(sales.ID, "99.00"))
	_, err := f.svc.CancelVoucher(ctx, testOrg, drop.ID, 0, "duplicate")
	require.NoError(t, err)

	st, err := f.svc.AccountStatement(ctx, testOrg, cash.ID, nil, nil)
	require.NoError(t, err)
	require.Len(t, st.Lines, 1)
	assert.Equal(t, keep.ID, st.Lines[0].VoucherID)
	assert.Equal(t, "10.00", st.ClosingBalance.StringFixed(2))
}

func TestAccountStatementRejects(t *testing.T) {
	f, cash, _ := statementBook(t)
	ctx := context.Background()
	from, to := day("2025-03-10"), day("2025-03-01")

	_, err := f.svc.AccountStatement(ctx, testOrg, cash.ID, &from, &to)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, RuleDateRange, verr.Rule)

	_, err = f.svc.AccountStatement(ctx, testOrg+1, cash.ID, nil, nil)
	assert.ErrorIs(t, err, ErrAccountNotFound)

	f.repo.failOn["AccountLedger"] = errors.New("connection reset")
	_, err = f.svc.AccountStatement(ctx, testOrg, cash.ID, nil, nil)
	assert.True(t, IsRetryable(err))
}

func TestReconcileStatementMatchesBookAtDate(t *testing.T) {
	f, cash, _ := statementBook(t)

	got, err := f.svc.ReconcileStatement(context.Background(), StatementReconcileInput{
		OrganizationID:   testOrg,
		AccountID:        cash.ID,
		StatementBalance: d("1180.00"),
		StatementDate:    day("2025-03-12"),
	})
	require.NoError(t, err)
	assert.Equal(t, "1180.00", got.BookBalance.StringFixed(2), "rows after the statement date are excluded")
	assert.True(t, got.Difference.IsZero())
	assert.True(t, got.IsReconciled)
	require.NotNil(t, got.ReconciledAt)
	assert.Equal(t, day("2025-03-15"), *got.ReconciledAt)
	assert.Empty(t, got.Recommendations)

	require.Len(t, got.Outstanding, 3)
	assert.Equal(t, day("2025-03-10"), dateOf(got.Outstanding[0].EntryDate), "most recent first")
	assert.Equal(t, day("2025-03-01"), dateOf(got.Outstanding[2].EntryDate))
}

func TestReconcileStatementExplainsDifference(t *testing.T) {
	f, cash, sales := statementBook(t)
	ctx := context.Background()

	got, err := f.svc.ReconcileStatement(ctx, StatementReconcileInput{
		OrganizationID:   testOrg,
		AccountID:        cash.ID,
		StatementBalance: d("1300.00"),
	})
	require.NoError(t, err)
	assert.Equal(t, day("2025-03-15"), got.StatementDate)
	assert.Equal(t, "120.00", got.Difference.StringFixed(2))
	assert.False(t, got.IsReconciled)
	assert.Nil(t, got.ReconciledAt)
	assert.Equal(t, []string{
		"Large difference detected. Check for unposted transactions.",
		"Review bank statements and outstanding checks.",
		"Check for deposits in transit.",
		"Statement balance is higher than book. Possible unrecorded deposits.",
	}, got.Recommendations)

	got, err = f.svc.ReconcileStatement(ctx, StatementReconcileInput{
		OrganizationID:   testOrg,
		AccountID:        cash.ID,
		StatementBalance: d("1170.00"),
		StatementDate:    day("2025-03-12"),
	})
	require.NoError(t, err)
	assert.Equal(t, "-10.00", got.Difference.StringFixed(2))
	assert.Len(t, got.Recommendations, 3)
	assert.Equal(t, "Book balance is higher than statement. Possible unrecorded withdrawals.", got.Recommendations[2])

	got, err = f.svc.ReconcileStatement(ctx, StatementReconcileInput{
		OrganizationID:   testOrg,
		AccountID:        sales.ID,
		StatementBalance: d("235.00"),
	})
	require.NoError(t, err)
	assert.False(t, got.IsReconciled)
	assert.NotNil(t, got.Recommendations)
	assert.Empty(t, got.Recommendations, "income accounts get no bank advice for small gaps")
}

func TestReconcileStatementCapsOutstandingRows(t *testing.T) {
	f := newFixture(t)
	cash := f.account(t, "1100", AccountTypeAsset, "0")
	sales := f.account(t, "4100", AccountTypeIncome, "0")
	for i := 0; i < outstandingLimit+2; i++ {
		f.postOn(t, "2025-03-01", debit(cash.ID, "1.00"), credit(sales.ID, "1.00"))
	}

	got, err := f.svc.ReconcileStatement(context.Background(), StatementReconcileInput{
		OrganizationID:   testOrg,
		AccountID:        cash.ID,
		StatementBalance: d("12.00"),
	})
	require.NoError(t, err)
	assert.True(t, got.IsReconciled)
	require.Len(t, got.Outstanding, outstandingLimit)
	assert.Greater(t, got.Outstanding[0].ID, got.Outstanding[1].ID, "ties on date break by newest row")
}

func TestBalanceSideFlipsWhenNegative(t *testing.T) {
	assert.Equal(t, EntryTypeDebit, balanceSide(AccountTypeAsset, d("0")))
	assert.Equal(t, EntryTypeCredit, balanceSide(AccountTypeAsset, d("-5")))
	assert.Equal(t, EntryTypeDebit, balanceSide(AccountTypeLiability, d("-5")))
}
