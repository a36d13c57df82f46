package accounting

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplayMatchesBalanceAfterEveryOperation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cash := f.account(t, "1100", AccountTypeAsset, "5000.00")
	revenue := f.account(t, "4100", AccountTypeIncome, "20000.00")
	rent := f.account(t, "6100", AccountTypeExpense, "0")

	check := func() {
		t.Helper()
		results, err := f.svc.ReconcileOrganization(ctx, testOrg)
		require.NoError(t, err)
		require.Len(t, results, 3)
		for _, r := range results {
			assert.True(t, r.Balanced, "account %s drift %s", r.AccountCode, r.Drift)
		}
	}

	v1 := f.draft(t, debit(cash.ID, "1000.00"), credit(revenue.ID, "1000.00"))
	v2 := f.draft(t, debit(rent.ID, "300.00"), credit(cash.ID, "300.00"))
	_, err := f.svc.PostVoucher(ctx, testOrg, v1.ID, 0)
	require.NoError(t, err)
	check()
	_, err = f.svc.PostVoucher(ctx, testOrg, v2.ID, 0)
	require.NoError(t, err)
	check()

	_, err = f.svc.CancelVoucher(ctx, testOrg, v1.ID, 0, "")
	require.NoError(t, err)
	check()

	// cancelling v1 leaves v2's cash snapshot (5700) above the replayed 4700
	result, err := f.svc.Reconcile(ctx, testOrg, cash.ID)
	require.NoError(t, err)
	assert.Equal(t, "4700.00", result.Stored.StringFixed(2))
	assert.Equal(t, 1, result.Rows)
	require.Len(t, result.StaleSnapshots, 1)
	assert.Equal(t, "5700.00", result.StaleSnapshots[0].Recorded.StringFixed(2))
	assert.Equal(t, "4700.00", result.StaleSnapshots[0].Replayed.StringFixed(2))
}

func TestReconcileAllReportsDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cash := f.account(t, "1100", AccountTypeAsset, "100.00")
	sales := f.account(t, "4100", AccountTypeIncome, "0")
	v := f.draft(t, debit(cash.ID, "50.00"), credit(sales.ID, "50.00"))
	_, err := f.svc.PostVoucher(ctx, testOrg, v.ID, 0)
	require.NoError(t, err)

	drifting, err := f.svc.ReconcileAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, drifting)

	f.repo.setBalance(cash.ID, d("175.00"))
	drifting, err = f.svc.ReconcileAll(ctx)
	require.NoError(t, err)
	require.Len(t, drifting, 1)
	assert.Equal(t, cash.ID, drifting[0].AccountID)
	assert.Equal(t, "150.00", drifting[0].Replayed.StringFixed(2))
	assert.Equal(t, "25.00", drifting[0].Drift.StringFixed(2))
	assert.False(t, drifting[0].Balanced)
}

func TestReconcileRejectsForeignAccount(t *testing.T) {
	f := newFixture(t)
	cash := f.account(t, "1100", AccountTypeAsset, "0")
	_, err := f.svc.Reconcile(context.Background(), testOrg+1, cash.ID)
	assert.ErrorIs(t, err, ErrAccountNotFound)
}
