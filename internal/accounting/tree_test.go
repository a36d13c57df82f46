package accounting

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateAccountRejectsCycles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	root := f.account(t, "1000", AccountTypeAsset, "0")
	mid, err := f.svc.CreateAccount(ctx, CreateAccountInput{
		OrganizationID: testOrg, Code: "1100", Name: "Current", Type: AccountTypeAsset, ParentID: &root.ID,
	})
	require.NoError(t, err)
	leaf, err := f.svc.CreateAccount(ctx, CreateAccountInput{
		OrganizationID: testOrg, Code: "1110", Name: "Cash", Type: AccountTypeAsset, ParentID: &mid.ID,
	})
	require.NoError(t, err)

	_, err = f.svc.UpdateAccount(ctx, UpdateAccountInput{OrganizationID: testOrg, ID: root.ID, ParentID: &leaf.ID})
	assert.ErrorIs(t, err, ErrAccountCycle)

	_, err = f.svc.UpdateAccount(ctx, UpdateAccountInput{OrganizationID: testOrg, ID: mid.ID, ParentID: &mid.ID})
	assert.ErrorIs(t, err, ErrAccountCycle)

	assert.Nil(t, f.repo.account(root.ID).ParentID, "rejected move leaves the tree untouched")

	moved, err := f.svc.UpdateAccount(ctx, UpdateAccountInput{OrganizationID: testOrg, ID: leaf.ID, ParentID: &root.ID})
	require.NoError(t, err)
	require.NotNil(t, moved.ParentID)
	assert.Equal(t, root.ID, *moved.ParentID)

	cleared, err := f.svc.UpdateAccount(ctx, UpdateAccountInput{OrganizationID: testOrg, ID: leaf.ID, ClearParent: true})
	require.NoError(t, err)
	assert.Nil(t, cleared.ParentID)
}

func TestParentMustBelongToOrganization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	foreign, err := f.svc.CreateAccount(ctx, CreateAccountInput{
		OrganizationID: testOrg + 1, Code: "1000", Name: "Other", Type: AccountTypeAsset,
	})
	require.NoError(t, err)

	_, err = f.svc.CreateAccount(ctx, CreateAccountInput{
		OrganizationID: testOrg, Code: "1100", Name: "Cash", Type: AccountTypeAsset, ParentID: &foreign.ID,
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, RuleParentOrganization, verr.Rule)
}

func TestCheckParentDetectsExistingLoop(t *testing.T) {
	parents := map[int64]int64{2: 3, 3: 2}
	lookup := func(ctx context.Context, orgID, id int64) (*int64, error) {
		if p, ok := parents[id]; ok {
			return &p, nil
		}
		return nil, nil
	}
	assert.ErrorIs(t, checkParent(context.Background(), testOrg, 9, 2, lookup), ErrAccountCycle)
	assert.NoError(t, checkParent(context.Background(), testOrg, 9, 4, lookup))
}

func TestBuildTreeRollsUpBalances(t *testing.T) {
	root, mid := int64(1), int64(2)
	tree := BuildTree([]Account{
		{ID: 3, Code: "1120", ParentID: &mid, CurrentBalance: d("25.00")},
		{ID: 1, Code: "1000", CurrentBalance: d("0")},
		{ID: 4, Code: "1110", ParentID: &mid, CurrentBalance: d("75.00")},
		{ID: 2, Code: "1100", ParentID: &root, CurrentBalance: d("10.00")},
		{ID: 5, Code: "2000", CurrentBalance: d("7.00")},
	})
	require.Len(t, tree, 2)
	assert.Equal(t, "1000", tree[0].Code)
	assert.Equal(t, "110.00", tree[0].RollupBalance.StringFixed(2))
	require.Len(t, tree[0].Children, 1)
	assert.Equal(t, "110.00", tree[0].Children[0].RollupBalance.StringFixed(2))
	grandchildren := tree[0].Children[0].Children
	require.Len(t, grandchildren, 2)
	assert.Equal(t, "1110", grandchildren[0].Code)
	assert.Equal(t, "7.00", tree[1].RollupBalance.StringFixed(2))
}

func TestDeleteAccountGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	parent := f.account(t, "1000", AccountTypeAsset, "0")
	child, err := f.svc.CreateAccount(ctx, CreateAccountInput{
		OrganizationID: testOrg, Code: "1100", Name: "Cash", Type: AccountTypeAsset, ParentID: &parent.ID,
	})
	require.NoError(t, err)
	funded := f.account(t, "1200", AccountTypeAsset, "10.00")

	assert.ErrorIs(t, f.svc.DeleteAccount(ctx, testOrg, parent.ID, 0), ErrAccountHasChildren)
	assert.ErrorIs(t, f.svc.DeleteAccount(ctx, testOrg, funded.ID, 0), ErrAccountInUse)

	require.NoError(t, f.svc.DeleteAccount(ctx, testOrg, child.ID, 0))
	_, err = f.svc.GetAccount(ctx, testOrg, child.ID)
	assert.ErrorIs(t, err, ErrAccountNotFound)
	require.NoError(t, f.svc.DeleteAccount(ctx, testOrg, parent.ID, 0))
	assert.ErrorIs(t, f.svc.DeleteAccount(ctx, testOrg, parent.ID, 0), ErrAccountNotFound)
}

func TestDeleteAccountRefusesZeroBalanceWithHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	suspense := f.account(t, "1900", AccountTypeAsset, "0")
	cash := f.account(t, "1100", AccountTypeAsset, "500.00")

	v := f.draft(t, debit(suspense.ID, "100.00"), credit(cash.ID, "100.00"))
	_, err := f.svc.PostVoucher(ctx, testOrg, v.ID, 0)
	require.NoError(t, err)
	w := f.draft(t, debit(cash.ID, "100.00"), credit(suspense.ID, "100.00"))
	_, err = f.svc.PostVoucher(ctx, testOrg, w.ID, 0)
	require.NoError(t, err)
	require.Equal(t, "0.00", f.balance(suspense.ID))

	assert.ErrorIs(t, f.svc.DeleteAccount(ctx, testOrg, suspense.ID, 0), ErrAccountInUse)

	_, err = f.svc.CancelVoucher(ctx, testOrg, v.ID, 0, "")
	require.NoError(t, err)
	assert.Equal(t, "-100.00", f.balance(suspense.ID))

	results, err := f.svc.ReconcileOrganization(ctx, testOrg)
	require.NoError(t, err)
	assert.Len(t, results, 2)
	for _, r := range results {
		assert.True(t, r.Balanced, "account %d", r.AccountID)
	}
}

func TestDeleteAccountRefusesDraftReferences(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	idle := f.account(t, "1900", AccountTypeAsset, "0")
	cash := f.account(t, "1100", AccountTypeAsset, "0")
	v := f.draft(t, debit(idle.ID, "10.00"), credit(cash.ID, "10.00"))

	assert.ErrorIs(t, f.svc.DeleteAccount(ctx, testOrg, idle.ID, 0), ErrAccountInUse)

	require.NoError(t, f.svc.DeleteVoucher(ctx, testOrg, v.ID, 0))
	require.NoError(t, f.svc.DeleteAccount(ctx, testOrg, idle.ID, 0))
	assert.Contains(t, f.repo.auditActions(), "account.delete")
}

func TestCancelAcceptsDeletedAccounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	suspense := f.account(t, "1900", AccountTypeAsset, "0")
	cash := f.account(t, "1100", AccountTypeAsset, "500.00")
	v := f.draft(t, debit(suspense.ID, "100.00"), credit(cash.ID, "100.00"))
	_, err := f.svc.PostVoucher(ctx, testOrg, v.ID, 0)
	require.NoError(t, err)

	// rows soft deleted before the in-use guard existed
	f.repo.softDelete(suspense.ID)

	_, err = f.svc.CancelVoucher(ctx, testOrg, v.ID, 0, "legacy")
	require.NoError(t, err)
	assert.Equal(t, "0.00", f.balance(suspense.ID))
	assert.Equal(t, "500.00", f.balance(cash.ID))

	w := f.draft(t, debit(cash.ID, "5.00"), credit(f.account(t, "3100", AccountTypeEquity, "0").ID, "5.00"))
	_, err = f.svc.ReplaceEntries(ctx, testOrg, w.ID, []EntryInput{debit(suspense.ID, "5.00"), credit(cash.ID, "5.00")})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, RuleAccountMissing, verr.Rule)
}

func TestCreateAccountRejectsDuplicateCode(t *testing.T) {
	f := newFixture(t)
	f.account(t, "1000", AccountTypeAsset, "0")
	_, err := f.svc.CreateAccount(context.Background(), CreateAccountInput{
		OrganizationID: testOrg, Code: "1000", Name: "Again", Type: AccountTypeAsset,
	})
	assert.ErrorIs(t, err, ErrDuplicateAccountCode)
}

func TestDraftReferencesAreChecked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cash := f.account(t, "1100", AccountTypeAsset, "0")
	foreign, err := f.svc.CreateAccount(ctx, CreateAccountInput{
		OrganizationID: testOrg + 1, Code: "4100", Name: "Sales", Type: AccountTypeIncome,
	})
	require.NoError(t, err)

	_, err = f.svc.CreateVoucher(ctx, CreateVoucherInput{
		OrganizationID: testOrg,
		Date:           testNow,
		Entries:        []EntryInput{debit(cash.ID, "1.00"), credit(foreign.ID, "1.00")},
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, RuleAccountOrganization, verr.Rule)
	assert.Equal(t, 1, verr.EntryIndex)

	_, err = f.svc.CreateVoucher(ctx, CreateVoucherInput{
		OrganizationID: testOrg,
		Date:           testNow,
		Entries:        []EntryInput{debit(cash.ID, "1.00"), credit(999, "1.00")},
	})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, RuleAccountMissing, verr.Rule)
}

func TestReplaceEntriesRecomputesTotals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cash := f.account(t, "1100", AccountTypeAsset, "0")
	sales := f.account(t, "4100", AccountTypeIncome, "0")
	v := f.draft(t, debit(cash.ID, "1.00"))
	assert.Equal(t, "1.00", v.TotalDebit.StringFixed(2))
	assert.True(t, v.TotalCredit.IsZero())

	updated, err := f.svc.ReplaceEntries(ctx, testOrg, v.ID, []EntryInput{debit(cash.ID, "4.00"), credit(sales.ID, "4.00")})
	require.NoError(t, err)
	assert.Equal(t, "4.00", updated.TotalDebit.StringFixed(2))
	assert.Equal(t, "4.00", updated.TotalCredit.StringFixed(2))
	require.Len(t, f.repo.voucher(v.ID).Entries, 2)

	_, err = f.svc.PostVoucher(ctx, testOrg, v.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, "4.00", f.balance(sales.ID))
}
