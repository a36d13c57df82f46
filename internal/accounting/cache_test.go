package accounting

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*RedisReportCache, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisReportCache(client, time.Minute), client
}

func TestReportCacheServesUntilBump(t *testing.T) {
	cache, client := newTestCache(t)
	ctx := context.Background()
	var builds atomic.Int32
	loader := func(context.Context) (any, error) {
		n := builds.Add(1)
		return map[string]int32{"build": n}, nil
	}

	var first map[string]int32
	require.NoError(t, cache.Fetch(ctx, testOrg, []string{"trial_balance"}, &first, loader))
	var second map[string]int32
	require.NoError(t, cache.Fetch(ctx, testOrg, []string{"trial_balance"}, &second, loader))
	assert.Equal(t, int32(1), first["build"])
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), builds.Load())

	sub := client.Subscribe(ctx, bumpChannel)
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, cache.Bump(ctx, testOrg))
	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1:2", msg.Payload)

	var third map[string]int32
	require.NoError(t, cache.Fetch(ctx, testOrg, []string{"trial_balance"}, &third, loader))
	assert.Equal(t, int32(2), third["build"])
}

func TestReportCacheKeysAreVersionedPerOrganization(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	key, err := cache.BuildKey(ctx, testOrg, "balance_sheet")
	require.NoError(t, err)
	assert.Equal(t, "ledger:report:1:balance_sheet:v1", key)

	require.NoError(t, cache.Bump(ctx, testOrg+1))
	key, err = cache.BuildKey(ctx, testOrg, "balance_sheet")
	require.NoError(t, err)
	assert.Equal(t, "ledger:report:1:balance_sheet:v1", key, "other organization's bump does not invalidate")
}

func TestReportCacheWithoutClientStillLoads(t *testing.T) {
	cache := NewRedisReportCache(nil, 0)
	var out []string
	err := cache.Fetch(context.Background(), testOrg, []string{"x"}, &out, func(context.Context) (any, error) {
		return []string{"a"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, out)
	assert.NoError(t, cache.Bump(context.Background(), testOrg))
}

func TestServiceReportsAreInvalidatedByPosting(t *testing.T) {
	f := newFixture(t)
	cache, _ := newTestCache(t)
	f.svc.WithReportCache(cache)
	ctx := context.Background()
	cash := f.account(t, "1100", AccountTypeAsset, "5000.00")
	revenue := f.account(t, "4100", AccountTypeIncome, "0")
	f.account(t, "3100", AccountTypeEquity, "5000.00")

	bs, err := f.svc.BalanceSheet(ctx, testOrg)
	require.NoError(t, err)
	assert.True(t, bs.IsBalanced)
	assert.Equal(t, "5000.00", bs.Assets.Total.StringFixed(2))

	v := f.draft(t, debit(cash.ID, "1000.00"), credit(revenue.ID, "1000.00"))
	_, err = f.svc.PostVoucher(ctx, testOrg, v.ID, 0)
	require.NoError(t, err)

	bs, err = f.svc.BalanceSheet(ctx, testOrg)
	require.NoError(t, err)
	assert.Equal(t, "6000.00", bs.Assets.Total.StringFixed(2))
	assert.Equal(t, "1000.00", bs.CurrentEarnings.StringFixed(2))
	assert.True(t, bs.IsBalanced)

	pl, err := f.svc.ProfitAndLoss(ctx, testOrg)
	require.NoError(t, err)
	assert.Equal(t, "1000.00", pl.NetProfit.StringFixed(2))

	tb, err := f.svc.TrialBalance(ctx, ReportParams{OrganizationID: testOrg})
	require.NoError(t, err)
	assert.True(t, tb.IsBalanced)
	assert.Equal(t, "6000.00", tb.TotalDebit.StringFixed(2))
}
