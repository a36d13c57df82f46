package accounting

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const testOrg int64 = 1

var testNow = time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func debit(accountID int64, amount string) EntryInput {
	return EntryInput{AccountID: accountID, Type: EntryTypeDebit, Amount: d(amount)}
}

func credit(accountID int64, amount string) EntryInput {
	return EntryInput{AccountID: accountID, Type: EntryTypeCredit, Amount: d(amount)}
}

type countingMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func (m *countingMetrics) ObserveVoucher(op, result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = map[string]int{}
	}
	m.counts[op+"/"+result]++
}

func (m *countingMetrics) count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[key]
}

type fixture struct {
	repo    *memRepo
	svc     *Service
	metrics *countingMetrics
	seq     int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:    newMemRepo(),
		metrics: &countingMetrics{},
	}
	f.svc = NewService(f.repo, slog.New(slog.NewTextHandler(io.Discard, nil)))
	f.svc.WithNow(func() time.Time { return testNow })
	f.svc.WithMetrics(f.metrics)
	f.svc.WithNumberGenerator(func() string {
		f.seq++
		return fmt.Sprintf("JV-%04d", f.seq)
	})
	return f
}

func (f *fixture) account(t *testing.T, code string, accountType AccountType, opening string) Account {
	t.Helper()
	a, err := f.svc.CreateAccount(context.Background(), CreateAccountInput{
		OrganizationID: testOrg,
		Code:           code,
		Name:           code,
		Type:           accountType,
		OpeningBalance: d(opening),
	})
	require.NoError(t, err)
	return a
}

func (f *fixture) draft(t *testing.T, entries ...EntryInput) Voucher {
	t.Helper()
	v, err := f.svc.CreateVoucher(context.Background(), CreateVoucherInput{
		OrganizationID: testOrg,
		Date:           testNow,
		Entries:        entries,
	})
	require.NoError(t, err)
	return v
}

func (f *fixture) balance(id int64) string {
	return f.repo.account(id).CurrentBalance.StringFixed(2)
}
