package accounting

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

const outstandingLimit = 10

var largeStatementDifference = decimal.NewFromInt(100)

// StatementLine is one ledger row with the running balance recomputed in date order.
type StatementLine struct {
	LedgerID  int64           `json:"ledger_id"`
	VoucherID int64           `json:"journal_voucher_id"`
	Date      time.Time       `json:"date"`
	Reference string          `json:"reference,omitempty"`
	EntryType EntryType       `json:"entry_type"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
	Balance   decimal.Decimal `json:"balance"`
	Narration string          `json:"narration,omitempty"`
}

// Statement summarises one account over a date range.
type Statement struct {
	AccountID        int64           `json:"account_id"`
	AccountCode      string          `json:"account_code"`
	AccountName      string          `json:"account_name"`
	AccountType      AccountType     `json:"account_type"`
	From             *time.Time      `json:"from,omitempty"`
	To               time.Time       `json:"to"`
	OpeningBalance   decimal.Decimal `json:"opening_balance"`
	PeriodDebit      decimal.Decimal `json:"period_debit"`
	PeriodCredit     decimal.Decimal `json:"period_credit"`
	NetMovement      decimal.Decimal `json:"net_movement"`
	ClosingBalance   decimal.Decimal `json:"closing_balance"`
	BalanceSide      EntryType       `json:"balance_side"`
	TransactionCount int             `json:"transaction_count"`
	Lines            []StatementLine `json:"transactions"`
}

// StatementReconcileInput carries an external statement balance to compare with the books.
type StatementReconcileInput struct {
	OrganizationID   int64
	AccountID        int64
	StatementBalance decimal.Decimal
	// StatementDate defaults to today.
	StatementDate time.Time
}

// StatementReconciliation compares the book balance at a date with an external statement.
type StatementReconciliation struct {
	AccountID        int64           `json:"account_id"`
	AccountCode      string          `json:"account_code"`
	AccountName      string          `json:"account_name"`
	AccountType      AccountType     `json:"account_type"`
	BookBalance      decimal.Decimal `json:"book_balance"`
	StatementBalance decimal.Decimal `json:"statement_balance"`
	StatementDate    time.Time       `json:"statement_date"`
	// Difference is statement minus book.
	Difference      decimal.Decimal `json:"difference"`
	IsReconciled    bool            `json:"is_reconciled"`
	ReconciledAt    *time.Time      `json:"reconciled_date,omitempty"`
	Outstanding     []LedgerRow     `json:"outstanding_transactions"`
	Recommendations []string        `json:"recommendations"`
}

// AccountStatement lists the account's ledger rows dated from..to with a running balance.
// The opening balance folds in every row dated before from. A nil to means today.
func (s *Service) AccountStatement(ctx context.Context, orgID, accountID int64, from, to *time.Time) (Statement, error) {
	if err := requireOrg(orgID); err != nil {
		return Statement{}, err
	}
	end := dateOf(s.now())
	if to != nil {
		end = dateOf(*to)
	}
	var start *time.Time
	if from != nil {
		day := dateOf(*from)
		if day.After(end) {
			return Statement{}, newValidation(RuleDateRange, -1, "from must not be after to")
		}
		start = &day
	}

	var (
		account Account
		rows    []LedgerRow
	)
	err := s.repo.ReadTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		if account, err = tx.GetAccount(ctx, orgID, accountID); err != nil {
			return err
		}
		rows, err = tx.AccountLedger(ctx, accountID)
		return err
	})
	if err != nil {
		return Statement{}, classify("account statement", err)
	}
	return buildStatement(account, rows, start, end), nil
}

func buildStatement(account Account, rows []LedgerRow, from *time.Time, to time.Time) Statement {
	st := Statement{
		AccountID:    account.ID,
		AccountCode:  account.Code,
		AccountName:  account.Name,
		AccountType:  account.Type,
		From:         from,
		To:           to,
		PeriodDebit:  decimal.Zero,
		PeriodCredit: decimal.Zero,
		Lines:        []StatementLine{},
	}
	opening := account.OpeningBalance
	net := decimal.Zero
	for _, row := range byEntryDate(rows) {
		day := dateOf(row.EntryDate)
		if day.After(to) {
			break
		}
		delta := SignedDelta(account.Type, row.EntryType, row.Amount())
		if from != nil && day.Before(*from) {
			opening = opening.Add(delta)
			continue
		}
		// rows are date ordered, so opening is final once the period starts
		net = net.Add(delta)
		st.PeriodDebit = st.PeriodDebit.Add(row.DebitAmount)
		st.PeriodCredit = st.PeriodCredit.Add(row.CreditAmount)
		st.Lines = append(st.Lines, StatementLine{
			LedgerID:  row.ID,
			VoucherID: row.VoucherID,
			Date:      day,
			Reference: row.Reference,
			EntryType: row.EntryType,
			Debit:     row.DebitAmount,
			Credit:    row.CreditAmount,
			Balance:   opening.Add(net),
			Narration: row.Narration,
		})
	}
	st.OpeningBalance = opening
	st.NetMovement = net
	st.ClosingBalance = opening.Add(net)
	st.TransactionCount = len(st.Lines)
	st.BalanceSide = balanceSide(account.Type, st.ClosingBalance)
	return st
}

// ReconcileStatement compares the book balance as of the statement date with an external statement balance.
func (s *Service) ReconcileStatement(ctx context.Context, in StatementReconcileInput) (StatementReconciliation, error) {
	if err := requireOrg(in.OrganizationID); err != nil {
		return StatementReconciliation{}, err
	}
	date := dateOf(s.now())
	if !in.StatementDate.IsZero() {
		date = dateOf(in.StatementDate)
	}

	var (
		account Account
		rows    []LedgerRow
	)
	err := s.repo.ReadTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		if account, err = tx.GetAccount(ctx, in.OrganizationID, in.AccountID); err != nil {
			return err
		}
		rows, err = tx.AccountLedger(ctx, in.AccountID)
		return err
	})
	if err != nil {
		return StatementReconciliation{}, classify("reconcile statement", err)
	}

	book := account.OpeningBalance
	var dated []LedgerRow
	for _, row := range byEntryDate(rows) {
		if dateOf(row.EntryDate).After(date) {
			break
		}
		book = ApplyEntry(book, account.Type, row.EntryType, row.Amount())
		dated = append(dated, row)
	}
	outstanding := make([]LedgerRow, 0, outstandingLimit)
	for i := len(dated) - 1; i >= 0 && len(outstanding) < outstandingLimit; i-- {
		outstanding = append(outstanding, dated[i])
	}

	diff := in.StatementBalance.Sub(book)
	result := StatementReconciliation{
		AccountID:        account.ID,
		AccountCode:      account.Code,
		AccountName:      account.Name,
		AccountType:      account.Type,
		BookBalance:      book,
		StatementBalance: in.StatementBalance,
		StatementDate:    date,
		Difference:       diff,
		IsReconciled:     diff.Round(2).IsZero(),
		Outstanding:      outstanding,
		Recommendations:  []string{},
	}
	if result.IsReconciled {
		reconciled := dateOf(s.now())
		result.ReconciledAt = &reconciled
	} else {
		result.Recommendations = reconciliationAdvice(diff, account.Type)
	}
	return result, nil
}

// reconciliationAdvice suggests where a statement difference usually comes from.
func reconciliationAdvice(diff decimal.Decimal, t AccountType) []string {
	advice := []string{}
	if diff.Abs().GreaterThan(largeStatementDifference) {
		advice = append(advice, "Large difference detected. Check for unposted transactions.")
	}
	if t == AccountTypeAsset || t == AccountTypeLiability {
		advice = append(advice,
			"Review bank statements and outstanding checks.",
			"Check for deposits in transit.")
	}
	if t == AccountTypeAsset {
		switch diff.Sign() {
		case 1:
			advice = append(advice, "Statement balance is higher than book. Possible unrecorded deposits.")
		case -1:
			advice = append(advice, "Book balance is higher than statement. Possible unrecorded withdrawals.")
		}
	}
	return advice
}

// byEntryDate orders rows by entry date, then by insertion id.
func byEntryDate(rows []LedgerRow) []LedgerRow {
	out := append([]LedgerRow(nil), rows...)
	sort.SliceStable(out, func(i, j int) bool {
		di, dj := dateOf(out[i].EntryDate), dateOf(out[j].EntryDate)
		if !di.Equal(dj) {
			return di.Before(dj)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func balanceSide(t AccountType, balance decimal.Decimal) EntryType {
	side := NormalSide(t)
	if balance.IsNegative() {
		return side.Opposite()
	}
	return side
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
