package accounting

import (
	"context"
	"strconv"
	"time"

	"github.com/mfgerp/mfgerp/internal/accounting/reports"
)

// ReportParams scopes a report request.
type ReportParams struct {
	OrganizationID int64
	AsOf           *time.Time
	FiscalYearID   *int64
}

func (p ReportParams) cacheParts(name string) []string {
	asOf := "now"
	if p.AsOf != nil {
		asOf = p.AsOf.Format("2006-01-02")
	}
	fy := "all"
	if p.FiscalYearID != nil {
		fy = strconv.FormatInt(*p.FiscalYearID, 10)
	}
	return []string{name, asOf, fy}
}

// TrialBalance builds the trial balance from opening balances and ledger movements up to AsOf.
func (s *Service) TrialBalance(ctx context.Context, params ReportParams) (reports.TrialBalance, error) {
	return cachedReport(ctx, s, params, "trial_balance", func(ctx context.Context) (reports.TrialBalance, error) {
		balances, err := s.accountBalances(ctx, params, true)
		if err != nil {
			return reports.TrialBalance{}, err
		}
		return reports.BuildTrialBalance(balances), nil
	})
}

// BalanceSheet groups current balances into assets, liabilities, and equity.
func (s *Service) BalanceSheet(ctx context.Context, orgID int64) (reports.BalanceSheet, error) {
	params := ReportParams{OrganizationID: orgID}
	return cachedReport(ctx, s, params, "balance_sheet", func(ctx context.Context) (reports.BalanceSheet, error) {
		balances, err := s.accountBalances(ctx, params, false)
		if err != nil {
			return reports.BalanceSheet{}, err
		}
		return reports.BuildBalanceSheet(balances), nil
	})
}

// ProfitAndLoss reports income and expense balances with net profit.
func (s *Service) ProfitAndLoss(ctx context.Context, orgID int64) (reports.ProfitAndLoss, error) {
	params := ReportParams{OrganizationID: orgID}
	return cachedReport(ctx, s, params, "profit_loss", func(ctx context.Context) (reports.ProfitAndLoss, error) {
		balances, err := s.accountBalances(ctx, params, false)
		if err != nil {
			return reports.ProfitAndLoss{}, err
		}
		return reports.BuildProfitAndLoss(balances), nil
	})
}

func cachedReport[T any](ctx context.Context, s *Service, params ReportParams, name string, build func(context.Context) (T, error)) (T, error) {
	var out T
	if err := requireOrg(params.OrganizationID); err != nil {
		return out, err
	}
	if s.cache == nil {
		return build(ctx)
	}
	err := s.cache.Fetch(ctx, params.OrganizationID, params.cacheParts(name), &out, func(ctx context.Context) (any, error) {
		return build(ctx)
	})
	return out, classify("build "+name, err)
}

// accountBalances loads live accounts and, when withMovements is set, their ledger totals.
func (s *Service) accountBalances(ctx context.Context, params ReportParams, withMovements bool) ([]reports.AccountBalance, error) {
	var out []reports.AccountBalance
	err := s.repo.ReadTx(ctx, func(ctx context.Context, tx TxRepository) error {
		accounts, err := tx.ListAccounts(ctx, AccountFilter{OrganizationID: params.OrganizationID})
		if err != nil {
			return err
		}
		var totals map[int64]Totals
		if withMovements {
			totals, err = tx.LedgerTotals(ctx, params.OrganizationID, params.AsOf, params.FiscalYearID)
			if err != nil {
				return err
			}
		}
		out = make([]reports.AccountBalance, 0, len(accounts))
		for _, a := range accounts {
			t := totals[a.ID]
			balance := reports.AccountBalance{
				ID:          a.ID,
				Code:        a.Code,
				Name:        a.Name,
				Type:        string(a.Type),
				NormalDebit: NormalSide(a.Type) == EntryTypeDebit,
				Opening:     a.OpeningBalance,
				Debit:       t.Debit,
				Credit:      t.Credit,
				Current:     a.CurrentBalance,
			}
			out = append(out, balance)
		}
		return nil
	})
	if err != nil {
		return nil, classify("load balances", err)
	}
	return out, nil
}
