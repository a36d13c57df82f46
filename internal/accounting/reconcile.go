package accounting

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"
)

// StaleSnapshot is a ledger row whose balance snapshot disagrees with the replayed running total.
// Cancelling an earlier voucher legitimately leaves later snapshots stale, so these do not count as drift.
type StaleSnapshot struct {
	LedgerID int64           `json:"ledger_id"`
	Recorded decimal.Decimal `json:"recorded"`
	Replayed decimal.Decimal `json:"replayed"`
}

// Reconciliation compares an account's cached balance with its ledger history.
type Reconciliation struct {
	OrganizationID int64           `json:"organization_id"`
	AccountID      int64           `json:"account_id"`
	AccountCode    string          `json:"account_code"`
	Opening        decimal.Decimal `json:"opening_balance"`
	Stored         decimal.Decimal `json:"stored"`
	Replayed       decimal.Decimal `json:"replayed"`
	Drift          decimal.Decimal `json:"drift"`
	Rows           int             `json:"ledger_rows"`
	Balanced       bool            `json:"balanced"`
	StaleSnapshots []StaleSnapshot `json:"stale_snapshots,omitempty"`
}

// Replay recomputes a balance from the opening balance and ledger rows in creation order.
func Replay(account Account, rows []LedgerRow) Reconciliation {
	running := account.OpeningBalance
	result := Reconciliation{
		OrganizationID: account.OrganizationID,
		AccountID:      account.ID,
		AccountCode:    account.Code,
		Opening:        account.OpeningBalance,
		Stored:         account.CurrentBalance,
		Rows:           len(rows),
	}
	for _, row := range rows {
		running = running.Add(SignedDelta(account.Type, row.EntryType, row.Amount()))
		if !row.Balance.Equal(running) {
			result.StaleSnapshots = append(result.StaleSnapshots, StaleSnapshot{
				LedgerID: row.ID,
				Recorded: row.Balance,
				Replayed: running,
			})
		}
	}
	result.Replayed = running
	result.Drift = account.CurrentBalance.Sub(running)
	result.Balanced = result.Drift.IsZero()
	return result
}

// Reconcile replays one account under a row lock so no posting interleaves with the read.
func (s *Service) Reconcile(ctx context.Context, orgID, accountID int64) (Reconciliation, error) {
	var result Reconciliation
	err := s.repo.ReadTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		result, err = reconcileAccount(ctx, tx, orgID, accountID)
		return err
	})
	if err != nil {
		return Reconciliation{}, classify("reconcile", err)
	}
	if !result.Balanced {
		s.logger.Warn("ledger drift detected",
			slog.Int64("organization_id", orgID),
			slog.Int64("account_id", accountID),
			slog.String("drift", result.Drift.String()))
	}
	return result, nil
}

func reconcileAccount(ctx context.Context, tx TxRepository, orgID, accountID int64) (Reconciliation, error) {
	locked, err := tx.LockAccounts(ctx, []int64{accountID})
	if err != nil {
		return Reconciliation{}, err
	}
	if len(locked) == 0 || locked[0].OrganizationID != orgID || locked[0].DeletedAt != nil {
		return Reconciliation{}, ErrAccountNotFound
	}
	rows, err := tx.AccountLedger(ctx, accountID)
	if err != nil {
		return Reconciliation{}, err
	}
	return Replay(locked[0], rows), nil
}

// ReconcileOrganization reconciles every live account of one organization, one transaction per account.
func (s *Service) ReconcileOrganization(ctx context.Context, orgID int64) ([]Reconciliation, error) {
	accounts, err := s.ListAccounts(ctx, AccountFilter{OrganizationID: orgID})
	if err != nil {
		return nil, err
	}
	results := make([]Reconciliation, 0, len(accounts))
	for _, account := range accounts {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		result, err := s.Reconcile(ctx, orgID, account.ID)
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}
	return results, nil
}

// ReconcileAll walks every organization and returns only the drifting accounts.
func (s *Service) ReconcileAll(ctx context.Context) ([]Reconciliation, error) {
	var orgs []int64
	err := s.repo.ReadTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		orgs, err = tx.ListOrganizations(ctx)
		return err
	})
	if err != nil {
		return nil, classify("list organizations", err)
	}
	var drifting []Reconciliation
	for _, orgID := range orgs {
		results, err := s.ReconcileOrganization(ctx, orgID)
		if err != nil {
			return drifting, err
		}
		for _, r := range results {
			if !r.Balanced {
				drifting = append(drifting, r)
			}
		}
	}
	return drifting, nil
}
