package accounting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/mfgerp/mfgerp/internal/shared"
)

// PostVoucher applies a balanced draft to account balances and appends one ledger row per entry.
// Every check runs before the first write; any failure leaves balances, ledger, and status untouched.
func (s *Service) PostVoucher(ctx context.Context, orgID, voucherID, actorID int64) (Voucher, error) {
	release, err := s.lockVoucher(ctx, orgID, voucherID)
	if err != nil {
		s.observe("post", err)
		return Voucher{}, err
	}
	defer release()

	var posted Voucher
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		v, err := tx.GetVoucherForUpdate(ctx, orgID, voucherID)
		if err != nil {
			return err
		}
		if v.Status != VoucherStatusDraft {
			return fmt.Errorf("%w: cannot post a %s voucher", ErrInvalidTransition, v.Status)
		}
		v.Entries = orderedEntries(v.Entries)
		if err := ValidateEntries(entryInputs(v.Entries)); err != nil {
			return err
		}
		if err := checkFiscalYear(ctx, tx, v); err != nil {
			return err
		}
		accounts, err := lockEntryAccounts(ctx, tx, v, accountsPostable)
		if err != nil {
			return err
		}
		if err := s.applyEntries(ctx, tx, v, accounts); err != nil {
			return err
		}
		now := s.now()
		if err := tx.UpdateVoucherStatus(ctx, v.ID, VoucherStatusPosted, actorID, now); err != nil {
			return err
		}
		totals := SumEntries(entryInputs(v.Entries))
		v.TotalDebit, v.TotalCredit = totals.Debit, totals.Credit
		v.Status = VoucherStatusPosted
		v.PostedAt = &now
		v.UpdatedAt = now
		if actorID > 0 {
			approver := actorID
			v.ApprovedBy = &approver
		}
		posted = v
		return s.recordTx(ctx, tx, shared.AuditLog{
			OrganizationID: orgID,
			ActorID:        actorID,
			Action:         "voucher.post",
			Entity:         "journal_voucher",
			EntityID:       fmt.Sprintf("%d", v.ID),
			At:             now,
			Meta: map[string]any{
				"number":       v.Number,
				"total_debit":  v.TotalDebit.StringFixed(amountPlaces),
				"total_credit": v.TotalCredit.StringFixed(amountPlaces),
			},
		})
	})
	err = classify("post voucher", err)
	s.observe("post", err)
	if err != nil {
		s.logFailure("post", orgID, voucherID, err)
		return Voucher{}, err
	}
	s.logger.Info("voucher posted",
		slog.Int64("organization_id", orgID),
		slog.Int64("voucher_id", posted.ID),
		slog.String("number", posted.Number),
		slog.Int("entries", len(posted.Entries)),
		slog.String("total", posted.TotalDebit.StringFixed(amountPlaces)))
	s.bumpReports(ctx, orgID)
	return posted, nil
}

// CancelVoucher undoes a posted voucher in place: each entry's delta is inverted and
// its ledger rows are deleted, so the ledger looks as if the voucher was never posted.
func (s *Service) CancelVoucher(ctx context.Context, orgID, voucherID, actorID int64, reason string) (Voucher, error) {
	release, err := s.lockVoucher(ctx, orgID, voucherID)
	if err != nil {
		s.observe("cancel", err)
		return Voucher{}, err
	}
	defer release()

	var cancelled Voucher
	removed := int64(0)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		v, err := tx.GetVoucherForUpdate(ctx, orgID, voucherID)
		if err != nil {
			return err
		}
		if v.Status != VoucherStatusPosted {
			return fmt.Errorf("%w: cannot cancel a %s voucher", ErrInvalidTransition, v.Status)
		}
		reversal, found, err := tx.ReversalOf(ctx, v.ID)
		if err != nil {
			return err
		}
		if found && reversal.Status == VoucherStatusPosted {
			return fmt.Errorf("%w: reversed by %s", ErrAlreadyReversed, reversal.Number)
		}
		if err := checkFiscalYearOpen(ctx, tx, v); err != nil {
			return err
		}
		v.Entries = orderedEntries(v.Entries)
		accounts, err := lockEntryAccounts(ctx, tx, v, accountsHistoric)
		if err != nil {
			return err
		}
		for _, e := range v.Entries {
			account := accounts[e.AccountID]
			if _, err := tx.ApplyBalanceDelta(ctx, e.AccountID, SignedDelta(account.Type, e.Type, e.Amount).Neg()); err != nil {
				return err
			}
			n, err := tx.DeleteLedgerRowsForEntry(ctx, e.ID)
			if err != nil {
				return err
			}
			removed += n
		}
		now := s.now()
		if err := tx.UpdateVoucherStatus(ctx, v.ID, VoucherStatusCancelled, actorID, now); err != nil {
			return err
		}
		v.Status = VoucherStatusCancelled
		v.CancelledAt = &now
		v.UpdatedAt = now
		cancelled = v
		// ledger rows are gone after this tx; the audit row is what remains of the posting
		return s.recordTx(ctx, tx, shared.AuditLog{
			OrganizationID: orgID,
			ActorID:        actorID,
			Action:         "voucher.cancel",
			Entity:         "journal_voucher",
			EntityID:       fmt.Sprintf("%d", v.ID),
			At:             now,
			Meta: map[string]any{
				"number":              v.Number,
				"reason":              reason,
				"total_debit":         v.TotalDebit.StringFixed(amountPlaces),
				"total_credit":        v.TotalCredit.StringFixed(amountPlaces),
				"ledger_rows_removed": removed,
			},
		})
	})
	err = classify("cancel voucher", err)
	s.observe("cancel", err)
	if err != nil {
		s.logFailure("cancel", orgID, voucherID, err)
		return Voucher{}, err
	}
	s.logger.Info("voucher cancelled",
		slog.Int64("organization_id", orgID),
		slog.Int64("voucher_id", cancelled.ID),
		slog.String("number", cancelled.Number),
		slog.Int64("ledger_rows_removed", removed))
	s.bumpReports(ctx, orgID)
	return cancelled, nil
}

// ReverseVoucher posts a mirror-image voucher against a posted one. The original
// voucher and its ledger rows are left untouched, keeping the audit trail intact.
func (s *Service) ReverseVoucher(ctx context.Context, in ReverseInput) (Voucher, error) {
	if in.VoucherID == 0 {
		return Voucher{}, errors.New("accounting: voucher id required")
	}
	release, err := s.lockVoucher(ctx, in.OrganizationID, in.VoucherID)
	if err != nil {
		s.observe("reverse", err)
		return Voucher{}, err
	}
	defer release()

	var reversal Voucher
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		original, err := tx.GetVoucherForUpdate(ctx, in.OrganizationID, in.VoucherID)
		if err != nil {
			return err
		}
		if original.Status != VoucherStatusPosted {
			return fmt.Errorf("%w: cannot reverse a %s voucher", ErrInvalidTransition, original.Status)
		}
		if original.ReversalOfID != nil {
			return fmt.Errorf("%w: voucher %s is itself a reversal", ErrInvalidTransition, original.Number)
		}
		if existing, found, err := tx.ReversalOf(ctx, original.ID); err != nil {
			return err
		} else if found {
			return fmt.Errorf("%w: reversed by %s", ErrAlreadyReversed, existing.Number)
		}
		date := original.Date
		if in.Date != nil {
			date = truncateDay(*in.Date)
		}
		fiscalYearID := original.FiscalYearID
		if in.FiscalYearID != nil {
			fiscalYearID = in.FiscalYearID
		}
		entries := reverseEntries(orderedEntries(original.Entries))
		var createdBy *int64
		if in.ActorID > 0 {
			actor := in.ActorID
			createdBy = &actor
		}
		originalID := original.ID
		draft := Voucher{
			OrganizationID: original.OrganizationID,
			FiscalYearID:   fiscalYearID,
			Number:         s.newNumber(),
			Date:           date,
			Type:           original.Type,
			Reference:      original.Number,
			Narration:      defaultReversalMemo(in.Narration, original.Number),
			TotalDebit:     original.TotalCredit,
			TotalCredit:    original.TotalDebit,
			Status:         VoucherStatusDraft,
			ReversalOfID:   &originalID,
			CreatedBy:      createdBy,
		}
		if err := ValidateEntries(entries); err != nil {
			return err
		}
		if err := checkFiscalYear(ctx, tx, draft); err != nil {
			return err
		}
		inserted, err := tx.InsertVoucher(ctx, draft)
		if err != nil {
			return err
		}
		inserted.Entries, err = tx.InsertEntries(ctx, inserted.ID, entries)
		if err != nil {
			return err
		}
		accounts, err := lockEntryAccounts(ctx, tx, inserted, accountsHistoric)
		if err != nil {
			return err
		}
		if err := s.applyEntries(ctx, tx, inserted, accounts); err != nil {
			return err
		}
		now := s.now()
		if err := tx.UpdateVoucherStatus(ctx, inserted.ID, VoucherStatusPosted, in.ActorID, now); err != nil {
			return err
		}
		inserted.Status = VoucherStatusPosted
		inserted.PostedAt = &now
		inserted.ApprovedBy = createdBy
		reversal = inserted
		return s.recordTx(ctx, tx, shared.AuditLog{
			OrganizationID: in.OrganizationID,
			ActorID:        in.ActorID,
			Action:         "voucher.reverse",
			Entity:         "journal_voucher",
			EntityID:       fmt.Sprintf("%d", original.ID),
			At:             now,
			Meta: map[string]any{
				"reversal_id":     inserted.ID,
				"reversal_number": inserted.Number,
			},
		})
	})
	err = classify("reverse voucher", err)
	s.observe("reverse", err)
	if err != nil {
		s.logFailure("reverse", in.OrganizationID, in.VoucherID, err)
		return Voucher{}, err
	}
	s.logger.Info("voucher reversed",
		slog.Int64("organization_id", in.OrganizationID),
		slog.Int64("voucher_id", in.VoucherID),
		slog.Int64("reversal_id", reversal.ID),
		slog.String("reversal_number", reversal.Number))
	s.bumpReports(ctx, in.OrganizationID)
	return reversal, nil
}

// applyEntries walks entries in line order, moving each balance and writing the
// ledger row with the balance returned by the atomic update.
func (s *Service) applyEntries(ctx context.Context, tx TxRepository, v Voucher, accounts map[int64]Account) error {
	for _, e := range v.Entries {
		account := accounts[e.AccountID]
		balance, err := tx.ApplyBalanceDelta(ctx, e.AccountID, SignedDelta(account.Type, e.Type, e.Amount))
		if err != nil {
			return err
		}
		debit, credit := splitAmount(e.Type, e.Amount)
		narration := e.Description
		if narration == "" {
			narration = v.Narration
		}
		if _, err := tx.InsertLedgerRow(ctx, LedgerRow{
			OrganizationID: v.OrganizationID,
			AccountID:      e.AccountID,
			VoucherID:      v.ID,
			EntryID:        e.ID,
			EntryDate:      v.Date,
			Reference:      v.Number,
			EntryType:      e.Type,
			DebitAmount:    debit,
			CreditAmount:   credit,
			Balance:        balance,
			Narration:      narration,
		}); err != nil {
			return err
		}
	}
	return nil
}

// lockEntryAccounts locks every referenced account in ascending id order and
// validates them under check.
func lockEntryAccounts(ctx context.Context, tx TxRepository, v Voucher, check accountCheck) (map[int64]Account, error) {
	inputs := entryInputs(v.Entries)
	locked, err := tx.LockAccounts(ctx, uniqueAccountIDs(inputs))
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]Account, len(locked))
	for _, a := range locked {
		byID[a.ID] = a
	}
	for idx, e := range inputs {
		if err := checkEntryAccount(idx, e.AccountID, v.OrganizationID, byID, check); err != nil {
			return nil, err
		}
	}
	return byID, nil
}

// checkFiscalYear requires an open fiscal year that contains the voucher date.
func checkFiscalYear(ctx context.Context, tx TxRepository, v Voucher) error {
	if v.FiscalYearID == nil {
		return nil
	}
	fy, err := tx.GetFiscalYear(ctx, v.OrganizationID, *v.FiscalYearID)
	if err != nil {
		if errors.Is(err, ErrFiscalYearNotFound) {
			return newValidation(RuleFiscalYearMissing, -1, "fiscal year %d not found", *v.FiscalYearID)
		}
		return err
	}
	if fy.IsLocked || fy.Status == FiscalYearClosed {
		return fmt.Errorf("%w: %s", ErrFiscalYearLocked, fy.Name)
	}
	if !fy.Contains(v.Date) {
		return newValidation(RuleFiscalYearRange, -1, "voucher date %s is outside fiscal year %s (%s to %s)",
			v.Date.Format("2006-01-02"), fy.Name, fy.StartDate.Format("2006-01-02"), fy.EndDate.Format("2006-01-02"))
	}
	return nil
}

// checkFiscalYearOpen only rejects locked years; the date was checked when posting.
func checkFiscalYearOpen(ctx context.Context, tx TxRepository, v Voucher) error {
	if v.FiscalYearID == nil {
		return nil
	}
	fy, err := tx.GetFiscalYear(ctx, v.OrganizationID, *v.FiscalYearID)
	if err != nil {
		return err
	}
	if fy.IsLocked || fy.Status == FiscalYearClosed {
		return fmt.Errorf("%w: %s", ErrFiscalYearLocked, fy.Name)
	}
	return nil
}

func orderedEntries(entries []Entry) []Entry {
	out := append([]Entry(nil), entries...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].LineNo != out[j].LineNo {
			return out[i].LineNo < out[j].LineNo
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func reverseEntries(entries []Entry) []EntryInput {
	out := make([]EntryInput, 0, len(entries))
	for _, e := range entries {
		out = append(out, EntryInput{
			AccountID:         e.AccountID,
			Type:              e.Type.Opposite(),
			Amount:            e.Amount,
			Description:       e.Description,
			RelatedCustomerID: e.RelatedCustomerID,
			RelatedSupplierID: e.RelatedSupplierID,
			CostCenterID:      e.CostCenterID,
		})
	}
	return out
}

func defaultReversalMemo(memo, number string) string {
	if memo != "" {
		return memo
	}
	return "Reversal of " + number
}

// lockVoucher takes the optional distributed lock. Redis outages degrade to the
// database row locks instead of failing the request.
func (s *Service) lockVoucher(ctx context.Context, orgID, voucherID int64) (func(), error) {
	noop := func() {}
	if s.locker == nil {
		return noop, nil
	}
	unlock, err := s.locker.Acquire(ctx, shared.VoucherLockKey(orgID, voucherID))
	if err != nil {
		if errors.Is(err, shared.ErrLockHeld) {
			return nil, ErrVoucherBusy
		}
		s.logger.Warn("voucher lock unavailable", slog.Int64("voucher_id", voucherID), slog.Any("error", err))
		return noop, nil
	}
	return func() {
		// the request context may already be cancelled
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("voucher lock release failed", slog.Int64("voucher_id", voucherID), slog.Any("error", err))
		}
	}, nil
}

func (s *Service) observe(op string, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveVoucher(op, resultLabel(err))
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrAlreadyReversed):
		return "transition"
	case errors.Is(err, ErrVoucherBusy):
		return "busy"
	case IsRetryable(err):
		return "persistence"
	default:
		return "rejected"
	}
}

func (s *Service) logFailure(op string, orgID, voucherID int64, err error) {
	level := slog.LevelWarn
	if IsRetryable(err) {
		level = slog.LevelError
	}
	s.logger.Log(context.Background(), level, "voucher "+op+" failed",
		slog.Int64("organization_id", orgID),
		slog.Int64("voucher_id", voucherID),
		slog.Any("error", err))
}
