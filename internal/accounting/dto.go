package accounting

import (
	"time"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

type accountRequest struct {
	Code           string          `json:"account_code" validate:"required,max=50"`
	Name           string          `json:"account_name" validate:"required,max=255"`
	Type           string          `json:"account_type" validate:"required"`
	SubType        string          `json:"sub_type" validate:"max=100"`
	ParentID       *int64          `json:"parent_account_id" validate:"omitempty,gt=0"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	IsCashAccount  bool            `json:"is_cash_account"`
	Description    string          `json:"description"`
}

func (r accountRequest) toInput(orgID, actorID int64) (CreateAccountInput, error) {
	accountType, err := ParseAccountType(r.Type)
	if err != nil {
		return CreateAccountInput{}, newValidation(RuleAccountType, -1, "unknown account type %q", r.Type)
	}
	return CreateAccountInput{
		OrganizationID: orgID,
		Code:           r.Code,
		Name:           r.Name,
		Type:           accountType,
		SubType:        r.SubType,
		ParentID:       r.ParentID,
		OpeningBalance: r.OpeningBalance,
		IsCashAccount:  r.IsCashAccount,
		Description:    r.Description,
		CreatedBy:      actorID,
	}, nil
}

// accountPatchRequest leaves absent fields untouched. account_type is deliberately absent.
type accountPatchRequest struct {
	Name          *string `json:"account_name" validate:"omitempty,max=255"`
	SubType       *string `json:"sub_type" validate:"omitempty,max=100"`
	Description   *string `json:"description"`
	Status        *string `json:"status" validate:"omitempty,oneof=active inactive"`
	IsCashAccount *bool   `json:"is_cash_account"`
	ParentID      *int64  `json:"parent_account_id" validate:"omitempty,gt=0"`
	ClearParent   bool    `json:"clear_parent"`
}

func (r accountPatchRequest) toInput(orgID, id, actorID int64) UpdateAccountInput {
	in := UpdateAccountInput{
		OrganizationID: orgID,
		ID:             id,
		ActorID:        actorID,
		Name:           r.Name,
		SubType:        r.SubType,
		Description:    r.Description,
		IsCashAccount:  r.IsCashAccount,
		ParentID:       r.ParentID,
		ClearParent:    r.ClearParent,
	}
	if r.Status != nil {
		status := AccountStatus(*r.Status)
		in.Status = &status
	}
	return in
}

type fiscalYearRequest struct {
	Name      string `json:"name" validate:"required,max=255"`
	StartDate string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate   string `json:"end_date" validate:"required,datetime=2006-01-02"`
	Status    string `json:"status" validate:"omitempty,oneof=upcoming current"`
}

func (r fiscalYearRequest) toInput(orgID, actorID int64) (CreateFiscalYearInput, error) {
	start, err := time.Parse(dateLayout, r.StartDate)
	if err != nil {
		return CreateFiscalYearInput{}, err
	}
	end, err := time.Parse(dateLayout, r.EndDate)
	if err != nil {
		return CreateFiscalYearInput{}, err
	}
	return CreateFiscalYearInput{
		OrganizationID: orgID,
		Name:           r.Name,
		StartDate:      start,
		EndDate:        end,
		Status:         FiscalYearStatus(r.Status),
		CreatedBy:      actorID,
	}, nil
}

// entryRequest carries no validate tags: entry rules are reported by the service with their index.
type entryRequest struct {
	AccountID         int64           `json:"account_id"`
	EntryType         string          `json:"entry_type"`
	Amount            decimal.Decimal `json:"amount"`
	Description       string          `json:"description"`
	RelatedCustomerID *int64          `json:"related_customer_id"`
	RelatedSupplierID *int64          `json:"related_supplier_id"`
	CostCenterID      *int64          `json:"cost_center_id"`
}

func toEntryInputs(entries []entryRequest) []EntryInput {
	out := make([]EntryInput, 0, len(entries))
	for _, e := range entries {
		out = append(out, EntryInput{
			AccountID:         e.AccountID,
			Type:              EntryType(e.EntryType),
			Amount:            e.Amount,
			Description:       e.Description,
			RelatedCustomerID: e.RelatedCustomerID,
			RelatedSupplierID: e.RelatedSupplierID,
			CostCenterID:      e.CostCenterID,
		})
	}
	return out
}

type voucherRequest struct {
	Number       string         `json:"voucher_number" validate:"max=64"`
	Date         string         `json:"voucher_date" validate:"required,datetime=2006-01-02"`
	Type         string         `json:"voucher_type" validate:"max=50"`
	Reference    string         `json:"reference" validate:"max=255"`
	Narration    string         `json:"narration"`
	FiscalYearID *int64         `json:"fiscal_year_id" validate:"omitempty,gt=0"`
	Entries      []entryRequest `json:"entries"`
}

func (r voucherRequest) toInput(orgID, actorID int64) (CreateVoucherInput, error) {
	date, err := time.Parse(dateLayout, r.Date)
	if err != nil {
		return CreateVoucherInput{}, err
	}
	return CreateVoucherInput{
		OrganizationID: orgID,
		FiscalYearID:   r.FiscalYearID,
		Number:         r.Number,
		Date:           date,
		Type:           r.Type,
		Reference:      r.Reference,
		Narration:      r.Narration,
		CreatedBy:      actorID,
		Entries:        toEntryInputs(r.Entries),
	}, nil
}

type voucherPatchRequest struct {
	Date         *string `json:"voucher_date" validate:"omitempty,datetime=2006-01-02"`
	Type         *string `json:"voucher_type" validate:"omitempty,max=50"`
	Reference    *string `json:"reference" validate:"omitempty,max=255"`
	Narration    *string `json:"narration"`
	FiscalYearID *int64  `json:"fiscal_year_id" validate:"omitempty,gt=0"`
}

func (r voucherPatchRequest) toInput(orgID, id int64) (UpdateVoucherInput, error) {
	in := UpdateVoucherInput{
		OrganizationID: orgID,
		ID:             id,
		FiscalYearID:   r.FiscalYearID,
		Type:           r.Type,
		Reference:      r.Reference,
		Narration:      r.Narration,
	}
	if r.Date != nil {
		date, err := time.Parse(dateLayout, *r.Date)
		if err != nil {
			return UpdateVoucherInput{}, err
		}
		in.Date = &date
	}
	return in, nil
}

type replaceEntriesRequest struct {
	Entries []entryRequest `json:"entries"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type reverseRequest struct {
	Date         *string `json:"voucher_date" validate:"omitempty,datetime=2006-01-02"`
	FiscalYearID *int64  `json:"fiscal_year_id" validate:"omitempty,gt=0"`
	Narration    string  `json:"narration"`
}

func (r reverseRequest) toInput(orgID, voucherID, actorID int64) (ReverseInput, error) {
	in := ReverseInput{
		OrganizationID: orgID,
		VoucherID:      voucherID,
		ActorID:        actorID,
		FiscalYearID:   r.FiscalYearID,
		Narration:      r.Narration,
	}
	if r.Date != nil {
		date, err := time.Parse(dateLayout, *r.Date)
		if err != nil {
			return ReverseInput{}, err
		}
		in.Date = &date
	}
	return in, nil
}

type statementReconcileRequest struct {
	StatementBalance *decimal.Decimal `json:"statement_balance" validate:"required"`
	StatementDate    string           `json:"statement_date" validate:"omitempty,datetime=2006-01-02"`
}

func (r statementReconcileRequest) toInput(orgID, accountID int64) (StatementReconcileInput, error) {
	in := StatementReconcileInput{
		OrganizationID:   orgID,
		AccountID:        accountID,
		StatementBalance: *r.StatementBalance,
	}
	if r.StatementDate != "" {
		date, err := time.Parse(dateLayout, r.StatementDate)
		if err != nil {
			return StatementReconcileInput{}, err
		}
		in.StatementDate = date
	}
	return in, nil
}
