package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mfgerp/mfgerp/internal/accounting"
	"github.com/mfgerp/mfgerp/internal/app"
	"github.com/mfgerp/mfgerp/internal/platform/db"
)

type seedAccount struct {
	code   string
	name   string
	typ    accounting.AccountType
	parent string
	cash   bool
}

// chart is ordered so every parent precedes its children.
var chart = []seedAccount{
	{code: "1000", name: "Assets", typ: accounting.AccountTypeAsset},
	{code: "1100", name: "Cash and Bank", typ: accounting.AccountTypeAsset, parent: "1000"},
	{code: "1101", name: "Petty Cash", typ: accounting.AccountTypeAsset, parent: "1100", cash: true},
	{code: "1102", name: "Operating Bank Account", typ: accounting.AccountTypeAsset, parent: "1100", cash: true},
	{code: "1200", name: "Accounts Receivable", typ: accounting.AccountTypeAsset, parent: "1000"},
	{code: "1300", name: "Inventory", typ: accounting.AccountTypeAsset, parent: "1000"},
	{code: "2000", name: "Liabilities", typ: accounting.AccountTypeLiability},
	{code: "2100", name: "Accounts Payable", typ: accounting.AccountTypeLiability, parent: "2000"},
	{code: "2200", name: "Tax Payable", typ: accounting.AccountTypeLiability, parent: "2000"},
	{code: "3000", name: "Equity", typ: accounting.AccountTypeEquity},
	{code: "3100", name: "Share Capital", typ: accounting.AccountTypeEquity, parent: "3000"},
	{code: "3200", name: "Retained Earnings", typ: accounting.AccountTypeEquity, parent: "3000"},
	{code: "4000", name: "Revenue", typ: accounting.AccountTypeIncome},
	{code: "4100", name: "Sales Revenue", typ: accounting.AccountTypeIncome, parent: "4000"},
	{code: "5000", name: "Expenses", typ: accounting.AccountTypeExpense},
	{code: "5100", name: "Cost of Goods Sold", typ: accounting.AccountTypeExpense, parent: "5000"},
	{code: "5200", name: "Salaries", typ: accounting.AccountTypeExpense, parent: "5000"},
	{code: "5300", name: "Rent", typ: accounting.AccountTypeExpense, parent: "5000"},
}

func main() {
	orgID := flag.Int64("org", 1, "organization id to seed")
	capital := flag.String("capital", "50000", "opening share capital posted to the bank account")
	flag.Parse()

	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := app.NewLogger(cfg)
	ctx := context.Background()

	if err := db.Migrate(cfg.PGDSN, logger); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	pool, err := db.New(ctx, cfg.PGDSN, 4)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	svc := accounting.NewService(accounting.NewRepository(pool), logger)

	fmt.Println("→ Seeding chart of accounts...")
	ids, err := seedChart(ctx, svc, *orgID)
	if err != nil {
		log.Fatalf("seed chart: %v", err)
	}

	fmt.Println("→ Seeding fiscal year...")
	fy, err := seedFiscalYear(ctx, svc, *orgID)
	if err != nil {
		log.Fatalf("seed fiscal year: %v", err)
	}

	amount, err := decimal.NewFromString(*capital)
	if err != nil {
		log.Fatalf("parse capital: %v", err)
	}
	if amount.IsPositive() {
		fmt.Println("→ Posting opening capital...")
		if err := seedCapital(ctx, svc, *orgID, fy, ids, amount); err != nil {
			log.Fatalf("seed capital: %v", err)
		}
	}

	fmt.Println("✓ Seed complete at", time.Now().Format(time.RFC3339))
}

func seedChart(ctx context.Context, svc *accounting.Service, orgID int64) (map[string]int64, error) {
	existing, err := svc.ListAccounts(ctx, accounting.AccountFilter{OrganizationID: orgID})
	if err != nil {
		return nil, err
	}
	ids := make(map[string]int64, len(chart))
	for _, a := range existing {
		ids[a.Code] = a.ID
	}
	for _, a := range chart {
		if _, ok := ids[a.code]; ok {
			continue
		}
		in := accounting.CreateAccountInput{
			OrganizationID: orgID,
			Code:           a.code,
			Name:           a.name,
			Type:           a.typ,
			IsCashAccount:  a.cash,
		}
		if a.parent != "" {
			parentID := ids[a.parent]
			in.ParentID = &parentID
		}
		created, err := svc.CreateAccount(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", a.code, err)
		}
		ids[a.code] = created.ID
	}
	return ids, nil
}

func seedFiscalYear(ctx context.Context, svc *accounting.Service, orgID int64) (accounting.FiscalYear, error) {
	year := time.Now().UTC().Year()
	name := fmt.Sprintf("FY%d", year)
	years, err := svc.ListFiscalYears(ctx, orgID)
	if err != nil {
		return accounting.FiscalYear{}, err
	}
	for _, fy := range years {
		if fy.Name == name {
			return fy, nil
		}
	}
	return svc.CreateFiscalYear(ctx, accounting.CreateFiscalYearInput{
		OrganizationID: orgID,
		Name:           name,
		StartDate:      time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC),
		EndDate:        time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC),
		Status:         accounting.FiscalYearCurrent,
	})
}

func seedCapital(ctx context.Context, svc *accounting.Service, orgID int64, fy accounting.FiscalYear, ids map[string]int64, amount decimal.Decimal) error {
	const number = "JV-OPENING"
	v, err := svc.CreateVoucher(ctx, accounting.CreateVoucherInput{
		OrganizationID: orgID,
		FiscalYearID:   &fy.ID,
		Number:         number,
		Date:           fy.StartDate,
		Type:           "opening",
		Narration:      "Opening share capital",
		Entries: []accounting.EntryInput{
			{AccountID: ids["1102"], Type: accounting.EntryTypeDebit, Amount: amount, Description: "Capital deposit"},
			{AccountID: ids["3100"], Type: accounting.EntryTypeCredit, Amount: amount, Description: "Share capital"},
		},
	})
	if errors.Is(err, accounting.ErrDuplicateVoucherNumber) {
		fmt.Println("  opening voucher already present, skipping")
		return nil
	}
	if err != nil {
		return err
	}
	_, err = svc.PostVoucher(ctx, orgID, v.ID, 0)
	return err
}
