package importer

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"crm-import-service/internal/models"
	"crm-import-service/internal/reporter"
	"crm-import-service/internal/store"
	"crm-import-service/pkg/logger"
)

const journalCSV = `Trans #,Type,Date,Num,Name,Memo,Account,Debit,Credit
101,General Journal,01/15/2024,J-1,Acme,Opening,Cash,150.00,
,,,,,,Sales Income,,150.00
102,Deposit,01/16/2024,,,,Unknown Account,5.00,
,,,,,,Sales Income,,5.00
`

const ledgerCSV = `,Type,Date,Num,Name,Memo,Split,Amount,Balance,
Cash,,,,,,,,,
Total Cash,,,,,,,,,"1,250.00"
Mystery Account,,,,,,,,,
Total Mystery Account,,,,,,,,,9.00
`

func ledgerStore() *store.MemoryStore {
	s := store.NewMemoryStore()
	s.AddAccount(models.ChartOfAccount{AccountName: "Cash"})
	s.AddAccount(models.ChartOfAccount{AccountName: "Sales Income"})
	s.AddUser(models.User{Name: "Office", Role: models.RoleOfficeStaff})
	return s
}

func counters(summary *reporter.Summary) map[string]int {
	out := make(map[string]int, len(summary.Counters))
	for _, c := range summary.Counters {
		out[c.Key] = c.Value
	}
	return out
}

func TestLedgerJob(t *testing.T) {
	s := ledgerStore()
	job := LedgerJob(writeFixture(t, "ledger.csv", ledgerCSV), writeFixture(t, "journal.csv", journalCSV))

	summary, err := newOrchestrator(s, Options{Command: "import-ledger"}).Execute(context.Background(), job)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := map[string]int{"balances": 1, "balances_skipped": 1, "created": 1, "skipped": 1, "lines": 2}
	got := counters(summary)
	for key, value := range expected {
		if got[key] != value {
			t.Errorf("expected %s=%d, got %d", key, value, got[key])
		}
	}
	if summary.Counters[0].Label != "Ledger balances updated" {
		t.Errorf("expected balances counter first, got %s", summary.Counters[0].Label)
	}

	if len(summary.Unresolved) != 2 || summary.Unresolved[0].Name != "Mystery Account" || summary.Unresolved[1].Name != "Unknown Account" {
		t.Errorf("expected both unresolved accounts, got %+v", summary.Unresolved)
	}

	entries := s.JournalEntries()
	if len(entries) != 1 || entries[0].CreatedBy == nil {
		t.Fatalf("expected 1 journal entry owned by the system user, got %+v", entries)
	}
	for _, account := range s.Accounts() {
		if account.AccountName == "Cash" && account.CurrentBalance.StringFixed(2) != "1250.00" {
			t.Errorf("expected cash balance 1250.00, got %s", account.CurrentBalance)
		}
	}
}

func TestLedgerJobJournalOnlyDryRun(t *testing.T) {
	s := ledgerStore()
	job := LedgerJob("", writeFixture(t, "journal.csv", journalCSV))

	summary, err := newOrchestrator(s, Options{Command: "import-ledger", DryRun: true}).Execute(context.Background(), job)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Value("created") != 1 || summary.Value("balances") != 0 {
		t.Errorf("expected created=1 balances=0, got %+v", summary.Counters)
	}
	if len(s.JournalEntries()) != 0 {
		t.Errorf("expected dry run to write nothing, got %d entries", len(s.JournalEntries()))
	}
}

const salesDetailCSV = `Type,Date,Num,Customer,Item,Memo,Qty,Sales Price,Amount
Invoice,05/01/2024,INV-99,Harbor Marine,Haul out,,1,80.00,80.00
Invoice,05/01/2024,INV-99,Harbor Marine,Storage,,,,20.00
Invoice,05/03/2024,INV-100,New Boat Co,Survey,,2,,150.00
Invoice,05/04/2024,INV-101,Ghost Ltd,Survey,,,,10.00
`

const invoiceSummaryCSV = `Type,Date,Num,Customer,Due Date,Amount,Open Balance
Invoice,05/03/2024,INV-100,New Boat Co,05/20/2024,150.00,50.00
`

func TestBackfillJob(t *testing.T) {
	s := store.NewMemoryStore()
	harbor := s.AddCustomer(models.Customer{Name: "Harbor Marine"})
	s.AddInvoice(models.Invoice{
		InvoiceNumber: "QB-INV-INV-99", CustomerID: harbor.ID,
		Subtotal: decimal.NewFromInt(110), Total: decimal.NewFromInt(110), Balance: decimal.NewFromInt(110),
	})

	job := BackfillJob(writeFixture(t, "sales.csv", salesDetailCSV), writeFixture(t, "summary.csv", invoiceSummaryCSV), nil)
	summary, err := newOrchestrator(s, Options{Command: "backfill-invoice-items"}).Execute(context.Background(), job)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := map[string]int{"processed": 2, "created": 1, "updated": 1, "skipped_missing_invoice": 1, "zero_amount": 0}
	got := counters(summary)
	for key, value := range expected {
		if got[key] != value {
			t.Errorf("expected %s=%d, got %d", key, value, got[key])
		}
	}
	if len(summary.Warnings) != 1 {
		t.Errorf("expected one missing-invoice warning, got %v", summary.Warnings)
	}
	if len(s.Invoices()) != 2 {
		t.Errorf("expected INV-100 to be created, got %d invoices", len(s.Invoices()))
	}
}

func TestBackfillJobOnly(t *testing.T) {
	s := store.NewMemoryStore()
	job := BackfillJob(writeFixture(t, "sales.csv", salesDetailCSV), "", []string{"INV-101"})

	summary, err := newOrchestrator(s, Options{Command: "backfill-invoice-items"}).Execute(context.Background(), job)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// INV-101 has no invoice and no summary row, so it is skipped rather
	// than processed.
	if summary.Value("processed") != 0 || summary.Value("skipped_missing_invoice") != 1 {
		t.Errorf("expected INV-101 alone to be skipped as missing, got %+v", summary.Counters)
	}
}

func TestPaymentsJob(t *testing.T) {
	s := store.NewMemoryStore()
	harbor := s.AddCustomer(models.Customer{Name: "Harbor Marine"})
	inv := s.AddInvoice(models.Invoice{
		InvoiceNumber: "QB-INV-1001", CustomerID: harbor.ID,
		Total: decimal.NewFromInt(500), Balance: decimal.NewFromInt(500), Status: models.InvoiceStatusSent,
	})

	content := ",Type,Date,Num,Amount\nHarbor Marine,,,,\n,Invoice,01/05/2024,1001,500.00\n,Payment,02/01/2024,PMT-1,200.00\n"
	summary, err := newOrchestrator(s, Options{Command: "import-payments"}).Execute(context.Background(), PaymentsJob(writeFixture(t, "payments.csv", content)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Value("created") != 1 || summary.Value("skipped") != 0 {
		t.Errorf("expected created=1 skipped=0, got %+v", summary.Counters)
	}

	updated, _ := s.FindInvoiceByID(context.Background(), inv.ID)
	if updated.Status != models.InvoiceStatusPartial || !updated.Balance.Equal(decimal.NewFromInt(300)) {
		t.Errorf("expected partial invoice with balance 300, got %s %s", updated.Status, updated.Balance)
	}
}

func TestLedgerJobLogsEachPass(t *testing.T) {
	var buf bytes.Buffer
	log, err := logger.NewLogger(&logger.Config{Level: logger.InfoLevel, Format: logger.JSONFormat, Writer: &buf, DisableTimestamp: true})
	if err != nil {
		t.Fatalf("unexpected error creating logger: %v", err)
	}

	job := LedgerJob(writeFixture(t, "ledger.csv", ledgerCSV), writeFixture(t, "journal.csv", journalCSV))
	if _, err := newOrchestrator(ledgerStore(), Options{Command: "import-ledger", Logger: log}).Execute(context.Background(), job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	for _, pass := range []string{`"pass":"ledger balances"`, `"pass":"journal entries"`} {
		if !strings.Contains(out, pass) {
			t.Errorf("expected a log entry with %s, got:\n%s", pass, out)
		}
	}
	if strings.Count(out, "Pass finished") != 2 {
		t.Errorf("expected 2 finished passes, got:\n%s", out)
	}
}

const invoicePlaneJSON = `{
  "customers": [{"client_id": "1", "client_name": "Harbor Marine", "client_email": "ops@harbor.example"}],
  "quotes": [{"quote_id": "5", "client_id": "1", "quote_number": "Q-5", "quote_total": "80.00", "items": []}],
  "invoices": [
    {"invoice_id": "7", "client_id": "1", "invoice_number": "INV-7", "invoice_total": "80.00",
     "items": [{"item_name": "Haul out", "item_quantity": "1", "item_price": "80.00", "item_subtotal": "80.00"}]},
    {"invoice_id": "8", "client_id": "4", "invoice_number": "INV-8", "invoice_total": "10.00", "items": []}
  ]
}`

func TestInvoicePlaneJob(t *testing.T) {
	s := store.NewMemoryStore()
	job := InvoicePlaneJob(writeFixture(t, "export.json", invoicePlaneJSON), nil)

	summary, err := newOrchestrator(s, Options{Command: "import-invoiceplane"}).Execute(context.Background(), job)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := map[string]int{"customers_created": 1, "quotes_created": 1, "invoices_created": 1, "items": 1, "unmapped": 1}
	got := counters(summary)
	for key, value := range expected {
		if got[key] != value {
			t.Errorf("expected %s=%d, got %d", key, value, got[key])
		}
	}
	if len(summary.Warnings) != 1 || !strings.Contains(summary.Warnings[0], "client_id 4") {
		t.Errorf("expected one warning for the unmapped invoice, got %v", summary.Warnings)
	}
	if len(s.Customers()) != 1 || len(s.Quotes()) != 1 || len(s.Invoices()) != 1 {
		t.Errorf("expected one customer, quote and invoice committed")
	}
}

func TestInvoicePlaneJobDryRun(t *testing.T) {
	s := store.NewMemoryStore()
	job := InvoicePlaneJob(writeFixture(t, "export.json", invoicePlaneJSON), []string{"customers", "invoices"})

	summary, err := newOrchestrator(s, Options{Command: "import-invoiceplane", DryRun: true}).Execute(context.Background(), job)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Value("invoices_created") != 1 || summary.Value("quotes_created") != 0 {
		t.Errorf("expected invoices only, got %+v", summary.Counters)
	}
	if len(s.Customers()) != 0 || len(s.Invoices()) != 0 {
		t.Errorf("expected nothing written in dry run")
	}
}
