package payments

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"crm-import-service/internal/models"
	"crm-import-service/internal/reporter"
	"crm-import-service/internal/store"
	"crm-import-service/pkg/errors"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func writeFixture(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "payments.csv")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	return path
}

var fixedNow = time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC)

const customerTransactionsCSV = `,Type,Date,Num,Memo,Amount
,Payment,01/01/2024,P-0,,10.00
Harbor Marine,,,,,
,Invoice,01/05/2024,1001,,500.00
,Invoice,01/10/2024,1002,,300.00
,Invoice,01/12/2024,9999,,10.00
,Payment,02/01/2024,PMT-1,Check 44,(600.00)
,Payment,02/15/2024,,,250.00
Total Harbor Marine,,,,,
Unknown Co,,,,,
,Payment,02/02/2024,,,50.00
`

type fixture struct {
	store  *store.MemoryStore
	harbor models.Customer
	inv1   models.Invoice
	inv2   models.Invoice
}

func newFixture() *fixture {
	s := store.NewMemoryStore()
	harbor := s.AddCustomer(models.Customer{Name: "Harbor Marine"})
	return &fixture{
		store:  s,
		harbor: harbor,
		inv1: s.AddInvoice(models.Invoice{
			InvoiceNumber: "QB-INV-1001", CustomerID: harbor.ID, IssueDate: date(2024, 1, 5),
			Total: dec("500"), Balance: dec("500"), Status: models.InvoiceStatusSent,
		}),
		inv2: s.AddInvoice(models.Invoice{
			InvoiceNumber: "QB-INV-1002", CustomerID: harbor.ID, IssueDate: date(2024, 1, 10),
			Total: dec("300"), Balance: dec("300"), Status: models.InvoiceStatusSent,
		}),
	}
}

func (f *fixture) run(t *testing.T, content string, opts Options) Stats {
	t.Helper()
	opts.Now = func() time.Time { return fixedNow }
	stats, err := NewImporter(f.store, opts).Import(context.Background(), writeFixture(t, content))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return stats
}

func (f *fixture) invoice(t *testing.T, id int) *models.Invoice {
	t.Helper()
	inv, err := f.store.FindInvoiceByID(context.Background(), id)
	if err != nil || inv == nil {
		t.Fatalf("failed to load invoice %d: %v", id, err)
	}
	return inv
}

func TestImportPayments(t *testing.T) {
	f := newFixture()
	sink := reporter.NewBoundedSink(0, nil)
	stats := f.run(t, customerTransactionsCSV, Options{Sink: sink})

	if stats.Created != 3 || stats.Skipped != 4 {
		t.Errorf("expected created=3 skipped=4, got %+v", stats)
	}

	payments := f.store.Payments()
	if len(payments) != 3 {
		t.Fatalf("expected 3 payments, got %d", len(payments))
	}
	expected := []struct {
		invoiceID int
		reference string
		amount    string
	}{
		{f.inv1.ID, "QB-PMT-PMT-1-20240201", "500"},
		{f.inv2.ID, "QB-PMT-PMT-1-20240201-PART2", "100"},
		{f.inv2.ID, "QB-PMT-HARBOR-MARINE-20240215", "200"},
	}
	for i, want := range expected {
		got := payments[i]
		if got.InvoiceID != want.invoiceID || got.ProviderTransactionID != want.reference || !got.Amount.Equal(dec(want.amount)) {
			t.Errorf("payment %d: expected %+v, got invoice=%d ref=%s amount=%s", i, want, got.InvoiceID, got.ProviderTransactionID, got.Amount)
		}
		if got.Status != models.PaymentStatusCompleted || got.PaymentProvider != models.PaymentProviderOffline {
			t.Errorf("payment %d: unexpected status/provider %s/%s", i, got.Status, got.PaymentProvider)
		}
	}
	if payments[0].Notes != "Imported from QuickBooks payment data\nQuickBooks payment #: PMT-1\nMemo: Check 44" {
		t.Errorf("unexpected notes: %q", payments[0].Notes)
	}

	for _, inv := range []*models.Invoice{f.invoice(t, f.inv1.ID), f.invoice(t, f.inv2.ID)} {
		if inv.Status != models.InvoiceStatusPaid || !inv.Balance.IsZero() {
			t.Errorf("expected invoice %s paid in full, got %s balance %s", inv.InvoiceNumber, inv.Status, inv.Balance)
		}
	}

	messages := strings.Join(sink.Messages(), "\n")
	for _, want := range []string{
		"row 2: unable to determine customer context for payment entry",
		"row 6: invoice 9999 not found for customer Harbor Marine",
		"row 8: could not apply $50.00 of payment for Harbor Marine",
		"row 11: customer Unknown Co was not found in the CRM; payment skipped",
	} {
		if !strings.Contains(messages, want) {
			t.Errorf("expected diagnostic %q, got:\n%s", want, messages)
		}
	}
	if sink.Count(errors.CodeUnresolvedEntity) != 2 {
		t.Errorf("expected 2 unresolved customer diagnostics, got %d", sink.Count(errors.CodeUnresolvedEntity))
	}
}

func TestImportPaymentsPartialStatus(t *testing.T) {
	f := newFixture()
	content := ",Type,Date,Num,Amount\nHarbor Marine,,,,\n,Payment,01/15/2024,77,120.00\n"
	stats := f.run(t, content, Options{})

	if stats.Created != 1 {
		t.Fatalf("expected 1 payment, got %+v", stats)
	}
	inv := f.invoice(t, f.inv1.ID)
	if inv.Status != models.InvoiceStatusPartial || !inv.PaidAmount.Equal(dec("120")) || !inv.Balance.Equal(dec("380")) {
		t.Errorf("expected partial with balance 380, got %s paid=%s balance=%s", inv.Status, inv.PaidAmount, inv.Balance)
	}
}

func TestImportPaymentsOldestInvoiceFirst(t *testing.T) {
	s := store.NewMemoryStore()
	customer := s.AddCustomer(models.Customer{Name: "Bay Yachts"})
	newer := s.AddInvoice(models.Invoice{InvoiceNumber: "QB-INV-2", CustomerID: customer.ID, IssueDate: date(2024, 2, 1), Total: dec("100"), Balance: dec("100")})
	older := s.AddInvoice(models.Invoice{InvoiceNumber: "QB-INV-1", CustomerID: customer.ID, IssueDate: date(2024, 1, 1), Total: dec("100"), Balance: dec("100")})
	settled := s.AddInvoice(models.Invoice{InvoiceNumber: "QB-INV-0", CustomerID: customer.ID, IssueDate: date(2023, 12, 1), Total: dec("100"), Status: models.InvoiceStatusPaid})

	f := &fixture{store: s}
	content := ",Type,Date,Num,Amount\nbay yachts,,,,\n,Payment,03/01/2024,,150.00\n"
	stats := f.run(t, content, Options{})

	if stats.Created != 2 || stats.Skipped != 0 {
		t.Fatalf("expected 2 applications, got %+v", stats)
	}
	payments := s.Payments()
	if payments[0].InvoiceID != older.ID || !payments[0].Amount.Equal(dec("100")) {
		t.Errorf("expected oldest open invoice paid first, got invoice %d amount %s", payments[0].InvoiceID, payments[0].Amount)
	}
	if payments[1].InvoiceID != newer.ID || !payments[1].Amount.Equal(dec("50")) {
		t.Errorf("expected remainder on the newer invoice, got invoice %d amount %s", payments[1].InvoiceID, payments[1].Amount)
	}
	if payments[1].ProviderTransactionID != "QB-PMT-BAY-YACHTS-20240301-PART2" {
		t.Errorf("expected split reference, got %s", payments[1].ProviderTransactionID)
	}
	for _, p := range payments {
		if p.InvoiceID == settled.ID {
			t.Error("expected settled invoice to be skipped")
		}
	}
}

func TestImportPaymentsIsIdempotent(t *testing.T) {
	f := newFixture()
	f.run(t, customerTransactionsCSV, Options{})
	second := f.run(t, customerTransactionsCSV, Options{})

	if second.Created != 0 {
		t.Errorf("expected second run to create nothing, got %+v", second)
	}
	if n := len(f.store.Payments()); n != 3 {
		t.Errorf("expected 3 payments after a re-run, got %d", n)
	}
}

func TestImportPaymentsSkipsSameDayDuplicates(t *testing.T) {
	f := newFixture()
	f.store.AddPayment(models.Payment{
		InvoiceID: f.inv1.ID, ProviderTransactionID: "manual-entry", Amount: dec("500"),
		Status: models.PaymentStatusCompleted, ProcessedAt: time.Date(2024, 2, 1, 15, 30, 0, 0, time.UTC),
	})

	content := ",Type,Date,Num,Amount\nHarbor Marine,,,,\n,Payment,02/01/2024,PMT-1,600.00\n"
	stats := f.run(t, content, Options{})

	if stats.Created != 1 {
		t.Fatalf("expected only the second invoice to receive a payment, got %+v", stats)
	}
	payments := f.store.Payments()
	last := payments[len(payments)-1]
	if last.InvoiceID != f.inv2.ID || !last.Amount.Equal(dec("100")) || last.ProviderTransactionID != "QB-PMT-PMT-1-20240201" {
		t.Errorf("unexpected payment: invoice=%d amount=%s ref=%s", last.InvoiceID, last.Amount, last.ProviderTransactionID)
	}
}

func TestImportPaymentsDryRunMatchesRealRun(t *testing.T) {
	real := newFixture()
	realStats := real.run(t, customerTransactionsCSV, Options{})

	dry := newFixture()
	dryStats := dry.run(t, customerTransactionsCSV, Options{DryRun: true})

	if dryStats != realStats {
		t.Errorf("expected dry run stats %+v to match real run %+v", dryStats, realStats)
	}
	if n := len(dry.store.Payments()); n != 0 {
		t.Errorf("expected dry run to write no payments, got %d", n)
	}
	if inv := dry.invoice(t, dry.inv1.ID); !inv.Balance.Equal(dec("500")) || inv.Status != models.InvoiceStatusSent {
		t.Errorf("expected dry run to leave invoice untouched, got %s balance %s", inv.Status, inv.Balance)
	}
}

func TestReference(t *testing.T) {
	day := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		customer string
		number   string
		expected string
	}{
		{"payment number", "Harbor Marine", "PMT-1", "QB-PMT-PMT-1-20240201"},
		{"customer name", "Harbor Marine", "", "QB-PMT-HARBOR-MARINE-20240201"},
		{"row fallback", "", "", "QB-PMT-PAYMENT-7-1250-20240201"},
		{"unsluggable number", "Harbor Marine", "###", "QB-PMT-PAYMENT-7-1250-20240201"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Reference(tt.customer, tt.number, day, dec("12.5"), 7)
			if got != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, got)
			}
		})
	}
}
