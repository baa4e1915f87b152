package store

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"crm-import-service/internal/models"
	"crm-import-service/pkg/errors"
	"crm-import-service/pkg/logger"
)

func openIntegrationStore(t *testing.T) *GormStore {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires a database)")
	}
	dsn := os.Getenv("IMPORTER_TEST_DSN")
	if dsn == "" {
		t.Skip("set IMPORTER_TEST_DSN to a disposable database")
	}
	driver := os.Getenv("IMPORTER_TEST_DRIVER")
	if driver == "" {
		driver = DriverMySQL
	}

	s, err := Open(Config{Driver: driver, DSN: dsn, MaxOpenConns: 4}, logger.GetGlobalLogger())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	db := s.DB()
	if err := db.Migrator().DropTable(models.AllModels()...); err != nil {
		t.Fatalf("failed to drop tables: %v", err)
	}
	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return s
}

func TestGormStoreRoundTrip(t *testing.T) {
	s := openIntegrationStore(t)
	ctx := context.Background()

	customer := &models.Customer{Name: "Acme Plumbing"}
	if err := s.CreateCustomer(ctx, customer); err != nil {
		t.Fatalf("unexpected error creating customer: %v", err)
	}
	found, err := s.FindCustomerByNameFold(ctx, "ACME plumbing")
	if err != nil || found == nil || found.ID != customer.ID {
		t.Fatalf("expected case-insensitive customer lookup, got %v (err %v)", found, err)
	}

	issue := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	invoice := &models.Invoice{
		InvoiceNumber: "QB-INV-1001",
		CustomerID:    customer.ID,
		IssueDate:     &issue,
		DueDate:       &issue,
		Total:         decimal.NewFromInt(100),
		Balance:       decimal.NewFromInt(100),
		Status:        models.InvoiceStatusSent,
	}
	if err := s.CreateInvoice(ctx, invoice); err != nil {
		t.Fatalf("unexpected error creating invoice: %v", err)
	}

	dup := &models.Invoice{InvoiceNumber: "QB-INV-1001", CustomerID: customer.ID}
	if err := s.CreateInvoice(ctx, dup); !errors.HasCode(err, errors.CodeDuplicateKey) {
		t.Errorf("expected duplicate_key, got %v", err)
	}

	processed := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)
	payment := &models.Payment{
		InvoiceID:             invoice.ID,
		PaymentProvider:       models.PaymentProviderOffline,
		ProviderTransactionID: "QB-PMT-1-20240201",
		Amount:                decimal.NewFromInt(40),
		Status:                models.PaymentStatusCompleted,
		PaymentMethodType:     models.PaymentMethodOther,
		ProcessedAt:           processed,
	}
	if err := s.CreatePayment(ctx, payment); err != nil {
		t.Fatalf("unexpected error creating payment: %v", err)
	}

	sum, err := s.SumCompletedPayments(ctx, invoice.ID)
	if err != nil || !sum.Equal(decimal.NewFromInt(40)) {
		t.Errorf("expected sum 40, got %s (err %v)", sum, err)
	}
	if ok, _ := s.PaymentExistsOnDate(ctx, invoice.ID, processed, decimal.NewFromInt(40)); !ok {
		t.Error("expected payment to be found on its processing date")
	}
}

func TestGormStoreTransactionRollback(t *testing.T) {
	s := openIntegrationStore(t)
	ctx := context.Background()

	err := s.Transaction(ctx, func(tx Store) error {
		if err := tx.CreateJournalEntry(ctx, &models.JournalEntry{
			EntryNumber: "QB-ROLLBACK",
			EntryDate:   time.Now(),
			Status:      models.JournalStatusPosted,
		}); err != nil {
			return err
		}
		return errors.New(errors.CategoryInternal, errors.CodeUnexpectedError, "abort")
	})
	if err == nil {
		t.Fatal("expected transaction error")
	}

	exists, err := s.JournalEntryExists(ctx, "QB-ROLLBACK")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exists {
		t.Error("expected journal entry to be rolled back")
	}
}
