// Package store persists import results to the CRM database.
//
// Store is the full persistence contract. GormStore implements it on top of
// gorm with either the MySQL or the PostgreSQL (pgx) driver; MemoryStore is
// an in-process implementation with the same transactional semantics, used
// by engine tests.
package store

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"crm-import-service/internal/models"
	"crm-import-service/pkg/errors"
)

// Store is the persistence surface used by the import engines. Lookups that
// find nothing return (nil, nil).
type Store interface {
	// Transaction runs fn inside one database transaction. Any error returned
	// by fn rolls back every write made through the Store passed to fn.
	Transaction(ctx context.Context, fn func(tx Store) error) error

	ListAccounts(ctx context.Context) ([]models.ChartOfAccount, error)
	UpdateAccountBalance(ctx context.Context, accountID int, balance decimal.Decimal) error
	ResolveSystemUserID(ctx context.Context) (*int, error)

	JournalEntryExists(ctx context.Context, entryNumber string) (bool, error)
	CreateJournalEntry(ctx context.Context, entry *models.JournalEntry) error

	FindCustomerByName(ctx context.Context, name string) (*models.Customer, error)
	FindCustomerByNameFold(ctx context.Context, name string) (*models.Customer, error)
	FindCustomerByEmail(ctx context.Context, email string) (*models.Customer, error)
	CreateCustomer(ctx context.Context, customer *models.Customer) error

	FindInvoiceByNumber(ctx context.Context, number string) (*models.Invoice, error)
	FindInvoiceByID(ctx context.Context, id int) (*models.Invoice, error)
	CreateInvoice(ctx context.Context, invoice *models.Invoice) error
	ReplaceInvoiceItems(ctx context.Context, invoiceID int, items []models.InvoiceItem) error
	SaveInvoiceTotals(ctx context.Context, invoice *models.Invoice) error
	ListCustomerInvoiceIDs(ctx context.Context, customerID int) ([]int, error)

	FindQuoteByNumber(ctx context.Context, number string) (*models.Quote, error)
	// CreateQuote writes the quote and its items.
	CreateQuote(ctx context.Context, quote *models.Quote) error

	PaymentReferenceExists(ctx context.Context, invoiceID int, reference string) (bool, error)
	PaymentExistsOnDate(ctx context.Context, invoiceID int, day time.Time, amount decimal.Decimal) (bool, error)
	CreatePayment(ctx context.Context, payment *models.Payment) error
	SumCompletedPayments(ctx context.Context, invoiceID int) (decimal.Decimal, error)
}

// classify wraps a driver error as an ImportError, marking unique-key
// violations so callers can tell them apart from other failures.
func classify(operation string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := errors.AsImportError(err); ok {
		return err
	}

	wrapped := errors.PersistenceFailure(operation, err)
	if isDuplicateKey(err) {
		wrapped.Code = errors.CodeDuplicateKey
	}
	return wrapped
}

func isDuplicateKey(err error) bool {
	var mysqlErr *mysql.MySQLError
	if stderrors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func dayBounds(day time.Time) (time.Time, time.Time) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	return start, start.AddDate(0, 0, 1)
}
