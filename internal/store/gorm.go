package store

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"crm-import-service/internal/models"
	"crm-import-service/pkg/errors"
	"crm-import-service/pkg/logger"
)

// Supported database drivers.
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// Config describes how to reach the CRM database.
type Config struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	SlowThreshold   time.Duration
}

// GormStore implements Store with gorm.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an already opened gorm handle.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Open connects to the database described by cfg.
func Open(cfg Config, log logger.Logger) (*GormStore, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(cfg.Driver) {
	case DriverMySQL:
		dialector = mysql.Open(cfg.DSN)
	case DriverPostgres:
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "database.driver", cfg.Driver,
			fmt.Errorf("supported drivers are %s and %s", DriverMySQL, DriverPostgres))
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 NewGormLogger(log, cfg.SlowThreshold),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryPersistence, errors.CodeConnectionFailed,
			fmt.Sprintf("failed to connect to %s database", cfg.Driver)).
			WithSuggestion("check database.dsn or the discrete database.* settings")
	}

	if sqlDB, derr := db.DB(); derr == nil && sqlDB != nil {
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns >= 0 {
			sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if cfg.ConnMaxLifetime > 0 {
			sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		}
	}

	return &GormStore{db: db}, nil
}

// Close closes the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// DB exposes the gorm handle, mainly for migrations in tests.
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

func (s *GormStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

func (s *GormStore) ListAccounts(ctx context.Context) ([]models.ChartOfAccount, error) {
	var accounts []models.ChartOfAccount
	err := s.db.WithContext(ctx).Select("id", "account_number", "account_name").Order("id").Find(&accounts).Error
	return accounts, classify("list accounts", err)
}

func (s *GormStore) UpdateAccountBalance(ctx context.Context, accountID int, balance decimal.Decimal) error {
	err := s.db.WithContext(ctx).Model(&models.ChartOfAccount{}).
		Where("id = ?", accountID).
		Update("current_balance", balance).Error
	return classify("update account balance", err)
}

func (s *GormStore) ResolveSystemUserID(ctx context.Context) (*int, error) {
	var user models.User
	err := s.db.WithContext(ctx).
		Where("role IN ?", []string{models.RoleAdmin, models.RoleOfficeStaff}).
		Order("id").Take(&user).Error
	if err == nil {
		return &user.ID, nil
	}
	if !stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, classify("resolve system user", err)
	}

	err = s.db.WithContext(ctx).Order("id").Take(&user).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("resolve system user", err)
	}
	return &user.ID, nil
}

func (s *GormStore) JournalEntryExists(ctx context.Context, entryNumber string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.JournalEntry{}).
		Where("entry_number = ?", entryNumber).
		Limit(1).Count(&count).Error
	return count > 0, classify("check journal entry", err)
}

func (s *GormStore) CreateJournalEntry(ctx context.Context, entry *models.JournalEntry) error {
	return classify("create journal entry", s.db.WithContext(ctx).Create(entry).Error)
}

func (s *GormStore) FindCustomerByName(ctx context.Context, name string) (*models.Customer, error) {
	return s.findCustomer(ctx, "name = ?", name)
}

func (s *GormStore) FindCustomerByNameFold(ctx context.Context, name string) (*models.Customer, error) {
	return s.findCustomer(ctx, "LOWER(name) = ?", strings.ToLower(name))
}

func (s *GormStore) FindCustomerByEmail(ctx context.Context, email string) (*models.Customer, error) {
	return s.findCustomer(ctx, "LOWER(email) = ?", strings.ToLower(email))
}

func (s *GormStore) findCustomer(ctx context.Context, query string, arg string) (*models.Customer, error) {
	var customer models.Customer
	err := s.db.WithContext(ctx).Where(query, arg).Order("id").Take(&customer).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("find customer", err)
	}
	return &customer, nil
}

func (s *GormStore) CreateCustomer(ctx context.Context, customer *models.Customer) error {
	return classify("create customer", s.db.WithContext(ctx).Create(customer).Error)
}

func (s *GormStore) FindInvoiceByNumber(ctx context.Context, number string) (*models.Invoice, error) {
	return s.findInvoice(ctx, "invoice_number = ?", number)
}

func (s *GormStore) FindInvoiceByID(ctx context.Context, id int) (*models.Invoice, error) {
	return s.findInvoice(ctx, "id = ?", id)
}

func (s *GormStore) findInvoice(ctx context.Context, query string, arg interface{}) (*models.Invoice, error) {
	var invoice models.Invoice
	err := s.db.WithContext(ctx).Where(query, arg).Take(&invoice).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("find invoice", err)
	}
	return &invoice, nil
}

func (s *GormStore) CreateInvoice(ctx context.Context, invoice *models.Invoice) error {
	return classify("create invoice", s.db.WithContext(ctx).Omit("Items").Create(invoice).Error)
}

func (s *GormStore) ReplaceInvoiceItems(ctx context.Context, invoiceID int, items []models.InvoiceItem) error {
	db := s.db.WithContext(ctx)
	if err := db.Where("invoice_id = ?", invoiceID).Delete(&models.InvoiceItem{}).Error; err != nil {
		return classify("delete invoice items", err)
	}
	if len(items) == 0 {
		return nil
	}
	for i := range items {
		items[i].InvoiceID = invoiceID
	}
	return classify("create invoice items", db.Create(&items).Error)
}

func (s *GormStore) SaveInvoiceTotals(ctx context.Context, invoice *models.Invoice) error {
	err := s.db.WithContext(ctx).Model(&models.Invoice{}).
		Where("id = ?", invoice.ID).
		Updates(map[string]interface{}{
			"subtotal":    invoice.Subtotal,
			"tax_amount":  invoice.TaxAmount,
			"tax_rate":    invoice.TaxRate,
			"total":       invoice.Total,
			"paid_amount": invoice.PaidAmount,
			"balance":     invoice.Balance,
			"status":      invoice.Status,
		}).Error
	return classify("update invoice totals", err)
}

func (s *GormStore) ListCustomerInvoiceIDs(ctx context.Context, customerID int) ([]int, error) {
	var ids []int
	err := s.db.WithContext(ctx).Model(&models.Invoice{}).
		Where("customer_id = ?", customerID).
		Order("issue_date").Order("created_at").Order("id").
		Pluck("id", &ids).Error
	return ids, classify("list customer invoices", err)
}

func (s *GormStore) FindQuoteByNumber(ctx context.Context, number string) (*models.Quote, error) {
	var quote models.Quote
	err := s.db.WithContext(ctx).Where("quote_number = ?", number).Take(&quote).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("find quote", err)
	}
	return &quote, nil
}

func (s *GormStore) CreateQuote(ctx context.Context, quote *models.Quote) error {
	return classify("create quote", s.db.WithContext(ctx).Create(quote).Error)
}

func (s *GormStore) PaymentReferenceExists(ctx context.Context, invoiceID int, reference string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Payment{}).
		Where("invoice_id = ? AND provider_transaction_id = ?", invoiceID, reference).
		Count(&count).Error
	return count > 0, classify("check payment reference", err)
}

func (s *GormStore) PaymentExistsOnDate(ctx context.Context, invoiceID int, day time.Time, amount decimal.Decimal) (bool, error) {
	start, end := dayBounds(day)
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Payment{}).
		Where("invoice_id = ? AND processed_at >= ? AND processed_at < ? AND amount = ?", invoiceID, start, end, amount).
		Count(&count).Error
	return count > 0, classify("check payment", err)
}

func (s *GormStore) CreatePayment(ctx context.Context, payment *models.Payment) error {
	return classify("create payment", s.db.WithContext(ctx).Create(payment).Error)
}

func (s *GormStore) SumCompletedPayments(ctx context.Context, invoiceID int) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	err := s.db.WithContext(ctx).Model(&models.Payment{}).
		Select("SUM(amount)").
		Where("invoice_id = ? AND status = ?", invoiceID, models.PaymentStatusCompleted).
		Scan(&total).Error
	if err != nil {
		return decimal.Zero, classify("sum payments", err)
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal, nil
}
