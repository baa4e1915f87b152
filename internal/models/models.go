package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Record status values shared with the CRM.
const (
	JournalStatusPosted = "posted"

	InvoiceStatusDraft   = "draft"
	InvoiceStatusPaid    = "paid"
	InvoiceStatusPartial = "partial"
	InvoiceStatusOverdue = "overdue"
	InvoiceStatusSent    = "sent"

	QuoteStatusDraft    = "draft"
	QuoteStatusSent     = "sent"
	QuoteStatusAccepted = "accepted"
	QuoteStatusRejected = "rejected"

	ItemTypeService = "service"
	ItemTypePart    = "part"

	PaymentProviderOffline = "offline"
	PaymentStatusCompleted = "completed"
	PaymentMethodOther     = "other"

	RoleAdmin       = "admin"
	RoleOfficeStaff = "office_staff"
)

// Tolerance is the amount below which a balance is considered settled.
var Tolerance = decimal.RequireFromString("0.01")

// ChartOfAccount is one account in the chart of accounts.
type ChartOfAccount struct {
	ID             int             `gorm:"primaryKey" json:"id"`
	AccountNumber  string          `gorm:"size:50" json:"account_number"`
	AccountName    string          `gorm:"size:191;not null" json:"account_name"`
	AccountType    string          `gorm:"size:50" json:"account_type"`
	CurrentBalance decimal.Decimal `gorm:"type:decimal(15,2);default:0" json:"current_balance"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ChartOfAccount) TableName() string { return "chart_of_accounts" }

// User is a CRM operator. Only the id and role are read by the importer.
type User struct {
	ID    int    `gorm:"primaryKey" json:"id"`
	Name  string `gorm:"size:191" json:"name"`
	Email string `gorm:"size:191" json:"email"`
	Role  string `gorm:"size:50;index" json:"role"`
}

// JournalEntry is a balanced set of postings identified by EntryNumber.
type JournalEntry struct {
	ID          int                `gorm:"primaryKey" json:"id"`
	EntryNumber string             `gorm:"size:191;uniqueIndex;not null" json:"entry_number"`
	EntryDate   time.Time          `gorm:"not null" json:"entry_date"`
	Description string             `gorm:"size:255" json:"description"`
	Status      string             `gorm:"size:20;not null" json:"status"`
	Memo        string             `gorm:"type:text" json:"memo"`
	CreatedBy   *int               `json:"created_by"`
	Lines       []JournalEntryLine `gorm:"foreignKey:JournalEntryID" json:"lines"`
	CreatedAt   time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

// JournalEntryLine posts a debit and/or credit against one account.
type JournalEntryLine struct {
	ID             int             `gorm:"primaryKey" json:"id"`
	JournalEntryID int             `gorm:"index;not null" json:"journal_entry_id"`
	AccountID      int             `gorm:"index;not null" json:"account_id"`
	Debit          decimal.Decimal `gorm:"type:decimal(15,2);default:0" json:"debit"`
	Credit         decimal.Decimal `gorm:"type:decimal(15,2);default:0" json:"credit"`
	Description    string          `gorm:"size:255" json:"description"`
	Reference      string          `gorm:"size:191" json:"reference"`
}

// Customer is a CRM customer.
type Customer struct {
	ID        int       `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:191;index;not null" json:"name"`
	Email     *string   `gorm:"size:191" json:"email"`
	Phone     *string   `gorm:"size:50" json:"phone"`
	Address   *string   `gorm:"size:255" json:"address"`
	City      *string   `gorm:"size:100" json:"city"`
	State     *string   `gorm:"size:100" json:"state"`
	Zip       *string   `gorm:"size:20" json:"zip"`
	Country   *string   `gorm:"size:100" json:"country"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Invoice is a customer invoice. Items are exclusively owned by the invoice.
type Invoice struct {
	ID            int             `gorm:"primaryKey" json:"id"`
	InvoiceNumber string          `gorm:"size:191;uniqueIndex;not null" json:"invoice_number"`
	CustomerID    int             `gorm:"index;not null" json:"customer_id"`
	Status        string          `gorm:"size:20" json:"status"`
	IssueDate     *time.Time      `gorm:"type:date" json:"issue_date"`
	DueDate       *time.Time      `gorm:"type:date" json:"due_date"`
	Subtotal      decimal.Decimal `gorm:"type:decimal(15,2);default:0" json:"subtotal"`
	TaxRate       decimal.Decimal `gorm:"type:decimal(8,4);default:0" json:"tax_rate"`
	TaxAmount     decimal.Decimal `gorm:"type:decimal(15,2);default:0" json:"tax_amount"`
	TaxName       *string         `gorm:"size:100" json:"tax_name"`
	Total         decimal.Decimal `gorm:"type:decimal(15,2);default:0" json:"total"`
	PaidAmount    decimal.Decimal `gorm:"type:decimal(15,2);default:0" json:"paid_amount"`
	Balance       decimal.Decimal `gorm:"type:decimal(15,2);default:0" json:"balance"`
	Notes         *string         `gorm:"type:text" json:"notes"`
	Items         []InvoiceItem   `gorm:"foreignKey:InvoiceID" json:"items"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// InvoiceItem is one line of an invoice.
type InvoiceItem struct {
	ID          int             `gorm:"primaryKey" json:"id"`
	InvoiceID   int             `gorm:"index;not null" json:"invoice_id"`
	ItemType    string          `gorm:"size:20" json:"item_type"`
	PartID      *int            `json:"part_id"`
	ServiceID   *int            `json:"service_id"`
	Description string          `gorm:"size:191" json:"description"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(15,2);default:0" json:"unit_price"`
	Discount    decimal.Decimal `gorm:"type:decimal(15,2);default:0" json:"discount"`
	Total       decimal.Decimal `gorm:"type:decimal(15,2);default:0" json:"total"`
	SortOrder   int             `json:"sort_order"`
}

// Quote is a customer estimate. Items are exclusively owned by the quote.
type Quote struct {
	ID             int             `gorm:"primaryKey" json:"id"`
	QuoteNumber    string          `gorm:"size:191;uniqueIndex;not null" json:"quote_number"`
	CustomerID     int             `gorm:"index;not null" json:"customer_id"`
	Status         string          `gorm:"size:20" json:"status"`
	ExpirationDate *time.Time      `gorm:"type:date" json:"expiration_date"`
	Subtotal       decimal.Decimal `gorm:"type:decimal(15,2);default:0" json:"subtotal"`
	TaxRate        decimal.Decimal `gorm:"type:decimal(8,4);default:0" json:"tax_rate"`
	TaxAmount      decimal.Decimal `gorm:"type:decimal(15,2);default:0" json:"tax_amount"`
	Total          decimal.Decimal `gorm:"type:decimal(15,2);default:0" json:"total"`
	Notes          *string         `gorm:"type:text" json:"notes"`
	Items          []QuoteItem     `gorm:"foreignKey:QuoteID" json:"items"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// QuoteItem is one line of a quote.
type QuoteItem struct {
	ID          int             `gorm:"primaryKey" json:"id"`
	QuoteID     int             `gorm:"index;not null" json:"quote_id"`
	ItemType    string          `gorm:"size:20" json:"item_type"`
	Description string          `gorm:"size:191" json:"description"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(15,2);default:0" json:"unit_price"`
	Discount    decimal.Decimal `gorm:"type:decimal(15,2);default:0" json:"discount"`
	Total       decimal.Decimal `gorm:"type:decimal(15,2);default:0" json:"total"`
	SortOrder   int             `json:"sort_order"`
}

// Payment is a payment applied to a single invoice.
type Payment struct {
	ID                    int             `gorm:"primaryKey" json:"id"`
	InvoiceID             int             `gorm:"index;not null" json:"invoice_id"`
	PaymentMethodID       *int            `json:"payment_method_id"`
	PaymentProvider       string          `gorm:"size:50" json:"payment_provider"`
	ProviderTransactionID string          `gorm:"size:191;index" json:"provider_transaction_id"`
	Amount                decimal.Decimal `gorm:"type:decimal(10,2)" json:"amount"`
	Status                string          `gorm:"size:20" json:"status"`
	PaymentMethodType     string          `gorm:"size:50" json:"payment_method_type"`
	Notes                 string          `gorm:"type:text" json:"notes"`
	ProcessedAt           time.Time       `json:"processed_at"`
	CreatedAt             time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// AllModels lists every table the importer touches, for migrations in tests.
func AllModels() []interface{} {
	return []interface{}{
		&ChartOfAccount{}, &User{}, &JournalEntry{}, &JournalEntryLine{},
		&Customer{}, &Invoice{}, &InvoiceItem{}, &Quote{}, &QuoteItem{}, &Payment{},
	}
}

// PastDue reports whether due is strictly before now.
func PastDue(due *time.Time, now time.Time) bool {
	return due != nil && now.After(*due)
}

// StatusForBalance derives the status of an invoice reconstructed from
// summary data.
func StatusForBalance(due *time.Time, balance decimal.Decimal, now time.Time) string {
	if balance.LessThanOrEqual(Tolerance) {
		return InvoiceStatusPaid
	}
	if PastDue(due, now) {
		return InvoiceStatusOverdue
	}
	return InvoiceStatusSent
}

// ApplyPaid recomputes paid amount, balance and status from the total of
// completed payments.
func (inv *Invoice) ApplyPaid(paid decimal.Decimal, now time.Time) {
	paid = paid.Round(2)
	balance := inv.Total.Sub(paid).Round(2)
	if balance.IsNegative() {
		balance = decimal.Zero
	}

	pastDue := PastDue(inv.DueDate, now)
	switch {
	case balance.LessThanOrEqual(Tolerance):
		inv.Status = InvoiceStatusPaid
		balance = decimal.Zero
	case paid.GreaterThan(Tolerance):
		if pastDue {
			inv.Status = InvoiceStatusOverdue
		} else {
			inv.Status = InvoiceStatusPartial
		}
	case pastDue:
		inv.Status = InvoiceStatusOverdue
	default:
		inv.Status = InvoiceStatusSent
	}

	inv.PaidAmount = paid
	inv.Balance = balance
}
