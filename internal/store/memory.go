package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"crm-import-service/internal/models"
	"crm-import-service/pkg/errors"
)

// MemoryStore is an in-process Store. Transactions snapshot the whole state
// and restore it when the callback fails.
type MemoryStore struct {
	mu    sync.Mutex
	state memoryState
	inTx  bool
}

type memoryState struct {
	accounts  []models.ChartOfAccount
	users     []models.User
	entries   []models.JournalEntry
	customers []models.Customer
	invoices  []models.Invoice
	items     []models.InvoiceItem
	quotes    []models.Quote
	payments  []models.Payment
	nextID    int
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: memoryState{nextID: 1}}
}

func (s memoryState) clone() memoryState {
	out := s
	out.accounts = append([]models.ChartOfAccount(nil), s.accounts...)
	out.users = append([]models.User(nil), s.users...)
	out.entries = make([]models.JournalEntry, len(s.entries))
	for i, e := range s.entries {
		e.Lines = append([]models.JournalEntryLine(nil), e.Lines...)
		out.entries[i] = e
	}
	out.customers = append([]models.Customer(nil), s.customers...)
	out.invoices = append([]models.Invoice(nil), s.invoices...)
	out.items = append([]models.InvoiceItem(nil), s.items...)
	out.quotes = make([]models.Quote, len(s.quotes))
	for i, q := range s.quotes {
		q.Items = append([]models.QuoteItem(nil), q.Items...)
		out.quotes[i] = q
	}
	out.payments = append([]models.Payment(nil), s.payments...)
	return out
}

func (s *MemoryStore) id() int {
	id := s.state.nextID
	s.state.nextID++
	return id
}

// Seed helpers populate fixtures and assign ids where missing.

func (s *MemoryStore) AddAccount(account models.ChartOfAccount) models.ChartOfAccount {
	s.mu.Lock()
	defer s.mu.Unlock()
	if account.ID == 0 {
		account.ID = s.id()
	}
	s.state.accounts = append(s.state.accounts, account)
	return account
}

func (s *MemoryStore) AddUser(user models.User) models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user.ID == 0 {
		user.ID = s.id()
	}
	s.state.users = append(s.state.users, user)
	return user
}

func (s *MemoryStore) AddCustomer(customer models.Customer) models.Customer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if customer.ID == 0 {
		customer.ID = s.id()
	}
	s.state.customers = append(s.state.customers, customer)
	return customer
}

func (s *MemoryStore) AddInvoice(invoice models.Invoice) models.Invoice {
	s.mu.Lock()
	defer s.mu.Unlock()
	if invoice.ID == 0 {
		invoice.ID = s.id()
	}
	if invoice.CreatedAt.IsZero() {
		invoice.CreatedAt = time.Now()
	}
	s.state.invoices = append(s.state.invoices, invoice)
	return invoice
}

func (s *MemoryStore) AddPayment(payment models.Payment) models.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	if payment.ID == 0 {
		payment.ID = s.id()
	}
	s.state.payments = append(s.state.payments, payment)
	return payment
}

// Snapshot accessors for assertions.

func (s *MemoryStore) Accounts() []models.ChartOfAccount {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ChartOfAccount(nil), s.state.accounts...)
}

func (s *MemoryStore) JournalEntries() []models.JournalEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone().entries
}

func (s *MemoryStore) Customers() []models.Customer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Customer(nil), s.state.customers...)
}

func (s *MemoryStore) Invoices() []models.Invoice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Invoice(nil), s.state.invoices...)
}

func (s *MemoryStore) InvoiceItems(invoiceID int) []models.InvoiceItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []models.InvoiceItem
	for _, item := range s.state.items {
		if item.InvoiceID == invoiceID {
			items = append(items, item)
		}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].SortOrder < items[j].SortOrder })
	return items
}

func (s *MemoryStore) Quotes() []models.Quote {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone().quotes
}

func (s *MemoryStore) Payments() []models.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Payment(nil), s.state.payments...)
}

// Transaction runs fn against the same store, restoring the prior state if fn
// fails. Nested calls join the outer transaction.
func (s *MemoryStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	s.mu.Lock()
	if s.inTx {
		s.mu.Unlock()
		return fn(s)
	}
	saved := s.state.clone()
	s.inTx = true
	s.mu.Unlock()

	err := ctx.Err()
	if err == nil {
		err = fn(s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inTx = false
	if err != nil {
		s.state = saved
	}
	return err
}

func (s *MemoryStore) ListAccounts(_ context.Context) ([]models.ChartOfAccount, error) {
	return s.Accounts(), nil
}

func (s *MemoryStore) UpdateAccountBalance(_ context.Context, accountID int, balance decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.state.accounts {
		if s.state.accounts[i].ID == accountID {
			s.state.accounts[i].CurrentBalance = balance
			return nil
		}
	}
	return errors.PersistenceFailure("update account balance",
		fmt.Errorf("account %d not found", accountID))
}

func (s *MemoryStore) ResolveSystemUserID(_ context.Context) (*int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var staff, first *int
	for i := range s.state.users {
		user := s.state.users[i]
		if first == nil || user.ID < *first {
			first = &s.state.users[i].ID
		}
		if user.Role == models.RoleAdmin || user.Role == models.RoleOfficeStaff {
			if staff == nil || user.ID < *staff {
				staff = &s.state.users[i].ID
			}
		}
	}
	if staff != nil {
		id := *staff
		return &id, nil
	}
	if first != nil {
		id := *first
		return &id, nil
	}
	return nil, nil
}

func (s *MemoryStore) JournalEntryExists(_ context.Context, entryNumber string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.state.entries {
		if e.EntryNumber == entryNumber {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) CreateJournalEntry(_ context.Context, entry *models.JournalEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.state.entries {
		if e.EntryNumber == entry.EntryNumber {
			err := errors.PersistenceFailure("create journal entry",
				fmt.Errorf("duplicate entry number %s", entry.EntryNumber))
			err.Code = errors.CodeDuplicateKey
			return err
		}
	}
	entry.ID = s.id()
	for i := range entry.Lines {
		entry.Lines[i].ID = s.id()
		entry.Lines[i].JournalEntryID = entry.ID
	}
	stored := *entry
	stored.Lines = append([]models.JournalEntryLine(nil), entry.Lines...)
	s.state.entries = append(s.state.entries, stored)
	return nil
}

func (s *MemoryStore) FindCustomerByName(_ context.Context, name string) (*models.Customer, error) {
	return s.findCustomer(func(c models.Customer) bool { return c.Name == name }), nil
}

func (s *MemoryStore) FindCustomerByNameFold(_ context.Context, name string) (*models.Customer, error) {
	return s.findCustomer(func(c models.Customer) bool { return strings.EqualFold(c.Name, name) }), nil
}

func (s *MemoryStore) FindCustomerByEmail(_ context.Context, email string) (*models.Customer, error) {
	return s.findCustomer(func(c models.Customer) bool {
		return c.Email != nil && strings.EqualFold(*c.Email, email)
	}), nil
}

func (s *MemoryStore) findCustomer(match func(models.Customer) bool) *models.Customer {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.state.customers {
		if match(c) {
			found := c
			return &found
		}
	}
	return nil
}

func (s *MemoryStore) CreateCustomer(_ context.Context, customer *models.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	customer.ID = s.id()
	s.state.customers = append(s.state.customers, *customer)
	return nil
}

func (s *MemoryStore) FindInvoiceByNumber(_ context.Context, number string) (*models.Invoice, error) {
	return s.findInvoice(func(inv models.Invoice) bool { return inv.InvoiceNumber == number }), nil
}

func (s *MemoryStore) FindInvoiceByID(_ context.Context, id int) (*models.Invoice, error) {
	return s.findInvoice(func(inv models.Invoice) bool { return inv.ID == id }), nil
}

func (s *MemoryStore) findInvoice(match func(models.Invoice) bool) *models.Invoice {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inv := range s.state.invoices {
		if match(inv) {
			found := inv
			found.Items = nil
			return &found
		}
	}
	return nil
}

func (s *MemoryStore) CreateInvoice(_ context.Context, invoice *models.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inv := range s.state.invoices {
		if inv.InvoiceNumber == invoice.InvoiceNumber {
			err := errors.PersistenceFailure("create invoice",
				fmt.Errorf("duplicate invoice number %s", invoice.InvoiceNumber))
			err.Code = errors.CodeDuplicateKey
			return err
		}
	}
	invoice.ID = s.id()
	if invoice.CreatedAt.IsZero() {
		invoice.CreatedAt = time.Now()
	}
	stored := *invoice
	stored.Items = nil
	s.state.invoices = append(s.state.invoices, stored)
	return nil
}

func (s *MemoryStore) ReplaceInvoiceItems(_ context.Context, invoiceID int, items []models.InvoiceItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.state.items[:0:0]
	for _, item := range s.state.items {
		if item.InvoiceID != invoiceID {
			kept = append(kept, item)
		}
	}
	for i := range items {
		items[i].ID = s.id()
		items[i].InvoiceID = invoiceID
		kept = append(kept, items[i])
	}
	s.state.items = kept
	return nil
}

func (s *MemoryStore) SaveInvoiceTotals(_ context.Context, invoice *models.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.state.invoices {
		stored := &s.state.invoices[i]
		if stored.ID != invoice.ID {
			continue
		}
		stored.Subtotal = invoice.Subtotal
		stored.TaxAmount = invoice.TaxAmount
		stored.TaxRate = invoice.TaxRate
		stored.Total = invoice.Total
		stored.PaidAmount = invoice.PaidAmount
		stored.Balance = invoice.Balance
		stored.Status = invoice.Status
		return nil
	}
	return errors.PersistenceFailure("update invoice totals",
		fmt.Errorf("invoice %d not found", invoice.ID))
}

func (s *MemoryStore) ListCustomerInvoiceIDs(_ context.Context, customerID int) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var invoices []models.Invoice
	for _, inv := range s.state.invoices {
		if inv.CustomerID == customerID {
			invoices = append(invoices, inv)
		}
	}
	sort.SliceStable(invoices, func(i, j int) bool {
		a, b := invoices[i], invoices[j]
		if !sameDate(a.IssueDate, b.IssueDate) {
			return dateBefore(a.IssueDate, b.IssueDate)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	ids := make([]int, len(invoices))
	for i, inv := range invoices {
		ids[i] = inv.ID
	}
	return ids, nil
}

// dateBefore orders nil dates first, as SQL does for ascending NULLs in MySQL.
func dateBefore(a, b *time.Time) bool {
	if a == nil {
		return b != nil
	}
	if b == nil {
		return false
	}
	return a.Before(*b)
}

func sameDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func (s *MemoryStore) FindQuoteByNumber(_ context.Context, number string) (*models.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, q := range s.state.quotes {
		if q.QuoteNumber == number {
			found := q
			found.Items = nil
			return &found, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) CreateQuote(_ context.Context, quote *models.Quote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, q := range s.state.quotes {
		if q.QuoteNumber == quote.QuoteNumber {
			err := errors.PersistenceFailure("create quote",
				fmt.Errorf("duplicate quote number %s", quote.QuoteNumber))
			err.Code = errors.CodeDuplicateKey
			return err
		}
	}
	quote.ID = s.id()
	for i := range quote.Items {
		quote.Items[i].ID = s.id()
		quote.Items[i].QuoteID = quote.ID
	}
	stored := *quote
	stored.Items = append([]models.QuoteItem(nil), quote.Items...)
	s.state.quotes = append(s.state.quotes, stored)
	return nil
}

func (s *MemoryStore) PaymentReferenceExists(_ context.Context, invoiceID int, reference string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.state.payments {
		if p.InvoiceID == invoiceID && p.ProviderTransactionID == reference {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) PaymentExistsOnDate(_ context.Context, invoiceID int, day time.Time, amount decimal.Decimal) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	start, end := dayBounds(day)
	for _, p := range s.state.payments {
		if p.InvoiceID != invoiceID || !p.Amount.Equal(amount) {
			continue
		}
		if !p.ProcessedAt.Before(start) && p.ProcessedAt.Before(end) {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) CreatePayment(_ context.Context, payment *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	payment.ID = s.id()
	s.state.payments = append(s.state.payments, *payment)
	return nil
}

func (s *MemoryStore) SumCompletedPayments(_ context.Context, invoiceID int) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := decimal.Zero
	for _, p := range s.state.payments {
		if p.InvoiceID == invoiceID && p.Status == models.PaymentStatusCompleted {
			total = total.Add(p.Amount)
		}
	}
	return total, nil
}
