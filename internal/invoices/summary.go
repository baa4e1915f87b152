package invoices

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"crm-import-service/internal/models"
	"crm-import-service/internal/parsers"
	"crm-import-service/pkg/errors"
	"crm-import-service/pkg/logger"
)

// Summary is one row of a QuickBooks invoice list report.
type Summary struct {
	Customer    string
	Date        *time.Time
	DueDate     *time.Time
	Amount      decimal.Decimal
	OpenBalance decimal.Decimal
}

// LoadSummaries reads an invoice list report keyed by formatted invoice
// number. Later rows for the same number replace earlier ones.
func LoadSummaries(ctx context.Context, path string, amounts parsers.AmountParser, log logger.Logger) (map[string]Summary, error) {
	reader, err := parsers.OpenWithOptions(path, parsers.Options{Logger: log})
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	lookup := make(map[string]Summary)
	err = reader.Each(func(row parsers.Row) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		num, ok := row.Get("num")
		if !ok {
			return nil
		}

		amount, err := amounts.Amount(row.Value("amount"))
		if err != nil {
			return errors.AtLine(err, path, row.Line)
		}
		open, err := amounts.Amount(row.Value("open_balance"))
		if err != nil {
			return errors.AtLine(err, path, row.Line)
		}

		lookup[FormatInvoiceNumber(num)] = Summary{
			Customer:    strings.TrimSpace(row.Value("customer")),
			Date:        parsers.ParseDatePtr(row.Value("date")),
			DueDate:     parsers.ParseDatePtr(row.Value("due_date")),
			Amount:      amount,
			OpenBalance: open,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lookup, nil
}

// Invoice builds the header of a missing invoice from the summary. The due
// date falls back to the issue date. Paid amount is what the open balance
// says has been collected, never negative.
func (s Summary) Invoice(number string, customerID int, now time.Time) *models.Invoice {
	due := s.DueDate
	if due == nil {
		due = s.Date
	}

	paid := s.Amount.Sub(s.OpenBalance)
	if paid.IsNegative() {
		paid = decimal.Zero
	}
	balance := s.OpenBalance
	if !balance.IsPositive() {
		balance = s.Amount.Sub(paid)
		if balance.IsNegative() {
			balance = decimal.Zero
		}
	}

	return &models.Invoice{
		InvoiceNumber: number,
		CustomerID:    customerID,
		IssueDate:     s.Date,
		DueDate:       due,
		Subtotal:      s.Amount,
		TaxAmount:     decimal.Zero,
		TaxRate:       decimal.Zero,
		Total:         s.Amount,
		PaidAmount:    paid,
		Balance:       balance,
		Status:        models.StatusForBalance(due, balance, now),
	}
}
