package invoices

import (
	"context"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"crm-import-service/internal/models"
	"crm-import-service/internal/parsers"
	"crm-import-service/internal/reporter"
	"crm-import-service/internal/resolver"
	"crm-import-service/internal/store"
	"crm-import-service/pkg/errors"
	"crm-import-service/pkg/logger"
)

const maxDescriptionLength = 191

// Options configures a Backfiller.
type Options struct {
	DryRun bool
	// Only restricts the run to these raw QuickBooks invoice numbers.
	Only []string
	// Summaries rebuild invoices missing from the CRM, keyed by formatted number.
	Summaries map[string]Summary
	Amounts   parsers.AmountParser
	Sink      reporter.Sink
	Logger    logger.Logger
	Now       func() time.Time
}

// Stats counts the outcome of a backfill run.
type Stats struct {
	Processed             int
	Created               int
	Updated               int
	SkippedMissingInvoice int
	ZeroAmount            int
}

// Line is one detail row of an invoice.
type Line struct {
	Item      string
	Memo      string
	Quantity  *decimal.Decimal
	UnitPrice decimal.Decimal
	Amount    decimal.Decimal
}

// Group holds the detail rows of one invoice in report order.
type Group struct {
	Number string
	Lines  []Line
}

// Backfiller replaces invoice items with the lines of a sales detail report.
type Backfiller struct {
	store     store.Store
	customers *resolver.CustomerResolver
	opts      Options
	logger    logger.Logger
}

// NewBackfiller creates a backfiller writing through s.
func NewBackfiller(s store.Store, opts Options) *Backfiller {
	if opts.Logger == nil {
		opts.Logger = logger.GetGlobalLogger()
	}
	if opts.Sink == nil {
		opts.Sink = reporter.Discard
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Backfiller{
		store:     s,
		customers: resolver.NewCustomerResolver(s),
		opts:      opts,
		logger:    opts.Logger.WithComponent("invoices").WithField("dry_run", opts.DryRun),
	}
}

// Backfill reads the sales detail report at path and applies every invoice
// group in the order the invoices first appear.
func (b *Backfiller) Backfill(ctx context.Context, path string) (Stats, error) {
	var stats Stats

	groups, err := b.ReadGroups(ctx, path)
	if err != nil {
		return stats, err
	}
	if len(groups) == 0 {
		b.logger.Warn("No invoice rows were found in the provided export")
		return stats, nil
	}

	progress := logger.NewProgressTracker(logger.ProgressConfig{Operation: "invoice backfill", Logger: b.logger})
	for _, group := range groups {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		progress.Increment()
		if err := b.apply(ctx, group, &stats); err != nil {
			return stats, err
		}
	}
	progress.Complete()

	b.logger.WithFields(logger.Fields{
		"processed":               stats.Processed,
		"created":                 stats.Created,
		"updated":                 stats.Updated,
		"skipped_missing_invoice": stats.SkippedMissingInvoice,
		"zero_amount":             stats.ZeroAmount,
	}).Info("Backfill finished")
	return stats, nil
}

// ReadGroups groups the invoice rows of the report by formatted number,
// honoring Options.Only.
func (b *Backfiller) ReadGroups(ctx context.Context, path string) ([]*Group, error) {
	reader, err := parsers.OpenWithOptions(path, parsers.Options{Logger: b.opts.Logger})
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	only := make(map[string]bool)
	for _, number := range FormatInvoiceNumbers(b.opts.Only) {
		only[number] = true
	}

	index := make(map[string]*Group)
	var groups []*Group
	err = reader.Each(func(row parsers.Row) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !strings.EqualFold(row.Value("type"), "invoice") {
			return nil
		}
		num, ok := row.Get("num")
		if !ok {
			return nil
		}
		number := FormatInvoiceNumber(num)
		if len(only) > 0 && !only[number] {
			return nil
		}

		line, err := b.line(row)
		if err != nil {
			return errors.AtLine(err, path, row.Line)
		}

		group, ok := index[number]
		if !ok {
			group = &Group{Number: number}
			index[number] = group
			groups = append(groups, group)
		}
		group.Lines = append(group.Lines, line)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return groups, nil
}

func (b *Backfiller) line(row parsers.Row) (Line, error) {
	quantity, err := b.opts.Amounts.Quantity(row.Value("qty"))
	if err != nil {
		return Line{}, err
	}
	unitPrice, err := b.opts.Amounts.Amount(row.Value("sales_price"))
	if err != nil {
		return Line{}, err
	}
	amount, err := b.opts.Amounts.Amount(row.Value("amount"))
	if err != nil {
		return Line{}, err
	}
	return Line{
		Item:      row.Value("item"),
		Memo:      row.Value("memo"),
		Quantity:  quantity,
		UnitPrice: unitPrice,
		Amount:    amount,
	}, nil
}

func (b *Backfiller) apply(ctx context.Context, group *Group, stats *Stats) error {
	log := b.logger.WithField("invoice_number", group.Number)

	invoice, err := b.store.FindInvoiceByNumber(ctx, group.Number)
	if err != nil {
		return err
	}
	if invoice == nil {
		summary, ok := b.opts.Summaries[group.Number]
		if !ok {
			b.opts.Sink.Report(errors.MissingParentRecord("invoice", group.Number, "invoice not found and no summary data available"))
			stats.SkippedMissingInvoice++
			return nil
		}
		invoice, err = b.createFromSummary(ctx, group.Number, summary)
		if err != nil {
			return err
		}
		if invoice == nil {
			b.opts.Sink.Report(errors.MissingParentRecord("invoice", group.Number, "unable to create invoice from summary data"))
			stats.SkippedMissingInvoice++
			return nil
		}
		log.Info("Created invoice from summary data")
		stats.Created++
	}

	lineTotal := LineTotal(group.Lines)
	if !lineTotal.IsPositive() {
		log.Warn("Detail rows total 0.00; importing items without adjusting recorded totals")
		stats.ZeroAmount++
	}

	items := BuildItems(group.Lines)
	if !b.opts.DryRun {
		if err := b.store.ReplaceInvoiceItems(ctx, invoice.ID, items); err != nil {
			return err
		}
	}

	totals, changed := Reconcile(invoice, lineTotal)
	if changed {
		totals.Apply(invoice)
		if !b.opts.DryRun {
			if err := b.store.SaveInvoiceTotals(ctx, invoice); err != nil {
				return err
			}
		}
		stats.Updated++
	}

	log.WithFields(logger.Fields{
		"items":      len(items),
		"line_total": lineTotal.StringFixed(2),
		"updated":    changed,
	}).Debug("Invoice items replaced")
	stats.Processed++
	return nil
}

// createFromSummary returns nil when the summary names no customer. In dry
// run nothing is written and the returned invoice has no id.
func (b *Backfiller) createFromSummary(ctx context.Context, number string, summary Summary) (*models.Invoice, error) {
	if summary.Customer == "" {
		return nil, nil
	}

	customer, created, err := b.customers.FindOrCreate(ctx, summary.Customer, b.opts.DryRun)
	if err != nil {
		return nil, err
	}
	if created {
		b.logger.WithField("customer", summary.Customer).Debug("Created customer from summary data")
	}

	invoice := summary.Invoice(number, customer.ID, b.opts.Now())
	if b.opts.DryRun {
		return invoice, nil
	}
	if err := b.store.CreateInvoice(ctx, invoice); err != nil {
		return nil, err
	}
	return invoice, nil
}

// LineTotal sums the line amounts, rounded to cents.
func LineTotal(lines []Line) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.Amount)
	}
	return total.Round(2)
}

// BuildItems converts detail lines to invoice items with sort order from 1.
// A missing or non-positive quantity becomes 1, and a zero unit price is
// derived from the amount.
func BuildItems(lines []Line) []models.InvoiceItem {
	items := make([]models.InvoiceItem, 0, len(lines))
	for i, line := range lines {
		quantity := decimal.NewFromInt(1)
		if line.Quantity != nil && line.Quantity.IsPositive() {
			quantity = *line.Quantity
		}

		unitPrice := line.UnitPrice
		if unitPrice.IsZero() {
			unitPrice = line.Amount.Div(quantity)
		}

		sortOrder := i + 1
		items = append(items, models.InvoiceItem{
			ItemType:    models.ItemTypeService,
			Description: Description(line.Item, line.Memo, sortOrder),
			Quantity:    int(quantity.Round(0).IntPart()),
			UnitPrice:   unitPrice.Round(2),
			Discount:    decimal.Zero,
			Total:       line.Amount.Round(2),
			SortOrder:   sortOrder,
		})
	}
	return items
}

// Description joins the non-blank item and memo with " - ", truncated to
// the column width. With neither present it names the line by position.
func Description(item, memo string, position int) string {
	var parts []string
	for _, value := range []string{item, memo} {
		if value = strings.TrimSpace(value); value != "" {
			parts = append(parts, value)
		}
	}
	if len(parts) == 0 {
		return "QuickBooks line item #" + strconv.Itoa(position)
	}

	description := strings.Join(parts, " - ")
	if utf8.RuneCountInString(description) > maxDescriptionLength {
		description = string([]rune(description)[:maxDescriptionLength])
	}
	return description
}
