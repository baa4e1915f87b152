// Package payments applies QuickBooks customer payments to open invoices.
//
// The customer transaction report lists each customer as a section header
// followed by that customer's invoices and payments. Invoice rows queue the
// invoice for the customer; payment rows are spread over the queue oldest
// first, creating one CRM payment per invoice touched.
package payments

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"crm-import-service/internal/invoices"
	"crm-import-service/internal/models"
	"crm-import-service/internal/parsers"
	"crm-import-service/internal/reporter"
	"crm-import-service/internal/resolver"
	"crm-import-service/internal/store"
	"crm-import-service/pkg/errors"
	"crm-import-service/pkg/logger"
)

// ReferencePrefix marks payments created by QuickBooks imports.
const ReferencePrefix = "QB-PMT-"

// Options configures an Importer.
type Options struct {
	DryRun  bool
	Amounts parsers.AmountParser
	Sink    reporter.Sink
	Logger  logger.Logger
	Now     func() time.Time
}

// Stats counts the outcome of a payment import.
type Stats struct {
	Created int
	Skipped int
}

// Importer allocates payments FIFO across each customer's invoices.
type Importer struct {
	store     store.Store
	customers *resolver.CustomerResolver
	opts      Options
	logger    logger.Logger

	queues map[int][]int

	// dry run only: invoices as they would look after this run's payments,
	// and the payments that would have been written
	shadow  map[int]*models.Invoice
	pending []models.Payment
}

// NewImporter creates an importer writing through s.
func NewImporter(s store.Store, opts Options) *Importer {
	if opts.Logger == nil {
		opts.Logger = logger.GetGlobalLogger()
	}
	if opts.Sink == nil {
		opts.Sink = reporter.Discard
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Importer{
		store:     s,
		customers: resolver.NewCustomerResolver(s),
		opts:      opts,
		logger:    opts.Logger.WithComponent("payments").WithField("dry_run", opts.DryRun),
		queues:    make(map[int][]int),
		shadow:    make(map[int]*models.Invoice),
	}
}

type section struct {
	name     string
	customer *models.Customer
}

// Import reads the customer transaction report at path.
func (im *Importer) Import(ctx context.Context, path string) (Stats, error) {
	var stats Stats

	reader, err := parsers.OpenWithOptions(path, parsers.Options{Logger: im.opts.Logger})
	if err != nil {
		return stats, err
	}
	defer reader.Close()

	progress := logger.NewProgressTracker(logger.ProgressConfig{Operation: "payment import", Logger: im.logger})

	var current section
	err = reader.Each(func(row parsers.Row) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		progress.Increment()

		if name, _ := row.Cell(0); name != "" && !strings.HasPrefix(strings.ToLower(name), "total") {
			customer, err := im.customers.Resolve(ctx, name)
			if err != nil {
				return err
			}
			current = section{name: name, customer: customer}
		}

		kind := strings.ToLower(row.Value("type"))
		if kind == "" {
			return nil
		}
		if current.name == "" {
			im.report(row.Line, errors.UnresolvedEntity("customer", "").
				WithContext("type", kind), fmt.Sprintf("unable to determine customer context for %s entry", kind))
			stats.Skipped++
			return nil
		}

		var rowErr error
		switch kind {
		case "invoice":
			rowErr = im.queueInvoice(ctx, row, current, &stats)
		case "payment":
			rowErr = im.applyPayment(ctx, row, current, &stats)
		}
		return errors.AtLine(rowErr, path, row.Line)
	})
	if err != nil {
		return stats, err
	}

	progress.Complete()
	im.logger.WithFields(logger.Fields{
		"created": stats.Created,
		"skipped": stats.Skipped,
	}).Info("Payment import finished")
	return stats, nil
}

func (im *Importer) queueInvoice(ctx context.Context, row parsers.Row, current section, stats *Stats) error {
	num, ok := row.Get("num")
	if !ok {
		return nil
	}

	number := invoices.FormatInvoiceNumber(num)
	invoice, err := im.store.FindInvoiceByNumber(ctx, number)
	if err != nil {
		return err
	}
	if invoice == nil {
		im.report(row.Line, errors.MissingParentRecord("invoice", number, ""),
			fmt.Sprintf("invoice %s not found for customer %s", num, current.name))
		stats.Skipped++
		return nil
	}

	queue := im.queues[invoice.CustomerID]
	for _, id := range queue {
		if id == invoice.ID {
			return nil
		}
	}
	im.queues[invoice.CustomerID] = append(queue, invoice.ID)
	return nil
}

func (im *Importer) applyPayment(ctx context.Context, row parsers.Row, current section, stats *Stats) error {
	if current.customer == nil {
		im.report(row.Line, errors.UnresolvedEntity("customer", current.name),
			fmt.Sprintf("customer %s was not found in the CRM; payment skipped", current.name))
		stats.Skipped++
		return nil
	}

	raw, ok := row.Get("debit")
	if !ok {
		raw = row.Value("amount")
	}
	amount, err := im.opts.Amounts.Amount(raw)
	if err != nil {
		return err
	}
	amount = amount.Abs()
	if !amount.IsPositive() {
		stats.Skipped++
		return nil
	}

	customerID := current.customer.ID
	queue, ok := im.queues[customerID]
	if !ok {
		queue, err = im.store.ListCustomerInvoiceIDs(ctx, customerID)
		if err != nil {
			return err
		}
	}

	processedAt, ok := parsers.ParseDate(row.Value("date"))
	if !ok {
		processedAt = im.opts.Now()
	}
	number := row.Value("num")
	memo := row.Value("memo")
	base := Reference(current.name, number, processedAt, amount, row.Line)

	remaining := amount
	part := 1
	for remaining.GreaterThan(models.Tolerance) && len(queue) > 0 {
		invoice, err := im.invoice(ctx, queue[0])
		if err != nil {
			return err
		}
		if invoice == nil {
			queue = queue[1:]
			continue
		}

		outstanding := decimal.Max(invoice.Balance, decimal.Zero)
		if outstanding.LessThanOrEqual(models.Tolerance) {
			queue = queue[1:]
			continue
		}
		apply := decimal.Min(outstanding, remaining)

		reference := partReference(base, part)
		for {
			exists, err := im.referenceExists(ctx, invoice.ID, reference)
			if err != nil {
				return err
			}
			if !exists {
				break
			}
			part++
			reference = partReference(base, part)
		}

		duplicate, err := im.existsOnDate(ctx, invoice.ID, processedAt, apply)
		if err != nil {
			return err
		}
		if duplicate {
			remaining = remaining.Sub(apply)
			if apply.GreaterThanOrEqual(outstanding.Sub(models.Tolerance)) {
				queue = queue[1:]
			}
			continue
		}

		payment := models.Payment{
			InvoiceID:             invoice.ID,
			PaymentProvider:       models.PaymentProviderOffline,
			ProviderTransactionID: reference,
			Amount:                apply,
			Status:                models.PaymentStatusCompleted,
			PaymentMethodType:     models.PaymentMethodOther,
			Notes:                 notes(number, memo),
			ProcessedAt:           processedAt,
		}
		if err := im.record(ctx, invoice, payment); err != nil {
			return err
		}

		im.logger.WithFields(logger.Fields{
			"invoice_id": invoice.ID,
			"reference":  reference,
			"amount":     apply.StringFixed(2),
		}).Debug("Payment applied")
		stats.Created++
		remaining = remaining.Sub(apply)
		part++

		if invoice.Balance.LessThanOrEqual(models.Tolerance) {
			queue = queue[1:]
		}
	}
	im.queues[customerID] = queue

	if remaining.GreaterThan(models.Tolerance) {
		im.report(row.Line, errors.MissingParentRecord("invoice", current.name, ""),
			fmt.Sprintf("could not apply $%s of payment for %s", remaining.StringFixed(2), current.name))
		stats.Skipped++
	}
	return nil
}

// invoice returns the current state of an invoice, including payments this
// dry run would have applied.
func (im *Importer) invoice(ctx context.Context, id int) (*models.Invoice, error) {
	if shadow, ok := im.shadow[id]; ok {
		return shadow, nil
	}
	invoice, err := im.store.FindInvoiceByID(ctx, id)
	if err != nil || invoice == nil {
		return invoice, err
	}
	if im.opts.DryRun {
		im.shadow[id] = invoice
	}
	return invoice, nil
}

// record writes the payment and recomputes the invoice's paid amount from
// every completed payment against it.
func (im *Importer) record(ctx context.Context, invoice *models.Invoice, payment models.Payment) error {
	if im.opts.DryRun {
		im.pending = append(im.pending, payment)
	} else if err := im.store.CreatePayment(ctx, &payment); err != nil {
		return err
	}

	paid, err := im.store.SumCompletedPayments(ctx, invoice.ID)
	if err != nil {
		return err
	}
	for _, p := range im.pending {
		if p.InvoiceID == invoice.ID {
			paid = paid.Add(p.Amount)
		}
	}

	invoice.ApplyPaid(paid, im.opts.Now())
	if im.opts.DryRun {
		return nil
	}
	return im.store.SaveInvoiceTotals(ctx, invoice)
}

func (im *Importer) referenceExists(ctx context.Context, invoiceID int, reference string) (bool, error) {
	for _, p := range im.pending {
		if p.InvoiceID == invoiceID && p.ProviderTransactionID == reference {
			return true, nil
		}
	}
	return im.store.PaymentReferenceExists(ctx, invoiceID, reference)
}

func (im *Importer) existsOnDate(ctx context.Context, invoiceID int, day time.Time, amount decimal.Decimal) (bool, error) {
	for _, p := range im.pending {
		if p.InvoiceID == invoiceID && p.Amount.Equal(amount) && sameDay(p.ProcessedAt, day) {
			return true, nil
		}
	}
	return im.store.PaymentExistsOnDate(ctx, invoiceID, day, amount)
}

func (im *Importer) report(line int, err *errors.ImportError, message string) {
	err.Message = fmt.Sprintf("row %d: %s", line, message)
	im.opts.Sink.Report(err.WithContext("line", line))
}

// Reference builds the provider transaction id of an imported payment from
// the payment number, else the customer name, else the row and amount.
func Reference(customer, number string, processedAt time.Time, amount decimal.Decimal, line int) string {
	var base string
	if number != "" {
		base = parsers.Slug(number)
	} else {
		base = parsers.Slug(customer)
	}
	if base == "" {
		base = fmt.Sprintf("payment-%d-%s", line, strings.Replace(amount.StringFixed(2), ".", "", 1))
	}
	return ReferencePrefix + strings.ToUpper(base) + "-" + processedAt.Format("20060102")
}

func partReference(base string, part int) string {
	if part <= 1 {
		return base
	}
	return base + "-PART" + strconv.Itoa(part)
}

func notes(number, memo string) string {
	segments := []string{"Imported from QuickBooks payment data"}
	if number != "" {
		segments = append(segments, "QuickBooks payment #: "+number)
	}
	if memo != "" {
		segments = append(segments, "Memo: "+memo)
	}
	return strings.Join(segments, "\n")
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
