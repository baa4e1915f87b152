// Package invoiceplane imports an InvoicePlane JSON export into the CRM.
//
// The export holds clients, quotes and invoices with their items. Load turns
// the raw JSON, whose values may be strings, numbers or null, into typed
// records in one pass. The Importer then maps every InvoicePlane client id
// to a CRM customer, matched by email, and creates the quotes and invoices
// that do not exist yet. Documents whose client cannot be mapped are
// reported and skipped.
package invoiceplane

import (
	"context"
	"fmt"
	"strings"
	"time"

	"crm-import-service/internal/parsers"
	"crm-import-service/internal/reporter"
	"crm-import-service/internal/store"
	"crm-import-service/pkg/errors"
	"crm-import-service/pkg/logger"
)

// Sections of an export that can be imported.
const (
	SectionCustomers = "customers"
	SectionQuotes    = "quotes"
	SectionInvoices  = "invoices"
)

// Sections lists every section in import order.
var Sections = []string{SectionCustomers, SectionQuotes, SectionInvoices}

// Options configures an Importer.
type Options struct {
	DryRun bool
	// Only limits the run to these sections; empty imports all of them.
	// Without customers, clients are only matched to existing customers.
	Only    []string
	Amounts parsers.AmountParser
	Sink    reporter.Sink
	Logger  logger.Logger
	Now     func() time.Time
}

// Stats counts the outcome of an InvoicePlane import.
type Stats struct {
	CustomersCreated int
	CustomersMatched int
	QuotesCreated    int
	QuotesSkipped    int
	InvoicesCreated  int
	InvoicesSkipped  int
	Items            int
	Unmapped         int
}

// Importer writes one export through a store.
type Importer struct {
	store  store.Store
	opts   Options
	logger logger.Logger

	// InvoicePlane client id to CRM customer id; 0 for customers a dry run
	// would create
	clients map[string]int
	byEmail map[string]int
	// document numbers created in this run, so dry runs catch repeats too
	created map[string]bool
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
		store:   s,
		opts:    opts,
		logger:  opts.Logger.WithComponent("invoiceplane").WithField("dry_run", opts.DryRun),
		clients: make(map[string]int),
		byEmail: make(map[string]int),
		created: make(map[string]bool),
	}
}

// ValidateSections rejects section names other than those in Sections.
func ValidateSections(only []string) error {
	for _, name := range only {
		valid := false
		for _, section := range Sections {
			if strings.EqualFold(name, section) {
				valid = true
			}
		}
		if !valid {
			return errors.ConfigurationError(errors.CodeInvalidConfig, "only", name, nil).
				WithSuggestion("use one or more of: " + strings.Join(Sections, ", "))
		}
	}
	return nil
}

func (im *Importer) wants(section string) bool {
	if len(im.opts.Only) == 0 {
		return true
	}
	for _, name := range im.opts.Only {
		if strings.EqualFold(name, section) {
			return true
		}
	}
	return false
}

// Import reads the export at path and imports the selected sections.
func (im *Importer) Import(ctx context.Context, path string) (Stats, error) {
	var stats Stats

	export, err := Load(path, im.opts.Amounts)
	if err != nil {
		return stats, err
	}
	im.logger.WithFields(logger.Fields{
		"clients":  len(export.Clients),
		"quotes":   len(export.Quotes),
		"invoices": len(export.Invoices),
	}).Info("Loaded InvoicePlane export")

	if err := im.mapClients(ctx, export.Clients, &stats); err != nil {
		return stats, err
	}

	now := im.opts.Now()
	if im.wants(SectionQuotes) {
		for _, doc := range export.Quotes {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			if err := im.importQuote(ctx, doc, &stats); err != nil {
				return stats, err
			}
		}
	}
	if im.wants(SectionInvoices) {
		for _, doc := range export.Invoices {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			if err := im.importInvoice(ctx, doc, now, &stats); err != nil {
				return stats, err
			}
		}
	}

	im.logger.WithFields(logger.Fields{
		"customers_created": stats.CustomersCreated,
		"quotes_created":    stats.QuotesCreated,
		"invoices_created":  stats.InvoicesCreated,
		"unmapped":          stats.Unmapped,
	}).Info("InvoicePlane import finished")
	return stats, nil
}

// mapClients resolves every client to a customer by contact email. Missing
// customers are created only when the customers section is selected.
func (im *Importer) mapClients(ctx context.Context, clients []Client, stats *Stats) error {
	create := im.wants(SectionCustomers)
	for _, client := range clients {
		email := client.ContactEmail()
		if id, ok := im.byEmail[email]; ok {
			im.clients[client.ID] = id
			continue
		}

		existing, err := im.store.FindCustomerByEmail(ctx, email)
		if err != nil {
			return err
		}
		switch {
		case existing != nil:
			im.byEmail[email] = existing.ID
			im.clients[client.ID] = existing.ID
			if create {
				stats.CustomersMatched++
			}
		case create:
			customer := client.Customer()
			if !im.opts.DryRun {
				if err := im.store.CreateCustomer(ctx, customer); err != nil {
					return err
				}
			}
			im.byEmail[email] = customer.ID
			im.clients[client.ID] = customer.ID
			stats.CustomersCreated++
			im.logger.WithFields(logger.Fields{
				"client_id": client.ID,
				"customer":  client.Name,
			}).Debug("Created customer")
		}
	}
	return nil
}

func (im *Importer) customerFor(kind string, doc Document, stats *Stats) (int, bool) {
	id, ok := im.clients[doc.ClientID]
	if !ok {
		im.opts.Sink.Report(errors.MissingParentRecord(kind, doc.Number,
			fmt.Sprintf("customer mapping not found for client_id %s", doc.ClientID)).
			WithContext("client_id", doc.ClientID))
		stats.Unmapped++
	}
	return id, ok
}

func (im *Importer) importQuote(ctx context.Context, doc Document, stats *Stats) error {
	customerID, ok := im.customerFor("quote", doc, stats)
	if !ok {
		return nil
	}

	key := "quote:" + doc.Number
	existing, err := im.store.FindQuoteByNumber(ctx, doc.Number)
	if err != nil {
		return err
	}
	if existing != nil || im.created[key] {
		stats.QuotesSkipped++
		return nil
	}

	quote := doc.Quote(customerID)
	if !im.opts.DryRun {
		if err := im.store.CreateQuote(ctx, quote); err != nil {
			return err
		}
	}
	im.created[key] = true
	stats.QuotesCreated++
	stats.Items += len(quote.Items)
	return nil
}

func (im *Importer) importInvoice(ctx context.Context, doc Document, now time.Time, stats *Stats) error {
	customerID, ok := im.customerFor("invoice", doc, stats)
	if !ok {
		return nil
	}

	key := "invoice:" + doc.Number
	existing, err := im.store.FindInvoiceByNumber(ctx, doc.Number)
	if err != nil {
		return err
	}
	if existing != nil || im.created[key] {
		stats.InvoicesSkipped++
		return nil
	}

	invoice := doc.Invoice(customerID, now)
	items := invoice.Items
	if !im.opts.DryRun {
		if err := im.store.CreateInvoice(ctx, invoice); err != nil {
			return err
		}
		if err := im.store.ReplaceInvoiceItems(ctx, invoice.ID, items); err != nil {
			return err
		}
	}
	im.created[key] = true
	stats.InvoicesCreated++
	stats.Items += len(items)
	return nil
}
