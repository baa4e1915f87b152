package invoiceplane

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"crm-import-service/internal/models"
	"crm-import-service/internal/parsers"
	"crm-import-service/pkg/errors"
)

const (
	maxDescriptionLength = 191
	defaultCountry       = "USA"
	dueAfterDays         = 30
)

// Export is an InvoicePlane export after normalization.
type Export struct {
	ExportedAt *time.Time
	Clients    []Client
	Quotes     []Document
	Invoices   []Document
}

// Client is an InvoicePlane client with blanks and fallbacks already
// resolved.
type Client struct {
	ID      string
	Name    string
	Email   string
	Phone   string
	Address string
	City    string
	State   string
	Zip     string
	Country string
}

// Document is an invoice or a quote. Due holds the quote expiry date for
// quotes; Paid is always zero for quotes.
type Document struct {
	ID       string
	ClientID string
	Number   string
	StatusID int
	Created  *time.Time
	Due      *time.Time
	Subtotal decimal.Decimal
	TaxRate  decimal.Decimal
	TaxTotal decimal.Decimal
	Total    decimal.Decimal
	Paid     decimal.Decimal
	Terms    string
	Items    []Item
}

// Item is a normalized document line.
type Item struct {
	Type        string
	Description string
	Quantity    int
	UnitPrice   decimal.Decimal
	Discount    decimal.Decimal
	Total       decimal.Decimal
	SortOrder   int
}

// documentKeys names the JSON fields of one document kind.
type documentKeys struct {
	kind     string
	id       string
	number   string
	status   string
	created  string
	due      string
	subtotal string
	taxRate  string
	taxTotal string
	total    string
	paid     string
	terms    string
	fallback string
}

func keysFor(kind, fallback, due string) documentKeys {
	return documentKeys{
		kind:     kind,
		id:       kind + "_id",
		number:   kind + "_number",
		status:   kind + "_status_id",
		created:  kind + "_date_created",
		due:      kind + "_" + due,
		subtotal: kind + "_item_subtotal",
		taxRate:  kind + "_tax_rate_percent",
		taxTotal: kind + "_item_tax_total",
		total:    kind + "_total",
		paid:     kind + "_paid",
		terms:    kind + "_terms",
		fallback: fallback,
	}
}

var (
	invoiceKeys = keysFor("invoice", "IP-INV-", "date_due")
	quoteKeys   = keysFor("quote", "IP-QT-", "date_expires")
)

type rawExport struct {
	ExportedAt interface{} `json:"exported_at"`
	Customers  []record    `json:"customers"`
	Quotes     []record    `json:"quotes"`
	Invoices   []record    `json:"invoices"`
}

// record is one raw JSON object. Values may be strings, numbers or null.
type record map[string]interface{}

// Load reads and normalizes the export at path.
func Load(path string, amounts parsers.AmountParser) (*Export, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.SourceUnavailable(path, err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	decoder.UseNumber()
	var raw rawExport
	if err := decoder.Decode(&raw); err != nil {
		return nil, errors.Wrap(err, errors.CategoryParse, errors.CodeInvalidRecord,
			fmt.Sprintf("unable to decode InvoicePlane export %s", path)).
			WithSuggestion("export again with invoiceplane-export and pass the JSON file unchanged").
			WithContext("file_path", path)
	}

	export, err := normalize(raw, amounts)
	if err != nil {
		if importErr, ok := errors.AsImportError(err); ok {
			return nil, importErr.WithContext("file_path", path)
		}
		return nil, err
	}
	return export, nil
}

func normalize(raw rawExport, amounts parsers.AmountParser) (*Export, error) {
	export := &Export{ExportedAt: parsers.ParseDatePtr(text(raw.ExportedAt))}

	for _, rec := range raw.Customers {
		export.Clients = append(export.Clients, rec.client())
	}
	for _, rec := range raw.Quotes {
		doc, err := rec.document(quoteKeys, amounts)
		if err != nil {
			return nil, err
		}
		export.Quotes = append(export.Quotes, doc)
	}
	for _, rec := range raw.Invoices {
		doc, err := rec.document(invoiceKeys, amounts)
		if err != nil {
			return nil, err
		}
		export.Invoices = append(export.Invoices, doc)
	}
	return export, nil
}

// text renders any decoded JSON scalar as trimmed text; null is blank.
func text(v interface{}) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func (r record) text(key string) string {
	return text(r[key])
}

func (r record) first(keys ...string) string {
	for _, key := range keys {
		if v := r.text(key); v != "" {
			return v
		}
	}
	return ""
}

func (r record) client() Client {
	id := r.text("client_id")
	name := strings.TrimSpace(r.text("client_name") + " " + r.text("client_surname"))
	if name == "" {
		name = "Imported Customer " + id
	}
	country := r.text("client_country")
	if country == "" {
		country = defaultCountry
	}
	return Client{
		ID:      id,
		Name:    name,
		Email:   strings.ToLower(r.text("client_email")),
		Phone:   r.first("client_phone", "client_mobile"),
		Address: r.text("client_address_1"),
		City:    r.text("client_city"),
		State:   r.text("client_state"),
		Zip:     r.text("client_zip"),
		Country: country,
	}
}

// fieldReader reads amounts from one record and keeps the first failure.
type fieldReader struct {
	rec     record
	amounts parsers.AmountParser
	err     error
}

func (f *fieldReader) amount(key string) decimal.Decimal {
	if f.err != nil {
		return decimal.Zero
	}
	d, err := f.amounts.Amount(f.rec.text(key))
	if err != nil {
		if importErr, ok := errors.AsImportError(err); ok {
			err = importErr.WithContext("field", key)
		}
		f.err = err
	}
	return d
}

func (f *fieldReader) quantity(key string) *decimal.Decimal {
	if f.err != nil {
		return nil
	}
	q, err := f.amounts.Quantity(f.rec.text(key))
	if err != nil {
		if importErr, ok := errors.AsImportError(err); ok {
			err = importErr.WithContext("field", key)
		}
		f.err = err
	}
	return q
}

func (r record) document(keys documentKeys, amounts parsers.AmountParser) (Document, error) {
	f := &fieldReader{rec: r, amounts: amounts}
	id := r.text(keys.id)
	number := r.text(keys.number)
	if number == "" {
		number = keys.fallback + id
	}
	status, _ := strconv.Atoi(r.text(keys.status))

	doc := Document{
		ID:       id,
		ClientID: r.text("client_id"),
		Number:   number,
		StatusID: status,
		Created:  parsers.ParseDatePtr(r.text(keys.created)),
		Due:      parsers.ParseDatePtr(r.text(keys.due)),
		Subtotal: f.amount(keys.subtotal).Round(2),
		TaxRate:  f.amount(keys.taxRate),
		TaxTotal: f.amount(keys.taxTotal).Round(2),
		Total:    f.amount(keys.total).Round(2),
		Paid:     f.amount(keys.paid).Round(2),
		Terms:    r.text(keys.terms),
	}

	rawItems, _ := r["items"].([]interface{})
	for i, raw := range rawItems {
		fields, _ := raw.(map[string]interface{})
		line := &fieldReader{rec: record(fields), amounts: amounts}
		doc.Items = append(doc.Items, line.item(i+1))
		if f.err == nil {
			f.err = line.err
		}
	}
	if f.err != nil {
		if importErr, ok := errors.AsImportError(f.err); ok {
			return doc, importErr.WithContext(keys.kind, number)
		}
		return doc, f.err
	}
	return doc, nil
}

func (f *fieldReader) item(position int) Item {
	name := f.rec.text("item_name")
	quantity := decimal.NewFromInt(1)
	if q := f.quantity("item_quantity"); q != nil && q.IsPositive() {
		quantity = *q
	}
	price := f.amount("item_price")
	discount := f.amount("item_discount_amount")
	total := price.Mul(quantity).Sub(discount)
	if f.rec.text("item_subtotal") != "" {
		total = f.amount("item_subtotal")
	}

	return Item{
		Type:        ItemType(f.rec.text("item_product_unit"), name),
		Description: truncate(f.rec.first("item_name", "item_description"), "Imported Item"),
		Quantity:    int(quantity.Round(0).IntPart()),
		UnitPrice:   price.Round(2),
		Discount:    discount.Round(2),
		Total:       total.Round(2),
		SortOrder:   position,
	}
}

func truncate(s, fallback string) string {
	if s == "" {
		return fallback
	}
	if utf8.RuneCountInString(s) > maxDescriptionLength {
		return string([]rune(s)[:maxDescriptionLength])
	}
	return s
}

// ItemType classifies a line as part or service from its unit, falling back
// to keywords in the item name.
func ItemType(unit, name string) string {
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "part", "parts", "item", "items":
		return models.ItemTypePart
	case "hour", "hours", "day", "days":
		return models.ItemTypeService
	}
	name = strings.ToLower(name)
	for _, keyword := range []string{"service", "captain", "labor"} {
		if strings.Contains(name, keyword) {
			return models.ItemTypeService
		}
	}
	return models.ItemTypePart
}

// InvoiceStatus maps an InvoicePlane invoice status id.
func InvoiceStatus(id int) string {
	switch id {
	case 2, 3:
		return models.InvoiceStatusSent
	case 4:
		return models.InvoiceStatusPaid
	case 5:
		return models.InvoiceStatusOverdue
	default:
		return models.InvoiceStatusDraft
	}
}

// QuoteStatus maps an InvoicePlane quote status id.
func QuoteStatus(id int) string {
	switch id {
	case 2, 3:
		return models.QuoteStatusSent
	case 4:
		return models.QuoteStatusAccepted
	case 5:
		return models.QuoteStatusRejected
	default:
		return models.QuoteStatusDraft
	}
}

// ContactEmail is the email used to match the client to a CRM customer.
// Clients without one get a stable placeholder so reruns match them.
func (c Client) ContactEmail() string {
	if c.Email != "" {
		return c.Email
	}
	return fmt.Sprintf("noemail_%s@imported.local", c.ID)
}

// Customer builds the CRM customer for the client.
func (c Client) Customer() *models.Customer {
	email := c.ContactEmail()
	return &models.Customer{
		Name:    c.Name,
		Email:   &email,
		Phone:   optional(c.Phone),
		Address: optional(c.Address),
		City:    optional(c.City),
		State:   optional(c.State),
		Zip:     optional(c.Zip),
		Country: optional(c.Country),
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Invoice builds the CRM invoice for the document. A missing issue date is
// now and a missing due date is 30 days after now.
func (d Document) Invoice(customerID int, now time.Time) *models.Invoice {
	issue, due := d.Created, d.Due
	if issue == nil {
		issue = &now
	}
	if due == nil {
		later := now.AddDate(0, 0, dueAfterDays)
		due = &later
	}
	balance := d.Total.Sub(d.Paid).Round(2)
	if balance.IsNegative() {
		balance = decimal.Zero
	}

	invoice := &models.Invoice{
		InvoiceNumber: d.Number,
		CustomerID:    customerID,
		Status:        InvoiceStatus(d.StatusID),
		IssueDate:     issue,
		DueDate:       due,
		Subtotal:      d.Subtotal,
		TaxRate:       d.TaxRate,
		TaxAmount:     d.TaxTotal,
		Total:         d.Total,
		PaidAmount:    d.Paid,
		Balance:       balance,
		Notes:         optional(d.Terms),
	}
	for _, item := range d.Items {
		invoice.Items = append(invoice.Items, models.InvoiceItem{
			ItemType:    item.Type,
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Discount:    item.Discount,
			Total:       item.Total,
			SortOrder:   item.SortOrder,
		})
	}
	return invoice
}

// Quote builds the CRM quote for the document.
func (d Document) Quote(customerID int) *models.Quote {
	quote := &models.Quote{
		QuoteNumber:    d.Number,
		CustomerID:     customerID,
		Status:         QuoteStatus(d.StatusID),
		ExpirationDate: d.Due,
		Subtotal:       d.Subtotal,
		TaxRate:        d.TaxRate,
		TaxAmount:      d.TaxTotal,
		Total:          d.Total,
		Notes:          optional(d.Terms),
	}
	for _, item := range d.Items {
		quote.Items = append(quote.Items, models.QuoteItem{
			ItemType:    item.Type,
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Discount:    item.Discount,
			Total:       item.Total,
			SortOrder:   item.SortOrder,
		})
	}
	return quote
}
