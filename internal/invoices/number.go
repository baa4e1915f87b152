// Package invoices backfills invoice line items from a QuickBooks sales
// detail report.
//
// Rows of type "invoice" are grouped by their formatted invoice number. For
// each group the invoice is looked up (or rebuilt from an optional invoice
// summary report), its items are replaced wholesale and its header totals are
// reconciled against the new line total with the tax-delta policy in
// Reconcile.
package invoices

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"strings"
)

// NumberPrefix marks invoices created by QuickBooks imports.
const NumberPrefix = "QB-INV-"

var invoiceNumberNoise = regexp.MustCompile(`[^A-Z0-9\-]`)

// FormatInvoiceNumber maps a raw QuickBooks invoice number to the CRM
// invoice number. Only upper-case letters, digits and hyphens survive; when
// nothing does, the first ten hex digits of the MD5 of the raw value are used.
//
// Distinct raw values that clean to the same text collide on purpose.
func FormatInvoiceNumber(raw string) string {
	clean := strings.ToUpper(invoiceNumberNoise.ReplaceAllString(raw, ""))
	if clean == "" {
		sum := md5.Sum([]byte(raw))
		clean = strings.ToUpper(hex.EncodeToString(sum[:])[:10])
	}
	return NumberPrefix + clean
}

// FormatInvoiceNumbers formats every non-blank value in raw.
func FormatInvoiceNumbers(raw []string) []string {
	var out []string
	for _, value := range raw {
		if strings.TrimSpace(value) == "" {
			continue
		}
		out = append(out, FormatInvoiceNumber(value))
	}
	return out
}
