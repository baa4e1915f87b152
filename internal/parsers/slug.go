package parsers

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Slug lower-cases s, folds accented letters to their base form and joins
// the remaining letter/digit runs with hyphens:
//
//	"Invoice 1001/A" -> "invoice-1001a"
//	"Café Ltd."      -> "cafe-ltd"
func Slug(s string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), s)
	if err != nil {
		folded = s
	}

	folded = strings.ReplaceAll(folded, "_", "-")
	folded = strings.ReplaceAll(folded, "@", "-at-")
	folded = strings.ToLower(folded)

	var b strings.Builder
	pendingSeparator := false
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			if pendingSeparator && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingSeparator = false
			b.WriteRune(r)
		case r == '-' || unicode.IsSpace(r):
			pendingSeparator = true
		}
	}

	return b.String()
}
