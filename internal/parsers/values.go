package parsers

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"crm-import-service/pkg/errors"
)

var (
	amountNoise    = strings.NewReplacer("$", "", "€", "", "£", "", "¥", "", ",", "", " ", "")
	leadingNumeric = regexp.MustCompile(`^[+-]?(\d+(\.\d+)?|\.\d+)`)
)

// AmountParser turns QuickBooks money and quantity text into decimals.
//
// Accounting notation is understood: "(1,234.56)" is -1234.56 and currency
// symbols and thousands separators are ignored. Text that is still not a
// number is handled according to Strict: strict parsing returns an
// invalid_amount error, lenient parsing keeps the leading numeric prefix
// ("12abc" is 12, "abc" is 0) and reports the coercion through OnCoerce.
type AmountParser struct {
	Strict   bool
	OnCoerce func(raw string, value decimal.Decimal)
}

// Amount parses a money value. Blank input is zero.
func (p AmountParser) Amount(raw string) (decimal.Decimal, error) {
	d, ok, err := p.parse(raw)
	if err != nil || !ok {
		return decimal.Zero, err
	}
	return d, nil
}

// Quantity parses a quantity. Blank input yields nil so callers can tell
// "not supplied" from an explicit zero.
func (p AmountParser) Quantity(raw string) (*decimal.Decimal, error) {
	d, ok, err := p.parse(raw)
	if err != nil || !ok {
		return nil, err
	}
	return &d, nil
}

func (p AmountParser) parse(raw string) (decimal.Decimal, bool, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, false, nil
	}

	s = amountNoise.Replace(s)
	negative := false
	if len(s) >= 2 && strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	if s == "" {
		return decimal.Zero, false, nil
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		if p.Strict {
			return decimal.Zero, false, errors.InvalidAmount("amount", raw)
		}
		d = decimal.Zero
		if prefix := leadingNumeric.FindString(s); prefix != "" {
			if parsed, perr := decimal.NewFromString(prefix); perr == nil {
				d = parsed
			}
		}
		if negative {
			d = d.Neg()
		}
		if p.OnCoerce != nil {
			p.OnCoerce(raw, d)
		}
		return d, true, nil
	}

	if negative {
		d = d.Neg()
	}
	return d, true, nil
}
