package parsers

import (
	"strconv"
	"strings"
	"unicode"
)

// NormalizeHeader converts raw header cells into row keys. Blank cells map
// to "" and are ignored when rows are keyed.
func NormalizeHeader(cells []string) []string {
	keys := make([]string, len(cells))
	occurrences := make(map[string]int)

	for i, cell := range cells {
		clean := strings.TrimSpace(stripBOM(strings.TrimSpace(cell)))
		if clean == "" {
			continue
		}

		key := SnakeKey(clean)
		if key == "" {
			continue
		}

		occurrences[key]++
		if n := occurrences[key]; n > 1 {
			key = key + "_" + strconv.Itoa(n)
		}
		keys[i] = key
	}

	return keys
}

// SnakeKey converts a header label to a snake_case key. Words are
// capitalized, whitespace is removed and an underscore is placed before every
// interior upper-case ASCII letter, then everything is lower-cased. Labels
// that are already entirely lower-case ASCII letters are returned unchanged.
//
//	"Sales Price"  -> "sales_price"
//	"Trans #"      -> "trans#"
//	"Open Balance" -> "open_balance"
func SnakeKey(label string) string {
	if isLowerASCII(label) {
		return label
	}

	var squashed []rune
	startOfWord := true
	for _, r := range label {
		if unicode.IsSpace(r) {
			startOfWord = true
			continue
		}
		if startOfWord && r >= 'a' && r <= 'z' {
			r -= 'a' - 'A'
		}
		startOfWord = false
		squashed = append(squashed, r)
	}

	var b strings.Builder
	for i, r := range squashed {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteByte('_')
		}
		b.WriteRune(r)
	}

	return strings.ToLower(b.String())
}

func isLowerASCII(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 'a' || s[i] > 'z' {
			return false
		}
	}
	return true
}
