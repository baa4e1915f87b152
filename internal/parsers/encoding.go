package parsers

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

const byteOrderMark = "\uFEFF"

// SanitizeValue trims a raw cell, strips a leading BOM and re-decodes it from
// ISO-8859-1 when it is not valid UTF-8. Blank cells become "".
func SanitizeValue(raw string) string {
	clean := strings.TrimSpace(stripBOM(strings.TrimSpace(raw)))
	if clean == "" {
		return ""
	}
	if !utf8.ValidString(clean) {
		clean = decodeLatin1(clean)
	}
	return clean
}

func stripBOM(s string) string {
	return strings.TrimPrefix(s, byteOrderMark)
}

func decodeLatin1(s string) string {
	decoded, err := charmap.ISO8859_1.NewDecoder().String(s)
	if err != nil {
		return strings.ToValidUTF8(s, "")
	}
	return decoded
}
