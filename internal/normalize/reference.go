package normalize

import (
	"strconv"
	"strings"
	"unicode"
)

// Reference canonicalizes a scheme reference number for matching. The same
// logical site appears with different formatting across the onboarding
// spreadsheet, the membership sheet and the database ("sto-1234", "STO 1234",
// "STO_1234"), so matching is keyed on this form: uppercase with all
// whitespace and internal separators removed.
func Reference(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}

	b := strings.Builder{}
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IsBlank reports whether a reference is empty after normalization.
func IsBlank(raw string) bool {
	return Reference(raw) == ""
}

// ParseFloat converts a spreadsheet cell to float64, tolerating surrounding
// whitespace and thousands separators.
func ParseFloat(s string) (float64, error) {
	trimmed := strings.TrimSpace(s)
	trimmed = strings.ReplaceAll(trimmed, ",", "")
	return strconv.ParseFloat(trimmed, 64)
}
