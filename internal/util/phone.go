package util

import (
	"regexp"
	"strings"
)

var (
	e164Regex = regexp.MustCompile(`^\+[1-9]\d{7,14}$`)

	// Country-code extraction patterns, tried in order. A full numbering
	// plan table is overkill for an allow-list membership test.
	ccPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^(\+1)\d{10}$`),        // NANP
		regexp.MustCompile(`^(\+\d{2})\d{10}$`),    // two-digit codes
		regexp.MustCompile(`^(\+\d{3})\d{9,10}$`),  // three-digit codes
	}
)

// NormalizeMobile strips whitespace and separator characters, returning the
// E.164 form. A leading 00 international prefix is rewritten to +.
func NormalizeMobile(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(s)
	if strings.HasPrefix(s, "00") {
		s = "+" + s[2:]
	}
	return s
}

// IsValidMobile reports whether the number is plausible E.164: a plus sign,
// a non-zero leading digit and 8-15 digits total.
func IsValidMobile(mobile string) bool {
	return e164Regex.MatchString(mobile)
}

// CountryCode extracts the leading country-code prefix from an E.164 number.
// The boundary between country code and subscriber number is ambiguous
// without a full numbering-plan table, so this settles for the common
// shapes: +1 with 10 digits, two-digit codes with 10 digits, three-digit
// codes with 9-10 digits.
func CountryCode(mobile string) (string, bool) {
	for _, pattern := range ccPatterns {
		if m := pattern.FindStringSubmatch(mobile); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// MaskMobile hides the middle digits for log output.
func MaskMobile(mobile string) string {
	if len(mobile) < 4 {
		return "****"
	}
	return mobile[:2] + strings.Repeat("*", len(mobile)-4) + mobile[len(mobile)-2:]
}
