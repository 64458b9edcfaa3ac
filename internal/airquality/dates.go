package airquality

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// DefaultDateFormat is the date pattern accepted when none is configured.
const DefaultDateFormat = "YYYY-MM-DD"

// DateFormat parses calendar dates written in a configured pattern such as
// "YYYY-MM-DD" or "DD/MM/YYYY". A string must match the pattern exactly
// and name a real calendar day.
type DateFormat struct {
	pattern string
	layout  string
	re      *regexp.Regexp
}

var dateTokens = []struct {
	token  string
	layout string
	re     string
}{
	{"YYYY", "2006", `\d{4}`},
	{"MM", "01", `\d{2}`},
	{"DD", "02", `\d{2}`},
}

// NewDateFormat compiles a date pattern. The pattern must contain YYYY, MM
// and DD exactly once each.
func NewDateFormat(pattern string) (*DateFormat, error) {
	if pattern == "" {
		pattern = DefaultDateFormat
	}

	var layout, expr strings.Builder
	expr.WriteString("^")

	seen := make(map[string]bool, len(dateTokens))
	rest := pattern
	for rest != "" {
		matched := false
		for _, tok := range dateTokens {
			if strings.HasPrefix(rest, tok.token) {
				if seen[tok.token] {
					return nil, fmt.Errorf("date format %q repeats %s", pattern, tok.token)
				}
				seen[tok.token] = true
				layout.WriteString(tok.layout)
				expr.WriteString(tok.re)
				rest = rest[len(tok.token):]
				matched = true
				break
			}
		}
		if matched {
			continue
		}

		ch := rest[:1]
		if strings.ContainsAny(ch, "0123456789YMD") {
			return nil, fmt.Errorf("date format %q has unsupported token at %q", pattern, rest)
		}
		layout.WriteString(ch)
		expr.WriteString(regexp.QuoteMeta(ch))
		rest = rest[1:]
	}

	for _, tok := range dateTokens {
		if !seen[tok.token] {
			return nil, fmt.Errorf("date format %q is missing %s", pattern, tok.token)
		}
	}

	expr.WriteString("$")
	return &DateFormat{
		pattern: pattern,
		layout:  layout.String(),
		re:      regexp.MustCompile(expr.String()),
	}, nil
}

// MustDateFormat is like NewDateFormat but panics on error.
func MustDateFormat(pattern string) *DateFormat {
	f, err := NewDateFormat(pattern)
	if err != nil {
		panic(err)
	}
	return f
}

// Pattern returns the configured pattern, e.g. "YYYY-MM-DD".
func (f *DateFormat) Pattern() string {
	return f.pattern
}

// Parse parses s as a UTC calendar date. Failures are *InvalidDateError.
func (f *DateFormat) Parse(s string) (time.Time, error) {
	if !f.re.MatchString(s) {
		return time.Time{}, &InvalidDateError{
			Values: []string{s},
			Reason: "expected format " + f.pattern,
		}
	}

	t, err := time.ParseInLocation(f.layout, s, time.UTC)
	if err != nil {
		return time.Time{}, &InvalidDateError{
			Values: []string{s},
			Reason: "not a calendar date",
		}
	}
	return t, nil
}

// Format renders t in the configured pattern.
func (f *DateFormat) Format(t time.Time) string {
	return t.Format(f.layout)
}
