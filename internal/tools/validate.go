package tools

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"
)

// canonicalDate is the format the calendar backend expects.
const canonicalDate = "01/02/2006"

var dateLayouts = []string{canonicalDate, "2006-01-02", time.RFC3339, "1/2/2006"}

// ArgumentError reports a tool argument that failed validation.
type ArgumentError struct {
	Field  string
	Reason string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func parseDate(field, v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, &ArgumentError{Field: field, Reason: "is required"}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &ArgumentError{Field: field, Reason: fmt.Sprintf("%q is not a date in MM/DD/YYYY format", v)}
}

func parseTimestamp(field, v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, &ArgumentError{Field: field, Reason: "is required"}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02T15:04"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &ArgumentError{Field: field, Reason: fmt.Sprintf("%q is not an ISO 8601 date and time (e.g. 2024-07-27T13:00:00.000Z)", v)}
}

func checkEmail(field, v string) error {
	v = strings.TrimSpace(v)
	addr, err := mail.ParseAddress(v)
	if err != nil || addr.Address != v || !strings.Contains(v[strings.LastIndex(v, "@")+1:], ".") {
		return &ArgumentError{Field: field, Reason: fmt.Sprintf("%q is not a valid email address", v)}
	}
	return nil
}

func checkLength(field, v string, minLen, maxLen int) error {
	n := utf8.RuneCountInString(strings.TrimSpace(v))
	if n < minLen {
		return &ArgumentError{Field: field, Reason: fmt.Sprintf("must be at least %d characters", minLen)}
	}
	if n > maxLen {
		return &ArgumentError{Field: field, Reason: fmt.Sprintf("must be at most %d characters", maxLen)}
	}
	return nil
}
