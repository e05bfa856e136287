package workflow

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Validator kinds accepted in workflow config.
const (
	ValidateNonEmpty = "nonempty"
	ValidateDate     = "date"
	ValidateTime     = "time"
	ValidateRegex    = "regex"
	ValidateEnum     = "enum"
)

// ErrInvalidValue is wrapped by every validator failure.
var ErrInvalidValue = errors.New("invalid value")

// Validator checks a slot value and returns its normalized form.
type Validator interface {
	Validate(value string, now time.Time) (string, error)
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(value string, now time.Time) (string, error)

func (f ValidatorFunc) Validate(value string, now time.Time) (string, error) { return f(value, now) }

// NewValidator returns the validator for kind. An empty kind is nonempty.
func NewValidator(kind, pattern string, values []string) (Validator, error) {
	switch kind {
	case "", ValidateNonEmpty:
		return ValidatorFunc(nonEmpty), nil
	case ValidateDate:
		return ValidatorFunc(parseDate), nil
	case ValidateTime:
		return ValidatorFunc(parseClock), nil
	case ValidateRegex:
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("pattern: %w", err)
		}
		return ValidatorFunc(func(v string, _ time.Time) (string, error) {
			v = strings.TrimSpace(v)
			if !re.MatchString(v) {
				return "", fmt.Errorf("%w: %q does not match %s", ErrInvalidValue, v, re)
			}
			return v, nil
		}), nil
	case ValidateEnum:
		if len(values) == 0 {
			return nil, errors.New("enum validator needs values")
		}
		return ValidatorFunc(func(v string, _ time.Time) (string, error) {
			v = strings.TrimSpace(v)
			for _, want := range values {
				if strings.EqualFold(v, want) {
					return want, nil
				}
			}
			return "", fmt.Errorf("%w: %q is not one of %s", ErrInvalidValue, v, strings.Join(values, ", "))
		}), nil
	}
	return nil, fmt.Errorf("unknown validator %q", kind)
}

func nonEmpty(v string, _ time.Time) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidValue)
	}
	return v, nil
}

var (
	ordinalRe = regexp.MustCompile(`\b(\d{1,2})(st|nd|rd|th)\b`)
	isoDateRe = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)

	dateLayouts = []string{
		"2006-01-02",
		"2006/01/02",
		"01/02/2006",
		"1/2/2006",
		"January 2, 2006",
		"January 2 2006",
		"Jan 2, 2006",
		"Jan 2 2006",
		"2 January 2006",
		"2 Jan 2006",
		"Monday, January 2, 2006",
	}
)

// parseDate accepts common date spellings, "today", "tomorrow" and weekday
// names (the next such day after now) and returns YYYY-MM-DD.
func parseDate(v string, now time.Time) (string, error) {
	s := strings.ToLower(strings.TrimSpace(v))
	s = strings.TrimPrefix(s, "on ")
	s = strings.TrimPrefix(s, "next ")
	s = ordinalRe.ReplaceAllString(s, "$1")

	switch s {
	case "today":
		return now.Format("2006-01-02"), nil
	case "tomorrow":
		return now.AddDate(0, 0, 1).Format("2006-01-02"), nil
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		if s == strings.ToLower(d.String()) {
			ahead := (int(d) - int(now.Weekday()) + 7) % 7
			if ahead == 0 {
				ahead = 7
			}
			return now.AddDate(0, 0, ahead).Format("2006-01-02"), nil
		}
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), nil
		}
	}
	if m := isoDateRe.FindString(s); m != "" {
		if t, err := time.Parse("2006-01-02", m); err == nil {
			return t.Format("2006-01-02"), nil
		}
	}
	return "", fmt.Errorf("%w: %q is not a date", ErrInvalidValue, v)
}

var (
	meridiemRe = regexp.MustCompile(`\b(\d{1,2})(?::(\d{2}))?\s*([ap])\.?m\.?(?:\s|$)`)
	clockRe    = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\b`)
)

// parseClock accepts 24-hour and am/pm times, alone or inside a sentence,
// and returns HH:MM.
func parseClock(v string, _ time.Time) (string, error) {
	s := strings.ToLower(strings.TrimSpace(v))
	switch s {
	case "noon", "midday":
		return "12:00", nil
	case "midnight":
		return "00:00", nil
	}

	if m := meridiemRe.FindStringSubmatch(s); m != nil {
		mins := m[2]
		if mins == "" {
			mins = "00"
		}
		t, err := time.Parse("3:04pm", m[1]+":"+mins+m[3]+"m")
		if err == nil {
			return t.Format("15:04"), nil
		}
	}
	if m := clockRe.FindStringSubmatch(s); m != nil {
		t, err := time.Parse("15:04", m[1]+":"+m[2])
		if err == nil {
			return t.Format("15:04"), nil
		}
	}
	return "", fmt.Errorf("%w: %q is not a time", ErrInvalidValue, v)
}
