package billing

import (
	"strings"
	"time"

	"residence-cloud/internal/apperr"
)

const periodLayout = "2006-01"

// Period is a billing cycle in "YYYY-MM" form.
type Period string

// ParsePeriod validates and normalizes a period label.
func ParsePeriod(value string) (Period, error) {
	value = strings.TrimSpace(value)
	t, err := time.Parse(periodLayout, value)
	if err != nil {
		return "", apperr.Validation("invalid period %q, expected YYYY-MM", value)
	}
	return Period(t.Format(periodLayout)), nil
}

// ParsePeriodOrCurrent parses value, defaulting to the month of now when empty.
func ParsePeriodOrCurrent(value string, now time.Time) (Period, error) {
	if strings.TrimSpace(value) == "" {
		return PeriodOf(now), nil
	}
	return ParsePeriod(value)
}

// PeriodOf returns the period containing t.
func PeriodOf(t time.Time) Period {
	return Period(t.Format(periodLayout))
}

// Start returns the first instant of the period in UTC.
func (p Period) Start() time.Time {
	t, err := time.Parse(periodLayout, string(p))
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// Previous returns the immediately preceding period.
func (p Period) Previous() Period {
	return PeriodOf(p.Start().AddDate(0, -1, 0))
}

// Next returns the immediately following period.
func (p Period) Next() Period {
	return PeriodOf(p.Start().AddDate(0, 1, 0))
}

// DueDate returns day dueDay of the month following the period.
func (p Period) DueDate(dueDay int) time.Time {
	next := p.Start().AddDate(0, 1, 0)
	return time.Date(next.Year(), next.Month(), dueDay, 23, 59, 59, 0, time.UTC)
}

func (p Period) String() string { return string(p) }
