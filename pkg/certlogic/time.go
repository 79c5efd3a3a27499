package certlogic

import (
	"regexp"
	"strconv"
	"time"
)

// TimeUnit is a plusTime unit.
type TimeUnit string

const (
	UnitDay   TimeUnit = "day"
	UnitHour  TimeUnit = "hour"
	UnitMonth TimeUnit = "month"
	UnitYear  TimeUnit = "year"
)

var (
	partialDate = regexp.MustCompile(`^(\d{4})(?:-(\d{2}))?$`)
	// Offsets without a colon ("+0200") appear in some issued certificates.
	compactOffset = regexp.MustCompile(`([+-]\d{2})(\d{2})$`)
)

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseDateTime parses the date and date-time forms that occur in DCC
// payloads. Partial dates ("1964", "1964-08") resolve to the first day of the
// period. Values without an offset are UTC.
func ParseDateTime(s string) (time.Time, bool) {
	if m := partialDate.FindStringSubmatch(s); m != nil {
		year, _ := strconv.Atoi(m[1])
		month := 1
		if m[2] != "" {
			month, _ = strconv.Atoi(m[2])
			if month < 1 || month > 12 {
				return time.Time{}, false
			}
		}
		return time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC), true
	}

	s = compactOffset.ReplaceAllString(s, "$1:$2")
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// PlusTime adds amount units to t. Month and year arithmetic normalise
// overflowing days the way time.AddDate does.
func PlusTime(t time.Time, amount int, unit TimeUnit) (time.Time, bool) {
	switch unit {
	case UnitDay:
		return t.AddDate(0, 0, amount), true
	case UnitHour:
		return t.Add(time.Duration(amount) * time.Hour), true
	case UnitMonth:
		return t.AddDate(0, amount, 0), true
	case UnitYear:
		return t.AddDate(amount, 0, 0), true
	default:
		return time.Time{}, false
	}
}

func evalPlusTime(values []any) (any, error) {
	if len(values) != 3 {
		return nil, errorf("plusTime", "expects 3 operands, got %d", len(values))
	}
	s, ok := values[0].(string)
	if !ok {
		return nil, errorf("plusTime", "first operand must be a date-time string")
	}
	t, ok := ParseDateTime(s)
	if !ok {
		return nil, errorf("plusTime", "cannot parse %q as a date-time", s)
	}
	amount, ok := toInteger(values[1])
	if !ok {
		return nil, errorf("plusTime", "amount must be an integer")
	}
	unit, _ := values[2].(string)
	out, ok := PlusTime(t, int(amount), TimeUnit(unit))
	if !ok {
		return nil, errorf("plusTime", "unknown unit %q", unit)
	}
	return out, nil
}
