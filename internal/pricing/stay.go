package pricing

import (
	"strings"
	"time"
)

const (
	DateLayout = "2006-01-02"
	day        = 24 * time.Hour
)

// StayRange is a check-in/check-out pair at calendar-day granularity.
// A zero Start or End means the date has not been chosen yet.
type StayRange struct {
	Start time.Time
	End   time.Time
}

// NewStayRange normalizes both bounds to UTC midnight of their calendar date.
func NewStayRange(start, end time.Time) StayRange {
	return StayRange{Start: DateOnly(start), End: DateOnly(end)}
}

// DateOnly drops the time of day, keeping the calendar date the instant falls on in
// its own location. The zero time stays zero.
func DateOnly(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate accepts a bare date or an RFC 3339 timestamp. Empty input yields the
// zero time and no error so callers can tell "unset" from "malformed".
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return DateOnly(t), nil
}

// ParseStayRange converts ISO-8601 strings from the wire into a StayRange.
func ParseStayRange(startISO, endISO string) (StayRange, error) {
	start, err := ParseDate(startISO)
	if err != nil {
		return StayRange{}, dateError("startDate", "INVALID_DATE", err)
	}
	end, err := ParseDate(endISO)
	if err != nil {
		return StayRange{}, dateError("endDate", "INVALID_DATE", err)
	}
	return NewStayRange(start, end), nil
}

func (r StayRange) IsSet() bool {
	return !r.Start.IsZero() && !r.End.IsZero()
}

// Validate rejects an unset range and one that does not move forward in time.
func (r StayRange) Validate() error {
	if !r.IsSet() {
		return dateError("dates", "DATES_MISSING", ErrDatesMissing)
	}
	if !DateOnly(r.End).After(DateOnly(r.Start)) {
		return dateError("endDate", "END_NOT_AFTER_START", ErrEndNotAfterStart)
	}
	return nil
}

// ValidateForNewBooking applies Validate plus the rule that a stay starts today or later.
func (r StayRange) ValidateForNewBooking(today time.Time) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if DateOnly(r.Start).Before(DateOnly(today)) {
		return dateError("startDate", "START_IN_PAST", ErrStartInPast)
	}
	return nil
}

// Overlaps uses half-open [Start, End) semantics: a check-out equal to another
// range's check-in does not overlap.
func (r StayRange) Overlaps(o StayRange) bool {
	return DateOnly(r.Start).Before(DateOnly(o.End)) && DateOnly(o.Start).Before(DateOnly(r.End))
}

func (r StayRange) StartISO() string { return formatDate(r.Start) }
func (r StayRange) EndISO() string   { return formatDate(r.End) }

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DateLayout)
}

// ComputeNights returns the number of nights in the range, always >= 1 on success.
func ComputeNights(r StayRange) (int, error) {
	if err := r.Validate(); err != nil {
		return 0, err
	}
	diff := DateOnly(r.End).Sub(DateOnly(r.Start))
	nights := int(diff / day)
	if diff%day != 0 {
		nights++
	}
	return nights, nil
}
