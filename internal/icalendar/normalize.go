// Package icalendar converts raw VEVENT components into the normalized
// event model, absorbing the wide variance in upstream date and time
// representations at this boundary so no downstream code has to branch on
// iCalendar value types.
package icalendar

import (
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"go.uber.org/zap"
)

// Normalizer converts arbitrary date/date-time property values into
// timezone-aware instants. Normalize is total: the worst case is "now"
// plus a logged warning, never an error.
type Normalizer struct {
	loc *time.Location
	now func() time.Time
	log *zap.Logger
}

// NewNormalizer creates a Normalizer that reinterprets timezone-naive
// values in loc.
func NewNormalizer(loc *time.Location, logger *zap.Logger) *Normalizer {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{loc: loc, now: time.Now, log: logger}
}

// IsDateOnly reports whether the property carries a pure calendar date with
// no time-of-day component. This is a type check, not a clock check: a timed
// value at exactly midnight is not date-only.
func IsDateOnly(prop *ical.Prop) bool {
	if prop == nil {
		return false
	}
	if strings.EqualFold(prop.Params.Get("VALUE"), "DATE") {
		return true
	}
	return prop.Value != "" && !strings.Contains(prop.Value, "T")
}

// Normalize converts a raw date/date-time property into a timezone-aware
// instant:
//
//  1. timezone-aware values (UTC or TZID-qualified) are returned unchanged
//  2. timezone-naive values are reinterpreted in the configured local zone
//  3. pure dates become midnight local time on that date
//  4. otherwise the value is treated as text: RFC 3339 first, then the date
//     portion before the time separator, then "now" with a warning
func (n *Normalizer) Normalize(prop *ical.Prop) time.Time {
	if prop == nil {
		n.log.Warn("normalize called with missing value, substituting current time")
		return n.now().In(n.loc)
	}

	if IsDateOnly(prop) {
		if t, err := time.ParseInLocation("20060102", prop.Value, n.loc); err == nil {
			return t
		}
		// Date-typed but not in basic format; fall through to text handling.
		return n.normalizeText(prop.Value)
	}

	// The library resolves UTC markers and TZID parameters itself and
	// interprets floating values in the location we pass.
	if t, err := prop.DateTime(n.loc); err == nil && !t.IsZero() {
		return t
	}

	return n.normalizeText(prop.Value)
}

// normalizeText is the last-resort parse chain for string-shaped values.
func (n *Normalizer) normalizeText(raw string) time.Time {
	raw = strings.TrimSpace(raw)

	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}

	datePart := raw
	if i := strings.IndexAny(raw, "T "); i > 0 {
		datePart = raw[:i]
	}
	for _, layout := range []string{"2006-01-02", "20060102"} {
		if t, err := time.ParseInLocation(layout, datePart, n.loc); err == nil {
			return t
		}
	}

	n.log.Warn("unable to parse date/time value, substituting current time", zap.String("value", raw))
	return n.now().In(n.loc)
}
