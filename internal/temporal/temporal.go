// Package temporal converts between wall-clock instants and the lexical
// date/time strings stored with receipt headers.
package temporal

import (
	"regexp"
	"strings"
	"time"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"

	// minimum trimmed lengths accepted as "present" by ResolveFinalDateTime
	minDateLen = 8
	minTimeLen = 4
)

var (
	dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	timeRe = regexp.MustCompile(`^\d{2}:\d{2}(:\d{2})?$`)
)

// ToBackendDate renders t as YYYY-MM-DD.
func ToBackendDate(t time.Time) string {
	return t.Format(DateLayout)
}

// ToBackendTime renders t as HH:MM:SS.
func ToBackendTime(t time.Time) string {
	return t.Format(TimeLayout)
}

// Normalizer resolves user or classifier supplied date/time strings against a clock.
type Normalizer struct {
	now    func() time.Time
	loc    *time.Location
	strict bool
}

type Option func(*Normalizer)

func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) {
		if now != nil {
			n.now = now
		}
	}
}

func WithLocation(loc *time.Location) Option {
	return func(n *Normalizer) {
		if loc != nil {
			n.loc = loc
		}
	}
}

// WithStrict makes ResolveFinalDateTime reject values that are long enough
// but do not parse as a real calendar date or time of day.
func WithStrict(strict bool) Option {
	return func(n *Normalizer) { n.strict = strict }
}

func New(opts ...Option) *Normalizer {
	n := &Normalizer{now: time.Now, loc: time.Local}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Now returns the current instant in the normalizer's location.
func (n *Normalizer) Now() time.Time {
	return n.now().In(n.loc)
}

// ParseBackendDate parses YYYY-MM-DD at local midnight. Malformed input
// yields the current instant; it never fails.
func (n *Normalizer) ParseBackendDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if !dateRe.MatchString(s) {
		return n.Now()
	}
	t, err := time.ParseInLocation(DateLayout, s, n.loc)
	if err != nil {
		return n.Now()
	}
	return t
}

// ParseBackendTime parses HH:MM or HH:MM:SS applied to today's date.
// Malformed input yields the current instant.
func (n *Normalizer) ParseBackendTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if !timeRe.MatchString(s) {
		return n.Now()
	}
	clock, ok := parseClock(s)
	if !ok {
		return n.Now()
	}
	now := n.Now()
	return time.Date(now.Year(), now.Month(), now.Day(),
		clock.Hour(), clock.Minute(), clock.Second(), 0, n.loc)
}

// ResolveFinalDateTime trims both values and substitutes the current date
// (when the date is shorter than 8 characters) or the current time (when the
// time is shorter than 4 characters). Other values pass through unchanged,
// unless the normalizer is strict and they fail to parse.
func (n *Normalizer) ResolveFinalDateTime(date, clock string) (string, string) {
	date = strings.TrimSpace(date)
	clock = strings.TrimSpace(clock)
	now := n.Now()

	if len(date) < minDateLen || (n.strict && !ValidDate(date)) {
		date = ToBackendDate(now)
	}
	if len(clock) < minTimeLen || (n.strict && !ValidTime(clock)) {
		clock = ToBackendTime(now)
	}
	return date, clock
}

// ValidDate reports whether s is a real YYYY-MM-DD calendar date.
func ValidDate(s string) bool {
	if !dateRe.MatchString(s) {
		return false
	}
	_, err := time.Parse(DateLayout, s)
	return err == nil
}

// ValidTime reports whether s is a real HH:MM or HH:MM:SS time of day.
func ValidTime(s string) bool {
	if !timeRe.MatchString(s) {
		return false
	}
	_, ok := parseClock(s)
	return ok
}

func parseClock(s string) (time.Time, bool) {
	layout := TimeLayout
	if len(s) == len("15:04") {
		layout = "15:04"
	}
	t, err := time.Parse(layout, s)
	return t, err == nil
}

// MonthKey renders t as YYYY-MM, the bucket key of monthly totals.
func MonthKey(t time.Time) string {
	return t.Format("2006-01")
}
