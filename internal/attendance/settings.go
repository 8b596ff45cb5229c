package attendance

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Clock is a time of day expressed as seconds since midnight. Check-in
// timestamps are compared against configured clocks at second precision, so
// 08:00:30 is after a clock of 08:00.
type Clock int

// NewClock builds a Clock from an hour and minute.
func NewClock(hour, minute int) Clock {
	return Clock(hour*3600 + minute*60)
}

// ClockOf extracts the time of day from a timestamp.
func ClockOf(t time.Time) Clock {
	return Clock(t.Hour()*3600 + t.Minute()*60 + t.Second())
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/3600, int(c)%3600/60)
}

// ParseClock parses an "HH:MM" string. Malformed values never fail: the
// fallback is returned instead, with usedDefault reporting that the
// configured value was ignored.
func ParseClock(value string, fallback Clock) (clock Clock, usedDefault bool) {
	parts := strings.Split(value, ":")
	if len(parts) != 2 {
		return fallback, true
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return fallback, true
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return fallback, true
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return fallback, true
	}
	return NewClock(hour, minute), false
}

// Settings is an organization's raw attendance configuration as stored.
// Time fields are "HH:MM" strings.
type Settings struct {
	SchoolStartTime      string
	LateCutoffTime       string
	AutoAbsentTime       string
	AllowLateArrivals    bool
	RequireAbsenceExcuse bool
	MultipleCheckins     bool
}

// Effective is the configuration actually applied after defaulting.
type Effective struct {
	SchoolStart          Clock
	LateCutoff           Clock
	AutoAbsent           Clock
	AllowLateArrivals    bool
	RequireAbsenceExcuse bool
	MultipleCheckins     bool
}

// Defaults returns the documented fallback configuration: start 08:00,
// late cutoff 08:15, auto-absent 09:00, late arrivals allowed.
func Defaults() Effective {
	return Effective{
		SchoolStart:       NewClock(8, 0),
		LateCutoff:        NewClock(8, 15),
		AutoAbsent:        NewClock(9, 0),
		AllowLateArrivals: true,
	}
}

// Effective resolves raw settings into applied ones. A nil receiver yields
// the defaults, as does any individual time field that fails to parse.
func (s *Settings) Effective() Effective {
	eff := Defaults()
	if s == nil {
		return eff
	}
	eff.SchoolStart, _ = ParseClock(s.SchoolStartTime, eff.SchoolStart)
	eff.LateCutoff, _ = ParseClock(s.LateCutoffTime, eff.LateCutoff)
	eff.AutoAbsent, _ = ParseClock(s.AutoAbsentTime, eff.AutoAbsent)
	eff.AllowLateArrivals = s.AllowLateArrivals
	eff.RequireAbsenceExcuse = s.RequireAbsenceExcuse
	eff.MultipleCheckins = s.MultipleCheckins
	return eff
}
