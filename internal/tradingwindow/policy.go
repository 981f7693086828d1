// Package tradingwindow decides whether a symbol may be traded at a given
// instant. Weekly close and reopen times are wall-clock times in the venue
// timezone; callers may pass instants in any zone.
package tradingwindow

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const week = 7 * 24 * time.Hour

// WeekTime is a wall-clock time within a week.
type WeekTime struct {
	Day    time.Weekday
	Hour   int
	Minute int
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// ParseWeekTime parses "Fri 17:00" style values. Full day names are accepted.
func ParseWeekTime(s string) (WeekTime, error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return WeekTime{}, fmt.Errorf("tradingwindow: %q: want \"<day> HH:MM\"", s)
	}
	day, ok := weekdays[strings.ToLower(fields[0])]
	if !ok {
		return WeekTime{}, fmt.Errorf("tradingwindow: %q: unknown day %q", s, fields[0])
	}
	hh, mm, ok := strings.Cut(fields[1], ":")
	if !ok {
		return WeekTime{}, fmt.Errorf("tradingwindow: %q: want HH:MM", s)
	}
	hour, err := strconv.Atoi(hh)
	if err != nil || hour < 0 || hour > 23 {
		return WeekTime{}, fmt.Errorf("tradingwindow: %q: invalid hour", s)
	}
	minute, err := strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 {
		return WeekTime{}, fmt.Errorf("tradingwindow: %q: invalid minute", s)
	}
	return WeekTime{Day: day, Hour: hour, Minute: minute}, nil
}

// String renders the value in the form ParseWeekTime accepts.
func (w WeekTime) String() string {
	return fmt.Sprintf("%s %02d:%02d", w.Day.String()[:3], w.Hour, w.Minute)
}

func (w WeekTime) sinceWeekStart() time.Duration {
	return time.Duration(w.Day)*24*time.Hour +
		time.Duration(w.Hour)*time.Hour +
		time.Duration(w.Minute)*time.Minute
}

// Policy is the per-symbol weekend rule set. It holds no mutable state.
type Policy struct {
	loc         *time.Location
	close       WeekTime
	open        WeekTime
	weekendStop map[string]bool
}

// NewPolicy builds a Policy. weekendStop maps symbol names (any case) to the
// symbol's weekend_stop flag; symbols missing from the map are always
// tradable.
func NewPolicy(loc *time.Location, marketClose, marketOpen WeekTime, weekendStop map[string]bool) *Policy {
	if loc == nil {
		loc = time.UTC
	}
	stops := make(map[string]bool, len(weekendStop))
	for sym, stop := range weekendStop {
		stops[strings.ToUpper(sym)] = stop
	}
	return &Policy{
		loc:         loc,
		close:       marketClose,
		open:        marketOpen,
		weekendStop: stops,
	}
}

// Location returns the venue timezone.
func (p *Policy) Location() *time.Location {
	return p.loc
}

// IsTradable reports whether symbol may be traded at now. The close instant
// itself is inside the blackout and the reopen instant is outside it.
func (p *Policy) IsTradable(symbol string, now time.Time) bool {
	if !p.weekendStop[strings.ToUpper(symbol)] {
		return true
	}
	return !p.inBlackout(now)
}

// NextOpen returns the first instant at or after now at which symbol is
// tradable, expressed in the venue timezone.
func (p *Policy) NextOpen(symbol string, now time.Time) time.Time {
	local := now.In(p.loc)
	if p.IsTradable(symbol, now) {
		return local
	}
	days := (int(p.open.Day) - int(local.Weekday()) + 7) % 7
	next := time.Date(local.Year(), local.Month(), local.Day()+days, p.open.Hour, p.open.Minute, 0, 0, p.loc)
	if next.Before(local) {
		next = next.AddDate(0, 0, 7)
	}
	return next
}

func (p *Policy) inBlackout(now time.Time) bool {
	local := now.In(p.loc)
	cur := time.Duration(local.Weekday())*24*time.Hour +
		time.Duration(local.Hour())*time.Hour +
		time.Duration(local.Minute())*time.Minute +
		time.Duration(local.Second())*time.Second +
		time.Duration(local.Nanosecond())

	closeAt := p.close.sinceWeekStart()
	length := (p.open.sinceWeekStart() - closeAt + week) % week
	sinceClose := (cur - closeAt + week) % week
	return sinceClose < length
}
