package slots

import (
	"fmt"
	"time"
)

// DefaultBookableDays is how many weekdays ahead a patient can book.
const DefaultBookableDays = 30

// Slot is a time of day on the schedule clock.
//
// The schedule clock is UTC: a "09:00" slot starts at 09:00 UTC whatever zone the
// patient is in, so the label shown to a patient is not necessarily their local 09:00.
type Slot struct {
	Hour   int
	Minute int
}

func (s Slot) String() string {
	return fmt.Sprintf("%02d:%02d", s.Hour, s.Minute)
}

// On returns the UTC instant of the slot on the calendar day of date.
func (s Slot) On(date time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), s.Hour, s.Minute, 0, 0, time.UTC)
}

// ParseSlot parses an "HH:MM" label.
func ParseSlot(label string) (Slot, error) {
	t, err := time.Parse("15:04", label)
	if err != nil {
		return Slot{}, fmt.Errorf("invalid slot %q: %w", label, err)
	}
	return Slot{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// Window is the daily service window, in minutes since midnight.
type Window struct {
	Open  int
	Close int
	Step  int
}

// DefaultWindow is 09:00 to 17:00 in half hours, so the last slot starts at 16:30.
var DefaultWindow = Window{Open: 9 * 60, Close: 17 * 60, Step: 30}

// Slots enumerates the slot starts of the window in ascending order.
func (w Window) Slots() []Slot {
	if w.Step <= 0 || w.Close <= w.Open {
		return nil
	}
	out := make([]Slot, 0, (w.Close-w.Open)/w.Step)
	for m := w.Open; m+w.Step <= w.Close; m += w.Step {
		out = append(out, Slot{Hour: m / 60, Minute: m % 60})
	}
	return out
}

// Contains reports whether s is one of the window's slot starts.
func (w Window) Contains(s Slot) bool {
	m := s.Hour*60 + s.Minute
	if w.Step <= 0 || m < w.Open || m+w.Step > w.Close {
		return false
	}
	return (m-w.Open)%w.Step == 0
}

// DaySlots returns the 16 half-hour slots from 09:00 to 16:30.
func DaySlots() []Slot {
	return DefaultWindow.Slots()
}

// BookableDates returns count weekdays starting at today's calendar day, skipping
// Saturdays and Sundays. Dates are midnights in today's location.
func BookableDates(today time.Time, count int) []time.Time {
	if count <= 0 {
		return nil
	}
	d := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, today.Location())

	out := make([]time.Time, 0, count)
	for len(out) < count {
		if IsWeekday(d) {
			out = append(out, d)
		}
		d = d.AddDate(0, 0, 1)
	}
	return out
}

func IsWeekday(d time.Time) bool {
	wd := d.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// SameDay compares calendar days, reading b in a's location.
func SameDay(a, b time.Time) bool {
	b = b.In(a.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// DayBounds returns the inclusive UTC bounds of the calendar day of date,
// 00:00:00 to 23:59:59.
func DayBounds(date time.Time) (time.Time, time.Time) {
	start := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.Add(24*time.Hour - time.Second)
}
