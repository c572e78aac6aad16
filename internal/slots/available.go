package slots

import "time"

// Available returns the slots of the default window still open on date.
//
// date carries the caller's local zone: it decides whether date is "today" for the
// past-slot filter. Candidates and booked instants are compared on UTC hour and minute,
// which is enough because booked is expected to be restricted to the same day.
func Available(date time.Time, booked []time.Time, now time.Time) []Slot {
	return DefaultWindow.Available(date, booked, now)
}

func (w Window) Available(date time.Time, booked []time.Time, now time.Time) []Slot {
	taken := make(map[int]struct{}, len(booked))
	for _, b := range booked {
		b = b.UTC()
		taken[b.Hour()*60+b.Minute()] = struct{}{}
	}

	today := SameDay(date, now)

	out := make([]Slot, 0, len(w.Slots()))
	for _, s := range w.Slots() {
		if today && s.On(date).Before(now) {
			continue
		}
		if _, ok := taken[s.Hour*60+s.Minute]; ok {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Labels formats slots as "HH:MM" strings.
func Labels(in []Slot) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = s.String()
	}
	return out
}
