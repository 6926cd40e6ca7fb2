package domain

import (
	"sort"
	"time"
)

// MinimumLeadTime is the buffer between "now" and the earliest bookable
// same-day slot.
const MinimumLeadTime = 30 * time.Minute

// Clock supplies the current time so slot generation stays deterministic in
// tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

func NewClock() Clock { return realClock{} }

// CandidateSlot is a computed bookable window. It is produced fresh on every
// query and never persisted.
type CandidateSlot struct {
	Start     time.Time
	End       time.Time
	Duration  time.Duration
	Available bool
}

// GenerateSlots tiles the active availability rules into candidate windows of
// exactly slotDuration over the calendar dates rangeStart..rangeEnd inclusive.
//
// Dates before now's date produce nothing. On now's date, windows starting at
// or before now+MinimumLeadTime are advanced to the next slotDuration boundary
// measured from the rule's start that clears the lead time. A trailing
// remainder shorter than slotDuration is dropped, never emitted short.
//
// Overlapping rules are tolerated and may yield duplicate candidates; callers
// de-duplicate by start time if they need to. The result is sorted by start
// ascending and every slot is marked available; conflict annotation is the
// caller's concern.
func GenerateSlots(rules []AvailabilityRule, rangeStart, rangeEnd time.Time, slotDuration time.Duration, now time.Time) []CandidateSlot {
	if slotDuration <= 0 {
		return nil
	}

	now = now.UTC()
	today := dateOf(now)
	threshold := now.Add(MinimumLeadTime).Truncate(time.Second)

	out := make([]CandidateSlot, 0, 32)

	first := dateOf(rangeStart.UTC())
	last := dateOf(rangeEnd.UTC())

	for date := first; !date.After(last); date = date.AddDate(0, 0, 1) {
		if date.Before(today) {
			continue
		}

		for i := range rules {
			rule := &rules[i]
			if !rule.Active || rule.Weekday != date.Weekday() {
				continue
			}

			window := rule.WindowOn(date)
			tileStart := window.Start

			if date.Equal(today) && !tileStart.After(threshold) {
				offset := threshold.Sub(window.Start)
				steps := int64((offset + slotDuration - 1) / slotDuration)
				tileStart = window.Start.Add(time.Duration(steps) * slotDuration)
			}

			for s := tileStart; !s.Add(slotDuration).After(window.End); s = s.Add(slotDuration) {
				out = append(out, CandidateSlot{
					Start:     s,
					End:       s.Add(slotDuration),
					Duration:  slotDuration,
					Available: true,
				})
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Start.Before(out[j].Start)
	})

	return out
}

// AnnotateAvailability marks every slot that intersects a booked window as
// unavailable, using half-open overlap: a slot that merely touches a booking
// at an endpoint stays available.
func AnnotateAvailability(slots []CandidateSlot, booked []TimeWindow) {
	for i := range slots {
		w := TimeWindow{Start: slots[i].Start, End: slots[i].End}
		for _, b := range booked {
			if w.Overlaps(b) {
				slots[i].Available = false
				break
			}
		}
	}
}

func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
