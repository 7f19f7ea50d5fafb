package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "calfeed/internal/log"
)

const defaultMaxOccurrencesPerEvent = 1000

// ExpandConfig controls recurrence expansion.
type ExpandConfig struct {
	// RangeStart / RangeEnd define the inclusive window for occurrences.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps expansion per event; zero means the
	// package default.
	MaxOccurrencesPerEvent int
}

// ExpandOccurrences turns a feed's parsed events into concrete
// occurrences within the window. Non-recurring events pass through
// (when they intersect the window); RRULE events are expanded with
// EXDATE exceptions and RECURRENCE-ID overrides applied. Every
// occurrence keeps the base event's description, categories and
// attachments so image resolution behaves identically, and the
// content-addressed writer makes the repeated resolution cheap.
//
// Emission order follows the input event order, with a recurring
// event's occurrences in chronological order at its position.
func ExpandOccurrences(events []ParsedEvent, cfg ExpandConfig) ([]ParsedEvent, error) {
	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return nil, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	// Overrides are matched to base occurrences by UID + RECURRENCE-ID.
	overridesByUID := make(map[string][]ParsedEvent)
	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
		}
	}

	out := make([]ParsedEvent, 0, len(events))

	for _, ev := range events {
		if ev.IsOverride {
			continue
		}

		if ev.RawRRule == "" {
			if eventIntersects(ev, cfg) {
				out = append(out, applyOverride(ev, overridesByUID[ev.UID], ev.Start))
			}
			continue
		}

		occ, hitCap := expandRecurring(ev, overridesByUID[ev.UID], cfg)
		if hitCap {
			appLog.Error("expand: occurrence cap hit", errors.New("max occurrences reached"),
				"uid", ev.UID, "cap", cfg.MaxOccurrencesPerEvent)
		}
		out = append(out, occ...)
	}

	return out, nil
}

func expandRecurring(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]ParsedEvent, bool) {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE, keeping base event", err, "uid", ev.UID, "rrule", ev.RawRRule)
		if eventIntersects(ev, cfg) {
			return []ParsedEvent{ev}, false
		}
		return nil, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	rangeStart := cfg.RangeStart.In(ev.Start.Location())
	rangeEnd := cfg.RangeEnd.In(ev.Start.Location())
	occTimes := set.Between(rangeStart, rangeEnd, true)

	hitCap := false
	if len(occTimes) > cfg.MaxOccurrencesPerEvent {
		occTimes = occTimes[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	var duration time.Duration
	if ev.HasEnd {
		duration = ev.End.Sub(ev.Start)
	}

	out := make([]ParsedEvent, 0, len(occTimes))
	for _, occStart := range occTimes {
		occ := ev
		if ev.AllDay {
			occ.Start = time.Date(occStart.Year(), occStart.Month(), occStart.Day(), 0, 0, 0, 0, occStart.Location())
			if ev.HasEnd {
				occ.End = occ.Start.Add(duration)
			}
		} else {
			occ.Start = occStart
			if ev.HasEnd {
				occ.End = occStart.Add(duration)
			}
		}
		// Each occurrence stands alone; drop the recurrence metadata.
		occ.RawRRule = ""
		occ.ExDates = nil

		out = append(out, applyOverride(occ, overrides, occ.Start))
	}

	return out, hitCap
}

// applyOverride substitutes an override VEVENT whose RECURRENCE-ID
// matches the given occurrence start, if any.
func applyOverride(occ ParsedEvent, overrides []ParsedEvent, start time.Time) ParsedEvent {
	for _, ov := range overrides {
		if ov.Recurrence == nil {
			continue
		}
		if ov.Recurrence.In(start.Location()).Equal(start) {
			ov.IsOverride = false
			ov.Recurrence = nil
			return ov
		}
	}
	return occ
}

func eventIntersects(ev ParsedEvent, cfg ExpandConfig) bool {
	end := ev.End
	if !ev.HasEnd {
		end = ev.Start
	}
	if end.Before(cfg.RangeStart) {
		return false
	}
	if ev.Start.After(cfg.RangeEnd) {
		return false
	}
	return true
}
