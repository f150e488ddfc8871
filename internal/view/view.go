// Package view computes read-only projections over a snapshot: per-calendar
// filtering, day buckets, and the current-or-next event lookup. It never
// mutates the snapshot it is given.
package view

import (
	"time"

	"github.com/beekhof/caldav-agenda/internal/model"
)

// WindowDays is the rolling window covered by day buckets and week counts.
const WindowDays = 7

// EventSummary is the compact per-event shape used inside day buckets.
type EventSummary struct {
	Summary  string `json:"summary"`
	Start    string `json:"start"` // HH:MM local, or "all-day"
	Location string `json:"location"`
	Calendar string `json:"calendar"`
	AllDay   bool   `json:"all_day"`
}

// DayBucket groups the events starting on one local day.
type DayBucket struct {
	Date   string         `json:"date"` // YYYY-MM-DD local
	Count  int            `json:"count"`
	Events []EventSummary `json:"events"`
}

// Counts aggregates event counts for the rolling window.
type Counts struct {
	Today    int `json:"today"`
	Tomorrow int `json:"tomorrow"`
	Week     int `json:"week"`
}

// ByCalendar returns the events belonging to one calendar, preserving the
// snapshot's start-ascending order.
func ByCalendar(snap *model.Snapshot, calendarID string) []model.Event {
	if snap == nil {
		return nil
	}
	var out []model.Event
	for _, ev := range snap.Events {
		if ev.CalendarID == calendarID {
			out = append(out, ev)
		}
	}
	return out
}

// CountBetween counts events starting within [start, end).
func CountBetween(snap *model.Snapshot, start, end time.Time) int {
	if snap == nil {
		return 0
	}
	count := 0
	for _, ev := range snap.Events {
		if !ev.Start.Before(start) && ev.Start.Before(end) {
			count++
		}
	}
	return count
}

// CountsAt computes today/tomorrow/week counts relative to now in now's
// location.
func CountsAt(snap *model.Snapshot, now time.Time) Counts {
	today := startOfDay(now)
	tomorrow := today.AddDate(0, 0, 1)
	return Counts{
		Today:    CountBetween(snap, today, tomorrow),
		Tomorrow: CountBetween(snap, tomorrow, tomorrow.AddDate(0, 0, 1)),
		Week:     CountBetween(snap, today, today.AddDate(0, 0, WindowDays)),
	}
}

// DayBuckets splits the rolling window into per-day buckets starting at
// now's local day.
func DayBuckets(snap *model.Snapshot, now time.Time) []DayBucket {
	buckets := make([]DayBucket, 0, WindowDays)
	dayStart := startOfDay(now)

	for i := 0; i < WindowDays; i++ {
		dayEnd := dayStart.AddDate(0, 0, 1)
		bucket := DayBucket{Date: dayStart.Format("2006-01-02"), Events: []EventSummary{}}

		if snap != nil {
			for _, ev := range snap.Events {
				if ev.Start.Before(dayStart) || !ev.Start.Before(dayEnd) {
					continue
				}
				bucket.Events = append(bucket.Events, summarize(ev, now.Location()))
			}
		}
		bucket.Count = len(bucket.Events)

		buckets = append(buckets, bucket)
		dayStart = dayEnd
	}
	return buckets
}

// CurrentOrNext returns the first event with start > now, falling back to
// the first event currently in progress (start <= now <= end).
func CurrentOrNext(snap *model.Snapshot, now time.Time) (model.Event, bool) {
	if snap == nil {
		return model.Event{}, false
	}
	for _, ev := range snap.Events {
		if ev.Start.After(now) {
			return ev, true
		}
	}
	for _, ev := range snap.Events {
		if !ev.Start.After(now) && !ev.End.Before(now) {
			return ev, true
		}
	}
	return model.Event{}, false
}

func summarize(ev model.Event, loc *time.Location) EventSummary {
	start := "all-day"
	if !ev.AllDay {
		start = ev.Start.In(loc).Format("15:04")
	}
	return EventSummary{
		Summary:  ev.Summary,
		Start:    start,
		Location: ev.Location,
		Calendar: ev.CalendarName,
		AllDay:   ev.AllDay,
	}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
