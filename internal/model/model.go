// Package model defines the normalized calendar data types shared by the
// sync engine and its consumers.
package model

import "time"

// CalendarRef identifies one remote calendar. The set of refs is replaced
// wholesale on each discovery pass; refs are never merged incrementally.
type CalendarRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Event is the uniform representation of a single VEVENT occurrence after
// normalization. Start and End are always timezone-aware and Start <= End.
// UID is only meaningful within one calendar; it may be empty or duplicated
// across calendars.
type Event struct {
	UID            string    `json:"uid"`
	Summary        string    `json:"summary"`
	Description    string    `json:"description"`
	Location       string    `json:"location"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	AllDay         bool      `json:"all_day"`
	CalendarID     string    `json:"calendar_id"`
	CalendarName   string    `json:"calendar_name"`
	Attendees      []string  `json:"attendees"`
	Organizer      string    `json:"organizer"`
	RecurrenceRule string    `json:"recurrence_rule"`
}

// Snapshot is the immutable result of one synchronization cycle. Events are
// sorted ascending by Start (stable, ties broken by discovery order). A
// snapshot is replaced wholesale; it is never mutated after construction.
type Snapshot struct {
	Events            []Event                `json:"events"`
	Calendars         map[string]CalendarRef `json:"calendars"`
	FailedCalendarIDs []string               `json:"failed_calendar_ids"`
	FetchedAt         time.Time              `json:"fetched_at"`
}

// Failed reports whether the given calendar failed during the cycle that
// produced this snapshot.
func (s *Snapshot) Failed(calendarID string) bool {
	for _, id := range s.FailedCalendarIDs {
		if id == calendarID {
			return true
		}
	}
	return false
}

// Degraded reports whether any calendar failed during the producing cycle.
func (s *Snapshot) Degraded() bool {
	return len(s.FailedCalendarIDs) > 0
}
