package icalendar

import (
	"time"

	"github.com/emersion/go-ical"
	"go.uber.org/zap"

	"github.com/beekhof/caldav-agenda/internal/model"
)

// Parser converts one raw VEVENT component into the internal event model.
type Parser struct {
	norm *Normalizer
	log  *zap.Logger
}

// NewParser creates a Parser backed by the given normalizer.
func NewParser(norm *Normalizer, logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{norm: norm, log: logger}
}

// Parse extracts a normalized event from a VEVENT component. It returns
// ok=false when the component has no start time (an event that cannot be
// placed on the sync grid) or when parsing fails unexpectedly; a failure is
// logged against the owning calendar and never aborts the fetch cycle.
// All other field extraction is best-effort, defaulting to the empty string.
func (p *Parser) Parse(event *ical.Component, calendarID, calendarName string) (ev model.Event, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Warn("unexpected failure parsing event, skipping",
				zap.String("calendar", calendarName), zap.Any("cause", r))
			ev, ok = model.Event{}, false
		}
	}()

	dtstart := event.Props.Get(ical.PropDateTimeStart)
	if dtstart == nil {
		return model.Event{}, false
	}

	start := p.norm.Normalize(dtstart)
	end := start
	if dtend := event.Props.Get(ical.PropDateTimeEnd); dtend != nil {
		end = p.norm.Normalize(dtend)
	}
	// Normalization guarantees start <= end.
	if end.Before(start) {
		end = start
	}

	ev = model.Event{
		UID:            propText(event, ical.PropUID),
		Summary:        propText(event, ical.PropSummary),
		Description:    propText(event, ical.PropDescription),
		Location:       propText(event, ical.PropLocation),
		Start:          start,
		End:            end,
		AllDay:         IsDateOnly(dtstart),
		CalendarID:     calendarID,
		CalendarName:   calendarName,
		Attendees:      attendees(event),
		Organizer:      organizer(event),
		RecurrenceRule: propText(event, ical.PropRecurrenceRule),
	}
	return ev, true
}

func propText(event *ical.Component, name string) string {
	if prop := event.Props.Get(name); prop != nil {
		return prop.Value
	}
	return ""
}

// displayName prefers the CN parameter over the raw attendee/organizer
// token (typically a mailto: URI).
func displayName(prop *ical.Prop) string {
	if cn := prop.Params.Get("CN"); cn != "" {
		return cn
	}
	return prop.Value
}

// attendees normalizes the attendee property, which may occur any number of
// times, into an ordered sequence of display names.
func attendees(event *ical.Component) []string {
	props := event.Props.Values(ical.PropAttendee)
	if len(props) == 0 {
		return nil
	}
	names := make([]string, 0, len(props))
	for i := range props {
		names = append(names, displayName(&props[i]))
	}
	return names
}

func organizer(event *ical.Component) string {
	prop := event.Props.Get(ical.PropOrganizer)
	if prop == nil {
		return ""
	}
	return displayName(prop)
}

// NewEventCalendar builds a minimal single-event iCalendar object suitable
// for submission to a CalDAV collection.
func NewEventCalendar(uid, summary string, start, end time.Time, description, location string, stamp time.Time) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//calagenda//EN")

	vevent := ical.NewComponent(ical.CompEvent)
	vevent.Props.SetText(ical.PropUID, uid)
	vevent.Props.SetText(ical.PropSummary, summary)
	vevent.Props.SetDateTime(ical.PropDateTimeStart, start)
	vevent.Props.SetDateTime(ical.PropDateTimeEnd, end)
	if description != "" {
		vevent.Props.SetText(ical.PropDescription, description)
	}
	if location != "" {
		vevent.Props.SetText(ical.PropLocation, location)
	}
	vevent.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())

	cal.Children = append(cal.Children, vevent)
	return cal
}
