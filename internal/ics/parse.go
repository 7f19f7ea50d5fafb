package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "calfeed/internal/log"
	"calfeed/internal/model"
)

// ErrOwnerUnparseable is returned when the calendar display name does
// not carry an owner in the expected "NAME (USER)" shape.
var ErrOwnerUnparseable = errors.New("calendar display name does not match \"NAME (USER)\"")

// ParsedEvent is the normalized representation of a VEVENT as produced
// by the parser, before image resolution and output normalization.
type ParsedEvent struct {
	Feed model.Feed

	UID string

	Summary     string
	Description string
	Location    string
	URL         string // dedicated URL property, may be empty

	Start  time.Time
	End    time.Time
	HasEnd bool
	AllDay bool
	// EndAllDay tracks DTEND's own value shape; DTSTART and DTEND may
	// legally differ, and each renders according to its own form.
	EndAllDay bool

	Categories  []string
	Attachments []model.Attachment

	RawRRule   string
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID (if present)
	IsOverride bool       // true if this VEVENT overrides a recurring instance
}

// Calendar is one parsed feed body: its events in document order plus
// the storage owner extracted from the calendar display name.
type Calendar struct {
	Feed   model.Feed
	Owner  string // empty when the display name carries no owner
	Events []ParsedEvent
}

// ParseICS parses a single ICS payload.
//
//   - Events that fail to parse are logged and skipped; the rest of
//     the calendar is kept.
//   - ATTACH properties are classified into tagged Attachment variants
//     here, once, from their parameters; downstream code switches on
//     the tag.
//   - All-day detection inspects the DTSTART value format (VALUE=DATE
//     or no time-of-day component).
func ParseICS(feed model.Feed, body []byte) (Calendar, error) {
	out := Calendar{Feed: feed}

	if len(body) == 0 {
		return out, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "association", feed.Slug, "url", redactURL(feed.URL))
		return out, err
	}

	if name := calendarDisplayName(cal); name != "" {
		owner, oerr := OwnerFromCalendarName(name)
		if oerr != nil {
			appLog.Error("calendar owner unparseable, using association slug", oerr, "association", feed.Slug, "name", name)
		} else {
			out.Owner = owner
		}
	}

	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(feed, comp)
		if perr != nil {
			// Log and skip this event, but keep parsing others.
			appLog.Error("vevent parse failed", perr, "association", feed.Slug, "url", redactURL(feed.URL))
			continue
		}
		out.Events = append(out.Events, ev)
	}

	appLog.Info("ics parse completed", "association", feed.Slug, "url", redactURL(feed.URL), "event_count", len(out.Events))
	return out, nil
}

// OwnerFromCalendarName extracts the storage owner from a calendar
// display name of the form "NAME (USER)". The owner is the single
// parenthesized token; any other shape is an explicit error rather
// than a silent mis-parse.
func OwnerFromCalendarName(name string) (string, error) {
	name = strings.TrimSpace(name)
	open := strings.LastIndexByte(name, '(')
	if open <= 0 || !strings.HasSuffix(name, ")") {
		return "", fmt.Errorf("%w: %q", ErrOwnerUnparseable, name)
	}
	owner := strings.TrimSpace(name[open+1 : len(name)-1])
	if owner == "" || strings.ContainsAny(owner, " ()") {
		return "", fmt.Errorf("%w: %q", ErrOwnerUnparseable, name)
	}
	return owner, nil
}

// calendarDisplayName reads X-WR-CALNAME (or NAME) from the calendar
// properties.
func calendarDisplayName(cal *ical.Calendar) string {
	for _, p := range cal.CalendarProperties {
		switch p.IANAToken {
		case "X-WR-CALNAME", "NAME":
			if p.Value != "" {
				return p.Value
			}
		}
	}
	return ""
}

func parseVEvent(feed model.Feed, ve *ical.VEvent) (ParsedEvent, error) {
	var out ParsedEvent
	out.Feed = feed

	if uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId); uidProp != nil {
		out.UID = uidProp.Value
	}

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = p.Value
	}
	// Use the raw property name; the constant set differs across
	// library versions.
	if p := ve.GetProperty("URL"); p != nil {
		out.URL = p.Value
	}

	dtStartProp := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStartProp == nil || dtStartProp.Value == "" {
		return out, errors.New("missing DTSTART")
	}
	start, allDay, err := parseDateTimeProp(dtStartProp)
	if err != nil {
		return out, fmt.Errorf("DTSTART: %w", err)
	}
	out.Start = start
	out.AllDay = allDay

	if dtEndProp := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEndProp != nil && dtEndProp.Value != "" {
		end, endAllDay, eerr := parseDateTimeProp(dtEndProp)
		if eerr != nil {
			return out, fmt.Errorf("DTEND: %w", eerr)
		}
		out.End = end
		out.HasEnd = true
		out.EndAllDay = endAllDay
	}

	out.Categories = parseCategories(ve)
	out.Attachments = parseAttachments(ve)

	if rruleProp := ve.GetProperty(ical.ComponentPropertyRrule); rruleProp != nil {
		out.RawRRule = rruleProp.Value
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, terr := parseICSTime(part); terr == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	if ridProp := ve.GetProperty("RECURRENCE-ID"); ridProp != nil {
		if t, terr := parseICSTime(ridProp.Value); terr == nil {
			out.Recurrence = &t
			out.IsOverride = true
		}
	}

	return out, nil
}

// parseCategories flattens all CATEGORIES properties (each may carry a
// comma-separated list) into one slice, in property order.
func parseCategories(ve *ical.VEvent) []string {
	var out []string
	for _, p := range ve.GetProperties("CATEGORIES") {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// parseAttachments classifies each ATTACH property into a tagged
// variant, in property order:
//
//   - FILENAME parameter present        -> file reference (shared volume)
//   - ENCODING=BASE64 and VALUE=BINARY  -> inline binary
//   - value is an absolute http(s) URL  -> URL reference
//
// Anything else (e.g. a CID reference) is dropped here; the resolver
// would have no strategy for it anyway.
func parseAttachments(ve *ical.VEvent) []model.Attachment {
	var out []model.Attachment
	for _, p := range ve.GetProperties("ATTACH") {
		mimeType := firstParam(p.ICalParameters, "FMTTYPE")

		if filename := firstParam(p.ICalParameters, "FILENAME"); filename != "" {
			out = append(out, model.Attachment{
				Kind:     model.AttachmentFileRef,
				MIMEType: mimeType,
				// The calendar app writes the name with a leading "/",
				// which would defeat path joining.
				Filename: strings.TrimPrefix(filename, "/"),
			})
			continue
		}

		encoding := firstParam(p.ICalParameters, "ENCODING")
		valueType := firstParam(p.ICalParameters, "VALUE")
		if strings.EqualFold(encoding, "BASE64") && strings.EqualFold(valueType, "BINARY") {
			out = append(out, model.Attachment{
				Kind:     model.AttachmentInline,
				MIMEType: mimeType,
				Payload:  p.Value,
			})
			continue
		}

		if strings.HasPrefix(p.Value, "http://") || strings.HasPrefix(p.Value, "https://") {
			out = append(out, model.Attachment{
				Kind:     model.AttachmentURLRef,
				MIMEType: mimeType,
				URL:      p.Value,
			})
		}
	}
	return out
}

func firstParam(params map[string][]string, key string) string {
	if params == nil {
		return ""
	}
	if vs, ok := params[key]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// parseDateTimeProp parses DTSTART/DTEND with parameter context.
// Date-only values (VALUE=DATE or no "T") mark the event all-day.
// Timezone-naive date-times are interpreted as UTC, which is also how
// they are rendered downstream.
func parseDateTimeProp(p *ical.IANAProperty) (time.Time, bool, error) {
	val := strings.TrimSpace(p.Value)
	if val == "" {
		return time.Time{}, false, errors.New("empty date value")
	}

	dateOnly := !strings.Contains(val, "T")
	if vs := firstParam(p.ICalParameters, "VALUE"); strings.EqualFold(vs, "DATE") {
		dateOnly = true
	}

	if dateOnly {
		t, err := time.ParseInLocation("20060102", val, time.UTC)
		return t, true, err
	}

	if strings.HasSuffix(val, "Z") {
		t, err := time.Parse("20060102T150405Z", val)
		return t, false, err
	}

	if tzid := firstParam(p.ICalParameters, "TZID"); tzid != "" {
		loc, lerr := time.LoadLocation(tzid)
		if lerr != nil {
			appLog.Error("unknown TZID, falling back to UTC", lerr, "tzid", tzid)
			loc = time.UTC
		}
		t, err := time.ParseInLocation("20060102T150405", val, loc)
		return t, false, err
	}

	t, err := time.ParseInLocation("20060102T150405", val, time.UTC)
	return t, false, err
}

// parseICSTime parses a basic ICS date/date-time string without
// parameter context (EXDATE list entries, RECURRENCE-ID).
func parseICSTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}

	// UTC form, e.g. 20250101T090000Z
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}

	// Naive date-time, e.g. 20250101T090000
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, time.UTC)
	}

	// Date-only, e.g. 20250101
	return time.ParseInLocation("20060102", v, time.UTC)
}
