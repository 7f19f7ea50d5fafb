package pipeline

import (
	"strconv"
	"strings"
	"time"

	"calfeed/internal/ics"
	"calfeed/internal/model"
)

// NormalizeEvent assembles the output record for one parsed event.
// id is the run-wide 1-based sequence number, threaded through the
// driver rather than held in package state so assignment stays
// deterministic and testable. imageURL is the already-normalized
// root-relative image URL, or "" for none.
func NormalizeEvent(ev ics.ParsedEvent, id int, assoc, imageURL string) model.NormalizedEvent {
	out := model.NormalizedEvent{
		ID:     strconv.Itoa(id),
		Title:  ev.Summary,
		Start:  formatInstant(ev.Start, ev.AllDay),
		AllDay: ev.AllDay,
		Extended: model.ExtendedProps{
			Association: assoc,
			Description: ev.Description,
			Location:    ev.Location,
		},
	}

	if ev.HasEnd {
		out.End = formatInstant(ev.End, ev.EndAllDay)
	}
	if imageURL != "" {
		out.Extended.Image = &imageURL
	}
	if link := RegistrationLink(ev.Description, ev.URL); link != "" {
		out.Extended.RegistrationLink = &link
	}

	return out
}

// formatInstant renders a date-only instant as YYYY-MM-DD and a
// date-time as RFC 3339 with its offset (parse normalizes naive
// values to UTC, so the offset is always explicit).
func formatInstant(t time.Time, allDay bool) string {
	if allDay {
		return t.Format("2006-01-02")
	}
	return t.Format(time.RFC3339)
}

// registrationSeparators are the characters a description is split on
// when scanning for an embedded sign-up URL.
func registrationSeparator(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '(', ')', '{', '}', '[', ']':
		return true
	}
	return false
}

// RegistrationLink extracts the sign-up link for an event: the last
// http(s) token found in the description wins; when the description
// has none, the event's dedicated URL property is used. Returns ""
// when neither yields a link.
func RegistrationLink(description, urlProp string) string {
	link := ""
	for _, tok := range strings.FieldsFunc(description, registrationSeparator) {
		if strings.HasPrefix(tok, "http://") || strings.HasPrefix(tok, "https://") {
			link = tok
		}
	}
	if link == "" {
		link = strings.TrimSpace(urlProp)
	}
	return link
}
