package ics

import (
	"strings"
	"testing"
	"time"

	"calfeed/internal/model"
)

func icsDoc(events ...string) []byte {
	var b strings.Builder
	b.WriteString("BEGIN:VCALENDAR\r\n")
	b.WriteString("VERSION:2.0\r\n")
	b.WriteString("PRODID:-//calfeed test//EN\r\n")
	b.WriteString("X-WR-CALNAME:Rei Calendar (rei)\r\n")
	for _, ev := range events {
		b.WriteString("BEGIN:VEVENT\r\n")
		b.WriteString(ev)
		b.WriteString("END:VEVENT\r\n")
	}
	b.WriteString("END:VCALENDAR\r\n")
	return []byte(b.String())
}

var testFeed = model.Feed{Slug: "REI", URL: "http://calendars.example/rei.ics"}

func TestParseICSOwnerAndBasics(t *testing.T) {
	body := icsDoc(
		"UID:evt-1\r\n" +
			"DTSTART;VALUE=DATE:20240901\r\n" +
			"SUMMARY:Rentrée\r\n" +
			"DESCRIPTION:Premier événement\r\n" +
			"LOCATION:Salon étudiant\r\n" +
			"URL:https://rei.example/inscription\r\n")

	cal, err := ParseICS(testFeed, body)
	if err != nil {
		t.Fatalf("ParseICS: %v", err)
	}
	if cal.Owner != "rei" {
		t.Fatalf("Owner = %q, want rei", cal.Owner)
	}
	if len(cal.Events) != 1 {
		t.Fatalf("events = %d, want 1", len(cal.Events))
	}

	ev := cal.Events[0]
	if !ev.AllDay {
		t.Fatal("VALUE=DATE start must be all-day")
	}
	if got := ev.Start.Format("2006-01-02"); got != "2024-09-01" {
		t.Fatalf("Start = %s", got)
	}
	if ev.HasEnd {
		t.Fatal("no DTEND, HasEnd must be false")
	}
	if ev.URL != "https://rei.example/inscription" {
		t.Fatalf("URL = %q", ev.URL)
	}
}

func TestParseICSNaiveDateTimeIsUTC(t *testing.T) {
	body := icsDoc(
		"UID:evt-2\r\n" +
			"DTSTART:20240901T180000\r\n" +
			"DTEND:20240901T200000\r\n" +
			"SUMMARY:Soirée\r\n")

	cal, err := ParseICS(testFeed, body)
	if err != nil {
		t.Fatalf("ParseICS: %v", err)
	}
	ev := cal.Events[0]
	if ev.AllDay {
		t.Fatal("date-time start must not be all-day")
	}
	want := time.Date(2024, 9, 1, 18, 0, 0, 0, time.UTC)
	if !ev.Start.Equal(want) {
		t.Fatalf("Start = %v, want %v", ev.Start, want)
	}
	if !ev.HasEnd || !ev.End.Equal(want.Add(2*time.Hour)) {
		t.Fatalf("End = %v hasEnd=%v", ev.End, ev.HasEnd)
	}
}

func TestParseICSMixedStartEndShapes(t *testing.T) {
	body := icsDoc(
		"UID:evt-mixed\r\n" +
			"DTSTART:20240901T180000Z\r\n" +
			"DTEND;VALUE=DATE:20240902\r\n" +
			"SUMMARY:Nuit blanche\r\n")

	cal, err := ParseICS(testFeed, body)
	if err != nil {
		t.Fatalf("ParseICS: %v", err)
	}
	ev := cal.Events[0]
	if ev.AllDay {
		t.Fatal("timed DTSTART must not mark the event all-day")
	}
	// DTEND carries its own shape, independent of DTSTART's.
	if !ev.EndAllDay {
		t.Fatal("VALUE=DATE DTEND must set EndAllDay")
	}
	if got := ev.End.Format("2006-01-02"); got != "2024-09-02" {
		t.Fatalf("End = %s", got)
	}
}

func TestParseICSAttachmentClassification(t *testing.T) {
	body := icsDoc(
		"UID:evt-3\r\n" +
			"DTSTART;VALUE=DATE:20240901\r\n" +
			"SUMMARY:Affiches\r\n" +
			"ATTACH;FMTTYPE=image/png;FILENAME=/affiche.png:/f/42\r\n" +
			"ATTACH;ENCODING=BASE64;VALUE=BINARY;FMTTYPE=image/jpeg:aGVsbG8=\r\n" +
			"ATTACH:https://cdn.example/poster.jpg\r\n" +
			"ATTACH:cid:not-a-thing\r\n")

	cal, err := ParseICS(testFeed, body)
	if err != nil {
		t.Fatalf("ParseICS: %v", err)
	}
	atts := cal.Events[0].Attachments
	if len(atts) != 3 {
		t.Fatalf("attachments = %d, want 3 (cid dropped)", len(atts))
	}

	if atts[0].Kind != model.AttachmentFileRef || atts[0].Filename != "affiche.png" {
		t.Fatalf("att[0] = %+v", atts[0])
	}
	if atts[0].MIMEType != "image/png" {
		t.Fatalf("att[0] mime = %q", atts[0].MIMEType)
	}
	if atts[1].Kind != model.AttachmentInline || atts[1].Payload != "aGVsbG8=" {
		t.Fatalf("att[1] = %+v", atts[1])
	}
	if atts[2].Kind != model.AttachmentURLRef || atts[2].URL != "https://cdn.example/poster.jpg" {
		t.Fatalf("att[2] = %+v", atts[2])
	}
}

func TestParseICSCategories(t *testing.T) {
	body := icsDoc(
		"UID:evt-4\r\n" +
			"DTSTART;VALUE=DATE:20240901\r\n" +
			"SUMMARY:Catégories\r\n" +
			"CATEGORIES:image=fete.png,Festival\r\n")

	cal, err := ParseICS(testFeed, body)
	if err != nil {
		t.Fatalf("ParseICS: %v", err)
	}
	cats := cal.Events[0].Categories
	if len(cats) != 2 || cats[0] != "image=fete.png" || cats[1] != "Festival" {
		t.Fatalf("categories = %v", cats)
	}
}

func TestParseICSSkipsBrokenEvent(t *testing.T) {
	body := icsDoc(
		"UID:broken\r\nSUMMARY:No start\r\n",
		"UID:ok\r\nDTSTART;VALUE=DATE:20240902\r\nSUMMARY:Fine\r\n")

	cal, err := ParseICS(testFeed, body)
	if err != nil {
		t.Fatalf("ParseICS: %v", err)
	}
	if len(cal.Events) != 1 || cal.Events[0].UID != "ok" {
		t.Fatalf("events = %+v", cal.Events)
	}
}

func TestOwnerFromCalendarName(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"Rei Calendar (rei)", "rei", false},
		{"Calendrier (age-user)", "age-user", false},
		{"No owner here", "", true},
		{"Trailing (a) (b)", "b", false},
		{"(orphan)", "", true},
		{"Bad (two words)", "", true},
		{"", "", true},
	}
	for _, tc := range cases {
		got, err := OwnerFromCalendarName(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("OwnerFromCalendarName(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("OwnerFromCalendarName(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("OwnerFromCalendarName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseICSEmptyBody(t *testing.T) {
	if _, err := ParseICS(testFeed, nil); err == nil {
		t.Fatal("expected error for empty body")
	}
}
