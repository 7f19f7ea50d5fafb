package model

// Feed maps an association slug to its ICS source URL. The slug is the
// uppercase identifier used for logging, image namespacing and the
// output JSON; feeds are resolved once per run and immutable after.
type Feed struct {
	Slug string
	URL  string
}

// AttachmentKind discriminates how an ATTACH property carries its
// payload. The kind is decided once at parse time from the property
// parameters; consumers switch on it instead of re-deriving intent
// from which fields happen to be set.
type AttachmentKind string

const (
	// AttachmentFileRef references a file on the shared data volume
	// via the FILENAME parameter.
	AttachmentFileRef AttachmentKind = "file"
	// AttachmentInline carries base64 binary content
	// (ENCODING=BASE64, VALUE=BINARY).
	AttachmentInline AttachmentKind = "inline"
	// AttachmentURLRef carries an absolute http(s) URL as its value.
	AttachmentURLRef AttachmentKind = "url"
)

// Attachment is one ATTACH property of a calendar event. Exactly one
// of Payload, URL or Filename is meaningful, per Kind.
type Attachment struct {
	Kind     AttachmentKind
	MIMEType string // FMTTYPE parameter, may be empty

	Payload  string // inline: raw base64 text, not yet decoded
	URL      string // url-ref: absolute http(s) URL
	Filename string // file-ref: name on the shared volume, leading "/" stripped
}

// ResolvedImage is the outcome of attachment resolution: the written
// destination file plus its path relative to the public root
// (slash-separated, not yet percent-encoded).
type ResolvedImage struct {
	Path    string
	RelPath string
}

// ExtendedProps is the extension block of a normalized event, consumed
// verbatim by the calendar front-end.
type ExtendedProps struct {
	Association      string  `json:"association"`
	Description      string  `json:"description"`
	Location         string  `json:"location"`
	Image            *string `json:"image"`
	RegistrationLink *string `json:"registrationLink"`
}

// NormalizedEvent is one element of the output JSON array. End is
// omitted entirely when the source event has no DTEND.
type NormalizedEvent struct {
	ID       string        `json:"id"`
	Title    string        `json:"title"`
	Start    string        `json:"start"`
	End      string        `json:"end,omitempty"`
	AllDay   bool          `json:"allDay"`
	Extended ExtendedProps `json:"extendedProps"`
}
