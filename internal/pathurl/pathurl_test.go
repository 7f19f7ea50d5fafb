package pathurl_test

import (
	"testing"

	"calfeed/internal/pathurl"
)

func TestNormalizeRootURL(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"whitespace only", "   ", ""},
		{"absolute http passes through", "http://example.org/a b.png", "http://example.org/a b.png"},
		{"absolute https passes through", "https://example.org/x", "https://example.org/x"},
		{"plain relative", "images/foo.png", "/images/foo.png"},
		{"leading dot slash", "./images/foo.png", "/images/foo.png"},
		{"leading slash", "/images/foo.png", "/images/foo.png"},
		{"spaces encoded", "images/foo bar.png", "/images/foo%20bar.png"},
		{"unicode encoded", "images/fête.jpg", "/images/f%C3%AAte.jpg"},
		{"consecutive slashes dropped", "images//foo.png", "/images/foo.png"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := pathurl.NormalizeRootURL(tc.in)
			if got != tc.want {
				t.Fatalf("NormalizeRootURL(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestNormalizeRootURLUnreservedIsIdentity(t *testing.T) {
	// For unreserved characters the result is the input plus a single
	// leading slash.
	in := "images/abc-DEF_123.png"
	if got := pathurl.NormalizeRootURL(in); got != "/"+in {
		t.Fatalf("got %q, want %q", got, "/"+in)
	}
}
