// Package pathurl turns arbitrary relative or absolute path strings
// into root-relative, percent-encoded URLs safe to embed in JSON
// consumed by a web client.
package pathurl

import (
	"net/url"
	"strings"
)

// NormalizeRootURL returns a root-relative URL like
// "/images/foo%20bar.png" for the given raw path. Absolute http(s)
// URLs are returned unchanged. Empty input yields "".
//
// Each path segment is percent-encoded independently so that spaces
// and non-ASCII characters in filenames survive as valid URL path
// segments. Input is assumed raw; already-encoded strings would be
// encoded a second time.
func NormalizeRootURL(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		return s
	}

	s = strings.TrimLeft(s, "./")

	parts := strings.Split(s, "/")
	encoded := make([]string, 0, len(parts))
	for _, seg := range parts {
		if seg == "" {
			continue
		}
		encoded = append(encoded, url.PathEscape(seg))
	}
	return "/" + strings.Join(encoded, "/")
}
