package imagestore

import (
	"os"
	"path/filepath"
	"strings"
)

// FallbackOptions gates the convention-based part of fallback
// selection (everything past the category directives).
type FallbackOptions struct {
	// DefaultImages enables slug/banner/single-file heuristics.
	DefaultImages bool
	// Override names a specific fallback file per association slug.
	Override map[string]string
}

// bannerBasenames are conventional names tried for a default banner
// image, in order.
var bannerBasenames = []string{"wallpaper", "banner", "hero", "cover"}

var fallbackExts = []string{".jpg", ".png", ".webp", ".jpeg"}

// SelectFallback picks an image for an event that resolved no
// attachment. It returns a path relative to the public root
// ("images/<name>") or "" when nothing applies.
//
// Order:
//  1. a category of the form image=<name> or img=<name> naming an
//     existing file in imagesDir
//  2. a category that exactly matches an existing filename
//  3. when enabled: per-slug override, <slug>.<ext>, common banner
//     basenames, then a lone image file in the directory
func SelectFallback(categories []string, imagesDir, slug string, opts FallbackOptions) string {
	for _, raw := range categories {
		s := strings.TrimSpace(raw)
		if s == "" {
			continue
		}
		low := strings.ToLower(s)
		if strings.HasPrefix(low, "image=") || strings.HasPrefix(low, "img=") {
			_, name, _ := strings.Cut(s, "=")
			name = strings.TrimSpace(name)
			if name != "" && fileExists(filepath.Join(imagesDir, name)) {
				return "images/" + name
			}
		}
		if fileExists(filepath.Join(imagesDir, s)) {
			return "images/" + s
		}
	}

	if !opts.DefaultImages {
		return ""
	}

	if name := opts.Override[slug]; name != "" && fileExists(filepath.Join(imagesDir, name)) {
		return "images/" + name
	}

	for _, base := range []string{slug, strings.ToLower(slug)} {
		for _, ext := range fallbackExts {
			if fileExists(filepath.Join(imagesDir, base+ext)) {
				return "images/" + base + ext
			}
		}
		if slug == strings.ToLower(slug) {
			break
		}
	}

	for _, base := range bannerBasenames {
		for _, ext := range fallbackExts {
			if fileExists(filepath.Join(imagesDir, base+ext)) {
				return "images/" + base + ext
			}
		}
	}

	// Last resort: a directory holding exactly one image is its own
	// default.
	entries, err := os.ReadDir(imagesDir)
	if err != nil {
		return ""
	}
	var only string
	for _, e := range entries {
		if e.IsDir() || !AllowedImageExt(e.Name()) {
			continue
		}
		if only != "" {
			return ""
		}
		only = e.Name()
	}
	if only != "" {
		return "images/" + only
	}
	return ""
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
