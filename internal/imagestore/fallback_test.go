package imagestore_test

import (
	"os"
	"path/filepath"
	"testing"

	"calfeed/internal/imagestore"
)

func seedImages(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("seed %s: %v", name, err)
		}
	}
	return dir
}

func TestFallbackCategoryDirective(t *testing.T) {
	dir := seedImages(t, "fete.png", "other.jpg")

	got := imagestore.SelectFallback([]string{"Image=fete.png"}, dir, "REI", imagestore.FallbackOptions{})
	if got != "images/fete.png" {
		t.Fatalf("got %q", got)
	}

	// img= works too, case-insensitively.
	got = imagestore.SelectFallback([]string{"IMG=other.jpg"}, dir, "REI", imagestore.FallbackOptions{})
	if got != "images/other.jpg" {
		t.Fatalf("got %q", got)
	}
}

func TestFallbackCategoryAsFilename(t *testing.T) {
	dir := seedImages(t, "soiree.png")

	got := imagestore.SelectFallback([]string{"Festival", "soiree.png"}, dir, "REI", imagestore.FallbackOptions{})
	if got != "images/soiree.png" {
		t.Fatalf("got %q", got)
	}
}

func TestFallbackDirectiveMissingFileIgnored(t *testing.T) {
	dir := seedImages(t)

	got := imagestore.SelectFallback([]string{"image=absent.png"}, dir, "REI", imagestore.FallbackOptions{})
	if got != "" {
		t.Fatalf("got %q, want empty", got)
	}
}

func TestFallbackDefaultsDisabled(t *testing.T) {
	dir := seedImages(t, "rei.jpg")

	got := imagestore.SelectFallback(nil, dir, "rei", imagestore.FallbackOptions{})
	if got != "" {
		t.Fatalf("defaults disabled, got %q", got)
	}
}

func TestFallbackOverride(t *testing.T) {
	dir := seedImages(t, "special.webp", "rei.jpg")

	got := imagestore.SelectFallback(nil, dir, "REI", imagestore.FallbackOptions{
		DefaultImages: true,
		Override:      map[string]string{"REI": "special.webp"},
	})
	if got != "images/special.webp" {
		t.Fatalf("got %q", got)
	}
}

func TestFallbackSlugMatch(t *testing.T) {
	dir := seedImages(t, "rei.jpg", "unrelated.png")

	got := imagestore.SelectFallback(nil, dir, "REI", imagestore.FallbackOptions{DefaultImages: true})
	if got != "images/rei.jpg" {
		t.Fatalf("got %q", got)
	}
}

func TestFallbackBannerBasename(t *testing.T) {
	dir := seedImages(t, "banner.png", "notes.txt")

	got := imagestore.SelectFallback(nil, dir, "REI", imagestore.FallbackOptions{DefaultImages: true})
	if got != "images/banner.png" {
		t.Fatalf("got %q", got)
	}
}

func TestFallbackSingleImage(t *testing.T) {
	dir := seedImages(t, "only.webp", "readme.md")

	got := imagestore.SelectFallback(nil, dir, "REI", imagestore.FallbackOptions{DefaultImages: true})
	if got != "images/only.webp" {
		t.Fatalf("got %q", got)
	}
}

func TestFallbackMultipleImagesNoDefault(t *testing.T) {
	dir := seedImages(t, "a.png", "b.png")

	got := imagestore.SelectFallback(nil, dir, "REI", imagestore.FallbackOptions{DefaultImages: true})
	if got != "" {
		t.Fatalf("got %q, want empty", got)
	}
}
