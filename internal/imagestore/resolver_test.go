package imagestore_test

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"calfeed/internal/imagestore"
	"calfeed/internal/model"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), []byte("fake-png-body")...)

type resolverDirs struct {
	sharedRoot string
	publicDir  string
	imagesDir  string
}

func newTestResolver(t *testing.T) (*imagestore.Resolver, resolverDirs) {
	t.Helper()
	root := t.TempDir()
	d := resolverDirs{
		sharedRoot: filepath.Join(root, "shared"),
		publicDir:  filepath.Join(root, "public"),
		imagesDir:  filepath.Join(root, "public", "images"),
	}
	r := imagestore.NewResolver(imagestore.ResolverOptions{
		SharedRoot: d.sharedRoot,
		PublicDir:  d.publicDir,
		ImagesDir:  d.imagesDir,
	})
	return r, d
}

func seedSharedFile(t *testing.T, d resolverDirs, owner, name string, data []byte) {
	t.Helper()
	path := filepath.Join(d.sharedRoot, "data", owner, "files", "Calendar", name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestResolveFileRefPrecedesInline(t *testing.T) {
	r, d := newTestResolver(t)
	seedSharedFile(t, d, "rei", "affiche.png", pngBytes)

	// Inline comes first in property order; the filename reference
	// must still win.
	atts := []model.Attachment{
		{Kind: model.AttachmentInline, Payload: base64.StdEncoding.EncodeToString(pngBytes)},
		{Kind: model.AttachmentFileRef, Filename: "affiche.png"},
	}

	img := r.Resolve(context.Background(), atts, "REI", "rei")
	if img == nil {
		t.Fatal("expected a resolved image")
	}
	if img.RelPath != "images/REI/affiche.png" {
		t.Fatalf("RelPath = %q", img.RelPath)
	}
	if _, err := os.Stat(filepath.Join(d.imagesDir, "REI", "affiche.png")); err != nil {
		t.Fatalf("destination not written: %v", err)
	}
}

func TestResolveFileRefMissingSourceFallsThrough(t *testing.T) {
	r, d := newTestResolver(t)

	atts := []model.Attachment{
		{Kind: model.AttachmentFileRef, Filename: "gone.png"},
		{Kind: model.AttachmentInline, Payload: base64.StdEncoding.EncodeToString(pngBytes)},
	}

	img := r.Resolve(context.Background(), atts, "REI", "rei")
	if img == nil {
		t.Fatal("expected inline fallthrough to resolve")
	}
	// Inline attachment is at position 2 and magic-sniffs as PNG.
	if img.RelPath != "images/rei_attach_2.png" {
		t.Fatalf("RelPath = %q", img.RelPath)
	}
	if _, err := os.Stat(filepath.Join(d.imagesDir, "rei_attach_2.png")); err != nil {
		t.Fatalf("destination not written: %v", err)
	}
}

func TestResolveInlineSniffsPNGWithoutMIME(t *testing.T) {
	r, _ := newTestResolver(t)

	atts := []model.Attachment{
		{Kind: model.AttachmentInline, Payload: base64.StdEncoding.EncodeToString(pngBytes)},
	}

	img := r.Resolve(context.Background(), atts, "AGE", "age")
	if img == nil {
		t.Fatal("expected a resolved image")
	}
	if filepath.Ext(img.Path) != ".png" {
		t.Fatalf("extension = %q, want .png", filepath.Ext(img.Path))
	}
}

func TestResolveInlineUsesDeclaredMIME(t *testing.T) {
	r, _ := newTestResolver(t)

	atts := []model.Attachment{
		{
			Kind:     model.AttachmentInline,
			MIMEType: "image/webp",
			Payload:  base64.StdEncoding.EncodeToString([]byte("not-really-webp")),
		},
	}

	img := r.Resolve(context.Background(), atts, "AGE", "age")
	if img == nil {
		t.Fatal("expected a resolved image")
	}
	if img.RelPath != "images/age_attach_1.webp" {
		t.Fatalf("RelPath = %q", img.RelPath)
	}
}

func TestResolveInlineBadBase64FallsThroughToURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(pngBytes)
	}))
	defer srv.Close()

	r, _ := newTestResolver(t)

	atts := []model.Attachment{
		{Kind: model.AttachmentInline, Payload: "%%%not-base64%%%"},
		{Kind: model.AttachmentURLRef, URL: srv.URL + "/poster.jpg"},
	}

	img := r.Resolve(context.Background(), atts, "REI", "rei")
	if img == nil {
		t.Fatal("expected URL fallthrough to resolve")
	}
	if img.RelPath != "images/rei_attach_2.jpg" {
		t.Fatalf("RelPath = %q", img.RelPath)
	}
}

func TestResolveSecondInlineAfterDecodeFailure(t *testing.T) {
	r, d := newTestResolver(t)

	// The corrupt first inline must not end the inline strategy; the
	// valid second one still resolves.
	atts := []model.Attachment{
		{Kind: model.AttachmentInline, Payload: "%%%not-base64%%%"},
		{Kind: model.AttachmentInline, Payload: base64.StdEncoding.EncodeToString(pngBytes)},
	}

	img := r.Resolve(context.Background(), atts, "REI", "rei")
	if img == nil {
		t.Fatal("expected second inline attachment to resolve")
	}
	if img.RelPath != "images/rei_attach_2.png" {
		t.Fatalf("RelPath = %q", img.RelPath)
	}
	if _, err := os.Stat(filepath.Join(d.imagesDir, "rei_attach_2.png")); err != nil {
		t.Fatalf("destination not written: %v", err)
	}
}

func TestResolveSecondFileRefAfterMissingSource(t *testing.T) {
	r, d := newTestResolver(t)
	seedSharedFile(t, d, "rei", "present.png", pngBytes)

	atts := []model.Attachment{
		{Kind: model.AttachmentFileRef, Filename: "gone.png"},
		{Kind: model.AttachmentFileRef, Filename: "present.png"},
	}

	img := r.Resolve(context.Background(), atts, "REI", "rei")
	if img == nil {
		t.Fatal("expected second filename reference to resolve")
	}
	if img.RelPath != "images/REI/present.png" {
		t.Fatalf("RelPath = %q", img.RelPath)
	}
}

func TestResolveURLRefHTTPErrorYieldsNone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	r, _ := newTestResolver(t)

	atts := []model.Attachment{
		{Kind: model.AttachmentURLRef, URL: srv.URL + "/poster.jpg"},
	}

	if img := r.Resolve(context.Background(), atts, "REI", "rei"); img != nil {
		t.Fatalf("expected nil, got %+v", img)
	}
}

func TestResolveNoAttachments(t *testing.T) {
	r, _ := newTestResolver(t)
	if img := r.Resolve(context.Background(), nil, "REI", "rei"); img != nil {
		t.Fatalf("expected nil, got %+v", img)
	}
}

func TestResolveRerunIsIdempotent(t *testing.T) {
	r, d := newTestResolver(t)
	seedSharedFile(t, d, "rei", "affiche.png", pngBytes)

	atts := []model.Attachment{{Kind: model.AttachmentFileRef, Filename: "affiche.png"}}

	first := r.Resolve(context.Background(), atts, "REI", "rei")
	if first == nil {
		t.Fatal("first resolve failed")
	}
	info1, _ := os.Stat(first.Path)

	second := r.Resolve(context.Background(), atts, "REI", "rei")
	if second == nil {
		t.Fatal("second resolve failed")
	}
	info2, _ := os.Stat(second.Path)

	if !info1.ModTime().Equal(info2.ModTime()) {
		t.Fatal("second run must not rewrite an unchanged destination")
	}
}
