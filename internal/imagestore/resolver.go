package imagestore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
	"golang.org/x/time/rate"

	appLog "calfeed/internal/log"
	"calfeed/internal/metrics"
	"calfeed/internal/model"
)

// maxAttachmentBytes caps a single downloaded attachment.
const maxAttachmentBytes = 32 << 20

// allowedImageExt is the extension set accepted for shared-volume
// filename references and for the fallback selector.
var allowedImageExt = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
	".gif":  true,
	".svg":  true,
}

// AllowedImageExt reports whether name carries an accepted image
// extension.
func AllowedImageExt(name string) bool {
	return allowedImageExt[strings.ToLower(filepath.Ext(name))]
}

// ResolverOptions configures a Resolver.
type ResolverOptions struct {
	// SharedRoot is the shared data volume mount; filename references
	// resolve to <SharedRoot>/data/<owner>/files/Calendar/<name>.
	SharedRoot string
	// PublicDir is the web root; resolved paths are reported relative to it.
	PublicDir string
	// ImagesDir is the output image directory, normally under PublicDir.
	ImagesDir string
	// Timeout bounds each attachment URL download.
	Timeout time.Duration
	// SafeFetch routes downloads through an SSRF-guarded client that
	// refuses private, loopback and link-local destinations.
	SafeFetch bool
	// Metrics is optional.
	Metrics *metrics.Collector
}

// Resolver turns one event's attachments into at most one image file
// under the output directory. Strategies are tried in a fixed priority
// order: shared-volume filename reference, then inline base64, then
// URL reference. Per-attachment failures are logged and counted, never
// propagated; a failed candidate falls through to the next attachment
// of the same kind, then to the next strategy.
type Resolver struct {
	opts    ResolverOptions
	client  *http.Client
	limiter *rate.Limiter
}

// NewResolver builds a Resolver. The download client is shared across
// the run and rate-limited so a feed full of URL attachments cannot
// hammer a single host.
func NewResolver(opts ResolverOptions) *Resolver {
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}

	var client *http.Client
	if opts.SafeFetch {
		config := safeurl.GetConfigBuilder().
			SetTimeout(opts.Timeout).
			SetAllowedSchemes("http", "https").
			SetAllowedPorts(80, 443).
			Build()
		client = safeurl.Client(config).Client
	} else {
		client = &http.Client{Timeout: opts.Timeout}
	}

	return &Resolver{
		opts:    opts,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(4), 4),
	}
}

// Resolve inspects the attachments of one event (in property order)
// and resolves the first usable image, or nil when none resolves.
// Within a strategy every matching attachment is tried in order, so a
// failed candidate falls through to the next one before the next
// strategy is consulted. assoc namespaces output files; owner selects
// the shared-volume subtree for filename references.
func (r *Resolver) Resolve(ctx context.Context, atts []model.Attachment, assoc, owner string) *model.ResolvedImage {
	// Strategy 1: shared-volume filename reference.
	for _, att := range atts {
		if att.Kind != model.AttachmentFileRef || !AllowedImageExt(att.Filename) {
			continue
		}
		img, aerr := r.resolveFileRef(att, assoc, owner)
		if aerr == nil {
			return img
		}
		r.reportFailure(aerr, assoc, "file", att.Filename)
	}

	// Strategy 2: inline base64.
	for i, att := range atts {
		if att.Kind != model.AttachmentInline {
			continue
		}
		img, aerr := r.resolveInline(att, assoc, i+1)
		if aerr == nil {
			return img
		}
		r.reportFailure(aerr, assoc, "inline", fmt.Sprintf("attachment %d", i+1))
	}

	// Strategy 3: URL reference.
	for i, att := range atts {
		if att.Kind != model.AttachmentURLRef {
			continue
		}
		img, aerr := r.resolveURLRef(ctx, att, assoc, i+1)
		if aerr == nil {
			return img
		}
		r.reportFailure(aerr, assoc, "url", att.URL)
	}

	return nil
}

func (r *Resolver) reportFailure(aerr *AttachmentError, assoc, strategy, ref string) {
	appLog.Error("attachment resolution failed", aerr, "association", assoc, "strategy", strategy, "ref", ref, "kind", string(aerr.Kind))
	r.opts.Metrics.RecordAttachmentFailure(string(aerr.Kind))
}

// resolveFileRef copies the referenced file from the shared volume
// into the output directory, namespaced by association and filename.
func (r *Resolver) resolveFileRef(att model.Attachment, assoc, owner string) (*model.ResolvedImage, *AttachmentError) {
	src := filepath.Join(r.opts.SharedRoot, "data", owner, "files", "Calendar", att.Filename)
	dest := filepath.Join(r.opts.ImagesDir, assoc, att.Filename)

	status, err := WriteFileIfChanged(dest, src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, attachErr(ErrSourceMissing, err)
		}
		return nil, attachErr(ErrWrite, err)
	}
	r.recordStatus(status)

	return r.resolved(dest), nil
}

// resolveInline decodes a base64 payload and writes it under a
// deterministic per-event filename.
func (r *Resolver) resolveInline(att model.Attachment, assoc string, idx int) (*model.ResolvedImage, *AttachmentError) {
	data, err := base64.StdEncoding.DecodeString(stripSpace(att.Payload))
	if err != nil {
		return nil, attachErr(ErrDecode, err)
	}

	ext := extFromMIME(att.MIMEType)
	if ext == ".bin" {
		if sniffed := sniffImageExt(data); sniffed != "" {
			ext = sniffed
		}
	}

	dest := filepath.Join(r.opts.ImagesDir, attachmentFilename(assoc, idx, ext))
	status, err := WriteBytesIfChanged(dest, data)
	if err != nil {
		return nil, attachErr(ErrWrite, err)
	}
	r.recordStatus(status)

	return r.resolved(dest), nil
}

// resolveURLRef downloads the referenced URL and persists the bytes.
func (r *Resolver) resolveURLRef(ctx context.Context, att model.Attachment, assoc string, idx int) (*model.ResolvedImage, *AttachmentError) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, attachErr(ErrFetch, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, att.URL, nil)
	if err != nil {
		return nil, attachErr(ErrFetch, err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, attachErr(ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, attachErr(ErrFetch, errors.New(resp.Status))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAttachmentBytes))
	if err != nil {
		return nil, attachErr(ErrFetch, err)
	}

	ext := extFromURL(att.URL)
	if ext == ".bin" && att.MIMEType != "" {
		ext = extFromMIME(att.MIMEType)
	}

	dest := filepath.Join(r.opts.ImagesDir, attachmentFilename(assoc, idx, ext))
	status, err := WriteBytesIfChanged(dest, data)
	if err != nil {
		return nil, attachErr(ErrWrite, err)
	}
	r.recordStatus(status)

	return r.resolved(dest), nil
}

func (r *Resolver) recordStatus(status Status) {
	switch status {
	case StatusWritten:
		r.opts.Metrics.RecordImageWritten()
	case StatusUnchanged:
		r.opts.Metrics.RecordImageUnchanged()
	}
}

// resolved builds the ResolvedImage for a written destination,
// computing the path relative to the public root.
func (r *Resolver) resolved(dest string) *model.ResolvedImage {
	rel, err := filepath.Rel(r.opts.PublicDir, dest)
	if err != nil || strings.HasPrefix(rel, "..") {
		// Destination outside the public root; fall back to a bare
		// images/<name> reference like the front-end expects.
		rel = filepath.Join("images", filepath.Base(dest))
	}
	return &model.ResolvedImage{
		Path:    dest,
		RelPath: filepath.ToSlash(rel),
	}
}

// attachmentFilename builds the deterministic output name for inline
// and URL attachments: <assoc>_attach_<n><ext>, association lowered.
func attachmentFilename(assoc string, idx int, ext string) string {
	return fmt.Sprintf("%s_attach_%d%s", strings.ToLower(assoc), idx, ext)
}

// extFromMIME maps a declared FMTTYPE onto a file extension, with fast
// paths for the common image types and ".bin" when nothing matches.
func extFromMIME(mimeType string) string {
	switch strings.ToLower(strings.TrimSpace(mimeType)) {
	case "":
		return ".bin"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	case "image/svg+xml":
		return ".svg"
	}
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

// extFromURL takes the extension of the URL's path component.
func extFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ".bin"
	}
	if ext := path.Ext(u.Path); ext != "" {
		return ext
	}
	return ".bin"
}

// sniffImageExt inspects magic bytes for JPEG, PNG and WEBP. Returns
// "" when no signature matches.
func sniffImageExt(b []byte) string {
	if len(b) >= 3 && b[0] == 0xFF && b[1] == 0xD8 && b[2] == 0xFF {
		return ".jpg"
	}
	if len(b) >= 8 && string(b[:8]) == "\x89PNG\r\n\x1a\n" {
		return ".png"
	}
	if len(b) >= 12 && string(b[:4]) == "RIFF" && string(b[8:12]) == "WEBP" {
		return ".webp"
	}
	return ""
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, s)
}
