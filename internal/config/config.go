package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"calfeed/internal/model"
)

// envFeedSuffix marks environment variables that define a feed:
// REI_ICS=https://... becomes the feed {Slug: "REI", URL: "https://..."}.
const envFeedSuffix = "_ICS"

// FeedConfig describes a single ICS subscription in the YAML config.
type FeedConfig struct {
	// Slug is the association identifier (uppercase by convention).
	Slug string `yaml:"slug" json:"slug"`
	// URL is the ICS endpoint.
	URL string `yaml:"url" json:"url"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for serve mode.
	Listen string `yaml:"listen" json:"listen"`

	// FeedsFile is an optional line-oriented SLUG=URL file, merged on
	// top of env-provided feeds.
	FeedsFile string `yaml:"feeds_file" json:"feeds_file"`

	// Feeds is the YAML-native feed list, merged last.
	Feeds []FeedConfig `yaml:"feeds" json:"feeds"`

	// PublicDir is the web root the front-end serves; events.json and
	// the images directory live underneath it.
	PublicDir string `yaml:"public_dir" json:"public_dir"`

	// Output is the events JSON path. Defaults to <public_dir>/events.json.
	Output string `yaml:"output" json:"output"`

	// ImagesDir is where resolved images are written.
	// Defaults to <public_dir>/images.
	ImagesDir string `yaml:"images_dir" json:"images_dir"`

	// SharedRoot is the mount point of the shared data volume used for
	// filename-reference attachments (<root>/data/<owner>/files/Calendar/...).
	SharedRoot string `yaml:"shared_root" json:"shared_root"`

	// CacheDir holds the per-URL feed fetch cache.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// Refresh is a cron-style schedule string for daemon mode.
	Refresh string `yaml:"refresh" json:"refresh"`

	// FetchTimeoutSeconds bounds each feed and attachment HTTP request.
	FetchTimeoutSeconds int `yaml:"fetch_timeout_seconds" json:"fetch_timeout_seconds"`

	// SafeAttachmentFetch routes attachment URL downloads through an
	// SSRF-guarded client. Leave off when attachments are served from a
	// private-network host.
	SafeAttachmentFetch bool `yaml:"safe_attachment_fetch" json:"safe_attachment_fetch"`

	// DefaultImages enables the default-image heuristics of the
	// fallback selector (slug match, banner basenames, single file).
	DefaultImages bool `yaml:"default_images" json:"default_images"`

	// DefaultImage optionally names a specific fallback file per slug.
	DefaultImage map[string]string `yaml:"default_image" json:"default_image"`

	// ExpandRecurring expands RRULE events into concrete occurrences
	// within the horizon. Off by default so output order stays the
	// feed's own event order.
	ExpandRecurring bool `yaml:"expand_recurring" json:"expand_recurring"`

	// HorizonDays bounds recurrence expansion around the current time.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	// LogLevel is one of "debug", "info", "error".
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:              "127.0.0.1:8080",
		FeedsFile:           "/config/feeds.txt",
		Feeds:               []FeedConfig{},
		PublicDir:           "calendar-app/public",
		SharedRoot:          "/ncdata",
		CacheDir:            "./var/ics-cache",
		Refresh:             "*/5 * * * *",
		FetchTimeoutSeconds: 20,
		DefaultImage:        map[string]string{},
		HorizonDays:         365,
		LogLevel:            "info",
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.PublicDir == "" {
		c.PublicDir = "calendar-app/public"
	}
	if c.Output == "" {
		c.Output = filepath.Join(c.PublicDir, "events.json")
	}
	if c.ImagesDir == "" {
		c.ImagesDir = filepath.Join(c.PublicDir, "images")
	}
	if c.SharedRoot == "" {
		c.SharedRoot = "/ncdata"
	}
	if c.CacheDir == "" {
		c.CacheDir = "./var/ics-cache"
	}
	if c.Refresh == "" {
		c.Refresh = "*/5 * * * *"
	}
	if c.FetchTimeoutSeconds <= 0 {
		c.FetchTimeoutSeconds = 20
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = 365
	}
	if c.DefaultImage == nil {
		c.DefaultImage = map[string]string{}
	}
	if c.Feeds == nil {
		c.Feeds = []FeedConfig{}
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Load loads configuration from the given YAML path.
//
// If the file does not exist, a default config is written there (0600)
// and returned, so a first run leaves a template behind.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the configuration atomically (temp file + rename, 0600).
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".calfeed-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// ResolveFeeds merges the three feed sources into one ordered list:
// environment variables ending in _ICS (sorted by slug), then the
// feeds file, then the YAML feeds list. Later sources override the URL
// of an already-seen slug without changing its position, so iteration
// order is stable across runs.
//
// environ takes os.Environ()-shaped "KEY=VALUE" strings; the pipeline
// itself never reads the process environment.
func (c *Config) ResolveFeeds(environ []string) []model.Feed {
	order := make([]string, 0)
	bySlug := make(map[string]string)

	add := func(slug, url string) {
		slug = strings.TrimSpace(slug)
		if slug == "" {
			return
		}
		if _, seen := bySlug[slug]; !seen {
			order = append(order, slug)
		}
		bySlug[slug] = NormalizeFeedURL(url)
	}

	for _, f := range feedsFromEnv(environ) {
		add(f.Slug, f.URL)
	}
	for _, f := range parseFeedsFile(c.FeedsFile) {
		add(f.Slug, f.URL)
	}
	for _, f := range c.Feeds {
		add(f.Slug, f.URL)
	}

	feeds := make([]model.Feed, 0, len(order))
	for _, slug := range order {
		feeds = append(feeds, model.Feed{Slug: slug, URL: bySlug[slug]})
	}
	return feeds
}

// feedsFromEnv extracts feeds from KEY=VALUE pairs whose key ends in
// _ICS, e.g. REI_ICS. Results are sorted by slug for determinism.
func feedsFromEnv(environ []string) []model.Feed {
	feeds := make([]model.Feed, 0)
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if !strings.HasSuffix(k, envFeedSuffix) {
			continue
		}
		slug := strings.TrimSuffix(k, envFeedSuffix)
		if slug == "" {
			continue
		}
		feeds = append(feeds, model.Feed{Slug: slug, URL: v})
	}
	sort.Slice(feeds, func(i, j int) bool { return feeds[i].Slug < feeds[j].Slug })
	return feeds
}

// parseFeedsFile reads a line-oriented SLUG=URL file. Blank lines and
// "#" comments are skipped. A missing file yields no feeds.
func parseFeedsFile(path string) []model.Feed {
	feeds := make([]model.Feed, 0)
	if path == "" {
		return feeds
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return feeds
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		slug, url, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		feeds = append(feeds, model.Feed{Slug: strings.TrimSpace(slug), URL: strings.TrimSpace(url)})
	}
	return feeds
}

// NormalizeFeedURL strips surrounding quotes and rewrites webcal:// to
// http://, which is what the calendar hosts actually speak.
func NormalizeFeedURL(url string) string {
	url = strings.TrimSpace(url)
	url = strings.Trim(url, `"'`)
	if strings.HasPrefix(url, "webcal://") {
		url = "http://" + strings.TrimPrefix(url, "webcal://")
	}
	return url
}
