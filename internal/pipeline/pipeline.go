// Package pipeline drives one full ingestion run: fetch every
// configured feed, normalize its events, resolve images, and write the
// output JSON array.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"calfeed/internal/config"
	"calfeed/internal/ics"
	"calfeed/internal/imagestore"
	appLog "calfeed/internal/log"
	"calfeed/internal/metrics"
	"calfeed/internal/model"
	"calfeed/internal/pathurl"
)

// Pipeline folds configured feeds into a single normalized event
// array. Feeds are processed sequentially in configuration order;
// per-feed and per-attachment failures are logged and skipped, and
// only an output write failure makes Run return an error.
type Pipeline struct {
	cfg       *config.Config
	feeds     []model.Feed
	fetcher   *ics.Fetcher
	resolver  *imagestore.Resolver
	collector *metrics.Collector
}

// New builds a Pipeline. collector may be nil for one-shot runs.
func New(cfg *config.Config, feeds []model.Feed, collector *metrics.Collector) *Pipeline {
	timeout := time.Duration(cfg.FetchTimeoutSeconds) * time.Second
	return &Pipeline{
		cfg:     cfg,
		feeds:   feeds,
		fetcher: ics.NewFetcher(cfg.CacheDir, timeout),
		resolver: imagestore.NewResolver(imagestore.ResolverOptions{
			SharedRoot: cfg.SharedRoot,
			PublicDir:  cfg.PublicDir,
			ImagesDir:  cfg.ImagesDir,
			Timeout:    timeout,
			SafeFetch:  cfg.SafeAttachmentFetch,
			Metrics:    collector,
		}),
		collector: collector,
	}
}

// Run executes one full pipeline pass. Zero configured feeds is not an
// error: an empty array is still written so the front-end always finds
// a valid document.
func (p *Pipeline) Run(ctx context.Context) error {
	started := time.Now()

	if len(p.feeds) == 0 {
		appLog.Info("no feeds configured, writing empty output")
	}

	// Initialized non-nil so zero events still serialize as [].
	events := make([]model.NormalizedEvent, 0)
	counter := 1

	for _, feed := range p.feeds {
		if feed.URL == "" {
			appLog.Error("feed has empty URL, skipping", errors.New("empty URL"), "association", feed.Slug)
			p.collector.RecordFeedFailure()
			continue
		}

		cal, err := p.loadFeed(ctx, feed)
		if err != nil {
			appLog.Error("feed fetch/parse failed, skipping", err, "association", feed.Slug)
			p.collector.RecordFeedFailure()
			continue
		}
		p.collector.RecordFeedSuccess()

		evs := cal.Events
		if p.cfg.ExpandRecurring {
			horizon := time.Duration(p.cfg.HorizonDays) * 24 * time.Hour
			now := time.Now()
			expanded, eerr := ics.ExpandOccurrences(evs, ics.ExpandConfig{
				RangeStart: now.Add(-horizon),
				RangeEnd:   now.Add(horizon),
			})
			if eerr != nil {
				appLog.Error("recurrence expansion failed, using raw events", eerr, "association", feed.Slug)
			} else {
				evs = expanded
			}
		}

		owner := cal.Owner
		if owner == "" {
			owner = feed.Slug
		}

		for _, ev := range evs {
			imageURL := p.resolveImageURL(ctx, ev, feed.Slug, owner)
			events = append(events, NormalizeEvent(ev, counter, feed.Slug, imageURL))
			counter++
		}
	}

	if err := p.writeOutput(events); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	p.collector.RecordEventsEmitted(len(events))
	p.collector.RecordRun(time.Since(started))
	appLog.Info("pipeline run complete", "events", len(events), "output", p.cfg.Output, "elapsed", time.Since(started).Round(time.Millisecond))
	return nil
}

// loadFeed fetches and parses one feed under a per-feed deadline so a
// hanging host cannot stall the whole run.
func (p *Pipeline) loadFeed(ctx context.Context, feed model.Feed) (ics.Calendar, error) {
	timeout := 2 * time.Duration(p.cfg.FetchTimeoutSeconds) * time.Second
	feedCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := p.fetcher.FetchOne(feedCtx, feed)
	if err != nil {
		return ics.Calendar{}, err
	}
	return ics.ParseICS(feed, res.Body)
}

// resolveImageURL runs attachment resolution and, only when that
// yields nothing, fallback selection; the winning relative path is
// normalized into a root-relative percent-encoded URL. "" means the
// event has no image.
func (p *Pipeline) resolveImageURL(ctx context.Context, ev ics.ParsedEvent, slug, owner string) string {
	rel := ""
	if img := p.resolver.Resolve(ctx, ev.Attachments, slug, owner); img != nil {
		rel = img.RelPath
	} else {
		rel = imagestore.SelectFallback(ev.Categories, p.cfg.ImagesDir, slug, imagestore.FallbackOptions{
			DefaultImages: p.cfg.DefaultImages,
			Override:      p.cfg.DefaultImage,
		})
	}
	return pathurl.NormalizeRootURL(rel)
}

// writeOutput serializes the event array atomically (temp file +
// rename) so readers never observe a truncated document. This is the
// run's one fatal failure mode.
func (p *Pipeline) writeOutput(events []model.NormalizedEvent) error {
	dir := filepath.Dir(p.cfg.Output)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".events-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, p.cfg.Output)
}
