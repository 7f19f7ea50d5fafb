// Package metrics collects and exposes Prometheus metrics for the
// feed pipeline. All Collector methods are safe on a nil receiver so
// one-shot invocations can run without a registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the pipeline's Prometheus instruments.
type Collector struct {
	runs            prometheus.Counter
	runDuration     prometheus.Histogram
	feedSuccess     prometheus.Counter
	feedFail        prometheus.Counter
	eventsEmitted   prometheus.Counter
	imagesWritten   prometheus.Counter
	imagesUnchanged prometheus.Counter
	attachFailures  *prometheus.CounterVec
}

// NewCollector creates a Collector and registers its instruments on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		runs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "calfeed_runs_total",
			Help: "Completed pipeline runs.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "calfeed_run_duration_seconds",
			Help:    "Wall time of a full pipeline run.",
			Buckets: prometheus.DefBuckets,
		}),
		feedSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "calfeed_feed_success_total",
			Help: "Feeds fetched and parsed successfully.",
		}),
		feedFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "calfeed_feed_fail_total",
			Help: "Feeds skipped due to fetch or parse failure.",
		}),
		eventsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "calfeed_events_emitted_total",
			Help: "Normalized events written to the output array.",
		}),
		imagesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "calfeed_images_written_total",
			Help: "Image files created or replaced.",
		}),
		imagesUnchanged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "calfeed_images_unchanged_total",
			Help: "Image writes skipped because content was identical.",
		}),
		attachFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calfeed_attachment_failures_total",
			Help: "Attachment resolution failures by kind.",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		c.runs,
		c.runDuration,
		c.feedSuccess,
		c.feedFail,
		c.eventsEmitted,
		c.imagesWritten,
		c.imagesUnchanged,
		c.attachFailures,
	)

	return c
}

func (c *Collector) RecordRun(d time.Duration) {
	if c == nil {
		return
	}
	c.runs.Inc()
	c.runDuration.Observe(d.Seconds())
}

func (c *Collector) RecordFeedSuccess() {
	if c == nil {
		return
	}
	c.feedSuccess.Inc()
}

func (c *Collector) RecordFeedFailure() {
	if c == nil {
		return
	}
	c.feedFail.Inc()
}

func (c *Collector) RecordEventsEmitted(n int) {
	if c == nil {
		return
	}
	c.eventsEmitted.Add(float64(n))
}

func (c *Collector) RecordImageWritten() {
	if c == nil {
		return
	}
	c.imagesWritten.Inc()
}

func (c *Collector) RecordImageUnchanged() {
	if c == nil {
		return
	}
	c.imagesUnchanged.Inc()
}

func (c *Collector) RecordAttachmentFailure(kind string) {
	if c == nil {
		return
	}
	c.attachFailures.WithLabelValues(kind).Inc()
}

// Handler returns the /metrics scrape handler for the given gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
