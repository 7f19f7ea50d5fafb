package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"calfeed/internal/config"
	appLog "calfeed/internal/log"
	"calfeed/internal/metrics"
	"calfeed/internal/pipeline"
	"calfeed/internal/web"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	once       bool
	serve      bool
}

func main() {
	appLog.Info("calfeed starting", "version", "0.2.0")

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	feeds := conf.ResolveFeeds(os.Environ())

	appLog.Info("effective config",
		"listen", conf.Listen,
		"public_dir", conf.PublicDir,
		"output", conf.Output,
		"images_dir", conf.ImagesDir,
		"refresh", conf.Refresh,
		"feed_count", len(feeds),
		"expand_recurring", conf.ExpandRecurring,
		"once", flags.once,
		"serve", flags.serve,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if flags.once {
		p := pipeline.New(conf, feeds, nil)
		if err := p.Run(ctx); err != nil {
			appLog.Error("pipeline run failed", err)
			os.Exit(1)
		}
		return
	}

	// Daemon mode: run immediately, then on the configured schedule.
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)
	p := pipeline.New(conf, feeds, collector)

	if err := p.Run(ctx); err != nil {
		// The only fatal pipeline error is an unwritable output; a
		// daemon that can never publish is not worth keeping alive.
		appLog.Error("initial pipeline run failed", err)
		os.Exit(1)
	}

	sched := cron.New()
	if _, err := sched.AddFunc(conf.Refresh, func() {
		if err := p.Run(ctx); err != nil {
			appLog.Error("scheduled pipeline run failed", err)
		}
	}); err != nil {
		appLog.Error("invalid refresh schedule", err, "refresh", conf.Refresh)
		os.Exit(1)
	}
	sched.Start()
	defer sched.Stop()

	if flags.serve {
		srv := web.New(conf, registry)
		if err := srv.Start(ctx); err != nil {
			appLog.Error("http server stopped", err)
			os.Exit(1)
		}
	} else {
		<-ctx.Done()
	}

	appLog.Info("calfeed exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/calfeed/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one fetch+convert cycle and exit")
	flag.BoolVar(&cfg.serve, "serve", false, "Serve the public directory and /metrics over HTTP")

	flag.Parse()

	return cfg
}
