// Command build-index rebuilds the passage index from the configured source
// pages, or from a saved corpus snapshot, and prints the build report as
// JSON on stdout.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mffacts/mffacts/engine/bootstrap"
	"github.com/mffacts/mffacts/engine/ingest"
	"github.com/mffacts/mffacts/pkg/config"
	"github.com/mffacts/mffacts/pkg/metrics"
	"github.com/mffacts/mffacts/pkg/natsutil"
	"github.com/mffacts/mffacts/pkg/snapshot"
)

type options struct {
	// FromSnapshot replays a parsed_data.json instead of fetching pages.
	FromSnapshot string
	// MetricsFile receives the build metrics in the Prometheus text
	// format, for a node_exporter textfile collector.
	MetricsFile string
}

func main() {
	var (
		configPath = flag.String("config", envOr("MFFACTS_CONFIG", "config.yaml"), "path to the YAML config")
		opts       options
	)
	flag.StringVar(&opts.FromSnapshot, "from-snapshot", "", "rebuild from a saved parsed_data.json instead of fetching")
	flag.StringVar(&opts.MetricsFile, "metrics-file", "", "write build metrics to this file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	logger := bootstrap.NewLogger(os.Stderr, cfg.Log.Level, true)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts, os.Stdout, logger); err != nil {
		logger.Error("build failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, opts options, stdout io.Writer, logger *slog.Logger) error {
	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	nc, err := natsutil.Connect(cfg.NATS.URL, "mffacts-build-index", logger)
	if err != nil {
		return err
	}
	if nc != nil {
		defer nc.Drain()
	}
	return build(ctx, app, opts, natsutil.NewEvents(nc, logger), stdout)
}

// build runs one rebuild, then reports it on stdout, in the metrics file
// and as an index-rebuilt event.
func build(ctx context.Context, app *bootstrap.App, opts options, events *natsutil.Events, stdout io.Writer) error {
	var (
		builder *ingest.Builder
		urls    []string
		err     error
	)
	if opts.FromSnapshot != "" {
		corpus, err := loadCorpus(opts.FromSnapshot)
		if err != nil {
			return err
		}
		urls = corpus.URLs()
		builder, err = app.BuilderWithFetcher(ctx, corpus)
		if err != nil {
			return err
		}
		app.Logger.Info("replaying snapshot", "path", opts.FromSnapshot, "documents", len(urls))
	} else {
		urls, err = bootstrap.SourceURLs(app.Config.Sources)
		if err != nil {
			return err
		}
		builder, err = app.Builder(ctx)
		if err != nil {
			return err
		}
	}

	rep, buildErr := builder.Build(ctx, urls)

	reg := metrics.New()
	recordBuild(reg, rep, buildErr)
	if opts.MetricsFile != "" {
		if err := os.WriteFile(opts.MetricsFile, []byte(reg.Render()), 0o644); err != nil {
			app.Logger.Warn("write metrics file", "path", opts.MetricsFile, "err", err)
		}
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if buildErr != nil {
		return buildErr
	}

	events.IndexRebuilt(ctx, natsutil.IndexRebuilt{
		Documents:  rep.Documents,
		Passages:   rep.Passages,
		Indexed:    rep.Indexed,
		Dimensions: rep.Dimensions,
		Failures:   rep.FetchFailures + rep.EmbedFailures + rep.UpsertFailures,
		BuiltAt:    time.Now().UTC(),
	})
	return nil
}

func loadCorpus(path string) (*snapshot.Corpus, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()
	docs, err := snapshot.Decode(f)
	if err != nil {
		return nil, err
	}
	return snapshot.NewCorpus(docs), nil
}

func recordBuild(reg *metrics.Registry, rep ingest.Report, err error) {
	reg.Gauge("mffacts_build_documents", "Documents extracted by the last build").Set(int64(rep.Documents))
	reg.Gauge("mffacts_build_passages", "Passages segmented by the last build").Set(int64(rep.Passages))
	reg.Gauge("mffacts_build_indexed", "Passages written to the index by the last build").Set(int64(rep.Indexed))
	for stage, n := range map[string]int{
		"fetch":  rep.FetchFailures,
		"embed":  rep.EmbedFailures,
		"upsert": rep.UpsertFailures,
		"skip":   rep.Skipped,
	} {
		reg.Gauge(metrics.WithLabels("mffacts_build_failures", "stage", stage), "Items dropped by the last build, by stage").Set(int64(n))
	}
	reg.Histogram("mffacts_build_duration_seconds", "Build wall time", []float64{10, 30, 60, 120, 300, 600}).Observe(rep.Duration.Seconds())

	ok := int64(1)
	if err != nil {
		ok = 0
	}
	reg.Gauge("mffacts_build_success", "1 if the last build succeeded").Set(ok)
	if err == nil {
		reg.Gauge("mffacts_build_last_success_timestamp_seconds", "Unix time of the last successful build").Set(time.Now().Unix())
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
