package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/withObsrvr/obsrvr-csv-converter/internal/config"
	"github.com/withObsrvr/obsrvr-csv-converter/internal/converter"
	"github.com/withObsrvr/obsrvr-csv-converter/internal/logging"
	"github.com/withObsrvr/obsrvr-csv-converter/internal/manifest"
	"github.com/withObsrvr/obsrvr-csv-converter/internal/metadata"
	"github.com/withObsrvr/obsrvr-csv-converter/internal/metrics"
	"github.com/withObsrvr/obsrvr-csv-converter/internal/pipeline"
	"github.com/withObsrvr/obsrvr-csv-converter/internal/report"
	"github.com/withObsrvr/obsrvr-csv-converter/internal/source"
	"github.com/withObsrvr/obsrvr-csv-converter/internal/storage"
	"github.com/withObsrvr/obsrvr-csv-converter/internal/tables"
	"github.com/withObsrvr/obsrvr-csv-converter/internal/watcher"
)

// Version information (set via ldflags)
var (
	Version = "v0.1.0"
	GitSHA  = "unknown"
)

const name = "csv-converter"

// Exit codes.
const (
	exitOK       = 0
	exitFailures = 1 // only with -strict
	exitUsage    = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one invocation. The exit report goes to stdout, logs to
// stderr.
func run(args []string, stdout, stderr io.Writer) int {
	start := time.Now()

	cfg, err := config.Load(name, args, stderr)
	if err != nil {
		if config.IsHelp(err) {
			return exitOK
		}
		fmt.Fprintf(stderr, "%s: %v\n", name, err)
		return exitUsage
	}

	logging.Setup(cfg.Logging(), stderr)
	log := logging.Component("main")
	log.Info("csv converter starting",
		"version", Version,
		"git_sha", GitSHA,
		"input_dir", cfg.Input.Dir,
		"format", cfg.Output.Format,
		"storage", cfg.Storage.Backend,
	)

	m := metrics.Init("")
	if cfg.Metrics.Address != "" {
		go func() {
			if err := m.StartServer(cfg.Metrics.Address); err != nil {
				log.Error("metrics server stopped", "error", err)
			}
		}()
	}

	// Signals only end watch mode; dispatched partitions always finish.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	matcher, err := source.NewMatcher(cfg.Input.Extensions, cfg.Input.Compressed, cfg.MatchOptions()...)
	if err != nil {
		log.Error("invalid input pattern", "error", err)
		return exitUsage
	}
	files, err := source.List(cfg.Input.Dir, matcher, cfg.ListOptions())
	if err != nil {
		log.Error("cannot list input directory", "dir", cfg.Input.Dir, "error", err)
		return exitUsage
	}
	log.Info("input files found", "files", len(files), "patterns", matcher.Patterns())

	enc, err := tables.NewEncoder(cfg.Output.Format)
	if err != nil {
		log.Error("invalid output format", "error", err)
		return exitUsage
	}
	store, err := storage.NewDocumentStore(ctx, cfg.StoreConfig(cfg.Input.Dir))
	if err != nil {
		log.Error("failed to create storage", "error", err)
		return exitUsage
	}
	defer store.Close()

	conv := converter.New(store, converter.Options{
		Source:      cfg.SourceOptions(),
		Encoder:     enc,
		Compression: cfg.Output.Compression,
		Start:       start,
		Verify:      cfg.Output.Verify,
	})

	parallelism := runtime.GOMAXPROCS(0)
	if cfg.Perf.Workers > 0 {
		parallelism = min(parallelism, cfg.Perf.Workers)
	}
	coord := pipeline.New(conv.Convert, pipeline.WithParallelism(parallelism))
	agg := report.New(start)

	var tally runTally
	tally.add(coord.Run(ctx, files, agg))

	if cfg.Watch.Enabled {
		watchInput(ctx, log, cfg, matcher, func(ctx context.Context, batch []source.InputFile) {
			tally.add(coord.Run(ctx, batch, agg))
		})
	}

	finished := time.Now()
	shutdownCtx := context.WithoutCancel(ctx)
	runManifest := manifest.Build(manifest.NewRunID(), cfg.Input.Dir, start, finished, agg.Results(), agg.Failures())
	saveManifest(shutdownCtx, log, cfg, store, runManifest)
	recordCatalog(shutdownCtx, log, cfg, metadata.NewRunRecord(runManifest, tally.workers, tally.skipped))

	if err := agg.Report(stdout, time.Now()); err != nil {
		log.Error("failed to write exit report", "error", err)
	}

	if cfg.Metrics.PushURL != "" {
		if err := m.Push(cfg.Metrics.PushURL, cfg.Metrics.Job); err != nil {
			log.Warn("metrics push failed", "error", err)
		}
	}

	totals := agg.Totals()
	log.Info("csv converter stopped",
		"converted", totals.Files,
		"records", totals.Records,
		"failed", totals.Failed,
		"skipped", tally.skipped,
		"reconverted", agg.Reconverted(),
	)
	if cfg.Strict && totals.Failed > 0 {
		return exitFailures
	}
	return exitOK
}

// runTally accumulates coordinator summaries across batches.
type runTally struct {
	workers int
	skipped int
}

func (t *runTally) add(s pipeline.Summary) {
	t.workers += s.Workers
	t.skipped += s.Skipped
}

func watchInput(ctx context.Context, log *slog.Logger, cfg config.Config, m *source.Matcher, batch watcher.BatchFunc) {
	w, err := watcher.New(watcher.Config{
		Dir:       cfg.Input.Dir,
		Matcher:   m,
		Recursive: cfg.Input.Recursive,
		Skip:      cfg.Output.Subdir,
		Debounce:  cfg.Watch.Debounce,
	})
	if err != nil {
		log.Error("cannot watch input directory", "error", err)
		return
	}
	defer w.Close()

	if err := w.Run(ctx, batch); err != nil {
		log.Error("watch stopped", "error", err)
	}
	log.Info("watch ended")
}

func saveManifest(ctx context.Context, log *slog.Logger, cfg config.Config, store storage.DocumentStore, m *manifest.Manifest) {
	w, err := manifest.NewWriter(manifest.Config{Enabled: cfg.Output.Manifest, Store: store})
	if err != nil {
		log.Warn("manifest disabled", "error", err)
		return
	}
	if err := w.Save(ctx, m); err != nil {
		log.Warn("failed to write manifest", "error", err)
		return
	}
	if cfg.Output.Manifest {
		log.Info("manifest written", "uri", store.URI(manifest.Name), "run_id", m.RunID)
	}
}

func recordCatalog(ctx context.Context, log *slog.Logger, cfg config.Config, run metadata.RunRecord) {
	w, err := metadata.NewWriter(ctx, cfg.MetadataConfig())
	if err != nil {
		log.Warn("catalog unavailable", "error", err)
		return
	}
	defer w.Close()

	if err := w.RecordRun(ctx, run); err != nil {
		log.Warn("failed to record run in catalog", "run_id", run.RunID, "error", err)
	}
}
