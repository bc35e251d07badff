// Command importd serves the import API: uploads, background analysis,
// status polling and row browsing.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tabimport/internal/blob"
	"tabimport/internal/config"
	"tabimport/internal/decoder"
	"tabimport/internal/job"
	"tabimport/internal/logging"
	"tabimport/internal/metrics"
	"tabimport/internal/metrics/datadog"
	"tabimport/internal/progress"
	"tabimport/internal/server"
	"tabimport/internal/storage"

	// register all backends with the storage and blob factories.
	// config picks one of each.
	_ "tabimport/internal/blob/all"
	_ "tabimport/internal/storage/all"
)

const shutdownTimeout = 30 * time.Second

// appDeps are the seams runMain goes through; tests replace them.
type appDeps struct {
	loadConfig  func(path string) (*config.Config, error)
	initMetrics func(ctx context.Context, cfg config.Metrics, log *slog.Logger) (func(), error)
	serve       func(ctx context.Context, cfg *config.Config, log *slog.Logger) error
}

func defaultDeps() appDeps {
	return appDeps{
		loadConfig:  config.Load,
		initMetrics: initMetrics,
		serve:       serve,
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

// runMain returns the process exit code: 2 for usage errors, 1 for runtime
// failures.
func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	fs := flag.NewFlagSet("importd", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfgPath := fs.String("config", "", "YAML config path (default ./tabimport.yaml when present)")
	validate := fs.Bool("validate", false, "validate the configuration and exit")
	writeCfg := fs.String("write-config", "", "write the effective configuration to this path and exit")
	verbose := fs.Bool("v", false, "enable debug logs")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "usage: importd [-config path] [-validate] [-write-config path] [-v]")
		return 2
	}

	cfg, err := deps.loadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}
	if *validate {
		fmt.Fprintln(stdout, "configuration is valid")
		return 0
	}
	if *writeCfg != "" {
		if err := config.Save(cfg, *writeCfg); err != nil {
			fmt.Fprintf(stderr, "write config: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "wrote %s\n", *writeCfg)
		return 0
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}

	log, closeLog := logging.Setup(cfg.Log.File, cfg.Log.SlogLevel())
	defer closeLog()

	cleanup, err := deps.initMetrics(ctx, cfg.Metrics, log)
	if err != nil {
		fmt.Fprintf(stderr, "init metrics: %v\n", err)
		return 1
	}
	defer cleanup()

	if err := deps.serve(ctx, cfg, log); err != nil {
		fmt.Fprintf(stderr, "run: %v\n", err)
		return 1
	}
	return 0
}

// initMetrics installs the configured backend. A datadog backend that fails
// to start leaves the nop backend in place.
func initMetrics(ctx context.Context, cfg config.Metrics, log *slog.Logger) (func(), error) {
	switch cfg.Backend {
	case "", "none":
		log.Debug("metrics: disabled")
		return func() {}, nil

	case "datadog":
		tags := datadog.ParseTagsCSV(cfg.Tags)
		// The final flush in Close runs after the signal context is done.
		b, err := datadog.NewBackend(context.WithoutCancel(ctx), datadog.Options{
			Tags:       tags,
			FlushEvery: cfg.FlushEvery,
		})
		if err != nil {
			log.Warn("metrics: datadog backend unavailable, using nop", "error", err)
			return func() {}, nil
		}
		metrics.SetBackend(b)
		log.Info("metrics: enabled", "backend", cfg.Backend, "tags", tags, "flush_every", cfg.FlushEvery)
		return func() {
			if err := b.Close(); err != nil {
				log.Warn("metrics: datadog close/flush error", "error", err)
			}
		}, nil
	}
	return nil, fmt.Errorf("unknown metrics backend %q", cfg.Backend)
}

func serve(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	start := time.Now()
	repo, err := storage.New(ctx, storage.Config{Kind: cfg.Storage.Kind, DSN: cfg.Storage.DSN})
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer repo.Close()
	if err := repo.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	log.Info("storage ready", "kind", cfg.Storage.Kind, "duration", time.Since(start).Truncate(time.Millisecond))

	blobs, err := blob.New(ctx, blob.Config{
		Kind:      cfg.Blob.Kind,
		Dir:       cfg.Blob.Dir,
		Endpoint:  cfg.Blob.Endpoint,
		Bucket:    cfg.Blob.Bucket,
		AccessKey: cfg.Blob.AccessKey,
		SecretKey: cfg.Blob.SecretKey,
		Region:    cfg.Blob.Region,
		UseSSL:    cfg.Blob.UseSSL,
	})
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}

	prog, err := progress.New(ctx, progress.Config{
		Kind:      cfg.Progress.Kind,
		RedisAddr: cfg.Progress.RedisAddr,
		TTL:       cfg.Progress.TTL,
	})
	if err != nil {
		return fmt.Errorf("open progress store: %w", err)
	}
	if c, ok := prog.(io.Closer); ok {
		defer c.Close()
	}

	ctl := job.NewController(repo, blobs, prog, job.Config{
		MaxProcessTime:    cfg.Job.MaxProcessTime,
		BatchSize:         cfg.Job.BatchSize,
		PatternSampleRows: cfg.Job.PatternSampleRows,
		Decoder: decoder.Options{
			Delimiter: cfg.Decoder.DelimiterRune(),
			Charset:   cfg.Decoder.Charset,
		},
	}, log)
	mgr := job.NewManager(ctl, cfg.Job.MaxConcurrent, log)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           server.New(ctl, mgr, server.Options{MaxUploadBytes: cfg.HTTP.MaxUploadBytes}, log).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", srv.Addr, "blob", cfg.Blob.Kind, "progress", cfg.Progress.Kind, "max_concurrent", cfg.Job.MaxConcurrent)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case serveErr = <-errCh:
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "error", err)
	}
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		log.Warn("job manager shutdown", "error", err)
	}
	if serveErr != nil {
		return fmt.Errorf("listen %s: %w", cfg.HTTP.Addr, serveErr)
	}
	return nil
}
