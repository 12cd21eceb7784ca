package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/glascaleia/DPC-Radar-data-downloader/internal/config"
	"github.com/glascaleia/DPC-Radar-data-downloader/internal/dedup"
	"github.com/glascaleia/DPC-Radar-data-downloader/internal/downloader"
	"github.com/glascaleia/DPC-Radar-data-downloader/internal/feed"
	"github.com/glascaleia/DPC-Radar-data-downloader/internal/fetcher"
	radarhttp "github.com/glascaleia/DPC-Radar-data-downloader/internal/http"
	"github.com/glascaleia/DPC-Radar-data-downloader/internal/mirror"
	"github.com/glascaleia/DPC-Radar-data-downloader/internal/progress"
	"github.com/glascaleia/DPC-Radar-data-downloader/internal/queue"
	"github.com/glascaleia/DPC-Radar-data-downloader/internal/router"
	"github.com/glascaleia/DPC-Radar-data-downloader/internal/status"
)

// ErrAborted is returned by Run when the drain was cut short.
var ErrAborted = errors.New("agent: shutdown aborted before the queue drained")

// ErrStorage wraps failures to prepare the output directory or the mirror.
var ErrStorage = errors.New("agent: storage unavailable")

// Options configures an Agent.
type Options struct {
	// Config is the validated runtime configuration.
	Config config.Config

	// Mirror replaces the bucket named by Config.MirrorBucket when set.
	Mirror fetcher.Uploader

	// ProgressInterval is how often progress is logged. Default: 1m
	ProgressInterval time.Duration

	// Feed backoff bounds; zero uses the feed package defaults.
	BackoffMin time.Duration
	BackoffMax time.Duration

	Logger *slog.Logger
}

// Agent owns every long-running component of the downloader.
type Agent struct {
	opts   Options
	cfg    config.Config
	logger *slog.Logger

	queue    *queue.Queue
	dedup    *dedup.Cache
	progress *progress.Reporter
	router   *router.Router
	listener *feed.Listener
}

// New wires the components. Nothing runs until Run is called.
func New(opts Options) *Agent {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := opts.Config

	a := &Agent{
		opts:   opts,
		cfg:    cfg,
		logger: logger,
		queue:  queue.New(cfg.QueueSize),
		dedup:  dedup.New(),
		progress: progress.NewReporter(progress.Options{
			Logger:         logger,
			UpdateInterval: opts.ProgressInterval,
		}),
	}
	a.router = router.New(router.Options{
		Products: cfg.Products,
		Queue:    a.queue,
		Dedup:    a.dedup,
		Progress: a.progress,
		Logger:   logger,
	})
	a.listener = feed.NewListener(feed.Options{
		URL:          cfg.Feed.URL,
		Subscribe:    cfg.Feed.Subscribe,
		Header:       cfg.Feed.HTTPHeader(),
		PingInterval: cfg.Feed.PingInterval,
		PongTimeout:  cfg.Feed.PongTimeout,
		BackoffMin:   opts.BackoffMin,
		BackoffMax:   opts.BackoffMax,
		Logger:       logger.With("component", "feed"),
	}, func(ev map[string]any) {
		a.router.OnEvent(ev)
	})
	return a
}

// Progress returns the agent's counters.
func (a *Agent) Progress() progress.Snapshot {
	return a.progress.Snapshot()
}

// FeedState returns the listener's connection state.
func (a *Agent) FeedState() feed.State {
	return a.listener.State()
}

// Run starts every component and blocks until shutdown completes.
//
// ctx governs intake: once it is done the listener stops, the queue is
// closed and the workers drain what is left. hardCtx governs the transfers
// themselves; cancelling it aborts them and makes Run return ErrAborted.
// ctx should be derived from hardCtx.
func (a *Agent) Run(ctx, hardCtx context.Context) error {
	cfg := a.cfg

	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("%w: create output directory: %w", ErrStorage, err)
	}

	uploader := a.opts.Mirror
	if uploader == nil && cfg.MirrorBucket != "" {
		m, err := mirror.Open(hardCtx, cfg.MirrorBucket)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrStorage, err)
		}
		defer m.Close()
		uploader = m
		a.logger.Info("mirroring artifacts", "bucket", cfg.MirrorBucket)
	}

	var statusSrv *status.Server
	if cfg.StatusAddr != "" {
		srv, err := status.Listen(cfg.StatusAddr, a.statusSources(), a.logger.With("component", "status"))
		if err != nil {
			return err
		}
		statusSrv = srv
	}

	f := fetcher.New(fetcher.Options{
		Endpoint:  cfg.APIEndpoint,
		OutputDir: cfg.OutputDir,
		ChunkSize: cfg.ChunkSize,
		Lookup: radarhttp.Options{
			Timeout:         cfg.Timeouts.Lookup,
			ConnectTimeout:  cfg.Timeouts.Connect,
			RetryAttempts:   cfg.Retry.Attempts,
			RetryBackoff:    cfg.Retry.Backoff,
			RetryMaxBackoff: cfg.Retry.MaxBackoff,
		},
		Transfer: radarhttp.Options{
			ConnectTimeout:  cfg.Timeouts.Connect,
			ReadTimeout:     cfg.Timeouts.Read,
			RetryAttempts:   cfg.Retry.Attempts,
			RetryBackoff:    cfg.Retry.Backoff,
			RetryMaxBackoff: cfg.Retry.MaxBackoff,
		},
		Mirror:   uploader,
		Progress: a.progress,
		Logger:   a.logger.With("component", "fetcher"),
	})
	pool := downloader.New(downloader.Options{
		Workers:  cfg.Workers,
		Queue:    a.queue,
		Fetcher:  f,
		Progress: a.progress,
		Logger:   a.logger.With("component", "downloader"),
	})

	// Background helpers outlive intake so the final summary covers the drain.
	bgCtx, bgCancel := context.WithCancel(hardCtx)
	var bg sync.WaitGroup
	bg.Add(2)
	go func() {
		defer bg.Done()
		a.dedup.Run(bgCtx, dedup.SweeperOptions{
			Interval:  cfg.Dedup.SweepInterval,
			Retention: cfg.Dedup.Retention,
			Logger:    a.logger,
		})
	}()
	go func() {
		defer bg.Done()
		a.progress.Run(bgCtx)
	}()
	if statusSrv != nil {
		bg.Add(1)
		go func() {
			defer bg.Done()
			if err := statusSrv.Serve(); err != nil {
				a.logger.Error("status server failed", "error", err)
			}
		}()
	}

	poolDone := make(chan struct{})
	go func() {
		defer close(poolDone)
		pool.Run(hardCtx)
	}()

	a.logger.Info("radar downloader started",
		"feed", cfg.Feed.URL,
		"products", cfg.Products,
		"output_dir", cfg.OutputDir,
		"workers", cfg.Workers,
		"queue_size", cfg.QueueSize,
	)

	a.listener.Run(ctx)

	a.queue.Close()
	a.logger.Info("draining job queue", "pending", a.queue.Pending())
	<-poolDone

	if statusSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(hardCtx), 5*time.Second)
		if err := statusSrv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("status server shutdown", "error", err)
		}
		cancel()
	}
	bgCancel()
	bg.Wait()

	if hardCtx.Err() != nil {
		a.logger.Warn("shutdown aborted", "unfinished_jobs", a.queue.Pending())
		return ErrAborted
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *Agent) statusSources() status.Sources {
	return status.Sources{
		Feed: a.listener.State,
		Queue: func() status.QueueState {
			return status.QueueState{
				Length:   a.queue.Len(),
				Capacity: a.queue.Cap(),
				Pending:  a.queue.Pending(),
			}
		},
		Dedup:    a.dedup.Len,
		Progress: a.progress,
	}
}
