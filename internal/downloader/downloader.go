package downloader

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/glascaleia/DPC-Radar-data-downloader/internal/fetcher"
	"github.com/glascaleia/DPC-Radar-data-downloader/internal/progress"
	"github.com/glascaleia/DPC-Radar-data-downloader/internal/queue"
)

// Fetcher processes a single job. *fetcher.Fetcher implements it.
type Fetcher interface {
	Fetch(ctx context.Context, job queue.Job) (fetcher.Result, error)
}

// Options configures the worker pool.
type Options struct {
	// Workers is the number of parallel download workers.
	// Default: 3
	Workers int

	// Queue is the source of jobs. Required.
	Queue *queue.Queue

	// Fetcher processes each job. Required.
	Fetcher Fetcher

	// Progress is an optional progress reporter.
	Progress *progress.Reporter

	// FailureAlertThreshold is the number of consecutive failed jobs,
	// across all workers, after which an error is logged once. Workers
	// keep going regardless. Set to 0 for the default (10).
	FailureAlertThreshold int

	Logger *slog.Logger
}

// Pool runs download workers against a queue.
type Pool struct {
	opts   Options
	logger *slog.Logger

	mu                  sync.Mutex
	consecutiveFailures int
	alerted             bool
}

// New creates a Pool.
func New(opts Options) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 3
	}
	if opts.FailureAlertThreshold <= 0 {
		opts.FailureAlertThreshold = 10
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{opts: opts, logger: logger}
}

// Run starts the workers and blocks until they all exit. Workers exit once
// the queue is closed and drained, or when ctx is done. ctx is also passed
// to every Fetch, so cancelling it aborts in-flight transfers.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.opts.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.worker(ctx, id)
		}(i)
	}
	wg.Wait()
}

func (p *Pool) worker(ctx context.Context, id int) {
	logger := p.logger.With("worker", id)
	for {
		job, ok := p.opts.Queue.Dequeue(ctx)
		if !ok {
			return
		}
		p.process(ctx, logger, job)
		p.opts.Queue.Done()
	}
}

// process runs one job. A failure or panic is logged and never stops the
// worker.
func (p *Pool) process(ctx context.Context, logger *slog.Logger, job queue.Job) {
	reporter := p.opts.Progress
	reporter.DownloadStarted()

	var (
		res fetcher.Result
		err error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				logger.Error("download worker panicked", "panic", r, "stack", string(debug.Stack()))
			}
		}()
		res, err = p.opts.Fetcher.Fetch(ctx, job)
	}()

	if err != nil {
		reporter.DownloadFailed()
		logger.Error("download job failed", "error", err,
			"job_id", job.ID, "product_type", job.ProductType, "product_date", job.TimestampMillis)
		p.recordFailure()
		return
	}

	if res.Skipped {
		reporter.DownloadSkipped()
	} else {
		reporter.DownloadCompleted(res.Bytes)
	}
	p.recordSuccess()
}

func (p *Pool) recordFailure() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consecutiveFailures++
	if p.consecutiveFailures >= p.opts.FailureAlertThreshold && !p.alerted {
		p.alerted = true
		p.logger.Error("many consecutive download failures, check the lookup endpoint",
			"consecutive_failures", p.consecutiveFailures)
	}
}

func (p *Pool) recordSuccess() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.alerted {
		p.logger.Info("downloads recovered", "after_failures", p.consecutiveFailures)
	}
	p.consecutiveFailures = 0
	p.alerted = false
}

// ConsecutiveFailures returns the current run of failed jobs.
func (p *Pool) ConsecutiveFailures() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.consecutiveFailures
}
