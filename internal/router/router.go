package router

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/glascaleia/DPC-Radar-data-downloader/internal/progress"
	"github.com/glascaleia/DPC-Radar-data-downloader/internal/queue"
)

// Decision records what OnEvent did with an event.
type Decision int

const (
	// Accepted means a job was enqueued.
	Accepted Decision = iota
	// Invalid means the event lacked a product type or numeric timestamp.
	Invalid
	// NotAllowed means the product type is not in the allowlist.
	NotAllowed
	// Duplicate means the identity key was already recorded.
	Duplicate
	// Dropped means the job could not be enqueued (queue full or closed).
	Dropped
)

func (d Decision) String() string {
	switch d {
	case Accepted:
		return "accepted"
	case Invalid:
		return "invalid"
	case NotAllowed:
		return "not_allowed"
	case Duplicate:
		return "duplicate"
	case Dropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Enqueuer accepts jobs without blocking.
type Enqueuer interface {
	TryEnqueue(job queue.Job) error
}

// Deduper records identity keys.
type Deduper interface {
	TryInsert(key string, now time.Time) bool
}

// Options configures a Router.
type Options struct {
	// Products is the allowlist. Entries are compared case-insensitively.
	Products []string

	Queue Enqueuer
	Dedup Deduper

	// Progress is an optional progress reporter.
	Progress *progress.Reporter

	// Now returns the current time. Default: time.Now
	Now func() time.Time

	Logger *slog.Logger
}

// Router turns feed events into download jobs.
type Router struct {
	products map[string]bool
	queue    Enqueuer
	dedup    Deduper
	progress *progress.Reporter
	now      func() time.Time
	logger   *slog.Logger
}

// New creates a router.
func New(opts Options) *Router {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	products := make(map[string]bool, len(opts.Products))
	for _, p := range opts.Products {
		if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
			products[p] = true
		}
	}

	return &Router{
		products: products,
		queue:    opts.Queue,
		dedup:    opts.Dedup,
		progress: opts.Progress,
		now:      opts.Now,
		logger:   opts.Logger,
	}
}

// OnEvent validates raw, applies the allowlist and deduplication, and
// enqueues a job for accepted events. It never blocks on the queue.
func (r *Router) OnEvent(raw map[string]any) Decision {
	r.progress.EventReceived()

	ev, err := ParseEvent(raw)
	if err != nil {
		r.logger.Debug("ignoring event", "reason", err, "event", raw)
		r.progress.EventIgnored()
		return Invalid
	}

	if !r.products[ev.ProductType] {
		r.logger.Debug("ignoring product", "product_type", ev.ProductType)
		r.progress.EventIgnored()
		return NotAllowed
	}

	job := queue.NewJob(ev.ProductType, ev.TimestampMillis)
	if !r.dedup.TryInsert(job.Key(), r.now()) {
		r.progress.EventDuplicate()
		return Duplicate
	}

	if err := r.queue.TryEnqueue(job); err != nil {
		if errors.Is(err, queue.ErrFull) {
			r.logger.Warn("job queue full, dropping job",
				"product_type", job.ProductType,
				"product_date", job.TimestampMillis,
			)
		} else {
			r.logger.Info("not accepting jobs, dropping",
				"product_type", job.ProductType,
				"product_date", job.TimestampMillis,
				"error", err,
			)
		}
		r.progress.EventDropped()
		return Dropped
	}

	r.progress.EventAccepted()
	r.logger.Debug("enqueued job",
		"job_id", job.ID,
		"product_type", job.ProductType,
		"product_time", time.UnixMilli(job.TimestampMillis).UTC().Format("2006-01-02 15:04Z"),
	)
	return Accepted
}
