package progress

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Options configures the progress reporter.
type Options struct {
	// Logger receives the periodic summary lines.
	// Default: slog.Default()
	Logger *slog.Logger

	// UpdateInterval is how often Run logs a summary.
	// Default: 1m
	UpdateInterval time.Duration

	// Now returns the current time. Default: time.Now
	Now func() time.Time
}

// Snapshot is a point-in-time copy of the reporter's counters.
type Snapshot struct {
	EventsReceived   int64 `json:"events_received"`
	EventsAccepted   int64 `json:"events_accepted"`
	EventsIgnored    int64 `json:"events_ignored"`
	EventsDuplicate  int64 `json:"events_duplicate"`
	EventsDropped    int64 `json:"events_dropped"`
	DownloadsActive  int64 `json:"downloads_active"`
	DownloadsDone    int64 `json:"downloads_completed"`
	DownloadsSkipped int64 `json:"downloads_skipped"`
	DownloadsFailed  int64 `json:"downloads_failed"`
	MirrorFailures   int64 `json:"mirror_failures"`
	BytesWritten     int64 `json:"bytes_written"`
}

// Reporter tracks event and download counters. All methods are safe for
// concurrent use; a nil *Reporter is valid and records nothing.
type Reporter struct {
	opts      Options
	startTime time.Time

	eventsReceived   atomic.Int64
	eventsAccepted   atomic.Int64
	eventsIgnored    atomic.Int64
	eventsDuplicate  atomic.Int64
	eventsDropped    atomic.Int64
	inProgress       atomic.Int64
	downloadsDone    atomic.Int64
	downloadsSkipped atomic.Int64
	downloadsFailed  atomic.Int64
	mirrorFailures   atomic.Int64
	bytesWritten     atomic.Int64
}

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Reporter{
		opts:      opts,
		startTime: opts.Now(),
	}
}

// EventReceived counts an event handed to the router.
func (r *Reporter) EventReceived() {
	if r != nil {
		r.eventsReceived.Add(1)
	}
}

// EventAccepted counts an event that was enqueued as a job.
func (r *Reporter) EventAccepted() {
	if r != nil {
		r.eventsAccepted.Add(1)
	}
}

// EventIgnored counts an event rejected as malformed or not allowlisted.
func (r *Reporter) EventIgnored() {
	if r != nil {
		r.eventsIgnored.Add(1)
	}
}

// EventDuplicate counts an event whose identity key was already seen.
func (r *Reporter) EventDuplicate() {
	if r != nil {
		r.eventsDuplicate.Add(1)
	}
}

// EventDropped counts an accepted event that could not be enqueued.
func (r *Reporter) EventDropped() {
	if r != nil {
		r.eventsDropped.Add(1)
	}
}

// DownloadStarted marks a job as in progress.
func (r *Reporter) DownloadStarted() {
	if r != nil {
		r.inProgress.Add(1)
	}
}

// DownloadCompleted marks a job as completed with size bytes written.
func (r *Reporter) DownloadCompleted(size int64) {
	if r != nil {
		r.bytesWritten.Add(size)
		r.downloadsDone.Add(1)
		r.inProgress.Add(-1)
	}
}

// DownloadSkipped marks a job whose destination already existed.
func (r *Reporter) DownloadSkipped() {
	if r != nil {
		r.downloadsSkipped.Add(1)
		r.inProgress.Add(-1)
	}
}

// DownloadFailed marks a job as failed (removes it from in-progress).
func (r *Reporter) DownloadFailed() {
	if r != nil {
		r.downloadsFailed.Add(1)
		r.inProgress.Add(-1)
	}
}

// MirrorFailed counts a failed upload to the mirror bucket.
func (r *Reporter) MirrorFailed() {
	if r != nil {
		r.mirrorFailures.Add(1)
	}
}

// Snapshot returns the current counter values.
func (r *Reporter) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{}
	}
	return Snapshot{
		EventsReceived:   r.eventsReceived.Load(),
		EventsAccepted:   r.eventsAccepted.Load(),
		EventsIgnored:    r.eventsIgnored.Load(),
		EventsDuplicate:  r.eventsDuplicate.Load(),
		EventsDropped:    r.eventsDropped.Load(),
		DownloadsActive:  r.inProgress.Load(),
		DownloadsDone:    r.downloadsDone.Load(),
		DownloadsSkipped: r.downloadsSkipped.Load(),
		DownloadsFailed:  r.downloadsFailed.Load(),
		MirrorFailures:   r.mirrorFailures.Load(),
		BytesWritten:     r.bytesWritten.Load(),
	}
}

// Uptime returns the time elapsed since the reporter was created.
func (r *Reporter) Uptime() time.Duration {
	if r == nil {
		return 0
	}
	return r.opts.Now().Sub(r.startTime)
}

// Run logs a summary every UpdateInterval until ctx is cancelled, then
// logs a final summary.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logSummary("final summary")
			return
		case <-ticker.C:
			r.logSummary("progress")
		}
	}
}

func (r *Reporter) logSummary(msg string) {
	s := r.Snapshot()
	r.opts.Logger.Info(msg,
		"uptime", formatDuration(r.Uptime()),
		"events", s.EventsReceived,
		"accepted", s.EventsAccepted,
		"duplicates", s.EventsDuplicate,
		"dropped", s.EventsDropped,
		"active", s.DownloadsActive,
		"completed", s.DownloadsDone,
		"skipped", s.DownloadsSkipped,
		"failed", s.DownloadsFailed,
		"written", formatBytes(s.BytesWritten),
	)
}

// formatBytes formats bytes as a human-readable string.
func formatBytes(b int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
		TB = GB * 1024
	)

	switch {
	case b >= TB:
		return fmt.Sprintf("%.2f TB", float64(b)/float64(TB))
	case b >= GB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}

// FormatBytes is exported for use by other packages.
func FormatBytes(b int64) string {
	return formatBytes(b)
}

// ParseBytes parses a human-readable byte string (e.g., "1MiB", "512KB").
// KB/MB/GB/TB and KiB/MiB/GiB/TiB are both treated as powers of 1024.
func ParseBytes(s string) (int64, error) {
	var multiplier int64 = 1
	s = trimSuffix(s, " ")

	switch {
	case hasSuffix(s, "TiB"):
		multiplier = 1024 * 1024 * 1024 * 1024
		s = s[:len(s)-3]
	case hasSuffix(s, "GiB"):
		multiplier = 1024 * 1024 * 1024
		s = s[:len(s)-3]
	case hasSuffix(s, "MiB"):
		multiplier = 1024 * 1024
		s = s[:len(s)-3]
	case hasSuffix(s, "KiB"):
		multiplier = 1024
		s = s[:len(s)-3]
	case hasSuffix(s, "TB"):
		multiplier = 1024 * 1024 * 1024 * 1024
		s = s[:len(s)-2]
	case hasSuffix(s, "GB"):
		multiplier = 1024 * 1024 * 1024
		s = s[:len(s)-2]
	case hasSuffix(s, "MB"):
		multiplier = 1024 * 1024
		s = s[:len(s)-2]
	case hasSuffix(s, "KB"):
		multiplier = 1024
		s = s[:len(s)-2]
	case hasSuffix(s, "B"):
		s = s[:len(s)-1]
	}

	var value float64
	_, err := fmt.Sscanf(s, "%f", &value)
	if err != nil {
		return 0, fmt.Errorf("invalid byte string: %s", s)
	}

	return int64(value * float64(multiplier)), nil
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

func trimSuffix(s, suffix string) string {
	for hasSuffix(s, suffix) {
		s = s[:len(s)-len(suffix)]
	}
	return s
}
