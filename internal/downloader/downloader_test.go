package downloader

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glascaleia/DPC-Radar-data-downloader/internal/fetcher"
	"github.com/glascaleia/DPC-Radar-data-downloader/internal/progress"
	"github.com/glascaleia/DPC-Radar-data-downloader/internal/queue"
)

// fakeFetcher runs fn for every job and records the jobs it saw.
type fakeFetcher struct {
	fn func(ctx context.Context, job queue.Job) (fetcher.Result, error)

	mu   sync.Mutex
	seen []queue.Job
}

func (f *fakeFetcher) Fetch(ctx context.Context, job queue.Job) (fetcher.Result, error) {
	f.mu.Lock()
	f.seen = append(f.seen, job)
	f.mu.Unlock()
	return f.fn(ctx, job)
}

func (f *fakeFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

func fill(t *testing.T, q *queue.Queue, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := q.TryEnqueue(queue.NewJob("VMI", int64(i))); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
}

func TestPoolDrainsClosedQueue(t *testing.T) {
	q := queue.New(20)
	fill(t, q, 10)
	q.Close()

	var active, peak atomic.Int32
	f := &fakeFetcher{fn: func(ctx context.Context, job queue.Job) (fetcher.Result, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		return fetcher.Result{Bytes: 100}, nil
	}}
	reporter := progress.NewReporter(progress.Options{})

	New(Options{Workers: 3, Queue: q, Fetcher: f, Progress: reporter}).Run(context.Background())

	if f.count() != 10 {
		t.Errorf("expected 10 jobs processed, got %d", f.count())
	}
	if q.Pending() != 0 {
		t.Errorf("expected every job acknowledged, %d pending", q.Pending())
	}
	if peak.Load() > 3 {
		t.Errorf("expected at most 3 concurrent jobs, saw %d", peak.Load())
	}
	s := reporter.Snapshot()
	if s.DownloadsDone != 10 || s.BytesWritten != 1000 || s.DownloadsActive != 0 {
		t.Errorf("unexpected counters %+v", s)
	}
}

func TestPoolSurvivesFailuresAndPanics(t *testing.T) {
	q := queue.New(10)
	fill(t, q, 4)
	q.Close()

	f := &fakeFetcher{fn: func(ctx context.Context, job queue.Job) (fetcher.Result, error) {
		switch job.TimestampMillis {
		case 0:
			return fetcher.Result{}, errors.New("lookup failed")
		case 1:
			panic("boom")
		case 2:
			return fetcher.Result{Skipped: true}, nil
		default:
			return fetcher.Result{Bytes: 7}, nil
		}
	}}
	reporter := progress.NewReporter(progress.Options{})
	var logs bytes.Buffer

	New(Options{
		Workers:  1,
		Queue:    q,
		Fetcher:  f,
		Progress: reporter,
		Logger:   slog.New(slog.NewTextHandler(&logs, nil)),
	}).Run(context.Background())

	if f.count() != 4 {
		t.Fatalf("expected the worker to keep going, processed %d", f.count())
	}
	s := reporter.Snapshot()
	if s.DownloadsFailed != 2 || s.DownloadsSkipped != 1 || s.DownloadsDone != 1 {
		t.Errorf("unexpected counters %+v", s)
	}
	out := logs.String()
	if !strings.Contains(out, "download job failed") || !strings.Contains(out, "download worker panicked") {
		t.Errorf("expected failure logs, got %q", out)
	}
}

func TestPoolStopsOnContextCancel(t *testing.T) {
	q := queue.New(10)
	fill(t, q, 1)

	started := make(chan struct{})
	f := &fakeFetcher{fn: func(ctx context.Context, job queue.Job) (fetcher.Result, error) {
		close(started)
		<-ctx.Done()
		return fetcher.Result{}, ctx.Err()
	}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		New(Options{Workers: 2, Queue: q, Fetcher: f}).Run(ctx)
		close(done)
	}()

	<-started
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop after cancel")
	}
}

func TestPoolFailureAlert(t *testing.T) {
	q := queue.New(10)
	fill(t, q, 3)
	q.Close()

	f := &fakeFetcher{fn: func(ctx context.Context, job queue.Job) (fetcher.Result, error) {
		return fetcher.Result{}, errors.New("down")
	}}
	var logs bytes.Buffer
	p := New(Options{
		Workers:               1,
		Queue:                 q,
		Fetcher:               f,
		FailureAlertThreshold: 2,
		Logger:                slog.New(slog.NewTextHandler(&logs, nil)),
	})
	p.Run(context.Background())

	if p.ConsecutiveFailures() != 3 {
		t.Errorf("expected 3 consecutive failures, got %d", p.ConsecutiveFailures())
	}
	if n := strings.Count(logs.String(), "many consecutive download failures"); n != 1 {
		t.Errorf("expected exactly one alert, got %d", n)
	}
}
