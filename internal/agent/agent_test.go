package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"gocloud.dev/blob/memblob"

	"github.com/glascaleia/DPC-Radar-data-downloader/internal/config"
	"github.com/glascaleia/DPC-Radar-data-downloader/internal/mirror"
)

// platform fakes the feed, the lookup endpoint and the artifact store.
type platform struct {
	feed      *httptest.Server
	api       *httptest.Server
	frames    []string
	transfers atomic.Int32
	// block, when set, holds artifact responses until closed.
	block chan struct{}
}

func newPlatform(t *testing.T, frames ...string) *platform {
	t.Helper()
	p := &platform{frames: frames}

	// The client sends the production Origin header.
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	p.feed = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, f := range p.frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(p.feed.Close)

	mux := http.NewServeMux()
	mux.HandleFunc("/downloadProduct", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ProductType string `json:"productType"`
			ProductDate int64  `json:"productDate"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		key := req.ProductType + "/" + time.UnixMilli(req.ProductDate).UTC().Format("20060102T150405") + ".tif"
		json.NewEncoder(w).Encode(map[string]string{
			"key": key,
			"url": p.api.URL + "/artifacts/" + key,
		})
	})
	mux.HandleFunc("/artifacts/", func(w http.ResponseWriter, r *http.Request) {
		p.transfers.Add(1)
		if p.block != nil {
			<-p.block
		}
		w.Write([]byte("data:" + strings.TrimPrefix(r.URL.Path, "/artifacts/")))
	})
	p.api = httptest.NewServer(mux)
	t.Cleanup(p.api.Close)
	return p
}

func (p *platform) config(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.Feed.URL = "ws" + strings.TrimPrefix(p.feed.URL, "http")
	cfg.APIEndpoint = p.api.URL + "/downloadProduct"
	cfg.OutputDir = t.TempDir()
	cfg.Workers = 2
	cfg.QueueSize = 10
	return cfg
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestAgentEndToEnd(t *testing.T) {
	p := newPlatform(t,
		`{"productType":"VMI","time":1700000000000}`,
		`{"data":{"productType":"vmi","time":1700000000000}}`,
		`[{"productType":"SRI","time":1700000300000},{"productType":"XYZ","time":1700000300000}]`,
		"not json",
	)
	cfg := p.config(t)
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()

	a := New(Options{Config: cfg, Mirror: mirror.New(bucket)})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- a.Run(ctx, context.Background()) }()

	waitFor(t, func() bool { return a.Progress().DownloadsDone == 2 })
	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, rel := range []string{"VMI/20231114T221320.tif", "SRI/20231114T221820.tif"} {
		got, err := os.ReadFile(filepath.Join(cfg.OutputDir, filepath.FromSlash(rel)))
		if err != nil {
			t.Fatalf("read %s: %v", rel, err)
		}
		if string(got) != "data:"+rel {
			t.Errorf("unexpected content of %s: %q", rel, got)
		}
		if ok, _ := bucket.Exists(context.Background(), rel); !ok {
			t.Errorf("expected %s to be mirrored", rel)
		}
	}

	if n := p.transfers.Load(); n != 2 {
		t.Errorf("expected 2 transfers, got %d", n)
	}
	s := a.Progress()
	if s.EventsReceived != 4 || s.EventsAccepted != 2 || s.EventsDuplicate != 1 || s.EventsIgnored != 1 {
		t.Errorf("unexpected counters %+v", s)
	}
}

func TestAgentDrainsQueuedJobs(t *testing.T) {
	p := newPlatform(t,
		`{"productType":"TEMP","time":1700000000000}`,
		`{"productType":"TEMP","time":1700000060000}`,
		`{"productType":"TEMP","time":1700000120000}`,
	)
	p.block = make(chan struct{})
	cfg := p.config(t)
	cfg.Workers = 1

	a := New(Options{Config: cfg})
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- a.Run(ctx, context.Background()) }()

	// One transfer in flight, two still queued.
	waitFor(t, func() bool { return p.transfers.Load() == 1 && a.Progress().EventsAccepted == 3 })
	cancel()
	close(p.block)

	if err := <-errc; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s := a.Progress(); s.DownloadsDone != 3 {
		t.Errorf("expected every queued job to finish, got %+v", s)
	}
}

func TestAgentHardAbort(t *testing.T) {
	p := newPlatform(t, `{"productType":"VMI","time":1700000000000}`)
	p.block = make(chan struct{})
	defer close(p.block)
	cfg := p.config(t)

	a := New(Options{Config: cfg})
	hardCtx, hardCancel := context.WithCancel(context.Background())
	ctx, cancel := context.WithCancel(hardCtx)
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- a.Run(ctx, hardCtx) }()

	waitFor(t, func() bool { return p.transfers.Load() == 1 })
	cancel()
	hardCancel()

	select {
	case err := <-errc:
		if !errors.Is(err, ErrAborted) {
			t.Fatalf("expected ErrAborted, got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after hard abort")
	}
}

func TestAgentStatusServer(t *testing.T) {
	p := newPlatform(t)
	cfg := p.config(t)
	cfg.StatusAddr = "127.0.0.1:0"

	a := New(Options{Config: cfg})
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- a.Run(ctx, context.Background()) }()

	waitFor(t, func() bool { return a.FeedState().Connected })
	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestAgentBadStatusAddr(t *testing.T) {
	p := newPlatform(t)
	cfg := p.config(t)
	cfg.StatusAddr = "not-an-address"

	err := New(Options{Config: cfg}).Run(context.Background(), context.Background())
	if err == nil {
		t.Fatal("expected listen error")
	}
}

func TestAgentUnwritableOutputDir(t *testing.T) {
	p := newPlatform(t)
	cfg := p.config(t)
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg.OutputDir = filepath.Join(blocker, "out")

	err := New(Options{Config: cfg}).Run(context.Background(), context.Background())
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
}
