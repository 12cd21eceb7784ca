package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type fakeFeed struct {
	t        *testing.T
	upgrader websocket.Upgrader
	frames   []string

	mu         sync.Mutex
	headers    []http.Header
	subscribes []string
	conns      atomic.Int32
}

func (f *fakeFeed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.t.Errorf("upgrade: %v", err)
		return
	}
	defer conn.Close()
	f.conns.Add(1)

	f.mu.Lock()
	f.headers = append(f.headers, r.Header.Clone())
	f.mu.Unlock()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return
	}
	f.mu.Lock()
	f.subscribes = append(f.subscribes, string(msg))
	f.mu.Unlock()

	for _, frame := range f.frames {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			return
		}
	}
	// Closing right away forces the listener to reconnect.
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func collect() (Handler, func() []map[string]any) {
	var mu sync.Mutex
	var got []map[string]any
	h := func(ev map[string]any) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	}
	return h, func() []map[string]any {
		mu.Lock()
		defer mu.Unlock()
		return append([]map[string]any(nil), got...)
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestListenerForwardsEventsAndReconnects(t *testing.T) {
	feed := &fakeFeed{
		t: t,
		frames: []string{
			`{"productType":"VMI","time":1700000000000}`,
			"{\"productType\":\"SRI\",\"time\":1}\n{\"productType\":\"TEMP\",\"time\":2}",
			`not json`,
		},
	}
	srv := httptest.NewServer(feed)
	defer srv.Close()

	handler, events := collect()
	header := http.Header{}
	header.Set("User-Agent", "radar-test")
	header.Set("X-Token", "secret")

	l := NewListener(Options{
		URL:        wsURL(srv),
		Subscribe:  `  {"op":"subscribe"}  `,
		Header:     header,
		BackoffMin: 10 * time.Millisecond,
		BackoffMax: 20 * time.Millisecond,
	}, handler)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	waitFor(t, 5*time.Second, func() bool { return feed.conns.Load() >= 2 && len(events()) >= 6 })

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not stop after cancel")
	}

	got := events()
	if got[0]["productType"] != "VMI" || got[1]["productType"] != "SRI" || got[2]["productType"] != "TEMP" {
		t.Errorf("unexpected event order: %v", got[:3])
	}

	feed.mu.Lock()
	defer feed.mu.Unlock()
	if feed.headers[0].Get("User-Agent") != "radar-test" || feed.headers[0].Get("X-Token") != "secret" {
		t.Errorf("handshake headers not sent: %v", feed.headers[0])
	}
	if feed.subscribes[0] != `{"op":"subscribe"}` {
		t.Errorf("unexpected subscribe message %q", feed.subscribes[0])
	}

	if s := l.State(); s.Connected || s.Reconnects == 0 || s.LastFrame.IsZero() {
		t.Errorf("unexpected state after stop: %+v", s)
	}
}

func TestListenerBacksOffOnDialFailure(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	handler, _ := collect()
	l := NewListener(Options{
		URL:        wsURL(srv),
		BackoffMin: 5 * time.Millisecond,
		BackoffMax: 10 * time.Millisecond,
	}, handler)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	waitFor(t, 5*time.Second, func() bool { return attempts.Load() >= 3 })
	if s := l.State(); s.Failures < 2 {
		t.Errorf("expected consecutive failures to grow, got %+v", s)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not stop after cancel")
	}
}

func TestListenerPongTimeout(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conns.Add(1)
		// Swallow pings so no pong is ever sent.
		conn.SetPingHandler(func(string) error { return nil })
		conn.WriteMessage(websocket.TextMessage, []byte(`{"productType":"VMI","time":1}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	handler, _ := collect()
	l := NewListener(Options{
		URL:          wsURL(srv),
		PingInterval: 20 * time.Millisecond,
		PongTimeout:  20 * time.Millisecond,
		BackoffMin:   5 * time.Millisecond,
		BackoffMax:   5 * time.Millisecond,
	}, handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	waitFor(t, 5*time.Second, func() bool { return conns.Load() >= 2 })
}
