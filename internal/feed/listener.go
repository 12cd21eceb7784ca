package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Handler receives every event object decoded from the feed. It is called
// from the listener goroutine and must not block.
type Handler func(event map[string]any)

// Options configures a Listener.
type Options struct {
	URL              string
	Subscribe        string // sent once after each successful connect when non-blank
	Header           http.Header
	PingInterval     time.Duration
	PongTimeout      time.Duration
	HandshakeTimeout time.Duration
	BackoffMin       time.Duration
	BackoffMax       time.Duration
	Logger           *slog.Logger
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		PingInterval:     20 * time.Second,
		PongTimeout:      10 * time.Second,
		HandshakeTimeout: 15 * time.Second,
		BackoffMin:       DefaultBackoffMin,
		BackoffMax:       DefaultBackoffMax,
	}
}

// State is a point-in-time view of the connection.
type State struct {
	Connected  bool      `json:"connected"`
	Failures   int       `json:"consecutive_failures"`
	Reconnects int64     `json:"reconnects"`
	LastFrame  time.Time `json:"last_frame,omitempty"`
}

// Listener keeps a websocket session to the event feed alive and hands
// decoded events to a Handler.
type Listener struct {
	opts    Options
	handler Handler
	dialer  *websocket.Dialer
	logger  *slog.Logger

	connected  atomic.Bool
	failures   atomic.Int64
	reconnects atomic.Int64
	lastFrame  atomic.Int64 // unix nanos
}

// NewListener creates a Listener. Zero option values fall back to
// DefaultOptions.
func NewListener(opts Options, handler Handler) *Listener {
	def := DefaultOptions()
	if opts.PingInterval <= 0 {
		opts.PingInterval = def.PingInterval
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = def.PongTimeout
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = def.HandshakeTimeout
	}
	if opts.BackoffMin <= 0 {
		opts.BackoffMin = def.BackoffMin
	}
	if opts.BackoffMax < opts.BackoffMin {
		opts.BackoffMax = max(def.BackoffMax, opts.BackoffMin)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Listener{
		opts:    opts,
		handler: handler,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		logger: logger,
	}
}

// State returns the current connection state.
func (l *Listener) State() State {
	s := State{
		Connected:  l.connected.Load(),
		Failures:   int(l.failures.Load()),
		Reconnects: l.reconnects.Load(),
	}
	if ns := l.lastFrame.Load(); ns != 0 {
		s.LastFrame = time.Unix(0, ns)
	}
	return s
}

// Run connects to the feed and reconnects with exponential backoff until ctx
// is cancelled. Connection errors are logged, never returned.
func (l *Listener) Run(ctx context.Context) {
	failures := 0
	for {
		gotFrames, err := l.session(ctx)
		l.connected.Store(false)

		if ctx.Err() != nil {
			l.logger.Info("feed listener stopped")
			return
		}

		// A session that delivered frames was healthy; start counting again.
		if gotFrames {
			failures = 0
		}
		failures++
		l.failures.Store(int64(failures))
		l.reconnects.Add(1)

		wait := Backoff(failures, l.opts.BackoffMin, l.opts.BackoffMax)
		l.logger.Warn("feed disconnected", "error", err, "failures", failures, "reconnect_in", wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			l.logger.Info("feed listener stopped")
			return
		case <-timer.C:
		}
	}
}

// session runs one connection until it fails or ctx is cancelled.
func (l *Listener) session(ctx context.Context) (gotFrames bool, err error) {
	conn, resp, err := l.dialer.DialContext(ctx, l.opts.URL, l.opts.Header)
	if err != nil {
		if resp != nil {
			return false, fmt.Errorf("dial %s: %w (status %d)", l.opts.URL, err, resp.StatusCode)
		}
		return false, fmt.Errorf("dial %s: %w", l.opts.URL, err)
	}
	defer conn.Close()

	l.connected.Store(true)
	l.logger.Info("feed connected", "url", l.opts.URL)

	if sub := strings.TrimSpace(l.opts.Subscribe); sub != "" {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(sub)); err != nil {
			l.logger.Warn("failed to send subscribe message", "error", err)
		}
	}

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		keepaliveErr error
		errMu        sync.Mutex
		wg           sync.WaitGroup
	)
	fail := func(err error) {
		errMu.Lock()
		if keepaliveErr == nil {
			keepaliveErr = err
		}
		errMu.Unlock()
		conn.Close()
	}

	var lastPong atomic.Int64
	lastPong.Store(time.Now().UnixNano())
	conn.SetPongHandler(func(string) error {
		lastPong.Store(time.Now().UnixNano())
		return nil
	})

	wg.Add(2)
	go func() {
		defer wg.Done()
		l.keepalive(sessCtx, conn, &lastPong, fail)
	}()
	go func() {
		defer wg.Done()
		<-sessCtx.Done()
		if ctx.Err() != nil {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutting down")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		}
		conn.Close()
	}()

	for {
		typ, data, readErr := conn.ReadMessage()
		if readErr != nil {
			cancel()
			wg.Wait()
			errMu.Lock()
			defer errMu.Unlock()
			if keepaliveErr != nil {
				return gotFrames, keepaliveErr
			}
			if ctx.Err() != nil {
				return gotFrames, ctx.Err()
			}
			return gotFrames, fmt.Errorf("read: %w", readErr)
		}
		gotFrames = true
		l.lastFrame.Store(time.Now().UnixNano())
		l.handleFrame(data, typ == websocket.BinaryMessage)
	}
}

var errPongTimeout = errors.New("no pong received within timeout")

// keepalive pings the server and gives up on the connection when a pong
// does not arrive in time.
func (l *Listener) keepalive(ctx context.Context, conn *websocket.Conn, lastPong *atomic.Int64, fail func(error)) {
	ticker := time.NewTicker(l.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		sent := time.Now()
		if err := conn.WriteControl(websocket.PingMessage, nil, sent.Add(l.opts.PongTimeout)); err != nil {
			fail(fmt.Errorf("ping: %w", err))
			return
		}

		timer := time.NewTimer(l.opts.PongTimeout)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if time.Unix(0, lastPong.Load()).Before(sent) {
			fail(errPongTimeout)
			return
		}
	}
}

func (l *Listener) handleFrame(data []byte, binary bool) {
	events, bad, err := DecodeFrame(data, binary)
	if err != nil {
		l.logger.Debug("discarding frame", "error", err, "size", len(data))
		return
	}
	for _, frag := range bad {
		l.logger.Debug("invalid JSON fragment", "error", frag.Err, "fragment", truncate(frag.Text, 200))
	}
	for _, ev := range events {
		l.handler(ev)
	}
}
