package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/glascaleia/DPC-Radar-data-downloader/internal/feed"
	"github.com/glascaleia/DPC-Radar-data-downloader/internal/progress"
)

// Sources supplies the values reported by /status. Nil funcs are omitted.
type Sources struct {
	Feed     func() feed.State
	Queue    func() QueueState
	Dedup    func() int
	Progress *progress.Reporter
}

// QueueState describes the job queue.
type QueueState struct {
	Length   int `json:"length"`
	Capacity int `json:"capacity"`
	Pending  int `json:"pending"`
}

// Report is the /status response body.
type Report struct {
	Uptime        string             `json:"uptime"`
	UptimeSeconds float64            `json:"uptime_seconds"`
	Feed          *feed.State        `json:"feed,omitempty"`
	Queue         *QueueState        `json:"queue,omitempty"`
	DedupEntries  *int               `json:"dedup_entries,omitempty"`
	Progress      *progress.Snapshot `json:"progress,omitempty"`
}

// NewRouter builds the status routes.
func NewRouter(src Sources) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok\n"))
	})
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, buildReport(src))
	})
	return r
}

func buildReport(src Sources) Report {
	up := src.Progress.Uptime()
	rep := Report{
		Uptime:        up.Round(time.Second).String(),
		UptimeSeconds: up.Seconds(),
	}
	if src.Feed != nil {
		s := src.Feed()
		rep.Feed = &s
	}
	if src.Queue != nil {
		q := src.Queue()
		rep.Queue = &q
	}
	if src.Dedup != nil {
		n := src.Dedup()
		rep.DedupEntries = &n
	}
	if src.Progress != nil {
		s := src.Progress.Snapshot()
		rep.Progress = &s
	}
	return rep
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Server is the status HTTP server.
type Server struct {
	srv    *http.Server
	ln     net.Listener
	logger *slog.Logger
}

// Listen binds addr and prepares a Server. Serve must be called to accept
// connections.
func Listen(addr string, src Sources, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return &Server{
		srv: &http.Server{
			Handler:           NewRouter(src),
			ReadHeaderTimeout: 10 * time.Second,
		},
		ln:     ln,
		logger: logger,
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Serve accepts connections until Shutdown is called.
func (s *Server) Serve() error {
	s.logger.Info("status server listening", "addr", s.Addr())
	if err := s.srv.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server, waiting for active requests until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
