package worker

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// HealthServer serves the worker's health endpoints:
//   - /health: liveness, always 200
//   - /health/ready: 200 once the scheduler is running, 503 before
//   - /health/last-run: the outcome of the most recent run, 404 before the first
type HealthServer struct {
	addr    string
	logger  *slog.Logger
	isReady *atomic.Bool

	mu      sync.RWMutex
	lastRun *RunStatus
}

// RunStatus describes one completed run.
type RunStatus struct {
	RunID      string        `json:"run_id"`
	Status     string        `json:"status"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration_ns"`
	Records    int           `json:"records"`
	Failed     int           `json:"failed_tasks"`
}

type healthResponse struct {
	Status  string     `json:"status"`
	LastRun *RunStatus `json:"last_run,omitempty"`
}

// NewHealthServer creates a health server that is not ready yet.
func NewHealthServer(addr string, logger *slog.Logger) *HealthServer {
	return &HealthServer{
		addr:    addr,
		logger:  logger,
		isReady: &atomic.Bool{},
	}
}

// Handler returns the health routes.
func (h *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleLiveness)
	mux.HandleFunc("/health/ready", h.handleReadiness)
	mux.HandleFunc("/health/last-run", h.handleLastRun)
	return mux
}

// Start serves the health endpoints until ctx is cancelled.
func (h *HealthServer) Start(ctx context.Context) error {
	return Serve(ctx, &http.Server{
		Addr:         h.addr,
		Handler:      h.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, h.logger.With(slog.String("server", "health")))
}

// SetReady sets the readiness reported by /health/ready.
func (h *HealthServer) SetReady(ready bool) {
	h.isReady.Store(ready)
	h.logger.Info("health server readiness changed", slog.Bool("ready", ready))
}

// SetLastRun records the outcome reported by /health/last-run.
func (h *HealthServer) SetLastRun(st RunStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastRun = &st
}

func (h *HealthServer) snapshot() *RunStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.lastRun == nil {
		return nil
	}
	st := *h.lastRun
	return &st
}

func (h *HealthServer) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

func (h *HealthServer) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	ready := h.isReady.Load()
	resp := healthResponse{Status: "not ready"}
	if ready {
		resp = healthResponse{Status: "ok", LastRun: h.snapshot()}
	}
	WriteJSON(w, okOr503(ready), resp)
}

func (h *HealthServer) handleLastRun(w http.ResponseWriter, _ *http.Request) {
	st := h.snapshot()
	if st == nil {
		WriteJSON(w, http.StatusNotFound, healthResponse{Status: "no runs yet"})
		return
	}
	WriteJSON(w, http.StatusOK, healthResponse{Status: st.Status, LastRun: st})
}
