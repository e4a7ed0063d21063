package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	workerPkg "deprecations-feed/internal/infra/worker"
	"deprecations-feed/internal/resilience/circuitbreaker"
	"deprecations-feed/internal/usecase/notify"
	envutil "deprecations-feed/pkg/config"
)

// HealthResponse represents a simple health check response.
type HealthResponse struct {
	Status string `json:"status"`
}

// BreakerHealthResponse lists the collection tasks whose circuit is open.
type BreakerHealthResponse struct {
	Healthy bool     `json:"healthy"`
	Enabled bool     `json:"enabled"`
	Open    []string `json:"open"`
}

// ChannelHealthResponse reports the notification channels.
type ChannelHealthResponse struct {
	Healthy  bool                         `json:"healthy"`
	Channels []notify.ChannelHealthStatus `json:"channels"`
}

// runMetricsServer serves /metrics and the health endpoints on METRICS_PORT
// until ctx is cancelled:
//
//	GET /metrics            Prometheus exposition
//	GET /health             liveness
//	GET /health/breakers    collection tasks whose circuit is open
//	GET /health/channels    notification channels and their breaker state
func runMetricsServer(ctx context.Context, logger *slog.Logger, breakers *circuitbreaker.Registry, notifications notify.Service) error {
	return workerPkg.Serve(ctx, &http.Server{
		Addr:         fmt.Sprintf(":%d", metricsPort()),
		Handler:      metricsMux(breakers, notifications),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}, logger.With(slog.String("server", "metrics")))
}

func metricsMux(breakers *circuitbreaker.Registry, notifications notify.Service) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		workerPkg.WriteJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
	})
	mux.HandleFunc("/health/breakers", breakerHealthHandler(breakers))
	mux.HandleFunc("/health/channels", channelHealthHandler(notifications))
	return mux
}

// metricsPort reads METRICS_PORT, defaulting to 9090 when unset or out of range.
func metricsPort() int {
	port := envutil.GetEnvInt("METRICS_PORT", 9090)
	if port <= 0 || port > 65535 {
		return 9090
	}
	return port
}

// breakerHealthHandler answers 503 while any task circuit is open. A nil
// registry means breakers are disabled.
func breakerHealthHandler(breakers *circuitbreaker.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := BreakerHealthResponse{Healthy: true, Enabled: breakers != nil, Open: []string{}}
		if breakers != nil {
			if open := breakers.Open(); len(open) > 0 {
				resp.Open = open
				resp.Healthy = false
			}
		}
		writeHealth(w, resp.Healthy, resp)
	}
}

// channelHealthHandler answers 503 while an enabled channel's breaker is
// open. A nil service means notifications are off.
func channelHealthHandler(notifications notify.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := ChannelHealthResponse{Healthy: true, Channels: []notify.ChannelHealthStatus{}}
		if notifications != nil {
			resp.Channels = notifications.GetChannelHealth()
			for _, ch := range resp.Channels {
				if ch.Enabled && ch.CircuitBreakerOpen {
					resp.Healthy = false
				}
			}
		}
		writeHealth(w, resp.Healthy, resp)
	}
}

func writeHealth(w http.ResponseWriter, healthy bool, body any) {
	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	workerPkg.WriteJSON(w, code, body)
}
