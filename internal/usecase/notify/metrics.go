package notify

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	notificationDispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deprecations_notification_dispatched_total",
			Help: "Total number of notices dispatched to a channel",
		},
		[]string{"channel"},
	)

	notificationSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deprecations_notification_sent_total",
			Help: "Total number of notices sent by outcome",
		},
		[]string{"channel", "status"}, // success|failure
	)

	notificationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deprecations_notification_duration_seconds",
			Help:    "Notice send duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30},
		},
		[]string{"channel"},
	)

	circuitBreakerOpenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deprecations_notification_circuit_breaker_open_total",
			Help: "Total number of times a channel's circuit breaker opened",
		},
		[]string{"channel"},
	)

	notificationDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deprecations_notification_dropped_total",
			Help: "Total number of notices not sent",
		},
		[]string{"channel", "reason"}, // pool_full|circuit_open|run_limit|shutdown
	)

	activeNotifications = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "deprecations_notification_active_goroutines",
			Help: "Number of active notification goroutines",
		},
	)

	channelsEnabled = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "deprecations_notification_channels_enabled",
			Help: "Number of enabled notification channels",
		},
	)
)

func recordDispatch(channel string) {
	notificationDispatchedTotal.WithLabelValues(channel).Inc()
}

func recordResult(channel string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	notificationSentTotal.WithLabelValues(channel, status).Inc()
	notificationDuration.WithLabelValues(channel).Observe(duration.Seconds())
}

func recordDropped(channel, reason string, n int) {
	notificationDroppedTotal.WithLabelValues(channel, reason).Add(float64(n))
}

func recordCircuitBreakerOpen(channel string) {
	circuitBreakerOpenTotal.WithLabelValues(channel).Inc()
}
