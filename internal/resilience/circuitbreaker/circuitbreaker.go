// Package circuitbreaker wraps github.com/sony/gobreaker with the trip
// policies used for sources, collection tasks, enhancers and notification
// channels, and a registry that keeps one breaker per name.
package circuitbreaker

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// Config is one breaker's trip policy.
type Config struct {
	Name string

	// MaxRequests is how many trial calls pass while half-open.
	MaxRequests uint32
	// Interval clears the counts while closed. Zero never clears them.
	Interval time.Duration
	// Timeout is how long the breaker stays open.
	Timeout time.Duration

	// The breaker trips once MinRequests calls have been seen and the failure
	// ratio reaches FailureThreshold, or after ConsecutiveFailures failures
	// in a row when that is non-zero.
	FailureThreshold    float64
	MinRequests         uint32
	ConsecutiveFailures uint32

	// IsSuccessful decides which errors count against the circuit.
	// Nil counts every non-nil error.
	IsSuccessful func(err error) bool
}

// DefaultConfig trips at a 60% failure ratio over at least five calls and
// retries after a minute.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRequests:      3,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.6,
		MinRequests:      5,
	}
}

// EnhancerConfig is the policy for one language model provider.
func EnhancerConfig(provider string) Config {
	return DefaultConfig("enhancer-" + provider)
}

// CollectTaskConfig returns configuration for one collection task.
// Collection runs are hours apart, so the breaker trips after a few
// consecutive failed runs and stays open long enough to skip the next one.
func CollectTaskConfig(task string) Config {
	return Config{
		Name:                "collect-" + task,
		MaxRequests:         1,
		Interval:            0, // never clear counts while closed
		Timeout:             6 * time.Hour,
		FailureThreshold:    1.0,
		MinRequests:         3,
		ConsecutiveFailures: 3,
	}
}

// SourceFetchConfig returns configuration for HTTP requests to one source host.
func SourceFetchConfig(host string) Config {
	return Config{
		Name:             "source-" + host,
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          10 * time.Minute,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

// NotifyChannelConfig returns configuration for one notification channel.
// A webhook that fails five times in a row is skipped for five minutes.
func NotifyChannelConfig(channel string) Config {
	return Config{
		Name:                "notify-" + channel,
		MaxRequests:         1,
		Interval:            0,
		Timeout:             5 * time.Minute,
		FailureThreshold:    1.0,
		MinRequests:         5,
		ConsecutiveFailures: 5,
	}
}

// CircuitBreaker is a named gobreaker.CircuitBreaker.
type CircuitBreaker struct {
	breaker *gobreaker.CircuitBreaker
	name    string
}

// New builds a breaker from cfg. State changes are logged at warn level.
func New(cfg Config) *CircuitBreaker {
	settings := gobreaker.Settings{
		Name:         cfg.Name,
		MaxRequests:  cfg.MaxRequests,
		Interval:     cfg.Interval,
		Timeout:      cfg.Timeout,
		IsSuccessful: cfg.IsSuccessful,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cfg.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("circuit breaker state changed",
				slog.String("circuit", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	}

	return &CircuitBreaker{
		breaker: gobreaker.NewCircuitBreaker(settings),
		name:    cfg.Name,
	}
}

// Execute runs fn unless the circuit is open, in which case it returns
// gobreaker.ErrOpenState without calling fn.
func (cb *CircuitBreaker) Execute(fn func() (interface{}, error)) (interface{}, error) {
	return cb.breaker.Execute(fn)
}

func (cb *CircuitBreaker) State() gobreaker.State {
	return cb.breaker.State()
}

func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// IsOpen reports whether calls are currently rejected.
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.breaker.State() == gobreaker.StateOpen
}

// Registry lazily creates one breaker per name and keeps it for the life of
// the process, so breaker state survives between scheduled runs.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	config   func(name string) Config
}

// NewRegistry returns a registry that builds breakers with config.
func NewRegistry(config func(name string) Config) *Registry {
	if config == nil {
		config = DefaultConfig
	}
	return &Registry{breakers: map[string]*CircuitBreaker{}, config: config}
}

// Get returns the breaker for name, creating it on first use.
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[name]
	if !ok {
		cb = New(r.config(name))
		r.breakers[name] = cb
	}
	return cb
}

// Open lists the names whose breaker is currently open.
func (r *Registry) Open() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var names []string
	for name, cb := range r.breakers {
		if cb.IsOpen() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
