// Package cache drops downstream caches derived from an owner's timeline.
package cache

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/DK-com2/PATHFINDER-WEB/internal/logging"
)

var breakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "timeline_ingest",
	Subsystem: "cache",
	Name:      "breaker_state",
	Help:      "Invalidation circuit breaker state (0 closed, 1 half-open, 2 open).",
}, []string{"name"})

func init() {
	prometheus.MustRegister(breakerState)
}

// NoopInvalidator is used when no invalidation endpoint is configured.
type NoopInvalidator struct{}

// InvalidateOwner performs no action.
func (NoopInvalidator) InvalidateOwner(context.Context, string) error { return nil }

// HTTPInvalidator asks the map service to drop the cached views of an owner.
// Calls go through a circuit breaker so a dead endpoint does not slow every
// ingest down by the full timeout.
type HTTPInvalidator struct {
	client *http.Client
	url    string
	token  string
	cb     *gobreaker.CircuitBreaker[struct{}]
	logger zerolog.Logger
}

// NewHTTPInvalidator constructs an HTTPInvalidator.
func NewHTTPInvalidator(endpoint, token string, timeout time.Duration) *HTTPInvalidator {
	const name = "cache-invalidate"
	logger := logging.Component("cache")
	breakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("invalidation breaker state change")
			breakerState.WithLabelValues(name).Set(float64(to))
		},
	})

	return &HTTPInvalidator{
		client: &http.Client{Timeout: timeout},
		url:    strings.TrimRight(endpoint, "/"),
		token:  token,
		cb:     cb,
		logger: logger,
	}
}

// InvalidateOwner posts {"owner": owner} to the endpoint. It returns
// gobreaker.ErrOpenState without calling out while the breaker is open.
func (h *HTTPInvalidator) InvalidateOwner(ctx context.Context, owner string) error {
	_, err := h.cb.Execute(func() (struct{}, error) {
		return struct{}{}, h.post(ctx, owner)
	})
	return err
}

func (h *HTTPInvalidator) post(ctx context.Context, owner string) error {
	body, err := json.Marshal(map[string]string{"owner": owner})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &InvalidationError{Status: resp.StatusCode}
	}
	return nil
}

// InvalidationError represents a non-successful invalidation response.
type InvalidationError struct {
	Status int
}

func (e *InvalidationError) Error() string {
	return "cache invalidation failed with status " + http.StatusText(e.Status)
}
