// Package provider implements the HTTP transport to the telemetry API.
//
// This package contains:
//   - Provider interface: the GET-only transport the client builds on
//   - HTTPProvider: rate-limited, circuit-broken HTTP implementation
//   - ProviderMonitor: latency and throttle tracking
//
// The transport decides retryability, not payload meaning: 429 and 5xx
// statuses and connection failures come back as *retry.RetryableError,
// every other status is returned as a Response for the caller to classify.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

var (
	// ErrRateLimited is returned (wrapped as retryable) for HTTP 429.
	ErrRateLimited = errors.New("rate limited (429)")

	// ErrCircuitOpen is returned (wrapped as retryable) while the breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker open")
)

// Provider performs GET requests against the data source.
type Provider interface {
	// GetName returns the provider identifier
	GetName() string

	// Get requests path with an already encoded query string
	Get(ctx context.Context, path, rawQuery string) (*Response, error)

	// GetHealth returns current health metrics
	GetHealth() HealthStatus

	// Close cleans up resources
	Close() error
}

// Response is a non-retryable HTTP reply. Raw holds the body bytes.
type Response struct {
	Status int
	Raw    []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Body returns the decoded JSON body, the raw text when the body is not
// valid JSON, or nil for an empty body.
func (r *Response) Body() any {
	if len(strings.TrimSpace(string(r.Raw))) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(r.Raw, &v); err != nil {
		return string(r.Raw)
	}
	return v
}

// HealthStatus represents the health state of a provider.
type HealthStatus struct {
	Available     bool
	Latency       time.Duration
	ErrorRate     float64
	LastSuccessAt time.Time
	LastFailureAt time.Time
	BreakerState  string
	MonitorStats  *MonitorStats `json:"monitor_stats,omitempty"`
}

// StatusError describes a retryable HTTP failure status.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http %d", e.Status)
	}
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}
