package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/vietddude/racefetch/internal/indexing/metrics"
	"github.com/vietddude/racefetch/internal/infra/rpc/retry"
)

// maxErrorBody bounds how much of a failed response body ends up in errors.
const maxErrorBody = 512

// Config configures an HTTPProvider.
type Config struct {
	Name              string
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64 // 0 disables client-side throttling
	Burst             int
	BreakerFailures   uint32 // consecutive failures that open the breaker (0 = 5)
	BreakerTimeout    time.Duration
	UserAgent         string
}

// HTTPProvider implements Provider for a JSON REST API.
type HTTPProvider struct {
	name       string
	baseURL    string
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[*Response]
	openHint   time.Duration
	logger     *slog.Logger

	mu           sync.RWMutex
	health       HealthStatus
	totalLatency time.Duration
	successCount int
	failureCount int
	requestCount int

	Monitor *ProviderMonitor
}

// NewHTTPProvider creates a new HTTP provider.
func NewHTTPProvider(cfg Config) *HTTPProvider {
	if cfg.Name == "" {
		cfg.Name = "openf1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}

	p := &HTTPProvider{
		name:      cfg.Name,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		openHint: cfg.BreakerTimeout,
		logger:   slog.Default().With("component", "provider", "provider", cfg.Name),
		health: HealthStatus{
			Available:     true,
			LastSuccessAt: time.Now(),
			BreakerState:  gobreaker.StateClosed.String(),
		},
		Monitor: NewProviderMonitor(),
	}

	if cfg.RequestsPerSecond > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
	}

	threshold := cfg.BreakerFailures
	p.breaker = gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.logger.Warn("Circuit breaker state changed", "from", from.String(), "to", to.String())
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
			p.mu.Lock()
			p.health.BreakerState = to.String()
			p.mu.Unlock()
		},
		// Throttling and caller cancellation say nothing about endpoint health.
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, ErrRateLimited) ||
				errors.Is(err, context.Canceled) ||
				errors.Is(err, context.DeadlineExceeded)
		},
	})

	return p
}

// Get performs one GET request. Transient failures are returned as
// *retry.RetryableError; every other status comes back as a Response.
func (p *HTTPProvider) Get(ctx context.Context, path, rawQuery string) (*Response, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("wait for rate limiter: %w", err)
		}
	}

	resp, err := p.breaker.Execute(func() (*Response, error) {
		return p.do(ctx, path, rawQuery)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, retry.Retryable(fmt.Errorf("%w: %v", ErrCircuitOpen, err), p.openHint)
	}
	return resp, err
}

func (p *HTTPProvider) do(ctx context.Context, path, rawQuery string) (*Response, error) {
	start := time.Now()
	endpoint := strings.TrimLeft(path, "/")

	target := p.baseURL + "/" + endpoint
	if rawQuery != "" {
		target += "?" + rawQuery
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, retry.Fatal(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}

	p.logger.Debug("GET", "url", target)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.recordFailure()
		metrics.HTTPRequestsTotal.WithLabelValues(endpoint, "error").Inc()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		// %v drops the chain so a client timeout stays retryable.
		return nil, retry.Retryable(fmt.Errorf("GET %s: %v", endpoint, redactURL(err)), 0)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	latency := time.Since(start)
	metrics.HTTPLatency.WithLabelValues(endpoint).Observe(latency.Seconds())
	metrics.HTTPRequestsTotal.WithLabelValues(endpoint, statusClass(resp.StatusCode)).Inc()
	if err != nil {
		p.recordFailure()
		return nil, retry.Retryable(fmt.Errorf("read response: %v", err), 0)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		hint := ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		p.Monitor.RecordThrottle(hint)
		p.logger.Warn("Rate limited", "path", endpoint, "retry_after", hint)
		return nil, retry.Retryable(ErrRateLimited, hint)

	case resp.StatusCode >= 500:
		p.Monitor.RecordServerError()
		p.recordFailure()
		return nil, retry.Retryable(&StatusError{Status: resp.StatusCode, Body: truncate(body)}, 0)

	case resp.StatusCode >= 400 && p.Monitor.DetectThrottlePattern(string(body)):
		p.Monitor.RecordThrottle(0)
		return nil, retry.Retryable(fmt.Errorf("%w: %s", ErrRateLimited, truncate(body)), 0)
	}

	p.Monitor.RecordRequest(latency)
	p.recordSuccess(latency)

	return &Response{Status: resp.StatusCode, Raw: body}, nil
}

// ParseRetryAfter reads a Retry-After header given in seconds or as an
// HTTP date. It returns 0 when the header is missing or unusable.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}

func truncate(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}

func redactURL(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Err
	}
	return err
}

// GetName returns the provider's name.
func (p *HTTPProvider) GetName() string {
	return p.name
}

// GetHealth returns the provider's health status.
func (p *HTTPProvider) GetHealth() HealthStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h := p.health
	stats := p.Monitor.GetStats()
	h.MonitorStats = &stats
	return h
}

// Close cleans up resources.
func (p *HTTPProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

func (p *HTTPProvider) recordSuccess(latency time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.successCount++
	p.requestCount++
	p.totalLatency += latency
	p.health.LastSuccessAt = time.Now()
	p.health.Available = true

	if p.requestCount > 0 {
		p.health.ErrorRate = float64(p.failureCount) / float64(p.requestCount)
	}
	if p.successCount > 0 {
		p.health.Latency = p.totalLatency / time.Duration(p.successCount)
	}
}

func (p *HTTPProvider) recordFailure() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.failureCount++
	p.requestCount++
	p.health.LastFailureAt = time.Now()

	if p.requestCount > 0 {
		p.health.ErrorRate = float64(p.failureCount) / float64(p.requestCount)
	}

	if p.health.ErrorRate > 0.5 {
		p.health.Available = false
	}
}
