package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"

	"github.com/vietddude/racefetch/internal/core/domain"
	"github.com/vietddude/racefetch/internal/indexing/metrics"
	"github.com/vietddude/racefetch/internal/infra/rpc/provider"
	"github.com/vietddude/racefetch/internal/infra/rpc/retry"
)

// API endpoints and filter fields.
const (
	EndpointSessions = "sessions"
	EndpointDrivers  = "drivers"
	EndpointLocation = "location"
	EndpointCarData  = "car_data"

	FieldSessionKey   = "session_key"
	FieldDriverNumber = "driver_number"
	FieldDate         = "date"
)

// Client is the high-level interface for querying the telemetry API.
type Client struct {
	provider provider.Provider
	policy   retry.Policy
	logger   *slog.Logger
}

// NewClient creates a client over p. Every request is retried with policy.
func NewClient(p provider.Provider, policy retry.Policy) *Client {
	c := &Client{
		provider: p,
		logger:   slog.Default().With("component", "rpc", "provider", p.GetName()),
	}
	if policy.OnRetry == nil {
		policy.OnRetry = func(attempt int, err error, delay time.Duration) {
			metrics.RetriesTotal.WithLabelValues("client").Inc()
			c.logger.Warn("Request failed, retrying", "attempt", attempt, "delay", delay, "error", err)
		}
	}
	c.policy = policy
	return c
}

// Health returns the provider health snapshot.
func (c *Client) Health() provider.HealthStatus {
	return c.provider.GetHealth()
}

// Close releases the provider.
func (c *Client) Close() error {
	return c.provider.Close()
}

// Do sends one GET through the retry engine and classifies the outcome.
func (c *Client) Do(ctx context.Context, endpoint string, q *Query) Result {
	resp, err := retry.Do(ctx, c.policy, func(ctx context.Context) (*provider.Response, error) {
		return c.provider.Get(ctx, endpoint, q.Encode())
	})
	return Classify(resp, err)
}

// Session looks up a single session by key.
func (c *Client) Session(ctx context.Context, sessionKey int) (*domain.SessionInfo, error) {
	sessions, err := list[domain.SessionInfo](ctx, c, EndpointSessions,
		NewQuery().EqInt(FieldSessionKey, sessionKey))
	if err != nil {
		return nil, fmt.Errorf("get session %d: %w", sessionKey, err)
	}
	if len(sessions) == 0 {
		return nil, fmt.Errorf("session %d: %w", sessionKey, domain.ErrSessionNotFound)
	}
	return &sessions[0], nil
}

// Sessions lists the race sessions of a year.
func (c *Client) Sessions(ctx context.Context, year int) ([]domain.SessionInfo, error) {
	sessions, err := list[domain.SessionInfo](ctx, c, EndpointSessions,
		NewQuery().Eq("session_type", "Race").EqInt("year", year))
	if err != nil {
		return nil, fmt.Errorf("list sessions %d: %w", year, err)
	}
	return sessions, nil
}

// Drivers returns the roster of a session.
func (c *Client) Drivers(ctx context.Context, sessionKey int) ([]domain.DriverInfo, error) {
	return c.DriverDetails(ctx, sessionKey, 0)
}

// DriverDetails returns driver records of a session, narrowed to one
// driver when driverNumber is non-zero.
func (c *Client) DriverDetails(ctx context.Context, sessionKey, driverNumber int) ([]domain.DriverInfo, error) {
	q := NewQuery().EqInt(FieldSessionKey, sessionKey)
	if driverNumber != 0 {
		q.EqInt(FieldDriverNumber, driverNumber)
	}
	drivers, err := list[domain.DriverInfo](ctx, c, EndpointDrivers, q)
	if err != nil {
		return nil, fmt.Errorf("list drivers %d: %w", sessionKey, err)
	}
	return drivers, nil
}

// Location fetches every position sample of one driver in one request.
func (c *Client) Location(ctx context.Context, sessionKey, driverNumber int) ([]domain.Sample, error) {
	return c.samples(ctx, EndpointLocation,
		NewQuery().EqInt(FieldSessionKey, sessionKey).EqInt(FieldDriverNumber, driverNumber))
}

// SessionLocation fetches position samples of all drivers in a session.
func (c *Client) SessionLocation(ctx context.Context, sessionKey int) ([]domain.Sample, error) {
	return c.samples(ctx, EndpointLocation, NewQuery().EqInt(FieldSessionKey, sessionKey))
}

// CarData fetches every car-state sample of one driver in one request.
func (c *Client) CarData(ctx context.Context, sessionKey, driverNumber int) ([]domain.Sample, error) {
	return c.samples(ctx, EndpointCarData,
		NewQuery().EqInt(FieldSessionKey, sessionKey).EqInt(FieldDriverNumber, driverNumber))
}

// LocationWindow fetches position samples with from < date < to.
func (c *Client) LocationWindow(ctx context.Context, sessionKey, driverNumber int, from, to time.Time) Result {
	return c.window(ctx, EndpointLocation, sessionKey, driverNumber, from, to)
}

// CarDataWindow fetches car-state samples with from < date < to.
func (c *Client) CarDataWindow(ctx context.Context, sessionKey, driverNumber int, from, to time.Time) Result {
	return c.window(ctx, EndpointCarData, sessionKey, driverNumber, from, to)
}

func (c *Client) window(ctx context.Context, endpoint string, sessionKey, driverNumber int, from, to time.Time) Result {
	q := NewQuery().
		EqInt(FieldSessionKey, sessionKey).
		EqInt(FieldDriverNumber, driverNumber).
		Gt(FieldDate, from).
		Lt(FieldDate, to)

	res := c.Do(ctx, endpoint, q)
	if res.Kind != OK {
		return res
	}
	raws, err := decodeList[json.RawMessage](res.Response)
	if err != nil {
		return Result{Kind: Fatal, Response: res.Response, Err: fmt.Errorf("%s window: %w", endpoint, err)}
	}
	res.Samples, res.Skipped = c.decodeSamples(endpoint, raws)
	return res
}

// samples runs a non-windowed sample query.
func (c *Client) samples(ctx context.Context, endpoint string, q *Query) ([]domain.Sample, error) {
	raws, err := list[json.RawMessage](ctx, c, endpoint, q)
	if err != nil {
		return nil, err
	}
	samples, _ := c.decodeSamples(endpoint, raws)
	return samples, nil
}

// decodeSamples decodes records one by one. A record without a usable
// driver_number or date is skipped and counted instead of failing the
// whole page.
func (c *Client) decodeSamples(endpoint string, raws []json.RawMessage) ([]domain.Sample, int) {
	samples := make([]domain.Sample, 0, len(raws))
	skipped := 0
	for _, raw := range raws {
		var s domain.Sample
		if err := json.Unmarshal(raw, &s); err != nil {
			skipped++
			c.logger.Debug("Skipping undecodable record", "endpoint", endpoint, "error", err)
			continue
		}
		samples = append(samples, s)
	}
	if skipped > 0 {
		metrics.SkippedRecordsTotal.WithLabelValues(endpoint).Add(float64(skipped))
	}
	return samples, skipped
}

func list[T any](ctx context.Context, c *Client, endpoint string, q *Query) ([]T, error) {
	res := c.Do(ctx, endpoint, q)
	switch res.Kind {
	case OK:
		return decodeList[T](res.Response)
	case TooLarge:
		return nil, fmt.Errorf("%w: %s", ErrTooLarge, res.Reason)
	default:
		return nil, res.Err
	}
}

// decodeList decodes a JSON array body. Empty bodies and 404 answers
// decode to an empty list.
func decodeList[T any](resp *provider.Response) ([]T, error) {
	if resp == nil || resp.Status == 404 || resp.Body() == nil {
		return nil, nil
	}
	var out []T
	if err := json.Unmarshal(resp.Raw, &out); err != nil {
		return nil, fmt.Errorf("unexpected response shape: %w", err)
	}
	return out, nil
}
