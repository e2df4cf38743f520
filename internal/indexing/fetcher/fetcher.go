// Package fetcher walks a session's time range in adaptive windows.
//
// A fetch starts at the session start with the initial window, asks the
// remote source for [cursor, cursor+window), and either accepts the
// window (merge, report progress, advance) or, when the source answers
// "too much data", halves the window and asks again for the same cursor.
// Retryable and fatal failures abort the fetch.
//
// In dual-stream mode the car-state query for each window runs next to
// the position query. Position alone decides accept, shrink and abort;
// a failed car-state window is logged and left out of the result.
package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/racefetch/internal/core/domain"
	"github.com/vietddude/racefetch/internal/indexing/metrics"
	"github.com/vietddude/racefetch/internal/infra/rpc"
	"github.com/vietddude/racefetch/internal/infra/rpc/retry"
)

// Source answers windowed telemetry queries.
type Source interface {
	LocationWindow(ctx context.Context, sessionKey, driverNumber int, from, to time.Time) rpc.Result
	CarDataWindow(ctx context.Context, sessionKey, driverNumber int, from, to time.Time) rpc.Result
}

// Stats summarizes one driver fetch.
type Stats struct {
	Windows       int           // accepted windows
	Shrinks       int           // "too much data" rejections
	StateFailures int           // car-state windows left out
	Skipped       int           // undecodable records dropped
	FinalWindow   time.Duration // window size when the fetch ended
}

// Result holds the samples of one driver fetch, sorted by date.
type Result struct {
	Position []domain.Sample
	CarData  []domain.Sample // nil unless car data was requested
	Stats    Stats
}

// Fetcher retrieves per-driver telemetry in adaptive windows.
type Fetcher struct {
	source Source
	cfg    Config
	policy retry.Policy
	logger *slog.Logger
}

// New creates a fetcher over source.
func New(source Source, cfg Config) *Fetcher {
	cfg = cfg.normalize()
	f := &Fetcher{
		source: source,
		cfg:    cfg,
		logger: slog.Default().With("component", "fetcher"),
	}
	f.policy = retry.Policy{
		MaxRetries:    cfg.MaxRetriesPerWindow,
		BaseDelay:     500 * time.Millisecond,
		BackoffFactor: 2,
		MaxDelay:      30 * time.Second,
		Jitter:        true,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			metrics.RetriesTotal.WithLabelValues("window").Inc()
			f.logger.Warn("Window failed, retrying", "attempt", attempt, "delay", delay, "error", err)
		},
	}
	return f
}

// Config returns the effective configuration.
func (f *Fetcher) Config() Config {
	return f.cfg
}

// FetchDriver fetches position samples of one driver over the session.
func (f *Fetcher) FetchDriver(ctx context.Context, session domain.SessionInfo, driverNumber int) (*Result, error) {
	return f.run(ctx, session, driverNumber, false)
}

// FetchDriverWithCarData fetches position and car-state samples of one
// driver over the session.
func (f *Fetcher) FetchDriverWithCarData(ctx context.Context, session domain.SessionInfo, driverNumber int) (*Result, error) {
	return f.run(ctx, session, driverNumber, true)
}

func (f *Fetcher) run(ctx context.Context, session domain.SessionInfo, driverNumber int, withState bool) (*Result, error) {
	bounds, err := session.Bounds()
	if err != nil {
		return nil, fmt.Errorf("driver %d: %w", driverNumber, err)
	}

	total := bounds.Duration()
	window := NewWindowController(f.cfg)
	driverLabel := strconv.Itoa(driverNumber)
	logger := f.logger.With("session_key", session.SessionKey, "driver", driverNumber)

	position := newAccumulator()
	var state *accumulator
	if withState {
		state = newAccumulator()
	}

	var stats Stats
	cursor := bounds.Start

	for cursor.Before(bounds.End) {
		windowEnd := cursor.Add(window.Size())
		if windowEnd.After(bounds.End) {
			windowEnd = bounds.End
		}
		metrics.WindowSize.WithLabelValues(driverLabel).Set(window.Size().Seconds())

		// 1. Query the window (both streams in dual mode)
		posRes, stateRes := f.fetchWindow(ctx, session.SessionKey, driverNumber, cursor, windowEnd, withState)

		// 2. Dispatch on the position outcome
		switch posRes.Kind {
		case rpc.OK:
		case rpc.TooLarge:
			stats.Shrinks++
			metrics.WindowsTotal.WithLabelValues("shrunk").Inc()
			size, err := window.Shrink()
			if err != nil {
				metrics.WindowsTotal.WithLabelValues("failed").Inc()
				return nil, fmt.Errorf("driver %d at %s: %w", driverNumber, domain.FormatTimestamp(cursor), err)
			}
			logger.Warn("Too much data, shrinking window",
				"from", domain.FormatTimestamp(cursor),
				"to", domain.FormatTimestamp(windowEnd),
				"window", size,
			)
			continue
		default:
			metrics.WindowsTotal.WithLabelValues("failed").Inc()
			return nil, fmt.Errorf("driver %d window %s..%s: %w", driverNumber,
				domain.FormatTimestamp(cursor), domain.FormatTimestamp(windowEnd), posRes.Err)
		}

		// 3. Merge, skipping samples already seen
		window.Accept()
		stats.Windows++
		stats.Skipped += posRes.Skipped
		metrics.WindowsTotal.WithLabelValues("accepted").Inc()
		metrics.SamplesTotal.WithLabelValues("position").Add(float64(position.add(posRes.Samples)))

		if withState {
			if stateRes.Kind == rpc.OK {
				stats.Skipped += stateRes.Skipped
				metrics.SamplesTotal.WithLabelValues("car_data").Add(float64(state.add(stateRes.Samples)))
			} else {
				stats.StateFailures++
				logger.Warn("Car data window skipped",
					"from", domain.FormatTimestamp(cursor),
					"to", domain.FormatTimestamp(windowEnd),
					"kind", stateRes.Kind.String(),
					"error", stateRes.Err,
				)
			}
		}

		// 4. Report progress and advance
		if f.cfg.Progress != nil {
			done := windowEnd.Sub(bounds.Start)
			if done > total {
				done = total
			}
			f.cfg.Progress(done, total)
		}
		cursor = windowEnd

		if f.cfg.DelayBetweenRequests > 0 && cursor.Before(bounds.End) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(f.cfg.DelayBetweenRequests):
			}
		}
	}

	stats.FinalWindow = window.Size()
	logger.Debug("Driver fetch complete",
		"position_samples", position.len(),
		"windows", stats.Windows,
		"shrinks", stats.Shrinks,
		"skipped", stats.Skipped,
	)

	res := &Result{Position: position.sorted(), Stats: stats}
	if withState {
		res.CarData = state.sorted()
	}
	return res, nil
}

// fetchWindow issues the window queries. In dual mode both run
// concurrently and are joined before returning.
func (f *Fetcher) fetchWindow(
	ctx context.Context,
	sessionKey, driverNumber int,
	from, to time.Time,
	withState bool,
) (rpc.Result, rpc.Result) {
	if !withState {
		return f.query(ctx, f.source.LocationWindow, sessionKey, driverNumber, from, to), rpc.Result{}
	}

	var posRes, stateRes rpc.Result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		posRes = f.query(gctx, f.source.LocationWindow, sessionKey, driverNumber, from, to)
		if posRes.Kind == rpc.Retryable || posRes.Kind == rpc.Fatal {
			return posRes.Err
		}
		return nil
	})
	g.Go(func() error {
		stateRes = f.query(gctx, f.source.CarDataWindow, sessionKey, driverNumber, from, to)
		return nil
	})
	_ = g.Wait() // outcomes are inspected per stream

	return posRes, stateRes
}

type windowQuery func(ctx context.Context, sessionKey, driverNumber int, from, to time.Time) rpc.Result

// query runs one windowed query under the window-level retry policy.
func (f *Fetcher) query(
	ctx context.Context,
	q windowQuery,
	sessionKey, driverNumber int,
	from, to time.Time,
) rpc.Result {
	var last rpc.Result
	_, err := retry.Do(ctx, f.policy, func(ctx context.Context) (struct{}, error) {
		last = q(ctx, sessionKey, driverNumber, from, to)
		switch last.Kind {
		case rpc.Retryable:
			return struct{}{}, last.Err
		case rpc.Fatal:
			return struct{}{}, retry.Fatal(last.Err)
		}
		return struct{}{}, nil
	})
	if err == nil {
		return last
	}

	kind := last.Kind
	if ctx.Err() != nil {
		kind = rpc.Fatal
	}
	return rpc.Result{Kind: kind, Response: last.Response, Err: err}
}

// accumulator collects samples of one stream, first occurrence wins.
type accumulator struct {
	seen    map[domain.SampleKey]struct{}
	samples []domain.Sample
}

func newAccumulator() *accumulator {
	return &accumulator{seen: make(map[domain.SampleKey]struct{})}
}

func (a *accumulator) add(samples []domain.Sample) int {
	added := 0
	for _, s := range samples {
		key := s.Key()
		if _, ok := a.seen[key]; ok {
			continue
		}
		a.seen[key] = struct{}{}
		a.samples = append(a.samples, s)
		added++
	}
	return added
}

func (a *accumulator) len() int {
	return len(a.samples)
}

func (a *accumulator) sorted() []domain.Sample {
	out := slices.Clone(a.samples)
	slices.SortStableFunc(out, func(x, y domain.Sample) int {
		return x.Date.Compare(y.Date)
	})
	if out == nil {
		out = []domain.Sample{}
	}
	return out
}
