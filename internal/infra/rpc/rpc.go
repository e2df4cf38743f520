// Package rpc is the typed client for the OpenF1-style telemetry API.
//
// Every request goes through the retry engine and the HTTP provider.
// Window queries come back as a tagged Result so callers dispatch on
// Kind instead of re-inspecting response shapes:
//
//	res := client.LocationWindow(ctx, 9161, 44, from, to)
//	switch res.Kind {
//	case rpc.OK:        // res.Samples
//	case rpc.TooLarge:  // shrink the window
//	default:            // res.Err
//	}
//
// # Package Structure
//
//   - provider/ - HTTP transport with throttling, breaker and monitoring
//   - retry/    - Backoff policy and retry loop
package rpc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vietddude/racefetch/internal/core/domain"
	"github.com/vietddude/racefetch/internal/infra/rpc/provider"
	"github.com/vietddude/racefetch/internal/infra/rpc/retry"
)

// tooLargeMarker is the text the API uses when a query spans too many records.
const tooLargeMarker = "too much"

// ErrTooLarge is returned by list queries rejected for spanning too much data.
var ErrTooLarge = errors.New("too much data requested")

// Kind tags the outcome of a remote call.
type Kind int

const (
	OK Kind = iota
	TooLarge
	Retryable
	Fatal
)

func (k Kind) String() string {
	switch k {
	case OK:
		return "ok"
	case TooLarge:
		return "too_large"
	case Retryable:
		return "retryable"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Result is the classified outcome of one query.
type Result struct {
	Kind     Kind
	Response *provider.Response // set when the server answered
	Samples  []domain.Sample    // decoded records for OK window queries
	Skipped  int                // records dropped for a missing or unparsable date
	Reason   string             // rejection detail for TooLarge
	Err      error              // cause for Retryable and Fatal
}

// APIError is a non-retryable client error returned by the API.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("api error (status %d)", e.Status)
	}
	return fmt.Sprintf("api error (status %d): %s", e.Status, e.Detail)
}

// Classify turns a transport outcome into a tagged Result.
//
// A "too much data" rejection is recognized both in a response body with
// a string detail field and in an error message. 404 is the API's answer
// for an empty result and classifies as OK. Remaining 4xx statuses are
// fatal, exhausted transient errors are retryable.
func Classify(resp *provider.Response, err error) Result {
	if err != nil {
		switch {
		case strings.Contains(strings.ToLower(err.Error()), tooLargeMarker):
			return Result{Kind: TooLarge, Reason: err.Error(), Err: err}
		case retry.IsFatal(err),
			errors.Is(err, context.Canceled),
			errors.Is(err, context.DeadlineExceeded):
			return Result{Kind: Fatal, Err: err}
		default:
			return Result{Kind: Retryable, Err: err}
		}
	}
	if resp == nil {
		return Result{Kind: Fatal, Err: errors.New("no response")}
	}

	detail, hasDetail := detailOf(resp.Body())
	if hasDetail && strings.Contains(strings.ToLower(detail), tooLargeMarker) {
		return Result{Kind: TooLarge, Response: resp, Reason: detail}
	}

	switch {
	case resp.OK(), resp.Status == 404:
		return Result{Kind: OK, Response: resp}
	default:
		if !hasDetail {
			detail = strings.TrimSpace(string(resp.Raw))
		}
		return Result{Kind: Fatal, Response: resp, Err: &APIError{Status: resp.Status, Detail: detail}}
	}
}

func detailOf(body any) (string, bool) {
	m, ok := body.(map[string]any)
	if !ok {
		return "", false
	}
	d, ok := m["detail"].(string)
	return d, ok
}
