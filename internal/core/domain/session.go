package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidBounds is returned when a session's start/end cannot be used
// as a fetch range.
var ErrInvalidBounds = errors.New("invalid session start/end dates")

// ErrSessionNotFound is returned when the API knows no session for a key.
var ErrSessionNotFound = errors.New("session not found")

// SessionInfo describes one timed session of a race meeting.
type SessionInfo struct {
	CircuitKey       int    `json:"circuit_key,omitempty"`
	CircuitShortName string `json:"circuit_short_name,omitempty"`
	CountryCode      string `json:"country_code,omitempty"`
	CountryKey       int    `json:"country_key,omitempty"`
	CountryName      string `json:"country_name,omitempty"`
	DateEnd          string `json:"date_end"`
	DateStart        string `json:"date_start"`
	GMTOffset        string `json:"gmt_offset,omitempty"`
	Location         string `json:"location"`
	MeetingKey       int    `json:"meeting_key"`
	SessionKey       int    `json:"session_key"`
	SessionName      string `json:"session_name"`
	SessionType      string `json:"session_type"`
	Year             int    `json:"year"`
}

// Bounds parses the session's start and end dates.
func (s SessionInfo) Bounds() (SessionBounds, error) {
	return ParseBounds(s.DateStart, s.DateEnd)
}

// SessionBounds is the half-open interval [Start, End) a fetch must cover.
type SessionBounds struct {
	Start time.Time
	End   time.Time
}

// Duration returns the length of the interval.
func (b SessionBounds) Duration() time.Duration {
	return b.End.Sub(b.Start)
}

// ParseBounds builds SessionBounds from two ISO-8601 timestamps.
func ParseBounds(start, end string) (SessionBounds, error) {
	s, err := ParseTimestamp(start)
	if err != nil {
		return SessionBounds{}, fmt.Errorf("%w: start %q", ErrInvalidBounds, start)
	}
	e, err := ParseTimestamp(end)
	if err != nil {
		return SessionBounds{}, fmt.Errorf("%w: end %q", ErrInvalidBounds, end)
	}
	return NewBounds(s, e)
}

// NewBounds validates that end is strictly after start.
func NewBounds(start, end time.Time) (SessionBounds, error) {
	if !end.After(start) {
		return SessionBounds{}, fmt.Errorf("%w: end %s not after start %s",
			ErrInvalidBounds, end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return SessionBounds{Start: start, End: end}, nil
}

// localLayout matches timestamps sent without a zone offset, read as UTC.
const localLayout = "2006-01-02T15:04:05.999999999"

// ParseTimestamp accepts RFC 3339 timestamps with or without fractional
// seconds. Timestamps without a zone offset are taken as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err == nil {
		return t, nil
	}
	if local, lerr := time.ParseInLocation(localLayout, s, time.UTC); lerr == nil {
		return local, nil
	}
	return time.Time{}, err
}

// FormatTimestamp renders t the way range filters expect it: UTC with
// millisecond precision.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
