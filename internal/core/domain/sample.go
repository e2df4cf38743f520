package domain

import (
	"bytes"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Sample is one telemetry record (position or car state). Only the
// identity fields are decoded; the full record travels in Raw and is
// written back unchanged.
type Sample struct {
	DriverNumber int
	Date         time.Time
	Raw          json.RawMessage
}

// SampleKey identifies a sample for deduplication.
type SampleKey struct {
	DriverNumber int
	UnixNano     int64
}

// Key returns the dedup key of the sample.
func (s Sample) Key() SampleKey {
	return SampleKey{DriverNumber: s.DriverNumber, UnixNano: s.Date.UnixNano()}
}

// UnmarshalJSON keeps the raw record and extracts driver_number and date.
func (s *Sample) UnmarshalJSON(data []byte) error {
	var head struct {
		DriverNumber int    `json:"driver_number"`
		Date         string `json:"date"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("decode sample: %w", err)
	}
	date, err := ParseTimestamp(head.Date)
	if err != nil {
		return fmt.Errorf("decode sample date %q: %w", head.Date, err)
	}
	s.DriverNumber = head.DriverNumber
	s.Date = date
	s.Raw = append(s.Raw[:0], bytes.TrimSpace(data)...)
	return nil
}

// MarshalJSON writes the original record.
func (s Sample) MarshalJSON() ([]byte, error) {
	if len(s.Raw) == 0 {
		return json.Marshal(map[string]any{
			"driver_number": s.DriverNumber,
			"date":          s.Date.UTC().Format(time.RFC3339Nano),
		})
	}
	return s.Raw, nil
}
