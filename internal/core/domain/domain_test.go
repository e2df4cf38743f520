package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func TestParseBounds(t *testing.T) {
	tests := []struct {
		name       string
		start, end string
		want       time.Duration
		wantErr    bool
	}{
		{"fractional seconds", "2023-09-17T12:00:00.000Z", "2023-09-17T14:00:00.500Z", 2*time.Hour + 500*time.Millisecond, false},
		{"offset", "2023-09-17T20:00:00+08:00", "2023-09-17T12:30:00Z", 30 * time.Minute, false},
		{"no zone offset", "2023-09-17T12:00:00.250", "2023-09-17T12:00:01Z", 750 * time.Millisecond, false},
		{"end equals start", "2023-09-17T12:00:00Z", "2023-09-17T12:00:00Z", 0, true},
		{"end before start", "2023-09-17T12:00:00Z", "2023-09-17T11:00:00Z", 0, true},
		{"unparsable start", "yesterday", "2023-09-17T12:00:00Z", 0, true},
		{"empty end", "2023-09-17T12:00:00Z", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := ParseBounds(tt.start, tt.end)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidBounds) {
					t.Errorf("Expected ErrInvalidBounds, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if b.Duration() != tt.want {
				t.Errorf("Duration = %s, want %s", b.Duration(), tt.want)
			}
		})
	}
}

func TestFormatTimestamp(t *testing.T) {
	ts := time.Date(2023, 9, 17, 20, 0, 1, 123456789, time.FixedZone("SGT", 8*3600))
	if got := FormatTimestamp(ts); got != "2023-09-17T12:00:01.123Z" {
		t.Errorf("FormatTimestamp = %s", got)
	}
}

func TestSampleKeepsPayload(t *testing.T) {
	raw := `{"x":-1234,"y":567,"z":12,"driver_number":44,"date":"2023-09-17T12:00:01.5+00:00","meeting_key":1219}`

	var s Sample
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if s.DriverNumber != 44 || s.Date.UnixMilli() != time.Date(2023, 9, 17, 12, 0, 1, 5e8, time.UTC).UnixMilli() {
		t.Errorf("Unexpected identity %d %s", s.DriverNumber, s.Date)
	}

	out, err := json.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != raw {
		t.Errorf("Payload changed:\n got %s\nwant %s", out, raw)
	}

	other := Sample{DriverNumber: 44, Date: s.Date.UTC()}
	if other.Key() != s.Key() {
		t.Error("Samples with equal driver and instant must share a key")
	}
}

func TestSampleRejectsBadDate(t *testing.T) {
	var s Sample
	if err := json.Unmarshal([]byte(`{"driver_number":1,"date":"not a date"}`), &s); err == nil {
		t.Error("Expected decode error for invalid date")
	}
}

func TestDatasetKey(t *testing.T) {
	tests := []struct {
		location string
		want     string
	}{
		{"Marina Bay", "f1_race_Marina_Bay_9161"},
		{"Yas  Marina\tCircuit", "f1_race_Yas_Marina_Circuit_9161"},
		{"Monza", "f1_race_Monza_9161"},
	}
	for _, tt := range tests {
		d := SavedRaceData{SessionInfo: SessionInfo{Location: tt.location, SessionKey: 9161}}
		if got := d.Key(); got != tt.want {
			t.Errorf("Key(%q) = %s, want %s", tt.location, got, tt.want)
		}
	}
}

func TestSavedRaceDataOmitsEmptyCarData(t *testing.T) {
	d := SavedRaceData{
		SessionInfo:  SessionInfo{Location: "Monza", SessionKey: 1},
		LocationData: map[string][]Sample{},
		SavedAt:      "2023-09-17T12:00:00.000Z",
	}
	out, err := json.Marshal(d)
	if err != nil {
		t.Fatal(err)
	}
	var fields map[string]any
	if err := json.Unmarshal(out, &fields); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"sessionInfo", "locationData", "savedAt"} {
		if _, ok := fields[k]; !ok {
			t.Errorf("Missing field %s", k)
		}
	}
	if _, ok := fields["carData"]; ok {
		t.Error("carData should be omitted when empty")
	}
}
