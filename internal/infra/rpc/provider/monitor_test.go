package provider

import (
	"testing"
	"time"
)

func TestMonitorAccumulation(t *testing.T) {
	m := NewProviderMonitor()

	m.RecordRequest(100 * time.Millisecond)
	stats := m.GetStats()
	if stats.Requests != 1 {
		t.Errorf("Expected 1 request, got %d", stats.Requests)
	}

	for i := 0; i < 100; i++ {
		m.RecordRequest(50 * time.Millisecond)
	}

	stats = m.GetStats()
	if stats.Requests != 101 {
		t.Errorf("Expected 101 requests, got %d", stats.Requests)
	}
	if stats.RequestsLastMin != 101 {
		t.Errorf("Expected 101 requests in the last minute, got %d", stats.RequestsLastMin)
	}
	// Latency window keeps the last 100 samples, all 50ms.
	if stats.AverageLatency != 50*time.Millisecond {
		t.Errorf("Expected average latency 50ms, got %v", stats.AverageLatency)
	}
}

func TestMonitorThrottleStatus(t *testing.T) {
	m := NewProviderMonitor()
	if got := m.CheckProviderStatus(); got != StatusHealthy {
		t.Fatalf("Expected healthy, got %s", got)
	}

	m.RecordThrottle(time.Minute)
	if got := m.CheckProviderStatus(); got != StatusThrottled {
		t.Errorf("Expected throttled after 429, got %s", got)
	}

	stats := m.GetStats()
	if stats.ThrottleCount429 != 1 || stats.LastRetryAfter != time.Minute {
		t.Errorf("Unexpected throttle stats: %+v", stats)
	}
}

func TestDetectThrottlePattern(t *testing.T) {
	m := NewProviderMonitor()
	tests := []struct {
		msg  string
		want bool
	}{
		{"Rate limit exceeded, slow down", true},
		{"Too Many Requests", true},
		{"Too much data requested", false},
		{"internal error", false},
	}
	for _, tt := range tests {
		if got := m.DetectThrottlePattern(tt.msg); got != tt.want {
			t.Errorf("DetectThrottlePattern(%q) = %v, want %v", tt.msg, got, tt.want)
		}
	}
}
