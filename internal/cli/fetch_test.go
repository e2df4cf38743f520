package cli

import (
	"slices"
	"testing"
)

func TestParseDrivers(t *testing.T) {
	tests := []struct {
		in      string
		want    []int
		wantErr bool
	}{
		{"1", []int{1}, false},
		{"1,44, 16", []int{1, 44, 16}, false},
		{"1,,44", []int{1, 44}, false},
		{"1,x", nil, true},
	}

	for _, tt := range tests {
		got, err := parseDrivers(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseDrivers(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !slices.Equal(got, tt.want) {
			t.Errorf("parseDrivers(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
