package domain

import (
	"fmt"
	"regexp"
)

var whitespace = regexp.MustCompile(`\s+`)

// SavedRaceData is the dataset written for offline replay. The field
// names are what the replay viewer reads.
type SavedRaceData struct {
	SessionInfo  SessionInfo         `json:"sessionInfo"`
	LocationData map[string][]Sample `json:"locationData"`
	CarData      map[string][]Sample `json:"carData,omitempty"`
	Drivers      []DriverInfo        `json:"drivers,omitempty"`
	SavedAt      string              `json:"savedAt"`
}

// Key returns the storage key the dataset is saved under.
func (d *SavedRaceData) Key() string {
	return DatasetKey(d.SessionInfo)
}

// DatasetKey builds f1_race_<location>_<session_key>.
func DatasetKey(s SessionInfo) string {
	return fmt.Sprintf("f1_race_%s_%d", whitespace.ReplaceAllString(s.Location, "_"), s.SessionKey)
}
