package domain

// DriverInfo is one entry of a session's driver roster.
type DriverInfo struct {
	DriverNumber  int    `json:"driver_number"`
	BroadcastName string `json:"broadcast_name,omitempty"`
	FullName      string `json:"full_name,omitempty"`
	NameAcronym   string `json:"name_acronym,omitempty"`
	TeamName      string `json:"team_name,omitempty"`
	TeamColour    string `json:"team_colour,omitempty"`
	HeadshotURL   string `json:"headshot_url,omitempty"`
	SessionKey    int    `json:"session_key,omitempty"`
	MeetingKey    int    `json:"meeting_key,omitempty"`
}
