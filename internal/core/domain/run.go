package domain

import "time"

// RunStatus is the outcome of one per-driver fetch run.
type RunStatus string

const (
	RunStatusOK     RunStatus = "ok"
	RunStatusEmpty  RunStatus = "empty"
	RunStatusFailed RunStatus = "failed"
)

// Run records one per-driver fetch for the run ledger.
type Run struct {
	ID              string
	SessionKey      int
	DriverNumber    int
	Status          RunStatus
	PositionSamples int
	StateSamples    int
	Windows         int
	Shrinks         int
	Error           string
	StartedAt       time.Time
	FinishedAt      time.Time
}
