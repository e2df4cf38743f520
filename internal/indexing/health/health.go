// Package health provides fetch progress monitoring and status reporting.
package health

import (
	"time"

	"github.com/vietddude/racefetch/internal/infra/rpc/provider"
)

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// DriverState is the lifecycle of one driver fetch.
type DriverState string

const (
	DriverPending DriverState = "pending"
	DriverRunning DriverState = "running"
	DriverDone    DriverState = "done"
	DriverFailed  DriverState = "failed"
)

// DriverProgress contains progress metrics for one driver.
type DriverProgress struct {
	DriverNumber int           `json:"driver_number"`
	State        DriverState   `json:"state"`
	Done         time.Duration `json:"done_ns"`
	Total        time.Duration `json:"total_ns"`
	Percent      float64       `json:"percent"`
	Samples      int           `json:"samples"`
	Error        string        `json:"error,omitempty"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// HealthReport contains the full fetch progress report.
type HealthReport struct {
	SystemStatus SystemStatus            `json:"system_status"`
	SessionKey   int                     `json:"session_key"`
	Completed    int                     `json:"completed"`
	Failed       int                     `json:"failed"`
	Drivers      []DriverProgress        `json:"drivers"`
	Provider     *provider.HealthStatus  `json:"provider,omitempty"`
}
