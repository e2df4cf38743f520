package health

import (
	"slices"
	"sync"
	"time"

	"github.com/vietddude/racefetch/internal/infra/rpc/provider"
)

// ProviderHealth reports transport health.
type ProviderHealth interface {
	Health() provider.HealthStatus
}

// Monitor aggregates progress of a batch fetch.
type Monitor struct {
	provider   ProviderHealth
	sessionKey int
	drivers    map[int]*DriverProgress
	mu         sync.RWMutex
}

// NewMonitor creates a new progress monitor. p may be nil.
func NewMonitor(p ProviderHealth) *Monitor {
	return &Monitor{
		provider: p,
		drivers:  make(map[int]*DriverProgress),
	}
}

// Begin resets the monitor for a new session batch.
func (m *Monitor) Begin(sessionKey int, drivers []int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessionKey = sessionKey
	m.drivers = make(map[int]*DriverProgress, len(drivers))
	now := time.Now()
	for _, d := range drivers {
		m.drivers[d] = &DriverProgress{DriverNumber: d, State: DriverPending, UpdatedAt: now}
	}
}

// Start marks a driver as running.
func (m *Monitor) Start(driver int) {
	m.update(driver, func(p *DriverProgress) {
		p.State = DriverRunning
		p.Error = ""
	})
}

// Progress returns a callback that records covered time for driver.
func (m *Monitor) Progress(driver int) func(done, total time.Duration) {
	return func(done, total time.Duration) {
		m.update(driver, func(p *DriverProgress) {
			p.Done = done
			p.Total = total
			if total > 0 {
				p.Percent = float64(done) / float64(total) * 100
			}
		})
	}
}

// Finish marks a driver as done or failed.
func (m *Monitor) Finish(driver, samples int, err error) {
	m.update(driver, func(p *DriverProgress) {
		p.Samples = samples
		if err != nil {
			p.State = DriverFailed
			p.Error = err.Error()
			return
		}
		p.State = DriverDone
		if p.Total > 0 {
			p.Done = p.Total
		}
		p.Percent = 100
	})
}

func (m *Monitor) update(driver int, fn func(*DriverProgress)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.drivers[driver]
	if !ok {
		p = &DriverProgress{DriverNumber: driver}
		m.drivers[driver] = p
	}
	fn(p)
	p.UpdatedAt = time.Now()
}

// Report builds the current health report.
//
// Status rules: critical while the transport breaker is open, degraded
// when the transport is throttled or any driver failed, healthy otherwise.
func (m *Monitor) Report() HealthReport {
	m.mu.RLock()
	report := HealthReport{
		SystemStatus: StatusHealthy,
		SessionKey:   m.sessionKey,
		Drivers:      make([]DriverProgress, 0, len(m.drivers)),
	}
	for _, p := range m.drivers {
		report.Drivers = append(report.Drivers, *p)
		switch p.State {
		case DriverDone:
			report.Completed++
		case DriverFailed:
			report.Failed++
		}
	}
	m.mu.RUnlock()

	slices.SortFunc(report.Drivers, func(a, b DriverProgress) int {
		return a.DriverNumber - b.DriverNumber
	})

	if report.Failed > 0 {
		report.SystemStatus = StatusDegraded
	}

	if m.provider != nil {
		h := m.provider.Health()
		report.Provider = &h
		if h.MonitorStats != nil && h.MonitorStats.Status == provider.StatusThrottled {
			report.SystemStatus = StatusDegraded
		}
		if h.BreakerState == "open" {
			report.SystemStatus = StatusCritical
		}
	}

	return report
}
