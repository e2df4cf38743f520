package fetcher

import "time"

// ProgressFunc receives the covered span and the total span of a fetch.
type ProgressFunc func(done, total time.Duration)

// Config holds configuration for adaptive window fetching.
type Config struct {
	// Window bounds
	InitialWindow time.Duration `yaml:"initial_window" env:"INITIAL_WINDOW"` // Starting window size (default: 5s)
	MinWindow     time.Duration `yaml:"min_window"     env:"MIN_WINDOW"`     // Smallest window after shrinking (default: 250ms)

	// MaxRetriesPerWindow is the window-level retry budget on top of the
	// client's own retries (default: 4)
	MaxRetriesPerWindow int `yaml:"max_retries_per_window" env:"MAX_RETRIES_PER_WINDOW"`

	// DelayBetweenRequests throttles consecutive accepted windows (default: 200ms)
	DelayBetweenRequests time.Duration `yaml:"delay_between_requests" env:"DELAY_BETWEEN_REQUESTS"`

	// MaxFloorRejections bounds consecutive "too much data" answers at
	// MinWindow before the fetch fails with ErrWindowFloor (default: 5)
	MaxFloorRejections int `yaml:"max_floor_rejections" env:"MAX_FLOOR_REJECTIONS"`

	// Progress is called once per accepted window
	Progress ProgressFunc `yaml:"-"`
}

// DefaultConfig returns sensible defaults for window fetching.
func DefaultConfig() Config {
	return Config{
		InitialWindow:        5 * time.Second,
		MinWindow:            250 * time.Millisecond,
		MaxRetriesPerWindow:  4,
		DelayBetweenRequests: 200 * time.Millisecond,
		MaxFloorRejections:   5,
	}
}

// normalize fills unset fields. Zero delays and retry budgets are valid.
func (c Config) normalize() Config {
	def := DefaultConfig()
	if c.InitialWindow <= 0 {
		c.InitialWindow = def.InitialWindow
	}
	if c.MinWindow <= 0 {
		c.MinWindow = def.MinWindow
	}
	if c.InitialWindow < c.MinWindow {
		c.InitialWindow = c.MinWindow
	}
	if c.MaxRetriesPerWindow < 0 {
		c.MaxRetriesPerWindow = 0
	}
	if c.DelayBetweenRequests < 0 {
		c.DelayBetweenRequests = 0
	}
	if c.MaxFloorRejections <= 0 {
		c.MaxFloorRejections = def.MaxFloorRejections
	}
	return c
}
