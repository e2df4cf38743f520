package fetcher

import (
	"errors"
	"time"
)

// ErrWindowFloor is returned when the API keeps rejecting the smallest window.
var ErrWindowFloor = errors.New("window rejected at minimum size")

// WindowController tracks the window size of one driver fetch.
//
// The size starts at InitialWindow and only ever shrinks: each rejection
// halves it (millisecond granularity) down to MinWindow. Rejections that
// arrive while already at MinWindow are counted and, once they exceed
// MaxFloorRejections in a row, Shrink reports ErrWindowFloor.
type WindowController struct {
	size     time.Duration
	min      time.Duration
	maxFloor int

	floorRejections int
}

// NewWindowController creates a controller from a normalized config.
func NewWindowController(cfg Config) *WindowController {
	cfg = cfg.normalize()
	return &WindowController{
		size:     cfg.InitialWindow,
		min:      cfg.MinWindow,
		maxFloor: cfg.MaxFloorRejections,
	}
}

// Size returns the current window size.
func (w *WindowController) Size() time.Duration {
	return w.size
}

// Shrink halves the window after a rejection.
func (w *WindowController) Shrink() (time.Duration, error) {
	if w.size <= w.min {
		w.floorRejections++
		if w.floorRejections > w.maxFloor {
			return w.size, ErrWindowFloor
		}
		return w.size, nil
	}

	next := (w.size / 2).Truncate(time.Millisecond)
	if next < w.min {
		next = w.min
	}
	w.size = next
	return w.size, nil
}

// Accept records a successful window, clearing the floor streak.
func (w *WindowController) Accept() {
	w.floorRejections = 0
}
