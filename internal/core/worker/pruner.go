package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/racefetch/internal/infra/storage"
)

// Pruner deletes old ledger runs based on retention policy.
type Pruner struct {
	retention time.Duration
	runs      storage.RunRepository
	now       func() time.Time
}

// NewPruner creates a new Pruner. A zero retention disables pruning.
func NewPruner(retention time.Duration, runs storage.RunRepository) *Pruner {
	return &Pruner{
		retention: retention,
		runs:      runs,
		now:       time.Now,
	}
}

// Prune removes runs older than the retention period.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	if p.retention <= 0 {
		return 0, nil // Retention disabled
	}

	threshold := p.now().Add(-p.retention)
	n, err := p.runs.DeleteOlderThan(ctx, threshold)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Info("Pruned old fetch runs", "component", "pruner", "count", n, "before", threshold.Format(time.RFC3339))
	}
	return n, nil
}
