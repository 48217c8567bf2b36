package server

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/alnah/go-doc2pdf/internal/metrics"
)

// Sweeper removes files older than a given age and reports how many.
type Sweeper interface {
	Sweep(maxAge time.Duration) (int, error)
}

// Janitor periodically sweeps expired saved documents and orphaned artifacts.
type Janitor struct {
	areas     map[string]Sweeper
	retention time.Duration
	interval  time.Duration
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// NewJanitor creates a Janitor over the named areas. A nil logger or
// metrics disables that output.
func NewJanitor(areas map[string]Sweeper, retention, interval time.Duration, logger *zap.Logger, m *metrics.Metrics) *Janitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Janitor{
		areas:     areas,
		retention: retention,
		interval:  interval,
		logger:    logger,
		metrics:   m,
	}
}

// SweepOnce runs one pass over every area and returns the total removed.
// Errors are logged; a failing area does not stop the others.
func (j *Janitor) SweepOnce() int {
	total := 0
	for area, sw := range j.areas {
		n, err := sw.Sweep(j.retention)
		if err != nil {
			j.logger.Warn("sweep failed", zap.String("area", area), zap.Error(err))
		}
		if j.metrics != nil {
			j.metrics.Swept(area, n)
		}
		total += n
	}
	return total
}

// Run sweeps once immediately, then every interval until ctx ends.
func (j *Janitor) Run(ctx context.Context) {
	j.SweepOnce()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.SweepOnce()
		}
	}
}
