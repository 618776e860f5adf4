package collect

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// ProgressReporter periodically logs per-task progress. Delivery is
// best effort; a missed report never affects collection correctness.
type ProgressReporter struct {
	logger    *zap.Logger
	snapshots func() []TaskSnapshot
	interval  time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewProgressReporter creates a reporter reading task snapshots from
// the given source, typically Scheduler.Snapshots.
func NewProgressReporter(logger *zap.Logger, snapshots func() []TaskSnapshot, interval time.Duration) *ProgressReporter {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &ProgressReporter{
		logger:    logger.With(zap.String("component", "progress")),
		snapshots: snapshots,
		interval:  interval,
		stopCh:    make(chan struct{}),
	}
}

// Start begins periodic progress reporting.
func (pr *ProgressReporter) Start() {
	pr.wg.Add(1)
	go func() {
		defer pr.wg.Done()
		ticker := time.NewTicker(pr.interval)
		defer ticker.Stop()

		for {
			select {
			case <-pr.stopCh:
				return
			case <-ticker.C:
				pr.report()
			}
		}
	}()
}

// Stop stops reporting and emits a final report.
func (pr *ProgressReporter) Stop() {
	close(pr.stopCh)
	pr.wg.Wait()
	pr.report()
}

func (pr *ProgressReporter) report() {
	for _, snap := range pr.snapshots() {
		pr.logger.Info("task progress",
			zap.String("entity", string(snap.Entity)),
			zap.String("state", snap.State.String()),
			zap.Int64("records_fetched", snap.RecordsFetched),
			zap.Int64("pages_fetched", snap.PagesFetched))
	}
}
