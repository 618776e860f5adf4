// Package quota enforces a shared outbound-request budget over a fixed
// rolling window. Every collection task acquires a slot here before any
// transport attempt, so the process-wide request count never exceeds
// the remote API's per-window cap.
package quota

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ajitpratap0/comet/pkg/metrics"
)

// Governor grants permission to issue one request at a time. Admission
// decisions are serialized through a single mutex so the issued count
// never exceeds the cap even under concurrent pressure. State is not
// persisted; a restart opens a fresh window.
type Governor struct {
	maxRequests int
	window      time.Duration

	windowStart    time.Time
	requestsIssued int

	// Stats
	admitted      int64
	waited        int64
	totalWaitTime int64

	now func() time.Time // test hook

	mu sync.Mutex
}

// Stats reports governor counters for monitoring.
type Stats struct {
	MaxRequests     int           `json:"max_requests"`
	Window          time.Duration `json:"window"`
	RequestsIssued  int           `json:"requests_issued"`
	WindowStart     time.Time     `json:"window_start"`
	Admitted        int64         `json:"admitted"`
	Waited          int64         `json:"waited"`
	AverageWaitTime time.Duration `json:"average_wait_time"`
}

// NewGovernor creates a governor admitting at most maxRequests per
// window.
func NewGovernor(maxRequests int, window time.Duration) *Governor {
	return &Governor{
		maxRequests: maxRequests,
		window:      window,
		now:         time.Now,
	}
}

// Acquire blocks until the caller may issue one request. When the
// current window is exhausted the caller sleeps for exactly the
// remaining window time, then re-enters admission. Returns the context
// error if the caller is cancelled while waiting.
func (g *Governor) Acquire(ctx context.Context) error {
	start := g.now()

	for {
		g.mu.Lock()
		now := g.now()

		// Open the first window lazily so a constructed-but-idle
		// governor does not burn window time.
		if g.windowStart.IsZero() {
			g.windowStart = now
		}

		// Window elapsed: reset before admitting.
		if now.Sub(g.windowStart) >= g.window {
			g.windowStart = now
			g.requestsIssued = 0
		}

		if g.requestsIssued < g.maxRequests {
			g.requestsIssued++
			atomic.AddInt64(&g.admitted, 1)
			wait := g.now().Sub(start)
			atomic.AddInt64(&g.totalWaitTime, wait.Nanoseconds())
			metrics.QuotaWaitSeconds.Observe(wait.Seconds())
			g.mu.Unlock()
			return nil
		}

		// Cap reached: suspend for the remaining window, computed not
		// polled.
		remaining := g.window - now.Sub(g.windowStart)
		g.mu.Unlock()

		atomic.AddInt64(&g.waited, 1)

		timer := time.NewTimer(remaining)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// Stats returns a snapshot of governor counters.
func (g *Governor) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	admitted := atomic.LoadInt64(&g.admitted)
	totalWait := atomic.LoadInt64(&g.totalWaitTime)

	avgWait := time.Duration(0)
	if admitted > 0 {
		avgWait = time.Duration(totalWait / admitted)
	}

	return Stats{
		MaxRequests:     g.maxRequests,
		Window:          g.window,
		RequestsIssued:  g.requestsIssued,
		WindowStart:     g.windowStart,
		Admitted:        admitted,
		Waited:          atomic.LoadInt64(&g.waited),
		AverageWaitTime: avgWait,
	}
}
