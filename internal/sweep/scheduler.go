package sweep

import (
	"context"
	"log"
	"time"
)

// ReportHandler consumes a finished sweep report. This is where the
// caller applies revocations and decides alerting.
type ReportHandler func(ctx context.Context, report *Report)

// Scheduler runs the sweep on a fixed long interval, with a short delay
// before the first run after startup.
type Scheduler struct {
	sweeper      *Sweeper
	handle       ReportHandler
	interval     time.Duration
	startupDelay time.Duration
}

// NewScheduler returns a scheduler running sweeper on the given cadence.
func NewScheduler(s *Sweeper, handle ReportHandler, startupDelay, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if startupDelay <= 0 {
		startupDelay = time.Minute
	}
	return &Scheduler{sweeper: s, handle: handle, interval: interval, startupDelay: startupDelay}
}

// Run blocks until ctx is cancelled, executing a sweep after the
// startup delay and then every interval. Every execution produces a
// report handed to the handler; nothing is silently discarded.
func (sc *Scheduler) Run(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(sc.startupDelay):
	}

	ticker := time.NewTicker(sc.interval)
	defer ticker.Stop()
	for {
		report := sc.sweeper.Run(ctx)
		log.Printf("sweep: %d guilds, %d revocations, %d errors",
			len(report.Guilds), len(report.Revocations()), report.ErrorCount())
		sc.handle(ctx, report)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
