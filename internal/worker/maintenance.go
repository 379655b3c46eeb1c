package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/eventworker/internal/metrics"
	"git.home.luguber.info/inful/eventworker/internal/queue"
)

// Pruner drops expired idempotency entries.
type Pruner interface {
	Prune() int
}

// Maintenance runs periodic housekeeping next to the consumption loop.
type Maintenance struct {
	scheduler gocron.Scheduler
	interval  time.Duration
}

// NewMaintenance creates a scheduler whose jobs run every interval.
func NewMaintenance(interval time.Duration) (*Maintenance, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("maintenance interval must be positive, got %s", interval)
	}
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	return &Maintenance{scheduler: s, interval: interval}, nil
}

// PruneCache schedules removal of expired idempotency entries.
func (m *Maintenance) PruneCache(p Pruner) error {
	_, err := m.scheduler.NewJob(
		gocron.DurationJob(m.interval),
		gocron.NewTask(func() {
			if n := p.Prune(); n > 0 {
				slog.Debug("Pruned idempotency cache", "removed", n)
			}
		}),
		gocron.WithName("idempotency-prune"),
	)
	if err != nil {
		return fmt.Errorf("failed to create prune job: %w", err)
	}
	return nil
}

// SampleQueueDepth schedules reporting of the queue depth gauge.
func (m *Maintenance) SampleQueueDepth(stats queue.StatsReporter, recorder metrics.Recorder) error {
	_, err := m.scheduler.NewJob(
		gocron.DurationJob(m.interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), m.interval)
			defer cancel()
			s, err := stats.Stats(ctx)
			if err != nil {
				slog.Warn("Queue depth sample failed", "error", err)
				return
			}
			recorder.SetQueueDepth(s.Depth)
		}),
		gocron.WithName("queue-depth"),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("failed to create queue depth job: %w", err)
	}
	return nil
}

// Start begins running scheduled jobs.
func (m *Maintenance) Start() {
	slog.Info("Starting maintenance scheduler", "interval", m.interval)
	m.scheduler.Start()
}

// Stop waits for running jobs and shuts the scheduler down.
func (m *Maintenance) Stop() error {
	slog.Info("Stopping maintenance scheduler")
	return m.scheduler.Shutdown()
}
