package registry

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// MetricsSink receives periodic registry health snapshots. Implemented by
// internal/observability; kept as a narrow interface here so this package
// does not depend on it.
type MetricsSink interface {
	ObserveRegistryStats(Stats)
}

// Sweeper periodically recomputes registry stats and reports them, grounded
// on the teacher's robfig/cron usage for scheduled background work. It never
// mutates agent status itself — effective health is always computed at read
// time (spec §4.2) — it only surfaces a snapshot for observability.
type Sweeper struct {
	store        Store
	agentTimeout time.Duration
	logger       *slog.Logger
	sink         MetricsSink
	cron         *cron.Cron
}

// NewSweeper constructs a Sweeper. sink may be nil.
func NewSweeper(store Store, agentTimeout time.Duration, logger *slog.Logger, sink MetricsSink) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:        store,
		agentTimeout: agentTimeout,
		logger:       logger.With("component", "registry-sweeper"),
		sink:         sink,
		cron:         cron.New(),
	}
}

// Start schedules the sweep on the given cron spec (e.g. "@every 30s") and
// begins running it in the background. Call Stop to shut it down.
func (sw *Sweeper) Start(ctx context.Context, spec string) error {
	_, err := sw.cron.AddFunc(spec, func() { sw.sweep(ctx) })
	if err != nil {
		return err
	}
	sw.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for any in-flight sweep to finish.
func (sw *Sweeper) Stop() {
	<-sw.cron.Stop().Done()
}

func (sw *Sweeper) sweep(ctx context.Context) {
	stats, err := sw.store.Stats(ctx, time.Now(), sw.agentTimeout)
	if err != nil {
		sw.logger.Warn("registry sweep failed", "error", err)
		return
	}
	sw.logger.Debug("registry sweep",
		"total", stats.TotalAgents,
		"healthy", stats.HealthyAgents,
		"unhealthy", stats.UnhealthyAgents,
	)
	if sw.sink != nil {
		sw.sink.ObserveRegistryStats(stats)
	}
}
