package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"git.home.luguber.info/inful/eventworker/internal/backend"
	"git.home.luguber.info/inful/eventworker/internal/config"
	"git.home.luguber.info/inful/eventworker/internal/deadletter"
	"git.home.luguber.info/inful/eventworker/internal/handlers"
	"git.home.luguber.info/inful/eventworker/internal/ingest"
	"git.home.luguber.info/inful/eventworker/internal/logfields"
	"git.home.luguber.info/inful/eventworker/internal/metrics"
	"git.home.luguber.info/inful/eventworker/internal/processor"
	"git.home.luguber.info/inful/eventworker/internal/retry"
	"git.home.luguber.info/inful/eventworker/internal/server/api"
	"git.home.luguber.info/inful/eventworker/internal/status"
	"git.home.luguber.info/inful/eventworker/internal/worker"
)

// WorkerCmd implements the 'worker' command.
type WorkerCmd struct {
	ServeAPI bool `name:"serve-api" help:"Also serve the ingestion API from this process (required for the memory queue)"`
}

func (w *WorkerCmd) Run(g *Global, root *CLI) error {
	cfg, err := g.loadConfig(root.Config)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return RunWorker(ctx, g, cfg, root.Config, w.ServeAPI)
}

// RunWorker runs the consumption loop with its maintenance jobs, metrics
// endpoint and config watcher until ctx is canceled.
func RunWorker(ctx context.Context, g *Global, cfg *config.Config, configPath string, serveAPI bool) error {
	log := slog.Default().With(logfields.Worker(cfg.Worker.ID))
	log.Info("Starting worker",
		logfields.Backend(cfg.Queue.Backend),
		logfields.BatchSize(cfg.Queue.BatchSize),
		logfields.MaxRetries(cfg.Retry.MaxRetries),
		slog.Int("concurrency", cfg.Worker.Concurrency))

	set, err := backend.Open(ctx, cfg, backend.ClientName("worker"))
	if err != nil {
		return fmt.Errorf("open backends: %w", err)
	}
	var abandoned bool
	defer func() {
		// Handlers still running after a timed out drain keep their stores.
		if abandoned {
			log.Warn("Drain abandoned, leaving backends open for in-flight messages")
			return
		}
		if err := set.Close(); err != nil {
			log.Warn("Closing backends failed", logfields.Error(err))
		}
	}()

	reg, recorder := newRecorder(cfg)

	var journal status.Journal
	router := []deadletter.Option{deadletter.WithRecorder(recorder)}
	if set.Journal != nil {
		journal = set.Journal
		router = append(router, deadletter.WithSpool(set.Journal), deadletter.WithJournal(set.Journal))
	}
	if set.DeadLetter != nil {
		router = append(router, deadletter.WithDestination(set.DeadLetter))
	} else {
		log.Warn("No dead-letter destination configured; exhausted events are only marked failed")
	}

	tracker := status.NewTracker(set.Status, journal, cfg.Worker.ID)
	registry := handlers.NewRegistry(handlers.WithSimulatedLatency(cfg.Handlers.SimulateLatency))
	proc := processor.New(set.Cache, registry, recorder)

	wk := worker.New(set.Queue, proc, tracker, deadletter.NewRouter(tracker, set.Queue, router...),
		worker.WithID(cfg.Worker.ID),
		worker.WithPolicy(retry.FromConfig(cfg.Retry)),
		worker.WithBatch(cfg.Queue.BatchSize, cfg.Queue.WaitTimeDuration()),
		worker.WithPollErrorPause(cfg.Queue.PollErrorPauseDuration()),
		worker.WithConcurrency(cfg.Worker.Concurrency),
		worker.WithRecorder(recorder),
	)

	maint, err := startMaintenance(cfg, set, recorder)
	if err != nil {
		return err
	}
	defer func() {
		if err := maint.Stop(); err != nil {
			log.Warn("Stopping maintenance failed", logfields.Error(err))
		}
	}()

	if configPath != "" {
		watcher, err := config.NewWatcher(configPath, func(next *config.Config) {
			g.applyLogging(next.Logging)
			log.Info("Configuration reloaded", slog.String("level", g.Level.Level().String()))
		})
		if err != nil {
			return err
		}
		if err := watcher.Start(ctx); err != nil {
			log.Warn("Config watcher unavailable", logfields.Error(err))
		}
		defer watcher.Stop()
	}

	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error { return wk.Run(gctx) })
	if reg != nil {
		grp.Go(func() error { return metrics.Serve(gctx, cfg.Metrics.Addr, reg) })
	}
	if serveAPI {
		svc := newIngestService(set, recorder)
		grp.Go(func() error {
			return api.NewServer(cfg.API.Addr, api.NewRouter(svc, api.Options{Recorder: recorder})).Run(gctx)
		})
	}

	err = waitWithTimeout(ctx, grp, cfg.Worker.ShutdownTimeoutDuration())
	abandoned = errors.Is(err, errDrainTimeout)
	return err
}

func startMaintenance(cfg *config.Config, set *backend.Set, recorder metrics.Recorder) (*worker.Maintenance, error) {
	maint, err := worker.NewMaintenance(cfg.Worker.MaintenanceIntervalDuration())
	if err != nil {
		return nil, err
	}
	if set.MemoryCache != nil {
		if err := maint.PruneCache(set.MemoryCache); err != nil {
			return nil, err
		}
	}
	if set.Stats != nil {
		if err := maint.SampleQueueDepth(set.Stats, recorder); err != nil {
			return nil, err
		}
	}
	maint.Start()
	return maint, nil
}

// newRecorder returns a nil registry when metrics are disabled.
func newRecorder(cfg *config.Config) (*prom.Registry, metrics.Recorder) {
	if !cfg.Metrics.Enabled {
		return nil, metrics.NoopRecorder{}
	}
	reg := prom.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg, metrics.NewPrometheusRecorder(reg)
}

func newIngestService(set *backend.Set, recorder metrics.Recorder) *ingest.Service {
	opts := []ingest.Option{
		ingest.WithRecorder(recorder),
		ingest.WithHealthCheck(set.Healthy),
	}
	if set.Stats != nil {
		opts = append(opts, ingest.WithStats(set.Stats))
	}
	return ingest.New(set.Queue, set.Status, opts...)
}

// waitWithTimeout waits for grp, giving in-flight work at most timeout after ctx ends.
// errDrainTimeout reports that in-flight work was still running when the
// shutdown timeout elapsed.
var errDrainTimeout = errors.New("shutdown timed out")

func waitWithTimeout(ctx context.Context, grp *errgroup.Group, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() { done <- grp.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutdown signal received, draining in-flight work", slog.Duration("timeout", timeout))
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("%w after %s", errDrainTimeout, timeout)
	}
}
