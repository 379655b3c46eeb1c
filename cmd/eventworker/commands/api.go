package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"git.home.luguber.info/inful/eventworker/internal/backend"
	"git.home.luguber.info/inful/eventworker/internal/config"
	"git.home.luguber.info/inful/eventworker/internal/logfields"
	"git.home.luguber.info/inful/eventworker/internal/metrics"
	"git.home.luguber.info/inful/eventworker/internal/server/api"
)

// APICmd implements the 'api' command.
type APICmd struct {
	Addr string `help:"Listen address (overrides api.addr)"`
}

func (a *APICmd) Run(g *Global, root *CLI) error {
	cfg, err := g.loadConfig(root.Config)
	if err != nil {
		return err
	}
	if a.Addr != "" {
		cfg.API.Addr = a.Addr
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return RunAPI(ctx, cfg)
}

// RunAPI serves the ingestion API until ctx is canceled. The API registry is
// exposed on the API's own /metrics route and, when enabled, on metrics.addr.
func RunAPI(ctx context.Context, cfg *config.Config) error {
	if cfg.Queue.Backend == config.BackendMemory {
		slog.Warn("The memory queue is process-local; run 'worker --serve-api' to consume submissions")
	}

	set, err := backend.Open(ctx, cfg, backend.ClientName("api"))
	if err != nil {
		return fmt.Errorf("open backends: %w", err)
	}
	defer func() {
		if err := set.Close(); err != nil {
			slog.Warn("Closing backends failed", logfields.Error(err))
		}
	}()

	reg, recorder := newRecorder(cfg)
	router := api.NewRouter(newIngestService(set, recorder), api.Options{
		Logger:   slog.Default(),
		Recorder: recorder,
		Registry: reg,
	})

	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error { return api.NewServer(cfg.API.Addr, router).Run(gctx) })
	if reg != nil && cfg.Metrics.Addr != "" && cfg.Metrics.Addr != cfg.API.Addr {
		grp.Go(func() error { return metrics.Serve(gctx, cfg.Metrics.Addr, reg) })
	}
	return grp.Wait()
}
