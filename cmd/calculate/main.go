// Command calculate runs the feature-field pipeline for every configured
// product on a fixed cadence.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/cgaf/gaf-engine/internal/app"
	"github.com/cgaf/gaf-engine/internal/pipeline"
	"github.com/cgaf/gaf-engine/internal/scheduler"
	"github.com/cgaf/gaf-engine/internal/store"
)

func main() {
	cfg, logger, err := app.Load("calculate")
	if err != nil {
		slog.Error("configuration failed", "err", err)
		os.Exit(1)
	}

	ctx, stop := app.SignalContext()
	defer stop()

	stores, err := app.OpenStores(ctx, cfg)
	if err != nil {
		slog.Error("store initialization failed", "err", err)
		os.Exit(1)
	}
	defer stores.Close()

	if err := app.SeedProducts(ctx, stores.Store, cfg.Products); err != nil {
		slog.Error("seeding products failed", "err", err)
		os.Exit(1)
	}

	pcfg, _ := cfg.Pipeline()
	proc, err := pipeline.NewProcessor(pcfg, logger)
	if err != nil {
		slog.Error("invalid pipeline configuration", "err", err)
		os.Exit(1)
	}
	driver, err := scheduler.NewDriver(cfg.Interval, logger)
	if err != nil {
		slog.Error("invalid interval", "err", err)
		os.Exit(1)
	}

	app.ServeMetrics(ctx, cfg.MetricsAddr, "calculate")

	// A store failure ends the process; the supervisor restarts it.
	err = driver.Run(ctx, func(ctx context.Context) error {
		_, err := proc.RunTick(ctx, stores.Store)
		return err
	})
	if err != nil {
		slog.Error("calculator stopped", "err", err,
			"connectivity", store.IsConnectionError(err),
			"iterations", driver.State.Iterations)
		stores.Close()
		os.Exit(1)
	}
	slog.Info("calculator stopped", "iterations", driver.State.Iterations)
}
