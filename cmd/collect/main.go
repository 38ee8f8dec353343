// Command collect polls the upstream gateway and appends raw samples for
// every configured product.
package main

import (
	"log/slog"
	"os"

	"github.com/cgaf/gaf-engine/internal/app"
	"github.com/cgaf/gaf-engine/internal/collector"
)

func main() {
	cfg, logger, err := app.Load("collect")
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

	client, err := collector.NewClient(cfg.Collector.BaseURL, cfg.Collector.Timeout,
		cfg.Collector.Aggregation, cfg.Collector.Depth)
	if err != nil {
		slog.Error("invalid upstream URL", "err", err)
		os.Exit(1)
	}

	app.ServeMetrics(ctx, cfg.MetricsAddr, "collect")

	slog.Info("collector starting", "upstream", cfg.Collector.BaseURL, "interval", cfg.Interval.String())
	if err := collector.New(client, stores.Store, logger).Run(ctx, cfg.Interval); err != nil {
		slog.Error("collector stopped", "err", err)
		stores.Close()
		os.Exit(1)
	}
	slog.Info("collector stopped")
}
