package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/cgaf/gaf-engine/internal/metrics"
	"github.com/cgaf/gaf-engine/internal/scheduler"
	"github.com/cgaf/gaf-engine/internal/store"
)

// Backoff bounds for failed ticks.
const (
	InitialBackoff = 5 * time.Second
	MaxBackoff     = 60 * time.Second
)

// NewBackOff returns the doubling 5s→60s policy without jitter or deadline.
func NewBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = InitialBackoff
	b.Multiplier = 2
	b.MaxInterval = MaxBackoff
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Collector appends one sample per product per tick.
type Collector struct {
	src     Source
	store   store.Store
	log     *slog.Logger
	clock   scheduler.Clock
	backoff backoff.BackOff

	// cursors holds the last committed market-order sequence per product.
	cursors map[string]int64
}

// New creates a collector reading from src and writing to st.
func New(src Source, st store.Store, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		src:     src,
		store:   st,
		log:     logger,
		clock:   scheduler.SystemClock{},
		backoff: NewBackOff(),
		cursors: make(map[string]int64),
	}
}

// Run drives Tick on a drift-corrected schedule until ctx is cancelled.
// Failed ticks are rolled back and followed by an exponential backoff
// pause; they never end the loop.
func (c *Collector) Run(ctx context.Context, interval time.Duration) error {
	d, err := scheduler.NewDriver(interval, c.log)
	if err != nil {
		return err
	}
	d.Clock = c.clock
	return d.Run(ctx, c.tickWithBackoff)
}

func (c *Collector) tickWithBackoff(ctx context.Context) error {
	err := c.Tick(ctx)
	if err == nil {
		c.backoff.Reset()
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	kind := "other"
	if store.IsConnectionError(err) {
		kind = "connectivity"
	}
	metrics.CollectorErrors.WithLabelValues(kind).Inc()
	wait := c.backoff.NextBackOff()
	c.log.Warn("collector tick failed", "err", err, "kind", kind, "backoff", wait.String())
	if err := c.clock.Sleep(ctx, wait); err != nil {
		return err
	}
	return nil
}

// Tick fetches every product inside one transaction. Products the upstream
// has no data for are skipped; any other failure rolls the tick back.
func (c *Collector) Tick(ctx context.Context) error {
	tx, err := c.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	products, err := tx.ListProducts(ctx)
	if err != nil {
		return err
	}

	staged := make(map[string]int64, len(products))
	for _, p := range products {
		var since *int64
		if seq, ok := c.cursors[p.Product]; ok {
			since = &seq
		}

		ob, err := c.src.OrderBook(ctx, p.Product)
		if errors.Is(err, ErrNoData) {
			c.log.Warn("no order book from upstream", "product", p.Product, "err", err)
			continue
		}
		if err != nil {
			return err
		}
		mo, err := c.src.MarketOrders(ctx, p.Product, since)
		if errors.Is(err, ErrNoData) {
			c.log.Warn("no market orders from upstream", "product", p.Product, "err", err)
			continue
		}
		if err != nil {
			return err
		}

		sample := ToSample(p.Product, ob, mo)
		if err := tx.AppendSample(ctx, &sample); err != nil {
			return err
		}
		pruned, err := tx.PruneSamples(ctx, p.Product, p.MaxSize)
		if err != nil {
			return err
		}
		staged[p.Product] = *mo.Sequence
		c.log.Debug("sample collected", "product", p.Product, "sample_id", sample.SampleID, "pruned", pruned)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit samples: %w", err)
	}
	for product, seq := range staged {
		c.cursors[product] = seq
		metrics.SamplesCollected.WithLabelValues(product).Inc()
	}
	return nil
}
