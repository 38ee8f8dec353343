// Package pipeline turns each product's recent samples into a complete
// artifact set: fetch, sanitize, encode fields on a bounded worker pool,
// compose images and upsert them in the tick's transaction.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cgaf/gaf-engine/internal/gaf"
	"github.com/cgaf/gaf-engine/internal/imaging"
	"github.com/cgaf/gaf-engine/internal/metrics"
	"github.com/cgaf/gaf-engine/internal/model"
	"github.com/cgaf/gaf-engine/internal/sanitize"
	"github.com/cgaf/gaf-engine/internal/store"
)

// ErrShape marks encode failures that skip a product for one tick.
var ErrShape = errors.New("pipeline: shape error")

// Outcome is the per-product result of one tick.
type Outcome int

const (
	Updated Outcome = iota
	SkippedInsufficient
	SkippedShape
)

func (o Outcome) String() string {
	switch o {
	case Updated:
		return "updated"
	case SkippedInsufficient:
		return "skipped_insufficient"
	case SkippedShape:
		return "skipped_shape"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Config holds the encode parameters shared by every product.
type Config struct {
	Workers  int
	MinDepth int
	Triplet  gaf.TripletParams
	Sign     gaf.SignConvention

	// BuyPermutation and SellPermutation order the triplet fields into RGB.
	BuyPermutation  imaging.Permutation
	SellPermutation imaging.Permutation
}

// DefaultConfig returns the production settings: four workers, buy images
// with the primary channel in green.
func DefaultConfig() Config {
	return Config{
		Workers:         4,
		Triplet:         gaf.DefaultTripletParams(),
		Sign:            gaf.BidMinusAsk,
		BuyPermutation:  imaging.Permutation{1, 0, 2},
		SellPermutation: imaging.Identity,
	}
}

// Validate checks the configuration before any tick runs.
func (c Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("pipeline: workers must be positive, got %d", c.Workers)
	}
	if c.MinDepth < 0 {
		return fmt.Errorf("pipeline: negative min depth %d", c.MinDepth)
	}
	if err := c.Triplet.Validate(); err != nil {
		return err
	}
	if err := c.BuyPermutation.Validate(); err != nil {
		return err
	}
	return c.SellPermutation.Validate()
}

// Processor runs the per-product pipeline.
type Processor struct {
	cfg Config
	log *slog.Logger
	now func() time.Time
}

// NewProcessor validates cfg and returns a processor logging to logger
// (slog.Default when nil).
func NewProcessor(cfg Config, logger *slog.Logger) (*Processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{cfg: cfg, log: logger, now: time.Now}, nil
}

// ProcessProduct runs one product through the pipeline inside tx. Only store
// failures are returned as errors; data and shape problems are reported
// through the Outcome and leave the product's previous artifacts in place.
func (p *Processor) ProcessProduct(ctx context.Context, tx store.Tx, pc model.ProductConfig) (Outcome, error) {
	log := p.log.With("product", pc.Product)

	start := p.now()
	samples, err := tx.RecentSamples(ctx, pc.Product, pc.MaxSize)
	if err != nil {
		return 0, err
	}
	fetchDur := p.stage("fetch", start)

	start = p.now()
	w, err := sanitize.NewWindow(samples, p.cfg.MinDepth)
	if err != nil {
		if errors.Is(err, sanitize.ErrInsufficientData) {
			log.Debug("skipping product", "reason", err.Error())
			return SkippedInsufficient, nil
		}
		return 0, err
	}
	sanitizeDur := p.stage("sanitize", start)

	start = p.now()
	set, err := p.encode(ctx, w)
	if err != nil {
		if isShapeError(err) {
			log.Warn("skipping product", "err", err)
			return SkippedShape, nil
		}
		return 0, err
	}
	encodeDur := p.stage("encode", start)

	set.Product = pc.Product
	set.UpdatedAt = p.now().UTC()

	start = p.now()
	if err := tx.UpsertArtifacts(ctx, set); err != nil {
		return 0, err
	}
	persistDur := p.stage("persist", start)

	log.Info("product updated",
		"size", set.Size,
		"depth", w.Depth,
		"midpoint", set.Midpoint,
		"fetch_ms", fetchDur.Milliseconds(),
		"sanitize_ms", sanitizeDur.Milliseconds(),
		"encode_ms", encodeDur.Milliseconds(),
		"persist_ms", persistDur.Milliseconds(),
	)
	return Updated, nil
}

// encode fans the independent field computations out to the worker pool
// and composes images once all of them have finished.
func (p *Processor) encode(ctx context.Context, w *sanitize.Window) (*model.ArtifactSet, error) {
	// Shared stats are fitted before dispatch so buy and sell see the same scale.
	stats := gaf.FitTripletStats(w.Buy, w.Sell)

	var (
		midSum, midDiff string
		book            string
		buy, sell       string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)

	goSafe(gctx, g, "midpoint summation", func() (err error) {
		midSum, err = grayscaleField(w.Midpoint, gaf.Summation)
		return err
	})
	goSafe(gctx, g, "midpoint difference", func() (err error) {
		midDiff, err = grayscaleField(w.Midpoint, gaf.Difference)
		return err
	})
	goSafe(gctx, g, "orderbook", func() (err error) {
		book, err = p.orderbookImage(w)
		return err
	})
	goSafe(gctx, g, "buy", func() (err error) {
		buy, err = p.tripletImage(w.Buy, stats, p.cfg.BuyPermutation)
		return err
	})
	goSafe(gctx, g, "sell", func() (err error) {
		sell, err = p.tripletImage(w.Sell, stats, p.cfg.SellPermutation)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	set := &model.ArtifactSet{
		Size:           w.Len(),
		Midpoint:       w.Latest(),
		MidpointImages: []string{midSum, midDiff},
		OrderbookImage: book,
		BuyImage:       buy,
		SellImage:      sell,
	}
	if !set.Complete() {
		return nil, fmt.Errorf("%w: incomplete artifact set", ErrShape)
	}
	return set, nil
}

func grayscaleField(series []float64, m gaf.Method) (string, error) {
	f, err := gaf.Encode(series, m)
	if err != nil {
		return "", err
	}
	return imaging.FieldsToGrayscale(f)
}

// orderbookImage encodes the first three imbalance levels into RGB. Books
// shallower than three levels repeat the deepest available field.
func (p *Processor) orderbookImage(w *sanitize.Window) (string, error) {
	imb, err := gaf.Imbalance(w.AskSize, w.BidSize, p.cfg.Sign)
	if err != nil {
		return "", err
	}
	fields, err := gaf.EncodeChannels(imb, gaf.Summation)
	if err != nil {
		return "", err
	}
	if len(fields) == 0 {
		return "", fmt.Errorf("%w: no order book levels", ErrShape)
	}
	for len(fields) < 3 {
		fields = append(fields, fields[len(fields)-1])
	}
	return imaging.FieldsToImage(fields[:3], imaging.Identity)
}

func (p *Processor) tripletImage(rows [][]float64, stats gaf.TripletStats, perm imaging.Permutation) (string, error) {
	fields, err := gaf.EncodeNormalizedTriplet(rows, stats, p.cfg.Triplet)
	if err != nil {
		return "", err
	}
	return imaging.FieldsToImage(fields, perm)
}

// goSafe runs fn on the pool, turning a panic into a shape error so one bad
// product cannot take the process down.
// Work queued behind a failed sibling is skipped once ctx is cancelled.
func goSafe(ctx context.Context, g *errgroup.Group, name string, fn func() error) {
	g.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %s worker panic: %v", ErrShape, name, r)
			}
		}()
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	})
}

// stage records the duration of a pipeline stage on the processor's clock.
func (p *Processor) stage(name string, start time.Time) time.Duration {
	return metrics.ObserveStage(name, p.now().Sub(start))
}

func isShapeError(err error) bool {
	return errors.Is(err, ErrShape) ||
		errors.Is(err, gaf.ErrShape) ||
		errors.Is(err, gaf.ErrEmptySeries) ||
		errors.Is(err, imaging.ErrShape)
}
