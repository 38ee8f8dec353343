package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cgaf/gaf-engine/internal/gaf"
	"github.com/cgaf/gaf-engine/internal/imaging"
	"github.com/cgaf/gaf-engine/internal/model"
	"github.com/cgaf/gaf-engine/internal/store"
)

func cells(vs ...float64) []model.Cell {
	out := make([]model.Cell, len(vs))
	for i, v := range vs {
		out[i] = model.Num(v)
	}
	return out
}

// synthSamples returns n samples oldest first: midpoint rising by one per
// step, constant book sizes and constant trade aggregates.
func synthSamples(n int) []model.RawSample {
	samples := make([]model.RawSample, n)
	for i := range samples {
		samples[i] = model.RawSample{
			Midpoint:  model.Num(100 + float64(i)),
			AskPrices: cells(101, 102, 103),
			AskSizes:  cells(5, 4, 3),
			BidPrices: cells(99, 98, 97),
			BidSizes:  cells(5, 6, 7),
			Buy:       model.NewTriplet(100, 2, 3),
			Sell:      model.NewTriplet(100, 1.5, 2),
		}
	}
	return samples
}

func newTestProcessor(t *testing.T) *Processor {
	t.Helper()
	p, err := NewProcessor(DefaultConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	return p
}

func TestRunTick_EndToEnd(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	if err := st.Seed(ctx, model.ProductConfig{Product: "BTC-USD", MaxSize: 40}, synthSamples(25)...); err != nil {
		t.Fatalf("seed: %v", err)
	}

	report, err := newTestProcessor(t).RunTick(ctx, st)
	if err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	if report.Outcomes[Updated] != 1 {
		t.Fatalf("expected one updated product, got %v", report.Outcomes)
	}

	set, err := st.GetArtifacts(ctx, "BTC-USD")
	if err != nil {
		t.Fatalf("get artifacts: %v", err)
	}
	if set.Size != 25 {
		t.Errorf("expected size 25, got %d", set.Size)
	}
	if set.Midpoint != 124 {
		t.Errorf("expected latest midpoint 124, got %v", set.Midpoint)
	}
	if !set.Complete() {
		t.Fatalf("expected complete artifact set, got %+v", set)
	}

	images := append([]string{}, set.MidpointImages...)
	images = append(images, set.OrderbookImage, set.BuyImage, set.SellImage)
	if len(images) != 5 {
		t.Fatalf("expected 5 images, got %d", len(images))
	}
	for i, s := range images {
		img, err := imaging.Decode(s)
		if err != nil {
			t.Fatalf("image %d: %v", i, err)
		}
		if b := img.Bounds(); b.Dx() != 25 || b.Dy() != 25 {
			t.Errorf("image %d: expected 25x25, got %v", i, b)
		}
	}
}

func TestRunTick_InsufficientKeepsPriorSet(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	if err := st.Seed(ctx, model.ProductConfig{Product: "ETH-USD", MaxSize: 40}, synthSamples(20)...); err != nil {
		t.Fatalf("seed: %v", err)
	}

	prior := &model.ArtifactSet{
		Product:        "ETH-USD",
		Size:           30,
		Midpoint:       42,
		MidpointImages: []string{"a", "b"},
		OrderbookImage: "c",
		BuyImage:       "d",
		SellImage:      "e",
	}
	tx, _ := st.Begin(ctx)
	if err := tx.UpsertArtifacts(ctx, prior); err != nil {
		t.Fatalf("upsert prior: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit prior: %v", err)
	}

	report, err := newTestProcessor(t).RunTick(ctx, st)
	if err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	if report.Outcomes[SkippedInsufficient] != 1 {
		t.Errorf("expected one insufficient skip, got %v", report.Outcomes)
	}

	got, _ := st.GetArtifacts(ctx, "ETH-USD")
	if got.Size != 30 || got.Midpoint != 42 || got.BuyImage != "d" || !got.UpdatedAt.Equal(prior.UpdatedAt) {
		t.Errorf("prior artifact set changed: %+v", got)
	}
}

func TestRunTick_SkipDoesNotBlockSiblings(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	st.Seed(ctx, model.ProductConfig{Product: "AAA-USD", MaxSize: 30}, synthSamples(5)...)
	st.Seed(ctx, model.ProductConfig{Product: "BBB-USD", MaxSize: 30}, synthSamples(30)...)

	report, err := newTestProcessor(t).RunTick(ctx, st)
	if err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	if report.Products != 2 || report.Outcomes[Updated] != 1 || report.Outcomes[SkippedInsufficient] != 1 {
		t.Errorf("unexpected report: %+v", report)
	}
	if _, err := st.GetArtifacts(ctx, "AAA-USD"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected no artifacts for AAA-USD, got %v", err)
	}
	if _, err := st.GetArtifacts(ctx, "BBB-USD"); err != nil {
		t.Errorf("expected artifacts for BBB-USD: %v", err)
	}
}

func TestRunTick_WindowLimitedByMaxSize(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	st.Seed(ctx, model.ProductConfig{Product: "SOL-USD", MaxSize: 22}, synthSamples(30)...)

	if _, err := newTestProcessor(t).RunTick(ctx, st); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	set, _ := st.GetArtifacts(ctx, "SOL-USD")
	if set.Size != 22 || set.Midpoint != 129 {
		t.Errorf("expected size 22 and midpoint 129, got %d and %v", set.Size, set.Midpoint)
	}
}

func TestRunTick_ShallowBookPadsChannels(t *testing.T) {
	ctx := context.Background()
	samples := synthSamples(21)
	for i := range samples {
		samples[i].AskPrices = cells(101)
		samples[i].AskSizes = cells(2)
		samples[i].BidPrices = cells(99)
		samples[i].BidSizes = cells(float64(i + 1))
	}
	st := store.NewMemoryStore()
	st.Seed(ctx, model.ProductConfig{Product: "XRP-USD", MaxSize: 21}, samples...)

	report, err := newTestProcessor(t).RunTick(ctx, st)
	if err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	if report.Outcomes[Updated] != 1 {
		t.Fatalf("expected update with a one-level book, got %v", report.Outcomes)
	}
}

// failingStore wraps a MemoryStore and fails sample reads for one product.
type failingStore struct {
	*store.MemoryStore
	product string
}

type failingTx struct {
	store.Tx
	product string
}

var errDown = errors.New("connection reset")

func (s *failingStore) Begin(ctx context.Context) (store.Tx, error) {
	tx, err := s.MemoryStore.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &failingTx{Tx: tx, product: s.product}, nil
}

func (t *failingTx) RecentSamples(ctx context.Context, product string, n int) ([]model.RawSample, error) {
	if product == t.product {
		return nil, errDown
	}
	return t.Tx.RecentSamples(ctx, product, n)
}

func TestRunTick_StoreErrorRollsBack(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	mem.Seed(ctx, model.ProductConfig{Product: "AAA-USD", MaxSize: 30}, synthSamples(25)...)
	mem.Seed(ctx, model.ProductConfig{Product: "ZZZ-USD", MaxSize: 30}, synthSamples(25)...)
	st := &failingStore{MemoryStore: mem, product: "ZZZ-USD"}

	_, err := newTestProcessor(t).RunTick(ctx, st)
	if !errors.Is(err, errDown) {
		t.Fatalf("expected store error, got %v", err)
	}
	// AAA-USD was processed first but the tick never committed.
	if _, err := mem.GetArtifacts(ctx, "AAA-USD"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected rolled back tick, got %v", err)
	}
	// The store must be usable for the next tick.
	if _, err := newTestProcessor(t).RunTick(ctx, mem); err != nil {
		t.Errorf("next tick failed: %v", err)
	}
}

func TestGoSafe_PanicIsShapeError(t *testing.T) {
	var g errgroup.Group
	goSafe(context.Background(), &g, "boom", func() error {
		var rows [][]float64
		_ = rows[3][0]
		return nil
	})
	err := g.Wait()
	if !errors.Is(err, ErrShape) || !isShapeError(err) {
		t.Errorf("expected shape error, got %v", err)
	}
}

func TestGoSafe_SkipsWorkAfterCancel(t *testing.T) {
	g, gctx := errgroup.WithContext(context.Background())
	g.SetLimit(1)
	goSafe(gctx, g, "fails", func() error { return gaf.ErrShape })

	ran := false
	goSafe(gctx, g, "queued", func() error {
		ran = true
		return nil
	})
	if err := g.Wait(); !errors.Is(err, gaf.ErrShape) {
		t.Errorf("expected the first worker's error, got %v", err)
	}
	if ran {
		t.Error("work queued behind a failed worker should be skipped")
	}
}

func TestRunTick_UsesProcessorClock(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	if err := st.Seed(ctx, model.ProductConfig{Product: "BTC-USD", MaxSize: 40}, synthSamples(25)...); err != nil {
		t.Fatalf("seed: %v", err)
	}

	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p := newTestProcessor(t)
	p.now = func() time.Time { return fixed }

	report, err := p.RunTick(ctx, st)
	if err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	if report.Duration != 0 {
		t.Errorf("expected zero duration on a frozen clock, got %s", report.Duration)
	}
	set, _ := st.GetArtifacts(ctx, "BTC-USD")
	if set == nil || !set.UpdatedAt.Equal(fixed) {
		t.Errorf("expected updated_at %s, got %+v", fixed, set)
	}
}

func TestIsShapeError(t *testing.T) {
	for _, err := range []error{gaf.ErrShape, gaf.ErrEmptySeries, imaging.ErrShape, ErrShape} {
		if !isShapeError(err) {
			t.Errorf("expected %v to classify as shape error", err)
		}
	}
	if isShapeError(errDown) {
		t.Error("store errors must not classify as shape errors")
	}
}

func TestConfig_Validate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
	c := DefaultConfig()
	c.Workers = 0
	if c.Validate() == nil {
		t.Error("expected error for zero workers")
	}
	c = DefaultConfig()
	c.BuyPermutation = imaging.Permutation{0, 0, 0}
	if c.Validate() == nil {
		t.Error("expected error for invalid permutation")
	}
}

func TestOutcome_String(t *testing.T) {
	if Updated.String() != "updated" || SkippedShape.String() != "skipped_shape" {
		t.Error("unexpected outcome names")
	}
}
