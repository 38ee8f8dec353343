package store

import (
	"context"
	"errors"
	"testing"

	"github.com/cgaf/gaf-engine/internal/model"
)

func sampleWithMid(mid float64, buySize float64) model.RawSample {
	return model.RawSample{
		Midpoint:  model.Num(mid),
		AskPrices: []model.Cell{model.Num(mid + 1)},
		AskSizes:  []model.Cell{model.Num(1)},
		BidPrices: []model.Cell{model.Num(mid - 1)},
		BidSizes:  []model.Cell{model.Num(1)},
		Buy:       model.NewTriplet(mid, buySize, 1),
		Sell:      model.NewTriplet(mid, 1, 1),
	}
}

func fullSet(product string) *model.ArtifactSet {
	return &model.ArtifactSet{
		Product:        product,
		Size:           21,
		Midpoint:       1,
		MidpointImages: []string{"s", "d"},
		OrderbookImage: "o",
		BuyImage:       "b",
		SellImage:      "x",
	}
}

func TestMemoryStore_RecentSamplesNewestFirst(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()
	var samples []model.RawSample
	for i := 0; i < 10; i++ {
		samples = append(samples, sampleWithMid(float64(i), 1))
	}
	if err := ms.Seed(ctx, model.ProductConfig{Product: "BTC-USD", MaxSize: 5}, samples...); err != nil {
		t.Fatalf("seed: %v", err)
	}

	tx, _ := ms.Begin(ctx)
	defer tx.Rollback(ctx)
	got, err := tx.RecentSamples(ctx, "BTC-USD", 4)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 samples, got %d", len(got))
	}
	for i, want := range []float64{9, 8, 7, 6} {
		if got[i].Midpoint.Value != want {
			t.Errorf("position %d: expected midpoint %v, got %v", i, want, got[i].Midpoint.Value)
		}
	}
	if got[0].SampleID <= got[1].SampleID {
		t.Errorf("expected descending sample ids, got %d then %d", got[0].SampleID, got[1].SampleID)
	}
}

func TestMemoryStore_SmoothsTradesOverFullHistory(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()
	var samples []model.RawSample
	for i := 0; i < 12; i++ {
		samples = append(samples, sampleWithMid(100, float64(i)))
	}
	ms.Seed(ctx, model.ProductConfig{Product: "BTC-USD", MaxSize: 12}, samples...)

	tx, _ := ms.Begin(ctx)
	defer tx.Rollback(ctx)
	got, _ := tx.RecentSamples(ctx, "BTC-USD", 1)

	// Newest row (size 11) averages with the five rows before it: 6..11.
	if v := got[0].Buy[model.TripletSize].Value; v != 8.5 {
		t.Errorf("expected smoothed size 8.5, got %v", v)
	}
	if v := got[0].Buy[model.TripletPrice].Value; v != 100 {
		t.Errorf("constant component should stay 100, got %v", v)
	}
}

func TestMemoryStore_PruneKeepsNewest(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()
	var samples []model.RawSample
	for i := 0; i < 8; i++ {
		samples = append(samples, sampleWithMid(float64(i), 1))
	}
	ms.Seed(ctx, model.ProductConfig{Product: "BTC-USD", MaxSize: 3}, samples...)
	ms.Seed(ctx, model.ProductConfig{Product: "ETH-USD", MaxSize: 3}, samples[:2]...)

	tx, _ := ms.Begin(ctx)
	n, err := tx.PruneSamples(ctx, "BTC-USD", 3)
	if err != nil || n != 5 {
		t.Fatalf("expected 5 pruned, got %d (%v)", n, err)
	}
	got, _ := tx.RecentSamples(ctx, "BTC-USD", 10)
	if len(got) != 3 || got[2].Midpoint.Value != 5 {
		t.Errorf("expected newest three samples kept, got %d", len(got))
	}
	other, _ := tx.RecentSamples(ctx, "ETH-USD", 10)
	if len(other) != 2 {
		t.Errorf("prune must not touch other products, got %d", len(other))
	}
	tx.Commit(ctx)
}

func TestMemoryStore_UncommittedWritesInvisible(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()

	tx, _ := ms.Begin(ctx)
	if err := tx.UpsertArtifacts(ctx, fullSet("BTC-USD")); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := ms.GetArtifacts(ctx, "BTC-USD"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected uncommitted set to be invisible, got %v", err)
	}
	tx.Rollback(ctx)
	if _, err := ms.GetArtifacts(ctx, "BTC-USD"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected rolled back set to be gone, got %v", err)
	}

	tx, _ = ms.Begin(ctx)
	tx.UpsertArtifacts(ctx, fullSet("BTC-USD"))
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	got, err := ms.GetArtifacts(ctx, "BTC-USD")
	if err != nil || got.BuyImage != "b" || got.UpdatedAt.IsZero() {
		t.Errorf("expected committed set, got %+v (%v)", got, err)
	}
}

func TestMemoryStore_TxFinished(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()
	tx, _ := ms.Begin(ctx)
	tx.Commit(ctx)

	if err := tx.Commit(ctx); !errors.Is(err, ErrTxDone) {
		t.Errorf("expected ErrTxDone on second commit, got %v", err)
	}
	if _, err := tx.ListProducts(ctx); !errors.Is(err, ErrTxDone) {
		t.Errorf("expected ErrTxDone after commit, got %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Errorf("rollback after commit should be a no-op, got %v", err)
	}

	// The store accepts a new transaction once the previous one finished.
	tx2, err := ms.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	tx2.Rollback(ctx)
}

func TestMemoryStore_ReturnedSetsAreCopies(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()
	tx, _ := ms.Begin(ctx)
	tx.UpsertArtifacts(ctx, fullSet("BTC-USD"))
	tx.Commit(ctx)

	a, _ := ms.GetArtifacts(ctx, "BTC-USD")
	a.MidpointImages[0] = "mutated"
	b, _ := ms.GetArtifacts(ctx, "BTC-USD")
	if b.MidpointImages[0] != "s" {
		t.Error("caller mutation leaked into the store")
	}
}

func TestMemoryStore_ListProductsSorted(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()
	ms.Seed(ctx, model.ProductConfig{Product: "SOL-USD", MaxSize: 30})
	ms.Seed(ctx, model.ProductConfig{Product: "BTC-USD", MaxSize: 60})

	tx, _ := ms.Begin(ctx)
	defer tx.Rollback(ctx)
	products, _ := tx.ListProducts(ctx)
	if len(products) != 2 || products[0].Product != "BTC-USD" || products[0].MaxSize != 60 {
		t.Errorf("unexpected products: %+v", products)
	}
}
