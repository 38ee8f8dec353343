package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cgaf/gaf-engine/internal/model"
)

// ErrTxDone is returned when a finished transaction is used again.
var ErrTxDone = errors.New("store: transaction already finished")

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// Transactions are serialized and work on a private copy of the state, which
// replaces the shared state on Commit.
type MemoryStore struct {
	txMu sync.Mutex // held for the lifetime of one transaction

	mu    sync.RWMutex
	state *memState
}

type memState struct {
	products  map[string]int
	samples   map[string][]model.RawSample // oldest first
	artifacts map[string]model.ArtifactSet
	nextID    int64
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: &memState{
			products:  make(map[string]int),
			samples:   make(map[string][]model.RawSample),
			artifacts: make(map[string]model.ArtifactSet),
		},
	}
}

func (st *memState) clone() *memState {
	c := &memState{
		products:  make(map[string]int, len(st.products)),
		samples:   make(map[string][]model.RawSample, len(st.samples)),
		artifacts: make(map[string]model.ArtifactSet, len(st.artifacts)),
		nextID:    st.nextID,
	}
	for k, v := range st.products {
		c.products[k] = v
	}
	for k, v := range st.samples {
		c.samples[k] = append([]model.RawSample(nil), v...)
	}
	for k, v := range st.artifacts {
		c.artifacts[k] = copyArtifacts(v)
	}
	return c
}

func copyArtifacts(a model.ArtifactSet) model.ArtifactSet {
	a.MidpointImages = append([]string(nil), a.MidpointImages...)
	return a
}

func (s *MemoryStore) Begin(ctx context.Context) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.txMu.Lock()
	s.mu.RLock()
	work := s.state.clone()
	s.mu.RUnlock()
	return &memoryTx{store: s, work: work}, nil
}

func (s *MemoryStore) GetArtifacts(_ context.Context, product string) (*model.ArtifactSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.state.artifacts[product]
	if !ok {
		return nil, fmt.Errorf("%w: artifacts for %s", ErrNotFound, product)
	}
	c := copyArtifacts(a)
	return &c, nil
}

func (s *MemoryStore) ListArtifacts(_ context.Context) ([]model.ArtifactSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sets := make([]model.ArtifactSet, 0, len(s.state.artifacts))
	for _, a := range s.state.artifacts {
		sets = append(sets, copyArtifacts(a))
	}
	sort.Slice(sets, func(i, j int) bool { return sets[i].Product < sets[j].Product })
	return sets, nil
}

// Seed commits a product configuration and its samples (oldest first) in
// one transaction. Intended for tests and local development.
func (s *MemoryStore) Seed(ctx context.Context, cfg model.ProductConfig, samples ...model.RawSample) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := tx.UpsertProduct(ctx, cfg); err != nil {
		return err
	}
	for i := range samples {
		samples[i].Product = cfg.Product
		if err := tx.AppendSample(ctx, &samples[i]); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// memoryTx implements Tx over a private copy of the store state.
type memoryTx struct {
	store *MemoryStore
	work  *memState
	done  bool
}

func (t *memoryTx) check(ctx context.Context) error {
	if t.done {
		return ErrTxDone
	}
	return ctx.Err()
}

func (t *memoryTx) ListProducts(ctx context.Context) ([]model.ProductConfig, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}
	products := make([]model.ProductConfig, 0, len(t.work.products))
	for p, size := range t.work.products {
		products = append(products, model.ProductConfig{Product: p, MaxSize: size})
	}
	sort.Slice(products, func(i, j int) bool { return products[i].Product < products[j].Product })
	return products, nil
}

func (t *memoryTx) UpsertProduct(ctx context.Context, cfg model.ProductConfig) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	t.work.products[cfg.Product] = cfg.MaxSize
	return nil
}

func (t *memoryTx) AppendSample(ctx context.Context, s *model.RawSample) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	t.work.nextID++
	s.SampleID = t.work.nextID
	t.work.samples[s.Product] = append(t.work.samples[s.Product], *s)
	return nil
}

func (t *memoryTx) RecentSamples(ctx context.Context, product string, n int) ([]model.RawSample, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}
	all := t.work.samples[product]

	newest := make([]model.RawSample, len(all))
	buys := make([]model.Triplet, len(all))
	sells := make([]model.Triplet, len(all))
	for i := range all {
		s := all[len(all)-1-i]
		newest[i] = s
		buys[i] = s.Buy
		sells[i] = s.Sell
	}
	// Smooth over the full history, as a window function would, then limit.
	buys = model.SmoothTriplets(buys, model.TradeSmoothingRadius)
	sells = model.SmoothTriplets(sells, model.TradeSmoothingRadius)
	for i := range newest {
		newest[i].Buy = buys[i]
		newest[i].Sell = sells[i]
	}
	if n >= 0 && len(newest) > n {
		newest = newest[:n]
	}
	return newest, nil
}

func (t *memoryTx) PruneSamples(ctx context.Context, product string, keep int) (int64, error) {
	if err := t.check(ctx); err != nil {
		return 0, err
	}
	all := t.work.samples[product]
	if keep < 0 || len(all) <= keep {
		return 0, nil
	}
	dropped := len(all) - keep
	t.work.samples[product] = append([]model.RawSample(nil), all[dropped:]...)
	return int64(dropped), nil
}

func (t *memoryTx) UpsertArtifacts(ctx context.Context, a *model.ArtifactSet) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = time.Now().UTC()
	}
	if _, ok := t.work.products[a.Product]; !ok {
		t.work.products[a.Product] = a.Size
	}
	t.work.artifacts[a.Product] = copyArtifacts(*a)
	return nil
}

func (t *memoryTx) Commit(ctx context.Context) error {
	if t.done {
		return ErrTxDone
	}
	if err := ctx.Err(); err != nil {
		t.finish()
		return err
	}
	t.store.mu.Lock()
	t.store.state = t.work
	t.store.mu.Unlock()
	t.finish()
	return nil
}

// Rollback discards the staged state. Calling it after Commit is a no-op.
func (t *memoryTx) Rollback(_ context.Context) error {
	if !t.done {
		t.finish()
	}
	return nil
}

func (t *memoryTx) finish() {
	t.done = true
	t.work = nil
	t.store.txMu.Unlock()
}
