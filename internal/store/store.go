// Package store defines the persistence interface for the gaf engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// artifact cache and update feed), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/cgaf/gaf-engine/internal/model"
)

// ErrNotFound is returned when a product has no stored record.
var ErrNotFound = errors.New("store: not found")

// Store hands out per-tick transactions and serves committed artifacts to
// readers. PostgreSQL is the source of truth; Redis provides a read-through
// cache layer.
type Store interface {
	// Begin opens a transaction scoped to one tick.
	Begin(ctx context.Context) (Tx, error)

	// GetArtifacts returns the committed artifact set of one product.
	GetArtifacts(ctx context.Context, product string) (*model.ArtifactSet, error)

	// ListArtifacts returns every committed artifact set.
	ListArtifacts(ctx context.Context) ([]model.ArtifactSet, error)
}

// Tx is a unit of work. Nothing written through a Tx is visible to readers
// until Commit succeeds.
type Tx interface {
	// --- Products ---

	// ListProducts returns the configured products and their window sizes.
	ListProducts(ctx context.Context) ([]model.ProductConfig, error)

	// UpsertProduct creates or resizes a product configuration.
	UpsertProduct(ctx context.Context, cfg model.ProductConfig) error

	// --- Samples ---

	// AppendSample stores a new raw sample and assigns its SampleID.
	AppendSample(ctx context.Context, s *model.RawSample) error

	// RecentSamples returns up to n samples for product, newest first, with
	// buy/sell aggregates smoothed over model.TradeSmoothingRadius rows.
	RecentSamples(ctx context.Context, product string, n int) ([]model.RawSample, error)

	// PruneSamples deletes the product's samples beyond the newest keep.
	PruneSamples(ctx context.Context, product string, keep int) (int64, error)

	// --- Artifacts ---

	// UpsertArtifacts replaces the product's artifact set as a whole.
	UpsertArtifacts(ctx context.Context, a *model.ArtifactSet) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
