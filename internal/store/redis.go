package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cgaf/gaf-engine/internal/model"
)

// UpdatesChannel is the Redis pub/sub channel announcing committed artifacts.
const UpdatesChannel = "gaf:artifacts_updated"

// UpdateEvent is published once per committed tick that wrote artifacts.
type UpdateEvent struct {
	Products  []string  `json:"products"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Artifacts written in a transaction are cached and announced on
// UpdatesChannel only after the primary commit succeeds.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func (s *CachedStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.primary.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &cachedTx{Tx: tx, store: s}, nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetArtifacts(ctx context.Context, product string) (*model.ArtifactSet, error) {
	data, err := s.rdb.Get(ctx, artifactsKey(product)).Bytes()
	if err == nil {
		var a model.ArtifactSet
		if json.Unmarshal(data, &a) == nil {
			return &a, nil
		}
	}

	// Cache miss: read from primary.
	a, err := s.primary.GetArtifacts(ctx, product)
	if err != nil {
		return nil, err
	}
	s.cacheArtifacts(ctx, a)
	return a, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListArtifacts(ctx context.Context) ([]model.ArtifactSet, error) {
	return s.primary.ListArtifacts(ctx)
}

// Subscribe relays UpdateEvents from Redis until ctx is cancelled. The
// returned channel is closed when the subscription ends.
func (s *CachedStore) Subscribe(ctx context.Context) <-chan UpdateEvent {
	out := make(chan UpdateEvent, 16)
	sub := s.rdb.Subscribe(ctx, UpdatesChannel)

	go func() {
		defer close(out)
		defer sub.Close()

		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev UpdateEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					slog.Warn("malformed update event", "err", err)
					continue
				}
				select {
				case out <- ev:
				default:
					slog.Warn("update subscriber slow, dropping event")
				}
			}
		}
	}()
	return out
}

// --- Cache helpers ---

func (s *CachedStore) cacheArtifacts(ctx context.Context, a *model.ArtifactSet) {
	if data, err := json.Marshal(a); err == nil {
		s.rdb.Set(ctx, artifactsKey(a.Product), data, s.ttl)
	}
}

// publish refreshes the cache for committed sets and announces them. Redis
// failures are logged; the primary commit already succeeded.
func (s *CachedStore) publish(ctx context.Context, sets []model.ArtifactSet) {
	if len(sets) == 0 {
		return
	}
	ev := UpdateEvent{UpdatedAt: time.Now().UTC()}
	for i := range sets {
		s.cacheArtifacts(ctx, &sets[i])
		ev.Products = append(ev.Products, sets[i].Product)
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := s.rdb.Publish(ctx, UpdatesChannel, data).Err(); err != nil {
		slog.Warn("publish artifacts update failed", "err", err)
	}
}

func artifactsKey(product string) string { return fmt.Sprintf("gaf:artifacts:%s", product) }

// cachedTx records artifact writes so they can be cached after commit.
type cachedTx struct {
	Tx
	store   *CachedStore
	written []model.ArtifactSet
}

func (t *cachedTx) UpsertArtifacts(ctx context.Context, a *model.ArtifactSet) error {
	if err := t.Tx.UpsertArtifacts(ctx, a); err != nil {
		return err
	}
	t.written = append(t.written, copyArtifacts(*a))
	return nil
}

func (t *cachedTx) Commit(ctx context.Context) error {
	if err := t.Tx.Commit(ctx); err != nil {
		return err
	}
	t.store.publish(ctx, t.written)
	t.written = nil
	return nil
}

func (t *cachedTx) Rollback(ctx context.Context) error {
	t.written = nil
	return t.Tx.Rollback(ctx)
}
