package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cgaf/gaf-engine/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// NewPool creates a PostgreSQL connection pool and verifies it with a ping.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the crypto_gaf schema if it does not exist yet.
// The statements are idempotent.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// IsConnectionError reports whether err means the database could not be
// reached, as opposed to a statement being rejected.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08: connection exception; 57P: operator intervention.
		return strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57P")
	}
	return pgconn.Timeout(err)
}

// PostgresStore implements Store using PostgreSQL as the source of truth.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Compile-time interface checks.
var (
	_ Store = (*PostgresStore)(nil)
	_ Tx    = (*postgresTx)(nil)
)

func (s *PostgresStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &postgresTx{tx: tx}, nil
}

const artifactColumns = `product, size, midpoint, midpoint_images, orderbook_image, buy_image, sell_image, updated_at`

func (s *PostgresStore) GetArtifacts(ctx context.Context, product string) (*model.ArtifactSet, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+artifactColumns+`
		 FROM crypto_gaf.gafs WHERE product = $1 AND updated_at IS NOT NULL`, product)
	a, err := scanArtifacts(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: artifacts for %s", ErrNotFound, product)
	}
	if err != nil {
		return nil, fmt.Errorf("get artifacts %s: %w", product, err)
	}
	return a, nil
}

func (s *PostgresStore) ListArtifacts(ctx context.Context) ([]model.ArtifactSet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+artifactColumns+`
		 FROM crypto_gaf.gafs WHERE updated_at IS NOT NULL ORDER BY product`)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var sets []model.ArtifactSet
	for rows.Next() {
		a, err := scanArtifacts(rows)
		if err != nil {
			return nil, err
		}
		sets = append(sets, *a)
	}
	return sets, rows.Err()
}

// postgresTx implements Tx on a pgx transaction.
type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) ListProducts(ctx context.Context) ([]model.ProductConfig, error) {
	rows, err := t.tx.Query(ctx, `SELECT product, max_size FROM crypto_gaf.gafs ORDER BY product`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []model.ProductConfig
	for rows.Next() {
		var p model.ProductConfig
		if err := rows.Scan(&p.Product, &p.MaxSize); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (t *postgresTx) UpsertProduct(ctx context.Context, cfg model.ProductConfig) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO crypto_gaf.gafs (product, max_size) VALUES ($1, $2)
		 ON CONFLICT (product) DO UPDATE SET max_size = EXCLUDED.max_size`,
		cfg.Product, cfg.MaxSize)
	if err != nil {
		return fmt.Errorf("upsert product %s: %w", cfg.Product, err)
	}
	return nil
}

func (t *postgresTx) AppendSample(ctx context.Context, s *model.RawSample) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO crypto_gaf.samples
		   (product, midpoint, ask_prices, ask_sizes, bid_prices, bid_sizes, buys, sells)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING sample_id`,
		s.Product,
		nullable(s.Midpoint),
		nullableSlice(s.AskPrices),
		nullableSlice(s.AskSizes),
		nullableSlice(s.BidPrices),
		nullableSlice(s.BidSizes),
		nullableSlice(s.Buy[:]),
		nullableSlice(s.Sell[:]),
	).Scan(&s.SampleID)
	if err != nil {
		return fmt.Errorf("append sample %s: %w", s.Product, err)
	}
	return nil
}

// RecentSamples smooths trade aggregates with a centered window function
// over the product's rows before applying the limit.
func (t *postgresTx) RecentSamples(ctx context.Context, product string, n int) ([]model.RawSample, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT sample_id, midpoint, ask_prices, ask_sizes, bid_prices, bid_sizes,
		        avg(buys[1]) OVER w, avg(buys[2]) OVER w, avg(buys[3]) OVER w,
		        avg(sells[1]) OVER w, avg(sells[2]) OVER w, avg(sells[3]) OVER w
		 FROM crypto_gaf.samples
		 WHERE product = $1
		 WINDOW w AS (ORDER BY sample_id DESC ROWS BETWEEN $3 PRECEDING AND $3 FOLLOWING)
		 ORDER BY sample_id DESC
		 LIMIT $2`,
		product, n, model.TradeSmoothingRadius)
	if err != nil {
		return nil, fmt.Errorf("recent samples %s: %w", product, err)
	}
	defer rows.Close()

	var samples []model.RawSample
	for rows.Next() {
		var (
			mid                    pgtype.Float8
			askP, askS, bidP, bidS []pgtype.Float8
			buy, sell              [3]pgtype.Float8
		)
		s := model.RawSample{Product: product}
		if err := rows.Scan(&s.SampleID, &mid, &askP, &askS, &bidP, &bidS,
			&buy[0], &buy[1], &buy[2], &sell[0], &sell[1], &sell[2]); err != nil {
			return nil, err
		}
		s.Midpoint = cell(mid)
		s.AskPrices = cells(askP)
		s.AskSizes = cells(askS)
		s.BidPrices = cells(bidP)
		s.BidSizes = cells(bidS)
		for k := 0; k < 3; k++ {
			s.Buy[k] = cell(buy[k])
			s.Sell[k] = cell(sell[k])
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

func (t *postgresTx) PruneSamples(ctx context.Context, product string, keep int) (int64, error) {
	tag, err := t.tx.Exec(ctx,
		`DELETE FROM crypto_gaf.samples
		 WHERE product = $1 AND sample_id NOT IN (
		   SELECT sample_id FROM crypto_gaf.samples
		   WHERE product = $1 ORDER BY sample_id DESC LIMIT $2)`,
		product, keep)
	if err != nil {
		return 0, fmt.Errorf("prune samples %s: %w", product, err)
	}
	return tag.RowsAffected(), nil
}

func (t *postgresTx) UpsertArtifacts(ctx context.Context, a *model.ArtifactSet) error {
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = time.Now().UTC()
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO crypto_gaf.gafs
		   (product, max_size, size, midpoint, midpoint_images, orderbook_image, buy_image, sell_image, updated_at)
		 VALUES ($1, $2, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (product) DO UPDATE SET
		   size = EXCLUDED.size,
		   midpoint = EXCLUDED.midpoint,
		   midpoint_images = EXCLUDED.midpoint_images,
		   orderbook_image = EXCLUDED.orderbook_image,
		   buy_image = EXCLUDED.buy_image,
		   sell_image = EXCLUDED.sell_image,
		   updated_at = EXCLUDED.updated_at`,
		a.Product, a.Size, a.Midpoint, a.MidpointImages,
		a.OrderbookImage, a.BuyImage, a.SellImage, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert artifacts %s: %w", a.Product, err)
	}
	return nil
}

func (t *postgresTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (t *postgresTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rollback tx: %w", err)
	}
	return nil
}

// --- Scan helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArtifacts(row rowScanner) (*model.ArtifactSet, error) {
	var (
		a          model.ArtifactSet
		size       pgtype.Int4
		mid        pgtype.Float8
		ob, by, sl pgtype.Text
		updated    pgtype.Timestamptz
	)
	if err := row.Scan(&a.Product, &size, &mid, &a.MidpointImages, &ob, &by, &sl, &updated); err != nil {
		return nil, err
	}
	a.Size = int(size.Int32)
	a.Midpoint = mid.Float64
	a.OrderbookImage = ob.String
	a.BuyImage = by.String
	a.SellImage = sl.String
	a.UpdatedAt = updated.Time
	return &a, nil
}

func cell(v pgtype.Float8) model.Cell {
	if !v.Valid {
		return model.Null()
	}
	return model.Num(v.Float64)
}

func cells(vs []pgtype.Float8) []model.Cell {
	if vs == nil {
		return nil
	}
	out := make([]model.Cell, len(vs))
	for i, v := range vs {
		out[i] = cell(v)
	}
	return out
}

func nullable(c model.Cell) *float64 {
	if !c.Ok() {
		return nil
	}
	v := c.Value
	return &v
}

func nullableSlice(cs []model.Cell) []*float64 {
	out := make([]*float64, len(cs))
	for i, c := range cs {
		out[i] = nullable(c)
	}
	return out
}
