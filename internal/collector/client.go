// Package collector polls the upstream exchange gateway and appends raw
// samples to the store, pruning each product to its configured window.
package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cgaf/gaf-engine/internal/model"
)

// ErrNoData is returned when the upstream answers without usable content
// for a product (non-200 status or a null/incomplete body).
var ErrNoData = errors.New("collector: no data from upstream")

// Level is one aggregated order-book level. Upstream sends levels either as
// arrays [price, size, ...] or as objects.
type Level struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

func (l *Level) UnmarshalJSON(data []byte) error {
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("[")) {
		var parts []decimal.Decimal
		if err := json.Unmarshal(data, &parts); err != nil {
			return err
		}
		if len(parts) < 2 {
			return fmt.Errorf("collector: level has %d fields, need 2", len(parts))
		}
		l.Price, l.Size = parts[0], parts[1]
		return nil
	}
	type plain Level
	return json.Unmarshal(data, (*plain)(l))
}

// OrderBook is the /api/orderBook/interval response.
type OrderBook struct {
	Midpoint *decimal.Decimal `json:"midpoint"`
	Asks     []Level          `json:"asks"`
	Bids     []Level          `json:"bids"`
}

// Aggregate summarizes market orders on one side since the last sequence.
type Aggregate struct {
	Price     decimal.NullDecimal `json:"price"`
	Size      decimal.NullDecimal `json:"size"`
	NumOrders decimal.NullDecimal `json:"numOrders"`
}

// MarketOrders is the /api/orderBook/marketOrders response.
type MarketOrders struct {
	Sequence *int64     `json:"sequence"`
	Buy      *Aggregate `json:"buy"`
	Sell     *Aggregate `json:"sell"`
}

// Source is the upstream the collector reads from.
type Source interface {
	OrderBook(ctx context.Context, product string) (*OrderBook, error)
	MarketOrders(ctx context.Context, product string, since *int64) (*MarketOrders, error)
}

// Client talks to the upstream gateway over HTTP.
type Client struct {
	base        *url.URL
	http        *http.Client
	aggregation int
	depth       int
}

// NewClient creates a client for baseURL with a per-request timeout.
func NewClient(baseURL string, timeout time.Duration, aggregation, depth int) (*Client, error) {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("collector: parse base url: %w", err)
	}
	return &Client{
		base:        u,
		http:        &http.Client{Timeout: timeout},
		aggregation: aggregation,
		depth:       depth,
	}, nil
}

var _ Source = (*Client)(nil)

func (c *Client) OrderBook(ctx context.Context, product string) (*OrderBook, error) {
	q := url.Values{
		"product":     {product},
		"aggregation": {strconv.Itoa(c.aggregation)},
		"depth":       {strconv.Itoa(c.depth)},
	}
	var ob OrderBook
	if err := c.get(ctx, "api/orderBook/interval", q, &ob); err != nil {
		return nil, err
	}
	if ob.Midpoint == nil || ob.Asks == nil || ob.Bids == nil {
		return nil, fmt.Errorf("%w: order book for %s", ErrNoData, product)
	}
	return &ob, nil
}

func (c *Client) MarketOrders(ctx context.Context, product string, since *int64) (*MarketOrders, error) {
	q := url.Values{"product": {product}}
	if since != nil {
		q.Set("since", strconv.FormatInt(*since, 10))
	}
	var mo MarketOrders
	if err := c.get(ctx, "api/orderBook/marketOrders", q, &mo); err != nil {
		return nil, err
	}
	if mo.Sequence == nil || mo.Buy == nil || mo.Sell == nil {
		return nil, fmt.Errorf("%w: market orders for %s", ErrNoData, product)
	}
	return &mo, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	u := c.base.ResolveReference(&url.URL{Path: path, RawQuery: q.Encode()})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("collector: GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: GET %s returned %d", ErrNoData, path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("collector: decode %s: %w", path, err)
	}
	return nil
}

// ToSample converts upstream responses into a raw sample.
func ToSample(product string, ob *OrderBook, mo *MarketOrders) model.RawSample {
	s := model.RawSample{
		Product:  product,
		Midpoint: model.Num(ob.Midpoint.InexactFloat64()),
	}
	s.AskPrices, s.AskSizes = levels(ob.Asks)
	s.BidPrices, s.BidSizes = levels(ob.Bids)
	s.Buy = triplet(mo.Buy)
	s.Sell = triplet(mo.Sell)
	return s
}

func levels(ls []Level) (prices, sizes []model.Cell) {
	prices = make([]model.Cell, len(ls))
	sizes = make([]model.Cell, len(ls))
	for i, l := range ls {
		prices[i] = model.Num(l.Price.InexactFloat64())
		sizes[i] = model.Num(l.Size.InexactFloat64())
	}
	return prices, sizes
}

func triplet(a *Aggregate) model.Triplet {
	return model.Triplet{nullable(a.Price), nullable(a.Size), nullable(a.NumOrders)}
}

func nullable(d decimal.NullDecimal) model.Cell {
	if !d.Valid {
		return model.Null()
	}
	return model.Num(d.Decimal.InexactFloat64())
}
