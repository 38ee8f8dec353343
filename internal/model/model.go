// Package model defines the core domain types shared across the gaf engine.
// Nullable upstream values are carried as Cell (value + validity flag) until
// the sanitizer resolves them into dense float64 series.
package model

import (
	"math"
	"time"
)

// ProductConfig is one row of the products table: which product to encode
// and how many of its most recent samples form the window.
type ProductConfig struct {
	Product string `json:"product" yaml:"product" db:"product"`
	MaxSize int    `json:"max_size" yaml:"max_size" db:"max_size"`
}

// Cell is a nullable numeric observation. A Cell holding NaN or ±Inf is
// never valid, regardless of how it was constructed.
type Cell struct {
	Value float64 `json:"value"`
	Valid bool    `json:"valid"`
}

// Num returns a valid Cell for v (invalid if v is not finite).
func Num(v float64) Cell {
	return Cell{Value: v, Valid: !math.IsNaN(v) && !math.IsInf(v, 0)}
}

// Null returns an invalid Cell.
func Null() Cell {
	return Cell{}
}

// Ok reports whether the cell holds a usable finite value.
func (c Cell) Ok() bool {
	return c.Valid && !math.IsNaN(c.Value) && !math.IsInf(c.Value, 0)
}

// Triplet is a trade aggregate: (price, size, numOrders).
type Triplet [3]Cell

// Triplet component indices.
const (
	TripletPrice  = 0
	TripletSize   = 1
	TripletOrders = 2
)

// NewTriplet builds a fully valid triplet.
func NewTriplet(price, size, orders float64) Triplet {
	return Triplet{Num(price), Num(size), Num(orders)}
}

// RawSample is one ingested observation. Rows of the order book may have
// different depths from sample to sample.
type RawSample struct {
	SampleID  int64   `json:"sample_id" db:"sample_id"`
	Product   string  `json:"product" db:"product"`
	Midpoint  Cell    `json:"midpoint" db:"midpoint"`
	AskPrices []Cell  `json:"ask_prices" db:"ask_prices"`
	AskSizes  []Cell  `json:"ask_sizes" db:"ask_sizes"`
	BidPrices []Cell  `json:"bid_prices" db:"bid_prices"`
	BidSizes  []Cell  `json:"bid_sizes" db:"bid_sizes"`
	Buy       Triplet `json:"buys" db:"buys"`
	Sell      Triplet `json:"sells" db:"sells"`
}

// ArtifactSet is the per-product record written by the calculator. It is
// always replaced as a whole.
type ArtifactSet struct {
	Product        string    `json:"product" db:"product"`
	Size           int       `json:"size" db:"size"`
	Midpoint       float64   `json:"midpoint" db:"midpoint"`
	MidpointImages []string  `json:"midpoint_images" db:"midpoint_images"` // [summation, difference]
	OrderbookImage string    `json:"orderbook_image" db:"orderbook_image"`
	BuyImage       string    `json:"buy_image" db:"buy_image"`
	SellImage      string    `json:"sell_image" db:"sell_image"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// Complete reports whether every image slot of the set is populated.
func (a *ArtifactSet) Complete() bool {
	if len(a.MidpointImages) != 2 {
		return false
	}
	for _, img := range a.MidpointImages {
		if img == "" {
			return false
		}
	}
	return a.OrderbookImage != "" && a.BuyImage != "" && a.SellImage != ""
}
