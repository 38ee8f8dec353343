package sanitize

import (
	"fmt"

	"github.com/cgaf/gaf-engine/internal/model"
)

// Window is a sanitized, chronologically ordered history for one product.
// Every series has exactly Len() rows; order-book series have Depth columns
// and trade series have three.
type Window struct {
	Midpoint []float64
	AskPrice [][]float64
	AskSize  [][]float64
	BidPrice [][]float64
	BidSize  [][]float64
	Buy      [][]float64
	Sell     [][]float64
	Depth    int
}

// Len is the number of time steps in the window.
func (w *Window) Len() int {
	return len(w.Midpoint)
}

// Latest is the most recent sanitized midpoint.
func (w *Window) Latest() float64 {
	if len(w.Midpoint) == 0 {
		return 0
	}
	return w.Midpoint[len(w.Midpoint)-1]
}

// NewWindow sanitizes samples delivered newest-first (the store's order).
// The midpoint series fixes N; every other series is reconciled to it.
// minDepth raises the working depth above what the rows show.
func NewWindow(samples []model.RawSample, minDepth int) (*Window, error) {
	n := len(samples)
	if n == 0 {
		return nil, fmt.Errorf("%w: no samples", ErrInsufficientData)
	}

	mids := make([]model.Cell, n)
	askP := make([][]model.Cell, n)
	askS := make([][]model.Cell, n)
	bidP := make([][]model.Cell, n)
	bidS := make([][]model.Cell, n)
	buys := make([][]model.Cell, n)
	sells := make([][]model.Cell, n)
	for i, s := range samples {
		k := n - 1 - i
		mids[k] = s.Midpoint
		askP[k] = s.AskPrices
		askS[k] = s.AskSizes
		bidP[k] = s.BidPrices
		bidS[k] = s.BidSizes
		buys[k] = s.Buy[:]
		sells[k] = s.Sell[:]
	}

	depth := Depth(minDepth, askP, askS, bidP, bidS)
	if depth == 0 {
		return nil, fmt.Errorf("%w: empty order book depth", ErrInsufficientData)
	}

	w := &Window{Midpoint: FillForward(mids), Depth: depth}
	size := w.Len()
	zeroBook := make([]float64, depth)
	zeroTrade := make([]float64, 3)

	w.AskPrice = EnsureLength(FillForwardRows(askP, depth), size, zeroBook)
	w.AskSize = EnsureLength(FillForwardRows(askS, depth), size, zeroBook)
	w.BidPrice = EnsureLength(FillForwardRows(bidP, depth), size, zeroBook)
	w.BidSize = EnsureLength(FillForwardRows(bidS, depth), size, zeroBook)
	w.Buy = EnsureLength(FillForwardRows(buys, 3), size, zeroTrade)
	w.Sell = EnsureLength(FillForwardRows(sells, 3), size, zeroTrade)

	if size < MinSamples {
		return nil, fmt.Errorf("%w: %d samples, need %d", ErrInsufficientData, size, MinSamples)
	}
	return w, nil
}
