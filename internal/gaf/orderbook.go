package gaf

import (
	"fmt"
	"strings"
)

// SignConvention names the orientation of the order-book imbalance.
type SignConvention int

const (
	// BidMinusAsk yields +1 when only bids rest at a level.
	BidMinusAsk SignConvention = iota
	// AskMinusBid yields +1 when only asks rest at a level.
	AskMinusBid
)

func (c SignConvention) String() string {
	if c == AskMinusBid {
		return "ask_minus_bid"
	}
	return "bid_minus_ask"
}

// ParseSignConvention accepts "bid_minus_ask" (default when empty) or
// "ask_minus_bid".
func ParseSignConvention(s string) (SignConvention, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "bid_minus_ask":
		return BidMinusAsk, nil
	case "ask_minus_bid":
		return AskMinusBid, nil
	}
	return 0, fmt.Errorf("gaf: unknown imbalance sign convention %q", s)
}

// Imbalance computes, per time step and depth level,
//
//	(bidSize − askSize) / (askSize + bidSize)
//
// (negated for AskMinusBid), defined as 0 when the denominator is 0.
// Both inputs must have the same shape.
func Imbalance(askSize, bidSize [][]float64, conv SignConvention) ([][]float64, error) {
	if len(askSize) != len(bidSize) {
		return nil, fmt.Errorf("%w: %d ask rows vs %d bid rows", ErrShape, len(askSize), len(bidSize))
	}
	out := make([][]float64, len(askSize))
	for i := range askSize {
		if len(askSize[i]) != len(bidSize[i]) {
			return nil, fmt.Errorf("%w: row %d depth %d vs %d", ErrShape, i, len(askSize[i]), len(bidSize[i]))
		}
		row := make([]float64, len(askSize[i]))
		for j, ask := range askSize[i] {
			bid := bidSize[i][j]
			den := ask + bid
			if den == 0 {
				continue
			}
			v := (bid - ask) / den
			if conv == AskMinusBid {
				v = -v
			}
			row[j] = v
		}
		out[i] = row
	}
	return out, nil
}
