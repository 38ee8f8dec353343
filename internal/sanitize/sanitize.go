// Package sanitize turns raw, nullable, ragged samples into dense fixed-shape
// series. Every hole is filled by carrying the last valid value forward in
// time order, starting from 0.0 when nothing valid has been seen yet.
package sanitize

import (
	"errors"

	"github.com/cgaf/gaf-engine/internal/model"
)

// MinSamples is the smallest window the encoder accepts.
const MinSamples = 21

// ErrInsufficientData is returned when a window is too short or has no
// order-book depth. Callers skip the product for the current tick.
var ErrInsufficientData = errors.New("sanitize: insufficient data")

// FillForward returns a dense copy of values with every invalid cell
// replaced by the most recent valid value (0.0 before the first one).
func FillForward(values []model.Cell) []float64 {
	out := make([]float64, len(values))
	last := 0.0
	for i, c := range values {
		if c.Ok() {
			last = c.Value
		}
		out[i] = last
	}
	return out
}

// Depth returns the working depth for a set of row-oriented series: the
// longest row observed in any of them, raised to minDepth. It returns 0 when
// every row is empty, regardless of minDepth.
func Depth(minDepth int, sides ...[][]model.Cell) int {
	depth := 0
	for _, rows := range sides {
		for _, row := range rows {
			depth = max(depth, len(row))
		}
	}
	if depth == 0 {
		return 0
	}
	return max(depth, minDepth)
}

// FillForwardRows densifies rows to exactly depth columns. Positions beyond
// a short row are missing; each column is forward-filled independently.
func FillForwardRows(rows [][]model.Cell, depth int) [][]float64 {
	out := make([][]float64, len(rows))
	last := make([]float64, depth)
	for i, row := range rows {
		dense := make([]float64, depth)
		for j := 0; j < depth; j++ {
			if j < len(row) && row[j].Ok() {
				last[j] = row[j].Value
			}
			dense[j] = last[j]
		}
		out[i] = dense
	}
	return out
}

// EnsureLength reconciles rows to target entries. Missing trailing rows are
// filled by repeating the last row, or def when rows is empty. Extra leading
// rows are dropped so the most recent target rows survive.
func EnsureLength(rows [][]float64, target int, def []float64) [][]float64 {
	if target <= 0 {
		return [][]float64{}
	}
	if len(rows) > target {
		return rows[len(rows)-target:]
	}
	out := make([][]float64, 0, target)
	out = append(out, rows...)
	for len(out) < target {
		pad := def
		if len(out) > 0 {
			pad = out[len(out)-1]
		}
		out = append(out, append([]float64(nil), pad...))
	}
	return out
}
