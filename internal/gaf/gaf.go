// Package gaf implements Gramian Angular Field encodings of time series.
//
// A series x[0..n) is mapped onto the unit circle by rescaling it into
// [-1, 1] and taking φ_i = arccos(x_i). The field is the n×n matrix of
// pairwise angular sums or differences:
//
//	summation:  M[i][j] = cos(φ_i + φ_j)
//	difference: M[i][j] = cos(φ_i − φ_j)
//
// Position i is time step i, so callers must pass series in chronological
// order. Every entry of a field lies in [-1, 1].
//
// Reference: Wang, Z. & Oates, T. (2015) "Imaging Time-Series to Improve
// Classification and Imputation"
package gaf

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrEmptySeries is returned when a series has no points.
	ErrEmptySeries = errors.New("gaf: empty series")

	// ErrShape is returned for ragged multi-channel input, invalid sample
	// ranges and encodings that produce non-finite values.
	ErrShape = errors.New("gaf: shape error")

	// RangeEpsilon replaces a zero min-max range so a flat series rescales
	// to a constant instead of dividing by zero.
	RangeEpsilon = 1e-12
)

// Method selects how two angles are combined.
type Method int

const (
	Summation Method = iota
	Difference
)

func (m Method) String() string {
	switch m {
	case Summation:
		return "summation"
	case Difference:
		return "difference"
	}
	return fmt.Sprintf("method(%d)", int(m))
}

// Field is a square matrix of angular relationships.
type Field [][]float64

// Size returns the side length of the field.
func (f Field) Size() int {
	return len(f)
}

// Finite reports whether every entry is a finite number.
func (f Field) Finite() bool {
	for _, row := range f {
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

// Range is a declared sample range for EncodeInRange.
type Range struct {
	Lo, Hi float64
}

// UnitRange is the range of values produced by triplet normalization.
var UnitRange = Range{Lo: 0, Hi: 1}

// Encode min-max rescales series into [-1, 1] using the window's own
// extremes and returns its field.
func Encode(series []float64, method Method) (Field, error) {
	if len(series) == 0 {
		return nil, ErrEmptySeries
	}
	lo, hi := floats.Min(series), floats.Max(series)
	span := hi - lo
	if span == 0 {
		span = RangeEpsilon
	}

	scaled := make([]float64, len(series))
	for i, v := range series {
		scaled[i] = 2*(v-lo)/span - 1
	}
	return encodeScaled(scaled, method)
}

// EncodeInRange encodes series whose values are already normalized into r.
// Values are clamped to r and used as cosines directly; no per-series
// rescale takes place, so two series encoded against the same r stay
// comparable. r must lie within [-1, 1].
func EncodeInRange(series []float64, method Method, r Range) (Field, error) {
	if len(series) == 0 {
		return nil, ErrEmptySeries
	}
	if r.Lo > r.Hi || r.Lo < -1 || r.Hi > 1 {
		return nil, fmt.Errorf("%w: sample range [%g, %g] outside [-1, 1]", ErrShape, r.Lo, r.Hi)
	}
	clamped := make([]float64, len(series))
	for i, v := range series {
		clamped[i] = math.Min(math.Max(v, r.Lo), r.Hi)
	}
	return encodeScaled(clamped, method)
}

// EncodeChannels treats rows as time steps and columns as channels and
// returns one field per channel, each rescaled independently.
func EncodeChannels(rows [][]float64, method Method) ([]Field, error) {
	cols, err := transpose(rows)
	if err != nil {
		return nil, err
	}
	fields := make([]Field, len(cols))
	for c, series := range cols {
		if fields[c], err = Encode(series, method); err != nil {
			return nil, fmt.Errorf("channel %d: %w", c, err)
		}
	}
	return fields, nil
}

// EncodeChannelsInRange is EncodeChannels for pre-normalized channels.
func EncodeChannelsInRange(rows [][]float64, method Method, r Range) ([]Field, error) {
	cols, err := transpose(rows)
	if err != nil {
		return nil, err
	}
	fields := make([]Field, len(cols))
	for c, series := range cols {
		if fields[c], err = EncodeInRange(series, method, r); err != nil {
			return nil, fmt.Errorf("channel %d: %w", c, err)
		}
	}
	return fields, nil
}

// encodeScaled builds the field for values already in [-1, 1].
func encodeScaled(x []float64, method Method) (Field, error) {
	n := len(x)
	phi := make([]float64, n)
	for i, v := range x {
		phi[i] = math.Acos(math.Min(math.Max(v, -1), 1))
	}

	var combine func(a, b float64) float64
	switch method {
	case Summation:
		combine = func(a, b float64) float64 { return math.Cos(a + b) }
	case Difference:
		combine = func(a, b float64) float64 { return math.Cos(a - b) }
	default:
		return nil, fmt.Errorf("%w: unknown method %s", ErrShape, method)
	}

	// Both combinations are symmetric in i and j; only the upper triangle
	// is computed.
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, combine(phi[i], phi[j]))
		}
	}
	field := fromMatrix(sym)
	if !field.Finite() {
		return nil, fmt.Errorf("%w: non-finite field", ErrShape)
	}
	return field, nil
}

// transpose turns n rows of c channels into c series of n points.
func transpose(rows [][]float64) ([][]float64, error) {
	if len(rows) == 0 {
		return nil, ErrEmptySeries
	}
	width := len(rows[0])
	if width == 0 {
		return nil, fmt.Errorf("%w: zero channels", ErrShape)
	}
	data := make([]float64, 0, len(rows)*width)
	for i, row := range rows {
		if len(row) != width {
			return nil, fmt.Errorf("%w: row %d has %d channels, want %d", ErrShape, i, len(row), width)
		}
		data = append(data, row...)
	}
	return fromMatrix(mat.NewDense(len(rows), width, data).T()), nil
}

// fromMatrix copies m into row-major slices.
func fromMatrix(m mat.Matrix) Field {
	r, _ := m.Dims()
	out := make(Field, r)
	for i := range out {
		out[i] = mat.Row(nil, i, m)
	}
	return out
}
