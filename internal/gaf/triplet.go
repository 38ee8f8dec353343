package gaf

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// Trade aggregate rows are (price, size, numOrders).
const (
	colPrice  = 0
	colSize   = 1
	colOrders = 2
)

// StatsEpsilon widens a degenerate log-space range.
const StatsEpsilon = 1e-9

// Background selects what fills the two secondary channels of a
// normalized triplet.
type Background int

const (
	BackgroundZero Background = iota
	BackgroundFloor
	BackgroundVolume
	BackgroundOrders
)

func (b Background) String() string {
	switch b {
	case BackgroundFloor:
		return "floor"
	case BackgroundVolume:
		return "volume"
	case BackgroundOrders:
		return "orders"
	}
	return "zero"
}

// ParseBackground maps a config string onto a Background mode.
func ParseBackground(s string) (Background, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "zero":
		return BackgroundZero, nil
	case "floor":
		return BackgroundFloor, nil
	case "volume":
		return BackgroundVolume, nil
	case "orders":
		return BackgroundOrders, nil
	}
	return 0, fmt.Errorf("gaf: unknown background mode %q", s)
}

// TripletParams shapes the normalized buy/sell encoding.
type TripletParams struct {
	Gamma           float64    `yaml:"gamma"`
	ContrastMin     float64    `yaml:"contrast_min"`
	ContrastMax     float64    `yaml:"contrast_max"`
	Background      Background `yaml:"-"`
	BackgroundFloor float64    `yaml:"background_floor"`
	BackgroundScale float64    `yaml:"background_scale"`
}

// DefaultTripletParams: linear volume, contrast 0.7–1.7, black background.
func DefaultTripletParams() TripletParams {
	return TripletParams{
		Gamma:           1.0,
		ContrastMin:     0.7,
		ContrastMax:     1.7,
		Background:      BackgroundZero,
		BackgroundFloor: 0.1,
		BackgroundScale: 0.5,
	}
}

// Validate rejects parameter sets that cannot produce values in [0, 1].
func (p TripletParams) Validate() error {
	if p.Gamma <= 0 || math.IsInf(p.Gamma, 0) || math.IsNaN(p.Gamma) {
		return errors.New("gaf: gamma must be positive and finite")
	}
	if p.ContrastMin < 0 || p.ContrastMax < p.ContrastMin {
		return fmt.Errorf("gaf: invalid contrast range [%g, %g]", p.ContrastMin, p.ContrastMax)
	}
	if p.BackgroundFloor < 0 || p.BackgroundFloor > 1 {
		return fmt.Errorf("gaf: background floor %g outside [0, 1]", p.BackgroundFloor)
	}
	return nil
}

// TripletStats are log-space bounds fitted once per tick over the union of
// buy and sell rows, so both sides normalize against the same scale.
type TripletStats struct {
	VolLow, VolHigh       float64
	OrdersLow, OrdersHigh float64
}

// FitTripletStats fits bounds on ln(size) and ln(numOrders) across every
// row of every set. Non-positive and non-finite values are ignored.
func FitTripletStats(sets ...[][]float64) TripletStats {
	var vols, orders []float64
	for _, rows := range sets {
		for _, row := range rows {
			if len(row) <= colOrders {
				continue
			}
			if l, ok := logPositive(row[colSize]); ok {
				vols = append(vols, l)
			}
			if l, ok := logPositive(row[colOrders]); ok {
				orders = append(orders, l)
			}
		}
	}
	volLo, volHi := logBounds(vols)
	ordLo, ordHi := logBounds(orders)
	return TripletStats{VolLow: volLo, VolHigh: volHi, OrdersLow: ordLo, OrdersHigh: ordHi}
}

// NormalizeTriplets maps each (price, size, numOrders) row onto
// (primary, background, background) in [0, 1]:
//
//	vol      = ((ln size − volLow) / (volHigh − volLow)) ^ gamma
//	contrast = contrastMin + (contrastMax − contrastMin) × orderNorm
//	primary  = clamp01(0.5 + contrast × (vol − 0.5))
//
// Missing or non-positive size/numOrders normalize to the neutral 0.5.
func NormalizeTriplets(rows [][]float64, stats TripletStats, p TripletParams) ([][]float64, error) {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		if len(row) != 3 {
			return nil, fmt.Errorf("%w: trade row %d has %d values, want 3", ErrShape, i, len(row))
		}
		volNorm := normLog(row[colSize], stats.VolLow, stats.VolHigh)
		orderNorm := normLog(row[colOrders], stats.OrdersLow, stats.OrdersHigh)
		vol := math.Pow(volNorm, p.Gamma)
		contrast := p.ContrastMin + (p.ContrastMax-p.ContrastMin)*orderNorm
		primary := clamp01(0.5 + contrast*(vol-0.5))

		var bg float64
		switch p.Background {
		case BackgroundFloor:
			bg = p.BackgroundFloor
		case BackgroundVolume:
			bg = clamp01(vol * p.BackgroundScale)
		case BackgroundOrders:
			bg = clamp01(orderNorm * p.BackgroundScale)
		}
		out[i] = []float64{primary, bg, bg}
	}
	return out, nil
}

// EncodeNormalizedTriplet normalizes rows against shared stats and returns
// the three summation fields (primary, background, background).
func EncodeNormalizedTriplet(rows [][]float64, stats TripletStats, p TripletParams) ([]Field, error) {
	norm, err := NormalizeTriplets(rows, stats, p)
	if err != nil {
		return nil, err
	}
	return EncodeChannelsInRange(norm, Summation, UnitRange)
}

func logPositive(v float64) (float64, bool) {
	if !(v > 0) || math.IsInf(v, 0) {
		return 0, false
	}
	return math.Log(v), true
}

// logBounds returns the extremes of logs, widened when degenerate and
// (0, StatsEpsilon) when empty.
func logBounds(logs []float64) (float64, float64) {
	var lo, hi float64
	if len(logs) > 0 {
		lo, hi = floats.Min(logs), floats.Max(logs)
	}
	if hi-lo < StatsEpsilon {
		hi = lo + StatsEpsilon
	}
	return lo, hi
}

func normLog(v, lo, hi float64) float64 {
	l, ok := logPositive(v)
	if !ok {
		return 0.5
	}
	return clamp01((l - lo) / (hi - lo))
}

func clamp01(v float64) float64 {
	return math.Min(math.Max(v, 0), 1)
}
