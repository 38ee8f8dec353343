package model

// TradeSmoothingRadius is the half-width of the centered moving average
// applied to buy/sell aggregates before they reach the encoder.
const TradeSmoothingRadius = 5

// SmoothTriplets replaces each triplet component with the mean of the valid
// values in rows [i-radius, i+radius]. A component with no valid values in
// its window stays null. The window is symmetric, so the slice may be in
// either time order.
func SmoothTriplets(rows []Triplet, radius int) []Triplet {
	out := make([]Triplet, len(rows))
	for i := range rows {
		lo := max(0, i-radius)
		hi := min(len(rows)-1, i+radius)
		for k := 0; k < 3; k++ {
			var sum float64
			var n int
			for j := lo; j <= hi; j++ {
				if rows[j][k].Ok() {
					sum += rows[j][k].Value
					n++
				}
			}
			if n > 0 {
				out[i][k] = Num(sum / float64(n))
			}
		}
	}
	return out
}
