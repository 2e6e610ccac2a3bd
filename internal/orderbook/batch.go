// Batch analytics across a symbol universe.
//
// The loops are manually unrolled four wide so a vectorizing compiler can
// lift them to SIMD; the scalar form keeps the same O(n) complexity on
// hardware without it.

package orderbook

import "math"

// BatchVWAP fills out[i] with the VWAP of books[i] at the given depth.
// out must be at least len(books) long.
func BatchVWAP(books []*OptimizedOrderBook, depth int, out []float64) {
	n := len(books)
	i := 0
	for ; i+4 <= n; i += 4 {
		out[i] = books[i].VWAP(depth)
		out[i+1] = books[i+1].VWAP(depth)
		out[i+2] = books[i+2].VWAP(depth)
		out[i+3] = books[i+3].VWAP(depth)
	}
	for ; i < n; i++ {
		out[i] = books[i].VWAP(depth)
	}
}

// BatchSpread fills out[i] with the spread of books[i]; NaN where a side
// is empty, matching the single-book query.
func BatchSpread(books []*OptimizedOrderBook, out []float64) {
	n := len(books)
	i := 0
	for ; i+4 <= n; i += 4 {
		out[i] = books[i].Spread()
		out[i+1] = books[i+1].Spread()
		out[i+2] = books[i+2].Spread()
		out[i+3] = books[i+3].Spread()
	}
	for ; i < n; i++ {
		out[i] = books[i].Spread()
	}
}

// BatchMidPrice fills out[i] with the mid price of books[i].
func BatchMidPrice(books []*OptimizedOrderBook, out []float64) {
	n := len(books)
	i := 0
	for ; i+4 <= n; i += 4 {
		out[i] = books[i].MidPrice()
		out[i+1] = books[i+1].MidPrice()
		out[i+2] = books[i+2].MidPrice()
		out[i+3] = books[i+3].MidPrice()
	}
	for ; i < n; i++ {
		out[i] = books[i].MidPrice()
	}
}

// TightestSpread returns the index of the book with the smallest valid
// spread, or -1 when every book has an empty side.
func TightestSpread(spreads []float64) int {
	best := -1
	bestVal := math.Inf(1)
	for i, s := range spreads {
		if !math.IsNaN(s) && s < bestVal {
			best = i
			bestVal = s
		}
	}
	return best
}
