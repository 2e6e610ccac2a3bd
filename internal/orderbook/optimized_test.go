package orderbook

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkv4540/goldearn-hft-sub000/internal/marketdata"
)

func newTestOptimized(capacity int) *OptimizedOrderBook {
	return NewOptimizedOrderBook(1, "RELIANCE", 0.05, capacity)
}

func TestOptimizedEndToEnd(t *testing.T) {
	ob := newTestOptimized(0)
	ob.AddOrder(1, 'B', 100.50, 1000, 1)
	ob.AddOrder(2, 'S', 100.60, 500, 2)

	assert.Equal(t, 100.50, ob.BestBid())
	assert.Equal(t, 100.60, ob.BestAsk())
	assert.InDelta(t, 0.10, ob.Spread(), 1e-9)
	assert.InDelta(t, 100.55, ob.MidPrice(), 1e-9)

	ob.CancelOrder(1, 3)
	assert.Equal(t, 0.0, ob.BestBid())
	assert.True(t, math.IsNaN(ob.Spread()))
}

// The optimized book must behave identically to the standard book under
// the same operation sequence.
func TestOptimizedMatchesStandardBook(t *testing.T) {
	std := newTestBook()
	opt := newTestOptimized(1 << 12)
	rng := rand.New(rand.NewSource(11))
	live := make([]uint64, 0, 256)
	var nextID uint64

	for i := 0; i < 3000; i++ {
		switch rng.Intn(4) {
		case 0, 1:
			nextID++
			side := byte('B')
			price := 100 + float64(rng.Intn(40))*0.05
			if rng.Intn(2) == 1 {
				side = 'S'
				price = 102 + float64(rng.Intn(40))*0.05
			}
			qty := int64(1 + rng.Intn(1000))
			std.AddOrder(nextID, side, price, qty, uint64(i))
			opt.AddOrder(nextID, side, price, qty, uint64(i))
			live = append(live, nextID)
		case 2:
			if len(live) > 0 {
				id := live[rng.Intn(len(live))]
				qty := int64(rng.Intn(2000))
				std.ModifyOrder(id, qty, uint64(i))
				opt.ModifyOrder(id, qty, uint64(i))
			}
		case 3:
			if len(live) > 0 {
				j := rng.Intn(len(live))
				std.CancelOrder(live[j], uint64(i))
				opt.CancelOrder(live[j], uint64(i))
				live = append(live[:j], live[j+1:]...)
			}
		}
		require.Equal(t, std.BestBid(), opt.BestBid(), "op %d", i)
		require.Equal(t, std.BestAsk(), opt.BestAsk(), "op %d", i)
		require.Equal(t, std.BestBidQuantity(), opt.BestBidQuantity(), "op %d", i)
		require.Equal(t, std.BestAskQuantity(), opt.BestAskQuantity(), "op %d", i)
	}
	assert.Equal(t, std.Depth().Bids, opt.Depth().Bids)
	assert.Equal(t, std.Depth().Asks, opt.Depth().Asks)
	assert.Equal(t, std.OpenOrders(), opt.OpenOrders())
}

func TestOptimizedPoolExhaustion(t *testing.T) {
	ob := newTestOptimized(4)
	for i := uint64(1); i <= 4; i++ {
		ob.AddOrder(i, 'B', 100+float64(i)*0.05, 100, i)
	}
	require.Equal(t, 4, ob.OpenOrders())

	// Fifth order is dropped, not queued.
	ob.AddOrder(5, 'B', 101.00, 100, 5)
	assert.Equal(t, 4, ob.OpenOrders())
	assert.Equal(t, uint64(1), ob.DroppedOrders())

	// A freed slot makes room again.
	ob.CancelOrder(1, 6)
	ob.AddOrder(5, 'B', 101.00, 100, 7)
	assert.Equal(t, 4, ob.OpenOrders())
	assert.Equal(t, uint64(1), ob.DroppedOrders())
}

func TestOptimizedHashCollisions(t *testing.T) {
	// Capacity 8 gives a 16-entry table; these IDs all hash to bucket 1.
	ob := newTestOptimized(8)
	ids := []uint64{1, 17, 33, 49}
	for i, id := range ids {
		ob.AddOrder(id, 'B', 100+float64(i)*0.05, int64(100*(i+1)), uint64(i))
	}
	require.Equal(t, len(ids), ob.OpenOrders())

	// Removing a middle entry shifts the rest of the probe run back;
	// later IDs in the chain must still resolve.
	ob.CancelOrder(17, 10)
	ob.ModifyOrder(33, 999, 11)
	ob.ModifyOrder(49, 888, 12)
	assert.Equal(t, 3, ob.OpenOrders())

	// The vacated bucket is reusable.
	ob.AddOrder(17, 'B', 100.50, 100, 13)
	assert.Equal(t, 4, ob.OpenOrders())
}

// Sustained add/cancel churn of distinct IDs must not consume the
// table: every deletion has to return its bucket (or the end of its
// probe run) to empty, or lookups degrade to full-table scans.
func TestOptimizedTableChurnLeavesNoDeadSlots(t *testing.T) {
	ob := newTestOptimized(8)

	// Four resident orders whose probe chains the churn will cross.
	residents := []uint64{1, 17, 33, 49}
	for i, id := range residents {
		ob.AddOrder(id, 'B', 100+float64(i)*0.05, 100, uint64(i))
	}

	for id := uint64(1000); id < 11000; id++ {
		ob.AddOrder(id, 'S', 102.00, 10, id)
		ob.CancelOrder(id, id)
	}

	occupied := 0
	for _, e := range ob.table.entries {
		if e != tableEmpty {
			occupied++
		}
	}
	require.Equal(t, len(residents), occupied,
		"churn left dead table entries behind")

	// Residents still resolve through their (possibly shifted) chains.
	for _, id := range residents {
		ob.ModifyOrder(id, 555, 99)
	}
	assert.Equal(t, len(residents), ob.OpenOrders())
	assert.Equal(t, int64(555), ob.BestBidQuantity())
}

func TestOptimizedDuplicateIDIgnored(t *testing.T) {
	ob := newTestOptimized(8)
	ob.AddOrder(1, 'B', 100.50, 1000, 1)
	ob.AddOrder(1, 'B', 101.00, 500, 2)
	assert.Equal(t, 1, ob.OpenOrders())
	assert.Equal(t, 100.50, ob.BestBid())
}

func TestOptimizedQuoteRefresh(t *testing.T) {
	ob := newTestOptimized(0)
	ob.UpdateQuote(quoteMsg(1,
		[]marketdata.QuoteLevel{{Price: 100.50, Quantity: 1000}, {Price: 100.45, Quantity: 500}},
		[]marketdata.QuoteLevel{{Price: 100.60, Quantity: 400}},
	))
	assert.Equal(t, 100.50, ob.BestBid())
	assert.Equal(t, 100.60, ob.BestAsk())

	ob.UpdateQuote(quoteMsg(1,
		[]marketdata.QuoteLevel{{Price: 100.40, Quantity: 100}},
		nil,
	))
	d := ob.Depth()
	assert.Equal(t, 100.40, ob.BestBid())
	assert.Equal(t, 0.0, ob.BestAsk())
	assert.Equal(t, int64(0), d.Bids[1].TotalQuantity)
}

func BenchmarkOptimizedAddCancel(b *testing.B) {
	ob := newTestOptimized(1 << 16)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		id := uint64(i)
		ob.AddOrder(id, 'B', 100+float64(i%40)*0.05, 100, id)
		ob.CancelOrder(id, id)
	}
}

func BenchmarkOptimizedBestBid(b *testing.B) {
	ob := newTestOptimized(0)
	ob.AddOrder(1, 'B', 100.50, 1000, 1)
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = ob.BestBid()
		}
	})
}
