// Allocation-free order book variant for the tightest latency budgets.
//
// Order records live in a fixed slot pool handed out through a free list
// and indexed by an open-addressing hash table, so nothing is allocated
// after construction. Best-quote fields sit on their own cache lines to
// keep concurrent readers from false-sharing with writers.

package orderbook

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mkv4540/goldearn-hft-sub000/internal/latency"
	"github.com/mkv4540/goldearn-hft-sub000/internal/marketdata"
)

// DefaultOrderCapacity is the slot-pool size used when none is given.
const DefaultOrderCapacity = 1 << 16

type paddedFloat64 struct {
	atomicFloat64
	_ [56]byte
}

type paddedInt64 struct {
	atomic.Int64
	_ [56]byte
}

type orderSlot struct {
	id        uint64
	price     float64
	quantity  int64
	side      byte
	used      bool
	timestamp uint64
}

const tableEmpty = int32(0)

// openTable maps order IDs to slot indices with linear probing.
// Entries store slotIndex+1 so the zero value means empty. Deletion
// backward-shifts the probe run instead of leaving tombstones: the table
// always has free slots (it is sized at twice the pool), so probe runs
// stay short no matter how many distinct IDs churn through.
type openTable struct {
	entries []int32
	mask    uint64
}

func newOpenTable(capacity int) openTable {
	size := 1
	for size < capacity*2 {
		size <<= 1
	}
	return openTable{entries: make([]int32, size), mask: uint64(size - 1)}
}

func (t *openTable) hash(id uint64) uint64 {
	return (id ^ (id >> 16)) & t.mask
}

func (t *openTable) lookup(id uint64, slots []orderSlot) int32 {
	i := t.hash(id)
	for n := 0; n < len(t.entries); n++ {
		e := t.entries[i]
		if e == tableEmpty {
			return -1
		}
		if slots[e-1].id == id {
			return e - 1
		}
		i = (i + 1) & t.mask
	}
	return -1
}

func (t *openTable) insert(id uint64, slotIdx int32) {
	i := t.hash(id)
	for n := 0; n < len(t.entries); n++ {
		if t.entries[i] == tableEmpty {
			t.entries[i] = slotIdx + 1
			return
		}
		i = (i + 1) & t.mask
	}
}

func (t *openTable) remove(id uint64, slots []orderSlot) int32 {
	i := t.hash(id)
	found := int32(-1)
	for n := 0; n < len(t.entries); n++ {
		e := t.entries[i]
		if e == tableEmpty {
			return -1
		}
		if slots[e-1].id == id {
			found = e - 1
			break
		}
		i = (i + 1) & t.mask
	}
	if found < 0 {
		return -1
	}
	// Backward-shift the rest of the probe run: any entry displaced past
	// the vacated bucket moves back into it, so the run ends at a real
	// empty slot and lookups never scan dead entries.
	j := i
	for {
		t.entries[i] = tableEmpty
		for {
			j = (j + 1) & t.mask
			e := t.entries[j]
			if e == tableEmpty {
				return found
			}
			k := t.hash(slots[e-1].id)
			if (j-k)&t.mask >= (j-i)&t.mask {
				t.entries[i] = e
				i = j
				break
			}
		}
	}
}

// OptimizedOrderBook has the same external contract as OrderBook with a
// no-alloc-after-init hot path and independently cache-line-padded best
// quote atomics.
type OptimizedOrderBook struct {
	symbolID uint32
	symbol   string
	tickSize float64

	mu    sync.Mutex
	bids  ladder
	asks  ladder
	slots []orderSlot
	free  []int32
	table openTable

	bestBidPrice paddedFloat64
	bestBidQty   paddedInt64
	bestAskPrice paddedFloat64
	bestAskQty   paddedInt64

	totalVolume    atomic.Int64
	tradeCount     atomic.Uint64
	lastTradePrice atomicFloat64
	updates        atomic.Uint64
	dropped        atomic.Uint64

	latency *latency.Tracker
}

// NewOptimizedOrderBook creates a book whose order pool and hash table are
// sized at construction; capacity <= 0 selects DefaultOrderCapacity.
func NewOptimizedOrderBook(symbolID uint32, symbol string, tickSize float64, capacity int) *OptimizedOrderBook {
	if capacity <= 0 {
		capacity = DefaultOrderCapacity
	}
	ob := &OptimizedOrderBook{
		symbolID: symbolID,
		symbol:   symbol,
		tickSize: tickSize,
		slots:    make([]orderSlot, capacity),
		free:     make([]int32, capacity),
		table:    newOpenTable(capacity),
		latency:  latency.NewTracker(0),
	}
	for i := range ob.free {
		ob.free[i] = int32(capacity - 1 - i)
	}
	return ob
}

func (ob *OptimizedOrderBook) SymbolID() uint32 { return ob.symbolID }
func (ob *OptimizedOrderBook) Symbol() string   { return ob.symbol }

// AddOrder records a new order into the slot pool. Invalid input and pool
// exhaustion are silent no-ops; exhaustion bumps the dropped counter so
// operators can size the pool.
func (ob *OptimizedOrderBook) AddOrder(orderID uint64, side byte, price float64, quantity int64, tsNs uint64) {
	if quantity <= 0 || price <= 0 {
		return
	}
	side = marketdata.NormalizeSide(side)
	if side == 0 {
		return
	}
	start := time.Now()

	ob.mu.Lock()
	if ob.table.lookup(orderID, ob.slots) >= 0 {
		ob.mu.Unlock()
		return
	}
	if len(ob.free) == 0 {
		ob.dropped.Add(1)
		ob.mu.Unlock()
		return
	}
	idx := ob.free[len(ob.free)-1]
	ob.free = ob.free[:len(ob.free)-1]
	ob.slots[idx] = orderSlot{id: orderID, price: price, quantity: quantity, side: side, used: true, timestamp: tsNs}
	ob.table.insert(orderID, idx)
	ob.applyLevelDelta(side, price, quantity, 1, tsNs)
	ob.publishBest()
	ob.mu.Unlock()

	ob.recordUpdate(start)
}

// ModifyOrder changes the remaining quantity of a pooled order; zero
// cancels, unknown IDs are a no-op.
func (ob *OptimizedOrderBook) ModifyOrder(orderID uint64, newQuantity int64, tsNs uint64) {
	if newQuantity < 0 {
		return
	}
	if newQuantity == 0 {
		ob.CancelOrder(orderID, tsNs)
		return
	}
	start := time.Now()

	ob.mu.Lock()
	idx := ob.table.lookup(orderID, ob.slots)
	if idx < 0 {
		ob.mu.Unlock()
		return
	}
	s := &ob.slots[idx]
	delta := newQuantity - s.quantity
	s.quantity = newQuantity
	s.timestamp = tsNs
	ob.applyLevelDelta(s.side, s.price, delta, 0, tsNs)
	ob.publishBest()
	ob.mu.Unlock()

	ob.recordUpdate(start)
}

// CancelOrder releases the order's slot back to the pool.
func (ob *OptimizedOrderBook) CancelOrder(orderID uint64, tsNs uint64) {
	start := time.Now()

	ob.mu.Lock()
	idx := ob.table.remove(orderID, ob.slots)
	if idx < 0 {
		ob.mu.Unlock()
		return
	}
	s := ob.slots[idx]
	ob.slots[idx] = orderSlot{}
	ob.free = append(ob.free, idx)
	ob.applyLevelDelta(s.side, s.price, -s.quantity, -1, tsNs)
	ob.publishBest()
	ob.mu.Unlock()

	ob.recordUpdate(start)
}

// UpdateTrade folds an executed trade into running statistics.
func (ob *OptimizedOrderBook) UpdateTrade(price float64, quantity int64, tsNs uint64) {
	if quantity <= 0 || price <= 0 {
		return
	}
	ob.totalVolume.Add(quantity)
	ob.tradeCount.Add(1)
	ob.lastTradePrice.Store(price)
}

// UpdateQuote replaces both ladders from a depth snapshot, same
// clear-then-populate semantics as the standard book.
func (ob *OptimizedOrderBook) UpdateQuote(q *marketdata.QuoteMessage) {
	if q == nil || q.SymbolID != ob.symbolID {
		return
	}
	ob.FullRefresh(q.Bids[:q.BidCount], q.Asks[:q.AskCount])
}

// FullRefresh clears and repopulates both ladders.
func (ob *OptimizedOrderBook) FullRefresh(bids, asks []marketdata.QuoteLevel) {
	start := time.Now()
	tsNs := uint64(start.UnixNano())

	ob.mu.Lock()
	ladderClear(&ob.bids)
	ladderClear(&ob.asks)
	fillLadder(&ob.bids, bids, tsNs)
	fillLadder(&ob.asks, asks, tsNs)
	ladderSort(&ob.bids, marketdata.SideBuy)
	ladderSort(&ob.asks, marketdata.SideSell)
	ob.publishBest()
	ob.mu.Unlock()

	ob.recordUpdate(start)
}

// ApplyOrderUpdate dispatches a market-by-order event.
func (ob *OptimizedOrderBook) ApplyOrderUpdate(u *marketdata.OrderUpdateMessage) {
	if u == nil || u.SymbolID != ob.symbolID {
		return
	}
	switch u.Header.MsgType {
	case marketdata.MsgTypeNewOrder:
		ob.AddOrder(u.OrderID, u.Side, u.Price, u.Quantity, u.Header.TimestampNs)
	case marketdata.MsgTypeModifyOrder:
		ob.ModifyOrder(u.OrderID, u.Quantity, u.Header.TimestampNs)
	case marketdata.MsgTypeCancelOrder:
		ob.CancelOrder(u.OrderID, u.Header.TimestampNs)
	}
}

func (ob *OptimizedOrderBook) BestBid() float64       { return ob.bestBidPrice.Load() }
func (ob *OptimizedOrderBook) BestAsk() float64       { return ob.bestAskPrice.Load() }
func (ob *OptimizedOrderBook) BestBidQuantity() int64 { return ob.bestBidQty.Load() }
func (ob *OptimizedOrderBook) BestAskQuantity() int64 { return ob.bestAskQty.Load() }

// Spread returns ask minus bid, or NaN when either side is empty.
func (ob *OptimizedOrderBook) Spread() float64 {
	bid, ask := ob.BestBid(), ob.BestAsk()
	if bid <= 0 || ask <= 0 {
		return math.NaN()
	}
	return ask - bid
}

// MidPrice returns the quote midpoint, or NaN when either side is empty.
func (ob *OptimizedOrderBook) MidPrice() float64 {
	bid, ask := ob.BestBid(), ob.BestAsk()
	if bid <= 0 || ask <= 0 {
		return math.NaN()
	}
	return (bid + ask) / 2
}

// VWAP computes the volume-weighted average price across both sides up to
// depth levels each.
func (ob *OptimizedOrderBook) VWAP(depth int) float64 {
	if depth <= 0 || depth > MaxDepth {
		depth = MaxDepth
	}
	ob.mu.Lock()
	defer ob.mu.Unlock()

	var notional float64
	var qty int64
	for i := 0; i < depth; i++ {
		if !ob.bids[i].empty() {
			notional += ob.bids[i].Price * float64(ob.bids[i].TotalQuantity)
			qty += ob.bids[i].TotalQuantity
		}
		if !ob.asks[i].empty() {
			notional += ob.asks[i].Price * float64(ob.asks[i].TotalQuantity)
			qty += ob.asks[i].TotalQuantity
		}
	}
	if qty == 0 {
		return 0
	}
	return notional / float64(qty)
}

// Imbalance over the best levels, lock-free.
func (ob *OptimizedOrderBook) Imbalance() float64 {
	bid := ob.BestBidQuantity()
	ask := ob.BestAskQuantity()
	total := bid + ask
	if total == 0 {
		return 0
	}
	return float64(bid-ask) / float64(total)
}

// Depth returns a consistent copy of both ladders.
func (ob *OptimizedOrderBook) Depth() DepthSnapshot {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	return DepthSnapshot{SymbolID: ob.symbolID, Bids: ob.bids, Asks: ob.asks}
}

// OpenOrders returns the number of occupied pool slots.
func (ob *OptimizedOrderBook) OpenOrders() int {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	return len(ob.slots) - len(ob.free)
}

// DroppedOrders returns how many adds were refused due to pool exhaustion.
func (ob *OptimizedOrderBook) DroppedOrders() uint64 { return ob.dropped.Load() }

// Stats returns running counters for this book.
func (ob *OptimizedOrderBook) Stats() Stats {
	return Stats{
		SymbolID:       ob.symbolID,
		Symbol:         ob.symbol,
		TotalVolume:    ob.totalVolume.Load(),
		TradeCount:     ob.tradeCount.Load(),
		LastTradePrice: ob.lastTradePrice.Load(),
		Updates:        ob.updates.Load(),
	}
}

// UpdateLatency exposes the per-update latency tracker.
func (ob *OptimizedOrderBook) UpdateLatency() *latency.Tracker { return ob.latency }

func (ob *OptimizedOrderBook) applyLevelDelta(side byte, price float64, qtyDelta int64, countDelta int32, tsNs uint64) {
	lv := &ob.bids
	if side == marketdata.SideSell {
		lv = &ob.asks
	}
	idx := ladderFind(lv, price, ob.tickSize/2)
	if idx < 0 {
		if qtyDelta <= 0 {
			return
		}
		ladderInsert(lv, side, PriceLevel{
			Price:         price,
			TotalQuantity: qtyDelta,
			OrderCount:    1,
			LastUpdate:    tsNs,
		})
		ladderSort(lv, side)
		return
	}
	level := &lv[idx]
	level.TotalQuantity += qtyDelta
	level.LastUpdate = tsNs
	if countDelta > 0 {
		level.OrderCount += uint32(countDelta)
	} else if countDelta < 0 && level.OrderCount > 0 {
		level.OrderCount -= uint32(-countDelta)
	}
	if level.TotalQuantity <= 0 {
		*level = PriceLevel{}
	}
	ladderSort(lv, side)
}

func (ob *OptimizedOrderBook) publishBest() {
	if ob.bids[0].empty() {
		ob.bestBidPrice.Store(0)
		ob.bestBidQty.Store(0)
	} else {
		ob.bestBidQty.Store(ob.bids[0].TotalQuantity)
		ob.bestBidPrice.Store(ob.bids[0].Price)
	}
	if ob.asks[0].empty() {
		ob.bestAskPrice.Store(0)
		ob.bestAskQty.Store(0)
	} else {
		ob.bestAskQty.Store(ob.asks[0].TotalQuantity)
		ob.bestAskPrice.Store(ob.asks[0].Price)
	}
}

func (ob *OptimizedOrderBook) recordUpdate(start time.Time) {
	ob.updates.Add(1)
	ob.latency.Record(time.Since(start))
}
