// Per-symbol bid/ask ladder with lock-free best-price reads.
//
// Writers mutate under the book mutex and publish the final best bid/ask
// through atomics, so a concurrent reader observes either the pre-update or
// the fully-updated state, never a torn one. Malformed ingestion input
// (unknown IDs, non-positive price/quantity, bad side) is silently dropped:
// it is expected noise from imperfect upstream feeds and must not stall or
// abort the hot path.

package orderbook

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mkv4540/goldearn-hft-sub000/internal/latency"
	"github.com/mkv4540/goldearn-hft-sub000/internal/marketdata"
)

type orderInfo struct {
	price     float64
	quantity  int64
	side      byte
	timestamp uint64
}

// OrderBook maintains the authoritative ladder state for one instrument.
type OrderBook struct {
	symbolID uint32
	symbol   string
	tickSize float64

	mu     sync.RWMutex
	bids   ladder
	asks   ladder
	orders map[uint64]*orderInfo

	bestBid bestQuote
	bestAsk bestQuote

	totalVolume    atomic.Int64
	tradeCount     atomic.Uint64
	lastTradePrice atomicFloat64

	updates     atomic.Uint64
	avgUpdateNs atomicFloat64
	latency     *latency.Tracker
}

// Stats is a point-in-time summary of book activity.
type Stats struct {
	SymbolID       uint32
	Symbol         string
	TotalVolume    int64
	TradeCount     uint64
	LastTradePrice float64
	Updates        uint64
	AvgUpdateNs    float64
}

// DepthSnapshot is a consistent copy of both ladders.
type DepthSnapshot struct {
	SymbolID uint32
	Bids     [MaxDepth]PriceLevel
	Asks     [MaxDepth]PriceLevel
}

// NewOrderBook creates an empty book for one instrument.
func NewOrderBook(symbolID uint32, symbol string, tickSize float64) *OrderBook {
	return &OrderBook{
		symbolID: symbolID,
		symbol:   symbol,
		tickSize: tickSize,
		orders:   make(map[uint64]*orderInfo, 1024),
		latency:  latency.NewTracker(0),
	}
}

func (ob *OrderBook) SymbolID() uint32 { return ob.symbolID }
func (ob *OrderBook) Symbol() string   { return ob.symbol }
func (ob *OrderBook) TickSize() float64 {
	return ob.tickSize
}

// AddOrder records a new resting order and folds its quantity into the
// matching price level, creating the level if needed. Invalid input is a
// silent no-op.
func (ob *OrderBook) AddOrder(orderID uint64, side byte, price float64, quantity int64, tsNs uint64) {
	if quantity <= 0 || price <= 0 {
		return
	}
	side = marketdata.NormalizeSide(side)
	if side == 0 {
		return
	}
	start := time.Now()

	ob.mu.Lock()
	if _, dup := ob.orders[orderID]; dup {
		ob.mu.Unlock()
		return
	}
	ob.orders[orderID] = &orderInfo{price: price, quantity: quantity, side: side, timestamp: tsNs}
	ob.applyLevelDelta(side, price, quantity, 1, tsNs)
	ob.publishBest()
	ob.mu.Unlock()

	ob.recordUpdate(start)
}

// ModifyOrder changes the remaining quantity of a resting order. A new
// quantity of zero cancels. Unknown IDs are a silent no-op.
func (ob *OrderBook) ModifyOrder(orderID uint64, newQuantity int64, tsNs uint64) {
	if newQuantity < 0 {
		return
	}
	if newQuantity == 0 {
		ob.CancelOrder(orderID, tsNs)
		return
	}
	start := time.Now()

	ob.mu.Lock()
	info, ok := ob.orders[orderID]
	if !ok {
		ob.mu.Unlock()
		return
	}
	delta := newQuantity - info.quantity
	info.quantity = newQuantity
	info.timestamp = tsNs
	ob.applyLevelDelta(info.side, info.price, delta, 0, tsNs)
	ob.publishBest()
	ob.mu.Unlock()

	ob.recordUpdate(start)
}

// CancelOrder removes a resting order, returning its full remaining
// quantity to the level. Cancelling twice is a no-op.
func (ob *OrderBook) CancelOrder(orderID uint64, tsNs uint64) {
	start := time.Now()

	ob.mu.Lock()
	info, ok := ob.orders[orderID]
	if !ok {
		ob.mu.Unlock()
		return
	}
	delete(ob.orders, orderID)
	ob.applyLevelDelta(info.side, info.price, -info.quantity, -1, tsNs)
	ob.publishBest()
	ob.mu.Unlock()

	ob.recordUpdate(start)
}

// UpdateTrade folds an executed trade into the running statistics. The
// ladder itself is not touched; resting quantity changes arrive as separate
// order updates.
func (ob *OrderBook) UpdateTrade(price float64, quantity int64, tsNs uint64) {
	if quantity <= 0 || price <= 0 {
		return
	}
	ob.totalVolume.Add(quantity)
	ob.tradeCount.Add(1)
	ob.lastTradePrice.Store(price)
}

// UpdateQuote replaces both ladders from an exchange depth snapshot.
// Levels with non-positive price or quantity are dropped rather than left
// stale. Messages for other symbols are ignored.
func (ob *OrderBook) UpdateQuote(q *marketdata.QuoteMessage) {
	if q == nil || q.SymbolID != ob.symbolID {
		return
	}
	ob.FullRefresh(q.Bids[:q.BidCount], q.Asks[:q.AskCount])
}

// FullRefresh clears both ladders and repopulates them from the supplied
// levels, keeping at most MaxDepth per side.
func (ob *OrderBook) FullRefresh(bids, asks []marketdata.QuoteLevel) {
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

// ApplyOrderUpdate dispatches a market-by-order event to the matching
// mutation. Messages for other symbols are ignored.
func (ob *OrderBook) ApplyOrderUpdate(u *marketdata.OrderUpdateMessage) {
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

// BestBid returns the highest bid price, 0 if the bid side is empty.
// Lock-free.
func (ob *OrderBook) BestBid() float64 { return ob.bestBid.price.Load() }

// BestAsk returns the lowest ask price, 0 if the ask side is empty.
// Lock-free.
func (ob *OrderBook) BestAsk() float64 { return ob.bestAsk.price.Load() }

// BestBidQuantity returns the resting quantity at the best bid. Lock-free.
func (ob *OrderBook) BestBidQuantity() int64 { return ob.bestBid.qty.Load() }

// BestAskQuantity returns the resting quantity at the best ask. Lock-free.
func (ob *OrderBook) BestAskQuantity() int64 { return ob.bestAsk.qty.Load() }

// Spread returns ask minus bid, or NaN when either side is empty.
func (ob *OrderBook) Spread() float64 {
	bid, ask := ob.BestBid(), ob.BestAsk()
	if bid <= 0 || ask <= 0 {
		return math.NaN()
	}
	return ask - bid
}

// MidPrice returns the midpoint of the best quotes, or NaN when either side
// is empty.
func (ob *OrderBook) MidPrice() float64 {
	bid, ask := ob.BestBid(), ob.BestAsk()
	if bid <= 0 || ask <= 0 {
		return math.NaN()
	}
	return (bid + ask) / 2
}

// VWAP computes the volume-weighted average price across both sides up to
// depth levels each. Returns 0 when no quantity is present.
func (ob *OrderBook) VWAP(depth int) float64 {
	if depth <= 0 || depth > MaxDepth {
		depth = MaxDepth
	}
	ob.mu.RLock()
	defer ob.mu.RUnlock()

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

// Imbalance returns (bidQty-askQty)/(bidQty+askQty) over the best levels:
// +1 with only bids, -1 with only asks, 0 when both sides are empty.
// Lock-free.
func (ob *OrderBook) Imbalance() float64 {
	bid := ob.BestBidQuantity()
	ask := ob.BestAskQuantity()
	total := bid + ask
	if total == 0 {
		return 0
	}
	return float64(bid-ask) / float64(total)
}

// Depth returns a consistent copy of both ladders.
func (ob *OrderBook) Depth() DepthSnapshot {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return DepthSnapshot{SymbolID: ob.symbolID, Bids: ob.bids, Asks: ob.asks}
}

// OpenOrders returns the number of tracked resting orders.
func (ob *OrderBook) OpenOrders() int {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return len(ob.orders)
}

// Stats returns running counters for this book.
func (ob *OrderBook) Stats() Stats {
	return Stats{
		SymbolID:       ob.symbolID,
		Symbol:         ob.symbol,
		TotalVolume:    ob.totalVolume.Load(),
		TradeCount:     ob.tradeCount.Load(),
		LastTradePrice: ob.lastTradePrice.Load(),
		Updates:        ob.updates.Load(),
		AvgUpdateNs:    ob.avgUpdateNs.Load(),
	}
}

// UpdateLatency exposes the per-update latency tracker.
func (ob *OrderBook) UpdateLatency() *latency.Tracker { return ob.latency }

// applyLevelDelta adjusts the level at price by qtyDelta/countDelta,
// creating it when absent, and re-sorts the side. Caller holds ob.mu.
func (ob *OrderBook) applyLevelDelta(side byte, price float64, qtyDelta int64, countDelta int32, tsNs uint64) {
	lv := &ob.bids
	if side == marketdata.SideSell {
		lv = &ob.asks
	}
	tol := ob.tickSize / 2
	idx := ladderFind(lv, price, tol)
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

// publishBest mirrors slot 0 of each ladder into the atomic read path.
// Caller holds ob.mu.
func (ob *OrderBook) publishBest() {
	ob.bestBid.publish(&ob.bids)
	ob.bestAsk.publish(&ob.asks)
}

func (ob *OrderBook) recordUpdate(start time.Time) {
	elapsed := time.Since(start).Nanoseconds()
	n := ob.updates.Add(1)
	avg := ob.avgUpdateNs.Load()
	ob.avgUpdateNs.Store((avg*float64(n-1) + float64(elapsed)) / float64(n))
	ob.latency.RecordNs(elapsed)
}

func fillLadder(lv *ladder, levels []marketdata.QuoteLevel, tsNs uint64) {
	n := 0
	for i := range levels {
		if n >= MaxDepth {
			break
		}
		if levels[i].Price <= 0 || levels[i].Quantity <= 0 {
			continue
		}
		count := levels[i].OrderCount
		if count == 0 {
			count = 1
		}
		lv[n] = PriceLevel{
			Price:         levels[i].Price,
			TotalQuantity: levels[i].Quantity,
			OrderCount:    count,
			LastUpdate:    tsNs,
		}
		n++
	}
}
