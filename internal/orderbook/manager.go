// Symbol registry and batch dispatch over per-instrument books.
//
// The RWMutex guards the registry structure only; the books keep their own
// concurrency discipline, so batch dispatch holds the read lock while
// individual books take their internal locks.

package orderbook

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tidwall/btree"
	"go.uber.org/zap"

	"github.com/mkv4540/goldearn-hft-sub000/internal/marketdata"
	"github.com/mkv4540/goldearn-hft-sub000/pkg/metrics"
)

// Counter children resolved once so batch dispatch never pays a label
// lookup.
var (
	quoteUpdates = metrics.BookUpdates.WithLabelValues("quote")
	tradeUpdates = metrics.BookUpdates.WithLabelValues("trade")
	orderUpdates = metrics.BookUpdates.WithLabelValues("order_update")
)

// observeBatch publishes dispatch counts and the per-message latency for
// one batch.
func observeBatch(c prometheus.Counter, dispatched int, start time.Time) {
	if dispatched == 0 {
		return
	}
	c.Add(float64(dispatched))
	metrics.BookUpdateLatency.Observe(time.Since(start).Seconds() / float64(dispatched))
}

// Manager routes decoded market data to standard books by symbol ID.
type Manager struct {
	mu      sync.RWMutex
	books   btree.Map[uint32, *OrderBook]
	updates atomic.Uint64
	skipped atomic.Uint64
	log     *zap.Logger
}

// ManagerStats aggregates registry-wide counters.
type ManagerStats struct {
	Symbols     int
	Updates     uint64
	Skipped     uint64
	TotalVolume int64
	TradeCount  uint64
}

// NewManager creates an empty registry.
func NewManager(log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{log: log}
}

// AddSymbol registers a book for the symbol. Returns false if one already
// exists.
func (m *Manager) AddSymbol(symbolID uint32, symbol string, tickSize float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.books.Get(symbolID); exists {
		return false
	}
	m.books.Set(symbolID, NewOrderBook(symbolID, symbol, tickSize))
	m.log.Info("symbol registered",
		zap.Uint32("symbol_id", symbolID),
		zap.String("symbol", symbol),
		zap.Float64("tick_size", tickSize))
	return true
}

// RemoveSymbol drops the symbol's book. Returns false if absent.
func (m *Manager) RemoveSymbol(symbolID uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, removed := m.books.Delete(symbolID)
	return removed
}

// Book returns the book for a symbol, or nil.
func (m *Manager) Book(symbolID uint32) *OrderBook {
	m.mu.RLock()
	defer m.mu.RUnlock()
	book, _ := m.books.Get(symbolID)
	return book
}

// Symbols returns the registered symbol IDs in ascending order.
func (m *Manager) Symbols() []uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]uint32, 0, m.books.Len())
	m.books.Scan(func(id uint32, _ *OrderBook) bool {
		ids = append(ids, id)
		return true
	})
	return ids
}

// ProcessQuoteBatch dispatches depth snapshots to their books, skipping
// messages whose symbol has no registered book.
func (m *Manager) ProcessQuoteBatch(quotes []marketdata.QuoteMessage) {
	start := time.Now()
	dispatched := 0
	m.mu.RLock()
	for i := range quotes {
		book, ok := m.books.Get(quotes[i].SymbolID)
		if !ok {
			m.skipped.Add(1)
			continue
		}
		book.UpdateQuote(&quotes[i])
		m.updates.Add(1)
		dispatched++
	}
	m.mu.RUnlock()
	observeBatch(quoteUpdates, dispatched, start)
}

// ProcessTradeBatch dispatches trades to their books, skipping unknown
// symbols.
func (m *Manager) ProcessTradeBatch(trades []marketdata.TradeMessage) {
	start := time.Now()
	dispatched := 0
	m.mu.RLock()
	for i := range trades {
		book, ok := m.books.Get(trades[i].SymbolID)
		if !ok {
			m.skipped.Add(1)
			continue
		}
		book.UpdateTrade(trades[i].Price, trades[i].Quantity, trades[i].Header.TimestampNs)
		m.updates.Add(1)
		dispatched++
	}
	m.mu.RUnlock()
	observeBatch(tradeUpdates, dispatched, start)
}

// ProcessOrderUpdateBatch dispatches market-by-order events, skipping
// unknown symbols.
func (m *Manager) ProcessOrderUpdateBatch(updates []marketdata.OrderUpdateMessage) {
	start := time.Now()
	dispatched := 0
	m.mu.RLock()
	for i := range updates {
		book, ok := m.books.Get(updates[i].SymbolID)
		if !ok {
			m.skipped.Add(1)
			continue
		}
		book.ApplyOrderUpdate(&updates[i])
		m.updates.Add(1)
		dispatched++
	}
	m.mu.RUnlock()
	observeBatch(orderUpdates, dispatched, start)
}

// Stats aggregates counters across every registered book.
func (m *Manager) Stats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := ManagerStats{
		Symbols: m.books.Len(),
		Updates: m.updates.Load(),
		Skipped: m.skipped.Load(),
	}
	m.books.Scan(func(_ uint32, book *OrderBook) bool {
		bs := book.Stats()
		st.TotalVolume += bs.TotalVolume
		st.TradeCount += bs.TradeCount
		return true
	})
	return st
}

// OptimizedManager routes decoded market data to optimized books.
type OptimizedManager struct {
	mu       sync.RWMutex
	books    btree.Map[uint32, *OptimizedOrderBook]
	updates  atomic.Uint64
	skipped  atomic.Uint64
	capacity int
	log      *zap.Logger
}

// NewOptimizedManager creates a registry whose books are built with the
// given order-pool capacity; capacity <= 0 selects the default.
func NewOptimizedManager(capacity int, log *zap.Logger) *OptimizedManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &OptimizedManager{capacity: capacity, log: log}
}

// AddSymbol registers an optimized book for the symbol.
func (m *OptimizedManager) AddSymbol(symbolID uint32, symbol string, tickSize float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.books.Get(symbolID); exists {
		return false
	}
	m.books.Set(symbolID, NewOptimizedOrderBook(symbolID, symbol, tickSize, m.capacity))
	m.log.Info("symbol registered",
		zap.Uint32("symbol_id", symbolID),
		zap.String("symbol", symbol),
		zap.Float64("tick_size", tickSize))
	return true
}

// RemoveSymbol drops the symbol's book.
func (m *OptimizedManager) RemoveSymbol(symbolID uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, removed := m.books.Delete(symbolID)
	return removed
}

// Book returns the optimized book for a symbol, or nil.
func (m *OptimizedManager) Book(symbolID uint32) *OptimizedOrderBook {
	m.mu.RLock()
	defer m.mu.RUnlock()
	book, _ := m.books.Get(symbolID)
	return book
}

// Universe returns every registered book in ascending symbol order, for
// batch analytics.
func (m *OptimizedManager) Universe() []*OptimizedOrderBook {
	m.mu.RLock()
	defer m.mu.RUnlock()
	books := make([]*OptimizedOrderBook, 0, m.books.Len())
	m.books.Scan(func(_ uint32, book *OptimizedOrderBook) bool {
		books = append(books, book)
		return true
	})
	return books
}

// ProcessQuoteBatch dispatches depth snapshots, skipping unknown symbols.
func (m *OptimizedManager) ProcessQuoteBatch(quotes []marketdata.QuoteMessage) {
	start := time.Now()
	dispatched := 0
	m.mu.RLock()
	for i := range quotes {
		book, ok := m.books.Get(quotes[i].SymbolID)
		if !ok {
			m.skipped.Add(1)
			continue
		}
		book.UpdateQuote(&quotes[i])
		m.updates.Add(1)
		dispatched++
	}
	m.mu.RUnlock()
	observeBatch(quoteUpdates, dispatched, start)
}

// ProcessTradeBatch dispatches trades, skipping unknown symbols.
func (m *OptimizedManager) ProcessTradeBatch(trades []marketdata.TradeMessage) {
	start := time.Now()
	dispatched := 0
	m.mu.RLock()
	for i := range trades {
		book, ok := m.books.Get(trades[i].SymbolID)
		if !ok {
			m.skipped.Add(1)
			continue
		}
		book.UpdateTrade(trades[i].Price, trades[i].Quantity, trades[i].Header.TimestampNs)
		m.updates.Add(1)
		dispatched++
	}
	m.mu.RUnlock()
	observeBatch(tradeUpdates, dispatched, start)
}

// ProcessOrderUpdateBatch dispatches market-by-order events, skipping
// unknown symbols.
func (m *OptimizedManager) ProcessOrderUpdateBatch(updates []marketdata.OrderUpdateMessage) {
	start := time.Now()
	dispatched := 0
	m.mu.RLock()
	for i := range updates {
		book, ok := m.books.Get(updates[i].SymbolID)
		if !ok {
			m.skipped.Add(1)
			continue
		}
		book.ApplyOrderUpdate(&updates[i])
		m.updates.Add(1)
		dispatched++
	}
	m.mu.RUnlock()
	observeBatch(orderUpdates, dispatched, start)
}

// Stats aggregates counters across every registered book.
func (m *OptimizedManager) Stats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := ManagerStats{
		Symbols: m.books.Len(),
		Updates: m.updates.Load(),
		Skipped: m.skipped.Load(),
	}
	m.books.Scan(func(_ uint32, book *OptimizedOrderBook) bool {
		bs := book.Stats()
		st.TotalVolume += bs.TotalVolume
		st.TradeCount += bs.TradeCount
		return true
	})
	return st
}
