// Fixed-depth price ladder primitives shared by the standard and optimized
// books. Ladders are plain arrays kept sorted in place: bids descending,
// asks ascending, empty slots trailing.

package orderbook

import (
	"math"
	"sort"
	"sync/atomic"

	"github.com/mkv4540/goldearn-hft-sub000/internal/marketdata"
)

// MaxDepth is the number of price levels maintained per side.
const MaxDepth = 20

// PriceLevel is one aggregated level of a ladder. TotalQuantity <= 0 marks
// the slot as logically empty.
type PriceLevel struct {
	Price         float64
	TotalQuantity int64
	OrderCount    uint32
	LastUpdate    uint64
}

func (pl *PriceLevel) empty() bool { return pl.TotalQuantity <= 0 }

type ladder = [MaxDepth]PriceLevel

// ladderFind returns the index of the level whose price matches within
// tol, or -1. Only non-empty slots match.
func ladderFind(lv *ladder, price, tol float64) int {
	for i := range lv {
		if !lv[i].empty() && math.Abs(lv[i].Price-price) <= tol {
			return i
		}
	}
	return -1
}

// ladderSort restores the side ordering invariant: non-empty levels first
// (bids by descending price, asks by ascending), empty slots trailing.
// Slots that decayed to zero quantity are wiped before sorting so stale
// prices never linger.
func ladderSort(lv *ladder, side byte) {
	for i := range lv {
		if lv[i].empty() && lv[i].Price != 0 {
			lv[i] = PriceLevel{}
		}
	}
	sort.SliceStable(lv[:], func(i, j int) bool {
		li, lj := &lv[i], &lv[j]
		if li.empty() != lj.empty() {
			return !li.empty()
		}
		if li.empty() {
			return false
		}
		if side == marketdata.SideBuy {
			return li.Price > lj.Price
		}
		return li.Price < lj.Price
	})
}

// ladderInsert places a new level into an already-sorted ladder, shifting
// lower-priority levels down and dropping whatever falls off the end.
func ladderInsert(lv *ladder, side byte, level PriceLevel) {
	pos := MaxDepth
	for i := range lv {
		if lv[i].empty() {
			pos = i
			break
		}
		if side == marketdata.SideBuy && level.Price > lv[i].Price {
			pos = i
			break
		}
		if side == marketdata.SideSell && level.Price < lv[i].Price {
			pos = i
			break
		}
	}
	if pos >= MaxDepth {
		return
	}
	copy(lv[pos+1:], lv[pos:MaxDepth-1])
	lv[pos] = level
}

func ladderClear(lv *ladder) {
	*lv = ladder{}
}

// atomicFloat64 publishes a float64 through its IEEE-754 bit pattern so
// readers never block. Same technique the position ledger uses for its
// atomic decimals.
type atomicFloat64 struct {
	bits atomic.Uint64
}

func (a *atomicFloat64) Load() float64 {
	return math.Float64frombits(a.bits.Load())
}

func (a *atomicFloat64) Store(f float64) {
	a.bits.Store(math.Float64bits(f))
}

// bestQuote mirrors ladder slot 0 into the lock-free read path.
type bestQuote struct {
	price atomicFloat64
	qty   atomic.Int64
}

func (b *bestQuote) publish(lv *ladder) {
	if lv[0].empty() {
		b.price.Store(0)
		b.qty.Store(0)
		return
	}
	b.qty.Store(lv[0].TotalQuantity)
	b.price.Store(lv[0].Price)
}
