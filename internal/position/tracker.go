// Position ledger with portfolio and strategy aggregation.
//
// Ledger arithmetic (average cost, realized P&L) uses decimals so repeated
// fills never accumulate float drift; statistical risk math (VaR,
// volatility) stays in float64. The positions map, strategy metrics and
// price cache each carry their own RWMutex, so a mark-to-market tick
// never waits on a fill being booked into a different map.

package position

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mkv4540/goldearn-hft-sub000/internal/latency"
	"github.com/mkv4540/goldearn-hft-sub000/internal/marketdata"
)

// Fixed correlation adjustment applied to the summed per-position
// variances in place of a full covariance matrix.
const correlationAdjustment = 1.2

// Risk metric stubs until the analytics feed supplies real values.
const (
	defaultVolatility = 0.20
	defaultBeta       = 1.0
	defaultSector     = "UNKNOWN"
)

// Position is one symbol's ledger entry. Quantity is signed: positive
// long, negative short. Records persist after the quantity decays to zero
// so historical P&L survives.
type Position struct {
	SymbolID      uint32
	Symbol        string
	StrategyID    string
	Quantity      decimal.Decimal
	AvgCost       decimal.Decimal
	CurrentPrice  float64
	RealizedPnL   decimal.Decimal
	UnrealizedPnL decimal.Decimal
	PositionVaR1D float64
	Volatility    float64
	Beta          float64
	Sector        string
	LastUpdate    time.Time
}

// StrategyMetrics aggregates the positions tagged with one strategy.
type StrategyMetrics struct {
	StrategyID    string
	GrossExposure float64
	NetExposure   float64
	RealizedPnL   decimal.Decimal
	UnrealizedPnL decimal.Decimal
	VaR1D         float64
	Positions     int
	LastUpdate    time.Time
}

// PortfolioMetrics is a point-in-time portfolio summary.
type PortfolioMetrics struct {
	GrossExposure float64
	NetExposure   float64
	RealizedPnL   decimal.Decimal
	UnrealizedPnL decimal.Decimal
	VaR1D         float64
	Positions     int
	UpdatedAt     time.Time
}

// Limits bounds the portfolio; zero values disable a check.
type Limits struct {
	MaxGrossExposure float64
	MaxPortfolioVaR  float64
	SymbolLimits     map[string]float64
}

// ViolationKind classifies a limit breach.
type ViolationKind int

const (
	ViolationGrossExposure ViolationKind = iota
	ViolationPortfolioVaR
	ViolationSymbolExposure
)

func (k ViolationKind) String() string {
	switch k {
	case ViolationGrossExposure:
		return "GROSS_EXPOSURE"
	case ViolationPortfolioVaR:
		return "PORTFOLIO_VAR"
	case ViolationSymbolExposure:
		return "SYMBOL_EXPOSURE"
	}
	return "UNKNOWN"
}

// LimitViolation is a structured limit breach, formatted on demand for
// operator display.
type LimitViolation struct {
	Kind     ViolationKind
	Symbol   string
	Limit    float64
	Observed float64
	When     time.Time
}

func (v LimitViolation) String() string {
	if v.Symbol != "" {
		return fmt.Sprintf("%s %s: observed %.2f, limit %.2f", v.Kind, v.Symbol, v.Observed, v.Limit)
	}
	return fmt.Sprintf("%s: observed %.2f, limit %.2f", v.Kind, v.Observed, v.Limit)
}

// Tracker owns every Position record. Fills and price ticks mutate it;
// the risk engine reads it during pre-trade checks.
type Tracker struct {
	mu        sync.RWMutex
	positions map[uint32]*Position

	strategyMu sync.RWMutex
	strategies map[string]*StrategyMetrics

	priceMu sync.RWMutex
	prices  map[uint32]float64

	limits  atomic.Pointer[Limits]
	latency *latency.Tracker
	log     *zap.Logger

	running atomic.Bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewTracker creates an empty ledger.
func NewTracker(limits Limits, log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	t := &Tracker{
		positions:  make(map[uint32]*Position),
		strategies: make(map[string]*StrategyMetrics),
		prices:     make(map[uint32]float64),
		latency:    latency.NewTracker(0),
		log:        log,
	}
	t.limits.Store(&limits)
	return t
}

// SetLimits replaces the limit set wholesale.
func (t *Tracker) SetLimits(limits Limits) {
	t.limits.Store(&limits)
}

// UpdatePosition books a fill into the ledger.
//
// Same-sign fills blend the average cost. Opposite-sign fills realize
// P&L on the closed quantity and may flip the position through zero into
// the other side in a single call, in which case the new leg's average
// cost is the fill price.
func (t *Tracker) UpdatePosition(fill *marketdata.Fill) {
	if fill == nil || fill.Quantity.Sign() <= 0 || fill.Price.Sign() <= 0 {
		return
	}
	start := time.Now()
	signed := fill.SignedQuantity()
	priceF, _ := fill.Price.Float64()

	t.mu.Lock()
	p, ok := t.positions[fill.SymbolID]
	if !ok {
		p = &Position{
			SymbolID:   fill.SymbolID,
			Symbol:     fill.Symbol,
			StrategyID: fill.StrategyID,
			AvgCost:    fill.Price,
			Quantity:   signed,
		}
		t.positions[fill.SymbolID] = p
	} else {
		p.StrategyID = fill.StrategyID
		old := p.Quantity
		switch {
		case old.IsZero():
			p.Quantity = signed
			p.AvgCost = fill.Price
		case old.Sign() == signed.Sign():
			newQty := old.Add(signed)
			notional := old.Abs().Mul(p.AvgCost).Add(signed.Abs().Mul(fill.Price))
			p.AvgCost = notional.Div(newQty.Abs())
			p.Quantity = newQty
		default:
			closed := decimal.Min(old.Abs(), signed.Abs())
			pnl := closed.Mul(fill.Price.Sub(p.AvgCost))
			if old.Sign() < 0 {
				pnl = pnl.Neg()
			}
			p.RealizedPnL = p.RealizedPnL.Add(pnl)
			newQty := old.Add(signed)
			if newQty.Sign() != 0 && newQty.Sign() != old.Sign() {
				// Flipped through zero; the surviving leg opened at the
				// fill price.
				p.AvgCost = fill.Price
			}
			p.Quantity = newQty
		}
	}
	p.LastUpdate = fill.FillTime
	t.refreshRiskMetrics(p, priceF)
	strategyID := p.StrategyID
	t.mu.Unlock()

	t.priceMu.Lock()
	t.prices[fill.SymbolID] = priceF
	t.priceMu.Unlock()

	t.refreshStrategy(strategyID)
	t.latency.Record(time.Since(start))
}

// MarkToMarket applies a market-data price tick to one symbol.
func (t *Tracker) MarkToMarket(symbolID uint32, price float64) {
	if price <= 0 {
		return
	}
	t.priceMu.Lock()
	t.prices[symbolID] = price
	t.priceMu.Unlock()

	t.mu.Lock()
	p, ok := t.positions[symbolID]
	var strategyID string
	if ok {
		t.refreshRiskMetrics(p, price)
		p.LastUpdate = time.Now()
		strategyID = p.StrategyID
	}
	t.mu.Unlock()
	if ok {
		t.refreshStrategy(strategyID)
	}
}

// MarkAllToMarket re-prices every position from the price cache.
func (t *Tracker) MarkAllToMarket() {
	t.priceMu.RLock()
	prices := make(map[uint32]float64, len(t.prices))
	for id, px := range t.prices {
		prices[id] = px
	}
	t.priceMu.RUnlock()

	t.mu.Lock()
	for id, p := range t.positions {
		if px, ok := prices[id]; ok {
			t.refreshRiskMetrics(p, px)
		}
	}
	t.mu.Unlock()
	t.refreshAllStrategies()
}

// Position returns a copy of one ledger entry.
func (t *Tracker) Position(symbolID uint32) (Position, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.positions[symbolID]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// Positions returns copies of every ledger entry.
func (t *Tracker) Positions() []Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Position, 0, len(t.positions))
	for _, p := range t.positions {
		out = append(out, *p)
	}
	return out
}

// Strategy returns a copy of one strategy's aggregate metrics.
func (t *Tracker) Strategy(strategyID string) (StrategyMetrics, bool) {
	t.strategyMu.RLock()
	defer t.strategyMu.RUnlock()
	sm, ok := t.strategies[strategyID]
	if !ok {
		return StrategyMetrics{}, false
	}
	return *sm, true
}

// GrossExposure returns the sum of absolute position notionals.
func (t *Tracker) GrossExposure() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var gross float64
	for _, p := range t.positions {
		gross += math.Abs(t.notional(p))
	}
	return gross
}

// NetExposure returns the signed sum of position notionals.
func (t *Tracker) NetExposure() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var net float64
	for _, p := range t.positions {
		net += t.notional(p)
	}
	return net
}

// PortfolioVaR estimates value at risk over the horizon. Per-position
// variances (notional x volatility)^2 are summed, scaled by the flat
// correlation adjustment, and the square root is stretched by the
// confidence z-score and sqrt(days).
func (t *Tracker) PortfolioVaR(days int, confidence float64) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var sumVar float64
	for _, p := range t.positions {
		if p.Quantity.IsZero() {
			continue
		}
		term := math.Abs(t.notional(p)) * p.Volatility
		sumVar += term * term
	}
	return varFromVariance(sumVar, days, confidence)
}

// StrategyVaR restricts the VaR sum to positions tagged with strategyID.
func (t *Tracker) StrategyVaR(strategyID string, days int, confidence float64) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var sumVar float64
	for _, p := range t.positions {
		if p.Quantity.IsZero() || p.StrategyID != strategyID {
			continue
		}
		term := math.Abs(t.notional(p)) * p.Volatility
		sumVar += term * term
	}
	return varFromVariance(sumVar, days, confidence)
}

// PortfolioMetrics summarizes the whole book.
func (t *Tracker) PortfolioMetrics() PortfolioMetrics {
	t.mu.RLock()
	pm := PortfolioMetrics{UpdatedAt: time.Now()}
	var sumVar float64
	for _, p := range t.positions {
		n := t.notional(p)
		pm.GrossExposure += math.Abs(n)
		pm.NetExposure += n
		pm.RealizedPnL = pm.RealizedPnL.Add(p.RealizedPnL)
		pm.UnrealizedPnL = pm.UnrealizedPnL.Add(p.UnrealizedPnL)
		if !p.Quantity.IsZero() {
			pm.Positions++
			term := math.Abs(n) * p.Volatility
			sumVar += term * term
		}
	}
	t.mu.RUnlock()
	pm.VaR1D = varFromVariance(sumVar, 1, 0.95)
	return pm
}

// CheckLimitViolations compares the live book against the configured
// limits and returns every breach.
func (t *Tracker) CheckLimitViolations() []LimitViolation {
	limits := t.limits.Load()
	now := time.Now()
	var out []LimitViolation

	pm := t.PortfolioMetrics()
	if limits.MaxGrossExposure > 0 && pm.GrossExposure > limits.MaxGrossExposure {
		out = append(out, LimitViolation{
			Kind: ViolationGrossExposure, Limit: limits.MaxGrossExposure,
			Observed: pm.GrossExposure, When: now,
		})
	}
	if limits.MaxPortfolioVaR > 0 && pm.VaR1D > limits.MaxPortfolioVaR {
		out = append(out, LimitViolation{
			Kind: ViolationPortfolioVaR, Limit: limits.MaxPortfolioVaR,
			Observed: pm.VaR1D, When: now,
		})
	}

	if len(limits.SymbolLimits) > 0 {
		t.mu.RLock()
		for _, p := range t.positions {
			max, ok := limits.SymbolLimits[p.Symbol]
			if !ok || max <= 0 {
				continue
			}
			if exp := math.Abs(t.notional(p)); exp > max {
				out = append(out, LimitViolation{
					Kind: ViolationSymbolExposure, Symbol: p.Symbol,
					Limit: max, Observed: exp, When: now,
				})
			}
		}
		t.mu.RUnlock()
	}
	return out
}

// StressTest returns the portfolio P&L impact of a uniform price shock,
// e.g. -0.10 for a 10% drop.
func (t *Tracker) StressTest(shock float64) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var impact float64
	for _, p := range t.positions {
		impact += t.notional(p) * shock
	}
	return impact
}

// RunStressScenarios evaluates the standard shock ladder.
func (t *Tracker) RunStressScenarios() map[string]float64 {
	scenarios := map[string]float64{
		"down_20pct": -0.20,
		"down_10pct": -0.10,
		"down_5pct":  -0.05,
		"up_5pct":    0.05,
		"up_10pct":   0.10,
		"up_20pct":   0.20,
	}
	out := make(map[string]float64, len(scenarios))
	for name, shock := range scenarios {
		out[name] = t.StressTest(shock)
	}
	return out
}

// UpdateLatency exposes the fill-processing latency tracker.
func (t *Tracker) UpdateLatency() *latency.Tracker { return t.latency }

// StartPerformanceTracking launches the background loop that marks every
// position to market and refreshes strategy metrics each interval.
// interval <= 0 selects 5 seconds.
func (t *Tracker) StartPerformanceTracking(interval time.Duration) {
	if !t.running.CompareAndSwap(false, true) {
		return
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	t.stop = make(chan struct{})
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.MarkAllToMarket()
			case <-t.stop:
				return
			}
		}
	}()
	t.log.Info("position performance tracking started", zap.Duration("interval", interval))
}

// Stop halts the background loop and blocks until it exits.
func (t *Tracker) Stop() {
	if !t.running.CompareAndSwap(true, false) {
		return
	}
	close(t.stop)
	t.wg.Wait()
	t.log.Info("position performance tracking stopped")
}

// notional returns the signed market value of a position. Caller holds a
// read lock on t.mu.
func (t *Tracker) notional(p *Position) float64 {
	qty, _ := p.Quantity.Float64()
	price := p.CurrentPrice
	if price <= 0 {
		price, _ = p.AvgCost.Float64()
	}
	return qty * price
}

// refreshRiskMetrics re-prices one position and recomputes its risk
// figures. Caller holds t.mu.
func (t *Tracker) refreshRiskMetrics(p *Position, price float64) {
	p.CurrentPrice = price
	p.Volatility = defaultVolatility
	p.Beta = defaultBeta
	if p.Sector == "" {
		p.Sector = defaultSector
	}
	p.UnrealizedPnL = p.Quantity.Mul(decimal.NewFromFloat(price).Sub(p.AvgCost))
	notional := math.Abs(t.notional(p))
	p.PositionVaR1D = notional * p.Volatility * zScore(0.95)
}

func (t *Tracker) refreshStrategy(strategyID string) {
	if strategyID == "" {
		return
	}
	sm := StrategyMetrics{StrategyID: strategyID, LastUpdate: time.Now()}
	var sumVar float64

	t.mu.RLock()
	for _, p := range t.positions {
		if p.StrategyID != strategyID {
			continue
		}
		n := t.notional(p)
		sm.GrossExposure += math.Abs(n)
		sm.NetExposure += n
		sm.RealizedPnL = sm.RealizedPnL.Add(p.RealizedPnL)
		sm.UnrealizedPnL = sm.UnrealizedPnL.Add(p.UnrealizedPnL)
		if !p.Quantity.IsZero() {
			sm.Positions++
			term := math.Abs(n) * p.Volatility
			sumVar += term * term
		}
	}
	t.mu.RUnlock()
	sm.VaR1D = varFromVariance(sumVar, 1, 0.95)

	t.strategyMu.Lock()
	t.strategies[strategyID] = &sm
	t.strategyMu.Unlock()
}

func (t *Tracker) refreshAllStrategies() {
	t.mu.RLock()
	ids := make(map[string]struct{})
	for _, p := range t.positions {
		if p.StrategyID != "" {
			ids[p.StrategyID] = struct{}{}
		}
	}
	t.mu.RUnlock()
	for id := range ids {
		t.refreshStrategy(id)
	}
}

func varFromVariance(sumVar float64, days int, confidence float64) float64 {
	if sumVar <= 0 || days <= 0 {
		return 0
	}
	std := math.Sqrt(sumVar * correlationAdjustment)
	return std * zScore(confidence) * math.Sqrt(float64(days))
}

// zScore maps a confidence level to its one-tailed normal quantile.
// Accepts either fractional (0.95) or percentage (95) form; unrecognised
// levels fall back to 95%.
func zScore(confidence float64) float64 {
	if confidence > 1 {
		confidence /= 100
	}
	switch {
	case confidence >= 0.99:
		return 2.326
	case confidence >= 0.95:
		return 1.645
	default:
		return 1.645
	}
}
