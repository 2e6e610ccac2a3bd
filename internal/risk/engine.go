// Pre-trade risk engine.
//
// Checks run in a fixed order and short-circuit on the first rejection,
// so callers always learn the earliest limit an order tripped. Every
// degraded condition is a returned code, never a panic: predictable tail
// latency matters more here than rich error context.

package risk

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/mkv4540/goldearn-hft-sub000/internal/latency"
	"github.com/mkv4540/goldearn-hft-sub000/internal/position"
	"github.com/mkv4540/goldearn-hft-sub000/pkg/metrics"
)

// CheckResult is the outcome of a pre-trade check. The specific rejection
// code is load-bearing for callers, which branch on why an order was
// blocked.
type CheckResult uint8

const (
	Approved CheckResult = iota
	RejectedPositionLimit
	RejectedOrderSize
	RejectedPriceLimit
	RejectedExposureLimit
	RejectedVaRLimit
	RejectedRateLimit
	RejectedBlacklist
	RejectedCircuitBreaker
	RejectedSystemError

	numCheckResults = int(RejectedSystemError) + 1
)

func (r CheckResult) String() string {
	switch r {
	case Approved:
		return "APPROVED"
	case RejectedPositionLimit:
		return "REJECTED_POSITION_LIMIT"
	case RejectedOrderSize:
		return "REJECTED_ORDER_SIZE"
	case RejectedPriceLimit:
		return "REJECTED_PRICE_LIMIT"
	case RejectedExposureLimit:
		return "REJECTED_EXPOSURE_LIMIT"
	case RejectedVaRLimit:
		return "REJECTED_VAR_LIMIT"
	case RejectedRateLimit:
		return "REJECTED_RATE_LIMIT"
	case RejectedBlacklist:
		return "REJECTED_BLACKLIST"
	case RejectedCircuitBreaker:
		return "REJECTED_CIRCUIT_BREAKER"
	case RejectedSystemError:
		return "REJECTED_SYSTEM_ERROR"
	}
	return "UNKNOWN"
}

// OrderContext carries everything the check pipeline needs about a
// candidate order.
type OrderContext struct {
	SymbolID   uint32
	Symbol     string
	StrategyID string
	Side       byte
	Price      float64
	Quantity   int64
}

// Notional returns price x quantity.
func (c *OrderContext) Notional() float64 {
	return c.Price * float64(c.Quantity)
}

func (c *OrderContext) signedQuantity() int64 {
	if c.Side == 'S' {
		return -c.Quantity
	}
	return c.Quantity
}

// Severity grades a recorded violation.
type Severity uint8

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityCritical:
		return "CRITICAL"
	}
	return "UNKNOWN"
}

// Violation is an append-only monitoring record. It never interrupts
// control flow.
type Violation struct {
	ID          uuid.UUID
	Type        string
	Severity    Severity
	Description string
	Timestamp   time.Time
}

// ViolationCallback receives violations synchronously as they are
// recorded. A slow callback stalls the recording path; keep it cheap.
type ViolationCallback func(Violation)

// PositionSource is the read surface the engine needs from the position
// ledger. The engine does not own the ledger's lifecycle.
type PositionSource interface {
	Position(symbolID uint32) (position.Position, bool)
	GrossExposure() float64
	PortfolioVaR(days int, confidence float64) float64
	StrategyVaR(strategyID string, days int, confidence float64) float64
	CheckLimitViolations() []position.LimitViolation
}

// Marginal VaR contribution of an incremental notional on the pre-trade
// path: stubbed volatility at the 95% one-day quantile.
const (
	incrementalVol = 0.20
	z95            = 1.645
)

const violationRetention = 24 * time.Hour

// Engine runs the pre-trade check pipeline.
type Engine struct {
	limits      atomic.Pointer[Limits]
	positions   PositionSource
	initialized atomic.Bool

	blacklistMu       sync.RWMutex
	symbolBlacklist   map[string]struct{}
	strategyBlacklist map[string]struct{}

	violationMu sync.RWMutex
	violations  []Violation
	callback    ViolationCallback

	breakerActive atomic.Bool
	breakerMu     sync.Mutex
	breakerReason string

	// Counting window for the per-second rate limit.
	windowSec   atomic.Int64
	windowCount atomic.Int64

	checksTotal   atomic.Uint64
	checksBlocked atomic.Uint64
	// Counter children resolved once at construction so the hot path
	// never performs a label lookup.
	resultCounters [numCheckResults]prometheus.Counter
	latency        *latency.Tracker
	log            *zap.Logger

	running atomic.Bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// Stats summarizes engine activity since construction.
type Stats struct {
	ChecksTotal   uint64
	ChecksBlocked uint64
	Violations    int
	BreakerActive bool
	CheckLatency  latency.Stats
}

// NewEngine builds an engine over an externally owned position ledger.
// A nil ledger leaves the engine uninitialized: every check returns
// RejectedSystemError until SetPositionSource supplies one.
func NewEngine(limits Limits, positions PositionSource, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		positions:         positions,
		symbolBlacklist:   make(map[string]struct{}),
		strategyBlacklist: make(map[string]struct{}),
		latency:           latency.NewTracker(0),
		log:               log,
	}
	e.limits.Store(&limits)
	e.initialized.Store(positions != nil)
	for i := range e.resultCounters {
		e.resultCounters[i] = metrics.RiskChecks.WithLabelValues(CheckResult(i).String())
	}
	return e
}

// SetPositionSource wires the position ledger after construction.
func (e *Engine) SetPositionSource(positions PositionSource) {
	e.positions = positions
	e.initialized.Store(positions != nil)
}

// SetLimits replaces the active limit set wholesale.
func (e *Engine) SetLimits(limits Limits) error {
	if err := limits.Validate(); err != nil {
		return err
	}
	e.limits.Store(&limits)
	e.log.Info("risk limits replaced",
		zap.Float64("max_order_value", limits.MaxOrderValue),
		zap.Float64("max_gross_exposure", limits.MaxGrossExposure),
		zap.Float64("max_var_1d", limits.MaxVaR1D))
	return nil
}

// Limits returns the active limit set.
func (e *Engine) Limits() Limits {
	return *e.limits.Load()
}

// CheckPreTradeRisk runs the full ordered pipeline: position limits,
// order size/value, price limits, exposure, VaR, rate, blacklist,
// circuit breaker. The first rejection wins. Check latency is recorded
// only for approved orders.
func (e *Engine) CheckPreTradeRisk(ctx *OrderContext) CheckResult {
	e.checksTotal.Add(1)
	if !e.initialized.Load() || ctx == nil {
		return e.blocked(RejectedSystemError)
	}
	start := time.Now()
	limits := e.limits.Load()

	if r := e.checkPositionLimits(ctx, limits); r != Approved {
		return e.blocked(r)
	}
	if r := e.checkOrderSize(ctx, limits); r != Approved {
		return e.blocked(r)
	}
	if r := e.checkPriceLimits(ctx, limits); r != Approved {
		return e.blocked(r)
	}
	if r := e.checkExposureLimits(ctx, limits); r != Approved {
		return e.blocked(r)
	}
	if r := e.checkVaRLimits(ctx, limits); r != Approved {
		return e.blocked(r)
	}
	if r := e.checkRateLimits(limits); r != Approved {
		return e.blocked(r)
	}
	if r := e.checkBlacklist(ctx); r != Approved {
		return e.blocked(r)
	}
	if r := e.checkCircuitBreakers(); r != Approved {
		return e.blocked(r)
	}

	e.latency.Record(time.Since(start))
	e.resultCounters[Approved].Inc()
	return Approved
}

// QuickPreTradeCheck is the reduced fast path: order value, symbol
// blacklist, circuit breaker. Position and VaR context is assumed
// pre-validated upstream.
func (e *Engine) QuickPreTradeCheck(ctx *OrderContext) CheckResult {
	e.checksTotal.Add(1)
	if !e.initialized.Load() || ctx == nil {
		return e.blocked(RejectedSystemError)
	}
	limits := e.limits.Load()

	if limits.MaxOrderValue > 0 && ctx.Notional() > limits.MaxOrderValue {
		return e.blocked(RejectedOrderSize)
	}
	e.blacklistMu.RLock()
	_, banned := e.symbolBlacklist[ctx.Symbol]
	e.blacklistMu.RUnlock()
	if banned {
		return e.blocked(RejectedBlacklist)
	}
	if e.breakerActive.Load() {
		return e.blocked(RejectedCircuitBreaker)
	}
	e.resultCounters[Approved].Inc()
	return Approved
}

func (e *Engine) blocked(r CheckResult) CheckResult {
	e.checksBlocked.Add(1)
	e.resultCounters[r].Inc()
	return r
}

func (e *Engine) checkPositionLimits(ctx *OrderContext, limits *Limits) CheckResult {
	if limits.MaxPositionSize <= 0 {
		return Approved
	}
	var current float64
	if p, ok := e.positions.Position(ctx.SymbolID); ok {
		current, _ = p.Quantity.Float64()
	}
	projected := math.Abs(current + float64(ctx.signedQuantity()))
	if projected > float64(limits.MaxPositionSize) {
		return RejectedPositionLimit
	}
	return Approved
}

func (e *Engine) checkOrderSize(ctx *OrderContext, limits *Limits) CheckResult {
	if ctx.Quantity <= 0 {
		return RejectedOrderSize
	}
	if limits.MaxOrderQuantity > 0 && ctx.Quantity > limits.MaxOrderQuantity {
		return RejectedOrderSize
	}
	if limits.MaxOrderValue > 0 && ctx.Notional() > limits.MaxOrderValue {
		return RejectedOrderSize
	}
	return Approved
}

func (e *Engine) checkPriceLimits(ctx *OrderContext, limits *Limits) CheckResult {
	if ctx.Price <= 0 {
		return RejectedPriceLimit
	}
	if limits.MinOrderPrice > 0 && ctx.Price < limits.MinOrderPrice {
		return RejectedPriceLimit
	}
	if limits.MaxOrderPrice > 0 && ctx.Price > limits.MaxOrderPrice {
		return RejectedPriceLimit
	}
	return Approved
}

func (e *Engine) checkExposureLimits(ctx *OrderContext, limits *Limits) CheckResult {
	if limits.MaxGrossExposure <= 0 {
		return Approved
	}
	if e.positions.GrossExposure()+math.Abs(ctx.Notional()) > limits.MaxGrossExposure {
		return RejectedExposureLimit
	}
	return Approved
}

func (e *Engine) checkVaRLimits(ctx *OrderContext, limits *Limits) CheckResult {
	if limits.MaxVaR1D <= 0 {
		return Approved
	}
	incremental := math.Abs(ctx.Notional()) * incrementalVol * z95
	if e.positions.PortfolioVaR(1, 0.95)+incremental > limits.MaxVaR1D {
		return RejectedVaRLimit
	}
	return Approved
}

// checkRateLimits counts orders in the current wall-clock second. The
// window reset races benignly: at worst a burst straddling a second
// boundary gets a fresh allowance one check early.
func (e *Engine) checkRateLimits(limits *Limits) CheckResult {
	if limits.MaxOrdersPerSecond <= 0 {
		return Approved
	}
	nowSec := time.Now().Unix()
	if e.windowSec.Load() != nowSec {
		e.windowSec.Store(nowSec)
		e.windowCount.Store(0)
	}
	if e.windowCount.Add(1) > limits.MaxOrdersPerSecond {
		return RejectedRateLimit
	}
	return Approved
}

func (e *Engine) checkBlacklist(ctx *OrderContext) CheckResult {
	e.blacklistMu.RLock()
	_, symbolBanned := e.symbolBlacklist[ctx.Symbol]
	_, strategyBanned := e.strategyBlacklist[ctx.StrategyID]
	e.blacklistMu.RUnlock()
	if symbolBanned || strategyBanned {
		return RejectedBlacklist
	}
	return Approved
}

func (e *Engine) checkCircuitBreakers() CheckResult {
	if e.breakerActive.Load() {
		return RejectedCircuitBreaker
	}
	return Approved
}

// BlacklistSymbol bans a symbol from trading.
func (e *Engine) BlacklistSymbol(symbol string) {
	e.blacklistMu.Lock()
	e.symbolBlacklist[symbol] = struct{}{}
	e.blacklistMu.Unlock()
	e.log.Warn("symbol blacklisted", zap.String("symbol", symbol))
}

// UnblacklistSymbol lifts a symbol ban.
func (e *Engine) UnblacklistSymbol(symbol string) {
	e.blacklistMu.Lock()
	delete(e.symbolBlacklist, symbol)
	e.blacklistMu.Unlock()
}

// IsSymbolBlacklisted reports whether a symbol is banned.
func (e *Engine) IsSymbolBlacklisted(symbol string) bool {
	e.blacklistMu.RLock()
	defer e.blacklistMu.RUnlock()
	_, ok := e.symbolBlacklist[symbol]
	return ok
}

// BlacklistStrategy bans a strategy from trading.
func (e *Engine) BlacklistStrategy(strategyID string) {
	e.blacklistMu.Lock()
	e.strategyBlacklist[strategyID] = struct{}{}
	e.blacklistMu.Unlock()
	e.log.Warn("strategy blacklisted", zap.String("strategy_id", strategyID))
}

// UnblacklistStrategy lifts a strategy ban.
func (e *Engine) UnblacklistStrategy(strategyID string) {
	e.blacklistMu.Lock()
	delete(e.strategyBlacklist, strategyID)
	e.blacklistMu.Unlock()
}

// IsStrategyBlacklisted reports whether a strategy is banned.
func (e *Engine) IsStrategyBlacklisted(strategyID string) bool {
	e.blacklistMu.RLock()
	defer e.blacklistMu.RUnlock()
	_, ok := e.strategyBlacklist[strategyID]
	return ok
}

// TriggerCircuitBreaker flips the kill switch. Every subsequent check
// rejects until ResetCircuitBreaker.
func (e *Engine) TriggerCircuitBreaker(reason string) {
	e.breakerMu.Lock()
	e.breakerReason = reason
	e.breakerMu.Unlock()
	if e.breakerActive.CompareAndSwap(false, true) {
		e.log.Error("circuit breaker triggered", zap.String("reason", reason))
		e.recordViolation("CIRCUIT_BREAKER", SeverityCritical,
			fmt.Sprintf("circuit breaker triggered: %s", reason))
	}
}

// ResetCircuitBreaker re-arms the engine.
func (e *Engine) ResetCircuitBreaker() {
	if e.breakerActive.CompareAndSwap(true, false) {
		e.breakerMu.Lock()
		e.breakerReason = ""
		e.breakerMu.Unlock()
		e.log.Info("circuit breaker reset")
	}
}

// CircuitBreakerActive reports the kill-switch state.
func (e *Engine) CircuitBreakerActive() bool {
	return e.breakerActive.Load()
}

// BreakerReason returns the reason given to the last trigger, empty when
// inactive.
func (e *Engine) BreakerReason() string {
	e.breakerMu.Lock()
	defer e.breakerMu.Unlock()
	return e.breakerReason
}

// RegisterViolationCallback installs a synchronous violation listener,
// replacing any previous one.
func (e *Engine) RegisterViolationCallback(cb ViolationCallback) {
	e.violationMu.Lock()
	e.callback = cb
	e.violationMu.Unlock()
}

func (e *Engine) recordViolation(vtype string, severity Severity, description string) {
	v := Violation{
		ID:          uuid.New(),
		Type:        vtype,
		Severity:    severity,
		Description: description,
		Timestamp:   time.Now(),
	}
	e.violationMu.Lock()
	e.violations = append(e.violations, v)
	cb := e.callback
	e.violationMu.Unlock()
	if cb != nil {
		cb(v)
	}
}

// Violations returns a copy of the violation log.
func (e *Engine) Violations() []Violation {
	e.violationMu.RLock()
	defer e.violationMu.RUnlock()
	out := make([]Violation, len(e.violations))
	copy(out, e.violations)
	return out
}

// pruneViolations drops entries older than the retention window.
func (e *Engine) pruneViolations(now time.Time) {
	cutoff := now.Add(-violationRetention)
	e.violationMu.Lock()
	kept := e.violations[:0]
	for _, v := range e.violations {
		if v.Timestamp.After(cutoff) {
			kept = append(kept, v)
		}
	}
	e.violations = kept
	e.violationMu.Unlock()
}

// StartMonitoring launches the background loop that re-evaluates
// portfolio limits and prunes the violation log. interval <= 0 selects
// 1 second.
func (e *Engine) StartMonitoring(interval time.Duration) {
	if !e.running.CompareAndSwap(false, true) {
		return
	}
	if interval <= 0 {
		interval = time.Second
	}
	e.stop = make(chan struct{})
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.monitorTick()
			case <-e.stop:
				return
			}
		}
	}()
	e.log.Info("risk monitoring started", zap.Duration("interval", interval))
}

// Stop halts monitoring and blocks until the loop exits.
func (e *Engine) Stop() {
	if !e.running.CompareAndSwap(true, false) {
		return
	}
	close(e.stop)
	e.wg.Wait()
	e.log.Info("risk monitoring stopped")
}

func (e *Engine) monitorTick() {
	now := time.Now()
	if e.initialized.Load() {
		for _, lv := range e.positions.CheckLimitViolations() {
			e.recordViolation(lv.Kind.String(), SeverityWarning, lv.String())
		}
		limits := e.limits.Load()
		if limits.MaxVaR1D > 0 {
			if v := e.positions.PortfolioVaR(1, 0.95); v > limits.MaxVaR1D {
				e.recordViolation("PORTFOLIO_VAR", SeverityWarning,
					fmt.Sprintf("portfolio 1d VaR %.2f exceeds limit %.2f", v, limits.MaxVaR1D))
			}
		}
	}
	e.pruneViolations(now)
}

// CheckLatency exposes the approved-check latency tracker.
func (e *Engine) CheckLatency() *latency.Tracker { return e.latency }

// Stats summarizes engine activity.
func (e *Engine) Stats() Stats {
	e.violationMu.RLock()
	violations := len(e.violations)
	e.violationMu.RUnlock()
	return Stats{
		ChecksTotal:   e.checksTotal.Load(),
		ChecksBlocked: e.checksBlocked.Load(),
		Violations:    violations,
		BreakerActive: e.breakerActive.Load(),
		CheckLatency:  e.latency.Snapshot(),
	}
}
