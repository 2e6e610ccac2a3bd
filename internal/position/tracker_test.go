package position

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mkv4540/goldearn-hft-sub000/internal/marketdata"
)

func newTestTracker(t *testing.T) *Tracker {
	return NewTracker(Limits{}, zaptest.NewLogger(t))
}

func fill(symbolID uint32, symbol string, qty, price int64, side byte, strategy string) *marketdata.Fill {
	return &marketdata.Fill{
		ID:         uuid.New(),
		SymbolID:   symbolID,
		Symbol:     symbol,
		Quantity:   decimal.NewFromInt(qty),
		Price:      decimal.NewFromInt(price),
		Side:       side,
		StrategyID: strategy,
		FillTime:   time.Now(),
	}
}

func requireDecimal(t *testing.T, want int64, got decimal.Decimal) {
	t.Helper()
	require.True(t, got.Equal(decimal.NewFromInt(want)), "want %d, got %s", want, got)
}

func TestNewPositionFromFill(t *testing.T) {
	tr := newTestTracker(t)
	tr.UpdatePosition(fill(1, "RELIANCE", 100, 10, marketdata.SideBuy, "alpha"))

	p, ok := tr.Position(1)
	require.True(t, ok)
	requireDecimal(t, 100, p.Quantity)
	requireDecimal(t, 10, p.AvgCost)
	requireDecimal(t, 0, p.RealizedPnL)
	assert.Equal(t, "alpha", p.StrategyID)
	assert.Equal(t, 10.0, p.CurrentPrice)
}

func TestSellOpensShort(t *testing.T) {
	tr := newTestTracker(t)
	tr.UpdatePosition(fill(1, "RELIANCE", 100, 10, marketdata.SideSell, "alpha"))

	p, ok := tr.Position(1)
	require.True(t, ok)
	requireDecimal(t, -100, p.Quantity)
	requireDecimal(t, 10, p.AvgCost)
}

func TestSameSignBlendsAverageCost(t *testing.T) {
	tr := newTestTracker(t)
	tr.UpdatePosition(fill(1, "RELIANCE", 100, 10, marketdata.SideBuy, "alpha"))
	tr.UpdatePosition(fill(1, "RELIANCE", 100, 20, marketdata.SideBuy, "alpha"))

	p, _ := tr.Position(1)
	requireDecimal(t, 200, p.Quantity)
	requireDecimal(t, 15, p.AvgCost)
	requireDecimal(t, 0, p.RealizedPnL)
}

func TestPartialCloseRealizesPnL(t *testing.T) {
	tr := newTestTracker(t)
	tr.UpdatePosition(fill(1, "RELIANCE", 100, 10, marketdata.SideBuy, "alpha"))
	tr.UpdatePosition(fill(1, "RELIANCE", 40, 12, marketdata.SideSell, "alpha"))

	p, _ := tr.Position(1)
	requireDecimal(t, 60, p.Quantity)
	requireDecimal(t, 10, p.AvgCost) // surviving leg keeps its cost basis
	requireDecimal(t, 80, p.RealizedPnL)
}

func TestSignFlipThroughZero(t *testing.T) {
	tr := newTestTracker(t)
	tr.UpdatePosition(fill(1, "RELIANCE", 100, 10, marketdata.SideBuy, "alpha"))
	tr.UpdatePosition(fill(1, "RELIANCE", 150, 12, marketdata.SideSell, "alpha"))

	p, _ := tr.Position(1)
	requireDecimal(t, 200, p.RealizedPnL) // 100 x (12 - 10)
	requireDecimal(t, -50, p.Quantity)
	requireDecimal(t, 12, p.AvgCost) // new short leg opened at the flip price
}

func TestShortCoverRealizesPnL(t *testing.T) {
	tr := newTestTracker(t)
	tr.UpdatePosition(fill(1, "RELIANCE", 100, 10, marketdata.SideSell, "alpha"))
	tr.UpdatePosition(fill(1, "RELIANCE", 50, 8, marketdata.SideBuy, "alpha"))

	p, _ := tr.Position(1)
	requireDecimal(t, -50, p.Quantity)
	requireDecimal(t, 100, p.RealizedPnL) // 50 x (8 - 10) x sign(-1)
	requireDecimal(t, 10, p.AvgCost)
}

func TestFlatThenReopen(t *testing.T) {
	tr := newTestTracker(t)
	tr.UpdatePosition(fill(1, "RELIANCE", 100, 10, marketdata.SideBuy, "alpha"))
	tr.UpdatePosition(fill(1, "RELIANCE", 100, 12, marketdata.SideSell, "alpha"))

	p, _ := tr.Position(1)
	requireDecimal(t, 0, p.Quantity)
	requireDecimal(t, 200, p.RealizedPnL)

	// The record persists and a fresh leg starts clean.
	tr.UpdatePosition(fill(1, "RELIANCE", 30, 15, marketdata.SideBuy, "alpha"))
	p, _ = tr.Position(1)
	requireDecimal(t, 30, p.Quantity)
	requireDecimal(t, 15, p.AvgCost)
	requireDecimal(t, 200, p.RealizedPnL)
}

func TestInvalidFillIgnored(t *testing.T) {
	tr := newTestTracker(t)
	tr.UpdatePosition(nil)
	tr.UpdatePosition(fill(1, "RELIANCE", 0, 10, marketdata.SideBuy, "alpha"))
	tr.UpdatePosition(fill(1, "RELIANCE", 100, 0, marketdata.SideBuy, "alpha"))

	_, ok := tr.Position(1)
	assert.False(t, ok)
}

func TestMarkToMarketUnrealized(t *testing.T) {
	tr := newTestTracker(t)
	tr.UpdatePosition(fill(1, "RELIANCE", 100, 10, marketdata.SideBuy, "alpha"))
	tr.MarkToMarket(1, 13)

	p, _ := tr.Position(1)
	assert.Equal(t, 13.0, p.CurrentPrice)
	requireDecimal(t, 300, p.UnrealizedPnL)

	// Short positions gain when the price falls.
	tr.UpdatePosition(fill(2, "TCS", 10, 100, marketdata.SideSell, "alpha"))
	tr.MarkToMarket(2, 90)
	p2, _ := tr.Position(2)
	requireDecimal(t, 100, p2.UnrealizedPnL)
}

func TestExposures(t *testing.T) {
	tr := newTestTracker(t)
	tr.UpdatePosition(fill(1, "RELIANCE", 100, 10, marketdata.SideBuy, "alpha"))
	tr.UpdatePosition(fill(2, "TCS", 5, 100, marketdata.SideSell, "beta"))

	assert.InDelta(t, 1500.0, tr.GrossExposure(), 1e-9)
	assert.InDelta(t, 500.0, tr.NetExposure(), 1e-9)
}

func TestPortfolioVaRFormula(t *testing.T) {
	tr := newTestTracker(t)
	tr.UpdatePosition(fill(1, "RELIANCE", 100, 50, marketdata.SideBuy, "alpha"))

	want := math.Sqrt(1.2*math.Pow(5000*0.20, 2)) * 1.645
	assert.InDelta(t, want, tr.PortfolioVaR(1, 0.95), 1e-6)

	// 99% confidence and longer horizons scale the same base.
	assert.InDelta(t, want/1.645*2.326, tr.PortfolioVaR(1, 0.99), 1e-6)
	assert.InDelta(t, want*math.Sqrt(10), tr.PortfolioVaR(10, 0.95), 1e-6)
	// Percentage form maps to the same z-score.
	assert.InDelta(t, tr.PortfolioVaR(1, 0.95), tr.PortfolioVaR(1, 95), 1e-9)
}

func TestStrategyVaRRestrictsToStrategy(t *testing.T) {
	tr := newTestTracker(t)
	tr.UpdatePosition(fill(1, "RELIANCE", 100, 50, marketdata.SideBuy, "alpha"))
	tr.UpdatePosition(fill(2, "TCS", 100, 50, marketdata.SideBuy, "beta"))

	alpha := tr.StrategyVaR("alpha", 1, 0.95)
	want := math.Sqrt(1.2*math.Pow(5000*0.20, 2)) * 1.645
	assert.InDelta(t, want, alpha, 1e-6)
	assert.Less(t, alpha, tr.PortfolioVaR(1, 0.95))
	assert.Equal(t, 0.0, tr.StrategyVaR("unknown", 1, 0.95))
}

func TestStrategyAggregation(t *testing.T) {
	tr := newTestTracker(t)
	tr.UpdatePosition(fill(1, "RELIANCE", 100, 10, marketdata.SideBuy, "alpha"))
	tr.UpdatePosition(fill(2, "TCS", 5, 100, marketdata.SideSell, "alpha"))
	tr.UpdatePosition(fill(3, "INFY", 10, 20, marketdata.SideBuy, "beta"))

	sm, ok := tr.Strategy("alpha")
	require.True(t, ok)
	assert.Equal(t, 2, sm.Positions)
	assert.InDelta(t, 1500.0, sm.GrossExposure, 1e-9)
	assert.InDelta(t, 500.0, sm.NetExposure, 1e-9)

	_, ok = tr.Strategy("gamma")
	assert.False(t, ok)
}

func TestPortfolioMetrics(t *testing.T) {
	tr := newTestTracker(t)
	tr.UpdatePosition(fill(1, "RELIANCE", 100, 10, marketdata.SideBuy, "alpha"))
	tr.UpdatePosition(fill(1, "RELIANCE", 50, 12, marketdata.SideSell, "alpha"))
	tr.UpdatePosition(fill(2, "TCS", 10, 100, marketdata.SideBuy, "beta"))

	pm := tr.PortfolioMetrics()
	assert.Equal(t, 2, pm.Positions)
	requireDecimal(t, 100, pm.RealizedPnL)
	assert.Greater(t, pm.GrossExposure, 0.0)
	assert.Greater(t, pm.VaR1D, 0.0)
}

func TestCheckLimitViolations(t *testing.T) {
	tr := NewTracker(Limits{
		MaxGrossExposure: 100,
		MaxPortfolioVaR:  1,
		SymbolLimits:     map[string]float64{"RELIANCE": 50},
	}, zaptest.NewLogger(t))
	tr.UpdatePosition(fill(1, "RELIANCE", 100, 10, marketdata.SideBuy, "alpha"))

	violations := tr.CheckLimitViolations()
	require.Len(t, violations, 3)
	kinds := map[ViolationKind]bool{}
	for _, v := range violations {
		kinds[v.Kind] = true
		assert.NotEmpty(t, v.String())
	}
	assert.True(t, kinds[ViolationGrossExposure])
	assert.True(t, kinds[ViolationPortfolioVaR])
	assert.True(t, kinds[ViolationSymbolExposure])
}

func TestNoViolationsUnderLimits(t *testing.T) {
	tr := NewTracker(Limits{MaxGrossExposure: 1e9, MaxPortfolioVaR: 1e9}, nil)
	tr.UpdatePosition(fill(1, "RELIANCE", 100, 10, marketdata.SideBuy, "alpha"))
	assert.Empty(t, tr.CheckLimitViolations())
}

func TestStressTest(t *testing.T) {
	tr := newTestTracker(t)
	tr.UpdatePosition(fill(1, "RELIANCE", 100, 10, marketdata.SideBuy, "alpha"))  // +1000
	tr.UpdatePosition(fill(2, "TCS", 5, 100, marketdata.SideSell, "alpha"))      // -500

	assert.InDelta(t, -50.0, tr.StressTest(-0.10), 1e-9) // net 500 x -10%

	scenarios := tr.RunStressScenarios()
	require.Contains(t, scenarios, "down_10pct")
	assert.InDelta(t, -50.0, scenarios["down_10pct"], 1e-9)
	assert.InDelta(t, 100.0, scenarios["up_20pct"], 1e-9)
}

func TestPerformanceTrackingStartStop(t *testing.T) {
	tr := newTestTracker(t)
	tr.UpdatePosition(fill(1, "RELIANCE", 100, 10, marketdata.SideBuy, "alpha"))

	tr.StartPerformanceTracking(10 * time.Millisecond)
	tr.StartPerformanceTracking(10 * time.Millisecond) // second start is a no-op
	time.Sleep(35 * time.Millisecond)
	tr.Stop()
	tr.Stop() // second stop is a no-op

	p, ok := tr.Position(1)
	require.True(t, ok)
	assert.Equal(t, 10.0, p.CurrentPrice)
}
