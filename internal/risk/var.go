// Offline VaR calculators for reporting and backtesting. The pre-trade
// path uses the simplified parametric approximation in the engine; these
// run outside the latency budget.

package risk

import (
	"math"
	"math/rand"
	"sort"
	"sync"
)

const defaultMonteCarloPaths = 10_000

// VaRCalculator computes value-at-risk estimates by three methods.
// Safe for concurrent use.
type VaRCalculator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewVaRCalculator seeds the Monte-Carlo generator. seed 0 selects a
// fixed seed for reproducible reports.
func NewVaRCalculator(seed int64) *VaRCalculator {
	if seed == 0 {
		seed = 42
	}
	return &VaRCalculator{rng: rand.New(rand.NewSource(seed))}
}

// Parametric computes VaR for a single exposure under a normal-returns
// assumption: value x volatility x z x sqrt(days).
func (c *VaRCalculator) Parametric(value, volatility float64, days int, confidence float64) float64 {
	if value == 0 || volatility <= 0 || days <= 0 {
		return 0
	}
	return math.Abs(value) * volatility * zScore(confidence) * math.Sqrt(float64(days))
}

// ParametricPortfolio aggregates per-position exposures with the flat
// correlation adjustment used on the pre-trade path: variance terms
// (value x volatility)^2 are summed and scaled by 1.2 before the square
// root.
func (c *VaRCalculator) ParametricPortfolio(values, volatilities []float64, days int, confidence float64) float64 {
	n := len(values)
	if n == 0 || n != len(volatilities) || days <= 0 {
		return 0
	}
	var sumVar float64
	for i := 0; i < n; i++ {
		term := math.Abs(values[i]) * volatilities[i]
		sumVar += term * term
	}
	if sumVar <= 0 {
		return 0
	}
	std := math.Sqrt(sumVar * correlationAdjustment)
	return std * zScore(confidence) * math.Sqrt(float64(days))
}

// Historical computes VaR from an empirical return series: the loss at
// the (1-confidence) quantile of the sorted returns, scaled to the
// portfolio value. Returns 0 when the series is empty.
func (c *VaRCalculator) Historical(returns []float64, portfolioValue, confidence float64) float64 {
	if len(returns) == 0 || portfolioValue == 0 {
		return 0
	}
	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	q := clampQuantile(confidence)
	idx := int(float64(len(sorted)) * (1 - q))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	loss := -sorted[idx]
	if loss < 0 {
		loss = 0
	}
	return math.Abs(portfolioValue) * loss
}

// MonteCarlo simulates normal daily returns over the horizon and reads
// the loss at the confidence quantile of the simulated P&L distribution.
// paths <= 0 selects the default path count.
func (c *VaRCalculator) MonteCarlo(portfolioValue, volatility float64, days, paths int, confidence float64) float64 {
	if portfolioValue == 0 || volatility <= 0 || days <= 0 {
		return 0
	}
	if paths <= 0 {
		paths = defaultMonteCarloPaths
	}
	pnl := make([]float64, paths)
	value := math.Abs(portfolioValue)

	c.mu.Lock()
	for i := 0; i < paths; i++ {
		v := value
		for d := 0; d < days; d++ {
			v *= 1 + volatility*c.rng.NormFloat64()
		}
		pnl[i] = v - value
	}
	c.mu.Unlock()

	sort.Float64s(pnl)
	q := clampQuantile(confidence)
	idx := int(float64(paths) * (1 - q))
	if idx >= paths {
		idx = paths - 1
	}
	loss := -pnl[idx]
	if loss < 0 {
		loss = 0
	}
	return loss
}

// correlationAdjustment mirrors the flat multiplier applied by the
// position ledger's portfolio VaR.
const correlationAdjustment = 1.2

func clampQuantile(confidence float64) float64 {
	if confidence > 1 {
		confidence /= 100
	}
	if confidence <= 0 || confidence >= 1 {
		return 0.95
	}
	return confidence
}

// zScore maps a confidence level to its one-tailed normal quantile,
// matching the position ledger's convention.
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
