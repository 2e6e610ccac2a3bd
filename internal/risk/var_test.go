package risk

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParametricVaR(t *testing.T) {
	c := NewVaRCalculator(0)

	want := 100000 * 0.20 * 1.645
	assert.InDelta(t, want, c.Parametric(100000, 0.20, 1, 0.95), 1e-9)

	// Short exposure carries the same risk magnitude.
	assert.InDelta(t, want, c.Parametric(-100000, 0.20, 1, 0.95), 1e-9)

	assert.InDelta(t, want*math.Sqrt(10), c.Parametric(100000, 0.20, 10, 0.95), 1e-9)
	assert.InDelta(t, 100000*0.20*2.326, c.Parametric(100000, 0.20, 1, 0.99), 1e-9)

	assert.Equal(t, 0.0, c.Parametric(0, 0.20, 1, 0.95))
	assert.Equal(t, 0.0, c.Parametric(100000, 0, 1, 0.95))
	assert.Equal(t, 0.0, c.Parametric(100000, 0.20, 0, 0.95))
}

func TestParametricPortfolioMatchesLedgerConvention(t *testing.T) {
	c := NewVaRCalculator(0)
	values := []float64{5000, -3000}
	vols := []float64{0.20, 0.30}

	sumVar := math.Pow(5000*0.20, 2) + math.Pow(3000*0.30, 2)
	want := math.Sqrt(sumVar*1.2) * 1.645
	assert.InDelta(t, want, c.ParametricPortfolio(values, vols, 1, 0.95), 1e-9)

	assert.Equal(t, 0.0, c.ParametricPortfolio(nil, nil, 1, 0.95))
	assert.Equal(t, 0.0, c.ParametricPortfolio([]float64{1}, []float64{0.1, 0.2}, 1, 0.95))
}

func TestHistoricalVaR(t *testing.T) {
	c := NewVaRCalculator(0)

	// 100 daily returns from -5.0% to +4.9%; the 5th percentile return
	// is -4.5%.
	returns := make([]float64, 100)
	for i := range returns {
		returns[i] = float64(i-50) / 1000
	}
	got := c.Historical(returns, 1_000_000, 0.95)
	assert.InDelta(t, 45000, got, 1e-6)

	// A strictly positive history carries no loss.
	assert.Equal(t, 0.0, c.Historical([]float64{0.01, 0.02, 0.03}, 1_000_000, 0.95))
	assert.Equal(t, 0.0, c.Historical(nil, 1_000_000, 0.95))
}

func TestMonteCarloVaR(t *testing.T) {
	c := NewVaRCalculator(1)

	v95 := c.MonteCarlo(1_000_000, 0.02, 1, 20_000, 0.95)
	v99 := c.MonteCarlo(1_000_000, 0.02, 1, 20_000, 0.99)
	require.Greater(t, v95, 0.0)
	assert.Greater(t, v99, v95)

	// The simulated estimate should sit near the parametric closed form.
	want := c.Parametric(1_000_000, 0.02, 1, 0.95)
	assert.InDelta(t, want, v95, want*0.15)

	assert.Equal(t, 0.0, c.MonteCarlo(0, 0.02, 1, 100, 0.95))
	assert.Equal(t, 0.0, c.MonteCarlo(1_000_000, 0, 1, 100, 0.95))
}

func TestMonteCarloReproducible(t *testing.T) {
	a := NewVaRCalculator(7).MonteCarlo(1_000_000, 0.02, 1, 5_000, 0.95)
	b := NewVaRCalculator(7).MonteCarlo(1_000_000, 0.02, 1, 5_000, 0.95)
	assert.Equal(t, a, b)
}

func TestQuantileClamping(t *testing.T) {
	assert.Equal(t, 0.95, clampQuantile(0))
	assert.Equal(t, 0.95, clampQuantile(1.0))
	assert.Equal(t, 0.99, clampQuantile(99))
	assert.Equal(t, 0.90, clampQuantile(0.90))
}
