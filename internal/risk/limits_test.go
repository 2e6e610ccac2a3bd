package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLimitsValid(t *testing.T) {
	require.NoError(t, DefaultLimits().Validate())
	// All-zero limits disable every check and are legal.
	require.NoError(t, Limits{}.Validate())
}

func TestValidateRejectsNegativeBounds(t *testing.T) {
	l := DefaultLimits()
	l.MaxPositionSize = -1
	assert.Error(t, l.Validate())

	l = DefaultLimits()
	l.MinOrderPrice = -0.01
	assert.Error(t, l.Validate())

	l = DefaultLimits()
	l.MaxVaR1D = -5
	assert.Error(t, l.Validate())

	l = DefaultLimits()
	l.MaxOrdersPerSecond = -1
	assert.Error(t, l.Validate())
}

func TestValidateRejectsInvertedPriceBand(t *testing.T) {
	l := DefaultLimits()
	l.MinOrderPrice = 10
	l.MaxOrderPrice = 5
	assert.Error(t, l.Validate())

	// A zero max disables the band, so any min passes.
	l.MaxOrderPrice = 0
	assert.NoError(t, l.Validate())
}
