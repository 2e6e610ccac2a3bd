package risk

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Limits bounds pre-trade checks. The engine holds the active set behind
// an atomic pointer and replaces it wholesale; readers never observe a
// half-updated struct. A zero value disables the corresponding check.
type Limits struct {
	// Per-symbol cap on absolute position quantity after the order fills.
	MaxPositionSize int64 `validate:"gte=0"`
	// Cap on a single order's notional value.
	MaxOrderValue float64 `validate:"gte=0"`
	// Cap on a single order's quantity.
	MaxOrderQuantity int64 `validate:"gte=0"`
	// Acceptable price band for incoming orders.
	MinOrderPrice float64 `validate:"gte=0"`
	MaxOrderPrice float64 `validate:"gte=0"`
	// Portfolio-wide caps.
	MaxGrossExposure float64 `validate:"gte=0"`
	MaxVaR1D         float64 `validate:"gte=0"`
	MaxDailyLoss     float64 `validate:"gte=0"`
	MaxStrategyVaR   float64 `validate:"gte=0"`
	// Orders accepted per one-second window.
	MaxOrdersPerSecond int64 `validate:"gte=0"`
}

var validate = validator.New()

func init() {
	// Cross-field check the tags cannot express: an inverted price band,
	// unless MaxOrderPrice is zero (band disabled).
	validate.RegisterStructValidation(func(sl validator.StructLevel) {
		l := sl.Current().Interface().(Limits)
		if l.MaxOrderPrice > 0 && l.MinOrderPrice > l.MaxOrderPrice {
			sl.ReportError(l.MinOrderPrice, "MinOrderPrice", "MinOrderPrice",
				"ltefield", "MaxOrderPrice")
		}
	}, Limits{})
}

// DefaultLimits returns the conservative production defaults used when no
// configuration is supplied.
func DefaultLimits() Limits {
	return Limits{
		MaxPositionSize:    100_000,
		MaxOrderValue:      10_000_000,
		MaxOrderQuantity:   50_000,
		MinOrderPrice:      0.01,
		MaxOrderPrice:      1_000_000,
		MaxGrossExposure:   500_000_000,
		MaxVaR1D:           25_000_000,
		MaxDailyLoss:       10_000_000,
		MaxStrategyVaR:     10_000_000,
		MaxOrdersPerSecond: 5_000,
	}
}

// Validate rejects limit sets that would misbehave at runtime.
func (l Limits) Validate() error {
	if err := validate.Struct(l); err != nil {
		return fmt.Errorf("risk limits: %w", err)
	}
	return nil
}
