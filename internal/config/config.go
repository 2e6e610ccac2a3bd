// Package config supplies the engine's key/value configuration surface:
// risk limits, the symbol/tick-size table, and engine tuning knobs,
// addressed by dot-notation section.key.
package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/mkv4540/goldearn-hft-sub000/internal/position"
	"github.com/mkv4540/goldearn-hft-sub000/internal/risk"
)

// SymbolConfig is one row of the instrument table.
type SymbolConfig struct {
	SymbolID uint32  `mapstructure:"symbol_id"`
	Symbol   string  `mapstructure:"symbol" validate:"required"`
	TickSize float64 `mapstructure:"tick_size" validate:"gte=0"`
}

// EngineConfig holds the engine tuning knobs.
type EngineConfig struct {
	OrderPoolCapacity  int           `mapstructure:"order_pool_capacity" validate:"gte=0"`
	RiskMonitorPeriod  time.Duration `mapstructure:"risk_monitor_period" validate:"gte=0"`
	PositionMarkPeriod time.Duration `mapstructure:"position_mark_period" validate:"gte=0"`
	MetricsAddr        string        `mapstructure:"metrics_addr" validate:"required"`
	LogLevel           string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

var validate = validator.New()

// Store wraps viper behind a read-mostly facade. Values are resolved from
// an optional YAML file plus environment overrides (prefix GOLDEARN,
// dots mapped to underscores).
type Store struct {
	mu  sync.RWMutex
	v   *viper.Viper
	log *zap.Logger
}

// NewStore creates a store with defaults applied. path may be empty for
// an env/defaults-only store.
func NewStore(path string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	v := viper.New()
	v.SetEnvPrefix("GOLDEARN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		log.Info("configuration loaded", zap.String("path", path))
	}
	return &Store{v: v, log: log}, nil
}

func setDefaults(v *viper.Viper) {
	def := risk.DefaultLimits()
	v.SetDefault("risk.max_position_size", def.MaxPositionSize)
	v.SetDefault("risk.max_order_value", def.MaxOrderValue)
	v.SetDefault("risk.max_order_quantity", def.MaxOrderQuantity)
	v.SetDefault("risk.min_order_price", def.MinOrderPrice)
	v.SetDefault("risk.max_order_price", def.MaxOrderPrice)
	v.SetDefault("risk.max_gross_exposure", def.MaxGrossExposure)
	v.SetDefault("risk.max_var_1d", def.MaxVaR1D)
	v.SetDefault("risk.max_daily_loss", def.MaxDailyLoss)
	v.SetDefault("risk.max_strategy_var", def.MaxStrategyVaR)
	v.SetDefault("risk.max_orders_per_second", def.MaxOrdersPerSecond)

	v.SetDefault("engine.order_pool_capacity", 0)
	v.SetDefault("engine.risk_monitor_period", time.Second)
	v.SetDefault("engine.position_mark_period", 5*time.Second)
	v.SetDefault("engine.metrics_addr", ":9100")
	v.SetDefault("engine.log_level", "info")
}

// GetString resolves a dot-notation key.
func (s *Store) GetString(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.GetString(key)
}

// GetFloat64 resolves a dot-notation key.
func (s *Store) GetFloat64(key string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.GetFloat64(key)
}

// GetInt64 resolves a dot-notation key.
func (s *Store) GetInt64(key string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.GetInt64(key)
}

// Set overrides a key at runtime.
func (s *Store) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v.Set(key, value)
}

// RiskLimits materializes the risk.* section.
func (s *Store) RiskLimits() (risk.Limits, error) {
	s.mu.RLock()
	l := risk.Limits{
		MaxPositionSize:    s.v.GetInt64("risk.max_position_size"),
		MaxOrderValue:      s.v.GetFloat64("risk.max_order_value"),
		MaxOrderQuantity:   s.v.GetInt64("risk.max_order_quantity"),
		MinOrderPrice:      s.v.GetFloat64("risk.min_order_price"),
		MaxOrderPrice:      s.v.GetFloat64("risk.max_order_price"),
		MaxGrossExposure:   s.v.GetFloat64("risk.max_gross_exposure"),
		MaxVaR1D:           s.v.GetFloat64("risk.max_var_1d"),
		MaxDailyLoss:       s.v.GetFloat64("risk.max_daily_loss"),
		MaxStrategyVaR:     s.v.GetFloat64("risk.max_strategy_var"),
		MaxOrdersPerSecond: s.v.GetInt64("risk.max_orders_per_second"),
	}
	s.mu.RUnlock()
	if err := l.Validate(); err != nil {
		return risk.Limits{}, err
	}
	return l, nil
}

// PositionLimits materializes the portfolio-level limits consumed by the
// position ledger, including any per-symbol exposure caps under
// position.symbol_limits.
func (s *Store) PositionLimits() position.Limits {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l := position.Limits{
		MaxGrossExposure: s.v.GetFloat64("risk.max_gross_exposure"),
		MaxPortfolioVaR:  s.v.GetFloat64("risk.max_var_1d"),
	}
	if m := s.v.GetStringMap("position.symbol_limits"); len(m) > 0 {
		l.SymbolLimits = make(map[string]float64, len(m))
		for sym := range m {
			l.SymbolLimits[strings.ToUpper(sym)] = s.v.GetFloat64("position.symbol_limits." + sym)
		}
	}
	return l
}

// Symbols materializes the instrument table from the symbols list.
func (s *Store) Symbols() ([]SymbolConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []SymbolConfig
	if err := s.v.UnmarshalKey("symbols", &out); err != nil {
		return nil, fmt.Errorf("symbol table: %w", err)
	}
	for i := range out {
		if out[i].TickSize == 0 {
			out[i].TickSize = 0.05
		}
		if err := validate.Struct(out[i]); err != nil {
			return nil, fmt.Errorf("symbol table row %d: %w", i, err)
		}
	}
	return out, nil
}

// Engine materializes the engine.* section.
func (s *Store) Engine() (EngineConfig, error) {
	s.mu.RLock()
	cfg := EngineConfig{
		OrderPoolCapacity:  s.v.GetInt("engine.order_pool_capacity"),
		RiskMonitorPeriod:  s.v.GetDuration("engine.risk_monitor_period"),
		PositionMarkPeriod: s.v.GetDuration("engine.position_mark_period"),
		MetricsAddr:        s.v.GetString("engine.metrics_addr"),
		LogLevel:           s.v.GetString("engine.log_level"),
	}
	s.mu.RUnlock()
	if err := validate.Struct(cfg); err != nil {
		return EngineConfig{}, fmt.Errorf("engine config: %w", err)
	}
	return cfg, nil
}
