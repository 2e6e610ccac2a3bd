// Engine process: wires the order-book managers, position ledger and risk
// engine together, exposes Prometheus metrics, and runs until signalled.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mkv4540/goldearn-hft-sub000/internal/config"
	"github.com/mkv4540/goldearn-hft-sub000/internal/marketdata"
	"github.com/mkv4540/goldearn-hft-sub000/internal/orderbook"
	"github.com/mkv4540/goldearn-hft-sub000/internal/position"
	"github.com/mkv4540/goldearn-hft-sub000/internal/risk"
	"github.com/mkv4540/goldearn-hft-sub000/pkg/logger"
	"github.com/mkv4540/goldearn-hft-sub000/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	store, err := config.NewStore(configPath, zap.NewNop())
	if err != nil {
		return err
	}
	engineCfg, err := store.Engine()
	if err != nil {
		return err
	}

	log, err := logger.NewLogger(engineCfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	limits, err := store.RiskLimits()
	if err != nil {
		return err
	}

	symbols := marketdata.NewSymbolTable()
	books := orderbook.NewOptimizedManager(engineCfg.OrderPoolCapacity, log)
	rows, err := store.Symbols()
	if err != nil {
		return err
	}
	// Rows without an explicit ID get one above the highest configured ID.
	var nextID uint32
	for _, row := range rows {
		if row.SymbolID > nextID {
			nextID = row.SymbolID
		}
	}
	for _, row := range rows {
		id := row.SymbolID
		if id == 0 {
			nextID++
			id = nextID
		}
		symbols.Register(row.Symbol)
		books.AddSymbol(id, row.Symbol, row.TickSize)
	}

	positions := position.NewTracker(store.PositionLimits(), log)
	engine := risk.NewEngine(limits, positions, log)
	engine.RegisterViolationCallback(func(v risk.Violation) {
		metrics.RiskViolations.Inc()
		log.Warn("risk violation",
			zap.String("type", v.Type),
			zap.String("severity", v.Severity.String()),
			zap.String("description", v.Description))
	})

	positions.StartPerformanceTracking(engineCfg.PositionMarkPeriod)
	engine.StartMonitoring(engineCfg.RiskMonitorPeriod)

	stopGauges := startGaugeExport(positions, engine)

	srv := &http.Server{Addr: engineCfg.MetricsAddr, Handler: promhttp.Handler()}
	go func() {
		log.Info("metrics listener started", zap.String("addr", engineCfg.MetricsAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics listener failed", zap.Error(err))
		}
	}()

	log.Info("engine started",
		zap.Int("symbols", len(rows)),
		zap.Int64("max_orders_per_second", limits.MaxOrdersPerSecond))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	close(stopGauges)
	engine.Stop()
	positions.Stop()
	srv.Close()
	return nil
}

// startGaugeExport publishes ledger and breaker state to Prometheus every
// second until the returned channel is closed.
func startGaugeExport(positions *position.Tracker, engine *risk.Engine) chan struct{} {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				pm := positions.PortfolioMetrics()
				metrics.OpenPositions.Set(float64(pm.Positions))
				metrics.GrossExposure.Set(pm.GrossExposure)
				metrics.PortfolioVaR1D.Set(pm.VaR1D)
				if engine.CircuitBreakerActive() {
					metrics.CircuitBreakerActive.Set(1)
				} else {
					metrics.CircuitBreakerActive.Set(0)
				}
			case <-stop:
				return
			}
		}
	}()
	return stop
}
