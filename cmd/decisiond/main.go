// decisiond is the MT5 smart decision daemon. It connects to the MT5 gateway
// over websocket, evaluates every completed bar for trade proposals, and
// supervises manually placed orders through the delayed-approval engine.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kenwu020902/MT5-SDS/config"
	"github.com/kenwu020902/MT5-SDS/internal/approval"
	"github.com/kenwu020902/MT5-SDS/internal/decision"
	"github.com/kenwu020902/MT5-SDS/internal/journal"
	"github.com/kenwu020902/MT5-SDS/internal/logger"
	"github.com/kenwu020902/MT5-SDS/internal/markethours"
	"github.com/kenwu020902/MT5-SDS/internal/metrics"
	"github.com/kenwu020902/MT5-SDS/internal/model"
	"github.com/kenwu020902/MT5-SDS/internal/notification"
	"github.com/kenwu020902/MT5-SDS/internal/risk"
	"github.com/kenwu020902/MT5-SDS/pkg/mt5bridge"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[decisiond] config: %v", err)
	}

	logr := logger.Init(cfg.Service, logger.ParseLevel(cfg.LogLevel))
	logr.Info("starting",
		slog.String("symbol", cfg.Symbol),
		slog.String("strategy", cfg.Strategy),
		slog.Int("period_seconds", cfg.PeriodSeconds))
	logr.Info(markethours.StatusString(time.Now()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	go metrics.Serve(ctx, cfg.MetricsAddr, health)

	// ── Journal sinks ──
	var redisSink *journal.RedisSink
	if cfg.Redis.Addr != "" {
		redisSink, err = journal.NewRedisSink(journal.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, cfg.Symbol, logr)
		if err != nil {
			// Telemetry sink only: run degraded rather than refuse to start
			logr.Warn("redis journal unavailable, continuing without it", slog.Any("error", err))
		}
	}

	if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
		log.Fatalf("[decisiond] data dir: %v", err)
	}
	sqliteSink, err := journal.NewSQLiteSink(journal.SQLiteConfig{DBPath: cfg.SQLitePath}, logr)
	if err != nil {
		log.Fatalf("[decisiond] sqlite journal: %v", err)
	}

	jrnl := journal.New(redisSink, sqliteSink, prom, logr)
	defer jrnl.Close()
	jrnl.SetNotifier(buildNotifier(cfg))

	// ── Gateway bridge ──
	bridge, err := mt5bridge.New(mt5bridge.Config{
		URL:        cfg.Bridge.URL,
		Symbol:     cfg.Symbol,
		Account:    cfg.Bridge.Account,
		Password:   cfg.Bridge.Password,
		TOTPSecret: cfg.Bridge.TOTPSecret,
	}, prom, logr)
	if err != nil {
		log.Fatalf("[decisiond] bridge: %v", err)
	}

	// ── Engines ──
	sizer := risk.NewSizer(risk.Config{
		RiskPerTrade:    cfg.Risk.RiskPerTrade,
		RewardRatio:     cfg.Risk.RewardRatio,
		StopLossBuffer:  cfg.Risk.StopLossBuffer,
		MaxPositionSize: cfg.Risk.MaxPositionSize,
	})

	decEngine := decision.New(decision.Config{
		Symbol:               cfg.Symbol,
		Strategy:             decision.Strategy(cfg.Strategy),
		HistoryBars:          cfg.Decision.HistoryBars,
		StrictConfirmation:   cfg.Decision.StrictConfirmation,
		MACDConfirmation:     cfg.Decision.MACDConfirmation,
		CheckMarketStructure: cfg.Decision.CheckMarketStructure,
		StructureBars:        cfg.Decision.StructureBars,
		EntryOnOpen:          cfg.Decision.EntryOnOpen,
		FastPeriod:           cfg.Decision.FastPeriod,
		SlowPeriod:           cfg.Decision.SlowPeriod,
		SignalPeriod:         cfg.Decision.SignalPeriod,
		UpperThreshold:       cfg.Decision.UpperThreshold,
		LowerThreshold:       cfg.Decision.LowerThreshold,
	}, sizer, bridge, jrnl, prom, logr)

	apprEngine := approval.New(approval.Config{
		Symbol:               cfg.Symbol,
		ScanInterval:         time.Duration(cfg.Approval.ScanIntervalSeconds) * time.Second,
		CleanupInterval:      time.Duration(cfg.Approval.CleanupIntervalSeconds) * time.Second,
		DecisionSecond:       cfg.Approval.DecisionSecond,
		PeriodSeconds:        cfg.PeriodSeconds,
		MaxOrderHold:         time.Duration(cfg.Approval.MaxOrderHoldSeconds) * time.Second,
		AutoPause:            cfg.Approval.AutoPause,
		AutoCancel:           cfg.Approval.AutoCancel,
		PriceTolerance:       cfg.Approval.PriceTolerance,
		NeutralBuyAdvantage:  cfg.Approval.NeutralBuyAdvantage,
		NeutralSellAdvantage: cfg.Approval.NeutralSellAdvantage,
		Thresholds: approval.Thresholds{
			StrongBullish: cfg.Approval.StrongBullish,
			Bullish:       cfg.Approval.Bullish,
			Bearish:       cfg.Approval.Bearish,
			StrongBearish: cfg.Approval.StrongBearish,
		},
		PriceWindowSize: cfg.Approval.PriceWindowSize,
	}, bridge, bridge, jrnl, prom, logr)

	// ── Wiring: one bar feeds both engines ──
	candleCh := make(chan model.Candle, 64)
	bridge.OnNewCandle(func(c model.Candle) {
		health.SetBridgeConnected(true)
		health.SetLastCandleTime(c.TS)
		apprEngine.OnCandle(c)
		select {
		case candleCh <- c:
		default:
			logr.Warn("candle channel full, dropping bar", slog.Time("ts", c.TS))
		}
	})

	go bridge.Run(ctx)
	go decEngine.Run(ctx, candleCh)
	go apprEngine.Run(ctx)

	// Startup balance for position sizing; retried until the session is up
	go func() {
		for {
			callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			balance, err := bridge.AccountBalance(callCtx)
			cancel()
			if err == nil {
				decEngine.SetBalance(balance)
				logr.Info("account balance loaded", slog.Float64("balance", balance))
				return
			}
			logr.Warn("balance fetch failed, retrying", slog.Any("error", err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(10 * time.Second):
			}
		}
	}()

	// Health upkeep: a silent feed for three bar periods marks the bridge
	// down, but only while the market is open. Weekend silence is normal.
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		stale := 3 * time.Duration(cfg.PeriodSeconds) * time.Second
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				last := decEngine.LastCandleTime()
				if !last.IsZero() && time.Since(last) > stale && markethours.IsMarketOpen(time.Now()) {
					health.SetBridgeConnected(false)
				}
				st := apprEngine.Status()
				health.SetOrderCounts(st.Pending, st.Active)
			}
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
}

// buildNotifier assembles the alert fan-out from the configured channels,
// falling back to log-only delivery when none are set.
func buildNotifier(cfg *config.Config) notification.Notifier {
	var backends []notification.Notifier
	if cfg.Notify.TelegramBotToken != "" && cfg.Notify.TelegramChatID != "" {
		backends = append(backends, notification.NewTelegramNotifier(cfg.Notify.TelegramBotToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.WebhookURL != "" {
		backends = append(backends, notification.NewWebhookNotifier(cfg.Notify.WebhookURL))
	}
	if len(backends) == 0 {
		return notification.NewLogNotifier()
	}
	return notification.NewMulti(backends...)
}
