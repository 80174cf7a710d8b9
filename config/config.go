// Package config loads the daemon configuration. Precedence, lowest to
// highest: built-in defaults, an optional YAML file (CONFIG_FILE or
// ./config.yaml), then environment variables. A .env file in the working
// directory is folded into the environment first. All values are read-only
// after Load returns.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Service  string `yaml:"service"`
	LogLevel string `yaml:"log_level"`

	Symbol        string `yaml:"symbol"`
	PeriodSeconds int    `yaml:"period_seconds"`
	Strategy      string `yaml:"strategy"` // trend_following | simple_threshold | user_order_approval

	Bridge   BridgeConfig   `yaml:"bridge"`
	Decision DecisionConfig `yaml:"decision"`
	Risk     RiskConfig     `yaml:"risk"`
	Approval ApprovalConfig `yaml:"approval"`
	Redis    RedisConfig    `yaml:"redis"`
	Notify   NotifyConfig   `yaml:"notify"`

	SQLitePath  string `yaml:"sqlite_path"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// BridgeConfig is the MT5 gateway connection block.
type BridgeConfig struct {
	URL        string `yaml:"url"`
	Account    string `yaml:"account"`
	Password   string `yaml:"password"`
	TOTPSecret string `yaml:"totp_secret"`
}

// DecisionConfig drives the per-bar proposal engine.
type DecisionConfig struct {
	StrictConfirmation   bool `yaml:"strict_confirmation"`
	MACDConfirmation     bool `yaml:"macd_confirmation"`
	CheckMarketStructure bool `yaml:"check_market_structure"`

	FastPeriod    int `yaml:"fast_period"`
	SlowPeriod    int `yaml:"slow_period"`
	SignalPeriod  int `yaml:"signal_period"`
	HistoryBars   int `yaml:"history_bars"`
	StructureBars int `yaml:"structure_bars"`

	EntryOnOpen bool `yaml:"entry_on_open"`

	// simple_threshold strategy band
	UpperThreshold float64 `yaml:"upper_threshold"`
	LowerThreshold float64 `yaml:"lower_threshold"`
}

// RiskConfig drives position sizing.
type RiskConfig struct {
	RiskPerTrade    float64 `yaml:"risk_per_trade"`
	RewardRatio     float64 `yaml:"reward_ratio"`
	StopLossBuffer  float64 `yaml:"stop_loss_buffer"`
	MaxPositionSize float64 `yaml:"max_position_size"`
}

// ApprovalConfig drives the user-order approval engine.
type ApprovalConfig struct {
	ScanIntervalSeconds    int `yaml:"scan_interval_seconds"`
	CleanupIntervalSeconds int `yaml:"cleanup_interval_seconds"`
	DecisionSecond         int `yaml:"decision_second"`
	MaxOrderHoldSeconds    int `yaml:"max_order_hold_seconds"`

	AutoPause  bool `yaml:"auto_pause"`
	AutoCancel bool `yaml:"auto_cancel"`

	PriceTolerance       float64 `yaml:"price_tolerance"`
	NeutralBuyAdvantage  float64 `yaml:"neutral_buy_advantage"`
	NeutralSellAdvantage float64 `yaml:"neutral_sell_advantage"`

	// Signed percent-change thresholds, strong_bullish > bullish > bearish > strong_bearish
	StrongBullish float64 `yaml:"strong_bullish"`
	Bullish       float64 `yaml:"bullish"`
	Bearish       float64 `yaml:"bearish"`
	StrongBearish float64 `yaml:"strong_bearish"`

	PriceWindowSize int `yaml:"price_window_size"`
}

// NotifyConfig selects alert channels. Empty fields disable that channel;
// with nothing configured, alerts go to the structured log only.
type NotifyConfig struct {
	TelegramBotToken string `yaml:"telegram_bot_token"`
	TelegramChatID   string `yaml:"telegram_chat_id"`
	WebhookURL       string `yaml:"webhook_url"`
}

// RedisConfig is the journal Redis block. Disabled when Addr is empty.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Load reads configuration and validates it.
func Load() (*Config, error) {
	// Best-effort: absence of .env is the normal case in containers
	_ = godotenv.Load()

	cfg := defaults()

	path := getEnv("CONFIG_FILE", "config.yaml")
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	} else if os.Getenv("CONFIG_FILE") != "" {
		// An explicitly named file must exist
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Service:       "decisiond",
		LogLevel:      "info",
		Symbol:        "EURUSD",
		PeriodSeconds: 60,
		Strategy:      "trend_following",
		Bridge: BridgeConfig{
			URL: "ws://localhost:8765/ws",
		},
		Decision: DecisionConfig{
			StrictConfirmation:   true,
			MACDConfirmation:     true,
			CheckMarketStructure: true,
			FastPeriod:           12,
			SlowPeriod:           26,
			SignalPeriod:         9,
			HistoryBars:          200,
			StructureBars:        5,
		},
		Risk: RiskConfig{
			RiskPerTrade:    0.02,
			RewardRatio:     2.0,
			StopLossBuffer:  0.0050,
			MaxPositionSize: 5.0,
		},
		Approval: ApprovalConfig{
			ScanIntervalSeconds:    3,
			CleanupIntervalSeconds: 10,
			DecisionSecond:         45,
			MaxOrderHoldSeconds:    300,
			PriceTolerance:         20,
			NeutralBuyAdvantage:    0.5,
			NeutralSellAdvantage:   0.5,
			StrongBullish:          0.05,
			Bullish:                0.02,
			Bearish:                -0.02,
			StrongBearish:          -0.05,
			PriceWindowSize:        10,
		},
		SQLitePath:  "data/decisions.db",
		MetricsAddr: ":9090",
	}
}

// applyEnv overlays environment variables onto cfg.
func applyEnv(c *Config) {
	setStr(&c.Service, "SERVICE_NAME")
	setStr(&c.LogLevel, "LOG_LEVEL")
	setStr(&c.Symbol, "SYMBOL")
	setInt(&c.PeriodSeconds, "PERIOD_SECONDS")
	setStr(&c.Strategy, "STRATEGY")

	setStr(&c.Bridge.URL, "MT5_BRIDGE_URL")
	setStr(&c.Bridge.Account, "MT5_ACCOUNT")
	setStr(&c.Bridge.Password, "MT5_PASSWORD")
	setStr(&c.Bridge.TOTPSecret, "MT5_TOTP_SECRET")

	setBool(&c.Decision.StrictConfirmation, "STRICT_CONFIRMATION")
	setBool(&c.Decision.MACDConfirmation, "MACD_CONFIRMATION")
	setBool(&c.Decision.CheckMarketStructure, "CHECK_MARKET_STRUCTURE")
	setInt(&c.Decision.FastPeriod, "FAST_PERIOD")
	setInt(&c.Decision.SlowPeriod, "SLOW_PERIOD")
	setInt(&c.Decision.SignalPeriod, "SIGNAL_PERIOD")
	setInt(&c.Decision.HistoryBars, "HISTORY_BARS")
	setInt(&c.Decision.StructureBars, "STRUCTURE_BARS")
	setBool(&c.Decision.EntryOnOpen, "ENTRY_ON_OPEN")
	setFloat(&c.Decision.UpperThreshold, "UPPER_THRESHOLD")
	setFloat(&c.Decision.LowerThreshold, "LOWER_THRESHOLD")

	setFloat(&c.Risk.RiskPerTrade, "RISK_PER_TRADE")
	setFloat(&c.Risk.RewardRatio, "RISK_REWARD_RATIO")
	setFloat(&c.Risk.StopLossBuffer, "STOP_LOSS_BUFFER")
	setFloat(&c.Risk.MaxPositionSize, "MAX_POSITION_SIZE")

	setInt(&c.Approval.ScanIntervalSeconds, "SCAN_INTERVAL_SECONDS")
	setInt(&c.Approval.CleanupIntervalSeconds, "CLEANUP_INTERVAL_SECONDS")
	setInt(&c.Approval.DecisionSecond, "DECISION_SECOND")
	setInt(&c.Approval.MaxOrderHoldSeconds, "MAX_ORDER_HOLD_SECONDS")
	setBool(&c.Approval.AutoPause, "AUTO_PAUSE_ORDERS")
	setBool(&c.Approval.AutoCancel, "AUTO_CANCEL_ORDERS")
	setFloat(&c.Approval.PriceTolerance, "PRICE_TOLERANCE")
	setFloat(&c.Approval.NeutralBuyAdvantage, "NEUTRAL_BUY_ADVANTAGE")
	setFloat(&c.Approval.NeutralSellAdvantage, "NEUTRAL_SELL_ADVANTAGE")
	setFloat(&c.Approval.StrongBullish, "THRESHOLD_STRONG_BULLISH")
	setFloat(&c.Approval.Bullish, "THRESHOLD_BULLISH")
	setFloat(&c.Approval.Bearish, "THRESHOLD_BEARISH")
	setFloat(&c.Approval.StrongBearish, "THRESHOLD_STRONG_BEARISH")
	setInt(&c.Approval.PriceWindowSize, "PRICE_WINDOW_SIZE")

	setStr(&c.Redis.Addr, "REDIS_ADDR")
	setStr(&c.Redis.Password, "REDIS_PASSWORD")
	setInt(&c.Redis.DB, "REDIS_DB")

	setStr(&c.Notify.TelegramBotToken, "TELEGRAM_BOT_TOKEN")
	setStr(&c.Notify.TelegramChatID, "TELEGRAM_CHAT_ID")
	setStr(&c.Notify.WebhookURL, "NOTIFY_WEBHOOK_URL")

	setStr(&c.SQLitePath, "SQLITE_PATH")
	setStr(&c.MetricsAddr, "METRICS_ADDR")
}

func (c *Config) validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("config: symbol must be set")
	}
	if c.PeriodSeconds <= 0 {
		return fmt.Errorf("config: period_seconds must be positive, got %d", c.PeriodSeconds)
	}
	switch c.Strategy {
	case "trend_following", "simple_threshold", "user_order_approval":
	default:
		return fmt.Errorf("config: unknown strategy %q", c.Strategy)
	}
	if c.Risk.RiskPerTrade <= 0 || c.Risk.RiskPerTrade > 0.1 {
		return fmt.Errorf("config: risk_per_trade must be in (0, 0.1], got %g", c.Risk.RiskPerTrade)
	}
	if c.Decision.FastPeriod >= c.Decision.SlowPeriod {
		return fmt.Errorf("config: fast_period (%d) must be below slow_period (%d)",
			c.Decision.FastPeriod, c.Decision.SlowPeriod)
	}
	if s := c.Approval.DecisionSecond; s < 0 || s >= c.PeriodSeconds {
		return fmt.Errorf("config: decision_second must be in [0, %d), got %d", c.PeriodSeconds, s)
	}
	a := c.Approval
	if !(a.StrongBullish > a.Bullish && a.Bullish > a.Bearish && a.Bearish > a.StrongBearish) {
		return fmt.Errorf("config: trend thresholds must satisfy strong_bullish > bullish > bearish > strong_bearish")
	}
	return nil
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			*dst = b
		}
	}
}
