package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"signal-gate-go/infrastructure/logger"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env       string          `yaml:"env"`
	Server    ServerConfig    `yaml:"server"`
	Capital   float64         `yaml:"capital"`
	Risk      RiskConfig      `yaml:"risk"`
	Portfolio PortfolioConfig `yaml:"portfolio"`
	Execution ExecutionConfig `yaml:"execution"`
	PriceFeed PriceFeedConfig `yaml:"priceFeed"`
	Session   SessionConfig   `yaml:"session"`
	Alerts    AlertConfig     `yaml:"alerts"`
	Logger    logger.Config   `yaml:"logger"`
}

type ServerConfig struct {
	Addr               string `yaml:"addr"`
	APIKey             string `yaml:"apiKey"`
	RateLimitPerMinute int    `yaml:"rateLimitPerMinute"`
	MaxBodyBytes       int64  `yaml:"maxBodyBytes"`
	MetricsAddr        string `yaml:"metricsAddr"`
}

type RiskConfig struct {
	// ConvictionTable 信念等级→单笔风险比例；键为 BELOW_LOW..HIGHEST
	ConvictionTable    map[string]float64 `yaml:"convictionTable"`
	MaxPositionPercent float64            `yaml:"maxPositionPercent"`
	MinRiskReward      float64            `yaml:"minRiskReward"`
	RequireTarget      bool               `yaml:"requireTarget"`
}

type PortfolioConfig struct {
	MaxPositions             int               `yaml:"maxPositions"`
	MaxDailyLossPercent      float64           `yaml:"maxDailyLossPercent"`
	MaxTradesPerDay          int               `yaml:"maxTradesPerDay"`
	MaxSectorExposurePercent float64           `yaml:"maxSectorExposurePercent"`
	MaxCorrelation           float64           `yaml:"maxCorrelation"`
	CorrelationGroups        []GroupConfig     `yaml:"correlationGroups"`
	Sectors                  map[string]string `yaml:"sectors"` // symbol → sector
	LockTimeoutMs            int               `yaml:"lockTimeoutMs"`
}

type GroupConfig struct {
	Name        string   `yaml:"name"`
	Correlation float64  `yaml:"correlation"`
	Symbols     []string `yaml:"symbols"`
}

type ExecutionConfig struct {
	BaseURL        string  `yaml:"baseURL"`
	APIKey         string  `yaml:"apiKey"`
	DryRun         bool    `yaml:"dryRun"`
	RatePerSecond  float64 `yaml:"ratePerSecond"`
	Burst          int     `yaml:"burst"`
	MaxRetries     int     `yaml:"maxRetries"`
	RetryBackoffMs int     `yaml:"retryBackoffMs"`
}

type PriceFeedConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

type SessionConfig struct {
	Timezone           string `yaml:"timezone"`           // IANA 名称，如 Asia/Kolkata
	ResetOffsetMinutes int    `yaml:"resetOffsetMinutes"` // 距 00:00 的偏移
}

type AlertConfig struct {
	Enabled            bool   `yaml:"enabled"`
	ThrottleSeconds    int    `yaml:"throttleSeconds"`
	LogFile            string `yaml:"logFile"`
	DailyLossAlertOnly bool   `yaml:"dailyLossAlertOnly"`
}

// LockTimeout 组合锁获取超时。
func (p PortfolioConfig) LockTimeout() time.Duration {
	if p.LockTimeoutMs <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(p.LockTimeoutMs) * time.Millisecond
}

// RetryBackoff 下单重试退避基值。
func (e ExecutionConfig) RetryBackoff() time.Duration {
	if e.RetryBackoffMs <= 0 {
		return 100 * time.Millisecond
	}
	return time.Duration(e.RetryBackoffMs) * time.Millisecond
}

// Location 解析会话时区，空值回落到本地时区。
func (s SessionConfig) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(s.Timezone)
}

// Load reads YAML config from path and applies basic validation.
func Load(path string) (AppConfig, error) {
	var cfg AppConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	applyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides sensitive fields from env vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("SG_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("SG_BROKER_API_KEY"); v != "" {
		cfg.Execution.APIKey = v
	}
	return cfg, Validate(cfg)
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.RateLimitPerMinute == 0 {
		cfg.Server.RateLimitPerMinute = 60
	}
	if cfg.Risk.MinRiskReward == 0 {
		cfg.Risk.MinRiskReward = 2.5
	}
	if cfg.Risk.MaxPositionPercent == 0 {
		cfg.Risk.MaxPositionPercent = 0.30
	}
	if cfg.Portfolio.MaxPositions == 0 {
		cfg.Portfolio.MaxPositions = 3
	}
	if cfg.Portfolio.MaxDailyLossPercent == 0 {
		cfg.Portfolio.MaxDailyLossPercent = 0.03
	}
	if cfg.Portfolio.MaxTradesPerDay == 0 {
		cfg.Portfolio.MaxTradesPerDay = 5
	}
	if cfg.Portfolio.MaxSectorExposurePercent == 0 {
		cfg.Portfolio.MaxSectorExposurePercent = 0.40
	}
	if cfg.Portfolio.MaxCorrelation == 0 {
		cfg.Portfolio.MaxCorrelation = 0.7
	}
	if cfg.Execution.MaxRetries == 0 {
		cfg.Execution.MaxRetries = 3
	}
	if cfg.Logger.Level == "" {
		cfg.Logger = logger.DefaultConfig()
	}
}
