package config

import (
	"errors"
	"fmt"
)

var convictionLevels = map[string]bool{
	"BELOW_LOW":  true,
	"LOW":        true,
	"MEDIUM":     true,
	"HIGH":       true,
	"ABOVE_HIGH": true,
	"HIGHEST":    true,
}

// Validate ensures required fields are present and thresholds are sane.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return errors.New("env is required")
	}
	if cfg.Capital <= 0 {
		return errors.New("capital must be > 0")
	}
	if cfg.Server.APIKey == "" {
		return errors.New("server.apiKey is required (or SG_API_KEY)")
	}
	if cfg.Risk.MinRiskReward <= 0 {
		return errors.New("risk.minRiskReward must be > 0")
	}
	if cfg.Risk.MaxPositionPercent <= 0 || cfg.Risk.MaxPositionPercent > 1 {
		return errors.New("risk.maxPositionPercent must be in (0, 1]")
	}
	for level, pct := range cfg.Risk.ConvictionTable {
		if !convictionLevels[level] {
			return fmt.Errorf("risk.convictionTable: unknown level %q", level)
		}
		if pct <= 0 || pct > 0.10 {
			return fmt.Errorf("risk.convictionTable[%s]: %v out of (0, 0.10]", level, pct)
		}
	}
	if cfg.Portfolio.MaxPositions <= 0 {
		return errors.New("portfolio.maxPositions must be > 0")
	}
	if cfg.Portfolio.MaxDailyLossPercent <= 0 || cfg.Portfolio.MaxDailyLossPercent >= 1 {
		return errors.New("portfolio.maxDailyLossPercent must be in (0, 1)")
	}
	if cfg.Portfolio.MaxTradesPerDay <= 0 {
		return errors.New("portfolio.maxTradesPerDay must be > 0")
	}
	if cfg.Portfolio.MaxSectorExposurePercent <= 0 || cfg.Portfolio.MaxSectorExposurePercent > 1 {
		return errors.New("portfolio.maxSectorExposurePercent must be in (0, 1]")
	}
	for _, g := range cfg.Portfolio.CorrelationGroups {
		if g.Name == "" {
			return errors.New("portfolio.correlationGroups: name is required")
		}
		if g.Correlation < 0 || g.Correlation > 1 {
			return fmt.Errorf("portfolio.correlationGroups[%s]: correlation %v out of [0, 1]", g.Name, g.Correlation)
		}
		if len(g.Symbols) < 2 {
			return fmt.Errorf("portfolio.correlationGroups[%s]: needs at least 2 symbols", g.Name)
		}
	}
	if !cfg.Execution.DryRun {
		if cfg.Execution.BaseURL == "" {
			return errors.New("execution.baseURL is required unless dryRun")
		}
		if cfg.Execution.APIKey == "" {
			return errors.New("execution.apiKey is required unless dryRun (or SG_BROKER_API_KEY)")
		}
	}
	if cfg.PriceFeed.Enabled && cfg.PriceFeed.URL == "" {
		return errors.New("priceFeed.url is required when enabled")
	}
	if _, err := cfg.Session.Location(); err != nil {
		return fmt.Errorf("session.timezone: %w", err)
	}
	return nil
}
