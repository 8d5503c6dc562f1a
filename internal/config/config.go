// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/kaigouthro/trading-server/internal/timeframe"
	"github.com/kaigouthro/trading-server/internal/types"
)

// Config represents the full application configuration.
type Config struct {
	Venues      []VenueConfig      `yaml:"venues"`
	Strategies  []StrategyConfig   `yaml:"strategies"`
	Engine      EngineConfig       `yaml:"engine"`
	Persistence PersistenceConfig  `yaml:"persistence"`
	Metrics     MetricsConfig      `yaml:"metrics"`
	Alerting    AlertingConfig     `yaml:"alerting"`
}

// VenueConfig holds one venue connection and its tradeable instruments.
// Key material normally arrives via environment expansion, e.g.
// api_key: ${BITMEX_API_KEY}.
type VenueConfig struct {
	Name               string             `yaml:"name"`
	BaseURL            string             `yaml:"base_url"`
	WSURL              string             `yaml:"ws_url"`
	APIKey             string             `yaml:"api_key"`
	APISecret          string             `yaml:"api_secret"`
	RateLimitPerSecond int                `yaml:"rate_limit_per_second"`
	RequestTimeoutSec  int                `yaml:"request_timeout_sec"`
	Instruments        []InstrumentConfig `yaml:"instruments"`
}

// InstrumentConfig holds one tradeable symbol on a venue.
type InstrumentConfig struct {
	Symbol       string `yaml:"symbol"`
	MinIncrement string `yaml:"min_increment"`
}

// StrategyConfig binds a registered model to venues, symbols and timeframes.
type StrategyConfig struct {
	Name        string              `yaml:"name"`
	Timeframes  []string            `yaml:"timeframes"`
	Instruments map[string][]string `yaml:"instruments"` // venue -> symbols
}

// EngineConfig holds orchestration settings.
type EngineConfig struct {
	ReconcileIntervalSec int  `yaml:"reconcile_interval_sec"`
	BarFetchCount        int  `yaml:"bar_fetch_count"`
	ShutdownTimeoutSec   int  `yaml:"shutdown_timeout_sec"`
	CancelOnShutdown     bool `yaml:"cancel_on_shutdown"`
}

// PersistenceConfig holds the audit store settings.
type PersistenceConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MetricsConfig holds metrics server settings.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// AlertingConfig holds alerting settings.
type AlertingConfig struct {
	Enabled bool     `yaml:"enabled"`
	Events  []string `yaml:"events"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from YAML bytes.
func LoadFromBytes(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration, collecting every problem rather than
// stopping at the first. Defaults are filled here.
func (c *Config) Validate() error {
	var errs []string

	if len(c.Venues) == 0 {
		errs = append(errs, "at least one venue is required")
	}

	venueSymbols := make(map[string]map[string]bool)
	for i, v := range c.Venues {
		if v.Name == "" {
			errs = append(errs, fmt.Sprintf("venues[%d].name is required", i))
			continue
		}
		if _, dup := venueSymbols[v.Name]; dup {
			errs = append(errs, fmt.Sprintf("venue '%s' defined more than once", v.Name))
			continue
		}
		if v.BaseURL == "" {
			errs = append(errs, fmt.Sprintf("venue '%s': base_url is required", v.Name))
		}
		if len(v.Instruments) == 0 {
			errs = append(errs, fmt.Sprintf("venue '%s': at least one instrument is required", v.Name))
		}

		symbols := make(map[string]bool)
		for _, inst := range v.Instruments {
			if inst.Symbol == "" {
				errs = append(errs, fmt.Sprintf("venue '%s': instrument symbol is required", v.Name))
				continue
			}
			inc, err := decimal.NewFromString(inst.MinIncrement)
			if err != nil || !inc.IsPositive() {
				errs = append(errs, fmt.Sprintf("venue '%s' instrument '%s': min_increment must be a positive decimal", v.Name, inst.Symbol))
			}
			symbols[inst.Symbol] = true
		}
		venueSymbols[v.Name] = symbols
	}

	if len(c.Strategies) == 0 {
		errs = append(errs, "at least one strategy is required")
	}
	for i, s := range c.Strategies {
		if s.Name == "" {
			errs = append(errs, fmt.Sprintf("strategies[%d].name is required", i))
		}
		if len(s.Timeframes) == 0 {
			errs = append(errs, fmt.Sprintf("strategy '%s': at least one timeframe is required", s.Name))
		}
		for _, tf := range s.Timeframes {
			if _, _, err := timeframe.Parse(tf); err != nil {
				errs = append(errs, fmt.Sprintf("strategy '%s': invalid timeframe '%s'", s.Name, tf))
			}
		}

		if len(s.Instruments) == 0 {
			errs = append(errs, fmt.Sprintf("strategy '%s': at least one instrument is required", s.Name))
		}
		for venueName, symbols := range s.Instruments {
			known, ok := venueSymbols[venueName]
			if !ok {
				errs = append(errs, fmt.Sprintf("strategy '%s': unknown venue '%s'", s.Name, venueName))
				continue
			}
			for _, symbol := range symbols {
				if !known[symbol] {
					errs = append(errs, fmt.Sprintf("strategy '%s': symbol '%s' not configured on venue '%s'", s.Name, symbol, venueName))
				}
			}
		}
	}

	// Defaults
	if c.Engine.ReconcileIntervalSec <= 0 {
		c.Engine.ReconcileIntervalSec = 30
	}
	if c.Engine.BarFetchCount <= 0 {
		c.Engine.BarFetchCount = 150
	}
	if c.Engine.ShutdownTimeoutSec <= 0 {
		c.Engine.ShutdownTimeoutSec = 10
	}
	if c.Metrics.Enabled && c.Metrics.Port <= 0 {
		c.Metrics.Port = 9090
	}
	if c.Persistence.Enabled && c.Persistence.Path == "" {
		errs = append(errs, "persistence.path is required when persistence is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", types.ErrInvalidConfig, strings.Join(errs, "; "))
	}

	return nil
}

// Venue returns the config for a venue name.
func (c *Config) Venue(name string) (VenueConfig, error) {
	for _, v := range c.Venues {
		if v.Name == name {
			return v, nil
		}
	}
	return VenueConfig{}, fmt.Errorf("%w: venue %q", types.ErrUnknownInstrument, name)
}

// MinIncrements returns a venue's symbol -> increment mapping. Validation
// guarantees parseability.
func (v VenueConfig) MinIncrements() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(v.Instruments))
	for _, inst := range v.Instruments {
		inc, err := decimal.NewFromString(inst.MinIncrement)
		if err != nil {
			continue
		}
		out[inst.Symbol] = inc
	}
	return out
}

// Symbols returns a venue's configured symbols in declaration order.
func (v VenueConfig) Symbols() []string {
	out := make([]string, 0, len(v.Instruments))
	for _, inst := range v.Instruments {
		out = append(out, inst.Symbol)
	}
	return out
}

// RequestTimeout returns the venue request timeout duration.
func (v VenueConfig) RequestTimeout() time.Duration {
	if v.RequestTimeoutSec <= 0 {
		return 10 * time.Second
	}
	return time.Duration(v.RequestTimeoutSec) * time.Second
}

// ReconcileInterval returns the reconciliation loop period.
func (c *Config) ReconcileInterval() time.Duration {
	return time.Duration(c.Engine.ReconcileIntervalSec) * time.Second
}

// ShutdownTimeout returns the shutdown timeout duration.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Engine.ShutdownTimeoutSec) * time.Second
}

// IsAlertEventEnabled checks if an alert event type is enabled.
func (c *Config) IsAlertEventEnabled(event string) bool {
	if !c.Alerting.Enabled {
		return false
	}
	// If no events specified, all are enabled
	if len(c.Alerting.Events) == 0 {
		return true
	}
	for _, e := range c.Alerting.Events {
		if e == event || e == "all" {
			return true
		}
	}
	return false
}
