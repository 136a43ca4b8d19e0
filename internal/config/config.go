// Package config loads service configuration from defaults, an optional YAML
// file and OPTIONS_* environment variables.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/atmx/options-engine/internal/market"
	"github.com/atmx/options-engine/internal/pricing"
)

// Oracle sources.
const (
	OracleStatic = "static"
	OracleRedis  = "redis"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Admins   []string       `mapstructure:"admins"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Risk     RiskConfig     `mapstructure:"risk"`
	Oracle   OracleConfig   `mapstructure:"oracle"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"` // empty selects the in-memory store
}

type RedisConfig struct {
	URL      string        `mapstructure:"url"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type EngineConfig struct {
	ExerciseTolerance    time.Duration `mapstructure:"exercise_tolerance"`
	MaxExpiry            time.Duration `mapstructure:"max_expiry"`
	CollateralMultiplier uint64        `mapstructure:"collateral_multiplier"`
	MinCollateralPct     uint64        `mapstructure:"min_collateral_pct"`
	OTMThresholdPct      uint64        `mapstructure:"otm_threshold_pct"`
}

type RiskConfig struct {
	MaxUtilizationBps uint64 `mapstructure:"max_utilization_bps"`
	MaxHolderShareBps uint64 `mapstructure:"max_holder_share_bps"`
}

type OracleConfig struct {
	Source string        `mapstructure:"source"`
	MaxAge time.Duration `mapstructure:"max_age"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads configuration. An empty configPath searches ./configs and the
// working directory for options.yaml; a missing file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	def := market.DefaultParams()
	v.SetDefault("server.port", "8080")
	v.SetDefault("database.url", "")
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.cache_ttl", 30*time.Second)
	v.SetDefault("admins", []string{})
	v.SetDefault("engine.exercise_tolerance", def.ExerciseTolerance)
	v.SetDefault("engine.max_expiry", def.MaxExpiry)
	v.SetDefault("engine.collateral_multiplier", def.Pricing.CollateralMultiplier)
	v.SetDefault("engine.min_collateral_pct", def.Pricing.MinCollateralPct)
	v.SetDefault("engine.otm_threshold_pct", def.Pricing.OTMThresholdPct)
	v.SetDefault("risk.max_utilization_bps", 8_000)
	v.SetDefault("risk.max_holder_share_bps", 2_500)
	v.SetDefault("oracle.source", OracleStatic)
	v.SetDefault("oracle.max_age", time.Minute)
	v.SetDefault("log.level", "info")

	v.SetEnvPrefix("OPTIONS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("options")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Env lists arrive comma-separated and may carry spaces.
	cfg.Admins = splitList(strings.Join(cfg.Admins, ","))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}
	if c.Oracle.Source != OracleStatic && c.Oracle.Source != OracleRedis {
		return fmt.Errorf("invalid oracle.source: %s (must be 'static' or 'redis')", c.Oracle.Source)
	}
	if c.Oracle.Source == OracleRedis && c.Redis.URL == "" {
		return fmt.Errorf("oracle.source=redis requires redis.url")
	}
	if c.Oracle.MaxAge < 0 {
		return fmt.Errorf("oracle.max_age must be >= 0")
	}
	if c.Risk.MaxUtilizationBps > 10_000 || c.Risk.MaxHolderShareBps > 10_000 {
		return fmt.Errorf("risk limits must be <= 10000 bps")
	}
	if err := c.MarketParams().Pricing.Validate(); err != nil {
		return err
	}
	if c.Engine.ExerciseTolerance < 0 {
		return fmt.Errorf("engine.exercise_tolerance must be >= 0")
	}
	if c.Engine.MaxExpiry <= 0 {
		return fmt.Errorf("engine.max_expiry must be positive")
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return fmt.Errorf("invalid log.level: %s", c.Log.Level)
	}
	return nil
}

// MarketParams maps the engine section onto market.Params.
func (c *Config) MarketParams() market.Params {
	return market.Params{
		Pricing: pricing.Params{
			CollateralMultiplier: c.Engine.CollateralMultiplier,
			MinCollateralPct:     c.Engine.MinCollateralPct,
			OTMThresholdPct:      c.Engine.OTMThresholdPct,
		},
		ExerciseTolerance: c.Engine.ExerciseTolerance,
		MaxExpiry:         c.Engine.MaxExpiry,
	}
}

// LogLevel returns the configured slog level, info when unparsable.
func (c *Config) LogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
