// Package config loads and validates the application configuration from
// file and environment.
package config

import (
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/shopglide/cartcore/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Cart      CartConfig      `yaml:"cart" mapstructure:"cart"`
	Catalog   CatalogConfig   `yaml:"catalog" mapstructure:"catalog"`
	Rewards   RewardsConfig   `yaml:"rewards" mapstructure:"rewards"`
	Recommend RecommendConfig `yaml:"recommend" mapstructure:"recommend"`
	Analytics AnalyticsConfig `yaml:"analytics" mapstructure:"analytics"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// CartConfig configures the storefront cart client.
type CartConfig struct {
	BaseURL         string `yaml:"base_url" mapstructure:"base_url"`
	PrefetchTTLSecs int    `yaml:"prefetch_ttl_secs" mapstructure:"prefetch_ttl_secs"`
}

// CatalogConfig configures the product catalog client.
type CatalogConfig struct {
	BaseURL         string  `yaml:"base_url" mapstructure:"base_url"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec" mapstructure:"rate_limit_per_sec"`
	CacheTTLMins    int     `yaml:"cache_ttl_mins" mapstructure:"cache_ttl_mins"`
}

// ThresholdConfig is one configured reward threshold.
type ThresholdConfig struct {
	ID            string `yaml:"id" mapstructure:"id"`
	AmountCents   int64  `yaml:"amount_cents" mapstructure:"amount_cents"`
	Kind          string `yaml:"kind" mapstructure:"kind"`
	ProductID     string `yaml:"product_id" mapstructure:"product_id"`
	ProductHandle string `yaml:"product_handle" mapstructure:"product_handle"`
	Title         string `yaml:"title" mapstructure:"title"`
}

// RewardsConfig configures the spend-based reward ladder.
type RewardsConfig struct {
	Thresholds []ThresholdConfig `yaml:"thresholds" mapstructure:"thresholds"`
}

// RecommendConfig configures the recommendation engine.
type RecommendConfig struct {
	RulesPath            string `yaml:"rules_path" mapstructure:"rules_path"`
	MaxVisible           int    `yaml:"max_visible" mapstructure:"max_visible"`
	MinCount             int    `yaml:"min_count" mapstructure:"min_count"`
	DebounceMillis       int    `yaml:"debounce_millis" mapstructure:"debounce_millis"`
	RerankEnabled        bool   `yaml:"rerank_enabled" mapstructure:"rerank_enabled"`
	RerankToleranceCents int64  `yaml:"rerank_tolerance_cents" mapstructure:"rerank_tolerance_cents"`
}

// AnalyticsConfig configures the interaction event sink.
type AnalyticsConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CARTCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "cartcore.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("cart.prefetch_ttl_secs", 5)
	v.SetDefault("catalog.rate_limit_per_sec", 10)
	v.SetDefault("catalog.cache_ttl_mins", 10)
	v.SetDefault("recommend.rules_path", "rules.yaml")
	v.SetDefault("recommend.max_visible", 4)
	v.SetDefault("recommend.min_count", 4)
	v.SetDefault("recommend.debounce_millis", 150)
	v.SetDefault("recommend.rerank_tolerance_cents", 1000)
	v.SetDefault("analytics.enabled", true)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the configuration and normalizes the threshold ladder to
// ascending order. It is called once after Load.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
	}

	if c.Cart.BaseURL == "" {
		return eris.New("config: cart.base_url is required")
	}

	seen := make(map[string]bool, len(c.Rewards.Thresholds))
	for _, th := range c.Rewards.Thresholds {
		if th.ID == "" {
			return eris.New("config: threshold id is required")
		}
		if seen[th.ID] {
			return eris.Errorf("config: duplicate threshold id %q", th.ID)
		}
		seen[th.ID] = true
		if th.AmountCents <= 0 {
			return eris.Errorf("config: threshold %s amount must be positive", th.ID)
		}
		switch model.ThresholdKind(th.Kind) {
		case model.ThresholdFreeShipping:
		case model.ThresholdGift:
			if th.ProductID == "" {
				return eris.Errorf("config: gift threshold %s needs a product_id", th.ID)
			}
		default:
			return eris.Errorf("config: threshold %s has unknown kind %q", th.ID, th.Kind)
		}
	}

	sort.SliceStable(c.Rewards.Thresholds, func(i, j int) bool {
		return c.Rewards.Thresholds[i].AmountCents < c.Rewards.Thresholds[j].AmountCents
	})
	return nil
}

// Thresholds converts the configured ladder to the model form. Validate
// must have run first so the slice is ascending.
func (c *Config) Thresholds() []model.RewardThreshold {
	out := make([]model.RewardThreshold, 0, len(c.Rewards.Thresholds))
	for _, th := range c.Rewards.Thresholds {
		out = append(out, model.RewardThreshold{
			ID:            th.ID,
			AmountCents:   th.AmountCents,
			Kind:          model.ThresholdKind(th.Kind),
			ProductID:     th.ProductID,
			ProductHandle: th.ProductHandle,
			Title:         th.Title,
		})
	}
	return out
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
