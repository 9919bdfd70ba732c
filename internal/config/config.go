// Package config resolves the process configuration from environment
// variables (prefixed EQUITYSCORE_) and an optional YAML/JSON config
// file, into the typed structs declared in pkg/types/config.go.
//
// Grounded in the other_examples cryptofunk agent main's viper usage
// (SetEnvPrefix/AutomaticEnv/SetConfigName/ReadInConfig) — no file in
// the teacher repository itself touches viper despite it sitting in
// the teacher's go.mod, so this package is new, built the way the rest
// of the retrieved corpus uses the library rather than inventing a
// fresh config idiom.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/marcusvale/equityscore/pkg/types"
)

// Config aggregates every component's typed configuration.
type Config struct {
	Server   types.ServerConfig
	Executor types.ExecutorConfig
	Regime   types.RegimeConfig
	Cache    types.CacheConfig
	RunStore types.RunStoreConfig
	Risk     types.RiskLimits

	AdaptiveWeights bool
	Benchmark       string
}

// Load builds a Config from defaults, an optional config file
// (equityscore.yaml/json in configPaths), and EQUITYSCORE_-prefixed
// environment variables, in that precedence order (env wins).
func Load(configPaths ...string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("EQUITYSCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("equityscore")
	v.SetConfigType("yaml")
	for _, p := range configPaths {
		v.AddConfigPath(p)
	}
	v.AddConfigPath(".")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return Config{}, fmt.Errorf("config: reading config file: %w", err)
		}
	}

	risk := types.DefaultRiskLimits()
	overrideDecimal(v, "risk.max_portfolio_drawdown", &risk.MaxPortfolioDrawdown)
	overrideDecimal(v, "risk.cash_buffer_on_drawdown", &risk.CashBufferOnDrawdown)
	overrideDecimal(v, "risk.stop_loss_high_quality", &risk.StopLossHighQuality)
	overrideDecimal(v, "risk.stop_loss_med_quality", &risk.StopLossMedQuality)
	overrideDecimal(v, "risk.stop_loss_low_quality", &risk.StopLossLowQuality)
	overrideDecimal(v, "risk.max_volatility", &risk.MaxVolatility)
	overrideDecimal(v, "risk.volatility_scale_factor", &risk.VolatilityScaleFactor)
	overrideDecimal(v, "risk.max_position_size", &risk.MaxPositionSize)
	overrideDecimal(v, "risk.max_sector_concentration", &risk.MaxSectorConcentration)

	cfg := Config{
		Server: types.ServerConfig{
			Host:           v.GetString("server.host"),
			Port:           v.GetInt("server.port"),
			WebSocketPath:  v.GetString("server.websocket_path"),
			ReadTimeout:    v.GetDuration("server.read_timeout"),
			WriteTimeout:   v.GetDuration("server.write_timeout"),
			MaxConnections: v.GetInt("server.max_connections"),
			EnableMetrics:  v.GetBool("server.enable_metrics"),
			MetricsPort:    v.GetInt("server.metrics_port"),
			AllowedOrigins: v.GetStringSlice("allowed_origins"),
			Environment:    v.GetString("environment"),
		},
		Executor: types.ExecutorConfig{
			AgentTimeout:   v.GetDuration("executor.agent_timeout"),
			MaxRetries:     v.GetInt("executor.max_retries"),
			BackoffMin:     v.GetDuration("executor.backoff_min"),
			BackoffMax:     v.GetDuration("executor.backoff_max"),
			BatchFanoutCap: v.GetInt("executor.batch_fanout_cap"),
		},
		Regime: types.RegimeConfig{
			CacheTTL:         v.GetDuration("regime.cache_ttl"),
			TrendWindow:      v.GetInt("regime.trend_window"),
			VolWindow:        v.GetInt("regime.vol_window"),
			TrendThreshold:   v.GetFloat64("regime.trend_threshold"),
			HighVolThreshold: v.GetFloat64("regime.high_vol_threshold"),
			LowVolThreshold:  v.GetFloat64("regime.low_vol_threshold"),
		},
		Cache: types.CacheConfig{
			MaxSize:    v.GetInt("cache.max_size"),
			TTLSeconds: v.GetDuration("cache.ttl_seconds"),
		},
		RunStore: types.RunStoreConfig{
			Dir:      v.GetString("backtest.run_store_dir"),
			Capacity: v.GetInt("backtest.run_store_cap"),
		},
		Risk:            risk,
		AdaptiveWeights: v.GetBool("enable_adaptive_weights"),
		Benchmark:       v.GetString("benchmark"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.websocket_path", "/ws")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.max_connections", 200)
	v.SetDefault("server.enable_metrics", true)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("allowed_origins", []string{"*"})
	v.SetDefault("environment", "development")

	defaultExec := types.DefaultExecutorConfig()
	v.SetDefault("executor.agent_timeout", defaultExec.AgentTimeout)
	v.SetDefault("executor.max_retries", defaultExec.MaxRetries)
	v.SetDefault("executor.backoff_min", defaultExec.BackoffMin)
	v.SetDefault("executor.backoff_max", defaultExec.BackoffMax)
	v.SetDefault("executor.batch_fanout_cap", defaultExec.BatchFanoutCap)

	defaultRegime := types.DefaultRegimeConfig()
	v.SetDefault("regime.cache_ttl", defaultRegime.CacheTTL)
	v.SetDefault("regime.trend_window", defaultRegime.TrendWindow)
	v.SetDefault("regime.vol_window", defaultRegime.VolWindow)
	v.SetDefault("regime.trend_threshold", defaultRegime.TrendThreshold)
	v.SetDefault("regime.high_vol_threshold", defaultRegime.HighVolThreshold)
	v.SetDefault("regime.low_vol_threshold", defaultRegime.LowVolThreshold)

	defaultCache := types.DefaultCacheConfig()
	v.SetDefault("cache.max_size", defaultCache.MaxSize)
	v.SetDefault("cache.ttl_seconds", defaultCache.TTLSeconds)

	defaultRunStore := types.DefaultRunStoreConfig()
	v.SetDefault("backtest.run_store_dir", defaultRunStore.Dir)
	v.SetDefault("backtest.run_store_cap", defaultRunStore.Capacity)

	v.SetDefault("enable_adaptive_weights", true)
	v.SetDefault("benchmark", "SPY")
}

func overrideDecimal(v *viper.Viper, key string, field *decimal.Decimal) {
	s := v.GetString(key)
	if s == "" {
		return
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return
	}
	*field = d
}
