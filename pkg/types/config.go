// Package types provides configuration types for the trading backend.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// BacktestConfig represents the configuration for a backtest run
type BacktestConfig struct {
	ID                string           `json:"id"`
	Universe          []string         `json:"universe"`
	SectorMap         map[string]string `json:"sectorMap,omitempty"`
	StartDate         time.Time        `json:"startDate"`
	EndDate           time.Time        `json:"endDate"`
	RebalanceFreq     RebalanceFrequency `json:"rebalanceFreq"`
	TopN              int              `json:"topN"`
	MinCompositeScore float64          `json:"minCompositeScore"`
	InitialCapital    decimal.Decimal  `json:"initialCapital"`
	Commission        decimal.Decimal  `json:"commission"`
	Slippage          SlippageConfig   `json:"slippage"`
	RiskLimits        RiskLimits       `json:"riskLimits"`
	AdaptiveWeights   bool             `json:"adaptiveWeights"`
}

// RebalanceFrequency names how often the Backtest Engine rebalances.
type RebalanceFrequency string

const (
	RebalanceWeekly    RebalanceFrequency = "weekly"
	RebalanceMonthly   RebalanceFrequency = "monthly"
	RebalanceQuarterly RebalanceFrequency = "quarterly"
)

// Rule represents a trading rule (kept for strategy-overlay extensions).
type Rule struct {
	Indicator string      `json:"indicator"`
	Condition string      `json:"condition"`
	Value     interface{} `json:"value"`
	Lookback  int         `json:"lookback,omitempty"`
}

// SlippageConfig represents slippage model configuration
type SlippageConfig struct {
	Model          string          `json:"model"` // "fixed" or "volume_weighted"; anything else falls back to fixed 10bps
	FixedBps       decimal.Decimal `json:"fixedBps,omitempty"`
	ImpactFactor   decimal.Decimal `json:"impactFactor,omitempty"`
	VolumeFraction decimal.Decimal `json:"volumeFraction,omitempty"`
}

// RiskLimits represents the Risk Manager's configured thresholds (§4.6).
type RiskLimits struct {
	MaxPortfolioDrawdown   decimal.Decimal `json:"maxPortfolioDrawdown"`   // default 0.15
	CashBufferOnDrawdown   decimal.Decimal `json:"cashBufferOnDrawdown"`   // default 0.50
	StopLossHighQuality    decimal.Decimal `json:"stopLossHighQuality"`    // default 0.30
	StopLossMedQuality     decimal.Decimal `json:"stopLossMedQuality"`     // default 0.20
	StopLossLowQuality     decimal.Decimal `json:"stopLossLowQuality"`     // default 0.10
	MaxVolatility          decimal.Decimal `json:"maxVolatility"`          // default 0.25
	VolatilityScaleFactor  decimal.Decimal `json:"volatilityScaleFactor"`  // default 0.75
	MaxPositionSize        decimal.Decimal `json:"maxPositionSize"`        // default 0.10
	MaxSectorConcentration decimal.Decimal `json:"maxSectorConcentration"` // default 0.40
}

// DefaultRiskLimits returns the spec §4.6 default thresholds.
func DefaultRiskLimits() RiskLimits {
	return RiskLimits{
		MaxPortfolioDrawdown:   decimal.NewFromFloat(0.15),
		CashBufferOnDrawdown:   decimal.NewFromFloat(0.50),
		StopLossHighQuality:    decimal.NewFromFloat(0.30),
		StopLossMedQuality:     decimal.NewFromFloat(0.20),
		StopLossLowQuality:     decimal.NewFromFloat(0.10),
		MaxVolatility:          decimal.NewFromFloat(0.25),
		VolatilityScaleFactor:  decimal.NewFromFloat(0.75),
		MaxPositionSize:        decimal.NewFromFloat(0.10),
		MaxSectorConcentration: decimal.NewFromFloat(0.40),
	}
}

// BacktestResult represents the results of a backtest
type BacktestResult struct {
	ID              string              `json:"id"`
	Config          *BacktestConfig     `json:"config"`
	Metrics         *PerformanceMetrics `json:"metrics"`
	EquityCurve     []EquityPoint       `json:"equityCurve"`
	Trades          []Trade             `json:"trades"`
	RebalanceEvents []RebalanceEvent    `json:"rebalanceEvents"`
	RiskEvents      []RiskEvent         `json:"riskEvents"`
	StartedAt       time.Time           `json:"startedAt"`
	CompletedAt     time.Time           `json:"completedAt"`
	Duration        time.Duration       `json:"duration"`
	EngineVersion   string              `json:"engineVersion"`
	ProviderVariant string              `json:"providerVariant"`
	BiasNote        string              `json:"biasNote"`
}

// BacktestProgress represents the progress of a running backtest
type BacktestProgress struct {
	ID             string          `json:"id"`
	Status         string          `json:"status"` // "running", "completed", "failed", "cancelled"
	Progress       float64         `json:"progress"` // 0-100
	CurrentDate    time.Time       `json:"currentDate"`
	TradesExecuted int             `json:"tradesExecuted"`
	CurrentEquity  decimal.Decimal `json:"currentEquity"`
	Error          string          `json:"error,omitempty"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	WebSocketPath  string        `json:"websocketPath"`
	ReadTimeout    time.Duration `json:"readTimeout"`
	WriteTimeout   time.Duration `json:"writeTimeout"`
	MaxConnections int           `json:"maxConnections"`
	EnableMetrics  bool          `json:"enableMetrics"`
	MetricsPort    int           `json:"metricsPort"`
	AllowedOrigins []string      `json:"allowedOrigins"`
	Environment    string        `json:"environment"`
}

// ExecutorConfig configures the Parallel Executor (§4.3/§5).
type ExecutorConfig struct {
	AgentTimeout    time.Duration `json:"agentTimeout"`    // default 30s
	MaxRetries      int           `json:"maxRetries"`      // default 3
	BackoffMin      time.Duration `json:"backoffMin"`      // default 2s
	BackoffMax      time.Duration `json:"backoffMax"`      // default 10s
	BatchFanoutCap  int           `json:"batchFanoutCap"`  // default 10
}

// DefaultExecutorConfig returns the spec §4.3/§5 defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		AgentTimeout:   30 * time.Second,
		MaxRetries:     3,
		BackoffMin:     2 * time.Second,
		BackoffMax:     10 * time.Second,
		BatchFanoutCap: 10,
	}
}

// RegimeConfig configures the Regime Service (§4.2).
type RegimeConfig struct {
	CacheTTL        time.Duration `json:"cacheTTL"` // default 6h
	TrendWindow     int           `json:"trendWindow"`
	VolWindow       int           `json:"volWindow"`
	TrendThreshold  float64       `json:"trendThreshold"`
	HighVolThreshold float64      `json:"highVolThreshold"`
	LowVolThreshold  float64      `json:"lowVolThreshold"`
}

// DefaultRegimeConfig returns the spec §4.2 defaults.
func DefaultRegimeConfig() RegimeConfig {
	return RegimeConfig{
		CacheTTL:         6 * time.Hour,
		TrendWindow:      63, // ~3 trading months
		VolWindow:        21,
		TrendThreshold:   0.03,
		HighVolThreshold: 0.25,
		LowVolThreshold:  0.10,
	}
}

// CacheConfig configures the Analysis Cache (§4.4).
type CacheConfig struct {
	MaxSize    int           `json:"maxSize"`    // default 2000
	TTLSeconds time.Duration `json:"ttlSeconds"` // default 1200s
}

// DefaultCacheConfig returns the spec §4.4 defaults.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		MaxSize:    2000,
		TTLSeconds: 1200 * time.Second,
	}
}

// RunStoreConfig configures the persisted backtest-run store.
type RunStoreConfig struct {
	Dir      string `json:"dir"`
	Capacity int    `json:"capacity"` // default 100
}

// DefaultRunStoreConfig returns the default run-store configuration.
func DefaultRunStoreConfig() RunStoreConfig {
	return RunStoreConfig{
		Dir:      "./data/runs",
		Capacity: 100,
	}
}
