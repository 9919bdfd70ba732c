// Command server wires the Provider, agents, Parallel Executor, Scorer,
// Regime Service, Analysis Cache, Risk Manager, Run Store, and Backtest
// Engine together behind the HTTP/WebSocket API and runs it until
// interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/marcusvale/equityscore/internal/agents"
	"github.com/marcusvale/equityscore/internal/api"
	"github.com/marcusvale/equityscore/internal/cache"
	"github.com/marcusvale/equityscore/internal/config"
	"github.com/marcusvale/equityscore/internal/executor"
	"github.com/marcusvale/equityscore/internal/provider"
	"github.com/marcusvale/equityscore/internal/regime"
	"github.com/marcusvale/equityscore/internal/runstore"
	"github.com/marcusvale/equityscore/internal/scorer"
)

func main() {
	configPath := flag.String("config", ".", "directory to search for equityscore.yaml")
	logLevel := flag.String("log-level", getEnvOrDefault("LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	dataDir := flag.String("data-dir", getEnvOrDefault("EQUITYSCORE_DATA_DIR", ""), "directory of cached on-disk bar history (empty: serve purely synthetic data)")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	var prov provider.Provider
	if *dataDir != "" {
		fileStore, err := provider.NewFileStore(logger, *dataDir)
		if err != nil {
			logger.Fatal("failed to open file-backed data store", zap.Error(err))
		}
		prov = fileStore
	} else {
		prov = provider.NewSyntheticProvider()
	}

	agentSet := []agents.Agent{
		agents.NewFundamentalsAgent(),
		agents.NewMomentumAgent(),
		agents.NewQualityAgent(),
		agents.NewSentimentAgent(nil),
		agents.NewInstitutionalFlowAgent(),
	}
	exec := executor.New(logger, agentSet, cfg.Executor)

	regimeSvc := regime.New(logger, prov, cfg.Benchmark, cfg.Regime)

	var scorerOpts []scorer.Option
	if cfg.AdaptiveWeights {
		scorerOpts = append(scorerOpts, scorer.WithAdaptiveWeights(regimeSvc))
	}
	sc := scorer.New(logger, prov, exec, nil, cfg.Executor.BatchFanoutCap, scorerOpts...)

	analysisCache := cache.New(cfg.Cache)

	runStore, err := runstore.New(logger, cfg.RunStore)
	if err != nil {
		logger.Fatal("failed to open run store", zap.Error(err))
	}

	server := api.NewServer(logger, &cfg.Server, api.Deps{
		Provider:      prov,
		Executor:      exec,
		Scorer:        sc,
		RegimeService: regimeSvc,
		AnalysisCache: analysisCache,
		RunStore:      runStore,
		RiskLimits:    cfg.Risk,
		Benchmark:     cfg.Benchmark,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	logger.Info("server started",
		zap.String("addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)),
		zap.String("benchmark", cfg.Benchmark),
		zap.Bool("adaptiveWeights", cfg.AdaptiveWeights),
	)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.Fatal("server failed", zap.Error(err))
	case s := <-sig:
		logger.Info("shutdown signal received", zap.String("signal", s.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	if err := sc.Close(); err != nil {
		logger.Warn("scorer batch pool did not stop cleanly", zap.Error(err))
	}
	logger.Info("server stopped")
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// setupLogger builds a zap logger with console encoding, colored level
// names, and ISO8601 timestamps, at the given level (defaulting to info
// for an unrecognized string).
func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "console",
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}
