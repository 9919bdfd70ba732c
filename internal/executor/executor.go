// Package executor implements the Parallel Executor: it fans the five
// scoring agents out concurrently for one symbol, enforces a per-agent
// timeout, retries transient (timeout) failures with exponential
// backoff, and always returns a complete AgentBundle — one sibling's
// failure never blocks or corrupts another's result (spec §4.3).
package executor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/marcusvale/equityscore/internal/agents"
	"github.com/marcusvale/equityscore/pkg/types"
)

// Executor runs a fixed set of agents concurrently per symbol.
//
// Grounded in original_source/core/parallel_executor.py: the
// goroutine-per-agent fan-out mirrors that file's
// asyncio.gather(*tasks.values(), return_exceptions=True), and the
// retry schedule (3 attempts, exponential backoff bounded [2s,10s])
// is ported from its tenacity @retry decorator. The fan-out mechanics
// (per-agent channel send + WaitGroup + closer goroutine) follow the
// vaibhavblayer-trader orchestrator's runAgentsParallel pattern.
type Executor struct {
	logger *zap.Logger
	agents []agents.Agent
	config types.ExecutorConfig
}

// New constructs an Executor over the given agents (nil selects the
// canonical agents.All() set) using cfg, falling back to
// types.DefaultExecutorConfig() for zero values.
func New(logger *zap.Logger, agentSet []agents.Agent, cfg types.ExecutorConfig) *Executor {
	if agentSet == nil {
		agentSet = agents.All()
	}
	if cfg.AgentTimeout <= 0 || cfg.MaxRetries <= 0 || cfg.BackoffMin <= 0 || cfg.BackoffMax <= 0 {
		cfg = types.DefaultExecutorConfig()
	}
	return &Executor{logger: logger, agents: agentSet, config: cfg}
}

type agentOutcome struct {
	name   types.AgentName
	result types.AgentResult
}

// validateBundle checks the top-level fields every agent depends on
// before any agent call is made (spec §4.3's pre-validation
// short-circuit; DataValidation error kind, spec §7). It reports the
// first missing/invalid field it finds, in the order the spec lists
// them: history, indicators, info.
func validateBundle(bundle *types.DataBundle) error {
	if bundle == nil {
		return fmt.Errorf("data bundle is missing")
	}
	if len(bundle.History) == 0 {
		return fmt.Errorf("historical_data is empty")
	}
	if bundle.Indicators == nil {
		return fmt.Errorf("indicators is missing")
	}
	if bundle.Info == nil {
		return fmt.Errorf("info is missing")
	}
	return nil
}

// ExecuteAll runs every configured agent against bundle concurrently
// and returns a complete AgentBundle. It never returns an error: an
// agent that times out, panics, or otherwise misbehaves after
// exhausting retries contributes a FailedResult instead.
//
// If bundle fails pre-validation, no agent is invoked at all: every
// slot is filled with a failed AgentResult naming the missing field,
// and the aggregate returns immediately (spec §4.3).
func (e *Executor) ExecuteAll(ctx context.Context, symbol string, bundle *types.DataBundle) types.AgentBundle {
	start := time.Now()

	if err := validateBundle(bundle); err != nil {
		results := make(map[types.AgentName]types.AgentResult, len(e.agents))
		failed := make([]types.AgentName, 0, len(e.agents))
		for _, a := range e.agents {
			results[a.Name()] = types.FailedResult(fmt.Sprintf("Data validation failed: %v", err), err.Error())
			failed = append(failed, a.Name())
		}
		if e.logger != nil {
			e.logger.Warn("bundle failed pre-validation, skipping agent execution",
				zap.String("symbol", symbol),
				zap.Error(err),
			)
		}
		return types.AgentBundle{
			Results: results,
			Meta: types.ExecutionMeta{
				Elapsed:      time.Since(start),
				FailedAgents: failed,
				SuccessCount: 0,
				TotalAgents:  len(e.agents),
				Timestamp:    time.Now(),
			},
		}
	}

	resultChan := make(chan agentOutcome, len(e.agents))
	var pending int
	for _, agent := range e.agents {
		pending++
		go func(a agents.Agent) {
			resultChan <- agentOutcome{name: a.Name(), result: e.runWithRetry(ctx, a, symbol, bundle)}
		}(agent)
	}

	results := make(map[types.AgentName]types.AgentResult, len(e.agents))
	var failed []types.AgentName
	for i := 0; i < pending; i++ {
		out := <-resultChan
		results[out.name] = out.result
		if out.result.Failed {
			failed = append(failed, out.name)
		}
	}
	close(resultChan)

	meta := types.ExecutionMeta{
		Elapsed:      time.Since(start),
		FailedAgents: failed,
		SuccessCount: len(e.agents) - len(failed),
		TotalAgents:  len(e.agents),
		Timestamp:    time.Now(),
	}

	if len(failed) > 0 && e.logger != nil {
		e.logger.Warn("agents failed during parallel execution",
			zap.String("symbol", symbol),
			zap.Any("failed_agents", failed),
			zap.Duration("elapsed", meta.Elapsed),
		)
	}

	return types.AgentBundle{Results: results, Meta: meta}
}

// transientError marks the closed set of retryable faults: per-agent
// deadline expiry and connection errors (spec §4.3, §7: AgentTimeout
// and AgentConnection are the only retried error kinds). Anything else
// — a recovered panic, or a malformed result shape — fails the slot on
// the first attempt.
type transientError struct{ err error }

func (t *transientError) Error() string { return t.err.Error() }
func (t *transientError) Unwrap() error { return t.err }

// runWithRetry executes a single agent under a per-attempt timeout,
// retrying only transient (timeout/connection) faults, for at most
// config.MaxRetries attempts in total, with exponential backoff bounded by
// [BackoffMin, BackoffMax]. A non-transient fault (panic, malformed
// result) fails the slot immediately without consuming a retry.
func (e *Executor) runWithRetry(ctx context.Context, a agents.Agent, symbol string, bundle *types.DataBundle) types.AgentResult {
	var lastErr error
	backoff := e.config.BackoffMin

	for attempt := 1; attempt <= e.config.MaxRetries; attempt++ {
		result, err := e.runOnce(ctx, a, symbol, bundle)
		if err == nil {
			return result
		}
		lastErr = err

		var transient *transientError
		isTransient := errors.As(err, &transient)

		if e.logger != nil {
			e.logger.Warn("agent attempt failed",
				zap.String("agent", string(a.Name())),
				zap.String("symbol", symbol),
				zap.Int("attempt", attempt),
				zap.Bool("transient", isTransient),
				zap.Error(err),
			)
		}
		if !isTransient {
			return types.FailedResult(fmt.Sprintf("Agent failed: %v", lastErr), lastErr.Error()).Clamp()
		}
		if attempt == e.config.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
			attempt = e.config.MaxRetries
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > e.config.BackoffMax {
			backoff = e.config.BackoffMax
		}
	}

	return types.FailedResult(fmt.Sprintf("Agent failed: %v", lastErr), lastErr.Error()).Clamp()
}

// validateResult enforces the AgentResultShape check (spec §4.3, §7):
// the returned score and confidence must both be finite; range is not
// checked here (Clamp bounds it afterwards). Agents that
// are pure Go functions can't return a wrong "shape" the way a
// duck-typed return value could, so this targets the one failure mode
// that still crosses the language boundary: non-finite numbers.
func validateResult(r types.AgentResult) error {
	if math.IsNaN(r.Score) || math.IsInf(r.Score, 0) {
		return fmt.Errorf("result shape invalid: score is not finite")
	}
	if math.IsNaN(r.Confidence) || math.IsInf(r.Confidence, 0) {
		return fmt.Errorf("result shape invalid: confidence is not finite")
	}
	return nil
}

// runOnce executes the agent once under a timeout, recovering any
// panic into a non-transient error and classifying a deadline expiry
// as transient so the caller's retry loop can treat it like the
// original's AgentTimeoutError.
func (e *Executor) runOnce(ctx context.Context, a agents.Agent, symbol string, bundle *types.DataBundle) (result types.AgentResult, err error) {
	attemptCtx, cancel := context.WithTimeout(ctx, e.config.AgentTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
			close(done)
		}()
		result = a.Analyze(symbol, bundle)
	}()

	select {
	case <-done:
		if err != nil {
			return types.AgentResult{}, err
		}
		if shapeErr := validateResult(result); shapeErr != nil {
			reasoning := shapeErr.Error()
			if len(reasoning) > 100 {
				reasoning = reasoning[:100]
			}
			return types.AgentResult{}, fmt.Errorf("%s", reasoning)
		}
		return result, nil
	case <-attemptCtx.Done():
		return types.AgentResult{}, &transientError{fmt.Errorf("%s timed out after %s", a.Name(), e.config.AgentTimeout)}
	}
}
