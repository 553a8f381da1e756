package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/segmentationf4u1t/codeforge/pkg/models"
)

// ExecutorConfig bounds the parallel tool executor: how many tools run at
// once, how long each may take, and how retries back off.
type ExecutorConfig struct {
	// MaxConcurrency caps parallel tool executions (default 5).
	MaxConcurrency int

	// DefaultTimeout applies per execution (default 30s).
	DefaultTimeout time.Duration

	// DefaultRetries is the retry count for retryable errors (default 2).
	DefaultRetries int

	// RetryBackoff is the initial backoff, doubled per attempt (default 100ms).
	RetryBackoff time.Duration

	// MaxRetryBackoff caps the exponential backoff (default 5s).
	MaxRetryBackoff time.Duration
}

// DefaultExecutorConfig returns the default executor bounds.
func DefaultExecutorConfig() *ExecutorConfig {
	return &ExecutorConfig{
		MaxConcurrency:  5,
		DefaultTimeout:  30 * time.Second,
		DefaultRetries:  2,
		RetryBackoff:    100 * time.Millisecond,
		MaxRetryBackoff: 5 * time.Second,
	}
}

// ToolConfig overrides executor bounds for a single tool.
type ToolConfig struct {
	Timeout      time.Duration
	Retries      int
	RetryBackoff time.Duration

	// Priority affects execution order (higher first, default 0).
	Priority int
}

// Executor runs tool calls in parallel under a semaphore, with per-call
// timeout, panic recovery, and retry for retryable failures.
type Executor struct {
	registry   *ToolRegistry
	config     *ExecutorConfig
	toolConfig map[string]*ToolConfig
	mu         sync.RWMutex

	sem     chan struct{}
	metrics *ExecutorMetrics
}

// ExecutorMetrics counts executions, retries, failures, timeouts, and
// recovered panics.
type ExecutorMetrics struct {
	mu              sync.Mutex
	TotalExecutions int64
	TotalRetries    int64
	TotalFailures   int64
	TotalTimeouts   int64
	TotalPanics     int64
}

// NewExecutor creates an executor over the registry; nil config means
// defaults.
func NewExecutor(registry *ToolRegistry, config *ExecutorConfig) *Executor {
	if config == nil {
		config = DefaultExecutorConfig()
	}
	return &Executor{
		registry:   registry,
		config:     config,
		toolConfig: make(map[string]*ToolConfig),
		sem:        make(chan struct{}, config.MaxConcurrency),
		metrics:    &ExecutorMetrics{},
	}
}

// ConfigureTool sets per-tool overrides for the named tool.
func (e *Executor) ConfigureTool(name string, config *ToolConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.toolConfig[name] = config
}

func (e *Executor) getToolConfig(name string) *ToolConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.toolConfig[name]
}

// boundsFor resolves the effective timeout/retry bounds for one tool.
func (e *Executor) boundsFor(name string) (timeout time.Duration, maxRetries int, backoff time.Duration) {
	timeout = e.config.DefaultTimeout
	maxRetries = e.config.DefaultRetries
	backoff = e.config.RetryBackoff
	if tc := e.getToolConfig(name); tc != nil {
		if tc.Timeout > 0 {
			timeout = tc.Timeout
		}
		if tc.Retries >= 0 {
			maxRetries = tc.Retries
		}
		if tc.RetryBackoff > 0 {
			backoff = tc.RetryBackoff
		}
	}
	return timeout, maxRetries, backoff
}

// ExecutionResult is the outcome of one tool call, with timing and attempt
// counts.
type ExecutionResult struct {
	ToolCallID string
	ToolName   string
	Result     *ToolResult
	Error      error
	Duration   time.Duration
	Attempts   int
}

// ExecuteAll runs the calls in parallel (bounded by the semaphore) and
// returns results in input order.
func (e *Executor) ExecuteAll(ctx context.Context, calls []models.ToolCall) []*ExecutionResult {
	if len(calls) == 0 {
		return nil
	}

	results := make([]*ExecutionResult, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, tc models.ToolCall) {
			defer wg.Done()
			results[idx] = e.Execute(ctx, tc)
		}(i, call)
	}
	wg.Wait()
	return results
}

// Execute runs one tool call: acquire a semaphore slot, then attempt with
// timeout and retry until success, a non-retryable error, or exhaustion.
func (e *Executor) Execute(ctx context.Context, call models.ToolCall) *ExecutionResult {
	start := time.Now()
	result := &ExecutionResult{
		ToolCallID: call.ID,
		ToolName:   call.Name,
	}

	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		result.Error = NewToolError(call.Name, ctx.Err()).
			WithType(ToolErrorTimeout).
			WithToolCallID(call.ID)
		result.Duration = time.Since(start)
		return result
	}

	timeout, maxRetries, backoff := e.boundsFor(call.Name)

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		result.Attempts = attempt + 1

		execResult, execErr := e.executeWithTimeout(ctx, call, timeout)
		if execErr == nil {
			result.Result = execResult
			result.Duration = time.Since(start)
			e.recordSuccess(attempt)
			return result
		}
		lastErr = execErr

		if !IsToolRetryable(execErr) || ctx.Err() != nil || attempt >= maxRetries {
			break
		}

		sleep := backoff * time.Duration(1<<uint(attempt))
		if sleep > e.config.MaxRetryBackoff {
			sleep = e.config.MaxRetryBackoff
		}
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			lastErr = NewToolError(call.Name, ctx.Err()).
				WithType(ToolErrorTimeout).
				WithToolCallID(call.ID)
		}
	}

	result.Error = lastErr
	result.Duration = time.Since(start)
	e.recordFailure(lastErr)
	return result
}

func (e *Executor) recordSuccess(attempt int) {
	e.metrics.mu.Lock()
	defer e.metrics.mu.Unlock()
	e.metrics.TotalExecutions++
	if attempt > 0 {
		e.metrics.TotalRetries += int64(attempt)
	}
}

func (e *Executor) recordFailure(err error) {
	e.metrics.mu.Lock()
	defer e.metrics.mu.Unlock()
	e.metrics.TotalExecutions++
	e.metrics.TotalFailures++
	if toolErr, ok := GetToolError(err); ok {
		switch toolErr.Type {
		case ToolErrorTimeout:
			e.metrics.TotalTimeouts++
		case ToolErrorPanic:
			e.metrics.TotalPanics++
		}
	}
}

// executeWithTimeout dispatches one attempt through the registry, bounding
// it with a timeout context and converting panics into ToolErrors.
func (e *Executor) executeWithTimeout(ctx context.Context, call models.ToolCall, timeout time.Duration) (*ToolResult, error) {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type execResult struct {
		result *ToolResult
		err    error
	}
	resultCh := make(chan execResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				err := NewToolError(call.Name, fmt.Errorf("panic: %v\n%s", r, debug.Stack())).
					WithType(ToolErrorPanic).
					WithToolCallID(call.ID)
				resultCh <- execResult{err: err}
			}
		}()

		result, err := e.registry.Execute(execCtx, call.Name, call.Input)
		if err != nil {
			resultCh <- execResult{err: NewToolError(call.Name, err).WithToolCallID(call.ID)}
			return
		}
		resultCh <- execResult{result: result}
	}()

	select {
	case res := <-resultCh:
		return res.result, res.err
	case <-execCtx.Done():
		if ctx.Err() != nil {
			return nil, NewToolError(call.Name, ctx.Err()).
				WithType(ToolErrorTimeout).
				WithToolCallID(call.ID).
				WithMessage("context cancelled")
		}
		return nil, NewToolError(call.Name, ErrToolTimeout).
			WithType(ToolErrorTimeout).
			WithToolCallID(call.ID).
			WithMessage(fmt.Sprintf("execution timed out after %s", timeout))
	}
}

// Metrics returns a snapshot of the executor counters.
func (e *Executor) Metrics() *ExecutorMetricsSnapshot {
	e.metrics.mu.Lock()
	defer e.metrics.mu.Unlock()
	return &ExecutorMetricsSnapshot{
		TotalExecutions: e.metrics.TotalExecutions,
		TotalRetries:    e.metrics.TotalRetries,
		TotalFailures:   e.metrics.TotalFailures,
		TotalTimeouts:   e.metrics.TotalTimeouts,
		TotalPanics:     e.metrics.TotalPanics,
	}
}

// ExecutorMetricsSnapshot is a point-in-time copy of the counters.
type ExecutorMetricsSnapshot struct {
	TotalExecutions int64
	TotalRetries    int64
	TotalFailures   int64
	TotalTimeouts   int64
	TotalPanics     int64
}

// ResultsToMessages converts execution results into the tool-result shapes
// persisted on the conversation.
func ResultsToMessages(results []*ExecutionResult) []models.ToolResult {
	toolResults := make([]models.ToolResult, len(results))
	for i, r := range results {
		switch {
		case r.Error != nil:
			toolResults[i] = models.ToolResult{
				ToolCallID: r.ToolCallID,
				Content:    r.Error.Error(),
				IsError:    true,
			}
		case r.Result != nil:
			toolResults[i] = models.ToolResult{
				ToolCallID: r.ToolCallID,
				Content:    r.Result.Content,
				IsError:    r.Result.IsError,
			}
		}
	}
	return toolResults
}

// AnyErrors reports whether any result carries an error.
func AnyErrors(results []*ExecutionResult) bool {
	for _, r := range results {
		if r.Error != nil {
			return true
		}
	}
	return false
}

// AsJSON coerces tool input into a json.RawMessage.
func AsJSON(input any) json.RawMessage {
	switch v := input.(type) {
	case json.RawMessage:
		return v
	case []byte:
		return json.RawMessage(v)
	case string:
		return json.RawMessage(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return json.RawMessage("null")
		}
		return data
	}
}
