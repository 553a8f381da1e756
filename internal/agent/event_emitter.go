package agent

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/segmentationf4u1t/codeforge/pkg/models"
)

// EventEmitter stamps AgentEvents with run identity and a monotonic
// sequence, then hands them to the configured sink. One emitter exists per
// run; subscribers therefore observe a total order matching the state
// machine's transitions.
type EventEmitter struct {
	runID    string
	sequence uint64

	turnIndex int
	iterIndex int

	sink EventSink
}

// NewEventEmitter creates an emitter for one run; nil sink discards events.
func NewEventEmitter(runID string, sink EventSink) *EventEmitter {
	if sink == nil {
		sink = NopSink{}
	}
	return &EventEmitter{runID: runID, sink: sink}
}

// NewEventEmitterWithPlugins creates an emitter dispatching into a plugin
// registry.
func NewEventEmitterWithPlugins(runID string, plugins *PluginRegistry) *EventEmitter {
	return NewEventEmitter(runID, NewPluginSink(plugins))
}

// SetTurn records the turn index stamped on subsequent events.
func (e *EventEmitter) SetTurn(turnIndex int) {
	e.turnIndex = turnIndex
}

// SetIter records the iteration index stamped on subsequent events.
func (e *EventEmitter) SetIter(iterIndex int) {
	e.iterIndex = iterIndex
}

// base builds an event with the shared envelope fields filled in.
func (e *EventEmitter) base(eventType models.AgentEventType) models.AgentEvent {
	return models.AgentEvent{
		Version:   1,
		Type:      eventType,
		Time:      time.Now(),
		Sequence:  atomic.AddUint64(&e.sequence, 1),
		RunID:     e.runID,
		TurnIndex: e.turnIndex,
		IterIndex: e.iterIndex,
	}
}

func (e *EventEmitter) emit(ctx context.Context, event models.AgentEvent) models.AgentEvent {
	if e.sink != nil {
		e.sink.Emit(ctx, event)
	}
	return event
}

// RunStarted marks the start of the run.
func (e *EventEmitter) RunStarted(ctx context.Context) models.AgentEvent {
	return e.emit(ctx, e.base(models.AgentEventRunStarted))
}

// RunFinished marks a successful run end, carrying the accumulated stats.
func (e *EventEmitter) RunFinished(ctx context.Context, stats *models.RunStats) models.AgentEvent {
	event := e.base(models.AgentEventRunFinished)
	if stats != nil {
		event.Stats = &models.StatsEventPayload{Run: stats}
	}
	return e.emit(ctx, event)
}

// RunError marks a run-level failure.
func (e *EventEmitter) RunError(ctx context.Context, err error, retriable bool) models.AgentEvent {
	event := e.base(models.AgentEventRunError)
	event.Error = &models.ErrorEventPayload{
		Message:   err.Error(),
		Retriable: retriable,
		Err:       err, // keep the original for errors.Is/errors.As
	}
	return e.emit(ctx, event)
}

// RunCancelled marks an explicit cancellation.
func (e *EventEmitter) RunCancelled(ctx context.Context) models.AgentEvent {
	event := e.base(models.AgentEventRunCancelled)
	event.Error = &models.ErrorEventPayload{
		Message:   "run cancelled",
		Retriable: true,
		Err:       ErrContextCancelled,
	}
	return e.emit(ctx, event)
}

// RunTimedOut marks a wall-time limit breach.
func (e *EventEmitter) RunTimedOut(ctx context.Context, limit time.Duration) models.AgentEvent {
	event := e.base(models.AgentEventRunTimedOut)
	event.Error = &models.ErrorEventPayload{
		Message:   fmt.Sprintf("run timed out after %v", limit),
		Retriable: true,
	}
	return e.emit(ctx, event)
}

// IterStarted marks the start of a loop iteration.
func (e *EventEmitter) IterStarted(ctx context.Context) models.AgentEvent {
	return e.emit(ctx, e.base(models.AgentEventIterStarted))
}

// IterFinished marks the end of a loop iteration.
func (e *EventEmitter) IterFinished(ctx context.Context) models.AgentEvent {
	return e.emit(ctx, e.base(models.AgentEventIterFinished))
}

// ModelDelta carries one streamed text increment.
func (e *EventEmitter) ModelDelta(ctx context.Context, delta string) models.AgentEvent {
	event := e.base(models.AgentEventModelDelta)
	event.Stream = &models.StreamEventPayload{Delta: delta}
	return e.emit(ctx, event)
}

// ModelCompleted carries provider identity and token usage for one
// completed model call.
func (e *EventEmitter) ModelCompleted(ctx context.Context, provider, model string, inputTokens, outputTokens int) models.AgentEvent {
	event := e.base(models.AgentEventModelCompleted)
	event.Stream = &models.StreamEventPayload{
		Provider:     provider,
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
	}
	return e.emit(ctx, event)
}

// ToolStarted marks the start of a tool execution.
func (e *EventEmitter) ToolStarted(ctx context.Context, callID, name string, argsJSON []byte) models.AgentEvent {
	event := e.base(models.AgentEventToolStarted)
	event.Tool = &models.ToolEventPayload{CallID: callID, Name: name, ArgsJSON: argsJSON}
	return e.emit(ctx, event)
}

// ToolStdout carries a chunk of a tool's standard output.
func (e *EventEmitter) ToolStdout(ctx context.Context, callID, name, chunk string) models.AgentEvent {
	event := e.base(models.AgentEventToolStdout)
	event.Tool = &models.ToolEventPayload{CallID: callID, Name: name, Chunk: chunk}
	return e.emit(ctx, event)
}

// ToolStderr carries a chunk of a tool's standard error.
func (e *EventEmitter) ToolStderr(ctx context.Context, callID, name, chunk string) models.AgentEvent {
	event := e.base(models.AgentEventToolStderr)
	event.Tool = &models.ToolEventPayload{CallID: callID, Name: name, Chunk: chunk}
	return e.emit(ctx, event)
}

// ToolFinished marks the end of a tool execution with its result.
func (e *EventEmitter) ToolFinished(ctx context.Context, callID, name string, success bool, resultJSON []byte, elapsed time.Duration) models.AgentEvent {
	event := e.base(models.AgentEventToolFinished)
	event.Tool = &models.ToolEventPayload{
		CallID:     callID,
		Name:       name,
		Success:    success,
		ResultJSON: resultJSON,
		Elapsed:    elapsed,
	}
	return e.emit(ctx, event)
}

// ToolTimedOut marks a tool execution that exceeded its timeout.
func (e *EventEmitter) ToolTimedOut(ctx context.Context, callID, name string, timeout time.Duration) models.AgentEvent {
	event := e.base(models.AgentEventToolTimedOut)
	event.Tool = &models.ToolEventPayload{
		CallID:  callID,
		Name:    name,
		Success: false,
		Elapsed: timeout,
	}
	event.Error = &models.ErrorEventPayload{
		Message:   fmt.Sprintf("tool %s timed out after %v", name, timeout),
		Retriable: true,
	}
	return e.emit(ctx, event)
}

// ContextPacked carries context-packing diagnostics (budget, usage, drops).
func (e *EventEmitter) ContextPacked(ctx context.Context, diag *models.ContextEventPayload) models.AgentEvent {
	event := e.base(models.AgentEventContextPacked)
	event.Context = diag
	// Mirrored into Stats so aggregation sees dropped items too.
	event.Stats = &models.StatsEventPayload{
		Run: &models.RunStats{DroppedItems: diag.Dropped},
	}
	return e.emit(ctx, event)
}

// StatsCollector folds the event stream into RunStats: iterations, token
// usage, tool wall time, errors, and terminal state.
type StatsCollector struct {
	stats      models.RunStats
	modelStart time.Time
	toolStarts map[string]time.Time
}

// NewStatsCollector creates a collector for the given run.
func NewStatsCollector(runID string) *StatsCollector {
	return &StatsCollector{
		stats: models.RunStats{
			RunID:     runID,
			StartedAt: time.Now(),
		},
		toolStarts: make(map[string]time.Time),
	}
}

// OnEvent folds one event into the accumulated statistics.
func (c *StatsCollector) OnEvent(ctx context.Context, e models.AgentEvent) {
	switch e.Type {
	case models.AgentEventRunStarted:
		c.stats.StartedAt = e.Time

	case models.AgentEventIterStarted:
		c.stats.Iters++
		c.modelStart = e.Time

	case models.AgentEventModelCompleted:
		if !c.modelStart.IsZero() {
			c.stats.ModelWallTime += e.Time.Sub(c.modelStart)
			c.modelStart = time.Time{}
		}
		if e.Stream != nil {
			c.stats.InputTokens += e.Stream.InputTokens
			c.stats.OutputTokens += e.Stream.OutputTokens
		}

	case models.AgentEventToolStarted:
		c.stats.ToolCalls++
		if e.Tool != nil {
			c.toolStarts[e.Tool.CallID] = e.Time
		}

	case models.AgentEventToolFinished:
		if e.Tool != nil {
			c.closeToolSpan(e.Tool.CallID, e.Time)
			if !e.Tool.Success {
				c.stats.Errors++
			}
		}

	case models.AgentEventToolTimedOut:
		c.stats.ToolTimeouts++
		c.stats.Errors++
		if e.Tool != nil {
			c.closeToolSpan(e.Tool.CallID, e.Time)
		}

	case models.AgentEventContextPacked:
		c.stats.ContextPacks++
		if e.Stats != nil && e.Stats.Run != nil {
			c.stats.DroppedItems += e.Stats.Run.DroppedItems
		}

	case models.AgentEventRunError:
		c.stats.Errors++

	case models.AgentEventRunCancelled:
		c.stats.Cancelled = true
		c.stats.Errors++

	case models.AgentEventRunTimedOut:
		c.stats.TimedOut = true
		c.stats.Errors++

	case models.AgentEventRunFinished:
		c.stats.FinishedAt = e.Time
		c.stats.WallTime = e.Time.Sub(c.stats.StartedAt)
	}
}

// closeToolSpan accounts the wall time of one tool call, if its start was
// observed.
func (c *StatsCollector) closeToolSpan(callID string, end time.Time) {
	if start, ok := c.toolStarts[callID]; ok {
		c.stats.ToolWallTime += end.Sub(start)
		delete(c.toolStarts, callID)
	}
}

// Stats returns a copy of the accumulated statistics, stamping a finish
// time if the run has not finished yet.
func (c *StatsCollector) Stats() *models.RunStats {
	stats := c.stats
	if stats.FinishedAt.IsZero() {
		stats.FinishedAt = time.Now()
		stats.WallTime = stats.FinishedAt.Sub(stats.StartedAt)
	}
	return &stats
}
