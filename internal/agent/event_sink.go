package agent

import (
	"context"
	"sync/atomic"

	"github.com/segmentationf4u1t/codeforge/pkg/models"
)

// EventSink receives agent events during processing. Implementations must be
// safe for concurrent Emit calls and should not block the run loop.
type EventSink interface {
	Emit(ctx context.Context, e models.AgentEvent)
}

// PluginSink bridges the event stream into the plugin registry.
type PluginSink struct {
	registry *PluginRegistry
}

// NewPluginSink creates a sink dispatching to every registered plugin.
func NewPluginSink(registry *PluginRegistry) *PluginSink {
	return &PluginSink{registry: registry}
}

func (s *PluginSink) Emit(ctx context.Context, e models.AgentEvent) {
	if s.registry != nil {
		s.registry.Emit(ctx, e)
	}
}

// ChanSink forwards events to a channel, dropping when the channel is full
// rather than stalling the run.
type ChanSink struct {
	ch chan<- models.AgentEvent
}

// NewChanSink creates a channel-backed sink; the channel should be buffered.
func NewChanSink(ch chan<- models.AgentEvent) *ChanSink {
	return &ChanSink{ch: ch}
}

func (s *ChanSink) Emit(ctx context.Context, e models.AgentEvent) {
	select {
	case s.ch <- e:
	case <-ctx.Done():
	default:
	}
}

// MultiSink fans one event out to several sinks in order.
type MultiSink struct {
	sinks []EventSink
}

// NewMultiSink combines sinks; nils are skipped.
func NewMultiSink(sinks ...EventSink) *MultiSink {
	filtered := make([]EventSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return &MultiSink{sinks: filtered}
}

func (s *MultiSink) Emit(ctx context.Context, e models.AgentEvent) {
	for _, sink := range s.sinks {
		sink.Emit(ctx, e)
	}
}

// CallbackSink adapts a plain function to the EventSink interface.
type CallbackSink struct {
	fn func(ctx context.Context, e models.AgentEvent)
}

// NewCallbackSink wraps fn as a sink.
func NewCallbackSink(fn func(ctx context.Context, e models.AgentEvent)) *CallbackSink {
	return &CallbackSink{fn: fn}
}

func (s *CallbackSink) Emit(ctx context.Context, e models.AgentEvent) {
	if s.fn != nil {
		s.fn(ctx, e)
	}
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) Emit(ctx context.Context, e models.AgentEvent) {}

// BackpressureConfig sizes the two lanes of a BackpressureSink.
type BackpressureConfig struct {
	// HighPriBuffer holds events that must not be dropped (default 32).
	HighPriBuffer int

	// LowPriBuffer holds droppable events (default 256).
	LowPriBuffer int
}

// DefaultBackpressureConfig returns the default lane sizes.
func DefaultBackpressureConfig() BackpressureConfig {
	return BackpressureConfig{HighPriBuffer: 32, LowPriBuffer: 256}
}

// BackpressureSink applies real backpressure to the event stream with two
// lanes: lifecycle events (run/iter/tool boundaries, completions) are never
// dropped and block the producer when the consumer falls behind; chatty
// events (model deltas, tool stdout/stderr) are shed instead, so memory
// stays bounded during a large response.
type BackpressureSink struct {
	highPri chan models.AgentEvent
	lowPri  chan models.AgentEvent
	merged  chan models.AgentEvent
	dropped uint64
	closed  uint32
}

// NewBackpressureSink creates the sink and returns the merged output
// channel the consumer reads from.
func NewBackpressureSink(config BackpressureConfig) (*BackpressureSink, <-chan models.AgentEvent) {
	if config.HighPriBuffer <= 0 {
		config.HighPriBuffer = 32
	}
	if config.LowPriBuffer <= 0 {
		config.LowPriBuffer = 256
	}

	s := &BackpressureSink{
		highPri: make(chan models.AgentEvent, config.HighPriBuffer),
		lowPri:  make(chan models.AgentEvent, config.LowPriBuffer),
		merged:  make(chan models.AgentEvent, config.HighPriBuffer),
	}
	go s.mergeLoop()
	return s, s.merged
}

// mergeLoop forwards from both lanes into merged, preferring the
// high-priority lane whenever it has something ready.
func (s *BackpressureSink) mergeLoop() {
	defer close(s.merged)

	drainLow := func() {
		for e := range s.lowPri {
			s.merged <- e
		}
	}

	for {
		select {
		case e, ok := <-s.highPri:
			if !ok {
				drainLow()
				return
			}
			s.merged <- e
			continue
		default:
		}

		select {
		case e, ok := <-s.highPri:
			if !ok {
				drainLow()
				return
			}
			s.merged <- e
		case e, ok := <-s.lowPri:
			if ok {
				s.merged <- e
			}
			// A closed low lane just means the high lane will close soon.
		}
	}
}

func (s *BackpressureSink) Emit(ctx context.Context, e models.AgentEvent) {
	if atomic.LoadUint32(&s.closed) == 1 {
		return
	}
	if isDroppableEvent(e.Type) {
		select {
		case s.lowPri <- e:
		default:
			atomic.AddUint64(&s.dropped, 1)
		}
		return
	}

	select {
	case s.highPri <- e:
	case <-ctx.Done():
		// One more attempt so terminal events still land after cancel.
		select {
		case s.highPri <- e:
		default:
			atomic.AddUint64(&s.dropped, 1)
		}
	}
}

// DroppedCount returns how many low-priority events were shed.
func (s *BackpressureSink) DroppedCount() uint64 {
	return atomic.LoadUint64(&s.dropped)
}

// Close stops the sink and closes the merged channel. Idempotent.
func (s *BackpressureSink) Close() {
	if !atomic.CompareAndSwapUint32(&s.closed, 0, 1) {
		return
	}
	// Closing highPri makes mergeLoop drain lowPri and exit.
	close(s.highPri)
	close(s.lowPri)
}

// isDroppableEvent reports whether an event type may be shed under
// backpressure. Everything except streaming deltas and tool output chunks
// is lifecycle-critical.
func isDroppableEvent(t models.AgentEventType) bool {
	switch t {
	case models.AgentEventModelDelta,
		models.AgentEventToolStdout,
		models.AgentEventToolStderr:
		return true
	default:
		return false
	}
}

// ChunkAdapterSink converts the event stream back into ResponseChunks for
// consumers of the channel-of-chunks Process API.
type ChunkAdapterSink struct {
	ch chan<- *ResponseChunk
}

// NewChunkAdapterSink creates the adapter over ch.
func NewChunkAdapterSink(ch chan<- *ResponseChunk) *ChunkAdapterSink {
	return &ChunkAdapterSink{ch: ch}
}

func (s *ChunkAdapterSink) Emit(ctx context.Context, e models.AgentEvent) {
	chunk := eventToChunk(e)
	if chunk == nil {
		return
	}

	select {
	case s.ch <- chunk:
		return
	default:
	}

	if chunk.Error != nil {
		// Never drop terminal errors; block until delivered or ctx is done.
		select {
		case s.ch <- chunk:
		case <-ctx.Done():
		}
		return
	}

	select {
	case s.ch <- chunk:
	case <-ctx.Done():
	default:
	}
}

// eventToChunk maps an event onto the chunk vocabulary; nil means the event
// has no chunk representation.
func eventToChunk(e models.AgentEvent) *ResponseChunk {
	switch e.Type {
	case models.AgentEventModelDelta:
		if e.Stream != nil && e.Stream.Delta != "" {
			return &ResponseChunk{Text: e.Stream.Delta}
		}

	case models.AgentEventToolFinished:
		if e.Tool != nil {
			return &ResponseChunk{
				ToolResult: &models.ToolResult{
					ToolCallID: e.Tool.CallID,
					Content:    string(e.Tool.ResultJSON),
					IsError:    !e.Tool.Success,
				},
			}
		}

	case models.AgentEventToolTimedOut:
		if e.Tool != nil {
			content := "tool execution timed out"
			if e.Error != nil && e.Error.Message != "" {
				content = e.Error.Message
			}
			return &ResponseChunk{
				ToolResult: &models.ToolResult{
					ToolCallID: e.Tool.CallID,
					Content:    content,
					IsError:    true,
				},
			}
		}

	case models.AgentEventRunError, models.AgentEventRunCancelled, models.AgentEventRunTimedOut:
		if e.Error != nil {
			// Prefer the original error so errors.Is keeps working.
			err := e.Error.Err
			if err == nil {
				err = &AgentError{Message: e.Error.Message}
			}
			return &ResponseChunk{Error: err}
		}

	case models.AgentEventIterStarted, models.AgentEventIterFinished,
		models.AgentEventToolStarted, models.AgentEventToolStdout, models.AgentEventToolStderr:
		return &ResponseChunk{Event: legacyEventFromAgentEvent(e)}
	}

	return nil
}

// AgentError is a plain error carrying a run-level failure message.
type AgentError struct {
	Message string
}

func (e *AgentError) Error() string {
	return e.Message
}

// legacyEventFromAgentEvent down-converts to the RuntimeEvent shape older
// chunk consumers expect; nil when there is no legacy equivalent.
func legacyEventFromAgentEvent(e models.AgentEvent) *models.RuntimeEvent {
	var eventType models.RuntimeEventType
	switch e.Type {
	case models.AgentEventIterStarted:
		eventType = models.EventIterationStart
	case models.AgentEventIterFinished:
		eventType = models.EventIterationEnd
	case models.AgentEventToolStarted:
		eventType = models.EventToolStarted
	case models.AgentEventToolFinished:
		if e.Tool != nil && e.Tool.Success {
			eventType = models.EventToolCompleted
		} else {
			eventType = models.EventToolFailed
		}
	default:
		return nil
	}

	event := &models.RuntimeEvent{
		Type:      eventType,
		Iteration: e.IterIndex,
	}
	if e.Tool != nil {
		event.ToolName = e.Tool.Name
		event.ToolCallID = e.Tool.CallID
	}
	return event
}
