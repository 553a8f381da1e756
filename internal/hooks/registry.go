package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Registry is the hook event bus: handlers register against an event key
// ("type" or "type:action") and are dispatched sequentially, in priority
// order, when a matching event fires.
type Registry struct {
	handlers map[string][]*Registration // eventKey -> handlers
	byID     map[string]*Registration
	logger   *slog.Logger
	mu       sync.RWMutex
}

// NewRegistry creates an empty registry; nil logger means slog.Default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		handlers: make(map[string][]*Registration),
		byID:     make(map[string]*Registration),
		logger:   logger.With("component", "hooks"),
	}
}

// Register adds a handler for an event key and returns its registration ID
// for later Unregister.
func (r *Registry) Register(eventKey string, handler Handler, opts ...RegisterOption) string {
	reg := &Registration{
		ID:       uuid.New().String(),
		EventKey: eventKey,
		Handler:  handler,
		Priority: PriorityNormal,
	}
	for _, opt := range opts {
		opt(reg)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[eventKey] = append(r.handlers[eventKey], reg)
	r.byID[reg.ID] = reg
	sort.SliceStable(r.handlers[eventKey], func(i, j int) bool {
		return r.handlers[eventKey][i].Priority < r.handlers[eventKey][j].Priority
	})

	r.logger.Debug("registered hook",
		"id", reg.ID,
		"event_key", eventKey,
		"name", reg.Name,
		"priority", reg.Priority)
	return reg.ID
}

// RegisterOption configures a registration.
type RegisterOption func(*Registration)

// WithPriority sets the handler priority (lower runs earlier).
func WithPriority(p Priority) RegisterOption {
	return func(r *Registration) { r.Priority = p }
}

// WithName names the handler for debugging.
func WithName(name string) RegisterOption {
	return func(r *Registration) { r.Name = name }
}

// WithSource records where the handler came from (plugin name, etc).
func WithSource(source string) RegisterOption {
	return func(r *Registration) { r.Source = source }
}

// Unregister removes a handler by registration ID.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, exists := r.byID[id]
	if !exists {
		return false
	}
	delete(r.byID, id)

	handlers := r.handlers[reg.EventKey]
	for i, h := range handlers {
		if h.ID == id {
			r.handlers[reg.EventKey] = append(handlers[:i], handlers[i+1:]...)
			break
		}
	}

	r.logger.Debug("unregistered hook", "id", id, "event_key", reg.EventKey)
	return true
}

// Clear drops every registration.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = make(map[string][]*Registration)
	r.byID = make(map[string]*Registration)
	r.logger.Debug("cleared all hooks")
}

// Trigger dispatches event to every handler registered for its type and,
// when the event carries an action, for "type:action" too. Handlers run
// sequentially in priority order; a handler error is logged and does not
// stop the remaining handlers, but the first one is returned.
func (r *Registry) Trigger(ctx context.Context, event *Event) error {
	if event == nil {
		return fmt.Errorf("event is nil")
	}

	handlers := r.matching(event)
	if len(handlers) == 0 {
		return nil
	}

	var firstErr error
	for _, handler := range handlers {
		if err := r.callHandler(ctx, handler, event); err != nil {
			r.logger.Warn("hook handler error",
				"event_type", event.Type,
				"event_action", event.Action,
				"handler_id", handler.ID,
				"handler_name", handler.Name,
				"error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// matching snapshots the handlers for an event, merged across the general
// and type:action keys and sorted by priority.
func (r *Registry) matching(event *Event) []*Registration {
	r.mu.RLock()
	typeHandlers := r.handlers[string(event.Type)]
	var actionHandlers []*Registration
	if event.Action != "" {
		actionHandlers = r.handlers[fmt.Sprintf("%s:%s", event.Type, event.Action)]
	}
	r.mu.RUnlock()

	merged := make([]*Registration, 0, len(typeHandlers)+len(actionHandlers))
	merged = append(merged, typeHandlers...)
	merged = append(merged, actionHandlers...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Priority < merged[j].Priority
	})
	return merged
}

// callHandler invokes one handler, converting a panic into an error.
func (r *Registry) callHandler(ctx context.Context, reg *Registration, event *Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("hook panic: %v", p)
		}
	}()
	return reg.Handler(ctx, event)
}

// TriggerAsync dispatches in a goroutine and returns immediately; errors
// are only logged.
func (r *Registry) TriggerAsync(ctx context.Context, event *Event) {
	go func() {
		if err := r.Trigger(ctx, event); err != nil {
			r.logger.Warn("async hook trigger error",
				"event_type", event.Type,
				"error", err)
		}
	}()
}

// RegisteredEvents returns every event key with at least one handler.
func (r *Registry) RegisteredEvents() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		keys = append(keys, k)
	}
	return keys
}

// HandlerCount returns how many handlers an event key has.
func (r *Registry) HandlerCount(eventKey string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[eventKey])
}

// GetRegistration looks up a registration by ID.
func (r *Registry) GetRegistration(id string) (*Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byID[id]
	return reg, ok
}

// ListRegistrations returns a copy of the handlers for an event key.
func (r *Registry) ListRegistrations(eventKey string) []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handlers := r.handlers[eventKey]
	result := make([]*Registration, len(handlers))
	copy(result, handlers)
	return result
}
