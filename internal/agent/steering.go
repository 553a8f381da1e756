package agent

import (
	"context"
	"sync"

	"github.com/segmentationf4u1t/codeforge/pkg/models"
)

// SteeringMessage is a user message injected while a run is in flight. It is
// delivered at the next check between tool executions; remaining tool calls
// in the batch may be skipped depending on the interrupt mode.
type SteeringMessage struct {
	Content     string
	Role        string // defaults to "user"
	Attachments []models.Attachment

	// Priority orders delivery when several steering messages queue up.
	Priority int

	// SkipRemainingTools forces the rest of the current batch to be skipped.
	SkipRemainingTools bool
}

// FollowUpMessage is a user message delivered only once the agent would
// otherwise stop, starting a fresh run.
type FollowUpMessage struct {
	Content     string
	Role        string // defaults to "user"
	Attachments []models.Attachment
}

// SteeringMode controls how many queued steering messages one drain returns.
type SteeringMode string

// FollowUpMode controls how many queued follow-ups one drain returns.
type FollowUpMode string

const (
	SteeringModeOneAtATime SteeringMode = "one-at-a-time"
	SteeringModeAll        SteeringMode = "all"

	FollowUpModeOneAtATime FollowUpMode = "one-at-a-time"
	FollowUpModeAll        FollowUpMode = "all"
)

// SteeringQueue holds the pending steering and follow-up messages for one
// session. All methods are safe for concurrent use: producers (control
// plane, hooks) push while the run loop drains.
type SteeringQueue struct {
	mu           sync.Mutex
	steering     []*SteeringMessage
	followUp     []*FollowUpMessage
	steeringMode SteeringMode
	followUpMode FollowUpMode
}

// NewSteeringQueue creates an empty queue delivering one message per drain.
func NewSteeringQueue() *SteeringQueue {
	return &SteeringQueue{
		steeringMode: SteeringModeOneAtATime,
		followUpMode: FollowUpModeOneAtATime,
	}
}

// SetSteeringMode configures how steering messages are delivered.
func (q *SteeringQueue) SetSteeringMode(mode SteeringMode) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.steeringMode = mode
}

// SetFollowUpMode configures how follow-up messages are delivered.
func (q *SteeringQueue) SetFollowUpMode(mode FollowUpMode) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.followUpMode = mode
}

// Steer queues a message to interrupt the agent mid-run.
func (q *SteeringQueue) Steer(msg *SteeringMessage) {
	if msg == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.steering = append(q.steering, msg)
}

// SteerText queues a plain-text steering message.
func (q *SteeringQueue) SteerText(content string) {
	q.Steer(&SteeringMessage{Content: content})
}

// FollowUp queues a message for after the current run finishes.
func (q *SteeringQueue) FollowUp(msg *FollowUpMessage) {
	if msg == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.followUp = append(q.followUp, msg)
}

// FollowUpText queues a plain-text follow-up message.
func (q *SteeringQueue) FollowUpText(content string) {
	q.FollowUp(&FollowUpMessage{Content: content})
}

// drain pops from queue according to all: the whole queue, or just the head.
func drain[T any](queue []T, all bool) (popped []T, rest []T) {
	if len(queue) == 0 {
		return nil, nil
	}
	if all {
		return queue, nil
	}
	return queue[:1], queue[1:]
}

// GetSteeringMessages pops pending steering messages per the steering mode.
// The loop calls this between tool executions.
func (q *SteeringQueue) GetSteeringMessages() []*SteeringMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	popped, rest := drain(q.steering, q.steeringMode == SteeringModeAll)
	q.steering = rest
	return popped
}

// GetFollowUpMessages pops pending follow-ups per the follow-up mode. The
// loop calls this when it would otherwise stop.
func (q *SteeringQueue) GetFollowUpMessages() []*FollowUpMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	popped, rest := drain(q.followUp, q.followUpMode == FollowUpModeAll)
	q.followUp = rest
	return popped
}

// HasSteering reports whether steering messages are queued.
func (q *SteeringQueue) HasSteering() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.steering) > 0
}

// HasFollowUp reports whether follow-up messages are queued.
func (q *SteeringQueue) HasFollowUp() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.followUp) > 0
}

// Clear drops everything queued.
func (q *SteeringQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.steering = nil
	q.followUp = nil
}

// ClearSteering drops queued steering messages.
func (q *SteeringQueue) ClearSteering() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.steering = nil
}

// ClearFollowUp drops queued follow-up messages.
func (q *SteeringQueue) ClearFollowUp() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.followUp = nil
}

// SkippedToolResult synthesizes the error result recorded for a tool call
// that was never executed because steering preempted its batch.
func SkippedToolResult(toolCallID string, reason string) *models.ToolResult {
	if reason == "" {
		reason = "Skipped due to steering message"
	}
	return &models.ToolResult{
		ToolCallID: toolCallID,
		Content:    reason,
		IsError:    true,
	}
}

// The run loop threads per-run collaborators through the context rather
// than through every call signature. Each value below gets an unexported
// key type plus a With/From pair.

type (
	steeringQueueKey    struct{}
	contextTransformKey struct{}
	apiKeyResolverKey   struct{}
	resolvedAPIKeyKey   struct{}
	thinkingLevelKey    struct{}
	turnCallbackKey     struct{}
)

// WithSteeringQueue attaches the session's steering queue to the context.
func WithSteeringQueue(ctx context.Context, queue *SteeringQueue) context.Context {
	return context.WithValue(ctx, steeringQueueKey{}, queue)
}

// SteeringQueueFromContext returns the attached steering queue, or nil.
func SteeringQueueFromContext(ctx context.Context) *SteeringQueue {
	queue, _ := ctx.Value(steeringQueueKey{}).(*SteeringQueue)
	return queue
}

// ContextTransformFunc rewrites the effective messages just before they are
// converted for the provider. The session itself is left untouched.
type ContextTransformFunc func(ctx context.Context, messages []CompletionMessage) ([]CompletionMessage, error)

// WithContextTransform attaches a context transform to the context.
func WithContextTransform(ctx context.Context, transform ContextTransformFunc) context.Context {
	return context.WithValue(ctx, contextTransformKey{}, transform)
}

// ContextTransformFromContext returns the attached transform, or nil.
func ContextTransformFromContext(ctx context.Context) ContextTransformFunc {
	transform, _ := ctx.Value(contextTransformKey{}).(ContextTransformFunc)
	return transform
}

// APIKeyResolver resolves the provider credential per call, so short-lived
// tokens can rotate mid-session.
type APIKeyResolver func(ctx context.Context, provider string) (string, error)

// WithAPIKeyResolver attaches a credential resolver to the context.
func WithAPIKeyResolver(ctx context.Context, resolver APIKeyResolver) context.Context {
	return context.WithValue(ctx, apiKeyResolverKey{}, resolver)
}

// APIKeyResolverFromContext returns the attached resolver, or nil.
func APIKeyResolverFromContext(ctx context.Context) APIKeyResolver {
	resolver, _ := ctx.Value(apiKeyResolverKey{}).(APIKeyResolver)
	return resolver
}

// WithResolvedAPIKey attaches an already-resolved credential, set by the
// runtime just before the provider call.
func WithResolvedAPIKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, resolvedAPIKeyKey{}, key)
}

// ResolvedAPIKeyFromContext returns the resolved credential, or "".
func ResolvedAPIKeyFromContext(ctx context.Context) string {
	key, _ := ctx.Value(resolvedAPIKeyKey{}).(string)
	return key
}

// ThinkingLevel selects the extended-thinking depth for supported models.
type ThinkingLevel string

const (
	ThinkingOff     ThinkingLevel = "off"
	ThinkingMinimal ThinkingLevel = "minimal"
	ThinkingLow     ThinkingLevel = "low"
	ThinkingMedium  ThinkingLevel = "medium"
	ThinkingHigh    ThinkingLevel = "high"
	ThinkingMax     ThinkingLevel = "max"
)

// ThinkingBudgets maps thinking levels to token budgets.
var ThinkingBudgets = map[ThinkingLevel]int{
	ThinkingOff:     0,
	ThinkingMinimal: 1024,
	ThinkingLow:     4096,
	ThinkingMedium:  16384,
	ThinkingHigh:    65536,
	ThinkingMax:     100000,
}

// GetThinkingBudget returns the token budget for a thinking level (0 when
// unknown or off).
func GetThinkingBudget(level ThinkingLevel) int {
	return ThinkingBudgets[level]
}

// WithThinkingLevel attaches a thinking level to the context.
func WithThinkingLevel(ctx context.Context, level ThinkingLevel) context.Context {
	return context.WithValue(ctx, thinkingLevelKey{}, level)
}

// ThinkingLevelFromContext returns the attached thinking level, defaulting
// to off.
func ThinkingLevelFromContext(ctx context.Context) ThinkingLevel {
	level, ok := ctx.Value(thinkingLevelKey{}).(ThinkingLevel)
	if !ok {
		return ThinkingOff
	}
	return level
}

// TurnEvent names a point in the turn lifecycle for TurnCallback observers.
type TurnEvent string

const (
	TurnEventStart        TurnEvent = "turn_start"
	TurnEventEnd          TurnEvent = "turn_end"
	TurnEventSteering     TurnEvent = "turn_steering"
	TurnEventToolsSkipped TurnEvent = "turn_tools_skipped"
)

// TurnCallback observes turn lifecycle events.
type TurnCallback func(ctx context.Context, event TurnEvent, data map[string]any)

// WithTurnCallback attaches a turn callback to the context.
func WithTurnCallback(ctx context.Context, callback TurnCallback) context.Context {
	return context.WithValue(ctx, turnCallbackKey{}, callback)
}

// TurnCallbackFromContext returns the attached callback, or nil.
func TurnCallbackFromContext(ctx context.Context) TurnCallback {
	callback, _ := ctx.Value(turnCallbackKey{}).(TurnCallback)
	return callback
}
