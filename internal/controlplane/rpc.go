// Package controlplane implements the headless line-delimited JSON RPC
// surface: a stdin/stdout protocol that lets an external host (TUI, RPC
// bridge, test harness) drive the agent loop without linking against
// internal/agent directly.
package controlplane

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/segmentationf4u1t/codeforge/internal/agent"
	"github.com/segmentationf4u1t/codeforge/internal/sessions"
	"github.com/segmentationf4u1t/codeforge/pkg/models"
)

// ErrBusy is returned when a command that requires an idle agent (prompt,
// compact) arrives while a prompt is already streaming.
var ErrBusy = errors.New("controlplane: agent is already running a prompt")

// ErrNoActiveSession is returned when a command needs a current session and
// none has been selected yet.
var ErrNoActiveSession = errors.New("controlplane: no active session")

// Command is one inbound line of the control-plane protocol.
type Command struct {
	Command string          `json:"command"`
	ID      string          `json:"id,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response answers exactly one Command.
type Response struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	ID      string `json:"id,omitempty"`
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Dispatcher drives one agent session over the control-plane protocol. It is
// safe for one reader goroutine (Run) plus concurrent writers calling
// Dispatch directly (used by tests and by in-process embedding).
type Dispatcher struct {
	runtime   *agent.Runtime
	store     sessions.Store
	branches  sessions.BranchStore
	compactor *agent.CompactionManager
	steering  *agent.SteeringQueue
	log       *slog.Logger

	outMu sync.Mutex
	out   *json.Encoder

	mu            sync.Mutex
	session       *models.Session
	model         string
	thinkingLevel agent.ThinkingLevel
	running       bool
	cancel        context.CancelFunc
}

// NewDispatcher builds a Dispatcher bound to runtime/store and writing events
// and responses to out. session is the initially active conversation; it may
// be nil, in which case prompt/get_messages/branch fail with
// ErrNoActiveSession until switch_session or a fresh session is provided by
// the embedder.
func NewDispatcher(runtime *agent.Runtime, store sessions.Store, session *models.Session, out io.Writer, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		runtime:       runtime,
		store:         store,
		session:       session,
		steering:      agent.NewSteeringQueue(),
		log:           log.With("component", "controlplane"),
		out:           json.NewEncoder(out),
		thinkingLevel: agent.ThinkingOff,
	}
}

// SetBranchStore enables switch_session/branch against a branch-aware store.
func (d *Dispatcher) SetBranchStore(b sessions.BranchStore) { d.branches = b }

// SetCompactionManager enables the compact command.
func (d *Dispatcher) SetCompactionManager(m *agent.CompactionManager) { d.compactor = m }

// Run reads one JSON Command per line from in until EOF or ctx is done,
// dispatching each one. Commands that stream (prompt) run synchronously with
// respect to Run's own loop but release the mutex so a concurrent Dispatch
// call (e.g. from a second goroutine handling SIGINT as "abort") can still
// interrupt them; callers that need true concurrent reads while a prompt
// streams should call Dispatch directly from their own reader goroutine
// instead of Run.
func (d *Dispatcher) Run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var cmd Command
		if err := json.Unmarshal(line, &cmd); err != nil {
			d.writeResponse(Response{Type: "response", Success: false, Error: fmt.Sprintf("invalid command: %v", err)})
			continue
		}
		d.Dispatch(ctx, cmd)
	}
	return scanner.Err()
}

// Dispatch executes a single command and writes its Response (and, for
// prompt, the intervening AgentEvent stream) to the configured writer.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) {
	resp := Response{Type: "response", Command: cmd.Command, ID: cmd.ID}
	data, err := d.handle(ctx, cmd)
	if err != nil {
		resp.Success = false
		resp.Error = err.Error()
	} else {
		resp.Success = true
		resp.Data = data
	}
	d.writeResponse(resp)
}

func (d *Dispatcher) handle(ctx context.Context, cmd Command) (any, error) {
	switch cmd.Command {
	case "prompt":
		return d.handlePrompt(ctx, cmd.Params)
	case "queue_message":
		return d.handleQueueMessage(cmd.Params)
	case "abort":
		return d.handleAbort()
	case "reset":
		return d.handleReset()
	case "get_state":
		return d.handleGetState(), nil
	case "set_model":
		return d.handleSetModel(cmd.Params)
	case "set_thinking_level":
		return d.handleSetThinkingLevel(cmd.Params)
	case "compact":
		return d.handleCompact(ctx)
	case "switch_session":
		return d.handleSwitchSession(ctx, cmd.Params)
	case "branch":
		return d.handleBranch(ctx, cmd.Params)
	case "get_messages":
		return d.handleGetMessages(ctx, cmd.Params)
	default:
		return nil, fmt.Errorf("unknown command %q", cmd.Command)
	}
}

// --- prompt ---

type promptParams struct {
	Text        string              `json:"text"`
	Attachments []models.Attachment `json:"attachments,omitempty"`
}

type promptResult struct {
	MessageID  string `json:"message_id"`
	StopReason string `json:"stop_reason,omitempty"`
	Text       string `json:"text"`
	Aborted    bool   `json:"aborted,omitempty"`
}

func (d *Dispatcher) handlePrompt(ctx context.Context, raw json.RawMessage) (any, error) {
	var p promptParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode prompt params: %w", err)
	}

	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return nil, ErrBusy
	}
	session := d.session
	if session == nil {
		d.mu.Unlock()
		return nil, ErrNoActiveSession
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true
	model := d.model
	level := d.thinkingLevel
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.running = false
		d.cancel = nil
		d.mu.Unlock()
		cancel()
	}()

	runCtx = agent.WithSteeringQueue(runCtx, d.steering)
	if level != "" {
		runCtx = agent.WithThinkingLevel(runCtx, level)
	}

	msg := &models.Message{
		ID:          uuid.New().String(),
		SessionID:   session.ID,
		Role:        models.RoleUser,
		Content:     p.Text,
		Attachments: p.Attachments,
	}
	if model != "" {
		d.runtime.SetDefaultModel(model)
	}

	events, err := d.runtime.ProcessStream(runCtx, session, msg)
	if err != nil {
		return nil, err
	}

	var textBuf strings.Builder
	stopReason := "stop"
	aborted := false
	for ev := range events {
		d.writeEvent(ev)
		switch ev.Type {
		case models.AgentEventModelDelta:
			if ev.Stream != nil {
				textBuf.WriteString(ev.Stream.Delta)
			}
		case models.AgentEventRunCancelled, models.AgentEventRunTimedOut:
			aborted = true
			stopReason = "aborted"
		case models.AgentEventRunError:
			stopReason = "error"
		}
	}

	return promptResult{MessageID: msg.ID, StopReason: stopReason, Text: textBuf.String(), Aborted: aborted}, nil
}

// --- queue_message ---

type queueMessageParams struct {
	Text     string `json:"text"`
	Priority int    `json:"priority,omitempty"`
}

func (d *Dispatcher) handleQueueMessage(raw json.RawMessage) (any, error) {
	var p queueMessageParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode queue_message params: %w", err)
	}

	d.mu.Lock()
	running := d.running
	d.mu.Unlock()

	if running {
		d.steering.Steer(&agent.SteeringMessage{Content: p.Text, Priority: p.Priority})
		return map[string]string{"queued": "steering"}, nil
	}
	d.steering.FollowUpText(p.Text)
	return map[string]string{"queued": "followup"}, nil
}

// --- abort ---

func (d *Dispatcher) handleAbort() (any, error) {
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	// Idempotent: calling abort twice, or with nothing running, is a no-op.
	return map[string]bool{"aborted": cancel != nil}, nil
}

// --- reset ---

func (d *Dispatcher) handleReset() (any, error) {
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	d.steering.Clear()
	return map[string]bool{"reset": true}, nil
}

// --- get_state ---

type stateResult struct {
	Running       bool   `json:"running"`
	SessionID     string `json:"session_id,omitempty"`
	Model         string `json:"model,omitempty"`
	ThinkingLevel string `json:"thinking_level,omitempty"`
	HasSteering   bool   `json:"has_steering"`
	HasFollowUp   bool   `json:"has_followup"`
}

func (d *Dispatcher) handleGetState() any {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := stateResult{
		Running:       d.running,
		Model:         d.model,
		ThinkingLevel: string(d.thinkingLevel),
		HasSteering:   d.steering.HasSteering(),
		HasFollowUp:   d.steering.HasFollowUp(),
	}
	if d.session != nil {
		s.SessionID = d.session.ID
	}
	return s
}

// --- set_model / set_thinking_level ---

type setModelParams struct {
	Model string `json:"model"`
}

func (d *Dispatcher) handleSetModel(raw json.RawMessage) (any, error) {
	var p setModelParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode set_model params: %w", err)
	}
	if p.Model == "" {
		return nil, errors.New("model must not be empty")
	}
	d.mu.Lock()
	d.model = p.Model
	d.mu.Unlock()
	d.runtime.SetDefaultModel(p.Model)
	return map[string]string{"model": p.Model}, nil
}

type setThinkingLevelParams struct {
	Level string `json:"level"`
}

func (d *Dispatcher) handleSetThinkingLevel(raw json.RawMessage) (any, error) {
	var p setThinkingLevelParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode set_thinking_level params: %w", err)
	}
	level := agent.ThinkingLevel(p.Level)
	if _, ok := agent.ThinkingBudgets[level]; !ok {
		return nil, fmt.Errorf("unknown thinking level %q", p.Level)
	}
	d.mu.Lock()
	d.thinkingLevel = level
	d.mu.Unlock()
	return map[string]string{"thinking_level": string(level)}, nil
}

// --- compact ---

func (d *Dispatcher) handleCompact(ctx context.Context) (any, error) {
	if d.compactor == nil {
		return nil, errors.New("compaction is not configured for this session")
	}
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return nil, ErrBusy
	}
	session := d.session
	d.mu.Unlock()
	if session == nil {
		return nil, ErrNoActiveSession
	}
	ok, err := d.compactor.ForceCompact(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return map[string]bool{"cancelled": true}, nil
	}
	return map[string]bool{"compacted": true}, nil
}

// --- switch_session ---

type switchSessionParams struct {
	SessionID string `json:"session_id"`
}

func (d *Dispatcher) handleSwitchSession(ctx context.Context, raw json.RawMessage) (any, error) {
	var p switchSessionParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode switch_session params: %w", err)
	}
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return nil, ErrBusy
	}
	d.mu.Unlock()

	session, err := d.store.Get(ctx, p.SessionID)
	if err != nil {
		return nil, fmt.Errorf("switch_session: %w", err)
	}
	d.mu.Lock()
	d.session = session
	d.mu.Unlock()
	return map[string]string{"session_id": session.ID}, nil
}

// --- branch ---

type branchParams struct {
	Name           string `json:"name,omitempty"`
	ParentBranchID string `json:"parent_branch_id,omitempty"`
	BranchPoint    int64  `json:"branch_point,omitempty"`
}

func (d *Dispatcher) handleBranch(ctx context.Context, raw json.RawMessage) (any, error) {
	if d.branches == nil {
		return nil, errors.New("branching is not configured for this session")
	}
	var p branchParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode branch params: %w", err)
	}
	d.mu.Lock()
	session := d.session
	d.mu.Unlock()
	if session == nil {
		return nil, ErrNoActiveSession
	}

	branch := &models.Branch{
		ID:          uuid.New().String(),
		SessionID:   session.ID,
		Name:        p.Name,
		BranchPoint: p.BranchPoint,
	}
	if p.ParentBranchID != "" {
		branch.ParentBranchID = &p.ParentBranchID
	}
	if err := d.branches.CreateBranch(ctx, branch); err != nil {
		return nil, fmt.Errorf("branch: %w", err)
	}
	return map[string]string{"branch_id": branch.ID}, nil
}

// --- get_messages ---

type getMessagesParams struct {
	Limit int `json:"limit,omitempty"`
}

func (d *Dispatcher) handleGetMessages(ctx context.Context, raw json.RawMessage) (any, error) {
	var p getMessagesParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode get_messages params: %w", err)
		}
	}
	d.mu.Lock()
	session := d.session
	d.mu.Unlock()
	if session == nil {
		return nil, ErrNoActiveSession
	}
	msgs, err := d.store.GetHistory(ctx, session.ID, p.Limit)
	if err != nil {
		return nil, fmt.Errorf("get_messages: %w", err)
	}
	return msgs, nil
}

// --- wire helpers ---

func (d *Dispatcher) writeResponse(resp Response) {
	d.outMu.Lock()
	defer d.outMu.Unlock()
	if err := d.out.Encode(resp); err != nil {
		d.log.Error("controlplane: write response failed", "error", err)
	}
}

func (d *Dispatcher) writeEvent(ev models.AgentEvent) {
	d.outMu.Lock()
	defer d.outMu.Unlock()
	if err := d.out.Encode(ev); err != nil {
		d.log.Error("controlplane: write event failed", "error", err)
	}
}
