package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/segmentationf4u1t/codeforge/internal/hooks"
	"github.com/segmentationf4u1t/codeforge/pkg/models"
)

// calcTool is a minimal "calculate(expression)" tool, evaluating a single
// "<int> '*'|'+' <int>" expression, enough to drive the multi-call
// arithmetic scenario without pulling in a full expression parser.
type calcTool struct{}

func (calcTool) Name() string            { return "calculate" }
func (calcTool) Description() string     { return "evaluate a simple arithmetic expression" }
func (calcTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object","properties":{"expression":{"type":"string"}},"required":["expression"]}`) }
func (calcTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	var in struct {
		Expression string `json:"expression"`
	}
	if err := json.Unmarshal(params, &in); err != nil {
		return &ToolResult{Content: err.Error(), IsError: true}, nil
	}
	result, err := evalSimpleExpr(in.Expression)
	if err != nil {
		return &ToolResult{Content: err.Error(), IsError: true}, nil
	}
	return &ToolResult{Content: strconv.Itoa(result)}, nil
}

func evalSimpleExpr(expr string) (int, error) {
	expr = strings.TrimSpace(expr)
	for _, op := range []string{"*", "+"} {
		if idx := strings.Index(expr, op); idx >= 0 {
			left, err := strconv.Atoi(strings.TrimSpace(expr[:idx]))
			if err != nil {
				return 0, fmt.Errorf("invalid left operand: %w", err)
			}
			right, err := strconv.Atoi(strings.TrimSpace(expr[idx+1:]))
			if err != nil {
				return 0, fmt.Errorf("invalid right operand: %w", err)
			}
			if op == "*" {
				return left * right, nil
			}
			return left + right, nil
		}
	}
	return 0, fmt.Errorf("unsupported expression: %q", expr)
}

// TestScenarioA_ToolLoopProducesExpectedInteger drives the calc tool through
// two sequential calls the way a "(3485*4234)+(88823*3482)" prompt would be
// decomposed by an assistant, and checks the final integer.
func TestScenarioA_ToolLoopProducesExpectedInteger(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(calcTool{})

	first, err := registry.Execute(context.Background(), "calculate", json.RawMessage(`{"expression":"3485*4234"}`))
	if err != nil || first.IsError {
		t.Fatalf("first calculate call failed: err=%v result=%+v", err, first)
	}
	second, err := registry.Execute(context.Background(), "calculate", json.RawMessage(`{"expression":"88823*3482"}`))
	if err != nil || second.IsError {
		t.Fatalf("second calculate call failed: err=%v result=%+v", err, second)
	}

	a, err := strconv.Atoi(first.Content)
	if err != nil {
		t.Fatalf("first result not an integer: %v", err)
	}
	b, err := strconv.Atoi(second.Content)
	if err != nil {
		t.Fatalf("second result not an integer: %v", err)
	}

	total := a + b
	if total != 324037276 {
		t.Fatalf("(3485*4234)+(88823*3482) = %d, want 324037276", total)
	}
}

// TestScenarioB_ImmediateInterruptSkipsRemainingToolCalls covers the
// mid-batch steering scenario: after the first tool_execution_end, a
// steering message "stop, answer 0" arrives and the remaining two tool
// calls in the batch must not run, each receiving a synthetic error result.
func TestScenarioB_ImmediateInterruptSkipsRemainingToolCalls(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(calcTool{})
	toolExec := NewToolExecutor(registry, DefaultToolExecConfig())

	queue := NewSteeringQueue()

	calls := []models.ToolCall{
		{ID: "call-1", Name: "calculate", Input: json.RawMessage(`{"expression":"1+1"}`)},
		{ID: "call-2", Name: "calculate", Input: json.RawMessage(`{"expression":"2+2"}`)},
		{ID: "call-3", Name: "calculate", Input: json.RawMessage(`{"expression":"3+3"}`)},
	}

	interrupted := false
	interruptCheck := func() bool { return interrupted }

	results := toolExec.ExecuteSequentiallyInterruptible(context.Background(), calls, interruptCheck)
	if results[0].Result.IsError {
		t.Fatalf("first call should have executed normally before any interrupt: %+v", results[0])
	}

	// Simulate the steering message landing right after the first
	// tool_execution_end, then re-run from where the batch left off.
	queue.SteerText("stop, answer 0")
	if !queue.HasSteering() {
		t.Fatal("steering queue should report a pending message")
	}
	interrupted = true

	remaining := toolExec.ExecuteSequentiallyInterruptible(context.Background(), calls[1:], interruptCheck)
	for i, r := range remaining {
		if !r.Result.IsError {
			t.Errorf("remaining call %d should be skipped with an error result, got %+v", i, r)
		}
		if r.Result.Content != "skipped: user interrupted" {
			t.Errorf("remaining call %d content = %q, want %q", i, r.Result.Content, "skipped: user interrupted")
		}
	}

	msgs := queue.GetSteeringMessages()
	if len(msgs) != 1 || msgs[0].Content != "stop, answer 0" {
		t.Fatalf("steering queue should yield exactly the pushed message, got %+v", msgs)
	}
}

// TestScenarioF_HookVetoesBashRmRf covers the hook veto contract: a
// pre-execution hook that blocks any bash call whose arguments contain
// "rm -rf" must stop the tool from executing and surface an error result
// carrying the hook's reason.
func TestScenarioF_HookVetoesBashRmRf(t *testing.T) {
	registry := NewHookVettedRegistry(t, func(toolName string, input json.RawMessage) (blocked bool, reason string) {
		if toolName != "bash" {
			return false, ""
		}
		var in struct {
			Command string `json:"command"`
		}
		_ = json.Unmarshal(input, &in)
		if strings.Contains(in.Command, "rm -rf") {
			return true, "nope"
		}
		return false, ""
	})

	executed := false
	registry.Register(&scenarioFBashTool{onExecute: func() { executed = true }})

	result, err := registry.Execute(context.Background(), "bash", json.RawMessage(`{"command":"rm -rf /"}`))
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if executed {
		t.Fatal("vetoed tool must not execute")
	}
	if !result.IsError {
		t.Fatalf("vetoed call should produce an error result, got %+v", result)
	}
	if result.Content != "nope" {
		t.Fatalf("vetoed call content = %q, want %q", result.Content, "nope")
	}
}

type scenarioFBashTool struct {
	onExecute func()
}

func (scenarioFBashTool) Name() string            { return "bash" }
func (scenarioFBashTool) Description() string     { return "run a shell command" }
func (scenarioFBashTool) Schema() json.RawMessage { return json.RawMessage(`{}`) }
func (t *scenarioFBashTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	if t.onExecute != nil {
		t.onExecute()
	}
	return &ToolResult{Content: "ok"}, nil
}

// NewHookVettedRegistry builds a ToolRegistry wired to a tool hook manager
// with a single pre-execution veto hook, so tests can exercise the real
// dispatch path (ToolRegistry.Execute -> hooks.ToolHookManager.TriggerPreExecution)
// rather than asserting on the veto decision in isolation.
func NewHookVettedRegistry(t *testing.T, veto func(toolName string, input json.RawMessage) (bool, string)) *ToolRegistry {
	t.Helper()
	reg := hooks.NewRegistry(nil)
	mgr := hooks.NewToolHookManager(reg, nil)
	mgr.RegisterPreHook("veto-rm-rf", func(ctx context.Context, hookCtx *hooks.ToolHookContext) error {
		if blocked, reason := veto(hookCtx.ToolName, hookCtx.Input); blocked {
			hookCtx.Canceled = true
			hookCtx.CancelReason = reason
		}
		return nil
	})

	registry := NewToolRegistry()
	registry.SetHookManager(mgr)
	return registry
}
