package exec

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentationf4u1t/codeforge/internal/agent"
)

// ExecTool runs shell commands in the workspace, synchronously or as
// tracked background processes.
type ExecTool struct {
	name    string
	manager *Manager
}

// NewExecTool creates an exec tool registered under name ("exec" if empty).
func NewExecTool(name string, manager *Manager) *ExecTool {
	if strings.TrimSpace(name) == "" {
		name = "exec"
	}
	return &ExecTool{name: name, manager: manager}
}

func (t *ExecTool) Name() string { return t.name }

func (t *ExecTool) Description() string {
	return "Run a shell command in the workspace (supports optional background execution)."
}

func (t *ExecTool) Schema() json.RawMessage {
	return objectSchema(map[string]any{
		"command": map[string]any{
			"type":        "string",
			"description": "Shell command to execute.",
		},
		"cwd": map[string]any{
			"type":        "string",
			"description": "Working directory (relative to workspace).",
		},
		"env": map[string]any{
			"type":        "object",
			"description": "Environment overrides (string values).",
		},
		"input": map[string]any{
			"type":        "string",
			"description": "Stdin content to pass to the command.",
		},
		"timeout_seconds": map[string]any{
			"type":        "integer",
			"description": "Timeout in seconds (0 = no timeout).",
			"minimum":     0,
		},
		"background": map[string]any{
			"type":        "boolean",
			"description": "Run in background and return a process id.",
		},
	}, "command")
}

func (t *ExecTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	if t.manager == nil {
		return toolError("exec manager unavailable"), nil
	}
	var input struct {
		Command        string            `json:"command"`
		Cwd            string            `json:"cwd"`
		Env            map[string]string `json:"env"`
		Input          string            `json:"input"`
		TimeoutSeconds int               `json:"timeout_seconds"`
		Background     bool              `json:"background"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	command := strings.TrimSpace(input.Command)
	if command == "" {
		return toolError("command is required"), nil
	}

	timeout := time.Duration(input.TimeoutSeconds) * time.Second

	if input.Background {
		proc, err := t.manager.startBackground(ctx, command, input.Cwd, input.Env, input.Input, timeout)
		if err != nil {
			return toolError(err.Error()), nil
		}
		return jsonResult(map[string]any{
			"status":     "running",
			"process_id": proc.id,
		}), nil
	}

	result, err := t.manager.runSync(ctx, command, input.Cwd, input.Env, input.Input, timeout)
	if err != nil {
		return toolError(err.Error()), nil
	}
	return jsonResult(result), nil
}

// ProcessTool inspects and manages background exec processes.
type ProcessTool struct {
	manager *Manager
}

// NewProcessTool creates a process tool over the shared manager.
func NewProcessTool(manager *Manager) *ProcessTool {
	return &ProcessTool{manager: manager}
}

func (t *ProcessTool) Name() string { return "process" }

func (t *ProcessTool) Description() string {
	return "Manage background exec processes (list, status, log, write, kill, remove)."
}

func (t *ProcessTool) Schema() json.RawMessage {
	return objectSchema(map[string]any{
		"action": map[string]any{
			"type":        "string",
			"description": "Action: list, status, log, write, kill, remove.",
		},
		"process_id": map[string]any{
			"type":        "string",
			"description": "Process id for actions that target a process.",
		},
		"input": map[string]any{
			"type":        "string",
			"description": "Input for write action.",
		},
	}, "action")
}

func (t *ProcessTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	_ = ctx
	if t.manager == nil {
		return toolError("process manager unavailable"), nil
	}
	var input struct {
		Action    string `json:"action"`
		ProcessID string `json:"process_id"`
		Input     string `json:"input"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	action := strings.ToLower(strings.TrimSpace(input.Action))

	switch action {
	case "":
		return toolError("action is required"), nil
	case "list":
		return jsonResult(map[string]any{"processes": t.manager.list()}), nil
	case "status", "log", "write", "kill", "remove":
	default:
		return toolError("unsupported action"), nil
	}

	id := strings.TrimSpace(input.ProcessID)
	if id == "" {
		return toolError("process_id is required"), nil
	}
	proc, ok := t.manager.get(id)
	if !ok {
		return toolError("process not found"), nil
	}

	switch action {
	case "status":
		return jsonResult(proc.info()), nil
	case "log":
		return t.log(proc), nil
	case "write":
		return t.write(proc, input.Input), nil
	case "kill":
		return t.kill(proc), nil
	default: // "remove"
		return t.remove(proc), nil
	}
}

func (t *ProcessTool) log(proc *process) *agent.ToolResult {
	return jsonResult(map[string]any{
		"stdout": proc.stdout.String(),
		"stderr": proc.stderr.String(),
		"status": proc.status(),
	})
}

func (t *ProcessTool) write(proc *process, data string) *agent.ToolResult {
	if proc.stdin == nil {
		return toolError("process stdin unavailable")
	}
	if data == "" {
		return toolError("input is required")
	}
	if _, err := proc.stdin.Write([]byte(data)); err != nil {
		return toolError(fmt.Sprintf("write stdin: %v", err))
	}
	return jsonResult(map[string]any{"status": "written"})
}

func (t *ProcessTool) kill(proc *process) *agent.ToolResult {
	if proc.cmd.Process == nil {
		return toolError("process not running")
	}
	if err := proc.cmd.Process.Kill(); err != nil {
		return toolError(fmt.Sprintf("kill process: %v", err))
	}
	return jsonResult(map[string]any{"status": "killed"})
}

func (t *ProcessTool) remove(proc *process) *agent.ToolResult {
	if proc.status() == "running" {
		return toolError("process still running")
	}
	if !t.manager.remove(proc.id) {
		return toolError("remove failed")
	}
	return jsonResult(map[string]any{"status": "removed"})
}

// objectSchema builds the JSON schema for an object with the given
// properties and required field names.
func objectSchema(properties map[string]any, required ...string) json.RawMessage {
	payload, err := json.Marshal(map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	})
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// jsonResult renders v as an indented-JSON tool result.
func jsonResult(v any) *agent.ToolResult {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err))
	}
	return &agent.ToolResult{Content: string(payload)}
}

func toolError(message string) *agent.ToolResult {
	payload, _ := json.Marshal(map[string]string{"error": message})
	return &agent.ToolResult{Content: string(payload), IsError: true}
}
