package files

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/segmentationf4u1t/codeforge/internal/agent"
)

// Config controls filesystem tool defaults.
type Config struct {
	Workspace    string
	MaxReadBytes int
}

// ReadTool reads files within the workspace with offset and byte limits,
// so a large file never floods the context window.
type ReadTool struct {
	resolver   Resolver
	maxReadLen int
}

// NewReadTool creates a read tool scoped to the workspace.
func NewReadTool(cfg Config) *ReadTool {
	limit := cfg.MaxReadBytes
	if limit <= 0 {
		limit = 200000
	}
	return &ReadTool{
		resolver:   Resolver{Root: cfg.Workspace},
		maxReadLen: limit,
	}
}

func (t *ReadTool) Name() string { return "read" }

func (t *ReadTool) Description() string {
	return "Read a file from the workspace with optional offset and byte limit."
}

func (t *ReadTool) Schema() json.RawMessage {
	return objectSchema(map[string]any{
		"path": map[string]any{
			"type":        "string",
			"description": "Path to the file (relative to workspace).",
		},
		"offset": map[string]any{
			"type":        "integer",
			"description": "Byte offset to start reading from (default: 0).",
			"minimum":     0,
		},
		"max_bytes": map[string]any{
			"type":        "integer",
			"description": "Maximum bytes to read (capped by tool default).",
			"minimum":     0,
		},
	}, "path")
}

func (t *ReadTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Path     string `json:"path"`
		Offset   int64  `json:"offset"`
		MaxBytes int    `json:"max_bytes"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Path) == "" {
		return toolError("path is required"), nil
	}
	if input.Offset < 0 {
		return toolError("offset must be >= 0"), nil
	}

	resolved, err := t.resolver.Resolve(input.Path)
	if err != nil {
		return toolError(err.Error()), nil
	}

	file, err := os.Open(resolved)
	if err != nil {
		return toolError(fmt.Sprintf("open file: %v", err)), nil
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return toolError(fmt.Sprintf("stat file: %v", err)), nil
	}
	if input.Offset > 0 {
		if _, err := file.Seek(input.Offset, io.SeekStart); err != nil {
			return toolError(fmt.Sprintf("seek file: %v", err)), nil
		}
	}

	buf, err := io.ReadAll(io.LimitReader(file, t.readBudget(info.Size(), input.Offset, input.MaxBytes)))
	if err != nil {
		return toolError(fmt.Sprintf("read file: %v", err)), nil
	}

	truncated := info.Size() > 0 && input.Offset+int64(len(buf)) < info.Size()
	return jsonResult(map[string]any{
		"path":      input.Path,
		"content":   string(buf),
		"offset":    input.Offset,
		"bytes":     len(buf),
		"truncated": truncated,
	}), nil
}

// readBudget computes how many bytes to read, bounded by the request, the
// tool's cap, and what the file actually has left past offset.
func (t *ReadTool) readBudget(size, offset int64, maxBytes int) int64 {
	limit := t.maxReadLen
	if maxBytes > 0 && maxBytes < limit {
		limit = maxBytes
	}
	budget := int64(limit)
	if size > 0 {
		if remaining := size - offset; remaining < 0 {
			budget = 0
		} else if remaining < budget {
			budget = remaining
		}
	}
	return budget
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
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return &agent.ToolResult{Content: message, IsError: true}
	}
	return &agent.ToolResult{Content: string(payload), IsError: true}
}
