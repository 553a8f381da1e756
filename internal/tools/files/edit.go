package files

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/segmentationf4u1t/codeforge/internal/agent"
)

// EditTool applies exact find/replace edits to a file. Every old_text must
// be present; a miss fails the whole call so partial edits never land.
type EditTool struct {
	resolver Resolver
}

// NewEditTool creates an edit tool scoped to the workspace.
func NewEditTool(cfg Config) *EditTool {
	return &EditTool{resolver: Resolver{Root: cfg.Workspace}}
}

func (t *EditTool) Name() string { return "edit" }

func (t *EditTool) Description() string {
	return "Apply one or more find/replace edits to a file in the workspace."
}

func (t *EditTool) Schema() json.RawMessage {
	return objectSchema(map[string]any{
		"path": map[string]any{
			"type":        "string",
			"description": "Path to edit (relative to workspace).",
		},
		"edits": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"old_text": map[string]any{
						"type":        "string",
						"description": "Text to replace.",
					},
					"new_text": map[string]any{
						"type":        "string",
						"description": "Replacement text.",
					},
					"replace_all": map[string]any{
						"type":        "boolean",
						"description": "Replace all occurrences (default: false).",
					},
				},
				"required": []string{"old_text", "new_text"},
			},
		},
	}, "path", "edits")
}

func (t *EditTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	_ = ctx
	var input struct {
		Path  string `json:"path"`
		Edits []struct {
			OldText    string `json:"old_text"`
			NewText    string `json:"new_text"`
			ReplaceAll bool   `json:"replace_all"`
		} `json:"edits"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Path) == "" {
		return toolError("path is required"), nil
	}
	if len(input.Edits) == 0 {
		return toolError("edits are required"), nil
	}

	resolved, err := t.resolver.Resolve(input.Path)
	if err != nil {
		return toolError(err.Error()), nil
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return toolError(fmt.Sprintf("read file: %v", err)), nil
	}

	content := string(data)
	replacements := 0
	for _, edit := range input.Edits {
		switch {
		case edit.OldText == "":
			return toolError("old_text is required"), nil
		case !strings.Contains(content, edit.OldText):
			return toolError("old_text not found"), nil
		case edit.ReplaceAll:
			replacements += strings.Count(content, edit.OldText)
			content = strings.ReplaceAll(content, edit.OldText, edit.NewText)
		default:
			content = strings.Replace(content, edit.OldText, edit.NewText, 1)
			replacements++
		}
	}

	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return toolError(fmt.Sprintf("write file: %v", err)), nil
	}

	return jsonResult(map[string]any{
		"path":         input.Path,
		"replacements": replacements,
	}), nil
}
