package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestRoleConstants(t *testing.T) {
	tests := []struct {
		role Role
		want string
	}{
		{RoleUser, "user"},
		{RoleAssistant, "assistant"},
		{RoleSystem, "system"},
		{RoleTool, "tool"},
	}
	for _, tt := range tests {
		if string(tt.role) != tt.want {
			t.Errorf("role %q, want %q", tt.role, tt.want)
		}
	}
}

func TestMessageJSONRoundTrip(t *testing.T) {
	msg := Message{
		ID:          "msg-1",
		SessionID:   "session-1",
		BranchID:    "branch-1",
		SequenceNum: 7,
		Role:        RoleAssistant,
		Content:     "running the tests now",
		ToolCalls: []ToolCall{
			{ID: "call-1", Name: "bash", Input: json.RawMessage(`{"command":"go test ./..."}`)},
		},
		ToolResults: []ToolResult{
			{ToolCallID: "call-1", Content: "ok", IsError: false},
		},
		Metadata:  map[string]any{"model": "claude-sonnet"},
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Message
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if decoded.ID != msg.ID || decoded.SessionID != msg.SessionID {
		t.Errorf("identity fields lost: %+v", decoded)
	}
	if decoded.BranchID != "branch-1" || decoded.SequenceNum != 7 {
		t.Errorf("branch position lost: %+v", decoded)
	}
	if len(decoded.ToolCalls) != 1 || decoded.ToolCalls[0].Name != "bash" {
		t.Errorf("tool calls lost: %+v", decoded.ToolCalls)
	}
	if len(decoded.ToolResults) != 1 || decoded.ToolResults[0].ToolCallID != "call-1" {
		t.Errorf("tool results lost: %+v", decoded.ToolResults)
	}
}

func TestMessageOmitsEmptyOptionalFields(t *testing.T) {
	data, err := json.Marshal(Message{ID: "m", SessionID: "s", Role: RoleUser, Content: "hi"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, field := range []string{"branch_id", "sequence_num", "tool_calls", "tool_results", "attachments", "metadata"} {
		if jsonHasKey(data, field) {
			t.Errorf("empty %s should be omitted, got %s", field, data)
		}
	}
}

func TestSessionJSONRoundTrip(t *testing.T) {
	session := Session{
		ID:        "session-1",
		Key:       "serve:/work/project",
		Workspace: "/work/project",
		Title:     "fix the flaky test",
		Metadata:  map[string]any{"model": "claude-sonnet"},
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		UpdatedAt: time.Now().UTC().Truncate(time.Second),
	}

	data, err := json.Marshal(session)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Session
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Key != session.Key || decoded.Workspace != session.Workspace {
		t.Errorf("session fields lost: %+v", decoded)
	}
}

func jsonHasKey(data []byte, key string) bool {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return false
	}
	_, ok := m[key]
	return ok
}
