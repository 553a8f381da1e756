package sessionstore

import (
	"context"
	"testing"

	"github.com/segmentationf4u1t/codeforge/pkg/models"
	"github.com/segmentationf4u1t/codeforge/pkg/sessiontree"
)

func TestSessionsStoreAdapterAppendPersistsThroughTree(t *testing.T) {
	store := newTestStore(t)
	adapter := NewSessionsStoreAdapter(store, "/workspace", "anthropic", "claude")

	ctx := context.Background()
	session, err := adapter.GetOrCreate(ctx, "serve:/work/project", "/work/project")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if session.ID == "" {
		t.Fatal("expected a session ID to be assigned from the backing tree")
	}

	again, err := adapter.GetOrCreate(ctx, "serve:/work/project", "/work/project")
	if err != nil {
		t.Fatalf("second GetOrCreate: %v", err)
	}
	if again.ID != session.ID {
		t.Fatalf("GetOrCreate should return the same session for the same key, got %s and %s", session.ID, again.ID)
	}

	if err := adapter.AppendMessage(ctx, session.ID, &models.Message{
		Role:    models.RoleUser,
		Content: "list the files in this repo",
	}); err != nil {
		t.Fatalf("AppendMessage(user): %v", err)
	}
	if err := adapter.AppendMessage(ctx, session.ID, &models.Message{
		Role:    models.RoleAssistant,
		Content: "sure, one moment",
		ToolCalls: []models.ToolCall{
			{ID: "call-1", Name: "ls", Input: []byte(`{}`)},
		},
	}); err != nil {
		t.Fatalf("AppendMessage(assistant): %v", err)
	}

	history, err := adapter.GetHistory(ctx, session.ID, 0)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 cached messages, got %d", len(history))
	}

	tree, ok := adapter.trees[session.ID]
	if !ok {
		t.Fatal("expected a backing tree session to exist")
	}
	branch, err := tree.GetBranch("")
	if err != nil {
		t.Fatalf("GetBranch: %v", err)
	}
	// header + user message + assistant message
	if len(branch) != 3 {
		t.Fatalf("expected 3 entries in the backing tree (header + 2 messages), got %d", len(branch))
	}
	if branch[0].Type != sessiontree.EntryHeader {
		t.Fatalf("first entry should be the header, got %s", branch[0].Type)
	}
	if branch[1].Type != sessiontree.EntryUserMessage {
		t.Fatalf("second entry should be a user message, got %s", branch[1].Type)
	}
	if branch[2].Type != sessiontree.EntryAssistantMessage {
		t.Fatalf("third entry should be an assistant message, got %s", branch[2].Type)
	}
	if len(branch[2].Message.Content) != 2 {
		t.Fatalf("assistant entry should carry text + tool_call content blocks, got %d", len(branch[2].Message.Content))
	}
}

func TestSessionsStoreAdapterUnsupportedRoleRejected(t *testing.T) {
	store := newTestStore(t)
	adapter := NewSessionsStoreAdapter(store, "/workspace", "anthropic", "claude")
	ctx := context.Background()

	session, err := adapter.GetOrCreate(ctx, "k", "/work/project")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	err = adapter.AppendMessage(ctx, session.ID, &models.Message{Role: models.RoleSystem, Content: "x"})
	if err == nil {
		t.Fatal("expected an error appending a system-role message with no tree entry type")
	}
}

func TestSessionsStoreAdapterPersistsToolRole(t *testing.T) {
	store := newTestStore(t)
	adapter := NewSessionsStoreAdapter(store, "/workspace", "anthropic", "claude")
	ctx := context.Background()

	session, err := adapter.GetOrCreate(ctx, "k", "/work/project")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	err = adapter.AppendMessage(ctx, session.ID, &models.Message{
		Role:        models.RoleTool,
		ToolResults: []models.ToolResult{{ToolCallID: "call-1", Content: "ok"}},
	})
	if err != nil {
		t.Fatalf("AppendMessage(tool): %v", err)
	}

	branch, err := adapter.trees[session.ID].GetBranch("")
	if err != nil {
		t.Fatalf("GetBranch: %v", err)
	}
	if branch[len(branch)-1].Type != sessiontree.EntryToolResult {
		t.Fatalf("tool message should persist as a tool_result entry, got %s", branch[len(branch)-1].Type)
	}
}
