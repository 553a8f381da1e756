// Package sessiontree defines the tagged-union entry types that make up a
// session's append-only, branch-capable log.
package sessiontree

import "time"

// EntryType discriminates the payload carried by an Entry.
type EntryType string

const (
	EntryHeader           EntryType = "header"
	EntryUserMessage      EntryType = "user_message"
	EntryAssistantMessage EntryType = "assistant_message"
	EntryToolResult       EntryType = "tool_result_message"
	EntryBashExecution    EntryType = "bash_execution_message"
	EntryCustomMessage    EntryType = "custom_message"
	EntryCustom           EntryType = "custom"
	EntryCompaction       EntryType = "compaction"
	EntryBranchSummary    EntryType = "branch_summary"
	EntryThinkingLevel    EntryType = "thinking_level_change"
	EntryModelChange      EntryType = "model_change"
	EntryLabel            EntryType = "label"
)

// ContentType discriminates a single block within a message.
type ContentType string

const (
	ContentText       ContentType = "text"
	ContentThinking   ContentType = "thinking"
	ContentImage      ContentType = "image"
	ContentToolCall   ContentType = "tool_call"
	ContentToolResult ContentType = "tool_result"
)

// ContentBlock is one component of a message, tagged by Type.
type ContentBlock struct {
	Type ContentType `json:"type"`

	Text     string        `json:"text,omitempty"`
	Thinking string        `json:"thinking,omitempty"`
	Image    *ImageBlock   `json:"image,omitempty"`
	ToolCall *ToolCall     `json:"tool_call,omitempty"`
	ToolRes  *ToolResult   `json:"tool_result,omitempty"`
}

// ImageBlock carries inline or referenced image data.
type ImageBlock struct {
	MediaType string `json:"media_type"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// ToolCall is an assistant's request to invoke a tool.
type ToolCall struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Input []byte `json:"input"` // raw JSON
}

// ToolResult is the outcome of executing a ToolCall.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Usage reports provider-side token accounting for an assistant turn.
type Usage struct {
	InputTokens         int     `json:"input_tokens"`
	OutputTokens        int     `json:"output_tokens"`
	CacheReadTokens     int     `json:"cache_read_tokens,omitempty"`
	CacheCreationTokens int     `json:"cache_creation_tokens,omitempty"`
	TotalTokens         int     `json:"total_tokens"`
	CostUSD             float64 `json:"cost_usd,omitempty"`
}

// StopReason is why an assistant turn ended.
type StopReason string

const (
	StopReasonStop   StopReason = "stop"
	StopReasonLength StopReason = "length"
	StopReasonTool   StopReason = "tool_use"
	StopReasonAbort  StopReason = "aborted"
	StopReasonError  StopReason = "error"
)

// Header is the root entry of a session file, written exactly once.
type Header struct {
	SessionID     string    `json:"session_id"`
	Cwd           string    `json:"cwd"`
	Provider      string    `json:"provider"`
	ModelID       string    `json:"model_id"`
	ThinkingLevel string    `json:"thinking_level,omitempty"`
	BranchedFrom  string    `json:"branched_from,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// MessagePayload is the shared shape for the four message kinds
// (UserMessage, AssistantMessage, ToolResultMessage, BashExecutionMessage).
type MessagePayload struct {
	Content      []ContentBlock `json:"content"`
	Usage        *Usage         `json:"usage,omitempty"`
	StopReason   StopReason     `json:"stop_reason,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`

	// BashExecutionMessage fields.
	Command  string `json:"command,omitempty"`
	ExitCode *int   `json:"exit_code,omitempty"`
}

// CustomMessagePayload is a hook-injected message that DOES enter LLM context.
type CustomMessagePayload struct {
	CustomType string         `json:"custom_type"`
	Content    string         `json:"content,omitempty"`
	Blocks     []ContentBlock `json:"blocks,omitempty"`
	Display    string         `json:"display,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

// CustomPayload is hook-private durable state, never shown to the LLM.
type CustomPayload struct {
	CustomType string         `json:"custom_type"`
	Data       map[string]any `json:"data,omitempty"`
}

// CompactionPayload marks a compaction boundary.
type CompactionPayload struct {
	Summary        string         `json:"summary"`
	FirstKeptID    string         `json:"first_kept_entry_id"`
	TokensBefore   int            `json:"tokens_before"`
	Details        map[string]any `json:"details,omitempty"`
}

// BranchSummaryPayload summarizes a sibling branch that was abandoned.
type BranchSummaryPayload struct {
	Summary string `json:"summary"`
	FromID  string `json:"from_id"`
}

// ThinkingLevelPayload records a thinking-depth change.
type ThinkingLevelPayload struct {
	ThinkingLevel string `json:"thinking_level"`
}

// ModelChangePayload records a mid-session model/provider switch.
type ModelChangePayload struct {
	Provider string `json:"provider"`
	ModelID  string `json:"model_id"`
}

// LabelPayload attaches a bookmark to an entry.
type LabelPayload struct {
	TargetID string `json:"target_id"`
	Label    string `json:"label,omitempty"`
}

// Entry is one immutable record in a session's log, a tagged union keyed by
// Type. Only the field matching Type is populated. Entries are never
// mutated after being written except by RewriteAssistantToolCallArgs.
type Entry struct {
	Type      EntryType `json:"type"`
	ID        string    `json:"id"`
	ParentID  string    `json:"parent_id,omitempty"` // empty only for the header
	Timestamp time.Time `json:"timestamp"`

	Header        *Header               `json:"header,omitempty"`
	Message       *MessagePayload       `json:"message,omitempty"`
	CustomMessage *CustomMessagePayload `json:"custom_message,omitempty"`
	Custom        *CustomPayload        `json:"custom,omitempty"`
	Compaction    *CompactionPayload    `json:"compaction,omitempty"`
	BranchSummary *BranchSummaryPayload `json:"branch_summary,omitempty"`
	ThinkingLevel *ThinkingLevelPayload `json:"thinking_level,omitempty"`
	ModelChange   *ModelChangePayload   `json:"model_change,omitempty"`
	Label         *LabelPayload         `json:"label,omitempty"`
}

// IsHeader reports whether this entry is the session's root header.
func (e Entry) IsHeader() bool { return e.Type == EntryHeader }

// TreeNode is a hierarchical view of entries for branch navigation.
type TreeNode struct {
	Entry    Entry      `json:"entry"`
	Children []TreeNode `json:"children,omitempty"`
	Label    string     `json:"label,omitempty"`
}

// Info is lightweight per-session metadata surfaced by listing operations,
// kept separately (in a sqlite index) from the full JSONL log so listing
// never requires scanning every session file.
type Info struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Cwd       string    `json:"cwd"`
	Provider  string    `json:"provider"`
	ModelID   string    `json:"model_id"`
	LeafID    string    `json:"leaf_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
