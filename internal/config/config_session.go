package config

import "time"

// SessionConfig controls session-store defaults and in-context pruning.
type SessionConfig struct {
	// Directory is the root under which per-workspace session subdirectories
	// (one per encoded cwd) are created.
	Directory string `yaml:"directory"`

	// DefaultProvider/DefaultModel seed a new session's header when the
	// caller doesn't specify one explicitly.
	DefaultProvider string `yaml:"default_provider"`
	DefaultModel    string `yaml:"default_model"`

	ContextPruning ContextPruningConfig `yaml:"context_pruning"`

	// BranchSummaryOnNavigate controls whether leaving a branch to explore a
	// sibling triggers an LLM summary of the abandoned path, recorded as a
	// BranchSummaryEntry.
	BranchSummaryOnNavigate bool `yaml:"branch_summary_on_navigate"`
}

// ContextPruningConfig controls in-memory tool-result pruning for sessions.
type ContextPruningConfig struct {
	Mode                 string                  `yaml:"mode"`
	TTL                  *time.Duration          `yaml:"ttl"`
	KeepLastAssistants   *int                    `yaml:"keep_last_assistants"`
	SoftTrimRatio        *float64                `yaml:"soft_trim_ratio"`
	HardClearRatio       *float64                `yaml:"hard_clear_ratio"`
	MinPrunableToolChars *int                    `yaml:"min_prunable_tool_chars"`
	Tools                ContextPruningToolMatch `yaml:"tools"`
	SoftTrim             ContextPruningSoftTrim  `yaml:"soft_trim"`
	HardClear            ContextPruningHardClear `yaml:"hard_clear"`
}

// ContextPruningToolMatch selects which tool results can be trimmed.
type ContextPruningToolMatch struct {
	Allow []string `yaml:"allow"`
	Deny  []string `yaml:"deny"`
}

// ContextPruningSoftTrim configures soft trimming of tool result content.
type ContextPruningSoftTrim struct {
	MaxChars  *int `yaml:"max_chars"`
	HeadChars *int `yaml:"head_chars"`
	TailChars *int `yaml:"tail_chars"`
}

// ContextPruningHardClear configures hard clearing of tool result content.
type ContextPruningHardClear struct {
	Enabled     *bool  `yaml:"enabled"`
	Placeholder string `yaml:"placeholder"`
}
