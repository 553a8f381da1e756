package models

import "time"

// BranchStatus indicates whether a branch is live or set aside.
type BranchStatus string

const (
	BranchStatusActive   BranchStatus = "active"
	BranchStatusArchived BranchStatus = "archived"
)

// Branch represents one conversation path within a session. Every session
// has a primary branch; further branches diverge from a parent at a branch
// point and inherit the parent's messages up to that sequence number.
type Branch struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`

	// ParentBranchID is nil for the primary branch.
	ParentBranchID *string `json:"parent_branch_id,omitempty"`

	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// BranchPoint is the sequence number in the parent branch where this
	// branch diverges; messages with sequence <= BranchPoint are inherited.
	BranchPoint int64 `json:"branch_point"`

	Status    BranchStatus   `json:"status"`
	IsPrimary bool           `json:"is_primary"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// NewBranch creates an active, non-primary branch for a session.
func NewBranch(sessionID, name string) *Branch {
	return &Branch{
		SessionID: sessionID,
		Name:      name,
		Status:    BranchStatusActive,
	}
}

// NewPrimaryBranch creates the session's primary branch.
func NewPrimaryBranch(sessionID string) *Branch {
	return &Branch{
		SessionID: sessionID,
		Name:      "main",
		Status:    BranchStatusActive,
		IsPrimary: true,
	}
}

// IsRoot reports whether the branch has no parent.
func (b *Branch) IsRoot() bool {
	return b.ParentBranchID == nil
}
