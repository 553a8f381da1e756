package sessions

import (
	"context"
	"errors"

	"github.com/segmentationf4u1t/codeforge/pkg/models"
)

var (
	// ErrBranchNotFound is returned when a branch ID resolves to nothing.
	ErrBranchNotFound = errors.New("sessions: branch not found")

	// ErrPrimaryBranchExists is returned when creating a second primary
	// branch for a session.
	ErrPrimaryBranchExists = errors.New("sessions: session already has a primary branch")
)

// BranchStore persists branch-aware message histories. A branch inherits its
// parent's messages up to the branch point, so GetBranchHistory on a leaf
// returns the full path from the primary branch down.
type BranchStore interface {
	CreateBranch(ctx context.Context, branch *models.Branch) error
	GetBranch(ctx context.Context, branchID string) (*models.Branch, error)
	ListBranches(ctx context.Context, sessionID string) ([]*models.Branch, error)

	// GetPrimaryBranch returns the session's primary branch;
	// EnsurePrimaryBranch creates it on first use.
	GetPrimaryBranch(ctx context.Context, sessionID string) (*models.Branch, error)
	EnsurePrimaryBranch(ctx context.Context, sessionID string) (*models.Branch, error)

	// AppendMessageToBranch appends msg to branchID, or to the session's
	// primary branch when branchID is empty. The message's BranchID and
	// SequenceNum are assigned by the store.
	AppendMessageToBranch(ctx context.Context, sessionID, branchID string, msg *models.Message) error

	// GetBranchHistory returns up to limit messages ending at the branch
	// leaf, including messages inherited from ancestor branches.
	GetBranchHistory(ctx context.Context, branchID string, limit int) ([]*models.Message, error)
}
