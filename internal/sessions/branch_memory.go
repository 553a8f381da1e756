package sessions

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/segmentationf4u1t/codeforge/pkg/models"
)

// MemoryBranchStore is the in-memory BranchStore implementation.
type MemoryBranchStore struct {
	mu       sync.RWMutex
	branches map[string]*models.Branch
	messages map[string][]*models.Message // branchID -> own (non-inherited) messages
}

// NewMemoryBranchStore creates an empty in-memory branch store.
func NewMemoryBranchStore() *MemoryBranchStore {
	return &MemoryBranchStore{
		branches: make(map[string]*models.Branch),
		messages: make(map[string][]*models.Message),
	}
}

var _ BranchStore = (*MemoryBranchStore)(nil)

func (s *MemoryBranchStore) CreateBranch(ctx context.Context, branch *models.Branch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if branch.IsPrimary && s.primaryLocked(branch.SessionID) != nil {
		return ErrPrimaryBranchExists
	}
	if branch.ID == "" {
		branch.ID = uuid.NewString()
	}
	if branch.CreatedAt.IsZero() {
		branch.CreatedAt = time.Now()
	}
	branch.UpdatedAt = branch.CreatedAt
	if branch.Status == "" {
		branch.Status = models.BranchStatusActive
	}
	s.branches[branch.ID] = cloneBranch(branch)
	return nil
}

func (s *MemoryBranchStore) GetBranch(ctx context.Context, branchID string) (*models.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	branch, ok := s.branches[branchID]
	if !ok {
		return nil, ErrBranchNotFound
	}
	return cloneBranch(branch), nil
}

func (s *MemoryBranchStore) ListBranches(ctx context.Context, sessionID string) ([]*models.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Branch
	for _, branch := range s.branches {
		if branch.SessionID == sessionID {
			out = append(out, cloneBranch(branch))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsPrimary != out[j].IsPrimary {
			return out[i].IsPrimary
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *MemoryBranchStore) GetPrimaryBranch(ctx context.Context, sessionID string) (*models.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if branch := s.primaryLocked(sessionID); branch != nil {
		return cloneBranch(branch), nil
	}
	return nil, ErrBranchNotFound
}

func (s *MemoryBranchStore) EnsurePrimaryBranch(ctx context.Context, sessionID string) (*models.Branch, error) {
	branch, err := s.GetPrimaryBranch(ctx, sessionID)
	if err == nil {
		return branch, nil
	}
	branch = models.NewPrimaryBranch(sessionID)
	if err := s.CreateBranch(ctx, branch); err != nil {
		return nil, err
	}
	return branch, nil
}

func (s *MemoryBranchStore) AppendMessageToBranch(ctx context.Context, sessionID, branchID string, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if branchID == "" {
		primary := s.primaryLocked(sessionID)
		if primary == nil {
			return ErrBranchNotFound
		}
		branchID = primary.ID
	}
	branch, ok := s.branches[branchID]
	if !ok {
		return ErrBranchNotFound
	}

	var maxSeq int64
	for _, m := range s.messages[branchID] {
		if m.SequenceNum > maxSeq {
			maxSeq = m.SequenceNum
		}
	}

	clone := cloneMessage(msg)
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	clone.SessionID = sessionID
	clone.BranchID = branchID
	clone.SequenceNum = maxSeq + 1
	s.messages[branchID] = append(s.messages[branchID], clone)
	branch.UpdatedAt = time.Now()

	// Reflect assigned position back to the caller.
	msg.ID = clone.ID
	msg.BranchID = branchID
	msg.SequenceNum = clone.SequenceNum
	return nil
}

func (s *MemoryBranchStore) GetBranchHistory(ctx context.Context, branchID string, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	branch, ok := s.branches[branchID]
	if !ok {
		return nil, ErrBranchNotFound
	}

	// Walk ancestors root-first, taking each parent's messages up to the
	// child's branch point. Visited-set guards against a corrupted cycle.
	var lineage []*models.Branch
	visited := map[string]bool{branch.ID: true}
	for cur := branch; cur.ParentBranchID != nil; {
		parent, ok := s.branches[*cur.ParentBranchID]
		if !ok || visited[parent.ID] {
			break
		}
		visited[parent.ID] = true
		lineage = append(lineage, cur)
		cur = parent
	}

	var result []*models.Message
	if len(lineage) > 0 {
		for i := len(lineage) - 1; i >= 0; i-- {
			child := lineage[i]
			for _, msg := range s.messages[*child.ParentBranchID] {
				if msg.SequenceNum <= child.BranchPoint {
					result = append(result, cloneMessage(msg))
				}
			}
		}
	}
	for _, msg := range s.messages[branchID] {
		result = append(result, cloneMessage(msg))
	}

	if len(result) > limit {
		result = result[len(result)-limit:]
	}
	return result, nil
}

// primaryLocked returns the session's primary branch, or nil. Callers hold s.mu.
func (s *MemoryBranchStore) primaryLocked(sessionID string) *models.Branch {
	for _, branch := range s.branches {
		if branch.SessionID == sessionID && branch.IsPrimary {
			return branch
		}
	}
	return nil
}

func cloneBranch(b *models.Branch) *models.Branch {
	if b == nil {
		return nil
	}
	clone := *b
	if b.ParentBranchID != nil {
		parentID := *b.ParentBranchID
		clone.ParentBranchID = &parentID
	}
	clone.Metadata = deepCloneMap(b.Metadata)
	return &clone
}
