// Package sessions defines the persistence contract the agent runtime is
// written against: sessions keyed by an opaque string, each with an ordered
// message history. The runtime itself only ever talks to the Store and
// BranchStore interfaces; the backing implementation is chosen at wiring
// time (the in-memory store below, or the sessiontree-backed adapter in
// internal/sessionstore).
package sessions

import (
	"context"
	"errors"

	"github.com/segmentationf4u1t/codeforge/pkg/models"
)

// ErrSessionNotFound is returned when a session ID or key resolves to nothing.
var ErrSessionNotFound = errors.New("sessions: session not found")

// Store persists sessions and their message history.
type Store interface {
	Create(ctx context.Context, session *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	Update(ctx context.Context, session *models.Session) error
	Delete(ctx context.Context, id string) error

	// GetByKey resolves a session by its stable key; GetOrCreate resolves or
	// creates one for the given workspace.
	GetByKey(ctx context.Context, key string) (*models.Session, error)
	GetOrCreate(ctx context.Context, key, workspace string) (*models.Session, error)
	List(ctx context.Context, opts ListOptions) ([]*models.Session, error)

	AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error
	GetHistory(ctx context.Context, sessionID string, limit int) ([]*models.Message, error)
}

// ListOptions configures session listing.
type ListOptions struct {
	// Workspace filters to sessions rooted at this directory; empty matches all.
	Workspace string
	Limit     int
	Offset    int
}
