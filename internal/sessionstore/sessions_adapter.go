package sessionstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/segmentationf4u1t/codeforge/internal/sessions"
	"github.com/segmentationf4u1t/codeforge/pkg/models"
	"github.com/segmentationf4u1t/codeforge/pkg/sessiontree"
)

// SessionsStoreAdapter implements sessions.Store (the interface internal/agent's
// live Runtime is written against) on top of the append-only
// sessiontree.Entry log instead of the in-memory/CockroachDB
// models.Session/models.Message model. Every AppendMessage call is persisted
// through Session.Append, so the data-model invariants
// (header-is-root, append-only parent chaining) are enforced on the path a
// live user prompt actually travels, not only via the administrative CLI
// subcommands.
//
// models.Session carries fields (Key, Title, Metadata) that
// sessiontree.Header has no room for, so session metadata is kept in memory
// alongside the on-disk tree session; the tree log remains the durable
// record of the conversation itself.
type SessionsStoreAdapter struct {
	mu       sync.Mutex
	store    *Store
	cwd      string
	provider string
	model    string

	trees    map[string]*Session       // models.Session.ID -> backing tree session
	meta     map[string]*models.Session // models.Session.ID -> metadata
	byKey    map[string]string         // session key -> models.Session.ID
	messages map[string][]*models.Message
}

var _ sessions.Store = (*SessionsStoreAdapter)(nil)

// NewSessionsStoreAdapter wraps store so internal/agent.Runtime can persist
// through it. cwd/provider/model seed the sessiontree.Header written for
// each new session.
func NewSessionsStoreAdapter(store *Store, cwd, provider, model string) *SessionsStoreAdapter {
	return &SessionsStoreAdapter{
		store:    store,
		cwd:      cwd,
		provider: provider,
		model:    model,
		trees:    make(map[string]*Session),
		meta:     make(map[string]*models.Session),
		byKey:    make(map[string]string),
		messages: make(map[string][]*models.Message),
	}
}

func (a *SessionsStoreAdapter) Create(ctx context.Context, session *models.Session) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.createLocked(session)
}

func (a *SessionsStoreAdapter) createLocked(session *models.Session) error {
	tree, err := a.store.Create(a.cwd, a.provider, a.model, "")
	if err != nil {
		return fmt.Errorf("sessionstore: create backing tree: %w", err)
	}
	session.ID = tree.ID()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}
	session.UpdatedAt = session.CreatedAt

	a.trees[session.ID] = tree
	clone := *session
	a.meta[session.ID] = &clone
	if session.Key != "" {
		a.byKey[session.Key] = session.ID
	}
	return nil
}

func (a *SessionsStoreAdapter) Get(ctx context.Context, id string) (*models.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.meta[id]
	if !ok {
		return nil, fmt.Errorf("sessionstore: session not found: %s", id)
	}
	clone := *s
	return &clone, nil
}

func (a *SessionsStoreAdapter) Update(ctx context.Context, session *models.Session) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.meta[session.ID]; !ok {
		return fmt.Errorf("sessionstore: session not found: %s", session.ID)
	}
	session.UpdatedAt = time.Now()
	clone := *session
	a.meta[session.ID] = &clone
	return nil
}

func (a *SessionsStoreAdapter) Delete(ctx context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if tree, ok := a.trees[id]; ok {
		tree.Close()
	}
	delete(a.trees, id)
	delete(a.meta, id)
	delete(a.messages, id)
	for k, v := range a.byKey {
		if v == id {
			delete(a.byKey, k)
		}
	}
	return nil
}

func (a *SessionsStoreAdapter) GetByKey(ctx context.Context, key string) (*models.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id, ok := a.byKey[key]
	if !ok {
		return nil, fmt.Errorf("sessionstore: no session for key: %s", key)
	}
	clone := *a.meta[id]
	return &clone, nil
}

func (a *SessionsStoreAdapter) GetOrCreate(ctx context.Context, key, workspace string) (*models.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if id, ok := a.byKey[key]; ok {
		clone := *a.meta[id]
		return &clone, nil
	}
	session := &models.Session{
		Key:       key,
		Workspace: workspace,
	}
	if err := a.createLocked(session); err != nil {
		return nil, err
	}
	clone := *session
	return &clone, nil
}

func (a *SessionsStoreAdapter) List(ctx context.Context, opts sessions.ListOptions) ([]*models.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []*models.Session
	for _, s := range a.meta {
		if opts.Workspace != "" && s.Workspace != opts.Workspace {
			continue
		}
		clone := *s
		out = append(out, &clone)
	}
	return out, nil
}

// AppendMessage persists msg by appending the corresponding sessiontree.Entry
// to the session's backing tree log, then
// caches the full models.Message (tool calls/results/attachments included,
// which a round-trip through sessiontree.ContentBlock would otherwise have
// to reconstruct) for GetHistory.
func (a *SessionsStoreAdapter) AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	tree, ok := a.trees[sessionID]
	if !ok {
		return fmt.Errorf("sessionstore: session not found: %s", sessionID)
	}

	entry, err := messageToEntry(*msg)
	if err != nil {
		return err
	}
	if _, err := tree.Append(entry); err != nil {
		return fmt.Errorf("sessionstore: append message: %w", err)
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.SessionID = sessionID
	a.messages[sessionID] = append(a.messages[sessionID], msg)
	if s, ok := a.meta[sessionID]; ok {
		s.UpdatedAt = time.Now()
	}
	return nil
}

func (a *SessionsStoreAdapter) GetHistory(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	all := a.messages[sessionID]
	if limit <= 0 || limit >= len(all) {
		out := make([]*models.Message, len(all))
		copy(out, all)
		return out, nil
	}
	start := len(all) - limit
	out := make([]*models.Message, limit)
	copy(out, all[start:])
	return out, nil
}

// messageToEntry translates a models.Message into the sessiontree.Entry type
// matching its role, so every turn of a live conversation lands in the
// append-only tree the same way cmd/codeforge's session/compact/serve
// subcommands already read and write.
func messageToEntry(msg models.Message) (sessiontree.Entry, error) {
	entryType, err := entryTypeForRole(msg.Role)
	if err != nil {
		return sessiontree.Entry{}, err
	}

	payload := &sessiontree.MessagePayload{}
	if msg.Content != "" {
		payload.Content = append(payload.Content, sessiontree.ContentBlock{Type: sessiontree.ContentText, Text: msg.Content})
	}
	for _, tc := range msg.ToolCalls {
		payload.Content = append(payload.Content, sessiontree.ContentBlock{
			Type: sessiontree.ContentToolCall,
			ToolCall: &sessiontree.ToolCall{
				ID:    tc.ID,
				Name:  tc.Name,
				Input: []byte(tc.Input),
			},
		})
	}
	for _, tr := range msg.ToolResults {
		payload.Content = append(payload.Content, sessiontree.ContentBlock{
			Type: sessiontree.ContentToolResult,
			ToolRes: &sessiontree.ToolResult{
				ToolCallID: tr.ToolCallID,
				Content:    tr.Content,
				IsError:    tr.IsError,
			},
		})
	}

	return sessiontree.Entry{
		Type:    entryType,
		Message: payload,
	}, nil
}

func entryTypeForRole(role models.Role) (sessiontree.EntryType, error) {
	switch role {
	case models.RoleUser:
		return sessiontree.EntryUserMessage, nil
	case models.RoleAssistant:
		return sessiontree.EntryAssistantMessage, nil
	case models.RoleTool:
		return sessiontree.EntryToolResult, nil
	default:
		return "", fmt.Errorf("sessionstore: unsupported message role for tree entry: %q", role)
	}
}
