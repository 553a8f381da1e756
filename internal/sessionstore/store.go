// Package sessionstore implements the append-only, branch-capable session
// log: one newline-delimited JSON file per session, fsynced on every
// append, with an in-memory index for branch navigation.
package sessionstore

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/segmentationf4u1t/codeforge/pkg/sessiontree"
)

// ErrBrokenChain is returned when a branch walk encounters a parentID with
// no corresponding entry in the session.
var ErrBrokenChain = fmt.Errorf("sessionstore: broken parent chain")

// Session is a single, file-backed conversation tree. Append is
// single-writer; reads walk an in-memory snapshot so concurrent hook
// callbacks see a consistent view.
type Session struct {
	mu       sync.RWMutex
	id       string
	path     string
	file     *os.File
	entries  map[string]sessiontree.Entry
	children map[string][]string
	leafID   string
	header   sessiontree.Header
	labels   map[string]string
	log      *slog.Logger
}

// Store manages session files rooted at a base directory (one
// workspace-derived subdirectory per cwd) plus a metadata index for
// listing sessions without scanning every JSONL file.
type Store struct {
	baseDir string
	locker  *writeLocker
	log     *slog.Logger
	index   Indexer
}

// Indexer mirrors lightweight session metadata for fast listing. The sqlite
// implementation lives in internal/sessionstore/index.
type Indexer interface {
	Upsert(info sessiontree.Info) error
	List(cwd string) ([]sessiontree.Info, error)
	Close() error
}

// NewStore opens (creating if absent) a session store rooted at baseDir.
func NewStore(baseDir string, index Indexer, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("sessionstore: create base dir: %w", err)
	}
	return &Store{
		baseDir: baseDir,
		locker:  newWriteLocker(DefaultLockTimeout),
		log:     log.With("component", "sessionstore"),
		index:   index,
	}, nil
}

// Create starts a new session file for the given workspace/provider/model.
func (s *Store) Create(cwd, provider, modelID, thinkingLevel string) (*Session, error) {
	id := uuid.New().String()
	now := time.Now()
	header := sessiontree.Header{
		SessionID:     id,
		Cwd:           cwd,
		Provider:      provider,
		ModelID:       modelID,
		ThinkingLevel: thinkingLevel,
		CreatedAt:     now,
	}
	return s.create(header)
}

func (s *Store) create(header sessiontree.Header) (*Session, error) {
	dir := filepath.Join(s.baseDir, EncodeCwd(header.Cwd))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sessionstore: create session dir: %w", err)
	}
	path := filepath.Join(dir, SessionFileName(header.CreatedAt, header.SessionID))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: create session file: %w", err)
	}

	headerEntry := sessiontree.Entry{
		Type:      sessiontree.EntryHeader,
		ID:        header.SessionID,
		Timestamp: header.CreatedAt,
		Header:    &header,
	}

	sess := &Session{
		id:       header.SessionID,
		path:     path,
		file:     f,
		entries:  map[string]sessiontree.Entry{headerEntry.ID: headerEntry},
		children: map[string][]string{},
		leafID:   headerEntry.ID,
		header:   header,
		labels:   map[string]string{},
		log:      s.log.With("session_id", header.SessionID),
	}

	if err := sess.writeLine(headerEntry); err != nil {
		f.Close()
		return nil, err
	}

	if s.index != nil {
		_ = s.index.Upsert(sess.info())
	}
	s.log.Info("session created", "session_id", header.SessionID, "cwd", header.Cwd)
	return sess, nil
}

// Open loads an existing session file by absolute path.
func (s *Store) Open(path string) (*Session, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: open session file: %w", err)
	}

	sess := &Session{
		path:     path,
		file:     f,
		entries:  map[string]sessiontree.Entry{},
		children: map[string][]string{},
		labels:   map[string]string{},
		log:      s.log,
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var e sessiontree.Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			sess.log.Warn("skipping corrupt session line", "error", err)
			continue
		}
		sess.ingest(e)
	}
	if err := scanner.Err(); err != nil {
		f.Close()
		return nil, fmt.Errorf("sessionstore: read session file: %w", err)
	}
	if sess.id == "" {
		f.Close()
		return nil, fmt.Errorf("sessionstore: %s has no header entry", path)
	}
	sess.log = s.log.With("session_id", sess.id)

	if s.index != nil {
		_ = s.index.Upsert(sess.info())
	}
	return sess, nil
}

// List returns metadata for every known session under cwd.
func (s *Store) List(cwd string) ([]sessiontree.Info, error) {
	if s.index != nil {
		return s.index.List(cwd)
	}
	return nil, fmt.Errorf("sessionstore: no index configured")
}

// Close releases store-level resources (the metadata index).
func (s *Store) Close() error {
	if s.index != nil {
		return s.index.Close()
	}
	return nil
}

func (s *Session) ingest(e sessiontree.Entry) {
	if e.Type == sessiontree.EntryHeader && e.Header != nil {
		s.id = e.ID
		s.header = *e.Header
	}
	s.entries[e.ID] = e
	if e.ParentID != "" {
		s.children[e.ParentID] = append(s.children[e.ParentID], e.ID)
	}
	if e.Type == sessiontree.EntryLabel && e.Label != nil {
		s.labels[e.Label.TargetID] = e.Label.Label
	}
	s.leafID = e.ID
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Path returns the backing JSONL file's absolute path.
func (s *Session) Path() string { return s.path }

// LeafID returns the current tip of the active branch.
func (s *Session) LeafID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.leafID
}

// Header returns the session's root metadata.
func (s *Session) Header() sessiontree.Header {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.header
}

// Append assigns an ID and parent if unset, writes one JSON line, fsyncs,
// and advances the leaf pointer. Once fsynced the
// entry is immutable (RewriteAssistantToolCallArgs excepted).
func (s *Session) Append(e sessiontree.Entry) (sessiontree.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.ParentID == "" && e.Type != sessiontree.EntryHeader {
		e.ParentID = s.leafID
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	if err := s.writeLine(e); err != nil {
		return sessiontree.Entry{}, fmt.Errorf("sessionstore: append: %w", err)
	}

	s.entries[e.ID] = e
	if e.ParentID != "" {
		s.children[e.ParentID] = append(s.children[e.ParentID], e.ID)
	}
	if e.Type == sessiontree.EntryLabel && e.Label != nil {
		s.labels[e.Label.TargetID] = e.Label.Label
	}
	s.leafID = e.ID
	return e, nil
}

func (s *Session) writeLine(e sessiontree.Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if _, err := s.file.Write(data); err != nil {
		return err
	}
	return s.file.Sync()
}

// GetBranch returns entries from the header to leafID (default: the current
// leaf), inclusive, in parent-to-child order.
func (s *Session) GetBranch(leafID string) ([]sessiontree.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if leafID == "" {
		leafID = s.leafID
	}

	var path []sessiontree.Entry
	cur := leafID
	for cur != "" {
		e, ok := s.entries[cur]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrBrokenChain, cur)
		}
		path = append([]sessiontree.Entry{e}, path...)
		cur = e.ParentID
	}
	return path, nil
}

// GetTree returns the full parent/child structure for UI navigation.
func (s *Session) GetTree() (sessiontree.TreeNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	root, ok := s.entries[s.id]
	if !ok {
		return sessiontree.TreeNode{}, fmt.Errorf("sessionstore: missing header entry")
	}
	return s.buildNode(root), nil
}

func (s *Session) buildNode(e sessiontree.Entry) sessiontree.TreeNode {
	childIDs := append([]string(nil), s.children[e.ID]...)
	sort.Slice(childIDs, func(i, j int) bool {
		return s.entries[childIDs[i]].Timestamp.Before(s.entries[childIDs[j]].Timestamp)
	})
	node := sessiontree.TreeNode{Entry: e, Label: s.labels[e.ID]}
	for _, cid := range childIDs {
		node.Children = append(node.Children, s.buildNode(s.entries[cid]))
	}
	return node
}

// SetLeaf switches the active conversation to the branch ending at id,
// without mutating the file.
func (s *Session) SetLeaf(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return fmt.Errorf("sessionstore: unknown entry %s", id)
	}
	s.leafID = id
	return nil
}

// RewriteAssistantToolCallArgs is the single permitted in-place mutation: it
// replaces the arguments of a ToolCall inside an already-persisted
// AssistantMessage so normative rewriting can canonicalize arguments for
// cache reuse. The line is rewritten in place; readers must tolerate a
// session file whose line offsets shift after this call.
func (s *Session) RewriteAssistantToolCallArgs(entryID, toolCallID string, newArgs []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[entryID]
	if !ok || e.Message == nil {
		return fmt.Errorf("sessionstore: no assistant message %s", entryID)
	}
	found := false
	for i := range e.Message.Content {
		block := &e.Message.Content[i]
		if block.Type == sessiontree.ContentToolCall && block.ToolCall != nil && block.ToolCall.ID == toolCallID {
			block.ToolCall.Input = newArgs
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("sessionstore: tool call %s not found in %s", toolCallID, entryID)
	}
	s.entries[entryID] = e

	return s.rewriteFile()
}

// rewriteFile replaces the backing file's contents with the current
// in-memory entry set, preserving original append order by timestamp. Used
// only by RewriteAssistantToolCallArgs; every other mutation is append-only.
func (s *Session) rewriteFile() error {
	tmpPath := s.path + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	ordered := make([]sessiontree.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	w := bufio.NewWriter(tmp)
	for _, e := range ordered {
		data, err := json.Marshal(e)
		if err != nil {
			tmp.Close()
			return err
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			tmp.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := s.file.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return err
	}
	f, err := os.OpenFile(s.path, os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	s.file = f
	return nil
}

func (s *Session) info() sessiontree.Info {
	return sessiontree.Info{
		ID:        s.id,
		Path:      s.path,
		Cwd:       s.header.Cwd,
		Provider:  s.header.Provider,
		ModelID:   s.header.ModelID,
		LeafID:    s.leafID,
		CreatedAt: s.header.CreatedAt,
		UpdatedAt: time.Now(),
	}
}

// Close closes the underlying file handle.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
