package sessionstore

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/segmentationf4u1t/codeforge/pkg/sessiontree"
)

// Branch creates a new session file whose header records BranchedFrom the
// current file, copies [header ... fromID] with fresh UUIDs linked to the
// new header, and returns the new session so the caller can diverge without
// touching the original file.
func (st *Store) Branch(src *Session, fromID string) (*Session, error) {
	path, err := src.GetBranch(fromID)
	if err != nil {
		return nil, err
	}

	newHeader := src.Header()
	newHeader.SessionID = uuid.New().String()
	newHeader.BranchedFrom = src.ID()

	dst, err := st.create(newHeader)
	if err != nil {
		return nil, err
	}

	idMap := map[string]string{}
	for _, e := range path {
		if e.Type == sessiontree.EntryHeader {
			idMap[e.ID] = dst.id
			continue
		}
		clone := e
		clone.ID = uuid.New().String()
		if parent, ok := idMap[e.ParentID]; ok {
			clone.ParentID = parent
		} else {
			clone.ParentID = dst.leafID
		}
		idMap[e.ID] = clone.ID
		if _, err := dst.Append(clone); err != nil {
			return nil, fmt.Errorf("sessionstore: branch copy: %w", err)
		}
	}

	if st.index != nil {
		_ = st.index.Upsert(dst.info())
	}
	return dst, nil
}
