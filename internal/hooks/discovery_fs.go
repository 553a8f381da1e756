package hooks

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
)

// FSSource discovers hooks from an fs.FS, one subdirectory per hook with a
// HOOK.md inside, mirroring LocalSource's on-disk layout. Its main use is
// serving the hooks compiled into the binary via internal/hooks/bundled.
type FSSource struct {
	fsys       fs.FS
	sourceType SourceType
	priority   int
	logger     *slog.Logger
}

// NewFSSource creates a discovery source over fsys.
func NewFSSource(fsys fs.FS, sourceType SourceType, priority int) *FSSource {
	return &FSSource{
		fsys:       fsys,
		sourceType: sourceType,
		priority:   priority,
		logger:     slog.Default().With("component", "hooks", "source", sourceType),
	}
}

func (s *FSSource) Type() SourceType {
	return s.sourceType
}

func (s *FSSource) Priority() int {
	return s.priority
}

// Discover scans the filesystem root for <dir>/HOOK.md entries.
func (s *FSSource) Discover(ctx context.Context) ([]*HookEntry, error) {
	entries, err := fs.ReadDir(s.fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read embedded hooks: %w", err)
	}

	var found []*HookEntry
	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return found, ctx.Err()
		default:
		}

		if !entry.IsDir() {
			continue
		}

		hookFile := path.Join(entry.Name(), HookFilename)
		data, err := fs.ReadFile(s.fsys, hookFile)
		if err != nil {
			continue
		}

		hook, err := ParseHook(data, entry.Name())
		if err != nil {
			s.logger.Warn("failed to parse hook",
				"path", entry.Name(),
				"error", err)
			continue
		}

		hook.Source = s.sourceType
		hook.SourcePriority = s.priority

		if err := ValidateHook(hook); err != nil {
			s.logger.Warn("invalid hook",
				"path", entry.Name(),
				"error", err)
			continue
		}

		found = append(found, hook)
	}

	return found, nil
}
