package sessionstore

import (
	"path/filepath"
	"strings"
	"time"
)

// EncodeCwd turns an absolute working directory into the directory name
// used to group that workspace's session files, replacing path separators
// and (on Windows) a drive-letter colon with dashes, wrapped in "--...--".
func EncodeCwd(cwd string) string {
	cwd = filepath.ToSlash(cwd)
	cwd = strings.ReplaceAll(cwd, ":", "-")
	cwd = strings.ReplaceAll(cwd, "/", "-")
	cwd = strings.Trim(cwd, "-")
	return "--" + cwd + "--"
}

// SessionFileName encodes the creation timestamp and session ID into a
// sortable, collision-resistant file name.
func SessionFileName(createdAt time.Time, sessionID string) string {
	return createdAt.UTC().Format("20060102T150405.000Z") + "-" + sessionID + ".jsonl"
}
