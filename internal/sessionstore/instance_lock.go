package sessionstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ErrInstanceLocked is returned when another live process already holds the
// workspace's instance lock.
var ErrInstanceLocked = errors.New("sessionstore: another instance holds the lock")

// AcquireInstanceLock claims an advisory lock file so only one runtime
// process writes a workspace's sessions at a time. The file records the
// owner's PID; a lock whose owner is no longer running is treated as stale
// and reclaimed. When retry is positive, acquisition is retried until that
// much time has elapsed. The returned release function removes the lock and
// is safe to call more than once.
func AcquireInstanceLock(path string, retry time.Duration) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("sessionstore: prepare lock directory: %w", err)
	}

	deadline := time.Now().Add(retry)
	for {
		err := tryClaimLock(path)
		if err == nil {
			released := false
			return func() {
				if released {
					return
				}
				released = true
				_ = os.Remove(path)
			}, nil
		}
		if !errors.Is(err, ErrInstanceLocked) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, err
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// tryClaimLock attempts an exclusive-create of the lock file, reclaiming it
// first if the recorded owner is dead.
func tryClaimLock(path string) error {
	err := createLockFile(path)
	if err == nil {
		return nil
	}
	if !os.IsExist(err) {
		return fmt.Errorf("sessionstore: create lock file: %w", err)
	}

	owner, rerr := lockOwner(path)
	if rerr != nil {
		// Unreadable or malformed lock file: leave it alone rather than
		// clobbering a lock we cannot attribute.
		return fmt.Errorf("%w (unreadable owner: %v)", ErrInstanceLocked, rerr)
	}
	if processAlive(owner) {
		return fmt.Errorf("%w (pid %d)", ErrInstanceLocked, owner)
	}

	// Stale lock from a dead process: remove it and retry the exclusive
	// create once. A racing process may win the re-create, which is fine.
	_ = os.Remove(path)
	if err := createLockFile(path); err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w (lost reclaim race)", ErrInstanceLocked)
		}
		return fmt.Errorf("sessionstore: create lock file: %w", err)
	}
	return nil
}

func createLockFile(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	_, werr := fmt.Fprintf(f, "%d\n", os.Getpid())
	cerr := f.Close()
	if werr != nil || cerr != nil {
		_ = os.Remove(path)
		return fmt.Errorf("write lock file: %w", errors.Join(werr, cerr))
	}
	return nil
}

func lockOwner(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("malformed lock content %q", strings.TrimSpace(string(data)))
	}
	return pid, nil
}

// processAlive reports whether pid refers to a running process, using the
// conventional signal-0 probe. EPERM means the process exists but belongs to
// another user, which still counts as alive.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
