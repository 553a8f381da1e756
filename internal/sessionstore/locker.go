package sessionstore

import (
	"errors"
	"sync"
	"time"
)

// ErrLockTimeout is returned when acquiring a session write lock times out.
var ErrLockTimeout = errors.New("sessionstore: lock acquisition timeout")

// DefaultLockTimeout bounds how long Append waits for another writer on the
// same session to finish before giving up.
const DefaultLockTimeout = 5 * time.Second

const lockPollInterval = 5 * time.Millisecond

// sessionGate is a non-blocking-acquire mutex: TryLock plus a held flag so
// lock() can poll without leaking a goroutine blocked on Lock() past a
// timeout.
type sessionGate struct {
	mu     sync.Mutex
	locked bool
}

// writeLocker enforces single-writer-per-session-file semantics across
// goroutines within this process. It does not coordinate across processes;
// the single-instance advisory lock file covers that case.
type writeLocker struct {
	locks   sync.Map // map[string]*sessionGate
	timeout time.Duration
}

func newWriteLocker(timeout time.Duration) *writeLocker {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	return &writeLocker{timeout: timeout}
}

func (w *writeLocker) gateFor(sessionID string) *sessionGate {
	actual, _ := w.locks.LoadOrStore(sessionID, &sessionGate{})
	return actual.(*sessionGate)
}

// lock polls for the session's gate until acquired or the timeout elapses.
func (w *writeLocker) lock(sessionID string) (func(), error) {
	gate := w.gateFor(sessionID)
	deadline := time.Now().Add(w.timeout)
	for {
		gate.mu.Lock()
		if !gate.locked {
			gate.locked = true
			gate.mu.Unlock()
			return func() {
				gate.mu.Lock()
				gate.locked = false
				gate.mu.Unlock()
			}, nil
		}
		gate.mu.Unlock()

		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}
		time.Sleep(lockPollInterval)
	}
}
