package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"sifter/internal/services"
	"sifter/internal/textutil"
)

// lockSet guards session runs inside this process and, through lock files,
// across processes sharing the data directory.
type lockSet struct {
	dir    string
	mu     sync.Mutex
	active map[string]*flock.Flock
}

func newLockSet(dir string) *lockSet {
	return &lockSet{dir: dir, active: make(map[string]*flock.Flock)}
}

func (l *lockSet) path(sessionID string) string {
	return filepath.Join(l.dir, textutil.SanitizeToken(sessionID)+".lock")
}

// acquire returns a release func, or ErrConflict when the session is already
// running here or in another process.
func (l *lockSet) acquire(sessionID string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.active[sessionID]; ok {
		return nil, services.Wrap(services.ErrConflict, stageName, "run", fmt.Sprintf("session %s is already running", sessionID), nil)
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrPersistence, stageName, "run", "create lock dir", err)
	}
	fl := flock.New(l.path(sessionID))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, services.Wrap(services.ErrPersistence, stageName, "run", "acquire run lock", err)
	}
	if !ok {
		return nil, services.Wrap(services.ErrConflict, stageName, "run", fmt.Sprintf("session %s is running in another process", sessionID), nil)
	}
	l.active[sessionID] = fl

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.active, sessionID)
			l.mu.Unlock()
			_ = fl.Unlock()
		})
	}, nil
}

func (l *lockSet) held(sessionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.active[sessionID]
	return ok
}

// free reports whether no process currently holds the session's run lock.
func (l *lockSet) free(sessionID string) bool {
	release, err := l.acquire(sessionID)
	if err != nil {
		return false
	}
	release()
	return true
}
