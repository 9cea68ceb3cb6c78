// Package registry implements the process-wide Session Registry: a
// mutex-guarded id -> Session map, mutated by the WebSocket handler, by
// each Session's own Cleanup (which de-registers it), and by the
// shutdown routine.
//
// Grounded on the original Python DocumentManager.services map plus
// cleanup_interview/shutdown, and the teacher's
// cmd/lsp-session-manager/main.go top-level signal handler
// (signal.Notify -> goroutine -> sm.Stop() -> os.Exit(0)), generalized
// from one process-wide singleton session to N concurrent sessions.
package registry

import (
	"fmt"
	"sync"

	"github.com/Berri-bot/mastermind-smart-suggestions/internal/logger"
)

// Session is the subset of internal/session.Session the registry needs:
// enough to shut one down during ShutdownAll, without importing the
// session package (which imports registry to de-register itself on
// Cleanup, so a direct dependency would cycle).
type Session interface {
	ID() string
	Cleanup()
}

// Registry is the process-wide Session Registry.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]Session
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{sessions: make(map[string]Session)}
}

// Register adds session under id. Fails if id is already present.
func (r *Registry) Register(id string, s Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[id]; exists {
		return fmt.Errorf("registry: session %q already registered", id)
	}
	r.sessions[id] = s
	return nil
}

// Unregister removes id, if present. Never errors: cleanup is idempotent
// and may race the registry's own ShutdownAll.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Get returns the session registered under id, if any.
func (r *Registry) Get(id string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Len reports the current number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// ShutdownAll calls Cleanup on every registered session concurrently and
// waits for all of them to return. A panic inside one session's Cleanup
// is recovered and logged, so the remaining sessions are still cleaned
// up. It takes a snapshot first so each Cleanup's own Unregister call
// never deadlocks against this loop's lock.
func (r *Registry) ShutdownAll() {
	r.mu.Lock()
	snapshot := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		snapshot = append(snapshot, s)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range snapshot {
		wg.Add(1)
		go func(s Session) {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error(fmt.Sprintf("registry: panic during cleanup of session %s: %v", s.ID(), rec))
				}
			}()
			s.Cleanup()
		}(s)
	}
	wg.Wait()
}
