package sessions

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/planning-poker/backend/internal/models"
)

// Repository is the process-wide, in-memory session registry. State lives for
// the lifetime of the process; nothing is persisted.
type Repository struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*models.Session
}

// NewRepository creates an empty registry.
func NewRepository() *Repository {
	return &Repository{
		sessions: make(map[uuid.UUID]*models.Session),
	}
}

// Create allocates a new empty session and registers it. Never fails.
func (r *Repository) Create() *models.Session {
	s := models.NewSession()
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	return s
}

// Get returns the session with the given id, or models.ErrSessionNotFound.
func (r *Repository) Get(id uuid.UUID) (*models.Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	return s, nil
}

// Count returns the number of registered sessions.
func (r *Repository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CleanupIdle evicts sessions that have no connected members and have been
// inactive for at least ttl. Returns the number of evicted sessions. With
// eviction disabled in config this is never called and sessions accumulate
// for the process lifetime, matching the reference behavior.
func (r *Repository) CleanupIdle(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for id, s := range r.sessions {
		if s.MemberCount() == 0 && s.LastActive().Before(cutoff) {
			delete(r.sessions, id)
			count++
		}
	}
	return count
}
