package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pendulo/formstudio/model"
)

// MemoryStore is an in-memory Store for development and tests. Sessions are
// cloned on every read and write so callers holding a returned snapshot
// never share bundle memory with the stored copy, matching the
// fresh-unmarshal behavior of durable stores.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Session)}
}

// Create persists a new session.
func (s *MemoryStore) Create(_ context.Context, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sess.ID]; exists {
		return model.NewConflictError(fmt.Sprintf("session %q already exists", sess.ID))
	}
	sess.Bundle = sess.Bundle.Clone()
	s.sessions[sess.ID] = sess
	return nil
}

// Get retrieves a session by ID, scoped to tenant.
func (s *MemoryStore) Get(_ context.Context, tenantID, sessionID string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, exists := s.sessions[sessionID]
	if !exists || sess.TenantID != tenantID {
		return Session{}, model.NewNotFoundError(fmt.Sprintf("session %q not found", sessionID))
	}
	sess.Bundle = sess.Bundle.Clone()
	return sess, nil
}

// Update persists an updated session with optimistic locking.
func (s *MemoryStore) Update(_ context.Context, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.sessions[sess.ID]
	if !exists {
		return model.NewNotFoundError(fmt.Sprintf("session %q not found", sess.ID))
	}
	if existing.Version != sess.Version {
		return model.NewConflictError(
			fmt.Sprintf("session %q version conflict (expected %d, got %d)", sess.ID, sess.Version, existing.Version),
		)
	}

	sess.Version++
	sess.UpdatedAt = time.Now().UTC()
	sess.Bundle = sess.Bundle.Clone()
	s.sessions[sess.ID] = sess
	return nil
}

// List returns the tenant's sessions, newest first.
func (s *MemoryStore) List(_ context.Context, tenantID string) ([]Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []Session
	for _, sess := range s.sessions {
		if sess.TenantID == tenantID {
			sess.Bundle = sess.Bundle.Clone()
			result = append(result, sess)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// Delete removes a session.
func (s *MemoryStore) Delete(_ context.Context, tenantID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, exists := s.sessions[sessionID]
	if !exists || sess.TenantID != tenantID {
		return model.NewNotFoundError(fmt.Sprintf("session %q not found", sessionID))
	}
	delete(s.sessions, sessionID)
	return nil
}

// DeleteExpired removes sessions past their expiry.
func (s *MemoryStore) DeleteExpired(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		if sess.ExpiresAt != nil && sess.ExpiresAt.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed, nil
}

// Len returns the total number of sessions. For testing.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
