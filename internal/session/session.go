// Package session manages editing sessions: one mutable ConfigBundle per
// session, persisted through a Store and serialized per session so two
// requests never interleave edits on the same draft.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pendulo/formstudio/model"
)

// Session is one editing session over an agent's configuration draft.
type Session struct {
	ID        string             `json:"id"`
	AgentID   string             `json:"agent_id"`
	TenantID  string             `json:"tenant_id"`
	OwnerID   string             `json:"owner_id"`
	Bundle    model.ConfigBundle `json:"bundle"`
	Status    string             `json:"status,omitempty"`
	Dirty     bool               `json:"dirty"`
	Version   int                `json:"version"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
	ExpiresAt *time.Time         `json:"expires_at,omitempty"`
}

// SetStatus records a status message shown in the editor header.
func (s *Session) SetStatus(msg string) {
	s.Status = msg
}

// Store persists editing sessions.
type Store interface {
	// Create persists a new session. Returns CONFLICT if the ID exists.
	Create(ctx context.Context, sess Session) error

	// Get retrieves a session by ID, scoped to a tenant. Returns NOT_FOUND
	// if the session doesn't exist or belongs to a different tenant.
	Get(ctx context.Context, tenantID, sessionID string) (Session, error)

	// Update persists an updated session with optimistic locking. The
	// version must match the stored version; returns CONFLICT otherwise.
	Update(ctx context.Context, sess Session) error

	// List returns the sessions of one tenant, newest first.
	List(ctx context.Context, tenantID string) ([]Session, error)

	// Delete removes a session.
	Delete(ctx context.Context, tenantID, sessionID string) error

	// DeleteExpired removes sessions whose expires_at is before cutoff and
	// returns how many were removed.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int, error)
}

// Manager serializes mutations per session on top of a Store.
type Manager struct {
	store Store
	ttl   time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates a Manager. ttl of zero means sessions never expire.
func NewManager(store Store, ttl time.Duration) *Manager {
	return &Manager{
		store: store,
		ttl:   ttl,
		locks: make(map[string]*sync.Mutex),
	}
}

// Create starts a new session around an already-loaded bundle.
func (m *Manager) Create(ctx context.Context, rctx *model.RequestContext, agentID string, bundle model.ConfigBundle) (Session, error) {
	now := time.Now().UTC()
	sess := Session{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		Bundle:    bundle,
		Status:    "Loaded.",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if rctx != nil {
		sess.TenantID = rctx.TenantID
		sess.OwnerID = rctx.SubjectID
	}
	if m.ttl > 0 {
		expires := now.Add(m.ttl)
		sess.ExpiresAt = &expires
	}
	if err := m.store.Create(ctx, sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// Get retrieves a session.
func (m *Manager) Get(ctx context.Context, tenantID, sessionID string) (Session, error) {
	return m.store.Get(ctx, tenantID, sessionID)
}

// List returns the tenant's sessions.
func (m *Manager) List(ctx context.Context, tenantID string) ([]Session, error) {
	return m.store.List(ctx, tenantID)
}

// Delete removes a session and its lock.
func (m *Manager) Delete(ctx context.Context, tenantID, sessionID string) error {
	if err := m.store.Delete(ctx, tenantID, sessionID); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.locks, sessionID)
	m.mu.Unlock()
	return nil
}

// Mutate applies fn to the session under its lock and persists the result.
// fn errors abort the mutation without persisting; the session is returned
// as fn left it so callers can surface rule rejections alongside the
// untouched draft.
func (m *Manager) Mutate(ctx context.Context, tenantID, sessionID string, fn func(*Session) error) (Session, error) {
	lock := m.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := m.store.Get(ctx, tenantID, sessionID)
	if err != nil {
		return Session{}, err
	}

	if err := fn(&sess); err != nil {
		return sess, err
	}

	if err := m.store.Update(ctx, sess); err != nil {
		return Session{}, err
	}
	sess.Version++
	return sess, nil
}

func (m *Manager) lockFor(sessionID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[sessionID] = lock
	}
	return lock
}

// Sweep deletes expired sessions. Intended to run periodically.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	if m.ttl <= 0 {
		return 0, nil
	}
	return m.store.DeleteExpired(ctx, time.Now().UTC())
}
