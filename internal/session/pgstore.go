package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pendulo/formstudio/model"
)

// PgStore is a PostgreSQL-backed Store using pgx/v5. The bundle is stored
// as a JSONB column so drafts survive restarts, like the original draft
// configuration table.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PostgreSQL session store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Create inserts a new session.
func (s *PgStore) Create(ctx context.Context, sess Session) error {
	bundleJSON, err := json.Marshal(sess.Bundle)
	if err != nil {
		return fmt.Errorf("marshal bundle: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO editing_sessions (
			id, agent_id, tenant_id, owner_id,
			bundle, status, dirty, version,
			created_at, updated_at, expires_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11
		)`,
		sess.ID, sess.AgentID, sess.TenantID, sess.OwnerID,
		bundleJSON, sess.Status, sess.Dirty, sess.Version,
		sess.CreatedAt, sess.UpdatedAt, sess.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// Get retrieves a session by ID, scoped to tenant.
func (s *PgStore) Get(ctx context.Context, tenantID, sessionID string) (Session, error) {
	var sess Session
	var bundleJSON []byte

	err := s.pool.QueryRow(ctx, `
		SELECT id, agent_id, tenant_id, owner_id,
		       bundle, status, dirty, version,
		       created_at, updated_at, expires_at
		FROM editing_sessions
		WHERE id = $1 AND tenant_id = $2`,
		sessionID, tenantID,
	).Scan(
		&sess.ID, &sess.AgentID, &sess.TenantID, &sess.OwnerID,
		&bundleJSON, &sess.Status, &sess.Dirty, &sess.Version,
		&sess.CreatedAt, &sess.UpdatedAt, &sess.ExpiresAt,
	)
	if err == pgx.ErrNoRows {
		return Session{}, model.NewNotFoundError(fmt.Sprintf("session %q not found", sessionID))
	}
	if err != nil {
		return Session{}, fmt.Errorf("query session: %w", err)
	}

	if bundleJSON != nil {
		if err := json.Unmarshal(bundleJSON, &sess.Bundle); err != nil {
			return Session{}, fmt.Errorf("unmarshal bundle: %w", err)
		}
	}
	return sess, nil
}

// Update persists an updated session with optimistic locking.
func (s *PgStore) Update(ctx context.Context, sess Session) error {
	bundleJSON, err := json.Marshal(sess.Bundle)
	if err != nil {
		return fmt.Errorf("marshal bundle: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE editing_sessions SET
			bundle = $1,
			status = $2,
			dirty = $3,
			version = $4,
			updated_at = $5,
			expires_at = $6
		WHERE id = $7 AND version = $8`,
		bundleJSON, sess.Status, sess.Dirty, sess.Version+1,
		time.Now().UTC(), sess.ExpiresAt,
		sess.ID, sess.Version,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(
			fmt.Sprintf("session %q version conflict (expected %d)", sess.ID, sess.Version),
		)
	}
	return nil
}

// List returns the tenant's sessions, newest first.
func (s *PgStore) List(ctx context.Context, tenantID string) ([]Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, agent_id, tenant_id, owner_id,
		       bundle, status, dirty, version,
		       created_at, updated_at, expires_at
		FROM editing_sessions
		WHERE tenant_id = $1
		ORDER BY created_at DESC`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		var bundleJSON []byte
		if err := rows.Scan(
			&sess.ID, &sess.AgentID, &sess.TenantID, &sess.OwnerID,
			&bundleJSON, &sess.Status, &sess.Dirty, &sess.Version,
			&sess.CreatedAt, &sess.UpdatedAt, &sess.ExpiresAt,
		); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if bundleJSON != nil {
			_ = json.Unmarshal(bundleJSON, &sess.Bundle)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// Delete removes a session.
func (s *PgStore) Delete(ctx context.Context, tenantID, sessionID string) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM editing_sessions
		WHERE id = $1 AND tenant_id = $2`,
		sessionID, tenantID,
	)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(fmt.Sprintf("session %q not found", sessionID))
	}
	return nil
}

// DeleteExpired removes sessions past their expiry.
func (s *PgStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM editing_sessions
		WHERE expires_at IS NOT NULL AND expires_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
