// Package preview runs throwaway chat conversations against the external
// runtime so an author can exercise a published agent from the studio. A
// preview keeps only a thread id, the transcript, and the runtime's last
// reported dialogue state; the form catalog is fetched from the runtime at
// creation time, so unsaved session edits never influence a preview.
package preview

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pendulo/formstudio/internal/projector"
	"github.com/pendulo/formstudio/internal/upstream"
	"github.com/pendulo/formstudio/model"
)

// View is the preview state returned to the UI after every turn.
type View struct {
	ID          string              `json:"id"`
	SessionID   string              `json:"session_id"`
	AgentID     string              `json:"agent_id"`
	ThreadID    string              `json:"thread_id"`
	Transcript  []model.ChatTurn    `json:"transcript"`
	State       model.DialogueState `json:"state"`
	ActiveField *model.ActiveField  `json:"active_field,omitempty"`
}

type preview struct {
	mu         sync.Mutex
	id         string
	sessionID  string
	agentID    string
	tenantID   string
	threadID   string
	forms      *model.FormsConfig
	transcript []model.ChatTurn
	state      model.DialogueState
	createdAt  time.Time
}

// Manager owns the live previews of this process. Previews are ephemeral
// and in-memory only; a restart discards them.
type Manager struct {
	runtime *upstream.RuntimeClient
	log     *zap.Logger

	mu       sync.RWMutex
	previews map[string]*preview
}

// NewManager creates a preview manager over the runtime client.
func NewManager(runtime *upstream.RuntimeClient, log *zap.Logger) *Manager {
	return &Manager{
		runtime:  runtime,
		log:      log,
		previews: make(map[string]*preview),
	}
}

// Create starts a preview for a session's agent. The runtime's current form
// catalog is captured once here and reused for every projection.
func (m *Manager) Create(ctx context.Context, rctx *model.RequestContext, sessionID, agentID string) (*View, error) {
	forms, err := m.runtime.Forms(ctx, agentID)
	if err != nil {
		return nil, err
	}

	p := &preview{
		id:        uuid.NewString(),
		sessionID: sessionID,
		agentID:   agentID,
		threadID:  uuid.NewString(),
		forms:     forms,
		createdAt: time.Now().UTC(),
	}
	if rctx != nil {
		p.tenantID = rctx.TenantID
	}

	m.mu.Lock()
	m.previews[p.id] = p
	m.mu.Unlock()

	m.log.Info("preview started",
		zap.String("preview_id", p.id),
		zap.String("agent_id", agentID),
	)
	return p.view(), nil
}

// Get returns the current view of a preview.
func (m *Manager) Get(tenantID, previewID string) (*View, error) {
	p, err := m.lookup(tenantID, previewID)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.view(), nil
}

// Chat sends one free-text user turn to the runtime and records the reply.
func (m *Manager) Chat(ctx context.Context, tenantID, previewID, message string) (*View, error) {
	if message == "" {
		return nil, model.NewBadRequestError("message is required")
	}
	return m.send(ctx, tenantID, previewID, message)
}

// Select answers the currently awaited choice field with one of its options.
// The option text is sent verbatim as the user turn; the runtime alone
// decides whether the dialogue advances.
func (m *Manager) Select(ctx context.Context, tenantID, previewID, option string) (*View, error) {
	if option == "" {
		return nil, model.NewBadRequestError("option is required")
	}
	return m.send(ctx, tenantID, previewID, projector.SelectOption(option))
}

// Reset discards the thread and dialogue state, starting the conversation
// over with the same captured form catalog.
func (m *Manager) Reset(tenantID, previewID string) (*View, error) {
	p, err := m.lookup(tenantID, previewID)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.threadID = uuid.NewString()
	p.transcript = nil
	p.state = model.DialogueState{}
	return p.view(), nil
}

// Delete removes a preview.
func (m *Manager) Delete(tenantID, previewID string) error {
	if _, err := m.lookup(tenantID, previewID); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.previews, previewID)
	m.mu.Unlock()
	return nil
}

func (m *Manager) send(ctx context.Context, tenantID, previewID, message string) (*View, error) {
	p, err := m.lookup(tenantID, previewID)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	resp, err := m.runtime.Chat(ctx, model.ChatRequest{
		ThreadID: p.threadID,
		Message:  message,
	})
	if err != nil {
		return nil, err
	}

	p.transcript = append(p.transcript,
		model.ChatTurn{Role: "user", Content: message},
		model.ChatTurn{Role: "assistant", Content: resp.Reply},
	)
	p.state = resp.State
	return p.view(), nil
}

func (m *Manager) lookup(tenantID, previewID string) (*preview, error) {
	m.mu.RLock()
	p, ok := m.previews[previewID]
	m.mu.RUnlock()
	if !ok || p.tenantID != tenantID {
		return nil, model.NewNotFoundError("preview not found")
	}
	return p, nil
}

// view must be called with p.mu held (or before the preview is shared).
func (p *preview) view() *View {
	transcript := make([]model.ChatTurn, len(p.transcript))
	copy(transcript, p.transcript)
	return &View{
		ID:          p.id,
		SessionID:   p.sessionID,
		AgentID:     p.agentID,
		ThreadID:    p.threadID,
		Transcript:  transcript,
		State:       p.state,
		ActiveField: projector.CurrentField(p.state, p.forms),
	}
}
