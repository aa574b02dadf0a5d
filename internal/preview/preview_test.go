package preview

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/pendulo/formstudio/internal/config"
	"github.com/pendulo/formstudio/internal/upstream"
	"github.com/pendulo/formstudio/model"
)

type fakeRuntime struct {
	mu       sync.Mutex
	messages []model.ChatRequest
	respond  func(req model.ChatRequest) model.ChatResponse
}

func (f *fakeRuntime) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/forms", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(model.FormsConfig{Forms: []model.Form{{
			ID:         "ticket",
			Name:       "ticket",
			Title:      "Ticket",
			Mode:       model.ModeStepByStep,
			FieldOrder: []string{"topic"},
			Fields: []model.Field{{
				Name:            "topic",
				Label:           "Topic",
				Type:            model.FieldDropdown,
				Required:        true,
				DropdownOptions: []string{"billing", "outage"},
			}},
		}}})
	})
	mux.HandleFunc("/chat", func(w http.ResponseWriter, r *http.Request) {
		var req model.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode chat request: %v", err)
		}
		f.mu.Lock()
		f.messages = append(f.messages, req)
		f.mu.Unlock()
		json.NewEncoder(w).Encode(f.respond(req))
	})
	return mux
}

func (f *fakeRuntime) sent() []model.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.ChatRequest, len(f.messages))
	copy(out, f.messages)
	return out
}

func managerFixture(t *testing.T, rt *fakeRuntime) *Manager {
	t.Helper()
	srv := httptest.NewServer(rt.handler(t))
	t.Cleanup(srv.Close)
	client := upstream.NewClient("runtime", config.ServiceConfig{BaseURL: srv.URL}, zap.NewNop(), nil)
	return NewManager(upstream.NewRuntimeClient(client), zap.NewNop())
}

func rctx() *model.RequestContext {
	return &model.RequestContext{TenantID: "acme", SubjectID: "sara"}
}

func TestChat_recordsTranscriptAndProjectsField(t *testing.T) {
	step := 0
	rt := &fakeRuntime{respond: func(req model.ChatRequest) model.ChatResponse {
		return model.ChatResponse{
			Reply: "What is the topic?",
			State: model.DialogueState{
				CurrentFormID:    "ticket",
				CurrentStepIndex: &step,
				AwaitingField:    true,
				FieldOptions:     map[string][]string{"topic": {"urgent outage"}},
			},
		}
	}}
	mgr := managerFixture(t, rt)

	v, err := mgr.Create(context.Background(), rctx(), "sess-1", "agent-1")
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if v.ActiveField != nil {
		t.Fatalf("fresh preview has active field: %+v", v.ActiveField)
	}

	v, err = mgr.Chat(context.Background(), "acme", v.ID, "I need help")
	if err != nil {
		t.Fatalf("Chat error: %v", err)
	}
	if len(v.Transcript) != 2 {
		t.Fatalf("transcript = %+v", v.Transcript)
	}
	if v.Transcript[0].Role != "user" || v.Transcript[1].Content != "What is the topic?" {
		t.Errorf("transcript = %+v", v.Transcript)
	}
	if v.ActiveField == nil {
		t.Fatal("no active field projected")
	}
	if v.ActiveField.Name != "topic" {
		t.Errorf("active field = %+v", v.ActiveField)
	}
	want := []string{"urgent outage", "billing", "outage"}
	if len(v.ActiveField.Options) != len(want) {
		t.Fatalf("options = %v", v.ActiveField.Options)
	}
	for i, o := range want {
		if v.ActiveField.Options[i] != o {
			t.Errorf("options[%d] = %q, want %q", i, v.ActiveField.Options[i], o)
		}
	}
}

func TestSelect_sendsOptionVerbatim(t *testing.T) {
	rt := &fakeRuntime{respond: func(req model.ChatRequest) model.ChatResponse {
		return model.ChatResponse{Reply: "Noted."}
	}}
	mgr := managerFixture(t, rt)

	v, err := mgr.Create(context.Background(), rctx(), "sess-1", "agent-1")
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if _, err := mgr.Select(context.Background(), "acme", v.ID, "billing"); err != nil {
		t.Fatalf("Select error: %v", err)
	}

	sent := rt.sent()
	if len(sent) != 1 || sent[0].Message != "billing" {
		t.Fatalf("sent = %+v", sent)
	}
	if sent[0].ThreadID != v.ThreadID {
		t.Errorf("thread id = %q, want %q", sent[0].ThreadID, v.ThreadID)
	}
}

func TestReset_discardsThreadAndState(t *testing.T) {
	step := 0
	rt := &fakeRuntime{respond: func(req model.ChatRequest) model.ChatResponse {
		return model.ChatResponse{
			Reply: "ok",
			State: model.DialogueState{CurrentFormID: "ticket", CurrentStepIndex: &step, AwaitingField: true},
		}
	}}
	mgr := managerFixture(t, rt)

	v, err := mgr.Create(context.Background(), rctx(), "sess-1", "agent-1")
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	oldThread := v.ThreadID
	if _, err := mgr.Chat(context.Background(), "acme", v.ID, "hello"); err != nil {
		t.Fatalf("Chat error: %v", err)
	}

	v, err = mgr.Reset("acme", v.ID)
	if err != nil {
		t.Fatalf("Reset error: %v", err)
	}
	if v.ThreadID == oldThread {
		t.Error("thread id unchanged after reset")
	}
	if len(v.Transcript) != 0 {
		t.Errorf("transcript survived reset: %+v", v.Transcript)
	}
	if v.ActiveField != nil {
		t.Errorf("active field survived reset: %+v", v.ActiveField)
	}
}

func TestLookup_tenantScoped(t *testing.T) {
	rt := &fakeRuntime{respond: func(req model.ChatRequest) model.ChatResponse {
		return model.ChatResponse{Reply: "ok"}
	}}
	mgr := managerFixture(t, rt)

	v, err := mgr.Create(context.Background(), rctx(), "sess-1", "agent-1")
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	_, err = mgr.Get("other", v.ID)
	env, ok := err.(*model.ErrorEnvelope)
	if !ok || env.Code != model.ErrNotFound {
		t.Errorf("cross-tenant lookup: err = %v", err)
	}

	if _, err := mgr.Get("acme", v.ID); err != nil {
		t.Errorf("same-tenant lookup failed: %v", err)
	}
}
