package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pendulo/formstudio/internal/bundle"
	"github.com/pendulo/formstudio/internal/config"
	"github.com/pendulo/formstudio/internal/knowledge"
	"github.com/pendulo/formstudio/internal/options"
	"github.com/pendulo/formstudio/internal/preview"
	"github.com/pendulo/formstudio/internal/session"
	"github.com/pendulo/formstudio/internal/store"
	"github.com/pendulo/formstudio/internal/upstream"
	"github.com/pendulo/formstudio/model"
)

// mockUpstream fakes the builder API: GET serves canned documents, PUT
// records the write order, and /publish returns a fixed version.
type mockUpstream struct {
	mu   sync.Mutex
	puts []string
}

func (m *mockUpstream) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/config/", func(w http.ResponseWriter, r *http.Request) {
		doc := strings.TrimPrefix(r.URL.Path, "/config/")
		switch r.Method {
		case http.MethodGet:
			w.Write([]byte(documentBody(doc)))
		case http.MethodPut:
			m.mu.Lock()
			m.puts = append(m.puts, doc)
			m.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		}
	})
	mux.HandleFunc("/publish", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"version":3}`))
	})
	mux.HandleFunc("/agents", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":"agent-1","name":"Support"}]`))
	})
	mux.HandleFunc("/versions", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"version":3,"created_at":"2026-08-01T00:00:00Z"}]`))
	})
	return mux
}

func (m *mockUpstream) putOrder() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.puts...)
}

func documentBody(doc string) string {
	switch doc {
	case "forms":
		return `{
			"intents": [{"id":"i1","name":"open_ticket","target_form":"ticket"}],
			"forms": [{
				"id": "ticket",
				"name": "Ticket",
				"mode": "step-by-step",
				"field_order": ["topic","email"],
				"fields": [
					{"name":"topic","label":"Topic","type":"dropdown","dropdown_options":["billing","outage"]},
					{"name":"email","label":"Email","type":"text"}
				]
			}]
		}`
	case "project":
		return `{"project_name":"support","system_message":"You collect tickets."}`
	default:
		return `{}`
	}
}

// grantAll implements model.CapabilityResolver with a fixed set.
type grantAll struct{ caps model.CapabilitySet }

func (g grantAll) Resolve(*model.RequestContext) (model.CapabilitySet, error) { return g.caps, nil }
func (g grantAll) Invalidate(string, string)                                  {}

// fakeAuth injects claims for a fixed user, standing in for the JWT layer.
func fakeAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := map[string]any{
			"sub":       "user-1",
			"tenant_id": "tenant-1",
			"email":     "user@example.com",
			"roles":     []any{"form_editor"},
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

type appFixture struct {
	router   http.Handler
	upstream *mockUpstream
}

func newAppFixture(t *testing.T, caps model.CapabilitySet) *appFixture {
	t.Helper()
	return newAppFixtureAuth(t, caps, fakeAuth)
}

func newAppFixtureAuth(t *testing.T, caps model.CapabilitySet, auth func(http.Handler) http.Handler) *appFixture {
	t.Helper()

	mock := &mockUpstream{}
	builderSrv := httptest.NewServer(mock.handler())
	t.Cleanup(builderSrv.Close)

	log := zap.NewNop()
	cfg := config.Defaults()
	cfg.Server.HandlerTimeout = 5 * time.Second

	builderClient := upstream.NewClient("builder", config.ServiceConfig{BaseURL: builderSrv.URL}, log, nil)
	runtimeClient := upstream.NewClient("runtime", config.ServiceConfig{BaseURL: builderSrv.URL}, log, nil)
	builder := upstream.NewBuilderClient(builderClient)
	runtime := upstream.NewRuntimeClient(runtimeClient)

	sessions := session.NewManager(session.NewMemoryStore(), 0)

	deps := Dependencies{
		Config:             cfg,
		Log:                log,
		Authenticate:       auth,
		CapabilityResolver: grantAll{caps: caps},
		Sessions:           sessions,
		Store:              store.New(builder, log),
		Builder:            builder,
		Runtime:            runtime,
		Validator:          bundle.NewValidator(),
		Options:            options.NewService(options.NewMemoryCache(100), nil, log),
		Knowledge:          knowledge.NewService(builder, time.Second, 5, log),
		Previews:           preview.NewManager(runtime, log),
	}

	return &appFixture{router: NewRouter(deps), upstream: mock}
}

func (f *appFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *appFixture) createSession(t *testing.T) session.Session {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/ui/sessions", map[string]string{"agent_id": "agent-1"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session: status = %d, body = %s", rec.Code, rec.Body)
	}
	var sess session.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &sess); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return sess
}

func allCaps() model.CapabilitySet {
	return model.CapabilitySet{"*": true}
}

func TestCreateSession_loadsBundle(t *testing.T) {
	f := newAppFixture(t, allCaps())
	sess := f.createSession(t)

	if sess.AgentID != "agent-1" || sess.TenantID != "tenant-1" {
		t.Errorf("session = %+v", sess)
	}
	if sess.Bundle.Forms.FormByID("ticket") == nil {
		t.Error("bundle missing ticket form")
	}
	if sess.Status != "Loaded." {
		t.Errorf("status = %q", sess.Status)
	}
}

func TestAddField_keepsOrderConsistent(t *testing.T) {
	f := newAppFixture(t, allCaps())
	sess := f.createSession(t)

	rec := f.do(t, http.MethodPost, "/ui/sessions/"+sess.ID+"/forms/ticket/fields", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("add field: status = %d, body = %s", rec.Code, rec.Body)
	}

	var updated session.Session
	json.Unmarshal(rec.Body.Bytes(), &updated)
	form := updated.Bundle.Forms.FormByID("ticket")
	if len(form.Fields) != 3 || len(form.FieldOrder) != 3 {
		t.Fatalf("fields = %d, order = %d", len(form.Fields), len(form.FieldOrder))
	}
	if form.FieldOrder[2] != form.Fields[2].Name {
		t.Errorf("new field %q not appended to order %v", form.Fields[2].Name, form.FieldOrder)
	}
	if !updated.Dirty {
		t.Error("session not marked dirty")
	}
}

func TestSetMode_oneShotBlockedByDropdown(t *testing.T) {
	f := newAppFixture(t, allCaps())
	sess := f.createSession(t)

	rec := f.do(t, http.MethodPost, "/ui/sessions/"+sess.ID+"/forms/ticket/mode",
		map[string]string{"mode": "one-shot"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	var resp struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Error.Details) != 1 ||
		resp.Error.Details[0].Message != "Dropdown fields require step-by-step mode." {
		t.Errorf("details = %+v", resp.Error.Details)
	}

	// The draft must still be step-by-step.
	rec = f.do(t, http.MethodGet, "/ui/sessions/"+sess.ID, nil)
	var after session.Session
	json.Unmarshal(rec.Body.Bytes(), &after)
	if after.Bundle.Forms.FormByID("ticket").Mode != model.ModeStepByStep {
		t.Errorf("mode = %q after rejected switch", after.Bundle.Forms.FormByID("ticket").Mode)
	}
}

func TestMoveField_boundaryIsSilentNoop(t *testing.T) {
	f := newAppFixture(t, allCaps())
	sess := f.createSession(t)

	rec := f.do(t, http.MethodPost, "/ui/sessions/"+sess.ID+"/forms/ticket/fields/topic/move",
		map[string]string{"direction": "up"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	var after session.Session
	json.Unmarshal(rec.Body.Bytes(), &after)
	order := after.Bundle.Forms.FormByID("ticket").FieldOrder
	if order[0] != "topic" || order[1] != "email" {
		t.Errorf("order = %v, want unchanged", order)
	}
}

func TestRenameField_rewritesOrder(t *testing.T) {
	f := newAppFixture(t, allCaps())
	sess := f.createSession(t)

	rec := f.do(t, http.MethodPost, "/ui/sessions/"+sess.ID+"/forms/ticket/fields/email/rename",
		map[string]string{"new_name": "contact_email"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	var after session.Session
	json.Unmarshal(rec.Body.Bytes(), &after)
	form := after.Bundle.Forms.FormByID("ticket")
	if form.FieldByName("contact_email") == nil {
		t.Error("renamed field missing")
	}
	if form.FieldOrder[1] != "contact_email" {
		t.Errorf("order = %v", form.FieldOrder)
	}
}

func TestSave_gateBlocksBeforeAnyWrite(t *testing.T) {
	f := newAppFixture(t, allCaps())
	sess := f.createSession(t)

	rec := f.do(t, http.MethodPost, "/ui/sessions/"+sess.ID+"/save", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if puts := f.upstream.putOrder(); len(puts) != 0 {
		t.Errorf("writes issued despite gate: %v", puts)
	}

	var resp struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Error.Details) == 0 || resp.Error.Details[0].Field != "Ticket" {
		t.Errorf("details = %+v", resp.Error.Details)
	}
}

func TestSave_afterFixingSubmissionURL(t *testing.T) {
	f := newAppFixture(t, allCaps())
	sess := f.createSession(t)

	rec := f.do(t, http.MethodPut, "/ui/sessions/"+sess.ID+"/forms/ticket",
		map[string]string{"submission_url": "https://crm.example.com/tickets"})
	if rec.Code != http.StatusOK {
		t.Fatalf("update form: status = %d, body = %s", rec.Code, rec.Body)
	}

	rec = f.do(t, http.MethodPost, "/ui/sessions/"+sess.ID+"/save", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("save: status = %d, body = %s", rec.Code, rec.Body)
	}

	want := model.DocumentOrder
	got := f.upstream.putOrder()
	if len(got) != len(want) {
		t.Fatalf("puts = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("puts[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	var after session.Session
	json.Unmarshal(rec.Body.Bytes(), &after)
	if after.Dirty {
		t.Error("session still dirty after save")
	}
	if after.Status != "Saved." {
		t.Errorf("status = %q", after.Status)
	}
}

func TestPublish(t *testing.T) {
	f := newAppFixture(t, allCaps())
	sess := f.createSession(t)

	rec := f.do(t, http.MethodPost, "/ui/sessions/"+sess.ID+"/publish", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var resp struct {
		Version int `json:"version"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Version != 3 {
		t.Errorf("version = %d, want 3", resp.Version)
	}
}

func TestDiagnostics_reportDanglingIntent(t *testing.T) {
	f := newAppFixture(t, allCaps())
	sess := f.createSession(t)

	rec := f.do(t, http.MethodDelete, "/ui/sessions/"+sess.ID+"/forms/ticket", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete form: status = %d, body = %s", rec.Code, rec.Body)
	}

	rec = f.do(t, http.MethodGet, "/ui/sessions/"+sess.ID+"/diagnostics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("diagnostics: status = %d", rec.Code)
	}
	var resp struct {
		Diagnostics []bundle.Diagnostic `json:"diagnostics"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)

	found := false
	for _, diag := range resp.Diagnostics {
		if diag.Code == "REF_NOT_FOUND" && strings.Contains(diag.Path, "intents") {
			found = true
		}
	}
	if !found {
		t.Errorf("no dangling intent diagnostic in %+v", resp.Diagnostics)
	}
}

func TestFieldOptions_staticFallback(t *testing.T) {
	f := newAppFixture(t, allCaps())
	sess := f.createSession(t)

	rec := f.do(t, http.MethodGet,
		fmt.Sprintf("/ui/sessions/%s/fields/ticket/topic/options", sess.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var resp struct {
		Options []string `json:"options"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Options) != 2 || resp.Options[0] != "billing" {
		t.Errorf("options = %v", resp.Options)
	}
}

func TestCapabilityEnforcement(t *testing.T) {
	f := newAppFixture(t, model.CapabilitySet{model.CapSessionsView: true})

	rec := f.do(t, http.MethodPost, "/ui/sessions", map[string]string{"agent_id": "agent-1"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/ui/sessions", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("list sessions: status = %d, want 200", rec.Code)
	}
}

func TestUpdateField_staticOptions(t *testing.T) {
	f := newAppFixture(t, allCaps())
	sess := f.createSession(t)

	rec := f.do(t, http.MethodPut, "/ui/sessions/"+sess.ID+"/forms/ticket/fields/topic",
		map[string]any{"dropdown_options": []string{"billing", "outage", "other"}, "required": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	var after session.Session
	json.Unmarshal(rec.Body.Bytes(), &after)
	field := after.Bundle.Forms.FormByID("ticket").FieldByName("topic")
	if len(field.DropdownOptions) != 3 || !field.Required {
		t.Errorf("field = %+v", field)
	}
}

func TestInspection_agents(t *testing.T) {
	f := newAppFixture(t, allCaps())

	rec := f.do(t, http.MethodGet, "/ui/agents", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var resp struct {
		Agents []model.AgentSummary `json:"agents"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Agents) != 1 || resp.Agents[0].ID != "agent-1" {
		t.Errorf("agents = %+v", resp.Agents)
	}
}
