package integration

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/pendulo/formstudio/model"
)

// MockBuilder fakes the builder API. Documents are held in memory, writes
// are recorded in order, and publish bumps a version counter.
type MockBuilder struct {
	t      *testing.T
	server *httptest.Server

	mu        sync.Mutex
	documents map[string]json.RawMessage
	putOrder  []string
	version   int
	failPuts  map[string]int // document name -> HTTP status to return
}

// NewMockBuilder starts a mock builder pre-loaded with the given documents.
// Missing documents default to "{}".
func NewMockBuilder(t *testing.T, documents map[string]any) *MockBuilder {
	t.Helper()

	mb := &MockBuilder{
		t:         t,
		documents: make(map[string]json.RawMessage),
		version:   1,
		failPuts:  make(map[string]int),
	}
	for _, name := range model.DocumentOrder {
		mb.documents[name] = json.RawMessage(`{}`)
	}
	for name, doc := range documents {
		data, err := json.Marshal(doc)
		if err != nil {
			t.Fatalf("marshal document %s: %v", name, err)
		}
		mb.documents[name] = data
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/config/", mb.handleConfig)
	mux.HandleFunc("/publish", mb.handlePublish)
	mux.HandleFunc("/versions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []map[string]any{{"version": mb.Version()}})
	})
	mux.HandleFunc("/agents", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []map[string]any{{"id": "agent-1", "name": "Support Agent"}})
	})
	mb.server = httptest.NewServer(mux)
	t.Cleanup(mb.server.Close)
	return mb
}

// URL returns the mock builder's base URL.
func (mb *MockBuilder) URL() string {
	return mb.server.URL
}

// PutOrder returns the document names written so far, in write order.
func (mb *MockBuilder) PutOrder() []string {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return append([]string(nil), mb.putOrder...)
}

// ResetPuts clears the recorded write order.
func (mb *MockBuilder) ResetPuts() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.putOrder = nil
}

// FailPut makes writes of the named document return the given status.
func (mb *MockBuilder) FailPut(document string, status int) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.failPuts[document] = status
}

// Version returns the current published version counter.
func (mb *MockBuilder) Version() int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.version
}

// Document returns the stored raw JSON for one document.
func (mb *MockBuilder) Document(name string) json.RawMessage {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.documents[name]
}

func (mb *MockBuilder) handleConfig(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/config/")

	switch r.Method {
	case http.MethodGet:
		mb.mu.Lock()
		doc, ok := mb.documents[name]
		mb.mu.Unlock()
		if !ok {
			http.Error(w, `{"detail":"unknown document"}`, http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc)

	case http.MethodPut:
		mb.mu.Lock()
		if status, ok := mb.failPuts[name]; ok {
			mb.mu.Unlock()
			http.Error(w, `{"detail":"write rejected"}`, status)
			return
		}
		body, _ := readAll(r)
		mb.documents[name] = body
		mb.putOrder = append(mb.putOrder, name)
		mb.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (mb *MockBuilder) handlePublish(w http.ResponseWriter, r *http.Request) {
	mb.mu.Lock()
	mb.version++
	v := mb.version
	mb.mu.Unlock()
	writeJSON(w, map[string]int{"version": v})
}

// MockRuntime fakes the conversational runtime: a fixed form catalog plus a
// scripted chat function.
type MockRuntime struct {
	t      *testing.T
	server *httptest.Server

	mu       sync.Mutex
	forms    model.FormsConfig
	respond  func(req model.ChatRequest) model.ChatResponse
	messages []model.ChatRequest
}

// NewMockRuntime starts a mock runtime serving the given form catalog.
func NewMockRuntime(t *testing.T, forms model.FormsConfig, respond func(req model.ChatRequest) model.ChatResponse) *MockRuntime {
	t.Helper()

	mr := &MockRuntime{t: t, forms: forms, respond: respond}

	mux := http.NewServeMux()
	mux.HandleFunc("/forms", func(w http.ResponseWriter, r *http.Request) {
		mr.mu.Lock()
		defer mr.mu.Unlock()
		writeJSON(w, mr.forms)
	})
	mux.HandleFunc("/chat", func(w http.ResponseWriter, r *http.Request) {
		var req model.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"detail":"bad request"}`, http.StatusBadRequest)
			return
		}
		mr.mu.Lock()
		mr.messages = append(mr.messages, req)
		respond := mr.respond
		mr.mu.Unlock()

		resp := model.ChatResponse{Reply: "ok"}
		if respond != nil {
			resp = respond(req)
		}
		writeJSON(w, resp)
	})
	mr.server = httptest.NewServer(mux)
	t.Cleanup(mr.server.Close)
	return mr
}

// URL returns the mock runtime's base URL.
func (mr *MockRuntime) URL() string {
	return mr.server.URL
}

// Messages returns every chat request received so far.
func (mr *MockRuntime) Messages() []model.ChatRequest {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	return append([]model.ChatRequest(nil), mr.messages...)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func readAll(r *http.Request) (json.RawMessage, error) {
	var raw json.RawMessage
	err := json.NewDecoder(r.Body).Decode(&raw)
	return raw, err
}
