// Package integration provides a reusable test harness for end-to-end
// testing of the Form Studio server. It starts a full HTTP server with a
// mock builder, a mock runtime, in-memory stores, and a test JWT issuer.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pendulo/formstudio/internal/access"
	"github.com/pendulo/formstudio/internal/bundle"
	"github.com/pendulo/formstudio/internal/config"
	"github.com/pendulo/formstudio/internal/knowledge"
	"github.com/pendulo/formstudio/internal/options"
	"github.com/pendulo/formstudio/internal/preview"
	"github.com/pendulo/formstudio/internal/session"
	"github.com/pendulo/formstudio/internal/store"
	"github.com/pendulo/formstudio/internal/transport"
	"github.com/pendulo/formstudio/internal/upstream"
	"github.com/pendulo/formstudio/model"
)

// TestHarness encapsulates a fully wired studio instance with mock
// upstreams for integration testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	// Internal components exposed for advanced test scenarios.
	Builder  *MockBuilder
	Runtime  *MockRuntime
	Sessions *session.Manager

	cfg *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	documents      map[string]any
	runtimeForms   *model.FormsConfig
	chatResponder  func(req model.ChatRequest) model.ChatResponse
	policyFile     string
	handlerTimeout time.Duration
}

// WithDocuments sets the builder's initial config documents.
func WithDocuments(documents map[string]any) HarnessOption {
	return func(c *harnessConfig) {
		c.documents = documents
	}
}

// WithRuntimeForms sets the form catalog the mock runtime serves.
func WithRuntimeForms(forms model.FormsConfig) HarnessOption {
	return func(c *harnessConfig) {
		c.runtimeForms = &forms
	}
}

// WithChatResponder scripts the mock runtime's chat replies.
func WithChatResponder(fn func(req model.ChatRequest) model.ChatResponse) HarnessOption {
	return func(c *harnessConfig) {
		c.chatResponder = fn
	}
}

// WithPolicyFile sets the static policy YAML file for capability resolution.
func WithPolicyFile(path string) HarnessOption {
	return func(c *harnessConfig) {
		c.policyFile = path
	}
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.handlerTimeout = d
	}
}

// NewTestHarness creates and starts a full studio test instance. The server
// is automatically cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		handlerTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(hc)
	}

	if hc.documents == nil {
		hc.documents = DefaultDocuments()
	}
	if hc.policyFile == "" {
		hc.policyFile = filepath.Join(testdataDir(), "policies.yaml")
	}

	h := &TestHarness{t: t}
	log := zap.NewNop()

	// Step 1: Start mock upstreams.
	h.Builder = NewMockBuilder(t, hc.documents)

	runtimeForms := model.FormsConfig{}
	if hc.runtimeForms != nil {
		runtimeForms = *hc.runtimeForms
	} else if forms, ok := hc.documents[model.DocForms]; ok {
		data, err := json.Marshal(forms)
		if err == nil {
			json.Unmarshal(data, &runtimeForms)
		}
	}
	h.Runtime = NewMockRuntime(t, runtimeForms, hc.chatResponder)

	// Step 2: Build upstream clients against the mocks. One attempt, no
	// breaker tripping surprises across unrelated tests.
	svcCfg := func(baseURL string) config.ServiceConfig {
		return config.ServiceConfig{
			BaseURL: baseURL,
			Timeout: 5 * time.Second,
			Retry:   config.RetryConfig{MaxAttempts: 1},
			CircuitBreaker: config.CircuitBreakerConfig{
				FailureThreshold: 1000,
			},
		}
	}
	builderClient := upstream.NewClient("builder", svcCfg(h.Builder.URL()), log, nil)
	runtimeClient := upstream.NewClient("runtime", svcCfg(h.Runtime.URL()), log, nil)
	builder := upstream.NewBuilderClient(builderClient)
	runtime := upstream.NewRuntimeClient(runtimeClient)

	// Step 3: Build capability resolver.
	evaluator, err := access.NewStaticPolicyEvaluator(hc.policyFile)
	if err != nil {
		t.Fatalf("load policy file: %v", err)
	}
	resolver := access.NewResolver(evaluator, 0) // no caching in tests

	// Step 4: Build domain services over in-memory stores.
	h.Sessions = session.NewManager(session.NewMemoryStore(), 0)
	configStore := store.New(builder, log)
	optionService := options.NewService(options.NewMemoryCache(100), nil, log)
	knowledgeService := knowledge.NewService(builder, time.Second, 5, log)
	previews := preview.NewManager(runtime, log)

	// Step 5: Create JWT issuer and config.
	h.issuer = newTokenIssuer(t)
	h.cfg = config.Defaults()
	h.cfg.Server.HandlerTimeout = hc.handlerTimeout
	h.cfg.Identity.Issuer = h.issuer.Issuer()
	h.cfg.Identity.Audience = h.issuer.Audience()
	h.cfg.Identity.JWKSURL = h.issuer.JWKSURL()
	h.cfg.Observability.Metrics.Enabled = false
	h.cfg.Observability.Tracing.Enabled = false

	// Step 6: Build router with full middleware chain.
	jwks := transport.NewJWKSClient(h.issuer.JWKSURL(), 1*time.Hour, log)

	router := transport.NewRouter(transport.Dependencies{
		Config:             h.cfg,
		Log:                log,
		Authenticate:       transport.JWTAuthenticator(h.cfg.Identity, jwks),
		CapabilityResolver: resolver,
		Sessions:           h.Sessions,
		Store:              configStore,
		Builder:            builder,
		Runtime:            runtime,
		Validator:          bundle.NewValidator(),
		Options:            optionService,
		Knowledge:          knowledgeService,
		Previews:           previews,
	})

	// Step 7: Start test server.
	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)

	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// GenerateToken creates a valid JWT token with the given claims.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// GenerateExpiredToken creates a JWT that has already expired.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

// --- HTTP client helpers ---

// GET performs an authenticated GET request.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, token)
}

// POST performs an authenticated POST request with a JSON body.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token)
}

// PUT performs an authenticated PUT request with a JSON body.
func (h *TestHarness) PUT(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("PUT", path, body, token)
}

// DELETE performs an authenticated DELETE request.
func (h *TestHarness) DELETE(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("DELETE", path, nil, token)
}

func (h *TestHarness) doRequest(method, path string, body any, token string) *http.Response {
	h.t.Helper()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, h.server.URL+path, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	// Zero the target first so a reused struct reflects only this response;
	// json.Unmarshal merges into existing values and would otherwise keep
	// stale fields the server omitted (e.g. via omitempty).
	if rv := reflect.ValueOf(target); rv.Kind() == reflect.Pointer && !rv.IsNil() {
		rv.Elem().SetZero()
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks that the response has the expected status and parses the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// --- Default test claims ---

// EditorClaims returns TestClaims for a form_editor user.
func EditorClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-editor",
		TenantID:  "acme-corp",
		Email:     "editor@acme.example.com",
		Roles:     []string{"form_editor"},
	}
}

// PublisherClaims returns TestClaims for a publisher user.
func PublisherClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-publisher",
		TenantID:  "acme-corp",
		Email:     "publisher@acme.example.com",
		Roles:     []string{"publisher", "form_editor"},
	}
}

// ViewerClaims returns TestClaims for a user with no roles beyond defaults.
func ViewerClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-viewer",
		TenantID:  "acme-corp",
		Email:     "viewer@acme.example.com",
	}
}

// --- Fixtures ---

// DefaultDocuments returns a builder document set with one ticket form.
func DefaultDocuments() map[string]any {
	return map[string]any{
		model.DocProject: map[string]any{
			"project_name":   "support",
			"system_message": "You collect support tickets.",
		},
		model.DocForms: TicketFormsDocument(""),
	}
}

// TicketFormsDocument returns a forms document with a single ticket form.
// submissionURL may be blank to exercise the save gate.
func TicketFormsDocument(submissionURL string) map[string]any {
	return map[string]any{
		"intents": []map[string]any{
			{"id": "i1", "name": "open_ticket", "target_form": "ticket"},
		},
		"forms": []map[string]any{{
			"id":             "ticket",
			"name":           "Ticket",
			"title":          "Open a ticket",
			"mode":           "step-by-step",
			"submission_url": submissionURL,
			"field_order":    []string{"topic", "email"},
			"fields": []map[string]any{
				{
					"name":             "topic",
					"label":            "Topic",
					"type":             "dropdown",
					"required":         true,
					"dropdown_options": []string{"billing", "outage"},
				},
				{"name": "email", "label": "Email", "type": "text"},
			},
		}},
	}
}

// --- Helpers ---

// testdataDir returns the absolute path to the testdata directory.
func testdataDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "testdata")
}

// FormatJSON converts a value to indented JSON for test output.
func FormatJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
