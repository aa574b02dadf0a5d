package options

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pendulo/formstudio/model"
)

func optionBundle(toolURL string, cacheEnabled bool) *model.ConfigBundle {
	return &model.ConfigBundle{
		Forms: model.FormsConfig{
			Forms: []model.Form{
				{
					ID:         "support_ticket",
					Name:       "Ticket",
					Mode:       model.ModeStepByStep,
					FieldOrder: []string{"topic", "email"},
					Fields: []model.Field{
						{Name: "topic", Type: model.FieldDropdown, DropdownTool: "list_topics", DropdownOptions: []string{"fallback"}},
						{Name: "email", Type: model.FieldText},
					},
				},
			},
		},
		Tools: model.ToolsConfig{
			Tools: []model.Tool{
				{
					Name:            "list_topics",
					HTTPMethod:      "GET",
					URL:             toolURL,
					CacheEnabled:    cacheEnabled,
					CacheTTLSeconds: 60,
				},
			},
		},
	}
}

func rctxContext() context.Context {
	return model.WithRequestContext(context.Background(), &model.RequestContext{
		SubjectID: "sub-1", TenantID: "acme",
	})
}

func TestResolve_invokesToolAndCaches(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`["billing","outage","other"]`))
	}))
	defer srv.Close()

	svc := NewService(NewMemoryCache(0), nil, zap.NewNop())
	bundle := optionBundle(srv.URL, true)

	got, err := svc.Resolve(rctxContext(), "a1", bundle, "support_ticket", "topic")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	want := []string{"billing", "outage", "other"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("options = %v, want %v", got, want)
	}

	// Second resolve must come from the cache.
	if _, err := svc.Resolve(rctxContext(), "a1", bundle, "support_ticket", "topic"); err != nil {
		t.Fatalf("cached Resolve error: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("tool calls = %d, want 1", calls.Load())
	}
}

func TestResolve_cacheDisabledAlwaysInvokes(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"options":["a","b"]}`))
	}))
	defer srv.Close()

	svc := NewService(NewMemoryCache(0), nil, zap.NewNop())
	bundle := optionBundle(srv.URL, false)

	for i := 0; i < 2; i++ {
		got, err := svc.Resolve(rctxContext(), "a1", bundle, "support_ticket", "topic")
		if err != nil {
			t.Fatalf("Resolve error: %v", err)
		}
		if !reflect.DeepEqual(got, []string{"a", "b"}) {
			t.Fatalf("options = %v", got)
		}
	}
	if calls.Load() != 2 {
		t.Errorf("tool calls = %d, want 2", calls.Load())
	}
}

func TestResolve_concurrentMissesShareOneCall(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond)
		w.Write([]byte(`["billing","outage"]`))
	}))
	defer srv.Close()

	svc := NewService(NewMemoryCache(0), nil, zap.NewNop())
	bundle := optionBundle(srv.URL, true)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := svc.Resolve(rctxContext(), "a1", bundle, "support_ticket", "topic")
			if err != nil {
				t.Errorf("Resolve error: %v", err)
				return
			}
			if len(got) != 2 {
				t.Errorf("options = %v", got)
			}
		}()
	}
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("tool calls = %d, want 1", calls.Load())
	}
}

func TestResolve_schemaViolationBlocksCall(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`["never"]`))
	}))
	defer srv.Close()

	bundle := optionBundle(srv.URL, false)
	tool := bundle.Tools.ToolByName("list_topics")
	tool.HTTPMethod = "POST"
	tool.BodySchema = model.MustValue(map[string]any{
		"type":     "object",
		"required": []string{"category"},
		"properties": map[string]any{
			"category": map[string]any{"type": "string"},
		},
	})
	field := bundle.Forms.FormByID("support_ticket").FieldByName("topic")
	field.ToolHook = &model.ToolHook{
		Tool:     "list_topics",
		InputMap: map[string]string{"category": "123"},
	}

	svc := NewService(NewMemoryCache(0), nil, zap.NewNop())
	_, err := svc.Resolve(rctxContext(), "a1", bundle, "support_ticket", "topic")

	var env *model.ErrorEnvelope
	if !errors.As(err, &env) || env.Code != model.ErrValidationError {
		t.Fatalf("err = %v, want VALIDATION_ERROR", err)
	}
	if len(env.Details) == 0 || env.Details[0].Code != "SCHEMA_VIOLATION" {
		t.Fatalf("details = %+v", env.Details)
	}
	if calls.Load() != 0 {
		t.Errorf("tool was called %d times, schema failures must stop the request", calls.Load())
	}
}

func TestResolve_outputPathSelectsOptions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"topics":["billing","outage"],"count":2}}`))
	}))
	defer srv.Close()

	bundle := optionBundle(srv.URL, false)
	field := bundle.Forms.FormByID("support_ticket").FieldByName("topic")
	field.ToolHook = &model.ToolHook{Tool: "list_topics", OutputPath: "data.topics"}

	svc := NewService(NewMemoryCache(0), nil, zap.NewNop())
	got, err := svc.Resolve(rctxContext(), "a1", bundle, "support_ticket", "topic")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"billing", "outage"}) {
		t.Fatalf("options = %v", got)
	}
}

func TestResolve_outputMapBindsFieldOptions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":{"names":["gold","silver"]}}`))
	}))
	defer srv.Close()

	bundle := optionBundle(srv.URL, false)
	field := bundle.Forms.FormByID("support_ticket").FieldByName("topic")
	field.ToolHook = &model.ToolHook{
		Tool:      "list_topics",
		OutputMap: map[string]string{"topic": "result.names"},
	}

	svc := NewService(NewMemoryCache(0), nil, zap.NewNop())
	got, err := svc.Resolve(rctxContext(), "a1", bundle, "support_ticket", "topic")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"gold", "silver"}) {
		t.Fatalf("options = %v", got)
	}
}

func TestResolve_staticFieldWithoutTool(t *testing.T) {
	svc := NewService(NewMemoryCache(0), nil, zap.NewNop())
	bundle := optionBundle("http://unused.invalid", true)
	bundle.Forms.Forms[0].Fields[0].DropdownTool = ""

	got, err := svc.Resolve(rctxContext(), "a1", bundle, "support_ticket", "topic")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"fallback"}) {
		t.Fatalf("options = %v", got)
	}
}

func TestResolve_nonChoiceFieldRejected(t *testing.T) {
	svc := NewService(NewMemoryCache(0), nil, zap.NewNop())
	bundle := optionBundle("http://unused.invalid", true)

	_, err := svc.Resolve(rctxContext(), "a1", bundle, "support_ticket", "email")
	env, ok := err.(*model.ErrorEnvelope)
	if !ok || env.Code != model.ErrBadRequest {
		t.Fatalf("err = %v", err)
	}
}

func TestMemoryCache_TTLExpiry(t *testing.T) {
	c := NewMemoryCache(0)
	ctx := context.Background()

	c.Set(ctx, "k", []string{"a"}, 10*time.Millisecond)
	if _, found, _ := c.Get(ctx, "k"); !found {
		t.Fatal("fresh entry not found")
	}

	time.Sleep(15 * time.Millisecond)
	if _, found, _ := c.Get(ctx, "k"); found {
		t.Fatal("expired entry still served")
	}
}

func TestMemoryCache_Eviction(t *testing.T) {
	c := NewMemoryCache(2)
	ctx := context.Background()

	c.Set(ctx, "a", []string{"1"}, time.Minute)
	c.Set(ctx, "b", []string{"2"}, time.Minute)
	c.Set(ctx, "c", []string{"3"}, time.Minute)
	if c.Len() > 2 {
		t.Errorf("len = %d, want at most 2", c.Len())
	}
}

func TestRedisCache_RoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewRedisCache(client)
	ctx := context.Background()

	key := Key("acme", "a1", "list_topics", "topic")
	if _, found, err := c.Get(ctx, key); err != nil || found {
		t.Fatalf("empty get: found=%v err=%v", found, err)
	}

	if err := c.Set(ctx, key, []string{"billing", "outage"}, time.Minute); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	got, found, err := c.Get(ctx, key)
	if err != nil || !found {
		t.Fatalf("get after set: found=%v err=%v", found, err)
	}
	if !reflect.DeepEqual(got, []string{"billing", "outage"}) {
		t.Fatalf("options = %v", got)
	}

	// TTL honored.
	mr.FastForward(2 * time.Minute)
	if _, found, _ := c.Get(ctx, key); found {
		t.Fatal("entry survived TTL")
	}
}
