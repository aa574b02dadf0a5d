package access

import (
	"testing"
	"time"

	"github.com/pendulo/formstudio/model"
)

func testRctx(roles ...string) *model.RequestContext {
	return &model.RequestContext{
		SubjectID: "user-1",
		TenantID:  "tenant-1",
		Roles:     roles,
	}
}

func TestStaticPolicyEvaluator_ResolveCapabilities(t *testing.T) {
	e, err := NewStaticPolicyEvaluator("testdata/policy.yaml")
	if err != nil {
		t.Fatalf("NewStaticPolicyEvaluator() error = %v", err)
	}

	caps, err := e.ResolveCapabilities(testRctx("form_editor"))
	if err != nil {
		t.Fatalf("ResolveCapabilities() error = %v", err)
	}

	if !caps.Has(model.CapFormsEdit) {
		t.Error("form_editor should have forms:edit")
	}
	if caps.Has(model.CapConfigPublish) {
		t.Error("form_editor should not have config:publish")
	}
}

func TestStaticPolicyEvaluator_DefaultsApplyToEveryone(t *testing.T) {
	e, _ := NewStaticPolicyEvaluator("testdata/policy.yaml")
	caps, _ := e.ResolveCapabilities(testRctx())

	if !caps.Has(model.CapSessionsView) {
		t.Error("defaults should grant sessions:view without any role")
	}
	if caps.Has(model.CapFormsEdit) {
		t.Error("roleless subject should not have forms:edit")
	}
}

func TestStaticPolicyEvaluator_MultipleRoles(t *testing.T) {
	e, _ := NewStaticPolicyEvaluator("testdata/policy.yaml")
	caps, _ := e.ResolveCapabilities(testRctx("form_editor", "publisher"))

	if !caps.Has(model.CapConfigPublish) {
		t.Error("publisher should add config:publish")
	}
	if !caps.Has(model.CapPreviewChat) {
		t.Error("combined roles should keep preview:chat")
	}
}

func TestStaticPolicyEvaluator_AdminWildcard(t *testing.T) {
	e, _ := NewStaticPolicyEvaluator("testdata/policy.yaml")
	caps, _ := e.ResolveCapabilities(testRctx("admin"))

	if !caps.Has(model.CapKnowledgeEdit) {
		t.Error("admin wildcard should match knowledge:edit")
	}
}

func TestStaticPolicyEvaluator_BadFile(t *testing.T) {
	if _, err := NewStaticPolicyEvaluator("testdata/nonexistent.yaml"); err == nil {
		t.Fatal("expected error for missing policy file")
	}
}

func TestResolver_CachesUntilInvalidated(t *testing.T) {
	callCount := 0
	mock := &mockEvaluator{
		resolveFunc: func(rctx *model.RequestContext) (model.CapabilitySet, error) {
			callCount++
			return model.CapabilitySet{model.CapSessionsView: true}, nil
		},
	}
	r := NewResolver(mock, 5*time.Minute)
	rctx := testRctx()

	r.Resolve(rctx)
	r.Resolve(rctx)
	if callCount != 1 {
		t.Fatalf("callCount = %d after cache hit, want 1", callCount)
	}

	r.Invalidate("user-1", "tenant-1")

	r.Resolve(rctx)
	if callCount != 2 {
		t.Fatalf("callCount = %d after invalidate, want 2", callCount)
	}
}

func TestResolver_TTLExpiry(t *testing.T) {
	callCount := 0
	mock := &mockEvaluator{
		resolveFunc: func(rctx *model.RequestContext) (model.CapabilitySet, error) {
			callCount++
			return model.CapabilitySet{model.CapSessionsView: true}, nil
		},
	}
	r := NewResolver(mock, 1*time.Millisecond)
	rctx := testRctx()

	r.Resolve(rctx)
	time.Sleep(5 * time.Millisecond)
	r.Resolve(rctx)

	if callCount != 2 {
		t.Fatalf("callCount = %d, want 2 (TTL expired)", callCount)
	}
}

type mockEvaluator struct {
	resolveFunc func(rctx *model.RequestContext) (model.CapabilitySet, error)
}

func (m *mockEvaluator) ResolveCapabilities(rctx *model.RequestContext) (model.CapabilitySet, error) {
	return m.resolveFunc(rctx)
}

func (m *mockEvaluator) Sync() error { return nil }
