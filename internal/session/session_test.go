package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pendulo/formstudio/model"
)

func testBundle() model.ConfigBundle {
	return model.ConfigBundle{
		Project: model.ProjectConfig{ProjectName: "support"},
		Forms: model.FormsConfig{
			Forms: []model.Form{{ID: "f1", Name: "Ticket", Mode: model.ModeStepByStep}},
		},
	}
}

func testRctx() *model.RequestContext {
	return &model.RequestContext{SubjectID: "sub-1", TenantID: "acme"}
}

func TestManager_CreateAndGet(t *testing.T) {
	m := NewManager(NewMemoryStore(), 0)

	sess, err := m.Create(context.Background(), testRctx(), "a1", testBundle())
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if sess.ID == "" || sess.TenantID != "acme" || sess.OwnerID != "sub-1" {
		t.Fatalf("session = %+v", sess)
	}
	if sess.ExpiresAt != nil {
		t.Error("zero ttl should not set expiry")
	}

	got, err := m.Get(context.Background(), "acme", sess.ID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.Bundle.Project.ProjectName != "support" {
		t.Errorf("bundle = %+v", got.Bundle.Project)
	}
}

func TestManager_TenantScoping(t *testing.T) {
	m := NewManager(NewMemoryStore(), 0)
	sess, _ := m.Create(context.Background(), testRctx(), "a1", testBundle())

	_, err := m.Get(context.Background(), "other-tenant", sess.ID)
	var env *model.ErrorEnvelope
	if !errors.As(err, &env) || env.Code != model.ErrNotFound {
		t.Fatalf("cross-tenant get error = %v", err)
	}
}

func TestManager_MutatePersists(t *testing.T) {
	m := NewManager(NewMemoryStore(), 0)
	sess, _ := m.Create(context.Background(), testRctx(), "a1", testBundle())

	updated, err := m.Mutate(context.Background(), "acme", sess.ID, func(s *Session) error {
		s.Bundle.Forms.Forms[0].Name = "Support ticket"
		s.Dirty = true
		s.SetStatus("Renamed form.")
		return nil
	})
	if err != nil {
		t.Fatalf("Mutate error: %v", err)
	}
	if !updated.Dirty || updated.Status != "Renamed form." {
		t.Errorf("session = %+v", updated)
	}

	got, _ := m.Get(context.Background(), "acme", sess.ID)
	if got.Bundle.Forms.Forms[0].Name != "Support ticket" {
		t.Error("mutation not persisted")
	}
	if got.Version != sess.Version+1 {
		t.Errorf("version = %d, want %d", got.Version, sess.Version+1)
	}
}

func TestManager_MutateErrorLeavesStoreUntouched(t *testing.T) {
	m := NewManager(NewMemoryStore(), 0)
	sess, _ := m.Create(context.Background(), testRctx(), "a1", testBundle())

	ruleErr := model.NewValidationError([]model.FieldError{{Field: "mode", Code: "MODE_BLOCKED"}})
	_, err := m.Mutate(context.Background(), "acme", sess.ID, func(s *Session) error {
		s.Bundle.Forms.Forms[0].Mode = model.ModeOneShot
		return ruleErr
	})
	if !errors.Is(err, ruleErr) {
		t.Fatalf("err = %v", err)
	}

	got, _ := m.Get(context.Background(), "acme", sess.ID)
	if got.Bundle.Forms.Forms[0].Mode != model.ModeStepByStep {
		t.Error("rejected mutation was persisted")
	}
}

func TestManager_GetReturnsIsolatedSnapshot(t *testing.T) {
	m := NewManager(NewMemoryStore(), 0)
	sess, _ := m.Create(context.Background(), testRctx(), "a1", testBundle())

	snap, err := m.Get(context.Background(), "acme", sess.ID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	form := snap.Bundle.Forms.FormByID("f1")
	if form == nil {
		t.Fatal("form f1 missing from snapshot")
	}
	form.Mode = model.ModeOneShot
	form.FieldOrder = append(form.FieldOrder, "stray")

	got, _ := m.Get(context.Background(), "acme", sess.ID)
	stored := got.Bundle.Forms.FormByID("f1")
	if stored.Mode != model.ModeStepByStep {
		t.Errorf("stored mode = %q, edits on a snapshot must not reach the store", stored.Mode)
	}
	if len(stored.FieldOrder) != 0 {
		t.Errorf("stored field_order = %v, want empty", stored.FieldOrder)
	}
}

func TestManager_GetSnapshotSafeDuringMutate(t *testing.T) {
	m := NewManager(NewMemoryStore(), 0)
	sess, _ := m.Create(context.Background(), testRctx(), "a1", testBundle())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			snap, err := m.Get(context.Background(), "acme", sess.ID)
			if err != nil {
				t.Errorf("Get error: %v", err)
				return
			}
			for _, f := range snap.Bundle.Forms.Forms {
				_ = len(f.Name)
				_ = len(f.FieldOrder)
			}
		}
	}()

	for i := 0; i < 50; i++ {
		_, err := m.Mutate(context.Background(), "acme", sess.ID, func(s *Session) error {
			form := s.Bundle.Forms.FormByID("f1")
			form.Name = form.Name + "x"
			return nil
		})
		if err != nil {
			t.Fatalf("Mutate error: %v", err)
		}
	}
	<-done
}

func TestManager_MutateSerializes(t *testing.T) {
	m := NewManager(NewMemoryStore(), 0)
	sess, _ := m.Create(context.Background(), testRctx(), "a1", testBundle())

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Mutate(context.Background(), "acme", sess.ID, func(s *Session) error {
				s.Bundle.Forms.Forms[0].Version++
				return nil
			})
			if err != nil {
				t.Errorf("Mutate error: %v", err)
			}
		}()
	}
	wg.Wait()

	got, _ := m.Get(context.Background(), "acme", sess.ID)
	if got.Bundle.Forms.Forms[0].Version != n {
		t.Errorf("counter = %d, want %d", got.Bundle.Forms.Forms[0].Version, n)
	}
}

func TestMemoryStore_UpdateVersionConflict(t *testing.T) {
	store := NewMemoryStore()
	sess := Session{ID: "s1", TenantID: "acme", CreatedAt: time.Now()}
	if err := store.Create(context.Background(), sess); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	if err := store.Update(context.Background(), sess); err != nil {
		t.Fatalf("first update: %v", err)
	}
	err := store.Update(context.Background(), sess) // stale version
	var env *model.ErrorEnvelope
	if !errors.As(err, &env) || env.Code != model.ErrConflict {
		t.Fatalf("stale update error = %v", err)
	}
}

func TestManager_Sweep(t *testing.T) {
	m := NewManager(NewMemoryStore(), 10*time.Millisecond)
	sess, err := m.Create(context.Background(), testRctx(), "a1", testBundle())
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if sess.ExpiresAt == nil {
		t.Fatal("ttl did not set expiry")
	}

	time.Sleep(15 * time.Millisecond)
	removed, err := m.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep error: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := m.Get(context.Background(), "acme", sess.ID); err == nil {
		t.Error("expired session still retrievable")
	}
}
