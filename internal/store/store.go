// Package store implements the configuration store operations of an editing
// session: loading the six documents from the builder, the save-time
// submission URL gate, sequential non-transactional saves, and publishing.
package store

import (
	"context"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/pendulo/formstudio/internal/session"
	"github.com/pendulo/formstudio/internal/upstream"
	"github.com/pendulo/formstudio/model"
)

// ConfigStore moves session bundles to and from the builder API.
type ConfigStore struct {
	builder *upstream.BuilderClient
	log     *zap.Logger
}

// New creates a ConfigStore.
func New(builder *upstream.BuilderClient, log *zap.Logger) *ConfigStore {
	return &ConfigStore{builder: builder, log: log}
}

// Load replaces the session bundle with the builder's current documents.
// On any failure the bundle is left untouched and only the session status
// records the error. Loading twice against an unchanged builder yields the
// same bundle.
func (cs *ConfigStore) Load(ctx context.Context, sess *session.Session) error {
	bundle, err := cs.builder.LoadBundle(ctx, sess.AgentID)
	if err != nil {
		sess.SetStatus(fmt.Sprintf("Load failed: %v", err))
		return err
	}
	sess.Bundle = *bundle
	sess.Dirty = false
	sess.SetStatus("Loaded.")
	return nil
}

// CheckSubmissionURLs is the save gate: every form must carry a non-blank,
// absolute submission_url. The first offending form aborts the check.
func CheckSubmissionURLs(forms *model.FormsConfig) error {
	for i := range forms.Forms {
		f := &forms.Forms[i]
		if f.SubmissionURL == "" {
			return gateError(f)
		}
		u, err := url.Parse(f.SubmissionURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return gateError(f)
		}
	}
	return nil
}

func gateError(f *model.Form) error {
	name := f.Name
	if name == "" {
		name = f.ID
	}
	return model.NewValidationError([]model.FieldError{{
		Field:   name,
		Code:    "SUBMISSION_URL_REQUIRED",
		Message: fmt.Sprintf("Form %q needs a valid submission URL before saving.", name),
	}})
}

// Save writes all six documents in the fixed document order. The gate runs
// first, before any network call. Writes are sequential with no rollback: a
// mid-sequence failure stops the save and the error records which documents
// were already written.
func (cs *ConfigStore) Save(ctx context.Context, sess *session.Session) error {
	if err := CheckSubmissionURLs(&sess.Bundle.Forms); err != nil {
		sess.SetStatus("Save blocked: a form is missing its submission URL.")
		return err
	}

	var saved []string
	for _, name := range model.DocumentOrder {
		doc, err := upstream.DocumentFor(&sess.Bundle, name)
		if err != nil {
			return err
		}
		if err := cs.builder.PutDocument(ctx, sess.AgentID, name, doc); err != nil {
			cs.log.Warn("save stopped mid-sequence",
				zap.String("session_id", sess.ID),
				zap.String("failed_document", name),
				zap.Strings("saved_documents", saved),
				zap.Error(err),
			)
			if len(saved) == 0 {
				sess.SetStatus(fmt.Sprintf("Save failed: %v", err))
				return err
			}
			sess.SetStatus(fmt.Sprintf("Save incomplete: stopped at %s.", name))
			return model.NewPartialSaveError(name, saved)
		}
		saved = append(saved, name)
	}

	sess.Dirty = false
	sess.SetStatus("Saved.")
	return nil
}

// Publish freezes the builder's current draft into a new immutable version.
func (cs *ConfigStore) Publish(ctx context.Context, sess *session.Session) (int, error) {
	version, err := cs.builder.Publish(ctx, sess.AgentID)
	if err != nil {
		sess.SetStatus(fmt.Sprintf("Publish failed: %v", err))
		return 0, err
	}
	sess.SetStatus(fmt.Sprintf("Published version %d.", version))
	return version, nil
}
