package transport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pendulo/formstudio/internal/session"
	"github.com/pendulo/formstudio/model"
)

func (d Dependencies) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	rctx := model.RequestContextFrom(r.Context())
	if rctx == nil {
		WriteError(w, model.NewUnauthorizedError("missing request context"))
		return
	}

	var body struct {
		AgentID string `json:"agent_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, model.NewBadRequestError("invalid JSON body"))
		return
	}
	if body.AgentID == "" {
		WriteError(w, model.NewBadRequestError("agent_id is required"))
		return
	}

	bundle, err := d.Builder.LoadBundle(r.Context(), body.AgentID)
	if err != nil {
		WriteError(w, err)
		return
	}

	sess, err := d.Sessions.Create(r.Context(), rctx, body.AgentID, *bundle)
	if err != nil {
		WriteError(w, err)
		return
	}

	if d.Metrics != nil {
		d.Metrics.SessionsActive.Inc()
	}
	WriteJSON(w, http.StatusCreated, sess)
}

func (d Dependencies) handleListSessions(w http.ResponseWriter, r *http.Request) {
	rctx := model.MustRequestContext(r.Context())
	sessions, err := d.Sessions.List(r.Context(), rctx.TenantID)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (d Dependencies) handleGetSession(w http.ResponseWriter, r *http.Request) {
	rctx := model.MustRequestContext(r.Context())
	sess, err := d.Sessions.Get(r.Context(), rctx.TenantID, chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, sess)
}

func (d Dependencies) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	rctx := model.MustRequestContext(r.Context())
	if err := d.Sessions.Delete(r.Context(), rctx.TenantID, chi.URLParam(r, "id")); err != nil {
		WriteError(w, err)
		return
	}
	if d.Metrics != nil {
		d.Metrics.SessionsActive.Dec()
	}
	WriteJSON(w, http.StatusNoContent, nil)
}

func (d Dependencies) handleSave(w http.ResponseWriter, r *http.Request) {
	rctx := model.MustRequestContext(r.Context())

	var saveErr error
	sess, err := d.Sessions.Mutate(r.Context(), rctx.TenantID, chi.URLParam(r, "id"), func(s *session.Session) error {
		saveErr = d.Store.Save(r.Context(), s)
		// Persist the session even when the save failed so the status
		// message and any partially cleared state are not lost.
		return nil
	})
	if err != nil {
		WriteError(w, err)
		return
	}

	if d.Metrics != nil {
		d.Metrics.RecordSaveOutcome(saveOutcome(saveErr))
	}
	if saveErr != nil {
		WriteError(w, saveErr)
		return
	}
	WriteJSON(w, http.StatusOK, sess)
}

func saveOutcome(err error) string {
	if err == nil {
		return "saved"
	}
	if ee, ok := err.(*model.ErrorEnvelope); ok {
		switch ee.Code {
		case model.ErrValidationError:
			return "blocked"
		case model.ErrPartialSave:
			return "partial"
		}
	}
	return "failed"
}

func (d Dependencies) handlePublish(w http.ResponseWriter, r *http.Request) {
	rctx := model.MustRequestContext(r.Context())

	var version int
	var pubErr error
	sess, err := d.Sessions.Mutate(r.Context(), rctx.TenantID, chi.URLParam(r, "id"), func(s *session.Session) error {
		version, pubErr = d.Store.Publish(r.Context(), s)
		return nil
	})
	if err != nil {
		WriteError(w, err)
		return
	}
	if pubErr != nil {
		WriteError(w, pubErr)
		return
	}

	if d.Metrics != nil {
		d.Metrics.RecordPublish()
	}
	WriteJSON(w, http.StatusOK, map[string]any{"version": version, "session": sess})
}

func (d Dependencies) handleReload(w http.ResponseWriter, r *http.Request) {
	rctx := model.MustRequestContext(r.Context())

	var loadErr error
	sess, err := d.Sessions.Mutate(r.Context(), rctx.TenantID, chi.URLParam(r, "id"), func(s *session.Session) error {
		loadErr = d.Store.Load(r.Context(), s)
		return nil
	})
	if err != nil {
		WriteError(w, err)
		return
	}
	if loadErr != nil {
		WriteError(w, loadErr)
		return
	}
	WriteJSON(w, http.StatusOK, sess)
}

func (d Dependencies) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	rctx := model.MustRequestContext(r.Context())
	sess, err := d.Sessions.Get(r.Context(), rctx.TenantID, chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, err)
		return
	}

	diags := d.Validator.Validate(&sess.Bundle)
	WriteJSON(w, http.StatusOK, map[string]any{"diagnostics": diags})
}

// mutateSession runs fn on the session draft, marks it dirty on success, and
// writes the updated session. Shared by all bundle-editing handlers.
func (d Dependencies) mutateSession(w http.ResponseWriter, r *http.Request, operation string, fn func(s *session.Session) error) {
	rctx := model.MustRequestContext(r.Context())

	var editErr error
	sess, err := d.Sessions.Mutate(r.Context(), rctx.TenantID, chi.URLParam(r, "id"), func(s *session.Session) error {
		if editErr = fn(s); editErr != nil {
			return editErr
		}
		s.Dirty = true
		return nil
	})
	if editErr != nil {
		if d.Metrics != nil {
			d.Metrics.RecordRuleRejection(operation)
		}
		WriteError(w, editErr)
		return
	}
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, sess)
}

// formFrom resolves a form inside the session draft or returns NOT_FOUND.
func formFrom(s *session.Session, formID string) (*model.Form, error) {
	form := s.Bundle.Forms.FormByID(formID)
	if form == nil {
		return nil, model.NewNotFoundError("form " + formID + " not found")
	}
	return form, nil
}
