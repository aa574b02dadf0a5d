package transport

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pendulo/formstudio/internal/rules"
	"github.com/pendulo/formstudio/internal/session"
	"github.com/pendulo/formstudio/model"
)

func (d Dependencies) handleAddForm(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, model.NewBadRequestError("invalid JSON body"))
		return
	}
	if body.ID == "" || body.Name == "" {
		WriteError(w, model.NewBadRequestError("form id and name are required"))
		return
	}

	d.mutateSession(w, r, "add_form", func(s *session.Session) error {
		if s.Bundle.Forms.FormByID(body.ID) != nil {
			return model.NewConflictError(fmt.Sprintf("form %q already exists", body.ID))
		}
		s.Bundle.Forms.Forms = append(s.Bundle.Forms.Forms, model.Form{
			ID:    body.ID,
			Name:  body.Name,
			Title: body.Title,
			Mode:  model.ModeStepByStep,
		})
		s.SetStatus(fmt.Sprintf("Added form %q.", body.Name))
		return nil
	})
}

// handleUpdateForm patches form metadata. Fields and mode have dedicated
// operations; absent members are left unchanged.
func (d Dependencies) handleUpdateForm(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name          *string `json:"name"`
		Title         *string `json:"title"`
		Description   *string `json:"description"`
		SubmissionURL *string `json:"submission_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, model.NewBadRequestError("invalid JSON body"))
		return
	}
	formID := chi.URLParam(r, "formID")

	d.mutateSession(w, r, "update_form", func(s *session.Session) error {
		form, err := formFrom(s, formID)
		if err != nil {
			return err
		}
		if body.Name != nil {
			if *body.Name == "" {
				return model.NewBadRequestError("form name must not be empty")
			}
			form.Name = *body.Name
		}
		if body.Title != nil {
			form.Title = *body.Title
		}
		if body.Description != nil {
			form.Description = *body.Description
		}
		if body.SubmissionURL != nil {
			form.SubmissionURL = *body.SubmissionURL
		}
		s.SetStatus(fmt.Sprintf("Updated form %q.", form.Name))
		return nil
	})
}

// handleUpdateField patches field properties other than name and type,
// which have their own operations.
func (d Dependencies) handleUpdateField(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Label           *string         `json:"label"`
		Required        *bool           `json:"required"`
		DropdownOptions *[]string       `json:"dropdown_options"`
		DropdownTool    *string         `json:"dropdown_tool"`
		ToolHook        *model.ToolHook `json:"tool_hook"`
		Pattern         *string         `json:"pattern"`
		ValidationHint  *string         `json:"llm_validation_prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, model.NewBadRequestError("invalid JSON body"))
		return
	}
	formID := chi.URLParam(r, "formID")
	name := chi.URLParam(r, "name")

	d.mutateSession(w, r, "update_field", func(s *session.Session) error {
		form, err := formFrom(s, formID)
		if err != nil {
			return err
		}
		field := form.FieldByName(name)
		if field == nil {
			return model.NewNotFoundError(fmt.Sprintf("field %q not found in form %q", name, formID))
		}
		if body.Label != nil {
			field.Label = *body.Label
		}
		if body.Required != nil {
			field.Required = *body.Required
		}
		if body.DropdownOptions != nil {
			field.DropdownOptions = *body.DropdownOptions
		}
		if body.DropdownTool != nil {
			field.DropdownTool = *body.DropdownTool
		}
		if body.ToolHook != nil {
			field.ToolHook = body.ToolHook
		}
		if body.Pattern != nil {
			field.Pattern = *body.Pattern
		}
		if body.ValidationHint != nil {
			field.ValidationHint = *body.ValidationHint
		}
		s.SetStatus(fmt.Sprintf("Updated field %q.", name))
		return nil
	})
}

// Deleting a form does not cascade into intents or tool hooks that reference
// it; the bundle validator reports those as dangling references instead.
func (d Dependencies) handleDeleteForm(w http.ResponseWriter, r *http.Request) {
	formID := chi.URLParam(r, "formID")

	d.mutateSession(w, r, "delete_form", func(s *session.Session) error {
		forms := s.Bundle.Forms.Forms
		for i := range forms {
			if forms[i].ID == formID {
				s.Bundle.Forms.Forms = append(forms[:i], forms[i+1:]...)
				s.SetStatus(fmt.Sprintf("Deleted form %q.", formID))
				return nil
			}
		}
		return model.NewNotFoundError("form " + formID + " not found")
	})
}

func (d Dependencies) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, model.NewBadRequestError("invalid JSON body"))
		return
	}
	formID := chi.URLParam(r, "formID")

	d.mutateSession(w, r, "set_mode", func(s *session.Session) error {
		form, err := formFrom(s, formID)
		if err != nil {
			return err
		}
		if err := rules.SetMode(form, body.Mode); err != nil {
			return err
		}
		s.SetStatus(fmt.Sprintf("Form %q set to %s.", form.Name, form.Mode))
		return nil
	})
}

func (d Dependencies) handleAddField(w http.ResponseWriter, r *http.Request) {
	formID := chi.URLParam(r, "formID")

	d.mutateSession(w, r, "add_field", func(s *session.Session) error {
		form, err := formFrom(s, formID)
		if err != nil {
			return err
		}
		field := rules.AddField(form)
		s.SetStatus(fmt.Sprintf("Added field %q.", field.Name))
		return nil
	})
}

func (d Dependencies) handleRenameField(w http.ResponseWriter, r *http.Request) {
	var body struct {
		NewName string `json:"new_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, model.NewBadRequestError("invalid JSON body"))
		return
	}
	formID := chi.URLParam(r, "formID")
	name := chi.URLParam(r, "name")

	d.mutateSession(w, r, "rename_field", func(s *session.Session) error {
		form, err := formFrom(s, formID)
		if err != nil {
			return err
		}
		if err := rules.RenameField(form, name, body.NewName); err != nil {
			return err
		}
		s.SetStatus(fmt.Sprintf("Renamed field %q to %q.", name, body.NewName))
		return nil
	})
}

func (d Dependencies) handleRetypeField(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Type string `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, model.NewBadRequestError("invalid JSON body"))
		return
	}
	formID := chi.URLParam(r, "formID")
	name := chi.URLParam(r, "name")

	d.mutateSession(w, r, "retype_field", func(s *session.Session) error {
		form, err := formFrom(s, formID)
		if err != nil {
			return err
		}
		if err := rules.RetypeField(form, name, body.Type); err != nil {
			return err
		}
		s.SetStatus(fmt.Sprintf("Field %q is now %s.", name, body.Type))
		return nil
	})
}

func (d Dependencies) handleMoveField(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Direction string `json:"direction"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, model.NewBadRequestError("invalid JSON body"))
		return
	}
	if body.Direction != "up" && body.Direction != "down" {
		WriteError(w, model.NewBadRequestError("direction must be \"up\" or \"down\""))
		return
	}
	formID := chi.URLParam(r, "formID")
	name := chi.URLParam(r, "name")

	d.mutateSession(w, r, "move_field", func(s *session.Session) error {
		form, err := formFrom(s, formID)
		if err != nil {
			return err
		}
		if form.FieldByName(name) == nil {
			return model.NewNotFoundError(fmt.Sprintf("field %q not found in form %q", name, formID))
		}
		rules.MoveField(form, name, body.Direction)
		return nil
	})
}

func (d Dependencies) handleDeleteField(w http.ResponseWriter, r *http.Request) {
	formID := chi.URLParam(r, "formID")
	name := chi.URLParam(r, "name")

	d.mutateSession(w, r, "delete_field", func(s *session.Session) error {
		form, err := formFrom(s, formID)
		if err != nil {
			return err
		}
		if form.FieldByName(name) == nil {
			return model.NewNotFoundError(fmt.Sprintf("field %q not found in form %q", name, formID))
		}
		rules.DeleteField(form, name)
		s.SetStatus(fmt.Sprintf("Deleted field %q.", name))
		return nil
	})
}

// --- document replacement ---

func (d Dependencies) handlePutIntents(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Intents []model.Intent `json:"intents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, model.NewBadRequestError("invalid JSON body"))
		return
	}

	d.mutateSession(w, r, "put_intents", func(s *session.Session) error {
		s.Bundle.Forms.Intents = body.Intents
		s.SetStatus("Updated intents.")
		return nil
	})
}

func (d Dependencies) handlePutTools(w http.ResponseWriter, r *http.Request) {
	var tools model.ToolsConfig
	if err := json.NewDecoder(r.Body).Decode(&tools); err != nil {
		WriteError(w, model.NewBadRequestError("invalid JSON body"))
		return
	}

	d.mutateSession(w, r, "put_tools", func(s *session.Session) error {
		s.Bundle.Tools = tools
		s.SetStatus("Updated tools.")
		return nil
	})
}

func (d Dependencies) handlePutKnowledge(w http.ResponseWriter, r *http.Request) {
	var kc model.KnowledgeConfig
	if err := json.NewDecoder(r.Body).Decode(&kc); err != nil {
		WriteError(w, model.NewBadRequestError("invalid JSON body"))
		return
	}

	d.mutateSession(w, r, "put_knowledge", func(s *session.Session) error {
		s.Bundle.Knowledge = kc
		s.SetStatus("Updated knowledge settings.")
		return nil
	})
}

func (d Dependencies) handlePutPersistence(w http.ResponseWriter, r *http.Request) {
	var pc model.PersistenceConfig
	if err := json.NewDecoder(r.Body).Decode(&pc); err != nil {
		WriteError(w, model.NewBadRequestError("invalid JSON body"))
		return
	}

	d.mutateSession(w, r, "put_persistence", func(s *session.Session) error {
		s.Bundle.Persistence = pc
		s.SetStatus("Updated persistence settings.")
		return nil
	})
}

func (d Dependencies) handlePutLogging(w http.ResponseWriter, r *http.Request) {
	var lc model.LoggingConfig
	if err := json.NewDecoder(r.Body).Decode(&lc); err != nil {
		WriteError(w, model.NewBadRequestError("invalid JSON body"))
		return
	}

	d.mutateSession(w, r, "put_logging", func(s *session.Session) error {
		s.Bundle.Logging = lc
		s.SetStatus("Updated logging settings.")
		return nil
	})
}

func (d Dependencies) handleFieldOptions(w http.ResponseWriter, r *http.Request) {
	rctx := model.MustRequestContext(r.Context())
	sess, err := d.Sessions.Get(r.Context(), rctx.TenantID, chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, err)
		return
	}

	opts, err := d.Options.Resolve(r.Context(), sess.AgentID, &sess.Bundle,
		chi.URLParam(r, "formID"), chi.URLParam(r, "name"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"options": opts})
}
