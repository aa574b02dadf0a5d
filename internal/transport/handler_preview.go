package transport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pendulo/formstudio/model"
)

func (d Dependencies) handleCreatePreview(w http.ResponseWriter, r *http.Request) {
	rctx := model.MustRequestContext(r.Context())

	var body struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, model.NewBadRequestError("invalid JSON body"))
		return
	}
	if body.SessionID == "" {
		WriteError(w, model.NewBadRequestError("session_id is required"))
		return
	}

	sess, err := d.Sessions.Get(r.Context(), rctx.TenantID, body.SessionID)
	if err != nil {
		WriteError(w, err)
		return
	}

	view, err := d.Previews.Create(r.Context(), rctx, sess.ID, sess.AgentID)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, view)
}

func (d Dependencies) handleGetPreview(w http.ResponseWriter, r *http.Request) {
	rctx := model.MustRequestContext(r.Context())
	view, err := d.Previews.Get(rctx.TenantID, chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, view)
}

func (d Dependencies) handlePreviewChat(w http.ResponseWriter, r *http.Request) {
	rctx := model.MustRequestContext(r.Context())

	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, model.NewBadRequestError("invalid JSON body"))
		return
	}

	view, err := d.Previews.Chat(r.Context(), rctx.TenantID, chi.URLParam(r, "id"), body.Message)
	if err != nil {
		WriteError(w, err)
		return
	}
	if d.Metrics != nil {
		d.Metrics.RecordPreviewTurn()
	}
	WriteJSON(w, http.StatusOK, view)
}

func (d Dependencies) handlePreviewSelect(w http.ResponseWriter, r *http.Request) {
	rctx := model.MustRequestContext(r.Context())

	var body struct {
		Option string `json:"option"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, model.NewBadRequestError("invalid JSON body"))
		return
	}

	view, err := d.Previews.Select(r.Context(), rctx.TenantID, chi.URLParam(r, "id"), body.Option)
	if err != nil {
		WriteError(w, err)
		return
	}
	if d.Metrics != nil {
		d.Metrics.RecordPreviewTurn()
	}
	WriteJSON(w, http.StatusOK, view)
}

func (d Dependencies) handlePreviewReset(w http.ResponseWriter, r *http.Request) {
	rctx := model.MustRequestContext(r.Context())
	view, err := d.Previews.Reset(rctx.TenantID, chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, view)
}
