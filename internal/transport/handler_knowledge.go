package transport

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pendulo/formstudio/model"
)

func (d Dependencies) handleListKnowledgeBases(w http.ResponseWriter, r *http.Request) {
	bases, err := d.Knowledge.List(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"knowledge_bases": bases})
}

func (d Dependencies) handleCreateKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, model.NewBadRequestError("invalid JSON body"))
		return
	}

	kb, err := d.Knowledge.Create(r.Context(), body.Name, body.Description)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, kb)
}

func (d Dependencies) handleDeleteKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	if err := d.Knowledge.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusNoContent, nil)
}

func (d Dependencies) handleKnowledgeFiles(w http.ResponseWriter, r *http.Request) {
	files, err := d.Knowledge.Files(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"files": files})
}

func (d Dependencies) handleDeleteKnowledgeFile(w http.ResponseWriter, r *http.Request) {
	filename := r.URL.Query().Get("filename")
	if err := d.Knowledge.DeleteFile(r.Context(), chi.URLParam(r, "id"), filename); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusNoContent, nil)
}

func (d Dependencies) handleAddKnowledgeDocuments(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Documents []string `json:"documents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, model.NewBadRequestError("invalid JSON body"))
		return
	}

	chunks, err := d.Knowledge.AddDocuments(r.Context(), chi.URLParam(r, "id"), body.Documents)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"chunks": chunks})
}

func (d Dependencies) handleUploadKnowledgeFile(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, model.NewBadRequestError("multipart field \"file\" is required"))
		return
	}
	defer file.Close()

	kf, err := d.Knowledge.Upload(r.Context(), chi.URLParam(r, "id"), header.Filename, file)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, kf)
}

func (d Dependencies) handleSearchKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Query string `json:"query"`
		TopK  int    `json:"top_k"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, model.NewBadRequestError("invalid JSON body"))
		return
	}

	hits, err := d.Knowledge.Search(r.Context(), chi.URLParam(r, "id"), body.Query, body.TopK)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"hits": hits})
}

func (d Dependencies) handleAggregateSearch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	resp, err := d.Knowledge.AggregateSearch(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		WriteError(w, err)
		return
	}

	if d.Metrics != nil {
		responded := 0
		for _, status := range resp.Bases {
			if status == "ok" {
				responded++
			}
		}
		d.Metrics.RecordKnowledgeSearch(time.Since(start), responded)
	}
	WriteJSON(w, http.StatusOK, resp)
}
