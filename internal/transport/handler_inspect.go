package transport

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pendulo/formstudio/model"
)

// Read-only passthrough views over the builder's operational data. Every
// handler takes the agent from the ?agent_id query parameter.

func (d Dependencies) handleVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := d.Builder.Versions(r.Context(), r.URL.Query().Get("agent_id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"versions": versions})
}

func (d Dependencies) handleVersionDetail(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(chi.URLParam(r, "n"))
	if err != nil {
		WriteError(w, model.NewBadRequestError("version must be a number"))
		return
	}

	detail, err := d.Builder.Version(r.Context(), r.URL.Query().Get("agent_id"), n)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, detail)
}

func (d Dependencies) handleAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := d.Builder.Agents(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

func (d Dependencies) handleUsageStats(w http.ResponseWriter, r *http.Request) {
	stats, err := d.Builder.UsageStats(r.Context(), r.URL.Query().Get("agent_id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}

func (d Dependencies) handleThreads(w http.ResponseWriter, r *http.Request) {
	threads, err := d.Builder.Threads(r.Context(), r.URL.Query().Get("agent_id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"threads": threads})
}

func (d Dependencies) handleThreadMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := d.Builder.ThreadMessages(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (d Dependencies) handleTraces(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	traces, err := d.Builder.Traces(r.Context(), q.Get("agent_id"), q.Get("thread_id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"traces": traces})
}

func (d Dependencies) handleSubmissions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	subs, err := d.Builder.Submissions(r.Context(), q.Get("agent_id"), q.Get("form_id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"submissions": subs})
}
