package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"

	"github.com/pendulo/formstudio/model"
)

// BuilderClient wraps the builder API: config documents, publishing,
// version history, inspection views, and knowledge bases.
type BuilderClient struct {
	c *Client
}

// NewBuilderClient creates a builder client over a configured Client.
func NewBuilderClient(c *Client) *BuilderClient {
	return &BuilderClient{c: c}
}

// Client returns the underlying transport client.
func (b *BuilderClient) Client() *Client {
	return b.c
}

func agentQuery(agentID string) url.Values {
	q := url.Values{}
	if agentID != "" {
		q.Set("agent_id", agentID)
	}
	return q
}

// GetDocument fetches one named config document for an agent. The raw JSON
// is returned so the caller decides which bundle member to decode into.
func (b *BuilderClient) GetDocument(ctx context.Context, agentID, name string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := b.c.Get(ctx, "/config/"+url.PathEscape(name), agentQuery(agentID), &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// PutDocument writes one named config document for an agent.
func (b *BuilderClient) PutDocument(ctx context.Context, agentID, name string, doc any) error {
	path := "/config/" + url.PathEscape(name)
	if agentID != "" {
		path += "?" + agentQuery(agentID).Encode()
	}
	return b.c.Put(ctx, path, doc, nil)
}

// Publish asks the builder to freeze the current draft into a new immutable
// version.
func (b *BuilderClient) Publish(ctx context.Context, agentID string) (int, error) {
	var resp struct {
		Version int `json:"version"`
	}
	path := "/publish"
	if agentID != "" {
		path += "?" + agentQuery(agentID).Encode()
	}
	if err := b.c.Post(ctx, path, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Version, nil
}

// Versions lists the published version history.
func (b *BuilderClient) Versions(ctx context.Context, agentID string) ([]model.VersionInfo, error) {
	var out []model.VersionInfo
	if err := b.c.Get(ctx, "/versions", agentQuery(agentID), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Version fetches one published snapshot with its frozen bundle.
func (b *BuilderClient) Version(ctx context.Context, agentID string, n int) (*model.VersionDetail, error) {
	var out model.VersionDetail
	if err := b.c.Get(ctx, "/versions/"+strconv.Itoa(n), agentQuery(agentID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Agents lists the agents visible to the caller.
func (b *BuilderClient) Agents(ctx context.Context) ([]model.AgentSummary, error) {
	var out []model.AgentSummary
	if err := b.c.Get(ctx, "/agents", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UsageStats fetches the aggregate dashboard numbers.
func (b *BuilderClient) UsageStats(ctx context.Context, agentID string) (*model.UsageStats, error) {
	var out model.UsageStats
	if err := b.c.Get(ctx, "/stats/usage", agentQuery(agentID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Threads lists conversation threads.
func (b *BuilderClient) Threads(ctx context.Context, agentID string) ([]model.ThreadSummary, error) {
	var out []model.ThreadSummary
	if err := b.c.Get(ctx, "/threads", agentQuery(agentID), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ThreadMessages lists the messages of one thread.
func (b *BuilderClient) ThreadMessages(ctx context.Context, threadID string) ([]model.ThreadMessage, error) {
	var out []model.ThreadMessage
	if err := b.c.Get(ctx, "/threads/"+url.PathEscape(threadID)+"/messages", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Traces lists runtime trace events, optionally filtered to one thread.
func (b *BuilderClient) Traces(ctx context.Context, agentID, threadID string) ([]model.TraceRecord, error) {
	q := agentQuery(agentID)
	if threadID != "" {
		q.Set("thread_id", threadID)
	}
	var out []model.TraceRecord
	if err := b.c.Get(ctx, "/traces", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Submissions lists completed form submissions, optionally filtered by form.
func (b *BuilderClient) Submissions(ctx context.Context, agentID, formID string) ([]model.SubmissionRecord, error) {
	q := agentQuery(agentID)
	if formID != "" {
		q.Set("form_id", formID)
	}
	var out []model.SubmissionRecord
	if err := b.c.Get(ctx, "/submissions", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// --- knowledge bases ---

// KnowledgeBases lists the configured retrieval sources.
func (b *BuilderClient) KnowledgeBases(ctx context.Context) ([]model.KnowledgeBase, error) {
	var out []model.KnowledgeBase
	if err := b.c.Get(ctx, "/knowledge-bases", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateKnowledgeBase creates a new knowledge base.
func (b *BuilderClient) CreateKnowledgeBase(ctx context.Context, name, description string) (*model.KnowledgeBase, error) {
	req := map[string]string{"name": name, "description": description}
	var out model.KnowledgeBase
	if err := b.c.Post(ctx, "/knowledge-bases", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteKnowledgeBase removes a knowledge base and its documents.
func (b *BuilderClient) DeleteKnowledgeBase(ctx context.Context, kbID string) error {
	return b.c.Delete(ctx, "/knowledge-bases/"+url.PathEscape(kbID), nil, nil)
}

// KnowledgeFiles lists the ingested files of one knowledge base.
func (b *BuilderClient) KnowledgeFiles(ctx context.Context, kbID string) ([]model.KnowledgeFile, error) {
	var out []model.KnowledgeFile
	if err := b.c.Get(ctx, "/knowledge-bases/"+url.PathEscape(kbID)+"/files", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteKnowledgeFile removes one ingested file by filename.
func (b *BuilderClient) DeleteKnowledgeFile(ctx context.Context, kbID, filename string) error {
	q := url.Values{}
	q.Set("filename", filename)
	return b.c.Delete(ctx, "/knowledge-bases/"+url.PathEscape(kbID)+"/files", q, nil)
}

// AddDocuments ingests raw text documents into a knowledge base.
func (b *BuilderClient) AddDocuments(ctx context.Context, kbID string, documents []string) (int, error) {
	req := map[string]any{"documents": documents}
	var resp struct {
		Chunks int `json:"chunks"`
	}
	if err := b.c.Post(ctx, "/knowledge-bases/"+url.PathEscape(kbID)+"/documents", req, &resp); err != nil {
		return 0, err
	}
	return resp.Chunks, nil
}

// UploadDocument streams one file into a knowledge base.
func (b *BuilderClient) UploadDocument(ctx context.Context, kbID, filename string, file io.Reader) (*model.KnowledgeFile, error) {
	var out model.KnowledgeFile
	path := "/knowledge-bases/" + url.PathEscape(kbID) + "/upload"
	if err := b.c.Upload(ctx, path, "file", filename, file, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SearchKnowledgeBase runs a vector search inside one knowledge base.
func (b *BuilderClient) SearchKnowledgeBase(ctx context.Context, kbID, query string, topK int) ([]model.KnowledgeHit, error) {
	if topK < 1 {
		topK = 5
	}
	req := map[string]any{"query": query, "top_k": topK}
	var out []model.KnowledgeHit
	if err := b.c.Post(ctx, "/knowledge-bases/"+url.PathEscape(kbID)+"/search", req, &out); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].KnowledgeBaseID == "" {
			out[i].KnowledgeBaseID = kbID
		}
	}
	return out, nil
}

// LoadBundle fetches all six config documents into a bundle. Any failure
// aborts the load so the caller never sees a half-filled bundle.
func (b *BuilderClient) LoadBundle(ctx context.Context, agentID string) (*model.ConfigBundle, error) {
	bundle := &model.ConfigBundle{}
	for _, name := range model.DocumentOrder {
		raw, err := b.GetDocument(ctx, agentID, name)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", name, err)
		}
		if err := decodeDocument(bundle, name, raw); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
	}
	return bundle, nil
}

func decodeDocument(bundle *model.ConfigBundle, name string, raw json.RawMessage) error {
	switch name {
	case model.DocProject:
		return json.Unmarshal(raw, &bundle.Project)
	case model.DocForms:
		return json.Unmarshal(raw, &bundle.Forms)
	case model.DocTools:
		return json.Unmarshal(raw, &bundle.Tools)
	case model.DocPersistence:
		return json.Unmarshal(raw, &bundle.Persistence)
	case model.DocLogging:
		return json.Unmarshal(raw, &bundle.Logging)
	case model.DocKnowledge:
		return json.Unmarshal(raw, &bundle.Knowledge)
	default:
		return fmt.Errorf("unknown document %q", name)
	}
}

// DocumentFor returns the bundle member matching a document name.
func DocumentFor(bundle *model.ConfigBundle, name string) (any, error) {
	switch name {
	case model.DocProject:
		return bundle.Project, nil
	case model.DocForms:
		return bundle.Forms, nil
	case model.DocTools:
		return bundle.Tools, nil
	case model.DocPersistence:
		return bundle.Persistence, nil
	case model.DocLogging:
		return bundle.Logging, nil
	case model.DocKnowledge:
		return bundle.Knowledge, nil
	default:
		return nil, fmt.Errorf("unknown document %q", name)
	}
}
