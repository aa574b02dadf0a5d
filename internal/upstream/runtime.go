package upstream

import (
	"context"
	"net/url"

	"github.com/pendulo/formstudio/model"
)

// RuntimeClient wraps the conversational runtime API consumed by the chat
// preview.
type RuntimeClient struct {
	c *Client
}

// NewRuntimeClient creates a runtime client over a configured Client.
func NewRuntimeClient(c *Client) *RuntimeClient {
	return &RuntimeClient{c: c}
}

// Client returns the underlying transport client.
func (r *RuntimeClient) Client() *Client {
	return r.c
}

// Forms fetches the form catalog the runtime is currently serving. The
// preview projects dialogue state against this catalog, not the session
// draft, so unsaved edits never leak into a running conversation.
func (r *RuntimeClient) Forms(ctx context.Context, agentID string) (*model.FormsConfig, error) {
	q := url.Values{}
	if agentID != "" {
		q.Set("agent_id", agentID)
	}
	var out model.FormsConfig
	if err := r.c.Get(ctx, "/forms", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Chat sends one user message on a thread and returns the runtime's reply
// together with the updated dialogue state.
func (r *RuntimeClient) Chat(ctx context.Context, req model.ChatRequest) (*model.ChatResponse, error) {
	var out model.ChatResponse
	if err := r.c.Post(ctx, "/chat", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
