package model

import "time"

// VersionInfo describes one published, immutable configuration snapshot.
type VersionInfo struct {
	Version     int       `json:"version"`
	PublishedAt time.Time `json:"published_at"`
	PublishedBy string    `json:"published_by,omitempty"`
	Notes       string    `json:"notes,omitempty"`
}

// VersionDetail is a published snapshot with its frozen bundle.
type VersionDetail struct {
	VersionInfo
	Bundle ConfigBundle `json:"bundle"`
}

// AgentSummary is one row in the agent dashboard listing.
type AgentSummary struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Version     int        `json:"version"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// UsageStats is the aggregate usage summary shown on the dashboard.
type UsageStats struct {
	Threads     int `json:"threads"`
	Messages    int `json:"messages"`
	Submissions int `json:"submissions"`
	ToolCalls   int `json:"tool_calls"`
}

// ThreadSummary is one conversation thread as listed by the runtime.
type ThreadSummary struct {
	ID           string     `json:"id"`
	AgentID      string     `json:"agent_id,omitempty"`
	MessageCount int        `json:"message_count"`
	CreatedAt    *time.Time `json:"created_at,omitempty"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
}

// ThreadMessage is one message within a thread.
type ThreadMessage struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// TraceRecord is one runtime trace event. Data is an arbitrary JSON payload
// whose shape depends on the trace type; it is surfaced as a tagged Value so
// inspection code cannot silently swallow shape mismatches.
type TraceRecord struct {
	ID        string     `json:"id"`
	ThreadID  string     `json:"thread_id,omitempty"`
	Type      string     `json:"type"`
	Data      Value      `json:"data,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// SubmissionRecord is one completed form submission.
type SubmissionRecord struct {
	ID          string     `json:"id"`
	FormID      string     `json:"form_id"`
	ThreadID    string     `json:"thread_id,omitempty"`
	Values      Value      `json:"values"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
}

// KnowledgeBase describes one retrieval data source.
type KnowledgeBase struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Description   string     `json:"description,omitempty"`
	DocumentCount int        `json:"document_count"`
	CreatedAt     *time.Time `json:"created_at,omitempty"`
}

// KnowledgeFile is one ingested file within a knowledge base.
type KnowledgeFile struct {
	Filename   string     `json:"filename"`
	ChunkCount int        `json:"chunk_count"`
	UploadedAt *time.Time `json:"uploaded_at,omitempty"`
}

// KnowledgeHit is one vector-search result.
type KnowledgeHit struct {
	KnowledgeBaseID string  `json:"knowledge_base_id,omitempty"`
	Filename        string  `json:"filename,omitempty"`
	Content         string  `json:"content"`
	Score           float64 `json:"score"`
}
