// Package knowledge fronts the builder's knowledge-base API and adds a
// cross-base aggregate search: every base is queried concurrently with a
// per-base timeout and the merged hits are returned score-sorted.
package knowledge

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pendulo/formstudio/internal/upstream"
	"github.com/pendulo/formstudio/model"
)

// Service proxies knowledge-base operations to the builder.
type Service struct {
	builder        *upstream.BuilderClient
	timeoutPerBase time.Duration
	maxHitsPerBase int
	log            *zap.Logger
}

// NewService creates a knowledge service.
func NewService(builder *upstream.BuilderClient, timeoutPerBase time.Duration, maxHitsPerBase int, log *zap.Logger) *Service {
	if timeoutPerBase <= 0 {
		timeoutPerBase = 3 * time.Second
	}
	if maxHitsPerBase <= 0 {
		maxHitsPerBase = 10
	}
	return &Service{
		builder:        builder,
		timeoutPerBase: timeoutPerBase,
		maxHitsPerBase: maxHitsPerBase,
		log:            log,
	}
}

// List returns all knowledge bases.
func (s *Service) List(ctx context.Context) ([]model.KnowledgeBase, error) {
	return s.builder.KnowledgeBases(ctx)
}

// Create adds a new knowledge base.
func (s *Service) Create(ctx context.Context, name, description string) (*model.KnowledgeBase, error) {
	if name == "" {
		return nil, model.NewBadRequestError("knowledge base name is required")
	}
	return s.builder.CreateKnowledgeBase(ctx, name, description)
}

// Delete removes a knowledge base.
func (s *Service) Delete(ctx context.Context, kbID string) error {
	return s.builder.DeleteKnowledgeBase(ctx, kbID)
}

// Files lists the ingested files of a base.
func (s *Service) Files(ctx context.Context, kbID string) ([]model.KnowledgeFile, error) {
	return s.builder.KnowledgeFiles(ctx, kbID)
}

// DeleteFile removes one ingested file by filename.
func (s *Service) DeleteFile(ctx context.Context, kbID, filename string) error {
	if filename == "" {
		return model.NewBadRequestError("filename is required")
	}
	return s.builder.DeleteKnowledgeFile(ctx, kbID, filename)
}

// AddDocuments ingests raw text documents and returns the chunk count.
func (s *Service) AddDocuments(ctx context.Context, kbID string, documents []string) (int, error) {
	if len(documents) == 0 {
		return 0, model.NewBadRequestError("at least one document is required")
	}
	return s.builder.AddDocuments(ctx, kbID, documents)
}

// Upload streams one file into a base.
func (s *Service) Upload(ctx context.Context, kbID, filename string, file io.Reader) (*model.KnowledgeFile, error) {
	if filename == "" {
		return nil, model.NewBadRequestError("filename is required")
	}
	return s.builder.UploadDocument(ctx, kbID, filename, file)
}

// Search queries one base.
func (s *Service) Search(ctx context.Context, kbID, query string, topK int) ([]model.KnowledgeHit, error) {
	if len(query) < 2 {
		return nil, model.NewBadRequestError("search query must be at least 2 characters")
	}
	return s.builder.SearchKnowledgeBase(ctx, kbID, query, topK)
}

// baseResult collects the outcome of one per-base search.
type baseResult struct {
	KBID   string
	Hits   []model.KnowledgeHit
	Status string // "ok", "timeout", "error"
}

// AggregateResponse is the merged result of a cross-base search.
type AggregateResponse struct {
	Hits  []model.KnowledgeHit `json:"hits"`
	Bases map[string]string    `json:"bases"`
}

// AggregateSearch fans the query out to every knowledge base concurrently.
// A slow or failing base degrades to a per-base status instead of failing
// the whole search.
func (s *Service) AggregateSearch(ctx context.Context, query string) (*AggregateResponse, error) {
	if len(query) < 2 {
		return nil, model.NewBadRequestError("search query must be at least 2 characters")
	}

	bases, err := s.builder.KnowledgeBases(ctx)
	if err != nil {
		return nil, err
	}
	if len(bases) == 0 {
		return &AggregateResponse{Bases: map[string]string{}}, nil
	}

	ch := make(chan baseResult, len(bases))
	var wg sync.WaitGroup
	for _, kb := range bases {
		wg.Add(1)
		go func(kbID string) {
			defer wg.Done()
			ch <- s.searchOne(ctx, kbID, query)
		}(kb.ID)
	}
	go func() {
		wg.Wait()
		close(ch)
	}()

	resp := &AggregateResponse{Bases: make(map[string]string, len(bases))}
	for r := range ch {
		resp.Bases[r.KBID] = r.Status
		resp.Hits = append(resp.Hits, r.Hits...)
	}

	sort.SliceStable(resp.Hits, func(i, j int) bool {
		return resp.Hits[i].Score > resp.Hits[j].Score
	})
	return resp, nil
}

func (s *Service) searchOne(ctx context.Context, kbID, query string) baseResult {
	ctx, cancel := context.WithTimeout(ctx, s.timeoutPerBase)
	defer cancel()

	hits, err := s.builder.SearchKnowledgeBase(ctx, kbID, query, s.maxHitsPerBase)
	if err != nil {
		status := "error"
		if ctx.Err() == context.DeadlineExceeded {
			status = "timeout"
		}
		s.log.Warn("knowledge base search failed",
			zap.String("kb_id", kbID),
			zap.String("status", status),
			zap.Error(err),
		)
		return baseResult{KBID: kbID, Status: status}
	}
	return baseResult{KBID: kbID, Hits: hits, Status: "ok"}
}
