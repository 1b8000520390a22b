package search

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/recallstack/memoryd/internal/ai"
	"github.com/recallstack/memoryd/internal/memstore"
	"github.com/recallstack/memoryd/internal/metrics"
	"github.com/recallstack/memoryd/internal/vectordb"
)

const defaultLimit = 10

// Gateway is the slice of the AI service the engine needs.
type Gateway interface {
	GenerateEmbedding(ctx context.Context, text string, opts ai.Options) ([]float32, error)
	RewriteQuestion(ctx context.Context, question string, rctx *ai.RewriteContext, opts ai.Options) (string, error)
}

// VectorIndex is the slice of the vector client the engine needs.
type VectorIndex interface {
	Query(ctx context.Context, vector []float32, limit int, threshold float64) ([]vectordb.ScoredPoint, error)
}

// Hydrator is the slice of the relational store the engine needs.
type Hydrator interface {
	GetByIDs(ctx context.Context, ids []string) ([]memstore.Memory, error)
}

// Result is one hydrated search hit.
type Result struct {
	ID        string   `json:"id"`
	Text      string   `json:"text"`
	Tags      []string `json:"tags"`
	Score     float64  `json:"score"`
	CreatedAt int64    `json:"created_at"`
	SourceApp string   `json:"source_app,omitempty"`
	SessionID string   `json:"session_id,omitempty"`
	Status    string   `json:"status"`
}

// Match is one raw vector hit in a rewritten search.
type Match struct {
	ID       string                 `json:"id"`
	Score    float64                `json:"score"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// VectorResults wraps matches for one rewritten query.
type VectorResults struct {
	Matches []Match `json:"matches"`
}

// QueryResult is the outcome of one query in a rewritten search. The caller
// merges and de-duplicates across queries.
type QueryResult struct {
	OriginalQuery  string        `json:"originalQuery"`
	RewrittenQuery string        `json:"rewrittenQuery"`
	VectorResults  VectorResults `json:"vectorResults"`
}

// Engine answers semantic search requests.
type Engine struct {
	gateway Gateway
	index   VectorIndex
	store   Hydrator
	logger  *zap.Logger
}

// NewEngine wires the engine.
func NewEngine(gateway Gateway, index VectorIndex, store Hydrator, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{gateway: gateway, index: index, store: store, logger: logger}
}

// BasicSearch embeds the query, finds nearest vectors, hydrates rows, and
// returns score-ordered results. Vector hits without a row are dropped.
func (e *Engine) BasicSearch(ctx context.Context, query string, limit int) ([]Result, error) {
	start := time.Now()
	if limit <= 0 {
		limit = defaultLimit
	}

	vec, err := e.gateway.GenerateEmbedding(ctx, query, ai.Options{Provider: ai.ProviderEdge})
	if err != nil {
		metrics.RecordSearch("basic", "error", time.Since(start).Seconds(), 0)
		return nil, fmt.Errorf("embed query: %w", err)
	}

	points, err := e.index.Query(ctx, vec, limit, 0)
	if err != nil {
		metrics.RecordSearch("basic", "error", time.Since(start).Seconds(), 0)
		return nil, fmt.Errorf("vector query: %w", err)
	}
	if len(points) == 0 {
		metrics.RecordSearch("basic", "ok", time.Since(start).Seconds(), 0)
		return []Result{}, nil
	}

	ids := make([]string, 0, len(points))
	scores := make(map[string]float64, len(points))
	for _, p := range points {
		ids = append(ids, p.ID)
		scores[p.ID] = p.Score
	}

	rows, err := e.store.GetByIDs(ctx, ids)
	if err != nil {
		metrics.RecordSearch("basic", "error", time.Since(start).Seconds(), 0)
		return nil, fmt.Errorf("hydrate: %w", err)
	}

	results := make([]Result, 0, len(rows))
	for i := range rows {
		r := &rows[i]
		results = append(results, Result{
			ID:        r.ID,
			Text:      r.Text,
			Tags:      r.TagList(),
			Score:     scores[r.ID],
			CreatedAt: r.CreatedAt,
			SourceApp: r.SourceApp,
			SessionID: r.SessionID,
			Status:    r.Status,
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].CreatedAt > results[j].CreatedAt
	})

	metrics.RecordSearch("basic", "ok", time.Since(start).Seconds(), len(results))
	return results, nil
}

// RewrittenSearch rewrites each query via the AI gateway, embeds the rewrite,
// and queries the index, all queries in parallel. A failing rewrite falls back
// to the original text; a fully failing query yields empty matches instead of
// failing the request. Output order matches input order.
func (e *Engine) RewrittenSearch(ctx context.Context, queries []string, rctx *ai.RewriteContext, topK int, opts ai.Options) []QueryResult {
	start := time.Now()
	if len(queries) == 0 {
		return []QueryResult{}
	}
	if topK <= 0 {
		topK = defaultLimit
	}

	results := make([]QueryResult, len(queries))
	var wg sync.WaitGroup
	for i, q := range queries {
		wg.Add(1)
		go func(i int, q string) {
			defer wg.Done()
			results[i] = e.searchOne(ctx, q, rctx, topK, opts)
		}(i, q)
	}
	wg.Wait()

	total := 0
	for _, r := range results {
		total += len(r.VectorResults.Matches)
	}
	metrics.RecordSearch("rewritten", "ok", time.Since(start).Seconds(), total)
	return results
}

func (e *Engine) searchOne(ctx context.Context, original string, rctx *ai.RewriteContext, topK int, opts ai.Options) QueryResult {
	rewritten, err := e.gateway.RewriteQuestion(ctx, original, rctx, opts)
	if err != nil {
		e.logger.Warn("query rewrite failed, using original",
			zap.String("query", original), zap.Error(err))
		rewritten = original
	}

	matches, err := e.queryMatches(ctx, rewritten, topK)
	if err != nil && rewritten != original {
		// fall back to the original text before giving up
		e.logger.Warn("rewritten query failed, retrying with original",
			zap.String("query", original), zap.Error(err))
		rewritten = original
		matches, err = e.queryMatches(ctx, original, topK)
	}
	if err != nil {
		e.logger.Warn("query failed, returning empty matches",
			zap.String("query", original), zap.Error(err))
		return QueryResult{OriginalQuery: original, RewrittenQuery: original, VectorResults: VectorResults{Matches: []Match{}}}
	}
	return QueryResult{OriginalQuery: original, RewrittenQuery: rewritten, VectorResults: VectorResults{Matches: matches}}
}

func (e *Engine) queryMatches(ctx context.Context, text string, topK int) ([]Match, error) {
	vec, err := e.gateway.GenerateEmbedding(ctx, text, ai.Options{Provider: ai.ProviderEdge})
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	points, err := e.index.Query(ctx, vec, topK, 0)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}
	matches := make([]Match, 0, len(points))
	for _, p := range points {
		matches = append(matches, Match{ID: p.ID, Score: p.Score, Metadata: p.Payload})
	}
	return matches, nil
}
