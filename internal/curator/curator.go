package curator

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/recallstack/memoryd/internal/ai"
	"github.com/recallstack/memoryd/internal/memstore"
	"github.com/recallstack/memoryd/internal/metrics"
	"github.com/recallstack/memoryd/internal/signals"
	"github.com/recallstack/memoryd/internal/vectordb"
)

const consolidationSystem = "You are a memory curator. Merge these memories accurately."

// Gateway is the slice of the AI service the curator needs.
type Gateway interface {
	GenerateEmbedding(ctx context.Context, text string, opts ai.Options) ([]float32, error)
	GenerateText(ctx context.Context, prompt, system string, opts ai.Options) (string, error)
}

// VectorIndex is the slice of the vector client the curator needs.
type VectorIndex interface {
	QueryExcluding(ctx context.Context, vector []float32, limit int, threshold float64, excludeID string) ([]vectordb.ScoredPoint, error)
	Upsert(ctx context.Context, points []vectordb.Point) error
	DeleteByIDs(ctx context.Context, ids []string) error
}

// MemoryStore is the slice of the relational store the curator needs.
type MemoryStore interface {
	ListRawCandidates(ctx context.Context, limit int) ([]memstore.Memory, error)
	GetByIDs(ctx context.Context, ids []string) ([]memstore.Memory, error)
	MarkProcessed(ctx context.Context, id string, now int64) error
	UpdateConsolidated(ctx context.Context, id, text string, now int64) error
	DeleteByIDs(ctx context.Context, ids []string) error
}

// Config tunes one curator run.
type Config struct {
	SimilarityThreshold float64
	BatchSize           int
	MaxConsolidations   int
	SimilarTopK         int
	RunDeadline         time.Duration
}

func (c *Config) fillDefaults() {
	if c.SimilarityThreshold <= 0 {
		c.SimilarityThreshold = 0.92
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 20
	}
	if c.MaxConsolidations <= 0 {
		c.MaxConsolidations = 10
	}
	if c.SimilarTopK <= 0 {
		c.SimilarTopK = 3
	}
	if c.RunDeadline <= 0 {
		c.RunDeadline = time.Minute
	}
}

// Stats summarizes one run.
type Stats struct {
	Candidates        int
	Consolidated      int
	Processed         int
	DeletedDuplicates int
	Errors            int
}

// Curator consolidates near-duplicate memories. Each run is serial and
// self-healing: a partial consolidation converges on the next run.
type Curator struct {
	cfg       Config
	threshold atomic.Value // float64, hot-reloadable
	gateway   Gateway
	index     VectorIndex
	store     MemoryStore
	logger    *zap.Logger
	sig       *signals.Logger
}

// New wires the curator. Pass signals.Get() for sig in production.
func New(cfg Config, gateway Gateway, index VectorIndex, store MemoryStore, sig *signals.Logger, logger *zap.Logger) *Curator {
	cfg.fillDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if sig == nil {
		sig = signals.Get()
	}
	c := &Curator{cfg: cfg, gateway: gateway, index: index, store: store, logger: logger, sig: sig}
	c.threshold.Store(cfg.SimilarityThreshold)
	return c
}

// SetSimilarityThreshold updates the duplicate-detection threshold for
// subsequent runs. Used by config hot-reload.
func (c *Curator) SetSimilarityThreshold(t float64) {
	if t <= 0 || t > 1 {
		return
	}
	c.threshold.Store(t)
	c.logger.Info("similarity threshold updated", zap.Float64("threshold", t))
}

// RunOnce executes one consolidation pass. trigger is "scheduled" or "manual"
// and only labels metrics. Per-candidate failures are logged and skipped.
func (c *Curator) RunOnce(ctx context.Context, trigger string) (Stats, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RunDeadline)
	defer cancel()

	c.sig.Process("Curator run started")

	var stats Stats
	candidates, err := c.store.ListRawCandidates(ctx, c.cfg.BatchSize)
	if err != nil {
		metrics.CuratorRuns.WithLabelValues(trigger, "error").Inc()
		c.sig.Error(fmt.Sprintf("Curator failed to list candidates: %v", err))
		return stats, fmt.Errorf("list candidates: %w", err)
	}
	stats.Candidates = len(candidates)

	for i := range candidates {
		if ctx.Err() != nil {
			c.logger.Info("curator deadline reached, exiting cleanly",
				zap.Int("remaining", len(candidates)-i))
			break
		}
		if stats.Consolidated >= c.cfg.MaxConsolidations {
			break
		}

		outcome, err := c.curateOne(ctx, &candidates[i], &stats)
		if err != nil {
			stats.Errors++
			c.logger.Warn("candidate curation failed",
				zap.String("memory_id", candidates[i].ID), zap.Error(err))
			continue
		}
		if outcome == outcomeConsolidated {
			stats.Consolidated++
		} else {
			stats.Processed++
		}
	}

	metrics.CuratorRuns.WithLabelValues(trigger, "ok").Inc()
	metrics.CuratorRunDuration.Observe(time.Since(start).Seconds())
	c.sig.Success(fmt.Sprintf("Curator run finished: %d consolidated, %d processed, %d errors",
		stats.Consolidated, stats.Processed, stats.Errors))
	return stats, nil
}

type outcome int

const (
	outcomeProcessed outcome = iota
	outcomeConsolidated
)

func (c *Curator) curateOne(ctx context.Context, m *memstore.Memory, stats *Stats) (outcome, error) {
	vec, err := c.gateway.GenerateEmbedding(ctx, m.Text, ai.Options{Provider: ai.ProviderEdge})
	if err != nil {
		return 0, fmt.Errorf("embed candidate: %w", err)
	}

	similar, err := c.index.QueryExcluding(ctx, vec, c.cfg.SimilarTopK, 0, m.ID)
	if err != nil {
		return 0, fmt.Errorf("similar query: %w", err)
	}

	threshold := c.threshold.Load().(float64)
	var dupIDs []string
	for _, s := range similar {
		if s.Score > threshold {
			dupIDs = append(dupIDs, s.ID)
		}
	}

	now := time.Now().UnixMilli()
	if len(dupIDs) == 0 {
		if err := c.store.MarkProcessed(ctx, m.ID, now); err != nil {
			return 0, fmt.Errorf("mark processed: %w", err)
		}
		return outcomeProcessed, nil
	}

	dups, err := c.store.GetByIDs(ctx, dupIDs)
	if err != nil {
		return 0, fmt.Errorf("hydrate duplicates: %w", err)
	}
	if len(dups) == 0 {
		// vector-only orphans: remove the stale points and move on
		if err := c.index.DeleteByIDs(ctx, dupIDs); err != nil {
			return 0, fmt.Errorf("delete orphan vectors: %w", err)
		}
		if err := c.store.MarkProcessed(ctx, m.ID, now); err != nil {
			return 0, fmt.Errorf("mark processed: %w", err)
		}
		return outcomeProcessed, nil
	}

	parts := make([]string, 0, len(dups)+1)
	parts = append(parts, m.Text)
	hydratedIDs := make([]string, 0, len(dups))
	for _, d := range dups {
		parts = append(parts, d.Text)
		hydratedIDs = append(hydratedIDs, d.ID)
	}
	combined := strings.Join(parts, "\n---\n")

	consolidated, err := c.gateway.GenerateText(ctx, consolidationPrompt(combined), consolidationSystem, ai.Options{Provider: ai.ProviderEdge})
	if err != nil {
		return 0, fmt.Errorf("consolidate text: %w", err)
	}
	consolidated = strings.TrimSpace(consolidated)
	if consolidated == "" {
		return 0, fmt.Errorf("consolidation produced empty text")
	}

	if err := c.store.UpdateConsolidated(ctx, m.ID, consolidated, now); err != nil {
		return 0, fmt.Errorf("update anchor: %w", err)
	}

	newVec, err := c.gateway.GenerateEmbedding(ctx, consolidated, ai.Options{Provider: ai.ProviderEdge})
	if err != nil {
		return 0, fmt.Errorf("embed consolidated: %w", err)
	}
	point := vectordb.Point{
		ID:     m.ID,
		Vector: newVec,
		Payload: map[string]interface{}{
			"created_at":    m.CreatedAt,
			"primary_tag":   "consolidated",
			"priority_rank": 1,
		},
	}
	if err := c.index.Upsert(ctx, []vectordb.Point{point}); err != nil {
		return 0, fmt.Errorf("upsert anchor vector: %w", err)
	}

	if err := c.store.DeleteByIDs(ctx, hydratedIDs); err != nil {
		return 0, fmt.Errorf("delete duplicate rows: %w", err)
	}
	if err := c.index.DeleteByIDs(ctx, hydratedIDs); err != nil {
		return 0, fmt.Errorf("delete duplicate vectors: %w", err)
	}

	stats.DeletedDuplicates += len(hydratedIDs)
	metrics.CuratorConsolidations.Inc()
	metrics.CuratorDeletedDuplicates.Add(float64(len(hydratedIDs)))
	c.sig.Info(fmt.Sprintf("Consolidated %d memories into %s", len(hydratedIDs)+1, m.ID))
	return outcomeConsolidated, nil
}

func consolidationPrompt(combined string) string {
	return fmt.Sprintf("Merge the following memories into a single memory that preserves every distinct fact. Respond with the merged memory text only.\n\n%s", combined)
}
