package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/recallstack/memoryd/internal/ai"
	"github.com/recallstack/memoryd/internal/memstore"
	"github.com/recallstack/memoryd/internal/metrics"
	"github.com/recallstack/memoryd/internal/queue"
	"github.com/recallstack/memoryd/internal/signals"
	"github.com/recallstack/memoryd/internal/vectordb"
)

const (
	maxAttempts = 3
	baseBackoff = 100 * time.Millisecond
	callTimeout = 30 * time.Second
)

// Embedder produces the vector for a memory text.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string, opts ai.Options) ([]float32, error)
}

// VectorStore is the slice of the vector client the worker needs.
type VectorStore interface {
	Upsert(ctx context.Context, points []vectordb.Point) error
}

// MemoryStore is the slice of the relational store the worker needs.
type MemoryStore interface {
	Insert(ctx context.Context, m *memstore.Memory) error
}

// Worker turns queue envelopes into persisted memories: embed, vector upsert,
// then relational insert, the whole sequence under bounded retry. The vector
// write goes first so a relational row never outlives a missing vector for
// longer than one retry cycle.
type Worker struct {
	embedder Embedder
	vectors  VectorStore
	store    MemoryStore
	logger   *zap.Logger
	sig      *signals.Logger
}

// NewWorker wires the worker. Pass signals.Get() for sig in production.
func NewWorker(embedder Embedder, vectors VectorStore, store MemoryStore, sig *signals.Logger, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sig == nil {
		sig = signals.Get()
	}
	return &Worker{embedder: embedder, vectors: vectors, store: store, logger: logger, sig: sig}
}

// Handle is the queue.Handler for ingestion envelopes.
func (w *Worker) Handle(ctx context.Context, env queue.Envelope) error {
	start := time.Now()
	id := uuid.New().String()

	w.sig.Process(fmt.Sprintf("Ingesting memory %s", id))

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := baseBackoff << attempt
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		lastErr = w.attempt(ctx, id, env)
		if lastErr == nil {
			metrics.IngestAttempts.WithLabelValues("success").Inc()
			metrics.MemoriesIngested.WithLabelValues(memstore.StatusRaw).Inc()
			metrics.IngestDuration.Observe(time.Since(start).Seconds())
			w.sig.Success(fmt.Sprintf("Memory %s stored", id))
			return nil
		}

		metrics.IngestAttempts.WithLabelValues("retry").Inc()
		w.logger.Warn("ingest attempt failed",
			zap.String("memory_id", id),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr))

		if !ai.IsTransient(lastErr) {
			break
		}
	}

	metrics.IngestAttempts.WithLabelValues("exhausted").Inc()
	w.sig.Error(fmt.Sprintf("Ingest failed for memory %s: %v", id, lastErr))
	return fmt.Errorf("ingest %s: %w", id, lastErr)
}

// attempt runs one embed → upsert → insert pass. The same id is reused across
// attempts so the vector upsert is idempotent and a duplicate relational
// insert counts as success.
func (w *Worker) attempt(ctx context.Context, id string, env queue.Envelope) error {
	cctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	vec, err := w.embedder.GenerateEmbedding(cctx, env.Text, ai.Options{Provider: ai.ProviderEdge})
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}

	primaryTag := "general"
	if len(env.ContextTags) > 0 {
		primaryTag = env.ContextTags[0]
	}
	point := vectordb.Point{
		ID:     id,
		Vector: vec,
		Payload: map[string]interface{}{
			"created_at":    env.Timestamp,
			"primary_tag":   primaryTag,
			"priority_rank": 0,
		},
	}
	if err := w.vectors.Upsert(cctx, []vectordb.Point{point}); err != nil {
		return fmt.Errorf("vector upsert: %w", err)
	}

	m := &memstore.Memory{
		ID:        id,
		Text:      env.Text,
		Tags:      memstore.SerializeTags(env.ContextTags),
		SourceApp: env.SourceApp,
		SessionID: env.SessionID,
		Status:    memstore.StatusRaw,
		CreatedAt: env.Timestamp,
		UpdatedAt: env.Timestamp,
	}
	if err := w.store.Insert(cctx, m); err != nil {
		return fmt.Errorf("store insert: %w", err)
	}
	return nil
}
