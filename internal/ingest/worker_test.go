package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/recallstack/memoryd/internal/ai"
	"github.com/recallstack/memoryd/internal/memstore"
	"github.com/recallstack/memoryd/internal/queue"
	"github.com/recallstack/memoryd/internal/signals"
	"github.com/recallstack/memoryd/internal/vectordb"
)

type stubEmbedder struct {
	vec   []float32
	errs  []error
	calls int
}

func (s *stubEmbedder) GenerateEmbedding(ctx context.Context, text string, opts ai.Options) ([]float32, error) {
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return s.vec, nil
}

type stubVectors struct {
	points []vectordb.Point
	errs   []error
	calls  int
}

func (s *stubVectors) Upsert(ctx context.Context, points []vectordb.Point) error {
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return err
		}
	}
	s.points = append(s.points, points...)
	return nil
}

type stubStore struct {
	rows  []*memstore.Memory
	errs  []error
	calls int
}

func (s *stubStore) Insert(ctx context.Context, m *memstore.Memory) error {
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return err
		}
	}
	s.rows = append(s.rows, m)
	return nil
}

func transientErr() error {
	return &ai.BackendError{Provider: ai.ProviderEdge, StatusCode: 503, Message: "down"}
}

func testEnvelope() queue.Envelope {
	return queue.Envelope{
		Text:        "Christian prefers TypeScript over JavaScript",
		ContextTags: []string{"preferences", "languages"},
		Timestamp:   time.Now().UnixMilli(),
		SourceApp:   "cli",
		SessionID:   "sess-1",
	}
}

func newTestWorker(e *stubEmbedder, v *stubVectors, st *stubStore) *Worker {
	return NewWorker(e, v, st, signals.NewLogger(10), zap.NewNop())
}

func TestHandleSuccess(t *testing.T) {
	e := &stubEmbedder{vec: []float32{0.1, 0.2}}
	v := &stubVectors{}
	st := &stubStore{}
	w := newTestWorker(e, v, st)

	env := testEnvelope()
	require.NoError(t, w.Handle(context.Background(), env))

	require.Len(t, st.rows, 1)
	row := st.rows[0]
	assert.NotEmpty(t, row.ID)
	assert.Equal(t, env.Text, row.Text)
	assert.Equal(t, memstore.StatusRaw, row.Status)
	assert.Equal(t, env.Timestamp, row.CreatedAt)
	assert.Equal(t, env.Timestamp, row.UpdatedAt)
	assert.Equal(t, `["preferences","languages"]`, row.Tags)

	require.Len(t, v.points, 1)
	pt := v.points[0]
	assert.Equal(t, row.ID, pt.ID, "vector and row share the id")
	assert.Equal(t, "preferences", pt.Payload["primary_tag"])
	assert.Equal(t, 0, pt.Payload["priority_rank"])
	assert.Equal(t, env.Timestamp, pt.Payload["created_at"])
}

func TestHandleDefaultPrimaryTag(t *testing.T) {
	e := &stubEmbedder{vec: []float32{1}}
	v := &stubVectors{}
	st := &stubStore{}
	w := newTestWorker(e, v, st)

	env := testEnvelope()
	env.ContextTags = nil
	require.NoError(t, w.Handle(context.Background(), env))

	require.Len(t, v.points, 1)
	assert.Equal(t, "general", v.points[0].Payload["primary_tag"])
	assert.Equal(t, "[]", st.rows[0].Tags)
}

func TestHandleRetriesTransientInsertFailure(t *testing.T) {
	// two consecutive relational failures, third attempt succeeds
	e := &stubEmbedder{vec: []float32{1}}
	v := &stubVectors{}
	st := &stubStore{errs: []error{transientErr(), transientErr()}}
	w := newTestWorker(e, v, st)

	require.NoError(t, w.Handle(context.Background(), testEnvelope()))

	assert.Equal(t, 3, st.calls)
	assert.Equal(t, 3, v.calls, "vector upsert re-runs idempotently each attempt")
	require.Len(t, st.rows, 1)

	// the same id was reused across attempts
	for _, pt := range v.points {
		assert.Equal(t, st.rows[0].ID, pt.ID)
	}
}

func TestHandleExhaustsRetries(t *testing.T) {
	e := &stubEmbedder{errs: []error{transientErr(), transientErr(), transientErr()}}
	v := &stubVectors{}
	st := &stubStore{}
	w := newTestWorker(e, v, st)

	err := w.Handle(context.Background(), testEnvelope())
	require.Error(t, err)
	assert.Equal(t, 3, e.calls)
	assert.Zero(t, st.calls, "no row written when embedding never succeeds")
}

func TestHandlePermanentErrorNotRetried(t *testing.T) {
	permanent := &ai.BackendError{Provider: ai.ProviderEdge, StatusCode: 401, Message: "bad key"}
	e := &stubEmbedder{errs: []error{permanent}}
	v := &stubVectors{}
	st := &stubStore{}
	w := newTestWorker(e, v, st)

	err := w.Handle(context.Background(), testEnvelope())
	require.Error(t, err)
	assert.Equal(t, 1, e.calls, "permanent failures must not burn retries")
}

func TestHandleCancelledContext(t *testing.T) {
	e := &stubEmbedder{errs: []error{transientErr(), transientErr(), transientErr()}}
	w := newTestWorker(e, &stubVectors{}, &stubStore{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.Handle(ctx, testEnvelope())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled) || e.calls <= 1)
}
