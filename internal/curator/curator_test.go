package curator

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
	"github.com/recallstack/memoryd/internal/signals"
	"github.com/recallstack/memoryd/internal/vectordb"
)

type fakeGateway struct {
	embedErrFor map[string]error
	lastEmbed   string
	merged      string
	textCalls   int
}

func (f *fakeGateway) GenerateEmbedding(ctx context.Context, text string, opts ai.Options) ([]float32, error) {
	if err, ok := f.embedErrFor[text]; ok {
		return nil, err
	}
	f.lastEmbed = text
	return []float32{1}, nil
}

func (f *fakeGateway) GenerateText(ctx context.Context, prompt, system string, opts ai.Options) (string, error) {
	f.textCalls++
	if f.merged != "" {
		return f.merged, nil
	}
	return "merged memory", nil
}

// fakeIndex serves similarity results keyed by the text last embedded.
type fakeIndex struct {
	gw       *fakeGateway
	similar  map[string][]vectordb.ScoredPoint
	points   map[string]vectordb.Point
	deleted  []string
	upserted []vectordb.Point
}

func newFakeIndex(gw *fakeGateway) *fakeIndex {
	return &fakeIndex{gw: gw, similar: map[string][]vectordb.ScoredPoint{}, points: map[string]vectordb.Point{}}
}

func (f *fakeIndex) QueryExcluding(ctx context.Context, vec []float32, limit int, threshold float64, excludeID string) ([]vectordb.ScoredPoint, error) {
	var pts []vectordb.ScoredPoint
	for _, p := range f.similar[f.gw.lastEmbed] {
		if p.ID != excludeID {
			pts = append(pts, p)
		}
	}
	if limit < len(pts) {
		pts = pts[:limit]
	}
	return pts, nil
}

func (f *fakeIndex) Upsert(ctx context.Context, points []vectordb.Point) error {
	for _, p := range points {
		f.points[p.ID] = p
		f.upserted = append(f.upserted, p)
	}
	return nil
}

func (f *fakeIndex) DeleteByIDs(ctx context.Context, ids []string) error {
	f.deleted = append(f.deleted, ids...)
	for _, id := range ids {
		delete(f.points, id)
	}
	return nil
}

type fakeStore struct {
	rows map[string]*memstore.Memory
}

func newFakeStore(rows ...*memstore.Memory) *fakeStore {
	fs := &fakeStore{rows: map[string]*memstore.Memory{}}
	for _, r := range rows {
		fs.rows[r.ID] = r
	}
	return fs
}

func (f *fakeStore) ListRawCandidates(ctx context.Context, limit int) ([]memstore.Memory, error) {
	var out []memstore.Memory
	for _, r := range f.rows {
		if r.Status == memstore.StatusRaw {
			out = append(out, *r)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) GetByIDs(ctx context.Context, ids []string) ([]memstore.Memory, error) {
	var out []memstore.Memory
	for _, id := range ids {
		if r, ok := f.rows[id]; ok {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkProcessed(ctx context.Context, id string, now int64) error {
	if r, ok := f.rows[id]; ok {
		r.Status = memstore.StatusProcessed
		r.UpdatedAt = now
	}
	return nil
}

func (f *fakeStore) UpdateConsolidated(ctx context.Context, id, text string, now int64) error {
	if r, ok := f.rows[id]; ok {
		r.Text = text
		r.Status = memstore.StatusConsolidated
		r.UpdatedAt = now
	}
	return nil
}

func (f *fakeStore) DeleteByIDs(ctx context.Context, ids []string) error {
	for _, id := range ids {
		delete(f.rows, id)
	}
	return nil
}

func newTestCurator(cfg Config, gw *fakeGateway, idx *fakeIndex, st *fakeStore) *Curator {
	return New(cfg, gw, idx, st, signals.NewLogger(10), zap.NewNop())
}

func raw(id, text string, createdAt int64) *memstore.Memory {
	return &memstore.Memory{ID: id, Text: text, Tags: "[]", Status: memstore.StatusRaw, CreatedAt: createdAt, UpdatedAt: createdAt}
}

func TestNoDuplicatesMarksProcessed(t *testing.T) {
	gw := &fakeGateway{}
	idx := newFakeIndex(gw)
	st := newFakeStore(raw("m1", "unique thought", 100))
	idx.similar["unique thought"] = []vectordb.ScoredPoint{{ID: "m1", Score: 1.0}}

	c := newTestCurator(Config{}, gw, idx, st)
	stats, err := c.RunOnce(context.Background(), "manual")
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Processed)
	assert.Zero(t, stats.Consolidated)
	assert.Equal(t, memstore.StatusProcessed, st.rows["m1"].Status)
}

func TestConsolidationPreservesAnchor(t *testing.T) {
	gw := &fakeGateway{merged: "enjoys espresso in all its forms"}
	idx := newFakeIndex(gw)
	st := newFakeStore(
		raw("anchor", "likes espresso", 100),
		raw("d1", "prefers espresso", 200),
		raw("d2", "enjoys espresso drinks", 300),
	)
	idx.similar["likes espresso"] = []vectordb.ScoredPoint{
		{ID: "anchor", Score: 1.0},
		{ID: "d1", Score: 0.95},
		{ID: "d2", Score: 0.93},
	}
	// after the anchor consolidates, the remaining candidates have no matches
	idx.similar["prefers espresso"] = nil
	idx.similar["enjoys espresso drinks"] = nil

	c := newTestCurator(Config{SimilarityThreshold: 0.90}, gw, idx, st)
	stats, err := c.RunOnce(context.Background(), "manual")
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Consolidated)
	assert.Equal(t, 2, stats.DeletedDuplicates)

	// anchor survives under its original id with the merged text
	anchor, ok := st.rows["anchor"]
	require.True(t, ok)
	assert.Equal(t, "enjoys espresso in all its forms", anchor.Text)
	assert.Equal(t, memstore.StatusConsolidated, anchor.Status)
	assert.Equal(t, int64(100), anchor.CreatedAt, "created_at is immutable")
	assert.GreaterOrEqual(t, anchor.UpdatedAt, anchor.CreatedAt)

	// duplicates gone from both stores
	_, d1 := st.rows["d1"]
	_, d2 := st.rows["d2"]
	assert.False(t, d1)
	assert.False(t, d2)
	assert.ElementsMatch(t, []string{"d1", "d2"}, idx.deleted)

	// fresh anchor vector carries the consolidated metadata
	require.Len(t, idx.upserted, 1)
	pt := idx.upserted[0]
	assert.Equal(t, "anchor", pt.ID)
	assert.Equal(t, "consolidated", pt.Payload["primary_tag"])
	assert.Equal(t, 1, pt.Payload["priority_rank"])
	assert.Equal(t, int64(100), pt.Payload["created_at"])
}

func TestRerunIsFixedPoint(t *testing.T) {
	gw := &fakeGateway{merged: "merged"}
	idx := newFakeIndex(gw)
	st := newFakeStore(
		raw("anchor", "likes espresso", 100),
		raw("d1", "prefers espresso", 200),
	)
	idx.similar["likes espresso"] = []vectordb.ScoredPoint{
		{ID: "anchor", Score: 1.0},
		{ID: "d1", Score: 0.95},
	}
	idx.similar["prefers espresso"] = nil

	c := newTestCurator(Config{SimilarityThreshold: 0.90}, gw, idx, st)
	_, err := c.RunOnce(context.Background(), "manual")
	require.NoError(t, err)

	snapshot := make(map[string]memstore.Memory)
	for id, r := range st.rows {
		snapshot[id] = *r
	}

	stats, err := c.RunOnce(context.Background(), "manual")
	require.NoError(t, err)
	assert.Zero(t, stats.Consolidated)
	assert.Zero(t, stats.Processed)

	for id, r := range st.rows {
		assert.Equal(t, snapshot[id], *r, "second run must not change state")
	}
}

func TestPerCandidateErrorIsolation(t *testing.T) {
	gw := &fakeGateway{embedErrFor: map[string]error{"broken": errors.New("embed down")}}
	idx := newFakeIndex(gw)
	st := newFakeStore(
		raw("bad", "broken", 100),
		raw("ok", "fine memory", 200),
	)
	idx.similar["fine memory"] = []vectordb.ScoredPoint{{ID: "ok", Score: 1.0}}

	c := newTestCurator(Config{}, gw, idx, st)
	stats, err := c.RunOnce(context.Background(), "manual")
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, 1, stats.Processed, "healthy candidate still curated")
	assert.Equal(t, memstore.StatusRaw, st.rows["bad"].Status, "failed candidate untouched")
}

func TestConsolidationCap(t *testing.T) {
	gw := &fakeGateway{merged: "merged"}
	idx := newFakeIndex(gw)
	st := newFakeStore(
		raw("a1", "text a", 1), raw("a2", "dup a", 2),
		raw("b1", "text b", 3), raw("b2", "dup b", 4),
	)
	idx.similar["text a"] = []vectordb.ScoredPoint{{ID: "a1", Score: 1.0}, {ID: "a2", Score: 0.95}}
	idx.similar["text b"] = []vectordb.ScoredPoint{{ID: "b1", Score: 1.0}, {ID: "b2", Score: 0.95}}
	idx.similar["dup a"] = nil
	idx.similar["dup b"] = nil
	idx.similar["merged"] = nil

	c := newTestCurator(Config{SimilarityThreshold: 0.90, MaxConsolidations: 1}, gw, idx, st)
	stats, err := c.RunOnce(context.Background(), "manual")
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Consolidated, "cap bounds consolidations per run")
}

func TestVectorOrphanDuplicatesCleaned(t *testing.T) {
	gw := &fakeGateway{}
	idx := newFakeIndex(gw)
	st := newFakeStore(raw("m1", "some text", 100))
	// similar hit whose row no longer exists
	idx.similar["some text"] = []vectordb.ScoredPoint{
		{ID: "m1", Score: 1.0},
		{ID: "ghost", Score: 0.95},
	}

	c := newTestCurator(Config{SimilarityThreshold: 0.90}, gw, idx, st)
	stats, err := c.RunOnce(context.Background(), "manual")
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Processed)
	assert.Contains(t, idx.deleted, "ghost")
	assert.Zero(t, gw.textCalls, "no merge without hydrated duplicates")
}

func TestSetSimilarityThreshold(t *testing.T) {
	gw := &fakeGateway{merged: "merged"}
	idx := newFakeIndex(gw)
	st := newFakeStore(
		raw("a", "text a", 1),
		raw("b", "loosely related", 2),
	)
	idx.similar["text a"] = []vectordb.ScoredPoint{
		{ID: "a", Score: 1.0},
		{ID: "b", Score: 0.6},
	}
	idx.similar["loosely related"] = nil
	idx.similar["merged"] = nil

	c := newTestCurator(Config{SimilarityThreshold: 0.92}, gw, idx, st)

	// out-of-range values are ignored
	c.SetSimilarityThreshold(0)
	c.SetSimilarityThreshold(1.5)
	c.SetSimilarityThreshold(0.5)

	stats, err := c.RunOnce(context.Background(), "manual")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Consolidated, "lowered threshold catches the loose match")
}

func TestSchedulerManualTrigger(t *testing.T) {
	gw := &fakeGateway{}
	idx := newFakeIndex(gw)
	st := newFakeStore()

	c := newTestCurator(Config{}, gw, idx, st)
	s, err := NewScheduler("@daily", c, zap.NewNop())
	require.NoError(t, err)

	assert.True(t, s.TriggerAsync())
	require.Eventually(t, func() bool {
		return !s.running.Load()
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSchedulerRejectsBadSchedule(t *testing.T) {
	c := newTestCurator(Config{}, &fakeGateway{}, newFakeIndex(&fakeGateway{}), newFakeStore())
	_, err := NewScheduler("not a schedule", c, zap.NewNop())
	require.Error(t, err)
}
