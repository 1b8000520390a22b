package vectordb

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, _ := strconv.Atoi(portStr)

	c := Initialize(Config{Host: host, Port: port, Collection: "memories", Dimensions: 768}, zap.NewNop())
	return c, srv
}

func TestEnsureCollectionCreatesWhenMissing(t *testing.T) {
	var created bool
	mux := http.NewServeMux()
	mux.HandleFunc("/collections/memories/exists", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"result": map[string]bool{"exists": false}})
	})
	mux.HandleFunc("/collections/memories", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		vectors := body["vectors"].(map[string]interface{})
		assert.Equal(t, float64(768), vectors["size"])
		assert.Equal(t, "Cosine", vectors["distance"])
		created = true
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"result": true})
	})

	c, _ := newTestClient(t, mux)
	require.NoError(t, c.EnsureCollection(context.Background()))
	assert.True(t, created)
}

func TestEnsureCollectionSkipsWhenPresent(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/collections/memories/exists", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"result": map[string]bool{"exists": true}})
	})
	mux.HandleFunc("/collections/memories", func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not attempt creation when collection exists")
	})

	c, _ := newTestClient(t, mux)
	require.NoError(t, c.EnsureCollection(context.Background()))
}

func TestUpsertSendsPoints(t *testing.T) {
	var got struct {
		Points []Point `json:"points"`
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/collections/memories/points", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"result": map[string]string{"status": "completed"}})
	})

	c, _ := newTestClient(t, mux)
	err := c.Upsert(context.Background(), []Point{
		{ID: "11111111-1111-1111-1111-111111111111", Vector: []float32{0.1, 0.2}, Payload: map[string]interface{}{"text": "hello"}},
	})
	require.NoError(t, err)
	require.Len(t, got.Points, 1)
	assert.Equal(t, "11111111-1111-1111-1111-111111111111", got.Points[0].ID)
	assert.Equal(t, "hello", got.Points[0].Payload["text"])
}

func TestQueryParsesScoredPoints(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/collections/memories/points/query", func(w http.ResponseWriter, r *http.Request) {
		var req queryRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 5, req.Limit)
		assert.True(t, req.WithPayload)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"result": map[string]interface{}{
				"points": []map[string]interface{}{
					{"id": "aaa", "score": 0.97, "payload": map[string]string{"text": "first"}},
					{"id": "bbb", "score": 0.85, "payload": map[string]string{"text": "second"}},
				},
			},
			"status": "ok",
		})
	})

	c, _ := newTestClient(t, mux)
	pts, err := c.Query(context.Background(), []float32{0.5, 0.5}, 5, 0)
	require.NoError(t, err)
	require.Len(t, pts, 2)
	assert.Equal(t, "aaa", pts[0].ID)
	assert.InDelta(t, 0.97, pts[0].Score, 1e-9)
	assert.Equal(t, "first", pts[0].Payload["text"])
}

func TestQueryExcludingAddsFilter(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/collections/memories/points/query", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		filter, ok := req["filter"].(map[string]interface{})
		require.True(t, ok, "filter missing")
		mustNot := filter["must_not"].([]interface{})
		hasID := mustNot[0].(map[string]interface{})["has_id"].([]interface{})
		assert.Equal(t, "anchor-id", hasID[0])
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"result": map[string]interface{}{"points": []interface{}{}},
			"status": "ok",
		})
	})

	c, _ := newTestClient(t, mux)
	pts, err := c.QueryExcluding(context.Background(), []float32{1}, 3, 0.9, "anchor-id")
	require.NoError(t, err)
	assert.Empty(t, pts)
}

func TestDeleteByIDs(t *testing.T) {
	var got map[string][]string
	mux := http.NewServeMux()
	mux.HandleFunc("/collections/memories/points/delete", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"result": map[string]string{"status": "completed"}})
	})

	c, _ := newTestClient(t, mux)
	require.NoError(t, c.DeleteByIDs(context.Background(), []string{"a", "b"}))
	assert.Equal(t, []string{"a", "b"}, got["points"])

	// no-op with empty input, no request made
	require.NoError(t, c.DeleteByIDs(context.Background(), nil))
}

func TestQueryServerError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/collections/memories/points/query", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	})

	c, _ := newTestClient(t, mux)
	_, err := c.Query(context.Background(), []float32{1}, 5, 0)
	require.Error(t, err)
}
