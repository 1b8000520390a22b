package vectordb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/recallstack/memoryd/internal/circuitbreaker"
	"github.com/recallstack/memoryd/internal/metrics"
	"github.com/recallstack/memoryd/internal/tracing"
)

// Client is a minimal Qdrant HTTP client scoped to a single collection.
type Client struct {
	cfg   Config
	base  string
	httpw *circuitbreaker.HTTPWrapper
	log   *zap.Logger
}

var global *Client

// Initialize creates the global client. Call once at startup.
func Initialize(cfg Config, logger *zap.Logger) *Client {
	c := cfg
	if c.Port == 0 {
		c.Port = 6333
	}
	if c.Collection == "" {
		c.Collection = "memories"
	}
	if c.Dimensions == 0 {
		c.Dimensions = 768
	}
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := &http.Client{Timeout: c.Timeout}
	httpw := circuitbreaker.NewHTTPWrapper(httpClient, "qdrant", "vectordb", logger)
	client := &Client{cfg: c, base: fmt.Sprintf("http://%s:%d", c.Host, c.Port), httpw: httpw, log: logger}
	global = client
	return client
}

// Get returns the global client, or nil before Initialize.
func Get() *Client { return global }

// Collection returns the configured collection name.
func (c *Client) Collection() string { return c.cfg.Collection }

func (c *Client) do(ctx context.Context, method, url string, payload, out interface{}) error {
	ctx, span := tracing.StartHTTPSpan(ctx, method, url)
	defer span.End()

	var body *bytes.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(buf)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := c.httpw.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant %s %s: status %d", method, url, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// EnsureCollection creates the collection if it does not exist. Cosine
// distance at the configured dimensionality.
func (c *Client) EnsureCollection(ctx context.Context) error {
	checkURL := fmt.Sprintf("%s/collections/%s/exists", c.base, c.cfg.Collection)
	var exists struct {
		Result struct {
			Exists bool `json:"exists"`
		} `json:"result"`
	}
	if err := c.do(ctx, http.MethodGet, checkURL, nil, &exists); err == nil && exists.Result.Exists {
		return nil
	}

	createURL := fmt.Sprintf("%s/collections/%s", c.base, c.cfg.Collection)
	payload := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     c.cfg.Dimensions,
			"distance": "Cosine",
		},
	}
	if err := c.do(ctx, http.MethodPut, createURL, payload, nil); err != nil {
		return fmt.Errorf("create collection %s: %w", c.cfg.Collection, err)
	}
	c.log.Info("vector collection created",
		zap.String("collection", c.cfg.Collection),
		zap.Int("dimensions", c.cfg.Dimensions))
	return nil
}

// Upsert inserts or replaces points. Upserting an existing ID overwrites its
// vector and payload, so retried writes converge.
func (c *Client) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	start := time.Now()
	url := fmt.Sprintf("%s/collections/%s/points?wait=true", c.base, c.cfg.Collection)
	err := c.do(ctx, http.MethodPut, url, map[string]interface{}{"points": points}, nil)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RecordVectorOp("upsert", status, time.Since(start).Seconds())
	return err
}

type queryRequest struct {
	Query          []float32              `json:"query"`
	Limit          int                    `json:"limit"`
	ScoreThreshold *float64               `json:"score_threshold,omitempty"`
	WithPayload    bool                   `json:"with_payload"`
	Filter         map[string]interface{} `json:"filter,omitempty"`
}

type queryResponse struct {
	Result struct {
		Points []struct {
			ID      interface{}            `json:"id"`
			Score   float64                `json:"score"`
			Payload map[string]interface{} `json:"payload"`
		} `json:"points"`
	} `json:"result"`
	Status string `json:"status"`
}

// Query runs a similarity search, best match first. A positive threshold
// filters out weaker hits server-side.
func (c *Client) Query(ctx context.Context, vector []float32, limit int, threshold float64) ([]ScoredPoint, error) {
	return c.query(ctx, vector, limit, threshold, nil)
}

// QueryExcluding is Query with one point ID excluded, used when looking for
// neighbors of a point already in the collection.
func (c *Client) QueryExcluding(ctx context.Context, vector []float32, limit int, threshold float64, excludeID string) ([]ScoredPoint, error) {
	filter := map[string]interface{}{
		"must_not": []map[string]interface{}{
			{"has_id": []string{excludeID}},
		},
	}
	return c.query(ctx, vector, limit, threshold, filter)
}

func (c *Client) query(ctx context.Context, vector []float32, limit int, threshold float64, filter map[string]interface{}) ([]ScoredPoint, error) {
	start := time.Now()

	var thr *float64
	if threshold > 0 {
		thr = &threshold
	}
	reqBody := queryRequest{Query: vector, Limit: limit, ScoreThreshold: thr, WithPayload: true, Filter: filter}

	url := fmt.Sprintf("%s/collections/%s/points/query", c.base, c.cfg.Collection)
	var qr queryResponse
	if err := c.do(ctx, http.MethodPost, url, reqBody, &qr); err != nil {
		metrics.RecordVectorOp("query", "error", time.Since(start).Seconds())
		return nil, err
	}
	metrics.RecordVectorOp("query", "ok", time.Since(start).Seconds())

	out := make([]ScoredPoint, 0, len(qr.Result.Points))
	for _, p := range qr.Result.Points {
		out = append(out, ScoredPoint{
			ID:      fmt.Sprintf("%v", p.ID),
			Score:   p.Score,
			Payload: p.Payload,
		})
	}
	return out, nil
}

// DeleteByIDs removes points by ID. Missing IDs are not an error.
func (c *Client) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	start := time.Now()
	url := fmt.Sprintf("%s/collections/%s/points/delete?wait=true", c.base, c.cfg.Collection)
	err := c.do(ctx, http.MethodPost, url, map[string]interface{}{"points": ids}, nil)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RecordVectorOp("delete", status, time.Since(start).Seconds())
	return err
}
