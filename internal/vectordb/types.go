package vectordb

import "time"

// Config controls the Qdrant client.
type Config struct {
	Host       string
	Port       int
	Collection string
	Dimensions int
	Timeout    time.Duration
}

// Point is one vector with its payload, as stored in Qdrant.
type Point struct {
	ID      string                 `json:"id"`
	Vector  []float32              `json:"vector"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// ScoredPoint is one similarity search hit.
type ScoredPoint struct {
	ID      string
	Score   float64
	Payload map[string]interface{}
}
