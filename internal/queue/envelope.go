package queue

import (
	"encoding/json"
	"fmt"
)

// envelopeVersion marks the wire format for forward compatibility.
const envelopeVersion = 1

// Envelope is one ingestion message. Immutable once enqueued.
type Envelope struct {
	Version     int      `json:"version"`
	Text        string   `json:"text"`
	ContextTags []string `json:"context_tags,omitempty"`
	Timestamp   int64    `json:"timestamp"` // epoch millis, stamped at submit time
	SourceApp   string   `json:"source_app,omitempty"`
	SessionID   string   `json:"session_id,omitempty"`
}

// encode serializes the envelope for the stream field.
func (e Envelope) encode() (string, error) {
	e.Version = envelopeVersion
	b, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("encode envelope: %w", err)
	}
	return string(b), nil
}

// decodeEnvelope parses a stream payload field.
func decodeEnvelope(payload string) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return e, nil
}
