package memstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/recallstack/memoryd/internal/circuitbreaker"
)

// Status values for a memory row.
const (
	StatusRaw          = "raw"
	StatusProcessed    = "processed"
	StatusConsolidated = "consolidated"
)

// ErrNotFound is returned when a memory id has no row.
var ErrNotFound = errors.New("memory not found")

// Memory is one stored memory row. Timestamps are epoch millis.
type Memory struct {
	ID        string `db:"id" json:"id"`
	Text      string `db:"text" json:"text"`
	Tags      string `db:"tags" json:"-"` // JSON array of strings
	SourceApp string `db:"source_app" json:"source_app,omitempty"`
	SessionID string `db:"session_id" json:"session_id,omitempty"`
	Status    string `db:"status" json:"status"`
	CreatedAt int64  `db:"created_at" json:"created_at"`
	UpdatedAt int64  `db:"updated_at" json:"updated_at"`
}

// TagList decodes the serialized tags column. Malformed or empty tags decode
// to an empty list.
func (m *Memory) TagList() []string {
	if m.Tags == "" {
		return []string{}
	}
	var tags []string
	if err := json.Unmarshal([]byte(m.Tags), &tags); err != nil {
		return []string{}
	}
	return tags
}

// SerializeTags encodes tags for the tags column.
func SerializeTags(tags []string) string {
	if len(tags) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(tags)
	return string(b)
}

// Config controls the Postgres connection.
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConnections  int
	ConnMaxLifetime time.Duration
}

// Store is the relational memory store.
type Store struct {
	db     *circuitbreaker.DatabaseWrapper
	logger *zap.Logger
}

// Connect opens the Postgres pool and wraps it with a circuit breaker.
func Connect(cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if cfg.MaxConnections > 0 {
		db.SetMaxOpenConns(cfg.MaxConnections)
		db.SetMaxIdleConns(cfg.MaxConnections / 2)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	logger.Info("connected to postgres",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database))
	return NewStore(db, logger), nil
}

// NewStore wraps an existing connection, used directly in tests.
func NewStore(db *sqlx.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: circuitbreaker.NewDatabaseWrapper(db, logger), logger: logger}
}

// EnsureSchema creates the memories table and its indexes if absent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Insert writes a new memory row. A duplicate-key conflict is treated as
// success so that at-least-once redelivery converges.
func (s *Store) Insert(ctx context.Context, m *Memory) error {
	const q = `
		INSERT INTO memories (id, text, tags, source_app, session_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`
	_, err := s.db.ExecContext(ctx, q,
		m.ID, m.Text, m.Tags, m.SourceApp, m.SessionID, m.Status, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil
		}
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

// Get returns one memory by id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Memory, error) {
	var m Memory
	const q = `SELECT id, text, tags, source_app, session_id, status, created_at, updated_at FROM memories WHERE id = $1`
	if err := s.db.GetContext(ctx, &m, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get memory: %w", err)
	}
	return &m, nil
}

// GetByIDs returns the rows whose ids exist, in no particular order. Missing
// ids are silently absent from the result.
func (s *Store) GetByIDs(ctx context.Context, ids []string) ([]Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	const q = `SELECT id, text, tags, source_app, session_id, status, created_at, updated_at FROM memories WHERE id = ANY($1)`
	var out []Memory
	if err := s.db.SelectContext(ctx, &out, q, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("get memories by ids: %w", err)
	}
	return out, nil
}

// ListRawCandidates returns up to limit rows with status raw, oldest first.
func (s *Store) ListRawCandidates(ctx context.Context, limit int) ([]Memory, error) {
	const q = `SELECT id, text, tags, source_app, session_id, status, created_at, updated_at
		FROM memories WHERE status = $1 ORDER BY created_at ASC LIMIT $2`
	var out []Memory
	if err := s.db.SelectContext(ctx, &out, q, StatusRaw, limit); err != nil {
		return nil, fmt.Errorf("list raw candidates: %w", err)
	}
	return out, nil
}

// MarkProcessed transitions a raw memory to processed.
func (s *Store) MarkProcessed(ctx context.Context, id string, now int64) error {
	const q = `UPDATE memories SET status = $1, updated_at = $2 WHERE id = $3`
	if _, err := s.db.ExecContext(ctx, q, StatusProcessed, now, id); err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

// UpdateConsolidated replaces a memory's text with its consolidated form.
// created_at is never touched.
func (s *Store) UpdateConsolidated(ctx context.Context, id, text string, now int64) error {
	const q = `UPDATE memories SET text = $1, status = $2, updated_at = $3 WHERE id = $4`
	if _, err := s.db.ExecContext(ctx, q, text, StatusConsolidated, now, id); err != nil {
		return fmt.Errorf("update consolidated: %w", err)
	}
	return nil
}

// DeleteByIDs removes rows by id. Missing ids are not an error.
func (s *Store) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	const q = `DELETE FROM memories WHERE id = ANY($1)`
	if _, err := s.db.ExecContext(ctx, q, pq.Array(ids)); err != nil {
		return fmt.Errorf("delete memories: %w", err)
	}
	return nil
}

// Ping verifies connectivity, used by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the pool.
func (s *Store) Close() error {
	return s.db.Close()
}
