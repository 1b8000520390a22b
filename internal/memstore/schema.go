package memstore

// schemaStatements bootstrap the memories table. Timestamps are epoch millis
// so rows round-trip through JSON without timezone handling.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS memories (
		id         UUID PRIMARY KEY,
		text       TEXT NOT NULL,
		tags       TEXT NOT NULL DEFAULT '[]',
		source_app TEXT NOT NULL DEFAULT '',
		session_id TEXT NOT NULL DEFAULT '',
		status     TEXT NOT NULL DEFAULT 'raw',
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_memories_session_id ON memories (session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_memories_source_app ON memories (source_app)`,
	`CREATE INDEX IF NOT EXISTS idx_memories_created_at ON memories (created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_memories_status ON memories (status)`,
}
