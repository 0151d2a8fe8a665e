package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// columnTypes holds the dialect specific spellings used by the messaging DDL.
type columnTypes struct {
	ID        string
	Timestamp string
	Now       string
	JSON      string
}

var (
	postgresTypes = columnTypes{ID: "UUID", Timestamp: "TIMESTAMPTZ", Now: "NOW()", JSON: "JSONB"}
	// sqlite only decodes time values for columns declared exactly as TIMESTAMP.
	sqliteTypes = columnTypes{ID: "TEXT", Timestamp: "TIMESTAMP", Now: "CURRENT_TIMESTAMP", JSON: "TEXT"}
)

type tableDefinition struct {
	name string
	ddl  string
}

// messagingTables lists the tables in dependency order: threads first, then
// rows referencing threads, then rows referencing messages. Presence stands alone.
func messagingTables(t columnTypes) []tableDefinition {
	return []tableDefinition{
		{"message_threads", fmt.Sprintf(`CREATE TABLE IF NOT EXISTS message_threads (
	id %[1]s PRIMARY KEY,
	subject TEXT,
	last_message_at %[2]s DEFAULT %[3]s
)`, t.ID, t.Timestamp, t.Now)},
		{"message_participants", fmt.Sprintf(`CREATE TABLE IF NOT EXISTS message_participants (
	thread_id %[1]s REFERENCES message_threads(id) ON DELETE CASCADE,
	user_id TEXT NOT NULL,
	role TEXT NOT NULL,
	PRIMARY KEY (thread_id, user_id)
)`, t.ID)},
		{"messages", fmt.Sprintf(`CREATE TABLE IF NOT EXISTS messages (
	id %[1]s PRIMARY KEY,
	thread_id %[1]s REFERENCES message_threads(id) ON DELETE CASCADE,
	from_user_id TEXT NOT NULL,
	from_role TEXT NOT NULL,
	to_user_id TEXT NOT NULL,
	to_role TEXT NOT NULL,
	subject TEXT,
	content TEXT NOT NULL,
	created_at %[2]s DEFAULT %[3]s,
	delivered_at %[2]s,
	read_at %[2]s
)`, t.ID, t.Timestamp, t.Now)},
		{"message_attachments", fmt.Sprintf(`CREATE TABLE IF NOT EXISTS message_attachments (
	id %[1]s PRIMARY KEY,
	message_id %[1]s REFERENCES messages(id) ON DELETE CASCADE,
	filename TEXT NOT NULL,
	mime TEXT NOT NULL,
	size_bytes INTEGER NOT NULL,
	path TEXT NOT NULL,
	uploaded_at %[2]s DEFAULT %[3]s
)`, t.ID, t.Timestamp, t.Now)},
		{"message_flags", fmt.Sprintf(`CREATE TABLE IF NOT EXISTS message_flags (
	user_id TEXT NOT NULL,
	message_id %[1]s REFERENCES messages(id) ON DELETE CASCADE,
	flagged_at %[2]s DEFAULT %[3]s,
	PRIMARY KEY (user_id, message_id)
)`, t.ID, t.Timestamp, t.Now)},
		{"message_archives", fmt.Sprintf(`CREATE TABLE IF NOT EXISTS message_archives (
	user_id TEXT NOT NULL,
	thread_id %[1]s REFERENCES message_threads(id) ON DELETE CASCADE,
	archived_at %[2]s DEFAULT %[3]s,
	PRIMARY KEY (user_id, thread_id)
)`, t.ID, t.Timestamp, t.Now)},
		{"message_audit", fmt.Sprintf(`CREATE TABLE IF NOT EXISTS message_audit (
	id %[1]s PRIMARY KEY,
	actor_user_id TEXT NOT NULL,
	action TEXT NOT NULL,
	message_id %[1]s,
	thread_id %[1]s,
	metadata %[4]s,
	created_at %[2]s DEFAULT %[3]s
)`, t.ID, t.Timestamp, t.Now, t.JSON)},
		{"user_presence", fmt.Sprintf(`CREATE TABLE IF NOT EXISTS user_presence (
	user_id TEXT PRIMARY KEY,
	role TEXT NOT NULL,
	class_id TEXT,
	is_online BOOLEAN DEFAULT FALSE,
	last_seen %[1]s DEFAULT %[2]s
)`, t.Timestamp, t.Now)},
	}
}

// SchemaProvisioner creates the messaging tables on startup. It is best effort:
// a failing statement is logged and the remaining statements still run.
type SchemaProvisioner struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewSchemaProvisioner constructs a provisioner. A nil db (dev mode) turns Ensure into a no-op.
func NewSchemaProvisioner(db *gorm.DB, logger zerolog.Logger) *SchemaProvisioner {
	return &SchemaProvisioner{
		db:     db,
		logger: logger.With().Str("component", "schema_provisioner").Logger(),
	}
}

// Ensure issues the idempotent CREATE TABLE statements. The returned error
// joins every statement failure; all of them have already been logged.
func (p *SchemaProvisioner) Ensure(ctx context.Context) error {
	if p.db == nil {
		p.logger.Info().Msg("relational store disabled, skipping message tables")
		return nil
	}

	types := postgresTypes
	if !strings.EqualFold(p.db.Dialector.Name(), "postgres") {
		types = sqliteTypes
	}

	var failures []error
	for _, table := range messagingTables(types) {
		if err := p.db.WithContext(ctx).Exec(table.ddl).Error; err != nil {
			p.logger.Error().Err(err).Str("table", table.name).Msg("failed to ensure message table")
			failures = append(failures, fmt.Errorf("ensure %s: %w", table.name, err))
		}
	}

	if len(failures) == 0 {
		p.logger.Info().Msg("message tables ensured")
	}
	return errors.Join(failures...)
}
