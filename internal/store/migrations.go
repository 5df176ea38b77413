package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create conversations and messages",
		SQL: `
			CREATE TABLE conversations (
				id          TEXT PRIMARY KEY,
				escalated   INTEGER NOT NULL DEFAULT 0,
				created_at  TEXT NOT NULL DEFAULT (datetime('now')),
				updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE TABLE messages (
				id               TEXT PRIMARY KEY,
				conversation_id  TEXT NOT NULL,
				sender           TEXT NOT NULL,
				content          TEXT NOT NULL,
				kind             TEXT NOT NULL DEFAULT 'text',
				timestamp        TEXT NOT NULL,
				at               INTEGER NOT NULL,
				FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
			);

			CREATE INDEX idx_messages_conversation ON messages (conversation_id, at, id);
		`,
	},
	{
		Version: 2,
		Name:    "index customer messages",
		SQL: `
			CREATE INDEX idx_messages_sender ON messages (conversation_id, sender, at);
		`,
	},
}
