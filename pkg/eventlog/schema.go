package eventlog

// schemaVersion is the current database schema version.
const schemaVersion = 1

// schema contains the SQL statements that create the lifecycle event
// journal's schema.
const schema = `
CREATE TABLE IF NOT EXISTS transitions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	model TEXT NOT NULL,
	from_state TEXT NOT NULL,
	to_state TEXT NOT NULL,
	occurred_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY,
	applied_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transitions_model ON transitions(model);
CREATE INDEX IF NOT EXISTS idx_transitions_occurred_at ON transitions(occurred_at);
`

const insertSchemaVersion = `
INSERT INTO schema_version (version, applied_at)
VALUES (?, datetime('now'))
ON CONFLICT(version) DO NOTHING;
`

const getSchemaVersion = `
SELECT version FROM schema_version ORDER BY version DESC LIMIT 1;
`
