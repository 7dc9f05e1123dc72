package serverdb

// Migration is one server schema step. Steps run in Version order, each in
// its own transaction together with the version bump.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations builds the server schema from an empty database.
var Migrations = []Migration{
	{
		Version:     1,
		Description: "records and api keys",
		SQL: `
CREATE TABLE IF NOT EXISTS api_keys (
    id TEXT PRIMARY KEY,
    key_hash TEXT UNIQUE NOT NULL,
    key_prefix TEXT NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    expires_at DATETIME,
    last_used_at DATETIME,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- one row per identity; last_modified is unix nanoseconds
CREATE TABLE IF NOT EXISTS records (
    identity TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    last_modified INTEGER NOT NULL,
    parent TEXT NOT NULL DEFAULT '',
    attributes TEXT NOT NULL DEFAULT '{}',
    updated_by TEXT NOT NULL DEFAULT '',
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_records_kind ON records(kind, identity);
`,
	},
	{
		Version:     2,
		Description: "index records by parent",
		SQL:         `CREATE INDEX IF NOT EXISTS idx_records_parent ON records(parent);`,
	},
}

// ServerSchemaVersion is the version a fully migrated database reports.
var ServerSchemaVersion = Migrations[len(Migrations)-1].Version
