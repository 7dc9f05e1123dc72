package db

// SchemaVersion is the current local schema version.
const SchemaVersion = 2

const schema = `
CREATE TABLE IF NOT EXISTS zones (
    id TEXT PRIMARY KEY,
    last_modified INTEGER NOT NULL DEFAULT 0,
    placeholder INTEGER NOT NULL DEFAULT 0,
    level INTEGER NOT NULL DEFAULT 0,
    image BLOB
);

CREATE TABLE IF NOT EXISTS areas (
    id TEXT PRIMARY KEY,
    last_modified INTEGER NOT NULL DEFAULT 0,
    placeholder INTEGER NOT NULL DEFAULT 0,
    zone_id TEXT NOT NULL DEFAULT '',
    name TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS cells (
    id TEXT PRIMARY KEY,
    last_modified INTEGER NOT NULL DEFAULT 0,
    placeholder INTEGER NOT NULL DEFAULT 0,
    zone_id TEXT NOT NULL DEFAULT '',
    area_id TEXT NOT NULL DEFAULT '',
    row_index INTEGER NOT NULL DEFAULT 0,
    col_index INTEGER NOT NULL DEFAULT 0,
    kind TEXT NOT NULL DEFAULT 'space'
);

CREATE TABLE IF NOT EXISTS beacons (
    id TEXT PRIMARY KEY,
    last_modified INTEGER NOT NULL DEFAULT 0,
    placeholder INTEGER NOT NULL DEFAULT 0,
    cell_id TEXT NOT NULL DEFAULT '',
    mac_address TEXT NOT NULL DEFAULT '',
    signal_strength INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_areas_zone ON areas(zone_id);
CREATE INDEX IF NOT EXISTS idx_cells_zone ON cells(zone_id);
CREATE INDEX IF NOT EXISTS idx_beacons_cell ON beacons(cell_id);

-- Local user mutations not yet acknowledged by the remote store
CREATE TABLE IF NOT EXISTS pending_changes (
    id TEXT PRIMARY KEY,
    op TEXT NOT NULL CHECK (op IN ('upsert', 'delete')),
    seq INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_state (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS schema_info (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// Migration is one schema upgrade step.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations is the ordered list of schema upgrades.
var Migrations = []Migration{
	// Version 1 is the initial schema
	{
		Version:     2,
		Description: "Index cells by area for parent lookups",
		SQL:         `CREATE INDEX IF NOT EXISTS idx_cells_area ON cells(area_id);`,
	},
}
