package repository

// Schema definitions for the Kestrel bundle registry.
// Compatible with both SQLite and PostgreSQL.

const schemaBundles = `
CREATE TABLE IF NOT EXISTS bundles (
    id TEXT PRIMARY KEY,
    version TEXT NOT NULL,
    description TEXT,
    sha256 TEXT NOT NULL,
    artifact TEXT NOT NULL,
    active INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_bundles_active ON bundles(active);
CREATE INDEX IF NOT EXISTS idx_bundles_created ON bundles(created_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaBundles,
	}
}
