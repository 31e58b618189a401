package store

// Schema creates the capture history, settings and denylist tables.
const Schema = `
CREATE TABLE IF NOT EXISTS captures (
	id                TEXT PRIMARY KEY,
	url               TEXT NOT NULL,
	state             TEXT NOT NULL,
	reason            TEXT NOT NULL DEFAULT '',
	message           TEXT NOT NULL DEFAULT '',
	started_at        INTEGER NOT NULL,
	finished_at       INTEGER,
	assets_total      INTEGER NOT NULL DEFAULT 0,
	assets_downloaded INTEGER NOT NULL DEFAULT 0,
	assets_failed     INTEGER NOT NULL DEFAULT 0,
	assets_skipped    INTEGER NOT NULL DEFAULT 0,
	coverage_pct      INTEGER NOT NULL DEFAULT 0,
	archive_bytes     INTEGER NOT NULL DEFAULT 0,
	archive_path      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_captures_started ON captures(started_at DESC);

CREATE TABLE IF NOT EXISTS settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS denylist (
	pattern    TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL
);
`
