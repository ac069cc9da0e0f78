package postgres

// Schema is applied on startup. Entry logs and audit records are append-only
// by convention: nothing in this package issues UPDATE against them except
// the pending_audit flag.
const Schema = `
CREATE TABLE IF NOT EXISTS visitors (
	id           UUID PRIMARY KEY,
	full_name    TEXT NOT NULL,
	status       TEXT NOT NULL,
	valid_from   TIMESTAMPTZ NOT NULL,
	valid_until  TIMESTAMPTZ NOT NULL,
	gate_scope   TEXT[] NOT NULL DEFAULT '{}',
	face_ids     TEXT[] NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS watchlist_entries (
	id           UUID PRIMARY KEY,
	subject_name TEXT NOT NULL,
	category     TEXT NOT NULL DEFAULT '',
	severity     TEXT NOT NULL,
	reason       TEXT NOT NULL DEFAULT '',
	active       BOOLEAN NOT NULL DEFAULT TRUE,
	expires_at   TIMESTAMPTZ,
	face_ids     TEXT[] NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS entry_logs (
	id              UUID PRIMARY KEY,
	request_id      UUID NOT NULL,
	gate_id         TEXT NOT NULL,
	decision        TEXT NOT NULL,
	reason          TEXT NOT NULL DEFAULT '',
	subject_id      UUID,
	subject_name    TEXT NOT NULL DEFAULT '',
	match_score     DOUBLE PRECISION,
	high_confidence BOOLEAN NOT NULL DEFAULT FALSE,
	pending_audit   BOOLEAN NOT NULL DEFAULT FALSE,
	ts              TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS entry_logs_ts_idx ON entry_logs (ts DESC);
CREATE INDEX IF NOT EXISTS entry_logs_gate_idx ON entry_logs (gate_id, ts DESC);

CREATE TABLE IF NOT EXISTS incidents (
	id              UUID PRIMARY KEY,
	number          TEXT NOT NULL UNIQUE,
	subject_id      UUID NOT NULL,
	subject_name    TEXT NOT NULL DEFAULT '',
	gate_id         TEXT NOT NULL,
	severity        TEXT NOT NULL,
	priority_score  DOUBLE PRECISION NOT NULL DEFAULT 0,
	status          TEXT NOT NULL,
	first_hit_at    TIMESTAMPTZ NOT NULL,
	last_hit_at     TIMESTAMPTZ NOT NULL,
	top_score       DOUBLE PRECISION NOT NULL DEFAULT 0,
	entry_log_ids   UUID[] NOT NULL DEFAULT '{}',
	timeline        JSONB NOT NULL DEFAULT '[]',
	acknowledged_by TEXT NOT NULL DEFAULT '',
	resolved_by     TEXT NOT NULL DEFAULT '',
	resolution_note TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS incidents_open_idx ON incidents (subject_id, gate_id) WHERE status <> 'resolved';

CREATE TABLE IF NOT EXISTS audit_records (
	id         UUID PRIMARY KEY,
	request_id UUID NOT NULL,
	gate_id    TEXT NOT NULL,
	action     TEXT NOT NULL,
	decision   TEXT NOT NULL DEFAULT '',
	subject    TEXT NOT NULL DEFAULT '',
	detail     TEXT NOT NULL DEFAULT '',
	ts         TIMESTAMPTZ NOT NULL
);
`
