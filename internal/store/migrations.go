package store

import (
	"fmt"
)

func (s *Store) migrate() error {
	return s.migrateV1()
}

func (s *Store) migrateV1() error {
	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		emoji      TEXT,
		team       TEXT,
		role       TEXT,
		model      TEXT,
		workspace  TEXT,
		status     TEXT NOT NULL DEFAULT 'active',
		chat_username TEXT,
		chat_user_id  TEXT,
		chat_token    TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS skills (
		id           TEXT PRIMARY KEY,
		name         TEXT NOT NULL,
		description  TEXT,
		version      TEXT,
		source       TEXT,
		path         TEXT,
		installed_at TEXT,
		installed_by TEXT,
		status       TEXT NOT NULL DEFAULT 'active'
	);

	CREATE TABLE IF NOT EXISTS agent_skills (
		agent_id TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
		skill_id TEXT NOT NULL,
		PRIMARY KEY (agent_id, skill_id)
	);

	CREATE TABLE IF NOT EXISTS teams (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		channel     TEXT,
		description TEXT
	);

	CREATE TABLE IF NOT EXISTS projects (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL,
		description   TEXT,
		type          TEXT,
		state         TEXT NOT NULL DEFAULT 'backlog',
		progress      INTEGER NOT NULL DEFAULT 0,
		lead          TEXT,
		channel       TEXT,
		channel_id    TEXT,
		workspace     TEXT,
		repo          TEXT,
		current_phase TEXT,
		last_nudge_at TEXT,
		created_at    TEXT NOT NULL,
		updated_at    TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_projects_state ON projects(state);

	CREATE TABLE IF NOT EXISTS project_agents (
		project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		agent_id   TEXT NOT NULL,
		role       TEXT,
		PRIMARY KEY (project_id, agent_id)
	);

	CREATE TABLE IF NOT EXISTS project_phases (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id   TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		name         TEXT NOT NULL,
		status       TEXT NOT NULL DEFAULT 'pending',
		started_at   TEXT,
		completed_at TEXT,
		sort_order   INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_phases_project ON project_phases(project_id, sort_order);

	CREATE TABLE IF NOT EXISTS project_updates (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		agent_id   TEXT,
		message    TEXT NOT NULL,
		type       TEXT NOT NULL DEFAULT 'note',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_updates_project ON project_updates(project_id, created_at);

	CREATE TABLE IF NOT EXISTS token_events (
		id            TEXT PRIMARY KEY,
		agent_id      TEXT,
		project_id    TEXT,
		skill_id      TEXT,
		session_id    TEXT,
		model         TEXT,
		input_tokens  INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		total_tokens  INTEGER NOT NULL DEFAULT 0,
		input_cost    REAL NOT NULL DEFAULT 0,
		output_cost   REAL NOT NULL DEFAULT 0,
		total_cost    REAL NOT NULL DEFAULT 0,
		action        TEXT,
		trigger_type  TEXT,
		created_at    TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_token_events_agent ON token_events(agent_id);
	CREATE INDEX IF NOT EXISTS idx_token_events_project ON token_events(project_id);
	CREATE INDEX IF NOT EXISTS idx_token_events_date ON token_events(created_at);

	CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	INSERT OR REPLACE INTO meta(key, value) VALUES ('schema_version', '1');
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute migration v1: %w", err)
	}
	return nil
}
