package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Legacy flat-file shapes. The dashboard originally kept its records in a
// handful of JSON files; they are imported once into SQLite on first open.

type seedAgentFile struct {
	Agents []seedAgent `json:"agents"`
}

type seedAgent struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Emoji     string `json:"emoji"`
	Team      string `json:"team"`
	Role      string `json:"role"`
	Model     string `json:"model"`
	Workspace string `json:"workspace"`
	Status    string `json:"status"`
	Chat      *struct {
		Username string `json:"username"`
		UserID   string `json:"userId"`
		Token    string `json:"token"`
	} `json:"chat"`
	CreatedAt string `json:"createdAt"`
}

type seedSkillFile struct {
	Installed []struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description"`
		Version     string `json:"version"`
		Source      string `json:"source"`
		Path        string `json:"path"`
		InstalledAt string `json:"installedAt"`
		InstalledBy string `json:"installedBy"`
		Status      string `json:"status"`
	} `json:"installed"`
	Assignments map[string][]string `json:"assignments"`
}

type seedTeamFile struct {
	Teams map[string]struct {
		Name        string `json:"name"`
		Channel     string `json:"channel"`
		Description string `json:"description"`
	} `json:"teams"`
}

type seedProjectFile struct {
	Projects []seedProject `json:"projects"`
}

type seedProject struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Type        string            `json:"type"`
	State       string            `json:"state"`
	Progress    int               `json:"progress"`
	Lead        string            `json:"lead"`
	Channel     string            `json:"channel"`
	ChannelID   string            `json:"channelId"`
	Workspace   string            `json:"workspace"`
	Repo        string            `json:"repo"`
	CurrentPh   string            `json:"currentPhase"`
	LastNudgeAt string            `json:"lastNudgeAt"`
	CreatedAt   string            `json:"createdAt"`
	UpdatedAt   string            `json:"updatedAt"`
	Team        []json.RawMessage `json:"team"`
	Phases      []struct {
		Name        string `json:"name"`
		Status      string `json:"status"`
		StartedAt   string `json:"startedAt"`
		CompletedAt string `json:"completedAt"`
	} `json:"phases"`
	Updates []struct {
		AgentID   string `json:"agentId"`
		Message   string `json:"message"`
		Type      string `json:"type"`
		Timestamp string `json:"timestamp"`
	} `json:"updates"`
}

type seedTokenFile struct {
	Usage []struct {
		ID        string `json:"id"`
		AgentID   string `json:"agentId"`
		ProjectID string `json:"projectId"`
		SkillID   string `json:"skillId"`
		SessionID string `json:"sessionId"`
		Model     string `json:"model"`
		Tokens    struct {
			Input  int64 `json:"input"`
			Output int64 `json:"output"`
			Total  int64 `json:"total"`
		} `json:"tokens"`
		Cost struct {
			Input  float64 `json:"input"`
			Output float64 `json:"output"`
			Total  float64 `json:"total"`
		} `json:"cost"`
		Context struct {
			Action  string `json:"action"`
			Trigger string `json:"trigger"`
		} `json:"context"`
		Timestamp string `json:"timestamp"`
	} `json:"usage"`
}

// seedOnce imports the legacy JSON sources if the seeded marker is absent.
// Individual file failures are skipped, not fatal; a missing sources dir is
// a normal fresh install.
func (s *Store) seedOnce(sourcesDir string) error {
	var seeded string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'seeded'`).Scan(&seeded)
	if err == nil {
		return nil // already seeded
	}

	if sourcesDir != "" {
		s.seedAgents(sourcesDir)
		s.seedSkills(sourcesDir)
		s.seedTeams(sourcesDir)
		s.seedProjects(sourcesDir)
		s.seedTokens(sourcesDir)
	}

	_, err = s.db.Exec(`INSERT OR REPLACE INTO meta(key, value) VALUES ('seeded', ?)`,
		FormatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to write seeded marker: %w", err)
	}
	return nil
}

func (s *Store) readSeedFile(dir, name string, v interface{}) bool {
	raw, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn().Err(err).Str("file", name).Msg("seed file unreadable, skipping")
		}
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		s.logger.Warn().Err(err).Str("file", name).Msg("seed file malformed, skipping")
		return false
	}
	return true
}

func (s *Store) seedAgents(dir string) {
	var f seedAgentFile
	if !s.readSeedFile(dir, "agents.json", &f) {
		return
	}
	for _, a := range f.Agents {
		status := a.Status
		if status == "" {
			status = "active"
		}
		createdAt := a.CreatedAt
		if createdAt == "" {
			createdAt = FormatTime(time.Now())
		}
		var chatUser, chatID, chatToken string
		if a.Chat != nil {
			chatUser, chatID, chatToken = a.Chat.Username, a.Chat.UserID, a.Chat.Token
		}
		_, err := s.db.Exec(`
			INSERT OR REPLACE INTO agents (id, name, emoji, team, role, model, workspace, status, chat_username, chat_user_id, chat_token, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.Name, a.Emoji, a.Team, a.Role, a.Model, a.Workspace, status,
			chatUser, chatID, chatToken, createdAt)
		if err != nil {
			s.logger.Warn().Err(err).Str("agent", a.ID).Msg("seed agent insert failed")
		}
	}
	s.logger.Info().Int("count", len(f.Agents)).Msg("seeded agents")
}

func (s *Store) seedSkills(dir string) {
	var f seedSkillFile
	if !s.readSeedFile(dir, "skills.json", &f) {
		return
	}
	for _, sk := range f.Installed {
		status := sk.Status
		if status == "" {
			status = "active"
		}
		_, err := s.db.Exec(`
			INSERT OR REPLACE INTO skills (id, name, description, version, source, path, installed_at, installed_by, status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sk.ID, sk.Name, sk.Description, sk.Version, sk.Source, sk.Path,
			sk.InstalledAt, sk.InstalledBy, status)
		if err != nil {
			s.logger.Warn().Err(err).Str("skill", sk.ID).Msg("seed skill insert failed")
		}
	}
	for agentID, skillIDs := range f.Assignments {
		for _, skillID := range skillIDs {
			_, _ = s.db.Exec(`INSERT OR REPLACE INTO agent_skills (agent_id, skill_id) VALUES (?, ?)`,
				agentID, skillID)
		}
	}
	s.logger.Info().Int("count", len(f.Installed)).Msg("seeded skills")
}

func (s *Store) seedTeams(dir string) {
	var f seedTeamFile
	if !s.readSeedFile(dir, "teams.json", &f) {
		return
	}
	for id, t := range f.Teams {
		_, err := s.db.Exec(`INSERT OR REPLACE INTO teams (id, name, channel, description) VALUES (?, ?, ?, ?)`,
			id, t.Name, t.Channel, t.Description)
		if err != nil {
			s.logger.Warn().Err(err).Str("team", id).Msg("seed team insert failed")
		}
	}
}

func (s *Store) seedProjects(dir string) {
	var f seedProjectFile
	if !s.readSeedFile(dir, "projects.json", &f) {
		return
	}
	now := FormatTime(time.Now())
	for _, p := range f.Projects {
		state := p.State
		if state == "" {
			state = "backlog"
		}
		createdAt := p.CreatedAt
		if createdAt == "" {
			createdAt = now
		}
		updatedAt := p.UpdatedAt
		if updatedAt == "" {
			updatedAt = now
		}
		_, err := s.db.Exec(`
			INSERT OR REPLACE INTO projects (id, name, description, type, state, progress, lead, channel, channel_id, workspace, repo, current_phase, last_nudge_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.Name, p.Description, p.Type, state, p.Progress,
			nullable(p.Lead), nullable(p.Channel), nullable(p.ChannelID),
			nullable(p.Workspace), nullable(p.Repo), nullable(p.CurrentPh),
			nullable(p.LastNudgeAt), createdAt, updatedAt)
		if err != nil {
			s.logger.Warn().Err(err).Str("project", p.ID).Msg("seed project insert failed")
			continue
		}

		// Team entries are either bare agent-id strings or {agent, role}.
		for _, raw := range p.Team {
			var agentID string
			var member struct {
				Agent string `json:"agent"`
				Role  string `json:"role"`
			}
			role := ""
			if err := json.Unmarshal(raw, &agentID); err != nil {
				if err := json.Unmarshal(raw, &member); err != nil {
					continue
				}
				agentID, role = member.Agent, member.Role
			}
			_, _ = s.db.Exec(`INSERT OR REPLACE INTO project_agents (project_id, agent_id, role) VALUES (?, ?, ?)`,
				p.ID, agentID, nullable(role))
		}

		for i, ph := range p.Phases {
			status := ph.Status
			if status == "" {
				status = "pending"
			}
			_, _ = s.db.Exec(`INSERT INTO project_phases (project_id, name, status, started_at, completed_at, sort_order) VALUES (?, ?, ?, ?, ?, ?)`,
				p.ID, ph.Name, status, nullable(ph.StartedAt), nullable(ph.CompletedAt), i)
		}

		for _, u := range p.Updates {
			ts := u.Timestamp
			if ts == "" {
				ts = now
			}
			typ := u.Type
			if typ == "" {
				typ = "note"
			}
			_, _ = s.db.Exec(`INSERT INTO project_updates (project_id, agent_id, message, type, created_at) VALUES (?, ?, ?, ?, ?)`,
				p.ID, nullable(u.AgentID), u.Message, typ, ts)
		}
	}
	s.logger.Info().Int("count", len(f.Projects)).Msg("seeded projects")
}

func (s *Store) seedTokens(dir string) {
	var f seedTokenFile
	if !s.readSeedFile(dir, "tokens.json", &f) {
		return
	}
	for _, e := range f.Usage {
		_, err := s.db.Exec(`
			INSERT OR REPLACE INTO token_events (id, agent_id, project_id, skill_id, session_id, model, input_tokens, output_tokens, total_tokens, input_cost, output_cost, total_cost, action, trigger_type, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.AgentID, nullable(e.ProjectID), nullable(e.SkillID), nullable(e.SessionID),
			e.Model, e.Tokens.Input, e.Tokens.Output, e.Tokens.Total,
			e.Cost.Input, e.Cost.Output, e.Cost.Total,
			nullable(e.Context.Action), nullable(e.Context.Trigger), e.Timestamp)
		if err != nil {
			s.logger.Warn().Err(err).Str("event", e.ID).Msg("seed token event insert failed")
		}
	}
	s.logger.Info().Int("count", len(f.Usage)).Msg("seeded token events")
}

func nullable(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}
