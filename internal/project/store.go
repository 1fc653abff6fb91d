package project

import (
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/caracole/agentdeck/internal/derrors"
	"github.com/caracole/agentdeck/internal/store"
)

// DashboardActor attributes log entries written by the dashboard itself.
const DashboardActor = "dashboard"

// Store handles project-related SQLite operations.
type Store struct {
	ds     *store.Store
	logger zerolog.Logger
}

// NewStore creates a new project store.
func NewStore(ds *store.Store, logger zerolog.Logger) *Store {
	return &Store{
		ds:     ds,
		logger: logger.With().Str("component", "project.store").Logger(),
	}
}

const projectColumns = `id, name, description, type, state, progress, lead, channel, channel_id, workspace, repo, current_phase, last_nudge_at, created_at, updated_at`

// Create inserts a new project with its optional team and phases.
func (s *Store) Create(input CreateInput) (*Project, error) {
	if input.ID == "" || input.Name == "" {
		return nil, derrors.InvalidInputf("project id and name are required")
	}
	state := input.State
	if state == "" {
		state = StateBacklog
	}
	if !state.Valid() {
		return nil, derrors.InvalidInputf("unknown state %q", state)
	}

	now := store.FormatTime(time.Now())
	p := &Project{
		ID:          input.ID,
		Name:        input.Name,
		Description: input.Description,
		Type:        input.Type,
		State:       state,
		Progress:    0,
		Lead:        input.Lead,
		Workspace:   input.Workspace,
		Repo:        input.Repo,
		CreatedAt:   now,
		UpdatedAt:   now,
		Team:        []Member{},
		Phases:      []Phase{},
	}

	_, err := s.ds.DB().Exec(`
		INSERT INTO projects (id, name, description, type, state, progress, lead, channel, channel_id, workspace, repo, current_phase, last_nudge_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL, NULL, ?, ?, NULL, NULL, ?, ?)`,
		p.ID, p.Name, nullable(p.Description), nullable(p.Type), string(p.State), p.Progress,
		nullable(p.Lead), nullable(p.Workspace), nullable(p.Repo), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return nil, derrors.AlreadyExistsf("project %q", p.ID)
		}
		return nil, fmt.Errorf("failed to create project: %w", err)
	}

	if len(input.Team) > 0 {
		if err := s.replaceTeam(p.ID, input.Team); err != nil {
			return nil, err
		}
		p.Team = input.Team
	}
	if len(input.Phases) > 0 {
		if err := s.replacePhases(p.ID, input.Phases); err != nil {
			return nil, err
		}
		p.Phases = input.Phases
	}

	return p, nil
}

// Get retrieves a project with its team, phases, and recent updates.
func (s *Store) Get(id string) (*Project, error) {
	p, err := s.getRow(id)
	if err != nil {
		return nil, err
	}

	children, err := s.fetchChildren([]string{id}, 20)
	if err != nil {
		return nil, err
	}
	s.attach(p, children)
	return p, nil
}

// List returns projects, optionally filtered by state, ordered by most
// recently updated. Team and phases are loaded with one batched query per
// child table rather than one per project.
func (s *Store) List(state string) ([]*Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects`
	var args []interface{}
	if state != "" {
		query += ` WHERE state = ?`
		args = append(args, state)
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.ds.DB().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []*Project
	var ids []string
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
		ids = append(ids, p.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(ids) > 0 {
		children, err := s.fetchChildren(ids, 0)
		if err != nil {
			return nil, err
		}
		for _, p := range projects {
			s.attach(p, children)
		}
	}
	return projects, nil
}

// ApplyPatch applies a sparse patch and returns the updated project along
// with the previous and new state values. Relation slices replace the full
// set; log inputs append. updated_at is always refreshed.
func (s *Store) ApplyPatch(id string, patch *Patch) (*Project, State, State, error) {
	prev, err := s.getRow(id)
	if err != nil {
		return nil, "", "", err
	}
	prevState := prev.State

	sets := []string{}
	args := []interface{}{}
	set := func(col string, v interface{}) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}

	if patch.Name != nil {
		set("name", *patch.Name)
	}
	if patch.Description != nil {
		set("description", nullable(*patch.Description))
	}
	if patch.Type != nil {
		set("type", nullable(*patch.Type))
	}
	if patch.State != nil {
		if !patch.State.Valid() {
			return nil, "", "", derrors.InvalidInputf("unknown state %q", *patch.State)
		}
		set("state", string(*patch.State))
	}
	if patch.Progress != nil {
		set("progress", clampProgress(*patch.Progress))
	}
	if patch.Lead != nil {
		set("lead", nullable(*patch.Lead))
	}
	if patch.Workspace != nil {
		set("workspace", nullable(*patch.Workspace))
	}
	if patch.Repo != nil {
		set("repo", nullable(*patch.Repo))
	}
	if patch.CurrentPhase != nil {
		set("current_phase", nullable(*patch.CurrentPhase))
	}

	// Phase replacement recomputes progress unless the patch sets it
	// explicitly.
	if patch.Phases != nil && patch.Progress == nil {
		set("progress", progressFromPhases(patch.Phases))
	}

	now := store.FormatTime(time.Now())
	set("updated_at", now)
	args = append(args, id)

	if _, err := s.ds.DB().Exec(
		`UPDATE projects SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...); err != nil {
		return nil, "", "", fmt.Errorf("failed to patch project: %w", err)
	}

	if patch.Team != nil {
		if err := s.replaceTeam(id, patch.Team); err != nil {
			return nil, "", "", err
		}
	}
	if patch.Phases != nil {
		if err := s.replacePhases(id, patch.Phases); err != nil {
			return nil, "", "", err
		}
	}

	if patch.Message != nil && *patch.Message != "" {
		if err := s.AddUpdate(id, DashboardActor, *patch.Message, "note"); err != nil {
			return nil, "", "", err
		}
	} else if len(patch.Updates) > 0 {
		for _, u := range patch.Updates {
			typ := u.Type
			if typ == "" {
				typ = "note"
			}
			if err := s.AddUpdate(id, u.AgentID, u.Message, typ); err != nil {
				return nil, "", "", err
			}
		}
	}

	updated, err := s.Get(id)
	if err != nil {
		return nil, "", "", err
	}
	return updated, prevState, updated.State, nil
}

// SetChannel persists the collaboration channel binding.
func (s *Store) SetChannel(id, channel, channelID string) error {
	now := store.FormatTime(time.Now())
	res, err := s.ds.DB().Exec(
		`UPDATE projects SET channel = ?, channel_id = ?, updated_at = ? WHERE id = ?`,
		channel, channelID, now, id)
	if err != nil {
		return fmt.Errorf("failed to set channel: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return derrors.NotFoundf("project %q", id)
	}
	return nil
}

// SetLastNudge records the moment a nudge was sent.
func (s *Store) SetLastNudge(id string, t time.Time) error {
	ts := store.FormatTime(t)
	res, err := s.ds.DB().Exec(
		`UPDATE projects SET last_nudge_at = ?, updated_at = ? WHERE id = ?`, ts, ts, id)
	if err != nil {
		return fmt.Errorf("failed to set last nudge: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return derrors.NotFoundf("project %q", id)
	}
	return nil
}

// AddUpdate appends one entry to the project's update log.
func (s *Store) AddUpdate(projectID, agentID, message, typ string) error {
	if typ == "" {
		typ = "note"
	}
	_, err := s.ds.DB().Exec(
		`INSERT INTO project_updates (project_id, agent_id, message, type, created_at) VALUES (?, ?, ?, ?, ?)`,
		projectID, nullable(agentID), message, typ, store.FormatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to add update: %w", err)
	}
	return nil
}

// ListUpdates returns the most recent log entries, newest first.
func (s *Store) ListUpdates(projectID string, limit int) ([]Update, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.ds.DB().Query(
		`SELECT created_at, agent_id, message, type FROM project_updates WHERE project_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list updates: %w", err)
	}
	defer rows.Close()

	updates := []Update{}
	for rows.Next() {
		var u Update
		var agentID sql.NullString
		if err := rows.Scan(&u.Timestamp, &agentID, &u.Message, &u.Type); err != nil {
			return nil, err
		}
		u.AgentID = agentID.String
		updates = append(updates, u)
	}
	return updates, rows.Err()
}

// TeamIDs returns the agent ids assigned to a project.
func (s *Store) TeamIDs(projectID string) ([]string, error) {
	rows, err := s.ds.DB().Query(
		`SELECT agent_id FROM project_agents WHERE project_id = ? ORDER BY agent_id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list team: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- internals ---

type childRecords struct {
	team    map[string][]Member
	phases  map[string][]Phase
	updates map[string][]Update
}

// fetchChildren loads team, phases, and (optionally) recent updates for a
// set of project ids in one query per table. updateLimit 0 skips updates.
func (s *Store) fetchChildren(ids []string, updateLimit int) (*childRecords, error) {
	c := &childRecords{
		team:    map[string][]Member{},
		phases:  map[string][]Phase{},
		updates: map[string][]Update{},
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.ds.DB().Query(
		`SELECT project_id, agent_id, role FROM project_agents WHERE project_id IN (`+placeholders+`) ORDER BY agent_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch team members: %w", err)
	}
	for rows.Next() {
		var pid string
		var m Member
		var role sql.NullString
		if err := rows.Scan(&pid, &m.Agent, &role); err != nil {
			rows.Close()
			return nil, err
		}
		m.Role = role.String
		c.team[pid] = append(c.team[pid], m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.ds.DB().Query(
		`SELECT project_id, name, status, started_at, completed_at, sort_order FROM project_phases WHERE project_id IN (`+placeholders+`) ORDER BY project_id, sort_order`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch phases: %w", err)
	}
	for rows.Next() {
		var pid string
		var ph Phase
		var started, completed sql.NullString
		if err := rows.Scan(&pid, &ph.Name, &ph.Status, &started, &completed, &ph.SortOrder); err != nil {
			rows.Close()
			return nil, err
		}
		if started.Valid {
			ph.StartedAt = &started.String
		}
		if completed.Valid {
			ph.CompletedAt = &completed.String
		}
		c.phases[pid] = append(c.phases[pid], ph)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if updateLimit > 0 {
		for _, id := range ids {
			updates, err := s.ListUpdates(id, updateLimit)
			if err != nil {
				return nil, err
			}
			c.updates[id] = updates
		}
	}
	return c, nil
}

func (s *Store) attach(p *Project, c *childRecords) {
	p.Team = c.team[p.ID]
	if p.Team == nil {
		p.Team = []Member{}
	}
	p.Phases = c.phases[p.ID]
	if p.Phases == nil {
		p.Phases = []Phase{}
	}
	p.Updates = c.updates[p.ID]
}

func (s *Store) getRow(id string) (*Project, error) {
	row := s.ds.DB().QueryRow(`SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, derrors.NotFoundf("project %q", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return p, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanProject(row scanner) (*Project, error) {
	p := &Project{}
	var description, typ, lead, channel, channelID, workspace, repo, currentPhase, lastNudge sql.NullString
	var state string
	err := row.Scan(
		&p.ID, &p.Name, &description, &typ, &state, &p.Progress, &lead,
		&channel, &channelID, &workspace, &repo, &currentPhase, &lastNudge,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.State = State(state)
	p.Description = description.String
	p.Type = typ.String
	p.Lead = lead.String
	p.Channel = channel.String
	p.ChannelID = channelID.String
	p.Workspace = workspace.String
	p.Repo = repo.String
	p.CurrentPhase = currentPhase.String
	if lastNudge.Valid {
		p.LastNudgeAt = &lastNudge.String
	}
	return p, nil
}

// replaceTeam swaps the entire membership set. Not atomic with respect to
// concurrent readers; the dashboard tolerates a transiently empty set.
func (s *Store) replaceTeam(projectID string, team []Member) error {
	if _, err := s.ds.DB().Exec(`DELETE FROM project_agents WHERE project_id = ?`, projectID); err != nil {
		return fmt.Errorf("failed to clear team: %w", err)
	}
	for _, m := range team {
		if m.Agent == "" {
			continue
		}
		_, err := s.ds.DB().Exec(
			`INSERT OR REPLACE INTO project_agents (project_id, agent_id, role) VALUES (?, ?, ?)`,
			projectID, m.Agent, nullable(m.Role))
		if err != nil {
			return fmt.Errorf("failed to insert team member: %w", err)
		}
	}
	return nil
}

func (s *Store) replacePhases(projectID string, phases []Phase) error {
	if _, err := s.ds.DB().Exec(`DELETE FROM project_phases WHERE project_id = ?`, projectID); err != nil {
		return fmt.Errorf("failed to clear phases: %w", err)
	}
	for i, ph := range phases {
		status := ph.Status
		if status == "" {
			status = "pending"
		}
		_, err := s.ds.DB().Exec(
			`INSERT INTO project_phases (project_id, name, status, started_at, completed_at, sort_order) VALUES (?, ?, ?, ?, ?, ?)`,
			projectID, ph.Name, status, nullablePtr(ph.StartedAt), nullablePtr(ph.CompletedAt), i)
		if err != nil {
			return fmt.Errorf("failed to insert phase: %w", err)
		}
	}
	return nil
}

func progressFromPhases(phases []Phase) int {
	if len(phases) == 0 {
		return 0
	}
	completed := 0
	for _, ph := range phases {
		if ph.Status == "completed" {
			completed++
		}
	}
	return int(math.Round(float64(completed) / float64(len(phases)) * 100))
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func nullable(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}

func nullablePtr(v *string) interface{} {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}
