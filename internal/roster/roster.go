// Package roster holds the worker-agent identity records.
package roster

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/caracole/agentdeck/internal/derrors"
	"github.com/caracole/agentdeck/internal/store"
)

// Agent is a worker identity participating in projects.
type Agent struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Emoji     string `json:"emoji,omitempty"`
	Team      string `json:"team,omitempty"`
	Role      string `json:"role,omitempty"`
	Model     string `json:"model,omitempty"`
	Workspace string `json:"workspace,omitempty"`
	Status    string `json:"status"`
	// Chat identity (collaboration service binding). Token is never
	// serialized to API responses.
	ChatUsername string `json:"chatUsername,omitempty"`
	ChatUserID   string `json:"chatUserId,omitempty"`
	ChatToken    string `json:"-"`
	CreatedAt    string `json:"createdAt"`
}

// Store handles agent record queries.
type Store struct {
	ds     *store.Store
	logger zerolog.Logger
}

// NewStore creates a new roster store.
func NewStore(ds *store.Store, logger zerolog.Logger) *Store {
	return &Store{
		ds:     ds,
		logger: logger.With().Str("component", "roster").Logger(),
	}
}

const agentColumns = `id, name, emoji, team, role, model, workspace, status, chat_username, chat_user_id, chat_token, created_at`

// Insert adds an agent record. Agents are provisioned externally; this is
// the insertion point after that step.
func (s *Store) Insert(a *Agent) error {
	if a.ID == "" || a.Name == "" {
		return derrors.InvalidInputf("agent id and name are required")
	}
	if a.Status == "" {
		a.Status = "active"
	}
	if a.CreatedAt == "" {
		a.CreatedAt = store.FormatTime(time.Now())
	}
	_, err := s.ds.DB().Exec(`
		INSERT INTO agents (`+agentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, a.Emoji, a.Team, a.Role, a.Model, a.Workspace, a.Status,
		a.ChatUsername, a.ChatUserID, a.ChatToken, a.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return derrors.AlreadyExistsf("agent %q", a.ID)
		}
		return fmt.Errorf("failed to insert agent: %w", err)
	}
	return nil
}

// Get retrieves an agent by id.
func (s *Store) Get(id string) (*Agent, error) {
	a := &Agent{}
	var emoji, team, role, model, workspace, chatUser, chatID, chatToken sql.NullString
	err := s.ds.DB().QueryRow(`SELECT `+agentColumns+` FROM agents WHERE id = ?`, id).Scan(
		&a.ID, &a.Name, &emoji, &team, &role, &model, &workspace, &a.Status,
		&chatUser, &chatID, &chatToken, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, derrors.NotFoundf("agent %q", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	a.Emoji = emoji.String
	a.Team = team.String
	a.Role = role.String
	a.Model = model.String
	a.Workspace = workspace.String
	a.ChatUsername = chatUser.String
	a.ChatUserID = chatID.String
	a.ChatToken = chatToken.String
	return a, nil
}

// List returns all agents ordered by id.
func (s *Store) List() ([]*Agent, error) {
	rows, err := s.ds.DB().Query(`SELECT ` + agentColumns + ` FROM agents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		a := &Agent{}
		var emoji, team, role, model, workspace, chatUser, chatID, chatToken sql.NullString
		if err := rows.Scan(
			&a.ID, &a.Name, &emoji, &team, &role, &model, &workspace, &a.Status,
			&chatUser, &chatID, &chatToken, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		a.Emoji = emoji.String
		a.Team = team.String
		a.Role = role.String
		a.Model = model.String
		a.Workspace = workspace.String
		a.ChatUsername = chatUser.String
		a.ChatUserID = chatID.String
		a.ChatToken = chatToken.String
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// IDs returns all known agent ids.
func (s *Store) IDs() ([]string, error) {
	rows, err := s.ds.DB().Query(`SELECT id FROM agents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list agent ids: %w", err)
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

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}
