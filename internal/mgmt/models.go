package mgmt

import (
	"encoding/json"

	"github.com/caracole/agentdeck/internal/livestats"
	"github.com/caracole/agentdeck/internal/project"
	"github.com/caracole/agentdeck/internal/roster"
	"github.com/caracole/agentdeck/internal/tokens"
)

// ProjectListResponse is the response for GET /api/projects.
type ProjectListResponse struct {
	Projects []*project.Project `json:"projects"`
	Total    int                `json:"total"`
}

// AgentView is an agent record with its live session stats merged in.
type AgentView struct {
	*roster.Agent
	Live livestats.Stats `json:"live"`
}

// AgentListResponse is the response for GET /api/agents.
type AgentListResponse struct {
	Agents []AgentView `json:"agents"`
	Total  int         `json:"total"`
}

// CeremonyRequestBody is the body for POST /api/projects/:id/ceremony.
type CeremonyRequestBody struct {
	Ceremony string `json:"ceremony"`
}

// CeremonyResponse is the response for a started ceremony.
type CeremonyResponse struct {
	OK          bool     `json:"ok"`
	ChannelID   string   `json:"channelId"`
	ChannelName string   `json:"channelName"`
	Ceremony    string   `json:"ceremony"`
	Agents      []string `json:"agents"`
}

// RecordTokensBody is the body for POST /api/tokens/record. Tokens accepts
// either a bare number (taken as the total) or an {input, output, total}
// object.
type RecordTokensBody struct {
	AgentID   string          `json:"agentId"`
	ProjectID string          `json:"projectId"`
	SkillID   string          `json:"skillId"`
	SessionID string          `json:"sessionId"`
	Model     string          `json:"model"`
	Action    string          `json:"action"`
	Tokens    json.RawMessage `json:"tokens"`
}

// Counts decodes the polymorphic tokens field.
func (b *RecordTokensBody) Counts() (tokens.TokenCounts, bool) {
	if len(b.Tokens) == 0 {
		return tokens.TokenCounts{}, false
	}
	var total int64
	if err := json.Unmarshal(b.Tokens, &total); err == nil {
		return tokens.TokenCounts{Total: total}, true
	}
	var counts tokens.TokenCounts
	if err := json.Unmarshal(b.Tokens, &counts); err == nil {
		return counts, true
	}
	return tokens.TokenCounts{}, false
}

// ProblemDetail follows RFC 7807 for error responses.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}
