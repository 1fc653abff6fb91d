// Package livestats reads the gateway-owned per-agent session stores.
//
// The session files are written by the agent runtime and are strictly
// read-only here. A missing file means the agent has never been active,
// which is a normal state, not an error.
package livestats

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"time"
)

// DefaultContextWindow is assumed when a session carries no context size.
const DefaultContextWindow = 200000

// Stats summarizes an agent's live sessions.
type Stats struct {
	TotalTokens    int64   `json:"totalTokens"`
	ActiveSessions int     `json:"activeSessions"`
	MaxPercentUsed int     `json:"maxPercentUsed"`
	LastActivity   *string `json:"lastActivity"`
}

// Session is one live session's counters.
type Session struct {
	SessionKey    string  `json:"sessionKey"`
	Model         string  `json:"model,omitempty"`
	TotalTokens   int64   `json:"totalTokens"`
	InputTokens   int64   `json:"inputTokens"`
	OutputTokens  int64   `json:"outputTokens"`
	ContextWindow int64   `json:"contextWindow"`
	PercentUsed   int     `json:"percentUsed"`
	LastActivity  *string `json:"lastActivity"`
}

// rawSession mirrors the gateway's on-disk shape. UpdatedAt is either a
// unix-millisecond number or an RFC3339 string depending on gateway version.
type rawSession struct {
	Model         string          `json:"model"`
	TotalTokens   int64           `json:"totalTokens"`
	InputTokens   int64           `json:"inputTokens"`
	OutputTokens  int64           `json:"outputTokens"`
	ContextTokens int64           `json:"contextTokens"`
	UpdatedAt     json.RawMessage `json:"updatedAt"`
}

// Source reads live session snapshots from the gateway's agents directory.
type Source struct {
	agentsDir string
}

// NewSource creates a snapshot source rooted at agentsDir.
func NewSource(agentsDir string) *Source {
	return &Source{agentsDir: agentsDir}
}

func (s *Source) sessionsFile(agentID string) string {
	return filepath.Join(s.agentsDir, agentID, "sessions", "sessions.json")
}

// Stats returns the aggregate live counters for an agent. All-zero on any
// read or parse failure.
func (s *Source) Stats(agentID string) Stats {
	sessions := s.readSessions(agentID)
	stats := Stats{}
	for _, raw := range sessions {
		stats.TotalTokens += raw.TotalTokens
		if raw.TotalTokens > 0 {
			stats.ActiveSessions++
		}
		pct := percentUsed(raw.TotalTokens, raw.ContextTokens)
		if pct > stats.MaxPercentUsed {
			stats.MaxPercentUsed = pct
		}
		if ua := parseUpdatedAt(raw.UpdatedAt); ua != nil {
			if stats.LastActivity == nil || *ua > *stats.LastActivity {
				stats.LastActivity = ua
			}
		}
	}
	return stats
}

// Sessions returns the per-session breakdown for an agent, empty on absence.
func (s *Source) Sessions(agentID string) []Session {
	raw := s.readSessions(agentID)
	sessions := make([]Session, 0, len(raw))
	for key, rs := range raw {
		ctx := rs.ContextTokens
		if ctx <= 0 {
			ctx = DefaultContextWindow
		}
		sessions = append(sessions, Session{
			SessionKey:    key,
			Model:         rs.Model,
			TotalTokens:   rs.TotalTokens,
			InputTokens:   rs.InputTokens,
			OutputTokens:  rs.OutputTokens,
			ContextWindow: ctx,
			PercentUsed:   percentUsed(rs.TotalTokens, rs.ContextTokens),
			LastActivity:  parseUpdatedAt(rs.UpdatedAt),
		})
	}
	return sessions
}

func (s *Source) readSessions(agentID string) map[string]rawSession {
	raw, err := os.ReadFile(s.sessionsFile(agentID))
	if err != nil {
		return nil
	}
	var sessions map[string]rawSession
	if err := json.Unmarshal(raw, &sessions); err != nil {
		return nil
	}
	return sessions
}

func percentUsed(total, contextTokens int64) int {
	ctx := contextTokens
	if ctx <= 0 {
		ctx = DefaultContextWindow
	}
	return int(math.Round(float64(total) / float64(ctx) * 100))
}

func parseUpdatedAt(raw json.RawMessage) *string {
	if len(raw) == 0 {
		return nil
	}
	var ms int64
	if err := json.Unmarshal(raw, &ms); err == nil {
		s := time.UnixMilli(ms).UTC().Format(time.RFC3339)
		return &s
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		return &s
	}
	return nil
}
