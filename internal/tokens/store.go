// Package tokens keeps the historical cost ledger and aggregates it with
// live session telemetry into the usage views the dashboard serves.
package tokens

import (
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/caracole/agentdeck/internal/derrors"
	"github.com/caracole/agentdeck/internal/store"
)

// TokenCounts is an input/output/total token triple.
type TokenCounts struct {
	Input  int64 `json:"input"`
	Output int64 `json:"output"`
	Total  int64 `json:"total"`
}

// CostBreakdown is the USD cost of a token triple, rounded to 4 decimals.
type CostBreakdown struct {
	Input  float64 `json:"input"`
	Output float64 `json:"output"`
	Total  float64 `json:"total"`
}

// EventContext records why the tokens were spent.
type EventContext struct {
	Action  string `json:"action"`
	Trigger string `json:"trigger"`
}

// Event is one immutable cost ledger entry.
type Event struct {
	ID        string        `json:"id"`
	Timestamp string        `json:"timestamp"`
	AgentID   string        `json:"agentId"`
	ProjectID string        `json:"projectId,omitempty"`
	SkillID   string        `json:"skillId,omitempty"`
	SessionID string        `json:"sessionId,omitempty"`
	Model     string        `json:"model"`
	Tokens    TokenCounts   `json:"tokens"`
	Cost      CostBreakdown `json:"cost"`
	Context   EventContext  `json:"context"`
}

// RecordInput holds the parameters for recording a consumption event.
// Only AgentID and a positive token count are required; missing input or
// output counts are derived from the total with a 60/40 split.
type RecordInput struct {
	AgentID   string
	ProjectID string
	SkillID   string
	SessionID string
	Model     string
	Action    string
	Trigger   string
	Tokens    TokenCounts
}

// AgentCost is an agent's aggregate ledger line.
type AgentCost struct {
	AgentID string  `json:"agentId"`
	Cost    float64 `json:"cost"`
	Tokens  int64   `json:"tokens"`
	Events  int     `json:"events"`
}

// ProjectCost is a project's aggregate ledger line.
type ProjectCost struct {
	ProjectID string  `json:"projectId"`
	Cost      float64 `json:"cost"`
	Tokens    int64   `json:"tokens"`
}

// DayAggregate summarizes the ledger for the current UTC day.
type DayAggregate struct {
	TotalTokens int64   `json:"totalTokens"`
	TotalCost   float64 `json:"totalCost"`
	Events      int     `json:"events"`
}

// Totals is the all-time ledger summary.
type Totals struct {
	Cost   float64 `json:"cost"`
	Tokens int64   `json:"tokens"`
	Events int     `json:"events"`
}

// TimelineQuery selects and buckets ledger events.
type TimelineQuery struct {
	From    string // inclusive lower bound on event timestamp
	To      string // inclusive upper bound
	GroupBy string // hour | day | week | month, default day
	AgentID string
}

// Bucket is one timeline period.
type Bucket struct {
	Period string  `json:"period"`
	Tokens int64   `json:"tokens"`
	Cost   float64 `json:"cost"`
	Count  int     `json:"count"`
}

// Store is the cost ledger over the shared SQLite store.
type Store struct {
	ds     *store.Store
	rates  *RateTable
	logger zerolog.Logger
}

// NewStore creates a ledger store using the given rate table.
func NewStore(ds *store.Store, rates *RateTable, logger zerolog.Logger) *Store {
	if rates == nil {
		rates = DefaultRates()
	}
	return &Store{
		ds:     ds,
		rates:  rates,
		logger: logger.With().Str("component", "tokens").Logger(),
	}
}

// Record prices and inserts one consumption event. Costs are computed at
// insertion time and never re-derived, so later rate changes do not rewrite
// history.
func (s *Store) Record(in RecordInput) (*Event, error) {
	if in.AgentID == "" {
		return nil, derrors.InvalidInputf("agentId is required")
	}
	counts := in.Tokens
	if counts.Total <= 0 {
		counts.Total = counts.Input + counts.Output
	}
	if counts.Total <= 0 {
		return nil, derrors.InvalidInputf("a positive token count is required")
	}
	if counts.Input == 0 && counts.Output == 0 {
		counts.Input = int64(math.Round(float64(counts.Total) * 0.6))
		counts.Output = counts.Total - counts.Input
	} else if counts.Input == 0 {
		counts.Input = counts.Total - counts.Output
	} else if counts.Output == 0 {
		counts.Output = counts.Total - counts.Input
	}

	model := in.Model
	if model == "" {
		model = DefaultModel
	}
	inputCost, outputCost := s.rates.Lookup(model).Cost(counts.Input, counts.Output)

	event := &Event{
		ID:        fmt.Sprintf("evt-%s", uuid.NewString()),
		Timestamp: store.FormatTime(time.Now()),
		AgentID:   in.AgentID,
		ProjectID: in.ProjectID,
		SkillID:   in.SkillID,
		SessionID: in.SessionID,
		Model:     model,
		Tokens:    counts,
		Cost: CostBreakdown{
			Input:  round4(inputCost),
			Output: round4(outputCost),
			Total:  round4(inputCost + outputCost),
		},
		Context: EventContext{
			Action:  orDefault(in.Action, "task"),
			Trigger: orDefault(in.Trigger, "api"),
		},
	}

	_, err := s.ds.DB().Exec(`
		INSERT INTO token_events (
			id, agent_id, project_id, skill_id, session_id, model,
			input_tokens, output_tokens, total_tokens,
			input_cost, output_cost, total_cost,
			action, trigger_type, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.AgentID, nullIfEmpty(event.ProjectID), nullIfEmpty(event.SkillID),
		nullIfEmpty(event.SessionID), event.Model,
		event.Tokens.Input, event.Tokens.Output, event.Tokens.Total,
		event.Cost.Input, event.Cost.Output, event.Cost.Total,
		event.Context.Action, event.Context.Trigger, event.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("failed to record token event: %w", err)
	}

	s.logger.Debug().Str("agent", event.AgentID).Int64("tokens", event.Tokens.Total).
		Float64("cost", event.Cost.Total).Msg("token event recorded")
	return event, nil
}

// Totals returns the all-time ledger summary.
func (s *Store) Totals() (Totals, error) {
	var cost sql.NullFloat64
	var tokens sql.NullInt64
	var events int
	err := s.ds.DB().QueryRow(`
		SELECT SUM(total_cost), SUM(total_tokens), COUNT(*) FROM token_events`).
		Scan(&cost, &tokens, &events)
	if err != nil {
		return Totals{}, fmt.Errorf("failed to query ledger totals: %w", err)
	}
	return Totals{Cost: cost.Float64, Tokens: tokens.Int64, Events: events}, nil
}

// CostByAgent returns per-agent ledger lines, most expensive first.
func (s *Store) CostByAgent() ([]AgentCost, error) {
	rows, err := s.ds.DB().Query(`
		SELECT agent_id, SUM(total_cost), SUM(total_tokens), COUNT(*)
		FROM token_events GROUP BY agent_id ORDER BY SUM(total_cost) DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query cost by agent: %w", err)
	}
	defer rows.Close()

	var out []AgentCost
	for rows.Next() {
		var line AgentCost
		var agent sql.NullString
		if err := rows.Scan(&agent, &line.Cost, &line.Tokens, &line.Events); err != nil {
			return nil, err
		}
		line.AgentID = agent.String
		out = append(out, line)
	}
	return out, rows.Err()
}

// CostByProject returns per-project ledger lines for events bound to a
// project, most expensive first.
func (s *Store) CostByProject() ([]ProjectCost, error) {
	rows, err := s.ds.DB().Query(`
		SELECT project_id, SUM(total_cost), SUM(total_tokens)
		FROM token_events WHERE project_id IS NOT NULL
		GROUP BY project_id ORDER BY SUM(total_cost) DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query cost by project: %w", err)
	}
	defer rows.Close()

	var out []ProjectCost
	for rows.Next() {
		var line ProjectCost
		if err := rows.Scan(&line.ProjectID, &line.Cost, &line.Tokens); err != nil {
			return nil, err
		}
		out = append(out, line)
	}
	return out, rows.Err()
}

// ProjectSpend returns the total ledger cost attributed to one project.
func (s *Store) ProjectSpend(projectID string) (float64, error) {
	var cost sql.NullFloat64
	err := s.ds.DB().QueryRow(`
		SELECT SUM(total_cost) FROM token_events WHERE project_id = ?`, projectID).
		Scan(&cost)
	if err != nil {
		return 0, fmt.Errorf("failed to query project spend: %w", err)
	}
	return cost.Float64, nil
}

// TodayAggregate summarizes events recorded since UTC midnight. Returns nil
// when today has no token activity.
func (s *Store) TodayAggregate() (*DayAggregate, error) {
	today := time.Now().UTC().Format("2006-01-02")
	var tokens sql.NullInt64
	var cost sql.NullFloat64
	var events int
	err := s.ds.DB().QueryRow(`
		SELECT SUM(total_tokens), SUM(total_cost), COUNT(*)
		FROM token_events WHERE created_at >= ?`, today).
		Scan(&tokens, &cost, &events)
	if err != nil {
		return nil, fmt.Errorf("failed to query today aggregate: %w", err)
	}
	if tokens.Int64 == 0 {
		return nil, nil
	}
	return &DayAggregate{TotalTokens: tokens.Int64, TotalCost: cost.Float64, Events: events}, nil
}

// Timeline buckets ledger events by period. Periods with no events are
// absent, not zero-filled.
func (s *Store) Timeline(q TimelineQuery) ([]Bucket, error) {
	var groupExpr string
	switch q.GroupBy {
	case "hour":
		groupExpr = "strftime('%Y-%m-%dT%H', created_at)"
	case "week":
		groupExpr = "strftime('%Y-%W', created_at)"
	case "month":
		groupExpr = "strftime('%Y-%m', created_at)"
	case "", "day":
		groupExpr = "date(created_at)"
	default:
		return nil, derrors.InvalidInputf("groupBy must be hour, day, week or month, got %q", q.GroupBy)
	}

	var where []string
	var args []any
	if q.From != "" {
		where = append(where, "created_at >= ?")
		args = append(args, q.From)
	}
	if q.To != "" {
		where = append(where, "created_at <= ?")
		args = append(args, q.To)
	}
	if q.AgentID != "" {
		where = append(where, "agent_id = ?")
		args = append(args, q.AgentID)
	}

	query := `SELECT ` + groupExpr + ` AS period, SUM(total_tokens), SUM(total_cost), COUNT(*) FROM token_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " GROUP BY period ORDER BY period"

	rows, err := s.ds.DB().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query timeline: %w", err)
	}
	defer rows.Close()

	var buckets []Bucket
	for rows.Next() {
		var b Bucket
		if err := rows.Scan(&b.Period, &b.Tokens, &b.Cost, &b.Count); err != nil {
			return nil, err
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}
