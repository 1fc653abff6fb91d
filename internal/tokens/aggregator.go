package tokens

import (
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/caracole/agentdeck/internal/livestats"
	"github.com/caracole/agentdeck/internal/project"
	"github.com/caracole/agentdeck/internal/roster"
	"github.com/caracole/agentdeck/internal/store"
)

// AgentUsage merges an agent's live tokens with its ledger cost.
type AgentUsage struct {
	AgentID  string  `json:"agentId"`
	Tokens   int64   `json:"tokens"`
	Sessions int     `json:"sessions"`
	Cost     float64 `json:"cost"`
}

// Summary is the fleet-wide usage view. Token counts come from the live
// session stores; costs come from the ledger. The two sources are
// independent and may disagree, which is expected.
type Summary struct {
	TotalTokens    int64         `json:"totalTokens"`
	TotalSessions  int           `json:"totalSessions"`
	TotalCost      float64       `json:"totalCost"`
	TotalEvents    int           `json:"totalEvents"`
	TodayAggregate *DayAggregate `json:"todayAggregate"`
	TopAgents      []AgentUsage  `json:"topAgents"`
	TopProjects    []ProjectCost `json:"topProjects"`
	Timestamp      string        `json:"timestamp"`
}

// AgentActivity is one assignee's live counters in a project activity view.
type AgentActivity struct {
	AgentID string `json:"agentId"`
	livestats.Stats
}

// ActivityTokens groups the token figures of a project activity view.
type ActivityTokens struct {
	Total     int64           `json:"total"`
	ByAgent   []AgentActivity `json:"byAgent"`
	BurnRate  int64           `json:"burnRate"`
	TotalCost float64         `json:"totalCost"`
}

// Activity is the per-project resource view.
type Activity struct {
	ProjectID     string           `json:"projectId"`
	ProjectName   string           `json:"projectName"`
	Assignees     []string         `json:"assignees"`
	Tokens        ActivityTokens   `json:"tokens"`
	RecentUpdates []project.Update `json:"recentUpdates"`
	Timestamp     string           `json:"timestamp"`
}

// TimelineResult wraps timeline buckets with query metadata.
type TimelineResult struct {
	Timeline    []Bucket `json:"timeline"`
	GroupBy     string   `json:"groupBy"`
	TotalEvents int      `json:"totalEvents"`
	Timestamp   string   `json:"timestamp"`
}

// Aggregator joins the cost ledger, the roster and the live session stores
// into the dashboard's usage views.
type Aggregator struct {
	ledger   *Store
	roster   *roster.Store
	projects *project.Store
	live     *livestats.Source
	logger   zerolog.Logger
}

// NewAggregator creates a usage aggregator.
func NewAggregator(ledger *Store, ro *roster.Store, projects *project.Store, live *livestats.Source, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		ledger:   ledger,
		roster:   ro,
		projects: projects,
		live:     live,
		logger:   logger.With().Str("component", "tokens.aggregator").Logger(),
	}
}

// Summary builds the fleet-wide usage view.
func (a *Aggregator) Summary() (*Summary, error) {
	ids, err := a.roster.IDs()
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		TopAgents:   make([]AgentUsage, 0, len(ids)),
		Timestamp:   store.FormatTime(time.Now()),
		TopProjects: []ProjectCost{},
	}
	for _, id := range ids {
		live := a.live.Stats(id)
		summary.TotalTokens += live.TotalTokens
		summary.TotalSessions += live.ActiveSessions
		summary.TopAgents = append(summary.TopAgents, AgentUsage{
			AgentID:  id,
			Tokens:   live.TotalTokens,
			Sessions: live.ActiveSessions,
		})
	}

	totals, err := a.ledger.Totals()
	if err != nil {
		return nil, err
	}
	summary.TotalCost = totals.Cost
	summary.TotalEvents = totals.Events

	byAgent, err := a.ledger.CostByAgent()
	if err != nil {
		return nil, err
	}
	costs := make(map[string]float64, len(byAgent))
	for _, line := range byAgent {
		costs[line.AgentID] = line.Cost
	}
	for i := range summary.TopAgents {
		summary.TopAgents[i].Cost = costs[summary.TopAgents[i].AgentID]
	}
	sort.Slice(summary.TopAgents, func(i, j int) bool {
		return summary.TopAgents[i].Tokens > summary.TopAgents[j].Tokens
	})

	byProject, err := a.ledger.CostByProject()
	if err != nil {
		return nil, err
	}
	summary.TopProjects = append(summary.TopProjects, byProject...)

	summary.TodayAggregate, err = a.ledger.TodayAggregate()
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// Activity builds the per-project resource view. The burn rate is live
// tokens divided by project age in hours, rounded; zero for projects
// created just now.
func (a *Aggregator) Activity(projectID string) (*Activity, error) {
	p, err := a.projects.Get(projectID)
	if err != nil {
		return nil, err
	}

	assignees := make([]string, 0, len(p.Team))
	for _, member := range p.Team {
		assignees = append(assignees, member.Agent)
	}

	activity := &Activity{
		ProjectID:   p.ID,
		ProjectName: p.Name,
		Assignees:   assignees,
		Tokens:      ActivityTokens{ByAgent: []AgentActivity{}},
		Timestamp:   store.FormatTime(time.Now()),
	}
	for _, agentID := range assignees {
		live := a.live.Stats(agentID)
		if live.TotalTokens == 0 {
			continue
		}
		activity.Tokens.Total += live.TotalTokens
		activity.Tokens.ByAgent = append(activity.Tokens.ByAgent, AgentActivity{
			AgentID: agentID,
			Stats:   live,
		})
	}

	if created, err := time.Parse(store.TimeFormat, p.CreatedAt); err == nil {
		ageHours := time.Since(created).Hours()
		if ageHours > 0 {
			activity.Tokens.BurnRate = int64(math.Round(float64(activity.Tokens.Total) / ageHours))
		}
	}

	activity.Tokens.TotalCost, err = a.ledger.ProjectSpend(projectID)
	if err != nil {
		return nil, err
	}

	activity.RecentUpdates, err = a.projects.ListUpdates(projectID, 10)
	if err != nil {
		return nil, err
	}
	return activity, nil
}

// Timeline answers a bucketed usage query.
func (a *Aggregator) Timeline(q TimelineQuery) (*TimelineResult, error) {
	buckets, err := a.ledger.Timeline(q)
	if err != nil {
		return nil, err
	}
	groupBy := q.GroupBy
	if groupBy == "" {
		groupBy = "day"
	}
	result := &TimelineResult{
		Timeline:  buckets,
		GroupBy:   groupBy,
		Timestamp: store.FormatTime(time.Now()),
	}
	if result.Timeline == nil {
		result.Timeline = []Bucket{}
	}
	for _, b := range buckets {
		result.TotalEvents += b.Count
	}
	return result, nil
}
