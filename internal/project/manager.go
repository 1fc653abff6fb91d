package project

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/caracole/agentdeck/internal/derrors"
	"github.com/caracole/agentdeck/internal/store"
)

// CeremonyRequest asks the orchestrator to set up a review or rex ceremony.
type CeremonyRequest struct {
	ProjectID    string
	ProjectName  string
	Kind         string // "review" | "rex"
	Workspace    string
	Participants []string
}

// CeremonyOutcome reports the channel a ceremony ended up in.
type CeremonyOutcome struct {
	ChannelID   string `json:"channelId"`
	ChannelName string `json:"channelName"`
}

// CeremonyTrigger starts a ceremony. Implemented by the ceremony
// orchestrator; nil when no chat service is configured.
type CeremonyTrigger interface {
	StartCeremony(ctx context.Context, req CeremonyRequest) (CeremonyOutcome, error)
}

// Notifier delivers a message through the agent runtime. Best effort.
type Notifier interface {
	Send(ctx context.Context, task string) error
}

// ErrorSink counts background failures that are logged but never surfaced.
type ErrorSink interface {
	BackgroundError(stage string)
}

// Manager applies state transitions and owns their side effects: the
// asynchronous ceremony trigger and the cooldown-gated nudge.
type Manager struct {
	store         *Store
	ceremonies    CeremonyTrigger
	notifier      Notifier
	sink          ErrorSink
	cooldown      time.Duration
	coordinatorID string
	ceremonyWait  time.Duration
	logger        zerolog.Logger

	now func() time.Time
	wg  sync.WaitGroup
}

// ManagerConfig holds manager dependencies and tuning.
type ManagerConfig struct {
	Ceremonies    CeremonyTrigger
	Notifier      Notifier
	Sink          ErrorSink
	Cooldown      time.Duration
	CoordinatorID string
}

// NewManager creates a project manager.
func NewManager(st *Store, cfg ManagerConfig, logger zerolog.Logger) *Manager {
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = 15 * time.Second
	}
	coordinator := cfg.CoordinatorID
	if coordinator == "" {
		coordinator = "main"
	}
	return &Manager{
		store:         st,
		ceremonies:    cfg.Ceremonies,
		notifier:      cfg.Notifier,
		sink:          cfg.Sink,
		cooldown:      cooldown,
		coordinatorID: coordinator,
		ceremonyWait:  60 * time.Second,
		logger:        logger.With().Str("component", "project.manager").Logger(),
		now:           time.Now,
	}
}

// Patch applies a sparse update. A state write landing on review or rex
// with a changed value submits the matching ceremony in the background;
// the caller sees the state write succeed regardless of how the ceremony
// fares.
func (m *Manager) Patch(ctx context.Context, id string, patch *Patch) (*Project, error) {
	p, prevState, newState, err := m.store.ApplyPatch(id, patch)
	if err != nil {
		return nil, err
	}

	if kind, ok := newState.CeremonyKind(); ok && prevState != newState {
		m.submitCeremony(p, kind)
	}
	return p, nil
}

// StartCeremony runs a ceremony synchronously for the explicit API trigger.
func (m *Manager) StartCeremony(ctx context.Context, id, kind string) (CeremonyOutcome, []string, error) {
	if kind != "review" && kind != "rex" {
		return CeremonyOutcome{}, nil, derrors.InvalidInputf("ceremony must be \"review\" or \"rex\", got %q", kind)
	}
	if m.ceremonies == nil {
		return CeremonyOutcome{}, nil, fmt.Errorf("chat service not configured: %w", derrors.ErrUnavailable)
	}

	p, err := m.store.getRow(id)
	if err != nil {
		return CeremonyOutcome{}, nil, err
	}
	participants, err := m.participants(id)
	if err != nil {
		return CeremonyOutcome{}, nil, err
	}
	if len(participants) == 0 {
		return CeremonyOutcome{}, nil, derrors.InvalidInputf("no contributing agents on project %q", id)
	}

	outcome, err := m.ceremonies.StartCeremony(ctx, CeremonyRequest{
		ProjectID:    p.ID,
		ProjectName:  p.Name,
		Kind:         kind,
		Workspace:    p.Workspace,
		Participants: participants,
	})
	if err != nil {
		return CeremonyOutcome{}, nil, err
	}
	return outcome, participants, nil
}

// Nudge re-engages a project's team, gated by the cooldown window.
func (m *Manager) Nudge(ctx context.Context, id string) (*NudgeResult, error) {
	p, err := m.store.getRow(id)
	if err != nil {
		return nil, err
	}

	now := m.now()
	if p.LastNudgeAt != nil {
		last, err := time.Parse(store.TimeFormat, *p.LastNudgeAt)
		if err == nil {
			elapsed := now.Sub(last)
			if elapsed < m.cooldown {
				return nil, &derrors.RateLimitError{RetryAfter: m.cooldown - elapsed}
			}
		}
	}

	team, err := m.store.TeamIDs(id)
	if err != nil {
		return nil, err
	}
	if len(team) == 0 {
		return nil, derrors.InvalidInputf("no agents assigned to project %q", id)
	}

	task := fmt.Sprintf(
		"Nudge for project %q.\n\nState: %s (%d%%)\nAgents: %s\n\n"+
			"Take stock of where the project stands. If blocked, sync with each other; "+
			"if a decision is needed, escalate to the supervisor.",
		p.Name, p.State, p.Progress, strings.Join(team, ", "))

	delivered := false
	if m.notifier != nil {
		if err := m.notifier.Send(ctx, task); err != nil {
			m.logger.Warn().Err(err).Str("project", id).Msg("nudge delivery failed")
			m.countError("nudge_delivery")
		} else {
			delivered = true
		}
	}

	if err := m.store.SetLastNudge(id, now); err != nil {
		return nil, err
	}
	audit := fmt.Sprintf("Project nudged via dashboard. Agents notified: %s", strings.Join(team, ", "))
	if err := m.store.AddUpdate(id, DashboardActor, audit, "nudge"); err != nil {
		return nil, err
	}

	return &NudgeResult{
		ProjectID:      id,
		NudgedAgents:   team,
		Delivered:      delivered,
		NextNudgeAfter: store.FormatTime(now.Add(m.cooldown)),
	}, nil
}

// Wait blocks until all background ceremony submissions finish. Used by
// graceful shutdown and tests.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// submitCeremony fires the ceremony without blocking the caller. Failures
// are logged and counted, never propagated.
func (m *Manager) submitCeremony(p *Project, kind string) {
	if m.ceremonies == nil {
		m.logger.Debug().Str("project", p.ID).Str("kind", kind).
			Msg("chat service not configured, skipping ceremony")
		return
	}

	participants := make([]string, 0, len(p.Team))
	for _, member := range p.Team {
		if member.Agent != m.coordinatorID {
			participants = append(participants, member.Agent)
		}
	}
	if len(participants) == 0 {
		m.logger.Warn().Str("project", p.ID).Str("kind", kind).
			Msg("no contributing agents, skipping ceremony")
		return
	}

	req := CeremonyRequest{
		ProjectID:    p.ID,
		ProjectName:  p.Name,
		Kind:         kind,
		Workspace:    p.Workspace,
		Participants: participants,
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.ceremonyWait)
		defer cancel()
		if _, err := m.ceremonies.StartCeremony(ctx, req); err != nil {
			m.logger.Error().Err(err).Str("project", req.ProjectID).Str("kind", req.Kind).
				Msg("ceremony failed")
			m.countError("ceremony")
		}
	}()
}

func (m *Manager) participants(projectID string) ([]string, error) {
	team, err := m.store.TeamIDs(projectID)
	if err != nil {
		return nil, err
	}
	participants := make([]string, 0, len(team))
	for _, id := range team {
		if id != m.coordinatorID {
			participants = append(participants, id)
		}
	}
	return participants, nil
}

func (m *Manager) countError(stage string) {
	if m.sink != nil {
		m.sink.BackgroundError(stage)
	}
}
