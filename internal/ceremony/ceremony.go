// Package ceremony provisions review and rex channels and kicks off the
// coordination protocol in them.
package ceremony

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/caracole/agentdeck/internal/chat"
	"github.com/caracole/agentdeck/internal/project"
	"github.com/caracole/agentdeck/internal/roster"
)

// SystemActor attributes ceremony audit entries.
const SystemActor = "system"

// ChatService is the slice of the chat client the orchestrator needs.
type ChatService interface {
	EnsureChannel(ctx context.Context, name string) (chat.Channel, error)
	Invite(ctx context.Context, channelID string, userIDs []string) []string
	Post(ctx context.Context, channelID, text string) error
}

// Binder persists the channel binding and audit trail on the project.
// Implemented by the project store.
type Binder interface {
	SetChannel(id, channel, channelID string) error
	AddUpdate(projectID, agentID, message, typ string) error
}

// Config holds the identities enrolled in every ceremony channel.
type Config struct {
	SupervisorUserID string // human supervisor's chat user id
	CoordinatorID    string // coordinator agent id, default "main"
}

// Orchestrator runs ceremonies. Every step after channel creation is best
// effort: a failed invite or kickoff post degrades the ceremony but does
// not fail it.
type Orchestrator struct {
	svc    ChatService
	roster *roster.Store
	binder Binder
	cfg    Config
	logger zerolog.Logger

	now func() time.Time
}

// New creates a ceremony orchestrator.
func New(svc ChatService, ro *roster.Store, binder Binder, cfg Config, logger zerolog.Logger) *Orchestrator {
	if cfg.CoordinatorID == "" {
		cfg.CoordinatorID = "main"
	}
	return &Orchestrator{
		svc:    svc,
		roster: ro,
		binder: binder,
		cfg:    cfg,
		logger: logger.With().Str("component", "ceremony").Logger(),
		now:    time.Now,
	}
}

// StartCeremony provisions the ceremony channel, enrolls everyone, records
// the channel binding on the project and posts the kickoff protocol.
// Calling it twice for the same project and kind converges on the same
// channel.
func (o *Orchestrator) StartCeremony(ctx context.Context, req project.CeremonyRequest) (project.CeremonyOutcome, error) {
	name := chat.ChannelName(req.Kind, req.ProjectID)
	ch, err := o.svc.EnsureChannel(ctx, name)
	if err != nil {
		return project.CeremonyOutcome{}, err
	}
	o.logger.Info().Str("project", req.ProjectID).Str("kind", req.Kind).
		Str("channel", ch.Name).Bool("created", ch.Created).Msg("ceremony channel ready")

	o.enroll(ctx, ch.ID, req.Participants)

	if err := o.binder.SetChannel(req.ProjectID, ch.Name, ch.ID); err != nil {
		return project.CeremonyOutcome{}, err
	}
	audit := fmt.Sprintf("%s started — channel #%s created", label(req.Kind), ch.Name)
	if err := o.binder.AddUpdate(req.ProjectID, SystemActor, audit, "status"); err != nil {
		return project.CeremonyOutcome{}, err
	}

	if err := o.svc.Post(ctx, ch.ID, o.kickoff(req)); err != nil {
		o.logger.Warn().Err(err).Str("channel", ch.Name).Msg("failed to post kickoff message")
	}

	return project.CeremonyOutcome{ChannelID: ch.ID, ChannelName: ch.Name}, nil
}

// enroll invites the supervisor, the coordinator and the participants.
// Agents without a chat identity are skipped.
func (o *Orchestrator) enroll(ctx context.Context, channelID string, participants []string) {
	var users []string
	if o.cfg.SupervisorUserID != "" {
		users = append(users, o.cfg.SupervisorUserID)
	}
	for _, agentID := range append([]string{o.cfg.CoordinatorID}, participants...) {
		agent, err := o.roster.Get(agentID)
		if err != nil || agent.ChatUserID == "" {
			o.logger.Warn().Str("agent", agentID).Msg("agent has no chat identity, skipping invite")
			continue
		}
		users = append(users, agent.ChatUserID)
	}
	enrolled := o.svc.Invite(ctx, channelID, users)
	o.logger.Debug().Int("enrolled", len(enrolled)).Int("wanted", len(users)).
		Str("channel_id", channelID).Msg("ceremony enrollment done")
}

// kickoff composes the protocol message addressed to the coordinator.
func (o *Orchestrator) kickoff(req project.CeremonyRequest) string {
	date := o.now().UTC().Format("2006-01-02")
	docsDir := req.Workspace
	if docsDir == "" {
		docsDir = "projects/" + req.ProjectID
	}
	docsDir += "/reviews"

	details := make([]string, 0, len(req.Participants))
	for _, agentID := range req.Participants {
		if agent, err := o.roster.Get(agentID); err == nil {
			details = append(details, fmt.Sprintf("%s (%s, agentId: %s)", agent.Name, agent.Role, agentID))
		} else {
			details = append(details, agentID)
		}
	}

	if req.Kind == "review" {
		return fmt.Sprintf(
			"@%s Run the sequential review of project **%s**.\n\n"+
				"Agents to consult, in order: %s\n\n"+
				"**Documents directory**: `%s`\n\n"+
				"**Protocol**:\n"+
				"1. For each agent, request their review of the project.\n"+
				"2. Have them write a full markdown file to `%s/review-{agentId}-%s.md` (quality, architecture, suggestions, strengths and weaknesses).\n"+
				"3. After each answer, read the file and post a summary in this channel. Reviews are cumulative: agent N receives the reviews of agents 1..N-1 as context.\n"+
				"4. When done, write a synthesis to `%s/review-synthesis-%s.md` and post it here.",
			o.cfg.CoordinatorID, req.ProjectName, strings.Join(details, ", "),
			docsDir, docsDir, date, docsDir, date)
	}
	return fmt.Sprintf(
		"@%s Run the sequential retrospective of project **%s**.\n\n"+
			"Agents to consult, in order: %s\n\n"+
			"**Documents directory**: `%s`\n\n"+
			"**Protocol**:\n"+
			"1. For each agent, request their experience report.\n"+
			"2. Have them write a markdown file to `%s/rex-{agentId}-%s.md` (what worked, process improvements, lessons learned).\n"+
			"3. After each answer, read the file and post a summary here. Reports are cumulative.\n"+
			"4. When done, write a synthesis to `%s/rex-synthesis-%s.md` and post it here.",
		o.cfg.CoordinatorID, req.ProjectName, strings.Join(details, ", "),
		docsDir, docsDir, date, docsDir, date)
}

func label(kind string) string {
	if kind == "review" {
		return "Review ceremony"
	}
	return "Retrospective"
}
