package mgmt

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/caracole/agentdeck/internal/health"
	"github.com/caracole/agentdeck/internal/livestats"
	"github.com/caracole/agentdeck/internal/metrics"
	"github.com/caracole/agentdeck/internal/project"
	"github.com/caracole/agentdeck/internal/roster"
	"github.com/caracole/agentdeck/internal/tokens"
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	projects  *project.Store
	manager   *project.Manager
	ledger    *tokens.Store
	usage     *tokens.Aggregator
	roster    *roster.Store
	live      *livestats.Source
	checker   *health.Checker
	collector *metrics.Metrics
	logger    zerolog.Logger
	startTime time.Time
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(
	projects *project.Store,
	manager *project.Manager,
	ledger *tokens.Store,
	usage *tokens.Aggregator,
	ro *roster.Store,
	live *livestats.Source,
	checker *health.Checker,
	collector *metrics.Metrics,
	logger zerolog.Logger,
) *Handlers {
	return &Handlers{
		projects:  projects,
		manager:   manager,
		ledger:    ledger,
		usage:     usage,
		roster:    ro,
		live:      live,
		checker:   checker,
		collector: collector,
		logger:    logger.With().Str("component", "handlers").Logger(),
		startTime: time.Now(),
	}
}

// ListProjects handles GET /api/projects.
func (h *Handlers) ListProjects(c *fiber.Ctx) error {
	state := c.Query("state")
	projects, err := h.projects.List(state)
	if err != nil {
		return fromError(c, err)
	}
	if projects == nil {
		projects = []*project.Project{}
	}
	return c.JSON(ProjectListResponse{Projects: projects, Total: len(projects)})
}

// CreateProject handles POST /api/projects.
func (h *Handlers) CreateProject(c *fiber.Ctx) error {
	var in project.CreateInput
	if err := c.BodyParser(&in); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	p, err := h.projects.Create(in)
	if err != nil {
		return fromError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(p)
}

// GetProject handles GET /api/projects/:id.
func (h *Handlers) GetProject(c *fiber.Ctx) error {
	p, err := h.projects.Get(c.Params("id"))
	if err != nil {
		return fromError(c, err)
	}
	return c.JSON(p)
}

// PatchProject handles PATCH /api/projects/:id.
func (h *Handlers) PatchProject(c *fiber.Ctx) error {
	var patch project.Patch
	if err := c.BodyParser(&patch); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	p, err := h.manager.Patch(c.Context(), c.Params("id"), &patch)
	if err != nil {
		return fromError(c, err)
	}
	return c.JSON(p)
}

// StartCeremony handles POST /api/projects/:id/ceremony.
func (h *Handlers) StartCeremony(c *fiber.Ctx) error {
	var body CeremonyRequestBody
	if err := c.BodyParser(&body); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}

	outcome, agents, err := h.manager.StartCeremony(c.Context(), c.Params("id"), body.Ceremony)
	if err != nil {
		if h.collector != nil {
			h.collector.RecordCeremony(body.Ceremony, "error")
		}
		return fromError(c, err)
	}
	if h.collector != nil {
		h.collector.RecordCeremony(body.Ceremony, "ok")
	}
	return c.JSON(CeremonyResponse{
		OK:          true,
		ChannelID:   outcome.ChannelID,
		ChannelName: outcome.ChannelName,
		Ceremony:    body.Ceremony,
		Agents:      agents,
	})
}

// Nudge handles POST /api/projects/:id/nudge.
func (h *Handlers) Nudge(c *fiber.Ctx) error {
	result, err := h.manager.Nudge(c.Context(), c.Params("id"))
	if err != nil {
		if h.collector != nil {
			h.collector.RecordNudge("rejected")
		}
		return fromError(c, err)
	}
	if h.collector != nil {
		h.collector.RecordNudge("ok")
	}
	return c.JSON(result)
}

// Activity handles GET /api/projects/:id/activity.
func (h *Handlers) Activity(c *fiber.Ctx) error {
	activity, err := h.usage.Activity(c.Params("id"))
	if err != nil {
		return fromError(c, err)
	}
	return c.JSON(activity)
}

// TokensSummary handles GET /api/tokens/summary.
func (h *Handlers) TokensSummary(c *fiber.Ctx) error {
	summary, err := h.usage.Summary()
	if err != nil {
		return fromError(c, err)
	}
	return c.JSON(summary)
}

// TokensTimeline handles GET /api/tokens/timeline.
func (h *Handlers) TokensTimeline(c *fiber.Ctx) error {
	result, err := h.usage.Timeline(tokens.TimelineQuery{
		From:    c.Query("from"),
		To:      c.Query("to"),
		GroupBy: c.Query("groupBy"),
		AgentID: c.Query("agent"),
	})
	if err != nil {
		return fromError(c, err)
	}
	return c.JSON(result)
}

// RecordTokens handles POST /api/tokens/record.
func (h *Handlers) RecordTokens(c *fiber.Ctx) error {
	var body RecordTokensBody
	if err := c.BodyParser(&body); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	counts, ok := body.Counts()
	if !ok {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_tokens", "Bad Request",
			"tokens must be a number or an {input, output, total} object")
	}

	event, err := h.ledger.Record(tokens.RecordInput{
		AgentID:   body.AgentID,
		ProjectID: body.ProjectID,
		SkillID:   body.SkillID,
		SessionID: body.SessionID,
		Model:     body.Model,
		Action:    body.Action,
		Tokens:    counts,
	})
	if err != nil {
		return fromError(c, err)
	}
	if h.collector != nil {
		h.collector.TokenEventsTotal.Inc()
	}
	return c.Status(fiber.StatusCreated).JSON(event)
}

// ListAgents handles GET /api/agents. Each record carries a live session
// snapshot for the polling UI.
func (h *Handlers) ListAgents(c *fiber.Ctx) error {
	agents, err := h.roster.List()
	if err != nil {
		return fromError(c, err)
	}
	views := make([]AgentView, 0, len(agents))
	for _, a := range agents {
		views = append(views, AgentView{Agent: a, Live: h.live.Stats(a.ID)})
	}
	return c.JSON(AgentListResponse{Agents: views, Total: len(views)})
}

// Liveness handles GET /healthz.
func (h *Handlers) Liveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "ok",
		"uptime": time.Since(h.startTime).Round(time.Second).String(),
	})
}

// Readiness handles GET /readyz.
func (h *Handlers) Readiness(c *fiber.Ctx) error {
	results := h.checker.RunAll(c.Context())
	ready := true
	for _, s := range results {
		if s == health.StatusDown {
			ready = false
			break
		}
	}
	resp := fiber.Map{"checks": results}
	if ready {
		resp["status"] = "ready"
		return c.JSON(resp)
	}
	resp["status"] = "not_ready"
	return c.Status(fiber.StatusServiceUnavailable).JSON(resp)
}
