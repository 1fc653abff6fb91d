package mgmt

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caracole/agentdeck/internal/health"
	"github.com/caracole/agentdeck/internal/livestats"
	"github.com/caracole/agentdeck/internal/metrics"
	"github.com/caracole/agentdeck/internal/project"
	"github.com/caracole/agentdeck/internal/roster"
	"github.com/caracole/agentdeck/internal/store"
	"github.com/caracole/agentdeck/internal/tokens"
)

// stubTrigger stands in for the ceremony orchestrator.
type stubTrigger struct{}

func (s *stubTrigger) StartCeremony(ctx context.Context, req project.CeremonyRequest) (project.CeremonyOutcome, error) {
	name := req.Kind + "-" + req.ProjectID
	return project.CeremonyOutcome{ChannelID: "ch-" + name, ChannelName: name}, nil
}

// testApp wires the full API over a temporary database.
func testApp(t *testing.T) (*fiber.App, *roster.Store) {
	t.Helper()
	logger := zerolog.Nop()

	ds, err := store.New(filepath.Join(t.TempDir(), "dashboard.db"), store.Options{}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { ds.Close() })

	ro := roster.NewStore(ds, logger)
	projects := project.NewStore(ds, logger)
	ledger := tokens.NewStore(ds, nil, logger)
	live := livestats.NewSource(t.TempDir())
	usage := tokens.NewAggregator(ledger, ro, projects, live, logger)
	manager := project.NewManager(projects, project.ManagerConfig{
		Ceremonies: &stubTrigger{},
		Cooldown:   time.Minute,
	}, logger)
	t.Cleanup(manager.Wait)

	checker := health.NewChecker(logger)
	collector := metrics.New()
	handlers := NewHandlers(projects, manager, ledger, usage, ro, live, checker, collector, logger)
	srv := NewServer(ServerConfig{
		ListenAddr: ":0",
		RateLimit:  RateLimitConfig{RPS: 100, Burst: 200},
	}, handlers, checker, collector, logger)
	return srv.App(), ro
}

func doJSON(t *testing.T, app *fiber.App, method, path, body string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, _ := http.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func TestServer_HealthzEndpoint(t *testing.T) {
	app, _ := testApp(t)

	resp := doJSON(t, app, "GET", "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["uptime"])
}

func TestServer_ReadyzEndpoint(t *testing.T) {
	app, _ := testApp(t)

	resp := doJSON(t, app, "GET", "/readyz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_ProjectLifecycle(t *testing.T) {
	app, _ := testApp(t)

	// Create
	resp := doJSON(t, app, "POST", "/api/projects",
		`{"id":"proj-1","name":"Dashboard","team":[{"agent":"zoe","role":"backend"}]}`)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var created project.Project
	json.NewDecoder(resp.Body).Decode(&created)
	assert.Equal(t, "proj-1", created.ID)
	assert.Equal(t, "backlog", string(created.State))

	// Get
	resp = doJSON(t, app, "GET", "/api/projects/proj-1", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Patch state and progress
	resp = doJSON(t, app, "PATCH", "/api/projects/proj-1", `{"state":"build","progress":40}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var patched project.Project
	json.NewDecoder(resp.Body).Decode(&patched)
	assert.Equal(t, "build", string(patched.State))
	assert.Equal(t, 40, patched.Progress)

	// List with state filter
	resp = doJSON(t, app, "GET", "/api/projects?state=build", "")
	var list ProjectListResponse
	json.NewDecoder(resp.Body).Decode(&list)
	assert.Equal(t, 1, list.Total)

	resp = doJSON(t, app, "GET", "/api/projects?state=done", "")
	json.NewDecoder(resp.Body).Decode(&list)
	assert.Equal(t, 0, list.Total)
	assert.NotNil(t, list.Projects, "empty list serializes as [], not null")
}

func TestServer_CreateProject_Conflict(t *testing.T) {
	app, _ := testApp(t)

	resp := doJSON(t, app, "POST", "/api/projects", `{"id":"proj-1","name":"One"}`)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doJSON(t, app, "POST", "/api/projects", `{"id":"proj-1","name":"Two"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	var problem ProblemDetail
	json.NewDecoder(resp.Body).Decode(&problem)
	assert.Equal(t, "already_exists", problem.Type)
}

func TestServer_GetProject_NotFound(t *testing.T) {
	app, _ := testApp(t)

	resp := doJSON(t, app, "GET", "/api/projects/ghost", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var problem ProblemDetail
	json.NewDecoder(resp.Body).Decode(&problem)
	assert.Equal(t, "not_found", problem.Type)
	assert.Equal(t, http.StatusNotFound, problem.Status)
	assert.Equal(t, "/api/projects/ghost", problem.Instance)
}

func TestServer_StartCeremony(t *testing.T) {
	app, _ := testApp(t)

	doJSON(t, app, "POST", "/api/projects",
		`{"id":"proj-1","name":"Dashboard","team":[{"agent":"zoe"}]}`)

	resp := doJSON(t, app, "POST", "/api/projects/proj-1/ceremony", `{"ceremony":"review"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body CeremonyResponse
	json.NewDecoder(resp.Body).Decode(&body)
	assert.True(t, body.OK)
	assert.Equal(t, "review-proj-1", body.ChannelName)
	assert.Equal(t, []string{"zoe"}, body.Agents)
}

func TestServer_StartCeremony_InvalidKind(t *testing.T) {
	app, _ := testApp(t)

	doJSON(t, app, "POST", "/api/projects", `{"id":"proj-1","name":"Dashboard","team":[{"agent":"zoe"}]}`)

	resp := doJSON(t, app, "POST", "/api/projects/proj-1/ceremony", `{"ceremony":"standup"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_Nudge_CooldownReturns429(t *testing.T) {
	app, _ := testApp(t)

	doJSON(t, app, "POST", "/api/projects",
		`{"id":"proj-1","name":"Dashboard","team":[{"agent":"zoe"}]}`)

	resp := doJSON(t, app, "POST", "/api/projects/proj-1/nudge", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var result project.NudgeResult
	json.NewDecoder(resp.Body).Decode(&result)
	assert.Equal(t, []string{"zoe"}, result.NudgedAgents)
	assert.False(t, result.Delivered, "no notifier configured")

	// Second nudge lands inside the cooldown window.
	resp = doJSON(t, app, "POST", "/api/projects/proj-1/nudge", "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	var problem ProblemDetail
	json.NewDecoder(resp.Body).Decode(&problem)
	assert.Equal(t, "cooldown_active", problem.Type)
}

func TestServer_Nudge_EmptyTeam(t *testing.T) {
	app, _ := testApp(t)

	doJSON(t, app, "POST", "/api/projects", `{"id":"proj-1","name":"Solo"}`)

	resp := doJSON(t, app, "POST", "/api/projects/proj-1/nudge", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_Activity(t *testing.T) {
	app, _ := testApp(t)

	doJSON(t, app, "POST", "/api/projects",
		`{"id":"proj-1","name":"Dashboard","team":[{"agent":"zoe"}]}`)

	resp := doJSON(t, app, "GET", "/api/projects/proj-1/activity", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var activity tokens.Activity
	json.NewDecoder(resp.Body).Decode(&activity)
	assert.Equal(t, "proj-1", activity.ProjectID)
	assert.Equal(t, []string{"zoe"}, activity.Assignees)
}

func TestServer_RecordTokens(t *testing.T) {
	app, _ := testApp(t)

	// Bare number becomes the total.
	resp := doJSON(t, app, "POST", "/api/tokens/record",
		`{"agentId":"zoe","projectId":"","tokens":1000}`)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var event tokens.Event
	json.NewDecoder(resp.Body).Decode(&event)
	assert.Equal(t, int64(1000), event.Tokens.Total)
	assert.Equal(t, int64(600), event.Tokens.Input)

	// Object form is passed through.
	resp = doJSON(t, app, "POST", "/api/tokens/record",
		`{"agentId":"zoe","tokens":{"input":200,"output":100}}`)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	// Missing tokens field rejected.
	resp = doJSON(t, app, "POST", "/api/tokens/record", `{"agentId":"zoe"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var problem ProblemDetail
	json.NewDecoder(resp.Body).Decode(&problem)
	assert.Equal(t, "invalid_tokens", problem.Type)
}

func TestServer_TokensSummaryAndTimeline(t *testing.T) {
	app, _ := testApp(t)

	doJSON(t, app, "POST", "/api/tokens/record", `{"agentId":"zoe","tokens":1500}`)

	resp := doJSON(t, app, "GET", "/api/tokens/summary", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var summary tokens.Summary
	json.NewDecoder(resp.Body).Decode(&summary)
	assert.Equal(t, 1, summary.TotalEvents)

	resp = doJSON(t, app, "GET", "/api/tokens/timeline?groupBy=day", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var timeline tokens.TimelineResult
	json.NewDecoder(resp.Body).Decode(&timeline)
	assert.Equal(t, "day", timeline.GroupBy)
	assert.Equal(t, 1, timeline.TotalEvents)

	resp = doJSON(t, app, "GET", "/api/tokens/timeline?groupBy=quarter", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_ListAgents(t *testing.T) {
	app, ro := testApp(t)
	require.NoError(t, ro.Insert(&roster.Agent{ID: "zoe", Name: "Zoe", ChatToken: "secret"}))

	resp := doJSON(t, app, "GET", "/api/agents", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	var list AgentListResponse
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Equal(t, 1, list.Total)
	assert.Zero(t, list.Agents[0].Live.TotalTokens, "no session file means zero live stats")
	assert.NotContains(t, string(body), "secret", "chat tokens never leave the API")
}

func TestServer_MetricsEndpoint(t *testing.T) {
	app, _ := testApp(t)

	resp := doJSON(t, app, "GET", "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "agentdeck")
}

func TestServer_RequestIDHeader(t *testing.T) {
	app, _ := testApp(t)

	resp := doJSON(t, app, "GET", "/api/projects", "")
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}
