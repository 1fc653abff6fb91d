package project

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caracole/agentdeck/internal/derrors"
)

type fakeTrigger struct {
	mu       sync.Mutex
	requests []CeremonyRequest
	err      error
}

func (f *fakeTrigger) StartCeremony(ctx context.Context, req CeremonyRequest) (CeremonyOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return CeremonyOutcome{}, f.err
	}
	return CeremonyOutcome{ChannelID: "ch-1", ChannelName: req.Kind + "-" + req.ProjectID}, nil
}

func (f *fakeTrigger) calls() []CeremonyRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]CeremonyRequest(nil), f.requests...)
}

type fakeNotifier struct {
	mu    sync.Mutex
	tasks []string
	err   error
}

func (f *fakeNotifier) Send(ctx context.Context, task string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, task)
	return f.err
}

type countingSink struct {
	mu     sync.Mutex
	stages []string
}

func (c *countingSink) BackgroundError(stage string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stages = append(c.stages, stage)
}

func newTestManager(t *testing.T, trigger CeremonyTrigger, notifier Notifier, sink ErrorSink) (*Manager, *Store) {
	t.Helper()
	s := newTestStore(t)
	m := NewManager(s, ManagerConfig{
		Ceremonies: trigger,
		Notifier:   notifier,
		Sink:       sink,
		Cooldown:   15 * time.Second,
	}, zerolog.New(os.Stderr))
	return m, s
}

func TestPatch_ReviewTransitionTriggersCeremony(t *testing.T) {
	trigger := &fakeTrigger{}
	m, s := newTestManager(t, trigger, nil, nil)
	createProject(t, s, "proj-1",
		Member{Agent: "main", Role: "coordinator"},
		Member{Agent: "zoe"}, Member{Agent: "max"})

	p, err := m.Patch(context.Background(), "proj-1", &Patch{State: statePtr(StateReview)})
	require.NoError(t, err)
	assert.Equal(t, StateReview, p.State)

	m.Wait()
	calls := trigger.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "review", calls[0].Kind)
	assert.Equal(t, "proj-1", calls[0].ProjectID)
	assert.ElementsMatch(t, []string{"zoe", "max"}, calls[0].Participants,
		"coordinator is excluded from participants")
}

func TestPatch_SameStateDoesNotRetrigger(t *testing.T) {
	trigger := &fakeTrigger{}
	m, s := newTestManager(t, trigger, nil, nil)
	createProject(t, s, "proj-1", Member{Agent: "zoe"})

	_, err := m.Patch(context.Background(), "proj-1", &Patch{State: statePtr(StateRex)})
	require.NoError(t, err)
	m.Wait()
	require.Len(t, trigger.calls(), 1)

	// Writing the same state again is a no-op transition.
	_, err = m.Patch(context.Background(), "proj-1", &Patch{State: statePtr(StateRex)})
	require.NoError(t, err)
	m.Wait()
	assert.Len(t, trigger.calls(), 1)
}

func TestPatch_NonCeremonyStateNoTrigger(t *testing.T) {
	trigger := &fakeTrigger{}
	m, s := newTestManager(t, trigger, nil, nil)
	createProject(t, s, "proj-1", Member{Agent: "zoe"})

	_, err := m.Patch(context.Background(), "proj-1", &Patch{State: statePtr(StateBuild)})
	require.NoError(t, err)
	m.Wait()
	assert.Empty(t, trigger.calls())
}

func TestPatch_CeremonyFailureIsSwallowed(t *testing.T) {
	trigger := &fakeTrigger{err: errors.New("chat service down")}
	sink := &countingSink{}
	m, s := newTestManager(t, trigger, nil, sink)
	createProject(t, s, "proj-1", Member{Agent: "zoe"})

	p, err := m.Patch(context.Background(), "proj-1", &Patch{State: statePtr(StateReview)})
	require.NoError(t, err, "state write succeeds regardless of ceremony outcome")
	assert.Equal(t, StateReview, p.State)

	m.Wait()
	assert.Equal(t, []string{"ceremony"}, sink.stages)
}

func TestStartCeremony_Validation(t *testing.T) {
	trigger := &fakeTrigger{}
	m, s := newTestManager(t, trigger, nil, nil)
	createProject(t, s, "proj-1", Member{Agent: "main"})

	_, _, err := m.StartCeremony(context.Background(), "proj-1", "retro")
	assert.ErrorIs(t, err, derrors.ErrInvalidInput)

	_, _, err = m.StartCeremony(context.Background(), "ghost", "review")
	assert.ErrorIs(t, err, derrors.ErrNotFound)

	// Team of only the coordinator means no contributors.
	_, _, err = m.StartCeremony(context.Background(), "proj-1", "review")
	assert.ErrorIs(t, err, derrors.ErrInvalidInput)
}

func TestStartCeremony_Explicit(t *testing.T) {
	trigger := &fakeTrigger{}
	m, s := newTestManager(t, trigger, nil, nil)
	createProject(t, s, "proj-1", Member{Agent: "zoe"}, Member{Agent: "main"})

	outcome, agents, err := m.StartCeremony(context.Background(), "proj-1", "rex")
	require.NoError(t, err)
	assert.Equal(t, "ch-1", outcome.ChannelID)
	assert.Equal(t, []string{"zoe"}, agents)
}

func TestNudge_DeliversAndStamps(t *testing.T) {
	notifier := &fakeNotifier{}
	m, s := newTestManager(t, nil, notifier, nil)
	createProject(t, s, "proj-1", Member{Agent: "zoe"}, Member{Agent: "max"})

	base := time.Now()
	m.now = func() time.Time { return base }

	result, err := m.Nudge(context.Background(), "proj-1")
	require.NoError(t, err)
	assert.True(t, result.Delivered)
	assert.ElementsMatch(t, []string{"max", "zoe"}, result.NudgedAgents)
	require.Len(t, notifier.tasks, 1)
	assert.Contains(t, notifier.tasks[0], "Project proj-1")

	p, err := s.Get("proj-1")
	require.NoError(t, err)
	require.NotNil(t, p.LastNudgeAt)
	require.Len(t, p.Updates, 1)
	assert.Equal(t, "nudge", p.Updates[0].Type)
	assert.Equal(t, DashboardActor, p.Updates[0].AgentID)
}

func TestNudge_CooldownWindow(t *testing.T) {
	notifier := &fakeNotifier{}
	m, s := newTestManager(t, nil, notifier, nil)
	createProject(t, s, "proj-1", Member{Agent: "zoe"})

	base := time.Now()
	m.now = func() time.Time { return base }
	_, err := m.Nudge(context.Background(), "proj-1")
	require.NoError(t, err)

	// Inside the window: rejected with the remaining wait.
	m.now = func() time.Time { return base.Add(10 * time.Second) }
	_, err = m.Nudge(context.Background(), "proj-1")
	rl, ok := derrors.AsRateLimit(err)
	require.True(t, ok, "expected rate limit error, got %v", err)
	assert.InDelta(t, (5 * time.Second).Seconds(), rl.RetryAfter.Seconds(), 0.1)

	p, err := s.Get("proj-1")
	require.NoError(t, err)
	assert.Len(t, p.Updates, 1, "rejected nudge writes no audit entry")

	// At the boundary the nudge is allowed again.
	m.now = func() time.Time { return base.Add(15 * time.Second) }
	_, err = m.Nudge(context.Background(), "proj-1")
	require.NoError(t, err)
	assert.Len(t, notifier.tasks, 2)
}

func TestNudge_EmptyTeamRejected(t *testing.T) {
	notifier := &fakeNotifier{}
	m, s := newTestManager(t, nil, notifier, nil)
	createProject(t, s, "proj-1")

	_, err := m.Nudge(context.Background(), "proj-1")
	assert.ErrorIs(t, err, derrors.ErrInvalidInput)
	assert.Empty(t, notifier.tasks)

	p, getErr := s.Get("proj-1")
	require.NoError(t, getErr)
	assert.Nil(t, p.LastNudgeAt)
	assert.Empty(t, p.Updates)
}

func TestNudge_DeliveryFailureStillStamps(t *testing.T) {
	notifier := &fakeNotifier{err: errors.New("runtime unreachable")}
	sink := &countingSink{}
	m, s := newTestManager(t, nil, notifier, sink)
	createProject(t, s, "proj-1", Member{Agent: "zoe"})

	result, err := m.Nudge(context.Background(), "proj-1")
	require.NoError(t, err)
	assert.False(t, result.Delivered)
	assert.Equal(t, []string{"nudge_delivery"}, sink.stages)

	p, err := s.Get("proj-1")
	require.NoError(t, err)
	assert.NotNil(t, p.LastNudgeAt, "cooldown starts even when delivery fails")
}
