package tokens

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caracole/agentdeck/internal/derrors"
	"github.com/caracole/agentdeck/internal/store"
)

func newTestLedger(t *testing.T) (*Store, *store.Store) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "dashboard.db")
	ds, err := store.New(dbPath, store.Options{}, zerolog.New(os.Stderr))
	require.NoError(t, err)
	t.Cleanup(func() { ds.Close() })
	return NewStore(ds, nil, zerolog.New(os.Stderr)), ds
}

func TestRecord_SplitsTotalSixtyForty(t *testing.T) {
	ledger, _ := newTestLedger(t)

	event, err := ledger.Record(RecordInput{
		AgentID: "zoe",
		Tokens:  TokenCounts{Total: 1000},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(600), event.Tokens.Input)
	assert.Equal(t, int64(400), event.Tokens.Output)
	assert.Equal(t, int64(1000), event.Tokens.Total)
	assert.Equal(t, DefaultModel, event.Model)
	assert.Equal(t, "task", event.Context.Action)
	assert.Equal(t, "api", event.Context.Trigger)
	assert.NotEmpty(t, event.ID)
}

func TestRecord_ExplicitCountsKept(t *testing.T) {
	ledger, _ := newTestLedger(t)

	event, err := ledger.Record(RecordInput{
		AgentID: "zoe",
		Tokens:  TokenCounts{Input: 900, Output: 100},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(900), event.Tokens.Input)
	assert.Equal(t, int64(100), event.Tokens.Output)
	assert.Equal(t, int64(1000), event.Tokens.Total)
}

func TestRecord_CostRoundedAtInsertion(t *testing.T) {
	ledger, _ := newTestLedger(t)

	// 333 input tokens at $15/M = 0.004995, rounds to 0.005.
	event, err := ledger.Record(RecordInput{
		AgentID: "zoe",
		Model:   "opus",
		Tokens:  TokenCounts{Input: 333, Output: 333},
	})
	require.NoError(t, err)
	assert.Equal(t, 0.005, event.Cost.Input)
	assert.Equal(t, 0.025, event.Cost.Output)
	assert.Equal(t, 0.03, event.Cost.Total)
}

func TestRecord_Validation(t *testing.T) {
	ledger, _ := newTestLedger(t)

	_, err := ledger.Record(RecordInput{Tokens: TokenCounts{Total: 10}})
	assert.ErrorIs(t, err, derrors.ErrInvalidInput)

	_, err = ledger.Record(RecordInput{AgentID: "zoe"})
	assert.ErrorIs(t, err, derrors.ErrInvalidInput)
}

func TestTotalsAndGroupings(t *testing.T) {
	ledger, _ := newTestLedger(t)

	mustRecord(t, ledger, "zoe", "proj-1", 1000)
	mustRecord(t, ledger, "zoe", "proj-1", 500)
	mustRecord(t, ledger, "max", "proj-2", 2000)
	mustRecord(t, ledger, "max", "", 100)

	totals, err := ledger.Totals()
	require.NoError(t, err)
	assert.Equal(t, int64(3600), totals.Tokens)
	assert.Equal(t, 4, totals.Events)
	assert.Greater(t, totals.Cost, 0.0)

	byAgent, err := ledger.CostByAgent()
	require.NoError(t, err)
	require.Len(t, byAgent, 2)
	assert.Equal(t, "max", byAgent[0].AgentID, "most expensive first")
	assert.Equal(t, int64(2100), byAgent[0].Tokens)
	assert.Equal(t, 2, byAgent[0].Events)

	byProject, err := ledger.CostByProject()
	require.NoError(t, err)
	require.Len(t, byProject, 2, "unbound events are excluded")
	assert.Equal(t, "proj-2", byProject[0].ProjectID)

	spend, err := ledger.ProjectSpend("proj-1")
	require.NoError(t, err)
	assert.Greater(t, spend, 0.0)

	none, err := ledger.ProjectSpend("ghost")
	require.NoError(t, err)
	assert.Zero(t, none)
}

func TestTodayAggregate(t *testing.T) {
	ledger, _ := newTestLedger(t)

	agg, err := ledger.TodayAggregate()
	require.NoError(t, err)
	assert.Nil(t, agg, "no activity means no aggregate")

	mustRecord(t, ledger, "zoe", "", 1000)
	agg, err = ledger.TodayAggregate()
	require.NoError(t, err)
	require.NotNil(t, agg)
	assert.Equal(t, int64(1000), agg.TotalTokens)
	assert.Equal(t, 1, agg.Events)
}

func TestTimeline_BucketsAndFilters(t *testing.T) {
	ledger, ds := newTestLedger(t)

	// Backdated events across two days, inserted directly.
	insertAt(t, ds, "e1", "zoe", 100, "2026-08-01T10:00:00.000Z")
	insertAt(t, ds, "e2", "zoe", 200, "2026-08-01T11:30:00.000Z")
	insertAt(t, ds, "e3", "max", 400, "2026-08-02T09:00:00.000Z")

	buckets, err := ledger.Timeline(TimelineQuery{GroupBy: "day"})
	require.NoError(t, err)
	require.Len(t, buckets, 2)
	assert.Equal(t, "2026-08-01", buckets[0].Period)
	assert.Equal(t, int64(300), buckets[0].Tokens)
	assert.Equal(t, 2, buckets[0].Count)
	assert.Equal(t, "2026-08-02", buckets[1].Period)

	hourly, err := ledger.Timeline(TimelineQuery{GroupBy: "hour"})
	require.NoError(t, err)
	assert.Len(t, hourly, 3)
	assert.Equal(t, "2026-08-01T10", hourly[0].Period)

	filtered, err := ledger.Timeline(TimelineQuery{AgentID: "zoe", GroupBy: "day"})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, int64(300), filtered[0].Tokens)

	ranged, err := ledger.Timeline(TimelineQuery{From: "2026-08-02", GroupBy: "day"})
	require.NoError(t, err)
	require.Len(t, ranged, 1)
	assert.Equal(t, "2026-08-02", ranged[0].Period)

	_, err = ledger.Timeline(TimelineQuery{GroupBy: "quarter"})
	assert.ErrorIs(t, err, derrors.ErrInvalidInput)
}

func mustRecord(t *testing.T, ledger *Store, agent, projectID string, total int64) {
	t.Helper()
	_, err := ledger.Record(RecordInput{
		AgentID:   agent,
		ProjectID: projectID,
		Tokens:    TokenCounts{Total: total},
	})
	require.NoError(t, err)
}

func insertAt(t *testing.T, ds *store.Store, id, agent string, total int64, createdAt string) {
	t.Helper()
	_, err := ds.DB().Exec(`
		INSERT INTO token_events (id, agent_id, total_tokens, total_cost, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		id, agent, total, float64(total)/1e6, createdAt)
	require.NoError(t, err)
}
