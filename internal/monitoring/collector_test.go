package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/yesterday/internal/model"
)

// mockStore implements RunLister for testing.
type mockStore struct {
	runs    []model.IngestionRun
	listErr error
	limits  []int
}

func (m *mockStore) RecentRuns(_ context.Context, limit int) ([]model.IngestionRun, error) {
	m.limits = append(m.limits, limit)
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.runs, nil
}

// collectAt is 2026-03-05 09:00 UTC, so the lookback ends on 2026-03-04.
var collectAt = time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)

func newTestCollector(st RunLister) *Collector {
	c := NewCollector(st, time.UTC, time.Hour)
	c.now = func() time.Time { return collectAt }
	return c
}

func run(id string, date model.Date, status model.RunStatus, startedAt time.Time) model.IngestionRun {
	return model.IngestionRun{ID: id, Date: date, Status: status, StartedAt: startedAt}
}

func TestCollector_Collect(t *testing.T) {
	mar4 := model.NewDate(2026, 3, 4)
	mar3 := model.NewDate(2026, 3, 3)
	mar2 := model.NewDate(2026, 3, 2)

	failed := run("r3", mar3, model.RunStatusFailed, collectAt.Add(-30*time.Hour))
	failed.ErrorSummary = "ingest: source govuk: 503"

	st := &mockStore{runs: []model.IngestionRun{
		// newest first
		run("r5", mar4, model.RunStatusSuccess, collectAt.Add(-7*time.Hour)),
		run("r4", mar4, model.RunStatusFailed, collectAt.Add(-8*time.Hour)),
		failed,
		run("r2", mar2, model.RunStatusSuccess, collectAt.Add(-55*time.Hour)),
		// outside the lookback
		run("r1", model.NewDate(2026, 2, 20), model.RunStatusFailed, collectAt.Add(-300*time.Hour)),
	}}

	snap, err := newTestCollector(st).Collect(context.Background(), 3)
	require.NoError(t, err)

	assert.Equal(t, 5, snap.RunsTotal)
	assert.Equal(t, 2, snap.RunsSucceeded)
	assert.Equal(t, 3, snap.RunsFailed)
	assert.Equal(t, 3, snap.LookbackDays)
	assert.Equal(t, []int{30}, st.limits)

	require.Len(t, snap.Days, 3)
	assert.Equal(t, mar2, snap.Days[0].Date)
	assert.Equal(t, mar4, snap.Days[2].Date)

	// 4 March failed first but then succeeded.
	assert.True(t, snap.Days[2].Succeeded)
	assert.Equal(t, model.RunStatusSuccess, snap.Days[2].LastStatus)
	assert.Equal(t, 2, snap.Days[2].Runs)

	failedDays := snap.FailedDays()
	require.Len(t, failedDays, 1)
	assert.Equal(t, mar3, failedDays[0].Date)
	assert.Equal(t, "ingest: source govuk: 503", failedDays[0].LastError)

	assert.Empty(t, snap.MissingDays())
	assert.Empty(t, snap.StuckRuns)
}

func TestCollector_MissingDays(t *testing.T) {
	st := &mockStore{runs: []model.IngestionRun{
		run("r1", model.NewDate(2026, 3, 3), model.RunStatusSuccess, collectAt.Add(-30*time.Hour)),
	}}

	snap, err := newTestCollector(st).Collect(context.Background(), 3)
	require.NoError(t, err)

	missing := snap.MissingDays()
	require.Len(t, missing, 2)
	assert.Equal(t, model.NewDate(2026, 3, 2), missing[0].Date)
	assert.Equal(t, model.NewDate(2026, 3, 4), missing[1].Date)
	assert.Empty(t, snap.FailedDays())
}

func TestCollector_StuckRuns(t *testing.T) {
	st := &mockStore{runs: []model.IngestionRun{
		run("fresh", model.NewDate(2026, 3, 4), model.RunStatusRunning, collectAt.Add(-10*time.Minute)),
		run("stuck", model.NewDate(2026, 3, 3), model.RunStatusRunning, collectAt.Add(-3*time.Hour)),
	}}

	snap, err := newTestCollector(st).Collect(context.Background(), 2)
	require.NoError(t, err)

	assert.Equal(t, 2, snap.RunsRunning)
	require.Len(t, snap.StuckRuns, 1)
	assert.Equal(t, "stuck", snap.StuckRuns[0].ID)
	// A RUNNING day is neither failed nor missing.
	assert.Empty(t, snap.FailedDays())
	assert.Empty(t, snap.MissingDays())
}

func TestCollector_UsesLocationForYesterday(t *testing.T) {
	// 23:30 UTC on 4 March is already 5 March in UTC+2, so yesterday is 4 March.
	st := &mockStore{}
	c := NewCollector(st, time.FixedZone("EET", 2*3600), time.Hour)
	c.now = func() time.Time { return time.Date(2026, 3, 4, 23, 30, 0, 0, time.UTC) }

	snap, err := c.Collect(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, snap.Days, 1)
	assert.Equal(t, model.NewDate(2026, 3, 4), snap.Days[0].Date)
}

func TestCollector_EmptyStore(t *testing.T) {
	snap, err := newTestCollector(&mockStore{}).Collect(context.Background(), 7)
	require.NoError(t, err)

	assert.Equal(t, 0, snap.RunsTotal)
	assert.Len(t, snap.Days, 7)
	assert.Len(t, snap.MissingDays(), 7)
	assert.Equal(t, collectAt, snap.CollectedAt)
}

func TestCollector_ZeroLookbackMeansOneDay(t *testing.T) {
	snap, err := newTestCollector(&mockStore{}).Collect(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.LookbackDays)
	assert.Len(t, snap.Days, 1)
}

func TestCollector_ListError(t *testing.T) {
	st := &mockStore{listErr: eris.New("db error")}

	_, err := newTestCollector(st).Collect(context.Background(), 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: list runs")
}

func TestNewCollector_Defaults(t *testing.T) {
	c := NewCollector(&mockStore{}, nil, 0)
	assert.Equal(t, time.UTC, c.loc)
	assert.Equal(t, time.Hour, c.stuckAfter)
}
