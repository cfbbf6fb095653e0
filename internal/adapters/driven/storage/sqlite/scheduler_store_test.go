package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/foldline/internal/core/domain"
)

func recordRuns(t *testing.T, store *Store, taskID string, n int) {
	t.Helper()
	ss := store.SchedulerStore()
	base := time.Now().Truncate(time.Millisecond)
	for i := 0; i < n; i++ {
		require.NoError(t, ss.RecordResult(context.Background(), &domain.TaskResult{
			TaskID:         taskID,
			StartedAt:      base.Add(time.Duration(i) * time.Minute),
			EndedAt:        base.Add(time.Duration(i)*time.Minute + time.Second),
			Success:        true,
			ItemsProcessed: i + 1,
		}))
	}
}

func TestSchedulerStore_SaveAndGetTask(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	ss := store.SchedulerStore()

	now := time.Now().Truncate(time.Millisecond)
	task := &domain.ScheduledTask{
		ID:          domain.TaskIDCachePurge,
		Name:        "Cache Purge",
		Interval:    time.Hour,
		LastRun:     now.Add(-10 * time.Minute),
		NextRun:     now.Add(50 * time.Minute),
		LastSuccess: now.Add(-10 * time.Minute),
		Enabled:     true,
	}
	require.NoError(t, ss.SaveTask(ctx, task))

	got, err := ss.GetTask(ctx, domain.TaskIDCachePurge)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, task.Name, got.Name)
	assert.Equal(t, time.Hour, got.Interval)
	assert.True(t, got.Enabled)
	assert.True(t, task.LastRun.Equal(got.LastRun))
	assert.True(t, task.NextRun.Equal(got.NextRun))
	assert.True(t, task.LastSuccess.Equal(got.LastSuccess))
}

func TestSchedulerStore_GetTask_NotFound(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	got, err := store.SchedulerStore().GetTask(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSchedulerStore_SaveTask_Upserts(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	ss := store.SchedulerStore()

	task := &domain.ScheduledTask{ID: domain.TaskIDVersionSweep, Name: "Sweep", Interval: time.Hour, Enabled: true}
	require.NoError(t, ss.SaveTask(ctx, task))

	task.Interval = 2 * time.Hour
	task.LastError = "backend down"
	task.Enabled = false
	require.NoError(t, ss.SaveTask(ctx, task))

	got, err := ss.GetTask(ctx, domain.TaskIDVersionSweep)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, got.Interval)
	assert.Equal(t, "backend down", got.LastError)
	assert.False(t, got.Enabled)

	all, err := ss.ListTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSchedulerStore_ZeroTimesRoundTrip(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	ss := store.SchedulerStore()

	require.NoError(t, ss.SaveTask(ctx, &domain.ScheduledTask{ID: "fresh", Name: "Fresh", Interval: time.Minute}))

	got, err := ss.GetTask(ctx, "fresh")
	require.NoError(t, err)
	assert.True(t, got.LastRun.IsZero())
	assert.True(t, got.NextRun.IsZero())
	assert.True(t, got.LastSuccess.IsZero())
}

func TestSchedulerStore_ListTasks_Ordered(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	ss := store.SchedulerStore()

	empty, err := ss.ListTasks(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	for _, id := range []string{"version-sweep", "cache-purge"} {
		require.NoError(t, ss.SaveTask(ctx, &domain.ScheduledTask{ID: id, Name: id, Interval: time.Hour}))
	}
	tasks, err := ss.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "cache-purge", tasks[0].ID)
	assert.Equal(t, "version-sweep", tasks[1].ID)
}

func TestSchedulerStore_NilArguments(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	ss := store.SchedulerStore()

	assert.ErrorIs(t, ss.SaveTask(ctx, nil), domain.ErrInvalidInput)
	assert.ErrorIs(t, ss.RecordResult(ctx, nil), domain.ErrInvalidInput)
}

func TestSchedulerStore_HistoryMostRecentFirst(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	ss := store.SchedulerStore()

	recordRuns(t, store, domain.TaskIDCachePurge, 2)
	require.NoError(t, ss.RecordResult(ctx, &domain.TaskResult{
		TaskID:    domain.TaskIDCachePurge,
		StartedAt: time.Now().Add(time.Hour),
		EndedAt:   time.Now().Add(time.Hour),
		Error:     "purge failed",
	}))

	history, err := ss.GetTaskHistory(ctx, domain.TaskIDCachePurge, 10)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.False(t, history[0].Success)
	assert.Equal(t, "purge failed", history[0].Error)
	assert.Equal(t, 2, history[1].ItemsProcessed)

	limited, err := ss.GetTaskHistory(ctx, domain.TaskIDCachePurge, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	none, err := ss.GetTaskHistory(ctx, "other", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSchedulerStore_PruneHistory(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	ss := store.SchedulerStore()

	recordRuns(t, store, domain.TaskIDCachePurge, 6)
	recordRuns(t, store, domain.TaskIDVersionSweep, 2)

	require.NoError(t, ss.PruneHistory(ctx, 3))

	purge, err := ss.GetTaskHistory(ctx, domain.TaskIDCachePurge, 100)
	require.NoError(t, err)
	require.Len(t, purge, 3)
	assert.Equal(t, []int{6, 5, 4}, []int{purge[0].ItemsProcessed, purge[1].ItemsProcessed, purge[2].ItemsProcessed})

	sweep, err := ss.GetTaskHistory(ctx, domain.TaskIDVersionSweep, 100)
	require.NoError(t, err)
	assert.Len(t, sweep, 2)
}
