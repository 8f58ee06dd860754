package jobs

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cagedesk/cagedesk/internal/credit"
)

type fakeReconciler struct {
	mu       sync.Mutex
	players  []int64
	drifting map[int64]bool
	swept    []int64
	sessions []int64
}

func (f *fakeReconciler) ListProfileIDs(context.Context) ([]int64, error) {
	return f.players, nil
}

func (f *fakeReconciler) ReconcilePlayer(_ context.Context, playerID int64) (*credit.Drift, error) {
	f.mu.Lock()
	f.swept = append(f.swept, playerID)
	f.mu.Unlock()
	if f.drifting[playerID] {
		return &credit.Drift{PlayerID: playerID, Stored: 500, Computed: 300}, nil
	}
	return nil, nil
}

func (f *fakeReconciler) ReconcileSession(_ context.Context, sessionID int64) (*credit.Drift, error) {
	f.mu.Lock()
	f.sessions = append(f.sessions, sessionID)
	f.mu.Unlock()
	return nil, nil
}

type fakeSessions struct{ ids []int64 }

func (f fakeSessions) ListOpenIDs(context.Context) ([]int64, error) { return f.ids, nil }

func TestReconcileSweepCoversPlayersAndOpenSessions(t *testing.T) {
	rec := &fakeReconciler{
		players:  []int64{1, 2, 3},
		drifting: map[int64]bool{2: true},
	}
	job := NewReconcileSweepJob(rec, fakeSessions{ids: []int64{7}}, slog.Default(), nil, nil)

	task, err := NewReconcileSweepTask(time.Date(2024, 3, 16, 3, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.ElementsMatch(t, []int64{1, 2, 3}, rec.swept)
	require.Equal(t, []int64{7}, rec.sessions)
}

type fakePruner struct {
	olderThan time.Duration
}

func (f *fakePruner) Cleanup(_ context.Context, olderThan time.Duration) error {
	f.olderThan = olderThan
	return nil
}

func TestIdempotencyCleanupUsesPayloadRetention(t *testing.T) {
	pruner := &fakePruner{}
	job := NewIdempotencyCleanupJob(pruner, slog.Default(), nil)

	task, err := NewIdempotencyCleanupTask(48 * time.Hour)
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 48*time.Hour, pruner.olderThan)
}
