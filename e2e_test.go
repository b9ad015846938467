package sluice

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Three tasks on one queue, one single-loop worker claiming them one at a
// time, one orchestrator fanning the three completions back in. The whole
// exchange has to finish well inside a five second budget.
func TestEndToEnd_ThreeTasksOneWorker(t *testing.T) {
	rdb := newMiniClient(t)
	q := NewQueue(rdb, WithPollInterval(5*time.Millisecond))
	st := NewArtifactStore(rdb)
	ctx := context.Background()
	queue := "tasks"

	mux := NewMux()
	mux.Handle(TypeAnalyzeBatch, func(ctx context.Context, inv *Invocation) ([]byte, error) {
		_, batch := inv.Payload.RunRef()
		return []byte(fmt.Sprintf("distinct result %d", batch)), nil
	})

	w := NewWorker(q, st, mux, WorkerConfig{
		Queue:       queue,
		Group:       "workers",
		Consumer:    "solo",
		Concurrency: 1,
		ClaimBlock:  50 * time.Millisecond,
	})
	w.Start()
	defer w.Stop()

	o := NewOrchestrator(q, st, OrchestratorConfig{Queue: queue, AwaitPoll: 5 * time.Millisecond})

	runID := "run-e2e"
	for i := 0; i < 3; i++ {
		_, err := q.Enqueue(ctx, queue, &AnalyzeBatch{RunID: runID, BatchIndex: i})
		require.NoError(t, err)
	}

	start := time.Now()
	sigs, err := o.AwaitCompletion(ctx, runID, 3, 5*time.Second)
	require.NoError(t, err)
	require.Less(t, time.Since(start), 5*time.Second)
	require.Len(t, sigs, 3)

	// Three distinct tasks, three distinct result hashes, no duplicates.
	taskIDs := make(map[string]struct{}, 3)
	artifacts := make(map[string]struct{}, 3)
	for _, sig := range sigs {
		require.Equal(t, runID, sig.RunID)
		require.Equal(t, StatusDone, sig.Status)
		taskIDs[sig.TaskID] = struct{}{}
		artifacts[sig.ArtifactID] = struct{}{}
		b, err := st.Get(ctx, sig.ArtifactID)
		require.NoError(t, err)
		require.Equal(t, fmt.Sprintf("distinct result %d", sig.BatchIndex), string(b))
	}
	require.Len(t, taskIDs, 3)
	require.Len(t, artifacts, 3)

	// Everything was acked once processed.
	require.Eventually(t, func() bool {
		pel, err := q.PendingRange(ctx, queue, "workers", 10)
		return err == nil && len(pel) == 0
	}, 5*time.Second, 10*time.Millisecond)
}
