package sluice

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func quietWorkerConfig(queue string) WorkerConfig {
	return WorkerConfig{
		Queue:       queue,
		Group:       "workers",
		Consumer:    "w",
		Concurrency: 1,
		ClaimBlock:  50 * time.Millisecond,
		StatusTTL:   time.Minute,
	}
}

func TestWorker_StartStop_Idempotent(t *testing.T) {
	rdb := newMiniClient(t)
	q := NewQueue(rdb)
	st := NewArtifactStore(rdb)
	w := NewWorker(q, st, NewMux(), quietWorkerConfig("q-idem"))

	w.Start()
	w.Start()
	w.Stop()
	w.Stop()
}

func TestWorker_ProcessesTask_AckLast(t *testing.T) {
	rdb := newMiniClient(t)
	q := NewQueue(rdb, WithPollInterval(5*time.Millisecond))
	st := NewArtifactStore(rdb)
	ctx := context.Background()
	queue := "q-work"

	// Inputs referenced by artifact ID only.
	docID, err := st.Put(ctx, []byte("document body"))
	require.NoError(t, err)

	mux := NewMux()
	mux.Handle(TypeAnalyzeBatch, func(ctx context.Context, inv *Invocation) ([]byte, error) {
		require.Len(t, inv.Inputs, 1)
		require.Equal(t, []byte("document body"), inv.Inputs[docID])
		return []byte("analysis of batch"), nil
	})

	w := NewWorker(q, st, mux, quietWorkerConfig(queue))
	w.Start()
	defer w.Stop()

	id, err := q.Enqueue(ctx, queue, &AnalyzeBatch{RunID: "run-1", BatchIndex: 0, Documents: []string{docID}})
	require.NoError(t, err)

	// Completion signal becomes durable and the task is acked.
	require.Eventually(t, func() bool {
		pel, err := q.PendingRange(ctx, queue, "workers", 10)
		return err == nil && len(pel) == 0
	}, 5*time.Second, 10*time.Millisecond)

	sigs, _, err := q.ReadCompletions(ctx, queue, "run-1", "0")
	require.NoError(t, err)
	require.Len(t, sigs, 1)
	require.Equal(t, id, sigs[0].TaskID)
	require.Equal(t, "run-1", sigs[0].RunID)
	require.Equal(t, 0, sigs[0].BatchIndex)
	require.Equal(t, StatusDone, sigs[0].Status)

	result, err := st.Get(ctx, sigs[0].ArtifactID)
	require.NoError(t, err)
	require.Equal(t, []byte("analysis of batch"), result)

	status, found, err := q.TaskStatus(ctx, queue, id)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, StatusDone, status)
}

func TestWorker_HandlerError_LeavesTaskPending(t *testing.T) {
	rdb := newMiniClient(t)
	q := NewQueue(rdb, WithPollInterval(5*time.Millisecond))
	st := NewArtifactStore(rdb)
	ctx := context.Background()
	queue := "q-fail"

	mux := NewMux()
	mux.Handle(TypeAnalyzeBatch, func(ctx context.Context, inv *Invocation) ([]byte, error) {
		return nil, errors.New("model exploded")
	})

	w := NewWorker(q, st, mux, quietWorkerConfig(queue))
	w.Start()
	defer w.Stop()

	id, err := q.Enqueue(ctx, queue, &AnalyzeBatch{RunID: "run-f", BatchIndex: 0})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, found, err := q.TaskStatus(ctx, queue, id)
		return err == nil && found
	}, 5*time.Second, 10*time.Millisecond)

	status, _, err := q.TaskStatus(ctx, queue, id)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, status)

	// Never acked: the entry stays pending for the janitor.
	pel, err := q.PendingRange(ctx, queue, "workers", 10)
	require.NoError(t, err)
	require.Len(t, pel, 1)
	require.Equal(t, id, pel[0].TaskID)

	// No completion signal was produced.
	sigs, _, err := q.ReadCompletions(ctx, queue, "run-f", "0")
	require.NoError(t, err)
	require.Empty(t, sigs)
}

func TestWorker_EmptyResult_IsFailure(t *testing.T) {
	rdb := newMiniClient(t)
	q := NewQueue(rdb, WithPollInterval(5*time.Millisecond))
	st := NewArtifactStore(rdb)
	ctx := context.Background()
	queue := "q-empty-result"

	mux := NewMux()
	mux.Handle(TypeAnalyzeBatch, func(ctx context.Context, inv *Invocation) ([]byte, error) {
		return nil, nil
	})

	w := NewWorker(q, st, mux, quietWorkerConfig(queue))
	w.Start()
	defer w.Stop()

	id, err := q.Enqueue(ctx, queue, &AnalyzeBatch{RunID: "run-e", BatchIndex: 0})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		status, found, err := q.TaskStatus(ctx, queue, id)
		return err == nil && found && status == StatusFailed
	}, 5*time.Second, 10*time.Millisecond)

	pel, err := q.PendingRange(ctx, queue, "workers", 10)
	require.NoError(t, err)
	require.Len(t, pel, 1)
}

func TestWorker_NoHandler_LeavesTaskPending(t *testing.T) {
	rdb := newMiniClient(t)
	q := NewQueue(rdb, WithPollInterval(5*time.Millisecond))
	st := NewArtifactStore(rdb)
	ctx := context.Background()
	queue := "q-nohandler"

	w := NewWorker(q, st, NewMux(), quietWorkerConfig(queue))
	w.Start()
	defer w.Stop()

	id, err := q.Enqueue(ctx, queue, &SynthesizeRun{RunID: "run-n"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		status, found, err := q.TaskStatus(ctx, queue, id)
		return err == nil && found && status == StatusFailed
	}, 5*time.Second, 10*time.Millisecond)

	pel, err := q.PendingRange(ctx, queue, "workers", 10)
	require.NoError(t, err)
	require.Len(t, pel, 1)
}

func TestWorker_UnresolvableInput_LeavesTaskPending(t *testing.T) {
	rdb := newMiniClient(t)
	q := NewQueue(rdb, WithPollInterval(5*time.Millisecond))
	st := NewArtifactStore(rdb)
	ctx := context.Background()
	queue := "q-noinput"

	handled := false
	mux := NewMux()
	mux.Handle(TypeAnalyzeBatch, func(ctx context.Context, inv *Invocation) ([]byte, error) {
		handled = true
		return []byte("x"), nil
	})

	w := NewWorker(q, st, mux, quietWorkerConfig(queue))
	w.Start()
	defer w.Stop()

	missing := "sha256:" + fmt.Sprintf("%064d", 7)
	id, err := q.Enqueue(ctx, queue, &AnalyzeBatch{RunID: "run-m", Documents: []string{missing}})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		status, found, err := q.TaskStatus(ctx, queue, id)
		return err == nil && found && status == StatusFailed
	}, 5*time.Second, 10*time.Millisecond)
	require.False(t, handled)
}

func TestWorker_DuplicateProcessingIsIdempotent(t *testing.T) {
	rdb := newMiniClient(t)
	q := NewQueue(rdb, WithPollInterval(5*time.Millisecond))
	st := NewArtifactStore(rdb)
	ctx := context.Background()
	queue := "q-dup"

	mux := NewMux()
	mux.Handle(TypeAnalyzeBatch, func(ctx context.Context, inv *Invocation) ([]byte, error) {
		// Deterministic output: reprocessing yields the same artifact.
		_, batch := inv.Payload.RunRef()
		return []byte(fmt.Sprintf("result for batch %d", batch)), nil
	})

	w := NewWorker(q, st, mux, quietWorkerConfig(queue))
	w.Start()
	defer w.Stop()

	id, err := q.Enqueue(ctx, queue, &AnalyzeBatch{RunID: "run-d", BatchIndex: 0})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		pel, err := q.PendingRange(ctx, queue, "workers", 10)
		return err == nil && len(pel) == 0
	}, 5*time.Second, 10*time.Millisecond)
	w.Stop()

	// Simulate a reclaim/reprocessing race: process the same task again.
	task, found, err := q.ReadByID(ctx, queue, id)
	require.NoError(t, err)
	require.True(t, found)
	w2 := NewWorker(q, st, mux, quietWorkerConfig(queue))
	w2.process("rescuer", task)

	sigs, _, err := q.ReadCompletions(ctx, queue, "run-d", "0")
	require.NoError(t, err)
	require.Len(t, sigs, 2)
	// Same task, same artifact: duplicates are absorbable downstream.
	require.Equal(t, sigs[0].TaskID, sigs[1].TaskID)
	require.Equal(t, sigs[0].ArtifactID, sigs[1].ArtifactID)

	// Exactly one physical artifact for the repeated content.
	b, err := st.Get(ctx, sigs[0].ArtifactID)
	require.NoError(t, err)
	require.Equal(t, []byte("result for batch 0"), b)
}
