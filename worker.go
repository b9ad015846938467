package sluice

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/SluiceQ/sluice-go/internal/backoff"
	"github.com/SluiceQ/sluice-go/internal/digest"
	"github.com/SluiceQ/sluice-go/metrics"
	"github.com/google/uuid"
)

// WorkerConfig defines the configuration for a Worker.
type WorkerConfig struct {
	// Queue is the work queue to claim from.
	Queue string
	// Group is the consumer group shared by all workers of this queue.
	Group string
	// Consumer is the base consumer identity; each claim loop appends its
	// index. Empty generates a unique one.
	Consumer string
	// Concurrency is the number of claim loops (default 1). Loops share no
	// mutable state; all coordination goes through Redis.
	Concurrency int
	// ClaimBlock bounds each blocking claim (default 5s). On timeout the
	// loop returns to idle with no side effects.
	ClaimBlock time.Duration
	// StatusTTL bounds the per-task status keys (default 1h).
	StatusTTL time.Duration
	// Logger is the logger used for worker events.
	Logger Logger
	// Metrics is optional; nil disables recording.
	Metrics *metrics.Collector
}

// Worker claims tasks, runs handlers and persists the outcome. On success
// the side effects are strictly ordered: result artifact stored, completion
// signal appended, status key set, then ack — the ack comes last so a crash
// in between never loses the task. On failure the task is never acked; the
// Janitor owns recovery.
type Worker struct {
	queue *Queue
	store *ArtifactStore
	mux   *Mux
	cfg   WorkerConfig
	retry backoff.Policy

	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	log     Logger
}

// NewWorker creates a worker over an existing queue, store and mux.
func NewWorker(queue *Queue, store *ArtifactStore, mux *Mux, cfg WorkerConfig) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.ClaimBlock <= 0 {
		cfg.ClaimBlock = 5 * time.Second
	}
	if cfg.StatusTTL <= 0 {
		cfg.StatusTTL = time.Hour
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "worker-" + uuid.NewString()
	}
	l := cfg.Logger
	if l == nil {
		l = NewFmtLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		queue:  queue,
		store:  store,
		mux:    mux,
		cfg:    cfg,
		retry:  backoff.Default,
		ctx:    ctx,
		cancel: cancel,
		log:    l,
	}
}

// Start launches the claim loops. It is idempotent and non-blocking.
func (w *Worker) Start() {
	w.mu.Lock()
	if w.started {
		w.log.Warnf("worker already started; ignoring Start()")
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()
	w.log.Infof("starting worker: queue=%s group=%s concurrency=%d", w.cfg.Queue, w.cfg.Group, w.cfg.Concurrency)

	for i := 0; i < w.cfg.Concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", w.cfg.Consumer, i)
		w.wg.Add(1)
		go func(c string) {
			defer w.wg.Done()
			w.claimLoop(c)
		}(consumer)
	}
}

// Stop gracefully shuts down the worker, waiting for in-flight tasks to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.started {
		w.log.Warnf("worker not started; ignoring Stop()")
		w.mu.Unlock()
		return
	}
	w.started = false
	w.mu.Unlock()
	w.log.Infof("stopping worker: queue=%s group=%s", w.cfg.Queue, w.cfg.Group)

	w.cancel()
	w.wg.Wait()
}

func (w *Worker) claimLoop(consumer string) {
	// Group creation is idempotent; concurrent loops and processes race safely.
	err := w.retry.Retry(w.ctx, func() error {
		return w.queue.CreateGroup(w.ctx, w.cfg.Queue, w.cfg.Group, "0")
	}, IsQueueUnavailable)
	if err != nil {
		if w.ctx.Err() == nil {
			w.log.Errorf("create group failed: queue=%s group=%s err=%v", w.cfg.Queue, w.cfg.Group, err)
		}
		return
	}

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
		}

		tasks, err := w.queue.Claim(w.ctx, w.cfg.Queue, w.cfg.Group, consumer, 1, w.cfg.ClaimBlock)
		if err != nil {
			if w.ctx.Err() != nil {
				return
			}
			w.log.Warnf("claim failed: consumer=%s err=%v", consumer, err)
			_ = backoff.Sleep(w.ctx, w.retry.Delay(0))
			continue
		}
		if len(tasks) == 0 {
			continue
		}
		w.process(consumer, tasks[0])
	}
}

func (w *Worker) process(consumer string, t Task) {
	ctx := w.ctx
	w.cfg.Metrics.RecordClaimed()
	start := time.Now()

	payload, err := DecodeEnvelope(w.queue.encoder, t.Data)
	if err != nil {
		w.fail(ctx, t, err)
		return
	}
	h, ok := w.mux.resolve(payload.PayloadType())
	if !ok {
		w.fail(ctx, t, fmt.Errorf("%w: %s", ErrNoHandler, payload.PayloadType()))
		return
	}
	inputs, err := w.resolveInputs(ctx, payload.ArtifactRefs())
	if err != nil {
		w.fail(ctx, t, err)
		return
	}

	result, err := h(ctx, &Invocation{Task: t, Payload: payload, Inputs: inputs})
	if err == nil && len(result) == 0 {
		err = ErrEmptyResult
	}
	if err != nil {
		w.fail(ctx, t, err)
		return
	}

	var artifactID string
	err = w.retry.Retry(ctx, func() error {
		var perr error
		artifactID, perr = w.store.Put(ctx, result)
		return perr
	}, IsQueueUnavailable)
	if err != nil {
		w.fail(ctx, t, fmt.Errorf("store result: %w", err))
		return
	}

	runID, batch := payload.RunRef()
	sig := CompletionSignal{
		TaskID:     t.ID,
		RunID:      runID,
		BatchIndex: batch,
		ArtifactID: artifactID,
		Status:     StatusDone,
	}
	err = w.retry.Retry(ctx, func() error {
		return w.queue.AppendCompletion(ctx, t.Queue, sig)
	}, IsQueueUnavailable)
	if err != nil {
		// The signal is not durable, so the task must stay pending; a
		// reprocessing after reclaim is idempotent (content-addressed write,
		// duplicate signal absorbed downstream).
		w.log.Errorf("completion signal failed: id=%s run=%s err=%v", t.ID, runID, err)
		w.cfg.Metrics.RecordFailed()
		return
	}

	if err := w.queue.SetTaskStatus(ctx, t.Queue, t.ID, StatusDone, w.cfg.StatusTTL); err != nil {
		w.log.Warnf("status write failed: id=%s err=%v", t.ID, err)
	}

	err = w.retry.Retry(ctx, func() error {
		return w.queue.Ack(ctx, t.Queue, w.cfg.Group, t.ID)
	}, IsQueueUnavailable)
	if err != nil {
		// Left pending; the janitor's reclaim and the double-ack no-op make
		// this safe.
		w.log.Errorf("ack failed: id=%s err=%v", t.ID, err)
		return
	}

	w.cfg.Metrics.RecordCompleted(time.Since(start))
	w.log.Debugf("processed: id=%s type=%s consumer=%s artifact=%s", t.ID, payload.PayloadType(), consumer, artifactID)
}

// fail records a failed attempt. The task is never acked here: it stays in
// the PEL until the janitor reclaims it, which keeps "this attempt failed"
// decoupled from "this task is stuck".
func (w *Worker) fail(ctx context.Context, t Task, cause error) {
	w.cfg.Metrics.RecordFailed()
	if err := w.queue.SetTaskStatus(ctx, t.Queue, t.ID, StatusFailed, w.cfg.StatusTTL); err != nil {
		w.log.Warnf("status write failed: id=%s err=%v", t.ID, err)
	}
	w.log.Warnf("task failed: id=%s queue=%s err=%v", t.ID, t.Queue, cause)
}

func (w *Worker) resolveInputs(ctx context.Context, refs []string) (map[string][]byte, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	out := make(map[string][]byte, len(refs))
	for _, ref := range refs {
		var b []byte
		err := w.retry.Retry(ctx, func() error {
			var gerr error
			b, gerr = w.store.Get(ctx, ref)
			return gerr
		}, IsQueueUnavailable)
		if err != nil {
			return nil, fmt.Errorf("resolve input %s: %w", ref, err)
		}
		out[digest.Canonical(ref)] = b
	}
	return out, nil
}
