package sluice

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/SluiceQ/sluice-go/internal/backoff"
	"github.com/SluiceQ/sluice-go/metrics"
	"github.com/google/uuid"
)

// DefaultMaxDocs caps batch size when no planner is configured.
const DefaultMaxDocs = 20

// doneLinger is the retention applied to a run's done stream once fan-in has
// finished with it.
const doneLinger = time.Minute

// Request is one externally submitted orchestration request.
type Request struct {
	// Documents are the artifact IDs of the corpus to analyze.
	Documents []string
	// Params are scalar parameters forwarded to every batch.
	Params map[string]string
}

// BatchSpec describes one sub-task of a plan.
type BatchSpec struct {
	Index     int
	Documents []string
	Params    map[string]string
}

// BatchPlan is the fan-out plan for one request. It lives only for the
// orchestration call; completion signals carry the batch index, so the plan
// is never persisted.
type BatchPlan struct {
	Batches []BatchSpec
}

// Planner partitions a request into batches. Implementations may delegate the
// sizing decision elsewhere; the fan-in bookkeeping stays deterministic here.
type Planner interface {
	Plan(ctx context.Context, req *Request) (*BatchPlan, error)
}

// SizePlanner caps each batch at MaxDocs documents, preserving corpus order.
type SizePlanner struct {
	MaxDocs int
}

// Plan partitions req.Documents into consecutive batches of at most MaxDocs.
// An empty corpus yields an empty plan.
func (p SizePlanner) Plan(_ context.Context, req *Request) (*BatchPlan, error) {
	size := p.MaxDocs
	if size <= 0 {
		size = DefaultMaxDocs
	}
	plan := &BatchPlan{}
	for i := 0; i < len(req.Documents); i += size {
		end := min(i+size, len(req.Documents))
		plan.Batches = append(plan.Batches, BatchSpec{
			Index:     len(plan.Batches),
			Documents: req.Documents[i:end],
			Params:    req.Params,
		})
	}
	return plan, nil
}

// Aggregator combines ordered per-batch results into one output. The
// combination itself is business logic owned by the caller.
type Aggregator interface {
	Aggregate(ctx context.Context, parts [][]byte) ([]byte, error)
}

// ConcatAggregator joins parts with a newline. It is the default when no
// Aggregator is configured.
type ConcatAggregator struct{}

func (ConcatAggregator) Aggregate(_ context.Context, parts [][]byte) ([]byte, error) {
	return bytes.Join(parts, []byte("\n")), nil
}

// Run identifies one dispatched fan-out.
type Run struct {
	// ID is the run ID shared by every batch task and completion signal.
	ID string
	// Queue is the work queue the batches were enqueued on.
	Queue string
	// Expected is the number of completion signals fan-in waits for.
	Expected int
	// TaskIDs are the queue-assigned IDs, in batch order.
	TaskIDs []string
}

// RunResult is the outcome of a fully completed orchestration.
type RunResult struct {
	RunID      string
	ArtifactID string
	Signals    []CompletionSignal
}

// OrchestratorConfig defines the configuration for an Orchestrator.
type OrchestratorConfig struct {
	// Queue is the work queue batches are dispatched on.
	Queue string
	// Planner partitions requests; default SizePlanner{DefaultMaxDocs}.
	Planner Planner
	// Aggregator combines batch results; default ConcatAggregator.
	Aggregator Aggregator
	// AwaitPoll is the done-stream poll interval (default 50ms).
	AwaitPoll time.Duration
	// RunTimeout bounds AwaitCompletion inside Run (default 5m).
	RunTimeout time.Duration
	// Logger is the logger used for orchestration events.
	Logger Logger
	// Metrics is optional; nil disables recording.
	Metrics *metrics.Collector
}

// Orchestrator translates one request into a batch plan, drives fan-out over
// the queue and fans completion signals back in. It never cancels dispatched
// work: aborting a run only stops consuming signals.
type Orchestrator struct {
	queue *Queue
	store *ArtifactStore
	cfg   OrchestratorConfig
	retry backoff.Policy
	log   Logger
}

// NewOrchestrator creates an orchestrator over an existing queue and store.
func NewOrchestrator(queue *Queue, store *ArtifactStore, cfg OrchestratorConfig) *Orchestrator {
	if cfg.Planner == nil {
		cfg.Planner = SizePlanner{MaxDocs: DefaultMaxDocs}
	}
	if cfg.Aggregator == nil {
		cfg.Aggregator = ConcatAggregator{}
	}
	if cfg.AwaitPoll <= 0 {
		cfg.AwaitPoll = 50 * time.Millisecond
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 5 * time.Minute
	}
	l := cfg.Logger
	if l == nil {
		l = NewFmtLogger()
	}
	return &Orchestrator{queue: queue, store: store, cfg: cfg, retry: backoff.Default, log: l}
}

// Plan partitions req via the configured planner.
func (o *Orchestrator) Plan(ctx context.Context, req *Request) (*BatchPlan, error) {
	return o.cfg.Planner.Plan(ctx, req)
}

// Dispatch enqueues one analyze task per batch under a fresh run ID and
// returns the run handle fan-in needs.
func (o *Orchestrator) Dispatch(ctx context.Context, plan *BatchPlan) (*Run, error) {
	run := &Run{ID: uuid.NewString(), Queue: o.cfg.Queue, Expected: len(plan.Batches)}
	for _, b := range plan.Batches {
		p := &AnalyzeBatch{RunID: run.ID, BatchIndex: b.Index, Documents: b.Documents, Params: b.Params}
		var id string
		err := o.retry.Retry(ctx, func() error {
			var e error
			id, e = o.queue.Enqueue(ctx, o.cfg.Queue, p)
			return e
		}, IsQueueUnavailable)
		if err != nil {
			return nil, fmt.Errorf("dispatch batch %d: %w", b.Index, err)
		}
		run.TaskIDs = append(run.TaskIDs, id)
		o.cfg.Metrics.RecordEnqueued()
	}
	o.log.Infof("dispatched run: id=%s queue=%s batches=%d", run.ID, run.Queue, run.Expected)
	return run, nil
}

// AwaitCompletion blocks until expected distinct tasks have reported on the
// run's done stream or timeout elapses. Signals are deduplicated by task ID,
// so a duplicate (reclaim plus reprocessing race) never advances the count.
// On timeout it returns a *PartialCompletionError naming the batch indices
// that never reported. Cancelling ctx aborts the wait with no queue side
// effects.
func (o *Orchestrator) AwaitCompletion(ctx context.Context, runID string, expected int, timeout time.Duration) ([]CompletionSignal, error) {
	if expected <= 0 {
		return nil, nil
	}
	deadline := time.Now().Add(timeout)
	seen := make(map[string]struct{}, expected)
	reported := make(map[int]struct{}, expected)
	signals := make([]CompletionSignal, 0, expected)
	lastID := "0"

	for {
		sigs, next, err := o.queue.ReadCompletions(ctx, o.cfg.Queue, runID, lastID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// Transient; the deadline bounds the overall wait.
			o.log.Warnf("read completions failed: run=%s err=%v", runID, err)
		} else {
			lastID = next
			for _, sig := range sigs {
				if _, dup := seen[sig.TaskID]; dup {
					o.cfg.Metrics.RecordDuplicateSignal()
					o.log.Debugf("duplicate completion absorbed: run=%s task=%s", runID, sig.TaskID)
					continue
				}
				seen[sig.TaskID] = struct{}{}
				reported[sig.BatchIndex] = struct{}{}
				signals = append(signals, sig)
			}
			if len(seen) >= expected {
				return signals, nil
			}
		}

		remain := time.Until(deadline)
		if remain <= 0 {
			missing := make([]int, 0, expected-len(reported))
			for i := 0; i < expected; i++ {
				if _, ok := reported[i]; !ok {
					missing = append(missing, i)
				}
			}
			return nil, &PartialCompletionError{RunID: runID, Expected: expected, Missing: missing, Signals: signals}
		}
		wait := o.cfg.AwaitPoll
		if wait > remain {
			wait = remain
		}
		if err := backoff.Sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

// Aggregate fetches each result artifact, orders parts by batch index, runs
// the configured aggregator and stores the combined output, returning its
// artifact ID.
func (o *Orchestrator) Aggregate(ctx context.Context, signals []CompletionSignal) (string, error) {
	ordered := make([]CompletionSignal, len(signals))
	copy(ordered, signals)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].BatchIndex < ordered[j].BatchIndex })

	parts := make([][]byte, 0, len(ordered))
	for _, sig := range ordered {
		b, err := o.store.Get(ctx, sig.ArtifactID)
		if err != nil {
			return "", fmt.Errorf("fetch result of task %s: %w", sig.TaskID, err)
		}
		parts = append(parts, b)
	}
	out, err := o.cfg.Aggregator.Aggregate(ctx, parts)
	if err != nil {
		return "", err
	}
	return o.store.Put(ctx, out)
}

// Execute runs Plan, Dispatch, AwaitCompletion and Aggregate for one request.
// On partial completion the typed error is returned unchanged so the caller
// can re-dispatch just the missing batches; nothing is re-dispatched
// automatically. An empty corpus returns an empty result without touching the
// queue.
func (o *Orchestrator) Execute(ctx context.Context, req *Request) (*RunResult, error) {
	plan, err := o.Plan(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(plan.Batches) == 0 {
		return &RunResult{}, nil
	}
	run, err := o.Dispatch(ctx, plan)
	if err != nil {
		return nil, err
	}
	signals, err := o.AwaitCompletion(ctx, run.ID, run.Expected, o.cfg.RunTimeout)
	if err != nil {
		return nil, err
	}
	if derr := o.queue.ExpireDone(ctx, o.cfg.Queue, run.ID, doneLinger); derr != nil {
		o.log.Warnf("done stream expire failed: run=%s err=%v", run.ID, derr)
	}
	artifactID, err := o.Aggregate(ctx, signals)
	if err != nil {
		return nil, err
	}
	o.log.Infof("run complete: id=%s batches=%d artifact=%s", run.ID, run.Expected, artifactID)
	return &RunResult{RunID: run.ID, ArtifactID: artifactID, Signals: signals}, nil
}
