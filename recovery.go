package sluice

import (
	"context"
	"sync"
	"time"

	"github.com/SluiceQ/sluice-go/metrics"
)

// ReclaimPolicy decides what happens to a stale pending task once the
// janitor has claimed it.
type ReclaimPolicy string

const (
	// ReclaimDrop acks the stale entry immediately, treating the work as
	// abandoned.
	ReclaimDrop ReclaimPolicy = "drop"
	// ReclaimRequeue re-enqueues a fresh copy of the payload before acking
	// the stale entry, for retryable task types.
	ReclaimRequeue ReclaimPolicy = "requeue"
)

// ParseReclaimPolicy converts a string into a ReclaimPolicy.
func ParseReclaimPolicy(s string) (ReclaimPolicy, bool) {
	switch ReclaimPolicy(s) {
	case ReclaimDrop:
		return ReclaimDrop, true
	case ReclaimRequeue:
		return ReclaimRequeue, true
	default:
		return "", false
	}
}

// Watch names one (queue, group) pair the janitor sweeps, with its per-queue
// reclaim policy.
type Watch struct {
	Queue  string
	Group  string
	Policy ReclaimPolicy
}

// JanitorConfig defines the configuration for a Janitor.
type JanitorConfig struct {
	// Watches are the (queue, group) pairs swept every cycle.
	Watches []Watch
	// Interval is the sweep period (default 30s).
	Interval time.Duration
	// MaxIdle is the idle threshold; entries still within it are never
	// reclaimed (default 5m).
	MaxIdle time.Duration
	// MaxDeliveries caps requeues: an entry delivered at least this many
	// times is dropped even under ReclaimRequeue, so a crash-looping task
	// converges instead of duplicating forever (default 5).
	MaxDeliveries int64
	// Consumer is the cleanup identity stale entries are claimed under
	// (default "sluice-janitor").
	Consumer string
	// ScanCount bounds PEL entries fetched per sweep (default 128).
	ScanCount int64
	// Logger is the logger used for sweep reporting.
	Logger Logger
	// Metrics is optional; nil disables recording.
	Metrics *metrics.Collector
}

// Janitor periodically reclaims stale pending entries so that no task is
// silently lost when a worker dies mid-processing. It runs independently of
// any orchestrator run.
type Janitor struct {
	queue *Queue
	cfg   JanitorConfig

	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	log     Logger
}

// NewJanitor creates a janitor over an existing queue client.
func NewJanitor(queue *Queue, cfg JanitorConfig) *Janitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.MaxIdle <= 0 {
		cfg.MaxIdle = 5 * time.Minute
	}
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = 5
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "sluice-janitor"
	}
	if cfg.ScanCount <= 0 {
		cfg.ScanCount = 128
	}
	l := cfg.Logger
	if l == nil {
		l = NewFmtLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Janitor{queue: queue, cfg: cfg, ctx: ctx, cancel: cancel, log: l}
}

// Start launches the sweep loop. It is idempotent and non-blocking.
func (j *Janitor) Start() {
	j.mu.Lock()
	if j.started {
		j.log.Warnf("janitor already started; ignoring Start()")
		j.mu.Unlock()
		return
	}
	j.started = true
	j.mu.Unlock()
	j.log.Infof("starting janitor: watches=%d interval=%s max_idle=%s", len(j.cfg.Watches), j.cfg.Interval, j.cfg.MaxIdle)

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		ticker := time.NewTicker(j.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-j.ctx.Done():
				return
			case <-ticker.C:
				if _, err := j.Sweep(j.ctx); err != nil && j.ctx.Err() == nil {
					j.log.Errorf("sweep failed: err=%v", err)
				}
			}
		}
	}()
}

// Stop cancels the sweep loop and waits for it to exit.
func (j *Janitor) Stop() {
	j.mu.Lock()
	if !j.started {
		j.log.Warnf("janitor not started; ignoring Stop()")
		j.mu.Unlock()
		return
	}
	j.started = false
	j.mu.Unlock()
	j.log.Infof("stopping janitor")

	j.cancel()
	j.wg.Wait()
}

// Sweep runs one reclaim pass over every watched pair and returns the total
// number of entries reclaimed. It can be called on demand, independent of the
// background loop.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	total := 0
	pending := 0
	for _, w := range j.cfg.Watches {
		n, p, err := j.sweepWatch(ctx, w)
		total += n
		pending += p
		if err != nil {
			return total, err
		}
		j.log.Infof("janitor: reclaimed=%d pending=%d queue=%s group=%s", n, p, w.Queue, w.Group)
	}
	j.cfg.Metrics.SetPending(pending)
	return total, nil
}

func (j *Janitor) sweepWatch(ctx context.Context, w Watch) (reclaimed, pending int, err error) {
	entries, err := j.queue.PendingRange(ctx, w.Queue, w.Group, j.cfg.ScanCount)
	if err != nil {
		return 0, 0, err
	}
	pending = len(entries)

	stale := make(map[string]PendingEntry, len(entries))
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Idle <= j.cfg.MaxIdle {
			continue
		}
		stale[e.TaskID] = e
		ids = append(ids, e.TaskID)
	}
	if len(ids) == 0 {
		return 0, pending, nil
	}

	// MIN-IDLE-TIME on the claim re-checks idleness server-side, so an entry
	// that was acked or redelivered since PendingRange is not stolen.
	tasks, err := j.queue.ClaimStale(ctx, w.Queue, w.Group, j.cfg.Consumer, j.cfg.MaxIdle, ids...)
	if err != nil {
		return 0, pending, err
	}

	for _, t := range tasks {
		entry := stale[t.ID]
		if w.Policy == ReclaimRequeue {
			if entry.DeliveryCount >= j.cfg.MaxDeliveries {
				j.log.Warnf("delivery cap reached, dropping: id=%s queue=%s deliveries=%d", t.ID, w.Queue, entry.DeliveryCount)
			} else if _, rerr := j.queue.EnqueueRaw(ctx, w.Queue, t.Data); rerr != nil {
				// Leave it unacked; the next sweep retries the requeue.
				j.log.Errorf("requeue failed: id=%s queue=%s err=%v", t.ID, w.Queue, rerr)
				continue
			}
		}
		if aerr := j.queue.Ack(ctx, w.Queue, w.Group, t.ID); aerr != nil {
			j.log.Errorf("reclaim ack failed: id=%s queue=%s err=%v", t.ID, w.Queue, aerr)
			continue
		}
		reclaimed++
	}
	j.cfg.Metrics.RecordReclaimed(reclaimed)
	return reclaimed, pending, nil
}
