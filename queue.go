package sluice

import (
	"context"
	"strings"
	"time"

	"github.com/SluiceQ/sluice-go/internal/backoff"
	"github.com/SluiceQ/sluice-go/internal/keys"
	"github.com/redis/go-redis/v9"
)

// Queue provides stream-backed task queues with consumer-group delivery.
// Each named queue is one Redis stream; the consumer group's pending entry
// list (PEL) holds every delivered-but-unacked task. The queue owns delivery
// bookkeeping only — durability and replication of Redis itself are external,
// and it never retries work on its own.
type Queue struct {
	rdb           redis.UniversalClient
	encoder       Encoder
	doneRetention time.Duration
	pollInterval  time.Duration
}

// NewQueue creates a queue client on top of an existing Redis connection.
func NewQueue(rdb redis.UniversalClient, opts ...QueueOption) *Queue {
	q := &Queue{
		rdb:           rdb,
		encoder:       &JSONEncoder{},
		doneRetention: DefaultDoneRetention,
		pollInterval:  20 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends a task carrying p to the queue and returns its assigned ID.
// The append is durable before Enqueue returns; ordering within a queue is
// FIFO by append order.
func (q *Queue) Enqueue(ctx context.Context, queue string, p Payload, opts ...EnqueueOption) (string, error) {
	raw, err := EncodeEnvelope(q.encoder, p)
	if err != nil {
		return "", err
	}
	return q.EnqueueRaw(ctx, queue, raw, opts...)
}

// EnqueueRaw appends an already-serialized payload envelope. It is used to
// re-enqueue a reclaimed task's payload verbatim and to submit externally
// built envelopes.
func (q *Queue) EnqueueRaw(ctx context.Context, queue string, envelope []byte, opts ...EnqueueOption) (string, error) {
	cfg := enqueueOptions{}
	for _, opt := range opts {
		opt(&cfg)
	}
	args := &redis.XAddArgs{
		Stream: keys.Stream(queue),
		Values: map[string]any{"data": envelope},
	}
	if cfg.approxMaxLen > 0 {
		args.MaxLen = cfg.approxMaxLen
		args.Approx = true
	}
	id, err := q.rdb.XAdd(ctx, args).Result()
	if err != nil {
		return "", &QueueUnavailableError{Op: "XADD", Err: err}
	}
	return id, nil
}

// CreateGroup creates a consumer group on the queue, creating the stream if
// needed. start is "0" to deliver the whole backlog or "$" for new entries
// only. Creating an already-existing group is a no-op, so concurrent worker
// startups racing to create the group never fail.
func (q *Queue) CreateGroup(ctx context.Context, queue, group, start string) error {
	if start == "" {
		start = "0"
	}
	err := q.rdb.XGroupCreateMkStream(ctx, keys.Stream(queue), group, start).Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return &QueueUnavailableError{Op: "XGROUP CREATE", Err: err}
	}
	return nil
}

// Claim delivers up to count undelivered tasks to consumer, adding each to
// the group's PEL. It waits up to block for new entries and returns an empty
// slice on timeout; block <= 0 reads without waiting. The wait is client-side
// polling, so it never blocks past block and ctx cancellation takes effect
// promptly.
func (q *Queue) Claim(ctx context.Context, queue, group, consumer string, count int64, block time.Duration) ([]Task, error) {
	deadline := time.Now().Add(block)
	for {
		res, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{keys.Stream(queue), ">"},
			Count:    count,
			Block:    -1,
		}).Result()
		switch {
		case err == redis.Nil:
			// nothing undelivered right now
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &QueueUnavailableError{Op: "XREADGROUP", Err: err}
		default:
			if tasks := streamTasks(queue, res); len(tasks) > 0 {
				return tasks, nil
			}
		}

		remain := time.Until(deadline)
		if remain <= 0 {
			return nil, nil
		}
		wait := q.pollInterval
		if wait > remain {
			wait = remain
		}
		if err := backoff.Sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

// Ack removes taskIDs from the group's PEL. Acking a task not in the PEL is a
// harmless no-op, which tolerates double-acks after a reclaim race.
func (q *Queue) Ack(ctx context.Context, queue, group string, taskIDs ...string) error {
	if len(taskIDs) == 0 {
		return nil
	}
	if err := q.rdb.XAck(ctx, keys.Stream(queue), group, taskIDs...).Err(); err != nil {
		return &QueueUnavailableError{Op: "XACK", Err: err}
	}
	return nil
}

// ReadByID re-reads one task's payload by its ID. It is a point lookup, not a
// consuming read: the PEL is untouched.
func (q *Queue) ReadByID(ctx context.Context, queue, taskID string) (Task, bool, error) {
	msgs, err := q.rdb.XRangeN(ctx, keys.Stream(queue), taskID, taskID, 1).Result()
	if err != nil {
		return Task{}, false, &QueueUnavailableError{Op: "XRANGE", Err: err}
	}
	if len(msgs) == 0 {
		return Task{}, false, nil
	}
	return taskFromMessage(queue, msgs[0]), true, nil
}

// PendingRange lists up to count entries of the group's PEL with consumer
// identity, delivery count and idle duration.
func (q *Queue) PendingRange(ctx context.Context, queue, group string, count int64) ([]PendingEntry, error) {
	if count <= 0 {
		count = 128
	}
	ext, err := q.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: keys.Stream(queue),
		Group:  group,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, &QueueUnavailableError{Op: "XPENDING", Err: err}
	}
	out := make([]PendingEntry, 0, len(ext))
	for _, e := range ext {
		out = append(out, PendingEntry{
			TaskID:        e.ID,
			Consumer:      e.Consumer,
			DeliveryCount: e.RetryCount,
			Idle:          e.Idle,
		})
	}
	return out, nil
}

// ClaimStale reassigns specific pending tasks to consumer if and only if
// their idle time exceeds minIdle (XCLAIM MIN-IDLE-TIME). Entries below the
// threshold are skipped server-side, so in-flight work is never stolen.
// Ownership changes; delivery order guarantees do not.
func (q *Queue) ClaimStale(ctx context.Context, queue, group, consumer string, minIdle time.Duration, taskIDs ...string) ([]Task, error) {
	if len(taskIDs) == 0 {
		return nil, nil
	}
	msgs, err := q.rdb.XClaim(ctx, &redis.XClaimArgs{
		Stream:   keys.Stream(queue),
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: taskIDs,
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, &QueueUnavailableError{Op: "XCLAIM", Err: err}
	}
	tasks := make([]Task, 0, len(msgs))
	for _, m := range msgs {
		tasks = append(tasks, taskFromMessage(queue, m))
	}
	return tasks, nil
}

// AppendCompletion publishes sig on its run's done stream and refreshes the
// stream's retention TTL. The stream name carries the run ID, which is what
// keeps fan-in correlation structural.
func (q *Queue) AppendCompletion(ctx context.Context, queue string, sig CompletionSignal) error {
	raw, err := q.encoder.Encode(sig)
	if err != nil {
		return err
	}
	key := keys.Done(queue, sig.RunID)
	pipe := q.rdb.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{Stream: key, Values: map[string]any{"data": raw}})
	pipe.Expire(ctx, key, q.doneRetention)
	if _, err := pipe.Exec(ctx); err != nil {
		return &QueueUnavailableError{Op: "XADD done", Err: err}
	}
	return nil
}

// ReadCompletions returns the signals appended to the run's done stream after
// afterID ("" or "0" reads from the start), along with the last stream ID
// seen, to pass back on the next call. The read is non-consuming: aborting a
// fan-in leaves no queue side effects.
func (q *Queue) ReadCompletions(ctx context.Context, queue, runID, afterID string) ([]CompletionSignal, string, error) {
	if afterID == "" {
		afterID = "0"
	}
	res, err := q.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{keys.Done(queue, runID), afterID},
		Count:   128,
		Block:   -1,
	}).Result()
	if err == redis.Nil {
		return nil, afterID, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, afterID, ctx.Err()
		}
		return nil, afterID, &QueueUnavailableError{Op: "XREAD done", Err: err}
	}
	last := afterID
	var sigs []CompletionSignal
	for _, stream := range res {
		for _, m := range stream.Messages {
			last = m.ID
			var sig CompletionSignal
			if err := q.encoder.Decode(payloadField(m), &sig); err != nil {
				// A malformed signal cannot be correlated; skip it.
				continue
			}
			sigs = append(sigs, sig)
		}
	}
	return sigs, last, nil
}

// ExpireDone bounds the retention of a run's done stream, typically called
// after fan-in finished with it.
func (q *Queue) ExpireDone(ctx context.Context, queue, runID string, ttl time.Duration) error {
	if err := q.rdb.Expire(ctx, keys.Done(queue, runID), ttl).Err(); err != nil {
		return &QueueUnavailableError{Op: "EXPIRE done", Err: err}
	}
	return nil
}

// SetTaskStatus records a terminal status for a task under a bounded TTL.
// Status keys are a cheap poll target complementary to the done stream.
func (q *Queue) SetTaskStatus(ctx context.Context, queue, taskID string, st Status, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if err := q.rdb.Set(ctx, keys.Status(queue, taskID), st.String(), ttl).Err(); err != nil {
		return &QueueUnavailableError{Op: "SET status", Err: err}
	}
	return nil
}

// TaskStatus returns the recorded status for a task; found is false when no
// status was recorded or it has expired.
func (q *Queue) TaskStatus(ctx context.Context, queue, taskID string) (Status, bool, error) {
	raw, err := q.rdb.Get(ctx, keys.Status(queue, taskID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, &QueueUnavailableError{Op: "GET status", Err: err}
	}
	st, err := ParseStatus(raw)
	if err != nil {
		return "", false, err
	}
	return st, true, nil
}

func streamTasks(queue string, res []redis.XStream) []Task {
	var tasks []Task
	for _, stream := range res {
		for _, m := range stream.Messages {
			tasks = append(tasks, taskFromMessage(queue, m))
		}
	}
	return tasks
}

func taskFromMessage(queue string, m redis.XMessage) Task {
	return Task{ID: m.ID, Queue: queue, Data: payloadField(m)}
}

func payloadField(m redis.XMessage) []byte {
	switch v := m.Values["data"].(type) {
	case string:
		return []byte(v)
	case []byte:
		return v
	default:
		return nil
	}
}
