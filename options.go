package sluice

import "time"

// DefaultDoneRetention bounds how long a run's done stream outlives its last
// completion signal.
const DefaultDoneRetention = 24 * time.Hour

// QueueOption configures a Queue client.
type QueueOption func(*Queue)

// WithEncoder overrides the payload encoder. The default is JSONEncoder.
func WithEncoder(e Encoder) QueueOption {
	return func(q *Queue) {
		if e != nil {
			q.encoder = e
		}
	}
}

// WithDoneRetention sets the TTL refreshed on a run's done stream each time a
// completion signal is appended, bounding leftover streams from abandoned runs.
func WithDoneRetention(d time.Duration) QueueOption {
	return func(q *Queue) {
		if d > 0 {
			q.doneRetention = d
		}
	}
}

// WithPollInterval sets the client-side poll interval used to implement
// bounded blocking claims.
func WithPollInterval(d time.Duration) QueueOption {
	return func(q *Queue) {
		if d > 0 {
			q.pollInterval = d
		}
	}
}

type enqueueOptions struct {
	approxMaxLen int64
}

// EnqueueOption configures a single Enqueue call.
type EnqueueOption func(*enqueueOptions)

// WithApproxMaxLen trims the work stream to approximately n entries on append
// (XADD MAXLEN ~ n). Zero disables trimming.
func WithApproxMaxLen(n int64) EnqueueOption {
	return func(o *enqueueOptions) {
		o.approxMaxLen = n
	}
}
