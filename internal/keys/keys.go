// Package keys centralizes Redis key construction.
// It is kept in internal to avoid leaking key formats to public API.
// The {hashtag} braces keep all keys of one queue on a single cluster slot.
package keys

import "strings"

// Stream returns the work stream key for a queue.
func Stream(q string) string { return "sluice:{" + q + "}:stream" }

// Done returns the per-run completion stream for a queue. The run ID in the
// key is what makes fan-in correlation structural.
func Done(q, runID string) string { return "sluice:{" + q + "}:done:" + runID }

// Status returns the per-task status key used as a cheap poll target.
func Status(q, taskID string) string { return "sluice:{" + q + "}:status:" + taskID }

// Artifact returns the storage key for a normalized content digest.
// Artifacts are shared across queues, so they carry no queue hashtag.
func Artifact(hex string) string { return "sluice:artifact:" + hex }

// QueueName parses a queue name from a raw Redis key
// (e.g. "sluice:{tasks}:stream"). It returns an empty string if the format
// is invalid.
func QueueName(key string) string {
	start := strings.Index(key, "{")
	if start == -1 {
		return ""
	}
	end := strings.Index(key, "}")
	if end == -1 || end <= start+1 {
		return ""
	}
	return key[start+1 : end]
}
