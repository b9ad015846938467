package sluice

// Status is a terminal task outcome recorded on status keys and carried by
// completion signals. Use the exported constants instead of raw strings to
// avoid typos.
type Status string

const (
	// StatusDone marks a task whose handler completed and whose result
	// artifact was stored.
	StatusDone Status = "done"
	// StatusFailed marks a task whose attempt failed; the task itself stays
	// pending until reclaimed.
	StatusFailed Status = "failed"
)

// AllStatuses lists every valid status in a stable order.
var AllStatuses = []Status{StatusDone, StatusFailed}

// String returns the raw string value of the status.
func (s Status) String() string { return string(s) }

// ParseStatus converts a string into a Status, returning an error for
// unknown values.
func ParseStatus(s string) (Status, error) {
	switch s {
	case string(StatusDone):
		return StatusDone, nil
	case string(StatusFailed):
		return StatusFailed, nil
	default:
		return "", ErrUnknownStatus
	}
}
