package model

import "fmt"

// Key is the content-derived idempotency key of a normalized record.
type Key string

// Short returns the first 16 hex characters, for logs.
func (k Key) Short() string {
	if len(k) <= 16 {
		return string(k)
	}
	return string(k[:16])
}

// Status is the lifecycle state of a record in the staging store.
type Status string

// Lifecycle: pending → validated → mapped → submitted → {confirmed | failed}.
// A key the store has never seen is pending.
const (
	StatusPending   Status = "pending"
	StatusValidated Status = "validated"
	StatusMapped    Status = "mapped"
	StatusSubmitted Status = "submitted"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusPending,
	StatusValidated,
	StatusMapped,
	StatusSubmitted,
	StatusConfirmed,
	StatusFailed,
}

// ParseStatus returns the Status named by s.
func ParseStatus(s string) (Status, error) {
	for _, st := range AllStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", s)
}
