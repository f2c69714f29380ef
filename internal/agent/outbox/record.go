package outbox

import (
	"errors"
	"time"
)

type Status string

const (
	StatusPending Status = "PENDING"
	StatusSent    Status = "SENT"
	StatusFailed  Status = "FAILED"
)

// FailureKind tells a delivery failure, which the next run retries, from a
// classifier rejection, which waits for the periodic reset.
type FailureKind string

const (
	FailureNone     FailureKind = ""
	FailureRejected FailureKind = "rejected"
	FailureDelivery FailureKind = "delivery"
)

var (
	ErrNotFound          = errors.New("outbox: record not found")
	ErrInvalidTransition = errors.New("outbox: invalid status transition")
	// ErrStaleStatus means the row was no longer in the expected state when
	// the update ran.
	ErrStaleStatus = errors.New("outbox: stale status")
)

// CapturedRecord is one captured OS notification. Exactly one row exists per
// notification; it is removed only by retention trimming.
type CapturedRecord struct {
	ID                int64
	PackageName       string
	Title             string
	Body              string
	AndroidUserID     *int
	PostedAtEpochMs   int64
	CapturedAtEpochMs int64
	Status            Status
	Attempts          int
	LastError         string
	FailureKind       FailureKind
	UpdatedAt         time.Time
}

// allowed lists the legal transitions. SENT is terminal.
var allowed = map[Status][]Status{
	StatusPending: {StatusSent, StatusFailed},
	StatusFailed:  {StatusPending},
}

func canTransition(from, to Status) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}
