package syncer

import (
	"fmt"
	"time"
)

// StatusKind is the coarse sync progress exposed to callers
type StatusKind int

const (
	StatusIdle StatusKind = iota
	StatusScanning
	StatusConnecting
	StatusAwaitingData
	StatusSuccess
	StatusTimedOut
	StatusFailed
	StatusUnavailable
)

func (k StatusKind) String() string {
	switch k {
	case StatusIdle:
		return "idle"
	case StatusScanning:
		return "scanning"
	case StatusConnecting:
		return "connecting"
	case StatusAwaitingData:
		return "awaiting_data"
	case StatusSuccess:
		return "success"
	case StatusTimedOut:
		return "timed_out"
	case StatusFailed:
		return "failed"
	case StatusUnavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("status(%d)", int(k))
	}
}

// Terminal reports whether a sync has ended in this status
func (k StatusKind) Terminal() bool {
	switch k {
	case StatusSuccess, StatusTimedOut, StatusFailed, StatusUnavailable:
		return true
	default:
		return false
	}
}

// Status reasons
const (
	ReasonNoDevice     = "no device found"
	ReasonScanComplete = "scan window elapsed"
	ReasonScanFailed   = "scan failed"
	ReasonStoreError   = "store error"
	ReasonCancelled    = "cancelled"
)

// Status is one observable sync state. Reason is set for Failed, TimedOut and
// Unavailable; Err carries the underlying error when there is one.
type Status struct {
	Kind   StatusKind `json:"kind"`
	Reason string     `json:"reason,omitempty"`
	Err    error      `json:"-"`
	At     time.Time  `json:"at"`
}

func (s Status) String() string {
	if s.Reason == "" {
		return s.Kind.String()
	}
	return fmt.Sprintf("%s (%s)", s.Kind, s.Reason)
}

// Failed builds a Failed status, mirroring the reason strings callers match on
func Failed(reason string, err error) Status {
	return Status{Kind: StatusFailed, Reason: reason, Err: err}
}
