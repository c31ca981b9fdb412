package stats

import (
	"context"
	"time"
)

// Event is one connection lifecycle outcome counted by a Store.
type Event int

const (
	Accepted Event = iota
	Served
	HandshakeFailed
	WriteFailed
	AcceptFailed
	Rejected
	HandlerStarted
	HandlerFinished
)

var eventFields = [...]string{
	Accepted:        "accepted",
	Served:          "served",
	HandshakeFailed: "handshake_failed",
	WriteFailed:     "write_failed",
	AcceptFailed:    "accept_failed",
	Rejected:        "rejected",
	HandlerStarted:  "handlers_started",
	HandlerFinished: "handlers_finished",
}

func (e Event) String() string {
	if e < 0 || int(e) >= len(eventFields) {
		return "unknown"
	}
	return eventFields[e]
}

// Store counts connection events. Implementations must be safe for
// concurrent use since every handler goroutine records into it.
type Store interface {
	Record(e Event)
	Snapshot(ctx context.Context) (Snapshot, error)
}

// Snapshot represents current counters for dashboards & API.
type Snapshot struct {
	Accepted        int64  `json:"accepted"`
	Served          int64  `json:"served"`
	HandshakeFailed int64  `json:"handshake_failed"`
	WriteFailed     int64  `json:"write_failed"`
	AcceptFailed    int64  `json:"accept_failed"`
	Rejected        int64  `json:"rejected"`
	Active          int64  `json:"active"`
	Now             string `json:"now"`
}

func snapshotFrom(counts map[string]int64) Snapshot {
	return Snapshot{
		Accepted:        counts[Accepted.String()],
		Served:          counts[Served.String()],
		HandshakeFailed: counts[HandshakeFailed.String()],
		WriteFailed:     counts[WriteFailed.String()],
		AcceptFailed:    counts[AcceptFailed.String()],
		Rejected:        counts[Rejected.String()],
		Active:          counts[HandlerStarted.String()] - counts[HandlerFinished.String()],
		Now:             time.Now().UTC().Format(time.RFC3339),
	}
}

// ToTemplateMap returns a map suited for html/template rendering with expected capitalized keys.
func (s Snapshot) ToTemplateMap() map[string]any {
	return map[string]any{
		"Accepted":        s.Accepted,
		"Served":          s.Served,
		"HandshakeFailed": s.HandshakeFailed,
		"WriteFailed":     s.WriteFailed,
		"AcceptFailed":    s.AcceptFailed,
		"Rejected":        s.Rejected,
		"Active":          s.Active,
	}
}
