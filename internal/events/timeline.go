// Package events defines the payloads the ingest service publishes and
// consumes.
package events

import "time"

// Event type names as stored in the outbox and sent in the event_type header.
const (
	TypeIngestRequested  = "timeline.ingest_requested"
	TypeTimelineIngested = "timeline.ingested"
	TypeTimelineCleared  = "timeline.cleared"
)

// IngestRequested asks a worker to load an export that has already been
// written to shared storage.
type IngestRequested struct {
	IngestID    string    `json:"ingest_id"`
	Owner       string    `json:"owner"`
	Path        string    `json:"path"`
	Filename    string    `json:"filename"`
	Mode        string    `json:"mode"`
	RequestedAt time.Time `json:"requested_at"`
}

// Bounds is a bounding box in degrees.
type Bounds struct {
	MinLatitude  float64 `json:"min_latitude"`
	MinLongitude float64 `json:"min_longitude"`
	MaxLatitude  float64 `json:"max_latitude"`
	MaxLongitude float64 `json:"max_longitude"`
}

// TimelineIngested is emitted once an ingest has been committed.
type TimelineIngested struct {
	IngestID      string     `json:"ingest_id"`
	Owner         string     `json:"owner"`
	Dialect       string     `json:"dialect"`
	Processed     int        `json:"processed"`
	Accepted      int        `json:"accepted"`
	Rejected      int        `json:"rejected"`
	Warnings      int        `json:"warnings"`
	FirstRecordAt *time.Time `json:"first_record_at,omitempty"`
	LastRecordAt  *time.Time `json:"last_record_at,omitempty"`
	Bounds        *Bounds    `json:"bounds,omitempty"`
	IngestedAt    time.Time  `json:"ingested_at"`
}

// TimelineCleared is emitted when an owner's records are deleted.
type TimelineCleared struct {
	Owner     string    `json:"owner"`
	Deleted   int64     `json:"deleted"`
	ClearedAt time.Time `json:"cleared_at"`
}
