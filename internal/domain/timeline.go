package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/DK-com2/PATHFINDER-WEB/internal/events"
	"github.com/DK-com2/PATHFINDER-WEB/internal/timeline"
)

// Mode selects how an export is read.
type Mode string

const (
	ModeStream   Mode = "stream"
	ModeBuffered Mode = "buffered"
)

// ParseMode maps a mode name to a Mode. An empty name yields "".
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "", ModeStream, ModeBuffered:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

// IngestState represents the processing status of an ingest.
type IngestState string

const (
	IngestStatePending IngestState = "pending"
	IngestStateLoaded  IngestState = "loaded"
	IngestStateFailed  IngestState = "failed"
)

// Ingest is the aggregate recorded for every load of an export.
type Ingest struct {
	ID            string
	Owner         string
	Filename      string
	Mode          Mode
	Dialect       string
	State         IngestState
	Processed     int
	Accepted      int
	Rejected      int
	Warnings      int
	FirstRecordAt *time.Time
	LastRecordAt  *time.Time
	Bounds        *orb.Bound
	Reason        string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Event builds the payload announcing a committed ingest.
func (i Ingest) Event() events.TimelineIngested {
	ev := events.TimelineIngested{
		IngestID:      i.ID,
		Owner:         i.Owner,
		Dialect:       i.Dialect,
		Processed:     i.Processed,
		Accepted:      i.Accepted,
		Rejected:      i.Rejected,
		Warnings:      i.Warnings,
		FirstRecordAt: i.FirstRecordAt,
		LastRecordAt:  i.LastRecordAt,
		IngestedAt:    i.UpdatedAt,
	}
	if i.Bounds != nil {
		ev.Bounds = &events.Bounds{
			MinLatitude:  i.Bounds.Min.Lat(),
			MinLongitude: i.Bounds.Min.Lon(),
			MaxLatitude:  i.Bounds.Max.Lat(),
			MaxLongitude: i.Bounds.Max.Lon(),
		}
	}
	return ev
}

// StoredRecord is a persisted record with its storage identity.
type StoredRecord struct {
	ID       int64
	IngestID string
	timeline.Record
}

// Cursor models the pagination token for record listings. At is the
// record's sort time: its Timestamp, or the Unix epoch when it has none.
type Cursor struct {
	At time.Time
	ID int64
}

// SortTime is the instant records are listed by.
func SortTime(r timeline.Record) time.Time {
	if ts, ok := r.Timestamp(); ok {
		return ts.UTC()
	}
	return time.Unix(0, 0).UTC()
}

// TypeCount is one row of a top-N breakdown.
type TypeCount struct {
	Type  string `json:"type"`
	Count int64  `json:"count"`
}

// OwnerSummary aggregates everything stored for one owner.
type OwnerSummary struct {
	Owner            string                  `json:"owner"`
	Total            int64                   `json:"total"`
	ByKind           map[timeline.Kind]int64 `json:"by_kind"`
	FirstRecordAt    *time.Time              `json:"first_record_at,omitempty"`
	LastRecordAt     *time.Time              `json:"last_record_at,omitempty"`
	TopActivityTypes []TypeCount             `json:"top_activity_types"`
	TopVisitTypes    []TypeCount             `json:"top_visit_types"`
	Bounds           *orb.Bound              `json:"bounds,omitempty"`
}

// Position is an owner's most recent known location.
type Position struct {
	Latitude  float64
	Longitude float64
	At        time.Time
}
