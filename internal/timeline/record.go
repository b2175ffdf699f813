// Package timeline converts Google Timeline location-history exports into
// flat records ready for a columnar bulk load.
//
// Two export dialects exist. Android exports are an object holding a
// "semanticSegments" array; iPhone exports are a top-level array of items
// with a "startTime". Both are read either from a fully buffered document
// (Parser.Parse) or incrementally from a reader (Parser.NewStream).
package timeline

import "time"

// Kind identifies what a record describes.
type Kind string

const (
	KindTimelinePath  Kind = "timeline_path"
	KindVisit         Kind = "visit"
	KindActivityStart Kind = "activity_start"
	KindActivityEnd   Kind = "activity_end"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindTimelinePath, KindVisit, KindActivityStart, KindActivityEnd:
		return true
	}
	return false
}

// IsActivity reports whether k is an activity endpoint.
func (k Kind) IsActivity() bool {
	return k == KindActivityStart || k == KindActivityEnd
}

// Record is the canonical flat row produced for every emitted point.
//
// Visit fields are only set on KindVisit records and activity fields only on
// activity endpoints. The provenance fields are reserved for track formats
// and stay nil for JSON exports.
type Record struct {
	Kind      Kind
	StartTime *time.Time
	EndTime   *time.Time
	PointTime *time.Time
	Latitude  *float64
	Longitude *float64

	VisitProbability  *float64
	VisitPlaceID      *string
	VisitSemanticType *string

	ActivityDistanceMeters *float64
	ActivityType           *string
	ActivityProbability    *float64

	Owner string

	SourceFormat  *string
	TrackName     *string
	Elevation     *float64
	Speed         *float64
	PointSequence *int64
}

// HasPosition reports whether both coordinates are set.
func (r Record) HasPosition() bool {
	return r.Latitude != nil && r.Longitude != nil
}

// Timestamp returns the most specific instant on the record: the point time
// for path points, otherwise the start time.
func (r Record) Timestamp() (time.Time, bool) {
	switch {
	case r.PointTime != nil:
		return *r.PointTime, true
	case r.StartTime != nil:
		return *r.StartTime, true
	case r.EndTime != nil:
		return *r.EndTime, true
	}
	return time.Time{}, false
}

// Candidate is a record as extracted from an export unit, before
// normalization. Times are the raw strings found in the document and numeric
// fields hold whatever JSON scalar was present.
type Candidate struct {
	Kind      Kind
	Owner     string
	StartTime string
	EndTime   string
	PointTime string

	Latitude  *float64
	Longitude *float64
	// CoordinateText is the raw coordinate string; CoordinateMalformed is set
	// when it was present but could not be parsed.
	CoordinateText      string
	CoordinateMalformed bool

	VisitProbability  any
	VisitPlaceID      string
	VisitSemanticType string

	ActivityDistanceMeters any
	ActivityType           string
	ActivityProbability    any
}

// Candidate renders r back into its pre-normalization form. Normalizing the
// result yields r again.
func (r Record) Candidate() Candidate {
	c := Candidate{
		Kind:      r.Kind,
		Owner:     r.Owner,
		StartTime: formatTime(r.StartTime),
		EndTime:   formatTime(r.EndTime),
		PointTime: formatTime(r.PointTime),
		Latitude:  copyFloat(r.Latitude),
		Longitude: copyFloat(r.Longitude),

		VisitPlaceID:      deref(r.VisitPlaceID),
		VisitSemanticType: deref(r.VisitSemanticType),
		ActivityType:      deref(r.ActivityType),
	}
	if r.VisitProbability != nil {
		c.VisitProbability = *r.VisitProbability
	}
	if r.ActivityDistanceMeters != nil {
		c.ActivityDistanceMeters = *r.ActivityDistanceMeters
	}
	if r.ActivityProbability != nil {
		c.ActivityProbability = *r.ActivityProbability
	}
	return c
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func stringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
