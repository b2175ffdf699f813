package timeline

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
)

// SRID is the spatial reference of record positions (WGS 84).
const SRID = 4326

var columns = []string{
	"kind",
	"start_time",
	"end_time",
	"point_time",
	"latitude",
	"longitude",
	"visit_probability",
	"visit_place_id",
	"visit_semantic_type",
	"activity_distance_meters",
	"activity_type",
	"activity_probability",
	"owner",
	"source_format",
	"track_name",
	"elevation",
	"speed",
	"point_sequence",
}

// Columns returns the bulk-load column names in the order Values uses.
func Columns() []string {
	return append([]string(nil), columns...)
}

// Values flattens r into a tuple matching Columns. Unset fields are nil.
func (r Record) Values() []any {
	return []any{
		string(r.Kind),
		timeValue(r.StartTime),
		timeValue(r.EndTime),
		timeValue(r.PointTime),
		floatValue(r.Latitude),
		floatValue(r.Longitude),
		floatValue(r.VisitProbability),
		stringValue(r.VisitPlaceID),
		stringValue(r.VisitSemanticType),
		floatValue(r.ActivityDistanceMeters),
		stringValue(r.ActivityType),
		floatValue(r.ActivityProbability),
		r.Owner,
		stringValue(r.SourceFormat),
		stringValue(r.TrackName),
		floatValue(r.Elevation),
		floatValue(r.Speed),
		intValue(r.PointSequence),
	}
}

func timeValue(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func floatValue(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func stringValue(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func intValue(i *int64) any {
	if i == nil {
		return nil
	}
	return *i
}

// Point returns the record position as an orb point (lng, lat).
func (r Record) Point() (orb.Point, bool) {
	if !r.HasPosition() {
		return orb.Point{}, false
	}
	return orb.Point{*r.Longitude, *r.Latitude}, true
}

// WKT renders the position in well-known text, or "" without a position.
func (r Record) WKT() string {
	p, ok := r.Point()
	if !ok {
		return ""
	}
	return wkt.MarshalString(p)
}

// BoundsOf accumulates the bounding box of positioned records.
type BoundsOf struct {
	bound orb.Bound
	n     int
}

// Add extends the box with r when it has a position.
func (b *BoundsOf) Add(r Record) {
	p, ok := r.Point()
	if !ok {
		return
	}
	if b.n == 0 {
		b.bound = p.Bound()
	} else {
		b.bound = b.bound.Extend(p)
	}
	b.n++
}

// Bound returns the box and whether any positioned record was added.
func (b *BoundsOf) Bound() (orb.Bound, bool) {
	return b.bound, b.n > 0
}

// TSVWriter writes records in the tab-delimited text form accepted by
// COPY ... WITH (FORMAT csv, DELIMITER E'\t', NULL ''). An empty field is
// NULL.
type TSVWriter struct {
	w      *csv.Writer
	header bool
}

// NewTSVWriter returns a writer to w. When header is true the column names
// are written before the first record.
func NewTSVWriter(w io.Writer, header bool) *TSVWriter {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	return &TSVWriter{w: cw, header: header}
}

// Write appends one record.
func (t *TSVWriter) Write(r Record) error {
	if t.header {
		t.header = false
		if err := t.w.Write(columns); err != nil {
			return err
		}
	}
	values := r.Values()
	row := make([]string, len(values))
	for i, v := range values {
		row[i] = formatField(v)
	}
	return t.w.Write(row)
}

// Flush writes buffered rows and reports any write error.
func (t *TSVWriter) Flush() error {
	t.w.Flush()
	return t.w.Error()
}

func formatField(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	}
	return ""
}
