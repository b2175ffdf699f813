package timeline

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	// Exports from devices in Japan carry naive timestamps, so the default
	// input zone must resolve on hosts without a zoneinfo database.
	_ "time/tzdata"
)

// DefaultInputZone is the zone naive timestamps are interpreted in.
const DefaultInputZone = "Asia/Tokyo"

var (
	offsetLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02T15:04:05Z0700",
		"2006-01-02T15:04:05Z07",
		"2006-01-02T15:04Z07:00",
	}
	naiveLayouts = []string{
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04",
		"2006-01-02",
	}
)

// LoadZone resolves an IANA zone name, falling back to DefaultInputZone
// when name is empty.
func LoadZone(name string) (*time.Location, error) {
	if strings.TrimSpace(name) == "" {
		name = DefaultInputZone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load input zone %q: %w", name, err)
	}
	return loc, nil
}

// Normalizer converts raw export values into canonical record values.
type Normalizer struct {
	loc *time.Location
}

// NewNormalizer returns a Normalizer interpreting naive timestamps in loc.
// A nil loc means UTC.
func NewNormalizer(loc *time.Location) Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	return Normalizer{loc: loc}
}

// Location returns the zone used for naive timestamps.
func (n Normalizer) Location() *time.Location {
	if n.loc == nil {
		return time.UTC
	}
	return n.loc
}

// ToUTC parses an ISO-8601 timestamp and returns it in UTC. Timestamps
// without an offset are read in the normalizer's input zone.
func (n Normalizer) ToUTC(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range offsetLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, n.Location()); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// NormalizeNumeric coerces a JSON scalar to float64. Nil, empty strings and
// values that do not read as numbers yield false.
func NormalizeNumeric(v any) (float64, bool) {
	switch x := v.(type) {
	case nil:
		return 0, false
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case fmt.Stringer:
		return NormalizeNumeric(x.String())
	}
	return 0, false
}

// Normalize builds a Record from c. Fields that do not belong to c.Kind are
// left nil. c is not modified.
func (n Normalizer) Normalize(c Candidate) Record {
	r := Record{
		Kind:      c.Kind,
		Owner:     c.Owner,
		StartTime: n.timePtr(c.StartTime),
		EndTime:   n.timePtr(c.EndTime),
		PointTime: n.timePtr(c.PointTime),
		Latitude:  copyFloat(c.Latitude),
		Longitude: copyFloat(c.Longitude),
	}

	switch {
	case c.Kind == KindVisit:
		r.VisitProbability = numericPtr(c.VisitProbability)
		r.VisitPlaceID = stringPtr(c.VisitPlaceID)
		r.VisitSemanticType = stringPtr(c.VisitSemanticType)
	case c.Kind.IsActivity():
		r.ActivityDistanceMeters = numericPtr(c.ActivityDistanceMeters)
		r.ActivityType = stringPtr(c.ActivityType)
		r.ActivityProbability = numericPtr(c.ActivityProbability)
	}
	return r
}

func (n Normalizer) timePtr(s string) *time.Time {
	t, ok := n.ToUTC(s)
	if !ok {
		return nil
	}
	return &t
}

func numericPtr(v any) *float64 {
	f, ok := NormalizeNumeric(v)
	if !ok {
		return nil
	}
	return &f
}
