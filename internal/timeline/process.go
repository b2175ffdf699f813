package timeline

import (
	"fmt"
	"strconv"
)

// object is a decoded JSON object. Lookups on a nil object return zero
// values so optional branches can be read without guards.
type object map[string]any

func asObject(v any) (object, bool) {
	m, ok := v.(map[string]any)
	return object(m), ok
}

func (o object) has(key string) bool {
	_, ok := o[key]
	return ok
}

func (o object) value(key string) any {
	return o[key]
}

func (o object) object(key string) object {
	m, _ := asObject(o[key])
	return m
}

// str returns scalar values as text and everything else as "".
func (o object) str(key string) string {
	switch v := o[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	}
	return ""
}

// coordinateText keeps non-string coordinate values visible so they are
// reported as malformed instead of silently treated as absent.
func (o object) coordinateText(key string) string {
	switch v := o[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

type endpoint struct {
	key  string
	kind Kind
}

var activityEndpoints = []endpoint{
	{key: "start", kind: KindActivityStart},
	{key: "end", kind: KindActivityEnd},
}

// Session is a single parse of a single document. It owns the validator and
// summary for that parse and is not safe for concurrent use.
type Session struct {
	owner      string
	normalizer Normalizer
	validator  *Validator
}

// Owner returns the owner id copied onto every record.
func (s *Session) Owner() string { return s.owner }

// Summary returns a snapshot of the session summary.
func (s *Session) Summary() Summary { return s.validator.Summary() }

// Validator exposes the session validator.
func (s *Session) Validator() *Validator { return s.validator }

// ProcessUnit extracts the valid records of one export unit: a
// semanticSegments element for Android, a top-level item for iPhone.
func (s *Session) ProcessUnit(d Dialect, unit any) []Record {
	var out []Record
	s.process(d, unit, func(r Record) bool {
		out = append(out, r)
		return true
	})
	return out
}

// process pushes the valid records of unit to yield. It returns false once
// yield asks to stop.
func (s *Session) process(d Dialect, unit any, yield func(Record) bool) bool {
	s.validator.countUnit()
	obj, ok := asObject(unit)
	if !ok {
		s.validator.AddWarning(fmt.Sprintf("%s unit %d is not an object", d, s.validator.summary.Units-1))
		return true
	}
	switch d {
	case DialectAndroid:
		return s.android(obj, yield)
	case DialectIPhone:
		return s.iphone(obj, yield)
	}
	return true
}

func (s *Session) android(seg object, yield func(Record) bool) bool {
	start, end := seg.str("startTime"), seg.str("endTime")

	if seg.has("timelinePath") {
		path, ok := seg.value("timelinePath").([]any)
		if !ok {
			s.validator.AddWarning("timelinePath is not an array")
		}
		for i, raw := range path {
			point, ok := asObject(raw)
			if !ok {
				s.validator.AddWarning(fmt.Sprintf("timelinePath[%d] is not an object", i))
				continue
			}
			c := Candidate{Kind: KindTimelinePath, StartTime: start, EndTime: end, PointTime: point.str("time")}
			resolveCoordinates(&c, point.coordinateText("point"), ParseAndroidCoordinates)
			if !s.emit(c, yield) {
				return false
			}
		}
	}

	if visit, ok := s.branch(seg, "visit"); ok {
		top := visit.object("topCandidate")
		c := Candidate{
			Kind:              KindVisit,
			StartTime:         start,
			EndTime:           end,
			VisitProbability:  visit.value("probability"),
			VisitPlaceID:      top.str("placeId"),
			VisitSemanticType: top.str("semanticType"),
		}
		resolveCoordinates(&c, top.object("placeLocation").coordinateText("latLng"), ParseAndroidCoordinates)
		if !s.emit(c, yield) {
			return false
		}
	}

	if activity, ok := s.branch(seg, "activity"); ok {
		top := activity.object("topCandidate")
		for _, ep := range activityEndpoints {
			point := activity.object(ep.key)
			if !point.has("latLng") {
				continue
			}
			c := Candidate{
				Kind:                   ep.kind,
				StartTime:              start,
				EndTime:                end,
				ActivityDistanceMeters: activity.value("distanceMeters"),
				ActivityType:           top.str("type"),
				ActivityProbability:    top.value("probability"),
			}
			resolveCoordinates(&c, point.coordinateText("latLng"), ParseAndroidCoordinates)
			if !s.emit(c, yield) {
				return false
			}
		}
	}
	return true
}

// iphone mirrors android except that activity endpoints without parsable
// coordinates are omitted without a warning.
func (s *Session) iphone(item object, yield func(Record) bool) bool {
	start, end := item.str("startTime"), item.str("endTime")

	if visit, ok := s.branch(item, "visit"); ok {
		top := visit.object("topCandidate")
		placeID := top.str("placeID")
		if placeID == "" {
			placeID = top.str("placeId")
		}
		c := Candidate{
			Kind:              KindVisit,
			StartTime:         start,
			EndTime:           end,
			VisitProbability:  visit.value("probability"),
			VisitPlaceID:      placeID,
			VisitSemanticType: top.str("semanticType"),
		}
		resolveCoordinates(&c, top.coordinateText("placeLocation"), ParseIPhoneGeo)
		if !s.emit(c, yield) {
			return false
		}
	}

	if activity, ok := s.branch(item, "activity"); ok {
		top := activity.object("topCandidate")
		for _, ep := range activityEndpoints {
			text := activity.str(ep.key)
			lat, lng, ok := ParseIPhoneGeo(text)
			if !ok {
				continue
			}
			c := Candidate{
				Kind:                   ep.kind,
				StartTime:              start,
				EndTime:                end,
				Latitude:               &lat,
				Longitude:              &lng,
				CoordinateText:         text,
				ActivityDistanceMeters: activity.value("distanceMeters"),
				ActivityType:           top.str("type"),
				ActivityProbability:    top.value("probability"),
			}
			if !s.emit(c, yield) {
				return false
			}
		}
	}
	return true
}

// branch returns the named sub-object when present. A present value that is
// not an object is reported and skipped.
func (s *Session) branch(unit object, key string) (object, bool) {
	if !unit.has(key) {
		return nil, false
	}
	obj, ok := asObject(unit.value(key))
	if !ok {
		s.validator.AddWarning(key + " is not an object")
		return nil, false
	}
	return obj, true
}

// emit normalizes and validates c, handing valid records to yield.
func (s *Session) emit(c Candidate, yield func(Record) bool) bool {
	c.Owner = s.owner
	rec := s.normalizer.Normalize(c)
	issues := append(s.validator.checkSource(c, rec), s.validator.Check(rec)...)
	if !s.validator.Observe(Outcome{Record: rec, Issues: issues}) {
		return true
	}
	return yield(rec)
}
