package timeline

import (
	"fmt"
	"strings"
	"time"
)

// Rules holds the thresholds the Validator enforces.
type Rules struct {
	MinLatitude       float64
	MaxLatitude       float64
	MinLongitude      float64
	MaxLongitude      float64
	MinProbability    float64
	MaxProbability    float64
	MinDistanceMeters float64
	MaxDistanceMeters float64
	// DropMalformedCoordinates rejects records whose coordinate text could
	// not be parsed. When false such records are kept without a position.
	DropMalformedCoordinates bool
	MaxWarnings              int
}

// DefaultRules returns the stock thresholds.
func DefaultRules() Rules {
	return Rules{
		MinLatitude:              -90,
		MaxLatitude:              90,
		MinLongitude:             -180,
		MaxLongitude:             180,
		MinProbability:           0,
		MaxProbability:           1,
		MinDistanceMeters:        0,
		MaxDistanceMeters:        1_000_000,
		DropMalformedCoordinates: true,
		MaxWarnings:              DefaultMaxWarnings,
	}
}

// Issue is a single problem found on a record.
type Issue struct {
	Field   string
	Message string
	// Reject marks issues that exclude the record from the output.
	Reject bool
}

func (i Issue) String() string {
	return i.Field + ": " + i.Message
}

// Outcome pairs a normalized record with the issues found on it.
type Outcome struct {
	Record Record
	Issues []Issue
}

// Valid reports whether no issue rejects the record.
func (o Outcome) Valid() bool {
	for _, issue := range o.Issues {
		if issue.Reject {
			return false
		}
	}
	return true
}

// Validator checks records against Rules and accumulates a Summary. One
// Validator belongs to one parse session.
type Validator struct {
	rules   Rules
	summary Summary
}

// NewValidator constructs a Validator with an empty summary.
func NewValidator(rules Rules) *Validator {
	if rules.MaxWarnings <= 0 {
		rules.MaxWarnings = DefaultMaxWarnings
	}
	return &Validator{rules: rules}
}

// Check runs every rule against r without touching the summary.
func (v *Validator) Check(r Record) []Issue {
	var issues []Issue
	if issue, bad := v.checkCoordinates(r); bad {
		issues = append(issues, issue)
	}
	for _, p := range []struct {
		field string
		value *float64
	}{
		{"visit_probability", r.VisitProbability},
		{"activity_probability", r.ActivityProbability},
	} {
		if p.value != nil && !within(*p.value, v.rules.MinProbability, v.rules.MaxProbability) {
			issues = append(issues, Issue{Field: p.field, Message: fmt.Sprintf("invalid probability %v", *p.value), Reject: true})
		}
	}
	if d := r.ActivityDistanceMeters; d != nil && !within(*d, v.rules.MinDistanceMeters, v.rules.MaxDistanceMeters) {
		issues = append(issues, Issue{Field: "activity_distance_meters", Message: fmt.Sprintf("invalid distance %v", *d), Reject: true})
	}
	for _, ts := range []struct {
		field string
		value *time.Time
	}{
		{"start_time", r.StartTime},
		{"end_time", r.EndTime},
		{"point_time", r.PointTime},
	} {
		if ts.value == nil {
			continue
		}
		if y := ts.value.Year(); y < 1 || y > 9999 {
			issues = append(issues, Issue{Field: ts.field, Message: fmt.Sprintf("timestamp year %d out of range", y), Reject: true})
		}
	}
	return issues
}

func (v *Validator) checkCoordinates(r Record) (Issue, bool) {
	lat, lng := r.Latitude, r.Longitude
	switch {
	case lat == nil && lng == nil:
		return Issue{}, false
	case lat == nil || lng == nil:
		return Issue{Field: "coordinates", Message: "incomplete coordinates", Reject: true}, true
	case !within(*lat, v.rules.MinLatitude, v.rules.MaxLatitude) || !within(*lng, v.rules.MinLongitude, v.rules.MaxLongitude):
		return Issue{Field: "coordinates", Message: fmt.Sprintf("invalid coordinates lat=%v lng=%v", *lat, *lng), Reject: true}, true
	}
	return Issue{}, false
}

// checkSource reports problems only visible before normalization. A time
// string that did not normalize is kept as a null field with a warning.
func (v *Validator) checkSource(c Candidate, r Record) []Issue {
	var issues []Issue
	if c.CoordinateMalformed {
		issues = append(issues, Issue{
			Field:   "coordinates",
			Message: fmt.Sprintf("malformed coordinates %q", c.CoordinateText),
			Reject:  v.rules.DropMalformedCoordinates,
		})
	}
	for _, ts := range []struct {
		field string
		raw   string
		value *time.Time
	}{
		{"start_time", c.StartTime, r.StartTime},
		{"end_time", c.EndTime, r.EndTime},
		{"point_time", c.PointTime, r.PointTime},
	} {
		if ts.value == nil && strings.TrimSpace(ts.raw) != "" {
			issues = append(issues, Issue{Field: ts.field, Message: fmt.Sprintf("unparsable timestamp %q", ts.raw)})
		}
	}
	return issues
}

// Validate checks r, records any warnings in the summary and reports whether
// r is valid.
func (v *Validator) Validate(r Record) bool {
	return v.Observe(Outcome{Record: r, Issues: v.Check(r)})
}

// Observe folds an outcome into the summary and reports whether it is valid.
func (v *Validator) Observe(o Outcome) bool {
	for _, issue := range o.Issues {
		v.AddWarning(fmt.Sprintf("%s record: %s", o.Record.Kind, issue))
	}
	if o.Valid() {
		v.summary.Accepted++
		return true
	}
	v.summary.Rejected++
	return false
}

// AddError records a structural error.
func (v *Validator) AddError(msg string) {
	v.summary.Errors = append(v.summary.Errors, msg)
}

// AddWarning records a warning, counting it once the message cap is reached.
func (v *Validator) AddWarning(msg string) {
	if len(v.summary.Warnings) >= v.rules.MaxWarnings {
		v.summary.SuppressedWarnings++
		return
	}
	v.summary.Warnings = append(v.summary.Warnings, msg)
}

func (v *Validator) countUnit() {
	v.summary.Units++
}

// Summary returns a snapshot of the accumulated summary.
func (v *Validator) Summary() Summary {
	return v.summary.clone()
}

// Reset clears the summary.
func (v *Validator) Reset() {
	v.summary = Summary{}
}

// within is false for NaN.
func within(x, lo, hi float64) bool {
	return x >= lo && x <= hi
}
