package timeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	// ErrUnsupportedFormat is returned when a document matches neither dialect.
	ErrUnsupportedFormat = errors.New("unsupported timeline format")
	// ErrMalformedJSON is returned when the input is not valid JSON.
	ErrMalformedJSON = errors.New("malformed timeline json")
	// ErrInvalidStructure is returned when a detected document lacks the
	// structure its dialect requires.
	ErrInvalidStructure = errors.New("invalid timeline structure")
)

// Dialect is a vendor export layout.
type Dialect int

const (
	DialectUnknown Dialect = iota
	DialectAndroid
	DialectIPhone
)

func (d Dialect) String() string {
	switch d {
	case DialectAndroid:
		return "android"
	case DialectIPhone:
		return "iphone"
	}
	return "unknown"
}

// ParseDialect maps a dialect name back to a Dialect.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "android":
		return DialectAndroid, nil
	case "iphone", "ios":
		return DialectIPhone, nil
	}
	return DialectUnknown, fmt.Errorf("%w: dialect %q", ErrUnsupportedFormat, s)
}

const (
	androidSegmentsKey = "semanticSegments"
	iphoneStartKey     = "startTime"
)

// DetectDocument classifies a parsed document.
func DetectDocument(doc gjson.Result) (Dialect, error) {
	switch {
	case doc.IsArray():
		first := doc.Get("0")
		if first.IsObject() && first.Get(iphoneStartKey).Exists() {
			return DialectIPhone, nil
		}
	case doc.IsObject():
		if doc.Get(androidSegmentsKey).Exists() {
			return DialectAndroid, nil
		}
	}
	return DialectUnknown, ErrUnsupportedFormat
}

// DetectToken classifies a stream by its first structural byte.
func DetectToken(b byte) Dialect {
	switch b {
	case '[':
		return DialectIPhone
	case '{':
		return DialectAndroid
	}
	return DialectUnknown
}

// ValidateStructure checks the top-level shape of doc for dialect d. Errors
// and warnings are recorded on v; the result is false when any error was
// recorded.
func ValidateStructure(doc gjson.Result, d Dialect, v *Validator) bool {
	switch d {
	case DialectAndroid:
		if !doc.IsObject() {
			v.AddError("android export must be a JSON object")
			return false
		}
		segments := doc.Get(androidSegmentsKey)
		if !segments.Exists() {
			v.AddError("android export has no semanticSegments")
			return false
		}
		if !segments.IsArray() {
			v.AddError("semanticSegments must be an array")
			return false
		}
		if len(segments.Array()) == 0 {
			v.AddWarning("semanticSegments is empty")
		}
		return true
	case DialectIPhone:
		if !doc.IsArray() {
			v.AddError("iphone export must be a JSON array")
			return false
		}
		first := doc.Get("0")
		if !first.Exists() {
			v.AddWarning("iphone export is empty")
			return true
		}
		if !first.IsObject() {
			v.AddError("iphone export items must be objects")
			return false
		}
		if !first.Get(iphoneStartKey).Exists() {
			v.AddError("iphone export items must carry startTime")
			return false
		}
		return true
	}
	v.AddError(ErrUnsupportedFormat.Error())
	return false
}

// Format describes an accepted upload format.
type Format struct {
	Name        string    `json:"name"`
	Extensions  []string  `json:"extensions"`
	MIMETypes   []string  `json:"mime_types"`
	Description string    `json:"description"`
	Dialects    []Dialect `json:"-"`
	Available   bool      `json:"available"`
}

// SupportedFormats lists the upload formats, including announced ones that
// are not readable yet.
func SupportedFormats() []Format {
	return []Format{
		{
			Name:        "json",
			Extensions:  []string{".json"},
			MIMETypes:   []string{"application/json", "text/plain"},
			Description: "Google Timeline JSON export (Android and iPhone)",
			Dialects:    []Dialect{DialectAndroid, DialectIPhone},
			Available:   true,
		},
		{
			Name:        "gpx",
			Extensions:  []string{".gpx"},
			MIMETypes:   []string{"application/gpx+xml", "application/xml"},
			Description: "GPX track files",
		},
	}
}

// AcceptsExtension reports whether a file name has an extension of an
// available format. An empty name is accepted.
func AcceptsExtension(name string) bool {
	if name == "" {
		return true
	}
	lower := strings.ToLower(name)
	for _, f := range SupportedFormats() {
		if !f.Available {
			continue
		}
		for _, ext := range f.Extensions {
			if strings.HasSuffix(lower, ext) {
				return true
			}
		}
	}
	return false
}
