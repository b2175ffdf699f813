package timeline

import (
	"strconv"
	"strings"
)

// ParseIPhoneGeo parses the iPhone "geo:<lat>,<lng>" form. The prefix is
// optional and anything after the second component (altitude) is ignored.
func ParseIPhoneGeo(s string) (lat, lng float64, ok bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "geo:")
	parts := strings.Split(s, ",")
	if len(parts) < 2 {
		return 0, 0, false
	}
	return parsePair(parts[0], parts[1])
}

// ParseAndroidCoordinates parses the Android "<lat>°, <lng>°" form. Degree
// marks are optional but the separator must be exactly ", ".
func ParseAndroidCoordinates(s string) (lat, lng float64, ok bool) {
	s = strings.ReplaceAll(s, "°", "")
	parts := strings.Split(s, ", ")
	if len(parts) != 2 {
		return 0, 0, false
	}
	return parsePair(parts[0], parts[1])
}

func parsePair(a, b string) (float64, float64, bool) {
	lat, err := strconv.ParseFloat(strings.TrimSpace(a), 64)
	if err != nil {
		return 0, 0, false
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(b), 64)
	if err != nil {
		return 0, 0, false
	}
	return lat, lng, true
}

// coordinateParser is the dialect specific coordinate text parser.
type coordinateParser func(string) (float64, float64, bool)

// resolveCoordinates fills the coordinate fields of c from text. Empty text
// leaves the position unset; unparsable text marks the candidate malformed.
func resolveCoordinates(c *Candidate, text string, parse coordinateParser) {
	c.CoordinateText = text
	if strings.TrimSpace(text) == "" {
		return
	}
	lat, lng, ok := parse(text)
	if !ok {
		c.CoordinateMalformed = true
		return
	}
	c.Latitude = &lat
	c.Longitude = &lng
}
