package timeline

import "fmt"

// DefaultMaxWarnings bounds the warning messages kept per session. Further
// warnings are only counted.
const DefaultMaxWarnings = 1000

// Summary reports the outcome of one parse session.
type Summary struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
	// SuppressedWarnings counts warnings dropped once the message cap was hit.
	SuppressedWarnings int `json:"suppressed_warnings"`
	Units              int `json:"units"`
	Accepted           int `json:"accepted"`
	Rejected           int `json:"rejected"`
}

// IsValid reports whether the session recorded no errors. Warnings do not
// affect validity.
func (s Summary) IsValid() bool {
	return len(s.Errors) == 0
}

// WarningCount is the total number of warnings, suppressed ones included.
func (s Summary) WarningCount() int {
	return len(s.Warnings) + s.SuppressedWarnings
}

func (s Summary) String() string {
	return fmt.Sprintf("units=%d accepted=%d rejected=%d errors=%d warnings=%d",
		s.Units, s.Accepted, s.Rejected, len(s.Errors), s.WarningCount())
}

func (s Summary) clone() Summary {
	out := s
	out.Errors = append([]string(nil), s.Errors...)
	out.Warnings = append([]string(nil), s.Warnings...)
	return out
}
