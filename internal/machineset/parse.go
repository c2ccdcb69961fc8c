package machineset

import (
	"regexp"
	"strings"
)

// FormatHint describes the expected machine segment to end users.
const FormatHint = "/<nnnn>(-<nnnn>)*/..."

var segmentRegex = regexp.MustCompile(`^\d{4}(-\d{4})*$`)

// Segment returns the first slash-delimited part of path that is a dash
// separated list of four digit numbers.
func Segment(path string) (string, bool) {
	for part := range strings.SplitSeq(path, "/") {
		if part == "" {
			continue
		}
		if segmentRegex.MatchString(part) {
			return part, true
		}
	}
	return "", false
}

// ParseNumbers returns the machine numbers named by path, in order and
// with duplicates kept. It returns nil when no segment matches.
func ParseNumbers(path string) []string {
	seg, ok := Segment(path)
	if !ok {
		return nil
	}
	return strings.Split(seg, "-")
}
