package machineset

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseNumbers(t *testing.T) {
	tests := []struct {
		name string
		path string
		want []string
	}{
		{"single", "/5701/tool-changes", []string{"5701"}},
		{"several", "/5701-5702-5703/skapa-verktygsbyte", []string{"5701", "5702", "5703"}},
		{"no leading slash", "5701-5702", []string{"5701", "5702"}},
		{"duplicates kept", "/5701-5701", []string{"5701", "5701"}},
		{"not first part", "/machines/5701/history", []string{"5701"}},
		{"first match wins", "/5701/5702-5703", []string{"5701"}},
		{"double slashes", "//5701//x", []string{"5701"}},
		{"three digits", "/570/skapa-verktygsbyte", nil},
		{"five digits", "/57011", nil},
		{"one short group rejects segment", "/5701-570", nil},
		{"one long group rejects segment", "/5701-57022", nil},
		{"trailing dash", "/5701-", nil},
		{"leading dash", "/-5701", nil},
		{"double dash", "/5701--5702", nil},
		{"letters", "/57a1", nil},
		{"non ascii digits", "/٥٧٠١", nil},
		{"empty", "", nil},
		{"root", "/", nil},
		{"bad first then good", "/570/5701", []string{"5701"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseNumbers(tt.path)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseNumbers(%q) mismatch (-want +got):\n%s", tt.path, diff)
			}
		})
	}
}

func TestSegment(t *testing.T) {
	seg, ok := Segment("/5701-5702/compensations")
	if !ok || seg != "5701-5702" {
		t.Errorf("Segment() = %q, %v", seg, ok)
	}
	if seg, ok := Segment("/admin"); ok || seg != "" {
		t.Errorf("Segment(/admin) = %q, %v; want no match", seg, ok)
	}
}
