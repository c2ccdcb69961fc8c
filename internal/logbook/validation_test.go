package logbook

import (
	"errors"
	"strings"
	"testing"
)

func intp(n int) *int { return &n }

func TestValidateToolChange(t *testing.T) {
	valid := func() *ToolChange {
		return &ToolChange{ToolNumber: 12, Cause: CauseWear, Signature: "AB"}
	}

	tests := []struct {
		name    string
		mutate  func(*ToolChange)
		wantErr string
	}{
		{"valid", func(*ToolChange) {}, ""},
		{"other with comment", func(tc *ToolChange) { tc.Cause = CauseOther; tc.Comment = "chipped insert" }, ""},
		{"with parts", func(tc *ToolChange) { tc.PartsCount = intp(0) }, ""},
		{"tool zero", func(tc *ToolChange) { tc.ToolNumber = 0 }, "tool_number is required"},
		{"tool too high", func(tc *ToolChange) { tc.ToolNumber = 10000 }, "tool_number must be at most 9999"},
		{"unknown cause", func(tc *ToolChange) { tc.Cause = "rust" }, "cause must be one of"},
		{"other without comment", func(tc *ToolChange) { tc.Cause = CauseOther }, "comment is required when Cause is other"},
		{"no signature", func(tc *ToolChange) { tc.Signature = "" }, "signature is required"},
		{"negative parts", func(tc *ToolChange) { tc.PartsCount = intp(-1) }, "parts_count must be at least 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := valid()
			tt.mutate(tc)
			err := Validate(tc)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidEntry) {
				t.Fatalf("Validate() error = %v, want ErrInvalidEntry", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateCompensation(t *testing.T) {
	valid := func() *Compensation {
		return &Compensation{Tool: "T12", Direction: DirectionZ, Value: "-0.02", Signature: "AB"}
	}

	tests := []struct {
		name    string
		mutate  func(*Compensation)
		wantErr bool
	}{
		{"tool only", func(*Compensation) {}, false},
		{"coordinate system only", func(c *Compensation) { c.Tool = ""; c.CoordinateSystem = "G54" }, false},
		{"number only", func(c *Compensation) { c.Tool = ""; c.Number = "3" }, false},
		{"none of the three", func(c *Compensation) { c.Tool = "" }, true},
		{"plus sign", func(c *Compensation) { c.Value = "+1.5" }, false},
		{"leading dot", func(c *Compensation) { c.Value = ".05" }, false},
		{"integer", func(c *Compensation) { c.Value = "3" }, false},
		{"trailing dot", func(c *Compensation) { c.Value = "1." }, true},
		{"comma decimal", func(c *Compensation) { c.Value = "0,05" }, true},
		{"two signs", func(c *Compensation) { c.Value = "+-1" }, true},
		{"bad direction", func(c *Compensation) { c.Direction = "W" }, true},
		{"lowercase direction", func(c *Compensation) { c.Direction = "x" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := Validate(c)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateDisturbance(t *testing.T) {
	d := &Disturbance{Area: AreaChipConveyor, Comment: "jammed", Signature: "AB"}
	if err := Validate(d); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	d.Area = "kitchen"
	if err := Validate(d); err == nil {
		t.Error("expected error for unknown area")
	}
	d.Area, d.Comment = AreaRobot, ""
	if err := Validate(d); err == nil {
		t.Error("expected error for missing comment")
	}
}

func TestValidateMatrixCode(t *testing.T) {
	tests := []struct {
		date    string
		wantErr bool
	}{
		{"260301", false},
		{"261231", false},
		{"260230", true},
		{"261301", true},
		{"2603011", true},
		{"26031", true},
		{"26a301", true},
	}
	for _, tt := range tests {
		t.Run(tt.date, func(t *testing.T) {
			err := Validate(&MatrixCode{ManufacturingOrder: "MO-1", DateCode: tt.date})
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate(%q) error = %v, wantErr %v", tt.date, err, tt.wantErr)
			}
		})
	}
}

func TestKindCapability(t *testing.T) {
	for _, k := range []Kind{KindToolChange, KindCompensation, KindDisturbance, KindMatrixCode} {
		if !k.Capability().Valid() {
			t.Errorf("%s maps to unknown capability %q", k, k.Capability())
		}
	}
	if Kind("cmm").Capability() != "" {
		t.Error("unknown kind should map to no capability")
	}
}
