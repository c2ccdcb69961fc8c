package logbook

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/verkstad/toolmgmt/internal/infrastructure/database/dbtest"
	"github.com/verkstad/toolmgmt/internal/machine"
)

const machineFixture = `INSERT INTO machines (id, number, display_name, capabilities, created_at, updated_at)
	VALUES ('mch-1', '5701', 'Mazak 1', '["compensation","disturbances","matrix_code","tool_change"]',
	'2026-03-01T09:00:00Z', '2026-03-01T09:00:00Z'),
	('mch-2', '5702', 'Mazak 2', '["tool_change"]', '2026-03-01T09:00:00Z', '2026-03-01T09:00:00Z')`

// newTestRepo returns a repository whose clock advances one second per entry.
func newTestRepo(t *testing.T) (*SQLiteRepository, *sql.DB) {
	t.Helper()
	db := dbtest.Open(t)
	dbtest.Exec(t, db, machineFixture)

	repo := NewSQLiteRepository(db)
	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	repo.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return repo, db
}

func TestToolChangePartsSinceLastChange(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	record := func(machineID string, tool int, parts *int) *ToolChange {
		t.Helper()
		tc := &ToolChange{MachineID: machineID, ToolNumber: tool, Cause: CauseWear, Signature: "AB", PartsCount: parts}
		if err := repo.CreateToolChange(ctx, tc); err != nil {
			t.Fatalf("CreateToolChange() error = %v", err)
		}
		return tc
	}

	if tc := record("mch-1", 5, intp(1000)); tc.PartsSinceLastChange != nil {
		t.Errorf("first change since = %v, want nil", *tc.PartsSinceLastChange)
	}
	if tc := record("mch-1", 5, intp(1250)); tc.PartsSinceLastChange == nil || *tc.PartsSinceLastChange != 250 {
		t.Errorf("second change since = %v, want 250", tc.PartsSinceLastChange)
	}
	// Other tool and other machine do not count as previous changes.
	if tc := record("mch-1", 6, intp(1300)); tc.PartsSinceLastChange != nil {
		t.Error("different tool should have no previous change")
	}
	if tc := record("mch-2", 5, intp(1400)); tc.PartsSinceLastChange != nil {
		t.Error("different machine should have no previous change")
	}
	// Counter reset.
	if tc := record("mch-1", 5, intp(10)); tc.PartsSinceLastChange != nil {
		t.Error("counter reset should give nil")
	}
	// No reading now.
	if tc := record("mch-1", 5, nil); tc.PartsSinceLastChange != nil {
		t.Error("missing reading should give nil")
	}

	page, err := repo.ListToolChanges(ctx, "mch-1", ListOptions{})
	if err != nil {
		t.Fatalf("ListToolChanges() error = %v", err)
	}
	if page.Total != 5 || len(page.Items) != 5 {
		t.Fatalf("page = %d items of %d, want 5", len(page.Items), page.Total)
	}
	if page.Items[0].PartsCount != nil || page.Items[1].PartsCount == nil || *page.Items[1].PartsCount != 10 {
		t.Error("tool changes should be newest first")
	}
	if page.Items[0].MachineNumber != "5701" {
		t.Errorf("MachineNumber = %q, want 5701", page.Items[0].MachineNumber)
	}
	if page.Limit != DefaultLimit {
		t.Errorf("Limit = %d, want default %d", page.Limit, DefaultLimit)
	}

	byTool, err := repo.ListToolChangesByTool(ctx, 5, ListOptions{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("ListToolChangesByTool() error = %v", err)
	}
	if byTool.Total != 5 || len(byTool.Items) != 2 {
		t.Errorf("by tool = %d items of %d, want 2 of 5", len(byTool.Items), byTool.Total)
	}
}

func TestCreateRoundTrip(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	c := &Compensation{MachineID: "mch-1", ManufacturingOrder: "MO-7", Tool: "T1", Direction: DirectionX,
		Value: "-0.01", Comment: "after measuring", Signature: "AB", CreatedBy: "usr-1"}
	if err := repo.CreateCompensation(ctx, c); err != nil {
		t.Fatalf("CreateCompensation() error = %v", err)
	}
	comps, err := repo.ListCompensations(ctx, "mch-1", ListOptions{})
	if err != nil || len(comps.Items) != 1 {
		t.Fatalf("ListCompensations() = %v, %v", comps, err)
	}
	c.MachineNumber = "5701"
	if diff := cmp.Diff(*c, comps.Items[0]); diff != "" {
		t.Errorf("compensation mismatch (-want +got):\n%s", diff)
	}

	d := &Disturbance{MachineID: "mch-1", Area: AreaRobot, Comment: "gripper fault", Signature: "AB"}
	if err := repo.CreateDisturbance(ctx, d); err != nil {
		t.Fatalf("CreateDisturbance() error = %v", err)
	}
	dists, err := repo.ListDisturbances(ctx, "mch-1", ListOptions{})
	if err != nil || len(dists.Items) != 1 || dists.Items[0].Area != AreaRobot {
		t.Fatalf("ListDisturbances() = %v, %v", dists, err)
	}

	mc := &MatrixCode{MachineID: "mch-1", ManufacturingOrder: "MO-7", DateCode: "260301"}
	if err := repo.CreateMatrixCode(ctx, mc); err != nil {
		t.Fatalf("CreateMatrixCode() error = %v", err)
	}
	codes, err := repo.ListMatrixCodes(ctx, "mch-1", ListOptions{})
	if err != nil || len(codes.Items) != 1 || codes.Items[0].DateCode != "260301" {
		t.Fatalf("ListMatrixCodes() = %v, %v", codes, err)
	}
	if !codes.Items[0].CreatedAt.Equal(mc.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", codes.Items[0].CreatedAt, mc.CreatedAt)
	}
}

func TestCreateUnknownMachine(t *testing.T) {
	repo, _ := newTestRepo(t)
	err := repo.CreateDisturbance(context.Background(),
		&Disturbance{MachineID: "mch-missing", Area: AreaOther, Comment: "x", Signature: "AB"})
	if !errors.Is(err, machine.ErrMachineNotFound) {
		t.Errorf("CreateDisturbance() error = %v, want ErrMachineNotFound", err)
	}
}

func TestLastOrder(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	if _, err := repo.GetLastOrder(ctx, "mch-1"); !errors.Is(err, ErrNoLastOrder) {
		t.Fatalf("GetLastOrder() error = %v, want ErrNoLastOrder", err)
	}
	for _, order := range []string{"MO-1", "MO-2"} {
		if err := repo.SetLastOrder(ctx, "mch-1", order); err != nil {
			t.Fatalf("SetLastOrder(%s) error = %v", order, err)
		}
	}
	lo, err := repo.GetLastOrder(ctx, "mch-1")
	if err != nil || lo.ManufacturingOrder != "MO-2" {
		t.Errorf("GetLastOrder() = %v, %v; want MO-2", lo, err)
	}
}

func TestListOptionsNormalise(t *testing.T) {
	tests := []struct {
		in, want ListOptions
	}{
		{ListOptions{}, ListOptions{Limit: DefaultLimit}},
		{ListOptions{Limit: 1000, Offset: -3}, ListOptions{Limit: MaxLimit}},
		{ListOptions{Limit: 10, Offset: 20}, ListOptions{Limit: 10, Offset: 20}},
	}
	for _, tt := range tests {
		if got := tt.in.normalise(); got != tt.want {
			t.Errorf("normalise(%+v) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}
