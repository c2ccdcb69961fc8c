package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/verkstad/toolmgmt/internal/infrastructure/database/dbtest"
)

func TestSQLiteRepository_CreateAndList(t *testing.T) {
	repo := NewSQLiteRepository(dbtest.Open(t))
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	entries := []*Entry{
		{Action: ActionCreate, EntityType: EntityMachine, EntityID: "mch-1", UserID: "usr-a",
			Details: map[string]any{"number": "5701"}, CreatedAt: base},
		{Action: ActionUpdate, EntityType: EntityMachine, EntityID: "mch-1", UserID: "usr-b", CreatedAt: base.Add(time.Minute)},
		{Action: ActionCreate, EntityType: EntityTool, EntityID: "tool-1", UserID: "usr-a", Source: SourceCLI,
			CreatedAt: base.Add(2 * time.Minute)},
		{Action: ActionAssign, EntityType: EntityUser, EntityID: "usr-b", UserID: "usr-a", CreatedAt: base.Add(3 * time.Minute)},
	}
	for _, e := range entries {
		if err := repo.Create(ctx, e); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
	if entries[0].ID == "" || entries[0].Source != SourceAPI {
		t.Errorf("Create() defaults not applied: %+v", entries[0])
	}

	all, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if all.Total != 4 || all.Limit != DefaultLimit || len(all.Entries) != 4 {
		t.Fatalf("List() = total %d limit %d len %d", all.Total, all.Limit, len(all.Entries))
	}
	if all.Entries[0].ID != entries[3].ID {
		t.Errorf("List() not newest first: %s", all.Entries[0].ID)
	}
	if diff := cmp.Diff(*entries[0], all.Entries[3]); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"by action", Filter{Action: ActionCreate}, []string{entries[2].ID, entries[0].ID}},
		{"by entity", Filter{EntityType: EntityMachine, EntityID: "mch-1"}, []string{entries[1].ID, entries[0].ID}},
		{"by user", Filter{UserID: "usr-b"}, []string{entries[1].ID}},
		{"time window", Filter{Since: base.Add(time.Minute), Until: base.Add(3 * time.Minute)}, []string{entries[2].ID, entries[1].ID}},
		{"page", Filter{Limit: 2, Offset: 1}, []string{entries[2].ID, entries[1].ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			got := make([]string, len(res.Entries))
			for i, e := range res.Entries {
				got[i] = e.ID
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("List() IDs (-want +got):\n%s", diff)
			}
		})
	}

	res, err := repo.List(ctx, Filter{Limit: 1000, Offset: -3})
	if err != nil || res.Limit != MaxLimit || res.Offset != 0 {
		t.Errorf("List() clamping = %+v, %v", res, err)
	}
}

type fakeRepo struct {
	mu      sync.Mutex
	entries []Entry
	err     error
	block   chan struct{}
}

func (f *fakeRepo) Create(_ context.Context, e *Entry) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, *e)
	return nil
}

func (f *fakeRepo) List(context.Context, Filter) (*ListResult, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeRepo) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

func TestRecorder_DrainsOnShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	repo := &fakeRepo{}
	rec := NewRecorder(repo, 8)
	for i := range 5 {
		if !rec.Record(Entry{Action: ActionUpdate, EntityType: EntityTool, EntityID: string(rune('a' + i))}) {
			t.Fatal("Record() dropped an entry with room in the queue")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan struct{})
	go func() {
		rec.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	if n := repo.len(); n != 5 {
		t.Errorf("written %d entries, want 5", n)
	}
}

func TestRecorder_DropsWhenFull(t *testing.T) {
	rec := NewRecorder(&fakeRepo{}, 2)
	if !rec.Record(Entry{}) || !rec.Record(Entry{}) {
		t.Fatal("Record() dropped below capacity")
	}
	if rec.Record(Entry{}) {
		t.Error("Record() accepted an entry beyond capacity")
	}

	var nilRec *Recorder
	if nilRec.Record(Entry{}) {
		t.Error("nil Recorder accepted an entry")
	}
}

func TestRecorder_WritesWhileRunning(t *testing.T) {
	defer goleak.VerifyNone(t)

	repo := &fakeRepo{err: errors.New("disk full")}
	rec := NewRecorder(repo, 0)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rec.Run(ctx)
		close(done)
	}()

	// A failing write is logged and the loop keeps going.
	rec.Record(Entry{Action: ActionDelete})
	repo.mu.Lock()
	repo.err = nil
	repo.mu.Unlock()
	rec.Record(Entry{Action: ActionCreate})

	deadline := time.Now().Add(5 * time.Second)
	for repo.len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if repo.len() == 0 {
		t.Error("entry recorded after a failed write was never written")
	}
}
