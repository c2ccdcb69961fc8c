package influxdb

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/verkstad/toolmgmt/internal/infrastructure/config"
)

// fakeWriter records points as line protocol.
type fakeWriter struct {
	mu      sync.Mutex
	lines   []string
	flushes int
}

func (w *fakeWriter) WritePoint(p *write.Point) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lines = append(w.lines, strings.TrimSpace(write.PointToLineProtocol(p, time.Second)))
}

func (w *fakeWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushes++
}

var testTime = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func newTestClient() (*Client, *fakeWriter) {
	w := &fakeWriter{}
	return &Client{
		points: w,
		now:    func() time.Time { return testTime },
	}, w
}

func TestWriteHelpers(t *testing.T) {
	c, w := newTestClient()
	parts := 4200

	c.WriteCounter("5701", 4211, testTime)
	c.WriteCounterError("5702", testTime)
	c.WriteLogbookEntry("5701", "tool_change", &parts, testTime)
	c.WriteLogbookEntry("5701", "compensation", nil, testTime)
	c.WriteMachineState("5703", "Stopped", "300", testTime)
	c.WritePoint("custom", map[string]string{"k": "v"}, map[string]interface{}{"x": 1.5})

	ts := "1772438400"
	want := []string{
		"part_counter,machine=5701 value=4211i " + ts,
		"part_counter_errors,machine=5702 count=1i " + ts,
		"logbook_entries,kind=tool_change,machine=5701 count=1i,parts_count=4200i " + ts,
		"logbook_entries,kind=compensation,machine=5701 count=1i " + ts,
		"machine_state,machine=5703,state=Stopped,stop_code=300 count=1i " + ts,
		"custom,k=v x=1.5 " + ts,
	}
	if len(w.lines) != len(want) {
		t.Fatalf("wrote %d points, want %d: %v", len(w.lines), len(want), w.lines)
	}
	for i := range want {
		if w.lines[i] != want[i] {
			t.Errorf("point %d = %q, want %q", i, w.lines[i], want[i])
		}
	}
}

func TestWritesDroppedWhenDisconnected(t *testing.T) {
	c, w := newTestClient()
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if w.flushes != 1 {
		t.Errorf("Close() flushed %d times, want 1", w.flushes)
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() after Close error = %v, want ErrNotConnected", err)
	}

	c.WriteCounter("5701", 1, testTime)
	c.Flush()
	if len(w.lines) != 0 || w.flushes != 1 {
		t.Errorf("closed client wrote %v and flushed %d times", w.lines, w.flushes)
	}

	var nilClient *Client
	nilClient.WriteCounter("5701", 1, testTime)
	nilClient.Flush()
	if err := nilClient.Close(); err != nil {
		t.Errorf("nil Close() error = %v", err)
	}
	if err := nilClient.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("nil HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestDrainErrors(t *testing.T) {
	c, _ := newTestClient()
	got := make(chan error, 1)
	c.SetOnError(func(err error) { got <- err })

	ch := make(chan error, 1)
	ch <- errors.New("bucket not found")
	close(ch)
	c.drainErrors(ch)

	select {
	case err := <-got:
		if err.Error() != "bucket not found" {
			t.Errorf("callback error = %v", err)
		}
	default:
		t.Error("callback not invoked")
	}
}

func TestConnect_Disabled(t *testing.T) {
	_, err := Connect(config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	if testing.Short() {
		t.Skip("dials a closed port")
	}
	_, err := Connect(config.InfluxDBConfig{
		Enabled: true,
		URL:     "http://127.0.0.1:1",
		Token:   "t",
		Org:     "o",
		Bucket:  "b",
	})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestWriteOptions(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.InfluxDBConfig
		wantBatch uint
		wantFlush uint
	}{
		{"defaults", config.InfluxDBConfig{}, 100, 10000},
		{"configured", config.InfluxDBConfig{BatchSize: 500, FlushInterval: 2}, 500, 2000},
		{"negative", config.InfluxDBConfig{BatchSize: -1, FlushInterval: -5}, 100, 10000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := writeOptions(tt.cfg)
			if opts.BatchSize() != tt.wantBatch || opts.FlushInterval() != tt.wantFlush {
				t.Errorf("batch = %d flush = %d, want %d and %d",
					opts.BatchSize(), opts.FlushInterval(), tt.wantBatch, tt.wantFlush)
			}
		})
	}
}
