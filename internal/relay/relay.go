// Package relay forwards counter readings, machine status changes and
// logbook entries to MQTT and InfluxDB, and applies registry invalidations
// received over MQTT.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/verkstad/toolmgmt/internal/adambox"
	"github.com/verkstad/toolmgmt/internal/infrastructure/mqtt"
	"github.com/verkstad/toolmgmt/internal/logbook"
	"github.com/verkstad/toolmgmt/internal/machine"
	"github.com/verkstad/toolmgmt/internal/monitormi"
)

// MessagePublisher is implemented by *mqtt.Client.
type MessagePublisher interface {
	PublishJSON(topic string, v any, qos byte, retained bool) error
}

// Subscriber is implemented by *mqtt.Client.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// PointWriter is implemented by *influxdb.Client.
type PointWriter interface {
	WriteCounter(machineNumber string, value int, at time.Time)
	WriteLogbookEntry(machineNumber, kind string, partsCount *int, at time.Time)
	WriteMachineState(machineNumber, state, stopCode string, at time.Time)
}

// Invalidator drops a cached machine list. *machine.Registry implements it.
type Invalidator interface {
	Invalidate()
}

// Logger is the logging interface used by the relay.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// CounterMessage is published for every counter reading.
type CounterMessage struct {
	MachineNumber string    `json:"machine_number"`
	MachineID     string    `json:"machine_id"`
	Value         int       `json:"value"`
	Register      int       `json:"register"`
	ReadAt        time.Time `json:"read_at"`
}

// InvalidateMessage asks every instance to drop its machine cache.
type InvalidateMessage struct {
	Origin      string    `json:"origin"`
	RequestedAt time.Time `json:"requested_at"`
}

// Relay fans domain events out to the configured transports. A relay with
// neither transport set does nothing.
type Relay struct {
	topics mqtt.Topics
	qos    byte
	origin string
	pub    MessagePublisher
	points PointWriter
	logger Logger
	now    func() time.Time
}

// New creates a relay. origin identifies this instance on the invalidate
// topic so it can ignore its own requests.
func New(topics mqtt.Topics, qos byte, origin string) *Relay {
	return &Relay{topics: topics, qos: qos, origin: origin, logger: noopLogger{}, now: time.Now}
}

// SetPublisher enables MQTT publishing.
func (r *Relay) SetPublisher(p MessagePublisher) { r.pub = p }

// SetPointWriter enables InfluxDB points.
func (r *Relay) SetPointWriter(w PointWriter) { r.points = w }

// SetLogger sets the logger.
func (r *Relay) SetLogger(l Logger) { r.logger = l }

// CounterRead implements adambox.Sink.
func (r *Relay) CounterRead(_ context.Context, m machine.Machine, reading adambox.Reading) {
	if r.points != nil {
		r.points.WriteCounter(m.Number, reading.Value, reading.ReadAt)
	}
	if r.pub == nil {
		return
	}
	msg := CounterMessage{
		MachineNumber: m.Number,
		MachineID:     m.ID,
		Value:         reading.Value,
		Register:      reading.Register,
		ReadAt:        reading.ReadAt,
	}
	if err := r.pub.PublishJSON(r.topics.Counter(m.Number), msg, r.qos, false); err != nil {
		r.logger.Warn("publishing counter reading failed", "machine", m.Number, "error", err)
	}
}

// PublishEntry implements logbook.Publisher.
func (r *Relay) PublishEntry(_ context.Context, ev logbook.Event) {
	if r.points != nil {
		var parts *int
		if tc, ok := ev.Entry.(*logbook.ToolChange); ok {
			parts = tc.PartsCount
		}
		r.points.WriteLogbookEntry(ev.MachineNumber, string(ev.Kind), parts, ev.CreatedAt)
	}
	if r.pub == nil {
		return
	}
	topic := r.topics.LogbookEntry(ev.MachineNumber, string(ev.Kind))
	if err := r.pub.PublishJSON(topic, ev, r.qos, false); err != nil {
		r.logger.Warn("publishing logbook entry failed", "machine", ev.MachineNumber, "kind", ev.Kind, "error", err)
	}
}

// StatusChanged implements monitormi.StatusSink. The MQTT message is
// retained so new subscribers see the current state of every machine.
func (r *Relay) StatusChanged(_ context.Context, m machine.Machine, st *monitormi.Status) {
	if r.points != nil {
		r.points.WriteMachineState(m.Number, st.State.String(), st.StopCode, st.CheckedAt)
	}
	if r.pub == nil {
		return
	}
	if err := r.pub.PublishJSON(r.topics.MachineStatus(m.Number), st, r.qos, true); err != nil {
		r.logger.Warn("publishing machine status failed", "machine", m.Number, "error", err)
	}
}

// RequestInvalidate asks the other instances to drop their machine cache.
// It is a no-op without a publisher.
func (r *Relay) RequestInvalidate() error {
	if r.pub == nil {
		return nil
	}
	msg := InvalidateMessage{Origin: r.origin, RequestedAt: r.now().UTC()}
	if err := r.pub.PublishJSON(r.topics.RegistryInvalidate(), msg, r.qos, false); err != nil {
		return fmt.Errorf("requesting registry invalidation: %w", err)
	}
	return nil
}

// ListenInvalidate subscribes to the invalidate topic and calls
// inv.Invalidate for every request not sent by this instance. Empty or
// malformed payloads still invalidate.
func (r *Relay) ListenInvalidate(sub Subscriber, inv Invalidator) error {
	return sub.Subscribe(r.topics.RegistryInvalidate(), r.qos, func(_ string, payload []byte) error {
		var msg InvalidateMessage
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &msg); err != nil {
				r.logger.Warn("malformed invalidate request", "error", err)
			}
		}
		if msg.Origin != "" && msg.Origin == r.origin {
			return nil
		}
		r.logger.Info("registry invalidated by broker request", "origin", msg.Origin)
		inv.Invalidate()
		return nil
	})
}

var (
	_ adambox.Sink         = (*Relay)(nil)
	_ logbook.Publisher    = (*Relay)(nil)
	_ monitormi.StatusSink = (*Relay)(nil)
)
