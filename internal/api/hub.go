package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/verkstad/toolmgmt/internal/adambox"
	"github.com/verkstad/toolmgmt/internal/infrastructure/config"
	"github.com/verkstad/toolmgmt/internal/infrastructure/logging"
	"github.com/verkstad/toolmgmt/internal/logbook"
	"github.com/verkstad/toolmgmt/internal/machine"
	"github.com/verkstad/toolmgmt/internal/monitormi"
)

// Event channels clients can subscribe to.
const (
	ChannelMachineCounter = "machine.counter"
	ChannelMachineStatus  = "machine.status"
	ChannelLogbookEntry   = "logbook.entry"
	ChannelRegistryState  = "registry.state"
)

var knownChannels = map[string]bool{
	ChannelMachineCounter: true,
	ChannelMachineStatus:  true,
	ChannelLogbookEntry:   true,
	ChannelRegistryState:  true,
}

type registryEvent struct {
	State    machine.RegistryState `json:"state"`
	Version  uint64                `json:"version"`
	Machines int                   `json:"machines"`
}

type counterEvent struct {
	MachineNumber string            `json:"machine_number"`
	MachineID     machine.MachineID `json:"machine_id"`
	Value         int               `json:"value"`
	ReadAt        time.Time         `json:"read_at"`
}

type statusEvent struct {
	MachineNumber string            `json:"machine_number"`
	MachineID     machine.MachineID `json:"machine_id"`
	Status        *monitormi.Status `json:"status"`
}

// Hub fans shop floor events out to websocket connections. It is the
// websocket side of adambox.Sink, monitormi.StatusSink and
// logbook.Publisher.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu    sync.RWMutex
	conns map[*wsConn]struct{}

	// metric hooks, set by the server
	onCounter func(machineNumber string)
	onStatus  func()
}

// NewHub returns an empty hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:    cfg,
		logger: logger,
		conns:  make(map[*wsConn]struct{}),
	}
}

// Run blocks until ctx is cancelled and then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[*wsConn]struct{})
	h.mu.Unlock()

	for c := range conns {
		c.shutdown()
	}
}

func (h *Hub) add(c *wsConn) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	n := len(h.conns)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "user_id", c.userID, "role", c.role, "clients", n)
}

func (h *Hub) remove(c *wsConn) {
	h.mu.Lock()
	delete(h.conns, c)
	n := len(h.conns)
	h.mu.Unlock()
	c.shutdown()
	h.logger.Debug("websocket client disconnected", "user_id", c.userID, "clients", n)
}

// ClientCount returns the number of open connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Broadcast queues an event for every connection subscribed to channel.
// Slow connections whose queue is full miss the event.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("encoding websocket event failed", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*wsConn, 0, len(h.conns))
	for c := range h.conns {
		if c.subscribed(channel) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	dropped := 0
	for _, c := range targets {
		if !c.enqueue(data) {
			dropped++
		}
	}
	if dropped > 0 {
		h.logger.Warn("websocket event dropped for slow clients", "channel", channel, "dropped", dropped)
	}
}

// RegistryChanged publishes the registry state. It is registered with
// machine.Registry.OnChange.
func (h *Hub) RegistryChanged(snap *machine.Snapshot) {
	if snap == nil {
		return
	}
	h.Broadcast(ChannelRegistryState, registryEvent{
		State:    snap.State,
		Version:  snap.Version,
		Machines: snap.Len(),
	})
}

// CounterRead implements adambox.Sink.
func (h *Hub) CounterRead(_ context.Context, m machine.Machine, r adambox.Reading) {
	if h.onCounter != nil {
		h.onCounter(m.Number)
	}
	h.Broadcast(ChannelMachineCounter, counterEvent{
		MachineNumber: m.Number,
		MachineID:     m.MachineID(),
		Value:         r.Value,
		ReadAt:        r.ReadAt,
	})
}

// StatusChanged implements monitormi.StatusSink.
func (h *Hub) StatusChanged(_ context.Context, m machine.Machine, st *monitormi.Status) {
	if h.onStatus != nil {
		h.onStatus()
	}
	h.Broadcast(ChannelMachineStatus, statusEvent{
		MachineNumber: m.Number,
		MachineID:     m.MachineID(),
		Status:        st,
	})
}

// PublishEntry implements logbook.Publisher.
func (h *Hub) PublishEntry(_ context.Context, ev logbook.Event) {
	h.Broadcast(ChannelLogbookEntry, ev)
}
