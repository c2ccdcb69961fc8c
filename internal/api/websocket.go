package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/verkstad/toolmgmt/internal/auth"
)

// Message types of the websocket protocol.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// wsQueueSize is the number of outbound messages buffered per connection.
const wsQueueSize = 256

// WSMessage is the envelope of every websocket message in both directions.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload names the channels of a subscribe or unsubscribe.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// inbound is WSMessage as read from a client, with the payload left raw.
type inbound struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// The ticket authenticates the connection, so any origin may upgrade.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsConn is one websocket client. The read loop owns inbound traffic, the
// write loop owns the socket writes, and queue feeds the write loop.
type wsConn struct {
	hub    *Hub
	ws     *websocket.Conn
	queue  chan []byte
	done   chan struct{}
	once   sync.Once
	userID string
	role   auth.Role

	mu       sync.RWMutex
	channels map[string]struct{}
}

// handleWebSocket upgrades a request carrying a ticket from
// POST /auth/ws-ticket. Tickets are single use.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ticket := r.URL.Query().Get("ticket")
	if ticket == "" {
		writeUnauthorized(w, "ticket query parameter is required")
		return
	}
	holder, ok := s.tickets.consume(ticket)
	if !ok {
		writeUnauthorized(w, "invalid or expired ticket")
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the request.
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &wsConn{
		hub:      s.hub,
		ws:       ws,
		queue:    make(chan []byte, wsQueueSize),
		done:     make(chan struct{}),
		userID:   holder.userID,
		role:     holder.role,
		channels: make(map[string]struct{}),
	}
	s.hub.add(c)

	go c.writeLoop(s.wsCfg.PingInterval, s.wsCfg.PongTimeout)
	go c.readLoop(s.wsCfg.MaxMessageSize, s.wsCfg.PingInterval, s.wsCfg.PongTimeout)
}

// shutdown asks the write loop to send a close frame and release the
// socket, which in turn ends the read loop. It may be called repeatedly.
func (c *wsConn) shutdown() {
	c.once.Do(func() { close(c.done) })
}

// enqueue offers data to the write loop without blocking. It reports
// false when the queue is full or the connection is gone.
func (c *wsConn) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.queue <- data:
		return true
	default:
		return false
	}
}

func (c *wsConn) subscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.channels[channel]
	return ok
}

func (c *wsConn) readLoop(maxSize, pingSecs, pongSecs int) {
	defer c.hub.remove(c)

	// Pongs and any client message count as liveness; browsers do not
	// always answer protocol pings.
	window := time.Duration(pingSecs+pongSecs) * time.Second
	alive := func() error { return c.ws.SetReadDeadline(time.Now().Add(window)) }

	c.ws.SetReadLimit(int64(maxSize))
	if err := alive(); err != nil {
		return
	}
	c.ws.SetPongHandler(func(string) error { return alive() })

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read failed", "user_id", c.userID, "error", err)
			}
			return
		}
		if err := alive(); err != nil {
			return
		}
		c.handle(data)
	}
}

func (c *wsConn) writeLoop(pingSecs, pongSecs int) {
	ping := time.NewTicker(time.Duration(pingSecs) * time.Second)
	defer ping.Stop()
	defer c.ws.Close()
	defer c.shutdown()

	writeWait := time.Duration(pongSecs) * time.Second
	write := func(kind int, data []byte) error {
		if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			return err
		}
		return c.ws.WriteMessage(kind, data)
	}

	for {
		select {
		case <-c.done:
			//nolint:errcheck // peer may already be gone
			write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case data := <-c.queue:
			if err := write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handle answers one client message.
func (c *wsConn) handle(data []byte) {
	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reply("", WSTypeError, errorBody("invalid JSON message"))
		return
	}

	switch msg.Type {
	case WSTypePing:
		c.reply(msg.ID, WSTypePong, nil)
	case WSTypeSubscribe, WSTypeUnsubscribe:
		channels, err := decodeChannels(msg.Payload)
		if err != nil {
			c.reply(msg.ID, WSTypeError, errorBody(err.Error()))
			return
		}
		if msg.Type == WSTypeSubscribe {
			c.setChannels(channels, true)
			c.reply(msg.ID, WSTypeResponse, map[string]any{"subscribed": channels})
		} else {
			c.setChannels(channels, false)
			c.reply(msg.ID, WSTypeResponse, map[string]any{"unsubscribed": channels})
		}
	default:
		c.reply(msg.ID, WSTypeError, errorBody("unknown message type: "+msg.Type))
	}
}

func decodeChannels(raw json.RawMessage) ([]string, error) {
	var p WSSubscribePayload
	if len(raw) == 0 || json.Unmarshal(raw, &p) != nil {
		return nil, fmt.Errorf("payload must be {\"channels\": [...]}")
	}
	for _, ch := range p.Channels {
		if !knownChannels[ch] {
			return nil, fmt.Errorf("unknown channel %q", ch)
		}
	}
	return p.Channels, nil
}

func (c *wsConn) setChannels(channels []string, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range channels {
		if on {
			c.channels[ch] = struct{}{}
		} else {
			delete(c.channels, ch)
		}
	}
}

func (c *wsConn) reply(id, kind string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      kind,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.enqueue(data)
}

func errorBody(message string) map[string]string {
	return map[string]string{"message": message}
}
