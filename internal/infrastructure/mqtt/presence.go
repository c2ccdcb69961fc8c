package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/verkstad/toolmgmt/internal/infrastructure/config"
)

const (
	connectTimeout    = 10 * time.Second
	ackTimeout        = 5 * time.Second
	keepAlive         = 30 * time.Second
	disconnectQuiesce = 500 // milliseconds
	maxQoS            = 2
)

// Presence reasons.
const (
	ReasonShutdown       = "shutdown"
	ReasonConnectionLost = "connection_lost"
)

// Presence is the retained per-instance status under Topics.Presence. The
// broker publishes the offline variant itself when the connection drops
// without a clean disconnect.
type Presence struct {
	Instance string    `json:"instance"`
	Online   bool      `json:"online"`
	Reason   string    `json:"reason,omitempty"`
	At       time.Time `json:"at"`
}

func (p Presence) encode() []byte {
	b, err := json.Marshal(p)
	if err != nil {
		// Only strings, a bool and a time.
		panic(fmt.Sprintf("mqtt: encoding presence: %v", err))
	}
	return b
}

func brokerURL(b config.MQTTBrokerConfig) string {
	scheme := "tcp"
	if b.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, b.Host, b.Port)
}

// seconds converts a config value in seconds, falling back for zero or less.
func seconds(n int, fallback time.Duration) time.Duration {
	if n <= 0 {
		return fallback
	}
	return time.Duration(n) * time.Second
}

// clientOptions maps the broker config onto paho options, including the
// offline presence as last will.
//
// The first connect is not retried: a broker that is down at startup fails
// serve. Connections lost later are re-established with backoff.
func clientOptions(cfg config.MQTTConfig, topics Topics) *pahomqtt.ClientOptions {
	id := cfg.Broker.ClientID

	opts := pahomqtt.NewClientOptions().
		AddBroker(brokerURL(cfg.Broker)).
		SetClientID(id).
		SetCleanSession(true).
		SetOrderMatters(false).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive).
		SetConnectRetryInterval(seconds(cfg.Reconnect.InitialDelay, time.Second)).
		SetMaxReconnectInterval(seconds(cfg.Reconnect.MaxDelay, time.Minute))

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	will := Presence{Instance: id, Online: false, Reason: ReasonConnectionLost, At: time.Now().UTC()}
	opts.SetBinaryWill(topics.Presence(id), will.encode(), 1, true)
	return opts
}
