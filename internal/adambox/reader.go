package adambox

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"net/netip"
	"strconv"
	"time"

	"github.com/goburrow/modbus"

	"github.com/verkstad/toolmgmt/internal/machine"
)

// Defaults match the ADAM-6000 factory settings.
const (
	DefaultPort     = 502
	DefaultUnitID   = 1
	DefaultRegister = 2
	DefaultTimeout  = 10 * time.Second
)

// Config selects the counter register.
type Config struct {
	Port     int
	UnitID   int
	Register int
	Timeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Port <= 0 {
		c.Port = DefaultPort
	}
	if c.UnitID <= 0 {
		c.UnitID = DefaultUnitID
	}
	if c.Register < 0 {
		c.Register = DefaultRegister
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Reading is one counter value.
type Reading struct {
	IPAddress string    `json:"ip_address"`
	Register  int       `json:"register"`
	Value     int       `json:"value"`
	ReadAt    time.Time `json:"read_at"`
}

// RegisterClient is the part of modbus.Client the reader uses.
type RegisterClient interface {
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
}

// DialFunc opens a connection to the box at address ("host:port").
type DialFunc func(address string, unitID byte, timeout time.Duration) (RegisterClient, io.Closer, error)

// dialTCP connects with goburrow/modbus over TCP.
func dialTCP(address string, unitID byte, timeout time.Duration) (RegisterClient, io.Closer, error) {
	handler := modbus.NewTCPClientHandler(address)
	handler.Timeout = timeout
	handler.SlaveId = unitID
	if err := handler.Connect(); err != nil {
		return nil, nil, err
	}
	return modbus.NewClient(handler), handler, nil
}

// Reader reads part counters. It is safe for concurrent use; every read
// opens its own connection since boxes accept few clients.
type Reader struct {
	cfg  Config
	dial DialFunc
	now  func() time.Time
}

// NewReader creates a reader. A zero Port, UnitID or Timeout takes the
// default; a negative Register takes DefaultRegister.
func NewReader(cfg Config) *Reader {
	return &Reader{cfg: cfg.withDefaults(), dial: dialTCP, now: time.Now}
}

// Read returns the counter value of the box at ip.
func (r *Reader) Read(ctx context.Context, ip string) (Reading, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return Reading{}, fmt.Errorf("%w: %q", ErrInvalidAddress, ip)
	}
	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}

	// goburrow/modbus has no context support; a deadline shortens the
	// socket timeout instead.
	timeout := r.cfg.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
		if timeout <= 0 {
			return Reading{}, context.DeadlineExceeded
		}
	}

	target := net.JoinHostPort(addr.String(), strconv.Itoa(r.cfg.Port))
	client, conn, err := r.dial(target, byte(r.cfg.UnitID), timeout) //nolint:gosec // G115: unit ID validated by config
	if err != nil {
		return Reading{}, fmt.Errorf("connecting to %s: %w", target, err)
	}
	defer conn.Close() //nolint:errcheck // read-only connection

	//nolint:gosec // G115: register validated by config
	data, err := client.ReadHoldingRegisters(uint16(r.cfg.Register), 1)
	if err != nil {
		return Reading{}, fmt.Errorf("reading register %d from %s: %w", r.cfg.Register, target, err)
	}
	if len(data) < 2 {
		return Reading{}, fmt.Errorf("%w: %d bytes from %s", ErrShortResponse, len(data), target)
	}

	return Reading{
		IPAddress: addr.String(),
		Register:  r.cfg.Register,
		Value:     int(binary.BigEndian.Uint16(data)),
		ReadAt:    r.now().UTC(),
	}, nil
}

// PartsCount reads the counter of m. It satisfies logbook.PartsCounter.
func (r *Reader) PartsCount(ctx context.Context, m *machine.Machine) (int, error) {
	if m == nil || m.IPAddress == "" {
		return 0, ErrNoAddress
	}
	reading, err := r.Read(ctx, m.IPAddress)
	if err != nil {
		return 0, err
	}
	return reading.Value, nil
}
