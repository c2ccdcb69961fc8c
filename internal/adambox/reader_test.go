package adambox

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/goburrow/modbus"

	"github.com/verkstad/toolmgmt/internal/machine"
)

// serveModbus answers read holding register requests with value until the
// listener closes. It returns the listener port.
func serveModbus(t *testing.T, value uint16) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	done := make(chan struct{})
	t.Cleanup(func() {
		ln.Close() //nolint:errcheck // test cleanup
		<-done
	})

	go func() {
		defer close(done)
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			handleModbus(conn, value)
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

func handleModbus(conn net.Conn, value uint16) {
	defer conn.Close()                                //nolint:errcheck // test server
	conn.SetDeadline(time.Now().Add(5 * time.Second)) //nolint:errcheck // test server

	// MBAP header (7) + function (1) + address (2) + quantity (2).
	req := make([]byte, 12)
	if _, err := io.ReadFull(conn, req); err != nil {
		return
	}
	resp := make([]byte, 11)
	copy(resp[0:2], req[0:2])                // transaction
	binary.BigEndian.PutUint16(resp[4:6], 5) // unit + PDU length
	resp[6] = req[6]                         // unit
	resp[7] = req[7]                         // function
	resp[8] = 2                              // byte count
	binary.BigEndian.PutUint16(resp[9:11], value)
	conn.Write(resp) //nolint:errcheck // test server
}

func TestReader_ReadOverTCP(t *testing.T) {
	port := serveModbus(t, 4711)
	r := NewReader(Config{Port: port, UnitID: 1, Register: 2, Timeout: 2 * time.Second})

	reading, err := r.Read(context.Background(), "127.0.0.1")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if reading.Value != 4711 || reading.Register != 2 || reading.IPAddress != "127.0.0.1" {
		t.Errorf("Read() = %+v", reading)
	}
	if reading.ReadAt.IsZero() {
		t.Error("ReadAt not set")
	}
}

type fakeClient struct {
	data    []byte
	err     error
	address uint16
}

func (c *fakeClient) ReadHoldingRegisters(address, _ uint16) ([]byte, error) {
	c.address = address
	return c.data, c.err
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func fakeDial(c *fakeClient, dialErr error, gotAddr *string, gotTimeout *time.Duration) DialFunc {
	return func(address string, _ byte, timeout time.Duration) (RegisterClient, io.Closer, error) {
		if gotAddr != nil {
			*gotAddr = address
		}
		if gotTimeout != nil {
			*gotTimeout = timeout
		}
		if dialErr != nil {
			return nil, nil, dialErr
		}
		return c, nopCloser{}, nil
	}
}

func TestReader_Read(t *testing.T) {
	client := &fakeClient{data: []byte{0x01, 0x02}}
	var addr string
	r := NewReader(Config{Register: 7})
	r.dial = fakeDial(client, nil, &addr, nil)

	reading, err := r.Read(context.Background(), "192.168.3.25")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if reading.Value != 258 {
		t.Errorf("Value = %d, want 258", reading.Value)
	}
	if addr != "192.168.3.25:502" || client.address != 7 {
		t.Errorf("dialled %s register %d", addr, client.address)
	}
}

func TestReader_Errors(t *testing.T) {
	exception := &modbus.ModbusError{FunctionCode: 0x83, ExceptionCode: modbus.ExceptionCodeIllegalDataAddress}

	tests := []struct {
		name    string
		ip      string
		client  *fakeClient
		dialErr error
		want    error
	}{
		{"bad ip", "not-an-ip", &fakeClient{}, nil, ErrInvalidAddress},
		{"dial", "10.0.0.1", &fakeClient{}, errors.New("connection refused"), nil},
		{"exception", "10.0.0.1", &fakeClient{err: exception}, nil, exception},
		{"short", "10.0.0.1", &fakeClient{data: []byte{1}}, nil, ErrShortResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReader(Config{})
			r.dial = fakeDial(tt.client, tt.dialErr, nil, nil)
			_, err := r.Read(context.Background(), tt.ip)
			if err == nil {
				t.Fatal("Read() expected error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("Read() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestReader_ContextDeadlineShortensTimeout(t *testing.T) {
	var timeout time.Duration
	r := NewReader(Config{Timeout: time.Minute})
	r.dial = fakeDial(&fakeClient{data: []byte{0, 1}}, nil, nil, &timeout)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := r.Read(ctx, "10.0.0.1"); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if timeout > time.Second || timeout <= 0 {
		t.Errorf("timeout = %v, want at most 1s", timeout)
	}

	cancel()
	if _, err := r.Read(ctx, "10.0.0.1"); !errors.Is(err, context.Canceled) {
		t.Errorf("Read() after cancel error = %v", err)
	}
}

func TestReader_PartsCount(t *testing.T) {
	r := NewReader(Config{})
	r.dial = fakeDial(&fakeClient{data: []byte{0x27, 0x10}}, nil, nil, nil)

	n, err := r.PartsCount(context.Background(), &machine.Machine{Number: "5701", IPAddress: "10.0.0.1"})
	if err != nil || n != 10000 {
		t.Errorf("PartsCount() = %d, %v; want 10000", n, err)
	}
	if _, err := r.PartsCount(context.Background(), &machine.Machine{Number: "5702"}); !errors.Is(err, ErrNoAddress) {
		t.Errorf("PartsCount() without IP error = %v", err)
	}
}
