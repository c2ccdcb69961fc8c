package adambox

import "errors"

var (
	// ErrNoAddress is returned for a machine without an IP address.
	ErrNoAddress = errors.New("adambox: machine has no IP address")

	// ErrInvalidAddress is returned when the IP address does not parse.
	ErrInvalidAddress = errors.New("adambox: invalid IP address")

	// ErrShortResponse is returned when the box answers with fewer bytes than requested.
	ErrShortResponse = errors.New("adambox: short register response")

	// ErrNoReading is returned when the poller has not read a machine yet.
	ErrNoReading = errors.New("adambox: no reading yet")
)
