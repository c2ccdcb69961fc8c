package machine

import "errors"

// Domain errors for the machine package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, machine.ErrMachineNotFound) {
//	    // 404
//	}
var (
	// ErrMachineNotFound is returned when a machine ID or number does not exist.
	ErrMachineNotFound = errors.New("machine: not found")

	// ErrMachineExists is returned when a machine number is already taken.
	ErrMachineExists = errors.New("machine: already exists")

	// ErrInvalidMachine is returned when machine validation fails.
	ErrInvalidMachine = errors.New("machine: invalid")

	// ErrInvalidNumber is returned when a machine number is not exactly four ASCII digits.
	ErrInvalidNumber = errors.New("machine: invalid number")

	// ErrInvalidName is returned when a display name is empty or too long.
	ErrInvalidName = errors.New("machine: invalid name")

	// ErrInvalidCapability is returned when a capability is not recognised.
	ErrInvalidCapability = errors.New("machine: invalid capability")

	// ErrInvalidIPAddress is returned when the counter IP address does not parse.
	ErrInvalidIPAddress = errors.New("machine: invalid ip address")

	// ErrRegistryLoading is returned while no snapshot has been loaded.
	ErrRegistryLoading = errors.New("machine: registry loading")

	// ErrRegistryUnavailable is returned when the registry source failed.
	ErrRegistryUnavailable = errors.New("machine: registry unavailable")

	// ErrReadOnly is returned by mutations on a registry without a store.
	ErrReadOnly = errors.New("machine: registry is read-only")

	// ErrStaleFetch is returned when every fetch attempt was overtaken by an invalidation.
	ErrStaleFetch = errors.New("machine: fetch superseded")
)
