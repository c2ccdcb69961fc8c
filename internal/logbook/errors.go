package logbook

import "errors"

var (
	// ErrInvalidEntry is returned when an entry fails validation.
	ErrInvalidEntry = errors.New("logbook: invalid entry")

	// ErrCapabilityDisabled is returned when the machine does not use the entry kind.
	ErrCapabilityDisabled = errors.New("logbook: section not enabled for machine")

	// ErrNoLastOrder is returned when no manufacturing order was recorded for a machine.
	ErrNoLastOrder = errors.New("logbook: no manufacturing order recorded")
)
