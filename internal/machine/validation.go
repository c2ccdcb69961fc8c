package machine

import (
	"fmt"
	"net/netip"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	maxNameLength = 100
	idPrefix      = "mch-"
	idSuffixLen   = 8
)

var numberRegex = regexp.MustCompile(`^\d{4}$`)

// ValidateMachine checks every field of m and returns the first failure.
// It trims the display name and IP address in place.
func ValidateMachine(m *Machine) error {
	if m == nil {
		return fmt.Errorf("%w: machine is nil", ErrInvalidMachine)
	}
	m.DisplayName = strings.TrimSpace(m.DisplayName)
	m.IPAddress = strings.TrimSpace(m.IPAddress)

	if err := ValidateNumber(m.Number); err != nil {
		return err
	}
	if err := ValidateName(m.DisplayName); err != nil {
		return err
	}
	if err := ValidateCapabilities(m.Capabilities); err != nil {
		return err
	}
	return ValidateIPAddress(m.IPAddress)
}

// ValidateNumber checks that number is exactly four ASCII digits.
func ValidateNumber(number string) error {
	if !numberRegex.MatchString(number) {
		return fmt.Errorf("%w: %q must be exactly 4 digits", ErrInvalidNumber, number)
	}
	return nil
}

// ValidateName checks if a display name is valid.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

// ValidateCapabilities rejects names outside AllCapabilities.
func ValidateCapabilities(caps CapabilitySet) error {
	for _, c := range caps.List() {
		if !c.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidCapability, c)
		}
	}
	return nil
}

// ValidateIPAddress accepts an empty string or a plain IPv4/IPv6 address.
func ValidateIPAddress(ip string) error {
	if ip == "" {
		return nil
	}
	if _, err := netip.ParseAddr(ip); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidIPAddress, ip)
	}
	return nil
}

// GenerateID creates a new machine identifier.
func GenerateID() string {
	return idPrefix + uuid.NewString()[:idSuffixLen]
}
