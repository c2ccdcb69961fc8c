package monitormi

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrWorkCenterNotFound is returned when Monitor MI has no machine row.
	ErrWorkCenterNotFound = errors.New("monitormi: work center not found")

	// ErrNoActiveOrder is returned when no order is running on the work center.
	ErrNoActiveOrder = errors.New("monitormi: no active order")

	// ErrDisabled is returned by a nil client.
	ErrDisabled = errors.New("monitormi: not configured")
)

// State is the machine_information.state value.
type State int

// Machine states.
const (
	StateUnknown     State = 0
	StateRunning     State = 1
	StateShortStop   State = 2
	StateStopped     State = 3
	StatePlannedStop State = 4
	StateSetup       State = 5
)

var stateNames = map[State]string{
	StateUnknown:     "Unknown",
	StateRunning:     "Running",
	StateShortStop:   "ShortStop",
	StateStopped:     "Stopped",
	StatePlannedStop: "PlannedStop",
	StateSetup:       "Setup",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

// MarshalText encodes the state name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// StopCodeOrderMissing is reported while no order is started on the machine.
const StopCodeOrderMissing = "300"

// StopCode describes an indirect (stop) code.
type StopCode struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// stopCodes lists the codes with a known meaning.
var stopCodes = map[string]StopCode{
	StopCodeOrderMissing: {Code: StopCodeOrderMissing, Name: "Order missing", Description: "No active manufacturing order"},
}

// LookupStopCode returns the catalogue entry for code.
func LookupStopCode(code string) (StopCode, bool) {
	sc, ok := stopCodes[strings.TrimSpace(code)]
	return sc, ok
}

// StopCodeDisplay returns the operator facing text for a stop code.
// An empty code means the machine is running.
func StopCodeDisplay(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return "Running"
	}
	if sc, ok := stopCodes[code]; ok {
		return sc.Code + " " + sc.Name
	}
	return code
}

// Colour is the status bar colour shown to operators.
type Colour string

// Status colours.
const (
	ColourGreen Colour = "green"
	ColourBlue  Colour = "blue"
	ColourRed   Colour = "red"
)

// StatusColour is green while running or without a stop code, blue while
// waiting for an order and red for every other stop.
func StatusColour(stopCode string, state State) Colour {
	stopCode = strings.TrimSpace(stopCode)
	switch {
	case stopCode == "" || state == StateRunning:
		return ColourGreen
	case stopCode == StopCodeOrderMissing:
		return ColourBlue
	default:
		return ColourRed
	}
}

// Status is the current state of one work center.
type Status struct {
	WorkCenter        string     `json:"work_center"`
	State             State      `json:"state"`
	StateCode         int        `json:"state_code"`
	IsSetup           bool       `json:"is_setup"`
	StopCode          string     `json:"stop_code,omitempty"`
	StopCodeDisplay   string     `json:"stop_code_display"`
	DisplayName       string     `json:"display_name"`
	Colour            Colour     `json:"colour"`
	LastReportingTime *time.Time `json:"last_reporting_time,omitempty"`
	ActiveOrder       *Order     `json:"active_order,omitempty"`
	CheckedAt         time.Time  `json:"checked_at"`
}

// Order is the manufacturing order running on a work center.
type Order struct {
	OrderNumber  string     `json:"order_number"`
	PartNumber   string     `json:"part_number,omitempty"`
	ReportNumber *int64     `json:"report_number,omitempty"`
	StartTime    *time.Time `json:"start_time,omitempty"`
}

// displayName is the state name, with setup shown while running.
func displayName(state State, isSetup bool) string {
	if isSetup && state == StateRunning {
		return "Setup (Running)"
	}
	return state.String()
}
