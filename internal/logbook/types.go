package logbook

import (
	"time"

	"github.com/verkstad/toolmgmt/internal/machine"
)

// Kind identifies an entry type.
type Kind string

// Entry kinds.
const (
	KindToolChange   Kind = "tool_change"
	KindCompensation Kind = "compensation"
	KindDisturbance  Kind = "disturbance"
	KindMatrixCode   Kind = "matrix_code"
)

// Capability returns the machine capability the kind requires.
func (k Kind) Capability() machine.Capability {
	switch k {
	case KindToolChange:
		return machine.CapToolChange
	case KindCompensation:
		return machine.CapCompensation
	case KindDisturbance:
		return machine.CapDisturbances
	case KindMatrixCode:
		return machine.CapMatrixCode
	default:
		return ""
	}
}

// Cause explains why a tool was changed.
type Cause string

// Tool change causes.
const (
	CauseWear     Cause = "wear"
	CauseBreakage Cause = "breakage"
	CauseOther    Cause = "other"
)

// Direction is the axis or radius/length a compensation applies to.
type Direction string

// Compensation directions.
const (
	DirectionX Direction = "X"
	DirectionY Direction = "Y"
	DirectionZ Direction = "Z"
	DirectionR Direction = "R"
	DirectionL Direction = "L"
)

// Area is the part of the cell a disturbance occurred in.
type Area string

// Disturbance areas.
const (
	AreaRobot        Area = "robot"
	AreaChipConveyor Area = "chip_conveyor"
	AreaInOutFeed    Area = "in_out_feed"
	AreaOther        Area = "other"
)

// ToolChange is one tool swap.
type ToolChange struct {
	ID            string `json:"id"`
	MachineID     string `json:"machine_id"`
	MachineNumber string `json:"machine_number"`

	ToolNumber         int    `json:"tool_number" validate:"required,min=1,max=9999"`
	Cause              Cause  `json:"cause" validate:"required,oneof=wear breakage other"`
	Comment            string `json:"comment" validate:"required_if=Cause other,max=500"`
	Signature          string `json:"signature" validate:"required,max=50"`
	ManufacturingOrder string `json:"manufacturing_order" validate:"max=50"`

	// PartsCount is the machine part counter at the time of the change.
	PartsCount *int `json:"parts_count,omitempty" validate:"omitempty,min=0"`

	// PartsSinceLastChange is derived; nil when there is no earlier reading
	// for this tool or the counter was reset in between.
	PartsSinceLastChange *int `json:"parts_since_last_change,omitempty"`

	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Compensation is one offset correction.
type Compensation struct {
	ID            string `json:"id"`
	MachineID     string `json:"machine_id"`
	MachineNumber string `json:"machine_number"`

	ManufacturingOrder string    `json:"manufacturing_order" validate:"max=50"`
	CoordinateSystem   string    `json:"coordinate_system" validate:"required_without_all=Tool Number,max=20"`
	Tool               string    `json:"tool" validate:"max=20"`
	Number             string    `json:"number" validate:"max=20"`
	Direction          Direction `json:"direction" validate:"required,oneof=X Y Z R L"`
	Value              string    `json:"value" validate:"required,compvalue"`
	Comment            string    `json:"comment" validate:"max=500"`
	Signature          string    `json:"signature" validate:"required,max=50"`

	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Disturbance is one stoppage report.
type Disturbance struct {
	ID            string `json:"id"`
	MachineID     string `json:"machine_id"`
	MachineNumber string `json:"machine_number"`

	Area      Area   `json:"area" validate:"required,oneof=robot chip_conveyor in_out_feed other"`
	Comment   string `json:"comment" validate:"required,max=1000"`
	Signature string `json:"signature" validate:"required,max=50"`

	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// MatrixCode is the date code used for a manufacturing order.
type MatrixCode struct {
	ID            string `json:"id"`
	MachineID     string `json:"machine_id"`
	MachineNumber string `json:"machine_number"`

	ManufacturingOrder string `json:"manufacturing_order" validate:"required,max=50"`

	// DateCode is YYMMDD.
	DateCode  string `json:"date_code" validate:"required,yymmdd"`
	Comment   string `json:"comment" validate:"max=500"`
	Signature string `json:"signature" validate:"max=50"`

	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// LastOrder is the most recent manufacturing order entered on a machine.
type LastOrder struct {
	MachineID          string    `json:"machine_id"`
	ManufacturingOrder string    `json:"manufacturing_order"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// List paging defaults.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// ListOptions pages through entries, newest first.
type ListOptions struct {
	Limit  int
	Offset int
}

func (o ListOptions) normalise() ListOptions {
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	if o.Limit > MaxLimit {
		o.Limit = MaxLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}

// Page is one page of entries and the total matching count.
type Page[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// Event is published after an entry is stored.
type Event struct {
	Kind          Kind      `json:"kind"`
	MachineNumber string    `json:"machine_number"`
	EntryID       string    `json:"entry_id"`
	Entry         any       `json:"entry"`
	CreatedAt     time.Time `json:"created_at"`
}
