package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementPartCounter   = "part_counter"
	MeasurementCounterErrors = "part_counter_errors"
	MeasurementLogbook       = "logbook_entries"
	MeasurementMachineState  = "machine_state"
)

// WriteCounter records a part counter reading of a machine.
//
// Example:
//
//	client.WriteCounter("5701", 4211, reading.ReadAt)
func (c *Client) WriteCounter(machineNumber string, value int, at time.Time) {
	c.WritePointWithTime(MeasurementPartCounter,
		map[string]string{"machine": machineNumber},
		map[string]interface{}{"value": value},
		at,
	)
}

// WriteCounterError records a failed counter read.
func (c *Client) WriteCounterError(machineNumber string, at time.Time) {
	c.WritePointWithTime(MeasurementCounterErrors,
		map[string]string{"machine": machineNumber},
		map[string]interface{}{"count": 1},
		at,
	)
}

// WriteLogbookEntry records that a logbook entry of kind was stored. The
// part count is added as a field when known.
func (c *Client) WriteLogbookEntry(machineNumber, kind string, partsCount *int, at time.Time) {
	fields := map[string]interface{}{"count": 1}
	if partsCount != nil {
		fields["parts_count"] = *partsCount
	}
	c.WritePointWithTime(MeasurementLogbook,
		map[string]string{"machine": machineNumber, "kind": kind},
		fields,
		at,
	)
}

// WriteMachineState records the Monitor MI state of a machine.
func (c *Client) WriteMachineState(machineNumber, state, stopCode string, at time.Time) {
	tags := map[string]string{"machine": machineNumber, "state": state}
	if stopCode != "" {
		tags["stop_code"] = stopCode
	}
	c.WritePointWithTime(MeasurementMachineState, tags, map[string]interface{}{"count": 1}, at)
}

// WritePoint queues a point stamped with the current time.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.active() {
		return
	}
	c.WritePointWithTime(measurement, tags, fields, c.now())
}

// WritePointWithTime queues a point with an explicit timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, at time.Time) {
	if !c.active() {
		return
	}
	c.points.WritePoint(write.NewPoint(measurement, tags, fields, at))
}
