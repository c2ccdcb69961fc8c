// Package influxdb writes shop floor time series to InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Part counter
// readings, failed counter reads, stored logbook entries and Monitor MI
// machine states become points tagged by machine number, so counter
// trends and tool change frequency can be charted per machine.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil && !errors.Is(err, influxdb.ErrDisabled) {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteCounter("5701", 4211, time.Now())
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval. Batch errors arrive through SetOnError. All write
// methods are no-ops on a nil or closed client.
package influxdb
