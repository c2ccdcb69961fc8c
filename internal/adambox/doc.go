// Package adambox reads machine part counters from ADAM I/O boxes over
// Modbus TCP.
//
// Every machine with an IP address in the registry has a box whose holding
// register (2 by default) holds the part count. Reader reads it on demand,
// for example to fill in a tool change, and Poller sweeps all machines on an
// interval and hands each reading to its sinks (MQTT, InfluxDB, websocket).
//
//	reader := adambox.NewReader(adambox.Config{Port: 502, UnitID: 1, Register: 2, Timeout: 10 * time.Second})
//	poller := adambox.NewPoller(reader, registry, 15*time.Second)
//	poller.AddSink(mqttSink)
//	go poller.Run(ctx)
package adambox
