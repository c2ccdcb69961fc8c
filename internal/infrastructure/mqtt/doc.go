// Package mqtt connects the service to an MQTT broker.
//
// The broker is optional plumbing between tool management instances and
// shop floor consumers: part counter readings, machine poll status and
// logbook entries are published, and a registry invalidate topic lets an
// administrator (or another instance) drop every cached machine list at
// once.
//
// Topic layout, with the default prefix:
//
//	toolmgmt/instance/<id>/presence      retained presence (last will)
//	toolmgmt/counter/<number>            counter readings
//	toolmgmt/machine/<number>/status     retained poll status
//	toolmgmt/logbook/<number>/<kind>     stored logbook entries
//	toolmgmt/registry/invalidate         cache invalidation requests
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishJSON(client.Topics().Counter("5701"), reading, 1, false)
package mqtt
