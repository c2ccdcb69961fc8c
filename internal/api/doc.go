// Package api implements the HTTP REST API and WebSocket server for the tool
// management service.
//
// This package provides:
//   - Machine path resolution and per-user machine selection
//   - Logbook, tool catalogue, user and audit endpoints
//   - Live part counters and Monitor MI status over REST and WebSocket
//   - JWT authentication with ticket-based WebSocket auth
//
// # Resolution responses
//
// Every machine scoped route answers a malformed path, an unknown machine
// and a section the machine does not use with the same 404. A registry
// that is still loading answers 503 registry_loading with Retry-After: 1;
// a registry whose load failed answers 503 registry_unavailable.
//
// # Lifecycle
//
//	server, err := api.New(deps)
//	poller.AddSink(server.Hub())
//	server.Start(ctx)
//	defer server.Close()
//
// # Graceful Degradation
//
// AdamBox, Monitor MI and MQTT are optional. Routes that need a disabled
// system answer 503 upstream_unavailable; everything else keeps working.
package api
