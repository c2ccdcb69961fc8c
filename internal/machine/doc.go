// Package machine provides the machine registry for the tool management service.
//
// A machine is one physical CNC cell on the shop floor. It is identified by a
// four digit number that also appears in page URLs (for example
// /5701-5702/tool-changes), carries a display name, a set of capabilities
// that decide which logbook sections apply to it, and an optional IP address
// for the AdamBox part counter.
//
// # Architecture
//
//	┌───────────────────────────────────────────────────────────────┐
//	│                        Machine Registry                        │
//	│                                                                │
//	│  ┌────────────────┐   ┌────────────────┐   ┌────────────────┐  │
//	│  │    Registry    │   │   Repository   │   │   Validation   │  │
//	│  │ (registry.go)  │──▶│(repository.go) │   │(validation.go) │  │
//	│  │                │   │                │   │                │  │
//	│  │ • Snapshots    │   │ • SQLite CRUD  │   │ • Number       │  │
//	│  │ • Invalidate   │   │ • JSON caps    │   │ • Capabilities │  │
//	│  │ • Fetch timeout│   │                │   │ • IP address   │  │
//	│  └────────────────┘   └────────────────┘   └────────────────┘  │
//	└───────────────────────────────────────────────────────────────┘
//
// The Registry keeps an immutable Snapshot of every machine, ordered by
// number. A snapshot is in one of three states: Loading (nothing usable yet,
// or invalidated and waiting for a refetch), Ready, or Unavailable (the
// last fetch failed before any good data existed). Consumers such as the
// machineset resolver branch on the state before looking machines up.
//
// Fetches are bounded by a timeout and deduplicated. Each Invalidate bumps a
// generation counter; a fetch that completes for an older generation is
// discarded instead of overwriting newer data.
//
// # Usage
//
//	repo := machine.NewSQLiteRepository(db)
//	registry := machine.NewRegistry(repo, machine.WithFetchTimeout(10*time.Second))
//	registry.SetLogger(log)
//
//	if err := registry.RefreshCache(ctx); err != nil {
//	    log.Warn("machine registry unavailable", "error", err)
//	}
//
//	snap := registry.Snapshot()
//	if m, ok := snap.Lookup("5701"); ok {
//	    fmt.Println(m.MachineID()) // "5701 Mazak 1"
//	}
//
// # Thread Safety
//
// All Registry methods are safe for concurrent use. Snapshots are never
// mutated after publication; Lookup and Machines return copies.
package machine
