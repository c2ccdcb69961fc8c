// Package database provides SQLite connectivity and schema migrations.
//
// The service keeps its own records (machines, users, logbook entries, tool
// catalogue, audit trail) in one SQLite file opened in WAL mode with foreign
// keys enforced. Schema changes are additive SQL files embedded into the
// binary by the migrations package and applied in version order, each in
// its own transaction.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	if _, err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
