// Package audit records who changed machines, tools, users and machine
// assignments, and serves the trail back to admins.
//
// Writes go through a Recorder: handlers enqueue entries without waiting
// and a single goroutine writes them, so a slow disk never holds up a
// request. Entries are dropped with a warning when the queue is full.
package audit
