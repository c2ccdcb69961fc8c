// Package monitormi reads machine state and running orders from the Monitor
// MI production database (PostgreSQL).
//
// Monitor MI identifies machines by work center number, which is the same
// four digit number the tool management service uses. The client is
// read-only and every query runs under its own timeout so a slow MES never
// holds up an operator request.
package monitormi
