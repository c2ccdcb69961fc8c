// Package tool keeps the tool catalogue: where each numbered tool is
// stored, what it is and the stock limits for it.
//
// A tool's history is the list of tool changes recorded for its number on
// any machine; the catalogue reads it from the logbook through the
// HistorySource interface, so a tool number does not have to be in the
// catalogue to have history.
package tool
