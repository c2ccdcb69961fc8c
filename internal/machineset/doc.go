// Package machineset turns a page path into the set of machines it names.
//
// Shop floor pages address one or more machines with a leading path segment
// of dash separated four digit numbers:
//
//	/5701/tool-changes
//	/5701-5702-5703/compensations
//
// Resolution happens in three steps, each a pure function:
//
//  1. ParseNumbers finds the first segment matching ^\d{4}(-\d{4})*$ and
//     splits it. Groups of any other width reject the whole segment.
//  2. Validate keeps the numbers present in a machine.Snapshot, in URL
//     order, and silently drops the rest. Duplicates are kept.
//  3. NewSelection makes the first surviving machine active.
//
// The outcome is a Resolution in one of four states:
//
//	Loading      registry has not produced data yet (or was invalidated)
//	Unavailable  registry fetch failed
//	Invalid      no machine segment, or none of its numbers are known
//	Valid        at least one known machine; Selection.Active is set
//
// Callers must check for Loading and Unavailable before treating a result
// as Invalid. Both Invalid reasons (MalformedPath, UnknownMachines) are
// shown to users as the same "not found" page.
//
// A Session holds the selection for one viewer across navigations and
// registry updates. Selecting a machine only changes the session state;
// the path is left as it is.
package machineset
