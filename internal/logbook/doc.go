// Package logbook records what operators do at a machine.
//
// Four entry kinds exist, each gated by a machine capability:
//
//	tool_change   tool swapped because of wear, breakage or another cause
//	compensation  offset correction entered on the control
//	disturbance   stoppage in the robot, chip conveyor, in/out feed or elsewhere
//	matrix_code   date code stamped on parts of a manufacturing order
//
// The Service resolves the machine number through the registry, refuses
// kinds the machine does not have, fills defaults (the AdamBox part count
// for tool changes, the active Monitor MI order for matrix codes),
// validates, stores and finally publishes the entry to any listeners.
//
// Tool changes also record how many parts were made since the previous
// change of the same tool on the same machine, computed from the part
// counter at both changes.
package logbook
