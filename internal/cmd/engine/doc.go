// Package engine contains the Cobra commands that drive the delivery engine
// in-process: running a node, simulating consumers and inspecting storage.
package engine
