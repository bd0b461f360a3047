// Package daemoncore implements the generic control-loop runtime shared by
// every hardware daemon.
//
// One goroutine owns the daemon's adapters and serializes command
// execution against them. Submission never blocks on hardware: commands
// land in a bounded queue and are acknowledged immediately, while the
// emergency stop takes a separate signal path that interrupts in-flight
// hardware work directly. Hardware faults are fail-stop: the daemon parks
// in its error state and refuses operational commands until reset.
package daemoncore
