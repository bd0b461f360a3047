// Package ipc exposes daemons over JSON-RPC Unix sockets and ships the
// matching client used by the CLI, the exposure queue, and the pilot.
//
// Every daemon serves the same core surface (submit, emergency stop,
// status, ping); the exposure queue and pilot daemons add their own
// methods through optional backend interfaces. Submit acknowledges
// immediately and never blocks on hardware; failures surface through
// subsequent status reads.
package ipc
