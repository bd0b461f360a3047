// Package sim provides deterministic simulated hardware adapters for every
// daemon kind. They honor the adapter contract exactly: operations take
// real (configurable) time, Interrupt aborts within one poll tick, and
// faults can be injected per operation. Used by tests and by the daemon
// host's simulation mode.
package sim
