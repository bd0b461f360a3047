// Package hardware defines the adapter contract between a daemon control
// loop and the vendor-specific driver that owns the physical device.
//
// The core never assumes how long Execute takes; it only assumes Interrupt
// takes effect within the configured latency bound. Drivers reached through
// a protocol-translating interface daemon satisfy the same contract.
package hardware
