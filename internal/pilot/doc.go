// Package pilot drives an autonomous observing night: power-up and
// daemon checks at sunset, a calibration block, the observing loop fed
// from the observation plan, and the shutdown that parks and powers off
// the observatory.
//
// The phase machine moves forward only (Idle, Startup, Calibration,
// Observing, Shutdown, back to Idle) with one universal escape:
// EmergencyAbort, which emergency-stops every daemon, makes the
// hardware safe best-effort, and hands over to Shutdown. Unsafe or
// stale conditions, a faulted daemon, or a stalled daemon loop all take
// that escape. Making the hardware safe (park, close, power off) is a
// single code path shared by Shutdown and EmergencyAbort.
package pilot
