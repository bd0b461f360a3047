// Package logs provides bounded log-file tailing for the control CLI.
//
// Each daemon writes its own log file under the configured log
// directory. Tail reads the last N lines or streams new lines from a
// saved offset, with bounded memory usage, so `meridian logs --follow`
// does not need the daemon's cooperation to show what it is doing.
package logs
