// Package conditions reads the observatory safety flag published by the
// environment monitoring system and keeps a live copy via file watching.
//
// A snapshot that has not been refreshed within the configured age is
// treated as unsafe, so a dead monitor closes the dome rather than
// leaving it open under an unknown sky.
package conditions
