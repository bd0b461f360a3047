// Package daemons is the registry of observatory daemons: identifiers,
// display names, startup dependencies, and the per-daemon runtime file
// paths (socket, lock, pid) derived from configuration.
package daemons
