// Command meridian is the operator CLI for the observatory daemons.
// It talks to each daemon over its Unix socket, manages daemon
// processes, edits the exposure queue and observing plan, and tails
// daemon logs.
package main
