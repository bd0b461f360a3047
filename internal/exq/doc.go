// Package exq implements the exposure queue daemon: a SQLite-backed
// priority queue of exposure sets and the dispatcher that drives the
// filter wheel, focuser, and camera daemons through each set.
//
// Entries dispatch highest priority first, ties broken by enqueue time.
// A failed attempt requeues the entry until its attempt budget runs
// out; dispatch suspends while any dependency daemon reports an error
// and while the queue is paused. Cancelling the running entry
// interrupts the in-flight hardware step.
package exq
