// Package command defines the data model shared by every daemon and caller:
// commands, daemon states, published status snapshots, and the error
// taxonomy surfaced through status reads.
package command
