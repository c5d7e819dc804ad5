// Package daemon wires the watchers, scheduler, and remote client into a
// long-running single-instance process.
package daemon
