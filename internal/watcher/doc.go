// Package watcher discovers finished renders in watched folders and moves
// them through upload and schedule against the remote API.
package watcher
