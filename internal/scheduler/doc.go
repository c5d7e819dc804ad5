// Package scheduler allocates per-account publish slots: a fixed daily
// quota, fixed spacing between slots, and automatic overflow into future
// days when a day fills up.
package scheduler
