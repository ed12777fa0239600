// Package refresh keeps the live registry snapshot current. A Scheduler loads the tiers from the
// data directory while they are fresh, downloads them from upstream once they go stale, and
// republishes snapshots on a fixed interval for the lifetime of the process.
package refresh
