// Package registry holds the IEEE OUI registry in memory. The registry is split into three tiers of
// decreasing address-block size (MA-L, MA-M, MA-S). A Snapshot is an immutable, fully populated set
// of all three tiers; a Store publishes exactly one Snapshot at a time and replaces it atomically.
//
// The package also owns the flat on-disk layout of the registry: one CSV file per tier plus a
// timestamp marker recording when the files were last downloaded.
package registry
