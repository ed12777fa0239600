// Package resolver answers queries against a registry snapshot. A query is first treated as a
// hardware address and resolved through the MA-L, MA-M and MA-S tiers; a query that is not shaped
// like an address is instead matched against organization names.
package resolver
