// Package network contains the transports of the service: clients that download registry files
// from upstream mirrors, load balancing policies that shard downloads among those mirrors, and the
// HTTP server that exposes the query surface.
package network
