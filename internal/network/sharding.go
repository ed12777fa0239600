//go:generate go run golang.org/x/tools/cmd/stringer -type=LoadBalancingPolicy -linecomment=true

package network

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// LoadBalancingPolicy formalizes the decision policy to apply when selecting among the mirrors of a
// single registry file.
type LoadBalancingPolicy int

// ShardedClientFactory is a type alias for a unary constructor function that returns a single
// Client that abstracts operations among several child Clients.
type ShardedClientFactory func([]Client) Client

// RoundRobinShardedClient shards requests among clients fairly in round-robin order.
type RoundRobinShardedClient struct {
	clients []Client

	// Current round robin index
	rrIdx int
	mutex sync.Mutex
}

// RandomShardedClient shards requests among clients randomly.
type RandomShardedClient struct {
	clients []Client
}

// HistoricalFetchesShardedClient directs requests to the client that has, up until the time of
// invocation, served the fewest number of successful fetches. It is best used when there is a
// need to ensure that load is distributed to all mirrors fairly even if one of them has failed.
type HistoricalFetchesShardedClient struct {
	clients []Client
}

// AvailabilityShardedClient fetches by dynamically adjusting its active client pool to prioritize
// those clients that are successful in serving their file. It automatically fails over failed
// fetches to healthy clients in the pool, temporarily disabling the failed client for future
// requests with an exponential backoff policy.
type AvailabilityShardedClient struct {
	clients []Client

	// Tracks the timestamp at which each client last errored
	lastError map[Client]time.Time
	// Tracks the current duration of time to wait before a failed client is once again
	// available for use.
	errorExpiry map[Client]time.Duration
	// Mutex used to protect R/W operations on the state maps.
	mutex sync.RWMutex
}

// FailoverShardedClient fetches in priority order, serially failing over to the next client(s) in
// the list when the primary is not successful.
type FailoverShardedClient struct {
	clients []Client
}

const (
	// RoundRobin statefully iterates through each client on every fetch.
	RoundRobin LoadBalancingPolicy = iota // round_robin
	// Random selects a client at random to serve the fetch.
	Random // random
	// HistoricalFetches selects the client that has, up until the time of request,
	// served the fewest fetches.
	HistoricalFetches // historical_fetches
	// Availability randomly selects a client to serve the fetch, failing over to another
	// client in the event that it fails to do so. The failed client is temporarily pulled out
	// of the availability pool to prevent subsequent requests from being directed to it.
	Availability // availability
	// Failover fetches from multiple clients in serial order, only failing over to secondary
	// clients when the primary fails.
	Failover // failover
)

// NewShardedClient creates a single Client that fetches from several other Clients governed by a
// load balancing policy. A single client is returned as is. It returns an error if there are no
// clients or the specified load balancing policy has no associated sharded client factory.
func NewShardedClient(clients []Client, lbPolicy LoadBalancingPolicy) (Client, error) {
	if len(clients) == 0 {
		return nil, fmt.Errorf("sharding: at least one client is required")
	}

	if len(clients) == 1 {
		return clients[0], nil
	}

	factories := map[LoadBalancingPolicy]ShardedClientFactory{
		RoundRobin:        NewRoundRobinShardedClient,
		Random:            NewRandomShardedClient,
		HistoricalFetches: NewHistoricalFetchesShardedClient,
		Availability:      NewAvailabilityShardedClient,
		Failover:          NewFailoverShardedClient,
	}

	factory, ok := factories[lbPolicy]
	if !ok {
		return nil, fmt.Errorf(
			"sharding: no factory configured for load balancing policy: policy=%s",
			lbPolicy,
		)
	}

	return factory(clients), nil
}

// NewRoundRobinShardedClient is a client factory for the round robin load balancing policy.
func NewRoundRobinShardedClient(clients []Client) Client {
	return &RoundRobinShardedClient{clients: clients}
}

// Fetch fetches from the next client in the round robin index.
func (c *RoundRobinShardedClient) Fetch(ctx context.Context) (io.ReadCloser, error) {
	c.mutex.Lock()
	client := c.clients[c.rrIdx]
	c.rrIdx = (c.rrIdx + 1) % len(c.clients)
	c.mutex.Unlock()

	return client.Fetch(ctx)
}

// Stats aggregates stats from all child clients.
func (c *RoundRobinShardedClient) Stats() Stats {
	return aggregateClientsStats(c.clients)
}

// String describes the sharded clients.
func (c *RoundRobinShardedClient) String() string {
	return describeClients(RoundRobin.String(), c.clients)
}

// NewRandomShardedClient is a client factory for the random load balancing policy.
func NewRandomShardedClient(clients []Client) Client {
	return &RandomShardedClient{clients}
}

// Fetch selects a client at random to serve the fetch.
func (c *RandomShardedClient) Fetch(ctx context.Context) (io.ReadCloser, error) {
	return c.clients[rand.Intn(len(c.clients))].Fetch(ctx)
}

// Stats aggregates stats from all child clients.
func (c *RandomShardedClient) Stats() Stats {
	return aggregateClientsStats(c.clients)
}

func (c *RandomShardedClient) String() string {
	return describeClients(Random.String(), c.clients)
}

// NewHistoricalFetchesShardedClient is a client factory for the historical fetches load
// balancing policy.
func NewHistoricalFetchesShardedClient(clients []Client) Client {
	return &HistoricalFetchesShardedClient{clients}
}

// Fetch selects the client that has, up until the time of invocation, served the fewest
// successful fetches.
func (c *HistoricalFetchesShardedClient) Fetch(ctx context.Context) (io.ReadCloser, error) {
	var client Client

	for _, candidate := range c.clients {
		if client == nil || candidate.Stats().SuccessfulFetches < client.Stats().SuccessfulFetches {
			client = candidate
		}
	}

	return client.Fetch(ctx)
}

// Stats aggregates stats from all child clients.
func (c *HistoricalFetchesShardedClient) Stats() Stats {
	return aggregateClientsStats(c.clients)
}

func (c *HistoricalFetchesShardedClient) String() string {
	return describeClients(HistoricalFetches.String(), c.clients)
}

// NewAvailabilityShardedClient is a client factory for the availability load balancing policy.
func NewAvailabilityShardedClient(clients []Client) Client {
	lastError := make(map[Client]time.Time)
	errorExpiry := make(map[Client]time.Duration)

	for _, client := range clients {
		lastError[client] = time.Time{}
		errorExpiry[client] = 0
	}

	return &AvailabilityShardedClient{
		clients:     clients,
		lastError:   lastError,
		errorExpiry: errorExpiry,
	}
}

// Fetch attempts to robustly fetch from all available clients using a failover retry mechanism. It
// is possible for this method to error if the load balancing policy determines that there are no
// live clients eligible for serving the file.
func (c *AvailabilityShardedClient) Fetch(ctx context.Context) (io.ReadCloser, error) {
	// Describes the amount of time that must elapse before resetting a client's error expiry
	// timer. In other words, this is the minimum amount of time after which a client errors
	// that it is permitted to be retried. Otherwise, the client is pulled out of the sharding
	// pool for exponentially increasing durations of time.
	failedClientExpiry := 30 * time.Minute

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client, err := c.selectAvailable()
	if err != nil {
		return nil, err
	}

	body, err := client.Fetch(ctx)
	if err != nil {
		c.mutex.Lock()

		if c.lastError[client].IsZero() || time.Since(c.lastError[client]) > failedClientExpiry {
			// The client has either never errored before, or the last error is too far
			// in the past. Start its exponential backoff timer at one minute, indicating
			// that this client will be marked unavailable for the next minute.
			c.errorExpiry[client] = time.Minute
		} else {
			// The most recent client failure was too recent; double the current expiry
			// time.
			c.errorExpiry[client] *= 2
		}

		c.lastError[client] = time.Now()

		c.mutex.Unlock()

		return c.Fetch(ctx)
	}

	return body, nil
}

// Stats aggregates stats from all child clients.
func (c *AvailabilityShardedClient) Stats() Stats {
	return aggregateClientsStats(c.clients)
}

func (c *AvailabilityShardedClient) String() string {
	return describeClients(Availability.String(), c.clients)
}

// Select an eligible client at random. This method may error if no clients are available to
// serve the file.
func (c *AvailabilityShardedClient) selectAvailable() (Client, error) {
	var eligibleClients []Client

	for _, candidate := range c.clients {
		c.mutex.RLock()
		lastError := c.lastError[candidate]
		expiry := c.errorExpiry[candidate]
		c.mutex.RUnlock()

		// The client is considered eligible if it has never errored or if its current
		// failure lifetime has expired.
		if lastError.IsZero() || time.Since(lastError) > expiry {
			eligibleClients = append(eligibleClients, candidate)
		}
	}

	if len(eligibleClients) == 0 {
		return nil, fmt.Errorf("sharding: no live clients are available")
	}

	return eligibleClients[rand.Intn(len(eligibleClients))], nil
}

// NewFailoverShardedClient is a client factory for the failover load balancing policy.
func NewFailoverShardedClient(clients []Client) Client {
	return &FailoverShardedClient{clients}
}

// Fetch attempts to fetch from clients in serial order, failing over to the next client on error.
// The returned error carries the failure of the last client.
func (c *FailoverShardedClient) Fetch(ctx context.Context) (io.ReadCloser, error) {
	var lastErr error

	for _, client := range c.clients {
		body, err := client.Fetch(ctx)
		if err == nil {
			return body, nil
		}

		lastErr = err

		if ctx.Err() != nil {
			break
		}
	}

	return nil, fmt.Errorf("sharding: all clients failed to serve the file: err=%w", lastErr)
}

// Stats aggregates stats from all child clients.
func (c *FailoverShardedClient) Stats() Stats {
	return aggregateClientsStats(c.clients)
}

func (c *FailoverShardedClient) String() string {
	return describeClients(Failover.String(), c.clients)
}

// ParseLoadBalancingPolicy parses a LoadBalancingPolicy constant from its stringified
// representation in a case-insensitive manner. Unknown policies yield Failover.
func ParseLoadBalancingPolicy(lbPolicy string) (LoadBalancingPolicy, bool) {
	knownLbPolicies := []LoadBalancingPolicy{
		RoundRobin,
		Random,
		HistoricalFetches,
		Availability,
		Failover,
	}

	for _, knownLbPolicy := range knownLbPolicies {
		if strings.ToLower(lbPolicy) == strings.ToLower(knownLbPolicy.String()) {
			return knownLbPolicy, true
		}
	}

	return Failover, false
}

// aggregateClientsStats creates a single Stats struct from those in multiple Clients.
func aggregateClientsStats(clients []Client) Stats {
	var multipleStats []Stats
	var aggregatedStats Stats

	for _, client := range clients {
		multipleStats = append(multipleStats, client.Stats())
	}

	for _, stats := range multipleStats {
		aggregatedStats.SuccessfulFetches += stats.SuccessfulFetches
		aggregatedStats.FailedFetches += stats.FailedFetches
	}

	return aggregatedStats
}

// describeClients formats a policy name with the sources of its child clients.
func describeClients(policy string, clients []Client) string {
	sources := make([]string, len(clients))
	for idx, client := range clients {
		sources[idx] = client.String()
	}

	return fmt.Sprintf("%s[%s]", policy, strings.Join(sources, ","))
}
