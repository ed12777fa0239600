package resolver

import (
	"errors"

	"lib.kevinlin.info/aperture/lib"

	"ouilookup/internal/log"
	"ouilookup/internal/metrics"
	"ouilookup/internal/registry"
)

// SnapshotSource provides the currently installed registry snapshot.
type SnapshotSource interface {
	Snapshot() *registry.Snapshot
}

// Gate reports whether queries may be served.
type Gate interface {
	IsReady() bool
}

// Dispatcher routes a raw query to the hardware address resolver, falling back to organization
// search when the query is not shaped like an address.
type Dispatcher struct {
	source SnapshotSource
	gate   Gate
	opts   DispatcherOpts
}

// DispatcherOpts formalizes dispatcher configuration options.
type DispatcherOpts struct {
	// QueryHook receives per-query metrics.
	QueryHook metrics.QueryHook
	// Logger is used for per-query debug logging.
	Logger log.Logger
}

// NewDispatcher creates a dispatcher serving queries from the snapshots of source while gate is
// open.
func NewDispatcher(source SnapshotSource, gate Gate, opts DispatcherOpts) *Dispatcher {
	if opts.QueryHook == nil {
		opts.QueryHook = metrics.NewNoopQueryHook()
	}

	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}

	return &Dispatcher{source, gate, opts}
}

// Lookup resolves query against the current snapshot without pagination.
func (d *Dispatcher) Lookup(query string) (Matches, error) {
	snapshot := d.source.Snapshot()
	if !d.gate.IsReady() || snapshot == nil {
		d.opts.QueryHook.EmitNotReady()
		return Matches{}, ErrNotReady
	}

	matches, err := ResolveMAC(snapshot, query)
	if errors.Is(err, ErrInvalidQueryLength) || errors.Is(err, ErrNotAMacAddress) {
		d.opts.Logger.Debug("dispatcher: query is not a hardware address; searching organizations: query=%q", query)
		return SearchOrganization(snapshot, query), nil
	}

	return matches, err
}

// Resolve resolves query and shapes the matches into a response for page.
func (d *Dispatcher) Resolve(query string, page Page) (Result, error) {
	timer := lib.NewStopwatch()

	matches, err := d.Lookup(query)
	if err != nil {
		return Result{}, err
	}

	result := Paginate(matches, page)

	d.opts.Logger.Debug(
		"dispatcher: resolved query: query=%q kind=%s total=%d count=%d latency=%v",
		query,
		matches.Kind,
		matches.Total(),
		result.Count,
		timer.Elapsed(),
	)
	d.opts.QueryHook.EmitQuery(matches.Kind.String(), matches.Total(), timer.Elapsed())

	return result, nil
}
