package metrics

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// QueryHook is a metrics hook interface for reporting events that occur while resolving a query
// against the registry.
type QueryHook interface {
	// EmitQuery reports a resolved query: the path that served it ("mac" or "organization"), the
	// number of matching entries before pagination, and the resolution latency.
	EmitQuery(kind string, matches int, latency time.Duration)

	// EmitNotReady reports a query rejected because the registry was initializing.
	EmitNotReady()
}

// RefreshHook is a metrics hook interface for reporting registry refresh cycles.
type RefreshHook interface {
	// EmitRefresh reports a successful refresh and its duration. The source is "disk" or
	// "upstream".
	EmitRefresh(source string, latency time.Duration)

	// EmitRefreshError reports a failed refresh attempt.
	EmitRefreshError(source string)

	// EmitTierSize reports the number of entries installed for a tier.
	EmitTierSize(tier string, entries int)
}

// RequestHook is a metrics hook interface for reporting HTTP request outcomes.
type RequestHook interface {
	// EmitResponse reports the status code and total latency of a served request.
	EmitResponse(code int, latency time.Duration)
}

// AsyncStatsdQueryHook is an implementation of QueryHook that outputs metrics asynchronously to
// statsd.
type AsyncStatsdQueryHook struct {
	client *StatsdClient
}

// AsyncStatsdRefreshHook is an implementation of RefreshHook that outputs metrics asynchronously
// to statsd.
type AsyncStatsdRefreshHook struct {
	client *StatsdClient
}

// AsyncStatsdRequestHook is an implementation of RequestHook that outputs metrics asynchronously
// to statsd.
type AsyncStatsdRequestHook struct {
	client *StatsdClient
}

// NoopQueryHook implements the QueryHook interface but noops on all emissions.
type NoopQueryHook struct{}

// NoopRefreshHook implements the RefreshHook interface but noops on all emissions.
type NoopRefreshHook struct{}

// NoopRequestHook implements the RequestHook interface but noops on all emissions.
type NoopRequestHook struct{}

// NewAsyncStatsdQueryHook creates a new query hook reporting to the statsd server at addr.
func NewAsyncStatsdQueryHook(addr string, sampleRate float32, version string) (QueryHook, error) {
	client, err := statsdClientFactory(addr, sampleRate, version)
	if err != nil {
		return nil, err
	}

	return &AsyncStatsdQueryHook{client}, nil
}

// EmitQuery statsd implementation
func (h *AsyncStatsdQueryHook) EmitQuery(kind string, matches int, latency time.Duration) {
	go func() {
		tags := map[string]string{
			"kind":    kind,
			"matched": strconv.FormatBool(matches > 0),
		}

		h.client.Count("event.query.resolved", 1, tags)
		h.client.Timing("latency.query.resolve", latency, tags)
		h.client.Size("size.query.matches", int64(matches), map[string]string{"kind": kind})
	}()
}

// EmitNotReady statsd implementation
func (h *AsyncStatsdQueryHook) EmitNotReady() {
	go h.client.Count("event.query.not_ready", 1, nil)
}

// NewAsyncStatsdRefreshHook creates a new refresh hook reporting to the statsd server at addr.
func NewAsyncStatsdRefreshHook(addr string, sampleRate float32, version string) (RefreshHook, error) {
	client, err := statsdClientFactory(addr, sampleRate, version)
	if err != nil {
		return nil, err
	}

	return &AsyncStatsdRefreshHook{client}, nil
}

// EmitRefresh statsd implementation
func (h *AsyncStatsdRefreshHook) EmitRefresh(source string, latency time.Duration) {
	go func() {
		tags := map[string]string{"source": source}

		h.client.Count("event.refresh.success", 1, tags)
		h.client.Timing("latency.refresh", latency, tags)
	}()
}

// EmitRefreshError statsd implementation
func (h *AsyncStatsdRefreshHook) EmitRefreshError(source string) {
	go h.client.Count("event.refresh.error", 1, map[string]string{"source": source})
}

// EmitTierSize statsd implementation
func (h *AsyncStatsdRefreshHook) EmitTierSize(tier string, entries int) {
	go h.client.Gauge("gauge.registry.entries", int64(entries), map[string]string{"tier": tier})
}

// NewAsyncStatsdRequestHook creates a new request hook reporting to the statsd server at addr.
func NewAsyncStatsdRequestHook(addr string, sampleRate float32, version string) (RequestHook, error) {
	client, err := statsdClientFactory(addr, sampleRate, version)
	if err != nil {
		return nil, err
	}

	return &AsyncStatsdRequestHook{client}, nil
}

// EmitResponse statsd implementation
func (h *AsyncStatsdRequestHook) EmitResponse(code int, latency time.Duration) {
	go func() {
		tags := map[string]string{"code": strconv.Itoa(code)}

		h.client.Count("event.http.response", 1, tags)
		h.client.Timing("latency.http.response", latency, tags)
	}()
}

// NewNoopQueryHook creates a noop implementation of QueryHook.
func NewNoopQueryHook() QueryHook {
	return &NoopQueryHook{}
}

// EmitQuery noops.
func (h *NoopQueryHook) EmitQuery(kind string, matches int, latency time.Duration) {}

// EmitNotReady noops.
func (h *NoopQueryHook) EmitNotReady() {}

// NewNoopRefreshHook creates a noop implementation of RefreshHook.
func NewNoopRefreshHook() RefreshHook {
	return &NoopRefreshHook{}
}

// EmitRefresh noops.
func (h *NoopRefreshHook) EmitRefresh(source string, latency time.Duration) {}

// EmitRefreshError noops.
func (h *NoopRefreshHook) EmitRefreshError(source string) {}

// EmitTierSize noops.
func (h *NoopRefreshHook) EmitTierSize(tier string, entries int) {}

// NewNoopRequestHook creates a noop implementation of RequestHook.
func NewNoopRequestHook() RequestHook {
	return &NoopRequestHook{}
}

// EmitResponse noops.
func (h *NoopRequestHook) EmitResponse(code int, latency time.Duration) {}

// statsdClientFactory creates a configured StatsdClient with reasonable defaults for the given
// statsd server address and sample rate.
func statsdClientFactory(addr string, sampleRate float32, version string) (*StatsdClient, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("statsd: error resolving hostname: err=%v", err)
	}

	defaultTags := map[string]string{
		"host": hostname,
	}
	if version != "" {
		defaultTags["version"] = version
	}

	return NewStatsdClient(addr, "ouilookup", defaultTags, sampleRate)
}
