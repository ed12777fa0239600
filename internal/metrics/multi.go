package metrics

import (
	"time"
)

// MultiQueryHook fans each emission out to several QueryHooks.
type MultiQueryHook []QueryHook

// MultiRefreshHook fans each emission out to several RefreshHooks.
type MultiRefreshHook []RefreshHook

// MultiRequestHook fans each emission out to several RequestHooks.
type MultiRequestHook []RequestHook

// EmitQuery forwards to every hook.
func (m MultiQueryHook) EmitQuery(kind string, matches int, latency time.Duration) {
	for _, h := range m {
		h.EmitQuery(kind, matches, latency)
	}
}

// EmitNotReady forwards to every hook.
func (m MultiQueryHook) EmitNotReady() {
	for _, h := range m {
		h.EmitNotReady()
	}
}

// EmitRefresh forwards to every hook.
func (m MultiRefreshHook) EmitRefresh(source string, latency time.Duration) {
	for _, h := range m {
		h.EmitRefresh(source, latency)
	}
}

// EmitRefreshError forwards to every hook.
func (m MultiRefreshHook) EmitRefreshError(source string) {
	for _, h := range m {
		h.EmitRefreshError(source)
	}
}

// EmitTierSize forwards to every hook.
func (m MultiRefreshHook) EmitTierSize(tier string, entries int) {
	for _, h := range m {
		h.EmitTierSize(tier, entries)
	}
}

// EmitResponse forwards to every hook.
func (m MultiRequestHook) EmitResponse(code int, latency time.Duration) {
	for _, h := range m {
		h.EmitResponse(code, latency)
	}
}
