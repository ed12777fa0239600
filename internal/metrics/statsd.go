package metrics

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/cactus/go-statsd-client/statsd"
)

// statsdFlushInterval bounds how long buffered statsd packets are held before being sent.
const statsdFlushInterval = 300 * time.Millisecond

// StatsdClient emits tagged metrics over a buffered UDP statsd connection.
type StatsdClient struct {
	backend     statsd.Statter
	defaultTags map[string]string
	sampleRate  float32
}

// NewStatsdClient creates a statsd client shipping to addr. Every metric name is prefixed with
// prefix and carries defaultTags in addition to its own tags.
func NewStatsdClient(addr string, prefix string, defaultTags map[string]string, sampleRate float32) (*StatsdClient, error) {
	backend, err := statsd.NewClientWithConfig(&statsd.ClientConfig{
		Address:       addr,
		Prefix:        prefix,
		UseBuffered:   true,
		FlushInterval: statsdFlushInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("statsd: error creating statsd client: addr=%s err=%v", addr, err)
	}

	return &StatsdClient{backend, defaultTags, sampleRate}, nil
}

// Count increments a counter by delta.
func (c *StatsdClient) Count(metric string, delta int64, tags map[string]string) error {
	return c.backend.Inc(c.formatMetric(metric, tags), delta, c.sampleRate)
}

// Gauge records the current value of a quantity, such as the number of entries in a tier.
func (c *StatsdClient) Gauge(metric string, value int64, tags map[string]string) error {
	return c.backend.Gauge(c.formatMetric(metric, tags), value, c.sampleRate)
}

// Timing records a latency.
func (c *StatsdClient) Timing(metric string, duration time.Duration, tags map[string]string) error {
	return c.backend.TimingDuration(c.formatMetric(metric, tags), duration, c.sampleRate)
}

// Size records a distribution sample such as a result set cardinality. Statsd has no dedicated
// histogram type, so sizes travel as timings.
func (c *StatsdClient) Size(metric string, size int64, tags map[string]string) error {
	return c.backend.Timing(c.formatMetric(metric, tags), size, c.sampleRate)
}

// Close flushes pending packets and releases the socket.
func (c *StatsdClient) Close() error {
	return c.backend.Close()
}

// formatMetric appends the default and per-call tags to a metric name, InfluxDB style, in key
// order. Per-call tags win over default tags of the same key. Names, keys and values are URL
// escaped since characters such as ':' and '|' are part of the statsd wire format.
func (c *StatsdClient) formatMetric(metric string, tags map[string]string) string {
	var b strings.Builder
	b.WriteString(url.QueryEscape(metric))

	for _, key := range mergedTagKeys(c.defaultTags, tags) {
		value, ok := tags[key]
		if !ok {
			value = c.defaultTags[key]
		}

		b.WriteByte(',')
		b.WriteString(url.QueryEscape(key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(value))
	}

	return b.String()
}

// mergedTagKeys returns the sorted union of the keys of both tag sets.
func mergedTagKeys(defaults, tags map[string]string) []string {
	keys := make([]string, 0, len(defaults)+len(tags))
	for key := range defaults {
		keys = append(keys, key)
	}
	for key := range tags {
		if _, ok := defaults[key]; !ok {
			keys = append(keys, key)
		}
	}

	sort.Strings(keys)
	return keys
}
