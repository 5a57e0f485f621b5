// Package metrics collects Prometheus metrics for hubfs storage
// operations: API traffic, cache effectiveness, and stream transfer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector registers and updates the hubfs Prometheus metrics. A nil
// Collector is valid and drops all observations, so components can take
// one without caring whether metrics are enabled.
type Collector struct {
	registry *prometheus.Registry

	apiRequests    *prometheus.CounterVec
	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	rateLimitWaits prometheus.Counter
	chunkFlushes   prometheus.Counter
	bytesRead      prometheus.Counter
	bytesWritten   prometheus.Counter
}

// NewCollector creates a collector with its own registry.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "hubfs"
	}

	c := &Collector{
		registry: prometheus.NewRegistry(),
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Total REST API requests issued, by method and status.",
		}, []string{"method", "status"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Disk cache hits, by mode.",
		}, []string{"mode"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Disk cache misses, by reason.",
		}, []string{"reason"}),
		rateLimitWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_waits_total",
			Help:      "Times the client slept waiting for the rate limit to reset.",
		}),
		chunkFlushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_chunk_flushes_total",
			Help:      "Buffered stream chunks flushed to storage.",
		}),
		bytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_bytes_read_total",
			Help:      "Bytes read from remote objects.",
		}),
		bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_bytes_written_total",
			Help:      "Bytes written to remote objects.",
		}),
	}

	c.registry.MustRegister(
		c.apiRequests, c.cacheHits, c.cacheMisses,
		c.rateLimitWaits, c.chunkFlushes, c.bytesRead, c.bytesWritten,
	)
	return c
}

// Registry exposes the underlying registry for serving or testing.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// RecordAPIRequest counts one REST API request.
func (c *Collector) RecordAPIRequest(method, status string) {
	if c == nil {
		return
	}
	c.apiRequests.WithLabelValues(method, status).Inc()
}

// RecordCacheHit counts one disk cache hit in the given mode ("short" or
// "long").
func (c *Collector) RecordCacheHit(mode string) {
	if c == nil {
		return
	}
	c.cacheHits.WithLabelValues(mode).Inc()
}

// RecordCacheMiss counts one disk cache miss ("absent" or "expired").
func (c *Collector) RecordCacheMiss(reason string) {
	if c == nil {
		return
	}
	c.cacheMisses.WithLabelValues(reason).Inc()
}

// RecordRateLimitWait counts one sleep cycle in the rate-limit wait loop.
func (c *Collector) RecordRateLimitWait() {
	if c == nil {
		return
	}
	c.rateLimitWaits.Inc()
}

// RecordChunkFlush counts one buffered-stream chunk upload.
func (c *Collector) RecordChunkFlush() {
	if c == nil {
		return
	}
	c.chunkFlushes.Inc()
}

// RecordBytesRead counts bytes received from remote objects.
func (c *Collector) RecordBytesRead(n int) {
	if c == nil {
		return
	}
	c.bytesRead.Add(float64(n))
}

// RecordBytesWritten counts bytes sent to remote objects.
func (c *Collector) RecordBytesWritten(n int) {
	if c == nil {
		return
	}
	c.bytesWritten.Add(float64(n))
}
