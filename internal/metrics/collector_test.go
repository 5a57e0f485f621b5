package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector

	c.RecordAPIRequest("GET", "200")
	c.RecordCacheHit("short")
	c.RecordCacheMiss("expired")
	c.RecordRateLimitWait()
	c.RecordChunkFlush()
	c.RecordBytesRead(10)
	c.RecordBytesWritten(10)
	assert.Nil(t, c.Registry())
}

func TestCollectorRegistersMetrics(t *testing.T) {
	c := NewCollector("hubfs")

	c.RecordAPIRequest("GET", "200")
	c.RecordCacheHit("long")
	c.RecordCacheMiss("absent")
	c.RecordBytesRead(128)

	families, err := c.Registry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["hubfs_api_requests_total"])
	assert.True(t, names["hubfs_cache_hits_total"])
	assert.True(t, names["hubfs_cache_misses_total"])
	assert.True(t, names["hubfs_stream_bytes_read_total"])
}
