package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNew_RegistersAllCollectors(t *testing.T) {
	c := New()
	c.CacheFilledBytes.Set(1024)
	c.GCEvictions.Inc()
	c.BackendRequests.WithLabelValues("ok").Inc()

	assert.Equal(t, float64(1024), testutil.ToFloat64(c.CacheFilledBytes))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.GCEvictions))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.BackendRequests.WithLabelValues("ok")))
}
