package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.SetPoolBalances("P", "USD", 1, 1, 0)
		c.RecordOperation("invest", nil, time.Millisecond)
		c.RecordEventDropped("investment_created")
		c.RecordTick(time.Second)
	})
}

func TestPoolBalancesAndUtilization(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())
	c.SetPoolBalances("POOL_USD_001", "USD", 1000, 750, 250)

	assert.Equal(t, 1000.0, testutil.ToFloat64(c.PoolTotal.WithLabelValues("POOL_USD_001", "USD")))
	assert.Equal(t, 0.25, testutil.ToFloat64(c.PoolUtilization.WithLabelValues("POOL_USD_001")))
}

func TestRecordOperationOutcome(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())
	c.RecordOperation("invest", nil, time.Millisecond)
	c.RecordOperation("invest", errors.New("boom"), time.Millisecond)
	c.RecordOperation("invest", nil, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.OperationsTotal.WithLabelValues("invest", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.OperationsTotal.WithLabelValues("invest", "error")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())
	c.RecordEventDropped("withdrawal_processed")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "poolledger_events_dropped_total"))
}
