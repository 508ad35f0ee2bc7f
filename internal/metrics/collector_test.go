package metrics

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/leesite/agentlee/agent/memory"
	"github.com/leesite/agentlee/agent/persistence"
	"github.com/leesite/agentlee/internal/database"
)

var (
	_ memory.MetricsRecorder        = (*Collector)(nil)
	_ persistence.OperationObserver = (*Collector)(nil)
)

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewCollector("test", reg, zap.NewNop()), reg
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector_RegistersOnGivenRegistry(t *testing.T) {
	c, reg := newTestCollector(t)
	c.RecordHTTPRequest("GET", "/health", 200, time.Millisecond, 0, 10)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	// 同一 registry 重复注册会 panic，独立 registry 则不会
	assert.Panics(t, func() { NewCollector("test", reg, nil) })
	assert.NotPanics(t, func() { NewCollector("test", prometheus.NewRegistry(), nil) })
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordHTTPRequest("GET", "/api/v1/ask", 200, 100*time.Millisecond, 1024, 2048)
	c.RecordHTTPRequest("GET", "/api/v1/ask", 204, 50*time.Millisecond, 512, 0)
	c.RecordHTTPRequest("POST", "/api/v1/ask", 503, 10*time.Millisecond, 0, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("GET", "/api/v1/ask", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("POST", "/api/v1/ask", "5xx")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.httpRequestDuration))
}

func TestCollector_RecordRateLimited(t *testing.T) {
	c, _ := newTestCollector(t)
	c.RecordRateLimited()
	c.RecordRateLimited()
	assert.Equal(t, 2.0, testutil.ToFloat64(c.rateLimited))
}

func TestCollector_RecordLookup(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordLookup("knowledge", true, 0.9)
	c.RecordLookup("knowledge", false, 0)
	c.RecordLookup("memory", true, 0.7)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.lookupsTotal.WithLabelValues("knowledge", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.lookupsTotal.WithLabelValues("knowledge", "miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.lookupsTotal.WithLabelValues("memory", "hit")))
	// 未命中不进入置信度直方图
	assert.Equal(t, 2, testutil.CollectAndCount(c.lookupConfidence))
}

func TestCollector_RecordLearn(t *testing.T) {
	c, _ := newTestCollector(t)
	c.RecordLearn("faq", true)
	c.RecordLearn("faq", false)
	c.RecordLearn("faq", true)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.learnTotal.WithLabelValues("faq", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.learnTotal.WithLabelValues("faq", "failure")))
}

func TestCollector_RecordConsolidation(t *testing.T) {
	c, reg := newTestCollector(t)

	c.RecordConsolidation(memory.ConsolidationSuccess, 20*time.Millisecond, 3, 1)
	c.RecordConsolidation(memory.ConsolidationFailure, 5*time.Millisecond, 0, 0)
	c.SetTierSizes(12, 40)
	c.SetKnowledgeItems(7)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.consolidationsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.consolidationsTotal.WithLabelValues("failure")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.promotedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.prunedTotal))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.knowledgeItems))

	expected := `
# HELP test_memory_tier_size Number of memories per tier
# TYPE test_memory_tier_size gauge
test_memory_tier_size{tier="long_term"} 40
test_memory_tier_size{tier="short_term"} 12
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "test_memory_tier_size"))
}

func TestCollector_ObserveStoreOperation(t *testing.T) {
	c, _ := newTestCollector(t)

	c.ObserveStoreOperation("put", persistence.CollectionMemories, nil, time.Millisecond)
	c.ObserveStoreOperation("get", persistence.CollectionMemories, persistence.ErrNotFound, time.Millisecond)
	c.ObserveStoreOperation("get", persistence.CollectionMemories, fmt.Errorf("wrapped: %w", persistence.ErrStoreClosed), time.Millisecond)
	c.ObserveStoreOperation("replace_all", persistence.CollectionMemories, errors.New("disk full"), time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.storeOperations.WithLabelValues("put", "memories", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.storeOperations.WithLabelValues("get", "memories", "not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.storeOperations.WithLabelValues("get", "memories", "unavailable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.storeOperations.WithLabelValues("replace_all", "memories", "error")))
}

func TestCollector_RecordDBConnections(t *testing.T) {
	c, _ := newTestCollector(t)
	c.RecordDBConnections(database.PoolStats{OpenConnections: 5, InUse: 2, Idle: 3})

	assert.Equal(t, 5.0, testutil.ToFloat64(c.dbConnectionsOpen))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.dbConnectionsInUse))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.dbConnectionsIdle))
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, "2xx"},
		{301, "3xx"},
		{404, "4xx"},
		{429, "4xx"},
		{500, "5xx"},
		{100, "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusCode(tt.code), "code %d", tt.code)
	}
}
