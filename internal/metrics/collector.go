// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/leesite/agentlee/agent/persistence"
	"github.com/leesite/agentlee/internal/database"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器，同时实现 memory.MetricsRecorder 与
// persistence.OperationObserver
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec
	rateLimited         prometheus.Counter

	// 检索指标
	lookupsTotal     *prometheus.CounterVec
	lookupConfidence *prometheus.HistogramVec

	// 学习指标
	learnTotal *prometheus.CounterVec

	// 整合指标
	consolidationsTotal   *prometheus.CounterVec
	consolidationDuration prometheus.Histogram
	promotedTotal         prometheus.Counter
	prunedTotal           prometheus.Counter
	tierSize              *prometheus.GaugeVec
	knowledgeItems        prometheus.Gauge

	// 存储指标
	storeOperations        *prometheus.CounterVec
	storeOperationDuration *prometheus.HistogramVec
	dbConnectionsOpen      prometheus.Gauge
	dbConnectionsInUse     prometheus.Gauge
	dbConnectionsIdle      prometheus.Gauge

	logger *zap.Logger
}

// NewCollector 创建指标收集器。reg 为 nil 时注册到 prometheus.DefaultRegisterer
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.rateLimited = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_rate_limited_total",
		Help:      "Total number of requests rejected by the rate limiter",
	})

	// 检索指标
	c.lookupsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookups_total",
			Help:      "Total number of answer lookups by source and result",
		},
		[]string{"source", "result"}, // result: hit, miss
	)

	c.lookupConfidence = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lookup_confidence",
			Help:      "Confidence of successful lookups",
			Buckets:   []float64{0.6, 0.7, 0.8, 0.9, 0.95, 1},
		},
		[]string{"source"},
	)

	// 学习指标
	c.learnTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interactions_learned_total",
			Help:      "Total number of learned interactions",
		},
		[]string{"category", "outcome"}, // outcome: success, failure
	)

	// 整合指标
	c.consolidationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consolidations_total",
			Help:      "Total number of memory consolidation cycles",
		},
		[]string{"status"},
	)

	c.consolidationDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "consolidation_duration_seconds",
		Help:      "Memory consolidation duration in seconds",
		Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	})

	c.promotedTotal = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "memories_promoted_total",
		Help:      "Total number of memories promoted to long-term",
	})

	c.prunedTotal = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "memories_pruned_total",
		Help:      "Total number of memories dropped by capacity pruning",
	})

	c.tierSize = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_tier_size",
			Help:      "Number of memories per tier",
		},
		[]string{"tier"},
	)

	c.knowledgeItems = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "knowledge_items",
		Help:      "Number of knowledge base records",
	})

	// 存储指标
	c.storeOperations = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_operations_total",
			Help:      "Total number of store operations",
		},
		[]string{"operation", "collection", "status"},
	)

	c.storeOperationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_duration_seconds",
			Help:      "Store operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	c.dbConnectionsOpen = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "db_connections_open",
		Help:      "Number of open database connections",
	})

	c.dbConnectionsInUse = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "db_connections_in_use",
		Help:      "Number of database connections in use",
	})

	c.dbConnectionsIdle = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "db_connections_idle",
		Help:      "Number of idle database connections",
	})

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// RecordRateLimited 记录被限流拒绝的请求
func (c *Collector) RecordRateLimited() {
	c.rateLimited.Inc()
}

// =============================================================================
// 🧠 记忆子系统指标（memory.MetricsRecorder）
// =============================================================================

// RecordLookup 记录一次知识库或记忆检索
func (c *Collector) RecordLookup(source string, hit bool, confidence float64) {
	result := "miss"
	if hit {
		result = "hit"
		c.lookupConfidence.WithLabelValues(source).Observe(confidence)
	}
	c.lookupsTotal.WithLabelValues(source, result).Inc()
}

// RecordLearn 记录一次学习
func (c *Collector) RecordLearn(category string, successful bool) {
	outcome := "failure"
	if successful {
		outcome = "success"
	}
	c.learnTotal.WithLabelValues(category, outcome).Inc()
}

// RecordConsolidation 记录一次整合周期
func (c *Collector) RecordConsolidation(status string, duration time.Duration, promoted, pruned int) {
	c.consolidationsTotal.WithLabelValues(status).Inc()
	c.consolidationDuration.Observe(duration.Seconds())
	c.promotedTotal.Add(float64(promoted))
	c.prunedTotal.Add(float64(pruned))
}

// SetTierSizes 更新各层记忆数量
func (c *Collector) SetTierSizes(shortTerm, longTerm int) {
	c.tierSize.WithLabelValues("short_term").Set(float64(shortTerm))
	c.tierSize.WithLabelValues("long_term").Set(float64(longTerm))
}

// SetKnowledgeItems 更新知识条目数
func (c *Collector) SetKnowledgeItems(n int) {
	c.knowledgeItems.Set(float64(n))
}

// =============================================================================
// 🗄️ 存储指标记录
// =============================================================================

// ObserveStoreOperation 记录一次存储调用（persistence.OperationObserver）
func (c *Collector) ObserveStoreOperation(operation, collection string, err error, duration time.Duration) {
	c.storeOperations.WithLabelValues(operation, collection, storeStatus(err)).Inc()
	c.storeOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordDBConnections 记录数据库连接池状态
func (c *Collector) RecordDBConnections(stats database.PoolStats) {
	c.dbConnectionsOpen.Set(float64(stats.OpenConnections))
	c.dbConnectionsInUse.Set(float64(stats.InUse))
	c.dbConnectionsIdle.Set(float64(stats.Idle))
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

// storeStatus 将存储错误归类；未找到不算失败
func storeStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, persistence.ErrNotFound):
		return "not_found"
	case errors.Is(err, persistence.ErrStoreClosed), errors.Is(err, persistence.ErrStorageUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
