package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	sizeBuckets = prometheus.ExponentialBuckets(100, 10, 8)
	// 运行时长从秒级回显到半小时的工具调用链
	runBuckets = []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800}
)

// Collector 持有 streamgate 的全部 Prometheus 指标，实现 stream.Metrics
type Collector struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	admissionsTotal  *prometheus.CounterVec
	preemptionsTotal *prometheus.CounterVec
	reclaimsTotal    prometheus.Counter
	runsTotal        *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
	heartbeatsTotal  *prometheus.CounterVec
	flushedTurns     *prometheus.CounterVec

	retriesTotal *prometheus.CounterVec

	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec
}

// NewCollector 在默认 registry 上注册指标。同一 namespace 只能注册一次。
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWith(prometheus.DefaultRegisterer, namespace, logger)
}

// NewCollectorWith 在 reg 上注册指标
func NewCollectorWith(reg prometheus.Registerer, namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := promauto.With(reg)

	counter := func(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
		}, labels)
	}
	histogram := func(subsystem, name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
		return f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: subsystem, Name: name, Help: help, Buckets: buckets,
		}, labels)
	}
	gauge := func(name, help string, labels ...string) *prometheus.GaugeVec {
		return f.NewGaugeVec(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help}, labels)
	}

	c := &Collector{
		httpRequestsTotal: counter("", "http_requests_total",
			"Total number of HTTP requests", "method", "path", "status"),
		httpRequestDuration: histogram("", "http_request_duration_seconds",
			"HTTP request duration in seconds", prometheus.DefBuckets, "method", "path"),
		httpRequestSize: histogram("", "http_request_size_bytes",
			"HTTP request size in bytes", sizeBuckets, "method", "path"),
		httpResponseSize: histogram("", "http_response_size_bytes",
			"HTTP response size in bytes", sizeBuckets, "method", "path"),

		admissionsTotal: counter("stream", "admissions_total",
			"Total number of stream admissions by result", "result"),
		preemptionsTotal: counter("stream", "preemptions_total",
			"Total number of abort requests sent to a running stream", "delivered"),
		reclaimsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "stream", Name: "reclaims_total",
			Help: "Total number of liveness records force-cleared after the wait budget",
		}),
		runsTotal: counter("stream", "runs_total",
			"Total number of terminated runs by outcome", "outcome"),
		runDuration: histogram("stream", "run_duration_seconds",
			"Run duration in seconds", runBuckets, "outcome"),
		heartbeatsTotal: counter("stream", "heartbeats_total",
			"Total number of liveness refreshes by result", "result"),
		flushedTurns: counter("stream", "flushed_turns_total",
			"Total number of turns persisted on a terminal path", "path"),

		retriesTotal: counter("", "retries_total",
			"Total number of backoff retries by operation", "operation"),

		dbConnectionsOpen: gauge("db_connections_open", "Number of open database connections", "database"),
		dbConnectionsIdle: gauge("db_connections_idle", "Number of idle database connections", "database"),
	}

	logger.Info("metrics collector initialized",
		zap.String("component", "metrics"),
		zap.String("namespace", namespace),
	)
	return c
}

// RecordHTTPRequest 记录一次 HTTP 请求，状态码按 2xx/3xx/4xx/5xx 归类
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusClass(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// RecordAdmission result: admitted, timeout, error
func (c *Collector) RecordAdmission(result string) {
	c.admissionsTotal.WithLabelValues(result).Inc()
}

// RecordPreemption delivered 表示中止信号是否送达本进程内的运行
func (c *Collector) RecordPreemption(delivered bool) {
	c.preemptionsTotal.WithLabelValues(strconv.FormatBool(delivered)).Inc()
}

func (c *Collector) RecordReclaim() {
	c.reclaimsTotal.Inc()
}

func (c *Collector) RecordHeartbeat(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	c.heartbeatsTotal.WithLabelValues(result).Inc()
}

func (c *Collector) RecordRun(outcome string, d time.Duration) {
	c.runsTotal.WithLabelValues(outcome).Inc()
	c.runDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordFlushedTurns path: completed, aborted, error
func (c *Collector) RecordFlushedTurns(path string, n int) {
	c.flushedTurns.WithLabelValues(path).Add(float64(n))
}

func (c *Collector) RecordRetry(operation string) {
	c.retriesTotal.WithLabelValues(operation).Inc()
}

// RecordDBConnections 由连接池探活回调写入
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

func statusClass(code int) string {
	if code < 200 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}
