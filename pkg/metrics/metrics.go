package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 里程碑状态迁移计数
	MilestoneTransitionCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "milestone_transition_count",
			Help: "Total number of milestone transition attempts",
		},
		[]string{"action", "result"}, // result: accepted, rejected
	)

	// 过期扫描计数
	MilestoneExpiredCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "milestone_expired_count",
			Help: "Total number of milestones forced to EXPIRED by the read-time sweep",
		},
	)

	// 已释放金额
	TrancheReleasedAmount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tranche_released_amount_total",
			Help: "Sum of tranche amounts flagged as released",
		},
	)

	// Judge 调用延迟（毫秒）
	JudgeCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "judge_call_latency_ms",
			Help:    "Condition judge backend call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(100, 2, 10), // 100ms to ~100s
		},
		[]string{"status"},
	)

	// Judge 结果计数
	JudgeVerdictCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "judge_verdict_count",
			Help: "Total number of advisory verdicts returned",
		},
		[]string{"source", "verified"}, // source: backend, cache, stub, degraded, no_image
	)

	// 熔断器状态：0 closed, 1 open, 2 half_open
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current circuit breaker state per backend",
		},
		[]string{"breaker"},
	)

	// 数据库查询延迟（秒）
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation", "table"},
	)

	// 慢查询计数
	SlowQueryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_slow_query_count",
			Help: "Total number of queries slower than the configured threshold",
		},
		[]string{"statement"},
	)

	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)

	// 事件发布计数
	EventPublishedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_published_count",
			Help: "Total number of milestone events published to MQ",
		},
		[]string{"routing_key", "status"}, // status: success, failed
	)

	// 事件消费计数
	EventConsumedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_consumed_count",
			Help: "Total number of milestone events consumed",
		},
		[]string{"routing_key"},
	)
)

// RecordTransition 记录一次状态迁移尝试
func RecordTransition(action string, accepted bool) {
	result := "rejected"
	if accepted {
		result = "accepted"
	}
	MilestoneTransitionCount.WithLabelValues(action, result).Inc()
}

// IncrementExpired 增加过期计数
func IncrementExpired(n int) {
	MilestoneExpiredCount.Add(float64(n))
}

// AddReleasedAmount 累加释放金额
func AddReleasedAmount(amount float64) {
	TrancheReleasedAmount.Add(amount)
}

// RecordJudgeCallLatency 记录 judge 调用延迟
func RecordJudgeCallLatency(status string, duration time.Duration) {
	JudgeCallLatency.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

// IncrementJudgeVerdict 记录 judge 结果
func IncrementJudgeVerdict(source string, verified bool) {
	v := "false"
	if verified {
		v = "true"
	}
	JudgeVerdictCount.WithLabelValues(source, v).Inc()
}

// SetCircuitState 记录熔断器状态
func SetCircuitState(breaker string, state int) {
	CircuitBreakerState.WithLabelValues(breaker).Set(float64(state))
}

// RecordDBQueryDuration 记录数据库查询延迟
func RecordDBQueryDuration(operation, table string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// IncrementSlowQuery 记录慢查询
func IncrementSlowQuery(statement string, duration time.Duration) {
	SlowQueryCount.WithLabelValues(statement).Inc()
	DBQueryDuration.WithLabelValues("slow", "unknown").Observe(duration.Seconds())
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// IncrementEventPublished 记录事件发布
func IncrementEventPublished(routingKey string, ok bool) {
	status := "failed"
	if ok {
		status = "success"
	}
	EventPublishedCount.WithLabelValues(routingKey, status).Inc()
}

// IncrementEventConsumed 记录事件消费
func IncrementEventConsumed(routingKey string) {
	EventConsumedCount.WithLabelValues(routingKey).Inc()
}
