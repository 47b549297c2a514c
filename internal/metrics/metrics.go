// Package metrics — счётчики Prometheus для сделок, шлюза и фоновых задач.
// Все методы безопасны для nil-получателя: сервисы в тестах работают без метрик.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты для меток result.
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultRejects = "rejected"
)

// Metrics — набор коллекторов бота.
type Metrics struct {
	transitions      *prometheus.CounterVec
	gatewayCalls     *prometheus.CounterVec
	gatewayDuration  *prometheus.HistogramVec
	transferFallback *prometheus.CounterVec

	jobDuration *prometheus.HistogramVec
	jobSuccess  *prometheus.CounterVec
	jobFailure  *prometheus.CounterVec
}

// New регистрирует коллекторы в reg. С nil возвращает пустой набор.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return &Metrics{}
	}
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deal_transitions_total",
			Help: "Попытки переходов сделок по действию и результату.",
		}, []string{"action", "result"}),
		gatewayCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_calls_total",
			Help: "Вызовы платёжного шлюза.",
		}, []string{"op", "result"}),
		gatewayDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_call_duration_seconds",
			Help:    "Длительность вызовов платёжного шлюза.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		transferFallback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transfer_fallbacks_total",
			Help: "Переводы, ушедшие на внутренний баланс.",
		}, []string{"kind", "reason"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "job_duration_seconds",
			Help:    "Duration of cron jobs in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
		jobSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "job_success",
			Help: "Successful cron job executions.",
		}, []string{"job"}),
		jobFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "job_failure",
			Help: "Failed cron job executions.",
		}, []string{"job"}),
	}
	reg.MustRegister(
		m.transitions, m.gatewayCalls, m.gatewayDuration, m.transferFallback,
		m.jobDuration, m.jobSuccess, m.jobFailure,
	)
	return m
}

// Transition учитывает попытку перехода сделки.
func (m *Metrics) Transition(action, result string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(action), normalizeLabel(result)).Inc()
}

// GatewayCall учитывает вызов шлюза и его длительность.
func (m *Metrics) GatewayCall(op string, err error, duration time.Duration) {
	if m == nil || m.gatewayCalls == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	m.gatewayCalls.WithLabelValues(normalizeLabel(op), result).Inc()
	m.gatewayDuration.WithLabelValues(normalizeLabel(op)).Observe(duration.Seconds())
}

// Fallback учитывает перевод на внутренний баланс.
func (m *Metrics) Fallback(kind, reason string) {
	if m == nil || m.transferFallback == nil {
		return
	}
	m.transferFallback.WithLabelValues(normalizeLabel(kind), normalizeLabel(reason)).Inc()
}

// ObserveJob записывает длительность и результат фоновой задачи.
func (m *Metrics) ObserveJob(job string, duration time.Duration, err error) {
	if m == nil || m.jobDuration == nil {
		return
	}
	job = normalizeLabel(job)
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
	if err != nil {
		m.jobFailure.WithLabelValues(job).Inc()
		return
	}
	m.jobSuccess.WithLabelValues(job).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
