package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry 创建自定义 Prometheus Registry，并注册常用采集器
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler 返回 Prometheus 指标 HTTP 处理器
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// AppMetrics 自定义业务指标
type AppMetrics struct {
	TCPAccepted      prometheus.Counter
	TCPBytesReceived prometheus.Counter
	ReadingsTotal    *prometheus.CounterVec // labels: source=push|pull
	AlertsTotal      prometheus.Counter
	SessionsActive   prometheus.Gauge
	BoardsKnown      prometheus.Gauge
	CronOpsTotal     *prometheus.CounterVec // labels: op, result
	LiveDroppedTotal prometheus.Counter
}

// NewAppMetrics 注册并返回业务指标
func NewAppMetrics(reg *prometheus.Registry) *AppMetrics {
	m := &AppMetrics{
		TCPAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tcp_accept_total",
			Help: "Total accepted board connections.",
		}),
		TCPBytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tcp_bytes_received_total",
			Help: "Total bytes received from boards.",
		}),
		ReadingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "readings_total",
			Help: "Sensor readings processed, by source.",
		}, []string{"source"}),
		AlertsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alerts_total",
			Help: "Threshold alerts emitted.",
		}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sessions_active",
			Help: "Currently active collection sessions.",
		}),
		BoardsKnown: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "boards_known",
			Help: "Boards currently known to the registry.",
		}),
		CronOpsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cron_ops_total",
			Help: "Crontab reconciliation operations, by op and result.",
		}, []string{"op", "result"}),
		LiveDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "live_dropped_total",
			Help: "Live updates dropped because no subscriber was connected.",
		}),
	}
	reg.MustRegister(m.TCPAccepted, m.TCPBytesReceived, m.ReadingsTotal, m.AlertsTotal,
		m.SessionsActive, m.BoardsKnown, m.CronOpsTotal, m.LiveDroppedTotal)
	return m
}
