// =============================================================================
// 文件: internal/metrics/proxy.go
// 描述: 代理运行指标 - 连接计数、中继流量、上游尝试与进程重启
// =============================================================================
package metrics

import "github.com/prometheus/client_golang/prometheus"

// ProxyMetrics 代理运行指标
type ProxyMetrics struct {
	activeConnections prometheus.Gauge
	totalConnections  prometheus.Counter

	bytesSent     prometheus.Counter
	bytesReceived prometheus.Counter

	upstreamAttempts   *prometheus.CounterVec
	supervisorRestarts *prometheus.CounterVec

	tlsHandshakeFailures prometheus.Counter
}

// NewProxyMetrics 创建并注册代理指标
func NewProxyMetrics(reg *prometheus.Registry) *ProxyMetrics {
	m := &ProxyMetrics{
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "specter",
			Name:      "active_connections",
			Help:      "当前活跃的客户端连接数",
		}),
		totalConnections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "specter",
			Name:      "connections_total",
			Help:      "接受过的客户端连接总数",
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "specter",
			Name:      "relay_bytes_sent_total",
			Help:      "客户端到上游方向中继的字节数",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "specter",
			Name:      "relay_bytes_received_total",
			Help:      "上游到客户端方向中继的字节数",
		}),
		upstreamAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "specter",
			Name:      "upstream_attempts_total",
			Help:      "按上游与结果统计的连接尝试",
		}, []string{"upstream", "result"}),
		supervisorRestarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "specter",
			Name:      "supervisor_restarts_total",
			Help:      "按原因统计的辅助进程重启次数",
		}, []string{"process", "reason"}),
		tlsHandshakeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "specter",
			Name:      "tls_handshake_failures_total",
			Help:      "监听端 TLS 握手失败次数",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.activeConnections,
			m.totalConnections,
			m.bytesSent,
			m.bytesReceived,
			m.upstreamAttempts,
			m.supervisorRestarts,
			m.tlsHandshakeFailures,
		)
	}
	return m
}

// ConnOpened 记录新连接
func (m *ProxyMetrics) ConnOpened() {
	m.activeConnections.Inc()
	m.totalConnections.Inc()
}

// ConnClosed 记录连接关闭
func (m *ProxyMetrics) ConnClosed() {
	m.activeConnections.Dec()
}

// AddRelayBytes 记录一次中继的双向字节数
func (m *ProxyMetrics) AddRelayBytes(sent, received int64) {
	if sent > 0 {
		m.bytesSent.Add(float64(sent))
	}
	if received > 0 {
		m.bytesReceived.Add(float64(received))
	}
}

// ObserveUpstreamAttempt 记录一次上游连接尝试
func (m *ProxyMetrics) ObserveUpstreamAttempt(upstream string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	m.upstreamAttempts.WithLabelValues(upstream, result).Inc()
}

// ObserveSupervisorRestart 记录一次辅助进程重启
// reason 取 crash 或 health
func (m *ProxyMetrics) ObserveSupervisorRestart(process, reason string) {
	m.supervisorRestarts.WithLabelValues(process, reason).Inc()
}

// ObserveTLSHandshakeFailure 记录一次 TLS 握手失败
func (m *ProxyMetrics) ObserveTLSHandshakeFailure() {
	m.tlsHandshakeFailures.Inc()
}
