package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// EventsRouted 路由结果计数，outcome = delivered_live | queued
	EventsRouted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_events_routed_total",
			Help: "Number of routed events by per-recipient outcome.",
		},
		[]string{"outcome"},
	)

	// QueueEvictions 离线队列容量淘汰计数
	// 淘汰是静默的有损行为，只在这里可观测，不会作为错误上抛
	QueueEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_queue_evictions_total",
			Help: "Number of queued events dropped due to per-user capacity limits.",
		},
	)

	// BacklogDrained 重连补投的事件计数
	BacklogDrained = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_backlog_drained_total",
			Help: "Number of queued events delivered on reconnect.",
		},
	)

	// ActiveConnections 本节点活跃连接数
	ActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_active_connections",
			Help: "Number of live websocket connections on this node.",
		},
	)

	// CallsTotal 通话计数，result 为终态原因
	CallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_calls_total",
			Help: "Number of terminated call sessions by end reason.",
		},
		[]string{"reason"},
	)

	// ActiveCalls 进行中的通话会话数
	ActiveCalls = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_active_calls",
			Help: "Number of call sessions not yet terminated.",
		},
	)
)

// Register 注册全部指标，由 main 在启动时调用一次
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		EventsRouted,
		QueueEvictions,
		BacklogDrained,
		ActiveConnections,
		CallsTotal,
		ActiveCalls,
	)
}
