package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BusinessMetrics 定义业务监控指标
type BusinessMetrics struct {
	IntentCreatedTotal    *prometheus.CounterVec
	TransferDetectedTotal *prometheus.CounterVec
	SettlementTotal       *prometheus.CounterVec
	AdaptersRunning       *prometheus.GaugeVec
	AdapterHealthy        *prometheus.GaugeVec
	OutboxRelayedTotal    *prometheus.CounterVec
}

// Global Metrics Instance, 未初始化时下面的记录函数为空操作
var Business *BusinessMetrics

// InitBusinessMetrics 初始化业务指标
func InitBusinessMetrics() {
	Business = &BusinessMetrics{
		IntentCreatedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_intent_created_total",
			Help: "The total number of payment intents created",
		}, []string{"network"}),
		TransferDetectedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_transfer_detected_total",
			Help: "Transfers reported by chain adapters",
		}, []string{"network", "asset"}),
		SettlementTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_settlement_total",
			Help: "Settlement outcomes (settled, duplicate, already_settled, unmatched)",
		}, []string{"network", "outcome"}),
		AdaptersRunning: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "payment_adapters_running",
			Help: "Live chain watches per network",
		}, []string{"network"}),
		AdapterHealthy: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "payment_adapter_healthy",
			Help: "1 when every watch of the network is healthy",
		}, []string{"network"}),
		OutboxRelayedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_outbox_relayed_total",
			Help: "Outbox messages relayed to the MQ",
		}, []string{"topic", "result"}),
	}
}

func IntentCreated(network string) {
	if Business != nil {
		Business.IntentCreatedTotal.WithLabelValues(network).Inc()
	}
}

func TransferDetected(network, asset string) {
	if Business != nil {
		Business.TransferDetectedTotal.WithLabelValues(network, asset).Inc()
	}
}

func Settlement(network, outcome string) {
	if Business != nil {
		Business.SettlementTotal.WithLabelValues(network, outcome).Inc()
	}
}

// AdapterSnapshot 每次 reconcile 后刷新
func AdapterSnapshot(network string, running int, healthy bool) {
	if Business == nil {
		return
	}
	Business.AdaptersRunning.WithLabelValues(network).Set(float64(running))
	v := 0.0
	if healthy {
		v = 1
	}
	Business.AdapterHealthy.WithLabelValues(network).Set(v)
}

func OutboxRelayed(topic string, ok bool) {
	if Business == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	Business.OutboxRelayedTotal.WithLabelValues(topic, result).Inc()
}
