package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: полное время диалога, включая консультации и upstream
	ConversationDuration *prometheus.HistogramVec

	// Traffic: общее кол-во диалогов
	ConversationsTotal *prometheus.CounterVec

	// Errors: классификация отказов
	ErrorTotal *prometheus.CounterVec

	// Сколько решений ушло на ручную подпись и чем закончилось
	EscalationsTotal *prometheus.CounterVec

	// Saturation: состояние квотного предохранителя (0 - ок, 1 - квота исчерпана)
	QuotaExhausted prometheus.Gauge

	// Journal: заполненность буфера (backpressure)
	JournalBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		ConversationDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "decisiond_conversation_duration_seconds",
			Help:    "Histogram of end-to-end conversation latencies.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"agent_role", "status"}),

		ConversationsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "decisiond_conversations_total",
			Help: "Total number of processed conversations.",
		}, []string{"agent_role", "request_type"}),

		ErrorTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "decisiond_errors_total",
			Help: "Total number of errors by type.",
		}, []string{"type"}), // типы: unknown_agent, quota, upstream, transition

		EscalationsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "decisiond_escalations_total",
			Help: "Total number of human approval escalations by outcome.",
		}, []string{"outcome"}), // pending, approved, rejected, expired

		QuotaExhausted: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "decisiond_quota_exhausted",
			Help: "Whether the reasoning backend quota is exhausted (0=available, 1=exhausted).",
		}),

		JournalBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "decisiond_journal_buffer_utilization",
			Help: "Current number of events in the decision journal buffer.",
		}),
	}
}
