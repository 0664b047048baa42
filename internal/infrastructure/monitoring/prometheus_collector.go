package monitoring

import (
	"time"

	"roomrelay/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector implements ports.RoomMetrics.
type PrometheusCollector struct {
	// Gauges
	roomsActive       prometheus.Gauge
	connectionsActive prometheus.Gauge
	participants      *prometheus.GaugeVec

	// Counters
	joinsTotal       prometheus.Counter
	rejectionsTotal  *prometheus.CounterVec
	signalsTotal     *prometheus.CounterVec
	droppedTotal     prometheus.Counter
	failoversTotal   prometheus.Counter
	chatMessageTotal prometheus.Counter

	// Histograms
	messageDuration *prometheus.HistogramVec
}

// NewPrometheusCollector registers the room metrics with reg. A nil reg
// uses the default registerer.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		roomsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "roomrelay_rooms_active",
			Help: "Number of rooms with at least one member",
		}),

		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "roomrelay_connections_active",
			Help: "Number of live signaling connections",
		}),

		participants: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "roomrelay_participants",
			Help: "Number of room members by role",
		}, []string{"role"}),

		joinsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "roomrelay_joins_total",
			Help: "Total number of successful room joins",
		}),

		rejectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roomrelay_rejections_total",
			Help: "Total number of requests rejected, by error code",
		}, []string{"code"}),

		signalsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roomrelay_signals_relayed_total",
			Help: "Total number of relayed signaling payloads, by kind",
		}, []string{"kind"}),

		droppedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "roomrelay_deliveries_dropped_total",
			Help: "Total number of messages dropped because a send buffer was full",
		}),

		failoversTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "roomrelay_host_failovers_total",
			Help: "Total number of host failovers",
		}),

		chatMessageTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "roomrelay_chat_messages_total",
			Help: "Total number of chat messages posted",
		}),

		messageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "roomrelay_message_handling_duration_seconds",
			Help:    "Time spent handling one inbound signaling message",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}, []string{"type"}),
	}
}

func (p *PrometheusCollector) IncJoins() {
	p.joinsTotal.Inc()
}

func (p *PrometheusCollector) IncRejections(code string) {
	p.rejectionsTotal.WithLabelValues(code).Inc()
}

func (p *PrometheusCollector) IncSignals(kind string) {
	p.signalsTotal.WithLabelValues(kind).Inc()
}

func (p *PrometheusCollector) IncDroppedDeliveries() {
	p.droppedTotal.Inc()
}

func (p *PrometheusCollector) IncFailovers() {
	p.failoversTotal.Inc()
}

func (p *PrometheusCollector) IncMessages() {
	p.chatMessageTotal.Inc()
}

func (p *PrometheusCollector) SetActiveRooms(n int) {
	p.roomsActive.Set(float64(n))
}

func (p *PrometheusCollector) SetParticipants(role domain.Role, n int) {
	p.participants.WithLabelValues(string(role)).Set(float64(n))
}

func (p *PrometheusCollector) SetActiveConnections(n int) {
	p.connectionsActive.Set(float64(n))
}

func (p *PrometheusCollector) ObserveMessage(messageType string, d time.Duration) {
	p.messageDuration.WithLabelValues(messageType).Observe(d.Seconds())
}
