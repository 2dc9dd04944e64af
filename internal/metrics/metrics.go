package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the game collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	Rounds            prometheus.Counter
	Stakes            *prometheus.CounterVec
	CashOuts          *prometheus.CounterVec
	Losses            prometheus.Counter
	CrashMultiplier   prometheus.Histogram
	Clients           prometheus.Gauge
	DroppedBroadcasts prometheus.Counter
	DroppedAudit      prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Rounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "crash",
			Name:      "rounds_total",
			Help:      "Rounds that reached their crash.",
		}),
		Stakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crash",
			Name:      "stakes_total",
			Help:      "Stake requests by result.",
		}, []string{"result"}),
		CashOuts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crash",
			Name:      "cashouts_total",
			Help:      "Cash-out requests by result.",
		}, []string{"result"}),
		Losses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "crash",
			Name:      "lost_stakes_total",
			Help:      "Stakes still live when their round crashed.",
		}),
		CrashMultiplier: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "crash",
			Name:      "crash_multiplier",
			Help:      "Crash points drawn.",
			Buckets:   []float64{1.5, 2, 3, 4, 5, 6, 7, 8, 9, 10},
		}),
		Clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "crash",
			Name:      "ws_clients",
			Help:      "Connected websocket clients.",
		}),
		DroppedBroadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "crash",
			Name:      "dropped_broadcasts_total",
			Help:      "Broadcasts dropped because the hub queue was full.",
		}),
		DroppedAudit: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "crash",
			Name:      "dropped_audit_events_total",
			Help:      "Audit events dropped because the dispatcher buffer was full.",
		}),
	}
	reg.MustRegister(
		m.Rounds, m.Stakes, m.CashOuts, m.Losses,
		m.CrashMultiplier, m.Clients, m.DroppedBroadcasts, m.DroppedAudit,
	)
	return m
}

func (m *Metrics) StakeResult(result string) {
	if m == nil {
		return
	}
	m.Stakes.WithLabelValues(result).Inc()
}

func (m *Metrics) CashOutResult(result string) {
	if m == nil {
		return
	}
	m.CashOuts.WithLabelValues(result).Inc()
}

func (m *Metrics) RoundCrashed(crash float64, lost int) {
	if m == nil {
		return
	}
	m.Rounds.Inc()
	m.CrashMultiplier.Observe(crash)
	m.Losses.Add(float64(lost))
}

func (m *Metrics) ClientConnected() {
	if m == nil {
		return
	}
	m.Clients.Inc()
}

func (m *Metrics) ClientDisconnected() {
	if m == nil {
		return
	}
	m.Clients.Dec()
}

func (m *Metrics) BroadcastDropped() {
	if m == nil {
		return
	}
	m.DroppedBroadcasts.Inc()
}

func (m *Metrics) AuditDropped() {
	if m == nil {
		return
	}
	m.DroppedAudit.Inc()
}
