package live

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	subscriptions prometheus.Gauge
	fetches       *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "auctionhouse",
			Subsystem: "live",
			Name:      "subscriptions",
			Help:      "Live auction subscriptions currently started.",
		}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auctionhouse",
			Subsystem: "live",
			Name:      "snapshot_fetches_total",
			Help:      "Snapshot reads, by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.subscriptions, m.fetches)
	}
	return m
}

func (m *metrics) fetched(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.fetches.WithLabelValues(result).Inc()
}
