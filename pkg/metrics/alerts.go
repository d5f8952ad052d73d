package metrics

import "github.com/prometheus/client_golang/prometheus"

// AlertMetrics counts operational alerts by severity.
type AlertMetrics struct {
	raised *prometheus.CounterVec
}

func NewAlertMetrics(reg prometheus.Registerer) *AlertMetrics {
	if reg == nil {
		return &AlertMetrics{}
	}
	raised := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oakline_alerts_raised_total",
		Help: "Operational alerts raised, by severity.",
	}, []string{"severity"})
	reg.MustRegister(raised)
	return &AlertMetrics{raised: raised}
}

func (m *AlertMetrics) Inc(severity string) {
	if m == nil || m.raised == nil {
		return
	}
	m.raised.WithLabelValues(normalizeLabel(severity)).Inc()
}
