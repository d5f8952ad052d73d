package metrics

import "github.com/prometheus/client_golang/prometheus"

// InventoryMetrics counts stock operations by outcome.
type InventoryMetrics struct {
	operations *prometheus.CounterVec
	units      *prometheus.CounterVec
}

func NewInventoryMetrics(reg prometheus.Registerer) *InventoryMetrics {
	if reg == nil {
		return &InventoryMetrics{}
	}
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oakline_inventory_operations_total",
		Help: "Inventory service calls partitioned by operation and result.",
	}, []string{"operation", "result"})
	units := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oakline_inventory_units_total",
		Help: "Units moved by committed inventory operations.",
	}, []string{"operation"})
	reg.MustRegister(operations, units)
	return &InventoryMetrics{operations: operations, units: units}
}

// Observe records one call. result is "ok", "insufficient_stock" or "error".
func (m *InventoryMetrics) Observe(operation, result string, units int) {
	if m == nil || m.operations == nil {
		return
	}
	m.operations.WithLabelValues(normalizeLabel(operation), normalizeLabel(result)).Inc()
	if result == "ok" && units > 0 {
		m.units.WithLabelValues(normalizeLabel(operation)).Add(float64(units))
	}
}
