package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestInventoryMetricsCountsUnitsOnlyOnSuccess(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewInventoryMetrics(reg)
	m.Observe("reserve", "ok", 3)
	m.Observe("reserve", "insufficient_stock", 5)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "oakline_inventory_units_total", "operation", "reserve"); err != nil {
		t.Fatalf("fetch units: %v", err)
	} else if got != 3 {
		t.Fatalf("expected 3 units, got %f", got)
	}
	if got, err := fetchCounterValue(mfs, "oakline_inventory_operations_total", "result", "insufficient_stock"); err != nil {
		t.Fatalf("fetch operations: %v", err)
	} else if got != 1 {
		t.Fatalf("expected 1 failed op, got %f", got)
	}
}

func TestWebhookAndAlertMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewWebhookMetrics(reg).Observe("checkout.session.completed", "duplicate")
	NewAlertMetrics(reg).Inc("CRITICAL")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "oakline_webhook_events_total", "outcome", "duplicate"); err != nil || got != 1 {
		t.Fatalf("unexpected webhook counter %f err=%v", got, err)
	}
	if got, err := fetchCounterValue(mfs, "oakline_alerts_raised_total", "severity", "CRITICAL"); err != nil || got != 1 {
		t.Fatalf("unexpected alert counter %f err=%v", got, err)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var inv *InventoryMetrics
	inv.Observe("reserve", "ok", 1)
	var hook *WebhookMetrics
	hook.Observe("x", "y")
	NewAlertMetrics(nil).Inc("INFO")
	var out *OutboxMetrics
	out.Observe("order.paid", OutboxPublished)
	var cron *CronMetrics
	cron.ObserveRun("order-expiry", time.Second, nil)
	NewCronMetrics(nil).ObserveCycle(CronCycleLed)
}

func TestOutboxMetricsCountsResults(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOutboxMetrics(reg)
	m.Observe("order.paid", OutboxPublished)
	m.Observe("order.paid", OutboxPublished)
	m.Observe("order.paid", OutboxDeadLettered)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "oakline_outbox_events_total", "result", OutboxPublished); err != nil || got != 2 {
		t.Fatalf("unexpected published counter %f err=%v", got, err)
	}
}
