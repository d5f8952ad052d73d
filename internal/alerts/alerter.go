package alerts

import (
	"context"
	"errors"

	"github.com/angelmondragon/oakline-backend/pkg/logger"
	"github.com/angelmondragon/oakline-backend/pkg/metrics"
)

type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Alerter raises operational alerts that need a human to look at them.
type Alerter interface {
	Raise(ctx context.Context, severity Severity, title string, fields map[string]any)
}

type logAlerter struct {
	logg    *logger.Logger
	metrics *metrics.AlertMetrics
}

// New returns an Alerter that writes alerts to the structured log with
// alert=true and counts them by severity.
func New(logg *logger.Logger, m *metrics.AlertMetrics) Alerter {
	return &logAlerter{logg: logg, metrics: m}
}

func (a *logAlerter) Raise(ctx context.Context, severity Severity, title string, fields map[string]any) {
	merged := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		merged[k] = v
	}
	merged["alert"] = true
	merged["severity"] = string(severity)
	logCtx := a.logg.WithFields(ctx, merged)

	switch severity {
	case SeverityCritical:
		a.logg.Error(logCtx, title, errors.New(title))
	case SeverityWarning:
		a.logg.Warn(logCtx, title)
	default:
		a.logg.Info(logCtx, title)
	}
	a.metrics.Inc(string(severity))
}
