package preferences

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	errorCounter  metric.Int64Counter
	changeCounter metric.Int64Counter
)

// InitMetrics registers the preference instruments. Call it after
// observability.InitMetrics so they bind to the configured provider.
func InitMetrics() error {
	meter := otel.Meter("preferences")

	var err error

	errorCounter, err = meter.Int64Counter("preferences.errors.total",
		metric.WithDescription("Total number of failed preference operations"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return fmt.Errorf("creating error counter: %w", err)
	}

	changeCounter, err = meter.Int64Counter("preferences.theme.changes.total",
		metric.WithDescription("Total number of theme changes and resets"),
		metric.WithUnit("{change}"),
	)
	if err != nil {
		return fmt.Errorf("creating change counter: %w", err)
	}

	return nil
}
