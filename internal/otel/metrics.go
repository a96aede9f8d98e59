package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds the instruments the task store records into.
type Metrics struct {
	ClaimAttempts  metric.Int64Counter
	ClaimConflicts metric.Int64Counter
	BusyRetries    metric.Int64Counter
	LogEntries     metric.Int64Counter
	SelectDuration metric.Float64Histogram
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.ClaimAttempts, err = meter.Int64Counter("tc.claim.attempts",
		metric.WithDescription("Claim attempts, successful or not"),
	)
	if err != nil {
		return nil, err
	}

	m.ClaimConflicts, err = meter.Int64Counter("tc.claim.conflicts",
		metric.WithDescription("Claims rejected because another agent won or the task was not pending"),
	)
	if err != nil {
		return nil, err
	}

	m.BusyRetries, err = meter.Int64Counter("tc.store.busy_retries",
		metric.WithDescription("Write transactions retried after SQLITE_BUSY"),
	)
	if err != nil {
		return nil, err
	}

	m.LogEntries, err = meter.Int64Counter("tc.activity.entries",
		metric.WithDescription("Activity log entries written"),
	)
	if err != nil {
		return nil, err
	}

	m.SelectDuration, err = meter.Float64Histogram("tc.next.duration",
		metric.WithDescription("Eligible task selection latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
