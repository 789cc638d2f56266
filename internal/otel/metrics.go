package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all nudged metrics instruments.
type Metrics struct {
	RemindersSent       metric.Int64Counter
	RemindersSuppressed metric.Int64Counter
	RemindersPaused     metric.Int64Counter
	ActiveSessions      metric.Int64UpDownCounter
	EvalDuration        metric.Float64Histogram
	HostReconnects      metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.RemindersSent, err = meter.Int64Counter("nudge.reminders.sent",
		metric.WithDescription("Continuation prompts injected"),
	)
	if err != nil {
		return nil, err
	}

	m.RemindersSuppressed, err = meter.Int64Counter("nudge.reminders.suppressed",
		metric.WithDescription("Evaluation cycles that produced no reminder, by reason"),
	)
	if err != nil {
		return nil, err
	}

	m.RemindersPaused, err = meter.Int64Counter("nudge.reminders.paused",
		metric.WithDescription("Sessions paused by loop protection"),
	)
	if err != nil {
		return nil, err
	}

	m.ActiveSessions, err = meter.Int64UpDownCounter("nudge.sessions.active",
		metric.WithDescription("Sessions with tracked reminder state"),
	)
	if err != nil {
		return nil, err
	}

	m.EvalDuration, err = meter.Float64Histogram("nudge.eval.duration",
		metric.WithDescription("Delayed evaluation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.HostReconnects, err = meter.Int64Counter("nudge.host.reconnects",
		metric.WithDescription("Reconnections to the agent host event stream"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
