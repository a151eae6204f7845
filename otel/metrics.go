package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/waveline-labs/chatflow/sim"
)

// MetricsHandler turns simulator events into metrics: counters for
// emitted messages and rejected inputs, histograms for session duration
// and steps.
type MetricsHandler struct {
	messagesEmitted metric.Int64Counter
	inputsRejected  metric.Int64Counter
	sessionDuration metric.Float64Histogram
	sessionSteps    metric.Int64Histogram
}

// NewMetricsHandler creates a MetricsHandler with instruments from the
// given meter.
func NewMetricsHandler(meter metric.Meter) (*MetricsHandler, error) {
	messages, err := meter.Int64Counter("chatflow.messages.emitted",
		metric.WithDescription("Number of bot messages emitted by simulations"),
	)
	if err != nil {
		return nil, err
	}

	rejected, err := meter.Int64Counter("chatflow.inputs.rejected",
		metric.WithDescription("Number of user answers rejected by validation"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram("chatflow.session.duration",
		metric.WithDescription("Duration of a simulation session in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	steps, err := meter.Int64Histogram("chatflow.session.steps",
		metric.WithDescription("Nodes entered per simulation session"),
	)
	if err != nil {
		return nil, err
	}

	return &MetricsHandler{
		messagesEmitted: messages,
		inputsRejected:  rejected,
		sessionDuration: duration,
		sessionSteps:    steps,
	}, nil
}

// Handle processes a simulator event and records the matching metrics.
func (h *MetricsHandler) Handle(e sim.Event) {
	switch e.Kind {
	case sim.EventMessageEmitted:
		h.messagesEmitted.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("node_type", string(e.NodeType)),
		))
	case sim.EventInputRejected:
		h.inputsRejected.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("node_id", e.NodeID),
		))
	case sim.EventSimCompleted:
		ctx := context.Background()
		h.sessionDuration.Record(ctx, e.Elapsed.Seconds())
		if steps, ok := e.Payload["steps"].(int); ok {
			h.sessionSteps.Record(ctx, int64(steps))
		}
	}
}
