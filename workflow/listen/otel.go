package listen

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelSink turns every event into a point-in-time OpenTelemetry span, named
// after event.Msg, carrying execution/node identity and metadata as
// attributes. Spans are started and ended immediately since events mark
// instants, not durations.
type OTelSink struct {
	tracer trace.Tracer
}

// NewOTelSink wraps an OpenTelemetry tracer (otel.Tracer("service-name")) as a Sink.
func NewOTelSink(tracer trace.Tracer) *OTelSink {
	return &OTelSink{tracer: tracer}
}

func (o *OTelSink) Emit(event Event) {
	_, span := o.tracer.Start(context.Background(), event.Msg)
	defer span.End()

	attrs := []attribute.KeyValue{
		attribute.String("execution_id", event.ExecutionID),
		attribute.Int("step", event.Step),
	}
	if event.NodeID != "" {
		attrs = append(attrs, attribute.String("node_id", event.NodeID))
	}
	for k, v := range event.Meta {
		attrs = append(attrs, attribute.String(k, fmt.Sprintf("%v", v)))
	}
	span.SetAttributes(attrs...)

	if errVal, ok := event.Meta["error"].(string); ok && errVal != "" {
		span.SetStatus(codes.Error, errVal)
		span.RecordError(fmt.Errorf("%s", errVal))
	}
}
