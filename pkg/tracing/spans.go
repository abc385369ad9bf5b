package tracing

import (
	"context"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	attrTopic        = attribute.Key("messaging.destination.name")
	attrPartition    = attribute.Key("messaging.kafka.partition")
	attrOffset       = attribute.Key("messaging.kafka.offset")
	attrAutomationID = attribute.Key("homeflow.automation.id")
	attrWorkflowID   = attribute.Key("homeflow.workflow.id")
)

// Start opens a span on the homeflow tracer.
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartRecordSpan continues the producer's trace for one stream record.
func StartRecordSpan(ctx context.Context, name, topic string, partition int, offset int64, headers []kafka.Header) (context.Context, trace.Span) {
	ctx = ExtractHeaders(ctx, headers)
	return tracer().Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attrTopic.String(topic),
			attrPartition.Int(partition),
			attrOffset.Int64(offset),
		),
	)
}

func StartAutomationSpan(ctx context.Context, name, automationID string) (context.Context, trace.Span) {
	return Start(ctx, name, attrAutomationID.String(automationID))
}

func StartWorkflowSpan(ctx context.Context, name, workflowID string) (context.Context, trace.Span) {
	return Start(ctx, name, attrWorkflowID.String(workflowID))
}

// Fail marks span as failed when err is non-nil.
func Fail(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
