package logging

import (
	"context"
)

type ctxKey string

const (
	TraceIDKey      = "trace_id"
	EventIDKey      = "event_id"
	BatchIDKey      = "batch_id"
	AutomationIDKey = "automation_id"
	WorkflowIDKey   = "workflow_id"
	PartitionKey    = "partition"
	ServiceNameKey  = "service_name"
)

// fieldOrder fixes the order in which correlation fields are emitted.
var fieldOrder = []string{
	TraceIDKey,
	EventIDKey,
	BatchIDKey,
	AutomationIDKey,
	WorkflowIDKey,
	PartitionKey,
	ServiceNameKey,
}

func with(ctx context.Context, key, value string) context.Context {
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey(key), value)
}

func get(ctx context.Context, key string) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxKey(key)).(string); ok {
		return v
	}
	return ""
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return with(ctx, TraceIDKey, traceID)
}

func WithEventID(ctx context.Context, eventID string) context.Context {
	return with(ctx, EventIDKey, eventID)
}

func WithBatchID(ctx context.Context, batchID string) context.Context {
	return with(ctx, BatchIDKey, batchID)
}

func WithAutomationID(ctx context.Context, automationID string) context.Context {
	return with(ctx, AutomationIDKey, automationID)
}

func WithWorkflowID(ctx context.Context, workflowID string) context.Context {
	return with(ctx, WorkflowIDKey, workflowID)
}

func WithPartition(ctx context.Context, partition string) context.Context {
	return with(ctx, PartitionKey, partition)
}

func WithServiceName(ctx context.Context, serviceName string) context.Context {
	return with(ctx, ServiceNameKey, serviceName)
}

func GetTraceID(ctx context.Context) string      { return get(ctx, TraceIDKey) }
func GetEventID(ctx context.Context) string      { return get(ctx, EventIDKey) }
func GetBatchID(ctx context.Context) string      { return get(ctx, BatchIDKey) }
func GetAutomationID(ctx context.Context) string { return get(ctx, AutomationIDKey) }
func GetWorkflowID(ctx context.Context) string   { return get(ctx, WorkflowIDKey) }
func GetServiceName(ctx context.Context) string  { return get(ctx, ServiceNameKey) }

// GetLogFields returns the correlation fields carried by ctx as zap-style
// key/value pairs.
func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, len(fieldOrder)*2)
	for _, key := range fieldOrder {
		if v := get(ctx, key); v != "" {
			fields = append(fields, key, v)
		}
	}
	return fields
}

// actorKey carries the authenticated actor for audit fields.
const actorKey ctxKey = "actor"

func WithActor(ctx context.Context, actor string) context.Context {
	if actor == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey, actor)
}

// GetActor returns the actor recorded in ctx, or "system".
func GetActor(ctx context.Context) string {
	if v, ok := ctx.Value(actorKey).(string); ok && v != "" {
		return v
	}
	return "system"
}
