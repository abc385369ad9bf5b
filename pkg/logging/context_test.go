package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetLogFields(t *testing.T) {
	ctx := context.Background()
	ctx = WithServiceName(ctx, "ingestion-service")
	ctx = WithBatchID(ctx, "b-1")
	ctx = WithEventID(ctx, "e-1")

	fields := GetLogFields(ctx)
	assert.Equal(t, []interface{}{
		"event_id", "e-1",
		"batch_id", "b-1",
		"service_name", "ingestion-service",
	}, fields)
}

func TestEmptyValuesAreNotStored(t *testing.T) {
	ctx := WithAutomationID(context.Background(), "")
	assert.Empty(t, GetAutomationID(ctx))
	assert.Empty(t, GetLogFields(ctx))
}

func TestGetActor(t *testing.T) {
	assert.Equal(t, "system", GetActor(context.Background()))
	assert.Equal(t, "alice", GetActor(WithActor(context.Background(), "alice")))
}
