package management

import (
	"context"
	"time"

	"homeflow/internal/broker"
	"homeflow/pkg/models"
)

// ConfigEventProducer announces filter rule changes so ingestion workers
// reload their cached rule sets.
type ConfigEventProducer struct {
	producer broker.Producer
	topic    string
	source   string
}

func NewConfigEventProducer(producer broker.Producer, topic string) *ConfigEventProducer {
	return &ConfigEventProducer{
		producer: producer,
		topic:    topic,
		source:   "management-service",
	}
}

func (p *ConfigEventProducer) PublishFilterRuleEvent(ctx context.Context, action, ownerID, ruleID, changedBy string) error {
	if p == nil || p.producer == nil || p.topic == "" {
		return nil
	}

	event := models.ConfigUpdateEvent{
		OwnerID:   ownerID,
		RuleID:    ruleID,
		Action:    action,
		ChangedBy: changedBy,
		Timestamp: time.Now().UTC(),
	}
	env := models.NewEnvelope(models.TypeFilterRuleUpdated, p.source, ownerID, event.ToPayload())
	return p.producer.Publish(ctx, p.topic, env)
}
