package broker

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"homeflow/pkg/models"
)

type Producer interface {
	Publish(ctx context.Context, topic string, env models.Envelope) error
	Close() error
}

// Consumer delivers envelopes from a control topic such as config updates.
type Consumer interface {
	Consume(ctx context.Context, topic string, handler HandlerFunc) error
	Close() error
	SetServiceName(name string)
}

type HandlerFunc func(ctx context.Context, env models.Envelope) error

// Record is one raw message from a partitioned stream.
type Record struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   []kafka.Header
	Time      time.Time
}

// RecordSource is an ordered-per-partition, at-least-once stream. Commit
// marks everything up to and including the given records as consumed.
type RecordSource interface {
	Fetch(ctx context.Context) (Record, error)
	Commit(ctx context.Context, records ...Record) error
	Close() error
}

// DeadLetterPublisher stores payloads that could not be processed.
type DeadLetterPublisher interface {
	PublishDeadLetter(ctx context.Context, rec Record, reason error) error
}
