package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"homeflow/internal/broker"
	"homeflow/internal/config"
	"homeflow/internal/logger"
)

// Base holds the pieces every service binary needs: config, logger and
// broker handles. Each handle stays nil until its Init method is called.
type Base struct {
	Config   *config.Config
	Logger   logger.Logger
	Producer broker.Producer
	Consumer broker.Consumer
	Source   broker.RecordSource
}

func NewBase(cfg *config.Config, log logger.Logger) *Base {
	return &Base{
		Config: cfg,
		Logger: log,
	}
}

// InitBroker opens the producer and the control-topic consumer.
func (b *Base) InitBroker(serviceName string) error {
	producer, err := broker.NewProducer(b.Config.Broker, b.Logger)
	if err != nil {
		return fmt.Errorf("failed to create producer: %w", err)
	}

	consumer, err := broker.NewConsumer(b.Config.Broker, b.Logger)
	if err != nil {
		_ = producer.Close()
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	if serviceName != "" {
		consumer.SetServiceName(serviceName)
	}

	b.Producer = producer
	b.Consumer = consumer
	return nil
}

// InitRecordSource opens the partitioned event stream.
func (b *Base) InitRecordSource() error {
	source, err := broker.NewRecordSource(b.Config.Broker, b.Logger)
	if err != nil {
		return fmt.Errorf("failed to create record source: %w", err)
	}
	b.Source = source
	return nil
}

func (b *Base) ShutdownBroker() []error {
	var errs []error

	if b.Source != nil {
		if err := b.Source.Close(); err != nil {
			errs = append(errs, fmt.Errorf("record source close error: %w", err))
		}
	}

	if b.Consumer != nil {
		if err := b.Consumer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("consumer close error: %w", err))
		}
	}

	if b.Producer != nil {
		if err := b.Producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("producer close error: %w", err))
		}
	}

	return errs
}

// Shutdown closes the broker first so no new work arrives, then runs
// additionalShutdown for service-owned resources.
func (b *Base) Shutdown(ctx context.Context, additionalShutdown func(ctx context.Context) []error) error {
	b.Logger.Info("Shutting down application...")

	var errs []error

	errs = append(errs, b.ShutdownBroker()...)

	if additionalShutdown != nil {
		errs = append(errs, additionalShutdown(ctx)...)
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	b.Logger.Info("Application exited successfully")
	return nil
}
