package events

import (
	"context"
	"errors"
	"fmt"
	"log"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// EventsExchange is the fleet-wide topic exchange.
	EventsExchange = "ecommerce.events"

	// CoreEventsRoutingKey is the routing key node-core publishes v1
	// envelopes under.
	CoreEventsRoutingKey = "core.events.v1"

	analyticsServiceName = "analytics-service-go"
)

func analyticsQueueName() string {
	return analyticsServiceName + "." + CoreEventsRoutingKey
}

// MustDialRabbit connects to RabbitMQ or exits. Only called from main
// during startup, mirroring the rest of the fleet.
func MustDialRabbit(url string) *amqp.Connection {
	conn, err := amqp.Dial(url)
	if err != nil {
		log.Fatalf("connect to RabbitMQ: %v", err)
	}
	return conn
}

// StartEventsConsumer consumes v1 envelopes from the events exchange and
// feeds them through the same Processor as the HTTP endpoint. The broker
// connection is already authenticated, so no HMAC check happens here.
//
// Ack policy matches the ingestion contract: soft failures (unknown type,
// schema violation) are acked so the broker does not redeliver them; only
// unparseable bodies are nacked without requeue.
func StartEventsConsumer(ctx context.Context, conn *amqp.Connection, proc *Processor, logger *log.Logger) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(
		EventsExchange,
		"topic",
		true,  // durable
		false, // autoDelete
		false, // internal
		false, // noWait
		nil,
	); err != nil {
		return fmt.Errorf("exchange declare: %w", err)
	}

	queue := analyticsQueueName()
	if _, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}

	if err := ch.QueueBind(queue, CoreEventsRoutingKey, EventsExchange, false, nil); err != nil {
		return fmt.Errorf("queue bind: %w", err)
	}

	msgs, err := ch.Consume(
		queue,
		analyticsServiceName, // consumer tag
		false,                // autoAck
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				logger.Printf("stopping %s consumer", queue)
				return
			case msg, ok := <-msgs:
				if !ok {
					logger.Printf("messages channel closed for %s", queue)
					return
				}
				handleDelivery(ctx, proc, msg, logger)
			}
		}
	}()

	return nil
}

func handleDelivery(ctx context.Context, proc *Processor, msg amqp.Delivery, logger *log.Logger) {
	err := proc.Process(ctx, msg.Body)
	switch {
	case err == nil:
		_ = msg.Ack(false)
	case errors.Is(err, ErrMalformedEnvelope):
		logger.Printf("dropping malformed message: %v", err)
		_ = msg.Nack(false, false)
	case errors.Is(err, ErrUnknownEventType):
		logger.Printf("ignoring unknown event type: %v", err)
		_ = msg.Ack(false)
	default:
		var sv *SchemaViolationError
		if errors.As(err, &sv) {
			logger.Printf("ignoring contract-breaking event: %v", sv)
		} else {
			logger.Printf("event processing error (acked): %v", err)
		}
		_ = msg.Ack(false)
	}
}
