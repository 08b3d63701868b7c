// Package notify publishes reservation events to RabbitMQ for the
// notification pipeline.  Publishing is fire-and-forget: errors are
// logged and returned so callers can ignore them without interrupting
// the booking flow, and a missing broker URL disables the dispatcher
// entirely.
package notify

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	q "github.com/moducoop/booking/internal/queue"
)

// Dispatcher publishes reservation events.  The zero value is not
// usable; construct with NewDispatcher.
type Dispatcher struct {
	url string
}

// NewDispatcher returns a Dispatcher publishing to the broker at url.
func NewDispatcher(url string) *Dispatcher {
	return &Dispatcher{url: url}
}

// ReservationConfirmed publishes a confirmation event to the
// reservation.confirmed queue.
func (d *Dispatcher) ReservationConfirmed(ctx context.Context, ev q.ReservationConfirmedEvent) error {
	return d.publish(ctx, q.ReservationConfirmedQueue, ev)
}

// ReservationCancelled publishes a cancellation event to the
// reservation.cancelled queue.
func (d *Dispatcher) ReservationCancelled(ctx context.Context, ev q.ReservationCancelledEvent) error {
	return d.publish(ctx, q.ReservationCancelledQueue, ev)
}

// publish dials the broker, declares the durable queue and publishes
// one persistent message.  The function attempts to be robust and to
// never panic; any error is logged and returned so the caller can
// choose to ignore it.
func (d *Dispatcher) publish(ctx context.Context, queueName string, event interface{}) error {
	conn, err := amqp.Dial(d.url)
	if err != nil {
		logrus.WithError(err).Warn("rabbitmq: dial failed")
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		logrus.WithError(err).Warn("rabbitmq: channel open failed")
		return err
	}
	defer func() { _ = ch.Close() }()

	// Ensure the queue exists (idempotent). Durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // autoDelete
		false,     // exclusive
		false,     // noWait
		nil,       // args
	); err != nil {
		logrus.WithError(err).Warn("rabbitmq: queue declare failed")
		return err
	}

	body, err := json.Marshal(event)
	if err != nil {
		logrus.WithError(err).Warn("rabbitmq: marshal event failed")
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent, // store on disk
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}

	if err := ch.PublishWithContext(ctx,
		"",        // default exchange
		queueName, // routing key = queue name
		false,     // mandatory
		false,     // immediate
		pub,
	); err != nil {
		logrus.WithError(err).Warn("rabbitmq: publish failed")
		return err
	}

	return nil
}
