// internal/queue/events.go
package queue

import (
	"encoding/json"
	"log"

	"github.com/streadway/amqp"

	"github.com/unclebandit/clinicreach-backend/internal/model"
)

const eventQueueName = "domain_events"

// ConsumeDomainEvents attaches the trigger listener to the broker's
// domain-event queue and blocks until the channel closes. Delivery is
// at-least-once; the listener's enrollment creation is idempotent, so
// requeueing on failure is safe.
func ConsumeDomainEvents(conn *amqp.Connection, listener EventHandler) error {
	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	q, err := ch.QueueDeclare(
		eventQueueName, // name
		true,           // durable
		false,          // delete when unused
		false,          // exclusive
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return err
	}

	msgs, err := ch.Consume(
		q.Name,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return err
	}

	log.Println("Consuming domain events from", q.Name)
	for d := range msgs {
		var ev model.DomainEvent
		if err := json.Unmarshal(d.Body, &ev); err != nil {
			log.Println("Invalid domain event:", err)
			d.Ack(false)
			continue
		}

		if err := listener.OnEvent(ev); err != nil {
			log.Println("Failed to process domain event:", err)
			// Retry logic: requeue up to 3 times
			var retryCount int
			if v, ok := d.Headers["x-retry-count"].(int32); ok {
				retryCount = int(v)
			}
			if retryCount < 3 {
				d.Nack(false, true) // requeue
				continue
			}
		}

		d.Ack(false)
	}
	return nil
}
