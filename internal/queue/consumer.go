package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/taskpilot/taskpilot/internal/mailer"
)

// StartEmailConsumer connects to RabbitMQ, declares the auth.email queue and
// consumes delivery requests, sending each mail through the given Sender.
// It runs a reconnect loop with exponential backoff and never returns under
// normal operation; failed messages are rejected without requeue so a broken
// payload cannot spin the consumer.
func StartEmailConsumer(sender *mailer.Sender, domain string) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(BrokerURL())
		if err != nil {
			log.Printf("email-consumer: failed to dial broker: %v; retrying in %s", err, backoff)
			time.Sleep(backoff)
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second // reset after successful connect

		if err := consumeLoop(conn, sender, domain); err != nil {
			log.Printf("email-consumer: consume loop ended: %v; reconnecting", err)
			time.Sleep(2 * time.Second)
		}
	}
}

func consumeLoop(conn *amqp.Connection, sender *mailer.Sender, domain string) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(20, 0, false); err != nil {
		log.Printf("email-consumer: set QoS failed: %v", err)
	}

	if _, err := ch.QueueDeclare(emailQueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}

	msgs, err := ch.Consume(emailQueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for d := range msgs {
		if err := handleMessage(d.Body, sender, domain); err != nil {
			log.Printf("email-consumer: handle message failed: %v", err)
			_ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
			continue
		}
		_ = d.Ack(false)
	}
	return errors.New("deliveries channel closed")
}

func handleMessage(body []byte, sender *mailer.Sender, domain string) error {
	var ev EmailRequestedEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}

	var subject, html string
	switch ev.Kind {
	case EmailVerify:
		subject, html = mailer.VerificationBody(domain + "/verify-email?token=" + ev.Token)
	case EmailReset:
		subject, html = mailer.ResetBody(domain + "/reset-password?token=" + ev.Token)
	default:
		return fmt.Errorf("unknown email kind %q", ev.Kind)
	}

	if err := sender.Send(ev.Email, subject, html); err != nil {
		return fmt.Errorf("send mail to user %d: %w", ev.UserID, err)
	}
	return nil
}
