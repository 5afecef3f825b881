package queue

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "log"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
)

// Processor handles one reservation work item.  It must return true when
// the item should be requeued for another delivery attempt and false when
// it should be acknowledged, whether the attempt reached success or a
// terminal failure.
type Processor interface {
    Process(ctx context.Context, req ReservationRequest, redelivered bool) (requeue bool)
}

// StartReservationConsumer connects to RabbitMQ, declares the durable
// reservation queue and consumes work items, dispatching each to the
// processor.  Messages are acknowledged manually; the broker keeps
// ownership of an item until the consumer acks it, so a worker crash
// mid-item leads to redelivery rather than loss.  The function runs a
// reconnect loop with capped backoff and never returns under normal
// operation.
func StartReservationConsumer(url string, prefetch int, p Processor) error {
    backoff := time.Second
    for {
        conn, err := amqp.Dial(url)
        if err != nil {
            log.Printf("reservation-consumer: failed to dial broker: %v; retrying in %s", err, backoff)
            time.Sleep(backoff)
            if backoff < 30*time.Second {
                backoff *= 2
            }
            continue
        }
        backoff = time.Second // reset after successful connect

        if err := consumeLoop(conn, prefetch, p); err != nil {
            log.Printf("reservation-consumer: consume loop ended: %v; reconnecting", err)
            _ = conn.Close()
            time.Sleep(2 * time.Second)
            continue
        }
    }
}

func consumeLoop(conn *amqp.Connection, prefetch int, p Processor) error {
    ch, err := conn.Channel()
    if err != nil {
        return fmt.Errorf("channel open: %w", err)
    }
    defer func() { _ = ch.Close() }()

    if prefetch <= 0 {
        prefetch = 10
    }
    if err := ch.Qos(prefetch, 0, false); err != nil {
        log.Printf("reservation-consumer: set QoS failed: %v", err)
    }

    if _, err := ch.QueueDeclare(ReservationQueue, true, false, false, false, nil); err != nil {
        return fmt.Errorf("queue declare: %w", err)
    }

    msgs, err := ch.Consume(ReservationQueue, "", false, false, false, false, nil)
    if err != nil {
        return fmt.Errorf("queue consume: %w", err)
    }

    for d := range msgs {
        var req ReservationRequest
        if err := json.Unmarshal(d.Body, &req); err != nil {
            // A payload that does not even parse can never be fulfilled;
            // reject without requeue so the queue does not loop on it.
            log.Printf("reservation-consumer: unmarshal work item failed: %v", err)
            _ = d.Nack(false, false)
            continue
        }
        if p.Process(context.Background(), req, d.Redelivered) {
            _ = d.Nack(false, true)
            continue
        }
        _ = d.Ack(false)
    }
    return errors.New("deliveries channel closed")
}
