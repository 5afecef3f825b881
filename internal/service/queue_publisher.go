// Package queue_publisher publishes reservation work items to RabbitMQ.
// Errors are logged and returned so the intake handler can surface them
// without interrupting the already-committed reservation insert.
package queue_publisher

import (
    "context"
    "encoding/json"
    "log"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"

    q "github.com/BalazsVokHeloXD/ShippingManager/internal/queue"
)

// Publisher publishes work items to the durable reservation queue.  The
// broker URL is injected explicitly; the publisher holds no long-lived
// connection and dials per publish, which keeps the intake path free of
// connection state to manage.
type Publisher struct {
    URL string
}

// NewPublisher returns a Publisher for the given broker URL.
func NewPublisher(url string) *Publisher { return &Publisher{URL: url} }

// PublishReservation publishes a ReservationRequest to the reservation
// queue.  The queue is declared durable on every publish (idempotent) and
// the message is marked persistent so it survives broker restarts.  Any
// error is logged and returned; the caller decides how to react.
func (p *Publisher) PublishReservation(ctx context.Context, req q.ReservationRequest) error {
    conn, err := amqp.Dial(p.URL)
    if err != nil {
        log.Printf("rabbitmq: dial failed: %v", err)
        return err
    }
    defer func() { _ = conn.Close() }()

    ch, err := conn.Channel()
    if err != nil {
        log.Printf("rabbitmq: channel open failed: %v", err)
        return err
    }
    defer func() { _ = ch.Close() }()

    if _, err := ch.QueueDeclare(
        q.ReservationQueue, // name
        true,               // durable
        false,              // autoDelete
        false,              // exclusive
        false,              // noWait
        nil,                // args
    ); err != nil {
        log.Printf("rabbitmq: queue declare failed: %v", err)
        return err
    }

    body, err := json.Marshal(req)
    if err != nil {
        log.Printf("rabbitmq: marshal work item failed: %v", err)
        return err
    }

    pub := amqp.Publishing{
        ContentType:  "application/json",
        DeliveryMode: amqp.Persistent, // store on disk
        Timestamp:    time.Now().UTC(),
        Body:         body,
    }

    if err := ch.PublishWithContext(ctx,
        "",                 // default exchange
        q.ReservationQueue, // routing key = queue name
        false,              // mandatory
        false,              // immediate
        pub,
    ); err != nil {
        log.Printf("rabbitmq: publish failed: %v", err)
        return err
    }

    return nil
}
