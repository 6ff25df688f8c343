package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

var errMissingJobID = errors.New("reply job without job_id")

// ReplyJob is the queue payload; the job row holds everything else.
type ReplyJob struct {
	JobID     string `json:"job_id"`
	SessionID string `json:"session_id,omitempty"`
	// Attempt counts earlier deliveries that failed and were retried.
	Attempt int `json:"attempt,omitempty"`
}

// DeclareTopology declares the main queue with its retry and dead-letter
// queues. Publisher and consumer must declare identical arguments.
func DeclareTopology(ch *amqp.Channel, queue string) error {
	mainQ := queue
	retryQ := queue + ".retry"
	dlqQ := queue + ".dlq"

	// DLQ
	if _, err := ch.QueueDeclare(
		dlqQ,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false,
		nil,
	); err != nil {
		return err
	}

	// Retry queue: message TTL -> dead-letter back to main queue
	if _, err := ch.QueueDeclare(
		retryQ,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": mainQ,
		},
	); err != nil {
		return err
	}

	// Main queue: dead-letter to DLQ on reject/nack(requeue=false)
	_, err := ch.QueueDeclare(
		mainQ,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": dlqQ,
		},
	)
	return err
}

type Publisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

func NewPublisher(url, queue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := DeclareTopology(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Publisher{conn: conn, ch: ch, queue: queue}, nil
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

func (p *Publisher) PublishJob(ctx context.Context, jobID string) error {
	return p.publish(ctx, p.queue, ReplyJob{JobID: jobID}, nil)
}

// PublishRetry parks a job on the retry queue; it returns to the main queue
// after delay.
func (p *Publisher) PublishRetry(ctx context.Context, job ReplyJob, delay time.Duration) error {
	return p.publish(ctx, p.queue+".retry", job, &delay)
}

func (p *Publisher) publish(ctx context.Context, queue string, msg ReplyJob, delay *time.Duration) error {
	body, err := EncodeReplyJob(msg)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
		Timestamp:    time.Now(),
	}
	if delay != nil {
		pub.Expiration = expiration(*delay)
	}
	return p.ch.PublishWithContext(cctx,
		"",    // default exchange
		queue, // routing key = queue
		false,
		false,
		pub,
	)
}

// expiration formats a per-message TTL in milliseconds.
func expiration(d time.Duration) string {
	ms := d.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return strconv.FormatInt(ms, 10)
}

func EncodeReplyJob(m ReplyJob) ([]byte, error) {
	return json.Marshal(m)
}

func DecodeReplyJob(body []byte) (ReplyJob, error) {
	var m ReplyJob
	if err := json.Unmarshal(body, &m); err != nil {
		return ReplyJob{}, err
	}
	if m.JobID == "" {
		return ReplyJob{}, errMissingJobID
	}
	return m, nil
}
