package rabbitmq

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	defaultMaxAttempts = 3
	defaultRetryDelay  = 5 * time.Second
)

// HandlerFunc processes one job. Errors wrapped with Permanent dead-letter the
// delivery; any other error is retried with backoff until attempts run out.
type HandlerFunc func(ctx context.Context, job ReplyJob) error

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

type retrier interface {
	PublishRetry(ctx context.Context, job ReplyJob, delay time.Duration) error
}

// Consumer runs a fixed pool of workers over one queue. Qos equals the pool
// size, so at most that many deliveries are unacknowledged.
type Consumer struct {
	conn        *amqp.Connection
	ch          *amqp.Channel
	queue       string
	concurrency int
	retry       *Publisher
	logger      *slog.Logger
}

func NewConsumer(url, queue string, concurrency int) (*Consumer, error) {
	if concurrency <= 0 {
		concurrency = 1
	}
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
	//  strict concurrency control
	if err := ch.Qos(concurrency, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	// retries go out on the consuming channel, which Close owns
	return &Consumer{
		conn:        conn,
		ch:          ch,
		queue:       queue,
		concurrency: concurrency,
		retry:       &Publisher{ch: ch, queue: queue},
		logger:      slog.Default().With("component", "rabbitmq.consumer", "queue", queue),
	}, nil
}

func (c *Consumer) Close() error {
	_ = c.ch.Close()
	return c.conn.Close()
}

// Run consumes until ctx is done or the broker closes the channel, then
// waits for in-flight jobs.
func (c *Consumer) Run(ctx context.Context, handle HandlerFunc) error {
	msgs, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	c.logger.Info("consumer started", "concurrency", c.concurrency)

	// worker pool
	jobs := make(chan amqp.Delivery, c.concurrency*2)
	var wg sync.WaitGroup
	wg.Add(c.concurrency)
	for i := 0; i < c.concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			d := dispatcher{
				logger:      c.logger.With("worker", workerID),
				retry:       c.retry,
				maxAttempts: defaultMaxAttempts,
				baseDelay:   defaultRetryDelay,
			}
			for msg := range jobs {
				d.dispatch(ctx, msg.Body, msg, handle)
			}
		}(i)
	}

	// dispatcher
	defer func() {
		close(jobs)
		wg.Wait()
	}()
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer shutting down")
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("delivery channel closed")
			}
			jobs <- d
		}
	}
}

type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

type dispatcher struct {
	logger      *slog.Logger
	retry       retrier
	maxAttempts int
	baseDelay   time.Duration
}

// retryDelay doubles per attempt: base, 2*base, 4*base...
func (d dispatcher) retryDelay(attempt int) time.Duration {
	return d.baseDelay << attempt
}

func (d dispatcher) dispatch(ctx context.Context, body []byte, ack acknowledger, handle HandlerFunc) {
	m, err := DecodeReplyJob(body)
	if err != nil {
		d.logger.Warn("bad message", "error", err)
		_ = ack.Nack(false, false)
		return
	}

	start := time.Now()
	err = handle(ctx, m)
	if err == nil {
		if err := ack.Ack(false); err != nil {
			d.logger.Error("ack failed", "job_id", m.JobID, "error", err)
		}
		return
	}

	if IsPermanent(err) || d.retry == nil || m.Attempt+1 >= d.maxAttempts {
		d.logger.Error("job failed", "job_id", m.JobID, "attempt", m.Attempt, "cost", time.Since(start), "error", err)
		_ = ack.Nack(false, false)
		return
	}

	next := m
	next.Attempt++
	delay := d.retryDelay(m.Attempt)
	// shutdown cancels ctx; the retry must still be parked
	if perr := d.retry.PublishRetry(context.WithoutCancel(ctx), next, delay); perr != nil {
		d.logger.Error("retry publish failed", "job_id", m.JobID, "error", perr, "cause", err)
		_ = ack.Nack(false, false)
		return
	}
	d.logger.Warn("job retry scheduled", "job_id", m.JobID, "attempt", next.Attempt, "delay", delay, "error", err)
	if err := ack.Ack(false); err != nil {
		d.logger.Error("ack failed", "job_id", m.JobID, "error", err)
	}
}
