package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/semantic-explorer/viz-worker/pkg/log"
)

// Config holds broker connection and consumer settings.
type Config struct {
	URL          string
	Stream       string
	Subject      string
	ConsumerName string

	// Consumer creation settings; these match the broker-side limits the
	// producer API provisions.
	AckWait       time.Duration
	MaxDeliver    int
	MaxAckPending int

	// Bind-or-create retry policy during startup.
	BindAttempts   int
	BindRetryDelay time.Duration
}

// DefaultConfig returns the consumer-binding defaults.
func DefaultConfig() Config {
	return Config{
		AckWait:        1800 * time.Second,
		MaxDeliver:     3,
		MaxAckPending:  10,
		BindAttempts:   30,
		BindRetryDelay: 2 * time.Second,
	}
}

// Message is the subset of a JetStream message the worker needs. It is
// satisfied by jetstream.Msg and fakeable in tests.
type Message interface {
	Data() []byte
	Headers() nats.Header
	Ack() error
	Nak() error
}

// Fetcher pulls bounded batches of messages.
type Fetcher interface {
	Fetch(batch int, timeout time.Duration) ([]Message, error)
}

// Publisher publishes a payload to a subject.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Client owns the durable connection to the broker and the pull consumer.
type Client struct {
	cfg      Config
	nc       *nats.Conn
	js       jetstream.JetStream
	consumer jetstream.Consumer
	logger   zerolog.Logger

	consecutiveErrors int
}

// Connect opens the broker connection and prepares the JetStream context.
func Connect(cfg Config, workerID string) (*Client, error) {
	logger := log.WithComponent("broker")

	nc, err := nats.Connect(cfg.URL,
		nats.Name("viz-worker-"+workerID),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to broker at %s: %w", cfg.URL, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	logger.Info().Str("url", cfg.URL).Msg("connected to broker")
	return &Client{cfg: cfg, nc: nc, js: js, logger: logger}, nil
}

// EnsureConsumer binds to the durable consumer, creating it if it does not
// exist yet. The full bind-or-create sequence is retried with a fixed delay
// while the stream itself is still being provisioned; other errors are
// treated as permanent.
func (c *Client) EnsureConsumer(ctx context.Context) error {
	attempts := c.cfg.BindAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		consumer, err := c.bindOrCreate(ctx)
		if err == nil {
			c.consumer = consumer
			c.logger.Info().
				Str("stream", c.cfg.Stream).
				Str("consumer", c.cfg.ConsumerName).
				Int("attempt", attempt).
				Msg("durable consumer ready")
			return nil
		}
		lastErr = err

		if !errors.Is(err, jetstream.ErrStreamNotFound) {
			return fmt.Errorf("bind durable consumer %s: %w", c.cfg.ConsumerName, err)
		}

		c.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", attempts).
			Msg("stream not available yet, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.BindRetryDelay):
		}
	}
	return fmt.Errorf("bind durable consumer %s after %d attempts: %w", c.cfg.ConsumerName, attempts, lastErr)
}

func (c *Client) bindOrCreate(ctx context.Context) (jetstream.Consumer, error) {
	consumer, err := c.js.Consumer(ctx, c.cfg.Stream, c.cfg.ConsumerName)
	if err == nil {
		return consumer, nil
	}
	if !errors.Is(err, jetstream.ErrConsumerNotFound) {
		return nil, err
	}

	return c.js.CreateConsumer(ctx, c.cfg.Stream, jetstream.ConsumerConfig{
		Durable:       c.cfg.ConsumerName,
		FilterSubject: c.cfg.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       c.cfg.AckWait,
		MaxDeliver:    c.cfg.MaxDeliver,
		MaxAckPending: c.cfg.MaxAckPending,
	})
}

// Fetch pulls up to batch messages, waiting at most timeout. An empty
// result on timeout is normal. Transient cluster-unavailable errors are
// reported as *TransientError and tracked in the consecutive-error counter;
// any successful fetch resets the counter.
func (c *Client) Fetch(batch int, timeout time.Duration) ([]Message, error) {
	res, err := c.consumer.Fetch(batch, jetstream.FetchMaxWait(timeout))
	if err != nil {
		return nil, c.classifyFetchError(err)
	}

	var msgs []Message
	for msg := range res.Messages() {
		msgs = append(msgs, msg)
	}
	if err := res.Error(); err != nil && !isFetchTimeout(err) {
		return msgs, c.classifyFetchError(err)
	}

	c.consecutiveErrors = 0
	return msgs, nil
}

func (c *Client) classifyFetchError(err error) error {
	if isFetchTimeout(err) {
		c.consecutiveErrors = 0
		return nil
	}
	if IsTransient(err) {
		c.consecutiveErrors++
		return &TransientError{Err: err, Consecutive: c.consecutiveErrors}
	}
	return fmt.Errorf("fetch: %w", err)
}

// ConsecutiveErrors returns the current transient-error streak.
func (c *Client) ConsecutiveErrors() int {
	return c.consecutiveErrors
}

// Publish sends a payload to the given subject over the core connection.
func (c *Client) Publish(subject string, data []byte) error {
	if err := c.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// Close drains and closes the broker connection.
func (c *Client) Close() {
	if c.nc != nil && !c.nc.IsClosed() {
		c.nc.Close()
		c.logger.Info().Msg("broker connection closed")
	}
}

// TransientError marks a broker error worth retrying with backoff.
type TransientError struct {
	Err         error
	Consecutive int
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient broker error (streak %d): %v", e.Consecutive, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether an error looks like a temporary
// cluster-unavailable condition rather than a permanent failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, nats.ErrNoResponders) ||
		errors.Is(err, nats.ErrConnectionClosed) ||
		errors.Is(err, jetstream.ErrNoHeartbeat) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no responders") ||
		strings.Contains(msg, "service unavailable") ||
		strings.Contains(msg, "connection refused")
}

func isFetchTimeout(err error) bool {
	return errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// BackoffDelay returns the fetch retry delay for the given consecutive
// error count: 2^n seconds capped at 30.
func BackoffDelay(consecutive int) time.Duration {
	if consecutive < 1 {
		return 0
	}
	if consecutive > 5 {
		// 2^5 = 32 already exceeds the cap.
		return 30 * time.Second
	}
	d := time.Duration(1<<uint(consecutive)) * time.Second
	if d > 30*time.Second {
		return 30 * time.Second
	}
	return d
}
