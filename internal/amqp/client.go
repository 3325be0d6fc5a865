package amqp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/sony/gobreaker"

	"spendbot/internal/core"
	"spendbot/internal/log"
)

const (
	maxFailures     = 5
	openTimeout     = 30 * time.Second
	publishTimeout  = 5 * time.Second
	maxDialAttempts = 5
	maxBackoff      = 30 * time.Second
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type Config struct {
	URL          string
	Exchange     string
	CommandQueue string
	ReactionKey  string
	OutcomeKey   string
	// Prefetch bounds unacknowledged command deliveries.
	Prefetch int
}

type Client struct {
	url          string
	exchangeName string
	queueName    string
	reactionKey  string
	outcomeKey   string
	prefetch     int

	conn    *amqp091.Connection
	channel *amqp091.Channel
	// amqp091 channels are not meant for concurrent publishers.
	publishMu sync.Mutex

	breaker *gobreaker.CircuitBreaker
	// backoff picks the wait before the next dial attempt.
	backoff func(attempt int) time.Duration

	logger *log.Logger
}

// NewClient dials the broker, retrying connection errors with capped
// exponential backoff, and declares the exchange and command queue.
func NewClient(ctx context.Context, cfg Config, logger *log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentAMQP)
	client := &Client{
		url:          cfg.URL,
		exchangeName: cfg.Exchange,
		queueName:    cfg.CommandQueue,
		reactionKey:  cfg.ReactionKey,
		outcomeKey:   cfg.OutcomeKey,
		prefetch:     cfg.Prefetch,
		breaker:      newBreaker(openTimeout, logger),
		backoff:      exponentialBackoff,
		logger:       logger,
	}

	conn, err := client.dial(ctx)
	if err != nil {
		return nil, err
	}
	client.conn = conn

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	client.channel = channel

	if err := client.setup(); err != nil {
		client.Close()
		return nil, fmt.Errorf("setup exchange and queue: %w", err)
	}

	return client, nil
}

func (c *Client) dial(ctx context.Context) (*amqp091.Connection, error) {
	var lastErr error
	for attempt := 0; attempt < maxDialAttempts; attempt++ {
		conn, err := amqp091.Dial(c.url)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if !isConnectionError(err) || attempt == maxDialAttempts-1 {
			break
		}

		wait := c.backoff(attempt)
		c.logger.WarnContext(ctx, "AMQP dial failed, retrying",
			log.FieldError, err,
			"attempt", attempt+1,
			"backoff", wait)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, fmt.Errorf("dial AMQP: %w", lastErr)
}

func (c *Client) setup() error {
	err := c.channel.ExchangeDeclare(
		c.exchangeName, // name
		"direct",       // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	if c.queueName == "" {
		return nil
	}

	_, err = c.channel.QueueDeclare(
		c.queueName, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	// Routing key equals the queue name on the direct exchange.
	err = c.channel.QueueBind(
		c.queueName,
		c.queueName,
		c.exchangeName,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	return nil
}

// React publishes a reaction for a command that arrived over AMQP. It
// satisfies the bot's Reactor.
func (c *Client) React(ctx context.Context, roomID, eventID, reaction string) error {
	body, err := NewReactionMessage(roomID, eventID, reaction).ToJSON()
	if err != nil {
		return fmt.Errorf("marshal reaction: %w", err)
	}
	if err := c.publish(ctx, c.reactionKey, body); err != nil {
		return err
	}

	c.logger.DebugContext(ctx, "Published reaction",
		log.FieldRoomID, roomID,
		log.FieldEventID, eventID,
		log.FieldReaction, reaction)
	return nil
}

// PublishOutcome announces a handled command on the outcome routing key.
func (c *Client) PublishOutcome(ctx context.Context, msg *OutcomeEvent) error {
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	if err := c.publish(ctx, c.outcomeKey, body); err != nil {
		return err
	}

	c.logger.DebugContext(ctx, "Published outcome event",
		"id", msg.ID,
		log.FieldEventID, msg.EventID,
		log.FieldOutcome, msg.Outcome)
	return nil
}

func (c *Client) publish(ctx context.Context, routingKey string, body []byte) error {
	if c.isCircuitOpen() {
		return fmt.Errorf("publish to %s: %w", routingKey, ErrCircuitOpen)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	_, err := c.breaker.Execute(func() (interface{}, error) {
		c.publishMu.Lock()
		defer c.publishMu.Unlock()

		if c.channel == nil {
			return nil, errors.New("channel not open")
		}
		return nil, c.channel.PublishWithContext(
			ctx,
			c.exchangeName, // exchange
			routingKey,     // routing key
			false,          // mandatory
			false,          // immediate
			amqp091.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp091.Persistent,
				Timestamp:    time.Now(),
				Body:         body,
			},
		)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("publish to %s: %w", routingKey, ErrCircuitOpen)
	}
	if err != nil {
		return fmt.Errorf("publish to %s: %w", routingKey, err)
	}
	return nil
}

// ConsumeCommands delivers command messages to handler until ctx is done.
// A message is acked once the event it carries has been handled, requeued
// when it is dropped unhandled or handler refuses it, and rejected without
// requeue when malformed.
func (c *Client) ConsumeCommands(ctx context.Context, handler func(context.Context, core.InboundEvent) error) error {
	if c.prefetch > 0 {
		if err := c.channel.Qos(c.prefetch, 0, false); err != nil {
			return fmt.Errorf("set prefetch: %w", err)
		}
	}

	msgs, err := c.channel.Consume(
		c.queueName, // queue
		"",          // consumer
		false,       // auto-ack (we want manual ack)
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	c.logger.InfoContext(ctx, "Started consuming commands", "queue", c.queueName)

	for {
		select {
		case <-ctx.Done():
			c.logger.InfoContext(ctx, "Stopping command consumption", log.FieldReason, ctx.Err())
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed")
			}
			c.deliver(ctx, delivery, handler)
		}
	}
}

func (c *Client) deliver(ctx context.Context, delivery amqp091.Delivery, handler func(context.Context, core.InboundEvent) error) {
	msg, err := CommandMessageFromJSON(delivery.Body)
	if err != nil {
		c.logger.ErrorContext(ctx, "Failed to decode command message",
			log.FieldOperation, log.OpConsume,
			log.FieldError, err,
			"error_type", log.ErrorTypeValidation)
		_ = delivery.Nack(false, false)
		return
	}

	ev := msg.ToEvent(time.Now())
	var once sync.Once
	ev.OnSettled = func(handled bool) {
		once.Do(func() {
			if handled {
				_ = delivery.Ack(false)
				return
			}
			c.logger.Warn("Requeueing unhandled command", log.FieldEventID, ev.EventID)
			_ = delivery.Nack(false, true)
		})
	}

	if err := handler(ctx, ev); err != nil {
		c.logger.ErrorContext(ctx, "Failed to hand over command",
			log.FieldOperation, log.OpConsume,
			log.FieldEventID, ev.EventID,
			log.FieldError, err)
		ev.Settle(false)
	}
}

// Healthy reports whether the broker connection is open and publishing is allowed.
func (c *Client) Healthy() bool {
	return c.conn != nil && !c.conn.IsClosed() && !c.isCircuitOpen()
}

func (c *Client) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) isCircuitOpen() bool {
	return c.breaker.State() == gobreaker.StateOpen
}

// newBreaker trips after maxFailures consecutive publish failures and lets a
// single probe through once timeout has elapsed.
func newBreaker(timeout time.Duration, logger *log.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "amqp-publish",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logger == nil {
				return
			}
			switch to {
			case gobreaker.StateOpen:
				logger.Warn("AMQP circuit breaker opened", "breaker", name, "from", from.String())
			default:
				logger.Info("AMQP circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			}
		},
	})
}

// exponentialBackoff returns 1s doubled per attempt, capped at 30s.
func exponentialBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 5 {
		return maxBackoff
	}
	d := time.Second << uint(attempt)
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"connection refused",
		"connection reset",
		"connection closed",
		"eof",
		"broken pipe",
		"closed network connection",
		"i/o timeout",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
