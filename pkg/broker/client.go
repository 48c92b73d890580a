package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Config holds the broker connection and topology settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	VHost    string

	Exchange string
	Queue    string

	// RetryDelay is how long a failed message sits in the delay queue
	// before coming back to the main queue.
	RetryDelay time.Duration
	// MaxRetries bounds delayed redeliveries before the message is dead
	// lettered for good.
	MaxRetries int
}

func (c Config) url() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/%s", c.User, c.Password, c.Host, c.Port, c.VHost)
}

func (c Config) dlxExchange() string {
	return c.Exchange + ".dlx"
}

func (c Config) delayExchange() string {
	return c.Exchange + ".delay"
}

func (c Config) delayQueue() string {
	return c.Queue + ".delay"
}

func (c Config) deadLetterQueue() string {
	return "dead_letter_queue"
}

// Client owns one AMQP connection and its channel.
type Client struct {
	cfg     Config
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  ectologger.Logger
}

// NewClient dials the broker and declares the whole topology: the durable
// direct exchange and main queue, the delay pair that feeds retries back,
// and the fanout DLX with its terminal queue.
func NewClient(cfg Config, logger ectologger.Logger) (*Client, error) {
	conn, err := amqp.Dial(cfg.url())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	c := &Client{cfg: cfg, conn: conn, channel: channel, logger: logger}
	if err := c.declareTopology(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) declareTopology() error {
	if err := c.channel.ExchangeDeclare(c.cfg.Exchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}
	if err := c.channel.ExchangeDeclare(c.cfg.delayExchange(), "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare delay exchange: %w", err)
	}
	if err := c.channel.ExchangeDeclare(c.cfg.dlxExchange(), "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dead letter exchange: %w", err)
	}

	_, err := c.channel.QueueDeclare(c.cfg.Queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange": c.cfg.dlxExchange(),
	})
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := c.channel.QueueBind(c.cfg.Queue, c.cfg.Queue, c.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	// Messages expiring here dead-letter back to the main exchange, which
	// is what produces the delayed retry.
	_, err = c.channel.QueueDeclare(c.cfg.delayQueue(), true, false, false, false, amqp.Table{
		"x-message-ttl":             c.cfg.RetryDelay.Milliseconds(),
		"x-dead-letter-exchange":    c.cfg.Exchange,
		"x-dead-letter-routing-key": c.cfg.Queue,
	})
	if err != nil {
		return fmt.Errorf("failed to declare delay queue: %w", err)
	}
	if err := c.channel.QueueBind(c.cfg.delayQueue(), c.cfg.Queue, c.cfg.delayExchange(), false, nil); err != nil {
		return fmt.Errorf("failed to bind delay queue: %w", err)
	}

	_, err = c.channel.QueueDeclare(c.cfg.deadLetterQueue(), true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare dead letter queue: %w", err)
	}
	if err := c.channel.QueueBind(c.cfg.deadLetterQueue(), "", c.cfg.dlxExchange(), false, nil); err != nil {
		return fmt.Errorf("failed to bind dead letter queue: %w", err)
	}

	return nil
}

// Ping checks the connection is alive.
func (c *Client) Ping(ctx context.Context) error {
	if c.conn == nil || c.conn.IsClosed() {
		return fmt.Errorf("broker connection is closed")
	}
	return nil
}

// Close tears down the channel and connection.
func (c *Client) Close() error {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
