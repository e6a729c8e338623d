package messaging

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rizkirmdhn/memzip/internal/common/config"
	"github.com/sirupsen/logrus"
)

// ErrNotConnected is returned while the client has no open channel
var ErrNotConnected = errors.New("rabbitmq client is not connected")

// Handler processes one delivery. A returned error requeues the message.
type Handler func(msg []byte, routingKey string) error

// Client defines the messaging client interface
type Client interface {
	// PublishJSON publishes a JSON message to the exchange with the given routing key
	PublishJSON(exchange, routingKey string, data interface{}) error

	// DeclareQueue declares a durable queue with the given name
	DeclareQueue(name string) error

	// BindQueue binds a queue to an exchange with the given routing key
	BindQueue(queueName, exchange, routingKey string) error

	// Consume consumes messages from the given queue
	Consume(queueName string, handler Handler) error

	// SetQos sets the prefetch count of the channel
	SetQos(prefetch int) error

	// GetConfig returns the configuration of the client
	GetConfig() *config.RabbitMQConfig

	// Close closes the connection
	Close() error
}

type consumer struct {
	queue   string
	handler Handler
}

// RabbitMQClient implements the Client interface using RabbitMQ
type RabbitMQClient struct {
	config *config.RabbitMQConfig
	log    *logrus.Logger

	mu        sync.Mutex
	conn      *amqp.Connection
	channel   *amqp.Channel
	consumers []consumer
	prefetch  int
	closed    bool
}

// NewRabbitMQClient creates a new RabbitMQ client and declares the topic exchange
func NewRabbitMQClient(cfg *config.RabbitMQConfig, log *logrus.Logger) (*RabbitMQClient, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("rabbitmq URL is required")
	}

	if cfg.Exchange == "" {
		return nil, fmt.Errorf("rabbitmq exchange name is required")
	}

	client := &RabbitMQClient{
		config: cfg,
		log:    log,
	}

	if err := client.connect(); err != nil {
		return nil, err
	}

	return client, nil
}

// connect establishes a connection to RabbitMQ
func (c *RabbitMQClient) connect() error {
	conn, err := amqp.Dial(c.config.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open a channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		c.config.Exchange,        // name
		config.ExchangeTypeTopic, // type
		true,                     // durable
		false,                    // auto-deleted
		false,                    // internal
		false,                    // no-wait
		nil,                      // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to declare an exchange: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.channel = channel
	c.mu.Unlock()

	go c.handleReconnect(conn)

	return nil
}

// handleReconnect reconnects when the connection is lost and restores the consumers
func (c *RabbitMQClient) handleReconnect(conn *amqp.Connection) {
	err, ok := <-conn.NotifyClose(make(chan *amqp.Error, 1))
	if !ok || err == nil {
		// closed on purpose
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.channel = nil
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{
		"component": "rabbitmq",
		"error":     err,
	}).Warn("RabbitMQ connection closed, attempting to reconnect")

	for i := 0; i < c.config.ReconnectRetries; i++ {
		time.Sleep(time.Duration(c.config.ReconnectTimeout) * time.Millisecond)

		if err := c.connect(); err != nil {
			c.log.WithFields(logrus.Fields{
				"component": "rabbitmq",
				"attempt":   fmt.Sprintf("%d/%d", i+1, c.config.ReconnectRetries),
				"error":     err,
			}).Warn("Failed to reconnect to RabbitMQ")
			continue
		}

		if err := c.restore(); err != nil {
			c.log.WithField("component", "rabbitmq").WithError(err).Error("Failed to restore consumers")
		}

		c.log.WithField("component", "rabbitmq").Info("Successfully reconnected to RabbitMQ")
		return
	}

	c.log.WithField("component", "rabbitmq").Error("Failed to reconnect to RabbitMQ after multiple attempts")
}

// restore reapplies the prefetch count and the consumers after a reconnect
func (c *RabbitMQClient) restore() error {
	c.mu.Lock()
	consumers := append([]consumer(nil), c.consumers...)
	prefetch := c.prefetch
	c.mu.Unlock()

	if prefetch > 0 {
		if err := c.SetQos(prefetch); err != nil {
			return err
		}
	}

	for _, cons := range consumers {
		if err := c.consume(cons.queue, cons.handler); err != nil {
			return err
		}
	}
	return nil
}

func (c *RabbitMQClient) ch() (*amqp.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel == nil {
		return nil, ErrNotConnected
	}
	return c.channel, nil
}

// GetConfig returns the configuration of the client
func (c *RabbitMQClient) GetConfig() *config.RabbitMQConfig {
	return c.config
}

// PublishJSON publishes a JSON message to the exchange with the given routing key
func (c *RabbitMQClient) PublishJSON(exchange, routingKey string, data interface{}) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON message: %w", err)
	}

	if exchange == "" {
		exchange = c.config.Exchange
	}

	channel, err := c.ch()
	if err != nil {
		return err
	}

	return channel.Publish(
		exchange,   // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
}

// DeclareQueue declares a queue with the given name
func (c *RabbitMQClient) DeclareQueue(name string) error {
	channel, err := c.ch()
	if err != nil {
		return err
	}

	_, err = channel.QueueDeclare(
		name,  // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	return err
}

// BindQueue binds a queue to an exchange with the given routing key
func (c *RabbitMQClient) BindQueue(queueName, exchange, routingKey string) error {
	if exchange == "" {
		exchange = c.config.Exchange
	}

	channel, err := c.ch()
	if err != nil {
		return err
	}

	return channel.QueueBind(
		queueName,  // queue name
		routingKey, // routing key
		exchange,   // exchange
		false,      // no-wait
		nil,        // arguments
	)
}

// SetQos sets the prefetch count of the channel
func (c *RabbitMQClient) SetQos(prefetch int) error {
	channel, err := c.ch()
	if err != nil {
		return err
	}

	if err := channel.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	c.mu.Lock()
	c.prefetch = prefetch
	c.mu.Unlock()
	return nil
}

// Consume consumes messages from the given queue; the consumer survives reconnects
func (c *RabbitMQClient) Consume(queueName string, handler Handler) error {
	if err := c.consume(queueName, handler); err != nil {
		return err
	}

	c.mu.Lock()
	c.consumers = append(c.consumers, consumer{queue: queueName, handler: handler})
	c.mu.Unlock()
	return nil
}

func (c *RabbitMQClient) consume(queueName string, handler Handler) error {
	// Ensure queue exists
	if err := c.DeclareQueue(queueName); err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	channel, err := c.ch()
	if err != nil {
		return err
	}

	msgs, err := channel.Consume(
		queueName, // queue
		"",        // consumer
		false,     // auto-ack
		false,     // exclusive
		false,     // no-local
		false,     // no-wait
		nil,       // args
	)
	if err != nil {
		return fmt.Errorf("failed to register a consumer: %w", err)
	}

	go func() {
		for msg := range msgs {
			if err := handler(msg.Body, msg.RoutingKey); err != nil {
				c.log.WithFields(logrus.Fields{
					"component":   "rabbitmq",
					"queue":       queueName,
					"routing_key": msg.RoutingKey,
					"error":       err,
				}).Error("Error processing message")
				// Negative acknowledgement, message will be requeued
				msg.Nack(false, true)
				continue
			}
			msg.Ack(false)
		}
	}()

	return nil
}

// Close closes the connection and channel
func (c *RabbitMQClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true

	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}

	if c.conn != nil {
		return c.conn.Close()
	}

	return nil
}

// Binding routes a set of keys into a queue
type Binding struct {
	Queue       string
	RoutingKeys []string
}

// Topology returns the queues and bindings shared by the worker and the web panel
func Topology(cfg *config.RabbitMQConfig) []Binding {
	return []Binding{
		{Queue: cfg.Queue.Downloader, RoutingKeys: []string{config.RoutingCommandDownloader}},
		{Queue: cfg.Queue.Log, RoutingKeys: []string{config.RoutingLogDownloader}},
	}
}

// DeclareTopology declares every queue of the topology and binds it to the exchange
func DeclareTopology(c Client) error {
	cfg := c.GetConfig()

	for _, b := range Topology(cfg) {
		if err := c.DeclareQueue(b.Queue); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", b.Queue, err)
		}

		for _, key := range b.RoutingKeys {
			if err := c.BindQueue(b.Queue, cfg.Exchange, key); err != nil {
				return fmt.Errorf("failed to bind queue %s to exchange %s with key %s: %w", b.Queue, cfg.Exchange, key, err)
			}
		}
	}

	return nil
}
