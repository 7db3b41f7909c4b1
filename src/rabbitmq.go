package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"

	"geo-contacts/src/pipeline"
	"geo-contacts/src/records"
)

// Message types of an edge stream. A stream is an optional header message, any number of
// row messages and one end-of-stream message.
const (
	msgHeader = "header"
	msgRow    = "row"
	msgEOS    = "eos"
)

// RabbitMQConfig holds RabbitMQ connection configuration
type RabbitMQConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Queue    string
}

func (c RabbitMQConfig) validate() error {
	switch {
	case c.Host == "":
		return errors.New("rabbitmq: empty host")
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("rabbitmq: invalid port %d", c.Port)
	case c.Queue == "":
		return errors.New("rabbitmq: empty queue name")
	}
	return nil
}

// URL returns the amqp connection URL with escaped credentials.
func (c RabbitMQConfig) URL() string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(c.Username, c.Password),
		Host:   c.Host + ":" + strconv.Itoa(c.Port),
		Path:   "/",
	}
	return u.String()
}

// RabbitMQ is a connection with one declared, durable queue.
type RabbitMQ struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   amqp.Queue
	config  RabbitMQConfig
}

// NewRabbitMQ creates a new RabbitMQ connection
func NewRabbitMQ(config RabbitMQConfig) (*RabbitMQ, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}

	conn, err := amqp.Dial(config.URL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	q, err := ch.QueueDeclare(
		config.Queue, // name
		true,         // durable
		false,        // delete when unused
		false,        // exclusive
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	return &RabbitMQ{
		conn:    conn,
		channel: ch,
		queue:   q,
		config:  config,
	}, nil
}

// Close closes the RabbitMQ connection
func (r *RabbitMQ) Close() error {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

// GetQueueInfo returns information about the queue
func (r *RabbitMQ) GetQueueInfo() (map[string]interface{}, error) {
	queue, err := r.channel.QueueInspect(r.config.Queue)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect queue: %w", err)
	}

	return map[string]interface{}{
		"name":      queue.Name,
		"messages":  queue.Messages,
		"consumers": queue.Consumers,
	}, nil
}

func (r *RabbitMQ) publish(ctx context.Context, kind, body string) error {
	return r.channel.PublishWithContext(ctx,
		"",           // exchange
		r.queue.Name, // routing key
		false,        // mandatory
		false,        // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "text/csv",
			Type:         kind,
			Body:         []byte(body),
		})
}

// PublishLines sends every line of in as one row message. When the input has a header, its
// first line is sent as the header message if sendHeader is set and dropped otherwise, so
// several shards can form one stream.
func (r *RabbitMQ) PublishLines(ctx context.Context, in io.Reader, header, sendHeader bool) (int, error) {
	scanner := bufio.NewScanner(records.StripNUL(in))
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	sent := 0
	first := header
	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		kind := msgRow
		if first {
			first = false
			if !sendHeader {
				continue
			}
			kind = msgHeader
		} else if line == "" {
			continue
		}
		if err := r.publish(ctx, kind, line); err != nil {
			return sent, fmt.Errorf("failed to publish: %w", err)
		}
		sent++
	}
	return sent, scanner.Err()
}

// EndStream publishes the end-of-stream message.
func (r *RabbitMQ) EndStream(ctx context.Context) error {
	return r.publish(ctx, msgEOS, "")
}

// EdgeSource consumes the queue as an edge stream.
func (r *RabbitMQ) EdgeSource(cfg pipeline.ReaderConfig) (*deliverySource, error) {
	msgs, err := r.channel.Consume(
		r.queue.Name, // queue
		"",           // consumer
		true,         // auto-ack
		false,        // exclusive
		false,        // no-local
		false,        // no-wait
		nil,          // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register a consumer: %w", err)
	}
	return newDeliverySource(msgs, cfg)
}

// deliverySource decodes row messages into edges until the end-of-stream message.
type deliverySource struct {
	*pipeline.LineDecoder
	msgs <-chan amqp.Delivery
}

func newDeliverySource(msgs <-chan amqp.Delivery, cfg pipeline.ReaderConfig) (*deliverySource, error) {
	d, err := pipeline.NewLineDecoder(cfg)
	if err != nil {
		return nil, err
	}
	return &deliverySource{LineDecoder: d, msgs: msgs}, nil
}

// Next returns the next well-formed edge of the stream.
func (s *deliverySource) Next(ctx context.Context) (records.Edge, error) {
	for {
		var d amqp.Delivery
		var ok bool
		select {
		case <-ctx.Done():
			return records.Edge{}, ctx.Err()
		case d, ok = <-s.msgs:
		}
		if !ok {
			return records.Edge{}, errors.New("rabbitmq: delivery channel closed before end of stream")
		}

		switch d.Type {
		case msgEOS:
			return records.Edge{}, io.EOF
		case msgHeader:
			if err := s.BindHeader(string(d.Body)); err != nil {
				return records.Edge{}, err
			}
		default:
			if !s.Bound() {
				return records.Edge{}, fmt.Errorf("%w: row message before header", records.ErrSchemaMismatch)
			}
			if edge, ok := s.Accept(string(d.Body)); ok {
				return edge, nil
			}
		}
	}
}
