package notifications

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// KafkaConfig holds configuration for the Kafka broker.
type KafkaConfig struct {
	Brokers           []string // list of broker addresses
	ConsumerGroup     string   // default consumer group ID
	Partitions        int
	ReplicationFactor int
	Redelivery        RedeliveryPolicy
}

// KafkaBroker implements MessageBroker on Apache Kafka. Offsets are
// committed only after a handler settles a message, so a crash between
// processing and commit causes redelivery.
type KafkaBroker struct {
	config KafkaConfig
	writer *kafka.Writer
	conn   *connManager

	mu     sync.Mutex
	subs   map[string]*kafkaSubscription
	topics map[string]struct{}
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type kafkaSubscription struct {
	id      string
	topic   string
	group   string
	handler Handler
	cancel  context.CancelFunc
}

// NewKafkaBroker creates a KafkaBroker. No connection is made until the
// first DeclareTopology, Publish or Subscribe.
func NewKafkaBroker(config KafkaConfig) (*KafkaBroker, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("at least one Kafka broker address is required")
	}
	if config.ConsumerGroup == "" {
		config.ConsumerGroup = "etracking-notifications"
	}
	if config.Partitions <= 0 {
		config.Partitions = 1
	}
	if config.ReplicationFactor <= 0 {
		config.ReplicationFactor = 1
	}
	config.Redelivery = config.Redelivery.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())

	b := &KafkaBroker{
		config: config,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(config.Brokers...),
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireAll,
		},
		subs:   make(map[string]*kafkaSubscription),
		topics: make(map[string]struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	b.conn = newConnManager("kafka", b.dial)
	return b, nil
}

func (b *KafkaBroker) State() ConnState { return b.conn.State() }

func (b *KafkaBroker) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// dial checks connectivity and (re)declares every known topic through the
// cluster controller.
func (b *KafkaBroker) dial(ctx context.Context) error {
	b.mu.Lock()
	topics := make([]string, 0, len(b.topics))
	for t := range b.topics {
		topics = append(topics, t)
	}
	b.mu.Unlock()

	return b.createTopics(ctx, topics)
}

func (b *KafkaBroker) createTopics(ctx context.Context, topics []string) error {
	dialer := &kafka.Dialer{Timeout: 5 * time.Second}

	var (
		conn *kafka.Conn
		err  error
	)
	for _, addr := range b.config.Brokers {
		if conn, err = dialer.DialContext(ctx, "tcp", addr); err == nil {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("dial kafka: %w", err)
	}
	defer conn.Close()

	if len(topics) == 0 {
		return nil
	}

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("find controller: %w", err)
	}
	ctrl, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("dial controller: %w", err)
	}
	defer ctrl.Close()

	configs := make([]kafka.TopicConfig, len(topics))
	for i, t := range topics {
		configs[i] = kafka.TopicConfig{
			Topic:             t,
			NumPartitions:     b.config.Partitions,
			ReplicationFactor: b.config.ReplicationFactor,
		}
	}
	if err := ctrl.CreateTopics(configs...); err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("create topics: %w", err)
	}
	return nil
}

// DeclareTopology creates the topics and their dead-letter topics. They are
// declared again after every reconnect.
func (b *KafkaBroker) DeclareTopology(ctx context.Context, topics ...string) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBrokerClosed
	}
	var fresh []string
	for _, t := range topics {
		for _, name := range []string{t, DeadLetterTopic(t)} {
			if _, ok := b.topics[name]; !ok {
				b.topics[name] = struct{}{}
				fresh = append(fresh, name)
			}
		}
	}
	b.mu.Unlock()

	if err := b.conn.acquire(ctx); err != nil {
		return err
	}
	if len(fresh) == 0 {
		return nil
	}
	if err := b.createTopics(ctx, fresh); err != nil {
		b.conn.invalidate(err)
		return err
	}
	return nil
}

// Publish writes a persistent message and waits for all in-sync replicas.
func (b *KafkaBroker) Publish(ctx context.Context, topic, key string, value []byte) error {
	return b.write(ctx, kafka.Message{Topic: topic, Key: []byte(key), Value: value})
}

func (b *KafkaBroker) write(ctx context.Context, msg kafka.Message) error {
	if b.isClosed() {
		return ErrBrokerClosed
	}
	if err := b.conn.acquire(ctx); err != nil {
		return err
	}
	if err := b.writer.WriteMessages(ctx, msg); err != nil {
		b.conn.invalidate(err)
		return fmt.Errorf("write to kafka: %w", err)
	}
	return nil
}

// Subscribe starts a consumer loop for topic in group. An empty group uses
// the configured default.
func (b *KafkaBroker) Subscribe(ctx context.Context, topic, group string, handler Handler) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return "", ErrBrokerClosed
	}
	if group == "" {
		group = b.config.ConsumerGroup
	}

	subCtx, subCancel := context.WithCancel(b.ctx)
	sub := &kafkaSubscription{
		id:      uuid.New().String(),
		topic:   topic,
		group:   group,
		handler: handler,
		cancel:  subCancel,
	}
	b.subs[sub.id] = sub

	// Stop when either the caller's or the broker's context ends.
	go func() {
		select {
		case <-ctx.Done():
			subCancel()
		case <-subCtx.Done():
		}
	}()

	b.wg.Add(1)
	go b.consumeLoop(subCtx, sub)

	return sub.id, nil
}

// Close stops all consumers and the producer.
func (b *KafkaBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.cancel()
	b.mu.Unlock()

	b.conn.close()
	b.wg.Wait()
	return b.writer.Close()
}

// consumeLoop keeps a reader attached while the connection is Ready and
// rebuilds it after every connection loss.
func (b *KafkaBroker) consumeLoop(ctx context.Context, sub *kafkaSubscription) {
	defer b.wg.Done()
	defer func() {
		b.mu.Lock()
		delete(b.subs, sub.id)
		b.mu.Unlock()
	}()

	for {
		if err := b.conn.acquire(ctx); err != nil {
			return
		}

		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:        b.config.Brokers,
			Topic:          sub.topic,
			GroupID:        sub.group,
			MinBytes:       1,
			MaxBytes:       10e6, // 10MB
			MaxWait:        500 * time.Millisecond,
			CommitInterval: 0,
		})
		err := b.consume(ctx, sub, reader)
		reader.Close()

		if ctx.Err() != nil {
			return
		}
		b.conn.invalidate(err)
	}
}

// consume handles messages until an I/O error. Offsets are committed once a
// message is acked or dead-lettered.
func (b *KafkaBroker) consume(ctx context.Context, sub *kafkaSubscription, reader *kafka.Reader) error {
	policy := b.config.Redelivery
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			return fmt.Errorf("fetch from %s: %w", sub.topic, err)
		}

		for attempt := 1; ; attempt++ {
			d := newDelivery(sub.topic, string(msg.Key), msg.Value, attempt)
			out := runHandler(ctx, sub.handler, d)
			if out == outcomeAck {
				break
			}
			if out == outcomeRequeue && attempt < policy.MaxDeliveries {
				if !sleepCtx(ctx.Done(), policy.backoff(attempt)) {
					return ctx.Err()
				}
				continue
			}

			reason := "rejected"
			if out == outcomeRequeue {
				reason = "max deliveries exceeded"
			}
			log.Printf("kafka consumer %s: dead-lettering %s offset %d: %s", sub.id, sub.topic, msg.Offset, reason)
			dlq := kafka.Message{
				Topic: DeadLetterTopic(sub.topic),
				Key:   msg.Key,
				Value: msg.Value,
				Headers: []kafka.Header{
					{Key: "x-original-topic", Value: []byte(sub.topic)},
					{Key: "x-dead-letter-reason", Value: []byte(reason)},
					{Key: "x-delivery-attempts", Value: []byte(strconv.Itoa(attempt))},
				},
			}
			if err := b.write(ctx, dlq); err != nil {
				return fmt.Errorf("dead-letter %s: %w", sub.topic, err)
			}
			break
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			return fmt.Errorf("commit %s offset %d: %w", sub.topic, msg.Offset, err)
		}
	}
}
