// Package kafka publishes ledger events to a Kafka topic.
//
// Every event becomes one JSON message keyed by transaction id, so all
// revisions of a transaction land on the same partition in order. Sync
// events carry no transaction and are keyed by kind.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/steveyegge/budgetsync/internal/ledger/reconcile"
)

// DefaultTopic is used when Config.Topic is empty.
const DefaultTopic = "budgetsync.ledger"

// Config holds publisher configuration.
type Config struct {
	// Brokers to bootstrap from (required)
	Brokers []string

	// Topic to write to (default: budgetsync.ledger)
	Topic string

	// Buffer is how many events may wait for the writer before new ones are
	// dropped (default: 256)
	Buffer int

	// WriteTimeout bounds one batch write (default: 10s)
	WriteTimeout time.Duration

	// Logger (default: stderr with "[kafka] " prefix)
	Logger *log.Logger
}

// MessageWriter is the part of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher implements reconcile.Notifier. Notify only enqueues; a
// background goroutine writes batches to Kafka.
type Publisher struct {
	writer  MessageWriter
	timeout time.Duration
	logger  *log.Logger

	mu     sync.RWMutex
	queue  chan kafka.Message
	closed bool
	wg     sync.WaitGroup
}

// NewPublisher creates a publisher writing to cfg.Topic on cfg.Brokers.
func NewPublisher(cfg Config) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return NewPublisherWithWriter(w, cfg), nil
}

// NewPublisherWithWriter creates a publisher on an existing writer. Brokers
// and Topic in cfg are ignored.
func NewPublisherWithWriter(w MessageWriter, cfg Config) *Publisher {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[kafka] ", log.LstdFlags)
	}

	p := &Publisher{
		writer:  w,
		timeout: cfg.WriteTimeout,
		logger:  cfg.Logger,
		queue:   make(chan kafka.Message, cfg.Buffer),
	}
	p.wg.Add(1)
	go p.writeLoop()
	return p
}

// Notify implements reconcile.Notifier. It never blocks; events are dropped
// when the buffer is full or the publisher is closed.
func (p *Publisher) Notify(ev reconcile.Event) {
	msg, err := Encode(ev)
	if err != nil {
		p.logger.Printf("Failed to marshal %s event: %v", ev.Kind, err)
		return
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- msg:
	default:
		p.logger.Printf("Warning: event buffer full, dropping %s event", ev.Kind)
	}
}

// Close flushes queued events and closes the writer.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka writer: %w", err)
	}
	return nil
}

// Encode turns ev into a Kafka message.
func Encode(ev reconcile.Event) (kafka.Message, error) {
	value, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, err
	}
	key := string(ev.Kind)
	if ev.Transaction != nil {
		key = ev.Transaction.ID
	}
	return kafka.Message{
		Key:     []byte(key),
		Value:   value,
		Time:    ev.At,
		Headers: []kafka.Header{{Key: "kind", Value: []byte(ev.Kind)}},
	}, nil
}

// writeLoop writes whatever is queued as one batch, then waits for more.
func (p *Publisher) writeLoop() {
	defer p.wg.Done()

	for msg := range p.queue {
		batch := []kafka.Message{msg}
	drain:
		for len(batch) < cap(p.queue) {
			select {
			case next, ok := <-p.queue:
				if !ok {
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		err := p.writer.WriteMessages(ctx, batch...)
		cancel()
		if err != nil {
			p.logger.Printf("Failed to publish %d events: %v", len(batch), err)
		}
	}
}
