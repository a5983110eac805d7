package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaProducer manages one writer per outbox topic. The outbox routes two
// event streams, normalized-batch events and credential state transitions;
// writers are created lazily so a deployment that never emits one of them
// never dials its topic.
type KafkaProducer struct {
	brokers      []string
	batchTimeout time.Duration
	mu           sync.Mutex
	writers      map[string]*kafka.Writer
}

// NewKafkaProducer creates a KafkaProducer. batchTimeout bounds how long a
// writer buffers before flushing; zero falls back to one second, which keeps
// credential state transitions visible to downstream consumers promptly.
func NewKafkaProducer(brokers []string, batchTimeout time.Duration) *KafkaProducer {
	if batchTimeout <= 0 {
		batchTimeout = time.Second
	}
	return &KafkaProducer{
		brokers:      brokers,
		batchTimeout: batchTimeout,
		writers:      make(map[string]*kafka.Writer),
	}
}

// WriteMessages writes messages to the given topic, creating a writer if necessary.
func (p *KafkaProducer) WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error {
	writer := p.writerForTopic(topic)
	return writer.WriteMessages(ctx, msgs...)
}

func (p *KafkaProducer) writerForTopic(topic string) *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()

	if writer, ok := p.writers[topic]; ok {
		return writer
	}

	// Messages are keyed by owner id; hashing pins each owner to one
	// partition so credential transitions and batch events replay in order.
	writer := &kafka.Writer{
		Addr:         kafka.TCP(p.brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
		BatchTimeout: p.batchTimeout,
		Async:        false,
	}
	p.writers[topic] = writer
	return writer
}

// Close releases all writers.
func (p *KafkaProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for topic, writer := range p.writers {
		if err := writer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.writers, topic)
	}
	return firstErr
}
