// Package publish emits decided races to downstream consumers, either a Kafka
// topic or JSON lines on a writer.
package publish

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	DriverKafka = "kafka"
	DriverStdio = "stdio"
	DriverNone  = "none"

	DefaultTopic = "winners"
)

var ErrInvalidConfig = errors.New("publish: invalid config")

// Producer publishes keyed records.
type Producer interface {
	Publish(ctx context.Context, topic string, key, payload []byte) error
	Close() error
}

type Config struct {
	Driver string
	Topic  string

	// Kafka fields.
	Brokers      []string
	BatchTimeout time.Duration
	TLS          bool

	// Stdio fields.
	Writer io.Writer
}

// NewProducer creates a producer for the configured driver.
func NewProducer(cfg Config) (Producer, error) {
	switch NormalizeDriver(cfg.Driver) {
	case DriverKafka:
		return newKafkaProducer(cfg)
	case DriverStdio:
		return newStdioProducer(cfg), nil
	case DriverNone:
		return nopProducer{}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported driver %q", ErrInvalidConfig, cfg.Driver)
	}
}

func NormalizeDriver(v string) string {
	v = strings.TrimSpace(strings.ToLower(v))
	if v == "" || v == "disabled" {
		return DriverNone
	}
	return v
}

// SplitCommaList splits "a, b,,c" into [a b c].
func SplitCommaList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return normalizeList(strings.Split(s, ","))
}

func normalizeList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

type kafkaProducer struct {
	writer *kafka.Writer
}

func newKafkaProducer(cfg Config) (Producer, error) {
	brokers := normalizeList(cfg.Brokers)
	if len(brokers) == 0 {
		return nil, fmt.Errorf("%w: kafka producer requires at least one broker", ErrInvalidConfig)
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 10 * time.Millisecond
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: batchTimeout,
		RequiredAcks: kafka.RequireAll,
	}
	if cfg.TLS {
		writer.Transport = &kafka.Transport{
			TLS: &tls.Config{MinVersion: tls.VersionTLS12},
		}
	}
	return &kafkaProducer{writer: writer}, nil
}

func (p *kafkaProducer) Publish(ctx context.Context, topic string, key, payload []byte) error {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return errors.New("publish: topic is required")
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Topic: topic, Key: key, Value: payload})
}

func (p *kafkaProducer) Close() error { return p.writer.Close() }

type stdioProducer struct {
	w io.Writer
	m sync.Mutex
}

func newStdioProducer(cfg Config) Producer {
	w := cfg.Writer
	if w == nil {
		w = os.Stdout
	}
	return &stdioProducer{w: w}
}

// Publish writes payload as one line; topic and key are not part of the
// stdio framing.
func (p *stdioProducer) Publish(_ context.Context, _ string, _ []byte, payload []byte) error {
	p.m.Lock()
	defer p.m.Unlock()
	if _, err := p.w.Write(payload); err != nil {
		return err
	}
	_, err := p.w.Write([]byte("\n"))
	return err
}

func (p *stdioProducer) Close() error { return nil }

type nopProducer struct{}

func (nopProducer) Publish(context.Context, string, []byte, []byte) error { return nil }
func (nopProducer) Close() error                                         { return nil }
