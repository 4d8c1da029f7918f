package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	defaultKafkaQueue   = 256
	defaultKafkaTimeout = 5 * time.Second
)

// MessageWriter 是 kafka.Writer 中本包使用的部分。
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink 异步把事件以 JSON 写入 Kafka 主题，队列满时丢弃并记录日志。
type KafkaSink struct {
	writer  MessageWriter
	logger  *slog.Logger
	timeout time.Duration

	mu      sync.RWMutex
	closed  bool
	queue   chan Event
	stopped chan struct{}
}

// NewKafkaSink 创建写入 brokers/topic 的 KafkaSink。
func NewKafkaSink(brokers []string, topic string, logger *slog.Logger) (*KafkaSink, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, errors.New("telemetry: kafka brokers and topic are required")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 100 * time.Millisecond,
	}
	return NewKafkaSinkWithWriter(writer, logger), nil
}

// NewKafkaSinkWithWriter 使用自定义 writer 创建 KafkaSink。
func NewKafkaSinkWithWriter(writer MessageWriter, logger *slog.Logger) *KafkaSink {
	if logger == nil {
		logger = slog.Default()
	}
	s := &KafkaSink{
		writer:  writer,
		logger:  logger,
		timeout: defaultKafkaTimeout,
		queue:   make(chan Event, defaultKafkaQueue),
		stopped: make(chan struct{}),
	}
	go s.run()
	return s
}

// Emit 把事件放入发送队列。
func (s *KafkaSink) Emit(_ context.Context, event Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- event:
	default:
		s.logger.Warn("telemetry kafka queue full, event dropped", "action", event.Action)
	}
}

func (s *KafkaSink) run() {
	defer close(s.stopped)
	for event := range s.queue {
		value, err := json.Marshal(event)
		if err != nil {
			s.logger.Warn("telemetry event encode failed", "error", err)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		err = s.writer.WriteMessages(ctx, kafka.Message{Key: []byte(event.Category), Value: value})
		cancel()
		if err != nil {
			s.logger.Warn("telemetry kafka write failed", "action", event.Action, "error", err)
		}
	}
}

// Close 停止接收事件，发送完队列中剩余事件后关闭 writer。
func (s *KafkaSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	<-s.stopped
	return s.writer.Close()
}
