// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"agstack-go/internal/config"
	"agstack-go/pkg/events"
	"agstack-go/pkg/log"

	"github.com/segmentio/kafka-go"
)

// Producer 发布领域事件。
type Producer interface {
	Publish(ctx context.Context, evt events.Event) error
	Close() error
}

type writerProducer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。未配置 brokers 时返回不做任何事的实现。
func NewProducer(cfg config.KafkaConfig) Producer {
	if strings.TrimSpace(cfg.Brokers) == "" {
		log.Info("未配置 Kafka brokers，事件发布已关闭")
		return NopProducer{}
	}
	brokers := strings.Split(cfg.Brokers, ",")
	for i := range brokers {
		brokers[i] = strings.TrimSpace(brokers[i])
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	log.Infof("Kafka 生产者初始化成功, topic=%s", cfg.Topic)
	return &writerProducer{writer: w}
}

// Publish 发送一个事件到 Kafka。
func (p *writerProducer) Publish(ctx context.Context, evt events.Event) error {
	value, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(evt.Key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(evt.Type)},
		},
	})
}

func (p *writerProducer) Close() error {
	return p.writer.Close()
}

// NopProducer 丢弃所有事件。
type NopProducer struct{}

func (NopProducer) Publish(context.Context, events.Event) error { return nil }
func (NopProducer) Close() error                                { return nil }
