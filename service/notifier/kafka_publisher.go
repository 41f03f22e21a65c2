/*
 * @module service/notifier/kafka_publisher
 * @description Kafka事件发布器，将校验结果事件写入指定topic
 * @architecture 适配器模式 - 封装第三方Kafka客户端
 * @documentReference ai_docs/rule_engine_req.md
 * @stateFlow 连接建立 -> 事件序列化 -> 消息发送 -> 连接关闭
 * @rules 按数据集ID做消息键保证同数据集事件有序
 * @dependencies github.com/segmentio/kafka-go, encoding/json
 * @refs service/notifier/notifier.go
 */

package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaPublisher Kafka事件发布器
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher 创建Kafka事件发布器
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 100 * time.Millisecond,
		},
	}
}

// Publish 发送校验事件
func (p *KafkaPublisher) Publish(event *ValidationEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化校验事件失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.DatasetID),
		Value: payload,
		Time:  event.OccurredAt,
	}); err != nil {
		return fmt.Errorf("发送校验事件失败: %w", err)
	}
	return nil
}

// Close 关闭生产者
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
