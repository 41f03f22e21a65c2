/*
 * @module service/notifier/mqtt_publisher
 * @description MQTT事件发布器，将校验结果事件发布到按数据集分层的主题
 * @architecture 适配器模式 - 封装第三方MQTT客户端
 * @documentReference ai_docs/rule_engine_req.md
 * @stateFlow 连接建立 -> 事件序列化 -> 主题发布 -> 连接断开
 * @rules 主题形如 rule_engine/validation/{dataset_id}，QoS 1投递
 * @dependencies github.com/eclipse/paho.mqtt.golang, encoding/json
 * @refs service/notifier/notifier.go
 */

package notifier

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTPublisher MQTT事件发布器
type MQTTPublisher struct {
	client      mqtt.Client
	topicPrefix string
}

// NewMQTTPublisher 创建MQTT事件发布器并建立连接
func NewMQTTPublisher(broker, clientID, username, password string) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	if username != "" {
		opts.SetUsername(username)
		opts.SetPassword(password)
	}
	opts.SetCleanSession(true)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("MQTT连接失败: %w", token.Error())
	}

	return &MQTTPublisher{
		client:      client,
		topicPrefix: "rule_engine/validation",
	}, nil
}

// Publish 发布校验事件
func (p *MQTTPublisher) Publish(event *ValidationEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化校验事件失败: %w", err)
	}

	topic := fmt.Sprintf("%s/%s", p.topicPrefix, event.DatasetID)
	token := p.client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("发布校验事件超时 topic=%s", topic)
	}
	if token.Error() != nil {
		return fmt.Errorf("发布校验事件失败: %w", token.Error())
	}
	return nil
}

// Close 断开MQTT连接
func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(250)
	return nil
}
