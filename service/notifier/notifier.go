/*
 * @module service/notifier/notifier
 * @description 校验结果事件通知，定义事件结构与投递契约，支持多通道广播
 * @architecture 适配器模式 - 每种消息通道一个发布器实现
 * @documentReference ai_docs/rule_engine_req.md
 * @stateFlow 校验完成 -> 事件构造 -> 通道投递
 * @rules 事件投递失败不影响校验主流程；多通道投递彼此独立
 * @dependencies encoding/json
 * @refs service/rule_engine/service.go
 */

package notifier

import (
	"log/slog"
	"time"

	"ruleengine-service/service/models"
)

// ValidationEvent 校验结果事件
type ValidationEvent struct {
	DatasetID       string    `json:"dataset_id"`
	TotalRules      int       `json:"total_rules"`
	PassedRules     int       `json:"passed_rules"`
	FailedRules     int       `json:"failed_rules"`
	TotalViolations int       `json:"total_violations"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// EventPublisher 单通道事件发布器
type EventPublisher interface {
	Publish(event *ValidationEvent) error
	Close() error
}

// Notifier 多通道事件通知器，实现规则引擎的通知契约
type Notifier struct {
	publishers []EventPublisher
}

// NewNotifier 创建事件通知器
func NewNotifier(publishers ...EventPublisher) *Notifier {
	return &Notifier{publishers: publishers}
}

// AddPublisher 追加一个发布通道
func (n *Notifier) AddPublisher(publisher EventPublisher) {
	n.publishers = append(n.publishers, publisher)
}

// PublishValidationResult 将校验报告广播到全部通道
// 单通道失败只记录日志，不中断其余通道
func (n *Notifier) PublishValidationResult(datasetID string, report *models.ValidationReport) error {
	event := &ValidationEvent{
		DatasetID:       datasetID,
		TotalRules:      report.TotalRules,
		PassedRules:     report.PassedRules,
		FailedRules:     report.FailedRules,
		TotalViolations: report.TotalViolations,
		OccurredAt:      time.Now(),
	}

	for _, publisher := range n.publishers {
		if err := publisher.Publish(event); err != nil {
			slog.Warn("校验事件投递失败", "dataset_id", datasetID, "error", err)
		}
	}
	return nil
}

// Close 关闭全部发布通道
func (n *Notifier) Close() {
	for _, publisher := range n.publishers {
		if err := publisher.Close(); err != nil {
			slog.Warn("关闭事件发布器失败", "error", err)
		}
	}
}
