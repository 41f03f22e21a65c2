/*
 * @module service/models/rule
 * @description 业务规则模型定义，规则是针对数据集的命名条件，带有严重级别、类型和来源元数据
 * @architecture 分层架构 - 数据模型层
 * @documentReference ai_docs/rule_engine_req.md
 * @stateFlow 规则创建 -> 条件校验 -> 持久化 -> 执行统计更新 -> 删除
 * @rules 规则条件必须在持久化前通过编译校验；所有变更操作刷新 updated_at
 * @dependencies gorm.io/gorm, github.com/google/uuid, github.com/lib/pq
 * @refs service/rule_engine/rule_store.go
 */

package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// 规则类型
const (
	RuleTypeValidation     = "validation"
	RuleTypeTransformation = "transformation"
	RuleTypeEnrichment     = "enrichment"
)

// 严重级别
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// 规则来源，决定执行策略的分发
const (
	SourceExpression  = "expression"
	SourceExpectation = "expectation"
	SourceSchema      = "schema"
	SourceClassifier  = "classifier"
	SourceManual      = "manual"
	SourceAI          = "ai"
)

// QualityRule 数据集业务规则模型
type QualityRule struct {
	ID             string         `gorm:"type:uuid;primary_key" json:"id"`
	Name           string         `gorm:"not null" json:"name"`
	Description    string         `json:"description"`
	RuleType       string         `gorm:"not null;default:'validation'" json:"rule_type"` // validation/transformation/enrichment
	Severity       string         `gorm:"not null;default:'medium'" json:"severity"`      // low/medium/high
	Source         string         `gorm:"not null;default:'expression'" json:"source"`    // expression/expectation/schema/classifier/manual/ai
	Condition      string         `gorm:"type:text;not null" json:"condition"`
	Action         JSONB          `gorm:"type:jsonb" json:"action,omitempty"`
	Message        string         `json:"message"`
	DatasetID      string         `gorm:"not null;index" json:"dataset_id"`
	ExecutionOrder int            `gorm:"not null;default:0" json:"execution_order"`
	IsEnabled      bool           `gorm:"not null;default:true" json:"is_enabled"`
	ModelGenerated bool           `gorm:"not null;default:false" json:"model_generated"`
	Confidence     float64        `gorm:"not null;default:1.0" json:"confidence"`
	Tags           pq.StringArray `gorm:"type:text[]" json:"tags,omitempty"`
	ExecutionCount int64          `gorm:"not null;default:0" json:"execution_count"`
	SuccessCount   int64          `gorm:"not null;default:0" json:"success_count"`
	SuccessRate    float64        `gorm:"not null;default:0" json:"success_rate"`
	CreatedAt      time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	CreatedBy      string         `gorm:"not null;default:'system';size:100" json:"created_by"`
	UpdatedAt      time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
	UpdatedBy      string         `gorm:"not null;default:'system';size:100" json:"updated_by"`
}

// BeforeCreate 创建前钩子
func (r *QualityRule) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.RuleType == "" {
		r.RuleType = RuleTypeValidation
	}
	if r.Severity == "" {
		r.Severity = SeverityMedium
	}
	if r.Source == "" {
		r.Source = SourceExpression
	}
	if r.Confidence == 0 && !r.ModelGenerated {
		r.Confidence = 1.0
	}
	if r.CreatedBy == "" {
		r.CreatedBy = "system"
	}
	if r.UpdatedBy == "" {
		r.UpdatedBy = "system"
	}
	return nil
}

// BeforeUpdate 更新前钩子
func (r *QualityRule) BeforeUpdate(tx *gorm.DB) error {
	if r.UpdatedBy == "" {
		r.UpdatedBy = "system"
	}
	return nil
}

// IsValidRuleType 校验规则类型
func IsValidRuleType(t string) bool {
	switch t {
	case RuleTypeValidation, RuleTypeTransformation, RuleTypeEnrichment:
		return true
	}
	return false
}

// IsValidSeverity 校验严重级别
func IsValidSeverity(s string) bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	}
	return false
}

// IsValidSource 校验规则来源
func IsValidSource(s string) bool {
	switch s {
	case SourceExpression, SourceExpectation, SourceSchema, SourceClassifier, SourceManual, SourceAI, "":
		return true
	}
	return false
}
