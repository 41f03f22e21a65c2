/*
 * @module service/models/rule_engine_models
 * @description 规则引擎运行时模型定义，包括违规记录、执行结果、校验报告、规则建议和执行指标
 * @architecture 分层架构 - 数据模型层
 * @documentReference ai_docs/rule_engine_req.md
 * @stateFlow 规则执行 -> 违规收集 -> 报告聚合 -> 指标记录
 * @rules 违规记录为瞬态输出不入库；执行/生成指标为追加写入，插入后不再变更
 * @dependencies gorm.io/gorm, github.com/google/uuid
 * @refs service/rule_engine/pipeline.go, service/rule_engine/metrics_recorder.go
 */

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MaxSampledViolations 单条规则在报告中保留的违规样本上限
const MaxSampledViolations = 10

// RuleViolation 单条违规记录，规则执行的瞬态输出
type RuleViolation struct {
	RowIndex *int                   `json:"row_index,omitempty"`
	Message  string                 `json:"message"`
	Record   map[string]interface{} `json:"record,omitempty"`
}

// RuleExecutionResult 单条规则的执行结果
type RuleExecutionResult struct {
	RuleID         string          `json:"rule_id"`
	RuleName       string          `json:"rule_name"`
	Severity       string          `json:"severity"`
	RuleType       string          `json:"rule_type"`
	Source         string          `json:"source"`
	Success        bool            `json:"success"`
	Message        string          `json:"message,omitempty"`
	ViolationCount int             `json:"violation_count"`
	Violations     []RuleViolation `json:"violations,omitempty"`

	// FailingRows 完整的违规行号集合，用于高严重级别过滤，不随样本截断
	FailingRows []int `json:"-"`
	// ProcessedRecords 转换/丰富类规则的输出记录
	ProcessedRecords []map[string]interface{} `json:"-"`
}

// ValidationReport 规则批量执行的聚合报告
type ValidationReport struct {
	DatasetID       string                `json:"dataset_id"`
	TotalRules      int                   `json:"total_rules"`
	PassedRules     int                   `json:"passed_rules"`
	FailedRules     int                   `json:"failed_rules"`
	TotalViolations int                   `json:"total_violations"`
	Results         []RuleExecutionResult `json:"results"`
}

// ValidationOutput 带过滤的数据校验输出
type ValidationOutput struct {
	Report          *ValidationReport        `json:"report"`
	FilteredRecords []map[string]interface{} `json:"filtered_records"`
	SkippedCount    int                      `json:"skipped_count"`
	Suggestions     []RuleSuggestion         `json:"suggestions,omitempty"`
	EstimatedImpact *SuggestionImpact        `json:"estimated_impact,omitempty"`
}

// SuggestionImpact 建议生成时的外推影响估计
type SuggestionImpact struct {
	SampleSize          int     `json:"sample_size"`
	TotalRecords        int     `json:"total_records"`
	SampleViolations    int     `json:"sample_violations"`
	EstimatedViolations float64 `json:"estimated_violations"`
}

// RuleSuggestion 由样本数据推断出的候选规则，未持久化
type RuleSuggestion struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	RuleType       string    `json:"rule_type"`
	Severity       string    `json:"severity"`
	Source         string    `json:"source"`
	Condition      string    `json:"condition"`
	Message        string    `json:"message"`
	DatasetID      string    `json:"dataset_id"`
	Confidence     float64   `json:"confidence"`
	Tags           []string  `json:"tags"`
	ModelGenerated bool      `json:"model_generated"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// SuggestionResult 建议生成结果，空样本时 Empty 置位而不报错
type SuggestionResult struct {
	DatasetID   string           `json:"dataset_id"`
	Empty       bool             `json:"empty"`
	Suggestions []RuleSuggestion `json:"suggestions"`
}

// ColumnMeta 外部生成引擎使用的列元信息
type ColumnMeta struct {
	Name       string                 `json:"name"`
	DataType   string                 `json:"data_type"`
	Nullable   bool                   `json:"nullable"`
	Statistics map[string]interface{} `json:"statistics,omitempty"`
}

// RuleExecutionMetric 规则执行指标，追加写入
type RuleExecutionMetric struct {
	ID              string    `gorm:"type:uuid;primary_key" json:"id"`
	RuleID          string    `gorm:"not null;index" json:"rule_id"`
	DatasetID       string    `gorm:"not null;index" json:"dataset_id"`
	Success         bool      `gorm:"not null" json:"success"`
	ViolationCount  int       `gorm:"not null;default:0" json:"violation_count"`
	ExecutionTimeMs int64     `gorm:"not null;default:0" json:"execution_time_ms"`
	Meta            JSONB     `gorm:"type:jsonb" json:"meta,omitempty"`
	CreatedAt       time.Time `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
}

// BeforeCreate 创建前钩子
func (m *RuleExecutionMetric) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

// RuleGenerationMetric 规则生成指标，追加写入
type RuleGenerationMetric struct {
	ID        string    `gorm:"type:uuid;primary_key" json:"id"`
	DatasetID string    `gorm:"not null;index" json:"dataset_id"`
	Engine    string    `gorm:"not null" json:"engine"`
	RuleCount int       `gorm:"not null;default:0" json:"rule_count"`
	Success   bool      `gorm:"not null" json:"success"`
	Meta      JSONB     `gorm:"type:jsonb" json:"meta,omitempty"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
}

// BeforeCreate 创建前钩子
func (m *RuleGenerationMetric) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

// RuleMetricsSummary 规则维度的指标聚合
type RuleMetricsSummary struct {
	RuleID          string  `json:"rule_id"`
	RuleName        string  `json:"rule_name,omitempty"`
	ExecutionCount  int64   `json:"execution_count"`
	SuccessCount    int64   `json:"success_count"`
	SuccessRate     float64 `json:"success_rate"`
	AvgExecutionMs  float64 `json:"avg_execution_ms"`
	TotalViolations int64   `json:"total_violations"`
}

// MetricsTrendPoint 按天聚合的趋势点
type MetricsTrendPoint struct {
	Date            string  `json:"date"`
	ExecutionCount  int64   `json:"execution_count"`
	SuccessRate     float64 `json:"success_rate"`
	TotalViolations int64   `json:"total_violations"`
}

// DatasetMetricsReport 数据集维度的指标报告
type DatasetMetricsReport struct {
	DatasetID   string               `json:"dataset_id"`
	TimePeriod  string               `json:"time_period"`
	Rules       []RuleMetricsSummary `json:"rules"`
	Trend       []MetricsTrendPoint  `json:"trend"`
	SuccessRate float64              `json:"success_rate"`
}

// BatchCreateResult 批量创建结果，逐条隔离失败
type BatchCreateResult struct {
	Created      []QualityRule     `json:"created"`
	Failed       []BatchFailedItem `json:"failed"`
	TotalCreated int               `json:"total_created"`
	TotalFailed  int               `json:"total_failed"`
	Success      bool              `json:"success"`
}

// BatchFailedItem 批量操作中单条失败的原因
type BatchFailedItem struct {
	Index  int    `json:"index"`
	Name   string `json:"name,omitempty"`
	Reason string `json:"reason"`
}
