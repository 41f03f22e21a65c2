/*
 * @module testutil/test_helper
 * @description 测试工具和辅助函数
 * @architecture 测试基础设施 - 提供测试通用工具和数据工厂
 * @documentReference ai_docs/rule_engine_req.md
 * @stateFlow 测试环境初始化 -> 测试数据创建 -> 测试执行 -> 清理资源
 * @rules 提供可重用的测试工具，确保测试环境的一致性
 * @dependencies gorm, sqlite, testify, time
 * @refs service/models
 */

package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ruleengine-service/service/models"

	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// TestDB 测试数据库配置
type TestDB struct {
	DB *gorm.DB
}

// NewTestDB 创建测试数据库
func NewTestDB() *TestDB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		panic(fmt.Sprintf("failed to connect test database: %v", err))
	}

	// 自动迁移所有模型
	err = db.AutoMigrate(
		&models.QualityRule{},
		&models.RuleExecutionMetric{},
		&models.RuleGenerationMetric{},
	)
	if err != nil {
		panic(fmt.Sprintf("failed to migrate test database: %v", err))
	}

	return &TestDB{DB: db}
}

// CleanDB 清理数据库
func (tdb *TestDB) CleanDB() {
	tables := []string{
		"quality_rules",
		"rule_execution_metrics",
		"rule_generation_metrics",
	}

	for _, table := range tables {
		tdb.DB.Exec(fmt.Sprintf("DELETE FROM %s", table))
	}
}

// Close 关闭数据库连接
func (tdb *TestDB) Close() {
	if db, err := tdb.DB.DB(); err == nil {
		db.Close()
	}
}

// TestDataFactory 测试数据工厂
type TestDataFactory struct {
	DB *gorm.DB
}

// NewTestDataFactory 创建测试数据工厂
func NewTestDataFactory(db *gorm.DB) *TestDataFactory {
	return &TestDataFactory{DB: db}
}

// RuleOption 规则选项函数类型
type RuleOption func(*models.QualityRule)

// WithCondition 设置规则条件
func WithCondition(condition string) RuleOption {
	return func(rule *models.QualityRule) {
		rule.Condition = condition
	}
}

// WithSeverity 设置规则严重级别
func WithSeverity(severity string) RuleOption {
	return func(rule *models.QualityRule) {
		rule.Severity = severity
	}
}

// WithRuleType 设置规则类型
func WithRuleType(ruleType string) RuleOption {
	return func(rule *models.QualityRule) {
		rule.RuleType = ruleType
	}
}

// WithSource 设置规则来源
func WithSource(source string) RuleOption {
	return func(rule *models.QualityRule) {
		rule.Source = source
	}
}

// WithExecutionOrder 设置执行顺序
func WithExecutionOrder(order int) RuleOption {
	return func(rule *models.QualityRule) {
		rule.ExecutionOrder = order
	}
}

// WithEnabled 设置启用状态
func WithEnabled(enabled bool) RuleOption {
	return func(rule *models.QualityRule) {
		rule.IsEnabled = enabled
	}
}

// CreateQualityRule 创建测试规则
func (f *TestDataFactory) CreateQualityRule(datasetID string, opts ...RuleOption) *models.QualityRule {
	rule := &models.QualityRule{
		Name:           "测试规则_" + generateSuffix(),
		Description:    "这是一个测试规则",
		RuleType:       models.RuleTypeValidation,
		Severity:       models.SeverityMedium,
		Source:         models.SourceExpression,
		Condition:      `row["value"] != nil`,
		Message:        "value不能为空",
		DatasetID:      datasetID,
		ExecutionOrder: 0,
		IsEnabled:      true,
		Confidence:     1.0,
		CreatedBy:      "test",
		UpdatedBy:      "test",
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}

	// 应用选项
	for _, opt := range opts {
		opt(rule)
	}

	err := f.DB.Create(rule).Error
	if err != nil {
		panic(fmt.Sprintf("failed to create test quality rule: %v", err))
	}

	return rule
}

// ExecutionMetricOption 执行指标选项函数类型
type ExecutionMetricOption func(*models.RuleExecutionMetric)

// WithMetricCreatedAt 设置指标记录时间
func WithMetricCreatedAt(createdAt time.Time) ExecutionMetricOption {
	return func(metric *models.RuleExecutionMetric) {
		metric.CreatedAt = createdAt
	}
}

// CreateExecutionMetric 创建测试执行指标
func (f *TestDataFactory) CreateExecutionMetric(ruleID, datasetID string, success bool, opts ...ExecutionMetricOption) *models.RuleExecutionMetric {
	metric := &models.RuleExecutionMetric{
		RuleID:          ruleID,
		DatasetID:       datasetID,
		Success:         success,
		ViolationCount:  0,
		ExecutionTimeMs: 5,
		CreatedAt:       time.Now(),
	}

	for _, opt := range opts {
		opt(metric)
	}

	err := f.DB.Create(metric).Error
	if err != nil {
		panic(fmt.Sprintf("failed to create test execution metric: %v", err))
	}

	return metric
}

// 辅助函数
func generateSuffix() string {
	return fmt.Sprintf("%d", time.Now().UnixNano()%100000)
}

// HTTPTestHelper HTTP测试辅助工具
type HTTPTestHelper struct{}

// NewHTTPTestHelper 创建HTTP测试辅助工具
func NewHTTPTestHelper() *HTTPTestHelper {
	return &HTTPTestHelper{}
}

// CreateJSONRequest 创建JSON请求
func (h *HTTPTestHelper) CreateJSONRequest(method, url string, body interface{}) (*http.Request, error) {
	var reqBody io.Reader

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		return nil, err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return req, nil
}

// AssertJSONResponse 断言JSON响应
func (h *HTTPTestHelper) AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedBody interface{}) {
	assert.Equal(t, expectedStatus, w.Code)

	if expectedBody != nil {
		var actualBody interface{}
		err := json.Unmarshal(w.Body.Bytes(), &actualBody)
		assert.NoError(t, err)

		expectedJSON, _ := json.Marshal(expectedBody)
		actualJSON, _ := json.Marshal(actualBody)

		assert.JSONEq(t, string(expectedJSON), string(actualJSON))
	}
}
